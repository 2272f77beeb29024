package models

import (
	"context"
	"fmt"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Product struct {
	ID         int             `gorm:"primaryKey" json:"id"`
	BusinessId string          `gorm:"size:50;index;not null" json:"business_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Sku        string          `gorm:"size:100;index" json:"sku"`
	Stock      int             `gorm:"not null;default:0" json:"stock"`
	UnitCost   decimal.Decimal `gorm:"type:decimal(20,6)" json:"unit_cost"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type NewProduct struct {
	Name     string          `json:"name" validate:"required,max=255"`
	Sku      string          `json:"sku" validate:"max=100"`
	Stock    int             `json:"stock" validate:"gte=0"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type NewStockAdjustment struct {
	ProductId      int    `json:"product_id" validate:"required"`
	QuantityChange int    `json:"quantity_change" validate:"required"`
	Reason         string `json:"reason" validate:"required,max=255"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	product := Product{
		BusinessId: businessId,
		Name:       input.Name,
		Sku:        input.Sku,
		Stock:      input.Stock,
		UnitCost:   input.UnitCost,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	return utils.FetchModel[Product](ctx, businessId, id)
}

// fetchProductsForUpdate row-locks the given products in a stable order so
// concurrent stock writers cannot deadlock on each other.
func fetchProductsForUpdate(tx *gorm.DB, businessId string, productIds []int) (map[int]*Product, error) {
	var rows []*Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id IN ?", businessId, utils.UniqueSlice(productIds)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	byId := make(map[int]*Product, len(rows))
	for _, p := range rows {
		byId[p.ID] = p
	}
	for _, id := range productIds {
		if _, ok := byId[id]; !ok {
			return nil, &utils.NotFoundError{Resource: "product", Id: id}
		}
	}
	return byId, nil
}

// CreateManualStockAdjustment moves stock outside the order lifecycle and
// records the movement like any other. Stock can never go below zero, so a
// negative adjustment larger than the current stock is rejected rather than
// clamped.
func CreateManualStockAdjustment(ctx context.Context, input *NewStockAdjustment) (*InventoryMovement, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.BusinessLock(ctx, businessId, "stockLock", "product.go", "CreateManualStockAdjustment"); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	products, err := fetchProductsForUpdate(tx, businessId, []int{input.ProductId})
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	product := products[input.ProductId]
	if product.Stock+input.QuantityChange < 0 {
		tx.Rollback()
		return nil, utils.NewValidationError(fmt.Sprintf(
			"adjustment would take product %d below zero (stock %d, change %d)",
			product.ID, product.Stock, input.QuantityChange))
	}

	movement, err := applyMovement(tx, movementInput{
		BusinessId:     businessId,
		Product:        product,
		QuantityChange: input.QuantityChange,
		Kind:           MovementKindManual,
		Reason:         input.Reason,
	})
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "product.go", "CreateManualStockAdjustment", "commit failed", input, err)
		return nil, err
	}
	return movement, nil
}
