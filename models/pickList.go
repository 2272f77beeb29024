package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AggregatedPickItem is one product row on a session's pick list, summed
// across every order in the session. QuantityPicked is the operator's running
// count and never exceeds TotalQuantityNeeded.
type AggregatedPickItem struct {
	ID                  int       `gorm:"primaryKey" json:"id"`
	BusinessId          string    `gorm:"size:50;index;not null" json:"business_id"`
	SessionId           int       `gorm:"index:idx_pick_item_session_product,unique,priority:1;not null" json:"session_id"`
	ProductId           int       `gorm:"index:idx_pick_item_session_product,unique,priority:2;not null" json:"product_id"`
	TotalQuantityNeeded int       `gorm:"not null" json:"total_quantity_needed"`
	QuantityPicked      int       `gorm:"not null;default:0" json:"quantity_picked"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// aggregateOrderDemand merges every order's line items into per-product
// totals via each order's item provider.
func aggregateOrderDemand(tx *gorm.DB, orders []*Order) (map[int]int, error) {
	demand := make(map[int]int)
	for _, order := range orders {
		items, err := order.LineItems(tx)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, utils.NewValidationError("order has no line items", order.ID)
		}
		for _, item := range items {
			demand[item.ProductId] += item.Quantity
		}
	}
	return demand, nil
}

func sortedProductIds(demand map[int]int) []int {
	ids := make([]int, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// collectStockShortfalls compares demand against current stock, row-locking
// the products so the check stays valid for the rest of the transaction.
func collectStockShortfalls(tx *gorm.DB, businessId string, demand map[int]int) ([]utils.ShortfallItem, map[int]*Product, error) {
	ids := sortedProductIds(demand)
	products, err := fetchProductsForUpdate(tx, businessId, ids)
	if err != nil {
		return nil, nil, err
	}
	var shortfalls []utils.ShortfallItem
	for _, id := range ids {
		p := products[id]
		needed := demand[id]
		if p.Stock < needed {
			shortfalls = append(shortfalls, utils.ShortfallItem{
				ProductId: p.ID,
				Name:      p.Name,
				Sku:       p.Sku,
				Needed:    needed,
				Available: p.Stock,
			})
		}
	}
	return shortfalls, products, nil
}

// ReportPicked records the operator's running picked count for one product.
// The count is absolute, may only grow, and is capped at the needed total.
func ReportPicked(ctx context.Context, sessionId int, productId int, quantity int) (*AggregatedPickItem, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if quantity < 0 {
		return nil, utils.NewValidationError("picked quantity cannot be negative")
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

	session, err := fetchSessionForUpdate(tx, businessId, sessionId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if session.Status != SessionStatusPicking {
		tx.Rollback()
		return nil, utils.NewStateError("session %s is in %s; picking counts can only change during the picking phase",
			session.Code, session.Status)
	}

	var item AggregatedPickItem
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ? AND product_id = ?", sessionId, productId).
		First(&item).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "pick item for product", Id: productId}
		}
		return nil, err
	}
	if quantity < item.QuantityPicked {
		tx.Rollback()
		return nil, utils.NewValidationError(fmt.Sprintf(
			"picked count for product %d cannot decrease (currently %d, got %d)",
			productId, item.QuantityPicked, quantity))
	}
	if quantity > item.TotalQuantityNeeded {
		tx.Rollback()
		return nil, utils.NewValidationError(fmt.Sprintf(
			"picked count for product %d exceeds needed %d",
			productId, item.TotalQuantityNeeded))
	}

	if err := tx.Model(&AggregatedPickItem{}).Where("id = ?", item.ID).
		Update("quantity_picked", quantity).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	item.QuantityPicked = quantity
	if err := touchSession(tx, session.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "pickList.go", "ReportPicked", "commit failed", sessionId, err)
		return nil, err
	}
	return &item, nil
}
