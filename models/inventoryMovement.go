package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryMovement is one append-only ledger row. StockBefore and StockAfter
// snapshot the product's quantity around the change, so the ledger can be
// replayed against the cached stock at any time.
type InventoryMovement struct {
	ID             int             `gorm:"primaryKey" json:"id"`
	BusinessId     string          `gorm:"size:50;index;not null" json:"business_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	OrderId        int             `gorm:"index" json:"order_id"`
	QuantityChange int             `gorm:"not null" json:"quantity_change"`
	StockBefore    int             `gorm:"not null" json:"stock_before"`
	StockAfter     int             `gorm:"not null" json:"stock_after"`
	Kind           MovementKind    `gorm:"size:20;index;not null" json:"kind"`
	FromStatus     string          `gorm:"size:30" json:"from_status"`
	ToStatus       string          `gorm:"size:30" json:"to_status"`
	IsClamped      bool            `gorm:"not null;default:false" json:"is_clamped"`
	// ClampedShortfall is how many units the decrement could not subtract
	// because stock would have gone negative. Zero on unclamped rows.
	ClampedShortfall int             `gorm:"not null;default:0" json:"clamped_shortfall"`
	ValueChange      decimal.Decimal `gorm:"type:decimal(20,6)" json:"value_change"`
	Reason           string          `gorm:"size:255" json:"reason"`
	CreatedAt        time.Time       `gorm:"index" json:"created_at"`
}

var errMovementImmutable = errors.New("inventory movements are append-only")

func (m *InventoryMovement) BeforeUpdate(_ *gorm.DB) error { return errMovementImmutable }
func (m *InventoryMovement) BeforeDelete(_ *gorm.DB) error { return errMovementImmutable }

type movementInput struct {
	BusinessId     string
	Product        *Product // must be row-locked by the caller
	OrderId        int
	QuantityChange int
	Kind           MovementKind
	FromStatus     OrderFulfillmentStatus
	ToStatus       OrderFulfillmentStatus
	// AllowClamp floors the resulting stock at zero instead of failing when
	// the change would drive it negative. Used for lifecycle decrements,
	// where aborting the status transition would be worse than recording
	// the flagged shortfall.
	AllowClamp bool
	Reason     string
}

// applyMovement updates the cached stock and appends the ledger row in the
// caller's transaction, then stages the audit message in the outbox.
func applyMovement(tx *gorm.DB, in movementInput) (*InventoryMovement, error) {
	if in.QuantityChange == 0 {
		return nil, nil
	}
	before := in.Product.Stock
	after := before + in.QuantityChange
	applied := in.QuantityChange
	clamped := false
	shortfall := 0
	if after < 0 {
		if !in.AllowClamp {
			return nil, fmt.Errorf("stock for product %d would go negative (%d)", in.Product.ID, after)
		}
		shortfall = -after
		applied = -before
		after = 0
		clamped = true
	}

	if err := tx.Model(&Product{}).Where("id = ?", in.Product.ID).
		Update("stock", after).Error; err != nil {
		return nil, err
	}
	in.Product.Stock = after

	movement := InventoryMovement{
		BusinessId:       in.BusinessId,
		ProductId:        in.Product.ID,
		OrderId:          in.OrderId,
		QuantityChange:   applied,
		StockBefore:      before,
		StockAfter:       after,
		Kind:             in.Kind,
		FromStatus:       string(in.FromStatus),
		ToStatus:         string(in.ToStatus),
		IsClamped:        clamped,
		ClampedShortfall: shortfall,
		ValueChange:      in.Product.UnitCost.Mul(decimal.NewFromInt(int64(applied))),
		Reason:           in.Reason,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	if clamped {
		logger := config.GetLogger()
		logger.WithFields(map[string]interface{}{
			"business_id": in.BusinessId,
			"product_id":  in.Product.ID,
			"order_id":    in.OrderId,
			"shortfall":   shortfall,
		}).Warn("stock decrement clamped at zero")
	}
	if err := enqueueMovementAudit(tx, &movement); err != nil {
		return nil, err
	}
	return &movement, nil
}

type MovementFilter struct {
	ProductId int
	OrderId   int
	Kind      MovementKind
	Limit     int
}

func ListInventoryMovements(ctx context.Context, filter MovementFilter) ([]*InventoryMovement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	db := config.GetDB()
	q := db.WithContext(ctx).Where("business_id = ?", businessId)
	if filter.ProductId > 0 {
		q = q.Where("product_id = ?", filter.ProductId)
	}
	if filter.OrderId > 0 {
		q = q.Where("order_id = ?", filter.OrderId)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var rows []*InventoryMovement
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MovementDrift is a product whose cached stock disagrees with the ledger.
type MovementDrift struct {
	ProductId   int    `json:"product_id"`
	Name        string `json:"name"`
	Sku         string `json:"sku"`
	CachedStock int    `json:"cached_stock"`
	LedgerStock int    `json:"ledger_stock"`
}

// ReplayMovements folds every ledger row per product and compares the result
// with the cached products.stock. Movements are written in the same
// transaction as the stock update, so any drift means external interference.
// Initial stock set at product creation has no movement row, so products with
// zero movements are skipped.
func ReplayMovements(ctx context.Context) ([]*MovementDrift, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	db := config.GetDB()

	type ledgerRow struct {
		ProductId int
		Net       int
		First     int
	}
	var ledger []ledgerRow
	err := db.WithContext(ctx).Model(&InventoryMovement{}).
		Select("product_id, SUM(quantity_change) AS net, "+
			"SUBSTRING_INDEX(GROUP_CONCAT(stock_before ORDER BY id), ',', 1) AS first").
		Where("business_id = ?", businessId).
		Group("product_id").
		Scan(&ledger).Error
	if err != nil {
		return nil, err
	}
	if len(ledger) == 0 {
		return nil, nil
	}

	ids := make([]int, 0, len(ledger))
	for _, row := range ledger {
		ids = append(ids, row.ProductId)
	}
	var products []*Product
	err = db.WithContext(ctx).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	byId := make(map[int]*Product, len(products))
	for _, p := range products {
		byId[p.ID] = p
	}

	var drifts []*MovementDrift
	for _, row := range ledger {
		p, ok := byId[row.ProductId]
		if !ok {
			continue
		}
		replayed := row.First + row.Net
		if replayed != p.Stock {
			drifts = append(drifts, &MovementDrift{
				ProductId:   p.ID,
				Name:        p.Name,
				Sku:         p.Sku,
				CachedStock: p.Stock,
				LedgerStock: replayed,
			})
		}
	}
	return drifts, nil
}
