package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Order struct {
	ID                int                    `gorm:"primaryKey" json:"id"`
	BusinessId        string                 `gorm:"size:50;index;not null" json:"business_id"`
	OrderNumber       string                 `gorm:"size:100;index" json:"order_number"`
	CustomerName      string                 `gorm:"size:255" json:"customer_name"`
	FulfillmentStatus OrderFulfillmentStatus `gorm:"size:30;index;not null;default:pending" json:"fulfillment_status"`
	ItemsSource       LineItemSource         `gorm:"size:20;not null;default:rows" json:"items_source"`
	EmbeddedItems     EmbeddedLineItems      `gorm:"type:json" json:"embedded_items"`
	TotalAmount       decimal.Decimal        `gorm:"type:decimal(20,6)" json:"total_amount"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderId" json:"items"`
}

type OrderItem struct {
	ID        int             `gorm:"primaryKey" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id"`
	ProductId int             `gorm:"index;not null" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,6)" json:"unit_price"`
}

// EmbeddedLineItem mirrors the payload shape pushed by external sales
// channels. Only ProductId and Quantity matter to fulfillment.
type EmbeddedLineItem struct {
	ProductId int             `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type EmbeddedLineItems []EmbeddedLineItem

func (e EmbeddedLineItems) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal(e)
}

func (e *EmbeddedLineItems) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into EmbeddedLineItems", value)
	}
	if len(raw) == 0 {
		*e = nil
		return nil
	}
	return json.Unmarshal(raw, e)
}

// LineItem is the normalized demand row fulfillment works with, regardless of
// where an order keeps its items.
type LineItem struct {
	ProductId int
	Quantity  int
}

// LineItemProvider yields an order's demand rows. Implementations must not
// mutate the order.
type LineItemProvider interface {
	LineItems(tx *gorm.DB) ([]LineItem, error)
}

type orderItemRows struct {
	order *Order
}

func (p orderItemRows) LineItems(tx *gorm.DB) ([]LineItem, error) {
	rows := p.order.Items
	if rows == nil {
		if err := tx.Where("order_id = ?", p.order.ID).Find(&rows).Error; err != nil {
			return nil, err
		}
	}
	items := make([]LineItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, LineItem{ProductId: r.ProductId, Quantity: r.Quantity})
	}
	return items, nil
}

type embeddedItemList struct {
	order *Order
}

func (p embeddedItemList) LineItems(_ *gorm.DB) ([]LineItem, error) {
	items := make([]LineItem, 0, len(p.order.EmbeddedItems))
	for _, r := range p.order.EmbeddedItems {
		items = append(items, LineItem{ProductId: r.ProductId, Quantity: r.Quantity})
	}
	return items, nil
}

// ItemProvider picks the provider matching the order's items source.
func (o *Order) ItemProvider() LineItemProvider {
	if o.ItemsSource == LineItemSourceEmbedded {
		return embeddedItemList{order: o}
	}
	return orderItemRows{order: o}
}

// LineItems returns the order's demand rows via its provider, merging
// duplicate product rows into one.
func (o *Order) LineItems(tx *gorm.DB) ([]LineItem, error) {
	raw, err := o.ItemProvider().LineItems(tx)
	if err != nil {
		return nil, err
	}
	merged := make([]LineItem, 0, len(raw))
	index := make(map[int]int, len(raw))
	for _, it := range raw {
		if it.Quantity <= 0 {
			continue
		}
		if i, ok := index[it.ProductId]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductId] = len(merged)
		merged = append(merged, it)
	}
	return merged, nil
}

type NewOrder struct {
	OrderNumber   string             `json:"order_number" validate:"max=100"`
	CustomerName  string             `json:"customer_name" validate:"max=255"`
	ItemsSource   LineItemSource     `json:"items_source" validate:"omitempty,oneof=rows embedded"`
	Items         []NewOrderItem     `json:"items" validate:"dive"`
	EmbeddedItems []EmbeddedLineItem `json:"embedded_items"`
}

type NewOrderItem struct {
	ProductId int             `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	source := input.ItemsSource
	if source == "" {
		source = LineItemSourceRows
	}
	if source == LineItemSourceRows && len(input.Items) == 0 {
		return nil, utils.NewValidationError("order needs at least one line item")
	}
	if source == LineItemSourceEmbedded && len(input.EmbeddedItems) == 0 {
		return nil, utils.NewValidationError("order needs at least one embedded line item")
	}

	var productIds []int
	if source == LineItemSourceRows {
		for _, it := range input.Items {
			productIds = append(productIds, it.ProductId)
		}
	} else {
		for _, it := range input.EmbeddedItems {
			productIds = append(productIds, it.ProductId)
		}
	}
	if err := utils.ValidateResourcesId[Product](ctx, businessId, productIds); err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NewValidationError("order references unknown products")
		}
		return nil, err
	}

	order := Order{
		BusinessId:        businessId,
		OrderNumber:       input.OrderNumber,
		CustomerName:      input.CustomerName,
		FulfillmentStatus: OrderStatusPending,
		ItemsSource:       source,
	}
	total := decimal.Zero
	if source == LineItemSourceRows {
		for _, it := range input.Items {
			order.Items = append(order.Items, OrderItem{
				ProductId: it.ProductId,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
			})
			total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	} else {
		order.EmbeddedItems = input.EmbeddedItems
		for _, it := range input.EmbeddedItems {
			total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	order.TotalAmount = total

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	return utils.FetchModel[Order](ctx, businessId, id, "Items")
}

// transitionOrderStatusTx is the single chokepoint for fulfillment status
// writes. It persists the new status and hands the transition to the stock
// command so the ledger write happens in the same transaction.
func transitionOrderStatusTx(tx *gorm.DB, order *Order, to OrderFulfillmentStatus) error {
	oldStatus := order.FulfillmentStatus
	if oldStatus == to {
		return nil
	}
	if err := tx.Model(&Order{}).Where("id = ?", order.ID).
		Update("fulfillment_status", to).Error; err != nil {
		return err
	}
	order.FulfillmentStatus = to
	return ApplyOrderStockForStatusTransition(tx, order, oldStatus)
}

// UpdateOrderFulfillmentStatus moves an order to a new fulfillment status and
// applies the matching stock movement atomically.
func UpdateOrderFulfillmentStatus(ctx context.Context, orderId int, status OrderFulfillmentStatus) (*Order, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if !status.Valid() {
		return nil, utils.NewValidationError(fmt.Sprintf("unknown fulfillment status %q", status))
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

	var order Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&order, orderId).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "order", Id: orderId}
		}
		return nil, err
	}

	if err := transitionOrderStatusTx(tx, &order, status); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "order.go", "UpdateOrderFulfillmentStatus", "commit failed", orderId, err)
		return nil, err
	}
	return &order, nil
}

// ReplaceOrderItems swaps an order's line items. Refused once stock has moved
// for the order; the caller must cancel and recreate instead.
func ReplaceOrderItems(ctx context.Context, orderId int, items []NewOrderItem) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if len(items) == 0 {
		return nil, utils.NewValidationError("order needs at least one line item")
	}
	for _, it := range items {
		if err := utils.ValidateStruct(&it); err != nil {
			return nil, err
		}
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

	var order Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&order, orderId).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "order", Id: orderId}
		}
		return nil, err
	}
	if order.FulfillmentStatus.StockDecremented() || order.FulfillmentStatus.Withdrawn() {
		tx.Rollback()
		return nil, utils.NewStateError(
			"order %d is finalized (%s); cancel and recreate instead of editing its items",
			order.ID, order.FulfillmentStatus)
	}
	if order.ItemsSource != LineItemSourceRows {
		tx.Rollback()
		return nil, utils.NewValidationError("embedded-item orders are managed by their sales channel")
	}

	if err := tx.Where("order_id = ?", order.ID).Delete(&OrderItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	total := decimal.Zero
	newRows := make([]OrderItem, 0, len(items))
	for _, it := range items {
		newRows = append(newRows, OrderItem{
			OrderId:   order.ID,
			ProductId: it.ProductId,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if err := tx.Create(&newRows).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Model(&Order{}).Where("id = ?", order.ID).
		Update("total_amount", total).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	order.Items = newRows
	order.TotalAmount = total
	return &order, nil
}

// DeleteOrder removes an order that has never moved stock. Orders whose stock
// is already decremented must be cancelled so the restore movement is written.
func DeleteOrder(ctx context.Context, orderId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return fmt.Errorf("business id not found in context")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var order Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&order, orderId).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return &utils.NotFoundError{Resource: "order", Id: orderId}
		}
		return err
	}
	if order.FulfillmentStatus.StockDecremented() {
		tx.Rollback()
		return utils.NewStateError(
			"order %d already decremented stock (%s); cancel it instead of deleting",
			order.ID, order.FulfillmentStatus)
	}

	var linked int64
	err = tx.Model(&SessionOrder{}).
		Joins("JOIN fulfillment_sessions ON fulfillment_sessions.id = session_orders.session_id").
		Where("session_orders.order_id = ? AND fulfillment_sessions.status <> ?", order.ID, SessionStatusCompleted).
		Count(&linked).Error
	if err != nil {
		tx.Rollback()
		return err
	}
	if linked > 0 {
		tx.Rollback()
		return utils.NewStateError("order %d belongs to an open fulfillment session; remove it from the session first", order.ID)
	}

	if err := tx.Where("order_id = ?", order.ID).Delete(&OrderItem{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Delete(&order).Error; err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}
