package models

import (
	"context"
	"fmt"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PackingAllocation tracks how many units of one product have been packed
// into one order's parcel. Every order/product pair in the session gets a row
// when picking finishes; QuantityPacked climbs one unit at a time.
type PackingAllocation struct {
	ID             int       `gorm:"primaryKey" json:"id"`
	BusinessId     string    `gorm:"size:50;index;not null" json:"business_id"`
	SessionId      int       `gorm:"index:idx_allocation_unique,unique,priority:1;not null" json:"session_id"`
	OrderId        int       `gorm:"index:idx_allocation_unique,unique,priority:2;not null" json:"order_id"`
	ProductId      int       `gorm:"index:idx_allocation_unique,unique,priority:3;not null" json:"product_id"`
	QuantityNeeded int       `gorm:"not null" json:"quantity_needed"`
	QuantityPacked int       `gorm:"not null;default:0" json:"quantity_packed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PackUnit allocates exactly one picked unit of a product to an order's
// parcel. The picked pool is shared across the session's orders, so the sum
// of packed units for a product can never exceed its picked count.
//
// Preconditions checked under row locks, all in one transaction:
//   - the session is in the packing phase
//   - the order is still in_preparation
//   - the order still needs the product
//   - the shared pool still has an unallocated unit
func PackUnit(ctx context.Context, sessionId int, orderId int, productId int) (*PackingAllocation, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
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

	var session FulfillmentSession
	err := tx.Where("business_id = ?", businessId).First(&session, sessionId).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "fulfillment session", Id: sessionId}
		}
		return nil, err
	}
	if session.Status != SessionStatusPacking {
		tx.Rollback()
		return nil, utils.NewStateError("session %s is in %s; units can only be packed during the packing phase",
			session.Code, session.Status)
	}

	var order Order
	err = tx.Where("business_id = ?", businessId).First(&order, orderId).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "order", Id: orderId}
		}
		return nil, err
	}
	if order.FulfillmentStatus != OrderStatusInPreparation {
		tx.Rollback()
		return nil, utils.NewStateError(
			"order %d is %s; remove it from the session instead of packing it",
			order.ID, order.FulfillmentStatus)
	}

	// Locking the pick item row serializes concurrent PackUnit calls for
	// the same session/product, which keeps the pool sum race-free.
	var pickItem AggregatedPickItem
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ? AND product_id = ?", sessionId, productId).
		First(&pickItem).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "pick item for product", Id: productId}
		}
		return nil, err
	}

	var allocation PackingAllocation
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ? AND order_id = ? AND product_id = ?", sessionId, orderId, productId).
		First(&allocation).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "packing allocation for product", Id: productId}
		}
		return nil, err
	}
	if allocation.QuantityPacked >= allocation.QuantityNeeded {
		tx.Rollback()
		return nil, utils.NewConflictError("order %d already has all %d units of product %d packed",
			orderId, allocation.QuantityNeeded, productId)
	}

	var pooled int
	err = tx.Model(&PackingAllocation{}).
		Select("COALESCE(SUM(quantity_packed), 0)").
		Where("session_id = ? AND product_id = ?", sessionId, productId).
		Scan(&pooled).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if pooled >= pickItem.QuantityPicked {
		tx.Rollback()
		return nil, utils.NewConflictError(
			"all %d picked units of product %d are already allocated", pickItem.QuantityPicked, productId)
	}

	err = tx.Model(&PackingAllocation{}).Where("id = ?", allocation.ID).
		Update("quantity_packed", gorm.Expr("quantity_packed + 1")).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	allocation.QuantityPacked++
	if err := touchSession(tx, session.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "packingAllocation.go", "PackUnit", "commit failed", allocation.ID, err)
		return nil, err
	}
	return &allocation, nil
}

type PackingItemView struct {
	ProductId int    `json:"product_id"`
	Name      string `json:"name"`
	Sku       string `json:"sku"`
	Needed    int    `json:"needed"`
	Packed    int    `json:"packed"`
}

type PackingOrderView struct {
	OrderId     int                    `json:"order_id"`
	OrderNumber string                 `json:"order_number"`
	Status      OrderFulfillmentStatus `json:"status"`
	Complete    bool                   `json:"complete"`
	Items       []PackingItemView      `json:"items"`
}

type SharedPoolItem struct {
	ProductId int    `json:"product_id"`
	Name      string `json:"name"`
	Sku       string `json:"sku"`
	Picked    int    `json:"picked"`
	Packed    int    `json:"packed"`
	Remaining int    `json:"remaining"`
}

type PackingView struct {
	SessionId int                `json:"session_id"`
	Code      string             `json:"code"`
	Status    SessionStatus      `json:"status"`
	Orders    []PackingOrderView `json:"orders"`
	Pool      []SharedPoolItem   `json:"pool"`
}

// GetPackingView renders the packing phase: per-order progress plus the
// shared pool of picked units still waiting for a parcel.
func GetPackingView(ctx context.Context, sessionId int) (*PackingView, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	db := config.GetDB().WithContext(ctx)

	var session FulfillmentSession
	err := db.Where("business_id = ?", businessId).First(&session, sessionId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "fulfillment session", Id: sessionId}
		}
		return nil, err
	}

	var allocations []*PackingAllocation
	err = db.Where("session_id = ?", sessionId).
		Order("order_id, product_id").
		Find(&allocations).Error
	if err != nil {
		return nil, err
	}
	var pickItems []*AggregatedPickItem
	err = db.Where("session_id = ?", sessionId).Order("product_id").Find(&pickItems).Error
	if err != nil {
		return nil, err
	}

	productIds := make([]int, 0, len(pickItems))
	for _, item := range pickItems {
		productIds = append(productIds, item.ProductId)
	}
	products := make(map[int]*Product, len(productIds))
	if len(productIds) > 0 {
		var rows []*Product
		err = db.Where("business_id = ? AND id IN ?", businessId, productIds).Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			products[p.ID] = p
		}
	}
	orders, err := sessionOrders(db, businessId, sessionId)
	if err != nil {
		return nil, err
	}
	ordersById := make(map[int]*Order, len(orders))
	for _, o := range orders {
		ordersById[o.ID] = o
	}

	view := PackingView{SessionId: session.ID, Code: session.Code, Status: session.Status}
	packedByProduct := make(map[int]int)
	byOrder := make(map[int]*PackingOrderView)
	orderIds := make([]int, 0, len(orders))
	for _, a := range allocations {
		ov, ok := byOrder[a.OrderId]
		if !ok {
			o := ordersById[a.OrderId]
			ov = &PackingOrderView{OrderId: a.OrderId, Complete: true}
			if o != nil {
				ov.OrderNumber = o.OrderNumber
				ov.Status = o.FulfillmentStatus
			}
			byOrder[a.OrderId] = ov
			orderIds = append(orderIds, a.OrderId)
		}
		item := PackingItemView{
			ProductId: a.ProductId,
			Needed:    a.QuantityNeeded,
			Packed:    a.QuantityPacked,
		}
		if p := products[a.ProductId]; p != nil {
			item.Name = p.Name
			item.Sku = p.Sku
		}
		if a.QuantityPacked < a.QuantityNeeded {
			ov.Complete = false
		}
		ov.Items = append(ov.Items, item)
		packedByProduct[a.ProductId] += a.QuantityPacked
	}
	for _, id := range orderIds {
		view.Orders = append(view.Orders, *byOrder[id])
	}
	for _, item := range pickItems {
		pool := SharedPoolItem{
			ProductId: item.ProductId,
			Picked:    item.QuantityPicked,
			Packed:    packedByProduct[item.ProductId],
		}
		pool.Remaining = pool.Picked - pool.Packed
		if p := products[item.ProductId]; p != nil {
			pool.Name = p.Name
			pool.Sku = p.Sku
		}
		view.Pool = append(view.Pool, pool)
	}
	return &view, nil
}
