package models

import (
	"fmt"

	"github.com/T0MGL/0rdefy-sub003/utils"
	"gorm.io/gorm"
)

// ApplyOrderStockForStatusTransition applies stock changes for an order
// fulfillment status transition.
//
// not-yet-decremented -> ready_to_ship            : decrement per line item (kind ready)
// ready_to_ship/shipped/delivered -> cancelled/rejected : restore per line item (kind cancelled)
// ready_to_ship/shipped/delivered -> earlier stage : restore per line item (kind reverted)
//
// Restores floor-clamp at zero; the shortfall is preserved on the movement
// row. Must run inside the caller's transaction with the status already
// written on the order.
func ApplyOrderStockForStatusTransition(tx *gorm.DB, order *Order, oldStatus OrderFulfillmentStatus) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if order == nil {
		return fmt.Errorf("order is nil")
	}
	newStatus := order.FulfillmentStatus
	if oldStatus == newStatus {
		return nil
	}

	decrement := newStatus == OrderStatusReadyToShip && !oldStatus.StockDecremented()
	restoreCancelled := oldStatus.RestoresStockOnExit() &&
		(newStatus == OrderStatusCancelled || newStatus == OrderStatusRejected)
	restoreReverted := oldStatus.RestoresStockOnExit() && newStatus.EarlierStage()
	if !decrement && !restoreCancelled && !restoreReverted {
		return nil
	}

	ctx := tx.Statement.Context
	if err := utils.BusinessLock(ctx, order.BusinessId, "stockLock", "stockCommands_order.go", "ApplyOrderStockForStatusTransition"); err != nil {
		tx.Rollback()
		return err
	}

	items, err := order.LineItems(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	if len(items) == 0 {
		return nil
	}
	productIds := make([]int, 0, len(items))
	for _, item := range items {
		productIds = append(productIds, item.ProductId)
	}
	products, err := fetchProductsForUpdate(tx, order.BusinessId, productIds)
	if err != nil {
		tx.Rollback()
		return err
	}

	kind := MovementKindReady
	if restoreCancelled {
		kind = MovementKindCancelled
	} else if restoreReverted {
		kind = MovementKindReverted
	}

	for _, item := range items {
		qty := item.Quantity
		if decrement {
			qty = -qty
		}
		_, err := applyMovement(tx, movementInput{
			BusinessId:     order.BusinessId,
			Product:        products[item.ProductId],
			OrderId:        order.ID,
			QuantityChange: qty,
			Kind:           kind,
			FromStatus:     oldStatus,
			ToStatus:       newStatus,
			AllowClamp:     decrement,
		})
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return nil
}
