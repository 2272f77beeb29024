package models

type OrderFulfillmentStatus string

const (
	OrderStatusPending       OrderFulfillmentStatus = "pending"
	OrderStatusConfirmed     OrderFulfillmentStatus = "confirmed"
	OrderStatusInPreparation OrderFulfillmentStatus = "in_preparation"
	OrderStatusReadyToShip   OrderFulfillmentStatus = "ready_to_ship"
	OrderStatusShipped       OrderFulfillmentStatus = "shipped"
	OrderStatusInTransit     OrderFulfillmentStatus = "in_transit"
	OrderStatusDelivered     OrderFulfillmentStatus = "delivered"
	OrderStatusCancelled     OrderFulfillmentStatus = "cancelled"
	OrderStatusRejected      OrderFulfillmentStatus = "rejected"
	OrderStatusReturned      OrderFulfillmentStatus = "returned"
)

func (s OrderFulfillmentStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusInPreparation,
		OrderStatusReadyToShip, OrderStatusShipped, OrderStatusInTransit,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRejected,
		OrderStatusReturned:
		return true
	}
	return false
}

// StockDecremented reports whether stock has already moved for an order in
// this status. Such orders are immutable and cannot be deleted.
func (s OrderFulfillmentStatus) StockDecremented() bool {
	switch s {
	case OrderStatusReadyToShip, OrderStatusShipped, OrderStatusInTransit, OrderStatusDelivered:
		return true
	}
	return false
}

// RestoresStockOnExit reports whether leaving this status for a withdrawal or
// an earlier stage must put stock back.
func (s OrderFulfillmentStatus) RestoresStockOnExit() bool {
	switch s {
	case OrderStatusReadyToShip, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// Withdrawn reports a terminal non-fulfilled status.
func (s OrderFulfillmentStatus) Withdrawn() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusRejected, OrderStatusReturned:
		return true
	}
	return false
}

// EarlierStage reports statuses before any stock movement.
func (s OrderFulfillmentStatus) EarlierStage() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusInPreparation:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionStatusPicking   SessionStatus = "picking"
	SessionStatusPacking   SessionStatus = "packing"
	SessionStatusCompleted SessionStatus = "completed"
)

type MovementKind string

const (
	MovementKindReady     MovementKind = "ready"
	MovementKindCancelled MovementKind = "cancelled"
	MovementKindReverted  MovementKind = "reverted"
	MovementKindManual    MovementKind = "manual"
)

// LineItemSource selects where an order's line items live: normalized
// order_items rows for orders created in the dashboard, or the embedded JSON
// payload for orders imported from an external sales channel.
type LineItemSource string

const (
	LineItemSourceRows     LineItemSource = "rows"
	LineItemSourceEmbedded LineItemSource = "embedded"
)

type StalenessLevel string

const (
	StalenessWarning  StalenessLevel = "warning"
	StalenessCritical StalenessLevel = "critical"
)
