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

// FulfillmentSession is a batch picking/packing run over a set of confirmed
// orders. Status walks picking -> packing -> completed; an abandoned session
// is completed with AbandonedAt set.
type FulfillmentSession struct {
	ID               int           `gorm:"primaryKey" json:"id"`
	BusinessId       string        `gorm:"size:50;index;index:idx_session_business_seq,unique,priority:1;not null" json:"business_id"`
	SequenceNo       int64         `gorm:"index:idx_session_business_seq,unique,priority:2;not null" json:"sequence_no"`
	Code             string        `gorm:"size:30;index" json:"code"`
	Status           SessionStatus `gorm:"size:20;index;not null;default:picking" json:"status"`
	PickingStartedAt time.Time     `json:"picking_started_at"`
	PackingStartedAt *time.Time    `json:"packing_started_at"`
	CompletedAt      *time.Time    `json:"completed_at"`
	AbandonedAt      *time.Time    `json:"abandoned_at"`
	AbandonReason    string        `gorm:"size:255" json:"abandon_reason"`
	CreatedByUserId  int           `json:"created_by_user_id"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `gorm:"index" json:"updated_at"`
}

// SessionOrder links one order into a session. An order can belong to at most
// one open session at a time.
type SessionOrder struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	SessionId int       `gorm:"index:idx_session_order,unique,priority:1;not null" json:"session_id"`
	OrderId   int       `gorm:"index:idx_session_order,unique,priority:2;not null" json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}

type NewFulfillmentSession struct {
	OrderIds []int `json:"order_ids" validate:"required,min=1,dive,gt=0"`
}

func fetchSessionForUpdate(tx *gorm.DB, businessId string, sessionId int) (*FulfillmentSession, error) {
	var session FulfillmentSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&session, sessionId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "fulfillment session", Id: sessionId}
		}
		return nil, err
	}
	return &session, nil
}

func touchSession(tx *gorm.DB, sessionId int) error {
	return tx.Model(&FulfillmentSession{}).Where("id = ?", sessionId).
		Update("updated_at", time.Now().UTC()).Error
}

// sessionOrders loads a session's orders with their rows locked, so status
// checks stay valid while the transaction mutates them.
func sessionOrders(tx *gorm.DB, businessId string, sessionId int) ([]*Order, error) {
	var orders []*Order
	err := tx.Preload("Items").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Joins("JOIN session_orders ON session_orders.order_id = orders.id").
		Where("session_orders.session_id = ? AND orders.business_id = ?", sessionId, businessId).
		Order("orders.id").
		Find(&orders).Error
	return orders, err
}

func GetFulfillmentSession(ctx context.Context, id int) (*FulfillmentSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	return utils.FetchModel[FulfillmentSession](ctx, businessId, id)
}

func ListFulfillmentSessions(ctx context.Context) ([]*FulfillmentSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	return utils.FetchAllModels[FulfillmentSession](ctx, businessId)
}

func GetSessionPickItems(ctx context.Context, sessionId int) ([]*AggregatedPickItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if err := utils.ValidateResourceId[FulfillmentSession](ctx, businessId, sessionId); err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "fulfillment session", Id: sessionId}
		}
		return nil, err
	}
	db := config.GetDB()
	var items []*AggregatedPickItem
	err := db.WithContext(ctx).
		Where("business_id = ? AND session_id = ?", businessId, sessionId).
		Order("product_id").
		Find(&items).Error
	return items, err
}

// CreateFulfillmentSession opens a picking session over the given confirmed
// orders: validates order status and open-session exclusivity, aggregates
// demand into pick items, verifies stock can cover the whole batch, and moves
// every order to in_preparation.
func CreateFulfillmentSession(ctx context.Context, input *NewFulfillmentSession) (*FulfillmentSession, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	orderIds := utils.UniqueSlice(input.OrderIds)

	if err := utils.BusinessLock(ctx, businessId, "sessionLock", "fulfillmentSession.go", "CreateFulfillmentSession"); err != nil {
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

	var orders []*Order
	err := tx.Preload("Items").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id IN ?", businessId, orderIds).
		Order("id").
		Find(&orders).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(orders) != len(orderIds) {
		found := make(map[int]bool, len(orders))
		for _, o := range orders {
			found[o.ID] = true
		}
		var missing []int
		for _, id := range orderIds {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		tx.Rollback()
		return nil, utils.NewValidationError("orders not found", missing...)
	}

	var notConfirmed []int
	for _, o := range orders {
		if o.FulfillmentStatus != OrderStatusConfirmed {
			notConfirmed = append(notConfirmed, o.ID)
		}
	}
	if len(notConfirmed) > 0 {
		tx.Rollback()
		return nil, utils.NewValidationError("only confirmed orders can join a session", notConfirmed...)
	}

	var busy []int
	err = tx.Model(&SessionOrder{}).
		Joins("JOIN fulfillment_sessions ON fulfillment_sessions.id = session_orders.session_id").
		Where("session_orders.order_id IN ? AND fulfillment_sessions.status <> ?", orderIds, SessionStatusCompleted).
		Pluck("session_orders.order_id", &busy).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(busy) > 0 {
		tx.Rollback()
		return nil, utils.NewValidationError("orders already belong to an open session", busy...)
	}

	demand, err := aggregateOrderDemand(tx, orders)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	shortfalls, _, err := collectStockShortfalls(tx, businessId, demand)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(shortfalls) > 0 {
		tx.Rollback()
		return nil, &utils.StockInsufficientError{Items: shortfalls}
	}

	seqNo, err := utils.GetSequence[FulfillmentSession](ctx, businessId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	session := FulfillmentSession{
		BusinessId:       businessId,
		SequenceNo:       seqNo,
		Code:             fmt.Sprintf("FS-%d", seqNo),
		Status:           SessionStatusPicking,
		PickingStartedAt: time.Now().UTC(),
		CreatedByUserId:  userId,
	}
	if err := tx.Create(&session).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	links := make([]SessionOrder, 0, len(orders))
	for _, o := range orders {
		links = append(links, SessionOrder{SessionId: session.ID, OrderId: o.ID})
	}
	if err := tx.Create(&links).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	pickItems := make([]AggregatedPickItem, 0, len(demand))
	for _, productId := range sortedProductIds(demand) {
		pickItems = append(pickItems, AggregatedPickItem{
			BusinessId:          businessId,
			SessionId:           session.ID,
			ProductId:           productId,
			TotalQuantityNeeded: demand[productId],
		})
	}
	if err := tx.Create(&pickItems).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, o := range orders {
		if err := transitionOrderStatusTx(tx, o, OrderStatusInPreparation); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "fulfillmentSession.go", "CreateFulfillmentSession", "commit failed", input, err)
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"business_id": businessId,
		"session":     session.Code,
		"orders":      orderIds,
	}).Info("fulfillment session created")
	return &session, nil
}

// FinishPicking closes the picking phase: every pick item must be fully
// picked and stock must still cover the batch. Seeds the per-order packing
// allocations and moves the session to packing.
func FinishPicking(ctx context.Context, sessionId int) (*FulfillmentSession, error) {
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

	session, err := fetchSessionForUpdate(tx, businessId, sessionId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if session.Status != SessionStatusPicking {
		tx.Rollback()
		return nil, utils.NewStateError("session %s is in %s; picking can only finish from the picking phase",
			session.Code, session.Status)
	}

	var pickItems []*AggregatedPickItem
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ?", session.ID).
		Order("product_id").
		Find(&pickItems).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	var incomplete []utils.IncompleteItem
	demand := make(map[int]int, len(pickItems))
	for _, item := range pickItems {
		demand[item.ProductId] = item.TotalQuantityNeeded
		if item.QuantityPicked < item.TotalQuantityNeeded {
			incomplete = append(incomplete, utils.IncompleteItem{
				ProductId: item.ProductId,
				Done:      item.QuantityPicked,
				Needed:    item.TotalQuantityNeeded,
			})
		}
	}
	if len(incomplete) > 0 {
		tx.Rollback()
		return nil, &utils.IncompleteError{Phase: "picking", Items: incomplete}
	}

	// Orders before products, matching the status-transition lock order.
	orders, err := sessionOrders(tx, businessId, session.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Stock may have moved since the session opened; re-validate before
	// the packing phase relies on it.
	shortfalls, _, err := collectStockShortfalls(tx, businessId, demand)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(shortfalls) > 0 {
		tx.Rollback()
		return nil, &utils.StockInsufficientError{Items: shortfalls}
	}
	var allocations []PackingAllocation
	for _, order := range orders {
		items, err := order.LineItems(tx)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		for _, item := range items {
			allocations = append(allocations, PackingAllocation{
				BusinessId:     businessId,
				SessionId:      session.ID,
				OrderId:        order.ID,
				ProductId:      item.ProductId,
				QuantityNeeded: item.Quantity,
			})
		}
	}
	if err := tx.Create(&allocations).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	now := time.Now().UTC()
	err = tx.Model(&FulfillmentSession{}).Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"status":             SessionStatusPacking,
			"packing_started_at": now,
			"updated_at":         now,
		}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	session.Status = SessionStatusPacking
	session.PackingStartedAt = &now

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "fulfillmentSession.go", "FinishPicking", "commit failed", sessionId, err)
		return nil, err
	}
	return session, nil
}

// CompleteSession closes a fully packed session: every allocation must be at
// its needed quantity and every order still in_preparation. All orders flip
// to ready_to_ship, which writes the decrement movements.
//
// When ATOMIC_BATCH_TRANSITIONS is off, each order commits in its own
// transaction and a failure leaves earlier orders transitioned. The session
// is only marked completed after every order succeeded.
func CompleteSession(ctx context.Context, sessionId int) (*FulfillmentSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if config.AtomicBatchTransitions() {
		return completeSessionAtomic(ctx, businessId, sessionId)
	}
	return completeSessionSequential(ctx, businessId, sessionId)
}

func validateSessionPacked(tx *gorm.DB, businessId string, sessionId int) (*FulfillmentSession, []*Order, error) {
	session, err := fetchSessionForUpdate(tx, businessId, sessionId)
	if err != nil {
		return nil, nil, err
	}
	if session.Status == SessionStatusCompleted {
		return nil, nil, utils.NewStateError("session %s is already completed", session.Code)
	}
	if session.Status != SessionStatusPacking {
		return nil, nil, utils.NewStateError("session %s is in %s; finish picking before completing",
			session.Code, session.Status)
	}

	var allocations []*PackingAllocation
	err = tx.Where("session_id = ?", session.ID).
		Order("order_id, product_id").
		Find(&allocations).Error
	if err != nil {
		return nil, nil, err
	}
	var incomplete []utils.IncompleteItem
	for _, a := range allocations {
		if a.QuantityPacked < a.QuantityNeeded {
			incomplete = append(incomplete, utils.IncompleteItem{
				OrderId:   a.OrderId,
				ProductId: a.ProductId,
				Done:      a.QuantityPacked,
				Needed:    a.QuantityNeeded,
			})
		}
	}
	if len(incomplete) > 0 {
		return nil, nil, &utils.IncompleteError{Phase: "packing", Items: incomplete}
	}

	orders, err := sessionOrders(tx, businessId, session.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, o := range orders {
		if o.FulfillmentStatus != OrderStatusInPreparation {
			return nil, nil, utils.NewStateError(
				"order %d is %s; remove it from the session before completing",
				o.ID, o.FulfillmentStatus)
		}
	}
	return session, orders, nil
}

func markSessionCompleted(tx *gorm.DB, session *FulfillmentSession) error {
	now := time.Now().UTC()
	err := tx.Model(&FulfillmentSession{}).Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"status":       SessionStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return err
	}
	session.Status = SessionStatusCompleted
	session.CompletedAt = &now
	return nil
}

func completeSessionAtomic(ctx context.Context, businessId string, sessionId int) (*FulfillmentSession, error) {
	logger := config.GetLogger()
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

	session, orders, err := validateSessionPacked(tx, businessId, sessionId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, order := range orders {
		if err := transitionOrderStatusTx(tx, order, OrderStatusReadyToShip); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := markSessionCompleted(tx, session); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "fulfillmentSession.go", "completeSessionAtomic", "commit failed", sessionId, err)
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"business_id": businessId,
		"session":     session.Code,
		"orders":      len(orders),
	}).Info("fulfillment session completed")
	return session, nil
}

func completeSessionSequential(ctx context.Context, businessId string, sessionId int) (*FulfillmentSession, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	var session *FulfillmentSession
	var orderIds []int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, orders, err := validateSessionPacked(tx, businessId, sessionId)
		if err != nil {
			return err
		}
		session = s
		for _, o := range orders {
			orderIds = append(orderIds, o.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"business_id": businessId,
		"session":     session.Code,
	}).Warn("completing session in sequential mode; a mid-batch failure leaves earlier orders transitioned")

	for _, orderId := range orderIds {
		if _, err := UpdateOrderFulfillmentStatus(ctx, orderId, OrderStatusReadyToShip); err != nil {
			config.LogError(logger, "fulfillmentSession.go", "completeSessionSequential",
				"order transition failed mid-batch", orderId, err)
			return nil, fmt.Errorf("session %s partially completed: order %d: %w", session.Code, orderId, err)
		}
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return markSessionCompleted(tx, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// SessionSummary is the result of closing a session without shipping it.
type SessionSummary struct {
	SessionId      int    `json:"session_id"`
	Code           string `json:"code"`
	OrdersReleased int    `json:"orders_released"`
	Reason         string `json:"reason"`
}

// AbandonSession closes a session early: every in_preparation order returns
// to confirmed and the session is marked completed with the abandonment
// recorded. Stock is untouched because none moved yet.
func AbandonSession(ctx context.Context, sessionId int, reason string) (*SessionSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	if reason == "" {
		reason = "abandoned by operator"
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

	summary, err := abandonSessionTx(tx, businessId, sessionId, reason)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return summary, nil
}

func abandonSessionTx(tx *gorm.DB, businessId string, sessionId int, reason string) (*SessionSummary, error) {
	session, err := fetchSessionForUpdate(tx, businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status == SessionStatusCompleted {
		return nil, utils.NewStateError("session %s is already completed", session.Code)
	}

	orders, err := sessionOrders(tx, businessId, session.ID)
	if err != nil {
		return nil, err
	}
	released := 0
	for _, o := range orders {
		if o.FulfillmentStatus != OrderStatusInPreparation {
			continue
		}
		if err := transitionOrderStatusTx(tx, o, OrderStatusConfirmed); err != nil {
			return nil, err
		}
		released++
	}

	now := time.Now().UTC()
	err = tx.Model(&FulfillmentSession{}).Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"status":         SessionStatusCompleted,
			"abandoned_at":   now,
			"abandon_reason": reason,
			"updated_at":     now,
		}).Error
	if err != nil {
		return nil, err
	}
	config.GetLogger().WithFields(map[string]interface{}{
		"business_id": businessId,
		"session":     session.Code,
		"released":    released,
		"reason":      reason,
	}).Info("fulfillment session abandoned")
	return &SessionSummary{
		SessionId:      session.ID,
		Code:           session.Code,
		OrdersReleased: released,
		Reason:         reason,
	}, nil
}

// RemoveOrderResult reports what detaching an order from a session did.
type RemoveOrderResult struct {
	SessionId     int  `json:"session_id"`
	OrderId       int  `json:"order_id"`
	AutoAbandoned bool `json:"auto_abandoned"`
}

// RemoveOrderFromSession detaches one order from an open session: the order
// returns to confirmed, its packing allocations are dropped and the pick list
// shrinks by its demand. Removing the last order abandons the session.
func RemoveOrderFromSession(ctx context.Context, sessionId int, orderId int) (*RemoveOrderResult, error) {
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

	session, err := fetchSessionForUpdate(tx, businessId, sessionId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if session.Status == SessionStatusCompleted {
		tx.Rollback()
		return nil, utils.NewStateError("session %s is already completed", session.Code)
	}

	var link SessionOrder
	err = tx.Where("session_id = ? AND order_id = ?", session.ID, orderId).First(&link).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewValidationError("order is not part of this session", orderId)
		}
		return nil, err
	}

	var order Order
	err = tx.Preload("Items").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&order, orderId).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, &utils.NotFoundError{Resource: "order", Id: orderId}
		}
		return nil, err
	}
	items, err := order.LineItems(tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Delete(&link).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	err = tx.Where("session_id = ? AND order_id = ?", session.ID, orderId).
		Delete(&PackingAllocation{}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, item := range items {
		var pickItem AggregatedPickItem
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ? AND product_id = ?", session.ID, item.ProductId).
			First(&pickItem).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				continue
			}
			tx.Rollback()
			return nil, err
		}
		newNeeded := pickItem.TotalQuantityNeeded - item.Quantity
		if newNeeded <= 0 {
			if err := tx.Delete(&pickItem).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
			continue
		}
		newPicked := pickItem.QuantityPicked
		if newPicked > newNeeded {
			newPicked = newNeeded
		}
		err = tx.Model(&AggregatedPickItem{}).Where("id = ?", pickItem.ID).
			Updates(map[string]interface{}{
				"total_quantity_needed": newNeeded,
				"quantity_picked":       newPicked,
			}).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if order.FulfillmentStatus == OrderStatusInPreparation {
		if err := transitionOrderStatusTx(tx, &order, OrderStatusConfirmed); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	var remaining int64
	err = tx.Model(&SessionOrder{}).Where("session_id = ?", session.ID).Count(&remaining).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	result := RemoveOrderResult{SessionId: session.ID, OrderId: orderId}
	if remaining == 0 {
		_, err = abandonSessionTx(tx, businessId, session.ID, "auto-abandoned: last order removed")
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		result.AutoAbandoned = true
	} else if err := touchSession(tx, session.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "fulfillmentSession.go", "RemoveOrderFromSession", "commit failed", orderId, err)
		return nil, err
	}
	return &result, nil
}

// StaleSession is an open session that has seen no activity for too long.
type StaleSession struct {
	SessionId  int            `json:"session_id"`
	Code       string         `json:"code"`
	Status     SessionStatus  `json:"status"`
	IdleFor    time.Duration  `json:"idle_for"`
	Level      StalenessLevel `json:"level"`
	OrderCount int            `json:"order_count"`
}

// ClassifyStaleness maps idle time to a staleness level, or "" when the
// session is still fresh.
func ClassifyStaleness(idle, warnAfter, criticalAfter time.Duration) StalenessLevel {
	switch {
	case idle >= criticalAfter:
		return StalenessCritical
	case idle >= warnAfter:
		return StalenessWarning
	}
	return ""
}

// ListStaleSessions returns open sessions idle past the warning threshold,
// most stale first.
func ListStaleSessions(ctx context.Context) ([]*StaleSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("business id not found in context")
	}
	warnAfter := config.SessionStaleWarnAfter()
	criticalAfter := config.SessionStaleCriticalAfter()
	now := time.Now().UTC()

	db := config.GetDB()
	var sessions []*FulfillmentSession
	err := db.WithContext(ctx).
		Where("business_id = ? AND status <> ? AND updated_at < ?",
			businessId, SessionStatusCompleted, now.Add(-warnAfter)).
		Order("updated_at").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	sessionIds := make([]int, 0, len(sessions))
	for _, s := range sessions {
		sessionIds = append(sessionIds, s.ID)
	}
	type countRow struct {
		SessionId int
		N         int
	}
	var counts []countRow
	err = db.WithContext(ctx).Model(&SessionOrder{}).
		Select("session_id, COUNT(*) AS n").
		Where("session_id IN ?", sessionIds).
		Group("session_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	countById := make(map[int]int, len(counts))
	for _, c := range counts {
		countById[c.SessionId] = c.N
	}

	stale := make([]*StaleSession, 0, len(sessions))
	for _, s := range sessions {
		idle := now.Sub(s.UpdatedAt)
		stale = append(stale, &StaleSession{
			SessionId:  s.ID,
			Code:       s.Code,
			Status:     s.Status,
			IdleFor:    idle,
			Level:      ClassifyStaleness(idle, warnAfter, criticalAfter),
			OrderCount: countById[s.ID],
		})
	}
	return stale, nil
}
