package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/models"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"github.com/T0MGL/0rdefy-sub003/workflow"
)

// Removing the last order auto-abandons the session and releases the order
// back to confirmed; the pick list shrinks along the way.
func TestRemoveLastOrderAutoAbandons(t *testing.T) {
	ctx := setupIntegrationTest(t)

	part := createTestProduct(t, ctx, "Solo Part", 9)
	order := createConfirmedOrder(t, ctx, "SO-300",
		models.NewOrderItem{ProductId: part.ID, Quantity: 2})
	session, err := models.CreateFulfillmentSession(ctx, &models.NewFulfillmentSession{
		OrderIds: []int{order.ID},
	})
	if err != nil {
		t.Fatalf("CreateFulfillmentSession: %v", err)
	}

	result, err := models.RemoveOrderFromSession(ctx, session.ID, order.ID)
	if err != nil {
		t.Fatalf("RemoveOrderFromSession: %v", err)
	}
	if !result.AutoAbandoned {
		t.Fatalf("removing the last order should auto-abandon, got %+v", result)
	}

	session, err = models.GetFulfillmentSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetFulfillmentSession: %v", err)
	}
	if session.Status != models.SessionStatusCompleted || session.AbandonedAt == nil {
		t.Fatalf("session not abandoned: %+v", session)
	}
	if got := mustGetOrder(t, ctx, order.ID).FulfillmentStatus; got != models.OrderStatusConfirmed {
		t.Fatalf("order status = %s, want confirmed", got)
	}
	items, err := models.GetSessionPickItems(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionPickItems: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("pick items should be gone, got %+v", items)
	}
	if got := mustGetProduct(t, ctx, part.ID).Stock; got != 9 {
		t.Fatalf("stock = %d, want 9 (untouched)", got)
	}

	// The released order is free to join a new session.
	if _, err := models.CreateFulfillmentSession(ctx, &models.NewFulfillmentSession{
		OrderIds: []int{order.ID},
	}); err != nil {
		t.Fatalf("re-enroll released order: %v", err)
	}
}

// Removing one of several orders shrinks the shared pick list and caps the
// picked count at the new total.
func TestRemoveOrderShrinksPickList(t *testing.T) {
	ctx := setupIntegrationTest(t)

	part := createTestProduct(t, ctx, "Shared Part", 10)
	o1 := createConfirmedOrder(t, ctx, "SO-310",
		models.NewOrderItem{ProductId: part.ID, Quantity: 2})
	o2 := createConfirmedOrder(t, ctx, "SO-311",
		models.NewOrderItem{ProductId: part.ID, Quantity: 3})
	session, err := models.CreateFulfillmentSession(ctx, &models.NewFulfillmentSession{
		OrderIds: []int{o1.ID, o2.ID},
	})
	if err != nil {
		t.Fatalf("CreateFulfillmentSession: %v", err)
	}
	if _, err := models.ReportPicked(ctx, session.ID, part.ID, 4); err != nil {
		t.Fatalf("ReportPicked: %v", err)
	}

	result, err := models.RemoveOrderFromSession(ctx, session.ID, o2.ID)
	if err != nil {
		t.Fatalf("RemoveOrderFromSession: %v", err)
	}
	if result.AutoAbandoned {
		t.Fatalf("session should stay open with one order left")
	}

	items, err := models.GetSessionPickItems(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionPickItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("pick items = %+v, want one row", items)
	}
	if items[0].TotalQuantityNeeded != 2 || items[0].QuantityPicked != 2 {
		t.Fatalf("pick item after removal = %+v, want needed 2 picked 2", items[0])
	}

	// The shrunken session finishes normally.
	if _, err := models.FinishPicking(ctx, session.ID); err != nil {
		t.Fatalf("FinishPicking: %v", err)
	}
	packEverything(t, ctx, session.ID)
	if _, err := models.CompleteSession(ctx, session.ID); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if got := mustGetProduct(t, ctx, part.ID).Stock; got != 8 {
		t.Fatalf("stock = %d, want 8", got)
	}
}

func TestAbandonSessionReleasesOrders(t *testing.T) {
	ctx := setupIntegrationTest(t)

	part := createTestProduct(t, ctx, "Abandon Part", 6)
	o1 := createConfirmedOrder(t, ctx, "SO-320",
		models.NewOrderItem{ProductId: part.ID, Quantity: 1})
	o2 := createConfirmedOrder(t, ctx, "SO-321",
		models.NewOrderItem{ProductId: part.ID, Quantity: 2})
	session := runSessionToPacking(t, ctx, o1.ID, o2.ID)

	summary, err := models.AbandonSession(ctx, session.ID, "shift ended")
	if err != nil {
		t.Fatalf("AbandonSession: %v", err)
	}
	if summary.OrdersReleased != 2 || summary.Reason != "shift ended" {
		t.Fatalf("summary = %+v", summary)
	}
	for _, id := range []int{o1.ID, o2.ID} {
		if got := mustGetOrder(t, ctx, id).FulfillmentStatus; got != models.OrderStatusConfirmed {
			t.Fatalf("order %d status = %s, want confirmed", id, got)
		}
	}
	if got := mustGetProduct(t, ctx, part.ID).Stock; got != 6 {
		t.Fatalf("stock = %d, want 6 (untouched)", got)
	}

	// Abandoning twice is refused.
	_, err = models.AbandonSession(ctx, session.ID, "again")
	var stateErr *utils.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("second abandon: got %v, want StateError", err)
	}
}

// Idle sessions surface as warnings, then critical, and the cleanup job
// force-abandons them past the hard threshold.
func TestStaleSessionDetectionAndCleanup(t *testing.T) {
	ctx := setupIntegrationTest(t)
	t.Setenv("SESSION_STALE_WARN_HOURS", "24")
	t.Setenv("SESSION_STALE_CRITICAL_HOURS", "48")
	t.Setenv("SESSION_FORCE_ABANDON_HOURS", "168")

	part := createTestProduct(t, ctx, "Stale Part", 5)
	order := createConfirmedOrder(t, ctx, "SO-330",
		models.NewOrderItem{ProductId: part.ID, Quantity: 1})
	session, err := models.CreateFulfillmentSession(ctx, &models.NewFulfillmentSession{
		OrderIds: []int{order.ID},
	})
	if err != nil {
		t.Fatalf("CreateFulfillmentSession: %v", err)
	}

	stale, err := models.ListStaleSessions(ctx)
	if err != nil {
		t.Fatalf("ListStaleSessions: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh session reported stale: %+v", stale)
	}

	// Backdate activity past the critical threshold.
	db := config.GetDB()
	backdated := time.Now().UTC().Add(-72 * time.Hour)
	if err := db.WithContext(ctx).Model(&models.FulfillmentSession{}).
		Where("id = ?", session.ID).
		Update("updated_at", backdated).Error; err != nil {
		t.Fatalf("backdate session: %v", err)
	}

	stale, err = models.ListStaleSessions(ctx)
	if err != nil {
		t.Fatalf("ListStaleSessions: %v", err)
	}
	if len(stale) != 1 || stale[0].Level != models.StalenessCritical || stale[0].OrderCount != 1 {
		t.Fatalf("stale sessions = %+v, want one critical entry", stale)
	}

	// Not yet past the force-abandon threshold; cleanup leaves it alone.
	results, err := workflow.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("cleanup touched a non-expired session: %+v", results)
	}

	// Push it past the hard threshold.
	expired := time.Now().UTC().Add(-200 * time.Hour)
	if err := db.WithContext(ctx).Model(&models.FulfillmentSession{}).
		Where("id = ?", session.ID).
		Update("updated_at", expired).Error; err != nil {
		t.Fatalf("backdate session: %v", err)
	}
	results, err = workflow.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("cleanup results = %+v, want one success", results)
	}

	session, err = models.GetFulfillmentSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetFulfillmentSession: %v", err)
	}
	if session.Status != models.SessionStatusCompleted || session.AbandonedAt == nil {
		t.Fatalf("session not force-abandoned: %+v", session)
	}
	if got := mustGetOrder(t, ctx, order.ID).FulfillmentStatus; got != models.OrderStatusConfirmed {
		t.Fatalf("order status = %s, want confirmed", got)
	}
}
