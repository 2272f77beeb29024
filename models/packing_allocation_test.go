package models_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/T0MGL/0rdefy-sub003/models"
	"github.com/T0MGL/0rdefy-sub003/utils"
)

// An order withdrawn mid-packing can no longer receive units; the operator is
// told to remove it from the session, after which the rest of the batch ships.
func TestPackUnitRefusesWithdrawnOrder(t *testing.T) {
	ctx := setupIntegrationTest(t)

	part := createTestProduct(t, ctx, "Conflict Part", 20)
	o1 := createConfirmedOrder(t, ctx, "SO-200",
		models.NewOrderItem{ProductId: part.ID, Quantity: 2})
	o2 := createConfirmedOrder(t, ctx, "SO-201",
		models.NewOrderItem{ProductId: part.ID, Quantity: 1})
	session := runSessionToPacking(t, ctx, o1.ID, o2.ID)

	// Customer support cancels o2 while packing is underway.
	if _, err := models.UpdateOrderFulfillmentStatus(ctx, o2.ID, models.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	_, err := models.PackUnit(ctx, session.ID, o2.ID, part.ID)
	var stateErr *utils.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("packing into cancelled order: got %v, want StateError", err)
	}

	// Completion is blocked the same way until the order leaves the session.
	for n := 0; n < 2; n++ {
		if _, err := models.PackUnit(ctx, session.ID, o1.ID, part.ID); err != nil {
			t.Fatalf("PackUnit o1: %v", err)
		}
	}
	_, err = models.CompleteSession(ctx, session.ID)
	if err == nil {
		t.Fatalf("CompleteSession succeeded with a cancelled order still attached")
	}

	if _, err := models.RemoveOrderFromSession(ctx, session.ID, o2.ID); err != nil {
		t.Fatalf("RemoveOrderFromSession: %v", err)
	}
	session, err = models.CompleteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("CompleteSession after removal: %v", err)
	}
	if session.Status != models.SessionStatusCompleted {
		t.Fatalf("session status = %s, want completed", session.Status)
	}
	// Only o1's two units left the shelf.
	if got := mustGetProduct(t, ctx, part.ID).Stock; got != 18 {
		t.Fatalf("stock = %d, want 18", got)
	}
}

// Two packers fighting over the last picked unit: exactly one wins, the other
// gets a retryable conflict.
func TestPackUnitSharedPoolUnderConcurrency(t *testing.T) {
	ctx := setupIntegrationTest(t)

	part := createTestProduct(t, ctx, "Scarce Unit", 10)
	o1 := createConfirmedOrder(t, ctx, "SO-210",
		models.NewOrderItem{ProductId: part.ID, Quantity: 1})
	o2 := createConfirmedOrder(t, ctx, "SO-211",
		models.NewOrderItem{ProductId: part.ID, Quantity: 1})

	session, err := models.CreateFulfillmentSession(ctx, &models.NewFulfillmentSession{
		OrderIds: []int{o1.ID, o2.ID},
	})
	if err != nil {
		t.Fatalf("CreateFulfillmentSession: %v", err)
	}
	pickEverything(t, ctx, session.ID)
	if _, err := models.FinishPicking(ctx, session.ID); err != nil {
		t.Fatalf("FinishPicking: %v", err)
	}

	// Drain the pool to one remaining unit.
	if _, err := models.PackUnit(ctx, session.ID, o1.ID, part.ID); err != nil {
		t.Fatalf("PackUnit warmup: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = models.PackUnit(ctx, session.ID, o2.ID, part.ID)
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var cErr *utils.ConflictError
		if errors.As(err, &cErr) {
			conflicted++
			continue
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("succeeded=%d conflicted=%d, want exactly one of each", succeeded, conflicted)
	}

	view, err := models.GetPackingView(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetPackingView: %v", err)
	}
	if len(view.Pool) != 1 || view.Pool[0].Remaining != 0 {
		t.Fatalf("pool = %+v, want zero remaining", view.Pool)
	}
}

// Units can only be packed during the packing phase.
func TestPackUnitPhaseGuard(t *testing.T) {
	ctx := setupIntegrationTest(t)

	part := createTestProduct(t, ctx, "Phase Part", 5)
	order := createConfirmedOrder(t, ctx, "SO-220",
		models.NewOrderItem{ProductId: part.ID, Quantity: 1})
	session, err := models.CreateFulfillmentSession(ctx, &models.NewFulfillmentSession{
		OrderIds: []int{order.ID},
	})
	if err != nil {
		t.Fatalf("CreateFulfillmentSession: %v", err)
	}

	_, err = models.PackUnit(ctx, session.ID, order.ID, part.ID)
	var stateErr *utils.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("PackUnit during picking: got %v, want StateError", err)
	}

	// Picked counts are equally phase-bound.
	pickEverything(t, ctx, session.ID)
	if _, err := models.FinishPicking(ctx, session.ID); err != nil {
		t.Fatalf("FinishPicking: %v", err)
	}
	_, err = models.ReportPicked(ctx, session.ID, part.ID, 1)
	if !errors.As(err, &stateErr) {
		t.Fatalf("ReportPicked during packing: got %v, want StateError", err)
	}
}
