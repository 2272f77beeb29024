package utils_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/T0MGL/0rdefy-sub003/utils"
)

func TestValidationErrorNamesOrders(t *testing.T) {
	err := utils.NewValidationError("only confirmed orders can join a session", 4, 9)
	msg := err.Error()
	if !strings.Contains(msg, "4") || !strings.Contains(msg, "9") {
		t.Fatalf("message should list offending orders, got %q", msg)
	}

	var vErr *utils.ValidationError
	wrapped := fmt.Errorf("create session: %w", err)
	if !errors.As(wrapped, &vErr) {
		t.Fatalf("errors.As failed through wrapping")
	}
	if len(vErr.OrderIds) != 2 {
		t.Fatalf("OrderIds = %+v", vErr.OrderIds)
	}
}

func TestStockInsufficientErrorMessage(t *testing.T) {
	err := &utils.StockInsufficientError{Items: []utils.ShortfallItem{
		{ProductId: 1, Name: "Widget", Sku: "W-1", Needed: 5, Available: 2},
		{ProductId: 2, Name: "Gadget", Sku: "G-1", Needed: 1, Available: 0},
	}}
	msg := err.Error()
	for _, want := range []string{"Widget", "needed 5", "available 2", "Gadget"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q: %q", want, msg)
		}
	}
}

func TestIncompleteErrorDistinguishesPhases(t *testing.T) {
	picking := &utils.IncompleteError{Phase: "picking", Items: []utils.IncompleteItem{
		{ProductId: 3, Done: 1, Needed: 4},
	}}
	if !strings.Contains(picking.Error(), "picking incomplete") {
		t.Errorf("picking message = %q", picking.Error())
	}
	if strings.Contains(picking.Error(), "order") {
		t.Errorf("picking rows aggregate across orders, message = %q", picking.Error())
	}

	packing := &utils.IncompleteError{Phase: "packing", Items: []utils.IncompleteItem{
		{OrderId: 8, ProductId: 3, Done: 0, Needed: 2},
	}}
	if !strings.Contains(packing.Error(), "order 8") {
		t.Errorf("packing message should name the order, got %q", packing.Error())
	}
}

func TestErrorTaxonomyIsDistinguishable(t *testing.T) {
	conflict := utils.NewConflictError("all %d picked units are allocated", 3)
	state := utils.NewStateError("session %s is already completed", "FS-9")
	notFound := &utils.NotFoundError{Resource: "order", Id: 12}

	var cErr *utils.ConflictError
	var sErr *utils.StateError
	var nErr *utils.NotFoundError
	if !errors.As(conflict, &cErr) || errors.As(conflict, &sErr) {
		t.Error("ConflictError should only match ConflictError")
	}
	if !errors.As(state, &sErr) || errors.As(state, &cErr) {
		t.Error("StateError should only match StateError")
	}
	if !errors.As(notFound, &nErr) {
		t.Error("NotFoundError should match NotFoundError")
	}
	if notFound.Error() != "order 12 not found" {
		t.Errorf("NotFoundError message = %q", notFound.Error())
	}
}
