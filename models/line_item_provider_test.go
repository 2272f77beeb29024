package models_test

import (
	"testing"

	"github.com/T0MGL/0rdefy-sub003/models"
)

// Orders with normalized rows and orders with an embedded JSON payload must
// yield the same demand shape, with duplicate product rows merged.
func TestLineItemProvidersNormalizeDemand(t *testing.T) {
	rows := &models.Order{
		ID:          1,
		ItemsSource: models.LineItemSourceRows,
		Items: []models.OrderItem{
			{ProductId: 7, Quantity: 2},
			{ProductId: 9, Quantity: 1},
			{ProductId: 7, Quantity: 3},
		},
	}
	got, err := rows.LineItems(nil)
	if err != nil {
		t.Fatalf("LineItems (rows): %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows demand = %+v, want duplicate product rows merged", got)
	}
	if got[0].ProductId != 7 || got[0].Quantity != 5 {
		t.Fatalf("merged row = %+v, want product 7 qty 5", got[0])
	}

	embedded := &models.Order{
		ID:          2,
		ItemsSource: models.LineItemSourceEmbedded,
		EmbeddedItems: models.EmbeddedLineItems{
			{ProductId: 7, Quantity: 1},
			{ProductId: 11, Quantity: 0},
			{ProductId: 12, Quantity: 4},
		},
	}
	got, err = embedded.LineItems(nil)
	if err != nil {
		t.Fatalf("LineItems (embedded): %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("embedded demand = %+v, want zero-quantity rows dropped", got)
	}
	if got[1].ProductId != 12 || got[1].Quantity != 4 {
		t.Fatalf("embedded row = %+v", got[1])
	}
}

func TestEmbeddedLineItemsScan(t *testing.T) {
	var items models.EmbeddedLineItems
	payload := `[{"product_id":3,"name":"Widget","quantity":2,"unit_price":"9.5"}]`

	if err := items.Scan([]byte(payload)); err != nil {
		t.Fatalf("Scan bytes: %v", err)
	}
	if len(items) != 1 || items[0].ProductId != 3 || items[0].Quantity != 2 {
		t.Fatalf("scanned items = %+v", items)
	}

	// MySQL JSON columns may surface as string depending on driver settings.
	items = nil
	if err := items.Scan(payload); err != nil {
		t.Fatalf("Scan string: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Widget" {
		t.Fatalf("scanned items = %+v", items)
	}

	items = nil
	if err := items.Scan(nil); err != nil {
		t.Fatalf("Scan nil: %v", err)
	}
	if items != nil {
		t.Fatalf("nil scan should leave items nil, got %+v", items)
	}

	if err := items.Scan(42); err == nil {
		t.Fatalf("Scan int should fail")
	}
}
