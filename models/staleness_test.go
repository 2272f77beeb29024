package models_test

import (
	"testing"
	"time"

	"github.com/T0MGL/0rdefy-sub003/models"
)

func TestClassifyStaleness(t *testing.T) {
	warn := 24 * time.Hour
	critical := 48 * time.Hour

	cases := []struct {
		idle time.Duration
		want models.StalenessLevel
	}{
		{time.Hour, ""},
		{23 * time.Hour, ""},
		{24 * time.Hour, models.StalenessWarning},
		{47 * time.Hour, models.StalenessWarning},
		{48 * time.Hour, models.StalenessCritical},
		{200 * time.Hour, models.StalenessCritical},
	}
	for _, c := range cases {
		if got := models.ClassifyStaleness(c.idle, warn, critical); got != c.want {
			t.Errorf("ClassifyStaleness(%s) = %q, want %q", c.idle, got, c.want)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	decremented := []models.OrderFulfillmentStatus{
		models.OrderStatusReadyToShip, models.OrderStatusShipped,
		models.OrderStatusInTransit, models.OrderStatusDelivered,
	}
	for _, s := range decremented {
		if !s.StockDecremented() {
			t.Errorf("%s should count as stock-decremented", s)
		}
	}
	for _, s := range []models.OrderFulfillmentStatus{
		models.OrderStatusPending, models.OrderStatusConfirmed,
		models.OrderStatusInPreparation, models.OrderStatusCancelled,
	} {
		if s.StockDecremented() {
			t.Errorf("%s should not count as stock-decremented", s)
		}
	}

	if models.OrderStatusInTransit.RestoresStockOnExit() {
		t.Error("in_transit exits do not restore stock")
	}
	if !models.OrderStatusShipped.RestoresStockOnExit() {
		t.Error("shipped exits restore stock")
	}
	if !models.OrderFulfillmentStatus("returned").Withdrawn() {
		t.Error("returned is a withdrawal")
	}
	if models.OrderFulfillmentStatus("bogus").Valid() {
		t.Error("unknown status accepted")
	}
}
