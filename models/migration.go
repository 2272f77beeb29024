package models

import (
	"log"

	"github.com/T0MGL/0rdefy-sub003/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{},
		&Order{}, &OrderItem{},
		&FulfillmentSession{}, &SessionOrder{},
		&AggregatedPickItem{}, &PackingAllocation{},
		&InventoryMovement{},
		&OutboxMessageRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
