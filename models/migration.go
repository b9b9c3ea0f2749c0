package models

import (
	"log"

	"github.com/mmdatafocus/billing_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

// AutoMigrate creates or updates every billing table on db.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Customer{}, &TenantBankSettings{},
		&NumberSeries{}, &NumberSeriesCounter{},
		&Invoice{}, &InvoiceLine{}, &Payment{},
		&RecurringTemplate{},
		&NotificationOutbox{}, &IdempotencyKey{},
	)
}
