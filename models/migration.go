package models

import (
	"log"

	"github.com/hostfolio/propops_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Property{},
		&Booking{},
		&ImportSession{},
		&AuditEntry{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
