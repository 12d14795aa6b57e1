package models

import (
	"log"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	err := db.AutoMigrate(
		&SyncConnection{},
		&SyncRun{},
		&SyncError{},
		&InventoryChange{},
		&DataConflict{},
		&OverrideAcceptance{},
		&CatalogProduct{},
		&CatalogVariant{},
	)
	if err != nil {
		log.Printf("auto migrate failed: %v", err)
		return err
	}
	return nil
}
