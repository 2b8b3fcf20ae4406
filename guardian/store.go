package guardian

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func OpenAuditDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&LoadRecord{}, &OrderRecord{}, &TripRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}
