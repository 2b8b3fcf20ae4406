package guardian

import "time"

// Audit ledger rows. Write-only at runtime: nothing is read back on restart,
// so the process still starts from an empty window and a fresh load.

type LoadRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Source       string `gorm:"size:1024"`
	Location     string `gorm:"size:256"`
	RowsTotal    int
	RowsAccepted int
	RowsRejected int
	SKUCount     int
	LoadedAt     time.Time `gorm:"index"`
}

type OrderRecord struct {
	ID         uint      `gorm:"primaryKey"`
	OrderID    string    `gorm:"index;size:64"`
	ReceivedAt time.Time `gorm:"index"`
	LineItems  int
	Applied    int
	Duplicate  bool
	Refused    bool
	State      string `gorm:"size:16"`
}

type TripRecord struct {
	ID         uint      `gorm:"primaryKey"`
	IncidentID string    `gorm:"index;size:36"`
	Reason     string    `gorm:"type:text"`
	TrippedAt  time.Time `gorm:"index"`
	Alerted    bool
	AlertError string `gorm:"type:text"`
}
