package models

import "time"

// Connection is an external data source linked by a user.
type Connection struct {
	ID           string `gorm:"primaryKey;size:36"`
	UserID       string `gorm:"size:128;not null;index"`
	Name         string `gorm:"size:256;not null"`
	SourceType   string `gorm:"size:64;not null"`
	Status       string `gorm:"size:32;not null;default:Ready"`
	LastSyncedAt time.Time
	CreatedAt    time.Time `gorm:"index"`
}
