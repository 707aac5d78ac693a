package models

import "time"

// Document is an uploaded file attached to a conversation. StoredName is the
// file name under the upload directory.
type Document struct {
	ID         string `gorm:"primaryKey;size:36"`
	ChatID     string `gorm:"size:36;not null;index"`
	Filename   string `gorm:"size:256;not null"`
	StoredName string `gorm:"size:320;not null"`
	MimeType   string `gorm:"size:128"`
	Size       int64
	CreatedAt  time.Time `gorm:"index"`
}
