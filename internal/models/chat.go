// Package models defines the GORM models backing the mock chat backend.
package models

import "time"

// Chat is a persisted conversation.
type Chat struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:128;not null;index"`
	Title     string    `gorm:"size:256;not null"`
	CreatedAt time.Time `gorm:"index"`

	Messages  []ChatMessage `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
	Documents []Document    `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

// ChatMessage is one message in a conversation. Sources holds the citations
// of a completed assistant reply.
type ChatMessage struct {
	ID        string    `gorm:"primaryKey;size:36"`
	ChatID    string    `gorm:"size:36;not null;index"`
	Role      string    `gorm:"size:16;not null"` // "user", "assistant", "system"
	Content   string    `gorm:"type:text"`
	Sources   []Source  `gorm:"serializer:json"`
	CreatedAt time.Time `gorm:"index"`
}

// Source is a citation stored with an assistant message.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}
