package models

import (
	"time"

	"github.com/lib/pq"
)

// SessionRecord is one conversation view's lifetime, kept in the session journal.
type SessionRecord struct {
	// ViewID is the unique identifier of the conversation view (UUID).
	ViewID string `gorm:"primaryKey;type:uuid"`
	// LocalUserID is the backend id of the logged-in user.
	LocalUserID string `gorm:"type:text;not null;index:idx_session_pair"`
	// CounterpartUserID is the backend id of the other participant.
	CounterpartUserID string `gorm:"type:text;not null;index:idx_session_pair"`
	// HistorySize is the number of messages the transcript was seeded with.
	HistorySize int
	// LiveMessages counts live appends during the view's lifetime.
	LiveMessages int
	// Failures lists the absorbed failure kinds, in the order they happened.
	Failures pq.StringArray `gorm:"type:text[]"`
	// OpenedAt is when the view opened.
	OpenedAt time.Time `gorm:"not null"`
	// ClosedAt is when the view closed; nil while open.
	ClosedAt *time.Time
}

// TableName keeps the table name stable regardless of naming strategy.
func (SessionRecord) TableName() string {
	return "chat_sessions"
}
