package models

import (
	"time"
)

// SessionModel is the database row for a proxy session. State and history
// are stored as JSON blobs; the schema only indexes what the admin surface
// filters on.
type SessionModel struct {
	ID           string `gorm:"primaryKey;size:128"`
	Agent        string `gorm:"size:64;index"`
	State        string `gorm:"type:text"` // JSON encoded SessionState
	History      string `gorm:"type:text"` // JSON encoded []Interaction
	CreatedAt    time.Time
	LastActiveAt time.Time `gorm:"index"`
}

// TableName fixes the table name.
func (SessionModel) TableName() string {
	return "sessions"
}
