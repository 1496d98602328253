package models

import (
	"time"

	"github.com/travauxroutiers/signalement-app/store"
)

// ReadWatermark marks, per user, the last instant notifications were
// acknowledged. Notifications at or before it are considered read.
type ReadWatermark struct {
	UserID     string    `json:"user_id"`
	LastReadAt time.Time `json:"last_read_at"`
}

func ReadWatermarkFromDoc(userID string, doc store.Document) ReadWatermark {
	return ReadWatermark{
		UserID:     userID,
		LastReadAt: docTime(doc, "last_read_at", "lastReadAt"),
	}
}
