package models

import (
	"time"

	"github.com/travauxroutiers/signalement-app/store"
)

// Notification is the typed view over a per-user, per-avancement alert
// document.
type Notification struct {
	ID              string    `json:"id"`
	AvancementID    string    `json:"avancement_id"`
	SignalementID   string    `json:"signalement_id"`
	UserID          string    `json:"user_id"`
	AncienStatutID  string    `json:"ancien_statut_id"`
	NouveauStatutID string    `json:"nouveau_statut_id"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
	IsRead          bool      `json:"is_read"`
}

func NotificationFromDoc(id string, doc store.Document) Notification {
	return Notification{
		ID:              id,
		AvancementID:    docString(doc, "avancement_id", "avancementId"),
		SignalementID:   docString(doc, "signalement_id", "signalementId"),
		UserID:          docString(doc, "user_id", "userId"),
		AncienStatutID:  docString(doc, "ancien_statut_id", "ancienStatut"),
		NouveauStatutID: docString(doc, "nouveau_statut_id", "nouveauStatut", "statut"),
		Message:         docString(doc, "message"),
		Timestamp:       docTime(doc, "timestamp", "date_notification"),
		IsRead:          docBool(doc, "is_read", "isRead"),
	}
}

// NotificationView is the projection exposed to the application: status
// resolved to a label, sorted newest first by the aggregator.
type NotificationView struct {
	ID            string    `json:"id"`
	SignalementID string    `json:"signalement_id"`
	Message       string    `json:"message"`
	StatutLabel   string    `json:"statut_label"`
	Timestamp     time.Time `json:"timestamp"`
	IsRead        bool      `json:"is_read"`
}
