package models

import (
	"time"

	"github.com/travauxroutiers/signalement-app/store"
)

// Signalement is the typed view over a report document.
type Signalement struct {
	ID              string    `json:"id"`
	UserID          string    `json:"id_utilisateur"`
	StatutID        string    `json:"id_statut"`
	Description     string    `json:"description"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	DateSignalement time.Time `json:"date_signalement"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func SignalementFromDoc(id string, doc store.Document) Signalement {
	return Signalement{
		ID:              id,
		UserID:          docString(doc, "id_utilisateur", "userId", "user_id"),
		StatutID:        docString(doc, "id_statut", "statut_id", "statut", "status"),
		Description:     docString(doc, "description"),
		Latitude:        docFloat(doc, "latitude"),
		Longitude:       docFloat(doc, "longitude"),
		DateSignalement: docTime(doc, "date_signalement", "dateSignalement"),
		UpdatedAt:       docTime(doc, "updated_at", "updatedAt"),
	}
}
