package models

import (
	"time"

	"github.com/travauxroutiers/signalement-app/store"
)

// Avancement is one immutable status transition of a signalement. Documents
// are append-only: they are created once and never mutated.
type Avancement struct {
	ID              string    `json:"id"`
	SignalementID   string    `json:"signalement_id"`
	AncienStatutID  string    `json:"ancien_statut_id"`
	NouveauStatutID string    `json:"nouveau_statut_id"`
	Raison          string    `json:"raison"`
	UserID          string    `json:"user_id"`
	DateChangement  time.Time `json:"date_changement"`
}

func AvancementFromDoc(id string, doc store.Document) Avancement {
	return Avancement{
		ID:              id,
		SignalementID:   docString(doc, "signalement_id", "signalementId"),
		AncienStatutID:  docString(doc, "ancien_statut_id", "ancienStatut"),
		NouveauStatutID: docString(doc, "nouveau_statut_id", "nouveauStatut", "statut"),
		Raison:          docString(doc, "raison", "reason"),
		UserID:          docString(doc, "user_id", "userId"),
		DateChangement:  docTime(doc, "date_changement", "dateChangement", "timestamp"),
	}
}
