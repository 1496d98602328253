package database

import (
	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/store"
)

var defaultStatuts = map[string]string{
	"NOUVEAU":       "Nouveau",
	"EN_COURS":      "En cours",
	"EN_ATTENTE":    "En attente",
	"EN_TRAITEMENT": "En traitement",
	"TRAITE":        "Traité",
	"REJETE":        "Rejeté",
	"CLOTURE":       "Clôturé",
}

// SeedStatuts upserts the status referential. Existing labels are kept
// current; seeding is idempotent.
func SeedStatuts(st store.Store) error {
	for id, label := range defaultStatuts {
		err := st.Upsert(models.CollectionStatuts, id, store.Document{
			"statut": label,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
