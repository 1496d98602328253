package models

import "github.com/travauxroutiers/signalement-app/store"

// Statut is one catalog entry: a stable status id mapped to its display
// label. The catalog is seeded externally and read-only here.
type Statut struct {
	ID    string `json:"id"`
	Label string `json:"statut"`
}

func StatutFromDoc(id string, doc store.Document) Statut {
	return Statut{
		ID:    id,
		Label: docString(doc, "statut", "libelle", "label"),
	}
}
