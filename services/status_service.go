package services

import (
	"errors"

	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/store"
)

// ErrStatutInchange is returned when the requested status equals the current
// one; no avancement is created in that case.
var ErrStatutInchange = errors.New("services: statut identique, rien à faire")

// StatusService is the privileged-path entry point: it resolves a status
// token, updates the report and creates the avancement directly, without
// waiting for the listener-driven derivation.
type StatusService struct {
	st      store.Store
	catalog *StatusCatalog
	skip    *SkipSet
}

func NewStatusService(st store.Store, catalog *StatusCatalog, skip *SkipSet) *StatusService {
	return &StatusService{st: st, catalog: catalog, skip: skip}
}

// ApplyStatusChange returns the id of the avancement recording the
// transition. An unresolvable token is used verbatim so the flow works
// before the catalog is seeded.
func (s *StatusService) ApplyStatusChange(signalementID, token, raison, actorID string) (string, error) {
	doc, err := s.st.Get(models.CollectionSignalements, signalementID)
	if err != nil {
		return "", err
	}
	sig := models.SignalementFromDoc(signalementID, doc)

	statutID, ok := s.catalog.Resolve(token)
	if !ok {
		statutID = token
	}
	if statutID == "" {
		return "", errors.New("services: statut requis")
	}
	if sig.StatutID == statutID {
		return "", ErrStatutInchange
	}

	prev := sig.StatutID
	if prev == "" {
		prev = models.StatutNouveau
	}
	if raison == "" {
		raison = "Mise à jour manuelle"
	}
	actor := actorID
	if actor == "" {
		actor = sig.UserID
	}

	// Mark before the write so the report listener skips this transition.
	s.skip.Add(signalementID)
	err = s.st.Update(models.CollectionSignalements, signalementID, store.Document{
		"id_statut":  statutID,
		"updated_at": store.ServerTimestamp,
	})
	if err != nil {
		s.skip.Remove(signalementID)
		return "", err
	}

	return s.st.Create(models.CollectionAvancements, store.Document{
		"signalement_id":    signalementID,
		"ancien_statut_id":  prev,
		"nouveau_statut_id": statutID,
		"date_changement":   store.ServerTimestamp,
		"raison":            raison,
		"user_id":           actor,
	})
}
