package services

import (
	"log"
	"sync"

	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/store"
)

// ReportListener watches the session user's signalements and derives an
// avancement for every externally-caused status transition. A per-report
// cache of the last observed status is primed from a full read at startup so
// the first live change already has a baseline. Scoping to the owner keeps
// concurrent sessions from deriving the same transition twice.
type ReportListener struct {
	st      store.Store
	skip    *SkipSet
	session Session

	mu         sync.Mutex
	lastStatus map[string]string

	sub *store.Subscription
}

func NewReportListener(st store.Store, skip *SkipSet, session Session) *ReportListener {
	return &ReportListener{
		st:         st,
		skip:       skip,
		session:    session,
		lastStatus: make(map[string]string),
	}
}

func (l *ReportListener) Start() error {
	owned := store.Query{
		Filters: []store.Filter{store.Where("id_utilisateur", store.OpEqual, l.session.UserID)},
	}

	snaps, err := l.st.Find(models.CollectionSignalements, owned)
	if err != nil {
		return err
	}

	l.mu.Lock()
	for _, snap := range snaps {
		sig := models.SignalementFromDoc(snap.ID, snap.Doc)
		l.lastStatus[snap.ID] = sig.StatutID
	}
	l.mu.Unlock()

	sub, err := l.st.Subscribe(models.CollectionSignalements, owned, l.handleChange)
	if err != nil {
		return err
	}
	l.sub = sub
	return nil
}

func (l *ReportListener) Stop() {
	if l.sub != nil {
		l.sub.Stop()
	}
}

func (l *ReportListener) handleChange(ev store.Event) {
	switch ev.Type {
	case store.ChangeAdded:
		// No event for creations: a brand-new report has no transition.
		sig := models.SignalementFromDoc(ev.ID, ev.Doc)
		l.setLast(ev.ID, sig.StatutID)
	case store.ChangeRemoved:
		l.mu.Lock()
		delete(l.lastStatus, ev.ID)
		l.mu.Unlock()
	case store.ChangeModified:
		l.handleModified(ev)
	}
}

func (l *ReportListener) handleModified(ev store.Event) {
	sig := models.SignalementFromDoc(ev.ID, ev.Doc)
	if sig.StatutID == "" {
		l.setLast(ev.ID, "")
		return
	}

	l.mu.Lock()
	prev, known := l.lastStatus[ev.ID]
	l.mu.Unlock()

	if known && prev == sig.StatutID {
		return
	}

	// Cache is updated even when event creation fails below, so a later
	// genuine change is not masked by a stale comparison.
	defer l.setLast(ev.ID, sig.StatutID)

	if l.skip.Consume(ev.ID) {
		// Self-caused: the progress listener wrote this status.
		return
	}

	if prev == "" {
		prev = models.StatutNouveau
	}
	_, err := l.st.Create(models.CollectionAvancements, store.Document{
		"signalement_id":    ev.ID,
		"ancien_statut_id":  prev,
		"nouveau_statut_id": sig.StatutID,
		"date_changement":   store.ServerTimestamp,
		"raison":            "Changement externe",
		"user_id":           sig.UserID,
	})
	if err != nil {
		log.Printf("report listener: error creating avancement for %s: %v", ev.ID, err)
	}
}

func (l *ReportListener) setLast(id, statutID string) {
	l.mu.Lock()
	l.lastStatus[id] = statutID
	l.mu.Unlock()
}
