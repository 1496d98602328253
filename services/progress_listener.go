package services

import (
	"log"

	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/store"
)

// ProgressListener consumes avancements: it writes the new status back onto
// the signalement (permission-gated, skip-set first so the report listener
// does not derive a duplicate event) and keeps exactly one notification per
// avancement for the recipient.
type ProgressListener struct {
	st      store.Store
	catalog *StatusCatalog
	skip    *SkipSet
	session Session

	sub *store.Subscription
}

func NewProgressListener(st store.Store, catalog *StatusCatalog, skip *SkipSet, session Session) *ProgressListener {
	return &ProgressListener{
		st:      st,
		catalog: catalog,
		skip:    skip,
		session: session,
	}
}

func (l *ProgressListener) Start() error {
	sub, err := l.st.Subscribe(models.CollectionAvancements, store.Query{}, l.handleChange)
	if err != nil {
		return err
	}
	l.sub = sub
	return nil
}

func (l *ProgressListener) Stop() {
	if l.sub != nil {
		l.sub.Stop()
	}
}

func (l *ProgressListener) handleChange(ev store.Event) {
	if ev.Type != store.ChangeAdded && ev.Type != store.ChangeModified {
		return
	}
	if ev.Initial {
		// Snapshot events are history that was already propagated; replaying
		// them would reset read notifications to unread on every start.
		return
	}
	l.process(ev)
}

func (l *ProgressListener) process(ev store.Event) {
	event := models.AvancementFromDoc(ev.ID, ev.Doc)
	if event.SignalementID == "" {
		return
	}

	doc, err := l.st.Get(models.CollectionSignalements, event.SignalementID)
	if err != nil {
		log.Printf("progress listener: error fetching signalement %s: %v", event.SignalementID, err)
		return
	}
	sig := models.SignalementFromDoc(event.SignalementID, doc)

	if event.NouveauStatutID != "" && l.canWrite(sig) && sig.StatutID != event.NouveauStatutID {
		l.skip.Add(sig.ID)
		err := l.st.Update(models.CollectionSignalements, sig.ID, store.Document{
			"id_statut":  event.NouveauStatutID,
			"updated_at": store.ServerTimestamp,
		})
		if err != nil {
			log.Printf("progress listener: error writing status %s on %s: %v", event.NouveauStatutID, sig.ID, err)
			l.skip.Remove(sig.ID)
		}
	}

	recipient := sig.UserID
	if recipient == "" {
		recipient = event.UserID
	}
	// Without a privileged context the store rules only allow writing to the
	// session user's own inbox; other recipients are handled server-side.
	if recipient == "" || recipient != l.session.UserID {
		return
	}

	l.upsertNotification(event, recipient)
}

func (l *ProgressListener) canWrite(sig models.Signalement) bool {
	return l.session.IsAdmin() || (l.session.UserID != "" && l.session.UserID == sig.UserID)
}

// upsertNotification enforces the one-notification-per-avancement invariant:
// check, then create or update, never blind insert.
func (l *ProgressListener) upsertNotification(event models.Avancement, recipient string) {
	snaps, err := l.st.Find(models.CollectionNotifications, store.Query{
		Filters: []store.Filter{
			store.Where("avancement_id", store.OpEqual, event.ID),
			store.Where("user_id", store.OpEqual, recipient),
		},
	})
	if err != nil {
		log.Printf("progress listener: error querying notifications for %s: %v", event.ID, err)
		return
	}

	label := l.catalog.LabelOf(event.NouveauStatutID)
	message := StatusMessage(event.NouveauStatutID, label)

	if len(snaps) == 0 {
		_, err := l.st.Create(models.CollectionNotifications, store.Document{
			"avancement_id":     event.ID,
			"signalement_id":    event.SignalementID,
			"user_id":           recipient,
			"ancien_statut_id":  event.AncienStatutID,
			"nouveau_statut_id": event.NouveauStatutID,
			"message":           message,
			"timestamp":         store.ServerTimestamp,
			"is_read":           false,
		})
		if err != nil {
			log.Printf("progress listener: error creating notification for %s: %v", event.ID, err)
		}
		return
	}

	// A repeated or corrected event surfaces as a fresh alert.
	err = l.st.Update(models.CollectionNotifications, snaps[0].ID, store.Document{
		"ancien_statut_id":  event.AncienStatutID,
		"nouveau_statut_id": event.NouveauStatutID,
		"message":           message,
		"timestamp":         store.ServerTimestamp,
		"is_read":           false,
	})
	if err != nil {
		log.Printf("progress listener: error updating notification for %s: %v", event.ID, err)
	}
}
