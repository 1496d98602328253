package services

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/travauxroutiers/signalement-app/hub"
	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/store"
)

// Notifier aggregates a user's notifications from two independent chunked
// subscriptions (notifications addressed to the user, and notifications on
// reports the user owns) into one deduplicated map, and exposes the sorted
// view, the unread count and the read-state mutations.
type Notifier struct {
	st      store.Store
	catalog *StatusCatalog
	alerts  *hub.Hub // optional device-alert channel
	userID  string

	mu        sync.Mutex
	raw       map[string]store.Document
	view      []models.NotificationView
	unread    int
	pending   int // subscriptions still awaiting their first snapshot
	retroDone bool
	watermark time.Time
	subs      []*store.Subscription
	started   bool
}

func NewNotifier(st store.Store, catalog *StatusCatalog, alerts *hub.Hub, userID string) *Notifier {
	return &Notifier{
		st:      st,
		catalog: catalog,
		alerts:  alerts,
		userID:  userID,
		raw:     make(map[string]store.Document),
	}
}

// StartListening boots the aggregator: watermark, both subscription groups,
// then a one-shot direct fetch merged in as a safety net against missed
// initial events.
func (n *Notifier) StartListening() error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.raw = make(map[string]store.Document)
	n.view = nil
	n.unread = 0
	n.retroDone = false
	n.mu.Unlock()

	if err := n.ensureWatermark(); err != nil {
		log.Printf("notifier: watermark setup failed for %s: %v", n.userID, err)
	}

	chunks, err := n.ownedSignalementChunks()
	if err != nil {
		log.Printf("notifier: error listing owned signalements for %s: %v", n.userID, err)
		chunks = nil
	}

	n.mu.Lock()
	n.pending = 1 + len(chunks)
	n.mu.Unlock()

	subA, err := n.st.Subscribe(models.CollectionNotifications, store.Query{
		Filters: []store.Filter{store.Where("user_id", store.OpEqual, n.userID)},
	}, n.handleChange)
	if err != nil {
		return err
	}
	subs := []*store.Subscription{subA}

	for _, chunk := range chunks {
		sub, err := n.st.Subscribe(models.CollectionNotifications, store.Query{
			Filters: []store.Filter{store.Where("signalement_id", store.OpIn, chunk)},
		}, n.handleChange)
		if err != nil {
			log.Printf("notifier: chunk subscription failed for %s: %v", n.userID, err)
			n.snapshotDelivered()
			continue
		}
		subs = append(subs, sub)
	}

	n.mu.Lock()
	n.subs = subs
	n.mu.Unlock()

	n.fetchDirect()
	return nil
}

// StopListening detaches every subscription. A late-arriving fallback result
// is still merged if it lands, merges being idempotent.
func (n *Notifier) StopListening() {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.started = false
	n.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
}

// Notifications returns the current view, sorted by timestamp descending.
func (n *Notifier) Notifications() []models.NotificationView {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationView, len(n.view))
	copy(out, n.view)
	return out
}

func (n *Notifier) UnreadCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unread
}

func (n *Notifier) MarkRead(id string)   { n.setRead(id, true) }
func (n *Notifier) MarkUnread(id string) { n.setRead(id, false) }

func (n *Notifier) ToggleRead(id string, read bool) { n.setRead(id, read) }

// MarkAllRead persists read=true for every unread notification and advances
// the watermark.
func (n *Notifier) MarkAllRead() {
	n.mu.Lock()
	var ids []string
	for id, doc := range n.raw {
		if !models.NotificationFromDoc(id, doc).IsRead {
			doc["is_read"] = true
			ids = append(ids, id)
		}
	}
	n.rebuildLocked()
	n.watermark = time.Now().UTC()
	n.mu.Unlock()

	for _, id := range ids {
		if err := n.st.Update(models.CollectionNotifications, id, store.Document{"is_read": true}); err != nil {
			log.Printf("notifier: error persisting read state for %s: %v", id, err)
		}
	}

	err := n.st.Upsert(models.CollectionNotificationReads, n.userID, store.Document{
		"user_id":      n.userID,
		"last_read_at": store.ServerTimestamp,
	})
	if err != nil {
		log.Printf("notifier: error advancing watermark for %s: %v", n.userID, err)
	}
}

// setRead updates the local view optimistically, then persists. A
// persistence failure is logged and the optimistic state kept; the next
// refresh wins.
func (n *Notifier) setRead(id string, read bool) {
	n.mu.Lock()
	if doc, ok := n.raw[id]; ok {
		doc["is_read"] = read
		n.rebuildLocked()
	}
	n.mu.Unlock()

	if err := n.st.Update(models.CollectionNotifications, id, store.Document{"is_read": read}); err != nil {
		log.Printf("notifier: error persisting read=%t for %s: %v", read, id, err)
	}
}

func (n *Notifier) handleChange(ev store.Event) {
	switch ev.Type {
	case store.ChangeSnapshot:
		n.snapshotDelivered()
	case store.ChangeAdded, store.ChangeModified:
		fresh := n.merge(ev.ID, ev.Doc)
		if fresh && ev.Type == store.ChangeAdded && !ev.Initial && n.snapshotsDone() {
			n.alert(ev)
		}
	case store.ChangeRemoved:
		n.mu.Lock()
		delete(n.raw, ev.ID)
		n.rebuildLocked()
		n.mu.Unlock()
	}
}

// merge upserts the raw document and rebuilds the view. Merging the same
// document twice is a no-op; it reports whether the id was new.
func (n *Notifier) merge(id string, doc store.Document) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, existed := n.raw[id]
	n.raw[id] = doc
	n.rebuildLocked()
	return !existed
}

func (n *Notifier) rebuildLocked() {
	view := make([]models.NotificationView, 0, len(n.raw))
	unread := 0
	for id, doc := range n.raw {
		notif := models.NotificationFromDoc(id, doc)
		if !notif.IsRead {
			unread++
		}
		view = append(view, models.NotificationView{
			ID:            id,
			SignalementID: notif.SignalementID,
			Message:       notif.Message,
			StatutLabel:   n.catalog.LabelOf(notif.NouveauStatutID),
			Timestamp:     notif.Timestamp,
			IsRead:        notif.IsRead,
		})
	}
	sort.SliceStable(view, func(i, j int) bool {
		if view[i].Timestamp.Equal(view[j].Timestamp) {
			return view[i].ID > view[j].ID
		}
		return view[i].Timestamp.After(view[j].Timestamp)
	})
	n.view = view
	n.unread = unread
}

func (n *Notifier) snapshotDelivered() {
	n.mu.Lock()
	if n.pending > 0 {
		n.pending--
	}
	settle := n.pending == 0 && !n.retroDone
	if settle {
		n.retroDone = true
	}
	n.mu.Unlock()

	if !settle {
		return
	}
	n.retroMarkRead()

	n.mu.Lock()
	empty := len(n.raw) == 0
	n.mu.Unlock()
	if empty {
		// Last resort against store eventual-consistency edge cases. Docs
		// arriving only through this path still fall under the watermark.
		n.fetchDirect()
		n.retroMarkRead()
	}
}

func (n *Notifier) snapshotsDone() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending == 0
}

// retroMarkRead persists read=true for notifications at or before the
// watermark, so pre-existing history does not show up as unread noise on a
// first listen.
func (n *Notifier) retroMarkRead() {
	n.mu.Lock()
	wm := n.watermark
	var ids []string
	for id, doc := range n.raw {
		notif := models.NotificationFromDoc(id, doc)
		if notif.IsRead || notif.Timestamp.IsZero() {
			continue
		}
		if !notif.Timestamp.After(wm) {
			doc["is_read"] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		n.rebuildLocked()
	}
	n.mu.Unlock()

	for _, id := range ids {
		if err := n.st.Update(models.CollectionNotifications, id, store.Document{"is_read": true}); err != nil {
			log.Printf("notifier: error retro-marking %s: %v", id, err)
		}
	}
}

func (n *Notifier) ensureWatermark() error {
	doc, err := n.st.Get(models.CollectionNotificationReads, n.userID)
	if err == nil {
		wm := models.ReadWatermarkFromDoc(n.userID, doc)
		n.mu.Lock()
		n.watermark = wm.LastReadAt
		n.mu.Unlock()
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	err = n.st.Upsert(models.CollectionNotificationReads, n.userID, store.Document{
		"user_id":      n.userID,
		"last_read_at": store.ServerTimestamp,
	})
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.watermark = now
	n.mu.Unlock()
	return nil
}

// ownedSignalementChunks batches the ids of the user's reports into groups
// not exceeding the store's membership-filter limit.
func (n *Notifier) ownedSignalementChunks() ([][]string, error) {
	snaps, err := n.st.Find(models.CollectionSignalements, store.Query{
		Filters: []store.Filter{store.Where("id_utilisateur", store.OpEqual, n.userID)},
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.ID)
	}

	var chunks [][]string
	for start := 0; start < len(ids); start += store.MaxMembershipValues {
		end := start + store.MaxMembershipValues
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks, nil
}

// fetchDirect merges a one-shot read of the user's notifications into the
// map. It never clears an already-populated view on failure.
func (n *Notifier) fetchDirect() {
	snaps, err := n.st.Find(models.CollectionNotifications, store.Query{
		Filters: []store.Filter{store.Where("user_id", store.OpEqual, n.userID)},
	})
	if err != nil {
		log.Printf("notifier: direct fetch failed for %s: %v", n.userID, err)
		return
	}

	n.mu.Lock()
	for _, snap := range snaps {
		n.raw[snap.ID] = snap.Doc
	}
	n.rebuildLocked()
	n.mu.Unlock()
}

func (n *Notifier) alert(ev store.Event) {
	if n.alerts == nil {
		return
	}
	notif := models.NotificationFromDoc(ev.ID, ev.Doc)
	n.alerts.NotifyUser(n.userID, models.NotificationView{
		ID:            ev.ID,
		SignalementID: notif.SignalementID,
		Message:       notif.Message,
		StatutLabel:   n.catalog.LabelOf(notif.NouveauStatutID),
		Timestamp:     notif.Timestamp,
		IsRead:        notif.IsRead,
	})
}
