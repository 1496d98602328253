package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/store"
)

func createNotification(t *testing.T, st store.Store, userID, sigID string, ts any) string {
	t.Helper()
	id, err := st.Create(models.CollectionNotifications, store.Document{
		"avancement_id":     "av-" + sigID,
		"signalement_id":    sigID,
		"user_id":           userID,
		"nouveau_statut_id": "EN_COURS",
		"message":           "Votre signalement est en cours de traitement",
		"timestamp":         ts,
		"is_read":           false,
	})
	require.NoError(t, err)
	return id
}

func setWatermark(t *testing.T, st store.Store, userID string, at time.Time) {
	t.Helper()
	require.NoError(t, st.Upsert(models.CollectionNotificationReads, userID, store.Document{
		"user_id":      userID,
		"last_read_at": at.UTC().Format(time.RFC3339Nano),
	}))
}

func TestNotifierRetroMarksHistoryOnFirstListen(t *testing.T) {
	st := newTestStore(t)
	seedStatuts(t, st)

	for i := 0; i < 3; i++ {
		createNotification(t, st, "u1", fmt.Sprintf("sig-%d", i), store.ServerTimestamp)
	}
	// Make the notification timestamps strictly older than the watermark the
	// first listen creates.
	time.Sleep(20 * time.Millisecond)

	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")
	require.NoError(t, n.StartListening())
	defer n.StopListening()

	assert.Eventually(t, func() bool {
		return len(n.Notifications()) == 3 && n.UnreadCount() == 0
	}, 3*time.Second, 20*time.Millisecond)

	// The read flags were persisted, not just local.
	assert.Eventually(t, func() bool {
		for _, snap := range findAll(t, st, models.CollectionNotifications) {
			if !models.NotificationFromDoc(snap.ID, snap.Doc).IsRead {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNotifierKeepsFreshNotificationsUnread(t *testing.T) {
	st := newTestStore(t)
	seedStatuts(t, st)
	setWatermark(t, st, "u1", time.Now().Add(-time.Hour))

	for i := 0; i < 5; i++ {
		createNotification(t, st, "u1", fmt.Sprintf("sig-%d", i), store.ServerTimestamp)
	}

	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")
	require.NoError(t, n.StartListening())
	defer n.StopListening()

	assert.Eventually(t, func() bool {
		return len(n.Notifications()) == 5 && n.UnreadCount() == 5
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNotifierChunksOwnedReports(t *testing.T) {
	st := newTestStore(t)
	for i := 0; i < 23; i++ {
		createSignalement(t, st, "u1", models.StatutNouveau)
	}

	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")
	require.NoError(t, n.StartListening())
	defer n.StopListening()

	// One inbox subscription plus ceil(23/10) membership chunks.
	n.mu.Lock()
	subCount := len(n.subs)
	n.mu.Unlock()
	assert.Equal(t, 4, subCount)
}

func TestNotifierOrdersNewestFirst(t *testing.T) {
	st := newTestStore(t)
	seedStatuts(t, st)
	setWatermark(t, st, "u1", time.Now().Add(-time.Hour))

	base := time.Now().UTC()
	old := createNotification(t, st, "u1", "sig-old", base.Add(-10*time.Minute).Format(time.RFC3339Nano))
	mid := createNotification(t, st, "u1", "sig-mid", base.Add(-5*time.Minute).Format(time.RFC3339Nano))
	recent := createNotification(t, st, "u1", "sig-new", base.Format(time.RFC3339Nano))

	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")
	require.NoError(t, n.StartListening())
	defer n.StopListening()

	assert.Eventually(t, func() bool {
		return len(n.Notifications()) == 3
	}, 3*time.Second, 20*time.Millisecond)

	view := n.Notifications()
	assert.Equal(t, []string{recent, mid, old}, []string{view[0].ID, view[1].ID, view[2].ID})
	assert.Equal(t, "En cours", view[0].StatutLabel)
}

func TestNotifierAggregatesOwnedReportNotifications(t *testing.T) {
	st := newTestStore(t)
	seedStatuts(t, st)
	setWatermark(t, st, "u1", time.Now().Add(-time.Hour))

	// A notification addressed to another user but attached to a report owned
	// by u1 still reaches u1's aggregate through the membership subscription.
	sigID := createSignalement(t, st, "u1", "EN_COURS")
	createNotification(t, st, "u2", sigID, store.ServerTimestamp)
	createNotification(t, st, "u1", "sig-direct", store.ServerTimestamp)

	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")
	require.NoError(t, n.StartListening())
	defer n.StopListening()

	assert.Eventually(t, func() bool {
		return len(n.Notifications()) == 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNotifierMergeIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")

	doc := store.Document{"user_id": "u1", "message": "m", "is_read": false}
	assert.True(t, n.merge("n-1", doc))
	assert.False(t, n.merge("n-1", doc))
	assert.Len(t, n.Notifications(), 1)
	assert.Equal(t, 1, n.UnreadCount())
}

func TestNotifierMarkReadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	seedStatuts(t, st)
	setWatermark(t, st, "u1", time.Now().Add(-time.Hour))
	notifID := createNotification(t, st, "u1", "sig-1", store.ServerTimestamp)

	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")
	require.NoError(t, n.StartListening())
	defer n.StopListening()

	assert.Eventually(t, func() bool {
		return n.UnreadCount() == 1
	}, 3*time.Second, 20*time.Millisecond)

	n.MarkRead(notifID)
	assert.Equal(t, 0, n.UnreadCount())

	assert.Eventually(t, func() bool {
		doc, err := st.Get(models.CollectionNotifications, notifID)
		return err == nil && models.NotificationFromDoc(notifID, doc).IsRead
	}, 3*time.Second, 20*time.Millisecond)

	// The change-feed echo of each write eventually agrees with the local
	// optimistic state.
	n.MarkUnread(notifID)
	assert.Eventually(t, func() bool {
		return n.UnreadCount() == 1
	}, 3*time.Second, 20*time.Millisecond)

	n.ToggleRead(notifID, true)
	assert.Eventually(t, func() bool {
		return n.UnreadCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNotifierFallbackFetchRetroMarks(t *testing.T) {
	st := newTestStore(t)
	seedStatuts(t, st)
	notifID := createNotification(t, st, "u1", "sig-old", time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano))

	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")

	// Drive the settle path with an empty merge map: the direct-fetch
	// fallback must still apply the watermark to what it pulls in.
	n.mu.Lock()
	n.watermark = time.Now().UTC()
	n.pending = 1
	n.mu.Unlock()
	n.snapshotDelivered()

	assert.Len(t, n.Notifications(), 1)
	assert.Equal(t, 0, n.UnreadCount())

	doc, err := st.Get(models.CollectionNotifications, notifID)
	require.NoError(t, err)
	assert.True(t, models.NotificationFromDoc(notifID, doc).IsRead)
}

func TestNotifierMarkAllReadAdvancesWatermark(t *testing.T) {
	st := newTestStore(t)
	seedStatuts(t, st)
	before := time.Now().Add(-time.Hour)
	setWatermark(t, st, "u1", before)

	for i := 0; i < 5; i++ {
		createNotification(t, st, "u1", fmt.Sprintf("sig-%d", i), store.ServerTimestamp)
	}

	n := NewNotifier(st, NewStatusCatalog(st), nil, "u1")
	require.NoError(t, n.StartListening())
	defer n.StopListening()

	assert.Eventually(t, func() bool {
		return n.UnreadCount() == 5
	}, 3*time.Second, 20*time.Millisecond)

	n.MarkAllRead()
	assert.Equal(t, 0, n.UnreadCount())

	doc, err := st.Get(models.CollectionNotificationReads, "u1")
	require.NoError(t, err)
	wm := models.ReadWatermarkFromDoc("u1", doc)
	assert.True(t, wm.LastReadAt.After(before.UTC()))

	assert.Eventually(t, func() bool {
		for _, snap := range findAll(t, st, models.CollectionNotifications) {
			if !models.NotificationFromDoc(snap.ID, snap.Doc).IsRead {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond)
}
