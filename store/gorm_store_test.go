package store

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	st, err := NewGormStore(db)
	require.NoError(t, err)
	st.SetPollInterval(10 * time.Millisecond)
	st.Start()
	t.Cleanup(st.Stop)
	return st
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) count(typ ChangeType) int {
	n := 0
	for _, ev := range l.all() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestCreateAndGet(t *testing.T) {
	st := newTestStore(t)

	id, err := st.Create("reports", Document{"description": "nid de poule"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := st.Get("reports", id)
	require.NoError(t, err)
	assert.Equal(t, "nid de poule", doc["description"])

	_, err = st.Get("reports", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateMergesFields(t *testing.T) {
	st := newTestStore(t)

	id, err := st.Create("reports", Document{"description": "fissure", "statut": "NOUVEAU"})
	require.NoError(t, err)

	require.NoError(t, st.Update("reports", id, Document{"statut": "EN_COURS"}))

	doc, err := st.Get("reports", id)
	require.NoError(t, err)
	assert.Equal(t, "fissure", doc["description"])
	assert.Equal(t, "EN_COURS", doc["statut"])

	err = st.Update("reports", "missing", Document{"statut": "EN_COURS"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertCreatesThenMerges(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.Upsert("reads", "user-1", Document{"last_read_at": "2026-01-01T00:00:00Z"}))
	doc, err := st.Get("reads", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", doc["last_read_at"])

	require.NoError(t, st.Upsert("reads", "user-1", Document{"device": "web"}))
	doc, err = st.Get("reads", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", doc["last_read_at"])
	assert.Equal(t, "web", doc["device"])
}

func TestFindFiltersAndOrdering(t *testing.T) {
	st := newTestStore(t)

	for i, owner := range []string{"alice", "bob", "alice"} {
		_, err := st.Create("reports", Document{
			"owner": owner,
			"rank":  fmt.Sprintf("%d", i),
		})
		require.NoError(t, err)
	}

	snaps, err := st.Find("reports", Query{
		Filters: []Filter{Where("owner", OpEqual, "alice")},
	})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	snaps, err = st.Find("reports", Query{
		Filters: []Filter{Where("owner", OpIn, []string{"alice", "bob"})},
		OrderBy: "rank",
		Desc:    true,
	})
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "2", snaps[0].Doc["rank"])

	snaps, err = st.Find("reports", Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestMembershipFilterLimit(t *testing.T) {
	st := newTestStore(t)

	values := make([]string, MaxMembershipValues+1)
	for i := range values {
		values[i] = fmt.Sprintf("id-%d", i)
	}

	_, err := st.Find("reports", Query{
		Filters: []Filter{Where("id", OpIn, values)},
	})
	assert.ErrorIs(t, err, ErrTooManyValues)

	_, err = st.Subscribe("reports", Query{
		Filters: []Filter{Where("id", OpIn, values)},
	}, func(Event) {})
	assert.ErrorIs(t, err, ErrTooManyValues)

	_, err = st.Find("reports", Query{
		Filters: []Filter{Where("id", OpIn, values[:MaxMembershipValues])},
	})
	assert.NoError(t, err)
}

func TestSubscribeSnapshotThenLive(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Create("reports", Document{"description": "un"})
	require.NoError(t, err)
	_, err = st.Create("reports", Document{"description": "deux"})
	require.NoError(t, err)

	var log eventLog
	sub, err := st.Subscribe("reports", Query{}, log.add)
	require.NoError(t, err)
	defer sub.Stop()

	assert.Eventually(t, func() bool {
		return log.count(ChangeSnapshot) == 1 && log.count(ChangeAdded) == 2
	}, 2*time.Second, 10*time.Millisecond)

	for _, ev := range log.all() {
		if ev.Type == ChangeAdded {
			assert.True(t, ev.Initial)
		}
	}

	liveID, err := st.Create("reports", Document{"description": "trois"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, ev := range log.all() {
			if ev.Type == ChangeAdded && ev.ID == liveID && !ev.Initial {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, st.Delete("reports", liveID))

	assert.Eventually(t, func() bool {
		return log.count(ChangeRemoved) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeFilterSelectsEvents(t *testing.T) {
	st := newTestStore(t)

	var log eventLog
	sub, err := st.Subscribe("reports", Query{
		Filters: []Filter{Where("owner", OpEqual, "alice")},
	}, log.add)
	require.NoError(t, err)
	defer sub.Stop()

	_, err = st.Create("reports", Document{"owner": "alice"})
	require.NoError(t, err)
	_, err = st.Create("reports", Document{"owner": "bob"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return log.count(ChangeAdded) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, log.count(ChangeAdded))
}

func TestDispatchCarriesStateAtChangeTime(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	st, err := NewGormStore(db)
	require.NoError(t, err)
	st.SetPollInterval(10 * time.Millisecond)

	var log eventLog
	sub, err := st.Subscribe("reports", Query{}, log.add)
	require.NoError(t, err)
	defer sub.Stop()

	// Wait out the empty snapshot so both writes below are live changes.
	assert.Eventually(t, func() bool {
		return log.count(ChangeSnapshot) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Both changes are committed before the first poll, so they land in the
	// same dispatch window.
	id, err := st.Create("reports", Document{"statut": "NOUVEAU"})
	require.NoError(t, err)
	require.NoError(t, st.Update("reports", id, Document{"statut": "EN_COURS"}))

	st.Start()
	t.Cleanup(st.Stop)

	assert.Eventually(t, func() bool {
		return log.count(ChangeAdded) == 1 && log.count(ChangeModified) == 1
	}, 2*time.Second, 10*time.Millisecond)

	for _, ev := range log.all() {
		switch ev.Type {
		case ChangeAdded:
			assert.Equal(t, "NOUVEAU", ev.Doc["statut"])
		case ChangeModified:
			assert.Equal(t, "EN_COURS", ev.Doc["statut"])
		}
	}
}

func TestSubscribeDoesNotReplaySnapshotAsLive(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	st, err := NewGormStore(db)
	require.NoError(t, err)
	st.SetPollInterval(10 * time.Millisecond)

	// Committed after construction but before the subscription: it must
	// arrive once, in the snapshot, not again from the feed.
	_, err = st.Create("reports", Document{"description": "affaissement"})
	require.NoError(t, err)

	var log eventLog
	sub, err := st.Subscribe("reports", Query{}, log.add)
	require.NoError(t, err)
	defer sub.Stop()

	st.Start()
	t.Cleanup(st.Stop)

	assert.Eventually(t, func() bool {
		return log.count(ChangeSnapshot) == 1 && log.count(ChangeAdded) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, log.count(ChangeAdded))
	for _, ev := range log.all() {
		if ev.Type == ChangeAdded {
			assert.True(t, ev.Initial)
		}
	}
}

func TestTransactReadModifyWrite(t *testing.T) {
	st := newTestStore(t)

	id, err := st.Create("counters", Document{"value": float64(1)})
	require.NoError(t, err)

	err = st.Transact("counters", id, func(doc Document) (Document, error) {
		doc["value"] = doc["value"].(float64) + 1
		return doc, nil
	})
	require.NoError(t, err)

	doc, err := st.Get("counters", id)
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc["value"])

	// Absent documents are handed to fn as nil and created from its result.
	err = st.Transact("counters", "fresh", func(doc Document) (Document, error) {
		require.Nil(t, doc)
		return Document{"value": float64(0)}, nil
	})
	require.NoError(t, err)

	doc, err = st.Get("counters", "fresh")
	require.NoError(t, err)
	assert.Equal(t, float64(0), doc["value"])
}

func TestServerTimestampResolution(t *testing.T) {
	st := newTestStore(t)

	before := time.Now().UTC().Add(-time.Second)
	id, err := st.Create("reports", Document{"created_at": ServerTimestamp})
	require.NoError(t, err)

	doc, err := st.Get("reports", id)
	require.NoError(t, err)

	ts, ok := AsTime(doc["created_at"])
	require.True(t, ok)
	assert.True(t, ts.After(before))
	assert.True(t, ts.Before(time.Now().UTC().Add(time.Second)))
}
