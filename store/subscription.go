package store

import (
	"log"
	"sync"
)

// Subscription delivers the initial snapshot, a snapshot marker, then live
// changes to its handler, one at a time and in commit order.
type Subscription struct {
	id         uint64
	collection string
	query      Query
	handler    func(Event)
	ch         chan Event
	done       chan struct{}
	stopOnce   sync.Once
	store      *GormStore
	fromSeq    uint
}

func (s *Subscription) run() {
	snaps, seq, err := s.store.snapshotWithSeq(s.collection, s.query)
	if err != nil {
		log.Printf("store: snapshot failed for %s: %v", s.collection, err)
	} else {
		s.fromSeq = seq
		for _, snap := range snaps {
			select {
			case <-s.done:
				return
			default:
			}
			s.safeHandle(Event{
				Type:       ChangeAdded,
				Collection: s.collection,
				ID:         snap.ID,
				Doc:        snap.Doc,
				Initial:    true,
			})
		}
	}

	s.safeHandle(Event{Type: ChangeSnapshot, Collection: s.collection, Initial: true})

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.ch:
			// Changes committed at or before the snapshot read are
			// already reflected in the snapshot.
			if ev.seq != 0 && ev.seq <= s.fromSeq {
				continue
			}
			s.safeHandle(ev)
		}
	}
}

func (s *Subscription) enqueue(ev Event) {
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

// safeHandle keeps one bad document from killing the stream.
func (s *Subscription) safeHandle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("store: handler panic on %s/%s: %v", ev.Collection, ev.ID, r)
		}
	}()
	s.handler(ev)
}

// Stop detaches the subscription. No further events are delivered once Stop
// returns and the delivery goroutine has observed it.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.store.unsubscribe(s.id)
	})
}
