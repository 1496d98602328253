package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type documentRow struct {
	ID         uint   `gorm:"primaryKey"`
	Collection string `gorm:"type:varchar(64);not null;uniqueIndex:idx_collection_doc,priority:1"`
	DocID      string `gorm:"type:varchar(64);not null;uniqueIndex:idx_collection_doc,priority:2"`
	Data       string `gorm:"type:text;not null"`
	UpdatedAt  time.Time
}

func (documentRow) TableName() string { return "documents" }

// changeRow carries the full document payload as of the mutation, so the
// dispatcher delivers the state at change time even when several changes to
// one document land in the same poll window.
type changeRow struct {
	ID         uint      `gorm:"primaryKey"`
	Collection string    `gorm:"type:varchar(64);not null;index:idx_change_collection"`
	DocID      string    `gorm:"type:varchar(64);not null"`
	Action     string    `gorm:"type:varchar(16);not null"`
	Data       string    `gorm:"type:text"`
	ChangedAt  time.Time `gorm:"not null"`
}

func (changeRow) TableName() string { return "document_changes" }

// GormStore is a document store over a relational database. Every mutation
// appends a change row in the same transaction; a polling dispatcher fans the
// feed out to active subscriptions.
type GormStore struct {
	db           *gorm.DB
	pollInterval time.Duration

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
	lastSeq uint

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&documentRow{}, &changeRow{}); err != nil {
		return nil, err
	}

	s := &GormStore{
		db:           db,
		pollInterval: 100 * time.Millisecond,
		subs:         make(map[uint64]*Subscription),
		stopChan:     make(chan struct{}),
	}

	// Resume from the current end of the feed; initial snapshots already
	// cover the existing documents.
	var last changeRow
	if err := db.Order("id DESC").First(&last).Error; err == nil {
		s.lastSeq = last.ID
	}

	return s, nil
}

// SetPollInterval adjusts how often the change feed is drained. Must be
// called before Start.
func (s *GormStore) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// Start launches the change-feed dispatcher.
func (s *GormStore) Start() {
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.dispatchPending()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop halts the dispatcher and detaches every subscription.
func (s *GormStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
}

func (s *GormStore) Get(collection, id string) (Document, error) {
	var row documentRow
	err := s.db.Where("collection = ? AND doc_id = ?", collection, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeDoc(row.Data)
}

func (s *GormStore) Find(collection string, q Query) ([]Snapshot, error) {
	return s.findTx(s.db, collection, q)
}

func (s *GormStore) findTx(tx *gorm.DB, collection string, q Query) ([]Snapshot, error) {
	if err := validateFilters(q.Filters); err != nil {
		return nil, err
	}

	var rows []documentRow
	if err := tx.Where("collection = ?", collection).Find(&rows).Error; err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeDoc(row.Data)
		if err != nil {
			log.Printf("store: skipping undecodable document %s/%s: %v", collection, row.DocID, err)
			continue
		}
		if !matches(doc, q.Filters) {
			continue
		}
		snaps = append(snaps, Snapshot{ID: row.DocID, Doc: doc})
	}

	if q.OrderBy != "" {
		orderSnapshots(snaps, q.OrderBy, q.Desc)
	}
	if q.Limit > 0 && len(snaps) > q.Limit {
		snaps = snaps[:q.Limit]
	}
	return snaps, nil
}

// snapshotWithSeq reads the matching documents together with the feed
// position they reflect, in one transaction. Live events at or below the
// returned sequence are already part of the snapshot and must not be
// redelivered.
func (s *GormStore) snapshotWithSeq(collection string, q Query) ([]Snapshot, uint, error) {
	var snaps []Snapshot
	var seq uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var last changeRow
		if err := tx.Order("id DESC").First(&last).Error; err == nil {
			seq = last.ID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		var findErr error
		snaps, findErr = s.findTx(tx, collection, q)
		return findErr
	})
	if err != nil {
		return nil, 0, err
	}
	return snaps, seq, nil
}

func (s *GormStore) Create(collection string, doc Document) (string, error) {
	id := uuid.NewString()
	data, err := encodeDoc(doc)
	if err != nil {
		return "", err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		row := documentRow{Collection: collection, DocID: id, Data: data}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return s.recordChange(tx, collection, id, ChangeAdded, data)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Upsert merges fields into the document, creating it when absent.
func (s *GormStore) Upsert(collection, id string, doc Document) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Where("collection = ? AND doc_id = ?", collection, id).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			data, encErr := encodeDoc(doc)
			if encErr != nil {
				return encErr
			}
			row = documentRow{Collection: collection, DocID: id, Data: data}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			return s.recordChange(tx, collection, id, ChangeAdded, data)
		case err != nil:
			return err
		}

		merged, mergeErr := mergeDoc(row.Data, doc)
		if mergeErr != nil {
			return mergeErr
		}
		if err := tx.Model(&documentRow{}).Where("id = ?", row.ID).Update("data", merged).Error; err != nil {
			return err
		}
		return s.recordChange(tx, collection, id, ChangeModified, merged)
	})
}

// Update merges partial fields and fails when the document is absent.
func (s *GormStore) Update(collection, id string, fields Document) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Where("collection = ? AND doc_id = ?", collection, id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		merged, mergeErr := mergeDoc(row.Data, fields)
		if mergeErr != nil {
			return mergeErr
		}
		if err := tx.Model(&documentRow{}).Where("id = ?", row.ID).Update("data", merged).Error; err != nil {
			return err
		}
		return s.recordChange(tx, collection, id, ChangeModified, merged)
	})
}

// Transact applies fn to the current document under a transaction and writes
// the result back, compare-and-swap style. fn receives nil when the document
// does not exist yet.
func (s *GormStore) Transact(collection, id string, fn func(Document) (Document, error)) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Where("collection = ? AND doc_id = ?", collection, id).First(&row).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var current Document
		if exists {
			if current, err = decodeDoc(row.Data); err != nil {
				return err
			}
		}

		next, err := fn(cloneDoc(current))
		if err != nil {
			return err
		}
		data, err := encodeDoc(next)
		if err != nil {
			return err
		}

		if !exists {
			row = documentRow{Collection: collection, DocID: id, Data: data}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			return s.recordChange(tx, collection, id, ChangeAdded, data)
		}
		if err := tx.Model(&documentRow{}).Where("id = ?", row.ID).Update("data", data).Error; err != nil {
			return err
		}
		return s.recordChange(tx, collection, id, ChangeModified, data)
	})
}

func (s *GormStore) Delete(collection, id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("collection = ? AND doc_id = ?", collection, id).Delete(&documentRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return s.recordChange(tx, collection, id, ChangeRemoved, "")
	})
}

func (s *GormStore) Subscribe(collection string, q Query, handler func(Event)) (*Subscription, error) {
	if err := validateFilters(q.Filters); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextSub++
	sub := &Subscription{
		id:         s.nextSub,
		collection: collection,
		query:      q,
		handler:    handler,
		ch:         make(chan Event, 256),
		done:       make(chan struct{}),
		store:      s,
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	go sub.run()
	return sub, nil
}

func (s *GormStore) unsubscribe(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *GormStore) recordChange(tx *gorm.DB, collection, id string, action ChangeType, data string) error {
	return tx.Create(&changeRow{
		Collection: collection,
		DocID:      id,
		Action:     string(action),
		Data:       data,
		ChangedAt:  time.Now().UTC(),
	}).Error
}

func (s *GormStore) dispatchPending() {
	s.mu.Lock()
	seq := s.lastSeq
	s.mu.Unlock()

	var changes []changeRow
	if err := s.db.Where("id > ?", seq).Order("id ASC").Limit(200).Find(&changes).Error; err != nil {
		log.Printf("store: error fetching changes: %v", err)
		return
	}

	for _, change := range changes {
		s.dispatch(change)
		s.mu.Lock()
		s.lastSeq = change.ID
		s.mu.Unlock()
	}
}

func (s *GormStore) dispatch(change changeRow) {
	var doc Document
	if change.Action != string(ChangeRemoved) {
		d, err := decodeDoc(change.Data)
		if err != nil {
			log.Printf("store: skipping undecodable change %s/%s: %v", change.Collection, change.DocID, err)
			return
		}
		doc = d
	}

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.collection == change.Collection {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		// Removed events carry no fields, so filters cannot be evaluated;
		// deliver them to every subscription on the collection.
		if change.Action != string(ChangeRemoved) && !matches(doc, sub.query.Filters) {
			continue
		}
		sub.enqueue(Event{
			Type:       ChangeType(change.Action),
			Collection: change.Collection,
			ID:         change.DocID,
			Doc:        cloneDoc(doc),
			seq:        change.ID,
		})
	}
}

func encodeDoc(doc Document) (string, error) {
	resolved := make(map[string]any, len(doc))
	now := time.Now().UTC()
	for k, v := range doc {
		if _, ok := v.(serverTimestamp); ok {
			resolved[k] = now
			continue
		}
		resolved[k] = v
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return "", fmt.Errorf("store: encode document: %w", err)
	}
	return string(data), nil
}

func decodeDoc(data string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("store: decode document: %w", err)
	}
	return doc, nil
}

func mergeDoc(existing string, fields Document) (string, error) {
	base, err := decodeDoc(existing)
	if err != nil {
		return "", err
	}
	resolved, err := encodeDoc(fields)
	if err != nil {
		return "", err
	}
	overlay, err := decodeDoc(resolved)
	if err != nil {
		return "", err
	}
	for k, v := range overlay {
		base[k] = v
	}
	data, err := json.Marshal(base)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func cloneDoc(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func orderSnapshots(snaps []Snapshot, field string, desc bool) {
	sort.SliceStable(snaps, func(i, j int) bool {
		less := snapshotLess(snaps[i], snaps[j], field)
		if desc {
			return !less && !snapshotEqual(snaps[i], snaps[j], field)
		}
		return less
	})
}

func snapshotLess(a, b Snapshot, field string) bool {
	av, bv := a.Doc[field], b.Doc[field]
	at, aok := AsTime(av)
	bt, bok := AsTime(bv)
	if aok && bok {
		if at.Equal(bt) {
			return a.ID < b.ID
		}
		return at.Before(bt)
	}
	as, bs := fmt.Sprint(av), fmt.Sprint(bv)
	if as == bs {
		return a.ID < b.ID
	}
	return as < bs
}

func snapshotEqual(a, b Snapshot, field string) bool {
	return !snapshotLess(a, b, field) && !snapshotLess(b, a, field)
}
