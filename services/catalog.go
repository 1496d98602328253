package services

import (
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/store"
)

// StatusCatalog caches the statuts collection (status id -> display label),
// loading lazily and refreshing on demand. Lookups that miss the cache fall
// back to the backing store; nothing here is fatal so the system stays usable
// before the catalog is seeded.
type StatusCatalog struct {
	st     store.Store
	mu     sync.RWMutex
	labels map[string]string
	loaded bool
}

func NewStatusCatalog(st store.Store) *StatusCatalog {
	return &StatusCatalog{
		st:     st,
		labels: make(map[string]string),
	}
}

// Refresh reloads the whole catalog from the store.
func (c *StatusCatalog) Refresh() error {
	snaps, err := c.st.Find(models.CollectionStatuts, store.Query{})
	if err != nil {
		return err
	}

	labels := make(map[string]string, len(snaps))
	for _, snap := range snaps {
		statut := models.StatutFromDoc(snap.ID, snap.Doc)
		if statut.Label == "" {
			statut.Label = statut.ID
		}
		labels[statut.ID] = statut.Label
	}

	c.mu.Lock()
	c.labels = labels
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// Resolve normalizes a status token (canonical id or human label) to the
// canonical status id. Callers treat a miss as "use the token verbatim".
func (c *StatusCatalog) Resolve(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	c.ensureLoaded()

	c.mu.RLock()
	if _, ok := c.labels[token]; ok {
		c.mu.RUnlock()
		return token, true
	}
	for id, label := range c.labels {
		if strings.EqualFold(label, token) {
			c.mu.RUnlock()
			return id, true
		}
	}
	c.mu.RUnlock()

	// Last chance: the backing store may know a status the cache missed.
	if doc, err := c.st.Get(models.CollectionStatuts, token); err == nil {
		statut := models.StatutFromDoc(token, doc)
		c.cachePut(statut.ID, statut.Label)
		return token, true
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Printf("catalog: status lookup failed for %q: %v", token, err)
	}

	snaps, err := c.st.Find(models.CollectionStatuts, store.Query{
		Filters: []store.Filter{store.Where("statut", store.OpEqual, token)},
	})
	if err != nil {
		log.Printf("catalog: status query failed for %q: %v", token, err)
		return "", false
	}
	if len(snaps) > 0 {
		statut := models.StatutFromDoc(snaps[0].ID, snaps[0].Doc)
		c.cachePut(statut.ID, statut.Label)
		return statut.ID, true
	}
	return "", false
}

// LabelOf returns the display label of a status id, falling back to the raw
// id when unknown.
func (c *StatusCatalog) LabelOf(id string) string {
	if id == "" {
		return ""
	}
	c.ensureLoaded()

	c.mu.RLock()
	label, ok := c.labels[id]
	c.mu.RUnlock()
	if ok {
		return label
	}

	if doc, err := c.st.Get(models.CollectionStatuts, id); err == nil {
		statut := models.StatutFromDoc(id, doc)
		c.cachePut(statut.ID, statut.Label)
		if statut.Label != "" {
			return statut.Label
		}
	}
	return id
}

func (c *StatusCatalog) ensureLoaded() {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return
	}
	if err := c.Refresh(); err != nil {
		log.Printf("catalog: load failed: %v", err)
	}
}

func (c *StatusCatalog) cachePut(id, label string) {
	if label == "" {
		label = id
	}
	c.mu.Lock()
	c.labels[id] = label
	c.mu.Unlock()
}
