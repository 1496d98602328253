package store

import (
	"errors"
	"fmt"
	"time"
)

// Document is the raw field map of a stored document.
type Document map[string]any

// MaxMembershipValues is the maximum number of values a single membership
// filter may carry. Queries over larger id sets must be chunked by the caller.
const MaxMembershipValues = 10

var (
	ErrNotFound      = errors.New("store: document not found")
	ErrTooManyValues = errors.New("store: membership filter exceeds value limit")
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
	// ChangeSnapshot marks the end of a subscription's initial snapshot.
	// It carries no document.
	ChangeSnapshot ChangeType = "snapshot"
)

type Event struct {
	Type       ChangeType
	Collection string
	ID         string
	Doc        Document
	Initial    bool

	// seq is the change-feed position the event came from. Snapshot-phase
	// events carry zero.
	seq uint
}

type Op string

const (
	OpEqual Op = "=="
	OpIn    Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

type Snapshot struct {
	ID  string
	Doc Document
}

// Store is the document-store contract consumed by the listeners and the
// notification aggregator. Subscription handlers for a single subscription are
// invoked sequentially in commit order; handlers of different subscriptions
// may interleave.
type Store interface {
	Get(collection, id string) (Document, error)
	Find(collection string, q Query) ([]Snapshot, error)
	Create(collection string, doc Document) (string, error)
	Upsert(collection, id string, doc Document) error
	Update(collection, id string, fields Document) error
	Delete(collection, id string) error
	Subscribe(collection string, q Query, handler func(Event)) (*Subscription, error)
}

type serverTimestamp struct{}

// ServerTimestamp is a sentinel value replaced by the store's clock at write
// time.
var ServerTimestamp = serverTimestamp{}

// AsTime coerces a raw document field to a time.Time. JSON round-trips store
// timestamps as RFC3339 strings.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if fmt.Sprint(v) != fmt.Sprint(f.Value) {
				return false
			}
		case OpIn:
			found := false
			for _, want := range membershipValues(f.Value) {
				if fmt.Sprint(v) == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func membershipValues(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		if f.Op == OpIn && len(membershipValues(f.Value)) > MaxMembershipValues {
			return ErrTooManyValues
		}
	}
	return nil
}
