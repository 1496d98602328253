package models

import (
	"time"

	"github.com/travauxroutiers/signalement-app/store"
)

// Historical revisions of the mobile client wrote the same fields under
// several names (id_statut / statut_id / statut, signalement_id /
// signalementId, ...). These helpers normalize all known legacy keys to one
// canonical value at the store-read boundary so downstream logic only ever
// sees canonical fields.

func docString(doc store.Document, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func docFloat(doc store.Document, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}

func docBool(doc store.Document, keys ...string) bool {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return false
}

func docTime(doc store.Document, keys ...string) time.Time {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if t, ok := store.AsTime(v); ok {
				return t
			}
		}
	}
	return time.Time{}
}
