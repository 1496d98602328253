package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/store"
)

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	st, err := store.NewGormStore(db)
	require.NoError(t, err)
	st.SetPollInterval(10 * time.Millisecond)
	st.Start()
	t.Cleanup(st.Stop)
	return st
}

func seedStatuts(t *testing.T, st store.Store) {
	t.Helper()
	for id, label := range map[string]string{
		"NOUVEAU":    "Nouveau",
		"EN_COURS":   "En cours",
		"EN_ATTENTE": "En attente",
		"TRAITE":     "Traité",
		"REJETE":     "Rejeté",
		"CLOTURE":    "Clôturé",
	} {
		require.NoError(t, st.Upsert(models.CollectionStatuts, id, store.Document{"statut": label}))
	}
}

func createSignalement(t *testing.T, st store.Store, owner, statut string) string {
	t.Helper()
	id, err := st.Create(models.CollectionSignalements, store.Document{
		"id_utilisateur":   owner,
		"id_statut":        statut,
		"description":      "chaussée dégradée",
		"date_signalement": store.ServerTimestamp,
	})
	require.NoError(t, err)
	return id
}

func findAll(t *testing.T, st store.Store, collection string) []store.Snapshot {
	t.Helper()
	snaps, err := st.Find(collection, store.Query{})
	require.NoError(t, err)
	return snaps
}
