package controllers_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationEndpointsRequireListening(t *testing.T) {
	app := setupTestApp(t)
	token := app.registerAndLogin(t, "citoyen@example.com", "citoyen")

	w := app.request(t, "GET", "/admin/notifications", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.request(t, "GET", "/admin/notifications/unread-count", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.request(t, "POST", "/admin/notifications/listen", token, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// Listening twice is harmless.
	w = app.request(t, "POST", "/admin/notifications/listen", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.request(t, "GET", "/admin/notifications", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.request(t, "DELETE", "/admin/notifications/listen", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.request(t, "GET", "/admin/notifications", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestNotificationFlowThroughStatusChange(t *testing.T) {
	app := setupTestApp(t)
	citizenToken := app.registerAndLogin(t, "citoyen@example.com", "citoyen")
	adminToken := app.registerAndLogin(t, "admin@example.com", "admin")

	w := app.request(t, "POST", "/admin/signalements", citizenToken, map[string]any{
		"description": "chaussée déformée",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	sigID, _ := decodeData(t, w)["signalement_id"].(string)

	w = app.request(t, "POST", "/admin/notifications/listen", citizenToken, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = app.request(t, "PATCH", "/admin/signalements/"+sigID+"/status", adminToken, map[string]string{
		"statut": "EN_COURS",
	})
	require.Equal(t, http.StatusOK, w.Code)

	notifications := func() []map[string]any {
		w := app.request(t, "GET", "/admin/notifications", citizenToken, nil)
		if w.Code != http.StatusOK {
			return nil
		}
		var resp struct {
			Data []map[string]any `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return nil
		}
		return resp.Data
	}

	assert.Eventually(t, func() bool {
		return len(notifications()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	view := notifications()
	require.Len(t, view, 1)
	assert.Equal(t, sigID, view[0]["signalement_id"])
	assert.Equal(t, "En cours", view[0]["statut_label"])
	assert.Equal(t, false, view[0]["is_read"])
	notifID, _ := view[0]["id"].(string)
	require.NotEmpty(t, notifID)

	w = app.request(t, "GET", "/admin/notifications/unread-count", citizenToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeData(t, w)["unread"])

	w = app.request(t, "PATCH", "/admin/notifications/"+notifID+"/read", citizenToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.request(t, "GET", "/admin/notifications/unread-count", citizenToken, nil)
	assert.EqualValues(t, 0, decodeData(t, w)["unread"])

	w = app.request(t, "PATCH", "/admin/notifications/"+notifID+"/toggle", citizenToken, map[string]bool{
		"is_read": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = app.request(t, "POST", "/admin/notifications/read-all", citizenToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.request(t, "GET", "/admin/notifications/unread-count", citizenToken, nil)
	assert.EqualValues(t, 0, decodeData(t, w)["unread"])

	app.request(t, "DELETE", "/admin/notifications/listen", citizenToken, nil)
}
