package controllers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/travauxroutiers/signalement-app/hub"
	"github.com/travauxroutiers/signalement-app/services"
	"github.com/travauxroutiers/signalement-app/store"
	"github.com/travauxroutiers/signalement-app/utils"
)

var errNotListening = errors.New("no active notification listener, call listen first")

// NotificationController owns one Engine per connected user. Listening is
// explicit: a session opts in with Listen and everything else reads from its
// live aggregator.
type NotificationController struct {
	Store   store.Store
	Catalog *services.StatusCatalog
	Skip    *services.SkipSet
	Alerts  *hub.Hub

	mu      sync.Mutex
	engines map[string]*services.Engine
}

func NewNotificationController(st store.Store, catalog *services.StatusCatalog, skip *services.SkipSet, alerts *hub.Hub) *NotificationController {
	return &NotificationController{
		Store:   st,
		Catalog: catalog,
		Skip:    skip,
		Alerts:  alerts,
		engines: make(map[string]*services.Engine),
	}
}

func (nc *NotificationController) engineFor(c *gin.Context) (*services.Engine, bool) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	eng, ok := nc.engines[c.GetString("user_id")]
	return eng, ok
}

// Listen starts the listener engine for the session user. Starting twice is a
// no-op.
func (nc *NotificationController) Listen(c *gin.Context) {
	session := services.Session{
		UserID: c.GetString("user_id"),
		Role:   c.GetString("role"),
	}

	nc.mu.Lock()
	if _, ok := nc.engines[session.UserID]; ok {
		nc.mu.Unlock()
		utils.RespondJSON(c, http.StatusOK, "Already listening", nil)
		return
	}
	eng := services.NewEngine(nc.Store, nc.Catalog, nc.Skip, nc.Alerts, session)
	nc.engines[session.UserID] = eng
	nc.mu.Unlock()

	if err := eng.Start(); err != nil {
		nc.mu.Lock()
		delete(nc.engines, session.UserID)
		nc.mu.Unlock()
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Notification listener started for %s", session.UserID)

	utils.RespondJSON(c, http.StatusCreated, "Listening", nil)
}

// StopListening tears down the session user's engine.
func (nc *NotificationController) StopListening(c *gin.Context) {
	userID := c.GetString("user_id")

	nc.mu.Lock()
	eng, ok := nc.engines[userID]
	delete(nc.engines, userID)
	nc.mu.Unlock()

	if ok {
		eng.Stop()
	}

	utils.RespondJSON(c, http.StatusOK, "Stopped listening", nil)
}

// ListNotifications returns the aggregated view, newest first.
func (nc *NotificationController) ListNotifications(c *gin.Context) {
	eng, ok := nc.engineFor(c)
	if !ok {
		utils.RespondError(c, http.StatusConflict, errNotListening)
		return
	}

	utils.RespondJSON(c, http.StatusOK, "Notifications fetched", eng.Notifier.Notifications())
}

func (nc *NotificationController) UnreadCount(c *gin.Context) {
	eng, ok := nc.engineFor(c)
	if !ok {
		utils.RespondError(c, http.StatusConflict, errNotListening)
		return
	}

	utils.RespondJSON(c, http.StatusOK, "Unread count fetched", gin.H{
		"unread": eng.Notifier.UnreadCount(),
	})
}

func (nc *NotificationController) MarkRead(c *gin.Context) {
	eng, ok := nc.engineFor(c)
	if !ok {
		utils.RespondError(c, http.StatusConflict, errNotListening)
		return
	}

	eng.Notifier.MarkRead(c.Param("notif_id"))
	utils.RespondJSON(c, http.StatusOK, "Notification marked as read", nil)
}

func (nc *NotificationController) MarkUnread(c *gin.Context) {
	eng, ok := nc.engineFor(c)
	if !ok {
		utils.RespondError(c, http.StatusConflict, errNotListening)
		return
	}

	eng.Notifier.MarkUnread(c.Param("notif_id"))
	utils.RespondJSON(c, http.StatusOK, "Notification marked as unread", nil)
}

// ToggleRead sets the read flag from the request body.
func (nc *NotificationController) ToggleRead(c *gin.Context) {
	eng, ok := nc.engineFor(c)
	if !ok {
		utils.RespondError(c, http.StatusConflict, errNotListening)
		return
	}

	var req struct {
		IsRead bool `json:"is_read"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	eng.Notifier.ToggleRead(c.Param("notif_id"), req.IsRead)
	utils.RespondJSON(c, http.StatusOK, "Notification updated", nil)
}

// MarkAllRead clears every unread notification and advances the watermark.
func (nc *NotificationController) MarkAllRead(c *gin.Context) {
	eng, ok := nc.engineFor(c)
	if !ok {
		utils.RespondError(c, http.StatusConflict, errNotListening)
		return
	}

	eng.Notifier.MarkAllRead()
	utils.RespondJSON(c, http.StatusOK, "All notifications marked as read", nil)
}

// StopAll tears down every engine, for shutdown.
func (nc *NotificationController) StopAll() {
	nc.mu.Lock()
	engines := nc.engines
	nc.engines = make(map[string]*services.Engine)
	nc.mu.Unlock()

	for _, eng := range engines {
		eng.Stop()
	}
}
