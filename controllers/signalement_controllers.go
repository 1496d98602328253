package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/travauxroutiers/signalement-app/hub"
	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/services"
	"github.com/travauxroutiers/signalement-app/store"
	"github.com/travauxroutiers/signalement-app/utils"
)

type SignalementController struct {
	Store  store.Store
	Status *services.StatusService
	Alerts *hub.Hub
}

func NewSignalementController(st store.Store, status *services.StatusService, alerts *hub.Hub) *SignalementController {
	return &SignalementController{Store: st, Status: status, Alerts: alerts}
}

// CreateSignalement files a new report owned by the session user.
func (sc *SignalementController) CreateSignalement(c *gin.Context) {
	var req struct {
		Description string  `json:"description" binding:"required"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	userID := c.GetString("user_id")
	id, err := sc.Store.Create(models.CollectionSignalements, store.Document{
		"id_utilisateur":   userID,
		"id_statut":        models.StatutNouveau,
		"description":      req.Description,
		"latitude":         req.Latitude,
		"longitude":        req.Longitude,
		"date_signalement": store.ServerTimestamp,
		"updated_at":       store.ServerTimestamp,
	})
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Signalement %s created by %s", id, userID)

	utils.RespondJSON(c, http.StatusCreated, "Signalement created", gin.H{
		"signalement_id": id,
	})
}

// ListSignalements returns the session user's reports, or every report for an
// admin.
func (sc *SignalementController) ListSignalements(c *gin.Context) {
	query := store.Query{}
	if c.GetString("role") != "admin" {
		query.Filters = []store.Filter{
			store.Where("id_utilisateur", store.OpEqual, c.GetString("user_id")),
		}
	}

	snaps, err := sc.Store.Find(models.CollectionSignalements, query)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]models.Signalement, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, models.SignalementFromDoc(snap.ID, snap.Doc))
	}

	utils.RespondJSON(c, http.StatusOK, "Signalements fetched", out)
}

// GetSignalement returns one report, including its avancement history.
func (sc *SignalementController) GetSignalement(c *gin.Context) {
	id := c.Param("id")
	doc, err := sc.Store.Get(models.CollectionSignalements, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(c, http.StatusNotFound, err)
			return
		}
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	sig := models.SignalementFromDoc(id, doc)
	if c.GetString("role") != "admin" && sig.UserID != c.GetString("user_id") {
		utils.RespondError(c, http.StatusForbidden, errors.New("not the owner of this signalement"))
		return
	}

	snaps, err := sc.Store.Find(models.CollectionAvancements, store.Query{
		Filters: []store.Filter{store.Where("signalement_id", store.OpEqual, id)},
		OrderBy: "date_changement",
		Desc:    true,
	})
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	history := make([]models.Avancement, 0, len(snaps))
	for _, snap := range snaps {
		history = append(history, models.AvancementFromDoc(snap.ID, snap.Doc))
	}

	utils.RespondJSON(c, http.StatusOK, "Signalement fetched", gin.H{
		"signalement": sig,
		"avancements": history,
	})
}

// UpdateSignalement edits the report description or location. Status changes
// go through the dedicated endpoint.
func (sc *SignalementController) UpdateSignalement(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		Description *string  `json:"description"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	doc, err := sc.Store.Get(models.CollectionSignalements, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(c, http.StatusNotFound, err)
			return
		}
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	sig := models.SignalementFromDoc(id, doc)
	if c.GetString("role") != "admin" && sig.UserID != c.GetString("user_id") {
		utils.RespondError(c, http.StatusForbidden, errors.New("not the owner of this signalement"))
		return
	}

	patch := store.Document{"updated_at": store.ServerTimestamp}
	if req.Description != nil {
		patch["description"] = *req.Description
	}
	if req.Latitude != nil {
		patch["latitude"] = *req.Latitude
	}
	if req.Longitude != nil {
		patch["longitude"] = *req.Longitude
	}

	if err := sc.Store.Update(models.CollectionSignalements, id, patch); err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.RespondJSON(c, http.StatusOK, "Signalement updated", nil)
}

// UpdateStatus applies a status transition through the privileged path: the
// avancement is written directly and the listener feedback is suppressed.
func (sc *SignalementController) UpdateStatus(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		Statut string `json:"statut" binding:"required"`
		Raison string `json:"raison"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	avancementID, err := sc.Status.ApplyStatusChange(id, req.Statut, req.Raison, c.GetString("user_id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			utils.RespondError(c, http.StatusNotFound, err)
		case errors.Is(err, services.ErrStatutInchange):
			utils.RespondError(c, http.StatusConflict, err)
		default:
			utils.RespondError(c, http.StatusInternalServerError, err)
		}
		return
	}

	utils.InfoLogger.Printf("Status of signalement %s changed to %s by %s", id, req.Statut, c.GetString("user_id"))

	if sc.Alerts != nil {
		if doc, getErr := sc.Store.Get(models.CollectionAvancements, avancementID); getErr == nil {
			av := models.AvancementFromDoc(avancementID, doc)
			sc.Alerts.BroadcastStatusUpdate(gin.H{
				"signalement_id":    av.SignalementID,
				"avancement_id":     avancementID,
				"ancien_statut_id":  av.AncienStatutID,
				"nouveau_statut_id": av.NouveauStatutID,
			})
		}
	}

	utils.RespondJSON(c, http.StatusOK, "Status updated", gin.H{
		"avancement_id": avancementID,
	})
}
