package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/travauxroutiers/signalement-app/hub"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSController struct {
	Alerts *hub.Hub
}

func NewWSController(alerts *hub.Hub) *WSController {
	return &WSController{Alerts: alerts}
}

// Handle upgrades the connection and parks it in the hub until the client
// disconnects.
func (wc *WSController) Handle(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	wc.Alerts.Register(ws, userID)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	wc.Alerts.Unregister(ws)
}
