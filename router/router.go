package router

import (
	"github.com/gin-gonic/gin"
	"github.com/travauxroutiers/signalement-app/controllers"
	"github.com/travauxroutiers/signalement-app/hub"
	"github.com/travauxroutiers/signalement-app/middlewares"
	"github.com/travauxroutiers/signalement-app/services"
	"github.com/travauxroutiers/signalement-app/store"
	"gorm.io/gorm"
)

func SetupRouter(db *gorm.DB, st store.Store, catalog *services.StatusCatalog, skip *services.SkipSet, alerts *hub.Hub) *gin.Engine {
	r := gin.Default()

	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares())
	r.Use(middlewares.LoggerMiddleware())

	userCtrl := controllers.NewUserController(db)
	signalementCtrl := controllers.NewSignalementController(st, services.NewStatusService(st, catalog, skip), alerts)
	notificationCtrl := controllers.NewNotificationController(st, catalog, skip, alerts)
	wsCtrl := controllers.NewWSController(alerts)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Rate limiter for login/register
	loginLimiter := middlewares.NewRateLimiter(5, 60)
	public := r.Group("/")
	public.Use(loginLimiter.RateLimit())
	{
		public.POST("/register", userCtrl.Register)
		public.POST("/login", userCtrl.Login)
	}

	// ----------------------------------------------------------------
	//                      AUTHENTICATED ROUTES
	// ----------------------------------------------------------------
	auth := r.Group("/admin")
	auth.Use(middlewares.AuthMiddleware())

	auth.GET("/profile", userCtrl.GetProfile)

	// SIGNALEMENTS
	auth.POST("/signalements", signalementCtrl.CreateSignalement)
	auth.GET("/signalements", signalementCtrl.ListSignalements)
	auth.GET("/signalements/:id", signalementCtrl.GetSignalement)
	auth.PATCH("/signalements/:id", signalementCtrl.UpdateSignalement)
	auth.PATCH("/signalements/:id/status", middlewares.AdminOnly(), signalementCtrl.UpdateStatus)

	// NOTIFICATIONS
	auth.POST("/notifications/listen", notificationCtrl.Listen)
	auth.DELETE("/notifications/listen", notificationCtrl.StopListening)
	auth.GET("/notifications", notificationCtrl.ListNotifications)
	auth.GET("/notifications/unread-count", notificationCtrl.UnreadCount)
	auth.PATCH("/notifications/:notif_id/read", notificationCtrl.MarkRead)
	auth.PATCH("/notifications/:notif_id/unread", notificationCtrl.MarkUnread)
	auth.PATCH("/notifications/:notif_id/toggle", notificationCtrl.ToggleRead)
	auth.POST("/notifications/read-all", notificationCtrl.MarkAllRead)

	// WebSocket endpoint with its own auth (token in query string)
	wsGroup := r.Group("/ws")
	wsGroup.Use(middlewares.WebSocketAuthMiddleware())
	{
		wsGroup.GET("", wsCtrl.Handle)
	}

	return r
}
