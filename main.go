package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/travauxroutiers/signalement-app/config"
	"github.com/travauxroutiers/signalement-app/database"
	"github.com/travauxroutiers/signalement-app/hub"
	"github.com/travauxroutiers/signalement-app/middlewares"
	"github.com/travauxroutiers/signalement-app/models"
	"github.com/travauxroutiers/signalement-app/router"
	"github.com/travauxroutiers/signalement-app/services"
	"github.com/travauxroutiers/signalement-app/store"
	"github.com/travauxroutiers/signalement-app/utils"
	"gorm.io/gorm"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or error loading: %v", err)
	}

	utils.InitLogger()
}

func main() {
	db, err := config.InitDB()
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	autoMigrate(db)

	st, err := store.NewGormStore(db)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to initialize document store: %v", err)
	}
	st.SetPollInterval(500 * time.Millisecond)
	st.Start()
	defer st.Stop()

	if err := database.SeedStatuts(st); err != nil {
		utils.ErrorLogger.Printf("Error seeding statuts: %v", err)
	}

	alerts := hub.NewHub()
	skip := services.NewSkipSet()
	catalog := services.NewStatusCatalog(st)
	if err := catalog.Refresh(); err != nil {
		utils.ErrorLogger.Printf("Error warming status catalog: %v", err)
	}

	r := router.SetupRouter(db, st, catalog, skip, alerts)

	// Global rate limiter (50 requests per second per IP)
	rateLimiter := middlewares.NewRateLimiter(50, 1)
	r.Use(rateLimiter.RateLimit())

	r.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	utils.InfoLogger.Printf("Listening on port %s", port)
	if err := r.Run(":" + port); err != nil {
		utils.ErrorLogger.Fatal(err)
	}
}

func autoMigrate(db *gorm.DB) {
	err := db.AutoMigrate(
		&models.User{},
	)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")
}
