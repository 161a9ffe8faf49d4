package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mabletask/tracker/config"
	"mabletask/tracker/database"
	"mabletask/tracker/handlers"
	"mabletask/tracker/middleware"
	"mabletask/tracker/producer"
	"mabletask/tracker/sink"
	"mabletask/tracker/store"
)

func main() {
	cfg := config.LoadServer()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY is not set")
	}

	// --- PostgreSQL: sites, visitors, sessions ---
	dbClient, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	// --- ClickHouse: timeline events ---
	chClient, err := database.NewClickHouseDB(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse database: %v", err)
	}
	defer chClient.Close()

	siteStore := store.NewSiteStore(dbClient.DB)
	visitorStore := store.NewVisitorStore(dbClient.DB)
	analyticsStore := store.NewAnalyticsStore(chClient)

	// Kafka is optional; without brokers stored events are not mirrored.
	var mirror store.Mirror
	if kp := producer.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.TimelineTopic); kp != nil {
		log.Printf("Mirroring timeline events to Kafka topic %s", cfg.Kafka.TimelineTopic)
		mirror = kp
		defer kp.Close()
	}

	sinkFor := func(siteID int) sink.Sink {
		return &store.SiteSink{SiteID: siteID, Visitors: visitorStore, Analytics: analyticsStore, Mirror: mirror}
	}

	authHandlers := handlers.NewAuthHandlers(siteStore, []byte(cfg.JWTSecret))
	ingestHandlers := handlers.NewIngestHandlers(sinkFor)
	statsHandlers := handlers.NewStatsHandlers(analyticsStore)

	r := gin.Default()

	r.Use(middleware.CORSMiddleware(cfg.FEOrigin))

	api := r.Group("/api")
	{
		sites := api.Group("/sites")
		{
			sites.POST("/register", authHandlers.Register)
			sites.POST("/login", authHandlers.Login)
			sites.POST("/logout", authHandlers.Logout)
		}

		// Protected Routes (site JWT or service API key)
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired([]byte(cfg.JWTSecret), cfg.APIKey))
		{
			protected.PUT("/users", ingestHandlers.UpsertUser)
			protected.POST("/sessions", ingestHandlers.InsertSession)
			protected.PATCH("/sessions/:id/profile", ingestHandlers.UpdateProfile)
			protected.POST("/timeline", ingestHandlers.InsertTimeline)

			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/event-counts", statsHandlers.GetEventCountsOverTime)
				statsGroup.GET("/unique-visitors", statsHandlers.GetUniqueVisitorsOverTime)
				statsGroup.GET("/top-pages", statsHandlers.GetTopNPagePaths)
				statsGroup.GET("/average-metadata", statsHandlers.GetAverageMetadataValue)
			}
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Ingest API starting on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ingest API failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
