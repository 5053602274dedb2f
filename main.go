package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warrn-service/auth"
	"warrn-service/config"
	"warrn-service/coordinator"
	"warrn-service/database"
	"warrn-service/email"
	"warrn-service/handlers"
	"warrn-service/middleware"
	"warrn-service/rabbitmq"
	"warrn-service/storage"
	"warrn-service/version"
	"warrn-service/vision"
	ws "warrn-service/websocket"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using system environment variables")
	}

	cfg := config.Load()
	log.Printf("Starting warrn-service %s", version.Version)

	// Create database connection
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatal("Failed to create database connection:", err)
	}
	defer db.Close()

	if err := db.EnsureTables(context.Background()); err != nil {
		log.Fatal("Failed to ensure tables:", err)
	}

	// Media store
	media, err := storage.NewMediaStore(cfg.UploadDir)
	if err != nil {
		log.Fatal("Failed to create media store:", err)
	}

	// Species suggestion client (optional)
	var suggester coordinator.SpeciesSuggester
	if cfg.OpenAIAPIKey != "" {
		suggester = vision.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	} else {
		log.Println("OPENAI_API_KEY not set, species suggestion disabled")
	}

	// Notification dispatcher
	mailer := email.NewSender(cfg.SendGridAPIKey, cfg.SendGridFromName, cfg.SendGridFromEmail)

	// Event bus: websocket hub, plus optional RabbitMQ fan-out
	hub := ws.NewHub()
	go hub.Run()

	broadcasters := []coordinator.Broadcaster{hub}
	var publisher *rabbitmq.Publisher
	if cfg.RabbitMQEnabled {
		publisher, err = rabbitmq.NewPublisher(cfg.GetAMQPURL(), cfg.RabbitMQExchange)
		if err != nil {
			log.Printf("Warning: Failed to initialize RabbitMQ publisher: %v", err)
			log.Printf("Continuing without RabbitMQ event fan-out...")
		} else {
			broadcasters = append(broadcasters, publisher)
			log.Printf("RabbitMQ publisher initialized: exchange=%s", cfg.RabbitMQExchange)
		}
	}

	// Coordinator and auth
	coord := coordinator.New(db, db, media, suggester, mailer,
		cfg.SuggestionTimeout, cfg.NotificationTimeout, broadcasters...)
	authService := auth.NewService(db, cfg.JWTSecret, cfg.TokenExpiry)

	// Setup HTTP server
	h := handlers.NewHandlers(coord, db, authService)
	wsHandler := handlers.NewWebSocketHandler(hub)
	router := setupRouter(cfg, h, wsHandler, authService)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting HTTP server on %s:%s", cfg.Host, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Printf("Failed to close RabbitMQ publisher: %v", err)
		}
	}

	log.Println("Server exited")
}

func setupRouter(cfg *config.Config, h *handlers.Handlers, wsHandler *handlers.WebSocketHandler, authService *auth.Service) *gin.Engine {
	router := gin.Default()

	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/reports/live"})))

	router.GET("/health", wsHandler.HealthCheck)

	// Uploaded images
	router.Static("/uploads", cfg.UploadDir)

	api := router.Group("/api/v1")
	{
		// Public endpoints
		api.POST("/reports", middleware.RateLimitMiddleware(float64(cfg.SubmitRateLimit), cfg.SubmitRateLimit), h.SubmitReport)
		api.GET("/reports", h.ListReports)
		api.GET("/reports/geojson", h.ReportsGeoJSON)
		api.GET("/reports/live", wsHandler.Live)

		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)

		// Responder endpoints
		authorized := api.Group("")
		authorized.Use(middleware.AuthMiddleware(authService))
		{
			authorized.POST("/reports/:id/claim", h.ClaimReport)
			authorized.POST("/reports/:id/resolve", h.ResolveReport)
			authorized.GET("/analytics", middleware.AdminOnly(), h.Analytics)
		}
	}

	return router
}
