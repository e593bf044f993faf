package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/tradepost/backend/internal/database"
	mW "github.com/tradepost/backend/internal/middleware"
	"github.com/tradepost/backend/internal/services"
)

// @title Tradepost Transactional Core API
// @version 1.0
// @description Purchases, withdrawals and peer-to-peer trade negotiation for the marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("platform.fee_rate", "PLATFORM_FEE_RATE")
	viper.BindEnv("platform.shipping_cost", "PLATFORM_SHIPPING_COST")
	viper.BindEnv("payout.endpoint", "PAYOUT_ENDPOINT")
	viper.BindEnv("payout.currency", "PAYOUT_CURRENCY")
	viper.BindEnv("fairness.url", "FAIRNESS_SCORER_URL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	mW.InitAuthMiddleware(redisClient)

	ledgerService := services.NewLedgerService(db)
	inventoryService := services.NewInventoryService(db)
	bundleService := services.NewBundleService(db)
	escrowService := services.NewEscrowService(db, ledgerService)
	purchaseService := services.NewPurchaseService(db, redisClient, ledgerService, inventoryService, bundleService)
	withdrawalService := services.NewWithdrawalService(db, redisClient, ledgerService, services.NewISO20022Rail())
	negotiationService := services.NewNegotiationService(db, redisClient, escrowService, services.NewHTTPFairnessScorer())

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Listing photos
	r.Handle("/media/*", http.StripPrefix("/media", mW.ListingMediaServer("./media")))

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// The payout rail calls back without a user token
		r.Post("/withdrawals/callback", withdrawalService.RailCallback)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/purchases", purchaseService.CreatePurchase)
			r.Get("/orders/{orderId}", purchaseService.GetOrder)

			r.Post("/withdrawals", withdrawalService.CreateWithdrawal)
			r.Get("/withdrawals/{payoutId}", withdrawalService.GetWithdrawal)

			r.Post("/trades", negotiationService.CreateOffer)
			r.Get("/trades/{offerId}", negotiationService.GetOffer)
			r.Post("/trades/{offerId}/counter", negotiationService.CounterOffer)
			r.Post("/trades/{offerId}/accept", negotiationService.AcceptOffer)
			r.Post("/trades/{offerId}/reject", negotiationService.RejectOffer)
			r.Post("/trades/{tradeId}/complete", negotiationService.CompleteTrade)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
