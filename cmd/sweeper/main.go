package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/viper"
	"github.com/tradepost/backend/internal/database"
	"github.com/tradepost/backend/internal/services"
)

// Marks every pending trade offer whose expiry has passed. Run from cron;
// a single invocation sweeps once and exits.
func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	negotiation := services.NewNegotiationService(db, nil, services.NewEscrowService(db, services.NewLedgerService(db)), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := negotiation.ExpireDueOffers(ctx)
	if err != nil {
		log.Fatalf("Offer expiry sweep failed: %v", err)
	}
	log.Printf("Offer expiry sweep complete: %d offers expired", expired)
}
