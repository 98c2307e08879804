package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config holds all env-driven settings.
type Config struct {
	Addr        string
	FrontendURL string

	GatewayBaseURL    string
	GatewayMerchantID string
	GatewaySecret     string
	GatewayReturnURL  string
	GatewayTimeout    time.Duration

	ProfileBaseURL string

	// PendingTimeout is how long an invoice may stay pending before the
	// sweeper expires it. Must exceed the gateway payment-page timeout.
	PendingTimeout time.Duration
	SweepInterval  time.Duration
	GrantTimeout   time.Duration

	Currency            string
	PriceContactsAccess float64
	PricePlayerListing  float64
}

// Load reads configuration from the environment with sane defaults.
func Load() Config {
	return Config{
		Addr:        getEnv("ADDR", ":8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		GatewayBaseURL:    getEnv("GATEWAY_BASE_URL", "https://gw.example.com/api"),
		GatewayMerchantID: getEnv("GATEWAY_MERCHANT_ID", ""),
		GatewaySecret:     getEnv("GATEWAY_SECRET", ""),
		GatewayReturnURL:  getEnv("GATEWAY_RETURN_URL", "http://localhost:3000/payments/return"),
		GatewayTimeout:    getDuration("GATEWAY_TIMEOUT", 10*time.Second),

		ProfileBaseURL: getEnv("PROFILE_BASE_URL", "http://localhost:8081"),

		PendingTimeout: getDuration("PENDING_TIMEOUT", 30*time.Minute),
		SweepInterval:  getDuration("SWEEP_INTERVAL", 5*time.Minute),
		GrantTimeout:   getDuration("GRANT_TIMEOUT", 15*time.Second),

		Currency:            getEnv("CURRENCY", "SAR"),
		PriceContactsAccess: getFloat("PRICE_CONTACTS_ACCESS", 35),
		PricePlayerListing:  getFloat("PRICE_PLAYER_LISTING", 55),
	}
}

// InitDB opens the postgres connection. TranslateError maps driver
// unique-violation errors onto gorm.ErrDuplicatedKey, which the
// repository relies on.
func InitDB() *gorm.DB {
	dsn := getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=marketplace port=5432 sslmode=disable")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return db
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid duration for %s: %v, using default %s", key, err, fallback)
		return fallback
	}
	return d
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("invalid number for %s: %v, using default %v", key, err, fallback)
		return fallback
	}
	return f
}
