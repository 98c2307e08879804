package main

import (
	"context"
	"log"
	"time"

	"sports-marketplace-backend/internal/config"
	"sports-marketplace-backend/internal/models"
	"sports-marketplace-backend/internal/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	cfg := config.Load()
	db := config.InitDB()

	db.AutoMigrate(
		&models.Invoice{},
		&models.PaymentEvent{},
	)

	// One live pending invoice per buyer intent, enforced by the database.
	db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_live_intent
		ON invoices (buyer_id, product, target_ref) WHERE status = 'pending'`)

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Buyer-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	expirySweeper, grantor := routes.RegisterRoutes(r, db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	grantor.Start(ctx)
	expirySweeper.Start(ctx)

	r.Run(cfg.Addr)
}
