package routes

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"sports-marketplace-backend/internal/config"
	"sports-marketplace-backend/internal/gateway"
	handler "sports-marketplace-backend/internal/handlers"
	"sports-marketplace-backend/internal/profile"
	"sports-marketplace-backend/internal/repository"
	"sports-marketplace-backend/internal/services/entitlement"
	"sports-marketplace-backend/internal/services/payments"
	"sports-marketplace-backend/internal/services/reconciliation"
	"sports-marketplace-backend/internal/services/sweeper"
)

// RegisterRoutes wires the payment engine and mounts its endpoints.
// The returned sweeper and grantor must be started by the caller.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) (*sweeper.Sweeper, *entitlement.Grantor) {
	infoLog := log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime)
	errorLog := log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile)

	invoiceRepo := repository.NewInvoiceRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)

	gatewayClient := gateway.NewClient(nil, cfg.GatewayBaseURL, cfg.GatewayMerchantID, cfg.GatewaySecret, cfg.GatewayReturnURL)
	profileClient := profile.NewClient(nil, cfg.ProfileBaseURL)

	grantor := entitlement.NewGrantor(invoiceRepo, profileClient, nil, cfg.GrantTimeout, infoLog, errorLog)
	reconEngine := reconciliation.NewEngine(invoiceRepo, eventRepo, grantor, infoLog, errorLog)

	paymentService := payments.NewService(
		invoiceRepo,
		gatewayClient,
		reconEngine,
		payments.Pricing{
			Currency:       cfg.Currency,
			ContactsAccess: cfg.PriceContactsAccess,
			PlayerListing:  cfg.PricePlayerListing,
		},
		cfg.PendingTimeout,
		cfg.GatewayTimeout,
		errorLog,
	)

	expirySweeper := sweeper.New(invoiceRepo, reconEngine, cfg.SweepInterval, cfg.PendingTimeout, infoLog, errorLog)

	paymentHandler := handler.NewPaymentHandler(paymentService, reconEngine, gatewayClient)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Buyer-facing payment routes
	pay := api.Group("/payments")
	pay.Use(handler.BuyerAuth())
	pay.POST("/initiate", paymentHandler.Initiate)
	pay.GET("/invoices", paymentHandler.ListInvoices)

	// Gateway-only callback, signature-verified inside the handler
	r.POST("/webhooks/payment", paymentHandler.Webhook)

	return expirySweeper, grantor
}
