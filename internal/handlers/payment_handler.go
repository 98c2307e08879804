package handler

import (
	"errors"
	"io"
	"net/http"

	"sports-marketplace-backend/internal/gateway"
	"sports-marketplace-backend/internal/models"
	"sports-marketplace-backend/internal/services/payments"
	"sports-marketplace-backend/internal/services/reconciliation"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	payments *payments.Service
	recon    *reconciliation.Engine
	gateway  *gateway.Client
}

func NewPaymentHandler(p *payments.Service, recon *reconciliation.Engine, gw *gateway.Client) *PaymentHandler {
	return &PaymentHandler{payments: p, recon: recon, gateway: gw}
}

// Initiate starts (or resumes) a payment for the authenticated buyer.
// Safe to call repeatedly: a live pending invoice is returned as-is.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	buyerID := BuyerID(c)

	var payload struct {
		Product         string `json:"product"`
		PlayerProfileID string `json:"player_profile_id"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	inv, err := h.payments.Initiate(c.Request.Context(), buyerID, models.Product(payload.Product), payload.PlayerProfileID)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrInvalidProduct),
		errors.Is(err, payments.ErrTargetRequired),
		errors.Is(err, payments.ErrTargetNotAllowed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, payments.ErrGatewayTimeout):
		// Invoice stays pending; the buyer can safely retry.
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "payment gateway timed out, please retry"})
		return
	case errors.Is(err, payments.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_url":  inv.PaymentURL,
		"order_number": inv.OrderNumber,
		"status":       inv.Status,
	})
}

// ListInvoices returns the buyer's invoices, optionally filtered by
// ?status=pending|paid|...
func (h *PaymentHandler) ListInvoices(c *gin.Context) {
	buyerID := BuyerID(c)
	status := models.InvoiceStatus(c.Query("status"))

	items, err := h.payments.ListForBuyer(c.Request.Context(), buyerID, status)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidStatusFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Webhook receives gateway notifications. The signature is verified
// before anything touches invoice state; an unresolved write race is
// answered 503 so the gateway redelivers.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}

	event, err := h.gateway.ParseWebhook(body, c.GetHeader("X-Signature"))
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			// Possible spoofing attempt; reject without touching state.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unparsable payload"})
		return
	}

	if err := h.recon.ApplyWebhook(c.Request.Context(), event); err != nil {
		if errors.Is(err, reconciliation.ErrRetryable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conflict, retry later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
