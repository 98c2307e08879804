package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const buyerIDKey = "buyerID"

// BuyerAuth resolves the authenticated buyer. The account service in
// front of this API sets X-Buyer-ID after validating the session token;
// requests without it are rejected.
func BuyerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader("X-Buyer-ID"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "buyer not authenticated"})
			return
		}
		c.Set(buyerIDKey, id)
		c.Next()
	}
}

// BuyerID returns the buyer set by BuyerAuth.
func BuyerID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(buyerIDKey)
	buyerID, _ := id.(uuid.UUID)
	return buyerID
}
