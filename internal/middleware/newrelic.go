package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// NewRelicMiddleware annotates the transaction started by nrgin with the
// caller and ride, and records handler errors. It must run after
// AuthMiddleware.
func NewRelicMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		if p, ok := PrincipalFrom(c); ok {
			txn.AddAttribute("user.id", p.ID)
		}
		if rideID := c.Param("id"); rideID != "" {
			txn.AddAttribute("ride.id", rideID)
		}

		c.Next()

		// Record error if present.
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
