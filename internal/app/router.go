package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"carpool/internal/auth"
	"carpool/internal/handler"
	"carpool/internal/logging"
	"carpool/internal/middleware"
	"carpool/internal/redis"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler    *handler.RideHandler
	BookingHandler *handler.BookingHandler
	Realtime       http.Handler
	Verifier       *auth.Verifier
	AuthDisabled   bool
	ResponseCache  redis.ResponseCacheInterface // nil disables idempotent replay
	LockStore      redis.LockStoreInterface
	NewRelicApp    *newrelic.Application
	Logger         zerolog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(logging.GinLogger(deps.Logger))
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Realtime channel. Clients identify themselves with user_online.
	if deps.Realtime != nil {
		router.GET("/ws", gin.WrapH(deps.Realtime))
	}

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Verifier, deps.AuthDisabled))
	v1.Use(middleware.NewRelicMiddleware())
	v1.Use(middleware.IdempotencyMiddleware(deps.ResponseCache, deps.LockStore, deps.Logger))
	{
		// Ride routes.
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("/search", deps.RideHandler.SearchRides)
			rides.GET("/mine", deps.RideHandler.ListMyRides)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/cancel", deps.RideHandler.CancelRide)
			rides.POST("/:id/complete", deps.RideHandler.CompleteRide)

			// Booking routes.
			rides.POST("/:id/bookings", deps.BookingHandler.RequestSeats)
			rides.PUT("/:id/bookings/:passengerId", deps.BookingHandler.ResolveBooking)
			rides.DELETE("/:id/bookings/me", deps.BookingHandler.CancelBooking)
		}

		bookings := v1.Group("/bookings")
		{
			bookings.GET("/mine", deps.RideHandler.ListMyBookings)
		}
	}

	return router
}
