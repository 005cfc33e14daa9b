// Package metrics exposes Prometheus collectors for booking outcomes,
// presence and notification delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingOperations counts state machine operations by outcome.
	// Labels: operation (create_ride, request_seats, resolve_booking, ...), result (ok or a failure kind).
	BookingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpool_booking_operations_total",
			Help: "Booking state machine operations by outcome",
		},
		[]string{"operation", "result"},
	)

	RidesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carpool_rides_created_total",
			Help: "Rides offered by drivers",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carpool_presence_users_online",
			Help: "Users with a live realtime connection",
		},
	)

	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpool_notifications_delivered_total",
			Help: "Events handed to the transport",
		},
		[]string{"mode", "type"},
	)

	// NotificationsDropped counts events that never reached a connection.
	// Labels: reason (offline, send_failed, publish_failed).
	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpool_notifications_dropped_total",
			Help: "Events dropped before delivery",
		},
		[]string{"reason", "type"},
	)

	// StoreBreakerState is 0=closed, 1=half-open, 2=open.
	StoreBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carpool_store_breaker_state",
			Help: "Ride store circuit breaker state",
		},
	)
)
