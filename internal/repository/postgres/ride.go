package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"carpool/internal/domain"
	"carpool/internal/repository"
)

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
// A ride and its bookings live in one row; the bookings column is a JSONB
// document so the whole ride is written in a single statement.
type RideRepository struct {
	db          *sql.DB
	q           Querier
	lockTimeout time.Duration
}

// Ensure RideRepository implements repository.RideRepository.
var _ repository.RideRepository = (*RideRepository)(nil)

// NewRideRepository creates a new PostgreSQL ride repository. lockTimeout
// bounds how long AtomicUpdate waits for the row lock held by another update
// on the same ride.
func NewRideRepository(db *sql.DB, lockTimeout time.Duration) *RideRepository {
	return &RideRepository{db: db, q: db, lockTimeout: lockTimeout}
}

// bookingRecord is the stored JSON shape of a booking.
type bookingRecord struct {
	PassengerID    string    `json:"passenger_id"`
	PassengerName  string    `json:"passenger_name"`
	SeatsRequested int       `json:"seats_requested"`
	Pickup         string    `json:"pickup,omitempty"`
	Drop           string    `json:"drop,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const rideColumns = `id, driver_id, driver_name, origin_address, origin_city, destination_address, destination_city,
	departure_time, total_seats, price_per_seat, distance_km, eta_minutes, vehicle_type, notes, status,
	cancel_reason, bookings, version, created_at, updated_at`

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	bookings, err := encodeBookings(ride.Bookings)
	if err != nil {
		return err
	}
	if ride.Version == 0 {
		ride.Version = 1
	}

	query := `INSERT INTO rides (` + rideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = r.q.ExecContext(ctx, query,
		ride.ID,
		ride.DriverID,
		ride.DriverName,
		ride.Origin.Address,
		ride.Origin.City,
		ride.Destination.Address,
		ride.Destination.City,
		ride.DepartureTime,
		ride.TotalSeats,
		ride.PricePerSeat,
		ride.Route.DistanceKm,
		ride.Route.EtaMinutes,
		nullString(ride.VehicleType),
		nullString(ride.Notes),
		ride.Status,
		nullString(ride.CancelReason),
		bookings,
		ride.Version,
		ride.CreatedAt,
		ride.UpdatedAt,
	)
	return translateError(err)
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`
	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translateError(err)
	}
	return ride, nil
}

// AtomicUpdate locks the ride row for the duration of a transaction, applies
// mutate to the locked snapshot and writes it back guarded by the version it
// read. Waiting longer than the lock timeout for a concurrent update on the
// same ride yields repository.ErrConflict.
func (r *RideRepository) AtomicUpdate(ctx context.Context, id string, mutate repository.Mutation) (*domain.Ride, error) {
	var updated *domain.Ride
	err := inTx(ctx, r.db, r.lockTimeout, func(tx Querier) error {
		query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1 FOR UPDATE`
		ride, err := scanRide(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return translateError(err)
		}

		readVersion := ride.Version
		if err := mutate(ride); err != nil {
			return err
		}
		ride.Version = readVersion + 1
		ride.UpdatedAt = time.Now()

		bookings, err := encodeBookings(ride.Bookings)
		if err != nil {
			return err
		}

		update := `
			UPDATE rides
			SET status = $1, cancel_reason = $2, bookings = $3, notes = $4, version = $5, updated_at = $6
			WHERE id = $7 AND version = $8
		`
		result, err := tx.ExecContext(ctx, update,
			ride.Status,
			nullString(ride.CancelReason),
			bookings,
			nullString(ride.Notes),
			ride.Version,
			ride.UpdatedAt,
			ride.ID,
			readVersion,
		)
		if err != nil {
			return translateError(err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return translateError(err)
		}
		if rowsAffected == 0 {
			return repository.ErrConflict
		}
		updated = ride
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FindByRoute returns active rides matching the query, earliest departure first.
func (r *RideRepository) FindByRoute(ctx context.Context, q repository.RouteQuery) ([]*domain.Ride, error) {
	var (
		conditions = []string{
			"status = 'active'",
			"origin_city ILIKE $1",
			"destination_city ILIKE $2",
			"departure_time >= $3",
		}
		args = []any{containsPattern(q.OriginCity), containsPattern(q.DestinationCity), q.DepartFrom}
	)

	if !q.DepartUntil.IsZero() {
		args = append(args, q.DepartUntil)
		conditions = append(conditions, fmt.Sprintf("departure_time < $%d", len(args)))
	}
	if q.MaxPrice > 0 {
		args = append(args, q.MaxPrice)
		conditions = append(conditions, fmt.Sprintf("price_per_seat <= $%d", len(args)))
	}
	if q.VehicleType != "" {
		args = append(args, q.VehicleType)
		conditions = append(conditions, fmt.Sprintf("vehicle_type = $%d", len(args)))
	}
	if q.ExcludeDriverID != "" {
		args = append(args, q.ExcludeDriverID)
		conditions = append(conditions, fmt.Sprintf("driver_id <> $%d", len(args)))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = repository.DefaultSearchLimit
	}
	args = append(args, limit)

	query := `SELECT ` + rideColumns + ` FROM rides WHERE ` + strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY departure_time ASC LIMIT $%d", len(args))

	return r.queryRides(ctx, query, args...)
}

// ListByDriver returns rides offered by the driver, latest departure first.
func (r *RideRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE driver_id = $1 ORDER BY departure_time DESC`
	return r.queryRides(ctx, query, driverID)
}

// ListByPassenger returns rides the user requested seats on, latest departure first.
func (r *RideRepository) ListByPassenger(ctx context.Context, passengerID string) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides
		WHERE bookings @> jsonb_build_array(jsonb_build_object('passenger_id', $1::text))
		ORDER BY departure_time DESC`
	return r.queryRides(ctx, query, passengerID)
}

func (r *RideRepository) queryRides(ctx context.Context, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, translateError(err)
		}
		rides = append(rides, ride)
	}
	return rides, translateError(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*domain.Ride, error) {
	var (
		ride         domain.Ride
		vehicleType  sql.NullString
		notes        sql.NullString
		cancelReason sql.NullString
		bookings     []byte
	)

	err := row.Scan(
		&ride.ID,
		&ride.DriverID,
		&ride.DriverName,
		&ride.Origin.Address,
		&ride.Origin.City,
		&ride.Destination.Address,
		&ride.Destination.City,
		&ride.DepartureTime,
		&ride.TotalSeats,
		&ride.PricePerSeat,
		&ride.Route.DistanceKm,
		&ride.Route.EtaMinutes,
		&vehicleType,
		&notes,
		&ride.Status,
		&cancelReason,
		&bookings,
		&ride.Version,
		&ride.CreatedAt,
		&ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ride.VehicleType = vehicleType.String
	ride.Notes = notes.String
	ride.CancelReason = cancelReason.String

	if ride.Bookings, err = decodeBookings(bookings); err != nil {
		return nil, err
	}
	return &ride, nil
}

func encodeBookings(bookings []domain.Booking) ([]byte, error) {
	records := make([]bookingRecord, 0, len(bookings))
	for _, b := range bookings {
		records = append(records, bookingRecord{
			PassengerID:    b.PassengerID,
			PassengerName:  b.PassengerName,
			SeatsRequested: b.SeatsRequested,
			Pickup:         b.Pickup,
			Drop:           b.Drop,
			Status:         string(b.Status),
			CreatedAt:      b.CreatedAt,
			UpdatedAt:      b.UpdatedAt,
		})
	}
	return json.Marshal(records)
}

func decodeBookings(data []byte) ([]domain.Booking, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var records []bookingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}
	bookings := make([]domain.Booking, 0, len(records))
	for _, rec := range records {
		bookings = append(bookings, domain.Booking{
			PassengerID:    rec.PassengerID,
			PassengerName:  rec.PassengerName,
			SeatsRequested: rec.SeatsRequested,
			Pickup:         rec.Pickup,
			Drop:           rec.Drop,
			Status:         domain.BookingStatus(rec.Status),
			CreatedAt:      rec.CreatedAt,
			UpdatedAt:      rec.UpdatedAt,
		})
	}
	return bookings, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// PostgreSQL error codes that mean another transaction held the ride.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// translateError maps driver errors onto the repository error taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", repository.ErrConflict, pqErr.Message)
		}
		if pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57" {
			return fmt.Errorf("%w: %w", repository.ErrStoreUnavailable, err)
		}
		return err
	}

	// Deadlines, dropped connections and anything else the driver could not
	// classify are treated as the store being unavailable.
	return fmt.Errorf("%w: %w", repository.ErrStoreUnavailable, err)
}
