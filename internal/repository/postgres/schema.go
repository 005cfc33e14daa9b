package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the rides table. Bookings are embedded as a JSONB array and
// indexed for passenger lookups.
const schema = `
CREATE TABLE IF NOT EXISTS rides (
	id                  TEXT PRIMARY KEY,
	driver_id           TEXT NOT NULL,
	driver_name         TEXT NOT NULL DEFAULT '',
	origin_address      TEXT NOT NULL,
	origin_city         TEXT NOT NULL,
	destination_address TEXT NOT NULL,
	destination_city    TEXT NOT NULL,
	departure_time      TIMESTAMPTZ NOT NULL,
	total_seats         INTEGER NOT NULL CHECK (total_seats BETWEEN 1 AND 7),
	price_per_seat      DOUBLE PRECISION NOT NULL CHECK (price_per_seat >= 0),
	distance_km         DOUBLE PRECISION NOT NULL DEFAULT 0,
	eta_minutes         INTEGER NOT NULL DEFAULT 0,
	vehicle_type        TEXT,
	notes               TEXT CHECK (char_length(notes) <= 500),
	status              TEXT NOT NULL,
	cancel_reason       TEXT,
	bookings            JSONB NOT NULL DEFAULT '[]'::jsonb,
	version             BIGINT NOT NULL DEFAULT 1,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS rides_route_idx ON rides (origin_city, destination_city, departure_time) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS rides_driver_idx ON rides (driver_id, departure_time DESC);
CREATE INDEX IF NOT EXISTS rides_bookings_idx ON rides USING GIN (bookings jsonb_path_ops);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
