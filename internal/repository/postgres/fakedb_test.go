package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"carpool/internal/domain"
)

// fakeStore is a database/sql driver over a single ride row. It records the
// statements it runs and lets tests decide how many rows an UPDATE touches.
type fakeStore struct {
	mu         sync.Mutex
	row        []driver.Value // nil: no ride
	selectErr  error
	updateRows int64
	statements []string
	updateArgs []driver.Value
	commits    int
	rollbacks  int
}

func newFakeDB(t *testing.T, store *fakeStore) *sql.DB {
	t.Helper()
	db := sql.OpenDB(fakeConnector{store: store})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rideRow(t *testing.T, ride *domain.Ride) []driver.Value {
	t.Helper()
	bookings, err := encodeBookings(ride.Bookings)
	if err != nil {
		t.Fatalf("encode bookings: %v", err)
	}
	optional := func(s string) driver.Value {
		if s == "" {
			return nil
		}
		return s
	}
	return []driver.Value{
		ride.ID,
		ride.DriverID,
		ride.DriverName,
		ride.Origin.Address,
		ride.Origin.City,
		ride.Destination.Address,
		ride.Destination.City,
		ride.DepartureTime,
		int64(ride.TotalSeats),
		ride.PricePerSeat,
		ride.Route.DistanceKm,
		int64(ride.Route.EtaMinutes),
		optional(ride.VehicleType),
		optional(ride.Notes),
		string(ride.Status),
		optional(ride.CancelReason),
		bookings,
		ride.Version,
		ride.CreatedAt,
		ride.UpdatedAt,
	}
}

func (s *fakeStore) ran(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, stmt := range s.statements {
		if strings.HasPrefix(stmt, prefix) {
			n++
		}
	}
	return n
}

func (s *fakeStore) txCounts() (commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.rollbacks
}

type fakeConnector struct{ store *fakeStore }

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{store: c.store}, nil
}

func (c fakeConnector) Driver() driver.Driver { return fakeDriver{store: c.store} }

type fakeDriver struct{ store *fakeStore }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &fakeConn{store: d.store}, nil }

type fakeConn struct{ store *fakeStore }

var (
	_ driver.ExecerContext  = (*fakeConn)(nil)
	_ driver.QueryerContext = (*fakeConn)(nil)
	_ driver.ConnBeginTx    = (*fakeConn)(nil)
)

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("fake driver: prepared statements not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return fakeTx{store: c.store}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt := strings.TrimSpace(query)
	s.statements = append(s.statements, stmt)
	if !strings.HasPrefix(stmt, "UPDATE") {
		return driver.RowsAffected(0), nil
	}

	s.updateArgs = s.updateArgs[:0]
	for _, a := range args {
		s.updateArgs = append(s.updateArgs, a.Value)
	}
	if s.updateRows > 0 && s.row != nil {
		// status, cancel_reason, bookings, notes, version, updated_at
		for i, col := range []int{14, 15, 16, 13, 17, 19} {
			s.row[col] = args[i].Value
		}
	}
	return driver.RowsAffected(s.updateRows), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statements = append(s.statements, strings.TrimSpace(query))
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	rows := &fakeRows{}
	if s.row != nil {
		rows.values = [][]driver.Value{append([]driver.Value(nil), s.row...)}
	}
	return rows, nil
}

type fakeTx struct{ store *fakeStore }

func (tx fakeTx) Commit() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.commits++
	return nil
}

func (tx fakeTx) Rollback() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.rollbacks++
	return nil
}

type fakeRows struct {
	values [][]driver.Value
}

func (r *fakeRows) Columns() []string {
	cols := strings.Split(rideColumns, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if len(r.values) == 0 {
		return io.EOF
	}
	copy(dest, r.values[0])
	r.values = r.values[1:]
	return nil
}
