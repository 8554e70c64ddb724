// Package storage provides SQL-backed persistence for alerts and price observations.
// SQLite is the default; the same schema runs on PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/pricewatch/internal/errs"
	"github.com/rewired-gh/pricewatch/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage wraps a SQL database for all persistence operations.
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens or creates the database. For sqlite, dsn is a file path and an
// empty value defaults to $TMPDIR/pricewatch/data.db; for postgres it is a
// lib/pq connection string.
func New(driver, dsn string) (*Storage, error) {
	switch driver {
	case DriverSQLite:
		return newSQLite(dsn)
	case DriverPostgres:
		return newPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func newSQLite(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "pricewatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open(DriverSQLite, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Storage{db: db, driver: DriverSQLite}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func newPostgres(dsn string) (*Storage, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Storage{db: db, driver: DriverPostgres}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			symbol          TEXT NOT NULL,
			target_price    TEXT NOT NULL,
			alert_condition TEXT NOT NULL,
			triggered       INTEGER NOT NULL DEFAULT 0,
			user_email      TEXT NOT NULL,
			created_at      BIGINT NOT NULL,
			triggered_at    BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol_active ON alerts(symbol, triggered)`,
		`CREATE TABLE IF NOT EXISTS price_observations (
			id          ` + serial + `,
			symbol      TEXT NOT NULL,
			price       TEXT NOT NULL,
			observed_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_symbol ON price_observations(symbol, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func persistErr(op string, err error) error {
	return errs.Wrap(errs.CodePersistence, op, err)
}

// SaveAlert inserts a new alert, assigning ID and CreatedAt when unset.
func (s *Storage) SaveAlert(ctx context.Context, alert *models.Alert) error {
	const op = "storage.SaveAlert"
	if err := alert.Validate(); err != nil {
		return errs.Wrap(errs.CodeInvalid, op, err)
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO alerts
			(id, symbol, target_price, alert_condition, triggered, user_email, created_at, triggered_at)
		VALUES (?,?,?,?,?,?,?,?)`),
		alert.ID, alert.Symbol, alert.TargetPrice.String(), string(alert.Condition),
		boolToInt(alert.Triggered), alert.UserEmail,
		alert.CreatedAt.UnixNano(), unixNanoOrZero(alert.TriggeredAt),
	)
	if err != nil {
		return persistErr(op, fmt.Errorf("failed to insert alert: %w", err))
	}
	return nil
}

// GetAlert returns one alert by ID.
func (s *Storage) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	const op = "storage.GetAlert"
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+alertCols+` FROM alerts WHERE id = ?`), id)
	a, err := scanAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, op, "alert not found: "+id)
	}
	if err != nil {
		return nil, persistErr(op, fmt.Errorf("failed to get alert: %w", err))
	}
	return a, nil
}

// ListActiveAlerts returns every untriggered alert, oldest first.
func (s *Storage) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.queryAlerts(ctx, "storage.ListActiveAlerts",
		`SELECT `+alertCols+` FROM alerts WHERE triggered = 0 ORDER BY created_at, id`)
}

// FindActiveAlerts returns the untriggered alerts for symbol.
func (s *Storage) FindActiveAlerts(ctx context.Context, symbol string) ([]models.Alert, error) {
	return s.queryAlerts(ctx, "storage.FindActiveAlerts",
		`SELECT `+alertCols+` FROM alerts WHERE symbol = ? AND triggered = 0 ORDER BY created_at, id`, symbol)
}

func (s *Storage) queryAlerts(ctx context.Context, op, query string, args ...any) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, persistErr(op, fmt.Errorf("failed to query alerts: %w", err))
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, persistErr(op, fmt.Errorf("failed to scan alert: %w", err))
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return alerts, nil
}

// MarkTriggered flips the alert's triggered flag. It reports false when the
// alert was already triggered or does not exist, so only one caller wins.
func (s *Storage) MarkTriggered(ctx context.Context, id string, at time.Time) (bool, error) {
	const op = "storage.MarkTriggered"
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE alerts SET triggered = 1, triggered_at = ?
		WHERE id = ? AND triggered = 0`),
		at.UnixNano(), id,
	)
	if err != nil {
		return false, persistErr(op, fmt.Errorf("failed to update alert: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr(op, err)
	}
	return n == 1, nil
}

// SaveObservation appends a price observation.
func (s *Storage) SaveObservation(ctx context.Context, obs models.PriceObservation) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO price_observations (symbol, price, observed_at) VALUES (?,?,?)`),
		obs.Symbol, obs.Price.String(), obs.ObservedAt.UnixNano(),
	)
	if err != nil {
		return persistErr("storage.SaveObservation", fmt.Errorf("failed to insert observation: %w", err))
	}
	return nil
}

// LatestObservation returns the most recently inserted observation for
// symbol, or nil when there is none.
func (s *Storage) LatestObservation(ctx context.Context, symbol string) (*models.PriceObservation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT symbol, price, observed_at FROM price_observations
		WHERE symbol = ? ORDER BY id DESC LIMIT 1`), symbol)

	var obs models.PriceObservation
	var observedAtNano int64
	err := row.Scan(&obs.Symbol, &obs.Price, &observedAtNano)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("storage.LatestObservation", fmt.Errorf("failed to load observation: %w", err))
	}
	obs.ObservedAt = time.Unix(0, observedAtNano)
	return &obs, nil
}

// CountObservations returns how many observations exist for symbol.
func (s *Storage) CountObservations(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM price_observations WHERE symbol = ?`), symbol).Scan(&n)
	if err != nil {
		return 0, persistErr("storage.CountObservations", err)
	}
	return n, nil
}

const alertCols = `id, symbol, target_price, alert_condition, triggered, user_email, created_at, triggered_at`

func scanAlert(scan func(...any) error) (*models.Alert, error) {
	var a models.Alert
	var condition string
	var triggered int
	var createdAtNano, triggeredAtNano int64
	err := scan(
		&a.ID, &a.Symbol, &a.TargetPrice, &condition, &triggered, &a.UserEmail,
		&createdAtNano, &triggeredAtNano,
	)
	if err != nil {
		return nil, err
	}
	a.Condition = models.Condition(condition)
	a.Triggered = triggered != 0
	a.CreatedAt = time.Unix(0, createdAtNano)
	if triggeredAtNano != 0 {
		a.TriggeredAt = time.Unix(0, triggeredAtNano)
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
