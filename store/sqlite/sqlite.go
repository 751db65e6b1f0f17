/*
Package sqlite provides the SQL implementation of the billing repositories.

PURPOSE:
  Implements billing.TxRepository and billing.AdminRepository on top of sqlx.
  SQLite is the default; the same schema and queries run on PostgreSQL
  (DB_DRIVER=postgres) because every query is written with ? placeholders
  and rebound for the driver in use.

KEY TABLES:
  residents:         People who lease spots
  pricing_templates: Two-tier prices per category, late fee in UF
  contracts:         Resident + template + start date
  spots:             Parking inventory, optionally assigned to a contract
  payments:          One row per (contract, period) and kind

INDEXES:
  - idx_payments_paid_period: at most one Paid row per (contract, period)
  - idx_payments_paid_at:     history listing by payment date

MONEY:
  Amounts are stored as TEXT decimal strings and parsed with shopspring/decimal.

CONNECTIVITY:
  A call that fails because the connection is gone triggers one reconnect
  (open, ping, migrate) and one retry. If that fails too the caller gets
  billing.ErrConnectionLost. Transactions are only retried at BEGIN.

CONCURRENCY:
  Uses sync.RWMutex so SQLite sees a single writer. In production with
  PostgreSQL, database-level concurrency control handles this instead.

MIGRATION:
  Schema is auto-migrated on Open().

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/parking-ledger/billing"
)

const pingTimeout = 5 * time.Second

// Store implements the billing repositories on a SQL database.
type Store struct {
	driver string
	dsn    string
	log    *zap.Logger

	mu sync.RWMutex // single writer

	connMu sync.Mutex
	db     *sqlx.DB
	open   func(ctx context.Context) (*sqlx.DB, error)
}

// New opens a SQLite store at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), "sqlite3", dbPath, zap.NewNop())
}

// Open connects to driver ("sqlite3" or "postgres") and migrates the schema.
func Open(ctx context.Context, driverName, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{driver: driverName, dsn: dsn, log: log}
	s.open = s.connect

	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

func (s *Store) connect(ctx context.Context) (*sqlx.DB, error) {
	dsn := s.dsn
	if s.driver == "sqlite3" && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_journal_mode=WAL"
	}
	db, err := sqlx.Open(s.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if s.driver == "sqlite3" {
		// One connection keeps ":memory:" databases shared across calls.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn().Close()
}

// Ping checks the database is reachable, reconnecting once if needed.
func (s *Store) Ping(ctx context.Context) error {
	_, err := withRetry(ctx, s, func(q queries) (struct{}, error) {
		return struct{}{}, q.db.(interface{ PingContext(context.Context) error }).PingContext(ctx)
	})
	return err
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS residents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tax_id TEXT NOT NULL UNIQUE,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS pricing_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		first_car TEXT NOT NULL,
		second_car TEXT NOT NULL DEFAULT '0',
		first_motorcycle TEXT NOT NULL,
		second_motorcycle TEXT NOT NULL DEFAULT '0',
		fine_uf TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		resident_id TEXT NOT NULL REFERENCES residents(id),
		template_id TEXT NOT NULL REFERENCES pricing_templates(id),
		start_date TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_resident
		ON contracts(resident_id);

	CREATE TABLE IF NOT EXISTS spots (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		contract_id TEXT REFERENCES contracts(id)
	);

	CREATE INDEX IF NOT EXISTS idx_spots_contract
		ON spots(contract_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		period TEXT NOT NULL,
		expected_amount TEXT NOT NULL,
		fine_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		paid_at TEXT NOT NULL
	);

	-- At most one Paid row per contract and period. Adjustments are exempt.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_paid_period
		ON payments(contract_id, period)
		WHERE status = 'Paid';

	CREATE INDEX IF NOT EXISTS idx_payments_paid_at
		ON payments(paid_at);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// CONNECTION HANDLING
// =============================================================================

func (s *Store) conn() *sqlx.DB {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.db
}

// reconnect replaces failed with a fresh connection unless another caller
// already did.
func (s *Store) reconnect(ctx context.Context, failed *sqlx.DB) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.db != failed {
		return nil
	}
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	failed.Close()
	s.db = db
	s.log.Info("storage reconnected", zap.String("driver", s.driver))
	return nil
}

func withRetry[T any](ctx context.Context, s *Store, fn func(queries) (T, error)) (T, error) {
	db := s.conn()
	v, err := fn(queries{db: db})
	if !isConnError(err) {
		return v, err
	}

	var zero T
	s.log.Warn("storage connection lost, reconnecting", zap.Error(err))
	if rerr := s.reconnect(ctx, db); rerr != nil {
		s.log.Error("storage reconnect failed", zap.Error(rerr))
		return zero, fmt.Errorf("%w: %v", billing.ErrConnectionLost, rerr)
	}
	v, err = fn(queries{db: s.conn()})
	if isConnError(err) {
		return zero, fmt.Errorf("%w: %v", billing.ErrConnectionLost, err)
	}
	return v, err
}

func read[T any](ctx context.Context, s *Store, fn func(queries) (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return withRetry(ctx, s, fn)
}

func write(ctx context.Context, s *Store, fn func(queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := withRetry(ctx, s, func(q queries) (struct{}, error) { return struct{}{}, fn(q) })
	return err
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// =============================================================================
// REPOSITORY (billing.Repository)
// =============================================================================

func (s *Store) GetContract(ctx context.Context, residentID string) (billing.Contract, error) {
	return read(ctx, s, func(q queries) (billing.Contract, error) { return q.GetContract(ctx, residentID) })
}

func (s *Store) GetPricingTemplate(ctx context.Context, id string) (billing.PricingTemplate, error) {
	return read(ctx, s, func(q queries) (billing.PricingTemplate, error) { return q.GetPricingTemplate(ctx, id) })
}

func (s *Store) GetResourceCounts(ctx context.Context, contractID string) (billing.ResourceCounts, error) {
	return read(ctx, s, func(q queries) (billing.ResourceCounts, error) { return q.GetResourceCounts(ctx, contractID) })
}

func (s *Store) GetPaymentPeriods(ctx context.Context, contractID string) (billing.PeriodSet, error) {
	return read(ctx, s, func(q queries) (billing.PeriodSet, error) { return q.GetPaymentPeriods(ctx, contractID) })
}

func (s *Store) GetAllActiveContracts(ctx context.Context) ([]billing.Contract, error) {
	return read(ctx, s, func(q queries) ([]billing.Contract, error) { return q.GetAllActiveContracts(ctx) })
}

func (s *Store) FindPayment(ctx context.Context, contractID string, period billing.Period) (*billing.PaymentRecord, error) {
	return read(ctx, s, func(q queries) (*billing.PaymentRecord, error) { return q.FindPayment(ctx, contractID, period) })
}

func (s *Store) GetPayment(ctx context.Context, id string) (billing.PaymentRecord, error) {
	return read(ctx, s, func(q queries) (billing.PaymentRecord, error) { return q.GetPayment(ctx, id) })
}

func (s *Store) InsertPayment(ctx context.Context, rec billing.PaymentRecord) error {
	return write(ctx, s, func(q queries) error { return q.InsertPayment(ctx, rec) })
}

func (s *Store) UpdatePayment(ctx context.Context, rec billing.PaymentRecord) error {
	return write(ctx, s, func(q queries) error { return q.UpdatePayment(ctx, rec) })
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxRepository)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Repository) error) error {
	return s.inTx(ctx, func(q queries) error { return fn(q) })
}

// inTx holds the write lock for the whole transaction. Only BEGIN is retried
// after a lost connection.
func (s *Store) inTx(ctx context.Context, fn func(queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := withRetry(ctx, s, func(q queries) (*sqlx.Tx, error) {
		return q.db.(*sqlx.DB).BeginTxx(ctx, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isConnError(err) {
			return fmt.Errorf("%w: %v", billing.ErrConnectionLost, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// ADMIN (billing.AdminRepository)
// =============================================================================

func (s *Store) ListActiveResidents(ctx context.Context) ([]billing.Resident, error) {
	return read(ctx, s, func(q queries) ([]billing.Resident, error) { return q.ListActiveResidents(ctx) })
}

func (s *Store) ListPayments(ctx context.Context, filter billing.HistoryFilter) ([]billing.PaymentView, error) {
	return read(ctx, s, func(q queries) ([]billing.PaymentView, error) { return q.ListPayments(ctx, filter) })
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	return write(ctx, s, func(q queries) error { return q.DeletePayment(ctx, id) })
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// uniqueViolation reports the column behind a unique-key failure.
func uniqueViolation(err error) (field string, ok bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		// "UNIQUE constraint failed: payments.contract_id, payments.period"
		msg := sqliteErr.Error()
		if strings.Contains(msg, "payments.period") {
			return "period", true
		}
		if i := strings.LastIndex(msg, ": "); i >= 0 {
			cols := strings.Split(msg[i+2:], ",")
			if _, col, found := strings.Cut(strings.TrimSpace(cols[0]), "."); found {
				return col, true
			}
		}
		return "id", true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch {
		case pqErr.Constraint == "idx_payments_paid_period":
			return "period", true
		case strings.HasSuffix(pqErr.Constraint, "_pkey"):
			return "id", true
		case strings.HasSuffix(pqErr.Constraint, "_key"):
			// <table>_<column>_key
			name := strings.TrimSuffix(pqErr.Constraint, "_key")
			name = strings.TrimPrefix(name, pqErr.Table+"_")
			return name, true
		}
		return "id", true
	}
	return "", false
}

func foreignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// writeError maps a failed write to the billing taxonomy. values supplies the
// offending value per conflicting field.
func writeError(op string, err error, values map[string]string) error {
	if field, ok := uniqueViolation(err); ok {
		return &billing.ConflictError{Field: field, Value: values[field]}
	}
	if isConnError(err) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
