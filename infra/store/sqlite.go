package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the SQLite-backed TransactionStore.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the transaction database. The
// connection string enables WAL and immediate transactions so the
// find-or-create sequence in Reconcile cannot interleave with a
// concurrent writer on the same key.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=20000&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewMemoryStore opens an in-memory store, used by tests. Each call
// gets its own named database so stores do not share state.
func NewMemoryStore() (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_txlock=immediate", uuid.New().String())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// cache=shared keeps all connections on one database, but the
	// schema still requires a single writer at a time.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: ":memory:"}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS payment_transactions (
		id TEXT PRIMARY KEY,
		payable_type TEXT NOT NULL DEFAULT '',
		payable_id TEXT NOT NULL DEFAULT '',
		user_type TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		driver TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		transaction_id TEXT,
		reference_id TEXT,
		amount REAL,
		currency TEXT NOT NULL DEFAULT '',
		request_payload TEXT,
		response_data TEXT,
		user_payload_data TEXT,
		metadata TEXT,
		http_status_code INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_txn_driver_action_status ON payment_transactions(driver, action, status);
	CREATE INDEX IF NOT EXISTS idx_txn_transaction_id ON payment_transactions(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_txn_reference_id ON payment_transactions(reference_id);
	CREATE INDEX IF NOT EXISTS idx_txn_payable ON payment_transactions(payable_type, payable_id);
	CREATE INDEX IF NOT EXISTS idx_txn_user ON payment_transactions(user_type, user_id);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_txn_driver_provider_id
		ON payment_transactions(driver, transaction_id)
		WHERE transaction_id IS NOT NULL AND transaction_id != '';
	`

	_, err := s.db.Exec(query)
	return err
}

// retryOperation executes a database operation with retry logic for SQLITE_BUSY errors
func (s *SQLiteStore) retryOperation(operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked") {
			lastErr = err
			if attempt < maxRetries {
				backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
				log.Printf("SQLite busy, retrying in %v (attempt %d/%d)", backoff, attempt+1, maxRetries+1)
				time.Sleep(backoff)
				continue
			}
		} else {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

const transactionColumns = `id, payable_type, payable_id, user_type, user_id, driver, action, status,
	transaction_id, reference_id, amount, currency, request_payload, response_data,
	user_payload_data, metadata, http_status_code, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var txn Transaction
	var transactionID, referenceID sql.NullString
	var amount sql.NullFloat64

	err := row.Scan(
		&txn.ID, &txn.PayableType, &txn.PayableID, &txn.UserType, &txn.UserID,
		&txn.Driver, &txn.Action, &txn.Status,
		&transactionID, &referenceID, &amount, &txn.Currency,
		&txn.RequestPayload, &txn.ResponseData, &txn.UserPayload, &txn.Metadata,
		&txn.HTTPStatusCode, &txn.ErrorMessage, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.TransactionID = transactionID.String
	txn.ReferenceID = referenceID.String
	if amount.Valid {
		txn.Amount = &amount.Float64
	}
	return &txn, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, ex execer, txn *Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	if txn.Status == "" {
		txn.Status = StatusPending
	}

	query := `
	INSERT INTO payment_transactions (` + transactionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ex.ExecContext(ctx, query,
		txn.ID, txn.PayableType, txn.PayableID, txn.UserType, txn.UserID,
		txn.Driver, txn.Action, txn.Status,
		nullString(txn.TransactionID), nullString(txn.ReferenceID), nullFloat(txn.Amount), txn.Currency,
		txn.RequestPayload, txn.ResponseData, txn.UserPayload, txn.Metadata,
		txn.HTTPStatusCode, txn.ErrorMessage, txn.CreatedAt, txn.UpdatedAt,
	)
	return err
}

func updateTransaction(ctx context.Context, ex execer, txn *Transaction) error {
	txn.UpdatedAt = time.Now().UTC()

	query := `
	UPDATE payment_transactions SET
		payable_type = ?, payable_id = ?, user_type = ?, user_id = ?,
		driver = ?, action = ?, status = ?,
		transaction_id = ?, reference_id = ?, amount = ?, currency = ?,
		request_payload = ?, response_data = ?, user_payload_data = ?, metadata = ?,
		http_status_code = ?, error_message = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := ex.ExecContext(ctx, query,
		txn.PayableType, txn.PayableID, txn.UserType, txn.UserID,
		txn.Driver, txn.Action, txn.Status,
		nullString(txn.TransactionID), nullString(txn.ReferenceID), nullFloat(txn.Amount), txn.Currency,
		txn.RequestPayload, txn.ResponseData, txn.UserPayload, txn.Metadata,
		txn.HTTPStatusCode, txn.ErrorMessage, txn.UpdatedAt,
		txn.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Create inserts a new transaction record.
func (s *SQLiteStore) Create(ctx context.Context, txn *Transaction) error {
	return s.retryOperation(func() error {
		if err := insertTransaction(ctx, s.db, txn); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		return nil
	}, 3)
}

// Update persists a mutated transaction record.
func (s *SQLiteStore) Update(ctx context.Context, txn *Transaction) error {
	return s.retryOperation(func() error {
		if err := updateTransaction(ctx, s.db, txn); err != nil {
			if err == ErrNotFound {
				return err
			}
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		return nil
	}, 3)
}

// Get returns a transaction by primary key.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = ?`
	txn, err := scanTransaction(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return txn, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findLatest(ctx context.Context, q querier, driver, externalID string) (*Transaction, error) {
	query := `
	SELECT ` + transactionColumns + `
	FROM payment_transactions
	WHERE driver = ? AND (transaction_id = ? OR reference_id = ?)
	ORDER BY created_at DESC, rowid DESC
	LIMIT 1
	`
	txn, err := scanTransaction(q.QueryRowContext(ctx, query, driver, externalID, externalID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to match transaction: %w", err)
	}
	return txn, nil
}

// FindLatest returns the most recent transaction matching
// (driver, transaction_id OR reference_id). Last created wins.
func (s *SQLiteStore) FindLatest(ctx context.Context, driver, externalID string) (*Transaction, error) {
	return findLatest(ctx, s.db, driver, externalID)
}

// Reconcile wraps find-or-create-then-update in one immediate
// transaction so two concurrent deliveries for the same key serialize.
func (s *SQLiteStore) Reconcile(ctx context.Context, driver, externalID string, apply func(txn *Transaction, found bool) error) (*Transaction, error) {
	var result *Transaction

	err := s.retryOperation(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var txn *Transaction
		found := false
		if externalID != "" {
			txn, err = findLatest(ctx, tx, driver, externalID)
			if err != nil && err != ErrNotFound {
				return err
			}
			found = err == nil
		}
		if !found {
			txn = &Transaction{Driver: driver}
		}

		if err := apply(txn, found); err != nil {
			return err
		}

		if found {
			err = updateTransaction(ctx, tx, txn)
		} else {
			err = insertTransaction(ctx, tx, txn)
			if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
				// A concurrent handler inserted the same
				// (driver, transaction_id) first. Re-match and
				// apply as an update instead.
				existing, findErr := findLatest(ctx, tx, driver, txn.TransactionID)
				if findErr != nil {
					return fmt.Errorf("conflicting transaction not found after unique violation: %w", findErr)
				}
				if applyErr := apply(existing, true); applyErr != nil {
					return applyErr
				}
				txn = existing
				err = updateTransaction(ctx, tx, txn)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to persist reconciled transaction: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit reconciliation: %w", err)
		}
		result = txn
		return nil
	}, 3)

	return result, err
}

// LatestForPayable returns the newest transaction owned by a payable.
func (s *SQLiteStore) LatestForPayable(ctx context.Context, payableType, payableID string) (*Transaction, error) {
	query := `
	SELECT ` + transactionColumns + `
	FROM payment_transactions
	WHERE payable_type = ? AND payable_id = ?
	ORDER BY created_at DESC, rowid DESC
	LIMIT 1
	`
	txn, err := scanTransaction(s.db.QueryRowContext(ctx, query, payableType, payableID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load payable transaction: %w", err)
	}
	return txn, nil
}

// TotalPaid sums successful pay amounts for a payable.
func (s *SQLiteStore) TotalPaid(ctx context.Context, payableType, payableID string) (float64, error) {
	query := `
	SELECT COALESCE(SUM(amount), 0)
	FROM payment_transactions
	WHERE payable_type = ? AND payable_id = ? AND action = 'pay' AND status = ?
	`
	var total float64
	if err := s.db.QueryRowContext(ctx, query, payableType, payableID, StatusSuccess).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum paid amount: %w", err)
	}
	return total, nil
}

// HasSuccessfulPayment reports whether a payable has any successful payment.
func (s *SQLiteStore) HasSuccessfulPayment(ctx context.Context, payableType, payableID string) (bool, error) {
	query := `
	SELECT COUNT(1)
	FROM payment_transactions
	WHERE payable_type = ? AND payable_id = ? AND status = ?
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, payableType, payableID, StatusSuccess).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check successful payments: %w", err)
	}
	return count > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
