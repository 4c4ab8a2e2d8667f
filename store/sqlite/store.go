// Package sqlite provides the SQLite implementation of the ordersync Store.
// Records are kept as JSON documents keyed by business id; the mutation
// queue rides in the same database so cached state and pending mutations
// stay transactionally consistent.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/fieldline/ordersync"
	syncErrors "github.com/fieldline/ordersync/errors"
	"github.com/fieldline/ordersync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for better error handling
var (
	ErrStoreClosed = errors.New("store is closed")
)

const lastSyncKey = "last_sync_time"

// Config holds configuration options for the Store.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:ordersync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// Enabled by default via DefaultConfig.
	EnableWAL bool

	// Connection pool settings. A client-side cache sees little
	// concurrency, so the defaults are small.
	MaxOpenConns    int           // Default: 4
	MaxIdleConns    int           // Default: 2
	ConnMaxLifetime time.Duration // Default: 1h
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.EnableWAL && c.DataSourceName != "" && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store implements the ordersync.Store interface on SQLite.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

// Compile-time check that Store satisfies the ordersync.Store interface.
var _ ordersync.Store = (*Store)(nil)

// NewWithDataSource is a convenience constructor using DefaultConfig.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// New opens (and if needed creates) the local database.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent("sqlite-store")
	logger.Info("opening local database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS orders (
        id          TEXT PRIMARY KEY,
        data        TEXT NOT NULL,
        deleted     INTEGER NOT NULL DEFAULT 0,
        cached_at   TIMESTAMP NOT NULL
    );
    CREATE TABLE IF NOT EXISTS notifications (
        id          TEXT PRIMARY KEY,
        data        TEXT NOT NULL,
        cached_at   TIMESTAMP NOT NULL
    );
    CREATE TABLE IF NOT EXISTS sync_queue (
        seq         INTEGER PRIMARY KEY AUTOINCREMENT,
        id          TEXT NOT NULL UNIQUE,
        operation   TEXT NOT NULL,
        entity      TEXT NOT NULL,
        entity_id   TEXT,
        data        TEXT,
        created_at  TIMESTAMP NOT NULL,
        synced      INTEGER NOT NULL DEFAULT 0,
        retries     INTEGER NOT NULL DEFAULT 0,
        last_error  TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_sync_queue_pending ON sync_queue (synced, seq);
    CREATE TABLE IF NOT EXISTS sync_metadata (
        key         TEXT PRIMARY KEY,
        value       TEXT NOT NULL
    );
    `
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// ReplaceOrders clears the orders collection and bulk-inserts the given
// records in one transaction, preserving their order.
func (s *Store) ReplaceOrders(ctx context.Context, orders []ordersync.Order) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.replaceAll(ctx, "orders", len(orders), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO orders (id, data, deleted, cached_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, o := range orders {
			data, err := json.Marshal(o)
			if err != nil {
				return fmt.Errorf("failed to marshal order %s: %w", o.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, o.ID, string(data), boolToInt(o.Deleted), o.CachedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// replaceAll runs a clear-then-bulk-insert inside a single transaction.
func (s *Store) replaceAll(ctx context.Context, table string, count int, insert func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if err = insert(tx); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	s.logger.Debug("collection replaced", slog.String("table", table), slog.Int("records", count))
	return nil
}

// ListOrders returns all cached orders in insertion order.
func (s *Store) ListOrders(ctx context.Context) ([]ordersync.Order, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM orders ORDER BY rowid ASC`)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var orders []ordersync.Order
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		var o ordersync.Order
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return orders, nil
}

// GetOrder looks up one cached order by business id.
func (s *Store) GetOrder(ctx context.Context, id string) (*ordersync.Order, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM orders WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.NewNotFoundError(syncErrors.OpLoad, "store",
			fmt.Errorf("order %s not cached", id))
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	var o ordersync.Order
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &o, nil
}

// PutOrder upserts one cached order by business id, preserving its position
// in the collection when it already exists.
func (s *Store) PutOrder(ctx context.Context, o ordersync.Order) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", o.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO orders (id, data, deleted, cached_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET data = excluded.data, deleted = excluded.deleted, cached_at = excluded.cached_at`,
		o.ID, string(data), boolToInt(o.Deleted), o.CachedAt)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// DeleteOrder physically removes one cached order.
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// ReplaceNotifications clears and bulk-inserts the notifications collection.
func (s *Store) ReplaceNotifications(ctx context.Context, notifications []ordersync.Notification) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.replaceAll(ctx, "notifications", len(notifications), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO notifications (id, data, cached_at) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, n := range notifications {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("failed to marshal notification %s: %w", n.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, n.ID, string(data), n.CachedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListNotifications returns all cached notifications in insertion order.
func (s *Store) ListNotifications(ctx context.Context) ([]ordersync.Notification, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM notifications ORDER BY rowid ASC`)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var notifications []ordersync.Notification
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		var n ordersync.Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return notifications, nil
}

// GetNotification looks up one cached notification by business id.
func (s *Store) GetNotification(ctx context.Context, id string) (*ordersync.Notification, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM notifications WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.NewNotFoundError(syncErrors.OpLoad, "store",
			fmt.Errorf("notification %s not cached", id))
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	var n ordersync.Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return &n, nil
}

// PutNotification upserts one cached notification by business id.
func (s *Store) PutNotification(ctx context.Context, n ordersync.Notification) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification %s: %w", n.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO notifications (id, data, cached_at) VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at`,
		n.ID, string(data), n.CachedAt)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// AppendQueueEntry appends one pending mutation. The AUTOINCREMENT sequence
// column fixes the replay order.
func (s *Store) AppendQueueEntry(ctx context.Context, entry ordersync.QueueEntry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sync_queue (id, operation, entity, entity_id, data, created_at, synced, retries, last_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Operation), string(entry.Entity), entry.EntityID,
		string(entry.Data), entry.Timestamp, boolToInt(entry.Synced), entry.Retries, entry.LastError)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpQueue, err)
	}
	return nil
}

// PendingQueueEntries returns every unsynced entry in insertion order.
func (s *Store) PendingQueueEntries(ctx context.Context) ([]ordersync.QueueEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, operation, entity, entity_id, data, created_at, retries, last_error
        FROM sync_queue WHERE synced = 0 ORDER BY seq ASC`)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	var entries []ordersync.QueueEntry
	for rows.Next() {
		var entry ordersync.QueueEntry
		var op, entity string
		var entityID, data, lastError sql.NullString
		if err := rows.Scan(&entry.ID, &op, &entity, &entityID, &data, &entry.Timestamp, &entry.Retries, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		entry.Operation = ordersync.Operation(op)
		entry.Entity = ordersync.Entity(entity)
		entry.EntityID = entityID.String
		if data.Valid && data.String != "" {
			entry.Data = json.RawMessage(data.String)
		}
		entry.LastError = lastError.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}

// UpdateQueueEntry rewrites an entry's mutable bookkeeping fields.
func (s *Store) UpdateQueueEntry(ctx context.Context, entry ordersync.QueueEntry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
        UPDATE sync_queue SET synced = ?, retries = ?, last_error = ? WHERE id = ?`,
		boolToInt(entry.Synced), entry.Retries, entry.LastError, entry.ID)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpQueue, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return syncErrors.NewNotFoundError(syncErrors.OpQueue, "store",
			fmt.Errorf("queue entry %s not found", entry.ID))
	}
	return nil
}

// DeleteQueueEntry removes one entry by id.
func (s *Store) DeleteQueueEntry(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpQueue, err)
	}
	return nil
}

// PendingQueueCount returns the number of unsynced entries.
func (s *Store) PendingQueueCount(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return count, nil
}

// LastSyncTime returns the recorded end of the last completed sync pass, or
// the zero time when no pass has completed.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	if err := s.checkOpen(); err != nil {
		return time.Time{}, err
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_metadata WHERE key = ?`, lastSyncKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last sync time %q: %w", value, err)
	}
	return t, nil
}

// SetLastSyncTime records the end of a completed sync pass.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sync_metadata (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastSyncKey, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// Clear empties every collection, the queue, and the metadata in a single
// transaction.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpClear, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"orders", "notifications", "sync_queue", "sync_metadata"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpClear, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpClear, err)
	}

	s.logger.Info("local database cleared")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
