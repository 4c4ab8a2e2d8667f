// Package ordersync provides an offline-first synchronization engine for
// sales-order clients. It serves reads from a remote API while connectivity
// is available, falls back to a durable local cache when it is not, queues
// mutations made offline, and replays them in order once the client comes
// back online. UI layers observe progress through a typed event bus instead
// of polling.
package ordersync

import (
	"context"
	"time"
)

// Store provides durable, query-able client-side persistence for the cached
// collections, the mutation queue, and sync metadata. It survives process
// restarts and holds no business logic; all access goes through the Engine.
// Implementations can use any storage backend (SQLite, in-memory, etc.).
type Store interface {
	// ReplaceOrders atomically clears the orders collection and inserts the
	// given records in order. Used for wholesale cache refresh.
	ReplaceOrders(ctx context.Context, orders []Order) error

	// ListOrders returns all cached orders in insertion order, including
	// tombstoned records.
	ListOrders(ctx context.Context) ([]Order, error)

	// GetOrder looks up a cached order by its business id. A record that is
	// not cached surfaces as a not-found error (see errors.IsNotFound).
	GetOrder(ctx context.Context, id string) (*Order, error)

	// PutOrder inserts or updates a single cached order by business id.
	PutOrder(ctx context.Context, order Order) error

	// DeleteOrder physically removes a cached order.
	DeleteOrder(ctx context.Context, id string) error

	// ReplaceNotifications atomically clears and re-inserts the
	// notifications collection.
	ReplaceNotifications(ctx context.Context, notifications []Notification) error

	// ListNotifications returns all cached notifications in insertion order.
	ListNotifications(ctx context.Context) ([]Notification, error)

	// GetNotification looks up a cached notification by its business id.
	GetNotification(ctx context.Context, id string) (*Notification, error)

	// PutNotification inserts or updates a single cached notification.
	PutNotification(ctx context.Context, notification Notification) error

	// AppendQueueEntry appends a pending mutation to the queue. Insertion
	// order is the replay order.
	AppendQueueEntry(ctx context.Context, entry QueueEntry) error

	// PendingQueueEntries returns all entries with synced = false in
	// insertion (FIFO) order.
	PendingQueueEntries(ctx context.Context) ([]QueueEntry, error)

	// UpdateQueueEntry rewrites an existing queue entry (retry count,
	// last error, synced flag) identified by entry.ID.
	UpdateQueueEntry(ctx context.Context, entry QueueEntry) error

	// DeleteQueueEntry removes a queue entry by id.
	DeleteQueueEntry(ctx context.Context, id string) error

	// PendingQueueCount returns the number of entries with synced = false.
	PendingQueueCount(ctx context.Context) (int, error)

	// LastSyncTime returns the recorded end time of the last completed sync
	// pass, or the zero time if no sync has completed yet.
	LastSyncTime(ctx context.Context) (time.Time, error)

	// SetLastSyncTime records the end time of a completed sync pass.
	SetLastSyncTime(ctx context.Context, t time.Time) error

	// Clear empties every collection, the queue, and the metadata.
	// Used for logout/reset flows.
	Clear(ctx context.Context) error

	// Close releases the underlying storage resources.
	Close() error
}

// Gateway wraps the remote HTTP API, one call per domain operation. Any
// error returned is treated as "remote unavailable" on read paths and as
// "replay failed" on write paths; the Engine never inspects response bodies
// beyond the decoded records.
type Gateway interface {
	// GetAllOrders fetches orders matching the filter from the server.
	GetAllOrders(ctx context.Context, filter OrderFilter) (*OrderPage, error)

	// CreateOrder creates an order on the server and returns the record
	// with its server-assigned id.
	CreateOrder(ctx context.Context, order Order) (*Order, error)

	// UpdateOrder applies a partial update to an order on the server.
	UpdateOrder(ctx context.Context, id string, patch OrderPatch) (*Order, error)

	// DeleteOrder deletes an order on the server.
	DeleteOrder(ctx context.Context, id string) error

	// GetNotifications fetches all notifications for the current client.
	GetNotifications(ctx context.Context) ([]Notification, error)

	// MarkNotificationRead marks a notification as read on the server.
	MarkNotificationRead(ctx context.Context, id string) (*Notification, error)

	// Close releases any resources held by the gateway.
	Close() error
}
