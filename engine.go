package ordersync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	syncErrors "github.com/fieldline/ordersync/errors"
	"github.com/fieldline/ordersync/logging"
)

// Options configures Engine behavior. The zero value is usable; missing
// fields get defaults from setDefaults.
type Options struct {
	// MaxRetries is the replay ceiling per queue entry. An entry that fails
	// this many times is discarded. Default: 3.
	MaxRetries int

	// SyncTimeout bounds a single sync pass so a stuck pass cannot hold the
	// in-progress guard forever. Default: 30s.
	SyncTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = 30 * time.Second
	}
}

// Engine is the single authority for reading and writing domain data so the
// UI never needs to know whether the client is online. Reads are served
// remote-first with a cache fallback; writes made offline are applied
// optimistically and queued for replay.
//
// Construct one Engine at app start and pass it by reference; call Start to
// attach it to the connectivity monitor and Close to detach.
type Engine struct {
	store   Store
	gateway Gateway
	monitor *Monitor
	bus     *Bus
	opts    Options
	logger  *logging.Logger

	mu             sync.Mutex
	syncInProgress bool
	detach         func()
	closed         bool
}

// NewEngine wires an Engine from its collaborators. opts may be nil.
func NewEngine(store Store, gateway Gateway, monitor *Monitor, bus *Bus, opts *Options) *Engine {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.setDefaults()

	return &Engine{
		store:   store,
		gateway: gateway,
		monitor: monitor,
		bus:     bus,
		opts:    o,
		logger:  logging.WithComponent("engine"),
	}
}

// Bus returns the event bus UI consumers subscribe to.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Start attaches the engine to the connectivity monitor: a transition to
// online publishes the online event and kicks off a sync pass; a transition
// to offline publishes the offline event and nothing else. Start is
// idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detach != nil || e.closed {
		return
	}

	e.detach = e.monitor.OnChange(func(online bool) {
		if online {
			e.bus.Publish(Event{Type: EventOnline})
			go func() {
				if err := e.SyncWithServer(context.WithoutCancel(ctx)); err != nil {
					e.logger.LogError(ctx, err, "sync after reconnect failed")
				}
			}()
			return
		}
		e.bus.Publish(Event{Type: EventOffline})
	})
}

// Close detaches the engine from the connectivity monitor and closes the
// store and gateway. The engine must not be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	detach := e.detach
	e.detach = nil
	e.mu.Unlock()

	if detach != nil {
		detach()
	}

	var errs []error
	if err := e.gateway.Close(); err != nil {
		errs = append(errs, syncErrors.NewWithComponent(syncErrors.OpClose, "gateway", err))
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, syncErrors.NewWithComponent(syncErrors.OpClose, "store", err))
	}
	if len(errs) > 0 {
		return syncErrors.New(syncErrors.OpClose, fmt.Errorf("multiple close errors: %v", errs))
	}
	return nil
}

// GetOrders serves an offline-first list read. Online it fetches from the
// remote API and refreshes the cache wholesale; offline, or when the remote
// fetch fails, it applies the same filter semantics against the cache and
// tags the result FromCache. Being offline is never an error here; only a
// failing cache read surfaces one.
func (e *Engine) GetOrders(ctx context.Context, filter OrderFilter) (*OrderPage, error) {
	if e.monitor.Online() {
		page, err := e.fetchAndReconcileOrders(ctx, filter)
		if err == nil {
			return page, nil
		}
		e.logger.LogError(ctx, err, "remote order fetch failed, serving cache")
	}
	return e.cachedOrders(ctx, filter)
}

// fetchAndReconcileOrders is the explicit two-step online read pipeline:
// fetch from the gateway, then mirror the result into the local cache.
func (e *Engine) fetchAndReconcileOrders(ctx context.Context, filter OrderFilter) (*OrderPage, error) {
	page, err := e.gateway.GetAllOrders(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cached := make([]Order, len(page.Orders))
	for i, o := range page.Orders {
		o.Synced = true
		o.CachedAt = now
		o.CreatedOffline = false
		o.UpdatedOffline = false
		o.Deleted = false
		cached[i] = o
	}
	if err := e.store.ReplaceOrders(ctx, cached); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpReconcile, err)
	}

	return &OrderPage{Orders: cached, Total: page.Total}, nil
}

func (e *Engine) cachedOrders(ctx context.Context, filter OrderFilter) (*OrderPage, error) {
	all, err := e.store.ListOrders(ctx)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpGetOrders, err)
	}

	matched := make([]Order, 0, len(all))
	for _, o := range all {
		if o.Deleted {
			continue // tombstoned locally, hide until the delete replays
		}
		if filter.Match(o) {
			matched = append(matched, o)
		}
	}

	return &OrderPage{Orders: matched, Total: len(matched), FromCache: true}, nil
}

// CreateOrder creates an order remotely when online, or applies it
// optimistically with a temporary id and queues a CREATE mutation when
// offline. A failed online create surfaces as an error; it is not demoted
// to a queued write.
func (e *Engine) CreateOrder(ctx context.Context, order Order) (*Order, error) {
	if e.monitor.Online() {
		created, err := e.gateway.CreateOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		created.Synced = true
		created.CachedAt = time.Now().UTC()
		if err := e.store.PutOrder(ctx, *created); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpCreateOrder, err)
		}
		return created, nil
	}

	order.ID = NewTemporaryID()
	order.Synced = false
	order.CreatedOffline = true
	order.CachedAt = time.Now().UTC()
	if err := e.store.PutOrder(ctx, order); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpCreateOrder, err)
	}

	if err := e.enqueue(ctx, OpCreate, EntityOrder, "", order); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder applies a partial update remotely when online, or merges it
// into the cached record and queues an UPDATE mutation when offline. An
// offline update to a record absent from the cache fails with a not-found
// error and queues nothing.
func (e *Engine) UpdateOrder(ctx context.Context, orderID string, patch OrderPatch) (*Order, error) {
	if e.monitor.Online() {
		updated, err := e.gateway.UpdateOrder(ctx, orderID, patch)
		if err != nil {
			return nil, err
		}
		updated.Synced = true
		updated.CachedAt = time.Now().UTC()
		if err := e.store.PutOrder(ctx, *updated); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpUpdateOrder, err)
		}
		return updated, nil
	}

	cur, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	patch.ApplyTo(cur)
	cur.Synced = false
	cur.UpdatedOffline = true
	if err := e.store.PutOrder(ctx, *cur); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpUpdateOrder, err)
	}

	if err := e.enqueue(ctx, OpUpdate, EntityOrder, orderID, patch); err != nil {
		return nil, err
	}
	return cur, nil
}

// DeleteOrder deletes remotely when online. Offline it tombstones the
// cached record rather than removing it, so list reads can exclude it
// client-side until the DELETE replays, and queues a DELETE mutation.
func (e *Engine) DeleteOrder(ctx context.Context, orderID string) error {
	if e.monitor.Online() {
		if err := e.gateway.DeleteOrder(ctx, orderID); err != nil {
			return err
		}
		if err := e.store.DeleteOrder(ctx, orderID); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpDeleteOrder, err)
		}
		return nil
	}

	cur, err := e.store.GetOrder(ctx, orderID)
	if err == nil {
		cur.Deleted = true
		cur.Synced = false
		if err := e.store.PutOrder(ctx, *cur); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpDeleteOrder, err)
		}
	} else if !syncErrors.IsNotFound(err) {
		return err
	}

	return e.enqueue(ctx, OpDelete, EntityOrder, orderID, nil)
}

// GetNotifications serves an offline-first notification list read with the
// same shape as GetOrders.
func (e *Engine) GetNotifications(ctx context.Context) (*NotificationPage, error) {
	if e.monitor.Online() {
		page, err := e.fetchAndReconcileNotifications(ctx)
		if err == nil {
			return page, nil
		}
		e.logger.LogError(ctx, err, "remote notification fetch failed, serving cache")
	}

	all, err := e.store.ListNotifications(ctx)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpGetNotifications, err)
	}
	return &NotificationPage{Notifications: all, FromCache: true}, nil
}

func (e *Engine) fetchAndReconcileNotifications(ctx context.Context) (*NotificationPage, error) {
	remote, err := e.gateway.GetNotifications(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cached := make([]Notification, len(remote))
	for i, n := range remote {
		n.Synced = true
		n.CachedAt = now
		n.UpdatedOffline = false
		cached[i] = n
	}
	if err := e.store.ReplaceNotifications(ctx, cached); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpReconcile, err)
	}

	return &NotificationPage{Notifications: cached}, nil
}

// MarkNotificationAsRead marks a notification read remotely when online, or
// flips the cached record and queues an UPDATE mutation when offline.
func (e *Engine) MarkNotificationAsRead(ctx context.Context, id string) (*Notification, error) {
	if e.monitor.Online() {
		updated, err := e.gateway.MarkNotificationRead(ctx, id)
		if err != nil {
			return nil, err
		}
		updated.Synced = true
		updated.CachedAt = time.Now().UTC()
		if err := e.store.PutNotification(ctx, *updated); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpMarkRead, err)
		}
		return updated, nil
	}

	cur, err := e.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	cur.Read = true
	cur.Synced = false
	cur.UpdatedOffline = true
	if err := e.store.PutNotification(ctx, *cur); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpMarkRead, err)
	}

	if err := e.enqueue(ctx, OpUpdate, EntityNotification, id, nil); err != nil {
		return nil, err
	}
	return cur, nil
}

// enqueue appends a mutation to the queue and publishes a queued event.
func (e *Engine) enqueue(ctx context.Context, op Operation, entity Entity, entityID string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return syncErrors.NewValidationError(syncErrors.OpQueue, err)
		}
	}

	entry := NewQueueEntry(op, entity, entityID, data)
	if err := e.store.AppendQueueEntry(ctx, entry); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpQueue, err)
	}

	e.logger.Info("mutation queued for replay",
		"operation", string(op),
		"entity", string(entity),
		"entity_id", entityID,
	)
	e.bus.Publish(Event{Type: EventQueued, Operation: op, Entity: entity})
	return nil
}

// SyncWithServer replays the pending mutation queue against the remote API
// and then reconciles the cached collections with server truth. It returns
// immediately without error when a sync is already running or the client is
// offline. The pass is bounded by Options.SyncTimeout, and the in-progress
// guard is released on every exit path.
func (e *Engine) SyncWithServer(ctx context.Context) error {
	e.mu.Lock()
	if e.syncInProgress || e.closed || !e.monitor.Online() {
		e.mu.Unlock()
		return nil
	}
	e.syncInProgress = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncInProgress = false
		e.mu.Unlock()
	}()

	opCtx, cancel := context.WithTimeout(ctx, e.opts.SyncTimeout)
	defer cancel()

	e.bus.Publish(Event{Type: EventSyncStarted})

	succeeded, failed, err := e.runSyncPass(opCtx)
	if err != nil {
		e.logger.LogError(ctx, err, "sync pass failed")
		e.bus.Publish(Event{Type: EventSyncFailed, Error: err.Error()})
		return err
	}

	e.logger.Info("sync pass completed", "succeeded", succeeded, "failed", failed)
	e.bus.Publish(Event{Type: EventSyncCompleted, Succeeded: succeeded, Failed: failed})
	return nil
}

// runSyncPass processes the queue in FIFO order, records the sync time, and
// refreshes the cached collections. Per-entry replay failures count toward
// the entry's retry ceiling without failing the pass; store failures and
// reconciliation failures fail the pass itself.
func (e *Engine) runSyncPass(ctx context.Context) (succeeded, failed int, err error) {
	entries, err := e.store.PendingQueueEntries(ctx)
	if err != nil {
		return 0, 0, syncErrors.NewStorageError(syncErrors.OpSync, err)
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return succeeded, failed, syncErrors.New(syncErrors.OpSync, ctx.Err())
		default:
		}

		replayErr := e.replayEntry(ctx, entry)
		if replayErr == nil {
			succeeded++
			if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
				return succeeded, failed, syncErrors.NewStorageError(syncErrors.OpSync, err)
			}
			continue
		}

		failed++
		entry.Retries++
		entry.LastError = replayErr.Error()

		if entry.Retries >= e.opts.MaxRetries {
			// Give up on the entry so one permanently-broken mutation
			// cannot grow the backlog forever. The full entry is logged as
			// the only dead-letter trail before it is discarded.
			e.logger.Error("queued mutation discarded after retry ceiling",
				"entry_id", entry.ID,
				"operation", string(entry.Operation),
				"entity", string(entry.Entity),
				"entity_id", entry.EntityID,
				"data", string(entry.Data),
				"retries", entry.Retries,
				"last_error", entry.LastError,
			)
			if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
				return succeeded, failed, syncErrors.NewStorageError(syncErrors.OpSync, err)
			}
			continue
		}

		e.logger.Warn("queued mutation replay failed, will retry",
			"entry_id", entry.ID,
			"operation", string(entry.Operation),
			"entity", string(entry.Entity),
			"retries", entry.Retries,
			"error", replayErr.Error(),
		)
		if err := e.store.UpdateQueueEntry(ctx, entry); err != nil {
			return succeeded, failed, syncErrors.NewStorageError(syncErrors.OpSync, err)
		}
	}

	// The pass counts as (possibly partially) completed once the queue has
	// been processed, so the sync time advances even when entries failed.
	if err := e.store.SetLastSyncTime(ctx, time.Now().UTC()); err != nil {
		return succeeded, failed, syncErrors.NewStorageError(syncErrors.OpSync, err)
	}

	// Reconcile with server truth. This is how temporary ids and other
	// server-side effects of the replay become visible locally.
	if _, err := e.fetchAndReconcileOrders(ctx, OrderFilter{}); err != nil {
		return succeeded, failed, syncErrors.NewWithComponent(syncErrors.OpReconcile, "engine", err)
	}
	if _, err := e.fetchAndReconcileNotifications(ctx); err != nil {
		return succeeded, failed, syncErrors.NewWithComponent(syncErrors.OpReconcile, "engine", err)
	}

	return succeeded, failed, nil
}

// replayEntry dispatches one queue entry to the matching gateway call.
func (e *Engine) replayEntry(ctx context.Context, entry QueueEntry) error {
	switch entry.Entity {
	case EntityOrder:
		switch entry.Operation {
		case OpCreate:
			var order Order
			if err := json.Unmarshal(entry.Data, &order); err != nil {
				return syncErrors.NewValidationError(syncErrors.OpReplay, err)
			}
			_, err := e.gateway.CreateOrder(ctx, order)
			return err
		case OpUpdate:
			var patch OrderPatch
			if err := json.Unmarshal(entry.Data, &patch); err != nil {
				return syncErrors.NewValidationError(syncErrors.OpReplay, err)
			}
			_, err := e.gateway.UpdateOrder(ctx, entry.EntityID, patch)
			return err
		case OpDelete:
			return e.gateway.DeleteOrder(ctx, entry.EntityID)
		}
	case EntityNotification:
		if entry.Operation == OpUpdate {
			_, err := e.gateway.MarkNotificationRead(ctx, entry.EntityID)
			return err
		}
	}
	return syncErrors.New(syncErrors.OpReplay,
		fmt.Errorf("no replay handler for %s %s", entry.Operation, entry.Entity))
}

// QueueStatus returns a read-only snapshot for UI display. It never
// triggers a sync.
func (e *Engine) QueueStatus(ctx context.Context) (*Status, error) {
	entries, err := e.store.PendingQueueEntries(ctx)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	lastSync, err := e.store.LastSyncTime(ctx)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	e.mu.Lock()
	inProgress := e.syncInProgress
	e.mu.Unlock()

	status := &Status{
		QueuedItems:    len(entries),
		LastSync:       lastSync,
		IsOnline:       e.monitor.Online(),
		SyncInProgress: inProgress,
	}
	if len(entries) > 0 {
		status.OldestQueued = entries[0].Timestamp
	}
	return status, nil
}

// ClearOfflineData empties every cached collection and the mutation queue.
// Used for logout/reset flows.
func (e *Engine) ClearOfflineData(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpClear, err)
	}
	e.logger.Info("offline data cleared")
	return nil
}
