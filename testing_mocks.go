package ordersync

// Shared in-memory mocks for tests in this package. The mock store keeps
// insertion order the way the SQLite store does; the mock gateway records
// every call and lets tests script failures per method.

import (
	"context"
	"fmt"
	"sync"
	"time"

	syncErrors "github.com/fieldline/ordersync/errors"
)

// memStore is an in-memory Store. Orders and notifications are kept in
// insertion order so FIFO assertions behave like the SQLite implementation.
type memStore struct {
	mu            sync.Mutex
	orders        []Order
	notifications []Notification
	queue         []QueueEntry
	lastSync      time.Time
	closed        bool

	// failing methods return failErr
	failing map[string]bool
	failErr error
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		failing: make(map[string]bool),
		failErr: fmt.Errorf("injected store failure"),
	}
}

func (s *memStore) failOn(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[method] = true
}

func (s *memStore) clearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = make(map[string]bool)
}

func (s *memStore) check(method string) error {
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if s.failing[method] {
		return s.failErr
	}
	return nil
}

func (s *memStore) ReplaceOrders(ctx context.Context, orders []Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ReplaceOrders"); err != nil {
		return err
	}
	s.orders = append([]Order(nil), orders...)
	return nil
}

func (s *memStore) ListOrders(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListOrders"); err != nil {
		return nil, err
	}
	return append([]Order(nil), s.orders...), nil
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetOrder"); err != nil {
		return nil, err
	}
	for _, o := range s.orders {
		if o.ID == id {
			cp := o
			return &cp, nil
		}
	}
	return nil, syncErrors.NewNotFoundError(syncErrors.OpLoad, "store",
		fmt.Errorf("order %s not cached", id))
}

func (s *memStore) PutOrder(ctx context.Context, order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("PutOrder"); err != nil {
		return err
	}
	for i, o := range s.orders {
		if o.ID == order.ID {
			s.orders[i] = order
			return nil
		}
	}
	s.orders = append(s.orders, order)
	return nil
}

func (s *memStore) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteOrder"); err != nil {
		return err
	}
	for i, o := range s.orders {
		if o.ID == id {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) ReplaceNotifications(ctx context.Context, notifications []Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ReplaceNotifications"); err != nil {
		return err
	}
	s.notifications = append([]Notification(nil), notifications...)
	return nil
}

func (s *memStore) ListNotifications(ctx context.Context) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListNotifications"); err != nil {
		return nil, err
	}
	return append([]Notification(nil), s.notifications...), nil
}

func (s *memStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("GetNotification"); err != nil {
		return nil, err
	}
	for _, n := range s.notifications {
		if n.ID == id {
			cp := n
			return &cp, nil
		}
	}
	return nil, syncErrors.NewNotFoundError(syncErrors.OpLoad, "store",
		fmt.Errorf("notification %s not cached", id))
}

func (s *memStore) PutNotification(ctx context.Context, notification Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("PutNotification"); err != nil {
		return err
	}
	for i, n := range s.notifications {
		if n.ID == notification.ID {
			s.notifications[i] = notification
			return nil
		}
	}
	s.notifications = append(s.notifications, notification)
	return nil
}

func (s *memStore) AppendQueueEntry(ctx context.Context, entry QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("AppendQueueEntry"); err != nil {
		return err
	}
	s.queue = append(s.queue, entry)
	return nil
}

func (s *memStore) PendingQueueEntries(ctx context.Context) ([]QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("PendingQueueEntries"); err != nil {
		return nil, err
	}
	var pending []QueueEntry
	for _, e := range s.queue {
		if !e.Synced {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func (s *memStore) UpdateQueueEntry(ctx context.Context, entry QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("UpdateQueueEntry"); err != nil {
		return err
	}
	for i, e := range s.queue {
		if e.ID == entry.ID {
			s.queue[i] = entry
			return nil
		}
	}
	return syncErrors.NewNotFoundError(syncErrors.OpQueue, "store",
		fmt.Errorf("queue entry %s not found", entry.ID))
}

func (s *memStore) DeleteQueueEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("DeleteQueueEntry"); err != nil {
		return err
	}
	for i, e := range s.queue {
		if e.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) PendingQueueCount(ctx context.Context) (int, error) {
	entries, err := s.PendingQueueEntries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *memStore) LastSyncTime(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("LastSyncTime"); err != nil {
		return time.Time{}, err
	}
	return s.lastSync, nil
}

func (s *memStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("SetLastSyncTime"); err != nil {
		return err
	}
	s.lastSync = t
	return nil
}

func (s *memStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Clear"); err != nil {
		return err
	}
	s.orders = nil
	s.notifications = nil
	s.queue = nil
	s.lastSync = time.Time{}
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// gatewayCall is one recorded call against the mock gateway.
type gatewayCall struct {
	Method   string
	EntityID string
}

// mockGateway is a scripted Gateway. Tests preload server-side state, inject
// per-method failures (optionally for a limited number of calls), and assert
// on the recorded call order.
type mockGateway struct {
	mu            sync.Mutex
	orders        []Order
	notifications []Notification
	nextID        int
	calls         []gatewayCall

	// failures maps a method name to the number of remaining calls that
	// should fail; a negative count fails forever.
	failures map[string]int
	closed   bool
}

var _ Gateway = (*mockGateway)(nil)

func newMockGateway() *mockGateway {
	return &mockGateway{
		nextID:   1000,
		failures: make(map[string]int),
	}
}

// failNext makes the next n calls to the method fail. n < 0 fails forever.
func (g *mockGateway) failNext(method string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[method] = n
}

func (g *mockGateway) record(method, entityID string) error {
	g.calls = append(g.calls, gatewayCall{Method: method, EntityID: entityID})
	if n, ok := g.failures[method]; ok && n != 0 {
		if n > 0 {
			g.failures[method] = n - 1
		}
		return syncErrors.NewNetworkError(syncErrors.OpReplay,
			fmt.Errorf("injected %s failure", method))
	}
	return nil
}

func (g *mockGateway) callsTo(method string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (g *mockGateway) GetAllOrders(ctx context.Context, filter OrderFilter) (*OrderPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("GetAllOrders", ""); err != nil {
		return nil, err
	}
	matched := make([]Order, 0, len(g.orders))
	for _, o := range g.orders {
		if filter.Match(o) {
			matched = append(matched, o)
		}
	}
	return &OrderPage{Orders: matched, Total: len(matched)}, nil
}

func (g *mockGateway) CreateOrder(ctx context.Context, order Order) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("CreateOrder", order.ID); err != nil {
		return nil, err
	}
	g.nextID++
	order.ID = fmt.Sprintf("srv-%d", g.nextID)
	order.Synced = false
	order.CreatedOffline = false
	g.orders = append(g.orders, order)
	cp := order
	return &cp, nil
}

func (g *mockGateway) UpdateOrder(ctx context.Context, id string, patch OrderPatch) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("UpdateOrder", id); err != nil {
		return nil, err
	}
	for i := range g.orders {
		if g.orders[i].ID == id {
			patch.ApplyTo(&g.orders[i])
			cp := g.orders[i]
			return &cp, nil
		}
	}
	return nil, syncErrors.NewNotFoundError(syncErrors.OpUpdateOrder, "gateway",
		fmt.Errorf("order %s not found", id))
}

func (g *mockGateway) DeleteOrder(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("DeleteOrder", id); err != nil {
		return err
	}
	for i := range g.orders {
		if g.orders[i].ID == id {
			g.orders = append(g.orders[:i], g.orders[i+1:]...)
			return nil
		}
	}
	return nil
}

func (g *mockGateway) GetNotifications(ctx context.Context) ([]Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("GetNotifications", ""); err != nil {
		return nil, err
	}
	return append([]Notification(nil), g.notifications...), nil
}

func (g *mockGateway) MarkNotificationRead(ctx context.Context, id string) (*Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("MarkNotificationRead", id); err != nil {
		return nil, err
	}
	for i := range g.notifications {
		if g.notifications[i].ID == id {
			g.notifications[i].Read = true
			cp := g.notifications[i]
			return &cp, nil
		}
	}
	return nil, syncErrors.NewNotFoundError(syncErrors.OpMarkRead, "gateway",
		fmt.Errorf("notification %s not found", id))
}

func (g *mockGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}
