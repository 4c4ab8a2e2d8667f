package ordersync

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fieldline/ordersync/logging"
)

// Monitor tracks whether the client currently has connectivity and notifies
// registered handlers on every transition. The current state can be read at
// any time without blocking.
//
// The platform's connectivity signal feeds the monitor through SetOnline;
// StartProbing offers an HTTP-probe fallback for environments without a
// native signal.
type Monitor struct {
	mu       sync.RWMutex
	online   bool
	nextID   uint64
	handlers []monitorHandler
	logger   *logging.Logger

	probeStop chan struct{}
}

type monitorHandler struct {
	id uint64
	fn func(online bool)
}

// NewMonitor creates a Monitor with the given initial state. No transition
// handlers fire for the initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		logger: logging.WithComponent("connectivity"),
	}
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a connectivity change. Handlers run synchronously, in
// registration order, only on an actual transition.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	handlers := make([]monitorHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "online", online)
	for _, h := range handlers {
		h.fn(online)
	}
}

// OnChange registers a transition handler and returns a function that
// removes it. The remove function is idempotent.
func (m *Monitor) OnChange(fn func(online bool)) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.handlers = append(m.handlers, monitorHandler{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, h := range m.handlers {
				if h.id == id {
					m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
					break
				}
			}
		})
	}
}

// StartProbing begins polling the given URL at the interval and feeds the
// result into SetOnline. Any 2xx-5xx response counts as reachable; only a
// transport-level failure counts as offline. Probing stops when ctx is
// cancelled or StopProbing is called.
func (m *Monitor) StartProbing(ctx context.Context, url string, interval time.Duration, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.mu.Lock()
	if m.probeStop != nil {
		m.mu.Unlock()
		return // already probing
	}
	stop := make(chan struct{})
	m.probeStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.SetOnline(probe(ctx, client, url))
			}
		}
	}()
}

// StopProbing stops a probe loop started by StartProbing.
func (m *Monitor) StopProbing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probeStop != nil {
		close(m.probeStop)
		m.probeStop = nil
	}
}

func probe(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
