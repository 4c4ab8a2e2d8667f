// Package fakeremote is an in-process stand-in for the sales-order API. It
// backs the gateway tests and the demo command with real HTTP semantics:
// server-assigned ids, the documented filter parameters, JSON error
// envelopes, and scriptable failures.
package fakeremote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fieldline/ordersync"
)

// Server holds the fake API state. All exported mutators are safe for
// concurrent use.
type Server struct {
	mu            sync.Mutex
	orders        []ordersync.Order
	notifications []ordersync.Notification
	nextID        int
	requests      []string

	// failStatus, when non-zero, makes every request fail with that status
	// until ClearFailure is called.
	failStatus int
}

// New creates an empty fake API.
func New() *Server {
	return &Server{nextID: 1000}
}

// Handler returns the HTTP handler for the fake API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.recordAndMaybeFail)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", s.listOrders)
		r.Post("/", s.createOrder)
		r.Put("/{id}", s.updateOrder)
		r.Delete("/{id}", s.deleteOrder)
	})
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", s.listNotifications)
		r.Post("/{id}/read", s.markNotificationRead)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// FailWith makes every subsequent request fail with the given status code.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// ClearFailure restores normal behavior.
func (s *Server) ClearFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = 0
}

// Requests returns the "METHOD path" log of every request seen so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// SeedOrders replaces the order collection. Ids are kept as given.
func (s *Server) SeedOrders(orders ...ordersync.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append([]ordersync.Order(nil), orders...)
}

// SeedNotifications replaces the notification collection.
func (s *Server) SeedNotifications(notifications ...ordersync.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append([]ordersync.Notification(nil), notifications...)
}

// Orders returns a copy of the current order collection.
func (s *Server) Orders() []ordersync.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ordersync.Order(nil), s.orders...)
}

func (s *Server) recordAndMaybeFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		failStatus := s.failStatus
		s.mu.Unlock()

		if failStatus != 0 {
			writeError(w, failStatus, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := ordersync.OrderFilter{
		Search:          r.URL.Query().Get("search"),
		InstallDateFrom: r.URL.Query().Get("install_date_from"),
		InstallDateTo:   r.URL.Query().Get("install_date_to"),
	}

	s.mu.Lock()
	matched := make([]ordersync.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if filter.Match(o) {
			matched = append(matched, o)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ordersync.OrderPage{Orders: matched, Total: len(matched)})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var order ordersync.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order payload")
		return
	}
	if order.CustomerName == "" {
		writeError(w, http.StatusUnprocessableEntity, "customer_name is required")
		return
	}

	s.mu.Lock()
	s.nextID++
	order.ID = fmt.Sprintf("srv-%d", s.nextID)
	order.Synced = false
	order.CreatedOffline = false
	s.orders = append(s.orders, order)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) updateOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch ordersync.OrderPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == id {
			patch.ApplyTo(&s.orders[i])
			writeJSON(w, http.StatusOK, s.orders[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "order not found")
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == id {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "order not found")
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	notifications := append([]ordersync.Notification(nil), s.notifications...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ordersync.NotificationPage{Notifications: notifications})
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			writeJSON(w, http.StatusOK, s.notifications[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "notification not found")
}

// SeedDemoData loads a small fixture set for the demo command.
func (s *Server) SeedDemoData() {
	now := time.Now().UTC()
	s.SeedOrders(
		ordersync.Order{ID: "srv-1001", CustomerName: "Ada Lovelace", BusinessName: "Analytical Engines Ltd",
			Email: "ada@example.com", InstallDate: "2026-09-15", Status: "pending", Total: 1249.99},
		ordersync.Order{ID: "srv-1002", CustomerName: "Grace Hopper", BusinessName: "Flow-Matic Co",
			Email: "grace@example.com", InstallDate: "2026-09-22", Status: "scheduled", Total: 890.00},
	)
	s.SeedNotifications(
		ordersync.Notification{ID: "ntf-1", Title: "Install scheduled",
			Message: "Install for srv-1002 confirmed for 2026-09-22", CreatedAt: now},
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
