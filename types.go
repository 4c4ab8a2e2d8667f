package ordersync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tempIDPrefix marks identifiers minted locally for records created while
// offline. Server-assigned ids never carry it.
const tempIDPrefix = "offline-"

// NewTemporaryID returns a locally-generated identifier for a record created
// offline. The id is time-based so replay diagnostics sort naturally, with a
// UUID suffix to stay unique within one nanosecond.
func NewTemporaryID() string {
	return fmt.Sprintf("%s%d-%s", tempIDPrefix, time.Now().UnixNano(), uuid.NewString())
}

// IsTemporaryID reports whether id was minted by NewTemporaryID rather than
// assigned by the server.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Order is a cached sales-order record. The domain fields mirror the remote
// API wire format; the bookkeeping flags are set by the Engine only, never
// by callers.
type Order struct {
	ID               string  `json:"id"`
	CustomerName     string  `json:"customer_name"`
	BusinessName     string  `json:"business_name,omitempty"`
	Email            string  `json:"email,omitempty"`
	AccountReference string  `json:"account_reference,omitempty"`
	InstallDate      string  `json:"install_date,omitempty"` // YYYY-MM-DD
	Status           string  `json:"status,omitempty"`
	Total            float64 `json:"total,omitempty"`
	Notes            string  `json:"notes,omitempty"`

	// Bookkeeping maintained by the Engine.
	Synced         bool      `json:"synced"`
	CachedAt       time.Time `json:"cached_at,omitempty"`
	CreatedOffline bool      `json:"created_offline,omitempty"`
	UpdatedOffline bool      `json:"updated_offline,omitempty"`
	Deleted        bool      `json:"deleted,omitempty"`
}

// OrderPatch is a partial update to an order. Nil fields are left untouched.
type OrderPatch struct {
	CustomerName     *string  `json:"customer_name,omitempty"`
	BusinessName     *string  `json:"business_name,omitempty"`
	Email            *string  `json:"email,omitempty"`
	AccountReference *string  `json:"account_reference,omitempty"`
	InstallDate      *string  `json:"install_date,omitempty"`
	Status           *string  `json:"status,omitempty"`
	Total            *float64 `json:"total,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
}

// ApplyTo merges the non-nil patch fields into the order.
func (p OrderPatch) ApplyTo(o *Order) {
	if p.CustomerName != nil {
		o.CustomerName = *p.CustomerName
	}
	if p.BusinessName != nil {
		o.BusinessName = *p.BusinessName
	}
	if p.Email != nil {
		o.Email = *p.Email
	}
	if p.AccountReference != nil {
		o.AccountReference = *p.AccountReference
	}
	if p.InstallDate != nil {
		o.InstallDate = *p.InstallDate
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Total != nil {
		o.Total = *p.Total
	}
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
}

// OrderFilter selects orders on the read path. The same semantics apply
// remotely (as query parameters) and locally (against the cache).
type OrderFilter struct {
	// Search matches case-insensitively as a substring of the customer
	// name, business name, email, or account reference.
	Search string `json:"search,omitempty"`

	// InstallDateFrom and InstallDateTo bound the install date inclusively.
	// Both use the YYYY-MM-DD format, which compares correctly as a string.
	InstallDateFrom string `json:"install_date_from,omitempty"`
	InstallDateTo   string `json:"install_date_to,omitempty"`
}

// IsZero reports whether the filter selects everything.
func (f OrderFilter) IsZero() bool {
	return f.Search == "" && f.InstallDateFrom == "" && f.InstallDateTo == ""
}

// Match reports whether the order satisfies the filter. Used when serving
// reads from the cache.
func (f OrderFilter) Match(o Order) bool {
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(o.CustomerName), needle) &&
			!strings.Contains(strings.ToLower(o.BusinessName), needle) &&
			!strings.Contains(strings.ToLower(o.Email), needle) &&
			!strings.Contains(strings.ToLower(o.AccountReference), needle) {
			return false
		}
	}
	if f.InstallDateFrom != "" && o.InstallDate < f.InstallDateFrom {
		return false
	}
	if f.InstallDateTo != "" && o.InstallDate > f.InstallDateTo {
		return false
	}
	return true
}

// OrderPage is the result of a list read. FromCache is true when the result
// was served from the local cache instead of the remote API.
type OrderPage struct {
	Orders    []Order `json:"orders"`
	Total     int     `json:"total"`
	FromCache bool    `json:"from_cache,omitempty"`
}

// Notification is a cached notification record.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Bookkeeping maintained by the Engine.
	Synced         bool      `json:"synced"`
	CachedAt       time.Time `json:"cached_at,omitempty"`
	UpdatedOffline bool      `json:"updated_offline,omitempty"`
}

// NotificationPage is the result of a notification list read.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	FromCache     bool           `json:"from_cache,omitempty"`
}

// Operation identifies the kind of queued mutation.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Entity identifies the collection a queued mutation targets.
type Entity string

const (
	EntityOrder        Entity = "order"
	EntityNotification Entity = "notification"
)

// QueueEntry is one pending mutation recorded while offline. Entries replay
// in insertion order; an entry leaves the queue only after a successful
// replay or after Retries reaches the engine's retry ceiling.
type QueueEntry struct {
	ID        string          `json:"id"`
	Operation Operation       `json:"operation"`
	Entity    Entity          `json:"entity"`
	EntityID  string          `json:"entity_id,omitempty"` // absent for CREATE
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Synced    bool            `json:"synced"`
	Retries   int             `json:"retries"`
	LastError string          `json:"last_error,omitempty"`
}

// NewQueueEntry builds a pending entry for the given mutation.
func NewQueueEntry(op Operation, entity Entity, entityID string, data json.RawMessage) QueueEntry {
	return QueueEntry{
		ID:        uuid.NewString(),
		Operation: op,
		Entity:    entity,
		EntityID:  entityID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Status is a cheap read-only snapshot of the sync state for UI display.
// Reading it never triggers a sync.
type Status struct {
	QueuedItems    int       `json:"queued_items"`
	OldestQueued   time.Time `json:"oldest_queued,omitempty"`
	LastSync       time.Time `json:"last_sync,omitempty"`
	IsOnline       bool      `json:"is_online"`
	SyncInProgress bool      `json:"sync_in_progress"`
}
