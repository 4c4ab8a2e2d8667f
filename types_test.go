package ordersync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemporaryIDs(t *testing.T) {
	id := NewTemporaryID()
	assert.True(t, IsTemporaryID(id))
	assert.False(t, IsTemporaryID("srv-1001"))
	assert.NotEqual(t, id, NewTemporaryID())
}

func TestOrderPatchApplyTo(t *testing.T) {
	o := Order{
		ID:           "srv-1",
		CustomerName: "Ada Lovelace",
		Status:       "pending",
		Total:        120.50,
	}

	status := "installed"
	total := 99.0
	OrderPatch{Status: &status, Total: &total}.ApplyTo(&o)

	assert.Equal(t, "installed", o.Status)
	assert.Equal(t, 99.0, o.Total)
	// Untouched fields survive.
	assert.Equal(t, "Ada Lovelace", o.CustomerName)
}

func TestOrderPatchOmitsNilFields(t *testing.T) {
	status := "installed"
	data, err := json.Marshal(OrderPatch{Status: &status})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"installed"}`, string(data))
}

func TestOrderFilterSearch(t *testing.T) {
	o := Order{
		CustomerName:     "Ada Lovelace",
		BusinessName:     "Analytical Engines Ltd",
		Email:            "ada@example.com",
		AccountReference: "ACME-7",
	}

	tests := []struct {
		name   string
		search string
		want   bool
	}{
		{"customer name, case-insensitive", "ada LOVE", true},
		{"customer name substring", "lovelace", true},
		{"business name", "analytical", true},
		{"email", "example.com", true},
		{"account reference", "acme", true},
		{"no match", "hopper", false},
		{"empty matches everything", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := OrderFilter{Search: tt.search}
			assert.Equal(t, tt.want, f.Match(o))
		})
	}
}

func TestOrderFilterInstallDateBounds(t *testing.T) {
	o := Order{CustomerName: "Ada Lovelace", InstallDate: "2026-02-15"}

	assert.True(t, OrderFilter{InstallDateFrom: "2026-02-15"}.Match(o), "from bound is inclusive")
	assert.True(t, OrderFilter{InstallDateTo: "2026-02-15"}.Match(o), "to bound is inclusive")
	assert.False(t, OrderFilter{InstallDateFrom: "2026-02-16"}.Match(o))
	assert.False(t, OrderFilter{InstallDateTo: "2026-02-14"}.Match(o))
	assert.True(t, OrderFilter{InstallDateFrom: "2026-01-01", InstallDateTo: "2026-12-31"}.Match(o))
}

func TestOrderFilterIsZero(t *testing.T) {
	assert.True(t, OrderFilter{}.IsZero())
	assert.False(t, OrderFilter{Search: "ada"}.IsZero())
	assert.False(t, OrderFilter{InstallDateFrom: "2026-01-01"}.IsZero())
}

func TestNewQueueEntry(t *testing.T) {
	data := json.RawMessage(`{"status":"installed"}`)
	entry := NewQueueEntry(OpUpdate, EntityOrder, "srv-1", data)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, OpUpdate, entry.Operation)
	assert.Equal(t, EntityOrder, entry.Entity)
	assert.Equal(t, "srv-1", entry.EntityID)
	assert.False(t, entry.Synced)
	assert.Zero(t, entry.Retries)
	assert.False(t, entry.Timestamp.IsZero())
}
