package ordersync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/fieldline/ordersync/errors"
)

type testRig struct {
	engine  *Engine
	store   *memStore
	gateway *mockGateway
	monitor *Monitor
	bus     *Bus
}

func newTestRig(t *testing.T, online bool, opts *Options) *testRig {
	t.Helper()
	rig := &testRig{
		store:   newMemStore(),
		gateway: newMockGateway(),
		monitor: NewMonitor(online),
		bus:     NewBus(),
	}
	rig.engine = NewEngine(rig.store, rig.gateway, rig.monitor, rig.bus, opts)
	return rig
}

// collectEvents records published events of the given types.
func (r *testRig) collectEvents(types ...EventType) *[]Event {
	want := make(map[EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	events := &[]Event{}
	r.bus.Subscribe(func(ev Event) {
		if len(want) == 0 || want[ev.Type] {
			*events = append(*events, ev)
		}
	})
	return events
}

func strPtr(s string) *string { return &s }

func TestGetOrdersOnlineRefreshesCache(t *testing.T) {
	rig := newTestRig(t, true, nil)
	rig.gateway.orders = []Order{
		{ID: "srv-1", CustomerName: "Ada Lovelace"},
		{ID: "srv-2", CustomerName: "Grace Hopper"},
	}

	page, err := rig.engine.GetOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)
	assert.False(t, page.FromCache)
	assert.Equal(t, 2, page.Total)

	cached, err := rig.store.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 2)
	for _, o := range cached {
		assert.True(t, o.Synced)
		assert.False(t, o.CachedAt.IsZero())
	}
}

func TestGetOrdersServesCacheWhenOffline(t *testing.T) {
	rig := newTestRig(t, true, nil)
	rig.gateway.orders = []Order{{ID: "srv-1", CustomerName: "Ada Lovelace"}}

	_, err := rig.engine.GetOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)

	rig.monitor.SetOnline(false)
	page, err := rig.engine.GetOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)
	assert.True(t, page.FromCache)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, "srv-1", page.Orders[0].ID)

	// No further remote calls were made after going offline.
	assert.Len(t, rig.gateway.callsTo("GetAllOrders"), 1)
}

func TestGetOrdersFallsBackToCacheOnRemoteFailure(t *testing.T) {
	rig := newTestRig(t, true, nil)
	rig.gateway.orders = []Order{{ID: "srv-1", CustomerName: "Ada Lovelace"}}

	_, err := rig.engine.GetOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)

	// Still "online" per the monitor, but the remote starts failing.
	rig.gateway.failNext("GetAllOrders", -1)

	page, err := rig.engine.GetOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)
	assert.True(t, page.FromCache)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, "srv-1", page.Orders[0].ID)
}

func TestCreateOrderOffline(t *testing.T) {
	rig := newTestRig(t, false, nil)
	queued := rig.collectEvents(EventQueued)

	created, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)
	assert.True(t, IsTemporaryID(created.ID))
	assert.True(t, created.CreatedOffline)
	assert.False(t, created.Synced)

	// Applied optimistically to the cache.
	cached, err := rig.store.GetOrder(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", cached.CustomerName)

	// Queued for replay, with an event announcing it.
	entries, err := rig.store.PendingQueueEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpCreate, entries[0].Operation)
	assert.Equal(t, EntityOrder, entries[0].Entity)

	require.Len(t, *queued, 1)
	assert.Equal(t, OpCreate, (*queued)[0].Operation)

	// Never touched the network.
	assert.Empty(t, rig.gateway.callsTo("CreateOrder"))
}

func TestUpdateOrderOfflineMergesPatch(t *testing.T) {
	rig := newTestRig(t, false, nil)
	require.NoError(t, rig.store.PutOrder(context.Background(), Order{
		ID: "srv-1", CustomerName: "Ada Lovelace", Status: "pending", Synced: true,
	}))

	updated, err := rig.engine.UpdateOrder(context.Background(), "srv-1", OrderPatch{
		Status: strPtr("installed"),
	})
	require.NoError(t, err)
	assert.Equal(t, "installed", updated.Status)
	assert.Equal(t, "Ada Lovelace", updated.CustomerName)
	assert.True(t, updated.UpdatedOffline)
	assert.False(t, updated.Synced)

	entries, err := rig.store.PendingQueueEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpUpdate, entries[0].Operation)
	assert.Equal(t, "srv-1", entries[0].EntityID)
}

func TestUpdateOrderOfflineNotCachedQueuesNothing(t *testing.T) {
	rig := newTestRig(t, false, nil)

	_, err := rig.engine.UpdateOrder(context.Background(), "missing", OrderPatch{
		Status: strPtr("installed"),
	})
	require.Error(t, err)
	assert.True(t, syncErrors.IsNotFound(err))

	count, err := rig.store.PendingQueueCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteOrderOfflineTombstones(t *testing.T) {
	rig := newTestRig(t, false, nil)
	require.NoError(t, rig.store.PutOrder(context.Background(), Order{
		ID: "srv-1", CustomerName: "Ada Lovelace", Synced: true,
	}))

	require.NoError(t, rig.engine.DeleteOrder(context.Background(), "srv-1"))

	// The record stays in the store as a tombstone...
	cached, err := rig.store.GetOrder(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.True(t, cached.Deleted)

	// ...but list reads exclude it.
	page, err := rig.engine.GetOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Orders)

	entries, err := rig.store.PendingQueueEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpDelete, entries[0].Operation)
	assert.Equal(t, "srv-1", entries[0].EntityID)
}

func TestCreateOrderOnlineFailureIsNotQueued(t *testing.T) {
	rig := newTestRig(t, true, nil)
	rig.gateway.failNext("CreateOrder", -1)

	_, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.Error(t, err)

	count, err := rig.store.PendingQueueCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSyncReplaysQueueInOrder(t *testing.T) {
	rig := newTestRig(t, false, nil)
	require.NoError(t, rig.store.PutOrder(context.Background(), Order{ID: "srv-9", Synced: true}))

	_, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)
	_, err = rig.engine.UpdateOrder(context.Background(), "srv-9", OrderPatch{Status: strPtr("installed")})
	require.NoError(t, err)
	require.NoError(t, rig.engine.DeleteOrder(context.Background(), "srv-9"))

	rig.monitor.SetOnline(true)
	completed := rig.collectEvents(EventSyncCompleted)
	require.NoError(t, rig.engine.SyncWithServer(context.Background()))

	// Replays hit the gateway in the order the mutations were queued.
	var replayed []string
	for _, c := range rig.gateway.calls {
		switch c.Method {
		case "CreateOrder", "UpdateOrder", "DeleteOrder":
			replayed = append(replayed, c.Method)
		}
	}
	assert.Equal(t, []string{"CreateOrder", "UpdateOrder", "DeleteOrder"}, replayed)

	// The queue drained and the completion event carries the tallies.
	count, err := rig.store.PendingQueueCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	require.Len(t, *completed, 1)
	assert.Equal(t, 3, (*completed)[0].Succeeded)
	assert.Zero(t, (*completed)[0].Failed)

	// Reconciliation replaced the temporary id with the server-assigned one.
	cached, err := rig.store.ListOrders(context.Background())
	require.NoError(t, err)
	for _, o := range cached {
		assert.False(t, IsTemporaryID(o.ID))
		assert.True(t, o.Synced)
	}
}

func TestSyncRetryCeilingDiscardsEntry(t *testing.T) {
	rig := newTestRig(t, false, nil)
	_, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)

	rig.monitor.SetOnline(true)
	rig.gateway.failNext("CreateOrder", -1)

	// First two passes leave the entry queued with a growing retry count.
	for pass, wantRetries := range []int{1, 2} {
		require.NoError(t, rig.engine.SyncWithServer(context.Background()), "pass %d", pass)
		entries, err := rig.store.PendingQueueEntries(context.Background())
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, wantRetries, entries[0].Retries)
		assert.NotEmpty(t, entries[0].LastError)
	}

	// The third failing pass hits the ceiling and discards the entry.
	require.NoError(t, rig.engine.SyncWithServer(context.Background()))
	count, err := rig.store.PendingQueueCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSyncFailedEntryDoesNotBlockLaterEntries(t *testing.T) {
	rig := newTestRig(t, false, nil)
	require.NoError(t, rig.store.PutOrder(context.Background(), Order{ID: "srv-9", Synced: true}))

	_, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)
	require.NoError(t, rig.engine.DeleteOrder(context.Background(), "srv-9"))

	rig.monitor.SetOnline(true)
	rig.gateway.failNext("CreateOrder", -1)
	completed := rig.collectEvents(EventSyncCompleted)
	require.NoError(t, rig.engine.SyncWithServer(context.Background()))

	// The delete behind the failing create still replayed.
	assert.Len(t, rig.gateway.callsTo("DeleteOrder"), 1)
	require.Len(t, *completed, 1)
	assert.Equal(t, 1, (*completed)[0].Succeeded)
	assert.Equal(t, 1, (*completed)[0].Failed)

	// Only the failed create remains queued.
	entries, err := rig.store.PendingQueueEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpCreate, entries[0].Operation)
}

func TestSyncIsNoopWhileOffline(t *testing.T) {
	rig := newTestRig(t, false, nil)
	_, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)

	started := rig.collectEvents(EventSyncStarted)
	require.NoError(t, rig.engine.SyncWithServer(context.Background()))

	assert.Empty(t, *started)
	count, err := rig.store.PendingQueueCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncReentrancyGuard(t *testing.T) {
	rig := newTestRig(t, true, nil)

	// A listener on sync_started tries to start a second sync. The nested
	// call must return immediately without starting another pass.
	started := 0
	rig.bus.Subscribe(func(ev Event) {
		if ev.Type == EventSyncStarted {
			started++
			require.NoError(t, rig.engine.SyncWithServer(context.Background()))
		}
	})

	require.NoError(t, rig.engine.SyncWithServer(context.Background()))
	assert.Equal(t, 1, started)
}

func TestSyncWithEmptyQueueIsIdempotent(t *testing.T) {
	rig := newTestRig(t, true, nil)
	rig.gateway.orders = []Order{{ID: "srv-1", CustomerName: "Ada Lovelace"}}

	require.NoError(t, rig.engine.SyncWithServer(context.Background()))
	first, err := rig.store.ListOrders(context.Background())
	require.NoError(t, err)

	require.NoError(t, rig.engine.SyncWithServer(context.Background()))
	second, err := rig.store.ListOrders(context.Background())
	require.NoError(t, err)

	// No mutation calls, and the cache holds the same records.
	assert.Empty(t, rig.gateway.callsTo("CreateOrder"))
	assert.Empty(t, rig.gateway.callsTo("UpdateOrder"))
	assert.Empty(t, rig.gateway.callsTo("DeleteOrder"))
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].CustomerName, second[i].CustomerName)
	}
}

func TestSyncAdvancesLastSyncTimeDespiteFailures(t *testing.T) {
	rig := newTestRig(t, false, nil)
	_, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)

	rig.monitor.SetOnline(true)
	rig.gateway.failNext("CreateOrder", -1)

	before, err := rig.store.LastSyncTime(context.Background())
	require.NoError(t, err)
	assert.True(t, before.IsZero())

	require.NoError(t, rig.engine.SyncWithServer(context.Background()))

	after, err := rig.store.LastSyncTime(context.Background())
	require.NoError(t, err)
	assert.False(t, after.IsZero())
}

func TestSyncFailsWhenReconcileFails(t *testing.T) {
	rig := newTestRig(t, true, nil)
	rig.gateway.failNext("GetAllOrders", -1)
	failed := rig.collectEvents(EventSyncFailed)

	err := rig.engine.SyncWithServer(context.Background())
	require.Error(t, err)
	require.Len(t, *failed, 1)
	assert.NotEmpty(t, (*failed)[0].Error)
}

func TestSyncFailsWhenStoreFails(t *testing.T) {
	rig := newTestRig(t, true, nil)
	rig.store.failOn("PendingQueueEntries")
	failed := rig.collectEvents(EventSyncFailed)

	err := rig.engine.SyncWithServer(context.Background())
	require.Error(t, err)
	assert.Len(t, *failed, 1)

	// The guard released; once the store recovers a later pass succeeds.
	rig.store.clearFailures()
	require.NoError(t, rig.engine.SyncWithServer(context.Background()))
}

func TestSearchFilterMatchesOnlineAndOffline(t *testing.T) {
	orders := []Order{
		{ID: "srv-1", CustomerName: "Ada Lovelace", Email: "ada@example.com", InstallDate: "2026-01-10"},
		{ID: "srv-2", CustomerName: "Grace Hopper", BusinessName: "Navy Systems", InstallDate: "2026-02-20"},
		{ID: "srv-3", CustomerName: "Alan Kay", AccountReference: "ACME-7", InstallDate: "2026-03-05"},
	}
	filter := OrderFilter{Search: "grace", InstallDateFrom: "2026-02-01", InstallDateTo: "2026-02-28"}

	rig := newTestRig(t, true, nil)
	rig.gateway.orders = orders

	online, err := rig.engine.GetOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)
	require.Len(t, online.Orders, 3)

	onlinePage, err := rig.engine.GetOrders(context.Background(), filter)
	require.NoError(t, err)

	// Re-warm the cache with the full set, then apply the same filter from
	// the cache.
	_, err = rig.engine.GetOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)
	rig.monitor.SetOnline(false)
	offlinePage, err := rig.engine.GetOrders(context.Background(), filter)
	require.NoError(t, err)

	require.Len(t, onlinePage.Orders, 1)
	require.Len(t, offlinePage.Orders, 1)
	assert.Equal(t, onlinePage.Orders[0].ID, offlinePage.Orders[0].ID)
	assert.True(t, offlinePage.FromCache)
}

func TestMarkNotificationAsReadOffline(t *testing.T) {
	rig := newTestRig(t, false, nil)
	require.NoError(t, rig.store.PutNotification(context.Background(), Notification{
		ID: "n-1", Message: "install scheduled", Synced: true,
	}))

	updated, err := rig.engine.MarkNotificationAsRead(context.Background(), "n-1")
	require.NoError(t, err)
	assert.True(t, updated.Read)
	assert.True(t, updated.UpdatedOffline)

	entries, err := rig.store.PendingQueueEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpUpdate, entries[0].Operation)
	assert.Equal(t, EntityNotification, entries[0].Entity)
	assert.Equal(t, "n-1", entries[0].EntityID)
}

func TestNotificationReplayMarksRead(t *testing.T) {
	rig := newTestRig(t, false, nil)
	rig.gateway.notifications = []Notification{{ID: "n-1", Message: "install scheduled"}}
	require.NoError(t, rig.store.PutNotification(context.Background(), Notification{
		ID: "n-1", Message: "install scheduled", Synced: true,
	}))

	_, err := rig.engine.MarkNotificationAsRead(context.Background(), "n-1")
	require.NoError(t, err)

	rig.monitor.SetOnline(true)
	require.NoError(t, rig.engine.SyncWithServer(context.Background()))

	calls := rig.gateway.callsTo("MarkNotificationRead")
	require.Len(t, calls, 1)
	assert.Equal(t, "n-1", calls[0].EntityID)

	// Reconciliation pulled the server copy, now read.
	cached, err := rig.store.GetNotification(context.Background(), "n-1")
	require.NoError(t, err)
	assert.True(t, cached.Read)
	assert.True(t, cached.Synced)
}

func TestQueueStatusSnapshot(t *testing.T) {
	rig := newTestRig(t, false, nil)

	status, err := rig.engine.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, status.QueuedItems)
	assert.True(t, status.OldestQueued.IsZero())
	assert.False(t, status.IsOnline)
	assert.False(t, status.SyncInProgress)

	_, err = rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)
	_, err = rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Grace Hopper"})
	require.NoError(t, err)

	status, err = rig.engine.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, status.QueuedItems)
	assert.False(t, status.OldestQueued.IsZero())

	entries, err := rig.store.PendingQueueEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entries[0].Timestamp, status.OldestQueued)

	// Reading status never drains the queue.
	count, err := rig.store.PendingQueueCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestClearOfflineData(t *testing.T) {
	rig := newTestRig(t, false, nil)
	_, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)

	require.NoError(t, rig.engine.ClearOfflineData(context.Background()))

	orders, err := rig.store.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
	count, err := rig.store.PendingQueueCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStartSyncsOnReconnect(t *testing.T) {
	rig := newTestRig(t, false, nil)
	_, err := rig.engine.CreateOrder(context.Background(), Order{CustomerName: "Ada Lovelace"})
	require.NoError(t, err)

	events := rig.collectEvents(EventOnline, EventOffline)
	rig.engine.Start(context.Background())
	defer rig.engine.Close()

	rig.monitor.SetOnline(true)

	// The reconnect sync runs on its own goroutine.
	assert.Eventually(t, func() bool {
		count, err := rig.store.PendingQueueCount(context.Background())
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond)

	rig.monitor.SetOnline(false)

	require.GreaterOrEqual(t, len(*events), 2)
	assert.Equal(t, EventOnline, (*events)[0].Type)
	assert.Equal(t, EventOffline, (*events)[1].Type)
}

func TestCloseDetachesAndStopsSyncs(t *testing.T) {
	rig := newTestRig(t, false, nil)
	rig.engine.Start(context.Background())
	require.NoError(t, rig.engine.Close())
	require.NoError(t, rig.engine.Close())

	// Transitions after Close reach neither the bus nor the gateway.
	started := rig.collectEvents(EventSyncStarted)
	rig.monitor.SetOnline(true)
	require.NoError(t, rig.engine.SyncWithServer(context.Background()))
	assert.Empty(t, *started)
}
