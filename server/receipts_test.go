package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airmessage/airmessage-server/wire"
)

func TestReceiptCacheReportsChanges(t *testing.T) {
	cache := NewActivityStatusCache(5)

	changed := cache.Update([]ReceiptState{
		{MessageGUID: "m1", State: wire.MessageStateRead, DateRead: 100},
	})
	require.Len(t, changed, 1)
	modifier, ok := changed[0].(*wire.ActivityStatusModifier)
	require.True(t, ok)
	assert.Equal(t, "m1", modifier.MessageGUID)
	assert.Equal(t, wire.MessageStateRead, modifier.State)
	assert.Equal(t, int64(100), modifier.DateRead)

	// Unchanged state on the next cycle produces nothing.
	changed = cache.Update([]ReceiptState{
		{MessageGUID: "m1", State: wire.MessageStateRead, DateRead: 100},
	})
	assert.Empty(t, changed)

	// A new read date counts as a change again.
	changed = cache.Update([]ReceiptState{
		{MessageGUID: "m1", State: wire.MessageStateRead, DateRead: 200},
	})
	assert.Len(t, changed, 1)
}

func TestReceiptCacheFirstSeenIdleIsNotADelta(t *testing.T) {
	cache := NewActivityStatusCache(5)

	changed := cache.Update([]ReceiptState{
		{MessageGUID: "m1", State: wire.MessageStateIdle},
	})
	assert.Empty(t, changed)

	// The idle baseline is remembered: the transition out of it reports.
	changed = cache.Update([]ReceiptState{
		{MessageGUID: "m1", State: wire.MessageStateDelivered},
	})
	assert.Len(t, changed, 1)
}

func TestReceiptCacheEviction(t *testing.T) {
	cache := NewActivityStatusCache(2)

	cache.Update([]ReceiptState{
		{MessageGUID: "m1", State: wire.MessageStateRead, DateRead: 100},
	})
	require.Equal(t, 1, cache.Len())

	// Two empty cycles push the unseen entry out.
	cache.Update(nil)
	assert.Equal(t, 1, cache.Len())
	cache.Update(nil)
	assert.Equal(t, 0, cache.Len())

	// Once evicted, the same state reports as new again.
	changed := cache.Update([]ReceiptState{
		{MessageGUID: "m1", State: wire.MessageStateRead, DateRead: 100},
	})
	assert.Len(t, changed, 1)
}

func TestReceiptCacheUnseenCounterResets(t *testing.T) {
	cache := NewActivityStatusCache(2)

	scan := []ReceiptState{{MessageGUID: "m1", State: wire.MessageStateRead, DateRead: 100}}
	cache.Update(scan)
	cache.Update(nil)
	cache.Update(scan)
	cache.Update(nil)
	assert.Equal(t, 1, cache.Len(), "reappearing should reset the eviction counter")
}

func TestReceiptCacheDefaultCycles(t *testing.T) {
	cache := NewActivityStatusCache(0)
	cache.Update([]ReceiptState{
		{MessageGUID: "m1", State: wire.MessageStateRead, DateRead: 100},
	})
	for i := 0; i < DefaultReceiptCacheCycles-1; i++ {
		cache.Update(nil)
	}
	assert.Equal(t, 1, cache.Len())
	cache.Update(nil)
	assert.Equal(t, 0, cache.Len())
}
