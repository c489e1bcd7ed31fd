package server

import (
	"sync"

	"github.com/airmessage/airmessage-server/wire"
)

// DefaultReceiptCacheCycles is how many scan cycles a cached read-receipt
// state survives without being seen before it is evicted.
const DefaultReceiptCacheCycles = 5

// ReceiptState is one message's delivery state as observed by a scan cycle.
type ReceiptState struct {
	MessageGUID string
	State       wire.MessageState
	DateRead    int64
}

type receiptEntry struct {
	state    wire.MessageState
	dateRead int64
	unseen   int
}

// ActivityStatusCache turns repeated full scans of recent message states
// into deltas: Update returns a modifier only for messages whose state
// actually changed since the previous scan. Entries that stop appearing in
// scans are dropped after a bounded number of cycles so the cache cannot
// grow without limit.
type ActivityStatusCache struct {
	mu        sync.Mutex
	maxUnseen int
	entries   map[string]*receiptEntry
}

// NewActivityStatusCache returns a cache evicting entries unseen for
// maxUnseen cycles. Values below 1 fall back to the default.
func NewActivityStatusCache(maxUnseen int) *ActivityStatusCache {
	if maxUnseen < 1 {
		maxUnseen = DefaultReceiptCacheCycles
	}
	return &ActivityStatusCache{
		maxUnseen: maxUnseen,
		entries:   make(map[string]*receiptEntry),
	}
}

// Update records one scan cycle and returns modifiers for every new or
// changed state.
func (c *ActivityStatusCache) Update(scan []ReceiptState) []wire.Modifier {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(scan))
	var changed []wire.Modifier

	for _, state := range scan {
		seen[state.MessageGUID] = struct{}{}

		entry, ok := c.entries[state.MessageGUID]
		if ok && entry.state == state.State && entry.dateRead == state.DateRead {
			entry.unseen = 0
			continue
		}
		if !ok {
			entry = &receiptEntry{}
			c.entries[state.MessageGUID] = entry

			// A message first observed in its initial state is not a delta.
			if state.State == wire.MessageStateIdle {
				entry.state = state.State
				entry.dateRead = state.DateRead
				continue
			}
		}
		entry.state = state.State
		entry.dateRead = state.DateRead
		entry.unseen = 0

		changed = append(changed, &wire.ActivityStatusModifier{
			MessageGUID: state.MessageGUID,
			State:       state.State,
			DateRead:    state.DateRead,
		})
	}

	for guid, entry := range c.entries {
		if _, ok := seen[guid]; ok {
			continue
		}
		entry.unseen++
		if entry.unseen >= c.maxUnseen {
			delete(c.entries, guid)
		}
	}

	return changed
}

// Len returns the number of cached states.
func (c *ActivityStatusCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
