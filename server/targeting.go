package server

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// targetingIndex is an immutable member-set to conversation mapping. A
// rebuilt index replaces the old one wholesale, so readers never observe a
// partial rebuild.
type targetingIndex struct {
	chats   map[string]string
	builtAt time.Time
}

// TargetingCache routes sends addressed by recipient list to an existing
// conversation, so a "new conversation" send can fall back to the chat the
// recipients already share.
type TargetingCache struct {
	index  atomic.Pointer[targetingIndex]
	maxAge time.Duration
}

// NewTargetingCache returns an empty cache whose index is considered stale
// after maxAge.
func NewTargetingCache(maxAge time.Duration) *TargetingCache {
	cache := &TargetingCache{maxAge: maxAge}
	cache.index.Store(&targetingIndex{chats: map[string]string{}})
	return cache
}

// Rebuild replaces the index from a fresh store listing.
func (c *TargetingCache) Rebuild(entries []TargetingEntry) {
	chats := make(map[string]string, len(entries))
	for _, entry := range entries {
		chats[targetingKey(entry.Members, entry.Service)] = entry.ChatGUID
	}
	c.index.Store(&targetingIndex{chats: chats, builtAt: time.Now()})
}

// Stale reports whether the index should be rebuilt before the next lookup.
func (c *TargetingCache) Stale() bool {
	return time.Since(c.index.Load().builtAt) > c.maxAge
}

// Lookup returns the conversation shared by exactly this member set on this
// service, if one exists.
func (c *TargetingCache) Lookup(members []string, service string) (string, bool) {
	guid, ok := c.index.Load().chats[targetingKey(members, service)]
	return guid, ok
}

// targetingKey canonicalizes a member set: order-insensitive, one key per
// (members, service) pair.
func targetingKey(members []string, service string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return service + "|" + strings.Join(sorted, ",")
}
