package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetingLookupIsOrderInsensitive(t *testing.T) {
	cache := NewTargetingCache(time.Minute)
	cache.Rebuild([]TargetingEntry{
		{ChatGUID: "chat-1", Service: "iMessage", Members: []string{"b@x.com", "a@x.com"}},
	})

	guid, ok := cache.Lookup([]string{"a@x.com", "b@x.com"}, "iMessage")
	require.True(t, ok)
	assert.Equal(t, "chat-1", guid)

	guid, ok = cache.Lookup([]string{"b@x.com", "a@x.com"}, "iMessage")
	require.True(t, ok)
	assert.Equal(t, "chat-1", guid)
}

func TestTargetingLookupDiscriminatesServiceAndMembers(t *testing.T) {
	cache := NewTargetingCache(time.Minute)
	cache.Rebuild([]TargetingEntry{
		{ChatGUID: "chat-1", Service: "iMessage", Members: []string{"a@x.com"}},
	})

	_, ok := cache.Lookup([]string{"a@x.com"}, "SMS")
	assert.False(t, ok)

	_, ok = cache.Lookup([]string{"a@x.com", "b@x.com"}, "iMessage")
	assert.False(t, ok)
}

func TestTargetingStaleness(t *testing.T) {
	cache := NewTargetingCache(time.Hour)
	assert.True(t, cache.Stale(), "a fresh cache must demand a rebuild")

	cache.Rebuild(nil)
	assert.False(t, cache.Stale())

	short := NewTargetingCache(time.Nanosecond)
	short.Rebuild(nil)
	time.Sleep(time.Millisecond)
	assert.True(t, short.Stale())
}

func TestTargetingRebuildReplacesIndex(t *testing.T) {
	cache := NewTargetingCache(time.Minute)
	cache.Rebuild([]TargetingEntry{
		{ChatGUID: "chat-1", Service: "iMessage", Members: []string{"a@x.com"}},
	})
	cache.Rebuild([]TargetingEntry{
		{ChatGUID: "chat-2", Service: "iMessage", Members: []string{"b@x.com"}},
	})

	_, ok := cache.Lookup([]string{"a@x.com"}, "iMessage")
	assert.False(t, ok, "entries absent from the rebuild must disappear")

	guid, ok := cache.Lookup([]string{"b@x.com"}, "iMessage")
	require.True(t, ok)
	assert.Equal(t, "chat-2", guid)
}

func TestTargetingKey(t *testing.T) {
	assert.Equal(t,
		targetingKey([]string{"b", "a"}, "iMessage"),
		targetingKey([]string{"a", "b"}, "iMessage"))
	assert.NotEqual(t,
		targetingKey([]string{"a"}, "iMessage"),
		targetingKey([]string{"a"}, "SMS"))
}
