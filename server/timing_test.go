package server

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

func TestHandshakeExpiryDisconnects(t *testing.T) {
	h := newTestHarness(t, true, func(cfg *Config, store *mockStore) {
		cfg.HandshakeTimeout = 50 * time.Millisecond
	})

	// Connect but never answer the greeting.
	client, _ := h.connectAndGreet(t, 1)

	require.Eventually(t, func() bool {
		return h.proxy.wasDisconnected(client)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeExpiryCanceledByAuthentication(t *testing.T) {
	h := newTestHarness(t, true, func(cfg *Config, store *mockStore) {
		cfg.HandshakeTimeout = 200 * time.Millisecond
	})

	client := authenticate(t, h, 1, "install-A")

	time.Sleep(400 * time.Millisecond)
	assert.False(t, h.proxy.wasDisconnected(client))
}

func TestPingExpiryDisconnectsSilentClient(t *testing.T) {
	h := newTestHarness(t, true, func(cfg *Config, store *mockStore) {
		// The interval must outlast the pong window so the expiry timer is
		// not replaced before it fires.
		cfg.KeepAliveInterval = 60 * time.Millisecond
		cfg.PingTimeout = 25 * time.Millisecond
	})
	h.proxy.persistence = true
	h.proxy.events <- transport.EventStarted{}

	registered := authenticate(t, h, 1, "install-A")
	unregistered, _ := h.connectAndGreet(t, 2)

	require.Eventually(t, func() bool {
		return h.proxy.wasDisconnected(registered)
	}, 2*time.Second, 10*time.Millisecond)

	// The ping broadcast never reaches an unauthenticated session, so it
	// owes no pong; only the handshake expiry may drop it.
	time.Sleep(150 * time.Millisecond)
	assert.False(t, h.proxy.wasDisconnected(unregistered))
}

func TestUploadInactivityAbandonsPartialFile(t *testing.T) {
	var uploadDir string
	h := newTestHarness(t, true, func(cfg *Config, store *mockStore) {
		cfg.UploadInactivityTimeout = 50 * time.Millisecond
		uploadDir = cfg.UploadDirectory
	})
	client := authenticate(t, h, 1, "install-A")

	// First chunk arrives, the rest never does.
	chunk := packFileChunkExisting(t, 12, 0, false, "chat-1", "file.bin", []byte("partial"))
	h.proxy.receive(client, chunk, true)

	result, details := readSendResult(t, h, 12)
	assert.Equal(t, wire.SendResultRequestTimeout, result)
	require.NotNil(t, details)
	assert.Contains(t, *details, "timed out")

	assert.Empty(t, h.messenger.sentFiles)

	// The partial file's staging directory is deleted with it.
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(uploadDir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
