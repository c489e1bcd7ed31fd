package server

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/airmessage/airmessage-server/crypto"
	"github.com/airmessage/airmessage-server/limits"
	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

// DefaultMassRetrievalPageSize is how many conversation items ride in one
// mass retrieval packet.
const DefaultMassRetrievalPageSize = 20

// DefaultTargetingMaxAge is how long the creation-targeting index is trusted
// before the next lookup rebuilds it.
const DefaultTargetingMaxAge = 5 * time.Minute

// Config carries the Manager's identity and tuning parameters.
type Config struct {
	// Identity is echoed back to clients on successful authentication.
	Identity ServerIdentity

	// PasswordProvider returns the current shared password; empty disables
	// encryption.
	PasswordProvider func() string

	// MassRetrievalPageSize overrides the items-per-packet page size.
	MassRetrievalPageSize int

	// ReceiptCacheCycles overrides how many scan cycles an unseen
	// read-receipt state survives.
	ReceiptCacheCycles int

	// UploadDirectory is where inbound file transfers are reassembled.
	// Defaults to the system temp directory.
	UploadDirectory string

	// TargetingMaxAge overrides the creation-targeting index lifetime.
	TargetingMaxAge time.Duration

	// HandshakeTimeout overrides how long a new connection may sit
	// unauthenticated before it is dropped.
	HandshakeTimeout time.Duration

	// KeepAliveInterval overrides how often the keep-alive ping is
	// broadcast on persistent transports.
	KeepAliveInterval time.Duration

	// PingTimeout overrides how long a pinged client has to answer.
	PingTimeout time.Duration

	// UploadInactivityTimeout overrides how long an inbound file transfer
	// may stall between chunks.
	UploadInactivityTimeout time.Duration
}

// Manager runs the protocol on top of one data proxy: it greets new
// connections, authenticates sessions, dispatches inbound messages, and
// drives keep-alive for transports that need it.
type Manager struct {
	cfg       Config
	store     Store
	messenger Messenger
	proxy     transport.DataProxy
	encryptor *crypto.Encryptor
	log       *logrus.Entry

	requests  *RequestQueue
	uploads   *uploadTable
	receipts  *ActivityStatusCache
	targeting *TargetingCache

	keepaliveMu   sync.Mutex
	keepaliveStop chan struct{}

	done chan struct{}
}

// NewManager wires a Manager to its collaborators. Call Start to bring the
// proxy up.
func NewManager(cfg Config, store Store, messenger Messenger, proxy transport.DataProxy) *Manager {
	if cfg.MassRetrievalPageSize < 1 {
		cfg.MassRetrievalPageSize = DefaultMassRetrievalPageSize
	}
	if cfg.UploadDirectory == "" {
		cfg.UploadDirectory = os.TempDir()
	}
	if cfg.TargetingMaxAge <= 0 {
		cfg.TargetingMaxAge = DefaultTargetingMaxAge
	}
	if cfg.PasswordProvider == nil {
		cfg.PasswordProvider = func() string { return "" }
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = limits.HandshakeTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = limits.KeepAliveInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = limits.PingTimeout
	}
	if cfg.UploadInactivityTimeout <= 0 {
		cfg.UploadInactivityTimeout = limits.UploadInactivityTimeout
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		messenger: messenger,
		proxy:     proxy,
		encryptor: crypto.NewEncryptor(cfg.PasswordProvider),
		log:       logrus.WithField("component", "manager"),
		requests:  NewRequestQueue(),
		receipts:  NewActivityStatusCache(cfg.ReceiptCacheCycles),
		targeting: NewTargetingCache(cfg.TargetingMaxAge),
		done:      make(chan struct{}),
	}
	m.uploads = newUploadTable(m)
	return m
}

// Start brings the proxy up and begins consuming its events.
func (m *Manager) Start() {
	go m.run()
	m.proxy.Start()
}

// Stop tears the proxy down. Done is closed once the event stream has
// drained.
func (m *Manager) Stop() {
	m.proxy.Stop()
}

// Done is closed when the manager has fully shut down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) run() {
	for ev := range m.proxy.Events() {
		switch ev := ev.(type) {
		case transport.EventStarted:
			m.log.Info("Server started")
			if m.proxy.RequiresPersistence() {
				m.startKeepalive()
			}
			m.requests.Enqueue(m.rebuildTargeting)

		case transport.EventPaused:
			m.log.WithField("state", ev.State).Info("Server paused")
			m.stopKeepalive()
			m.uploads.cancelAll()

		case transport.EventStopped:
			m.log.WithField("state", ev.State).Info("Server stopped")
			m.stopKeepalive()
			m.uploads.cancelAll()

		case transport.EventClientConnected:
			m.handleConnect(ev.Client)

		case transport.EventClientDisconnected:
			m.uploads.cancelClient(ev.Client.ID)

		case transport.EventMessage:
			m.dispatch(ev.Client, ev.Data, ev.WasEncrypted)
		}
	}

	m.stopKeepalive()
	m.uploads.cancelAll()
	m.requests.Stop()
	close(m.done)
}

// handleConnect greets a new connection with server information and arms the
// handshake expiry timer.
func (m *Manager) handleConnect(client *transport.Client) {
	var transmissionCheck []byte
	if m.proxy.RequiresAuthentication() {
		var err error
		transmissionCheck, err = crypto.GenerateSecureData(limits.TransmissionCheckLength)
		if err != nil {
			m.log.WithError(err).Error("Failed to generate transmission check")
			m.proxy.Disconnect(client)
			return
		}
		client.SetTransmissionCheck(transmissionCheck)
	}

	m.send(client, packServerInfo(transmissionCheck), false)

	client.ScheduleTimer(transport.TimerHandshakeExpiry, m.cfg.HandshakeTimeout, func() {
		m.log.WithField("client", client.ID).Info("Dropping client that never authenticated")
		m.proxy.Disconnect(client)
	})
}

// dispatch decodes the opcode and routes the message through the two
// permission tiers. Unknown opcodes and unauthorized requests are dropped
// without affecting the connection.
func (m *Manager) dispatch(client *transport.Client, data []byte, wasEncrypted bool) {
	reader := wire.NewReader(data)
	opcode, err := reader.Int()
	if err != nil {
		m.log.WithError(err).Warn("Failed to read message header")
		return
	}
	messageType := wire.MessageType(opcode)
	if !messageType.Known() {
		m.log.WithField("opcode", opcode).Warn("Received unknown message type")
		return
	}

	switch messageType {
	case wire.MessageTypeClose:
		m.proxy.Disconnect(client)
	case wire.MessageTypePing:
		m.send(client, packHeaderOnly(wire.MessageTypePong), false)
	case wire.MessageTypePong:
		client.CancelTimer(transport.TimerPingExpiry)
	case wire.MessageTypeAuthentication:
		m.handleAuthentication(client, reader)
	default:
		if !client.Registered() || !wasEncrypted {
			m.log.WithFields(logrus.Fields{
				"client": client.ID,
				"type":   opcode,
			}).Debug("Dropping secure message from unauthorized session")
			return
		}
		m.dispatchSecure(client, messageType, reader)
	}
}

func (m *Manager) dispatchSecure(client *transport.Client, messageType wire.MessageType, reader *wire.Reader) {
	switch messageType {
	case wire.MessageTypeTimeRetrieval:
		m.handleTimeRetrieval(client, reader)
	case wire.MessageTypeIDRetrieval:
		m.handleIDRetrieval(client, reader)
	case wire.MessageTypeMassRetrieval:
		m.handleMassRetrieval(client, reader)
	case wire.MessageTypeConversationUpdate:
		m.handleConversationUpdate(client, reader)
	case wire.MessageTypeAttachmentReq:
		m.handleAttachmentRequest(client, reader)
	case wire.MessageTypeLiteConversationRetrieval:
		m.handleLiteConversationRetrieval(client)
	case wire.MessageTypeLiteThreadRetrieval:
		m.handleLiteThreadRetrieval(client, reader)
	case wire.MessageTypeSendTextExisting:
		m.handleSendTextExisting(client, reader)
	case wire.MessageTypeSendTextNew:
		m.handleSendTextNew(client, reader)
	case wire.MessageTypeSendFileExisting:
		m.handleUploadChunk(client, reader, false)
	case wire.MessageTypeSendFileNew:
		m.handleUploadChunk(client, reader, true)
	case wire.MessageTypeCreateChat:
		m.handleCreateChat(client, reader)
	default:
		// Server-to-client opcodes arriving inbound carry nothing to do.
		m.log.WithFields(logrus.Fields{
			"client": client.ID,
			"type":   int32(messageType),
		}).Debug("Ignoring inbound message with server-bound opcode")
	}
}

// send queues one outbound message through the proxy.
func (m *Manager) send(client *transport.Client, data []byte, encrypt bool) {
	m.proxy.Send(transport.Message{Client: client, Data: data, Encrypt: encrypt})
}

// broadcast queues one message to every registered client.
func (m *Manager) broadcast(data []byte, encrypt bool) {
	m.proxy.Send(transport.Message{Data: data, Encrypt: encrypt})
}

// closeSequence sends a courtesy close message and then disconnects; the
// disconnect proceeds even when the send fails.
func (m *Manager) closeSequence(client *transport.Client) {
	m.proxy.Send(transport.Message{
		Client: client,
		Data:   packHeaderOnly(wire.MessageTypeClose),
		OnSent: func() { m.proxy.Disconnect(client) },
	})
}

// startKeepalive broadcasts a ping every keep-alive interval and arms a
// per-client pong timer; a client that never answers is dropped.
func (m *Manager) startKeepalive() {
	m.keepaliveMu.Lock()
	defer m.keepaliveMu.Unlock()
	if m.keepaliveStop != nil {
		return
	}
	stop := make(chan struct{})
	m.keepaliveStop = stop

	go func() {
		ticker := time.NewTicker(m.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.runKeepalive()
			case <-stop:
				return
			}
		}
	}()
}

func (m *Manager) stopKeepalive() {
	m.keepaliveMu.Lock()
	defer m.keepaliveMu.Unlock()
	if m.keepaliveStop != nil {
		close(m.keepaliveStop)
		m.keepaliveStop = nil
	}
}

func (m *Manager) runKeepalive() {
	m.broadcast(packHeaderOnly(wire.MessageTypePing), false)

	for _, client := range m.proxy.Connections() {
		// The ping broadcast only reaches registered clients, so only they
		// owe a pong; unauthenticated sessions are covered by the handshake
		// expiry instead.
		if !client.Registered() {
			continue
		}
		client := client
		client.ScheduleTimer(transport.TimerPingExpiry, m.cfg.PingTimeout, func() {
			m.log.WithField("client", client.ID).Info("Dropping client that stopped answering pings")
			m.proxy.Disconnect(client)
		})
	}
}

// rebuildTargeting refreshes the creation-targeting index from the store.
func (m *Manager) rebuildTargeting() {
	entries, err := m.store.TargetingEntries()
	if err != nil {
		m.log.WithError(err).Warn("Failed to rebuild conversation targeting index")
		return
	}
	m.targeting.Rebuild(entries)
}

// resolveTarget routes a send addressed by recipient list to an existing
// conversation when the recipients already share one.
func (m *Manager) resolveTarget(members []string, service string) (string, bool) {
	if m.targeting.Stale() {
		m.rebuildTargeting()
	}
	return m.targeting.Lookup(members, service)
}

// NotifyMessages broadcasts newly scanned conversation items and modifiers
// to every registered client, and raises a push notification for clients
// that are not connected.
func (m *Manager) NotifyMessages(items []wire.ConversationItem, modifiers []wire.Modifier) {
	if len(items) == 0 && len(modifiers) == 0 {
		return
	}

	if len(items) > 0 {
		m.broadcast(packMessageUpdate(items), true)
	}
	if len(modifiers) > 0 {
		m.broadcast(packModifierUpdate(modifiers), true)
	}

	if !m.proxy.SupportsPushNotifications() {
		return
	}
	payload, err := packPushNotification(m.encryptor, items, modifiers)
	if err != nil {
		m.log.WithError(err).Error("Failed to build push notification payload")
		return
	}
	m.proxy.SendPushNotification(wire.PushNotificationVersion, payload)
}

// NotifyActivityScan folds one read-receipt scan cycle into the cache and
// broadcasts modifiers for every state that changed.
func (m *Manager) NotifyActivityScan(scan []ReceiptState) {
	changed := m.receipts.Update(scan)
	if len(changed) == 0 {
		return
	}
	m.broadcast(packModifierUpdate(changed), true)
}
