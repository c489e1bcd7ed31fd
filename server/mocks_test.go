package server

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

// mockProxy is an in-memory DataProxy driven directly by tests.
type mockProxy struct {
	mu           sync.Mutex
	events       chan transport.Event
	sent         chan transport.Message
	pushes       chan []byte
	clients      []*transport.Client
	disconnected []*transport.Client

	requiresAuth bool
	persistence  bool
	supportsPush bool
}

func newMockProxy(requiresAuth bool) *mockProxy {
	return &mockProxy{
		events:       make(chan transport.Event, 64),
		sent:         make(chan transport.Message, 256),
		pushes:       make(chan []byte, 16),
		requiresAuth: requiresAuth,
		supportsPush: true,
	}
}

func (p *mockProxy) Name() string                    { return "Mock" }
func (p *mockProxy) RequiresAuthentication() bool    { return p.requiresAuth }
func (p *mockProxy) RequiresPersistence() bool       { return p.persistence }
func (p *mockProxy) SupportsPushNotifications() bool { return p.supportsPush }
func (p *mockProxy) Start()                          {}
func (p *mockProxy) Events() <-chan transport.Event  { return p.events }

func (p *mockProxy) Stop() {
	close(p.events)
}

func (p *mockProxy) Send(msg transport.Message) {
	p.sent <- msg
	if msg.OnSent != nil {
		msg.OnSent()
	}
}

func (p *mockProxy) SendPushNotification(version int32, data []byte) {
	p.pushes <- data
}

func (p *mockProxy) Disconnect(client *transport.Client) {
	client.SetDisconnected()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.clients {
		if c == client {
			p.clients = append(p.clients[:i], p.clients[i+1:]...)
			break
		}
	}
	p.disconnected = append(p.disconnected, client)
}

func (p *mockProxy) Connections() []*transport.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*transport.Client(nil), p.clients...)
}

// connect registers a fake client and raises the connected event.
func (p *mockProxy) connect(id int32) *transport.Client {
	client := transport.NewClient(id)
	p.mu.Lock()
	p.clients = append(p.clients, client)
	total := len(p.clients)
	p.mu.Unlock()
	p.events <- transport.EventClientConnected{Client: client, Total: total}
	return client
}

func (p *mockProxy) receive(client *transport.Client, data []byte, wasEncrypted bool) {
	p.events <- transport.EventMessage{Client: client, Data: data, WasEncrypted: wasEncrypted}
}

func (p *mockProxy) nextSent(t *testing.T) transport.Message {
	t.Helper()
	select {
	case msg := <-p.sent:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return transport.Message{}
	}
}

func (p *mockProxy) wasDisconnected(client *transport.Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.disconnected {
		if c == client {
			return true
		}
	}
	return false
}

// mockStore is a canned-response Store.
type mockStore struct {
	lastID        int64
	hasLastID     bool
	grouping      Grouping
	activity      []wire.Modifier
	conversations []wire.ConversationInfo
	lite          []wire.LiteConversationInfo
	thread        []wire.ConversationItem
	massConvos    []wire.ConversationInfo
	massItems     []wire.ConversationItem
	attachments   map[string]string
	targeting     []TargetingEntry
}

func (s *mockStore) LastMessageID() (int64, bool) { return s.lastID, s.hasLastID }

func (s *mockStore) GroupingForTimeRange(lower, upper int64) (Grouping, error) {
	return s.grouping, nil
}

func (s *mockStore) GroupingSinceID(id int64) (Grouping, error) { return s.grouping, nil }

func (s *mockStore) ActivityStatusSince(time int64) ([]wire.Modifier, error) {
	return s.activity, nil
}

func (s *mockStore) Conversations(guids []string) ([]wire.ConversationInfo, error) {
	return s.conversations, nil
}

func (s *mockStore) LiteConversations() ([]wire.LiteConversationInfo, error) {
	return s.lite, nil
}

func (s *mockStore) LiteThread(chatGUID string, before *int64) ([]wire.ConversationItem, error) {
	return s.thread, nil
}

func (s *mockStore) MassRetrieval(messagesSince *int64) ([]wire.ConversationInfo, []wire.ConversationItem, error) {
	return s.massConvos, s.massItems, nil
}

func (s *mockStore) AttachmentPath(guid string) (string, error) {
	path, ok := s.attachments[guid]
	if !ok {
		return "", ErrAttachmentNotFound
	}
	return path, nil
}

func (s *mockStore) TargetingEntries() ([]TargetingEntry, error) { return s.targeting, nil }

// mockMessenger records outward sends and returns a configurable error.
type mockMessenger struct {
	mu       sync.Mutex
	err      error
	chatGUID string

	sentTexts []string
	sentFiles []string
	// fileContents captures uploaded file bytes before the server deletes
	// its temp directory.
	fileContents map[string][]byte
}

func (m *mockMessenger) record(kind, value, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case "text":
		m.sentTexts = append(m.sentTexts, value)
	case "file":
		m.sentFiles = append(m.sentFiles, value)
		if path != "" {
			data, err := os.ReadFile(path)
			if err == nil {
				if m.fileContents == nil {
					m.fileContents = make(map[string][]byte)
				}
				m.fileContents[value] = data
			}
		}
	}
	return m.err
}

func (m *mockMessenger) SendText(chatGUID, text string) error {
	return m.record("text", chatGUID+":"+text, "")
}

func (m *mockMessenger) SendTextToNew(members []string, service, text string) error {
	return m.record("text", "new:"+text, "")
}

func (m *mockMessenger) SendFile(chatGUID, path string) error {
	return m.record("file", chatGUID, path)
}

func (m *mockMessenger) SendFileToNew(members []string, service, path string) error {
	return m.record("file", "new:"+service, path)
}

func (m *mockMessenger) CreateChat(members []string, service string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.chatGUID, nil
}

// testHarness bundles a manager with its mocks.
type testHarness struct {
	manager   *Manager
	proxy     *mockProxy
	store     *mockStore
	messenger *mockMessenger
}

func newTestHarness(t *testing.T, requiresAuth bool, configure func(*Config, *mockStore)) *testHarness {
	t.Helper()

	proxy := newMockProxy(requiresAuth)
	store := &mockStore{}
	messenger := &mockMessenger{}

	cfg := Config{
		Identity: ServerIdentity{
			InstallationID:  "server-install",
			DeviceName:      "Test Mac",
			OSVersion:       "14.0",
			SoftwareVersion: "1.0.0",
		},
		PasswordProvider: func() string { return testPassword },
		UploadDirectory:  t.TempDir(),
	}
	if configure != nil {
		configure(&cfg, store)
	}

	manager := NewManager(cfg, store, messenger, proxy)
	manager.Start()
	t.Cleanup(func() {
		proxy.Stop()
		select {
		case <-manager.Done():
		case <-time.After(5 * time.Second):
			t.Error("manager never shut down")
		}
	})

	return &testHarness{manager: manager, proxy: proxy, store: store, messenger: messenger}
}

// connectAndGreet connects a client and consumes the server info message,
// returning the transmission check when one was issued.
func (h *testHarness) connectAndGreet(t *testing.T, id int32) (*transport.Client, []byte) {
	t.Helper()
	client := h.proxy.connect(id)

	msg := h.proxy.nextSent(t)
	reader := wire.NewReader(msg.Data)
	opcode, err := reader.Int()
	require.NoError(t, err)
	require.Equal(t, wire.MessageTypeInformation, wire.MessageType(opcode))

	version, err := reader.Int()
	require.NoError(t, err)
	require.Equal(t, wire.ProtocolVersion, version)
	subVersion, err := reader.Int()
	require.NoError(t, err)
	require.Equal(t, wire.ProtocolSubVersion, subVersion)

	required, err := reader.Bool()
	require.NoError(t, err)
	if !required {
		return client, nil
	}
	nonce, err := reader.Payload()
	require.NoError(t, err)
	return client, nonce
}
