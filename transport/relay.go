package transport

import (
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/airmessage/airmessage-server/crypto"
	"github.com/airmessage/airmessage-server/limits"
	"github.com/airmessage/airmessage-server/wire"
)

// maxRecoveryCount caps the reconnection backoff exponent.
const maxRecoveryCount = 8

// ConnectConfig carries the relay account parameters.
type ConnectConfig struct {
	// Address is the relay WebSocket endpoint, e.g. "wss://connect.example.com".
	Address string
	// InstallationID uniquely identifies this server installation.
	InstallationID string
	// IDToken is a one-time sign-in token. When set, the first successful
	// connection registers the server and the token is discarded; later
	// reconnections use UserID alone.
	IDToken string
	// UserID identifies the registered account owner.
	UserID string
}

// ConnectProxy bridges clients through a relay service over one outbound
// WebSocket. The relay multiplexes logical clients by numeric connection ID;
// recoverable connection failures trigger automatic reconnection with
// exponential backoff.
type ConnectProxy struct {
	cfg       ConnectConfig
	encryptor *crypto.Encryptor
	log       *logrus.Entry

	events       chan Event
	eventsMu     sync.Mutex
	eventsClosed bool

	clients *clientSet

	mu             sync.Mutex
	conn           *websocket.Conn
	stopping       bool
	idToken        string
	recoveryCount  int
	reconnectTimer *time.Timer
	handshakeTimer *time.Timer

	writeMu sync.Mutex
}

// NewConnectProxy returns a proxy for the given relay account.
func NewConnectProxy(cfg ConnectConfig, encryptor *crypto.Encryptor) *ConnectProxy {
	return &ConnectProxy{
		cfg:       cfg,
		encryptor: encryptor,
		log:       logrus.WithField("proxy", "connect"),
		events:    make(chan Event, 64),
		clients:   newClientSet(),
		idToken:   cfg.IDToken,
	}
}

// Name implements DataProxy.
func (p *ConnectProxy) Name() string { return "AirMessage Cloud" }

// RequiresAuthentication implements DataProxy. The relay account already
// gates access, so the password handshake only runs when a password is set.
func (p *ConnectProxy) RequiresAuthentication() bool { return p.encryptor.Enabled() }

// RequiresPersistence implements DataProxy. The relay keeps client
// connections alive on our behalf.
func (p *ConnectProxy) RequiresPersistence() bool { return false }

// SupportsPushNotifications implements DataProxy.
func (p *ConnectProxy) SupportsPushNotifications() bool { return true }

// Events implements DataProxy.
func (p *ConnectProxy) Events() <-chan Event { return p.events }

// Start implements DataProxy.
func (p *ConnectProxy) Start() {
	go p.connect()
}

// Stop implements DataProxy.
func (p *ConnectProxy) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	p.stopTimersLocked()
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		p.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()
		conn.Close()
		// The read pump observes the closed socket and finalizes the event
		// stream.
		return
	}

	p.finalize(ServerStateStopped)
}

// Send implements DataProxy.
func (p *ConnectProxy) Send(msg Message) {
	if msg.OnSent != nil {
		defer msg.OnSent()
	}

	packer := wire.AcquirePacker()
	defer wire.ReleasePacker(packer)

	if msg.Client != nil {
		packer.PackInt(int32(wire.RelayServerProxy))
		packer.PackInt(msg.Client.ID)
	} else {
		packer.PackInt(int32(wire.RelayServerProxyBroadcast))
	}

	if !p.encryptor.Enabled() {
		packer.PackByte(wire.RelaySentinelNoEncryption)
		packer.PackRaw(msg.Data)
	} else if msg.Encrypt {
		encrypted, err := p.encryptor.Encrypt(msg.Data)
		if err != nil {
			p.log.WithError(err).Error("Failed to encrypt outbound message")
			return
		}
		packer.PackByte(wire.RelaySentinelEncrypted)
		packer.PackRaw(encrypted)
	} else {
		packer.PackByte(wire.RelaySentinelPlaintext)
		packer.PackRaw(msg.Data)
	}

	p.write(packer.Bytes())
}

// SendPushNotification implements DataProxy. The relay forwards the payload
// to registered clients through their platform push channel.
func (p *ConnectProxy) SendPushNotification(version int32, data []byte) {
	packer := wire.AcquirePacker()
	defer wire.ReleasePacker(packer)

	packer.PackInt(int32(wire.RelayServerNotifyPush))
	packer.PackInt(version)
	packer.PackRaw(data)

	p.write(packer.Bytes())
}

// Disconnect implements DataProxy. The relay owns the client socket, so the
// server can only ask for the connection to be dropped.
func (p *ConnectProxy) Disconnect(client *Client) {
	if !client.SetDisconnected() {
		return
	}

	packer := wire.AcquirePacker()
	packer.PackInt(int32(wire.RelayServerClose))
	packer.PackInt(client.ID)
	p.write(packer.Bytes())
	wire.ReleasePacker(packer)

	total := p.clients.remove(client)
	p.emit(EventClientDisconnected{Client: client, Total: total})
}

// Connections implements DataProxy.
func (p *ConnectProxy) Connections() []*Client {
	return p.clients.snapshot()
}

func (p *ConnectProxy) connect() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	idToken := p.idToken
	p.mu.Unlock()

	endpoint, err := url.Parse(p.cfg.Address)
	if err != nil {
		p.log.WithError(err).Error("Invalid relay address")
		p.finalize(ServerStateErrorExternal)
		return
	}
	query := endpoint.Query()
	query.Set("communications", strconv.Itoa(wire.RelayCommVersion))
	query.Set("is_server", "true")
	query.Set("installation_id", p.cfg.InstallationID)
	if idToken != "" {
		query.Set("id_token", idToken)
	} else {
		query.Set("user_id", p.cfg.UserID)
	}
	endpoint.RawQuery = query.Encode()

	header := http.Header{"Origin": []string{"app"}}
	conn, _, err := websocket.DefaultDialer.Dial(endpoint.String(), header)
	if err != nil {
		p.log.WithError(err).Warn("Failed to reach relay")
		p.pause(ServerStateErrorInternet)
		return
	}

	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		conn.Close()
		p.finalize(ServerStateStopped)
		return
	}
	p.conn = conn
	// The relay must confirm the session before the handshake window closes.
	p.handshakeTimer = time.AfterFunc(limits.RelayHandshakeTimeout, func() {
		p.log.Warn("Relay handshake timed out")
		conn.Close()
	})
	p.mu.Unlock()

	go p.readPump(conn)
}

func (p *ConnectProxy) readPump(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			p.handleDisconnect(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := limits.ValidatePacket(data); err != nil {
			p.log.WithError(err).Warn("Discarding invalid relay frame")
			continue
		}
		p.handleRelayMessage(data)
	}
}

func (p *ConnectProxy) handleRelayMessage(data []byte) {
	reader := wire.NewReader(data)
	opcode, err := reader.Int()
	if err != nil {
		p.log.Warn("Discarding malformed relay message")
		return
	}

	switch wire.RelayMessageType(opcode) {
	case wire.RelayConnectionOK:
		p.handleConnectionOK()

	case wire.RelayServerOpen:
		id, err := reader.Int()
		if err != nil {
			return
		}
		client := NewClient(id)
		total := p.clients.add(client)
		p.log.WithFields(logrus.Fields{"client": id, "total": total}).Info("Client connected")
		p.emit(EventClientConnected{Client: client, Total: total})

	case wire.RelayServerClose:
		id, err := reader.Int()
		if err != nil {
			return
		}
		client, ok := p.clients.get(id)
		if !ok {
			return
		}
		if !client.SetDisconnected() {
			return
		}
		total := p.clients.remove(client)
		p.log.WithFields(logrus.Fields{"client": id, "total": total}).Info("Client disconnected")
		p.emit(EventClientDisconnected{Client: client, Total: total})

	case wire.RelayServerProxy:
		id, err := reader.Int()
		if err != nil {
			return
		}
		client, ok := p.clients.get(id)
		if !ok {
			// The relay believes this connection is live; tell it otherwise.
			packer := wire.AcquirePacker()
			packer.PackInt(int32(wire.RelayServerClose))
			packer.PackInt(id)
			p.write(packer.Bytes())
			wire.ReleasePacker(packer)
			return
		}
		p.handleProxyPayload(client, reader)

	default:
		p.log.WithField("opcode", opcode).Warn("Discarding unknown relay message")
	}
}

func (p *ConnectProxy) handleConnectionOK() {
	p.mu.Lock()
	p.stopTimersLocked()
	p.recoveryCount = 0
	// Registration succeeded; reconnections authenticate by user ID alone.
	p.idToken = ""
	p.mu.Unlock()

	p.log.Info("Connected to relay")
	p.emit(EventStarted{})
}

// handleProxyPayload decodes the encryption sentinel between the relay
// header and the client payload. Payloads from legacy clients start directly
// with content, so an unrecognized sentinel byte belongs to the payload.
func (p *ConnectProxy) handleProxyPayload(client *Client, reader *wire.Reader) {
	sentinel, err := reader.Byte()
	if err != nil {
		return
	}

	var wasEncrypted bool
	switch sentinel {
	case wire.RelaySentinelEncrypted:
		payload, err := reader.Rest()
		if err != nil {
			return
		}
		decrypted, decErr := p.encryptor.Decrypt(payload)
		if decErr != nil {
			p.log.WithField("client", client.ID).Warn("Discarding undecryptable message")
			return
		}
		p.emit(EventMessage{Client: client, Data: decrypted, WasEncrypted: true})
		return
	case wire.RelaySentinelPlaintext:
		wasEncrypted = false
	case wire.RelaySentinelNoEncryption:
		wasEncrypted = true
	default:
		reader.Backtrack(1)
		wasEncrypted = true
	}

	payload, err := reader.Rest()
	if err != nil {
		return
	}
	p.emit(EventMessage{Client: client, Data: payload, WasEncrypted: wasEncrypted})
}

// handleDisconnect classifies a dropped relay socket as deliberate, terminal,
// or recoverable.
func (p *ConnectProxy) handleDisconnect(err error) {
	p.mu.Lock()
	p.stopTimersLocked()
	p.conn = nil
	stopping := p.stopping
	p.mu.Unlock()

	if stopping {
		p.finalize(ServerStateStopped)
		return
	}

	if closeErr, ok := err.(*websocket.CloseError); ok {
		if state, terminal := closeCodeState(wire.RelayCloseCode(closeErr.Code)); terminal {
			p.log.WithField("code", closeErr.Code).Error("Relay refused connection")
			p.finalize(state)
			return
		}
	}

	p.log.WithError(err).Warn("Lost relay connection")
	p.pause(ServerStateErrorInternet)
}

// closeCodeState maps a relay-assigned close code to a terminal server state.
func closeCodeState(code wire.RelayCloseCode) (ServerState, bool) {
	switch code {
	case wire.RelayCloseIncompatibleProtocol:
		return ServerStateErrorConnOutdated, true
	case wire.RelayCloseNoGroup, wire.RelayCloseNoCapacity, wire.RelayCloseAccountValidation:
		return ServerStateErrorConnValidation, true
	case wire.RelayCloseServerTokenRefresh:
		return ServerStateErrorConnToken, true
	case wire.RelayCloseNoActivation:
		return ServerStateErrorConnActivation, true
	case wire.RelayCloseOtherLocation:
		return ServerStateErrorConnAccountConflict, true
	default:
		return ServerStateErrorInternet, false
	}
}

// pause drops all client state, reports the degradation, and schedules a
// reconnection attempt with exponential backoff plus jitter.
func (p *ConnectProxy) pause(state ServerState) {
	for _, client := range p.clients.clear() {
		client.SetDisconnected()
	}

	p.emit(EventPaused{State: state})

	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	count := p.recoveryCount
	if p.recoveryCount < maxRecoveryCount {
		p.recoveryCount++
	}
	delay := time.Duration(1<<uint(count))*time.Second +
		time.Duration(rand.Int63n(int64(time.Second)))
	p.reconnectTimer = time.AfterFunc(delay, p.connect)
	p.mu.Unlock()

	p.log.WithField("delay", delay).Info("Scheduling relay reconnection")
}

// finalize reports the terminal state and closes the event stream.
func (p *ConnectProxy) finalize(state ServerState) {
	for _, client := range p.clients.clear() {
		client.SetDisconnected()
	}
	p.emit(EventStopped{State: state})

	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	if !p.eventsClosed {
		p.eventsClosed = true
		close(p.events)
	}
}

func (p *ConnectProxy) stopTimersLocked() {
	if p.handshakeTimer != nil {
		p.handshakeTimer.Stop()
		p.handshakeTimer = nil
	}
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
}

func (p *ConnectProxy) emit(ev Event) {
	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	if p.eventsClosed {
		return
	}
	p.events <- ev
}

func (p *ConnectProxy) write(data []byte) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.log.WithError(err).Warn("Relay write failed")
	}
}
