package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/airmessage/airmessage-server/crypto"
	"github.com/airmessage/airmessage-server/limits"
	"github.com/airmessage/airmessage-server/wire"
)

// tcpHeaderLength is the frame prefix: int32 body length plus the encrypted flag.
const tcpHeaderLength = 4 + 1

// TCPProxy accepts direct client connections on a listen port. Each frame on
// the wire is int32 length || bool encrypted || body. A proxy instance is
// single-use: Start once, Stop once.
type TCPProxy struct {
	port      int
	encryptor *crypto.Encryptor
	log       *logrus.Entry

	events       chan Event
	eventsMu     sync.Mutex
	eventsClosed bool

	sendCh chan Message
	done   chan struct{}

	clients *clientSet
	nextID  atomic.Int32

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Client]net.Conn
	stopping bool

	readers sync.WaitGroup
}

// NewTCPProxy returns a proxy that will listen on the given port.
func NewTCPProxy(port int, encryptor *crypto.Encryptor) *TCPProxy {
	return &TCPProxy{
		port:      port,
		encryptor: encryptor,
		log:       logrus.WithField("proxy", "tcp"),
		events:    make(chan Event, 64),
		sendCh:    make(chan Message, 64),
		done:      make(chan struct{}),
		clients:   newClientSet(),
		conns:     make(map[*Client]net.Conn),
	}
}

// Name implements DataProxy.
func (p *TCPProxy) Name() string { return "Direct" }

// RequiresAuthentication implements DataProxy. Direct connections always
// authenticate, even when no password is configured.
func (p *TCPProxy) RequiresAuthentication() bool { return true }

// RequiresPersistence implements DataProxy. Direct connections are kept
// alive by the server's own ping loop.
func (p *TCPProxy) RequiresPersistence() bool { return true }

// SupportsPushNotifications implements DataProxy.
func (p *TCPProxy) SupportsPushNotifications() bool { return false }

// Events implements DataProxy.
func (p *TCPProxy) Events() <-chan Event { return p.events }

// Addr returns the bound listen address, or nil before Start. Useful when
// the proxy was configured with port 0.
func (p *TCPProxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Start implements DataProxy.
func (p *TCPProxy) Start() {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", p.port))
	if err != nil {
		p.log.WithError(err).WithField("port", p.port).Error("Failed to bind listen port")
		p.emit(EventStopped{State: ServerStateErrorTCPPort})
		p.closeEvents()
		return
	}

	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()

	p.log.WithField("port", p.port).Info("Listening for direct connections")

	go p.writeLoop()
	go p.acceptLoop(listener)

	p.emit(EventStarted{})
}

// Stop implements DataProxy.
func (p *TCPProxy) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	listener := p.listener
	p.mu.Unlock()

	close(p.done)
	if listener == nil {
		// Start never bound a port, so there is no accept loop to finalize
		// the event stream; do it here so consumers still see a clean stop.
		p.emit(EventStopped{State: ServerStateStopped})
		p.closeEvents()
		return
	}
	listener.Close()

	for _, client := range p.clients.clear() {
		p.closeClient(client)
	}
}

// Send implements DataProxy.
func (p *TCPProxy) Send(msg Message) {
	select {
	case p.sendCh <- msg:
	case <-p.done:
		if msg.OnSent != nil {
			msg.OnSent()
		}
	}
}

// SendPushNotification implements DataProxy. Direct connections have no
// out-of-band wake channel.
func (p *TCPProxy) SendPushNotification(version int32, data []byte) {}

// Disconnect implements DataProxy. The close is forceful; callers wanting a
// graceful close send a close message with an OnSent hook first.
func (p *TCPProxy) Disconnect(client *Client) {
	p.disconnect(client)
}

// Connections implements DataProxy.
func (p *TCPProxy) Connections() []*Client {
	return p.clients.snapshot()
}

func (p *TCPProxy) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			break
		}
		p.handleConnection(conn)
	}

	p.readers.Wait()

	p.mu.Lock()
	stopping := p.stopping
	p.mu.Unlock()

	if stopping {
		p.emit(EventStopped{State: ServerStateStopped})
	} else {
		p.log.Error("Listener failed unexpectedly")
		p.emit(EventStopped{State: ServerStateErrorTCPInternal})
	}
	p.closeEvents()
}

func (p *TCPProxy) emit(ev Event) {
	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	if p.eventsClosed {
		return
	}
	p.events <- ev
}

func (p *TCPProxy) closeEvents() {
	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	if !p.eventsClosed {
		p.eventsClosed = true
		close(p.events)
	}
}

func (p *TCPProxy) handleConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
	}

	client := NewClient(p.nextID.Add(1))

	p.mu.Lock()
	p.conns[client] = conn
	p.mu.Unlock()

	total := p.clients.add(client)
	p.log.WithFields(logrus.Fields{
		"client": client.ID,
		"remote": conn.RemoteAddr().String(),
		"total":  total,
	}).Info("Client connected")
	p.emit(EventClientConnected{Client: client, Total: total})

	p.readers.Add(1)
	go p.readLoop(client, conn)
}

func (p *TCPProxy) readLoop(client *Client, conn net.Conn) {
	defer p.readers.Done()

	header := make([]byte, tcpHeaderLength)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			p.disconnect(client)
			return
		}

		length := int32(binary.BigEndian.Uint32(header))
		isEncrypted := header[4] != 0

		if err := limits.ValidateAllocation(int(length)); err != nil {
			p.log.WithFields(logrus.Fields{
				"client": client.ID,
				"length": length,
			}).Warn("Rejecting oversized packet")
			p.sendClose(client)
			return
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			p.disconnect(client)
			return
		}

		wasEncrypted := isEncrypted
		if isEncrypted {
			decrypted, err := p.encryptor.Decrypt(body)
			if err != nil {
				p.log.WithField("client", client.ID).Warn("Discarding undecryptable message")
				continue
			}
			body = decrypted
		}

		p.emit(EventMessage{Client: client, Data: body, WasEncrypted: wasEncrypted})
	}
}

func (p *TCPProxy) writeLoop() {
	for {
		select {
		case msg := <-p.sendCh:
			p.deliver(msg)
		case <-p.done:
			return
		}
	}
}

// deliver frames and writes one outbound message. The message is encrypted
// at most once, then written to each target in turn.
func (p *TCPProxy) deliver(msg Message) {
	if msg.OnSent != nil {
		defer msg.OnSent()
	}

	body := msg.Data
	isEncrypted := false
	if msg.Encrypt && p.encryptor.Enabled() {
		encrypted, err := p.encryptor.Encrypt(body)
		if err != nil {
			p.log.WithError(err).Error("Failed to encrypt outbound message")
			return
		}
		body = encrypted
		isEncrypted = true
	}

	frame := make([]byte, tcpHeaderLength+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	if isEncrypted {
		frame[4] = 1
	}
	copy(frame[tcpHeaderLength:], body)

	var targets []*Client
	if msg.Client != nil {
		targets = []*Client{msg.Client}
	} else {
		for _, client := range p.clients.snapshot() {
			if client.Registered() {
				targets = append(targets, client)
			}
		}
	}

	for _, client := range targets {
		p.mu.Lock()
		conn, ok := p.conns[client]
		p.mu.Unlock()
		if !ok {
			continue
		}
		if _, err := conn.Write(frame); err != nil {
			p.log.WithError(err).WithField("client", client.ID).Warn("Write failed, dropping client")
			p.disconnect(client)
		}
	}
}

// sendClose asks the client to close gracefully, then drops the connection
// once the close message has been flushed.
func (p *TCPProxy) sendClose(client *Client) {
	packer := wire.AcquirePacker()
	packer.PackInt(int32(wire.MessageTypeClose))
	data := append([]byte(nil), packer.Bytes()...)
	wire.ReleasePacker(packer)

	p.Send(Message{
		Client:  client,
		Data:    data,
		Encrypt: false,
		OnSent: func() {
			p.disconnect(client)
		},
	})
}

func (p *TCPProxy) disconnect(client *Client) {
	if !p.closeClient(client) {
		return
	}
	total := p.clients.remove(client)
	p.log.WithFields(logrus.Fields{
		"client": client.ID,
		"total":  total,
	}).Info("Client disconnected")
	p.emit(EventClientDisconnected{Client: client, Total: total})
}

// closeClient tears down the socket. It returns false if the client was
// already closed.
func (p *TCPProxy) closeClient(client *Client) bool {
	if !client.SetDisconnected() {
		return false
	}
	p.mu.Lock()
	conn, ok := p.conns[client]
	delete(p.conns, client)
	p.mu.Unlock()
	if ok {
		conn.Close()
	}
	return true
}
