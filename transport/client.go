package transport

import (
	"sync"
	"time"
)

// TimerID identifies a per-client timer slot. Scheduling a timer into an
// occupied slot cancels the previous one first.
type TimerID int

const (
	// TimerHandshakeExpiry disconnects clients that never authenticate.
	TimerHandshakeExpiry TimerID = iota
	// TimerPingExpiry disconnects clients that stop answering pings.
	TimerPingExpiry
)

// Registration holds the identity a client presents during authentication.
type Registration struct {
	InstallationID string
	ClientName     string
	PlatformID     string
}

// Client is one logical client connection. The same type serves both
// backends; backend-private connection state hangs off the proxy, keyed by
// the client, never off the Client itself.
type Client struct {
	// ID is the backend-assigned connection identifier. For the relay it is
	// the relay's connection ID; for TCP it is locally assigned.
	ID int32

	mu                sync.Mutex
	connected         bool
	registration      *Registration
	transmissionCheck []byte
	timers            map[TimerID]*time.Timer
}

// NewClient returns a connected client with the given connection ID.
func NewClient(id int32) *Client {
	return &Client{
		ID:        id,
		connected: true,
		timers:    make(map[TimerID]*time.Timer),
	}
}

// Connected reports whether the connection is still considered live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetDisconnected marks the client dead and cancels all timers. It returns
// false if the client was already disconnected, letting callers run teardown
// exactly once.
func (c *Client) SetDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	c.connected = false
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	return true
}

// Registration returns the client's identity, or nil before authentication.
func (c *Client) Registration() *Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registration
}

// Register records the client's identity. A registered client is considered
// authenticated and becomes eligible for broadcasts.
func (c *Client) Register(reg Registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registration = &reg
}

// Registered reports whether the client has completed authentication.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registration != nil
}

// SetTransmissionCheck stores the nonce the client must echo back during
// authentication.
func (c *Client) SetTransmissionCheck(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transmissionCheck = data
}

// ConsumeTransmissionCheck returns the stored nonce and clears it, so each
// nonce can be validated at most once.
func (c *Client) ConsumeTransmissionCheck() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := c.transmissionCheck
	c.transmissionCheck = nil
	return data
}

// ScheduleTimer arranges for fn to run after d, replacing any pending timer
// in the same slot. fn runs on its own goroutine; it is not invoked if the
// timer is canceled or the client disconnects first.
func (c *Client) ScheduleTimer(id TimerID, d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	if old, ok := c.timers[id]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		// A fired timer that has since been replaced or canceled must not run.
		current, ok := c.timers[id]
		if !ok || current != timer || !c.connected {
			c.mu.Unlock()
			return
		}
		delete(c.timers, id)
		c.mu.Unlock()
		fn()
	})
	c.timers[id] = timer
}

// CancelTimer stops the pending timer in the given slot, if any.
func (c *Client) CancelTimer(id TimerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[id]; ok {
		timer.Stop()
		delete(c.timers, id)
	}
}

// clientSet is a mutex-guarded set of live clients shared by both backends.
type clientSet struct {
	mu      sync.Mutex
	clients map[int32]*Client
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[int32]*Client)}
}

func (s *clientSet) add(client *Client) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client
	return len(s.clients)
}

func (s *clientSet) remove(client *Client) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, client.ID)
	return len(s.clients)
}

func (s *clientSet) get(id int32) (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[id]
	return client, ok
}

// snapshot copies the current membership so callers can iterate without
// holding the lock across sends.
func (s *clientSet) snapshot() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	return clients
}

// clear empties the set and returns the removed clients.
func (s *clientSet) clear() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make([]*Client, 0, len(s.clients))
	for id, client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, id)
	}
	return clients
}
