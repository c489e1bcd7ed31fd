package transport

// ServerState describes why a proxy started, paused, or stopped. Paused
// states are recoverable without user intervention; stopped states are not.
type ServerState int

const (
	// ServerStateStopped is a deliberate, user-initiated stop.
	ServerStateStopped ServerState = iota
	// ServerStateErrorTCPPort indicates the listen port could not be bound.
	ServerStateErrorTCPPort
	// ServerStateErrorTCPInternal indicates an unexpected listener failure.
	ServerStateErrorTCPInternal
	// ServerStateErrorInternet indicates a lost connection to the relay.
	ServerStateErrorInternet
	// ServerStateErrorConnBadRequest indicates the relay rejected our framing.
	ServerStateErrorConnBadRequest
	// ServerStateErrorConnOutdated indicates a relay protocol version mismatch.
	ServerStateErrorConnOutdated
	// ServerStateErrorConnValidation indicates the account could not be validated.
	ServerStateErrorConnValidation
	// ServerStateErrorConnToken indicates the server's token is stale and a
	// fresh sign-in is required.
	ServerStateErrorConnToken
	// ServerStateErrorConnActivation indicates the account is not activated.
	ServerStateErrorConnActivation
	// ServerStateErrorConnAccountConflict indicates a sign-in from another location.
	ServerStateErrorConnAccountConflict
	// ServerStateErrorExternal is an unclassified external failure.
	ServerStateErrorExternal
)

// String returns a short identifier for logging.
func (s ServerState) String() string {
	switch s {
	case ServerStateStopped:
		return "stopped"
	case ServerStateErrorTCPPort:
		return "tcp_port_unavailable"
	case ServerStateErrorTCPInternal:
		return "tcp_internal_error"
	case ServerStateErrorInternet:
		return "internet_unavailable"
	case ServerStateErrorConnBadRequest:
		return "relay_bad_request"
	case ServerStateErrorConnOutdated:
		return "relay_protocol_outdated"
	case ServerStateErrorConnValidation:
		return "relay_account_validation"
	case ServerStateErrorConnToken:
		return "relay_token_stale"
	case ServerStateErrorConnActivation:
		return "relay_no_activation"
	case ServerStateErrorConnAccountConflict:
		return "relay_account_conflict"
	default:
		return "external_error"
	}
}

// Recoverable reports whether the proxy retries on its own after reaching
// this state.
func (s ServerState) Recoverable() bool {
	return s == ServerStateErrorInternet || s == ServerStateErrorExternal
}

// Event is a transport-originated occurrence delivered to the dispatcher.
// Exactly one of the concrete types below is sent per occurrence.
type Event interface {
	event()
}

// EventStarted signals the proxy is up and accepting clients.
type EventStarted struct{}

// EventPaused signals a recoverable degradation; the proxy keeps retrying
// and client bookkeeping is reset, but no user intervention is needed.
type EventPaused struct {
	State ServerState
}

// EventStopped signals the proxy is down, either deliberately or terminally.
type EventStopped struct {
	State ServerState
}

// EventClientConnected signals a new client connection, before any messages.
type EventClientConnected struct {
	Client *Client
	Total  int
}

// EventClientDisconnected signals a client going away. It fires exactly once
// per EventClientConnected.
type EventClientDisconnected struct {
	Client *Client
	Total  int
}

// EventMessage carries one inbound message. If WasEncrypted is set, Data has
// already been decrypted by the transport.
type EventMessage struct {
	Client       *Client
	Data         []byte
	WasEncrypted bool
}

func (EventStarted) event()            {}
func (EventPaused) event()             {}
func (EventStopped) event()            {}
func (EventClientConnected) event()    {}
func (EventClientDisconnected) event() {}
func (EventMessage) event()            {}

// Message is an outbound send request.
type Message struct {
	// Client is the target, or nil to broadcast to all registered clients.
	Client *Client
	// Data is the packed message body, starting with its opcode.
	Data []byte
	// Encrypt requests the encryption envelope be applied before framing.
	Encrypt bool
	// OnSent, if non-nil, is invoked once the message has been handed to the
	// network (or the attempt has definitively failed).
	OnSent func()
}

// DataProxy is the transport abstraction the session layer runs on.
type DataProxy interface {
	// Name returns the non-localized backend name.
	Name() string

	// RequiresAuthentication reports whether clients must authenticate with
	// the shared password.
	RequiresAuthentication() bool

	// RequiresPersistence reports whether the server must actively keep
	// connections alive with its own ping loop.
	RequiresPersistence() bool

	// SupportsPushNotifications reports whether SendPushNotification works.
	SupportsPushNotifications() bool

	// Start brings the proxy up. Progress and failures are reported through
	// the event channel.
	Start()

	// Stop brings the proxy down, disconnecting all clients.
	Stop()

	// Send queues an outbound message. Per-recipient ordering follows queue
	// order.
	Send(msg Message)

	// SendPushNotification wakes disconnected clients out-of-band.
	// Best-effort; ignored by backends that do not support it.
	SendPushNotification(version int32, data []byte)

	// Disconnect closes one client connection.
	Disconnect(client *Client)

	// Connections returns a snapshot of the currently connected clients.
	Connections() []*Client

	// Events returns the proxy's event stream. The channel is closed when
	// the proxy will emit no further events.
	Events() <-chan Event
}
