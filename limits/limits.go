package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxPacketAllocation is the absolute maximum for any single decoded
	// payload or packet body (50 MiB). Declared lengths above this ceiling
	// are treated as hostile input and are rejected before allocation.
	MaxPacketAllocation = 50 * 1024 * 1024

	// TransmissionCheckLength is the length of the one-time nonce a client
	// must echo back inside its encrypted authentication payload.
	TransmissionCheckLength = 32

	// DefaultFileChunkSize is the chunk size used for outbound file
	// transfers when the client does not request one (1 MiB).
	DefaultFileChunkSize = 1024 * 1024

	// HandshakeTimeout is how long a directly connected client has to
	// authenticate before it is disconnected.
	HandshakeTimeout = 10 * time.Second

	// RelayHandshakeTimeout is how long the relay has to confirm the
	// server's connection before the socket is dropped.
	RelayHandshakeTimeout = 8 * time.Second

	// PingTimeout is how long a client has to answer a keep-alive ping.
	PingTimeout = 30 * time.Second

	// KeepAliveInterval is how often keep-alive pings are broadcast on
	// transports that require persistence.
	KeepAliveInterval = 30 * time.Minute

	// UploadInactivityTimeout is how long an inbound file transfer may go
	// without a new chunk before it is failed and its partial file deleted.
	UploadInactivityTimeout = 10 * time.Second
)

var (
	// ErrDataEmpty indicates an empty buffer was provided.
	ErrDataEmpty = errors.New("empty data")

	// ErrAllocationTooLarge indicates a declared length exceeds MaxPacketAllocation.
	ErrAllocationTooLarge = errors.New("allocation exceeds ceiling")
)

// ValidateAllocation checks a declared length against MaxPacketAllocation.
// It is used before allocating buffers for untrusted length prefixes.
func ValidateAllocation(length int) error {
	if length < 0 || length > MaxPacketAllocation {
		return fmt.Errorf("%w: declared length %d exceeds limit %d", ErrAllocationTooLarge, length, MaxPacketAllocation)
	}
	return nil
}

// ValidatePacket validates a complete packet body against MaxPacketAllocation.
func ValidatePacket(data []byte) error {
	if len(data) == 0 {
		return ErrDataEmpty
	}
	if len(data) > MaxPacketAllocation {
		return fmt.Errorf("%w: packet size %d exceeds limit %d", ErrAllocationTooLarge, len(data), MaxPacketAllocation)
	}
	return nil
}
