// Package limits provides centralized size ceilings and protocol timing
// constants for the bridge server, ensuring consistent enforcement across
// the codec, the transports, and the file transfer pipeline.
//
// # Allocation Ceiling
//
// MaxPacketAllocation (50 MiB) is the absolute maximum for any single decoded
// payload. Every length prefix read from the network must be validated against
// this ceiling before a buffer is allocated for it:
//
//	if err := limits.ValidateAllocation(int(declared)); err != nil {
//	    // Treat the peer as hostile and close the connection.
//	}
//
// # Timing Constants
//
// The handshake, ping, keep-alive, and upload inactivity windows are protocol
// constants shared between the session layer and the transports. They are
// defined here rather than in the packages that use them so that the direct
// and relay transports cannot drift apart.
package limits
