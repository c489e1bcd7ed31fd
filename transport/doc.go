// Package transport implements the data proxy layer: the abstraction through
// which the server talks to its clients, and the two concrete backends.
//
// A DataProxy owns the raw connection lifecycle and the per-message
// encryption envelope. It reports everything that happens as a stream of
// Event values on a single channel, consumed by one dispatcher goroutine;
// this gives the session layer a total order over connects, disconnects, and
// inbound messages without callback re-entrancy.
//
// Two backends are provided:
//
//   - TCPProxy listens for direct connections and frames packets as
//     int32 length || bool encrypted || body.
//
//   - ConnectProxy holds one outbound WebSocket to a relay service that
//     multiplexes many logical clients by numeric connection ID, with
//     automatic reconnection for recoverable failures.
package transport
