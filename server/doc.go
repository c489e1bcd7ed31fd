// Package server contains the protocol dispatcher and session orchestration.
//
// A Manager owns one transport.DataProxy and consumes its event stream on a
// single goroutine, which gives inbound messages, connects, and disconnects a
// total order. Handlers decode request bodies inline, then push store-facing
// work onto a FIFO request queue so one client's sequential requests are
// never reordered relative to each other.
//
// Inbound messages are gated in two tiers: close, ping, pong, and
// authentication are always available; everything else requires a registered
// session and a message the transport received through the secure path.
//
// The message store and the outward send capability are supplied as the
// Store and Messenger interfaces; the server never touches either directly.
package server
