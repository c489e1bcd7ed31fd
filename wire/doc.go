// Package wire implements the binary packing format used between the server
// and its clients.
//
// All values are encoded big-endian. Strings and opaque payloads are prefixed
// with an int32 byte length; nullable variants are prefixed with a presence
// bool. Homogeneous arrays are prefixed with an int32 element count.
//
// A Packer appends typed values to a growable buffer; a Reader consumes the
// same sequence of types from a received buffer. Readers never allocate more
// than limits.MaxPacketAllocation for a single declared length, and fail with
// ErrTruncated when a read runs past the end of the buffer.
//
// Example:
//
//	p := wire.NewPacker()
//	p.PackInt(int32(wire.MessageTypePing))
//	send(p.Bytes())
//
//	r := wire.NewReader(data)
//	opcode, err := r.Int()
package wire
