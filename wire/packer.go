package wire

import (
	"encoding/binary"
	"math"
	"sync"
)

// Packer appends typed values to a growable byte buffer in wire order.
// The zero value is ready to use. Packers may be pooled via AcquirePacker
// and ReleasePacker; Reset clears all buffered data so no bytes leak
// between messages.
type Packer struct {
	buf []byte
}

// NewPacker creates an empty Packer.
func NewPacker() *Packer {
	return &Packer{}
}

// NewPackerCapacity creates a Packer with a preallocated capacity hint.
func NewPackerCapacity(capacity int) *Packer {
	return &Packer{buf: make([]byte, 0, capacity)}
}

var packerPool = sync.Pool{
	New: func() any { return &Packer{} },
}

// AcquirePacker checks a reset Packer out of the shared pool.
func AcquirePacker() *Packer {
	return packerPool.Get().(*Packer)
}

// ReleasePacker resets the Packer and returns it to the shared pool.
// The caller must not retain the Packer or any slice obtained from Bytes.
func ReleasePacker(p *Packer) {
	p.Reset()
	packerPool.Put(p)
}

// Reset discards all buffered data, keeping the underlying capacity.
func (p *Packer) Reset() {
	p.buf = p.buf[:0]
}

// Len returns the number of buffered bytes.
func (p *Packer) Len() int {
	return len(p.buf)
}

// Bytes returns the packed buffer. The slice is only valid until the next
// mutating call on the Packer.
func (p *Packer) Bytes() []byte {
	return p.buf
}

// PackBool appends a bool as a single byte (1 or 0).
func (p *Packer) PackBool(value bool) {
	if value {
		p.buf = append(p.buf, 1)
	} else {
		p.buf = append(p.buf, 0)
	}
}

// PackByte appends a single signed byte.
func (p *Packer) PackByte(value int8) {
	p.buf = append(p.buf, byte(value))
}

// PackShort appends an int16 big-endian.
func (p *Packer) PackShort(value int16) {
	p.buf = binary.BigEndian.AppendUint16(p.buf, uint16(value))
}

// PackInt appends an int32 big-endian.
func (p *Packer) PackInt(value int32) {
	p.buf = binary.BigEndian.AppendUint32(p.buf, uint32(value))
}

// PackLong appends an int64 big-endian.
func (p *Packer) PackLong(value int64) {
	p.buf = binary.BigEndian.AppendUint64(p.buf, uint64(value))
}

// PackDouble appends a float64 as its IEEE 754 bits, big-endian.
func (p *Packer) PackDouble(value float64) {
	p.buf = binary.BigEndian.AppendUint64(p.buf, math.Float64bits(value))
}

// PackRaw appends bytes without a length prefix.
func (p *Packer) PackRaw(value []byte) {
	p.buf = append(p.buf, value...)
}

// PackPayload appends an int32 length prefix followed by the bytes.
func (p *Packer) PackPayload(value []byte) {
	p.PackInt(int32(len(value)))
	p.buf = append(p.buf, value...)
}

// PackOptionalPayload appends a presence bool, then the payload if present.
func (p *Packer) PackOptionalPayload(value []byte) {
	if value != nil {
		p.PackBool(true)
		p.PackPayload(value)
	} else {
		p.PackBool(false)
	}
}

// PackString appends the UTF-8 bytes of a string as a payload.
func (p *Packer) PackString(value string) {
	p.PackPayload([]byte(value))
}

// PackOptionalString appends a presence bool, then the string if present.
func (p *Packer) PackOptionalString(value *string) {
	if value != nil {
		p.PackBool(true)
		p.PackString(*value)
	} else {
		p.PackBool(false)
	}
}

// PackArrayHeader appends an element count preceding homogeneous elements.
func (p *Packer) PackArrayHeader(count int32) {
	p.PackInt(count)
}

// PackStringArray appends an array header followed by each string.
func (p *Packer) PackStringArray(values []string) {
	p.PackArrayHeader(int32(len(values)))
	for _, value := range values {
		p.PackString(value)
	}
}
