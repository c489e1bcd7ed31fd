package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/airmessage/airmessage-server/limits"
)

// Reader consumes typed values from a received byte buffer in wire order.
// Declared lengths are validated against limits.MaxPacketAllocation before
// any allocation, and reads past the end of the buffer fail with
// ErrTruncated.
type Reader struct {
	data []byte
	off  int
}

// NewReader creates a Reader over data. The Reader does not copy data; the
// caller must not mutate it while the Reader is in use.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Backtrack moves the read position back by n bytes. It is used by the relay
// framing layer when a probed sentinel byte turns out to be payload data.
func (r *Reader) Backtrack(n int) {
	if n > r.off {
		n = r.off
	}
	r.off -= n
}

func (r *Reader) require(n int) error {
	if r.Remaining() < n {
		return ErrTruncated
	}
	return nil
}

// Bool reads a single byte as a bool (nonzero = true).
func (r *Reader) Bool() (bool, error) {
	if err := r.require(1); err != nil {
		return false, err
	}
	value := r.data[r.off] != 0
	r.off++
	return value, nil
}

// Byte reads a single signed byte.
func (r *Reader) Byte() (int8, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	value := int8(r.data[r.off])
	r.off++
	return value, nil
}

// Short reads an int16 big-endian.
func (r *Reader) Short() (int16, error) {
	if err := r.require(2); err != nil {
		return 0, err
	}
	value := int16(binary.BigEndian.Uint16(r.data[r.off:]))
	r.off += 2
	return value, nil
}

// Int reads an int32 big-endian.
func (r *Reader) Int() (int32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	value := int32(binary.BigEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return value, nil
}

// Long reads an int64 big-endian.
func (r *Reader) Long() (int64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	value := int64(binary.BigEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return value, nil
}

// Double reads a float64 from its IEEE 754 bits, big-endian.
func (r *Reader) Double() (float64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	value := math.Float64frombits(binary.BigEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return value, nil
}

// Payload reads an int32 length prefix followed by that many bytes.
// The returned slice is a copy and remains valid after the Reader is
// discarded. Lengths above the allocation ceiling fail without allocating.
func (r *Reader) Payload() ([]byte, error) {
	length, err := r.Int()
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateAllocation(int(length)); err != nil {
		return nil, err
	}
	if err := r.require(int(length)); err != nil {
		return nil, err
	}
	value := make([]byte, length)
	copy(value, r.data[r.off:])
	r.off += int(length)
	return value, nil
}

// OptionalPayload reads a presence bool, then a payload if present.
// Absent payloads decode as nil.
func (r *Reader) OptionalPayload() ([]byte, error) {
	present, err := r.Bool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return r.Payload()
}

// Rest reads all remaining bytes as a copy.
func (r *Reader) Rest() ([]byte, error) {
	if r.off >= len(r.data) {
		return nil, ErrTruncated
	}
	value := make([]byte, r.Remaining())
	copy(value, r.data[r.off:])
	r.off = len(r.data)
	return value, nil
}

// String reads a payload and interprets it as UTF-8.
func (r *Reader) String() (string, error) {
	payload, err := r.Payload()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(payload) {
		return "", ErrInvalidString
	}
	return string(payload), nil
}

// OptionalString reads a presence bool, then a string if present.
func (r *Reader) OptionalString() (*string, error) {
	present, err := r.Bool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	value, err := r.String()
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// ArrayHeader reads an element count. The count is validated against the
// allocation ceiling so a hostile header cannot drive a huge preallocation.
func (r *Reader) ArrayHeader() (int32, error) {
	count, err := r.Int()
	if err != nil {
		return 0, err
	}
	if err := limits.ValidateAllocation(int(count)); err != nil {
		return 0, err
	}
	return count, nil
}

// capHint bounds a declared element count by what the remaining bytes could
// possibly encode, so a hostile array header cannot drive a preallocation far
// beyond the data actually present. minElementSize is the smallest valid
// encoding of one element.
func (r *Reader) capHint(count int32, minElementSize int) int {
	max := r.Remaining() / minElementSize
	if int(count) < max {
		return int(count)
	}
	return max
}

// StringArray reads an array header followed by that many strings.
func (r *Reader) StringArray() ([]string, error) {
	count, err := r.ArrayHeader()
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, r.capHint(count, 4))
	for i := int32(0); i < count; i++ {
		value, err := r.String()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}
