package wire

import "errors"

// ErrTruncated indicates a read ran past the end of the buffer.
var ErrTruncated = errors.New("buffer truncated")

// ErrInvalidString indicates a decoded string payload was not valid UTF-8.
var ErrInvalidString = errors.New("string payload is not valid UTF-8")

// ErrUnknownBlockType indicates a polymorphic block discriminant was not recognized.
var ErrUnknownBlockType = errors.New("unknown block type discriminant")
