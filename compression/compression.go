// Package compression provides the DEFLATE (zlib) helpers used for file
// transfer chunks. Each chunk is compressed and decompressed independently;
// no stream state is carried between chunks.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/airmessage/airmessage-server/limits"
)

// Compress deflates data into a standalone zlib stream.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := zlib.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("compressing data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compressed stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a standalone zlib stream. Output is capped at the
// packet allocation ceiling so a malicious chunk cannot expand without bound.
func Decompress(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening compressed stream: %w", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	limited := io.LimitReader(reader, limits.MaxPacketAllocation+1)
	if _, err := buf.ReadFrom(limited); err != nil {
		return nil, fmt.Errorf("inflating data: %w", err)
	}
	if buf.Len() > limits.MaxPacketAllocation {
		return nil, fmt.Errorf("inflating data: %w", limits.ErrAllocationTooLarge)
	}
	return buf.Bytes(), nil
}
