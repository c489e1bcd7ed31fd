package server

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airmessage/airmessage-server/compression"
	"github.com/airmessage/airmessage-server/limits"
	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

func TestStreamChunksSplitsEvenly(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, 10)

	var chunks [][]byte
	var lastFlags []bool
	err := streamChunks(bytes.NewReader(data), 4, func(index int32, isLast bool, chunk []byte) error {
		assert.Equal(t, int32(len(chunks)), index)
		chunks = append(chunks, append([]byte(nil), chunk...))
		lastFlags = append(lastFlags, isLast)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, []bool{false, false, true}, lastFlags)
	assert.Equal(t, data, bytes.Join(chunks, nil))
}

func TestStreamChunksExactMultiple(t *testing.T) {
	data := bytes.Repeat([]byte{0xcd}, 8)

	var count int
	var sawLast bool
	err := streamChunks(bytes.NewReader(data), 4, func(index int32, isLast bool, chunk []byte) error {
		count++
		sawLast = isLast
		assert.Len(t, chunk, 4)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, sawLast)
}

func TestStreamChunksEmptyFile(t *testing.T) {
	var count int
	var sawLast bool
	err := streamChunks(bytes.NewReader(nil), 4, func(index int32, isLast bool, chunk []byte) error {
		count++
		sawLast = isLast
		assert.Empty(t, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "an empty file still emits one terminating chunk")
	assert.True(t, sawLast)
}

func TestStreamChunksEmitErrorStops(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 100)
	err := streamChunks(bytes.NewReader(data), 10, func(index int32, isLast bool, chunk []byte) error {
		return errStreamCanceled
	})
	assert.ErrorIs(t, err, errStreamCanceled)
}

// requestAttachment issues a download request and consumes the confirmation.
func requestAttachment(t *testing.T, h *testHarness, client *transport.Client, requestID int16, chunkSize int32, guid string) {
	t.Helper()
	p := wire.NewPacker()
	p.PackInt(int32(wire.MessageTypeAttachmentReq))
	p.PackShort(requestID)
	p.PackInt(chunkSize)
	p.PackString(guid)
	h.proxy.receive(client, p.Bytes(), true)

	msg := h.proxy.nextSent(t)
	reader := wire.NewReader(msg.Data)
	opcode, _ := reader.Int()
	require.Equal(t, wire.MessageTypeAttachmentReqCfm, wire.MessageType(opcode))
	gotID, _ := reader.Short()
	require.Equal(t, requestID, gotID)
}

// readFailCode consumes one attachment failure reply.
func readFailCode(t *testing.T, h *testHarness, requestID int16) wire.AttachmentReqError {
	t.Helper()
	msg := h.proxy.nextSent(t)
	reader := wire.NewReader(msg.Data)
	opcode, _ := reader.Int()
	require.Equal(t, wire.MessageTypeAttachmentReqFail, wire.MessageType(opcode))
	gotID, _ := reader.Short()
	require.Equal(t, requestID, gotID)
	code, _ := reader.Int()
	return wire.AttachmentReqError(code)
}

func TestAttachmentDownload(t *testing.T) {
	content := bytes.Repeat([]byte("attachment data "), 100)
	path := filepath.Join(t.TempDir(), "photo.jpeg")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	h := newTestHarness(t, true, func(cfg *Config, store *mockStore) {
		store.attachments = map[string]string{"att-1": path}
	})
	client := authenticate(t, h, 1, "install-A")

	requestAttachment(t, h, client, 9, 512, "att-1")

	var assembled []byte
	for index := int32(0); ; index++ {
		msg := h.proxy.nextSent(t)
		assert.True(t, msg.Encrypt)
		reader := wire.NewReader(msg.Data)
		opcode, _ := reader.Int()
		require.Equal(t, wire.MessageTypeAttachmentReq, wire.MessageType(opcode))
		gotID, _ := reader.Short()
		require.Equal(t, int16(9), gotID)
		gotIndex, _ := reader.Int()
		require.Equal(t, index, gotIndex)

		// The file's total length rides on the first chunk only.
		if index == 0 {
			length, err := reader.Long()
			require.NoError(t, err)
			assert.Equal(t, int64(len(content)), length)
		}

		isLast, err := reader.Bool()
		require.NoError(t, err)
		compressed, err := reader.Payload()
		require.NoError(t, err)
		chunk, err := compression.Decompress(compressed)
		require.NoError(t, err)
		require.LessOrEqual(t, len(chunk), 512)
		assembled = append(assembled, chunk...)

		if isLast {
			break
		}
	}

	assert.Equal(t, content, assembled)
}

func TestAttachmentDownloadDefaultChunkSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o600))

	h := newTestHarness(t, true, func(cfg *Config, store *mockStore) {
		store.attachments = map[string]string{"att-1": path}
	})
	client := authenticate(t, h, 1, "install-A")

	// A non-positive chunk size falls back to the server default.
	requestAttachment(t, h, client, 3, 0, "att-1")

	msg := h.proxy.nextSent(t)
	reader := wire.NewReader(msg.Data)
	opcode, _ := reader.Int()
	require.Equal(t, wire.MessageTypeAttachmentReq, wire.MessageType(opcode))
	reader.Short()
	reader.Int()
	reader.Long()
	isLast, err := reader.Bool()
	require.NoError(t, err)
	assert.True(t, isLast)
}

func TestAttachmentDownloadOversizedChunkSizeClamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o600))

	h := newTestHarness(t, true, func(cfg *Config, store *mockStore) {
		store.attachments = map[string]string{"att-1": path}
	})
	client := authenticate(t, h, 1, "install-A")

	// A hostile chunk size must not size the stream buffers; the download
	// still completes, with allocation bounded by the packet ceiling.
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	requestAttachment(t, h, client, 7, math.MaxInt32, "att-1")

	msg := h.proxy.nextSent(t)
	runtime.ReadMemStats(&after)

	reader := wire.NewReader(msg.Data)
	opcode, _ := reader.Int()
	require.Equal(t, wire.MessageTypeAttachmentReq, wire.MessageType(opcode))
	reader.Short()
	reader.Int()
	reader.Long()
	isLast, err := reader.Bool()
	require.NoError(t, err)
	assert.True(t, isLast)
	compressed, err := reader.Payload()
	require.NoError(t, err)
	chunk, err := compression.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), chunk)

	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(3*limits.MaxPacketAllocation))
}

func TestAttachmentDownloadUnknownGUID(t *testing.T) {
	h := newTestHarness(t, true, nil)
	client := authenticate(t, h, 1, "install-A")

	requestAttachment(t, h, client, 5, 512, "missing")
	assert.Equal(t, wire.AttachmentReqErrorNotFound, readFailCode(t, h, 5))
}

func TestAttachmentDownloadFileGone(t *testing.T) {
	h := newTestHarness(t, true, func(cfg *Config, store *mockStore) {
		store.attachments = map[string]string{
			"att-1": filepath.Join(t.TempDir(), "deleted.bin"),
		}
	})
	client := authenticate(t, h, 1, "install-A")

	// The store knows the attachment but the file was never transferred in.
	requestAttachment(t, h, client, 6, 512, "att-1")
	assert.Equal(t, wire.AttachmentReqErrorNotSaved, readFailCode(t, h, 6))
}
