package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airmessage/airmessage-server/crypto"
	"github.com/airmessage/airmessage-server/wire"
)

func TestPackAttachmentChunkLengthOnFirstChunkOnly(t *testing.T) {
	first := packAttachmentChunk(1, 0, 9999, false, []byte("aaa"))
	later := packAttachmentChunk(1, 1, 9999, true, []byte("bbb"))

	reader := wire.NewReader(first)
	reader.Int()
	reader.Short()
	index, _ := reader.Int()
	require.Equal(t, int32(0), index)
	length, err := reader.Long()
	require.NoError(t, err)
	assert.Equal(t, int64(9999), length)
	isLast, _ := reader.Bool()
	assert.False(t, isLast)

	reader = wire.NewReader(later)
	reader.Int()
	reader.Short()
	index, _ = reader.Int()
	require.Equal(t, int32(1), index)
	isLast, err = reader.Bool()
	require.NoError(t, err)
	assert.True(t, isLast)
	payload, err := reader.Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte("bbb"), payload)
}

func TestPackSendResultOmitsDetails(t *testing.T) {
	data := packSendResult(4, wire.SendResultOK, nil)

	reader := wire.NewReader(data)
	reader.Int()
	reader.Short()
	reader.Int()
	details, err := reader.OptionalString()
	require.NoError(t, err)
	assert.Nil(t, details)
}

func TestPackPushNotificationPlaintextWhenEncryptionDisabled(t *testing.T) {
	encryptor := crypto.NewEncryptor(func() string { return "" })

	text := "wake up"
	items := []wire.ConversationItem{&wire.Message{GUID: "m1", ChatGUID: "c1", Text: &text}}
	data, err := packPushNotification(encryptor, items, nil)
	require.NoError(t, err)

	reader := wire.NewReader(data)
	encrypted, err := reader.Bool()
	require.NoError(t, err)
	assert.False(t, encrypted)

	payload, err := reader.Payload()
	require.NoError(t, err)
	inner := wire.NewReader(payload)
	decoded, err := wire.ReadConversationItems(inner)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	modifiers, err := wire.ReadModifiers(inner)
	require.NoError(t, err)
	assert.Empty(t, modifiers)
}

func TestPackLiteThreadWithoutCursor(t *testing.T) {
	data := packLiteThread("c9", nil, nil)

	reader := wire.NewReader(data)
	opcode, _ := reader.Int()
	require.Equal(t, wire.MessageTypeLiteThreadRetrieval, wire.MessageType(opcode))
	chatGUID, _ := reader.String()
	assert.Equal(t, "c9", chatGUID)
	hasBefore, err := reader.Bool()
	require.NoError(t, err)
	assert.False(t, hasBefore)
	items, err := wire.ReadConversationItems(reader)
	require.NoError(t, err)
	assert.Empty(t, items)
}
