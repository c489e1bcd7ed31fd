package wire

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airmessage/airmessage-server/limits"
)

func strPtr(s string) *string { return &s }

func TestConversationInfoRoundTrip(t *testing.T) {
	original := ConversationInfo{
		GUID:      "iMessage;-;chat1",
		Available: true,
		Service:   "iMessage",
		Name:      strPtr("Family"),
		Members:   []string{"+15551234567", "person@example.com"},
	}

	p := NewPacker()
	original.Pack(p)

	decoded, err := ReadConversationInfo(NewReader(p.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestLiteConversationInfoRoundTrip(t *testing.T) {
	original := LiteConversationInfo{
		GUID:               "iMessage;-;chat2",
		Service:            "iMessage",
		Name:               nil,
		Members:            []string{"+15550000000"},
		PreviewDate:        1700000000000,
		PreviewSender:      strPtr("+15550000000"),
		PreviewText:        strPtr("see you soon"),
		PreviewSendStyle:   nil,
		PreviewAttachments: []string{},
	}

	p := NewPacker()
	original.Pack(p)

	decoded, err := ReadLiteConversationInfo(NewReader(p.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, original.GUID, decoded.GUID)
	assert.Equal(t, original.PreviewDate, decoded.PreviewDate)
	assert.Equal(t, original.PreviewText, decoded.PreviewText)
	assert.Nil(t, decoded.PreviewSendStyle)
	assert.Empty(t, decoded.PreviewAttachments)
}

func TestMessageRoundTrip(t *testing.T) {
	original := &Message{
		ServerID: 4200,
		GUID:     "message-guid",
		ChatGUID: "chat-guid",
		Date:     1700000001000,
		Text:     strPtr("hello"),
		Sender:   strPtr("+15551234567"),
		Attachments: []AttachmentInfo{{
			GUID:     "attachment-guid",
			Name:     "photo.jpeg",
			Type:     strPtr("image/jpeg"),
			Size:     123456,
			Checksum: []byte{0xde, 0xad, 0xbe, 0xef},
			Sort:     1,
		}},
		Stickers: []StickerModifier{{
			MessageGUID:  "message-guid",
			ServerID:     17,
			MessageIndex: 0,
			FileGUID:     "sticker-guid",
			Date:         1700000002000,
			Data:         []byte{9, 9, 9},
			Type:         "image/png",
		}},
		Tapbacks: []TapbackModifier{{
			MessageGUID:  "message-guid",
			ServerID:     18,
			MessageIndex: 0,
			Sender:       strPtr("person@example.com"),
			IsAddition:   true,
			TapbackType:  2000,
		}},
		State:    MessageStateDelivered,
		Error:    MessageErrorOK,
		DateRead: 0,
	}

	p := NewPacker()
	original.Pack(p)

	item, err := ReadConversationItem(NewReader(p.Bytes()))
	require.NoError(t, err)
	decoded, ok := item.(*Message)
	require.True(t, ok)
	assert.Equal(t, original, decoded)
}

func TestGroupActionRoundTrip(t *testing.T) {
	original := &GroupAction{
		ServerID: 9,
		GUID:     "action-guid",
		ChatGUID: "chat-guid",
		Date:     1700000003000,
		Agent:    strPtr("+15551234567"),
		Other:    strPtr("+15559876543"),
		Type:     GroupActionJoin,
	}

	p := NewPacker()
	original.Pack(p)

	item, err := ReadConversationItem(NewReader(p.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, original, item)
}

func TestChatRenameRoundTrip(t *testing.T) {
	original := &ChatRename{
		ServerID: 10,
		GUID:     "rename-guid",
		ChatGUID: "chat-guid",
		Date:     1700000004000,
		Agent:    strPtr("+15551234567"),
		NewName:  strPtr("Weekend plans"),
	}

	p := NewPacker()
	original.Pack(p)

	item, err := ReadConversationItem(NewReader(p.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, original, item)
}

func TestConversationItemsRoundTrip(t *testing.T) {
	items := []ConversationItem{
		&Message{ServerID: 1, GUID: "a", ChatGUID: "c", Date: 1},
		&GroupAction{ServerID: 2, GUID: "b", ChatGUID: "c", Date: 2, Type: GroupActionLeave},
		&ChatRename{ServerID: 3, GUID: "d", ChatGUID: "c", Date: 3},
	}

	p := NewPacker()
	PackConversationItems(p, items)

	decoded, err := ReadConversationItems(NewReader(p.Bytes()))
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.IsType(t, &Message{}, decoded[0])
	assert.IsType(t, &GroupAction{}, decoded[1])
	assert.IsType(t, &ChatRename{}, decoded[2])
}

func TestModifiersRoundTrip(t *testing.T) {
	modifiers := []Modifier{
		&ActivityStatusModifier{MessageGUID: "m1", State: MessageStateRead, DateRead: 1700000005000},
		&StickerModifier{MessageGUID: "m2", ServerID: 5, FileGUID: "f", Data: []byte{1}, Type: "image/png"},
		&TapbackModifier{MessageGUID: "m3", ServerID: 6, IsAddition: false, TapbackType: 3001},
	}

	p := NewPacker()
	PackModifiers(p, modifiers)

	decoded, err := ReadModifiers(NewReader(p.Bytes()))
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, modifiers[0], decoded[0])
	assert.Equal(t, modifiers[1], decoded[1])
	assert.Equal(t, modifiers[2], decoded[2])
}

func TestBlockArraysOverdeclaredCount(t *testing.T) {
	// A huge declared element count on a near-empty buffer must fail on the
	// missing data, not allocate for the declared count first.
	p := NewPacker()
	p.PackArrayHeader(limits.MaxPacketAllocation)
	data := append([]byte(nil), p.Bytes()...)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, itemsErr := ReadConversationItems(NewReader(data))
	_, modifiersErr := ReadModifiers(NewReader(data))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, itemsErr, ErrTruncated)
	assert.ErrorIs(t, modifiersErr, ErrTruncated)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20),
		"preallocation must be bounded by the bytes actually present")
}

func TestReadConversationItemUnknownDiscriminant(t *testing.T) {
	p := NewPacker()
	p.PackInt(99)
	p.PackLong(1)
	p.PackString("guid")
	p.PackString("chat")
	p.PackLong(2)

	_, err := ReadConversationItem(NewReader(p.Bytes()))
	assert.ErrorIs(t, err, ErrUnknownBlockType)
}

func TestReadModifierUnknownDiscriminant(t *testing.T) {
	p := NewPacker()
	p.PackInt(-7)

	_, err := ReadModifier(NewReader(p.Bytes()))
	assert.ErrorIs(t, err, ErrUnknownBlockType)
}

func TestMessageTypeKnown(t *testing.T) {
	assert.True(t, MessageTypeClose.Known())
	assert.True(t, MessageTypeCreateChat.Known())
	assert.False(t, MessageType(999).Known())
	assert.False(t, MessageType(500).Known())
}
