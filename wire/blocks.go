package wire

// Blocks are the structured records serialized onto the wire: conversations,
// conversation items, attachments, and modifiers. Polymorphic families write
// an int32 discriminant first; decoding switches on the same discriminant.

// MessageState is the delivery state of a message.
type MessageState int32

const (
	MessageStateIdle      MessageState = 0
	MessageStateSent      MessageState = 1
	MessageStateDelivered MessageState = 2
	MessageStateRead      MessageState = 3
)

// MessageError is the error state of an outgoing message.
type MessageError int32

const (
	MessageErrorOK           MessageError = 0
	MessageErrorUnknown      MessageError = 1
	MessageErrorNetwork      MessageError = 2
	MessageErrorUnregistered MessageError = 3
)

// GroupActionType describes a group membership change.
type GroupActionType int32

const (
	GroupActionUnknown GroupActionType = 0
	GroupActionJoin    GroupActionType = 1
	GroupActionLeave   GroupActionType = 2
)

// Conversation item discriminants.
const (
	itemTypeMessage     int32 = 0
	itemTypeGroupAction int32 = 1
	itemTypeChatRename  int32 = 2
)

// Modifier discriminants.
const (
	modifierTypeActivityStatus int32 = 0
	modifierTypeSticker        int32 = 1
	modifierTypeTapback        int32 = 2
)

// ConversationInfo describes a conversation and its membership.
type ConversationInfo struct {
	GUID      string
	Available bool
	Service   string
	Name      *string
	Members   []string
}

// Pack writes the conversation record.
func (c *ConversationInfo) Pack(p *Packer) {
	p.PackString(c.GUID)
	p.PackBool(c.Available)
	p.PackString(c.Service)
	p.PackOptionalString(c.Name)
	p.PackStringArray(c.Members)
}

// ReadConversationInfo decodes a conversation record.
func ReadConversationInfo(r *Reader) (ConversationInfo, error) {
	var c ConversationInfo
	var err error
	if c.GUID, err = r.String(); err != nil {
		return c, err
	}
	if c.Available, err = r.Bool(); err != nil {
		return c, err
	}
	if c.Service, err = r.String(); err != nil {
		return c, err
	}
	if c.Name, err = r.OptionalString(); err != nil {
		return c, err
	}
	if c.Members, err = r.StringArray(); err != nil {
		return c, err
	}
	return c, nil
}

// LiteConversationInfo is a conversation summary with its latest preview.
type LiteConversationInfo struct {
	GUID               string
	Service            string
	Name               *string
	Members            []string
	PreviewDate        int64
	PreviewSender      *string
	PreviewText        *string
	PreviewSendStyle   *string
	PreviewAttachments []string
}

// Pack writes the summary record.
func (c *LiteConversationInfo) Pack(p *Packer) {
	p.PackString(c.GUID)
	p.PackString(c.Service)
	p.PackOptionalString(c.Name)
	p.PackStringArray(c.Members)
	p.PackLong(c.PreviewDate)
	p.PackOptionalString(c.PreviewSender)
	p.PackOptionalString(c.PreviewText)
	p.PackOptionalString(c.PreviewSendStyle)
	p.PackStringArray(c.PreviewAttachments)
}

// ReadLiteConversationInfo decodes a summary record.
func ReadLiteConversationInfo(r *Reader) (LiteConversationInfo, error) {
	var c LiteConversationInfo
	var err error
	if c.GUID, err = r.String(); err != nil {
		return c, err
	}
	if c.Service, err = r.String(); err != nil {
		return c, err
	}
	if c.Name, err = r.OptionalString(); err != nil {
		return c, err
	}
	if c.Members, err = r.StringArray(); err != nil {
		return c, err
	}
	if c.PreviewDate, err = r.Long(); err != nil {
		return c, err
	}
	if c.PreviewSender, err = r.OptionalString(); err != nil {
		return c, err
	}
	if c.PreviewText, err = r.OptionalString(); err != nil {
		return c, err
	}
	if c.PreviewSendStyle, err = r.OptionalString(); err != nil {
		return c, err
	}
	if c.PreviewAttachments, err = r.StringArray(); err != nil {
		return c, err
	}
	return c, nil
}

// AttachmentInfo describes a file attached to a message.
type AttachmentInfo struct {
	GUID     string
	Name     string
	Type     *string
	Size     int64
	Checksum []byte
	Sort     int64
}

// Pack writes the attachment record.
func (a *AttachmentInfo) Pack(p *Packer) {
	p.PackString(a.GUID)
	p.PackString(a.Name)
	p.PackOptionalString(a.Type)
	p.PackLong(a.Size)
	p.PackOptionalPayload(a.Checksum)
	p.PackLong(a.Sort)
}

// ReadAttachmentInfo decodes an attachment record.
func ReadAttachmentInfo(r *Reader) (AttachmentInfo, error) {
	var a AttachmentInfo
	var err error
	if a.GUID, err = r.String(); err != nil {
		return a, err
	}
	if a.Name, err = r.String(); err != nil {
		return a, err
	}
	if a.Type, err = r.OptionalString(); err != nil {
		return a, err
	}
	if a.Size, err = r.Long(); err != nil {
		return a, err
	}
	if a.Checksum, err = r.OptionalPayload(); err != nil {
		return a, err
	}
	if a.Sort, err = r.Long(); err != nil {
		return a, err
	}
	return a, nil
}

// ConversationItem is a polymorphic entry in a conversation timeline.
type ConversationItem interface {
	itemType() int32

	// Pack writes the discriminant followed by the item's fields.
	Pack(p *Packer)
}

// Message is a regular conversation message with its inline modifiers.
type Message struct {
	ServerID int64
	GUID     string
	ChatGUID string
	Date     int64

	Text        *string
	Subject     *string
	Sender      *string
	Attachments []AttachmentInfo
	Stickers    []StickerModifier
	Tapbacks    []TapbackModifier
	SendEffect  *string
	State       MessageState
	Error       MessageError
	DateRead    int64
}

func (*Message) itemType() int32 { return itemTypeMessage }

func (m *Message) Pack(p *Packer) {
	p.PackInt(itemTypeMessage)
	p.PackLong(m.ServerID)
	p.PackString(m.GUID)
	p.PackString(m.ChatGUID)
	p.PackLong(m.Date)

	p.PackOptionalString(m.Text)
	p.PackOptionalString(m.Subject)
	p.PackOptionalString(m.Sender)
	p.PackArrayHeader(int32(len(m.Attachments)))
	for i := range m.Attachments {
		m.Attachments[i].Pack(p)
	}
	p.PackArrayHeader(int32(len(m.Stickers)))
	for i := range m.Stickers {
		m.Stickers[i].packFields(p)
	}
	p.PackArrayHeader(int32(len(m.Tapbacks)))
	for i := range m.Tapbacks {
		m.Tapbacks[i].packFields(p)
	}
	p.PackOptionalString(m.SendEffect)
	p.PackInt(int32(m.State))
	p.PackInt(int32(m.Error))
	p.PackLong(m.DateRead)
}

// GroupAction records a member joining or leaving a conversation.
type GroupAction struct {
	ServerID int64
	GUID     string
	ChatGUID string
	Date     int64

	Agent *string
	Other *string
	Type  GroupActionType
}

func (*GroupAction) itemType() int32 { return itemTypeGroupAction }

func (g *GroupAction) Pack(p *Packer) {
	p.PackInt(itemTypeGroupAction)
	p.PackLong(g.ServerID)
	p.PackString(g.GUID)
	p.PackString(g.ChatGUID)
	p.PackLong(g.Date)

	p.PackOptionalString(g.Agent)
	p.PackOptionalString(g.Other)
	p.PackInt(int32(g.Type))
}

// ChatRename records a conversation being renamed.
type ChatRename struct {
	ServerID int64
	GUID     string
	ChatGUID string
	Date     int64

	Agent   *string
	NewName *string
}

func (*ChatRename) itemType() int32 { return itemTypeChatRename }

func (c *ChatRename) Pack(p *Packer) {
	p.PackInt(itemTypeChatRename)
	p.PackLong(c.ServerID)
	p.PackString(c.GUID)
	p.PackString(c.ChatGUID)
	p.PackLong(c.Date)

	p.PackOptionalString(c.Agent)
	p.PackOptionalString(c.NewName)
}

// PackConversationItems writes an array of conversation items.
func PackConversationItems(p *Packer, items []ConversationItem) {
	p.PackArrayHeader(int32(len(items)))
	for _, item := range items {
		item.Pack(p)
	}
}

// ReadConversationItem decodes one polymorphic conversation item.
func ReadConversationItem(r *Reader) (ConversationItem, error) {
	discriminant, err := r.Int()
	if err != nil {
		return nil, err
	}

	serverID, err := r.Long()
	if err != nil {
		return nil, err
	}
	guid, err := r.String()
	if err != nil {
		return nil, err
	}
	chatGUID, err := r.String()
	if err != nil {
		return nil, err
	}
	date, err := r.Long()
	if err != nil {
		return nil, err
	}

	switch discriminant {
	case itemTypeMessage:
		m := &Message{ServerID: serverID, GUID: guid, ChatGUID: chatGUID, Date: date}
		if m.Text, err = r.OptionalString(); err != nil {
			return nil, err
		}
		if m.Subject, err = r.OptionalString(); err != nil {
			return nil, err
		}
		if m.Sender, err = r.OptionalString(); err != nil {
			return nil, err
		}
		count, err := r.ArrayHeader()
		if err != nil {
			return nil, err
		}
		for i := int32(0); i < count; i++ {
			attachment, err := ReadAttachmentInfo(r)
			if err != nil {
				return nil, err
			}
			m.Attachments = append(m.Attachments, attachment)
		}
		if count, err = r.ArrayHeader(); err != nil {
			return nil, err
		}
		for i := int32(0); i < count; i++ {
			sticker, err := readStickerFields(r)
			if err != nil {
				return nil, err
			}
			m.Stickers = append(m.Stickers, sticker)
		}
		if count, err = r.ArrayHeader(); err != nil {
			return nil, err
		}
		for i := int32(0); i < count; i++ {
			tapback, err := readTapbackFields(r)
			if err != nil {
				return nil, err
			}
			m.Tapbacks = append(m.Tapbacks, tapback)
		}
		if m.SendEffect, err = r.OptionalString(); err != nil {
			return nil, err
		}
		var state, errorCode int32
		if state, err = r.Int(); err != nil {
			return nil, err
		}
		if errorCode, err = r.Int(); err != nil {
			return nil, err
		}
		m.State = MessageState(state)
		m.Error = MessageError(errorCode)
		if m.DateRead, err = r.Long(); err != nil {
			return nil, err
		}
		return m, nil

	case itemTypeGroupAction:
		g := &GroupAction{ServerID: serverID, GUID: guid, ChatGUID: chatGUID, Date: date}
		if g.Agent, err = r.OptionalString(); err != nil {
			return nil, err
		}
		if g.Other, err = r.OptionalString(); err != nil {
			return nil, err
		}
		actionType, err := r.Int()
		if err != nil {
			return nil, err
		}
		g.Type = GroupActionType(actionType)
		return g, nil

	case itemTypeChatRename:
		c := &ChatRename{ServerID: serverID, GUID: guid, ChatGUID: chatGUID, Date: date}
		if c.Agent, err = r.OptionalString(); err != nil {
			return nil, err
		}
		if c.NewName, err = r.OptionalString(); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, ErrUnknownBlockType
}

// ReadConversationItems decodes an array of conversation items.
func ReadConversationItems(r *Reader) ([]ConversationItem, error) {
	count, err := r.ArrayHeader()
	if err != nil {
		return nil, err
	}
	items := make([]ConversationItem, 0, r.capHint(count, 4))
	for i := int32(0); i < count; i++ {
		item, err := ReadConversationItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Modifier is a polymorphic out-of-band update to a previously sent message.
type Modifier interface {
	modifierType() int32

	// Pack writes the discriminant followed by the modifier's fields.
	Pack(p *Packer)
}

// ActivityStatusModifier carries a delivery/read state change.
type ActivityStatusModifier struct {
	MessageGUID string
	State       MessageState
	DateRead    int64
}

func (*ActivityStatusModifier) modifierType() int32 { return modifierTypeActivityStatus }

func (m *ActivityStatusModifier) Pack(p *Packer) {
	p.PackInt(modifierTypeActivityStatus)
	p.PackString(m.MessageGUID)
	p.PackInt(int32(m.State))
	p.PackLong(m.DateRead)
}

// StickerModifier attaches a sticker to a message.
type StickerModifier struct {
	MessageGUID  string
	ServerID     int64
	MessageIndex int32
	FileGUID     string
	Sender       *string
	Date         int64
	Data         []byte
	Type         string
}

func (*StickerModifier) modifierType() int32 { return modifierTypeSticker }

func (m *StickerModifier) Pack(p *Packer) {
	p.PackInt(modifierTypeSticker)
	m.packFields(p)
}

func (m *StickerModifier) packFields(p *Packer) {
	p.PackString(m.MessageGUID)
	p.PackLong(m.ServerID)
	p.PackInt(m.MessageIndex)
	p.PackString(m.FileGUID)
	p.PackOptionalString(m.Sender)
	p.PackLong(m.Date)
	p.PackPayload(m.Data)
	p.PackString(m.Type)
}

func readStickerFields(r *Reader) (StickerModifier, error) {
	var m StickerModifier
	var err error
	if m.MessageGUID, err = r.String(); err != nil {
		return m, err
	}
	if m.ServerID, err = r.Long(); err != nil {
		return m, err
	}
	if m.MessageIndex, err = r.Int(); err != nil {
		return m, err
	}
	if m.FileGUID, err = r.String(); err != nil {
		return m, err
	}
	if m.Sender, err = r.OptionalString(); err != nil {
		return m, err
	}
	if m.Date, err = r.Long(); err != nil {
		return m, err
	}
	if m.Data, err = r.Payload(); err != nil {
		return m, err
	}
	if m.Type, err = r.String(); err != nil {
		return m, err
	}
	return m, nil
}

// TapbackModifier adds or removes a reaction on a message.
type TapbackModifier struct {
	MessageGUID  string
	ServerID     int64
	MessageIndex int32
	Sender       *string
	IsAddition   bool
	TapbackType  int32
}

func (*TapbackModifier) modifierType() int32 { return modifierTypeTapback }

func (m *TapbackModifier) Pack(p *Packer) {
	p.PackInt(modifierTypeTapback)
	m.packFields(p)
}

func (m *TapbackModifier) packFields(p *Packer) {
	p.PackString(m.MessageGUID)
	p.PackLong(m.ServerID)
	p.PackInt(m.MessageIndex)
	p.PackOptionalString(m.Sender)
	p.PackBool(m.IsAddition)
	p.PackInt(m.TapbackType)
}

func readTapbackFields(r *Reader) (TapbackModifier, error) {
	var m TapbackModifier
	var err error
	if m.MessageGUID, err = r.String(); err != nil {
		return m, err
	}
	if m.ServerID, err = r.Long(); err != nil {
		return m, err
	}
	if m.MessageIndex, err = r.Int(); err != nil {
		return m, err
	}
	if m.Sender, err = r.OptionalString(); err != nil {
		return m, err
	}
	if m.IsAddition, err = r.Bool(); err != nil {
		return m, err
	}
	if m.TapbackType, err = r.Int(); err != nil {
		return m, err
	}
	return m, nil
}

// PackModifiers writes an array of modifiers.
func PackModifiers(p *Packer, modifiers []Modifier) {
	p.PackArrayHeader(int32(len(modifiers)))
	for _, modifier := range modifiers {
		modifier.Pack(p)
	}
}

// ReadModifier decodes one polymorphic modifier.
func ReadModifier(r *Reader) (Modifier, error) {
	discriminant, err := r.Int()
	if err != nil {
		return nil, err
	}

	switch discriminant {
	case modifierTypeActivityStatus:
		m := &ActivityStatusModifier{}
		if m.MessageGUID, err = r.String(); err != nil {
			return nil, err
		}
		state, err := r.Int()
		if err != nil {
			return nil, err
		}
		m.State = MessageState(state)
		if m.DateRead, err = r.Long(); err != nil {
			return nil, err
		}
		return m, nil

	case modifierTypeSticker:
		m, err := readStickerFields(r)
		if err != nil {
			return nil, err
		}
		return &m, nil

	case modifierTypeTapback:
		m, err := readTapbackFields(r)
		if err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, ErrUnknownBlockType
}

// ReadModifiers decodes an array of modifiers.
func ReadModifiers(r *Reader) ([]Modifier, error) {
	count, err := r.ArrayHeader()
	if err != nil {
		return nil, err
	}
	modifiers := make([]Modifier, 0, r.capHint(count, 4))
	for i := int32(0); i < count; i++ {
		modifier, err := ReadModifier(r)
		if err != nil {
			return nil, err
		}
		modifiers = append(modifiers, modifier)
	}
	return modifiers, nil
}
