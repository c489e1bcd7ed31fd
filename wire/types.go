package wire

// Protocol version identifiers, exchanged in the server information message.
const (
	ProtocolVersion    int32 = 5
	ProtocolSubVersion int32 = 4
)

// MessageType is the opcode at the start of every decoded message body.
type MessageType int32

// Tier 1 message types, available regardless of registration state.
const (
	MessageTypeClose MessageType = 0
	MessageTypePing  MessageType = 1
	MessageTypePong  MessageType = 2

	MessageTypeInformation    MessageType = 100
	MessageTypeAuthentication MessageType = 101
)

// Tier 2 message types, available to registered sessions only.
const (
	MessageTypeMessageUpdate       MessageType = 200
	MessageTypeTimeRetrieval       MessageType = 201
	MessageTypeIDRetrieval         MessageType = 202
	MessageTypeMassRetrieval       MessageType = 203
	MessageTypeMassRetrievalFile   MessageType = 204
	MessageTypeMassRetrievalFinish MessageType = 205
	MessageTypeConversationUpdate  MessageType = 206
	MessageTypeModifierUpdate      MessageType = 207
	MessageTypeAttachmentReq       MessageType = 208
	MessageTypeAttachmentReqCfm    MessageType = 209
	MessageTypeAttachmentReqFail   MessageType = 210
	MessageTypeIDUpdate            MessageType = 211

	MessageTypeLiteConversationRetrieval MessageType = 300
	MessageTypeLiteThreadRetrieval       MessageType = 301

	MessageTypeSendResult       MessageType = 400
	MessageTypeSendTextExisting MessageType = 401
	MessageTypeSendTextNew      MessageType = 402
	MessageTypeSendFileExisting MessageType = 403
	MessageTypeSendFileNew      MessageType = 404
	MessageTypeCreateChat       MessageType = 405
)

// knownMessageTypes is the closed set of opcodes the dispatcher accepts.
var knownMessageTypes = map[MessageType]struct{}{
	MessageTypeClose: {}, MessageTypePing: {}, MessageTypePong: {},
	MessageTypeInformation: {}, MessageTypeAuthentication: {},
	MessageTypeMessageUpdate: {}, MessageTypeTimeRetrieval: {},
	MessageTypeIDRetrieval: {}, MessageTypeMassRetrieval: {},
	MessageTypeMassRetrievalFile: {}, MessageTypeMassRetrievalFinish: {},
	MessageTypeConversationUpdate: {}, MessageTypeModifierUpdate: {},
	MessageTypeAttachmentReq: {}, MessageTypeAttachmentReqCfm: {},
	MessageTypeAttachmentReqFail: {}, MessageTypeIDUpdate: {},
	MessageTypeLiteConversationRetrieval: {}, MessageTypeLiteThreadRetrieval: {},
	MessageTypeSendResult: {}, MessageTypeSendTextExisting: {},
	MessageTypeSendTextNew: {}, MessageTypeSendFileExisting: {},
	MessageTypeSendFileNew: {}, MessageTypeCreateChat: {},
}

// Known reports whether t is a recognized opcode.
func (t MessageType) Known() bool {
	_, ok := knownMessageTypes[t]
	return ok
}

// AuthResult is the result code of an authentication reply.
type AuthResult int32

const (
	AuthResultOK           AuthResult = 0
	AuthResultUnauthorized AuthResult = 1
	AuthResultBadRequest   AuthResult = 2
)

// SendResult is the result code of a send-text or send-file operation.
type SendResult int32

const (
	SendResultOK             SendResult = 0
	SendResultScriptError    SendResult = 1
	SendResultBadRequest     SendResult = 2
	SendResultUnauthorized   SendResult = 3
	SendResultNoConversation SendResult = 4
	SendResultRequestTimeout SendResult = 5
)

// CreateChatResult is the result code of a create-chat operation.
type CreateChatResult int32

const (
	CreateChatResultOK           CreateChatResult = 0
	CreateChatResultScriptError  CreateChatResult = 1
	CreateChatResultBadRequest   CreateChatResult = 2
	CreateChatResultUnauthorized CreateChatResult = 3
)

// AttachmentReqError is the failure code of an attachment request.
type AttachmentReqError int32

const (
	AttachmentReqErrorNotFound   AttachmentReqError = 1 // identifier not in the store
	AttachmentReqErrorNotSaved   AttachmentReqError = 2 // file missing on disk
	AttachmentReqErrorUnreadable AttachmentReqError = 3 // no access to the file
	AttachmentReqErrorIO         AttachmentReqError = 4 // read failure mid-stream
)

// RelayMessageType is the opcode of a relay framing message.
type RelayMessageType int32

const (
	RelayConnectionOK RelayMessageType = 0

	RelayClientProxy          RelayMessageType = 100
	RelayClientAddFCMToken    RelayMessageType = 110
	RelayClientRemoveFCMToken RelayMessageType = 111

	RelayServerOpen           RelayMessageType = 200
	RelayServerClose          RelayMessageType = 201
	RelayServerProxy          RelayMessageType = 210
	RelayServerProxyBroadcast RelayMessageType = 211
	RelayServerNotifyPush     RelayMessageType = 212
)

// Relay encryption sentinels, packed as a single signed byte between the
// relay header and the payload. Legacy clients predate this byte; receivers
// must treat any other value as the first byte of a plaintext payload.
const (
	RelaySentinelEncrypted    int8 = -100 // payload is encrypted
	RelaySentinelPlaintext    int8 = -101 // plaintext, but the peer supports encryption
	RelaySentinelNoEncryption int8 = -102 // peer has encryption disabled
)

// RelayCloseCode is a WebSocket close code assigned by the relay service.
type RelayCloseCode int

const (
	RelayCloseIncompatibleProtocol RelayCloseCode = 4000
	RelayCloseNoGroup              RelayCloseCode = 4001
	RelayCloseNoCapacity           RelayCloseCode = 4002
	RelayCloseAccountValidation    RelayCloseCode = 4003
	RelayCloseServerTokenRefresh   RelayCloseCode = 4004
	RelayCloseNoActivation         RelayCloseCode = 4005
	RelayCloseOtherLocation        RelayCloseCode = 4006
)

// RelayCommVersion is the relay framing protocol version sent during dial.
const RelayCommVersion = 1

// PushNotificationVersion is the payload version attached to push
// notifications raised through the relay.
const PushNotificationVersion int32 = 2
