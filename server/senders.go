package server

import (
	"github.com/airmessage/airmessage-server/crypto"
	"github.com/airmessage/airmessage-server/wire"
)

// Outbound message constructors. Every packet body begins with its opcode;
// the field order here is the contract clients parse against, so each
// constructor stays symmetric with a decode in the tests.

// finish copies the packed bytes out and returns the packer to the pool.
func finish(p *wire.Packer) []byte {
	data := append([]byte(nil), p.Bytes()...)
	wire.ReleasePacker(p)
	return data
}

func packHeaderOnly(t wire.MessageType) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(t))
	return finish(p)
}

// packServerInfo builds the greeting sent to every new connection. A non-nil
// transmission check marks authentication as required.
func packServerInfo(transmissionCheck []byte) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeInformation))
	p.PackInt(wire.ProtocolVersion)
	p.PackInt(wire.ProtocolSubVersion)
	if transmissionCheck != nil {
		p.PackBool(true)
		p.PackPayload(transmissionCheck)
	} else {
		p.PackBool(false)
	}
	return finish(p)
}

func packAuthReject(result wire.AuthResult) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeAuthentication))
	p.PackInt(int32(result))
	return finish(p)
}

// ServerIdentity carries the fields sent back on successful authentication.
type ServerIdentity struct {
	InstallationID  string
	DeviceName      string
	OSVersion       string
	SoftwareVersion string
}

func packAuthSuccess(identity ServerIdentity) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeAuthentication))
	p.PackInt(int32(wire.AuthResultOK))
	p.PackString(identity.InstallationID)
	p.PackString(identity.DeviceName)
	p.PackString(identity.OSVersion)
	p.PackString(identity.SoftwareVersion)
	return finish(p)
}

func packIDUpdate(id int64) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeIDUpdate))
	p.PackLong(id)
	return finish(p)
}

func packMessageUpdate(items []wire.ConversationItem) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeMessageUpdate))
	wire.PackConversationItems(p, items)
	return finish(p)
}

func packModifierUpdate(modifiers []wire.Modifier) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeModifierUpdate))
	wire.PackModifiers(p, modifiers)
	return finish(p)
}

func packConversationUpdate(conversations []wire.ConversationInfo) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeConversationUpdate))
	p.PackArrayHeader(int32(len(conversations)))
	for i := range conversations {
		conversations[i].Pack(p)
	}
	return finish(p)
}

func packLiteConversations(conversations []wire.LiteConversationInfo) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeLiteConversationRetrieval))
	p.PackArrayHeader(int32(len(conversations)))
	for i := range conversations {
		conversations[i].Pack(p)
	}
	return finish(p)
}

// packLiteThread echoes the request parameters so the client can correlate
// the page with its scroll position.
func packLiteThread(chatGUID string, before *int64, items []wire.ConversationItem) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeLiteThreadRetrieval))
	p.PackString(chatGUID)
	if before != nil {
		p.PackBool(true)
		p.PackLong(*before)
	} else {
		p.PackBool(false)
	}
	wire.PackConversationItems(p, items)
	return finish(p)
}

func packSendResult(requestID int16, result wire.SendResult, details *string) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeSendResult))
	p.PackShort(requestID)
	p.PackInt(int32(result))
	p.PackOptionalString(details)
	return finish(p)
}

func packCreateChatResult(requestID int16, result wire.CreateChatResult, details *string) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeCreateChat))
	p.PackShort(requestID)
	p.PackInt(int32(result))
	p.PackOptionalString(details)
	return finish(p)
}

func packAttachmentConfirm(requestID int16) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeAttachmentReqCfm))
	p.PackShort(requestID)
	return finish(p)
}

func packAttachmentFail(requestID int16, code wire.AttachmentReqError) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeAttachmentReqFail))
	p.PackShort(requestID)
	p.PackInt(int32(code))
	return finish(p)
}

// packAttachmentChunk builds one download chunk. The file's total length
// rides on chunk 0 only.
func packAttachmentChunk(requestID int16, index int32, fileLength int64, isLast bool, payload []byte) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeAttachmentReq))
	p.PackShort(requestID)
	p.PackInt(index)
	if index == 0 {
		p.PackLong(fileLength)
	}
	p.PackBool(isLast)
	p.PackPayload(payload)
	return finish(p)
}

// packMassRetrievalSummary is packet index 0 of a mass retrieval: the full
// conversation list and the total item count the client should expect.
func packMassRetrievalSummary(requestID int16, conversations []wire.ConversationInfo, itemCount int32) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeMassRetrieval))
	p.PackShort(requestID)
	p.PackInt(0)
	p.PackArrayHeader(int32(len(conversations)))
	for i := range conversations {
		conversations[i].Pack(p)
	}
	p.PackInt(itemCount)
	return finish(p)
}

func packMassRetrievalPage(requestID int16, index int32, items []wire.ConversationItem) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeMassRetrieval))
	p.PackShort(requestID)
	p.PackInt(index)
	wire.PackConversationItems(p, items)
	return finish(p)
}

// packMassRetrievalFileChunk builds one attachment chunk of a mass
// retrieval. The file name rides on chunk 0 only.
func packMassRetrievalFileChunk(requestID int16, fileGUID string, index int32, fileName string, isLast bool, payload []byte) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeMassRetrievalFile))
	p.PackShort(requestID)
	p.PackString(fileGUID)
	p.PackInt(index)
	if index == 0 {
		p.PackString(fileName)
	}
	p.PackBool(isLast)
	p.PackPayload(payload)
	return finish(p)
}

func packMassRetrievalFinish(requestID int16) []byte {
	p := wire.AcquirePacker()
	p.PackInt(int32(wire.MessageTypeMassRetrievalFinish))
	p.PackShort(requestID)
	return finish(p)
}

// packPushNotification builds the out-of-band wake payload: an encrypted
// flag followed by the packed messages and modifiers, sealed with the shared
// password when one is set.
func packPushNotification(encryptor *crypto.Encryptor, items []wire.ConversationItem, modifiers []wire.Modifier) ([]byte, error) {
	inner := wire.AcquirePacker()
	wire.PackConversationItems(inner, items)
	wire.PackModifiers(inner, modifiers)
	payload := append([]byte(nil), inner.Bytes()...)
	wire.ReleasePacker(inner)

	encrypted := encryptor.Enabled()
	if encrypted {
		sealed, err := encryptor.Encrypt(payload)
		if err != nil {
			return nil, err
		}
		payload = sealed
	}

	p := wire.AcquirePacker()
	p.PackBool(encrypted)
	p.PackPayload(payload)
	return finish(p), nil
}
