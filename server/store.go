package server

import (
	"errors"
	"fmt"

	"github.com/airmessage/airmessage-server/wire"
)

// ErrAttachmentNotFound is returned by Store.AttachmentPath when the
// identifier does not exist in the store.
var ErrAttachmentNotFound = errors.New("attachment not found")

// Grouping bundles the results of one message scan: new conversation items
// plus modifiers that arrived detached from any item in the same range.
type Grouping struct {
	Items          []wire.ConversationItem
	LooseModifiers []wire.Modifier
}

// TargetingEntry maps a conversation's member set to its identifier, used to
// route sends addressed by recipient list to an existing chat.
type TargetingEntry struct {
	ChatGUID string
	Service  string
	Members  []string
}

// Store is the read-only view of the local message database.
type Store interface {
	// LastMessageID returns the newest known message row ID. The second
	// return is false when the store is empty.
	LastMessageID() (int64, bool)

	// GroupingForTimeRange returns items and loose modifiers dated within
	// [lower, upper].
	GroupingForTimeRange(lower, upper int64) (Grouping, error)

	// GroupingSinceID returns items and loose modifiers newer than the given
	// row ID.
	GroupingSinceID(id int64) (Grouping, error)

	// ActivityStatusSince returns read-receipt modifiers for messages dated
	// after the given time.
	ActivityStatusSince(time int64) ([]wire.Modifier, error)

	// Conversations resolves the given identifiers to conversation details.
	// Unknown identifiers are returned with Available unset rather than
	// omitted.
	Conversations(guids []string) ([]wire.ConversationInfo, error)

	// LiteConversations returns a summary row per conversation.
	LiteConversations() ([]wire.LiteConversationInfo, error)

	// LiteThread returns one page of a conversation's history, newest first.
	// A non-nil before bounds the page to messages older than that row ID.
	LiteThread(chatGUID string, before *int64) ([]wire.ConversationItem, error)

	// MassRetrieval returns every conversation and, optionally bounded by a
	// lower message date, every conversation item for a full client export.
	MassRetrieval(messagesSince *int64) ([]wire.ConversationInfo, []wire.ConversationItem, error)

	// AttachmentPath resolves an attachment identifier to its on-disk path.
	// Returns ErrAttachmentNotFound when the identifier is unknown.
	AttachmentPath(guid string) (string, error)

	// TargetingEntries lists every conversation's member set for the
	// creation-targeting index.
	TargetingEntries() ([]TargetingEntry, error)
}

// Messenger is the outward send capability of the host messaging system.
// Failures should be *MessengerError values so they map to wire result codes;
// any other error is reported as an internal scripting failure.
type Messenger interface {
	SendText(chatGUID, text string) error
	SendTextToNew(members []string, service, text string) error
	SendFile(chatGUID, path string) error
	SendFileToNew(members []string, service, path string) error

	// CreateChat creates a conversation and returns its identifier.
	CreateChat(members []string, service string) (string, error)
}

// MessengerErrorCode classifies an outward-operation failure.
type MessengerErrorCode int

const (
	// MessengerErrorScript is an automation or scripting failure.
	MessengerErrorScript MessengerErrorCode = iota
	// MessengerErrorBadRequest is a malformed or unsupported request.
	MessengerErrorBadRequest
	// MessengerErrorUnauthorized is a denied automation permission.
	MessengerErrorUnauthorized
	// MessengerErrorNoConversation is a send to a conversation that does not exist.
	MessengerErrorNoConversation
	// MessengerErrorTimeout is an outward operation that never completed.
	MessengerErrorTimeout
)

// MessengerError is a tagged outward-operation failure with enough context
// to relay a specific result code back to the requesting client.
type MessengerError struct {
	Code   MessengerErrorCode
	Detail string
}

func (e *MessengerError) Error() string {
	return fmt.Sprintf("messenger operation failed (code %d): %s", e.Code, e.Detail)
}

// SendResult maps the failure to a send-result wire code.
func (e *MessengerError) SendResult() wire.SendResult {
	switch e.Code {
	case MessengerErrorBadRequest:
		return wire.SendResultBadRequest
	case MessengerErrorUnauthorized:
		return wire.SendResultUnauthorized
	case MessengerErrorNoConversation:
		return wire.SendResultNoConversation
	case MessengerErrorTimeout:
		return wire.SendResultRequestTimeout
	default:
		return wire.SendResultScriptError
	}
}

// CreateChatResult maps the failure to a create-chat wire code. Codes with
// no create-chat equivalent degrade to a scripting failure.
func (e *MessengerError) CreateChatResult() wire.CreateChatResult {
	switch e.Code {
	case MessengerErrorBadRequest:
		return wire.CreateChatResultBadRequest
	case MessengerErrorUnauthorized:
		return wire.CreateChatResultUnauthorized
	default:
		return wire.CreateChatResultScriptError
	}
}

// sendResultFor converts any outward-operation error to a send-result code
// and detail string.
func sendResultFor(err error) (wire.SendResult, *string) {
	if err == nil {
		return wire.SendResultOK, nil
	}
	detail := err.Error()
	var msgErr *MessengerError
	if errors.As(err, &msgErr) {
		return msgErr.SendResult(), &detail
	}
	return wire.SendResultScriptError, &detail
}

// createChatResultFor converts any outward-operation error to a create-chat
// result code and detail string.
func createChatResultFor(err error) (wire.CreateChatResult, *string) {
	if err == nil {
		return wire.CreateChatResultOK, nil
	}
	detail := err.Error()
	var msgErr *MessengerError
	if errors.As(err, &msgErr) {
		return msgErr.CreateChatResult(), &detail
	}
	return wire.CreateChatResultScriptError, &detail
}
