package server

import (
	"strings"

	"github.com/airmessage/airmessage-server/wire"
)

// AttachmentFilter selects which attachments a mass retrieval downloads.
// MIME lists are evaluated allow-list first, then deny-list, then the
// DownloadOther default.
type AttachmentFilter struct {
	// TimeSince excludes attachments on messages older than this date.
	TimeSince *int64
	// MaxSize excludes attachments larger than this many bytes.
	MaxSize *int64

	Allow         []string
	Deny          []string
	DownloadOther bool
}

// Allows reports whether the attachment on a message with the given date
// passes the filter.
func (f *AttachmentFilter) Allows(attachment *wire.AttachmentInfo, messageDate int64) bool {
	if f.TimeSince != nil && messageDate < *f.TimeSince {
		return false
	}
	if f.MaxSize != nil && attachment.Size > *f.MaxSize {
		return false
	}

	mime := ""
	if attachment.Type != nil {
		mime = *attachment.Type
	}
	for _, pattern := range f.Allow {
		if mimeMatches(pattern, mime) {
			return true
		}
	}
	for _, pattern := range f.Deny {
		if mimeMatches(pattern, mime) {
			return false
		}
	}
	return f.DownloadOther
}

// mimeMatches compares a MIME type against a pattern, where "type/*" matches
// any subtype and "*/*" matches everything.
func mimeMatches(pattern, mime string) bool {
	if pattern == "*/*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		mimeType, _, found := strings.Cut(mime, "/")
		return found && mimeType == prefix
	}
	return pattern == mime
}
