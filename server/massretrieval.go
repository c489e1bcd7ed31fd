package server

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/airmessage/airmessage-server/compression"
	"github.com/airmessage/airmessage-server/limits"
	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

// massRetrievalRequest is a decoded full-export request.
type massRetrievalRequest struct {
	requestID           int16
	messagesSince       *int64
	downloadAttachments bool
	filter              AttachmentFilter
}

// handleMassRetrieval decodes a full-export request and queues it for
// execution.
func (m *Manager) handleMassRetrieval(client *transport.Client, reader *wire.Reader) {
	var req massRetrievalRequest
	var err error

	req.requestID, err = reader.Short()
	if err != nil {
		return
	}

	readOptionalLong := func() (*int64, error) {
		present, err := reader.Bool()
		if err != nil || !present {
			return nil, err
		}
		value, err := reader.Long()
		if err != nil {
			return nil, err
		}
		return &value, nil
	}

	req.messagesSince, err = readOptionalLong()
	if err != nil {
		return
	}
	req.downloadAttachments, err = reader.Bool()
	if err != nil {
		return
	}
	if req.downloadAttachments {
		req.filter.TimeSince, err = readOptionalLong()
		if err != nil {
			return
		}
		req.filter.MaxSize, err = readOptionalLong()
		if err != nil {
			return
		}
		req.filter.Allow, err = reader.StringArray()
		if err != nil {
			return
		}
		req.filter.Deny, err = reader.StringArray()
		if err != nil {
			return
		}
		req.filter.DownloadOther, err = reader.Bool()
		if err != nil {
			return
		}
	}

	m.requests.Enqueue(func() {
		m.runMassRetrieval(client, req)
	})
}

// runMassRetrieval streams a full export: summary packet, item pages,
// attachment files, finish marker. A disconnect mid-stream halts pagination
// without error.
func (m *Manager) runMassRetrieval(client *transport.Client, req massRetrievalRequest) {
	log := m.log.WithFields(logrus.Fields{
		"client":  client.ID,
		"request": req.requestID,
	})

	conversations, items, err := m.store.MassRetrieval(req.messagesSince)
	if err != nil {
		log.WithError(err).Warn("Failed to run mass retrieval query")
		return
	}

	m.send(client, packMassRetrievalSummary(req.requestID, conversations, int32(len(items))), true)

	pageSize := m.cfg.MassRetrievalPageSize
	index := int32(1)
	for start := 0; start < len(items); start += pageSize {
		if !client.Connected() {
			log.Debug("Mass retrieval canceled by disconnect")
			return
		}
		end := start + pageSize
		if end > len(items) {
			end = len(items)
		}
		m.send(client, packMassRetrievalPage(req.requestID, index, items[start:end]), true)
		index++
	}

	if req.downloadAttachments {
		m.streamMassRetrievalFiles(client, req, items, log)
	}

	if !client.Connected() {
		return
	}
	m.send(client, packMassRetrievalFinish(req.requestID), true)
}

// streamMassRetrievalFiles walks the exported items and streams every
// attachment that passes the filter. A single unreadable file is skipped,
// not fatal to the export.
func (m *Manager) streamMassRetrievalFiles(client *transport.Client, req massRetrievalRequest, items []wire.ConversationItem, log *logrus.Entry) {
	for _, item := range items {
		message, ok := item.(*wire.Message)
		if !ok {
			continue
		}
		for i := range message.Attachments {
			if !client.Connected() {
				return
			}
			attachment := &message.Attachments[i]
			if !req.filter.Allows(attachment, message.Date) {
				continue
			}
			if err := m.streamMassRetrievalFile(client, req.requestID, attachment); err != nil {
				if errors.Is(err, errStreamCanceled) {
					return
				}
				log.WithError(err).WithField("attachment", attachment.GUID).Warn("Skipping unreadable attachment")
			}
		}
	}
}

func (m *Manager) streamMassRetrievalFile(client *transport.Client, requestID int16, attachment *wire.AttachmentInfo) error {
	path, err := m.store.AttachmentPath(attachment.GUID)
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	fileName := attachment.Name
	if fileName == "" {
		fileName = filepath.Base(path)
	}

	return streamChunks(file, limits.DefaultFileChunkSize, func(index int32, isLast bool, chunk []byte) error {
		if !client.Connected() {
			return errStreamCanceled
		}
		compressed, err := compression.Compress(chunk)
		if err != nil {
			return err
		}
		m.send(client, packMassRetrievalFileChunk(requestID, attachment.GUID, index, fileName, isLast, compressed), true)
		return nil
	})
}
