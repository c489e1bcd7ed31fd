package server

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/airmessage/airmessage-server/compression"
	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

// uploadTarget is the destination of an inbound file transfer: either an
// existing conversation or a recipient list for a new one.
type uploadTarget struct {
	chatGUID string
	members  []string
	service  string
	isNew    bool
}

// descriptor folds the target into the transfer key. New-conversation sends
// carry their recipients on chunk 0 only, so they key on the request alone.
func (t uploadTarget) descriptor() string {
	if t.isNew {
		return "new"
	}
	return "chat:" + t.chatGUID
}

type uploadKey struct {
	clientID   int32
	requestID  int16
	descriptor string
}

type uploadChunk struct {
	index  int32
	isLast bool
	data   []byte
}

// uploadTransfer reassembles one chunked file to disk. Chunks flow through a
// channel to a dedicated writer goroutine; the writer's blocking poll doubles
// as the inactivity timeout.
type uploadTransfer struct {
	m         *Manager
	client    *transport.Client
	key       uploadKey
	target    uploadTarget
	fileName  string
	dir       string
	file      *os.File
	chunks    chan uploadChunk
	cancel    chan struct{}
	done      chan struct{}
	lastIndex int32
}

// enqueue hands a chunk to the writer without risking a block on a transfer
// whose writer has already exited.
func (t *uploadTransfer) enqueue(chunk uploadChunk) {
	select {
	case t.chunks <- chunk:
	case <-t.done:
	}
}

// uploadTable tracks in-flight transfers. Index bookkeeping happens on the
// dispatcher goroutine; disk I/O happens on per-transfer writers.
type uploadTable struct {
	m         *Manager
	mu        sync.Mutex
	transfers map[uploadKey]*uploadTransfer
}

func newUploadTable(m *Manager) *uploadTable {
	return &uploadTable{m: m, transfers: make(map[uploadKey]*uploadTransfer)}
}

func (u *uploadTable) get(key uploadKey) (*uploadTransfer, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.transfers[key]
	return t, ok
}

func (u *uploadTable) put(t *uploadTransfer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.transfers[t.key] = t
}

func (u *uploadTable) remove(key uploadKey) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.transfers, key)
}

// cancelClient aborts every transfer owned by a disconnected client.
func (u *uploadTable) cancelClient(clientID int32) {
	u.mu.Lock()
	var canceled []*uploadTransfer
	for key, t := range u.transfers {
		if key.clientID == clientID {
			canceled = append(canceled, t)
			delete(u.transfers, key)
		}
	}
	u.mu.Unlock()

	for _, t := range canceled {
		close(t.cancel)
	}
}

func (u *uploadTable) cancelAll() {
	u.mu.Lock()
	var canceled []*uploadTransfer
	for key, t := range u.transfers {
		canceled = append(canceled, t)
		delete(u.transfers, key)
	}
	u.mu.Unlock()

	for _, t := range canceled {
		close(t.cancel)
	}
}

// handleUploadChunk processes one send-file packet. Chunk indices must be
// strictly sequential from 0; a gap fails that transfer alone.
func (m *Manager) handleUploadChunk(client *transport.Client, reader *wire.Reader, isNew bool) {
	requestID, err := reader.Short()
	if err != nil {
		return
	}
	index, err := reader.Int()
	if err != nil {
		return
	}
	isLast, err := reader.Bool()
	if err != nil {
		return
	}

	target := uploadTarget{isNew: isNew}
	if !isNew {
		target.chatGUID, err = reader.String()
		if err != nil {
			m.sendResult(client, requestID, wire.SendResultBadRequest, nil)
			return
		}
	}

	var fileName string
	if index == 0 {
		if isNew {
			target.members, err = reader.StringArray()
			if err == nil {
				target.service, err = reader.String()
			}
			if err != nil {
				m.sendResult(client, requestID, wire.SendResultBadRequest, nil)
				return
			}
		}
		fileName, err = reader.String()
		if err != nil {
			m.sendResult(client, requestID, wire.SendResultBadRequest, nil)
			return
		}
	}

	payload, err := reader.Payload()
	if err != nil {
		m.sendResult(client, requestID, wire.SendResultBadRequest, nil)
		return
	}

	key := uploadKey{clientID: client.ID, requestID: requestID, descriptor: target.descriptor()}

	if index == 0 {
		if _, exists := m.uploads.get(key); exists {
			m.failTransfer(key, client, requestID, "transfer already in progress")
			return
		}
		transfer, err := m.newUploadTransfer(client, key, target, fileName)
		if err != nil {
			m.log.WithError(err).Error("Failed to open upload transfer")
			detail := err.Error()
			m.sendResult(client, requestID, wire.SendResultScriptError, &detail)
			return
		}
		m.uploads.put(transfer)
		transfer.enqueue(uploadChunk{index: 0, isLast: isLast, data: payload})
		return
	}

	transfer, ok := m.uploads.get(key)
	if !ok {
		detail := "no such transfer"
		m.sendResult(client, requestID, wire.SendResultBadRequest, &detail)
		return
	}
	if index != transfer.lastIndex+1 {
		m.failTransfer(key, client, requestID,
			fmt.Sprintf("expected chunk %d, received %d", transfer.lastIndex+1, index))
		return
	}
	transfer.lastIndex = index
	transfer.enqueue(uploadChunk{index: index, isLast: isLast, data: payload})
}

// failTransfer reports a bad request and aborts the transfer, leaving other
// in-flight transfers untouched.
func (m *Manager) failTransfer(key uploadKey, client *transport.Client, requestID int16, detail string) {
	m.sendResult(client, requestID, wire.SendResultBadRequest, &detail)
	if transfer, ok := m.uploads.get(key); ok {
		m.uploads.remove(key)
		close(transfer.cancel)
	}
}

func (m *Manager) newUploadTransfer(client *transport.Client, key uploadKey, target uploadTarget, fileName string) (*uploadTransfer, error) {
	fileName = filepath.Base(fileName)
	if fileName == "." || fileName == string(filepath.Separator) {
		fileName = "attachment"
	}

	dir := filepath.Join(m.cfg.UploadDirectory, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	file, err := os.Create(filepath.Join(dir, fileName))
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating upload file: %w", err)
	}

	transfer := &uploadTransfer{
		m:        m,
		client:   client,
		key:      key,
		target:   target,
		fileName: fileName,
		dir:      dir,
		file:     file,
		chunks:   make(chan uploadChunk, 16),
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go transfer.run()
	return transfer, nil
}

// run drains the chunk channel onto disk. A poll that comes up empty for the
// inactivity window abandons the transfer and deletes the partial file.
func (t *uploadTransfer) run() {
	defer close(t.done)
	log := t.m.log.WithFields(logrus.Fields{
		"client":  t.client.ID,
		"request": t.key.requestID,
		"file":    t.fileName,
	})

	for {
		select {
		case chunk := <-t.chunks:
			data, err := compression.Decompress(chunk.data)
			if err != nil {
				log.WithError(err).Warn("Failed to decompress upload chunk")
				t.abort(wire.SendResultBadRequest, "invalid chunk compression")
				return
			}
			if _, err := t.file.Write(data); err != nil {
				log.WithError(err).Error("Failed to write upload chunk")
				t.abort(wire.SendResultScriptError, "write failure")
				return
			}
			if chunk.isLast {
				t.complete(log)
				return
			}

		case <-t.cancel:
			t.discard()
			return

		case <-time.After(t.m.cfg.UploadInactivityTimeout):
			log.Info("Abandoning stalled upload transfer")
			t.abort(wire.SendResultRequestTimeout, "transfer timed out")
			return
		}
	}
}

// complete hands the reassembled file to the messenger and reports the
// outcome under the original request ID.
func (t *uploadTransfer) complete(log *logrus.Entry) {
	t.m.uploads.remove(t.key)
	path := t.file.Name()
	if err := t.file.Close(); err != nil {
		log.WithError(err).Error("Failed to finalize upload file")
		detail := "write failure"
		t.m.sendResult(t.client, t.key.requestID, wire.SendResultScriptError, &detail)
		os.RemoveAll(t.dir)
		return
	}

	var sendErr error
	if t.target.isNew {
		if chatGUID, ok := t.m.resolveTarget(t.target.members, t.target.service); ok {
			sendErr = t.m.messenger.SendFile(chatGUID, path)
		} else {
			sendErr = t.m.messenger.SendFileToNew(t.target.members, t.target.service, path)
		}
	} else {
		sendErr = t.m.messenger.SendFile(t.target.chatGUID, path)
	}

	result, details := sendResultFor(sendErr)
	t.m.sendResult(t.client, t.key.requestID, result, details)
	os.RemoveAll(t.dir)
}

// abort reports a failure and deletes the partial file.
func (t *uploadTransfer) abort(result wire.SendResult, detail string) {
	t.m.uploads.remove(t.key)
	t.m.sendResult(t.client, t.key.requestID, result, &detail)
	t.discard()
}

func (t *uploadTransfer) discard() {
	t.file.Close()
	os.RemoveAll(t.dir)
}
