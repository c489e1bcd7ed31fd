package server

import (
	"errors"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/airmessage/airmessage-server/compression"
	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

// streamAttachment serves one attachment download: resolve the identifier,
// then stream the file in client-sized chunks, each compressed
// independently. Runs on the request queue worker.
func (m *Manager) streamAttachment(client *transport.Client, requestID int16, chunkSize int32, guid string) {
	log := m.log.WithFields(logrus.Fields{
		"client":     client.ID,
		"request":    requestID,
		"attachment": guid,
	})

	fail := func(code wire.AttachmentReqError) {
		m.send(client, packAttachmentFail(requestID, code), true)
	}

	path, err := m.store.AttachmentPath(guid)
	if err != nil {
		if errors.Is(err, ErrAttachmentNotFound) {
			fail(wire.AttachmentReqErrorNotFound)
		} else {
			log.WithError(err).Warn("Failed to resolve attachment")
			fail(wire.AttachmentReqErrorIO)
		}
		return
	}

	file, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			fail(wire.AttachmentReqErrorNotSaved)
		case os.IsPermission(err):
			fail(wire.AttachmentReqErrorUnreadable)
		default:
			log.WithError(err).Warn("Failed to open attachment")
			fail(wire.AttachmentReqErrorIO)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		fail(wire.AttachmentReqErrorIO)
		return
	}

	err = streamChunks(file, int(chunkSize), func(index int32, isLast bool, chunk []byte) error {
		if !client.Connected() {
			return errStreamCanceled
		}
		compressed, err := compression.Compress(chunk)
		if err != nil {
			return err
		}
		m.send(client, packAttachmentChunk(requestID, index, info.Size(), isLast, compressed), true)
		return nil
	})
	if err != nil {
		if errors.Is(err, errStreamCanceled) {
			log.Debug("Attachment download canceled by disconnect")
			return
		}
		log.WithError(err).Warn("Attachment stream failed")
		fail(wire.AttachmentReqErrorIO)
	}
}

// errStreamCanceled aborts a chunk stream without reporting a failure.
var errStreamCanceled = errors.New("stream canceled")

// streamChunks reads a file one chunk ahead of what it emits, so every
// emitted chunk carries a definitive last-chunk flag.
func streamChunks(file io.Reader, chunkSize int, emit func(index int32, isLast bool, chunk []byte) error) error {
	current := make([]byte, chunkSize)
	next := make([]byte, chunkSize)

	currentLen, err := readChunk(file, current)
	if err != nil {
		return err
	}

	for index := int32(0); ; index++ {
		nextLen, err := readChunk(file, next)
		if err != nil {
			return err
		}
		isLast := nextLen == 0

		if err := emit(index, isLast, current[:currentLen]); err != nil {
			return err
		}
		if isLast {
			return nil
		}
		current, next = next, current
		currentLen = nextLen
	}
}

// readChunk fills buf as far as the file allows. A clean end of file is not
// an error; it reads as zero bytes on the following call.
func readChunk(file io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(file, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}
