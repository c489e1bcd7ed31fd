package server

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/airmessage/airmessage-server/limits"
	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

// handleAuthentication validates a client's identity and password proof,
// evicts stale sessions from the same installation, and replies with the
// server's identity and store cursor.
func (m *Manager) handleAuthentication(client *transport.Client, reader *wire.Reader) {
	client.CancelTimer(transport.TimerHandshakeExpiry)

	reject := func(result wire.AuthResult) {
		m.proxy.Send(transport.Message{
			Client: client,
			Data:   packAuthReject(result),
			OnSent: func() { m.proxy.Disconnect(client) },
		})
	}

	var registration transport.Registration
	if m.proxy.RequiresAuthentication() {
		encryptedPayload, err := reader.Payload()
		if err != nil {
			reject(wire.AuthResultBadRequest)
			return
		}
		decrypted, err := m.encryptor.Decrypt(encryptedPayload)
		if err != nil {
			m.log.WithField("client", client.ID).Info("Failed to decrypt authentication payload")
			reject(wire.AuthResultUnauthorized)
			return
		}

		secure := wire.NewReader(decrypted)
		nonce, err := secure.Payload()
		if err != nil {
			reject(wire.AuthResultBadRequest)
			return
		}
		registration.InstallationID, err = secure.String()
		if err == nil {
			registration.ClientName, err = secure.String()
		}
		if err == nil {
			registration.PlatformID, err = secure.String()
		}
		if err != nil {
			reject(wire.AuthResultBadRequest)
			return
		}

		// The nonce is single-use: a replayed handshake finds it cleared.
		expected := client.ConsumeTransmissionCheck()
		if expected == nil || !bytes.Equal(nonce, expected) {
			reject(wire.AuthResultUnauthorized)
			return
		}
	} else {
		var err error
		registration.InstallationID, err = reader.String()
		if err == nil {
			registration.ClientName, err = reader.String()
		}
		if err == nil {
			registration.PlatformID, err = reader.String()
		}
		if err != nil {
			reject(wire.AuthResultBadRequest)
			return
		}
	}

	// A newer connection from the same installation replaces the older one.
	for _, other := range m.proxy.Connections() {
		if other == client {
			continue
		}
		if reg := other.Registration(); reg != nil && reg.InstallationID == registration.InstallationID {
			m.log.WithFields(logrus.Fields{
				"client":       other.ID,
				"installation": registration.InstallationID,
			}).Info("Evicting replaced session")
			m.closeSequence(other)
		}
	}

	client.Register(registration)
	m.log.WithFields(logrus.Fields{
		"client":       client.ID,
		"installation": registration.InstallationID,
		"name":         registration.ClientName,
		"platform":     registration.PlatformID,
	}).Info("Client registered")

	m.send(client, packAuthSuccess(m.cfg.Identity), true)

	if cursor, ok := m.store.LastMessageID(); ok {
		m.send(client, packIDUpdate(cursor), true)
	}
}

func (m *Manager) handleTimeRetrieval(client *transport.Client, reader *wire.Reader) {
	timeLower, err := reader.Long()
	if err != nil {
		return
	}
	timeUpper, err := reader.Long()
	if err != nil {
		return
	}

	m.requests.Enqueue(func() {
		grouping, err := m.store.GroupingForTimeRange(timeLower, timeUpper)
		if err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"lower": timeLower,
				"upper": timeUpper,
			}).Warn("Failed to fetch messages for time range")
			return
		}
		activity, err := m.store.ActivityStatusSince(timeLower)
		if err != nil {
			m.log.WithError(err).Warn("Failed to fetch activity status")
			return
		}
		m.sendGrouping(client, grouping, activity)
	})
}

func (m *Manager) handleIDRetrieval(client *transport.Client, reader *wire.Reader) {
	idLower, err := reader.Long()
	if err != nil {
		return
	}
	timeLower, err := reader.Long()
	if err != nil {
		return
	}

	m.requests.Enqueue(func() {
		grouping, err := m.store.GroupingSinceID(idLower)
		if err != nil {
			m.log.WithError(err).WithField("id", idLower).Warn("Failed to fetch messages since ID")
			return
		}
		activity, err := m.store.ActivityStatusSince(timeLower)
		if err != nil {
			m.log.WithError(err).Warn("Failed to fetch activity status")
			return
		}
		m.sendGrouping(client, grouping, activity)
	})
}

// sendGrouping relays a scan result: items as a message update, loose and
// activity modifiers folded into one modifier update. Empty updates are
// suppressed.
func (m *Manager) sendGrouping(client *transport.Client, grouping Grouping, activity []wire.Modifier) {
	if len(grouping.Items) > 0 {
		m.send(client, packMessageUpdate(grouping.Items), true)
	}
	modifiers := append(grouping.LooseModifiers, activity...)
	if len(modifiers) > 0 {
		m.send(client, packModifierUpdate(modifiers), true)
	}
}

func (m *Manager) handleConversationUpdate(client *transport.Client, reader *wire.Reader) {
	guids, err := reader.StringArray()
	if err != nil {
		return
	}

	m.requests.Enqueue(func() {
		conversations, err := m.store.Conversations(guids)
		if err != nil {
			m.log.WithError(err).Warn("Failed to fetch conversation details")
			return
		}
		m.send(client, packConversationUpdate(conversations), true)
	})
}

func (m *Manager) handleLiteConversationRetrieval(client *transport.Client) {
	m.requests.Enqueue(func() {
		conversations, err := m.store.LiteConversations()
		if err != nil {
			m.log.WithError(err).Warn("Failed to fetch conversation summaries")
			return
		}
		m.send(client, packLiteConversations(conversations), true)
	})
}

func (m *Manager) handleLiteThreadRetrieval(client *transport.Client, reader *wire.Reader) {
	chatGUID, err := reader.String()
	if err != nil {
		return
	}
	var before *int64
	hasBefore, err := reader.Bool()
	if err != nil {
		return
	}
	if hasBefore {
		value, err := reader.Long()
		if err != nil {
			return
		}
		before = &value
	}

	m.requests.Enqueue(func() {
		items, err := m.store.LiteThread(chatGUID, before)
		if err != nil {
			m.log.WithError(err).WithField("chat", chatGUID).Warn("Failed to fetch thread page")
			return
		}
		m.send(client, packLiteThread(chatGUID, before, items), true)
	})
}

func (m *Manager) handleAttachmentRequest(client *transport.Client, reader *wire.Reader) {
	requestID, err := reader.Short()
	if err != nil {
		return
	}
	chunkSize, err := reader.Int()
	if err != nil {
		return
	}
	guid, err := reader.String()
	if err != nil {
		return
	}
	// The chunk size is client-controlled; clamp it so a hostile request
	// cannot drive the stream buffers past the packet allocation ceiling.
	if chunkSize < 1 {
		chunkSize = limits.DefaultFileChunkSize
	} else if chunkSize > limits.MaxPacketAllocation {
		chunkSize = limits.MaxPacketAllocation
	}

	m.send(client, packAttachmentConfirm(requestID), true)

	m.requests.Enqueue(func() {
		m.streamAttachment(client, requestID, chunkSize, guid)
	})
}

func (m *Manager) handleSendTextExisting(client *transport.Client, reader *wire.Reader) {
	requestID, err := reader.Short()
	if err != nil {
		return
	}
	chatGUID, err := reader.String()
	if err != nil {
		return
	}
	text, err := reader.String()
	if err != nil {
		m.sendResult(client, requestID, wire.SendResultBadRequest, nil)
		return
	}

	m.requests.Enqueue(func() {
		result, details := sendResultFor(m.messenger.SendText(chatGUID, text))
		m.sendResult(client, requestID, result, details)
	})
}

func (m *Manager) handleSendTextNew(client *transport.Client, reader *wire.Reader) {
	requestID, err := reader.Short()
	if err != nil {
		return
	}
	members, err := reader.StringArray()
	if err != nil {
		return
	}
	service, err := reader.String()
	if err != nil {
		return
	}
	text, err := reader.String()
	if err != nil {
		m.sendResult(client, requestID, wire.SendResultBadRequest, nil)
		return
	}

	m.requests.Enqueue(func() {
		var sendErr error
		if chatGUID, ok := m.resolveTarget(members, service); ok {
			sendErr = m.messenger.SendText(chatGUID, text)
		} else {
			sendErr = m.messenger.SendTextToNew(members, service, text)
		}
		result, details := sendResultFor(sendErr)
		m.sendResult(client, requestID, result, details)
	})
}

func (m *Manager) handleCreateChat(client *transport.Client, reader *wire.Reader) {
	requestID, err := reader.Short()
	if err != nil {
		return
	}
	members, err := reader.StringArray()
	if err != nil {
		return
	}
	service, err := reader.String()
	if err != nil {
		m.send(client, packCreateChatResult(requestID, wire.CreateChatResultBadRequest, nil), true)
		return
	}

	m.requests.Enqueue(func() {
		chatGUID, createErr := m.messenger.CreateChat(members, service)
		result, details := createChatResultFor(createErr)
		if createErr == nil {
			details = &chatGUID
		}
		m.send(client, packCreateChatResult(requestID, result, details), true)
	})
}

func (m *Manager) sendResult(client *transport.Client, requestID int16, result wire.SendResult, details *string) {
	m.send(client, packSendResult(requestID, result, details), true)
}
