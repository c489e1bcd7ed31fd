// Command airmessage-server runs the messaging bridge on top of a host
// message store. The store and send integrations are platform-specific; this
// binary wires placeholder implementations so the protocol stack can run
// standalone.
package main

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/airmessage/airmessage-server/config"
	"github.com/airmessage/airmessage-server/crypto"
	"github.com/airmessage/airmessage-server/server"
	"github.com/airmessage/airmessage-server/transport"
	"github.com/airmessage/airmessage-server/wire"
)

const softwareVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}
	logrus.SetLevel(level)

	password := func() string { return cfg.Password }

	var proxy transport.DataProxy
	switch cfg.Proxy {
	case config.ProxyDirect:
		proxy = transport.NewTCPProxy(cfg.Port, crypto.NewEncryptor(password))
	case config.ProxyConnect:
		proxy = transport.NewConnectProxy(transport.ConnectConfig{
			Address:        cfg.ConnectAddress,
			InstallationID: cfg.InstallationID,
			IDToken:        cfg.ConnectIDToken,
			UserID:         cfg.ConnectUserID,
		}, crypto.NewEncryptor(password))
	}

	manager := server.NewManager(server.Config{
		Identity: server.ServerIdentity{
			InstallationID:  cfg.InstallationID,
			DeviceName:      cfg.DeviceName,
			OSVersion:       runtime.GOOS,
			SoftwareVersion: softwareVersion,
		},
		PasswordProvider: password,
		UploadDirectory:  cfg.UploadDirectory,
	}, emptyStore{}, unsupportedMessenger{}, proxy)

	manager.Start()
	logrus.WithField("proxy", proxy.Name()).Info("Bridge running")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		logrus.WithField("signal", sig.String()).Info("Shutting down")
		manager.Stop()
		<-manager.Done()
	case <-manager.Done():
	}
}

// emptyStore satisfies server.Store with no data, standing in for the host
// message database integration.
type emptyStore struct{}

func (emptyStore) LastMessageID() (int64, bool) { return 0, false }

func (emptyStore) GroupingForTimeRange(lower, upper int64) (server.Grouping, error) {
	return server.Grouping{}, nil
}

func (emptyStore) GroupingSinceID(id int64) (server.Grouping, error) {
	return server.Grouping{}, nil
}

func (emptyStore) ActivityStatusSince(time int64) ([]wire.Modifier, error) {
	return nil, nil
}

func (emptyStore) Conversations(guids []string) ([]wire.ConversationInfo, error) {
	conversations := make([]wire.ConversationInfo, len(guids))
	for i, guid := range guids {
		conversations[i] = wire.ConversationInfo{GUID: guid}
	}
	return conversations, nil
}

func (emptyStore) LiteConversations() ([]wire.LiteConversationInfo, error) {
	return nil, nil
}

func (emptyStore) LiteThread(chatGUID string, before *int64) ([]wire.ConversationItem, error) {
	return nil, nil
}

func (emptyStore) MassRetrieval(messagesSince *int64) ([]wire.ConversationInfo, []wire.ConversationItem, error) {
	return nil, nil, nil
}

func (emptyStore) AttachmentPath(guid string) (string, error) {
	return "", server.ErrAttachmentNotFound
}

func (emptyStore) TargetingEntries() ([]server.TargetingEntry, error) {
	return nil, nil
}

// unsupportedMessenger satisfies server.Messenger by rejecting every send,
// standing in for the host automation integration.
type unsupportedMessenger struct{}

func (unsupportedMessenger) err() error {
	return &server.MessengerError{
		Code:   server.MessengerErrorUnauthorized,
		Detail: "no messaging integration available",
	}
}

func (m unsupportedMessenger) SendText(chatGUID, text string) error { return m.err() }

func (m unsupportedMessenger) SendTextToNew(members []string, service, text string) error {
	return m.err()
}

func (m unsupportedMessenger) SendFile(chatGUID, path string) error { return m.err() }

func (m unsupportedMessenger) SendFileToNew(members []string, service, path string) error {
	return m.err()
}

func (m unsupportedMessenger) CreateChat(members []string, service string) (string, error) {
	return "", m.err()
}
