// Copyright 2024-2026 Aiku AI

// Package keybase implements the Keybase side of the bridge on top of the
// keybase binary, driven through kbchat in oneshot mode.
package keybase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/keybase/go-keybase-chat-bot/kbchat"
	"github.com/rs/zerolog"

	"github.com/aiku/mautrix-keybase/pkg/connector"
)

// Network starts one oneshot keybase process per logged-in account.
type Network struct {
	KeybaseLocation string
	HomeDir         string

	log zerolog.Logger
}

var _ connector.RemoteNetwork = (*Network)(nil)

// NewNetwork creates a Network from the network section of the config.
func NewNetwork(cfg connector.Config, log zerolog.Logger) *Network {
	return &Network{
		KeybaseLocation: cfg.KeybaseLocation,
		HomeDir:         cfg.HomeDir,
		log:             log,
	}
}

// homeDir returns the keybase home of username. Every account gets its own
// so that several oneshot sessions don't share a service.
func (n *Network) homeDir(username string) string {
	if n.HomeDir == "" {
		return ""
	}
	return filepath.Join(n.HomeDir, username)
}

// Authenticate logs in to Keybase with a paper key and subscribes to new
// text messages of the account.
func (n *Network) Authenticate(ctx context.Context, username, paperKey string) (connector.RemoteClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if username == "" || paperKey == "" {
		return nil, fmt.Errorf("%w: username and paper key are required", connector.ErrAuthentication)
	}
	log := n.log.With().Str("keybase_username", username).Logger()

	home := n.homeDir(username)
	if home != "" {
		if err := os.MkdirAll(home, 0700); err != nil {
			return nil, fmt.Errorf("failed to create keybase home: %w", err)
		}
	}
	api, err := kbchat.Start(kbchat.RunOptions{
		KeybaseLocation: n.KeybaseLocation,
		HomeDir:         home,
		Oneshot: &kbchat.OneshotOptions{
			Username: username,
			PaperKey: paperKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", connector.ErrAuthentication, err)
	}

	sub, err := api.ListenForNewTextMessages()
	if err != nil {
		_ = api.Shutdown()
		return nil, fmt.Errorf("failed to listen for keybase messages: %w", err)
	}
	next := func() (*connector.RemoteMessage, error) {
		for {
			msg, err := sub.Read()
			if err != nil {
				return nil, err
			}
			if converted := convertMessage(msg.Message, username); converted != nil {
				return converted, nil
			}
		}
	}

	client := newClient(username, log, next, func(convID, text string) error {
		_, err := sendByConvID(api.SendMessageByConvID, convID, text)
		return err
	}, func() {
		sub.Shutdown()
		if err := api.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down keybase process")
		}
	})
	log.Debug().Str("home_dir", home).Msg("Keybase oneshot session started")
	return client, nil
}

// sendByConvID sends text as-is to a conversation. kbchat formats the body
// with fmt.Sprintf, so the text is passed as an argument.
func sendByConvID[C ~string, R any](send func(C, string, ...interface{}) (R, error), convID, text string) (R, error) {
	return send(C(convID), "%s", text)
}
