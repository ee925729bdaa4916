// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-keybase/pkg/database"
)

// KeybaseConnector is the bridge core. It binds Matrix rooms to admin
// sessions or Keybase conversations and routes messages between them.
type KeybaseConnector struct {
	Config   Config
	DB       *database.Database
	Matrix   MatrixAPI
	Sessions *SessionRegistry

	log          zerolog.Logger
	roomCreation singleflight.Group
	adminServer  *http.Server
}

// NewKeybaseConnector wires the bridge core to its Matrix and Keybase sides.
func NewKeybaseConnector(cfg Config, db *database.Database, matrix MatrixAPI, remote RemoteNetwork, log zerolog.Logger) *KeybaseConnector {
	kc := &KeybaseConnector{
		Config: cfg,
		DB:     db,
		Matrix: matrix,
		log:    log,
	}
	kc.Sessions = NewSessionRegistry(
		remote, db.Credential, kc.HandleRemoteMessage,
		log.With().Str("component", "sessions").Logger(),
	)
	kc.Sessions.RestoreConcurrency = cfg.RestoreConcurrency
	return kc
}

// Init prepares the connector for handling events. It must be called before
// any event is delivered; ctx bounds the lifetime of all sessions.
func (kc *KeybaseConnector) Init(ctx context.Context) error {
	if err := kc.Config.PostProcess(); err != nil {
		return fmt.Errorf("failed to post-process config: %w", err)
	}
	kc.Sessions.bgCtx = ctx
	return nil
}

// Start restores the stored Keybase sessions and starts the admin API if
// one is configured.
func (kc *KeybaseConnector) Start(ctx context.Context) error {
	if kc.Config.AdminAPIAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/sessions", kc.HandleListSessions)
		mux.HandleFunc("/api/restore", kc.HandleRestoreSessions)
		mux.HandleFunc("/api/rooms", kc.HandleListRooms)
		kc.adminServer = &http.Server{
			Addr:         kc.Config.AdminAPIAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			kc.log.Info().Str("addr", kc.Config.AdminAPIAddr).Msg("Starting bridge admin API")
			if err := kc.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				kc.log.Error().Err(err).Msg("Bridge admin API error")
			}
		}()
	}

	kc.Sessions.RestoreAll(ctx)
	return nil
}

// Stop shuts down the admin API and disconnects every Keybase session.
func (kc *KeybaseConnector) Stop(ctx context.Context) {
	if kc.adminServer != nil {
		if err := kc.adminServer.Shutdown(ctx); err != nil {
			kc.log.Warn().Err(err).Msg("Failed to shut down admin API")
		}
	}
	kc.Sessions.DisconnectAll()
}

func (kc *KeybaseConnector) sendNotice(ctx context.Context, roomID id.RoomID, ghost networkid.UserID, text string) {
	err := kc.Matrix.SendMessage(ctx, roomID, ghost, &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	})
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Stringer("room_id", roomID).Msg("Failed to send notice")
	}
}
