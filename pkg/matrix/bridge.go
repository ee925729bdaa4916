// Copyright 2024-2026 Aiku AI

// Package matrix implements the Matrix side of the bridge as an application
// service: it delivers room events to the bridge core and acts as the bot
// and the Keybase ghosts.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-keybase/pkg/bridgeconfig"
	"github.com/aiku/mautrix-keybase/pkg/connector"
)

// EventHandler receives the Matrix events the bridge core acts on.
type EventHandler interface {
	HandleMatrixInvite(ctx context.Context, evt *event.Event)
	HandleMatrixMessage(ctx context.Context, evt *event.Event)
}

// Bridge is the appservice connection to the homeserver.
type Bridge struct {
	AS             *appservice.AppService
	EventProcessor *appservice.EventProcessor

	domain         string
	prefix         string
	botMXID        id.UserID
	botDisplayname string
	rooms          *roomQueue
	log            zerolog.Logger
}

var _ connector.MatrixAPI = (*Bridge)(nil)

// New creates the appservice from the config and registration. Nothing is
// started until Start is called.
func New(cfg *bridgeconfig.Config, reg *appservice.Registration, log zerolog.Logger) (*Bridge, error) {
	if reg.SenderLocalpart != cfg.AppService.Bot.Username {
		return nil, fmt.Errorf("registration sender_localpart %q doesn't match bot username %q",
			reg.SenderLocalpart, cfg.AppService.Bot.Username)
	}
	as, err := appservice.CreateFull(appservice.CreateOpts{
		Registration:     reg,
		HomeserverDomain: cfg.Homeserver.Domain,
		HomeserverURL:    cfg.Homeserver.Address,
		HostConfig: appservice.HostConfig{
			Hostname: cfg.AppService.Hostname,
			Port:     cfg.AppService.Port,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create appservice: %w", err)
	}
	as.Log = log.With().Str("component", "appservice").Logger()

	ep := appservice.NewEventProcessor(as)
	ep.ExecMode = appservice.Sync
	return &Bridge{
		AS:             as,
		EventProcessor: ep,
		domain:         cfg.Homeserver.Domain,
		prefix:         cfg.AppService.UsernamePrefix,
		botMXID:        id.NewUserID(cfg.AppService.Bot.Username, cfg.Homeserver.Domain),
		botDisplayname: cfg.AppService.Bot.Displayname,
		rooms:          newRoomQueue(),
		log:            log,
	}, nil
}

// Start registers the bot, sets its displayname and starts receiving
// transactions. Events of one room are passed to handler one at a time and
// in order, events of different rooms are handled concurrently.
func (b *Bridge) Start(ctx context.Context, handler EventHandler) error {
	bot := b.AS.BotIntent()
	if err := bot.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register bridge bot: %w", err)
	}
	if b.botDisplayname != "" {
		if err := bot.SetDisplayName(ctx, b.botDisplayname); err != nil {
			b.log.Warn().Err(err).Msg("Failed to set bridge bot displayname")
		}
	}

	b.EventProcessor.On(event.StateMember, func(ctx context.Context, evt *event.Event) {
		ensureParsed(evt)
		if content, ok := evt.Content.Parsed.(*event.MemberEventContent); ok && content.Membership == event.MembershipInvite {
			b.rooms.push(evt.RoomID, func() {
				handler.HandleMatrixInvite(b.log.WithContext(ctx), evt)
			})
		}
	})
	b.EventProcessor.On(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		ensureParsed(evt)
		b.rooms.push(evt.RoomID, func() {
			handler.HandleMatrixMessage(b.log.WithContext(ctx), evt)
		})
	})
	go b.EventProcessor.Start(ctx)
	go b.AS.Start()
	b.log.Info().
		Stringer("bot_mxid", b.botMXID).
		Str("hostname", b.AS.Host.Hostname).
		Uint16("port", b.AS.Host.Port).
		Msg("Appservice started")
	return nil
}

// Stop stops the appservice HTTP server and waits for queued events to be
// handled.
func (b *Bridge) Stop() {
	b.AS.Stop()
	b.rooms.wait()
}

func ensureParsed(evt *event.Event) {
	if evt.Content.Parsed == nil && len(evt.Content.VeryRaw) > 0 {
		_ = evt.Content.ParseRaw(evt.Type)
	}
}

func (b *Bridge) BotMXID() id.UserID {
	return b.botMXID
}

// GhostMXID returns the Matrix user of a Keybase user.
func (b *Bridge) GhostMXID(ghost networkid.UserID) id.UserID {
	return id.NewUserID(b.prefix+strings.ToLower(connector.ParseUserID(ghost)), b.domain)
}

func (b *Bridge) IsBridgeUser(userID id.UserID) bool {
	if userID == b.botMXID {
		return true
	}
	localpart, server, err := userID.Parse()
	if err != nil {
		return false
	}
	return server == b.domain && b.prefix != "" && strings.HasPrefix(localpart, b.prefix)
}

func (b *Bridge) intent(ghost networkid.UserID) *appservice.IntentAPI {
	if ghost == "" {
		return b.AS.BotIntent()
	}
	return b.AS.Intent(b.GhostMXID(ghost))
}

func (b *Bridge) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := b.AS.BotIntent().JoinRoomByID(ctx, roomID)
	return err
}

func (b *Bridge) LeaveRoom(ctx context.Context, roomID id.RoomID, ghost networkid.UserID) error {
	_, err := b.intent(ghost).LeaveRoom(ctx, roomID)
	return err
}

func (b *Bridge) SendMessage(ctx context.Context, roomID id.RoomID, ghost networkid.UserID, content *event.MessageEventContent) error {
	_, err := b.intent(ghost).SendMessageEvent(ctx, roomID, event.EventMessage, content)
	return err
}

// CreateDirectRoom creates a private direct chat owned by the ghost and
// invites the Matrix user.
func (b *Bridge) CreateDirectRoom(ctx context.Context, ghost networkid.UserID, invite id.UserID) (id.RoomID, error) {
	if ghost == "" {
		return "", errors.New("direct rooms must be created by a ghost")
	}
	intent := b.intent(ghost)
	if err := intent.EnsureRegistered(ctx); err != nil {
		return "", fmt.Errorf("failed to register ghost: %w", err)
	}
	resp, err := intent.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility: "private",
		Preset:     "private_chat",
		IsDirect:   true,
		Invite:     []id.UserID{invite},
	})
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (b *Bridge) SetGhostDisplayName(ctx context.Context, ghost networkid.UserID, name string) error {
	intent := b.intent(ghost)
	if err := intent.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register ghost: %w", err)
	}
	return intent.SetDisplayName(ctx, name)
}
