// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-keybase/pkg/database"
)

const replyGroupRoom = "The bridge can only handle 1:1 rooms for setting up the bridge"

// inviteEvent is a validated invite of the bridge bot.
type inviteEvent struct {
	RoomID   id.RoomID
	Inviter  id.UserID
	Invitee  id.UserID
	IsDirect bool
}

func parseInviteEvent(evt *event.Event) (*inviteEvent, error) {
	if evt == nil || evt.Type.Type != event.StateMember.Type {
		return nil, fmt.Errorf("%w: not a member event", ErrMalformedEvent)
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content == nil {
		return nil, fmt.Errorf("%w: missing member content", ErrMalformedEvent)
	}
	if content.Membership != event.MembershipInvite {
		return nil, fmt.Errorf("%w: membership is %q", ErrMalformedEvent, content.Membership)
	}
	inv := &inviteEvent{
		RoomID:   evt.RoomID,
		Inviter:  evt.Sender,
		Invitee:  id.UserID(evt.GetStateKey()),
		IsDirect: content.IsDirect,
	}
	if inv.RoomID == "" || inv.Inviter == "" || inv.Invitee == "" {
		return nil, fmt.Errorf("%w: missing room, sender or state key", ErrMalformedEvent)
	}
	return inv, nil
}

// messageEvent is a validated m.room.message event.
type messageEvent struct {
	RoomID  id.RoomID
	Sender  id.UserID
	Content *event.MessageEventContent
}

func parseMessageEvent(evt *event.Event) (*messageEvent, error) {
	if evt == nil || evt.Type.Type != event.EventMessage.Type {
		return nil, fmt.Errorf("%w: not a message event", ErrMalformedEvent)
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content == nil {
		return nil, fmt.Errorf("%w: missing message content", ErrMalformedEvent)
	}
	if evt.RoomID == "" || evt.Sender == "" {
		return nil, fmt.Errorf("%w: missing room or sender", ErrMalformedEvent)
	}
	return &messageEvent{RoomID: evt.RoomID, Sender: evt.Sender, Content: content}, nil
}

// HandleMatrixInvite handles an invite of the bridge bot. Direct invites
// become admin rooms owned by the inviter, anything else is left.
func (kc *KeybaseConnector) HandleMatrixInvite(ctx context.Context, evt *event.Event) {
	inv, err := parseInviteEvent(evt)
	if err != nil {
		kc.log.Debug().Err(err).Msg("Ignoring member event")
		return
	}
	if inv.Invitee != kc.Matrix.BotMXID() || kc.Matrix.IsBridgeUser(inv.Inviter) {
		return
	}
	log := kc.log.With().
		Stringer("room_id", inv.RoomID).
		Stringer("inviter", inv.Inviter).
		Logger()
	ctx = log.WithContext(ctx)

	if err = kc.Matrix.JoinRoom(ctx, inv.RoomID); err != nil {
		log.Err(err).Msg("Failed to join room after invite")
		return
	}

	existing, err := kc.DB.RoomBinding.GetByRoomID(ctx, inv.RoomID)
	if err != nil {
		log.Err(err).Msg("Failed to get room binding")
		return
	} else if existing != nil {
		log.Debug().Str("kind", string(existing.Kind)).Msg("Re-invited to bound room, keeping binding")
		return
	}

	if !inv.IsDirect {
		log.Info().Msg("Rejecting invite to non-direct room")
		kc.sendNotice(ctx, inv.RoomID, "", replyGroupRoom)
		if err = kc.Matrix.LeaveRoom(ctx, inv.RoomID, ""); err != nil {
			log.Err(err).Msg("Failed to leave non-direct room")
		}
		return
	}

	inserted, err := kc.DB.RoomBinding.InsertAdmin(ctx, inv.RoomID, inv.Inviter)
	if err != nil {
		log.Err(err).Msg("Failed to save admin room binding")
		return
	} else if !inserted {
		return
	}
	log.Info().Msg("Created admin room")
	kc.sendNotice(ctx, inv.RoomID, "", replyWelcome)
}

// HandleMatrixMessage handles a message sent in a Matrix room. Messages in
// admin rooms are commands, messages in convo rooms are sent to Keybase.
func (kc *KeybaseConnector) HandleMatrixMessage(ctx context.Context, evt *event.Event) {
	msg, err := parseMessageEvent(evt)
	if err != nil {
		kc.log.Debug().Err(err).Msg("Ignoring message event")
		return
	}
	if kc.Matrix.IsBridgeUser(msg.Sender) || msg.Content.MsgType != event.MsgText {
		return
	}
	log := kc.log.With().
		Stringer("room_id", msg.RoomID).
		Stringer("sender", msg.Sender).
		Stringer("event_id", evt.ID).
		Logger()
	ctx = log.WithContext(ctx)

	binding, err := kc.DB.RoomBinding.GetByRoomID(ctx, msg.RoomID)
	if err != nil {
		log.Err(err).Msg("Failed to get room binding")
		return
	} else if binding == nil {
		return
	}

	switch binding.Kind {
	case database.BindingKindAdmin:
		if msg.Sender != binding.Owner {
			log.Debug().Msg("Ignoring admin room message from non-owner")
			return
		}
		kc.HandleCommand(ctx, msg.RoomID, msg.Sender, msg.Content.Body)
	case database.BindingKindConvo:
		kc.sendToKeybase(ctx, binding, msg)
	}
}

// sendToKeybase sends msg to the conversation of a convo room through the
// sender's own session. Senders without a session are ignored. Failures are
// reported in the room by the remote user's ghost.
func (kc *KeybaseConnector) sendToKeybase(ctx context.Context, binding *database.RoomBinding, msg *messageEvent) {
	log := zerolog.Ctx(ctx)
	sess := kc.Sessions.Get(msg.Sender)
	if sess == nil {
		log.Debug().Msg("Sender has no Keybase session, dropping message")
		return
	}

	text := matrixfmtParse(msg.Content)
	err := sess.Client.Send(ctx, binding.ConversationID, text)
	if err != nil {
		if !errors.Is(err, ErrSend) {
			err = fmt.Errorf("%w: %w", ErrSend, err)
		}
		log.Err(err).Str("conversation_id", string(binding.ConversationID)).Msg("Failed to send message to Keybase")
		kc.sendNotice(ctx, msg.RoomID, binding.RemoteUser, "Could not send message: "+err.Error())
		return
	}
	log.Debug().Str("conversation_id", string(binding.ConversationID)).Msg("Message sent to Keybase")
}
