// Copyright 2024-2026 Aiku AI

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

// HandleRemoteMessage relays a Keybase message received by localUser's
// session into the conversation's Matrix room, creating the room on first
// contact.
func (kc *KeybaseConnector) HandleRemoteMessage(ctx context.Context, localUser id.UserID, msg *RemoteMessage) {
	if err := msg.validate(); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("Dropping remote message")
		return
	}
	log := zerolog.Ctx(ctx).With().
		Stringer("user_mxid", localUser).
		Str("conversation_id", string(msg.ConversationID)).
		Str("sender_id", string(msg.SenderID)).
		Logger()
	ctx = log.WithContext(ctx)

	roomID, err := kc.getOrCreateRoom(ctx, localUser, msg)
	if err != nil {
		log.Err(err).Msg("Failed to get room for Keybase conversation, dropping message")
		return
	} else if roomID == "" {
		return
	}

	kc.syncGhostProfile(ctx, msg)

	parsed := keybasefmtParse(msg.Text)
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          parsed.Body,
		Format:        parsed.Format,
		FormattedBody: parsed.FormattedBody,
	}
	if err = kc.Matrix.SendMessage(ctx, roomID, msg.SenderID, content); err != nil {
		log.Err(err).Stringer("room_id", roomID).Msg("Failed to send Keybase message to Matrix")
		return
	}
	log.Debug().Stringer("room_id", roomID).Msg("Relayed Keybase message")
}

// getOrCreateRoom returns the Matrix room of msg's conversation. Room
// creation is single-flight per conversation, and the binding and index
// entry are only written once the room exists. An empty room ID means the
// conversation belongs to another Matrix user.
func (kc *KeybaseConnector) getOrCreateRoom(ctx context.Context, localUser id.UserID, msg *RemoteMessage) (id.RoomID, error) {
	rr, err := kc.DB.RemoteRoom.GetByConversationID(ctx, msg.ConversationID)
	if err != nil {
		return "", fmt.Errorf("failed to get conversation index: %w", err)
	}
	if rr == nil {
		val, err, _ := kc.roomCreation.Do(string(msg.ConversationID), func() (any, error) {
			return kc.createRoom(ctx, localUser, msg)
		})
		if err != nil {
			return "", err
		}
		rr = val.(*database.RemoteRoom)
	}
	if rr.Owner != localUser {
		zerolog.Ctx(ctx).Warn().
			Stringer("room_id", rr.RoomID).
			Stringer("owner", rr.Owner).
			Msg("Conversation is bridged for another user, dropping message")
		return "", nil
	}
	return rr.RoomID, nil
}

func (kc *KeybaseConnector) createRoom(ctx context.Context, localUser id.UserID, msg *RemoteMessage) (*database.RemoteRoom, error) {
	log := zerolog.Ctx(ctx)
	// Another message of the same conversation may have won the race.
	rr, err := kc.DB.RemoteRoom.GetByConversationID(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation index: %w", err)
	} else if rr != nil {
		return rr, nil
	}

	roomID, err := kc.Matrix.CreateDirectRoom(ctx, msg.SenderID, localUser)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRoomCreation, err)
	}
	log.Info().Stringer("room_id", roomID).Msg("Created room for Keybase conversation")

	binding := &database.RoomBinding{
		RoomID:         roomID,
		Kind:           database.BindingKindConvo,
		Owner:          localUser,
		ConversationID: msg.ConversationID,
		RemoteUser:     msg.SenderID,
	}
	err = kc.DB.RemoteRoom.InsertConvo(ctx, binding)
	if errors.Is(err, database.ErrConversationBound) {
		log.Warn().Stringer("room_id", roomID).Msg("Conversation was bound concurrently, discarding new room")
		if err = kc.Matrix.LeaveRoom(ctx, roomID, msg.SenderID); err != nil {
			log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to leave discarded room")
		}
		rr, err = kc.DB.RemoteRoom.GetByConversationID(ctx, msg.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation index: %w", err)
		} else if rr == nil {
			return nil, fmt.Errorf("conversation index entry disappeared")
		}
		return rr, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to save room binding: %w", err)
	}
	return &database.RemoteRoom{
		ConversationID: msg.ConversationID,
		RoomID:         roomID,
		Owner:          localUser,
	}, nil
}

// syncGhostProfile updates the displayname of the sender's ghost when it
// differs from the cached one.
func (kc *KeybaseConnector) syncGhostProfile(ctx context.Context, msg *RemoteMessage) {
	log := zerolog.Ctx(ctx)
	name := kc.Config.FormatDisplayname(DisplaynameParams{
		Name:       msg.DisplayName(),
		Username:   msg.SenderUsername,
		DeviceName: msg.SenderDeviceName,
		DeviceID:   msg.SenderDeviceID,
	})
	if name == "" {
		return
	}

	profile, err := kc.DB.UserProfile.Get(ctx, msg.SenderID)
	if err != nil {
		log.Err(err).Msg("Failed to get cached ghost profile")
		return
	} else if profile != nil && profile.Displayname == name {
		return
	}

	if err = kc.Matrix.SetGhostDisplayName(ctx, msg.SenderID, name); err != nil {
		log.Warn().Err(err).Msg("Failed to update ghost displayname")
		return
	}
	err = kc.DB.UserProfile.Upsert(ctx, &database.UserProfile{
		RemoteUser:  msg.SenderID,
		Displayname: name,
	})
	if err != nil {
		log.Err(err).Msg("Failed to cache ghost profile")
	}
}
