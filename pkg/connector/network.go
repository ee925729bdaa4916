// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixAPI is the part of the Matrix appservice the bridge core depends on.
// A ghost of "" means the bridge bot itself.
type MatrixAPI interface {
	BotMXID() id.UserID
	// IsBridgeUser reports whether userID is the bridge bot or one of the
	// ghosts, so the bridge can ignore its own events.
	IsBridgeUser(userID id.UserID) bool

	JoinRoom(ctx context.Context, roomID id.RoomID) error
	LeaveRoom(ctx context.Context, roomID id.RoomID, ghost networkid.UserID) error
	SendMessage(ctx context.Context, roomID id.RoomID, ghost networkid.UserID, content *event.MessageEventContent) error
	// CreateDirectRoom creates a private direct chat as ghost and invites
	// the given Matrix user.
	CreateDirectRoom(ctx context.Context, ghost networkid.UserID, invite id.UserID) (id.RoomID, error)
	SetGhostDisplayName(ctx context.Context, ghost networkid.UserID, name string) error
}

// RemoteNetwork logs in to Keybase.
type RemoteNetwork interface {
	// Authenticate starts a Keybase session. Credential problems are
	// reported as ErrAuthentication.
	Authenticate(ctx context.Context, username, paperKey string) (RemoteClient, error)
}

// RemoteClient is one live Keybase session.
type RemoteClient interface {
	// Username is the Keybase username the session is logged in as.
	Username() string
	// Messages delivers new messages from all conversations of the account.
	// The channel is closed when the subscription ends.
	Messages() <-chan *RemoteMessage
	Send(ctx context.Context, convID networkid.PortalID, text string) error
	Disconnect()
}

// RemoteMessage is a text message received from Keybase.
type RemoteMessage struct {
	ConversationID networkid.PortalID
	SenderID       networkid.UserID

	SenderUsername   string
	SenderDeviceName string
	SenderDeviceID   string

	Text string
}

// DisplayName returns the first non-empty of the sender's username, device
// name and device ID.
func (msg *RemoteMessage) DisplayName() string {
	switch {
	case msg.SenderUsername != "":
		return msg.SenderUsername
	case msg.SenderDeviceName != "":
		return msg.SenderDeviceName
	default:
		return msg.SenderDeviceID
	}
}

func (msg *RemoteMessage) validate() error {
	switch {
	case msg == nil:
		return fmt.Errorf("%w: nil message", ErrMalformedEvent)
	case msg.ConversationID == "":
		return fmt.Errorf("%w: missing conversation ID", ErrMalformedEvent)
	case msg.SenderID == "":
		return fmt.Errorf("%w: missing sender", ErrMalformedEvent)
	case msg.Text == "":
		return fmt.Errorf("%w: missing text body", ErrMalformedEvent)
	}
	return nil
}
