// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"
)

// ErrConversationBound is returned by InsertConvo when another room is
// already indexed for the conversation.
var ErrConversationBound = errors.New("conversation already has a room")

// RemoteRoom is an entry of the conversation index. Owner is denormalized
// from the room's convo binding.
type RemoteRoom struct {
	ConversationID networkid.PortalID
	RoomID         id.RoomID
	Owner          id.UserID
}

const (
	getRemoteRoomBaseQuery = `
		SELECT rr.conversation_id, rr.room_id, rb.owner_mxid
		FROM remote_room rr
		INNER JOIN room_binding rb ON rb.room_id = rr.room_id
	`
	getRemoteRoomByConversationQuery = getRemoteRoomBaseQuery + `WHERE rr.conversation_id=$1`
	insertRemoteRoomQuery            = `
		INSERT INTO remote_room (conversation_id, room_id) VALUES ($1, $2)
		ON CONFLICT (conversation_id) DO NOTHING
	`
)

// RemoteRoomQuery reads and writes the remote_room index. Writes always go
// together with the matching convo binding.
type RemoteRoomQuery struct {
	db *dbutil.Database
	*dbutil.QueryHelper[*RemoteRoom]
}

// GetByConversationID returns the room indexed for the conversation, or nil.
func (rrq *RemoteRoomQuery) GetByConversationID(ctx context.Context, convID networkid.PortalID) (*RemoteRoom, error) {
	return rrq.QueryOne(ctx, getRemoteRoomByConversationQuery, convID)
}

// GetAll returns the whole conversation index.
func (rrq *RemoteRoomQuery) GetAll(ctx context.Context) ([]*RemoteRoom, error) {
	return rrq.QueryMany(ctx, getRemoteRoomBaseQuery)
}

// InsertConvo writes a convo binding and its index entry in one transaction.
// If the conversation is already indexed nothing is written and
// ErrConversationBound is returned.
func (rrq *RemoteRoomQuery) InsertConvo(ctx context.Context, binding *RoomBinding) error {
	if binding.Kind != BindingKindConvo {
		return fmt.Errorf("unexpected binding kind %q", binding.Kind)
	}
	return rrq.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		_, err := rrq.db.Exec(ctx, insertConvoBindingQuery,
			binding.RoomID, binding.Owner, binding.ConversationID, binding.RemoteUser)
		if err != nil {
			return fmt.Errorf("failed to insert room binding: %w", err)
		}
		res, err := rrq.db.Exec(ctx, insertRemoteRoomQuery, binding.ConversationID, binding.RoomID)
		if err != nil {
			return fmt.Errorf("failed to insert conversation index: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		} else if affected == 0 {
			return ErrConversationBound
		}
		return nil
	})
}

func (rr *RemoteRoom) Scan(row dbutil.Scannable) (*RemoteRoom, error) {
	err := row.Scan(&rr.ConversationID, &rr.RoomID, &rr.Owner)
	if err != nil {
		return nil, err
	}
	return rr, nil
}
