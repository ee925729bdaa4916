// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"context"
	"fmt"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"
)

// BindingKind classifies a Matrix room known to the bridge.
type BindingKind string

const (
	// BindingKindAdmin is a 1:1 room between a Matrix user and the bridge
	// bot, used for commands such as !login.
	BindingKindAdmin BindingKind = "admin"
	// BindingKindConvo is a portal room for a single Keybase conversation.
	BindingKindConvo BindingKind = "convo"
)

// RoomBinding is the persisted classification of a Matrix room. A room has
// at most one binding and its kind never changes after insertion.
type RoomBinding struct {
	RoomID id.RoomID
	Kind   BindingKind
	// Owner is the Matrix user the room belongs to: the inviter for admin
	// rooms, the bridging user whose session created the room for convo rooms.
	Owner id.UserID

	// Only set for convo bindings.
	ConversationID networkid.PortalID
	RemoteUser     networkid.UserID
}

const (
	getRoomBindingBaseQuery = `
		SELECT room_id, kind, owner_mxid, conversation_id, remote_user FROM room_binding
	`
	getRoomBindingByRoomIDQuery = getRoomBindingBaseQuery + `WHERE room_id=$1`
	getRoomBindingsByKindQuery  = getRoomBindingBaseQuery + `WHERE kind=$1`
	insertAdminBindingQuery     = `
		INSERT INTO room_binding (room_id, kind, owner_mxid) VALUES ($1, 'admin', $2)
		ON CONFLICT (room_id) DO NOTHING
	`
	insertConvoBindingQuery = `
		INSERT INTO room_binding (room_id, kind, owner_mxid, conversation_id, remote_user)
		VALUES ($1, 'convo', $2, $3, $4)
	`
)

// RoomBindingQuery reads and writes the room_binding table.
type RoomBindingQuery struct {
	db *dbutil.Database
	*dbutil.QueryHelper[*RoomBinding]
}

// GetByRoomID returns the binding of the given room, or nil if the room is
// not bound.
func (rbq *RoomBindingQuery) GetByRoomID(ctx context.Context, roomID id.RoomID) (*RoomBinding, error) {
	return rbq.QueryOne(ctx, getRoomBindingByRoomIDQuery, roomID)
}

// GetAllByKind returns every binding of the given kind.
func (rbq *RoomBindingQuery) GetAllByKind(ctx context.Context, kind BindingKind) ([]*RoomBinding, error) {
	return rbq.QueryMany(ctx, getRoomBindingsByKindQuery, kind)
}

// InsertAdmin binds roomID as an admin room owned by owner. Existing
// bindings are never replaced; inserted reports whether a new row was
// written.
func (rbq *RoomBindingQuery) InsertAdmin(ctx context.Context, roomID id.RoomID, owner id.UserID) (inserted bool, err error) {
	res, err := rbq.db.Exec(ctx, insertAdminBindingQuery, roomID, owner)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (rb *RoomBinding) Scan(row dbutil.Scannable) (*RoomBinding, error) {
	err := row.Scan(&rb.RoomID, &rb.Kind, &rb.Owner, &rb.ConversationID, &rb.RemoteUser)
	if err != nil {
		return nil, err
	}
	return rb, nil
}
