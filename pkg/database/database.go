// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package database persists the bridge state: room bindings, the
// conversation index, cached ghost profiles and Keybase credentials.
//
// All tables are created by the schema upgrade in the upgrades package, so
// calling [Database.Upgrade] on startup initializes missing tables exactly
// once and never touches existing rows.
package database

import (
	"go.mau.fi/util/dbutil"

	"github.com/aiku/mautrix-keybase/pkg/database/upgrades"
)

// Database wraps a dbutil.Database with the typed repositories used by the
// bridge.
type Database struct {
	*dbutil.Database

	RoomBinding *RoomBindingQuery
	RemoteRoom  *RemoteRoomQuery
	UserProfile *UserProfileQuery
	Credential  *CredentialQuery
}

// New wraps db and attaches the bridge schema to it. The caller must run
// Upgrade before using any of the repositories.
func New(db *dbutil.Database) *Database {
	db.UpgradeTable = upgrades.Table
	return &Database{
		Database: db,
		RoomBinding: &RoomBindingQuery{
			db: db,
			QueryHelper: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*RoomBinding]) *RoomBinding {
				return &RoomBinding{}
			}),
		},
		RemoteRoom: &RemoteRoomQuery{
			db: db,
			QueryHelper: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*RemoteRoom]) *RemoteRoom {
				return &RemoteRoom{}
			}),
		},
		UserProfile: &UserProfileQuery{
			QueryHelper: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*UserProfile]) *UserProfile {
				return &UserProfile{}
			}),
		},
		Credential: &CredentialQuery{
			QueryHelper: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*Credential]) *Credential {
				return &Credential{}
			}),
		},
	}
}
