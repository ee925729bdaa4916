// Copyright 2024-2026 Aiku AI

package database

import (
	"context"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/bridgev2/networkid"
)

// UserProfile caches the displayname last pushed to a Keybase user's ghost.
type UserProfile struct {
	RemoteUser  networkid.UserID
	Displayname string
}

const (
	getUserProfileQuery    = `SELECT remote_user, displayname FROM user_profile WHERE remote_user=$1`
	upsertUserProfileQuery = `
		INSERT INTO user_profile (remote_user, displayname) VALUES ($1, $2)
		ON CONFLICT (remote_user) DO UPDATE SET displayname=excluded.displayname
	`
)

type UserProfileQuery struct {
	*dbutil.QueryHelper[*UserProfile]
}

func (upq *UserProfileQuery) Get(ctx context.Context, remoteUser networkid.UserID) (*UserProfile, error) {
	return upq.QueryOne(ctx, getUserProfileQuery, remoteUser)
}

func (upq *UserProfileQuery) Upsert(ctx context.Context, profile *UserProfile) error {
	return upq.Exec(ctx, upsertUserProfileQuery, profile.RemoteUser, profile.Displayname)
}

func (up *UserProfile) Scan(row dbutil.Scannable) (*UserProfile, error) {
	err := row.Scan(&up.RemoteUser, &up.Displayname)
	if err != nil {
		return nil, err
	}
	return up, nil
}
