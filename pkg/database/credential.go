// Copyright 2024-2026 Aiku AI

package database

import (
	"context"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

// Credential is the Keybase login of a Matrix user, kept so that sessions
// can be restored after a restart.
type Credential struct {
	MXID           id.UserID
	RemoteUsername string
	// RemoteSecret is the Keybase paper key.
	RemoteSecret string
}

const (
	getCredentialBaseQuery = `SELECT mxid, remote_username, remote_secret FROM credential`
	getCredentialQuery     = getCredentialBaseQuery + ` WHERE mxid=$1`
	upsertCredentialQuery  = `
		INSERT INTO credential (mxid, remote_username, remote_secret) VALUES ($1, $2, $3)
		ON CONFLICT (mxid) DO UPDATE
			SET remote_username=excluded.remote_username, remote_secret=excluded.remote_secret
	`
)

type CredentialQuery struct {
	*dbutil.QueryHelper[*Credential]
}

func (cq *CredentialQuery) Get(ctx context.Context, mxid id.UserID) (*Credential, error) {
	return cq.QueryOne(ctx, getCredentialQuery, mxid)
}

func (cq *CredentialQuery) GetAll(ctx context.Context) ([]*Credential, error) {
	return cq.QueryMany(ctx, getCredentialBaseQuery)
}

// Upsert stores cred, replacing any previous credential of the same user.
func (cq *CredentialQuery) Upsert(ctx context.Context, cred *Credential) error {
	return cq.Exec(ctx, upsertCredentialQuery, cred.MXID, cred.RemoteUsername, cred.RemoteSecret)
}

func (c *Credential) Scan(row dbutil.Scannable) (*Credential, error) {
	err := row.Scan(&c.MXID, &c.RemoteUsername, &c.RemoteSecret)
	if err != nil {
		return nil, err
	}
	return c, nil
}
