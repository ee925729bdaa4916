// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-keybase/pkg/database"
)

const defaultRestoreConcurrency = 4

// Session is a live Keybase login of one Matrix user.
type Session struct {
	LocalUser id.UserID
	Client    RemoteClient
}

// RemoteMessageHandler routes a message received by a session.
type RemoteMessageHandler func(ctx context.Context, localUser id.UserID, msg *RemoteMessage)

// SessionRegistry owns the live Keybase sessions, at most one per Matrix
// user. It is the only place where sessions are created or torn down.
type SessionRegistry struct {
	remote      RemoteNetwork
	credentials *database.CredentialQuery
	handler     RemoteMessageHandler
	log         zerolog.Logger

	// RestoreConcurrency limits parallel logins in RestoreAll.
	RestoreConcurrency int

	bgCtx    context.Context
	lock     sync.RWMutex
	sessions map[id.UserID]*Session
	logins   singleflight.Group
	wg       sync.WaitGroup
}

// NewSessionRegistry creates an empty registry. Messages of every session
// are passed to handler from one goroutine per session.
func NewSessionRegistry(remote RemoteNetwork, credentials *database.CredentialQuery, handler RemoteMessageHandler, log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		remote:      remote,
		credentials: credentials,
		handler:     handler,
		log:         log,
		bgCtx:       context.Background(),
		sessions:    make(map[id.UserID]*Session),
	}
}

// Get returns the session of localUser, or nil if the user isn't logged in.
func (sr *SessionRegistry) Get(localUser id.UserID) *Session {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	return sr.sessions[localUser]
}

// Users returns the Matrix users that currently have a session, sorted.
func (sr *SessionRegistry) Users() []id.UserID {
	sr.lock.RLock()
	users := make([]id.UserID, 0, len(sr.sessions))
	for user := range sr.sessions {
		users = append(users, user)
	}
	sr.lock.RUnlock()
	slices.Sort(users)
	return users
}

// Count returns the number of live sessions.
func (sr *SessionRegistry) Count() int {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	return len(sr.sessions)
}

// Login returns the existing session of localUser if there is one, after
// replacing the stored credentials with the given ones so that the next
// restore uses them. Otherwise it authenticates with Keybase, stores the
// credentials and starts routing the session's messages. Nothing is stored
// if authentication fails.
func (sr *SessionRegistry) Login(ctx context.Context, localUser id.UserID, username, paperKey string) (*Session, error) {
	if sess := sr.Get(localUser); sess != nil {
		return sess, sr.storeCredential(ctx, localUser, username, paperKey)
	}
	val, err, _ := sr.logins.Do(string(localUser), func() (any, error) {
		if sess := sr.Get(localUser); sess != nil {
			return sess, nil
		}
		return sr.login(ctx, localUser, username, paperKey)
	})
	if err != nil {
		return nil, err
	}
	return val.(*Session), nil
}

func (sr *SessionRegistry) storeCredential(ctx context.Context, localUser id.UserID, username, paperKey string) error {
	err := sr.credentials.Upsert(ctx, &database.Credential{
		MXID:           localUser,
		RemoteUsername: username,
		RemoteSecret:   paperKey,
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (sr *SessionRegistry) login(ctx context.Context, localUser id.UserID, username, paperKey string) (*Session, error) {
	log := sr.log.With().
		Stringer("user_mxid", localUser).
		Str("keybase_username", username).
		Logger()
	log.Info().Msg("Logging in to Keybase")

	client, err := sr.remote.Authenticate(ctx, username, paperKey)
	if err != nil {
		if !errors.Is(err, ErrAuthentication) {
			err = fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return nil, err
	}

	if err = sr.storeCredential(ctx, localUser, username, paperKey); err != nil {
		client.Disconnect()
		return nil, err
	}

	sess := &Session{LocalUser: localUser, Client: client}
	sr.lock.Lock()
	sr.sessions[localUser] = sess
	sr.lock.Unlock()

	sr.wg.Add(1)
	go sr.routeMessages(sr.bgCtx, sess)

	log.Info().Msg("Connected and watching Keybase conversations")
	return sess, nil
}

// routeMessages consumes the message stream of one session until it ends.
// A session whose stream ends is dropped; the user has to log in again.
func (sr *SessionRegistry) routeMessages(ctx context.Context, sess *Session) {
	defer sr.wg.Done()
	log := sr.log.With().Stringer("user_mxid", sess.LocalUser).Logger()
	ctx = log.WithContext(ctx)
	messages := sess.Client.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				if sr.remove(sess) {
					log.Warn().Msg("Keybase message stream ended, session dropped")
				}
				return
			}
			sr.handler(ctx, sess.LocalUser, msg)
		}
	}
}

func (sr *SessionRegistry) remove(sess *Session) bool {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	if sr.sessions[sess.LocalUser] != sess {
		return false
	}
	delete(sr.sessions, sess.LocalUser)
	return true
}

// RestoreAll logs in every user with stored credentials. Failures are
// logged and don't stop the other restorations.
func (sr *SessionRegistry) RestoreAll(ctx context.Context) (restored, failed int) {
	creds, err := sr.credentials.GetAll(ctx)
	if err != nil {
		sr.log.Err(err).Msg("Failed to load stored credentials")
		return 0, 0
	}

	limit := sr.RestoreConcurrency
	if limit <= 0 {
		limit = defaultRestoreConcurrency
	}
	var eg errgroup.Group
	eg.SetLimit(limit)
	var okCount, failCount atomic.Int32
	for _, cred := range creds {
		eg.Go(func() error {
			_, err := sr.Login(ctx, cred.MXID, cred.RemoteUsername, cred.RemoteSecret)
			if err != nil {
				sr.log.Err(err).
					Stringer("user_mxid", cred.MXID).
					Str("keybase_username", cred.RemoteUsername).
					Msg("Failed to restore Keybase session")
				failCount.Add(1)
			} else {
				okCount.Add(1)
			}
			return nil
		})
	}
	_ = eg.Wait()

	restored, failed = int(okCount.Load()), int(failCount.Load())
	sr.log.Info().
		Int("restored", restored).
		Int("failed", failed).
		Msg("Session restoration complete")
	return restored, failed
}

// DisconnectAll closes every session and waits for their routing
// goroutines to exit.
func (sr *SessionRegistry) DisconnectAll() {
	sr.lock.Lock()
	sessions := sr.sessions
	sr.sessions = make(map[id.UserID]*Session)
	sr.lock.Unlock()

	for _, sess := range sessions {
		sess.Client.Disconnect()
	}
	sr.wg.Wait()
}
