// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-keybase/pkg/database"
)

const (
	testBot   id.UserID = "@keybasebot:example.com"
	testAlice id.UserID = "@alice:example.com"
	testBob   id.UserID = "@bob:example.com"
)

// sentMessage is a message sent to Matrix through fakeMatrix.
type sentMessage struct {
	RoomID  id.RoomID
	Ghost   networkid.UserID
	Content *event.MessageEventContent
}

// leftRoom is a room left through fakeMatrix.
type leftRoom struct {
	RoomID id.RoomID
	Ghost  networkid.UserID
}

// createdRoom is a direct room created through fakeMatrix.
type createdRoom struct {
	RoomID id.RoomID
	Ghost  networkid.UserID
	Invite id.UserID
}

// fakeMatrix records every call the bridge core makes to the homeserver.
type fakeMatrix struct {
	mu           sync.Mutex
	joined       []id.RoomID
	left         []leftRoom
	sent         []sentMessage
	created      []createdRoom
	displaynames map[networkid.UserID]string
	nameCalls    int

	JoinErr        error
	SendErr        error
	CreateErr      error
	DisplaynameErr error
	// CreateDelay is slept inside CreateDirectRoom to widen race windows.
	CreateDelay time.Duration
	// AfterCreate is called with every room CreateDirectRoom creates.
	AfterCreate func(roomID id.RoomID)
}

func newFakeMatrix() *fakeMatrix {
	return &fakeMatrix{displaynames: make(map[networkid.UserID]string)}
}

func (fm *fakeMatrix) BotMXID() id.UserID {
	return testBot
}

func (fm *fakeMatrix) IsBridgeUser(userID id.UserID) bool {
	return userID == testBot || strings.HasPrefix(string(userID), "@keybase_")
}

func (fm *fakeMatrix) JoinRoom(_ context.Context, roomID id.RoomID) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.JoinErr != nil {
		return fm.JoinErr
	}
	fm.joined = append(fm.joined, roomID)
	return nil
}

func (fm *fakeMatrix) LeaveRoom(_ context.Context, roomID id.RoomID, ghost networkid.UserID) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.left = append(fm.left, leftRoom{RoomID: roomID, Ghost: ghost})
	return nil
}

func (fm *fakeMatrix) SendMessage(_ context.Context, roomID id.RoomID, ghost networkid.UserID, content *event.MessageEventContent) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.SendErr != nil {
		return fm.SendErr
	}
	fm.sent = append(fm.sent, sentMessage{RoomID: roomID, Ghost: ghost, Content: content})
	return nil
}

func (fm *fakeMatrix) CreateDirectRoom(_ context.Context, ghost networkid.UserID, invite id.UserID) (id.RoomID, error) {
	if fm.CreateDelay > 0 {
		time.Sleep(fm.CreateDelay)
	}
	fm.mu.Lock()
	if fm.CreateErr != nil {
		fm.mu.Unlock()
		return "", fm.CreateErr
	}
	roomID := id.RoomID(fmt.Sprintf("!room%d:example.com", len(fm.created)+1))
	fm.created = append(fm.created, createdRoom{RoomID: roomID, Ghost: ghost, Invite: invite})
	afterCreate := fm.AfterCreate
	fm.mu.Unlock()
	if afterCreate != nil {
		afterCreate(roomID)
	}
	return roomID, nil
}

func (fm *fakeMatrix) SetGhostDisplayName(_ context.Context, ghost networkid.UserID, name string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.nameCalls++
	if fm.DisplaynameErr != nil {
		return fm.DisplaynameErr
	}
	fm.displaynames[ghost] = name
	return nil
}

func (fm *fakeMatrix) Joined() []id.RoomID {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]id.RoomID(nil), fm.joined...)
}

func (fm *fakeMatrix) Left() []leftRoom {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]leftRoom(nil), fm.left...)
}

func (fm *fakeMatrix) Sent() []sentMessage {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]sentMessage(nil), fm.sent...)
}

func (fm *fakeMatrix) Created() []createdRoom {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]createdRoom(nil), fm.created...)
}

func (fm *fakeMatrix) Displayname(ghost networkid.UserID) (string, int) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.displaynames[ghost], fm.nameCalls
}

// fakeRemote is a Keybase network with a fixed set of valid accounts.
type fakeRemote struct {
	mu        sync.Mutex
	accounts  map[string]string
	clients   map[string]*fakeClient
	authCalls int
	// AuthDelay is slept inside Authenticate to widen race windows.
	AuthDelay time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		accounts: map[string]string{
			"alice": "paper key of alice",
			"bob":   "paper key of bob",
		},
		clients: make(map[string]*fakeClient),
	}
}

func (fr *fakeRemote) Authenticate(_ context.Context, username, paperKey string) (RemoteClient, error) {
	if fr.AuthDelay > 0 {
		time.Sleep(fr.AuthDelay)
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.authCalls++
	if want, ok := fr.accounts[username]; !ok || want != paperKey {
		return nil, fmt.Errorf("%w: bad paper key for %s", ErrAuthentication, username)
	}
	client := &fakeClient{
		username: username,
		messages: make(chan *RemoteMessage, 16),
	}
	fr.clients[username] = client
	return client, nil
}

func (fr *fakeRemote) AuthCalls() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.authCalls
}

func (fr *fakeRemote) Client(username string) *fakeClient {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.clients[username]
}

// remoteSend is a message sent to Keybase through fakeClient.
type remoteSend struct {
	ConversationID networkid.PortalID
	Text           string
}

type fakeClient struct {
	username string
	messages chan *RemoteMessage

	mu        sync.Mutex
	sent      []remoteSend
	SendErr   error
	closeOnce sync.Once
	closed    bool
}

func (fc *fakeClient) Username() string {
	return fc.username
}

func (fc *fakeClient) Messages() <-chan *RemoteMessage {
	return fc.messages
}

func (fc *fakeClient) Send(_ context.Context, convID networkid.PortalID, text string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.SendErr != nil {
		return fc.SendErr
	}
	fc.sent = append(fc.sent, remoteSend{ConversationID: convID, Text: text})
	return nil
}

func (fc *fakeClient) Disconnect() {
	fc.closeOnce.Do(func() {
		fc.mu.Lock()
		fc.closed = true
		fc.mu.Unlock()
		close(fc.messages)
	})
}

func (fc *fakeClient) Sent() []remoteSend {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]remoteSend(nil), fc.sent...)
}

func (fc *fakeClient) Closed() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.closed
}

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	uri := "file:" + filepath.Join(t.TempDir(), "bridge.db") + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	raw, err := dbutil.NewWithDialect(uri, "sqlite3")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	db := database.New(raw)
	if err = db.Upgrade(context.Background()); err != nil {
		t.Fatalf("failed to upgrade database: %v", err)
	}
	return db
}

// newTestConnector returns a connector backed by a fresh database and fake
// networks. Sessions are disconnected when the test ends.
func newTestConnector(t *testing.T) (*KeybaseConnector, *fakeMatrix, *fakeRemote) {
	t.Helper()
	matrix := newFakeMatrix()
	remote := newFakeRemote()
	kc := NewKeybaseConnector(Config{}, newTestDB(t), matrix, remote, zerolog.Nop())
	t.Cleanup(kc.Sessions.DisconnectAll)
	return kc, matrix, remote
}

// bindConvo stores a convo binding directly.
func bindConvo(t *testing.T, kc *KeybaseConnector, roomID id.RoomID, owner id.UserID, convID networkid.PortalID, remoteUser networkid.UserID) {
	t.Helper()
	err := kc.DB.RemoteRoom.InsertConvo(context.Background(), &database.RoomBinding{
		RoomID:         roomID,
		Kind:           database.BindingKindConvo,
		Owner:          owner,
		ConversationID: convID,
		RemoteUser:     remoteUser,
	})
	if err != nil {
		t.Fatalf("InsertConvo: %v", err)
	}
}

func makeInviteEvent(roomID id.RoomID, inviter, invitee id.UserID, isDirect bool) *event.Event {
	stateKey := string(invitee)
	return &event.Event{
		Type:     event.StateMember,
		RoomID:   roomID,
		Sender:   inviter,
		StateKey: &stateKey,
		Content: event.Content{Parsed: &event.MemberEventContent{
			Membership: event.MembershipInvite,
			IsDirect:   isDirect,
		}},
	}
}

func makeTextEvent(roomID id.RoomID, sender id.UserID, body string) *event.Event {
	return &event.Event{
		Type:   event.EventMessage,
		ID:     "$event:example.com",
		RoomID: roomID,
		Sender: sender,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func makeRemoteMessage(convID, senderID, username, text string) *RemoteMessage {
	return &RemoteMessage{
		ConversationID: MakeConversationID(convID),
		SenderID:       MakeUserID(senderID),
		SenderUsername: username,
		Text:           text,
	}
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// lastNotice returns the body of the last message sent to roomID.
func lastNotice(t *testing.T, fm *fakeMatrix, roomID id.RoomID) string {
	t.Helper()
	sent := fm.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].RoomID == roomID {
			if sent[i].Content.MsgType != event.MsgNotice {
				t.Errorf("last message in %s: got msgtype %q, want %q", roomID, sent[i].Content.MsgType, event.MsgNotice)
			}
			return sent[i].Content.Body
		}
	}
	t.Fatalf("no message sent to %s", roomID)
	return ""
}

// assertConvoBijective checks that the conversation index and the convo
// bindings describe the same set of rooms, one room per conversation.
func assertConvoBijective(t *testing.T, kc *KeybaseConnector) {
	t.Helper()
	ctx := context.Background()
	index, err := kc.DB.RemoteRoom.GetAll(ctx)
	if err != nil {
		t.Fatalf("RemoteRoom.GetAll: %v", err)
	}
	bindings, err := kc.DB.RoomBinding.GetAllByKind(ctx, database.BindingKindConvo)
	if err != nil {
		t.Fatalf("RoomBinding.GetAllByKind: %v", err)
	}
	if len(index) != len(bindings) {
		t.Fatalf("conversation index has %d entries, convo bindings %d", len(index), len(bindings))
	}
	byRoom := make(map[id.RoomID]*database.RoomBinding, len(bindings))
	for _, binding := range bindings {
		byRoom[binding.RoomID] = binding
	}
	seen := make(map[networkid.PortalID]bool, len(index))
	for _, rr := range index {
		if seen[rr.ConversationID] {
			t.Errorf("conversation %s is indexed twice", rr.ConversationID)
		}
		seen[rr.ConversationID] = true
		binding, ok := byRoom[rr.RoomID]
		if !ok {
			t.Errorf("indexed room %s has no convo binding", rr.RoomID)
			continue
		}
		if binding.ConversationID != rr.ConversationID {
			t.Errorf("room %s: binding conversation %s, index conversation %s", rr.RoomID, binding.ConversationID, rr.ConversationID)
		}
		if binding.Owner != rr.Owner {
			t.Errorf("room %s: binding owner %s, index owner %s", rr.RoomID, binding.Owner, rr.Owner)
		}
	}
}
