// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const testAdminRoom = "!admin:example.com"

func TestParseAdminCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		wantName string
		wantArgs int
		wantErr  bool
	}{
		{"!login alice key", commandLogin, 2, false},
		{"  !login   alice   one two three ", commandLogin, 4, false},
		{"!login", commandLogin, 0, false},
		{"!help", commandHelp, 0, false},
		{"!status", commandStatus, 0, false},
		{"login alice key", "", 0, true},
		{"!LOGIN alice key", "", 0, true},
		{"hello", "", 0, true},
		{"", "", 0, true},
		{"   ", "", 0, true},
	}
	for _, tt := range tests {
		cmd, err := parseAdminCommand(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnrecognizedCommand) {
				t.Errorf("parseAdminCommand(%q): got err %v, want ErrUnrecognizedCommand", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseAdminCommand(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if cmd.Name != tt.wantName {
			t.Errorf("parseAdminCommand(%q).Name: got %q, want %q", tt.in, cmd.Name, tt.wantName)
		}
		if len(cmd.Args) != tt.wantArgs {
			t.Errorf("parseAdminCommand(%q).Args: got %d, want %d", tt.in, len(cmd.Args), tt.wantArgs)
		}
	}
}

func TestLoginArgs(t *testing.T) {
	t.Parallel()
	cmd, err := parseAdminCommand("!login alice  paper   key of\talice")
	if err != nil {
		t.Fatalf("parseAdminCommand: %v", err)
	}
	username, paperKey, ok := cmd.loginArgs()
	if !ok {
		t.Fatal("loginArgs should succeed")
	}
	if username != "alice" {
		t.Errorf("username: got %q, want %q", username, "alice")
	}
	if paperKey != "paper key of alice" {
		t.Errorf("paperKey: got %q, want %q", paperKey, "paper key of alice")
	}

	cmd, _ = parseAdminCommand("!login alice")
	if _, _, ok = cmd.loginArgs(); ok {
		t.Error("loginArgs without paper key should fail")
	}
}

func TestHandleCommand_LoginSuccess(t *testing.T) {
	kc, matrix, remote := newTestConnector(t)
	ctx := context.Background()

	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!login alice paper key of alice")

	if got := lastNotice(t, matrix, testAdminRoom); got != replyConnected {
		t.Errorf("reply: got %q, want %q", got, replyConnected)
	}
	if kc.Sessions.Get(testAlice) == nil {
		t.Fatal("alice should have a session")
	}
	cred, err := kc.DB.Credential.Get(ctx, testAlice)
	if err != nil {
		t.Fatalf("Credential.Get: %v", err)
	}
	if cred == nil || cred.RemoteUsername != "alice" || cred.RemoteSecret != "paper key of alice" {
		t.Errorf("stored credential: got %+v", cred)
	}
	if remote.AuthCalls() != 1 {
		t.Errorf("auth calls: got %d, want 1", remote.AuthCalls())
	}
}

func TestHandleCommand_LoginFailure(t *testing.T) {
	kc, matrix, _ := newTestConnector(t)
	ctx := context.Background()

	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!login alice wrong key")

	got := lastNotice(t, matrix, testAdminRoom)
	if !strings.HasPrefix(got, "Failed to log in: ") {
		t.Errorf("reply: got %q, want failure prefix", got)
	}
	if !strings.Contains(got, ErrAuthentication.Error()) {
		t.Errorf("reply should contain the failure reason, got %q", got)
	}
	if kc.Sessions.Get(testAlice) != nil {
		t.Error("failed login should not create a session")
	}
	cred, err := kc.DB.Credential.Get(ctx, testAlice)
	if err != nil {
		t.Fatalf("Credential.Get: %v", err)
	}
	if cred != nil {
		t.Errorf("failed login should not store credentials, got %+v", cred)
	}
}

func TestHandleCommand_LoginIsIdempotent(t *testing.T) {
	kc, matrix, remote := newTestConnector(t)
	ctx := context.Background()

	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!login alice paper key of alice")
	first := kc.Sessions.Get(testAlice)
	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!login alice paper key of alice")

	if got := lastNotice(t, matrix, testAdminRoom); got != replyConnected {
		t.Errorf("second reply: got %q, want %q", got, replyConnected)
	}
	if kc.Sessions.Get(testAlice) != first {
		t.Error("second login should keep the existing session")
	}
	if remote.AuthCalls() != 1 {
		t.Errorf("auth calls: got %d, want 1", remote.AuthCalls())
	}
	if kc.Sessions.Count() != 1 {
		t.Errorf("session count: got %d, want 1", kc.Sessions.Count())
	}
}

func TestHandleCommand_SecondLoginOverwritesCredential(t *testing.T) {
	kc, matrix, remote := newTestConnector(t)
	ctx := context.Background()

	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!login alice paper key of alice")
	first := kc.Sessions.Get(testAlice)
	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!login alice2 other key")

	if got := lastNotice(t, matrix, testAdminRoom); got != replyConnected {
		t.Errorf("second reply: got %q, want %q", got, replyConnected)
	}
	if kc.Sessions.Get(testAlice) != first {
		t.Error("second login should keep the existing session")
	}
	if remote.AuthCalls() != 1 {
		t.Errorf("auth calls: got %d, want 1", remote.AuthCalls())
	}
	cred, err := kc.DB.Credential.Get(ctx, testAlice)
	if err != nil {
		t.Fatalf("Credential.Get: %v", err)
	}
	if cred == nil {
		t.Fatal("credential should be stored")
	}
	if cred.RemoteUsername != "alice2" || cred.RemoteSecret != "other key" {
		t.Errorf("stored credential: got (%q, %q), want (%q, %q)",
			cred.RemoteUsername, cred.RemoteSecret, "alice2", "other key")
	}
	all, err := kc.DB.Credential.GetAll(ctx)
	if err != nil {
		t.Fatalf("Credential.GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("credential rows: got %d, want 1", len(all))
	}
}

func TestHandleCommand_LoginUsage(t *testing.T) {
	kc, matrix, remote := newTestConnector(t)

	kc.HandleCommand(context.Background(), testAdminRoom, testAlice, "!login alice")

	if got := lastNotice(t, matrix, testAdminRoom); got != replyLoginUsage {
		t.Errorf("reply: got %q, want %q", got, replyLoginUsage)
	}
	if remote.AuthCalls() != 0 {
		t.Errorf("auth calls: got %d, want 0", remote.AuthCalls())
	}
}

func TestHandleCommand_NotUnderstood(t *testing.T) {
	kc, matrix, _ := newTestConnector(t)

	kc.HandleCommand(context.Background(), testAdminRoom, testAlice, "hello bridge")

	if got := lastNotice(t, matrix, testAdminRoom); got != replyNotUnderstood {
		t.Errorf("reply: got %q, want %q", got, replyNotUnderstood)
	}
	sent := matrix.Sent()
	if sent[len(sent)-1].Ghost != "" {
		t.Errorf("reply should come from the bot, got ghost %q", sent[len(sent)-1].Ghost)
	}
}

func TestHandleCommand_Status(t *testing.T) {
	kc, matrix, _ := newTestConnector(t)
	ctx := context.Background()

	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!status")
	if got := lastNotice(t, matrix, testAdminRoom); got != replyNotLoggedIn {
		t.Errorf("status before login: got %q, want %q", got, replyNotLoggedIn)
	}

	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!login alice paper key of alice")
	kc.HandleCommand(ctx, testAdminRoom, testAlice, "!status")
	if got := lastNotice(t, matrix, testAdminRoom); got != "Connected to Keybase as alice." {
		t.Errorf("status after login: got %q", got)
	}
}

func TestHandleCommand_Help(t *testing.T) {
	kc, matrix, _ := newTestConnector(t)

	kc.HandleCommand(context.Background(), testAdminRoom, testAlice, "!help")

	got := lastNotice(t, matrix, testAdminRoom)
	for _, cmd := range []string{commandLogin, commandStatus, commandHelp} {
		if !strings.Contains(got, cmd) {
			t.Errorf("help should mention %s, got %q", cmd, got)
		}
	}
}
