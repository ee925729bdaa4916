// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

const (
	commandLogin  = "!login"
	commandHelp   = "!help"
	commandStatus = "!status"
)

const (
	replyConnected     = "Connected."
	replyNotUnderstood = "Command not understood"
	replyLoginUsage    = "Usage: " + commandLogin + " <keybase username> <paper key>"
	replyNotLoggedIn   = "You're not logged in to Keybase. Use " + commandLogin + " <keybase username> <paper key>."
	replyWelcome       = "This is your Keybase bridge management room. Send " + commandLogin + " <keybase username> <paper key> to connect your Keybase account."
)

const replyHelp = "Available commands:\n" +
	commandLogin + " <keybase username> <paper key> - connect your Keybase account\n" +
	commandStatus + " - show whether you're connected\n" +
	commandHelp + " - show this message"

// adminCommand is a parsed admin room message.
type adminCommand struct {
	Name string
	// Args holds the whitespace-separated arguments after the command name.
	Args []string
}

// parseAdminCommand splits text into a command and its arguments. Unknown
// commands return ErrUnrecognizedCommand.
func parseAdminCommand(text string) (*adminCommand, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, ErrUnrecognizedCommand
	}
	switch fields[0] {
	case commandLogin, commandHelp, commandStatus:
		return &adminCommand{Name: fields[0], Args: fields[1:]}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedCommand, fields[0])
	}
}

// loginArgs extracts the username and paper key of a !login command. The
// paper key is the rest of the line joined with single spaces.
func (cmd *adminCommand) loginArgs() (username, paperKey string, ok bool) {
	if len(cmd.Args) < 2 {
		return "", "", false
	}
	return cmd.Args[0], strings.Join(cmd.Args[1:], " "), true
}

// HandleCommand runs an admin command sent by the owner of an admin room
// and replies with a notice.
func (kc *KeybaseConnector) HandleCommand(ctx context.Context, roomID id.RoomID, sender id.UserID, text string) {
	log := zerolog.Ctx(ctx)
	cmd, err := parseAdminCommand(text)
	if err != nil {
		log.Debug().Err(err).Msg("Unrecognized admin command")
		kc.sendNotice(ctx, roomID, "", replyNotUnderstood)
		return
	}

	var reply string
	switch cmd.Name {
	case commandLogin:
		reply = kc.commandLogin(ctx, sender, cmd)
	case commandStatus:
		reply = kc.commandStatus(sender)
	case commandHelp:
		reply = replyHelp
	}
	kc.sendNotice(ctx, roomID, "", reply)
}

func (kc *KeybaseConnector) commandLogin(ctx context.Context, sender id.UserID, cmd *adminCommand) string {
	username, paperKey, ok := cmd.loginArgs()
	if !ok {
		return replyLoginUsage
	}
	_, err := kc.Sessions.Login(ctx, sender, username, paperKey)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("keybase_username", username).
			Msg("Keybase login failed")
		return "Failed to log in: " + err.Error()
	}
	return replyConnected
}

func (kc *KeybaseConnector) commandStatus(sender id.UserID) string {
	sess := kc.Sessions.Get(sender)
	if sess == nil {
		return replyNotLoggedIn
	}
	return fmt.Sprintf("Connected to Keybase as %s.", sess.Client.Username())
}
