// Copyright 2024-2026 Aiku AI

package keybase

import (
	"strings"

	"github.com/keybase/go-keybase-chat-bot/kbchat/types/chat1"

	"github.com/aiku/mautrix-keybase/pkg/connector"
)

const (
	typeNameText    = "text"
	membersTypeTeam = "team"
)

// isDirectChannel reports whether a channel is a 1:1 conversation. Direct
// chats are implicit teams named "a,b"; a name without a comma is the
// account talking to itself.
func isDirectChannel(ch chat1.ChatChannel) bool {
	if ch.MembersType == membersTypeTeam {
		return false
	}
	// Readers of an implicit team follow a '#'.
	writers, _, _ := strings.Cut(ch.Name, "#")
	return strings.Count(writers, ",") <= 1
}

// convertMessage turns a received message into a RemoteMessage. It returns
// nil for messages the bridge doesn't relay: non-text messages, team and
// group chats, and messages sent by the account itself.
func convertMessage(msg chat1.MsgSummary, self string) *connector.RemoteMessage {
	if msg.Content.TypeName != typeNameText || msg.Content.Text == nil {
		return nil
	}
	if !isDirectChannel(msg.Channel) {
		return nil
	}
	if strings.EqualFold(msg.Sender.Username, self) {
		return nil
	}
	return &connector.RemoteMessage{
		ConversationID:   connector.MakeConversationID(string(msg.ConvID)),
		SenderID:         connector.MakeUserID(string(msg.Sender.Uid)),
		SenderUsername:   msg.Sender.Username,
		SenderDeviceName: msg.Sender.DeviceName,
		SenderDeviceID:   string(msg.Sender.DeviceID),
		Text:             msg.Content.Text.Body,
	}
}
