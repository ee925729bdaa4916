// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/aiku/mautrix-keybase/pkg/connector/keybasefmt"
	"github.com/aiku/mautrix-keybase/pkg/connector/matrixfmt"
	"maunium.net/go/mautrix/event"
)

// keybasefmtParse converts Keybase markdown to Matrix HTML message content.
func keybasefmtParse(text string) *keybasefmt.ParsedMessage {
	return keybasefmt.Parse(text)
}

// matrixfmtParse converts Matrix message content to Keybase markdown.
func matrixfmtParse(content *event.MessageEventContent) string {
	return matrixfmt.Parse(content)
}
