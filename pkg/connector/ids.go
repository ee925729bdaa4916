// Copyright 2024-2026 Aiku AI

package connector

import (
	"maunium.net/go/mautrix/bridgev2/networkid"
)

// MakeConversationID creates a networkid.PortalID from a Keybase conversation ID.
func MakeConversationID(convID string) networkid.PortalID {
	return networkid.PortalID(convID)
}

// ParseConversationID extracts the Keybase conversation ID from a PortalID.
func ParseConversationID(portalID networkid.PortalID) string {
	return string(portalID)
}

// MakeUserID creates a networkid.UserID from a Keybase UID.
func MakeUserID(uid string) networkid.UserID {
	return networkid.UserID(uid)
}

// ParseUserID extracts the Keybase UID from a networkid.UserID.
func ParseUserID(userID networkid.UserID) string {
	return string(userID)
}
