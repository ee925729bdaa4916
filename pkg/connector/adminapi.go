// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"net/http"

	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-keybase/pkg/database"
)

// SessionsResponse is the body of GET /api/sessions.
type SessionsResponse struct {
	Sessions []id.UserID `json:"sessions"`
	Total    int         `json:"total"`
}

// RestoreResponse is the body of POST /api/restore.
type RestoreResponse struct {
	Restored int `json:"restored"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// BridgedRoom is one entry of GET /api/rooms.
type BridgedRoom struct {
	RoomID         id.RoomID          `json:"room_id"`
	Owner          id.UserID          `json:"owner"`
	ConversationID networkid.PortalID `json:"conversation_id"`
	RemoteUser     networkid.UserID   `json:"remote_user"`
}

// RoomsResponse is the body of GET /api/rooms.
type RoomsResponse struct {
	Rooms []BridgedRoom `json:"rooms"`
	Total int           `json:"total"`
}

// HandleListSessions is an HTTP handler for GET /api/sessions. It lists the
// Matrix users that currently have a live Keybase session.
func (kc *KeybaseConnector) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	users := kc.Sessions.Users()
	kc.writeJSON(w, &SessionsResponse{Sessions: users, Total: len(users)})
}

// HandleRestoreSessions is an HTTP handler for POST /api/restore. It logs in
// every stored credential that has no live session.
func (kc *KeybaseConnector) HandleRestoreSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kc.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Session restore requested")

	restored, failed := kc.Sessions.RestoreAll(r.Context())
	kc.writeJSON(w, &RestoreResponse{
		Restored: restored,
		Failed:   failed,
		Total:    kc.Sessions.Count(),
	})
}

// HandleListRooms is an HTTP handler for GET /api/rooms. It lists the rooms
// bound to Keybase conversations.
func (kc *KeybaseConnector) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bindings, err := kc.DB.RoomBinding.GetAllByKind(r.Context(), database.BindingKindConvo)
	if err != nil {
		kc.log.Err(err).Msg("Failed to list convo bindings")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	rooms := make([]BridgedRoom, len(bindings))
	for i, binding := range bindings {
		rooms[i] = BridgedRoom{
			RoomID:         binding.RoomID,
			Owner:          binding.Owner,
			ConversationID: binding.ConversationID,
			RemoteUser:     binding.RemoteUser,
		}
	}
	kc.writeJSON(w, &RoomsResponse{Rooms: rooms, Total: len(rooms)})
}

func (kc *KeybaseConnector) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		kc.log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}
