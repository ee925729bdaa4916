// Copyright 2024-2026 Aiku AI

package connector

import "errors"

var (
	// ErrAuthentication means Keybase rejected the username or paper key.
	ErrAuthentication = errors.New("authentication failed")
	// ErrSend means a message could not be delivered to Keybase.
	ErrSend = errors.New("failed to send message")
	// ErrRoomCreation means a portal room could not be created on first contact.
	ErrRoomCreation = errors.New("failed to create room")
	// ErrUnrecognizedCommand is returned for admin room messages that aren't a known command.
	ErrUnrecognizedCommand = errors.New("command not understood")
	// ErrMalformedEvent means an inbound event is missing required fields.
	ErrMalformedEvent = errors.New("malformed event")
)
