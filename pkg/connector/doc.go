// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements the core of a Matrix-Keybase bridge: room
// bindings, per-user Keybase sessions and message routing.
//
// Every Matrix room the bridge knows about has exactly one binding. An admin
// binding is created when a Matrix user invites the bridge bot to a direct
// chat; the user then sends !login with their Keybase username and paper key
// in that room. A convo binding is created the first time a Keybase
// conversation receives a message, together with a private room in which the
// remote user's ghost invites the bridging user.
//
// # Core Types
//
// [KeybaseConnector] holds the bridge state and implements the handlers
// invoked for Matrix invites, Matrix messages and Keybase messages.
//
// [SessionRegistry] owns the live Keybase sessions. Each session delivers
// its messages on a channel that is consumed by one routing goroutine, so
// messages of one user are relayed in order.
//
// [MatrixAPI], [RemoteNetwork] and [RemoteClient] describe the two networks.
// The matrix and keybase packages provide the production implementations.
//
// # Echo Prevention
//
// Events sent by the bridge bot or by ghosts are ignored on the Matrix side,
// and the Keybase client drops messages authored by the logged-in account,
// which are the echoes of messages relayed from Matrix.
//
// # Sub-packages
//
//   - matrixfmt converts Matrix HTML to Keybase markdown.
//   - keybasefmt converts Keybase markdown to Matrix HTML.
package connector
