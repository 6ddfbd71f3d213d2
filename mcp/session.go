// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

// ServerSessionState is the state of a server session, as relevant to
// transports.
//
// All fields are JSON-serializable, so that transports can persist state or
// round-trip it through the client.
type ServerSessionState struct {
	// InitializeParams are the parameters from the initialize request, or nil
	// if the session has not yet been initialized.
	InitializeParams *InitializeParams `json:"initializeParams"`
	// InitializedParams are the parameters from the initialized notification,
	// or nil if it has not yet been received.
	InitializedParams *InitializedParams `json:"initializedParams"`
	// LogLevel is the minimum logging level for the session. The empty string
	// means no level has been set.
	LogLevel LoggingLevel `json:"logLevel"`
}

// A sessionUpdater is a connection that observes changes to server session
// state, pushed by the server after each lifecycle change. Transports use
// these updates to couple connection behavior to the session: for example,
// negotiated protocol version affects framing, and stateless HTTP transports
// round-trip the entire state through the client.
type sessionUpdater interface {
	sessionUpdated(ServerSessionState)
}
