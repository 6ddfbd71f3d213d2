// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc exposes part of the internal JSON-RPC v2 implementation
// for use by custom transport authors.
package jsonrpc

import (
	"github.com/modelcontextprotocol/go-runtime/internal/jsonrpc2"
)

// Standard JSON-RPC 2.0 error codes, along with the implementation-defined
// server error codes used by this module.
const (
	// CodeParseError is used when invalid JSON was received by the server.
	CodeParseError = -32700
	// CodeInvalidRequest is used when the JSON sent is not a valid Request
	// object.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound is returned when the method does not exist or is not
	// available.
	CodeMethodNotFound = -32601
	// CodeInvalidParams is returned when method parameters were invalid.
	CodeInvalidParams = -32602
	// CodeInternalError indicates a failure to process a call correctly.
	CodeInternalError = -32603
	// CodeServerOverloaded is returned when a message was refused because the
	// server is temporarily unable to accept new work.
	CodeServerOverloaded = -32000
	// CodeUnknownError is used for all non coded errors, including responses
	// to requests for unknown or expired sessions.
	CodeUnknownError = -32001
)

type (
	// ID is a JSON-RPC request ID.
	ID = jsonrpc2.ID
	// Message is a JSON-RPC message: either a [*Request] or a [*Response].
	Message = jsonrpc2.Message
	// Request is a JSON-RPC request.
	Request = jsonrpc2.Request
	// Response is a JSON-RPC response.
	Response = jsonrpc2.Response
	// Error is a JSON-RPC error.
	Error = jsonrpc2.WireError
)

// EncodeMessage returns the wire format encoding of the message.
func EncodeMessage(msg Message) ([]byte, error) {
	return jsonrpc2.EncodeMessage(msg)
}

// DecodeMessage decodes a message from its wire format.
func DecodeMessage(data []byte) (Message, error) {
	return jsonrpc2.DecodeMessage(data)
}
