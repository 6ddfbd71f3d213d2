// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc2

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ID is a Request identifier.
//
// Only one of the values may be set: an ID is either a string, an int64, or
// unset (for notifications). Construct IDs with [StringID] or [Int64ID].
type ID struct {
	value any
}

// Int64ID returns an ID for the given int64 value.
func Int64ID(i int64) ID { return ID{value: i} }

// StringID returns an ID for the given string value.
func StringID(s string) ID { return ID{value: s} }

// IsValid reports whether the ID is a valid identifier.
// The default value for ID will return false.
func (id ID) IsValid() bool { return id.value != nil }

// Raw returns the underlying value of the ID, which is an int64, a string, or
// nil if the ID is unset.
func (id ID) Raw() any { return id.value }

// Message is the interface to all JSON-RPC message types.
// They share no common functionality, but are a closed set of concrete types
// that are allowed to implement this interface: [*Request] and [*Response].
type Message interface {
	// marshal builds the wire form from the API form.
	// It is private, making the set of Message implementations closed.
	marshal(to *wireCombined)
}

// Request is a Message sent to a peer to request behavior.
// If it has an ID it is a call, otherwise it is a notification.
type Request struct {
	// ID of this request, used to tie the Response back to the request.
	// This will be invalid for notifications.
	ID ID
	// Method is a string containing the method name to invoke.
	Method string
	// Params is either a struct or an array with the parameters of the method.
	Params json.RawMessage
	// Extra is not part of the wire format: transports may use it to attach
	// per-request metadata, such as HTTP headers or verified token claims.
	Extra any
}

// NewNotification constructs a new notification message for the supplied
// method and parameters.
func NewNotification(method string, params any) (*Request, error) {
	p, merr := marshalToRaw(params)
	return &Request{Method: method, Params: p}, merr
}

// NewCall constructs a new call message for the supplied ID, method and
// parameters.
func NewCall(id ID, method string, params any) (*Request, error) {
	p, merr := marshalToRaw(params)
	return &Request{ID: id, Method: method, Params: p}, merr
}

// IsCall reports whether the request has an ID, and therefore expects a
// response.
func (msg *Request) IsCall() bool { return msg.ID.IsValid() }

func (msg *Request) marshal(to *wireCombined) {
	to.ID = msg.ID.value
	to.Method = msg.Method
	to.Params = msg.Params
}

// Response is a Message used as a reply to a call Request.
// It will have the same ID as the call it is a response to.
type Response struct {
	// ID of the request this is a response to.
	ID ID
	// Result is the content of the response.
	Result json.RawMessage
	// Error is set only if the call failed.
	Error error
}

// NewResponse constructs a new Response message that is a reply to the
// supplied request ID. If err is set, result may be ignored.
func NewResponse(id ID, result any, rerr error) (*Response, error) {
	r, merr := marshalToRaw(result)
	return &Response{ID: id, Result: r, Error: rerr}, merr
}

func (msg *Response) marshal(to *wireCombined) {
	to.ID = msg.ID.value
	to.Error = toWireError(msg.Error)
	to.Result = msg.Result
}

// toWireError converts an error to the wire form, preserving the code of a
// wrapped *WireError.
func toWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	if err, ok := err.(*WireError); ok {
		// Already in wire form.
		return err
	}
	result := &WireError{Message: err.Error()}
	var wrapped *WireError
	if errors.As(err, &wrapped) {
		// If we wrapped a wire error, keep the code from the wrapped error.
		result.Code = wrapped.Code
	}
	return result
}

// EncodeMessage returns the wire form of the message.
func EncodeMessage(msg Message) ([]byte, error) {
	wire := wireCombined{VersionTag: wireVersion}
	msg.marshal(&wire)
	data, err := json.Marshal(&wire)
	if err != nil {
		return data, fmt.Errorf("marshaling jsonrpc message: %w", err)
	}
	return data, nil
}

// EncodeIndent is like [EncodeMessage], but indents the encoding with the
// given prefix and indentation, as in [json.MarshalIndent].
func EncodeIndent(msg Message, prefix, indent string) ([]byte, error) {
	wire := wireCombined{VersionTag: wireVersion}
	msg.marshal(&wire)
	data, err := json.MarshalIndent(&wire, prefix, indent)
	if err != nil {
		return data, fmt.Errorf("marshaling jsonrpc message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses the wire form of a single message.
func DecodeMessage(data []byte) (Message, error) {
	msg := wireCombined{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling jsonrpc message: %w", err)
	}
	if msg.VersionTag != wireVersion {
		return nil, fmt.Errorf("invalid message version tag %s expected %s", msg.VersionTag, wireVersion)
	}
	id := ID{}
	switch v := msg.ID.(type) {
	case nil:
	case float64:
		// The spec does not allow fractional parts, so coerce to int64.
		id = Int64ID(int64(v))
	case int64:
		id = Int64ID(v)
	case string:
		id = StringID(v)
	default:
		return nil, fmt.Errorf("invalid message id type <%T>%v", v, v)
	}
	if msg.Method != "" {
		// Has a method, must be a request.
		if msg.Result != nil || msg.Error != nil {
			return nil, fmt.Errorf("request with results or errors: %w", ErrInvalidRequest)
		}
		return &Request{ID: id, Method: msg.Method, Params: msg.Params}, nil
	}
	// No method: should be a response.
	if !id.IsValid() {
		return nil, fmt.Errorf("response missing an id: %w", ErrInvalidRequest)
	}
	resp := &Response{ID: id, Result: msg.Result}
	// Check the error pointer for nil before assigning, to avoid a typed nil.
	if msg.Error != nil {
		resp.Error = msg.Error
	}
	return resp, nil
}

func marshalToRaw(obj any) (json.RawMessage, error) {
	if obj == nil {
		return nil, nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
