// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
)

// This file implements the SSE transport, as defined by the 2024-11-05
// version of the MCP specification. It is superseded by the streamable
// transport, but remains in wide use.
//
// The protocol is simple, at least relative to its streamable successor:
//
//  1. Sessions are initiated via a hanging GET request, which streams
//     server->client messages as SSE 'message' events.
//  2. The first event in the SSE stream must be an 'endpoint' event that
//     informs the client of the session endpoint.
//  3. The client POSTs client->server messages to the session endpoint.
//
// Each new GET request hands off its ResponseWriter to an
// [SSEServerTransport], whose connection abstracts the stream as follows:
//   - Write writes a new event to the response, and fails if the GET has
//     exited.
//   - Read reads off a message queue that is pushed to via POST requests.
//   - Close causes the hanging GET to exit.

// An SSEHandler is an http.Handler that serves SSE-based MCP sessions, as
// defined by the [2024-11-05 version] of the MCP specification.
//
// [2024-11-05 version]: https://modelcontextprotocol.io/specification/2024-11-05/basic/transports
type SSEHandler struct {
	getServer    func(request *http.Request) *Server
	opts         SSEOptions
	onConnection func(*ServerSession) // for testing; must not block

	sessions *MemoryServerSessionStore[*SSEServerTransport]
}

// SSEOptions configures the [SSEHandler].
type SSEOptions struct {
	// MaxBodyBytes limits the size of messages POSTed to session endpoints, in
	// bytes. Zero means [DefaultMaxBodyBytes]; a negative value means no
	// limit.
	MaxBodyBytes int64
}

// NewSSEHandler returns a new [SSEHandler] that creates and manages MCP
// sessions created via incoming HTTP requests.
//
// Sessions are created when the client issues a GET request to the server,
// which must accept text/event-stream responses (server-sent events). For
// each such request, a new [SSEServerTransport] is created with a distinct
// messages endpoint, and connected to the server returned by getServer. It is
// up to the user whether getServer returns a distinct [Server] for each new
// request, or reuses an existing server.
//
// The SSEHandler also handles requests to the message endpoints, by
// delegating them to the relevant server transport.
func NewSSEHandler(getServer func(request *http.Request) *Server, opts *SSEOptions) *SSEHandler {
	h := &SSEHandler{
		getServer: getServer,
		sessions:  NewMemoryServerSessionStore[*SSEServerTransport](),
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionid")

	// For POST requests, the message body is a message to send to a session.
	if req.Method == http.MethodPost {
		// Look up the session.
		if sessionID == "" {
			http.Error(w, "sessionid must be provided", http.StatusBadRequest)
			return
		}
		session, err := h.sessions.Get(sessionID)
		if err != nil || session == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		session.ServeHTTP(w, req)
		return
	}

	if req.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}

	// GET requests create a new session, and serve messages over SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID = randText()
	endpoint, err := req.URL.Parse("?sessionid=" + sessionID)
	if err != nil {
		http.Error(w, "internal error: failed to create endpoint", http.StatusInternalServerError)
		return
	}

	transport := NewSSEServerTransport(endpoint.RequestURI(), w)
	transport.MaxBodyBytes = h.opts.MaxBodyBytes

	// The session is terminated when the request exits.
	h.sessions.Set(sessionID, transport)
	defer h.sessions.Delete(sessionID)

	server := h.getServer(req)
	if server == nil {
		http.Error(w, "no server available", http.StatusInternalServerError)
		return
	}
	ss, err := server.Connect(req.Context(), transport, nil)
	if err != nil {
		http.Error(w, "connection failed", http.StatusInternalServerError)
		return
	}
	if h.onConnection != nil {
		h.onConnection(ss)
	}
	defer ss.Close() // close the transport when the GET exits

	select {
	case <-req.Context().Done():
	case <-transport.done:
	}
}

// An SSEServerTransport is a logical SSE session created through a hanging
// GET request.
//
// When connected, its [Connection] writes messages as SSE 'message' events to
// the GET response, and reads messages from POSTs to the session endpoint,
// via [SSEServerTransport.ServeHTTP].
type SSEServerTransport struct {
	endpoint string

	// MaxBodyBytes limits the size of POSTed messages, in bytes. Zero means
	// [DefaultMaxBodyBytes]; a negative value means no limit.
	MaxBodyBytes int64

	incoming chan jsonrpc.Message // queue of incoming messages; never closed

	// Guard pushes to the incoming queue and writes to the response writer:
	// POST requests are arbitrarily concurrent, and we must not write to w
	// after the session GET request exits.
	mu     sync.Mutex
	w      http.ResponseWriter // the hanging response body
	closed bool                // set when the connection is closed
	done   chan struct{}       // closed when the connection is closed
}

// NewSSEServerTransport creates a new SSE transport for the given messages
// endpoint, and hanging GET response.
//
// Use [SSEServerTransport.Connect] to initiate the flow of messages.
//
// The transport is itself an [http.Handler]. It is the caller's
// responsibility to ensure that the resulting transport serves HTTP requests
// on the given session endpoint.
//
// Most callers should instead use an [SSEHandler], which transparently
// handles the delegation to SSEServerTransports.
func NewSSEServerTransport(endpoint string, w http.ResponseWriter) *SSEServerTransport {
	return &SSEServerTransport{
		endpoint: endpoint,
		w:        w,
		incoming: make(chan jsonrpc.Message, 100),
		done:     make(chan struct{}),
	}
}

// ServeHTTP handles POST requests to the transport endpoint.
func (t *SSEServerTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, effectiveMaxBodyBytes(t.MaxBodyBytes)))
	if err != nil {
		if isMaxBytesError(err) {
			writeRequestBodyTooLarge(w)
		} else {
			http.Error(w, "failed to read body", http.StatusBadRequest)
		}
		return
	}
	// We could push the raw data onto a channel, and let it fail to parse
	// when it is read. Failing here is more useful.
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		http.Error(w, "failed to parse body", http.StatusBadRequest)
		return
	}
	// Reject requests that the server cannot possibly handle, so that
	// misdirected messages fail loudly rather than silently stalling.
	if jreq, ok := msg.(*jsonrpc.Request); ok {
		info, ok := serverMethodInfos[jreq.Method]
		if !ok {
			http.Error(w, fmt.Sprintf("method %q is not handled by the server", jreq.Method), http.StatusBadRequest)
			return
		}
		if info.flags&notification == 0 && !jreq.ID.IsValid() {
			http.Error(w, fmt.Sprintf("request for method %q is missing id", jreq.Method), http.StatusBadRequest)
			return
		}
	}
	select {
	case t.incoming <- msg:
		w.WriteHeader(http.StatusAccepted)
	case <-t.done:
		http.Error(w, "session closed", http.StatusBadRequest)
	}
}

// Connect sends the 'endpoint' event to the client.
// See [SSEServerTransport] for details on the connection.
func (t *SSEServerTransport) Connect(context.Context) (Connection, error) {
	t.mu.Lock()
	_, err := writeEvent(t.w, event{
		name: "endpoint",
		data: []byte(t.endpoint),
	})
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SessionID returns the session ID from the transport's message endpoint, or
// the empty string if it has none.
func (t *SSEServerTransport) SessionID() string {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return ""
	}
	return u.Query().Get("sessionid")
}

// Read implements the [Connection] interface.
func (t *SSEServerTransport) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-t.incoming:
		return msg, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// Write implements the [Connection] interface.
func (t *SSEServerTransport) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// It is invalid to write to a ResponseWriter after ServeHTTP has exited,
	// so we must lock around this write and check closed, which is set before
	// the hanging GET exits.
	if t.closed {
		return io.EOF
	}
	_, err = writeEvent(t.w, event{name: "message", data: data})
	return err
}

// Close implements the [Connection] interface.
//
// It must be safe to call Close more than once, as the close may
// asynchronously be initiated by either the server closing its connection, or
// by the hanging GET exiting.
func (t *SSEServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// An SSEClientTransport is a [Transport] that can communicate with an MCP
// endpoint serving the SSE transport defined by the 2024-11-05 version of the
// MCP specification.
type SSEClientTransport struct {
	// Endpoint is the SSE endpoint URL.
	Endpoint string

	// HTTPClient is the client to use for making HTTP requests. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client

	// ModifyRequest, if set, is called to modify each outgoing HTTP request
	// before it is sent, for example to add authentication headers.
	ModifyRequest func(*http.Request)

	// HandshakeTimeout bounds the time between issuing the hanging GET and
	// receiving the 'endpoint' event. Zero means
	// [DefaultSSEHandshakeTimeout]; a negative value means no timeout.
	HandshakeTimeout time.Duration
}

// DefaultSSEHandshakeTimeout is the default bound on the SSE connection
// handshake performed by [SSEClientTransport.Connect].
const DefaultSSEHandshakeTimeout = 30 * time.Second

// Connect connects through the client endpoint, issuing the hanging GET and
// awaiting the 'endpoint' event that carries the session's message endpoint.
func (t *SSEClientTransport) Connect(ctx context.Context) (Connection, error) {
	sseEndpoint, err := url.Parse(t.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	// The stream outlives the Connect call: it is terminated by Close, not by
	// the connect context.
	connCtx, cancel := context.WithCancel(context.Background())

	// The handshake, by contrast, is bounded: if the endpoint event does not
	// arrive in time, the timer cancels the hanging GET.
	timeout := t.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultSSEHandshakeTimeout
	}
	var handshakeTimer *time.Timer
	if timeout > 0 {
		handshakeTimer = time.AfterFunc(timeout, cancel)
	}
	// timedOut reports whether the handshake timer has fired, stopping it
	// otherwise.
	timedOut := func() bool {
		return handshakeTimer != nil && !handshakeTimer.Stop()
	}

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, sseEndpoint.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if t.ModifyRequest != nil {
		t.ModifyRequest(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		if timedOut() {
			return nil, fmt.Errorf("connecting to %s: handshake timed out after %v", sseEndpoint, timeout)
		}
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("connecting to %s: %s", sseEndpoint, resp.Status)
	}

	next, stop := iter.Pull2(scanEvents(resp.Body))

	msgEndpoint, err := func() (*url.URL, error) {
		evt, err, ok := next()
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		if evt.name != "endpoint" {
			return nil, fmt.Errorf("first event is %q, want %q", evt.name, "endpoint")
		}
		return sseEndpoint.Parse(string(evt.data))
	}()
	if err != nil {
		stop()
		resp.Body.Close()
		cancel()
		if timedOut() {
			return nil, fmt.Errorf("connecting to %s: handshake timed out after %v", sseEndpoint, timeout)
		}
		return nil, fmt.Errorf("missing endpoint: %v", err)
	}
	if timedOut() {
		stop()
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("connecting to %s: handshake timed out after %v", sseEndpoint, timeout)
	}

	// From here on, the connection takes ownership of resp.Body.
	s := &sseClientConn{
		client:        client,
		modifyRequest: t.ModifyRequest,
		msgEndpoint:   msgEndpoint,
		incoming:      make(chan jsonrpc.Message, 100),
		body:          resp.Body,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	go func() {
		defer stop()
		defer s.Close() // close the connection when the GET exits

		for {
			evt, err, ok := next()
			if !ok || err != nil {
				return
			}
			msg, err := jsonrpc.DecodeMessage(evt.data)
			if err != nil {
				continue
			}
			select {
			case s.incoming <- msg:
			case <-s.done:
				return
			}
		}
	}()

	return s, nil
}

// An sseClientConn is the client half of the SSE protocol:
//   - Writes are POSTs to the session endpoint.
//   - Reads are SSE 'message' events received on the hanging GET.
//   - Close terminates the GET request.
type sseClientConn struct {
	client        *http.Client
	modifyRequest func(*http.Request)
	msgEndpoint   *url.URL             // session endpoint for POSTs
	incoming      chan jsonrpc.Message // queue of incoming messages

	mu     sync.Mutex
	body   io.ReadCloser      // body of the hanging GET
	cancel context.CancelFunc // cancels the hanging GET
	closed bool               // set when the connection is closed
	done   chan struct{}      // closed when the connection is closed
}

// SessionID returns the session ID from the message endpoint, or the empty
// string if it has none.
func (c *sseClientConn) SessionID() string {
	return c.msgEndpoint.Query().Get("sessionid")
}

func (c *sseClientConn) isDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Read implements the [Connection] interface.
func (c *sseClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, io.EOF
	case msg := <-c.incoming:
		return msg, nil
	}
}

// Write implements the [Connection] interface: it POSTs the message to the
// session endpoint.
func (c *sseClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if c.isDone() {
		return io.EOF
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.msgEndpoint.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.modifyRequest != nil {
		c.modifyRequest(req)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to write: %s", resp.Status)
	}
	return nil
}

// Close implements the [Connection] interface.
func (c *sseClientConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.cancel()
		_ = c.body.Close()
		close(c.done)
	}
	return nil
}
