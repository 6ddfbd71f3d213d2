// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-runtime/auth"
	internaljson "github.com/modelcontextprotocol/go-runtime/internal/json"
	"github.com/modelcontextprotocol/go-runtime/internal/jsonrpc2"
	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
)

const (
	// sessionIDHeader carries the logical session ID of the streamable HTTP
	// transport.
	sessionIDHeader = "Mcp-Session-Id"
	// protocolVersionHeader carries the negotiated protocol version on
	// requests made after initialization.
	protocolVersionHeader = "MCP-Protocol-Version"
)

// ErrSessionMissing is returned for requests to a session that the server no
// longer knows about, either because it was terminated or because it was lost
// across a server restart.
var ErrSessionMissing = errors.New("session not found")

// codeUnknownSession is the JSON-RPC error code carried on HTTP responses for
// requests targeting an unknown or expired session.
const codeUnknownSession = jsonrpc.CodeUnknownError

// defaultIdleTimeout is how long a session with no in-flight HTTP request may
// live before the handler's sweeper closes it, when
// [StreamableHTTPOptions.IdleTimeout] is unset.
const defaultIdleTimeout = 10 * time.Minute

// idleSweepInterval is how often the handler checks for idle sessions. It is
// a variable for testing.
var idleSweepInterval = 5 * time.Second

// A StreamableHTTPHandler is an http.Handler that serves streamable MCP
// sessions, as defined by the [MCP spec].
//
// [MCP spec]: https://modelcontextprotocol.io/specification/2025-06-18/basic/transports#streamable-http
type StreamableHTTPHandler struct {
	getServer func(*http.Request) *Server
	opts      StreamableHTTPOptions
	logger    *slog.Logger

	// sessionKey seals stateless session envelopes; see sealEnvelope.
	sessionKey []byte

	stopSweep chan struct{}
	stopOnce  sync.Once

	mu       sync.Mutex
	sessions map[string]*StreamableServerTransport // keyed by session ID
}

// StreamableHTTPOptions configures the [StreamableHTTPHandler].
type StreamableHTTPOptions struct {
	// GetSessionID provides the session IDs for new sessions. If nil, IDs are
	// generated with 128 bits of cryptographic randomness.
	GetSessionID func() string

	// Stateless configures the handler to create an ephemeral session for
	// each request, rather than persisting sessions across requests. Server
	// features that require a long-lived session, such as notifications and
	// server-initiated requests, do not work in this mode.
	//
	// Without a SessionStore, the session ID itself carries the session: it
	// is an encrypted envelope of the client identity, sealed with SessionKey.
	Stateless bool

	// SessionStore persists session state, so that sessions survive a loss of
	// the in-memory session (for example across a server restart, or in
	// Stateless mode). If nil, sessions exist only in memory.
	SessionStore ServerSessionStateStore

	// MaxBodyBytes limits the size of request bodies, in bytes. Zero means
	// [DefaultMaxBodyBytes]; a negative value means no limit.
	MaxBodyBytes int64

	// IdleTimeout is how long a session with no in-flight HTTP request is
	// retained before the handler closes it. Zero means a default of 10
	// minutes; a negative value retains idle sessions indefinitely.
	//
	// IdleTimeout has no effect in Stateless mode.
	IdleTimeout time.Duration

	// MaxIdleSessionCount bounds the number of idle sessions the handler
	// retains, closing the longest-idle sessions first when the bound is
	// exceeded. Zero means no bound.
	MaxIdleSessionCount int

	// SessionKey is the AES key sealing session IDs in Stateless mode, and
	// must be 16, 24, or 32 bytes long. If nil, a random 32-byte key is
	// generated for the lifetime of the handler; stateless sessions then do
	// not survive a process restart, and are not shared across replicas.
	SessionKey []byte

	// Logger is used for handler diagnostics. If nil, [slog.Default] is used.
	Logger *slog.Logger

	// OnTransportDeletion, if set, is called with the session ID of each
	// session removed by the handler. For testing.
	OnTransportDeletion func(sessionID string)
}

// NewStreamableHTTPHandler returns a new [StreamableHTTPHandler].
//
// The getServer function is used to create or look up servers for new
// sessions. It is OK for getServer to return the same server multiple times.
// If getServer returns nil, a 500 Internal Server Error is served.
//
// NewStreamableHTTPHandler panics if opts.SessionKey has an invalid length.
func NewStreamableHTTPHandler(getServer func(*http.Request) *Server, opts *StreamableHTTPOptions) *StreamableHTTPHandler {
	h := &StreamableHTTPHandler{
		getServer: getServer,
		sessions:  make(map[string]*StreamableServerTransport),
		stopSweep: make(chan struct{}),
	}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.GetSessionID == nil {
		h.opts.GetSessionID = randText
	}
	h.logger = h.opts.Logger
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.opts.Stateless {
		h.sessionKey = h.opts.SessionKey
		if h.sessionKey == nil {
			h.sessionKey = make([]byte, 32)
			rand.Read(h.sessionKey)
		}
		if l := len(h.sessionKey); l != 16 && l != 24 && l != 32 {
			panic(fmt.Sprintf("mcp: SessionKey must be 16, 24, or 32 bytes; got %d", l))
		}
	} else if h.opts.IdleTimeout >= 0 || h.opts.MaxIdleSessionCount > 0 {
		go h.sweepLoop()
	}
	return h
}

// Close closes all ongoing sessions and stops the handler's background
// sweeper. The handler must not serve requests after Close.
func (h *StreamableHTTPHandler) Close() error {
	h.closeAll()
	return nil
}

// closeAll closes all ongoing sessions.
func (h *StreamableHTTPHandler) closeAll() {
	h.stopOnce.Do(func() { close(h.stopSweep) })
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = nil
	h.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// sweepLoop periodically evicts idle sessions; see
// [StreamableHTTPOptions.IdleTimeout] and
// [StreamableHTTPOptions.MaxIdleSessionCount].
//
// If a sweep panics, the handler disposes of all its sessions rather than
// letting them accumulate unswept.
func (h *StreamableHTTPHandler) sweepLoop() {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("mcp: idle session sweep panicked; closing all sessions", "panic", r)
			h.closeAll()
		}
	}()
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopSweep:
			return
		case <-ticker.C:
			h.sweepIdleSessions()
		}
	}
}

// sweepIdleSessions performs a single sweep: sessions idle for longer than
// the timeout are closed, and if more than MaxIdleSessionCount idle sessions
// remain, the longest-idle among them are closed down to the bound.
func (h *StreamableHTTPHandler) sweepIdleSessions() {
	timeout := h.opts.IdleTimeout
	if timeout == 0 {
		timeout = defaultIdleTimeout
	}

	h.mu.Lock()
	snapshot := maps.Clone(h.sessions)
	h.mu.Unlock()

	type idleSession struct {
		id   string
		t    *StreamableServerTransport
		last time.Time
	}
	var idle []idleSession
	now := time.Now()
	for id, t := range snapshot {
		last, ok := t.idleSince()
		if !ok {
			continue // has an in-flight request
		}
		if timeout > 0 && now.Sub(last) > timeout {
			h.removeSession(id, t)
			continue
		}
		idle = append(idle, idleSession{id, t, last})
	}

	if limit := h.opts.MaxIdleSessionCount; limit > 0 && len(idle) > limit {
		h.logger.Error("mcp: idle session count exceeds limit; evicting longest-idle sessions",
			"count", len(idle), "limit", limit)
		slices.SortFunc(idle, func(a, b idleSession) int {
			return a.last.Compare(b.last)
		})
		for _, s := range idle[:len(idle)-limit] {
			h.removeSession(s.id, s.t)
		}
	}
}

// removeSession removes the session from the handler and closes it.
func (h *StreamableHTTPHandler) removeSession(id string, t *StreamableServerTransport) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	t.Close()
	if f := h.opts.OnTransportDeletion; f != nil {
		f(id)
	}
}

// writeJSONRPCError writes an HTTP error response whose body is a bare
// JSON-RPC error object, so that clients can distinguish protocol-level
// failures without parsing prose.
func writeJSONRPCError(w http.ResponseWriter, status int, code int64, message string) {
	body, err := json.Marshal(map[string]any{
		"error": &jsonrpc.Error{Code: code, Message: message},
	})
	if err != nil {
		http.Error(w, message, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// requestUserID returns the authenticated user identity of the request: the
// subject of its verified bearer token when the handler is guarded by
// [auth.RequireBearerToken], or else the empty string.
func requestUserID(req *http.Request) string {
	if info := auth.TokenInfoFromContext(req.Context()); info != nil {
		return info.Subject
	}
	return ""
}

func (h *StreamableHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Allow multiple 'Accept' headers.
	// https://developer.mozilla.org/en-US/docs/Web/HTTP/Reference/Headers/Accept#syntax
	accept := strings.Split(strings.Join(req.Header.Values("Accept"), ","), ",")
	var jsonOK, streamOK bool
	for _, c := range accept {
		switch strings.TrimSpace(c) {
		case "application/json":
			jsonOK = true
		case "text/event-stream":
			streamOK = true
		}
	}

	switch req.Method {
	case http.MethodPost:
		if !jsonOK || !streamOK {
			writeJSONRPCError(w, http.StatusNotAcceptable, jsonrpc.CodeInvalidRequest,
				"Accept must contain both 'application/json' and 'text/event-stream'")
			return
		}
	case http.MethodGet:
		if !streamOK {
			writeJSONRPCError(w, http.StatusNotAcceptable, jsonrpc.CodeInvalidRequest,
				"Accept must contain 'text/event-stream' for GET requests")
			return
		}
	case http.MethodDelete:
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}

	// Read and parse POST bodies before any session accounting, so that
	// malformed or oversized requests are rejected without side effects.
	var msgs []jsonrpc.Message
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, effectiveMaxBodyBytes(h.opts.MaxBodyBytes)))
		if err != nil {
			if isMaxBytesError(err) {
				writeRequestBodyTooLarge(w)
			} else {
				http.Error(w, "failed to read body", http.StatusBadRequest)
			}
			return
		}
		if len(body) == 0 {
			http.Error(w, "POST requires a non-empty body", http.StatusBadRequest)
			return
		}
		msgs, _, err = readBatch(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("malformed payload: %v", err), http.StatusBadRequest)
			return
		}
	}

	if h.opts.Stateless {
		h.serveStateless(w, req, msgs)
		return
	}

	var transport *StreamableServerTransport
	if id := req.Header.Get(sessionIDHeader); id != "" {
		h.mu.Lock()
		transport = h.sessions[id]
		h.mu.Unlock()
		if transport == nil && req.Method != http.MethodDelete {
			if store := h.opts.SessionStore; store != nil {
				// The session may have been lost across a restart: try to
				// rehydrate it from the store.
				state, err := store.Load(req.Context(), id)
				if err != nil {
					http.Error(w, "failed to load session", http.StatusInternalServerError)
					return
				}
				if state != nil {
					transport = h.connectSession(w, req, id, state)
					if transport == nil {
						return // connectSession wrote the error
					}
				}
			}
		}
		if transport == nil {
			writeJSONRPCError(w, http.StatusNotFound, codeUnknownSession, "session not found")
			return
		}
		// A session is bound to the authenticated user that created it.
		if transport.userID != requestUserID(req) {
			http.Error(w, "session belongs to another user", http.StatusForbidden)
			return
		}
	}

	if req.Method == http.MethodDelete {
		if transport == nil {
			// The session ID header was not set; otherwise the lookup above
			// would have 404ed.
			http.Error(w, "DELETE requires an Mcp-Session-Id header", http.StatusBadRequest)
			return
		}
		h.removeSession(transport.SessionID(), transport)
		if store := h.opts.SessionStore; store != nil {
			_ = store.Delete(req.Context(), transport.SessionID())
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if transport == nil {
		transport = h.connectSession(w, req, h.opts.GetSessionID(), nil)
		if transport == nil {
			return
		}
	}

	// Count the in-flight request, so that the idle sweeper leaves the
	// session alone while it is being served.
	transport.acquire()
	defer transport.release()

	switch req.Method {
	case http.MethodGet:
		transport.serveGET(w, req)
	case http.MethodPost:
		transport.servePOST(w, req, msgs)
	}
}

// connectSession creates a transport with the given session ID, connects the
// server to it, and registers the session with the handler. If connection
// fails, it writes an HTTP error and returns nil.
func (h *StreamableHTTPHandler) connectSession(w http.ResponseWriter, req *http.Request, id string, state *ServerSessionState) *StreamableServerTransport {
	server := h.getServer(req)
	if server == nil {
		http.Error(w, "no server available", http.StatusInternalServerError)
		return nil
	}
	transport := NewStreamableServerTransport(id)
	transport.userID = requestUserID(req)
	if store := h.opts.SessionStore; store != nil {
		transport.onStateUpdate = func(st ServerSessionState) {
			_ = store.Save(context.Background(), id, &st)
		}
	}
	var opts *ServerSessionOptions
	if state != nil {
		opts = &ServerSessionOptions{State: state}
	}
	// Pass req.Context() here, to allow HTTP middleware to contribute context
	// values. Message handling detaches from this context.
	if _, err := server.Connect(req.Context(), transport, opts); err != nil {
		http.Error(w, "failed connection", http.StatusInternalServerError)
		return nil
	}
	h.mu.Lock()
	if h.sessions == nil {
		h.mu.Unlock()
		transport.Close()
		http.Error(w, "handler is closed", http.StatusServiceUnavailable)
		return nil
	}
	h.sessions[id] = transport
	h.mu.Unlock()
	return transport
}

// serveStateless handles a request in stateless mode, using an ephemeral
// session that lives only for the duration of the request. If a SessionStore
// is configured, session state is rehydrated from it and persisted back, so
// that the logical session spans requests even though no connection does.
// Otherwise, the session ID itself is the state: an encrypted envelope of the
// client identity; see sealEnvelope.
func (h *StreamableHTTPHandler) serveStateless(w http.ResponseWriter, req *http.Request, msgs []jsonrpc.Message) {
	if h.opts.SessionStore != nil {
		h.serveStatelessStored(w, req, msgs)
		return
	}

	// Without a session store there is no server-side state at all, so GET
	// and DELETE have nothing to address.
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "only POST is supported in stateless mode", http.StatusMethodNotAllowed)
		return
	}
	server := h.getServer(req)
	if server == nil {
		http.Error(w, "no server available", http.StatusInternalServerError)
		return
	}

	userID := requestUserID(req)
	transport := NewStreamableServerTransport("")
	transport.userID = userID
	var opts *ServerSessionOptions
	if id := req.Header.Get(sessionIDHeader); id != "" {
		env, err := h.openEnvelope(id)
		if err != nil {
			// Tampered, truncated, or sealed with another key.
			writeJSONRPCError(w, http.StatusNotFound, codeUnknownSession, "session not found")
			return
		}
		if env.UserID != userID {
			http.Error(w, "session belongs to another user", http.StatusForbidden)
			return
		}
		transport.setSessionID(id)
		opts = &ServerSessionOptions{State: &ServerSessionState{
			InitializeParams: &InitializeParams{
				ProtocolVersion: latestProtocolVersion,
				ClientInfo:      env.ClientInfo,
			},
			InitializedParams: &InitializedParams{},
		}}
	} else {
		// First request of a logical session. The Mcp-Session-Id response
		// header is deferred until the initialize params are observed, so
		// that the envelope can capture the client's declared identity.
		transport.onStateUpdate = func(state ServerSessionState) {
			if state.InitializeParams == nil {
				return
			}
			sealed, err := h.sealEnvelope(&statelessEnvelope{
				ClientInfo: state.InitializeParams.ClientInfo,
				UserID:     userID,
			})
			if err != nil {
				h.logger.Error("mcp: sealing session envelope", "err", err)
				return
			}
			transport.setSessionID(sealed)
		}
	}

	ss, err := server.Connect(req.Context(), transport, opts)
	if err != nil {
		http.Error(w, "failed connection", http.StatusInternalServerError)
		return
	}
	transport.servePOST(w, req, msgs)
	_ = ss.Close()
}

// serveStatelessStored handles a stateless request when a SessionStore is
// configured.
func (h *StreamableHTTPHandler) serveStatelessStored(w http.ResponseWriter, req *http.Request, msgs []jsonrpc.Message) {
	store := h.opts.SessionStore
	if req.Method == http.MethodDelete {
		id := req.Header.Get(sessionIDHeader)
		if id == "" {
			http.Error(w, "DELETE requires an Mcp-Session-Id header", http.StatusBadRequest)
			return
		}
		if err := store.Delete(req.Context(), id); err != nil {
			http.Error(w, "failed to delete session", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "only POST and DELETE are supported in stateless mode", http.StatusMethodNotAllowed)
		return
	}
	server := h.getServer(req)
	if server == nil {
		http.Error(w, "no server available", http.StatusInternalServerError)
		return
	}

	sessionID := req.Header.Get(sessionIDHeader)
	var state *ServerSessionState
	if sessionID != "" {
		var err error
		state, err = store.Load(req.Context(), sessionID)
		if err != nil {
			http.Error(w, "failed to load session", http.StatusInternalServerError)
			return
		}
		if state == nil {
			writeJSONRPCError(w, http.StatusNotFound, codeUnknownSession, "session not found")
			return
		}
	} else {
		sessionID = h.opts.GetSessionID()
	}

	transport := NewStreamableServerTransport(sessionID)
	transport.userID = requestUserID(req)
	transport.onStateUpdate = func(st ServerSessionState) {
		_ = store.Save(context.Background(), sessionID, &st)
	}
	var opts *ServerSessionOptions
	if state != nil {
		opts = &ServerSessionOptions{State: state}
	}
	ss, err := server.Connect(req.Context(), transport, opts)
	if err != nil {
		http.Error(w, "failed connection", http.StatusInternalServerError)
		return
	}
	transport.servePOST(w, req, msgs)
	_ = ss.Close()
}

// A statelessEnvelope is the plaintext of a stateless session ID: the
// identity needed to rebuild a session on each request.
//
// Envelopes are sealed with AES-GCM, so a forged or tampered session ID fails
// authentication rather than decrypting to garbage. They carry no expiry or
// replay protection; a client may present the same envelope indefinitely.
type statelessEnvelope struct {
	ClientInfo *Implementation `json:"clientInfo"`
	UserID     string          `json:"userID,omitempty"`
}

// sealEnvelope encrypts env with the handler's session key, returning the
// URL-safe encoding used as the session ID.
func (h *StreamableHTTPHandler) sealEnvelope(env *statelessEnvelope) (string, error) {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	gcm, err := h.sessionCipher()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	rand.Read(nonce)
	return base64.RawURLEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// openEnvelope decrypts a session ID produced by [StreamableHTTPHandler.sealEnvelope].
func (h *StreamableHTTPHandler) openEnvelope(id string) (*statelessEnvelope, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return nil, err
	}
	gcm, err := h.sessionCipher()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("session ID too short")
	}
	plaintext, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		return nil, err
	}
	env := new(statelessEnvelope)
	if err := json.Unmarshal(plaintext, env); err != nil {
		return nil, err
	}
	return env, nil
}

func (h *StreamableHTTPHandler) sessionCipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(h.sessionKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// readBatch parses one or more JSON-RPC messages from data, which holds
// either a single message or a JSON-RPC batch. It reports whether the payload
// was a batch.
func readBatch(data []byte) ([]jsonrpc.Message, bool, error) {
	if len(data) > 0 && data[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, true, err
		}
		if len(elems) == 0 {
			return nil, true, errors.New("empty batch")
		}
		msgs := make([]jsonrpc.Message, len(elems))
		for i, elem := range elems {
			msg, err := jsonrpc.DecodeMessage(elem)
			if err != nil {
				return nil, true, err
			}
			msgs[i] = msg
		}
		return msgs, true, nil
	}
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return nil, false, err
	}
	return []jsonrpc.Message{msg}, false, nil
}

// NewStreamableServerTransport returns a new [StreamableServerTransport] with
// the given session ID. An empty session ID is valid, and indicates a session
// that is not addressable after the current request.
//
// A StreamableServerTransport implements the server side of the streamable
// HTTP transport: it is a [Transport] whose connection delivers client
// messages arriving over HTTP requests, and routes server messages to the
// HTTP response that should carry them.
func NewStreamableServerTransport(sessionID string) *StreamableServerTransport {
	return &StreamableServerTransport{
		sessionID:      sessionID,
		lastActivity:   time.Now(),
		incoming:       make(chan jsonrpc.Message, 10),
		done:           make(chan struct{}),
		outgoing:       make(map[streamID][]*streamableMsg),
		signals:        make(map[streamID]chan struct{}),
		requestStreams: make(map[jsonrpc.ID]streamID),
		streamRequests: make(map[streamID]map[jsonrpc.ID]struct{}),
	}
}

// A StreamableServerTransport implements the [Transport] interface for a
// single session.
type StreamableServerTransport struct {
	nextStreamID atomic.Int64 // incrementing logical stream ID

	incoming chan jsonrpc.Message // messages from the client to the server

	// onStateUpdate, if set, observes session state changes. The streamable
	// HTTP handler uses it to persist state in its session store.
	onStateUpdate func(ServerSessionState)

	// userID is the authenticated user that created the session, set before
	// the transport serves requests and immutable thereafter.
	userID string

	mu sync.Mutex

	// sessionID is the logical session ID. In stateless mode it is assigned
	// after creation, once the initialize params have been observed.
	sessionID string

	// refs counts in-flight HTTP requests, and lastActivity records when refs
	// last dropped to zero. The handler's idle sweeper uses them to decide
	// which sessions to evict.
	refs         int
	lastActivity time.Time

	// Sessions are closed exactly once.
	isDone bool
	done   chan struct{}

	// A session carries multiple logical streams, each corresponding to an
	// HTTP request: one for each POST carrying calls, and stream 0 for the
	// hanging GET. Streams may also be resumed by later HTTP requests after an
	// interruption, replaying messages from a given index.
	//
	// The maps below each track one aspect of the stream lifecycle, and have
	// different lifetimes, as noted.

	// outgoing holds the messages for each logical stream, in order.
	//
	// Messages persist for the lifespan of the transport, so that streams can
	// be resumed at any point.
	outgoing map[streamID][]*streamableMsg

	// signals maps a logical stream to a 1-buffered channel, owned by the
	// HTTP request currently serving the stream, signalling that new messages
	// are available. The entry guarantees that at most one HTTP response
	// carries each stream; it lives only while that request is being served.
	signals map[streamID]chan struct{}

	// requestStreams maps incoming requests to the logical stream where their
	// responses (and related messages) belong. Entries persist for the
	// lifespan of the transport.
	requestStreams map[jsonrpc.ID]streamID

	// streamRequests tracks the unanswered incoming calls of each logical
	// stream. When a stream's last call is answered, the HTTP response serving
	// it can terminate. Entries live until the server has replied, not merely
	// until the reply was written to some response, since delivery is not
	// guaranteed.
	streamRequests map[streamID]map[jsonrpc.ID]struct{}
}

type streamID int64

// a streamableMsg is an SSE event with an index into its logical stream.
type streamableMsg struct {
	idx   int
	event event
}

// SessionID returns the transport's session ID.
func (t *StreamableServerTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *StreamableServerTransport) setSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = id
}

// acquire records an in-flight HTTP request against the session.
func (t *StreamableServerTransport) acquire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs++
}

// release drops a reference. When the last in-flight request completes, the
// session's idle clock restarts.
func (t *StreamableServerTransport) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refs--; t.refs == 0 {
		t.lastActivity = time.Now()
	}
}

// idleSince reports whether the session has no in-flight HTTP request, and if
// so, since when.
func (t *StreamableServerTransport) idleSince() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity, t.refs == 0
}

// Connect implements the [Transport] interface.
func (t *StreamableServerTransport) Connect(context.Context) (Connection, error) {
	return t, nil
}

// sessionUpdated implements the [sessionUpdater] interface, forwarding state
// changes to the handler for persistence.
func (t *StreamableServerTransport) sessionUpdated(state ServerSessionState) {
	if t.onStateUpdate != nil {
		t.onStateUpdate(state)
	}
}

// We track the incoming request ID inside the handler context using
// idContextKey, so that notifications and server->client calls that occur in
// the course of handling an incoming request are correlated with it, and can
// be dispatched as server-sent events on the HTTP response for that request.
//
// This is privileged access: a transport outside this package could not
// implement the same correlation. Exposing the request ID (or a handler
// middleware mechanism for transports) is an open API question; for now only
// the streamable transport gets it.
type idContextKey struct{}

// ServeHTTP handles a single HTTP request for the session.
//
// Most users should use [NewStreamableHTTPHandler] instead, which routes
// requests to sessions; ServeHTTP is exported for handlers that do their own
// session management.
func (t *StreamableServerTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		t.serveGET(w, req)
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, effectiveMaxBodyBytes(0)))
		if err != nil {
			if isMaxBytesError(err) {
				writeRequestBodyTooLarge(w)
			} else {
				http.Error(w, "failed to read body", http.StatusBadRequest)
			}
			return
		}
		if len(body) == 0 {
			http.Error(w, "POST requires a non-empty body", http.StatusBadRequest)
			return
		}
		msgs, _, err := readBatch(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("malformed payload: %v", err), http.StatusBadRequest)
			return
		}
		t.servePOST(w, req, msgs)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (t *StreamableServerTransport) serveGET(w http.ResponseWriter, req *http.Request) {
	// Stream 0 is the default GET stream. A Last-Event-ID header resumes an
	// existing stream from after the acknowledged event.
	id, nextIdx := streamID(0), 0
	if len(req.Header.Values("Last-Event-ID")) > 0 {
		eid := req.Header.Get("Last-Event-ID")
		var ok bool
		id, nextIdx, ok = parseEventID(eid)
		if !ok {
			http.Error(w, fmt.Sprintf("malformed Last-Event-ID %q", eid), http.StatusBadRequest)
			return
		}
		nextIdx++
	}

	t.mu.Lock()
	if _, ok := t.signals[id]; ok {
		t.mu.Unlock()
		// Each stream is carried by at most one response, so a session admits
		// only one concurrent GET.
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.CodeServerOverloaded,
			"session supports at most one concurrent GET request; stream already has an active response")
		return
	}
	signal := make(chan struct{}, 1)
	t.signals[id] = signal
	t.mu.Unlock()

	t.streamResponse(w, req, id, nextIdx, signal)
}

func (t *StreamableServerTransport) servePOST(w http.ResponseWriter, req *http.Request, incoming []jsonrpc.Message) {
	if len(req.Header.Values("Last-Event-ID")) > 0 {
		http.Error(w, "can't send Last-Event-ID for POST request", http.StatusBadRequest)
		return
	}

	requests := make(map[jsonrpc.ID]struct{})
	for _, msg := range incoming {
		if req, ok := msg.(*jsonrpc.Request); ok && req.ID.IsValid() {
			requests[req.ID] = struct{}{}
		}
	}

	// Update accounting for this request.
	id := streamID(t.nextStreamID.Add(1))
	signal := make(chan struct{}, 1)
	t.mu.Lock()
	if len(requests) > 0 {
		t.streamRequests[id] = make(map[jsonrpc.ID]struct{})
	}
	for reqID := range requests {
		t.requestStreams[reqID] = id
		t.streamRequests[id][reqID] = struct{}{}
	}
	t.signals[id] = signal
	t.mu.Unlock()

	// Publish incoming messages.
	for _, msg := range incoming {
		select {
		case t.incoming <- msg:
		case <-t.done:
			http.Error(w, "session terminated", http.StatusGone)
			return
		}
	}

	t.streamResponse(w, req, id, 0, signal)
}

func (t *StreamableServerTransport) streamResponse(w http.ResponseWriter, req *http.Request, id streamID, nextIndex int, signal chan struct{}) {
	defer func() {
		t.mu.Lock()
		delete(t.signals, id)
		t.mu.Unlock()
	}()

	// Stream resumption: clamp the starting index to the messages we actually
	// hold, in case the client acknowledged more than we recorded.
	if nextIndex > 0 {
		t.mu.Lock()
		if n := len(t.outgoing[id]); nextIndex > n {
			nextIndex = n
		}
		t.mu.Unlock()
	}

	// Headers are written as late as possible: in stateless mode the session
	// ID is an envelope sealed only once the initialize params have been
	// observed, which happens while the first POST is in flight.
	headersSet := false
	setStreamHeaders := func() {
		if headersSet {
			return
		}
		headersSet = true
		if sid := t.SessionID(); sid != "" {
			w.Header().Set(sessionIDHeader, sid)
		}
		w.Header().Set("Content-Type", "text/event-stream") // Accept checked in [StreamableHTTPHandler]
		w.Header().Set("Cache-Control", "no-cache,no-store")
		w.Header().Set("Content-Encoding", "identity")
		w.Header().Set("Connection", "keep-alive")
	}
	if req.Method == http.MethodGet {
		// Flush headers now: clients await them to learn that the stream is
		// established.
		setStreamHeaders()
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	writes := 0
stream:
	for {
		t.mu.Lock()
		outgoing := t.outgoing[id][nextIndex:]
		t.mu.Unlock()

		for _, msg := range outgoing {
			setStreamHeaders()
			if _, err := writeEvent(w, msg.event); err != nil {
				// Connection closed or broken.
				return
			}
			writes++
			nextIndex++
		}

		t.mu.Lock()
		nOutstanding := len(t.streamRequests[id])
		nOutgoing := len(t.outgoing[id])
		t.mu.Unlock()
		// Once every request has been replied to, this response can terminate.
		// If the server kept sending on the request context after replying (a
		// sequencing violation), loop until all messages are written rather
		// than dropping them.
		if nextIndex < nOutgoing {
			continue // more to send
		}
		if req.Method == http.MethodPost && nOutstanding == 0 {
			if writes == 0 {
				// The server accepted the input but has nothing to say: reply
				// 202 Accepted with no body, and no SSE headers.
				if sid := t.SessionID(); sid != "" {
					w.Header().Set(sessionIDHeader, sid)
				}
				w.WriteHeader(http.StatusAccepted)
			}
			return
		}

		select {
		case <-signal:
		case <-t.done:
			// GET responses have already written their 200 header.
			if writes == 0 && req.Method == http.MethodPost {
				http.Error(w, "session terminated", http.StatusGone)
			}
			break stream
		case <-req.Context().Done():
			if writes == 0 && req.Method == http.MethodPost {
				w.WriteHeader(http.StatusNoContent)
			}
			break stream
		}
	}
}

// Event IDs encode both the logical stream ID and the index of the event
// within the stream, as <streamID>_<idx>, matching the typescript
// implementation.

// formatEventID returns the event ID for the message at index idx of the
// given logical stream.
//
// See also [parseEventID].
func formatEventID(sid streamID, idx int) string {
	return fmt.Sprintf("%d_%d", sid, idx)
}

// parseEventID parses a Last-Event-ID value into a logical stream ID and
// index.
//
// See also [formatEventID].
func parseEventID(eventID string) (sid streamID, idx int, ok bool) {
	parts := strings.Split(eventID, "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	stream, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || stream < 0 {
		return 0, 0, false
	}
	idx, err = strconv.Atoi(parts[1])
	if err != nil || idx < 0 {
		return 0, 0, false
	}
	return streamID(stream), idx, true
}

// Read implements the [Connection] interface.
func (t *StreamableServerTransport) Read(ctx context.Context) (jsonrpc.Message, error) {
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
func (t *StreamableServerTransport) Write(ctx context.Context, msg jsonrpc.Message) error {
	// Find the incoming request that this message relates to, if any.
	var forRequest, replyTo jsonrpc.ID
	if resp, ok := msg.(*jsonrpc.Response); ok {
		// Responses relate to the request they answer.
		forRequest = resp.ID
		replyTo = resp.ID
	} else if v := ctx.Value(idContextKey{}); v != nil {
		// Otherwise, the message may have been sent in the course of handling
		// an incoming request; see [idContextKey].
		forRequest = v.(jsonrpc.ID)
	}

	// Find the logical stream for this request. Messages sent outside of a
	// request context go to the default stream 0.
	var forStream streamID
	if forRequest.IsValid() {
		t.mu.Lock()
		forStream = t.requestStreams[forRequest]
		t.mu.Unlock()
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isDone {
		return ErrConnectionClosed
	}

	if _, ok := t.streamRequests[forStream]; !ok && forStream != 0 {
		// The stream has no outstanding requests, so it is logically done.
		// This is a sequencing violation from the server; deliver the message
		// on the default stream rather than dropping it.
		forStream = 0
	}

	idx := len(t.outgoing[forStream])
	t.outgoing[forStream] = append(t.outgoing[forStream], &streamableMsg{
		idx: idx,
		event: event{
			name: "message",
			id:   formatEventID(forStream, idx),
			data: data,
		},
	})
	if replyTo.IsValid() {
		// Once the reply is queued, its request is no longer outstanding.
		delete(t.streamRequests[forStream], replyTo)
		if len(t.streamRequests[forStream]) == 0 {
			delete(t.streamRequests, forStream)
		}
	}

	// Signal work.
	if c, ok := t.signals[forStream]; ok {
		select {
		case c <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close implements the [Connection] interface.
func (t *StreamableServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isDone {
		t.isDone = true
		close(t.done)
	}
	return nil
}

// Reconnection timing for interrupted client streams. The delay doubles for
// each consecutive attempt without progress, up to the maximum. These are
// variables for testing.
var (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// A StreamableClientTransport is a [Transport] that can communicate with an
// MCP endpoint serving the streamable HTTP transport.
type StreamableClientTransport struct {
	// Endpoint is the MCP endpoint URL.
	Endpoint string

	// HTTPClient is the client to use for making HTTP requests. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client

	// ModifyRequest, if set, is called to modify each outgoing HTTP request
	// before it is sent, for example to add authentication headers.
	ModifyRequest func(*http.Request)

	// OAuthHandler, if set, authorizes outgoing HTTP requests: its tokens are
	// attached to each request, and a 401 or 403 response runs its
	// authorization flow before the request is retried.
	// It wraps the transport of HTTPClient (or [http.DefaultTransport]).
	OAuthHandler auth.OAuthHandler

	// MaxRetries bounds the number of consecutive attempts to resume an
	// interrupted stream when no progress is being made, beyond the first. If
	// zero, a single resumption attempt is made; if negative, interrupted
	// streams are not resumed.
	MaxRetries int

	// DisableStandaloneSSE disables the hanging GET request that carries
	// server messages unrelated to any call. Calls still work, but
	// server-initiated messages outside of calls are not received.
	DisableStandaloneSSE bool

	// strict enables strict conformance checks: deviations from the
	// specification that are otherwise tolerated become errors.
	strict bool
}

// Connect implements the [Transport] interface.
//
// The resulting [Connection] writes messages via POST requests to the
// transport's endpoint with the Mcp-Session-Id header set, and reads messages
// from both POST responses and a hanging GET request.
//
// When closed, the connection issues a DELETE request to terminate the
// logical session.
func (t *StreamableClientTransport) Connect(ctx context.Context) (Connection, error) {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	if t.OAuthHandler != nil {
		c := *client
		c.Transport = &auth.HTTPTransport{Handler: t.OAuthHandler, Base: client.Transport}
		client = &c
	}
	connCtx, cancel := context.WithCancel(context.Background())
	conn := &streamableClientConn{
		endpoint:             t.Endpoint,
		client:               client,
		modifyRequest:        t.ModifyRequest,
		maxRetries:           t.MaxRetries,
		strict:               t.strict,
		disableStandaloneSSE: t.DisableStandaloneSSE,
		incoming:             make(chan jsonrpc.Message, 100),
		done:                 make(chan struct{}),
		ctx:                  connCtx,
		cancel:               cancel,
		streams:              make(map[jsonrpc.ID]*clientStream),
	}
	return conn, nil
}

type streamableClientConn struct {
	endpoint             string
	client               *http.Client
	modifyRequest        func(*http.Request)
	maxRetries           int
	strict               bool
	disableStandaloneSSE bool

	incoming chan jsonrpc.Message

	// ctx governs all background work for the connection; cancel is called on
	// Close.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	mu              sync.Mutex
	err             error  // terminal error, returned from Read after done
	sessionID       string // from the first response carrying one
	protocolVersion string // negotiated during initialization
	// streams maps outstanding call IDs to the logical stream awaiting their
	// response.
	streams map[jsonrpc.ID]*clientStream
}

// A clientStream tracks one SSE response stream and the calls awaiting
// responses on it.
type clientStream struct {
	cancel context.CancelFunc // cancels the stream's requests

	mu          sync.Mutex
	requests    map[jsonrpc.ID]struct{} // unanswered calls
	lastEventID string
}

func (st *clientStream) finished() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.requests) == 0
}

func (st *clientStream) markAnswered(id jsonrpc.ID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.requests, id)
}

func (st *clientStream) eventID() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastEventID
}

func (st *clientStream) setEventID(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastEventID = id
}

func (s *streamableClientConn) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// sessionUpdated implements the [clientSessionUpdater] interface, recording
// the negotiated protocol version so that subsequent requests can carry it.
func (s *streamableClientConn) sessionUpdated(state clientSessionState) {
	if state.InitializeResult == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = state.InitializeResult.ProtocolVersion
}

// Read implements the [Connection] interface.
func (s *streamableClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		if err := s.terminalError(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case msg := <-s.incoming:
		return msg, nil
	}
}

func (s *streamableClientConn) terminalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail records err as the connection's terminal error and closes the
// connection, without attempting to terminate the server-side session.
func (s *streamableClientConn) fail(err error) error {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	_ = s.Close()
	return err
}

// Write implements the [Connection] interface: it POSTs the message to the
// endpoint, and arranges for any response stream to be consumed.
func (s *streamableClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-s.done:
		if err := s.terminalError(); err != nil {
			return err
		}
		return ErrConnectionClosed
	default:
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	s.setSessionHeaders(req)
	if s.modifyRequest != nil {
		s.modifyRequest(req)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}

	// Record the session ID assigned by the server, if we don't have one.
	if id := resp.Header.Get(sessionIDHeader); id != "" {
		s.mu.Lock()
		if s.sessionID == "" {
			s.sessionID = id
		}
		s.mu.Unlock()
	}

	jreq, _ := msg.(*jsonrpc.Request)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNotFound:
			// The session is gone: no further request can succeed.
			return s.fail(fmt.Errorf("%w (HTTP 404)", ErrSessionMissing))
		case http.StatusUnauthorized, http.StatusForbidden:
			return s.fail(fmt.Errorf("request failed: %s: %s", resp.Status, bytes.TrimSpace(body)))
		default:
			// Other failures (including 5xx and 429) fail this message only:
			// the session may still be usable.
			return fmt.Errorf("request failed: %s: %s", resp.Status, bytes.TrimSpace(body))
		}
	}

	if s.strict && jreq != nil && jreq.Method == notificationInitialized && resp.StatusCode != http.StatusAccepted {
		resp.Body.Close()
		return fmt.Errorf("expected %d response to initialized notification, got %d", http.StatusAccepted, resp.StatusCode)
	}

	if err := s.handleResponse(jreq, resp); err != nil {
		return err
	}

	// After a cancellation notification is delivered, stop any stream still
	// awaiting the cancelled call.
	if jreq != nil && jreq.Method == notificationCancelled {
		s.cancelStream(jreq)
	}

	// The session is established once the initialized notification is
	// accepted: open the standalone stream for unrelated server messages.
	if jreq != nil && jreq.Method == notificationInitialized && !s.disableStandaloneSSE {
		if err := s.connectStandalone(ctx); err != nil {
			return err
		}
	}
	return nil
}

// setSessionHeaders adds the session ID and negotiated protocol version
// headers, when known.
func (s *streamableClientConn) setSessionHeaders(req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" {
		req.Header.Set(sessionIDHeader, s.sessionID)
	}
	if s.protocolVersion != "" {
		req.Header.Set(protocolVersionHeader, s.protocolVersion)
	}
}

// handleResponse consumes the successful response to a POST of jreq (which is
// nil if the message was not a request).
func (s *streamableClientConn) handleResponse(jreq *jsonrpc.Request, resp *http.Response) error {
	isCall := jreq != nil && jreq.IsCall()
	switch {
	case isContentType(resp.Header, "application/json"):
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		msg, err := jsonrpc.DecodeMessage(body)
		if err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		s.deliver(msg)
		return nil

	case isContentType(resp.Header, "text/event-stream"):
		if !isCall {
			// No response is expected; drain the stream for any server
			// messages it may carry.
			go func() {
				defer resp.Body.Close()
				for evt, err := range scanEvents(resp.Body) {
					if err != nil {
						return
					}
					if msg, err := jsonrpc.DecodeMessage(evt.data); err == nil {
						s.deliver(msg)
					}
				}
			}()
			return nil
		}
		streamCtx, cancel := context.WithCancel(s.ctx)
		stream := &clientStream{
			cancel:   cancel,
			requests: map[jsonrpc.ID]struct{}{jreq.ID: {}},
		}
		s.mu.Lock()
		s.streams[jreq.ID] = stream
		s.mu.Unlock()
		go s.handleStream(streamCtx, stream, resp.Body)
		return nil

	default:
		// A 202 to a notification or response, or a body we don't understand.
		resp.Body.Close()
		if isCall {
			return fmt.Errorf("unsupported content type %q in response to call", resp.Header.Get("Content-Type"))
		}
		return nil
	}
}

// deliver passes msg to the connection's reader.
func (s *streamableClientConn) deliver(msg jsonrpc.Message) bool {
	select {
	case s.incoming <- msg:
		return true
	case <-s.done:
		return false
	}
}

// handleStream consumes an SSE stream carrying the response to one or more
// calls, resuming it with GET requests if it is interrupted before the
// responses arrive.
func (s *streamableClientConn) handleStream(ctx context.Context, stream *clientStream, body io.ReadCloser) {
	defer s.forgetStream(stream)

	attempts := 0
	delay := reconnectInitialDelay
	for {
		if body != nil {
			before := stream.eventID()
			s.consumeStream(ctx, stream, body)
			if stream.finished() || ctx.Err() != nil {
				return
			}
			last := stream.eventID()
			if last == "" {
				// Without an event ID there is nothing to resume from.
				s.failStream(stream, errors.New("stream terminated without response"))
				return
			}
			if last != before {
				// Progress was made; reset the retry budget.
				attempts, delay = 0, reconnectInitialDelay
			} else {
				attempts++
			}
		} else {
			attempts++
		}
		if attempts > s.maxRetries {
			s.failStream(stream, fmt.Errorf("stream resumption exceeded %d retries without progress", s.maxRetries))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(2*delay, reconnectMaxDelay)

		body = nil
		resp, err := s.get(ctx, stream.eventID())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if resp.StatusCode == http.StatusOK && isContentType(resp.Header, "text/event-stream") {
			body = resp.Body
		} else {
			resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				s.failStream(stream, fmt.Errorf("%w (HTTP 404)", ErrSessionMissing))
				return
			}
		}
	}
}

// consumeStream reads events from body until it is exhausted or the stream's
// outstanding calls are all answered, delivering messages to the reader.
func (s *streamableClientConn) consumeStream(ctx context.Context, stream *clientStream, body io.ReadCloser) {
	defer body.Close()
	for evt, err := range scanEvents(body) {
		if err != nil {
			return
		}
		if evt.id != "" {
			stream.setEventID(evt.id)
		}
		msg, err := jsonrpc.DecodeMessage(evt.data)
		if err != nil {
			continue
		}
		if resp, ok := msg.(*jsonrpc.Response); ok {
			stream.markAnswered(resp.ID)
		}
		if !s.deliver(msg) {
			return
		}
		if stream.finished() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// failStream delivers an error response for each of the stream's unanswered
// calls, so that they fail rather than hang.
func (s *streamableClientConn) failStream(stream *clientStream, err error) {
	stream.mu.Lock()
	ids := make([]jsonrpc.ID, 0, len(stream.requests))
	for id := range stream.requests {
		ids = append(ids, id)
	}
	stream.requests = nil
	stream.mu.Unlock()
	for _, id := range ids {
		s.deliver(&jsonrpc.Response{ID: id, Error: err})
	}
}

func (s *streamableClientConn) forgetStream(stream *clientStream) {
	stream.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.streams {
		if st == stream {
			delete(s.streams, id)
		}
	}
}

// cancelStream stops the stream awaiting the call named by a cancellation
// notification, releasing its resumption attempts.
func (s *streamableClientConn) cancelStream(jreq *jsonrpc.Request) {
	var params CancelledParams
	if len(jreq.Params) > 0 {
		if err := internaljson.Unmarshal(jreq.Params, &params); err != nil {
			return
		}
	}
	var id jsonrpc.ID
	switch v := params.RequestID.(type) {
	case string:
		id = jsonrpc2.StringID(v)
	case float64:
		id = jsonrpc2.Int64ID(int64(v))
	case int64:
		id = jsonrpc2.Int64ID(v)
	case int:
		id = jsonrpc2.Int64ID(int64(v))
	default:
		return
	}
	s.mu.Lock()
	stream := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()
	if stream != nil {
		stream.markAnswered(id)
		stream.cancel()
	}
}

// get issues a GET request for an SSE stream, resuming from lastEventID if it
// is nonempty.
func (s *streamableClientConn) get(ctx context.Context, lastEventID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	s.setSessionHeaders(req)
	if s.modifyRequest != nil {
		s.modifyRequest(req)
	}
	return s.client.Do(req)
}

// connectStandalone establishes the hanging GET stream that carries server
// messages unrelated to any call.
//
// Servers are not required to support the standalone stream: client error
// statuses are tolerated (in strict mode, only 405 Method Not Allowed), and
// merely disable it. Server errors are reported, since the server intended to
// provide a stream and failed.
func (s *streamableClientConn) connectStandalone(ctx context.Context) error {
	resp, err := s.get(ctx, "")
	if err != nil {
		if s.strict {
			return fmt.Errorf("standalone SSE request failed: %w", err)
		}
		return nil
	}
	switch {
	case resp.StatusCode == http.StatusOK && isContentType(resp.Header, "text/event-stream"):
		go s.standaloneLoop(resp.Body)
		return nil
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return fmt.Errorf("standalone SSE request failed: %s", resp.Status)
	case s.strict && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMethodNotAllowed:
		resp.Body.Close()
		return fmt.Errorf("standalone SSE request failed: %s", resp.Status)
	default:
		resp.Body.Close()
		return nil
	}
}

// standaloneLoop consumes the standalone stream, reconnecting with
// exponential backoff when it is interrupted. Persistent failure silences
// server-initiated messages but does not break the session.
func (s *streamableClientConn) standaloneLoop(body io.ReadCloser) {
	var lastEventID string
	delay := reconnectInitialDelay
	for {
		func() {
			defer body.Close()
			for evt, err := range scanEvents(body) {
				if err != nil {
					return
				}
				if evt.id != "" {
					lastEventID = evt.id
				}
				if msg, err := jsonrpc.DecodeMessage(evt.data); err == nil {
					if !s.deliver(msg) {
						return
					}
				}
			}
		}()

		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(2*delay, reconnectMaxDelay)

		resp, err := s.get(s.ctx, lastEventID)
		if err != nil {
			return
		}
		if resp.StatusCode != http.StatusOK || !isContentType(resp.Header, "text/event-stream") {
			resp.Body.Close()
			return
		}
		body = resp.Body
	}
}

// Close implements the [Connection] interface.
//
// It stops all background work and sends a DELETE request to terminate the
// logical session, unless the session is already known to be broken.
func (s *streamableClientConn) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)

		s.mu.Lock()
		sessionID := s.sessionID
		broken := s.err != nil
		s.mu.Unlock()
		if sessionID == "" || broken {
			return
		}
		req, err := http.NewRequest(http.MethodDelete, s.endpoint, nil)
		if err != nil {
			s.closeErr = err
			return
		}
		s.setSessionHeaders(req)
		if s.modifyRequest != nil {
			s.modifyRequest(req)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			// Session termination is best effort.
			s.closeErr = fmt.Errorf("terminating session: %w", err)
			return
		}
		resp.Body.Close()
	})
	return s.closeErr
}
