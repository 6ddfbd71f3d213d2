// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file contains code shared between client and server, including the
// session engine (request multiplexing, dispatch, cancellation) and
// middleware.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-runtime/auth"
	internaljson "github.com/modelcontextprotocol/go-runtime/internal/json"
	"github.com/modelcontextprotocol/go-runtime/internal/jsonrpc2"
	"github.com/modelcontextprotocol/go-runtime/internal/mcpgodebug"
	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
)

// Versions of the MCP spec, in chronological order.
const (
	protocolVersion20241105 = "2024-11-05"
	protocolVersion20250326 = "2025-03-26"
	protocolVersion20250618 = "2025-06-18"
	protocolVersionDraft    = "draft"
)

// latestProtocolVersion is the latest stable version of the protocol.
const latestProtocolVersion = protocolVersion20250618

// clientProtocolVersion returns the protocol version that clients request
// during the initialize handshake. It is latestProtocolVersion unless
// overridden with MCPGODEBUG=protocolversion=<version>, which forces
// negotiation of a specific version for compatibility testing.
func clientProtocolVersion() string {
	if v := mcpgodebug.Value("protocolversion"); slices.Contains(supportedProtocolVersions, v) {
		return v
	}
	return latestProtocolVersion
}

// supportedProtocolVersions lists the versions this module can negotiate,
// newest first.
var supportedProtocolVersions = []string{
	protocolVersionDraft,
	protocolVersion20250618,
	protocolVersion20250326,
	protocolVersion20241105,
}

// ErrConnectionClosed is returned when sending a message to a connection that
// is closed or in the process of closing.
var ErrConnectionClosed = errors.New("connection closed")

// Error codes defined by MCP, beyond those of JSON-RPC 2.0.
const (
	// CodeResourceNotFound is returned for reads of unknown resources.
	CodeResourceNotFound = -32002
	// CodeUnsupportedMethod is returned when a method is recognized but the
	// peer does not implement it.
	CodeUnsupportedMethod = -31001
)

// Meta is additional metadata for requests, results and other types, attached
// to the "_meta" property of their wire encoding.
type Meta map[string]any

// GetMeta returns metadata from a value.
func (m Meta) GetMeta() map[string]any { return m }

// SetMeta sets the metadata on a value.
func (m *Meta) SetMeta(x map[string]any) { *m = x }

const progressTokenKey = "progressToken"

func getProgressToken(p Params) any {
	return p.GetMeta()[progressTokenKey]
}

// setProgressToken sets the progress token on p.
// It panics if the token is not a string or an integer.
func setProgressToken(p Params, pt any) {
	switch pt.(type) {
	case string, int, int32, int64:
	default:
		panic(fmt.Sprintf("progress token %v is not an int or string", pt))
	}
	m := p.GetMeta()
	if m == nil {
		m = map[string]any{}
		p.SetMeta(m)
	}
	m[progressTokenKey] = pt
}

// Params is a parameter (input) type for an MCP call or notification.
type Params interface {
	// GetMeta returns metadata from a value.
	GetMeta() map[string]any
	// SetMeta sets the metadata on a value.
	SetMeta(map[string]any)
	isParams()
}

// Result is a result of an MCP call.
type Result interface {
	// GetMeta returns metadata from a value.
	GetMeta() map[string]any
	// SetMeta sets the metadata on a value.
	SetMeta(map[string]any)
	isResult()
}

// emptyResult is the result of methods whose results carry no information,
// such as ping.
type emptyResult struct{}

func (*emptyResult) GetMeta() map[string]any { return nil }
func (*emptyResult) SetMeta(map[string]any)  {}
func (*emptyResult) isResult()               {}

// RequestExtra carries transport-level information about an incoming request.
//
// It is populated for requests received over the Streamable HTTP transport.
// For other transports, or for requests constructed locally, it may be nil or
// have zero fields.
type RequestExtra struct {
	// Header contains the headers of the HTTP request carrying this message.
	Header http.Header
	// TokenInfo contains information about the verified bearer token, when the
	// handler is guarded by [auth.RequireBearerToken].
	TokenInfo *auth.TokenInfo
}

// A Request is a request to an MCP client or server.
//
// It is either a *[ClientRequest] or a *[ServerRequest], and the Request
// aliases in this package (such as [CallToolRequest]) name the concrete
// request type for each method.
type Request interface {
	// GetSession returns the session for the request.
	GetSession() Session
	// GetParams returns the request parameters.
	GetParams() Params
	// GetExtra returns transport-level information about the request, or nil.
	GetExtra() *RequestExtra
	isRequest()
}

// A ClientRequest is a request to a client, with parameters of type P.
type ClientRequest[P Params] struct {
	Session *ClientSession
	Params  P
}

// A ServerRequest is a request to a server, with parameters of type P.
type ServerRequest[P Params] struct {
	Session *ServerSession
	Params  P
	Extra   *RequestExtra
}

func (r *ClientRequest[P]) GetSession() Session     { return r.Session }
func (r *ClientRequest[P]) GetParams() Params       { return r.Params }
func (r *ClientRequest[P]) GetExtra() *RequestExtra { return nil }
func (r *ClientRequest[P]) isRequest()              {}

func (r *ServerRequest[P]) GetSession() Session     { return r.Session }
func (r *ServerRequest[P]) GetParams() Params       { return r.Params }
func (r *ServerRequest[P]) GetExtra() *RequestExtra { return r.Extra }
func (r *ServerRequest[P]) isRequest()              {}

func newClientRequest[P Params](cs *ClientSession, params P) *ClientRequest[P] {
	return &ClientRequest[P]{Session: cs, Params: params}
}

func newServerRequest[P Params](ss *ServerSession, params P) *ServerRequest[P] {
	return &ServerRequest[P]{Session: ss, Params: params}
}

// A Session is either a [ClientSession] or a [ServerSession].
type Session interface {
	// ID returns the session's unique identifier, or the empty string if the
	// session's transport does not define one.
	ID() string
	// Close closes the session.
	Close() error
	// Wait waits for the session to be closed by the peer.
	Wait() error

	conn() *rpcConn
	sendingMethodInfos() map[string]methodInfo
	sendingMethodHandler() MethodHandler
	receivingMethodInfos() map[string]methodInfo
	receivingMethodHandler() MethodHandler
}

// A MethodHandler handles MCP messages.
//
// For methods, exactly one of the return values must be nil. For
// notifications, both must be nil.
type MethodHandler func(ctx context.Context, method string, req Request) (result Result, err error)

// Middleware is a function from MethodHandlers to MethodHandlers.
type Middleware func(MethodHandler) MethodHandler

// addMiddleware wraps the handler in the middleware functions.
// The first function becomes the outermost layer: it is called first on the
// way in, and last on the way out.
func addMiddleware(handlerp *MethodHandler, middleware []Middleware) {
	for _, m := range slices.Backward(middleware) {
		*handlerp = m(*handlerp)
	}
}

// methodFlags describe properties of a method.
type methodFlags int

const (
	notification methodFlags = 1 << iota // method is a notification
)

// methodInfo is what the dispatch machinery knows about a method: how to
// allocate its params and result values, and how to invoke its bound handler.
//
// The table of methods a client receives doubles as the table of methods a
// server may send, and vice versa; on the sending side only flags and
// newResult are consulted.
type methodInfo struct {
	flags methodFlags
	// newParams allocates a fresh params value for the method.
	newParams func() Params
	// newResult allocates a fresh result value for the method.
	// It is nil for notifications.
	newResult func() Result
	// newRequest binds a session and decoded params into a typed Request.
	newRequest func(session Session, params Params, extra *RequestExtra) Request
	// handleMethod invokes the handler bound to this method.
	handleMethod MethodHandler
}

// zeroParams returns a constructor for P's pointee type.
func zeroParams[P Params]() func() Params {
	t := reflect.TypeFor[P]().Elem()
	return func() Params { return reflect.New(t).Interface().(P) }
}

// zeroResult returns a constructor for R's pointee type.
func zeroResult[R Result]() func() Result {
	t := reflect.TypeFor[R]().Elem()
	return func() Result { return reflect.New(t).Interface().(R) }
}

// newClientMethodInfo creates a methodInfo for a client method.
func newClientMethodInfo[P Params, R Result](m func(*Client, context.Context, *ClientRequest[P]) (R, error), flags methodFlags) methodInfo {
	info := methodInfo{
		flags:     flags,
		newParams: zeroParams[P](),
		newRequest: func(session Session, params Params, _ *RequestExtra) Request {
			return &ClientRequest[P]{Session: session.(*ClientSession), Params: params.(P)}
		},
		handleMethod: func(ctx context.Context, method string, req Request) (Result, error) {
			r, ok := req.(*ClientRequest[P])
			if !ok {
				return nil, fmt.Errorf("%w: %q: unexpected request type %T", jsonrpc2.ErrInvalidRequest, method, req)
			}
			return m(r.Session.client, ctx, r)
		},
	}
	if flags&notification == 0 {
		info.newResult = zeroResult[R]()
	}
	return info
}

// newServerMethodInfo creates a methodInfo for a server method.
func newServerMethodInfo[P Params, R Result](m func(*Server, context.Context, *ServerRequest[P]) (R, error), flags methodFlags) methodInfo {
	info := methodInfo{
		flags:     flags,
		newParams: zeroParams[P](),
		newRequest: func(session Session, params Params, extra *RequestExtra) Request {
			return &ServerRequest[P]{Session: session.(*ServerSession), Params: params.(P), Extra: extra}
		},
		handleMethod: func(ctx context.Context, method string, req Request) (Result, error) {
			r, ok := req.(*ServerRequest[P])
			if !ok {
				return nil, fmt.Errorf("%w: %q: unexpected request type %T", jsonrpc2.ErrInvalidRequest, method, req)
			}
			return m(r.Session.server, ctx, r)
		},
	}
	if flags&notification == 0 {
		info.newResult = zeroResult[R]()
	}
	return info
}

// defaultSendingMethodHandler is the initial handler for outgoing messages: it
// encodes the request over the session's connection. Middleware installed with
// [Client.AddSendingMiddleware] or [Server.AddSendingMiddleware] wraps it.
func defaultSendingMethodHandler(ctx context.Context, method string, req Request) (Result, error) {
	session := req.GetSession()
	info, ok := session.sendingMethodInfos()[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", jsonrpc2.ErrMethodNotFound, method)
	}
	if info.flags&notification != 0 {
		return nil, session.conn().notify(ctx, method, req.GetParams())
	}
	raw, err := session.conn().call(ctx, method, req.GetParams())
	if err != nil {
		return nil, err
	}
	res := info.newResult()
	if tp, ok := req.GetParams().(taskAugmentable); ok && tp.taskParams() != nil {
		// A task-augmented call returns a task handle in place of the method's
		// normal result.
		res = &CreateTaskResult{}
	}
	if len(raw) > 0 {
		if err := internaljson.Unmarshal(raw, res); err != nil {
			return nil, fmt.Errorf("unmarshaling %q result: %w", method, err)
		}
	}
	return res, nil
}

// defaultReceivingMethodHandler is the initial handler for incoming messages:
// it dispatches to the session's method table. Middleware installed with
// [Client.AddReceivingMiddleware] or [Server.AddReceivingMiddleware] wraps it.
func defaultReceivingMethodHandler(ctx context.Context, method string, req Request) (Result, error) {
	info, ok := req.GetSession().receivingMethodInfos()[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", jsonrpc2.ErrMethodNotFound, method)
	}
	return info.handleMethod(ctx, method, req)
}

// handleSend sends a call on behalf of a typed session method, routing it
// through the session's sending middleware.
func handleSend[R Result](ctx context.Context, method string, req Request) (R, error) {
	var zero R
	res, err := req.GetSession().sendingMethodHandler()(ctx, method, req)
	if err != nil {
		return zero, err
	}
	r, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%q: unexpected result type %T", method, res)
	}
	return r, nil
}

// handleNotify sends a notification on behalf of a typed session method,
// routing it through the session's sending middleware.
func handleNotify(ctx context.Context, method string, req Request) error {
	_, err := req.GetSession().sendingMethodHandler()(ctx, method, req)
	return err
}

// handleReceive decodes and dispatches an incoming request or notification on
// behalf of a session.
func handleReceive(ctx context.Context, session Session, jreq *jsonrpc.Request) (Result, error) {
	info, ok := session.receivingMethodInfos()[jreq.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", jsonrpc2.ErrMethodNotFound, jreq.Method)
	}
	params := info.newParams()
	if len(jreq.Params) > 0 {
		if err := internaljson.Unmarshal(jreq.Params, params); err != nil {
			return nil, fmt.Errorf("%w: unmarshaling params: %v", jsonrpc2.ErrInvalidParams, err)
		}
	}
	var extra *RequestExtra
	if e, ok := jreq.Extra.(*RequestExtra); ok {
		extra = e
	}
	req := info.newRequest(session, params, extra)
	res, err := session.receivingMethodHandler()(ctx, jreq.Method, req)
	if err != nil {
		return nil, err
	}
	if info.flags&notification != 0 {
		return nil, nil
	}
	if res == nil {
		// Methods must return a non-nil result or an error. Tolerate the
		// mistake rather than encoding a JSON null.
		res = &emptyResult{}
	}
	return res, nil
}

// orZero returns params if it is non-nil, and a pointer to a zero T otherwise.
//
// Typed nil params would encode as JSON null; replacing them preserves the
// convention that params are either absent or an object.
func orZero[T any](params *T) *T {
	if params == nil {
		return new(T)
	}
	return params
}

// An inflight records an incoming call whose handler is still running.
type inflight struct {
	cancel    context.CancelFunc
	cancelled bool // a cancellation notification was received for this call
}

// An rpcConn manages the JSON-RPC state of one side of a session: it assigns
// request IDs, pairs responses with in-flight calls, and dispatches incoming
// messages.
//
// Incoming messages are processed in arrival order. Notification handlers run
// synchronously, one at a time: when a notification handler returns, its
// effects are visible to all subsequently handled messages. Calls, by
// contrast, are handled asynchronously, each on its own goroutine, so that a
// slow handler does not stall the session and nested calls in either
// direction cannot deadlock.
type rpcConn struct {
	transport Connection
	owner     connHandler
	logger    *slog.Logger

	// baseCtx parents the contexts of all incoming handlers. It is cancelled
	// when the connection shuts down.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	writeMu sync.Mutex // serializes writes to transport

	mu       sync.Mutex
	nextID   int64
	pending  map[jsonrpc2.ID]chan *jsonrpc.Response // outgoing calls awaiting responses
	incoming map[jsonrpc2.ID]*inflight              // incoming calls being handled
	queue    []*jsonrpc.Request                     // received, not yet dispatched
	err      error                                  // terminal read error, if any

	queueSig  chan struct{} // 1-buffered; signals queue growth
	done      chan struct{} // closed when the read loop exits
	closeOnce sync.Once
	closeErr  error
}

// A connHandler processes the incoming requests and notifications of an
// rpcConn. It is implemented by ClientSession and ServerSession.
type connHandler interface {
	handle(ctx context.Context, req *jsonrpc.Request) (Result, error)
}

func newRPCConn(transport Connection, owner connHandler, logger *slog.Logger) *rpcConn {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &rpcConn{
		transport:  transport,
		owner:      owner,
		logger:     logger,
		baseCtx:    ctx,
		baseCancel: cancel,
		pending:    make(map[jsonrpc2.ID]chan *jsonrpc.Response),
		incoming:   make(map[jsonrpc2.ID]*inflight),
		queueSig:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// start starts the connection's read and dispatch loops.
func (c *rpcConn) start() {
	go c.readLoop()
	go c.dispatchLoop()
}

// sessionID returns the ID assigned by the transport, if any.
func (c *rpcConn) sessionID() string {
	return c.transport.SessionID()
}

// close closes the underlying transport.
// Messages in flight and handlers in progress are abandoned.
func (c *rpcConn) close() error {
	c.closeOnce.Do(func() {
		c.baseCancel()
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// wait blocks until the connection has shut down, and returns its terminal
// error, if any. Closure by the peer, or by a call to close, is not an error.
func (c *rpcConn) wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// readLoop reads messages from the transport until it fails or is closed,
// delivering responses and queueing requests for the dispatch loop.
func (c *rpcConn) readLoop() {
	var err error
	for {
		var msg jsonrpc.Message
		msg, err = c.transport.Read(c.baseCtx)
		if err != nil {
			break
		}
		switch msg := msg.(type) {
		case *jsonrpc.Response:
			c.deliver(msg)
		case *jsonrpc.Request:
			c.mu.Lock()
			c.queue = append(c.queue, msg)
			c.mu.Unlock()
			select {
			case c.queueSig <- struct{}{}:
			default:
			}
		}
	}
	if isClosedConnError(err) || c.baseCtx.Err() != nil {
		err = nil // orderly shutdown from either side
	}
	c.shutdown(err)
}

// shutdown records the terminal error, fails all pending calls, and cancels
// all in-flight incoming handlers.
func (c *rpcConn) shutdown(err error) {
	c.baseCancel()
	c.mu.Lock()
	c.err = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	close(c.done)
	for id, ch := range pending {
		select {
		case ch <- &jsonrpc.Response{ID: id, Error: ErrConnectionClosed}:
		default:
		}
	}
}

// deliver routes a response to the call awaiting it.
// Responses with no pending call, including responses that arrive after the
// call was cancelled, are dropped.
func (c *rpcConn) deliver(resp *jsonrpc.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("mcp: dropping response with no matching call", "id", resp.ID.Raw())
		return
	}
	ch <- resp
}

// dispatchLoop drains the incoming queue in order.
func (c *rpcConn) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.queueSig:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			req := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			c.dispatch(req)
		}
	}
}

// dispatch processes one incoming request or notification.
func (c *rpcConn) dispatch(req *jsonrpc.Request) {
	if !req.IsCall() {
		// Cancellation is engine-level control flow: it must take effect even
		// while the call it names is still being handled, so it is not routed
		// through the session's handler.
		if req.Method == notificationCancelled {
			c.cancelIncoming(req)
			return
		}
		if _, err := c.owner.handle(c.baseCtx, req); err != nil {
			c.logger.Debug("mcp: notification handler failed", "method", req.Method, "err", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.mu.Lock()
	c.incoming[req.ID] = &inflight{cancel: cancel}
	c.mu.Unlock()

	go func() {
		defer cancel()
		result, err := c.owner.handle(ctx, req)

		c.mu.Lock()
		fl := c.incoming[req.ID]
		delete(c.incoming, req.ID)
		c.mu.Unlock()
		if fl != nil && fl.cancelled {
			// The peer cancelled this call: it does not expect a response.
			return
		}

		if err != nil {
			// Only coded protocol errors may reach the wire verbatim. Anything
			// else is replaced with a generic internal error, so that handler
			// failures cannot leak sensitive details to the peer; the original
			// error is logged instead.
			var wireErr *jsonrpc2.WireError
			if !errors.As(err, &wireErr) {
				c.logger.Error("mcp: method handler failed", "method", req.Method, "err", err)
				err = jsonrpc2.ErrInternal
			}
		}

		resp, rerr := jsonrpc2.NewResponse(req.ID, result, err)
		if rerr != nil {
			c.logger.Error("mcp: marshaling response", "method", req.Method, "err", rerr)
			resp, _ = jsonrpc2.NewResponse(req.ID, nil, fmt.Errorf("%w: marshaling result: %v", jsonrpc2.ErrInternal, rerr))
		}
		if werr := c.write(c.baseCtx, resp); werr != nil {
			c.logger.Debug("mcp: writing response", "method", req.Method, "err", werr)
		}
	}()
}

// cancelIncoming handles a cancellation notification from the peer.
func (c *rpcConn) cancelIncoming(req *jsonrpc.Request) {
	var params CancelledParams
	if len(req.Params) > 0 {
		if err := internaljson.Unmarshal(req.Params, &params); err != nil {
			c.logger.Debug("mcp: malformed cancellation", "err", err)
			return
		}
	}
	var id jsonrpc2.ID
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
		c.logger.Debug("mcp: cancellation with invalid request ID", "id", params.RequestID)
		return
	}
	c.mu.Lock()
	fl := c.incoming[id]
	if fl != nil {
		fl.cancelled = true
	}
	c.mu.Unlock()
	if fl != nil {
		fl.cancel()
	}
}

// call issues a call over the connection and awaits its response, returning
// the raw result.
//
// If ctx is cancelled while the call is in flight, a cancellation notification
// is sent to the peer on a best-effort basis and the context error is
// returned. A response that arrives after that is dropped.
func (c *rpcConn) call(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, fmt.Errorf("%q: %w", method, ErrConnectionClosed)
	default:
	}

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%q: %w", method, ErrConnectionClosed)
	}
	c.nextID++
	id := jsonrpc2.Int64ID(c.nextID)
	ch := make(chan *jsonrpc.Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	call, err := jsonrpc2.NewCall(id, method, params)
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("marshaling %q params: %w", method, err)
	}
	if err := c.write(ctx, call); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		// The request was written: tell the peer to stop working on it.
		params := &CancelledParams{RequestID: id.Raw(), Reason: ctx.Err().Error()}
		if note, err := jsonrpc2.NewNotification(notificationCancelled, params); err == nil {
			_ = c.write(context.WithoutCancel(ctx), note)
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("%q: %w", method, ErrConnectionClosed)
	}
}

// notify sends a notification over the connection. It does not await any
// acknowledgement.
func (c *rpcConn) notify(ctx context.Context, method string, params Params) error {
	note, err := jsonrpc2.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("marshaling %q params: %w", method, err)
	}
	return c.write(ctx, note)
}

// forget abandons the pending call with the given ID.
func (c *rpcConn) forget(id jsonrpc2.ID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// write sends a message over the transport.
func (c *rpcConn) write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.transport.Write(ctx, msg); err != nil {
		if isClosedConnError(err) {
			return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return err
	}
	return nil
}

// isClosedConnError reports whether err results from using a closed
// connection.
func isClosedConnError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

// A pinger can ping its peer and close itself. It is the part of a session
// that keepalive needs.
type pinger interface {
	Ping(ctx context.Context, params *PingParams) error
	Close() error
}

// startKeepalive pings the session's peer at the given interval, closing the
// session when a ping fails. It sets *cancelp to a function that stops the
// pinging.
func startKeepalive(session pinger, interval time.Duration, cancelp *context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	*cancelp = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, interval/2)
				err := session.Ping(pingCtx, nil)
				pingCancel()
				if err != nil {
					if ctx.Err() == nil {
						_ = session.Close()
					}
					return
				}
			}
		}
	}()
}
