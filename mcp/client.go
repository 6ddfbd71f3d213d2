// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// A Client is an MCP client, which may be connected to an MCP server using
// [Client.Connect].
//
// One client may be connected to multiple servers: each call to Connect
// establishes a new [ClientSession]. Roots added with [Client.AddRoots] are
// shared by all sessions.
type Client struct {
	impl *Implementation
	opts ClientOptions

	mu       sync.Mutex
	roots    *featureSet[*Root]
	sessions []*ClientSession

	sendingMethodHandler_   MethodHandler
	receivingMethodHandler_ MethodHandler

	telemetry *telemetry
}

// NewClient creates a new [Client].
//
// Use [Client.Connect] to connect it to an MCP server.
//
// The first argument must not be nil.
//
// If non-nil, the provided options configure the Client.
func NewClient(impl *Implementation, opts *ClientOptions) *Client {
	if impl == nil {
		panic("nil Implementation")
	}
	c := &Client{
		impl:                    impl,
		roots:                   newFeatureSet(func(r *Root) string { return r.URI }),
		sendingMethodHandler_:   defaultSendingMethodHandler,
		receivingMethodHandler_: defaultReceivingMethodHandler,
	}
	if opts != nil {
		c.opts = *opts
	}
	if c.opts.CreateMessageHandler != nil && c.opts.CreateMessageWithToolsHandler != nil {
		panic("at most one of CreateMessageHandler and CreateMessageWithToolsHandler may be set")
	}
	// Telemetry forms the innermost layer of both handler chains, so that user
	// middleware observes instrumented operations.
	c.telemetry = newTelemetry("client", c.opts.MeterProvider, c.opts.TracerProvider)
	c.sendingMethodHandler_ = c.telemetry.sending(c.sendingMethodHandler_)
	c.receivingMethodHandler_ = c.telemetry.receiving(c.receivingMethodHandler_)
	return c
}

// ClientOptions configures the behavior of the client.
type ClientOptions struct {
	// Capabilities declares the capabilities advertised during initialization.
	//
	// If nil, capabilities are inferred from the configured handlers, and
	// roots are advertised with listChanged support. If non-nil, the declared
	// capabilities are used as given, except that configured handlers still
	// imply their capability (for example, setting CreateMessageHandler
	// guarantees the sampling capability is advertised).
	Capabilities *ClientCapabilities

	// CreateMessageHandler handles sampling requests from the server.
	// Setting it advertises the sampling capability.
	CreateMessageHandler func(context.Context, *CreateMessageRequest) (*CreateMessageResult, error)
	// CreateMessageWithToolsHandler handles sampling requests from the server,
	// including requests that offer tools to the model. Setting it advertises
	// the sampling and sampling.tools capabilities.
	//
	// At most one of CreateMessageHandler and CreateMessageWithToolsHandler
	// may be set.
	CreateMessageWithToolsHandler func(context.Context, *CreateMessageWithToolsRequest) (*CreateMessageWithToolsResult, error)
	// ElicitationHandler handles requests for user input from the server.
	// Setting it advertises the elicitation capability.
	//
	// For form elicitation, accepted content is validated against the
	// requested schema after the handler returns, with schema defaults
	// applied.
	ElicitationHandler func(context.Context, *ElicitRequest) (*ElicitResult, error)

	// Handlers for server notifications.
	ToolListChangedHandler        func(context.Context, *ToolListChangedRequest)
	PromptListChangedHandler      func(context.Context, *PromptListChangedRequest)
	ResourceListChangedHandler    func(context.Context, *ResourceListChangedRequest)
	ResourceUpdatedHandler        func(context.Context, *ResourceUpdatedNotificationRequest)
	LoggingMessageHandler         func(context.Context, *LoggingMessageRequest)
	ProgressNotificationHandler   func(context.Context, *ProgressNotificationClientRequest)
	ElicitationCompleteHandler    func(context.Context, *ElicitationCompleteNotificationRequest)
	TaskStatusNotificationHandler func(context.Context, *TaskStatusNotificationRequest)

	// If non-zero, KeepAlive defines an interval for regular "ping" requests.
	// If the peer fails to respond to pings originating from the keepalive
	// check, the session is automatically closed.
	KeepAlive time.Duration

	// InitializeTimeout bounds the initialization handshake performed by
	// [Client.Connect]. Zero means [DefaultInitializeTimeout]; a negative
	// value means no timeout. When the handshake exceeds the timeout, Connect
	// fails with an error wrapping [ErrInitializeTimeout].
	InitializeTimeout time.Duration

	// MeterProvider and TracerProvider supply the OpenTelemetry providers used
	// to instrument the client's sessions. If nil, the otel globals are used.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// DefaultInitializeTimeout is the default bound on the initialization
// handshake performed by [Client.Connect].
const DefaultInitializeTimeout = 60 * time.Second

// ErrInitializeTimeout is returned (wrapped) by [Client.Connect] when the
// initialization handshake does not complete within the configured timeout.
var ErrInitializeTimeout = errors.New("initialize handshake timed out")

// capabilities returns the capabilities to advertise during initialization.
func (c *Client) capabilities() *ClientCapabilities {
	var caps *ClientCapabilities
	if c.opts.Capabilities != nil {
		caps = c.opts.Capabilities.clone()
	} else {
		caps = &ClientCapabilities{}
		caps.Roots.ListChanged = true
	}
	if c.opts.CreateMessageHandler != nil || c.opts.CreateMessageWithToolsHandler != nil {
		if caps.Sampling == nil {
			caps.Sampling = &SamplingCapabilities{}
		}
		if c.opts.CreateMessageWithToolsHandler != nil && caps.Sampling.Tools == nil {
			caps.Sampling.Tools = &SamplingToolsCapabilities{}
		}
	}
	if c.opts.ElicitationHandler != nil && caps.Elicitation == nil {
		caps.Elicitation = &ElicitationCapabilities{}
	}
	return caps
}

// ClientSessionOptions configures a single client session.
// It is reserved for future use; pass nil to [Client.Connect].
type ClientSessionOptions struct{}

// clientSessionState is the initialization state of a client session.
type clientSessionState struct {
	InitializeResult *InitializeResult
}

// A clientSessionUpdater is notified of changes to the client session state.
// Connections may implement it to observe the result of initialization; the
// streamable client connection uses this to learn the negotiated protocol
// version.
type clientSessionUpdater interface {
	sessionUpdated(clientSessionState)
}

// Connect begins an MCP session by connecting over the given transport and
// initializing it, and returns the resulting session.
//
// Typically it is the client's responsibility to close a session, but in the
// event of a server-side closure the session terminates as well:
// [ClientSession.Wait] reports when the session has ended.
func (c *Client) Connect(ctx context.Context, t Transport, opts *ClientSessionOptions) (*ClientSession, error) {
	_ = opts
	mcpConn, err := t.Connect(ctx)
	if err != nil {
		return nil, err
	}
	cs := &ClientSession{client: c, mcpConn: mcpConn}
	cs.rpc = newRPCConn(mcpConn, cs, nil)
	cs.rpc.start()

	initCtx, cancel := ctx, context.CancelFunc(func() {})
	timeout := c.opts.InitializeTimeout
	if timeout == 0 {
		timeout = DefaultInitializeTimeout
	}
	if timeout > 0 {
		initCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	err = c.initialize(initCtx, cs)
	cancel()
	if err != nil {
		_ = cs.Close()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %v", ErrInitializeTimeout, timeout)
		}
		return nil, err
	}

	if c.opts.KeepAlive > 0 {
		startKeepalive(cs, c.opts.KeepAlive, &cs.keepaliveCancel)
	}

	c.mu.Lock()
	c.sessions = append(c.sessions, cs)
	c.mu.Unlock()
	start := time.Now()
	go func() {
		_ = cs.rpc.wait()
		c.telemetry.recordSessionEnd(cs, start)
		c.forgetSession(cs)
	}()
	return cs, nil
}

// initialize performs the initialization handshake: an initialize call
// followed by an initialized notification.
func (c *Client) initialize(ctx context.Context, cs *ClientSession) error {
	caps := c.capabilities()
	params := &InitializeParams{
		ProtocolVersion: clientProtocolVersion(),
		ClientInfo:      c.impl,
		Capabilities:    caps,
	}
	var req Request = newClientRequest(cs, params)
	if caps.RootsV2 != nil {
		// Encode the roots capability in its corrected pointer form; see the
		// note on [ClientCapabilities.RootsV2].
		req = newClientRequest(cs, params.toV2())
	}
	res, err := handleSend[*InitializeResult](ctx, methodInitialize, req)
	if err != nil {
		return err
	}
	if !slices.Contains(supportedProtocolVersions, res.ProtocolVersion) {
		return fmt.Errorf("server protocol version %q is not supported", res.ProtocolVersion)
	}
	cs.state.InitializeResult = res
	if u, ok := cs.mcpConn.(clientSessionUpdater); ok {
		u.sessionUpdated(cs.state)
	}
	return handleNotify(ctx, notificationInitialized, newClientRequest(cs, &InitializedParams{}))
}

func (c *Client) forgetSession(cs *ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = slices.DeleteFunc(c.sessions, func(s *ClientSession) bool {
		return s == cs
	})
}

// Sessions iterates over the client's active sessions.
func (c *Client) Sessions() iter.Seq[*ClientSession] {
	c.mu.Lock()
	sessions := slices.Clone(c.sessions)
	c.mu.Unlock()
	return slices.Values(sessions)
}

// AddSendingMiddleware wraps the current sending method handler using the
// provided middleware. Middleware is applied from right to left, so that the
// first one is executed first.
//
// For example, AddSendingMiddleware(m1, m2, m3) augments the method handler as
// m1(m2(m3(handler))).
//
// Sending middleware is called when a request is sent. It is useful for tasks
// such as tracing, metrics, and adding progress tokens.
func (c *Client) AddSendingMiddleware(middleware ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addMiddleware(&c.sendingMethodHandler_, middleware)
}

// AddReceivingMiddleware wraps the current receiving method handler using the
// provided middleware. Middleware is applied from right to left, so that the
// first one is executed first.
//
// For example, AddReceivingMiddleware(m1, m2, m3) augments the method handler
// as m1(m2(m3(handler))).
//
// Receiving middleware is called when a request is received. It is useful for
// tasks such as authentication, request logging and metrics.
func (c *Client) AddReceivingMiddleware(middleware ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addMiddleware(&c.receivingMethodHandler_, middleware)
}

// AddRoots adds the given roots to the client, replacing any with the same
// URIs, and notifies any connected servers.
func (c *Client) AddRoots(roots ...*Root) {
	c.changeAndNotify(notificationRootsListChanged, &RootsListChangedParams{},
		func() bool { c.roots.add(roots...); return true })
}

// RemoveRoots removes the roots with the given URIs, and notifies any
// connected servers if the list has changed. It is not an error to remove a
// nonexistent root.
func (c *Client) RemoveRoots(uris ...string) {
	c.changeAndNotify(notificationRootsListChanged, &RootsListChangedParams{},
		func() bool { return c.roots.remove(uris...) })
}

// changeAndNotify applies a change to the client and, if it reports that
// something changed, notifies all connected sessions.
//
// Notifications are sent synchronously, so that a roots/list call made by a
// server after its handler observes the notification sees the change.
func (c *Client) changeAndNotify(notification string, params Params, change func() bool) {
	c.mu.Lock()
	changed := change()
	sessions := slices.Clone(c.sessions)
	c.mu.Unlock()
	if !changed {
		return
	}
	for _, cs := range sessions {
		if err := handleNotify(context.Background(), notification, newClientRequest(cs, params)); err != nil {
			cs.rpc.logger.Warn("mcp: sending notification", "method", notification, "error", err)
		}
	}
}

// clientMethodInfos is the table of methods a client can receive. It doubles
// as the table of methods a server can send.
var clientMethodInfos = map[string]methodInfo{
	methodPing:                      newClientMethodInfo((*Client).ping, 0),
	methodListRoots:                 newClientMethodInfo((*Client).listRoots, 0),
	methodCreateMessage:             newClientMethodInfo((*Client).createMessage, 0),
	methodElicit:                    newClientMethodInfo((*Client).elicit, 0),
	notificationToolListChanged:     newClientMethodInfo((*Client).toolListChanged, notification),
	notificationPromptListChanged:   newClientMethodInfo((*Client).promptListChanged, notification),
	notificationResourceListChanged: newClientMethodInfo((*Client).resourceListChanged, notification),
	notificationResourceUpdated:     newClientMethodInfo((*Client).resourceUpdated, notification),
	notificationLoggingMessage:      newClientMethodInfo((*Client).loggingMessage, notification),
	notificationProgress:            newClientMethodInfo((*Client).progress, notification),
	notificationElicitationComplete: newClientMethodInfo((*Client).elicitationComplete, notification),
	notificationTaskStatus:          newClientMethodInfo((*Client).taskStatus, notification),
}

func (c *Client) ping(context.Context, *ClientRequest[*PingParams]) (*emptyResult, error) {
	return &emptyResult{}, nil
}

func (c *Client) listRoots(context.Context, *ListRootsRequest) (*ListRootsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	roots := slices.Collect(c.roots.all())
	if roots == nil {
		roots = []*Root{} // avoid JSON null
	}
	return &ListRootsResult{Roots: roots}, nil
}

// createMessage dispatches a sampling request to the configured handler.
//
// Both plain and tool-augmented sampling arrive as the superset params type.
// When only the plain CreateMessageHandler is configured, the params are
// narrowed before the call and the result widened after it.
func (c *Client) createMessage(ctx context.Context, req *CreateMessageWithToolsRequest) (*CreateMessageWithToolsResult, error) {
	p := req.Params
	withTools := p.Tools != nil || p.ToolChoice != nil
	if h := c.opts.CreateMessageWithToolsHandler; h != nil {
		res, err := h(ctx, req)
		if err != nil {
			return nil, err
		}
		if !withTools && len(res.Content) > 1 {
			return nil, fmt.Errorf("sampling handler returned %d content blocks, but the request supports only one; the server must use CreateMessageWithTools to receive multiple", len(res.Content))
		}
		return res, nil
	}
	h := c.opts.CreateMessageHandler
	if h == nil {
		return nil, &jsonrpc.Error{Code: CodeUnsupportedMethod, Message: "client does not support sampling"}
	}
	base, err := p.toBase()
	if err != nil {
		return nil, err
	}
	res, err := h(ctx, &CreateMessageRequest{Session: req.Session, Params: base})
	if err != nil {
		return nil, err
	}
	return res.toWithTools(), nil
}

func (c *Client) elicit(ctx context.Context, req *ElicitRequest) (*ElicitResult, error) {
	if c.opts.ElicitationHandler == nil {
		return nil, &jsonrpc.Error{Code: CodeUnsupportedMethod, Message: "client does not support elicitation"}
	}
	p := req.Params
	var resolved *jsonschema.Resolved
	if p.Mode == "url" {
		if p.URL == "" {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "URL must be set for URL elicitation"}
		}
		if p.RequestedSchema != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "requestedSchema must not be set for URL elicitation"}
		}
	} else if p.RequestedSchema != nil {
		schema, err := elicitSchema(p.RequestedSchema)
		if err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: fmt.Sprintf("invalid elicit schema: %v", err)}
		}
		if err := validateElicitSchema(schema); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		if resolved, err = resolveElicitSchema(schema); err != nil {
			return nil, fmt.Errorf("resolving elicit schema: %w", err)
		}
	}
	res, err := c.opts.ElicitationHandler(ctx, req)
	if err != nil {
		return nil, err
	}
	// Content only accompanies an accepted elicitation; declined and cancelled
	// results are returned as is.
	if res.Action == "accept" && resolved != nil {
		if res.Content == nil {
			res.Content = map[string]any{}
		}
		if err := resolved.ApplyDefaults(&res.Content); err != nil {
			return nil, fmt.Errorf("applying elicit schema defaults: %w", err)
		}
		if err := resolved.Validate(res.Content); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// elicitSchema converts the requested schema, which may be any JSON-marshalable
// value, into a *jsonschema.Schema.
func elicitSchema(v any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	schema := new(jsonschema.Schema)
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// validElicitStringFormats are the string formats allowed for elicitation form
// fields.
var validElicitStringFormats = []string{"email", "uri", "date", "date-time"}

// validateElicitSchema checks that schema stays within the subset of JSON
// schema allowed for form elicitation: an object schema whose properties are
// all primitive.
func validateElicitSchema(schema *jsonschema.Schema) error {
	if schema == nil {
		return nil
	}
	if schema.Type != "object" {
		return fmt.Errorf("elicit schema must be of type 'object', got %q", schema.Type)
	}
	for _, name := range slices.Sorted(maps.Keys(schema.Properties)) {
		if err := validateElicitProperty(name, schema.Properties[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateElicitProperty(name string, prop *jsonschema.Schema) error {
	if prop == nil {
		return nil
	}
	if len(prop.Properties) > 0 {
		return fmt.Errorf("elicit schema property %q contains nested properties, only primitive properties are allowed", name)
	}
	switch prop.Type {
	case "string":
		if prop.Format != "" && !slices.Contains(validElicitStringFormats, prop.Format) {
			return fmt.Errorf("elicit schema property %q has unsupported format %q, only email, uri, date, and date-time are allowed", name, prop.Format)
		}
		if prop.MinLength != nil && *prop.MinLength < 0 {
			return fmt.Errorf("elicit schema property %q has invalid minLength %d, must be non-negative", name, *prop.MinLength)
		}
		if prop.MaxLength != nil && *prop.MaxLength < 0 {
			return fmt.Errorf("elicit schema property %q has invalid maxLength %d, must be non-negative", name, *prop.MaxLength)
		}
		if prop.MinLength != nil && prop.MaxLength != nil && *prop.MaxLength < *prop.MinLength {
			return fmt.Errorf("elicit schema property %q has maxLength %d less than minLength %d", name, *prop.MaxLength, *prop.MinLength)
		}
		if len(prop.Default) > 0 {
			var s string
			if json.Unmarshal(prop.Default, &s) != nil {
				return fmt.Errorf("elicit schema property %q has invalid default value, must be a string", name)
			}
		}
	case "number", "integer":
		if prop.Minimum != nil && prop.Maximum != nil && *prop.Maximum < *prop.Minimum {
			return fmt.Errorf("elicit schema property %q has maximum %v less than minimum %v", name, *prop.Maximum, *prop.Minimum)
		}
		if len(prop.Default) > 0 {
			var f float64
			if json.Unmarshal(prop.Default, &f) != nil {
				return fmt.Errorf("elicit schema property %q has default value that cannot be interpreted as an int or float", name)
			}
		}
	case "boolean":
		if len(prop.Default) > 0 {
			var b bool
			if json.Unmarshal(prop.Default, &b) != nil {
				return fmt.Errorf("elicit schema property %q has invalid default value, must be a bool", name)
			}
		}
	default:
		return fmt.Errorf("elicit schema property %q has unsupported type %q, only string, number, integer, and boolean are allowed", name, prop.Type)
	}
	if len(prop.Enum) > 0 {
		if names, ok := prop.Extra["enumNames"]; ok {
			arr, ok := names.([]any)
			if !ok {
				return fmt.Errorf("elicit schema property %q has invalid enumNames type, must be an array", name)
			}
			if len(arr) != len(prop.Enum) {
				return fmt.Errorf("elicit schema property %q has %d enum values but %d enumNames, they must match", name, len(prop.Enum), len(arr))
			}
		}
	}
	return nil
}

// resolveElicitSchema resolves the schema for validating accepted content.
//
// Enum options may carry display titles by nesting the literal under "const"
// in a oneOf branch, as in {"const": "high", "title": "High Priority"}. Such
// branches are rewritten so that their const is the bare literal, which is
// what accepted content holds.
func resolveElicitSchema(schema *jsonschema.Schema) (*jsonschema.Resolved, error) {
	for _, prop := range schema.Properties {
		for _, branch := range prop.OneOf {
			if branch == nil || branch.Const == nil {
				continue
			}
			if m, ok := (*branch.Const).(map[string]any); ok {
				if v, ok := m["const"]; ok {
					branch.Const = &v
				}
			}
		}
	}
	return schema.Resolve(nil)
}

func (c *Client) toolListChanged(ctx context.Context, req *ToolListChangedRequest) (*emptyResult, error) {
	if h := c.opts.ToolListChangedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (c *Client) promptListChanged(ctx context.Context, req *PromptListChangedRequest) (*emptyResult, error) {
	if h := c.opts.PromptListChangedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (c *Client) resourceListChanged(ctx context.Context, req *ResourceListChangedRequest) (*emptyResult, error) {
	if h := c.opts.ResourceListChangedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (c *Client) resourceUpdated(ctx context.Context, req *ResourceUpdatedNotificationRequest) (*emptyResult, error) {
	if h := c.opts.ResourceUpdatedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (c *Client) loggingMessage(ctx context.Context, req *LoggingMessageRequest) (*emptyResult, error) {
	if h := c.opts.LoggingMessageHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (c *Client) progress(ctx context.Context, req *ProgressNotificationClientRequest) (*emptyResult, error) {
	if h := c.opts.ProgressNotificationHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (c *Client) elicitationComplete(ctx context.Context, req *ElicitationCompleteNotificationRequest) (*emptyResult, error) {
	if h := c.opts.ElicitationCompleteHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (c *Client) taskStatus(ctx context.Context, req *TaskStatusNotificationRequest) (*emptyResult, error) {
	if h := c.opts.TaskStatusNotificationHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

// A ClientSession is a logical connection with an MCP server. Its methods can
// be used to send requests or notifications to the server. Create a session by
// calling [Client.Connect].
//
// Call [ClientSession.Close] to close the connection, or await server
// termination with [ClientSession.Wait].
type ClientSession struct {
	client          *Client
	mcpConn         Connection
	rpc             *rpcConn
	state           clientSessionState
	keepaliveCancel context.CancelFunc
}

// ID returns the session ID assigned by the transport, or the empty string if
// the transport does not define one.
func (cs *ClientSession) ID() string { return cs.rpc.sessionID() }

// Close performs a graceful shutdown of the connection, preventing new
// requests from being handled, and waiting for ongoing requests to return.
// Close then terminates the connection.
func (cs *ClientSession) Close() error {
	if cs.keepaliveCancel != nil {
		// Note: keepaliveCancel access is safe without a mutex: it is set at
		// most once, before the session is returned from Connect.
		cs.keepaliveCancel()
	}
	return cs.rpc.close()
}

// Wait waits for the connection to be closed by the server.
// Generally, clients should be responsible for closing the connection.
func (cs *ClientSession) Wait() error {
	return cs.rpc.wait()
}

// InitializeResult returns the result of the initialize request, which
// includes the server's capabilities and implementation details.
func (cs *ClientSession) InitializeResult() *InitializeResult {
	return cs.state.InitializeResult
}

func (cs *ClientSession) conn() *rpcConn { return cs.rpc }

func (cs *ClientSession) sendingMethodInfos() map[string]methodInfo { return serverMethodInfos }

func (cs *ClientSession) receivingMethodInfos() map[string]methodInfo { return clientMethodInfos }

func (cs *ClientSession) sendingMethodHandler() MethodHandler {
	cs.client.mu.Lock()
	defer cs.client.mu.Unlock()
	return cs.client.sendingMethodHandler_
}

func (cs *ClientSession) receivingMethodHandler() MethodHandler {
	cs.client.mu.Lock()
	defer cs.client.mu.Unlock()
	return cs.client.receivingMethodHandler_
}

// handle dispatches an incoming request or notification from the server.
func (cs *ClientSession) handle(ctx context.Context, req *jsonrpc.Request) (Result, error) {
	if req.IsCall() {
		// Record the incoming request ID, so that messages sent while handling
		// the call can be correlated with it; see [idContextKey].
		ctx = context.WithValue(ctx, idContextKey{}, req.ID)
	}
	return handleReceive(ctx, cs, req)
}

// Ping makes an MCP "ping" request to the server.
func (cs *ClientSession) Ping(ctx context.Context, params *PingParams) error {
	_, err := handleSend[*emptyResult](ctx, methodPing, newClientRequest(cs, orZero(params)))
	return err
}

// ListTools lists tools that are currently available on the server.
func (cs *ClientSession) ListTools(ctx context.Context, params *ListToolsParams) (*ListToolsResult, error) {
	return handleSend[*ListToolsResult](ctx, methodListTools, newClientRequest(cs, orZero(params)))
}

// CallTool calls the tool described in params, returning its result.
//
// For task-augmented execution, use [ClientSession.CallToolTask] instead;
// params.Task must not be set here.
func (cs *ClientSession) CallTool(ctx context.Context, params *CallToolParams) (*CallToolResult, error) {
	if params != nil && params.Task != nil {
		return nil, fmt.Errorf("CallTool: params.Task must not be set; use CallToolTask")
	}
	return handleSend[*CallToolResult](ctx, methodCallTool, newClientRequest(cs, orZero(params)))
}

// ListPrompts lists prompts that are currently available on the server.
func (cs *ClientSession) ListPrompts(ctx context.Context, params *ListPromptsParams) (*ListPromptsResult, error) {
	return handleSend[*ListPromptsResult](ctx, methodListPrompts, newClientRequest(cs, orZero(params)))
}

// GetPrompt gets a prompt from the server.
func (cs *ClientSession) GetPrompt(ctx context.Context, params *GetPromptParams) (*GetPromptResult, error) {
	return handleSend[*GetPromptResult](ctx, methodGetPrompt, newClientRequest(cs, orZero(params)))
}

// ListResources lists the resources that are currently available on the
// server.
func (cs *ClientSession) ListResources(ctx context.Context, params *ListResourcesParams) (*ListResourcesResult, error) {
	return handleSend[*ListResourcesResult](ctx, methodListResources, newClientRequest(cs, orZero(params)))
}

// ListResourceTemplates lists the resource templates that are currently
// available on the server.
func (cs *ClientSession) ListResourceTemplates(ctx context.Context, params *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	return handleSend[*ListResourceTemplatesResult](ctx, methodListResourceTemplates, newClientRequest(cs, orZero(params)))
}

// ReadResource asks the server to read a resource and return its contents.
func (cs *ClientSession) ReadResource(ctx context.Context, params *ReadResourceParams) (*ReadResourceResult, error) {
	return handleSend[*ReadResourceResult](ctx, methodReadResource, newClientRequest(cs, orZero(params)))
}

// Subscribe sends a "resources/subscribe" request to the server, asking for
// notifications when the named resource changes. It returns an error if the
// server does not support subscriptions.
func (cs *ClientSession) Subscribe(ctx context.Context, params *SubscribeParams) error {
	_, err := handleSend[*emptyResult](ctx, methodSubscribe, newClientRequest(cs, orZero(params)))
	return err
}

// Unsubscribe sends a "resources/unsubscribe" request to the server, cancelling
// a previous subscription.
func (cs *ClientSession) Unsubscribe(ctx context.Context, params *UnsubscribeParams) error {
	_, err := handleSend[*emptyResult](ctx, methodUnsubscribe, newClientRequest(cs, orZero(params)))
	return err
}

// SetLoggingLevel sets the minimum level for log messages sent by the server.
// Messages below that level are not sent.
func (cs *ClientSession) SetLoggingLevel(ctx context.Context, params *SetLoggingLevelParams) error {
	_, err := handleSend[*emptyResult](ctx, methodSetLevel, newClientRequest(cs, orZero(params)))
	return err
}

// Complete asks the server for completion suggestions for a prompt argument
// or resource template variable.
func (cs *ClientSession) Complete(ctx context.Context, params *CompleteParams) (*CompleteResult, error) {
	return handleSend[*CompleteResult](ctx, methodComplete, newClientRequest(cs, orZero(params)))
}

// NotifyProgress sends a progress notification from the client to the server
// associated with this session. This can be used if the client is performing a
// long-running task that was initiated by the server.
func (cs *ClientSession) NotifyProgress(ctx context.Context, params *ProgressNotificationParams) error {
	return handleNotify(ctx, notificationProgress, newClientRequest(cs, orZero(params)))
}

// Tools iterates over the server's tools, fetching pages as needed. The
// params argument may set the initial cursor; it can be nil.
//
// Iteration stops at the first error it encounters.
func (cs *ClientSession) Tools(ctx context.Context, params *ListToolsParams) iter.Seq2[*Tool, error] {
	if params == nil {
		params = &ListToolsParams{}
	} else {
		params = shallowClone(params)
	}
	return paginate(ctx, params, cs.ListTools, func(r *ListToolsResult) []*Tool { return r.Tools })
}

// Resources iterates over the server's resources, fetching pages as needed.
// The params argument may set the initial cursor; it can be nil.
//
// Iteration stops at the first error it encounters.
func (cs *ClientSession) Resources(ctx context.Context, params *ListResourcesParams) iter.Seq2[*Resource, error] {
	if params == nil {
		params = &ListResourcesParams{}
	} else {
		params = shallowClone(params)
	}
	return paginate(ctx, params, cs.ListResources, func(r *ListResourcesResult) []*Resource { return r.Resources })
}

// ResourceTemplates iterates over the server's resource templates, fetching
// pages as needed. The params argument may set the initial cursor; it can be
// nil.
//
// Iteration stops at the first error it encounters.
func (cs *ClientSession) ResourceTemplates(ctx context.Context, params *ListResourceTemplatesParams) iter.Seq2[*ResourceTemplate, error] {
	if params == nil {
		params = &ListResourceTemplatesParams{}
	} else {
		params = shallowClone(params)
	}
	return paginate(ctx, params, cs.ListResourceTemplates, func(r *ListResourceTemplatesResult) []*ResourceTemplate { return r.ResourceTemplates })
}

// Prompts iterates over the server's prompts, fetching pages as needed. The
// params argument may set the initial cursor; it can be nil.
//
// Iteration stops at the first error it encounters.
func (cs *ClientSession) Prompts(ctx context.Context, params *ListPromptsParams) iter.Seq2[*Prompt, error] {
	if params == nil {
		params = &ListPromptsParams{}
	} else {
		params = shallowClone(params)
	}
	return paginate(ctx, params, cs.ListPrompts, func(r *ListPromptsResult) []*Prompt { return r.Prompts })
}

// A listParams is a params type for a paginated list method.
type listParams interface {
	cursorPtr() *string
}

// A listResult is a result type for a paginated list method.
type listResult interface {
	nextCursorPtr() *string
}

// paginate returns an iterator over the items of a paginated list method,
// fetching pages until the server reports no further cursor or an error
// occurs. The caller must own params: its cursor is advanced in place.
func paginate[P listParams, R listResult, T any](ctx context.Context, params P, list func(context.Context, P) (R, error), items func(R) []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			res, err := list(ctx, params)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items(res) {
				if !yield(item, nil) {
					return
				}
			}
			next := *res.nextCursorPtr()
			if next == "" {
				return
			}
			*params.cursorPtr() = next
		}
	}
}
