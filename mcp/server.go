// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-runtime/internal/jsonrpc2"
	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// notificationDelay is how long the server waits before sending a scheduled
// list-changed notification. Changes made during the delay are coalesced into
// a single notification.
const notificationDelay = 10 * time.Millisecond

// defaultPageSize is the maximum number of items returned from a list method
// when [ServerOptions.PageSize] is unset.
const defaultPageSize = 1000

// A Server is an instance of an MCP server.
//
// Servers expose server-side MCP features, which can serve one or more MCP
// sessions by using [Server.Run] or [Server.Connect].
type Server struct {
	impl *Implementation
	opts ServerOptions

	mu                    sync.Mutex
	tools                 *featureSet[*serverTool]
	prompts               *featureSet[*serverPrompt]
	resources             *featureSet[*serverResource]
	resourceTemplates     *featureSet[*serverResourceTemplate]
	sessions              []*ServerSession
	pendingNotifications  map[string]bool // notification methods scheduled but not yet sent
	resourceSubscriptions map[string]map[*ServerSession]bool

	sendingMethodHandler_   MethodHandler
	receivingMethodHandler_ MethodHandler

	telemetry *telemetry

	tasks *serverTasks
}

// ServerOptions are options for configuring the server.
type ServerOptions struct {
	// Instructions describes how to use the server and its features. It is
	// reported to clients in the initialize response.
	Instructions string

	// Capabilities declares the capabilities advertised during initialization.
	//
	// If nil, capabilities are inferred from the server's features and
	// handlers. If non-nil, the declared capabilities are used as given.
	Capabilities *ServerCapabilities

	// CompletionHandler handles completion/complete requests. Setting it
	// advertises the completions capability.
	CompletionHandler func(context.Context, *CompleteRequest) (*CompleteResult, error)

	// SubscribeHandler is called for resources/subscribe requests. Setting it
	// advertises the resources.subscribe capability; the server tracks the
	// subscription and delivers [Server.ResourceUpdated] notifications to
	// subscribed sessions.
	SubscribeHandler func(context.Context, *SubscribeRequest) error
	// UnsubscribeHandler is called for resources/unsubscribe requests.
	// It must be set if SubscribeHandler is set.
	UnsubscribeHandler func(context.Context, *UnsubscribeRequest) error

	// Handlers for client notifications.
	InitializedHandler          func(context.Context, *InitializedRequest)
	RootsListChangedHandler     func(context.Context, *RootsListChangedRequest)
	ProgressNotificationHandler func(context.Context, *ProgressNotificationServerRequest)

	// If non-zero, KeepAlive defines an interval for regular "ping" requests.
	// If the peer fails to respond to pings originating from the keepalive
	// check, the session is automatically closed.
	KeepAlive time.Duration

	// PageSize is the maximum number of items to return in a single page for
	// list methods (e.g. tools/list). It defaults to 1000.
	PageSize int

	// SchemaCache caches derived and resolved tool schemas, so that servers
	// registering the same tool shapes repeatedly do not redo that work. If
	// nil, a process-wide cache is used.
	SchemaCache *schemaCache

	// MeterProvider and TracerProvider supply the OpenTelemetry providers used
	// to instrument the server's sessions. If nil, the otel globals are used.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// NewServer creates a new MCP server. The resulting server has no features:
// add features using the various Server.AddXXX methods, and the [AddTool]
// function.
//
// The server can be connected to one or more MCP clients using [Server.Run]
// or [Server.Connect].
//
// The first argument must not be nil.
//
// If non-nil, the provided options are used to configure the server.
func NewServer(impl *Implementation, opts *ServerOptions) *Server {
	if impl == nil {
		panic("nil Implementation")
	}
	s := &Server{
		impl:                    impl,
		tools:                   newFeatureSet(func(t *serverTool) string { return t.tool.Name }),
		prompts:                 newFeatureSet(func(p *serverPrompt) string { return p.prompt.Name }),
		resources:               newFeatureSet(func(r *serverResource) string { return r.resource.URI }),
		resourceTemplates:       newFeatureSet(func(t *serverResourceTemplate) string { return t.resourceTemplate.URITemplate }),
		pendingNotifications:    make(map[string]bool),
		resourceSubscriptions:   make(map[string]map[*ServerSession]bool),
		sendingMethodHandler_:   defaultSendingMethodHandler,
		receivingMethodHandler_: defaultReceivingMethodHandler,
		tasks:                   newServerTasks(),
	}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.PageSize < 0 {
		panic(fmt.Errorf("invalid page size %d", s.opts.PageSize))
	}
	if s.opts.PageSize == 0 {
		s.opts.PageSize = defaultPageSize
	}
	if s.opts.SubscribeHandler != nil && s.opts.UnsubscribeHandler == nil {
		panic("SubscribeHandler set without UnsubscribeHandler")
	}
	if s.opts.UnsubscribeHandler != nil && s.opts.SubscribeHandler == nil {
		panic("UnsubscribeHandler set without SubscribeHandler")
	}
	// Telemetry forms the innermost layer of both handler chains, so that user
	// middleware observes instrumented operations.
	s.telemetry = newTelemetry("server", s.opts.MeterProvider, s.opts.TracerProvider)
	s.sendingMethodHandler_ = s.telemetry.sending(s.sendingMethodHandler_)
	s.receivingMethodHandler_ = s.telemetry.receiving(s.receivingMethodHandler_)
	return s
}

// capabilities returns the capabilities to advertise during initialization.
func (s *Server) capabilities() *ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.Capabilities != nil {
		return s.opts.Capabilities.clone()
	}
	caps := &ServerCapabilities{Logging: &LoggingCapabilities{}}
	if s.opts.CompletionHandler != nil {
		caps.Completions = &CompletionCapabilities{}
	}
	if len(s.tools.features) > 0 {
		caps.Tools = &ToolCapabilities{ListChanged: true}
	}
	if len(s.prompts.features) > 0 {
		caps.Prompts = &PromptCapabilities{ListChanged: true}
	}
	if len(s.resources.features) > 0 || len(s.resourceTemplates.features) > 0 {
		caps.Resources = &ResourceCapabilities{ListChanged: true}
		if s.opts.SubscribeHandler != nil {
			caps.Resources.Subscribe = true
		}
	}
	return caps
}

// AddTool adds a [Tool] to the server, or replaces one with the same name.
// The tool's input schema must be non-nil. For a tool that takes no input,
// or one that accepts any input, use [AddTool] with a suitable type parameter.
//
// Unlike the top-level [AddTool] function, this method does not validate the
// tool's arguments, nor does it populate structured output: the handler
// receives the raw arguments and its result is returned as is.
func (s *Server) AddTool(t *Tool, h ToolHandler) {
	if t.InputSchema == nil {
		// The sibling [AddTool] infers a schema from its type parameter. A
		// nil schema here is most likely an oversight.
		panic(fmt.Sprintf("AddTool: tool %q has a nil input schema", t.Name))
	}
	s.addServerTool(&serverTool{tool: t, handler: h})
}

func (s *Server) addServerTool(st *serverTool) {
	s.changeAndNotify(notificationToolListChanged, &ToolListChangedParams{},
		func() bool { s.tools.add(st); return true })
}

// RemoveTools removes the tools with the given names. It is not an error to
// remove a nonexistent tool.
func (s *Server) RemoveTools(names ...string) {
	s.changeAndNotify(notificationToolListChanged, &ToolListChangedParams{},
		func() bool { return s.tools.remove(names...) })
}

// AddPrompt adds a [Prompt] to the server, or replaces one with the same
// name. The handler is called when the client requests the prompt with
// prompts/get.
func (s *Server) AddPrompt(p *Prompt, h PromptHandler) {
	s.changeAndNotify(notificationPromptListChanged, &PromptListChangedParams{},
		func() bool { s.prompts.add(&serverPrompt{prompt: p, handler: h}); return true })
}

// RemovePrompts removes the prompts with the given names. It is not an error
// to remove a nonexistent prompt.
func (s *Server) RemovePrompts(names ...string) {
	s.changeAndNotify(notificationPromptListChanged, &PromptListChangedParams{},
		func() bool { return s.prompts.remove(names...) })
}

// AddResource adds a [Resource] to the server, or replaces one with the same
// URI. The handler is called when the client requests the resource with
// resources/read.
func (s *Server) AddResource(r *Resource, h ResourceHandler) {
	s.changeAndNotify(notificationResourceListChanged, &ResourceListChangedParams{},
		func() bool { s.resources.add(&serverResource{resource: r, handler: h}); return true })
}

// RemoveResources removes the resources with the given URIs. It is not an
// error to remove a nonexistent resource.
func (s *Server) RemoveResources(uris ...string) {
	s.changeAndNotify(notificationResourceListChanged, &ResourceListChangedParams{},
		func() bool { return s.resources.remove(uris...) })
}

// AddResourceTemplate adds a [ResourceTemplate] to the server, or replaces
// one with the same URI template. The handler is called for resources/read
// requests whose URI matches the template and does not name a resource added
// with [Server.AddResource].
func (s *Server) AddResourceTemplate(t *ResourceTemplate, h ResourceHandler) {
	s.changeAndNotify(notificationResourceListChanged, &ResourceListChangedParams{},
		func() bool { s.resourceTemplates.add(&serverResourceTemplate{resourceTemplate: t, handler: h}); return true })
}

// RemoveResourceTemplates removes the resource templates with the given URI
// templates. It is not an error to remove a nonexistent template.
func (s *Server) RemoveResourceTemplates(uriTemplates ...string) {
	s.changeAndNotify(notificationResourceListChanged, &ResourceListChangedParams{},
		func() bool { return s.resourceTemplates.remove(uriTemplates...) })
}

// changeAndNotify applies a change to the server and, if it reports that
// something changed, arranges for the corresponding list-changed notification
// to reach all connected sessions.
//
// Unlike client roots notifications, which are synchronous, feature
// notifications are debounced: a burst of changes produces a single
// notification per method, sent after notificationDelay.
func (s *Server) changeAndNotify(notification string, params Params, change func() bool) {
	s.mu.Lock()
	changed := change()
	schedule := changed && !s.pendingNotifications[notification]
	if schedule {
		s.pendingNotifications[notification] = true
	}
	s.mu.Unlock()
	if schedule {
		time.AfterFunc(notificationDelay, func() {
			s.sendNotification(notification, params)
		})
	}
}

// sendNotification delivers a scheduled list-changed notification to every
// connected session.
func (s *Server) sendNotification(notification string, params Params) {
	s.mu.Lock()
	delete(s.pendingNotifications, notification)
	sessions := slices.Clone(s.sessions)
	s.mu.Unlock()
	for _, ss := range sessions {
		if err := handleNotify(context.Background(), notification, newServerRequest(ss, params)); err != nil {
			ss.rpc.logger.Warn("mcp: sending notification", "method", notification, "error", err)
		}
	}
}

// ResourceUpdated sends a notifications/resources/updated notification to
// every session subscribed to the resource named by params.
func (s *Server) ResourceUpdated(ctx context.Context, params *ResourceUpdatedNotificationParams) error {
	s.mu.Lock()
	sessions := slices.Collect(maps.Keys(s.resourceSubscriptions[params.URI]))
	s.mu.Unlock()
	var errs []error
	for _, ss := range sessions {
		errs = append(errs, handleNotify(ctx, notificationResourceUpdated, newServerRequest(ss, params)))
	}
	return errors.Join(errs...)
}

// Sessions iterates over the server's active sessions.
func (s *Server) Sessions() iter.Seq[*ServerSession] {
	s.mu.Lock()
	sessions := slices.Clone(s.sessions)
	s.mu.Unlock()
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
func (s *Server) AddSendingMiddleware(middleware ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addMiddleware(&s.sendingMethodHandler_, middleware)
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
func (s *Server) AddReceivingMiddleware(middleware ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addMiddleware(&s.receivingMethodHandler_, middleware)
}

// serverMethodInfos is the table of methods a server can receive. It doubles
// as the table of methods a client can send.
var serverMethodInfos = map[string]methodInfo{
	methodInitialize:             newServerMethodInfo((*Server).initialize, 0),
	methodPing:                   newServerMethodInfo((*Server).ping, 0),
	methodListTools:              newServerMethodInfo((*Server).listTools, 0),
	methodCallTool:               callToolMethodInfo(),
	methodListPrompts:            newServerMethodInfo((*Server).listPrompts, 0),
	methodGetPrompt:              newServerMethodInfo((*Server).getPrompt, 0),
	methodListResources:          newServerMethodInfo((*Server).listResources, 0),
	methodListResourceTemplates:  newServerMethodInfo((*Server).listResourceTemplates, 0),
	methodReadResource:           newServerMethodInfo((*Server).readResource, 0),
	methodSubscribe:              newServerMethodInfo((*Server).subscribe, 0),
	methodUnsubscribe:            newServerMethodInfo((*Server).unsubscribe, 0),
	methodComplete:               newServerMethodInfo((*Server).complete, 0),
	methodSetLevel:               newServerMethodInfo((*Server).setLevel, 0),
	methodGetTask:                newServerMethodInfo((*Server).getTask, 0),
	methodListTasks:              newServerMethodInfo((*Server).listTasks, 0),
	methodCancelTask:             newServerMethodInfo((*Server).cancelTask, 0),
	methodTaskResult:             newServerMethodInfo((*Server).taskResult, 0),
	notificationInitialized:      newServerMethodInfo((*Server).initialized, notification),
	notificationRootsListChanged: newServerMethodInfo((*Server).rootsListChanged, notification),
	notificationProgress:         newServerMethodInfo((*Server).progress, notification),
}

// callToolMethodInfo builds the method info for tools/call by hand. The
// method's result is either a *CallToolResult or, for task-augmented calls, a
// *CreateTaskResult, so its handler cannot be expressed as a typed server
// method; newResult still names CallToolResult, which is what the sending
// side consults for ordinary calls.
func callToolMethodInfo() methodInfo {
	info := methodInfo{
		newParams: zeroParams[*CallToolParamsRaw](),
		newResult: zeroResult[*CallToolResult](),
		newRequest: func(session Session, params Params, extra *RequestExtra) Request {
			return &CallToolRequest{Session: session.(*ServerSession), Params: params.(*CallToolParamsRaw), Extra: extra}
		},
		handleMethod: func(ctx context.Context, method string, req Request) (Result, error) {
			r, ok := req.(*CallToolRequest)
			if !ok {
				return nil, fmt.Errorf("%w: %q: unexpected request type %T", jsonrpc2.ErrInvalidRequest, method, req)
			}
			return r.Session.server.callToolAny(ctx, r)
		},
	}
	return info
}

// initialize handles the initialize request, negotiating the protocol
// version.
func (s *Server) initialize(_ context.Context, req *ServerRequest[*InitializeParams]) (*InitializeResult, error) {
	version := req.Params.ProtocolVersion
	if !slices.Contains(supportedProtocolVersions, version) {
		// If the client requests a version we don't know, respond with our
		// latest stable version, as the spec prescribes.
		version = latestProtocolVersion
	}
	req.Session.updateState(func(state *ServerSessionState) {
		state.InitializeParams = req.Params
	})
	return &InitializeResult{
		Capabilities:    s.capabilities(),
		Instructions:    s.opts.Instructions,
		ProtocolVersion: version,
		ServerInfo:      s.impl,
	}, nil
}

func (s *Server) ping(context.Context, *ServerRequest[*PingParams]) (*emptyResult, error) {
	return &emptyResult{}, nil
}

func (s *Server) initialized(ctx context.Context, req *InitializedRequest) (*emptyResult, error) {
	req.Session.updateState(func(state *ServerSessionState) {
		state.InitializedParams = req.Params
	})
	if h := s.opts.InitializedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (s *Server) rootsListChanged(ctx context.Context, req *RootsListChangedRequest) (*emptyResult, error) {
	if h := s.opts.RootsListChangedHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (s *Server) progress(ctx context.Context, req *ProgressNotificationServerRequest) (*emptyResult, error) {
	if h := s.opts.ProgressNotificationHandler; h != nil {
		h(ctx, req)
	}
	return nil, nil
}

func (s *Server) listTools(_ context.Context, req *ListToolsRequest) (*ListToolsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, next, err := featurePage(s.tools, req.Params.Cursor, s.opts.PageSize)
	if err != nil {
		return nil, err
	}
	res := &ListToolsResult{Tools: []*Tool{}, NextCursor: next}
	for _, st := range page {
		res.Tools = append(res.Tools, st.tool)
	}
	return res, nil
}

func (s *Server) listPrompts(_ context.Context, req *ListPromptsRequest) (*ListPromptsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, next, err := featurePage(s.prompts, req.Params.Cursor, s.opts.PageSize)
	if err != nil {
		return nil, err
	}
	res := &ListPromptsResult{Prompts: []*Prompt{}, NextCursor: next}
	for _, sp := range page {
		res.Prompts = append(res.Prompts, sp.prompt)
	}
	return res, nil
}

func (s *Server) getPrompt(ctx context.Context, req *GetPromptRequest) (*GetPromptResult, error) {
	s.mu.Lock()
	sp, ok := s.prompts.get(req.Params.Name)
	s.mu.Unlock()
	if !ok {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.CodeInvalidParams,
			Message: fmt.Sprintf("unknown prompt %q", req.Params.Name),
		}
	}
	if sp.handler == nil {
		return nil, fmt.Errorf("%w: prompt %q has no handler", jsonrpc2.ErrInternal, req.Params.Name)
	}
	return sp.handler(ctx, req)
}

func (s *Server) listResources(_ context.Context, req *ListResourcesRequest) (*ListResourcesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, next, err := featurePage(s.resources, req.Params.Cursor, s.opts.PageSize)
	if err != nil {
		return nil, err
	}
	res := &ListResourcesResult{Resources: []*Resource{}, NextCursor: next}
	for _, sr := range page {
		res.Resources = append(res.Resources, sr.resource)
	}
	return res, nil
}

func (s *Server) listResourceTemplates(_ context.Context, req *ListResourceTemplatesRequest) (*ListResourceTemplatesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, next, err := featurePage(s.resourceTemplates, req.Params.Cursor, s.opts.PageSize)
	if err != nil {
		return nil, err
	}
	res := &ListResourceTemplatesResult{ResourceTemplates: []*ResourceTemplate{}, NextCursor: next}
	for _, st := range page {
		res.ResourceTemplates = append(res.ResourceTemplates, st.resourceTemplate)
	}
	return res, nil
}

// readResource reads a resource. The request URI is matched first against
// resources, then against resource templates; if neither matches, the read
// fails with [CodeResourceNotFound].
func (s *Server) readResource(ctx context.Context, req *ReadResourceRequest) (*ReadResourceResult, error) {
	uri := req.Params.URI

	var (
		handler  ResourceHandler
		mimeType string
	)
	s.mu.Lock()
	if sr, ok := s.resources.get(uri); ok {
		handler = sr.handler
		mimeType = sr.resource.MIMEType
	} else {
		for st := range s.resourceTemplates.all() {
			if st.Matches(uri) {
				handler = st.handler
				mimeType = st.resourceTemplate.MIMEType
				break
			}
		}
	}
	s.mu.Unlock()
	if handler == nil {
		return nil, ResourceNotFoundError(uri)
	}
	res, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Contents == nil {
		return nil, fmt.Errorf("%w: reading %q: read handler returned nil information", jsonrpc2.ErrInternal, uri)
	}
	// As a convenience, populate the contents from the feature definition.
	for _, c := range res.Contents {
		if c.URI == "" {
			c.URI = uri
		}
		if c.MIMEType == "" {
			c.MIMEType = mimeType
		}
	}
	return res, nil
}

func (s *Server) subscribe(ctx context.Context, req *SubscribeRequest) (*emptyResult, error) {
	if s.opts.SubscribeHandler == nil {
		return nil, &jsonrpc.Error{Code: CodeUnsupportedMethod, Message: "server does not support resource subscriptions"}
	}
	if err := s.opts.SubscribeHandler(ctx, req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resourceSubscriptions[req.Params.URI] == nil {
		s.resourceSubscriptions[req.Params.URI] = make(map[*ServerSession]bool)
	}
	s.resourceSubscriptions[req.Params.URI][req.Session] = true
	return &emptyResult{}, nil
}

func (s *Server) unsubscribe(ctx context.Context, req *UnsubscribeRequest) (*emptyResult, error) {
	if s.opts.UnsubscribeHandler == nil {
		return nil, &jsonrpc.Error{Code: CodeUnsupportedMethod, Message: "server does not support resource subscriptions"}
	}
	if err := s.opts.UnsubscribeHandler(ctx, req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.resourceSubscriptions[req.Params.URI]; ok {
		delete(subs, req.Session)
		if len(subs) == 0 {
			delete(s.resourceSubscriptions, req.Params.URI)
		}
	}
	return &emptyResult{}, nil
}

func (s *Server) complete(ctx context.Context, req *CompleteRequest) (*CompleteResult, error) {
	if s.opts.CompletionHandler == nil {
		return nil, &jsonrpc.Error{Code: CodeUnsupportedMethod, Message: "server does not support completion"}
	}
	return s.opts.CompletionHandler(ctx, req)
}

func (s *Server) setLevel(_ context.Context, req *ServerRequest[*SetLoggingLevelParams]) (*emptyResult, error) {
	req.Session.updateState(func(state *ServerSessionState) {
		state.LogLevel = req.Params.Level
	})
	return &emptyResult{}, nil
}

// featurePage returns one page of features from fs, beginning after the
// cursor in params, along with the cursor of the following page, if there is
// one.
//
// Cursors are opaque to clients: they encode the ID of the last feature on
// the preceding page.
func featurePage[T any](fs *featureSet[T], cursor string, pageSize int) ([]T, string, error) {
	seq := fs.all()
	if cursor != "" {
		id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "invalid cursor"}
		}
		seq = fs.above(id)
	}
	var (
		page []T
		last string
	)
	for f := range seq {
		if len(page) == pageSize {
			return page, encodeCursor(last), nil
		}
		page = append(page, f)
		last = fs.uniqueID(f)
	}
	return page, "", nil
}

func encodeCursor(id string) string {
	return base64.URLEncoding.EncodeToString([]byte(id))
}

func decodeCursor(cursor string) (string, error) {
	id, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("decoding cursor: %w", err)
	}
	return string(id), nil
}

// Run runs the server over the given transport, which must be persistent.
//
// Run blocks until the client terminates the connection or the provided
// context is cancelled. If the context is cancelled, Run closes the
// connection and returns the context error.
func (s *Server) Run(ctx context.Context, t Transport) error {
	ss, err := s.Connect(ctx, t, nil)
	if err != nil {
		return err
	}
	ssClosed := make(chan error, 1)
	go func() {
		ssClosed <- ss.Wait()
	}()
	select {
	case <-ctx.Done():
		_ = ss.Close()
		return ctx.Err()
	case err := <-ssClosed:
		return err
	}
}

// ServerSessionOptions configures a single server session.
type ServerSessionOptions struct {
	// State sets the initial state of the session, overriding the default
	// (pre-initialization) state. Stateless transports use it to resume a
	// session whose state is carried by the client.
	State *ServerSessionState
}

// Connect connects the MCP server over the given transport and starts
// handling messages.
//
// It returns a connection object that may be used to terminate the connection
// (with [ServerSession.Close]), or await client termination (with
// [ServerSession.Wait]).
func (s *Server) Connect(ctx context.Context, t Transport, opts *ServerSessionOptions) (*ServerSession, error) {
	mcpConn, err := t.Connect(ctx)
	if err != nil {
		return nil, err
	}
	ss := &ServerSession{server: s, mcpConn: mcpConn}
	if opts != nil && opts.State != nil {
		ss.state = *opts.State
	}
	ss.rpc = newRPCConn(mcpConn, ss, nil)
	ss.rpc.start()

	if s.opts.KeepAlive > 0 {
		startKeepalive(ss, s.opts.KeepAlive, &ss.keepaliveCancel)
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, ss)
	s.mu.Unlock()
	start := time.Now()
	go func() {
		_ = ss.rpc.wait()
		s.telemetry.recordSessionEnd(ss, start)
		s.forgetSession(ss)
	}()
	return ss, nil
}

func (s *Server) forgetSession(ss *ServerSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = slices.DeleteFunc(s.sessions, func(s2 *ServerSession) bool {
		return s2 == ss
	})
	for uri, subs := range s.resourceSubscriptions {
		delete(subs, ss)
		if len(subs) == 0 {
			delete(s.resourceSubscriptions, uri)
		}
	}
}

// A ServerSession is a logical connection from a single MCP client. Its
// methods can be used to send requests or notifications to the client. Create
// a session by calling [Server.Connect].
//
// Call [ServerSession.Close] to close the connection, or await client
// termination with [ServerSession.Wait].
type ServerSession struct {
	server          *Server
	mcpConn         Connection
	rpc             *rpcConn
	keepaliveCancel context.CancelFunc

	mu    sync.Mutex
	state ServerSessionState
}

// ID returns the session ID assigned by the transport, or the empty string if
// the transport does not define one.
func (ss *ServerSession) ID() string { return ss.rpc.sessionID() }

// Close performs a graceful shutdown of the connection, preventing new
// requests from being handled, and waiting for ongoing requests to return.
// Close then terminates the connection.
func (ss *ServerSession) Close() error {
	if ss.keepaliveCancel != nil {
		// Note: keepaliveCancel access is safe without a mutex: it is set at
		// most once, before the session is returned from Connect.
		ss.keepaliveCancel()
	}
	return ss.rpc.close()
}

// Wait waits for the connection to be closed by the client.
func (ss *ServerSession) Wait() error {
	return ss.rpc.wait()
}

// InitializeParams returns the parameters of the session's initialize
// request, or nil if the session has not yet been initialized.
func (ss *ServerSession) InitializeParams() *InitializeParams {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state.InitializeParams
}

// loggingLevel returns the minimum logging level set by the client, or the
// empty string if none has been set.
func (ss *ServerSession) loggingLevel() LoggingLevel {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state.LogLevel
}

// updateState applies f to the session state, and pushes the updated state
// into the connection, if it observes such updates.
func (ss *ServerSession) updateState(f func(*ServerSessionState)) {
	ss.mu.Lock()
	f(&ss.state)
	state := ss.state
	ss.mu.Unlock()
	if u, ok := ss.mcpConn.(sessionUpdater); ok {
		u.sessionUpdated(state)
	}
}

func (ss *ServerSession) conn() *rpcConn { return ss.rpc }

func (ss *ServerSession) sendingMethodInfos() map[string]methodInfo { return clientMethodInfos }

func (ss *ServerSession) receivingMethodInfos() map[string]methodInfo { return serverMethodInfos }

func (ss *ServerSession) sendingMethodHandler() MethodHandler {
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	return ss.server.sendingMethodHandler_
}

func (ss *ServerSession) receivingMethodHandler() MethodHandler {
	ss.server.mu.Lock()
	defer ss.server.mu.Unlock()
	return ss.server.receivingMethodHandler_
}

// handle dispatches an incoming request or notification from the client.
func (ss *ServerSession) handle(ctx context.Context, req *jsonrpc.Request) (Result, error) {
	// Only initialize and ping may precede initialization.
	switch req.Method {
	case methodInitialize, methodPing:
	default:
		if ss.InitializeParams() == nil {
			return nil, &jsonrpc.Error{
				Code:    jsonrpc.CodeInvalidRequest,
				Message: fmt.Sprintf("method %q is invalid during session initialization", req.Method),
			}
		}
	}
	if req.IsCall() {
		// Record the incoming request ID, so that messages sent while handling
		// the call can be correlated with it; see [idContextKey].
		ctx = context.WithValue(ctx, idContextKey{}, req.ID)
	}
	return handleReceive(ctx, ss, req)
}

// Ping makes an MCP "ping" request to the client.
func (ss *ServerSession) Ping(ctx context.Context, params *PingParams) error {
	_, err := handleSend[*emptyResult](ctx, methodPing, newServerRequest(ss, orZero(params)))
	return err
}

// ListRoots lists the roots that are currently exposed by the client.
func (ss *ServerSession) ListRoots(ctx context.Context, params *ListRootsParams) (*ListRootsResult, error) {
	return handleSend[*ListRootsResult](ctx, methodListRoots, newServerRequest(ss, orZero(params)))
}

// CreateMessage makes a sampling request to the client, returning a result
// with a single content block.
//
// If the client's response holds multiple content blocks, CreateMessage
// returns an error: use [ServerSession.CreateMessageWithTools] to receive
// such responses.
func (ss *ServerSession) CreateMessage(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error) {
	res, err := handleSend[*CreateMessageWithToolsResult](ctx, methodCreateMessage, newServerRequest(ss, orZero(params)))
	if err != nil {
		return nil, err
	}
	if len(res.Content) > 1 {
		return nil, fmt.Errorf("sampling result has %d content blocks; use CreateMessageWithTools to receive multiple content", len(res.Content))
	}
	var content Content
	if len(res.Content) > 0 {
		content = res.Content[0]
	}
	return &CreateMessageResult{
		Meta:       res.Meta,
		Content:    content,
		Model:      res.Model,
		Role:       res.Role,
		StopReason: res.StopReason,
	}, nil
}

// CreateMessageWithTools makes a sampling request that offers tools to the
// client's model. The result's content may contain multiple blocks, such as
// parallel tool calls.
//
// The client must declare the sampling.tools capability.
func (ss *ServerSession) CreateMessageWithTools(ctx context.Context, params *CreateMessageWithToolsParams) (*CreateMessageWithToolsResult, error) {
	return handleSend[*CreateMessageWithToolsResult](ctx, methodCreateMessage, newServerRequest(ss, orZero(params)))
}

// Elicit makes an elicitation/create request to the client, asking the user
// for input.
func (ss *ServerSession) Elicit(ctx context.Context, params *ElicitParams) (*ElicitResult, error) {
	return handleSend[*ElicitResult](ctx, methodElicit, newServerRequest(ss, orZero(params)))
}

// NotifyProgress sends a progress notification from the server to the client
// associated with this session. This is typically used to report on the
// status of a long-running request initiated by the client.
func (ss *ServerSession) NotifyProgress(ctx context.Context, params *ProgressNotificationParams) error {
	return handleNotify(ctx, notificationProgress, newServerRequest(ss, orZero(params)))
}
