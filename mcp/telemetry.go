// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	mnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies this package to OpenTelemetry.
const instrumentationName = "github.com/modelcontextprotocol/go-runtime/mcp"

// operationDurationBuckets are the explicit histogram bucket boundaries for
// operation and session duration metrics, in seconds.
var operationDurationBuckets = []float64{
	0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60, 120, 300,
}

// telemetry instruments one side of the protocol. Servers record under
// mcp.server.*, clients under mcp.client.*.
//
// It is installed as the innermost layer of the sending and receiving method
// handler chains, so that user middleware wraps it.
type telemetry struct {
	tracer            trace.Tracer
	operationDuration metric.Float64Histogram
	sessionDuration   metric.Float64Histogram
}

// newTelemetry creates telemetry for the given side ("server" or "client").
// Nil providers default to the otel globals, which are no-ops unless the
// program installs real providers.
func newTelemetry(side string, mp metric.MeterProvider, tp trace.TracerProvider) *telemetry {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)
	opDuration, err1 := meter.Float64Histogram(
		fmt.Sprintf("mcp.%s.operation.duration", side),
		metric.WithDescription("Duration of MCP operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(operationDurationBuckets...),
	)
	sessDuration, err2 := meter.Float64Histogram(
		fmt.Sprintf("mcp.%s.session.duration", side),
		metric.WithDescription("Duration of MCP sessions"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(operationDurationBuckets...),
	)
	if err1 != nil || err2 != nil {
		// A provider that rejects these instruments should not break the
		// session: fall back to no-op instruments.
		noopMeter := mnoop.Meter{}
		opDuration, _ = noopMeter.Float64Histogram("noop")
		sessDuration, _ = noopMeter.Float64Histogram("noop")
	}
	return &telemetry{
		tracer:            tp.Tracer(instrumentationName),
		operationDuration: opDuration,
		sessionDuration:   sessDuration,
	}
}

// receiving wraps next to trace and time dispatched methods.
func (t *telemetry) receiving(next MethodHandler) MethodHandler {
	return func(ctx context.Context, method string, req Request) (Result, error) {
		sess := req.GetSession()
		params := req.GetParams()
		ctx = extractTraceContext(ctx, params)

		attrs := operationAttrs(method, sess, params)
		spanName := method
		if target, ok := targetAttr(params); ok {
			spanName = method + " " + target.Value.AsString()
		}
		spanAttrs := slices.Clone(attrs)
		if id := sess.ID(); id != "" {
			spanAttrs = append(spanAttrs, attribute.String("mcp.session.id", id))
		}
		if id, ok := ctx.Value(idContextKey{}).(jsonrpc.ID); ok && id.IsValid() {
			spanAttrs = append(spanAttrs, attribute.String("mcp.request.id", fmt.Sprint(id.Raw())))
		}
		ctx, span := t.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(spanAttrs...))
		defer span.End()

		start := time.Now()
		res, err := next(ctx, method, req)
		elapsed := time.Since(start).Seconds()

		switch {
		case err != nil:
			span.SetStatus(codes.Error, err.Error())
		default:
			if ctr, ok := res.(*CallToolResult); ok && ctr.IsError {
				span.SetStatus(codes.Error, "tool error")
				span.SetAttributes(attribute.String("error.type", "tool_error"))
				attrs = append(attrs, attribute.String("error.type", "tool_error"))
			}
		}
		t.operationDuration.Record(ctx, elapsed, metric.WithAttributes(attrs...))
		return res, err
	}
}

// sending wraps next to time sent operations, and to propagate the caller's
// trace context to the peer via request metadata.
func (t *telemetry) sending(next MethodHandler) MethodHandler {
	return func(ctx context.Context, method string, req Request) (Result, error) {
		params := req.GetParams()
		injectTraceContext(ctx, params)

		start := time.Now()
		res, err := next(ctx, method, req)
		elapsed := time.Since(start).Seconds()

		t.operationDuration.Record(ctx, elapsed, metric.WithAttributes(operationAttrs(method, req.GetSession(), params)...))
		return res, err
	}
}

// recordSessionEnd records the session duration histogram when a session
// terminates.
func (t *telemetry) recordSessionEnd(sess Session, start time.Time) {
	t.sessionDuration.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("network.transport", sessionTransport(sess))))
}

// operationAttrs returns the metric attributes for one operation.
func operationAttrs(method string, sess Session, params Params) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("mcp.method.name", method),
		attribute.String("network.transport", sessionTransport(sess)),
	}
	if target, ok := targetAttr(params); ok {
		attrs = append(attrs, target)
	}
	return attrs
}

// targetAttr returns the attribute identifying the feature an operation acts
// on, when the method has one: the tool or prompt name, or the resource URI.
func targetAttr(params Params) (attribute.KeyValue, bool) {
	switch p := params.(type) {
	case *CallToolParams:
		if p.Name != "" {
			return attribute.String("gen_ai.tool.name", p.Name), true
		}
	case *GetPromptParams:
		if p.Name != "" {
			return attribute.String("gen_ai.prompt.name", p.Name), true
		}
	case *ReadResourceParams:
		if p.URI != "" {
			return attribute.String("mcp.resource.uri", p.URI), true
		}
	case *SubscribeParams:
		if p.URI != "" {
			return attribute.String("mcp.resource.uri", p.URI), true
		}
	}
	return attribute.KeyValue{}, false
}

// sessionTransport maps the session's connection to the OpenTelemetry
// network.transport attribute value.
func sessionTransport(sess Session) string {
	var conn Connection
	switch s := sess.(type) {
	case *ServerSession:
		conn = s.mcpConn
	case *ClientSession:
		conn = s.mcpConn
	}
	switch conn.(type) {
	case *StreamableServerTransport, *streamableClientConn,
		*SSEServerTransport, *sseClientConn, *websocketConn:
		return "tcp"
	default:
		// Stdio and in-memory connections.
		return "pipe"
	}
}

// traceContextKeys are the metadata keys used to carry W3C trace context in
// the _meta property of requests.
var traceContextKeys = []string{"traceparent", "tracestate"}

// injectTraceContext copies the current span context, if any, into the
// request metadata, so that the peer can continue the trace.
func injectTraceContext(ctx context.Context, params Params) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return
	}
	m := params.GetMeta()
	if m == nil {
		m = map[string]any{}
		params.SetMeta(m)
	}
	for k, v := range carrier {
		m[k] = v
	}
}

// extractTraceContext returns a context carrying the remote span context
// found in the request metadata, if any.
func extractTraceContext(ctx context.Context, params Params) context.Context {
	m := params.GetMeta()
	if m == nil {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	for _, k := range traceContextKeys {
		if v, ok := m[k].(string); ok {
			carrier[k] = v
		}
	}
	if len(carrier) == 0 {
		return ctx
	}
	return propagation.TraceContext{}.Extract(ctx, carrier)
}
