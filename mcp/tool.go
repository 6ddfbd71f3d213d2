// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
	internaljson "github.com/modelcontextprotocol/go-runtime/internal/json"
	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
)

// A ToolHandler handles a call to tools/call.
//
// This is a low-level API, for use with [Server.AddTool]. It does not do any
// pre- or post-processing of the request or result: the params contain raw
// arguments, no input validation is performed, and the result is returned to
// the user as-is, without any validation of the output.
//
// Most users will write a [ToolHandlerFor] and install it with the generic
// [AddTool] function.
//
// If ToolHandler returns an error, it is treated as a protocol error. By
// contrast, [ToolHandlerFor] automatically populates [CallToolResult.IsError]
// and [CallToolResult.Content] accordingly.
type ToolHandler func(context.Context, *CallToolRequest) (*CallToolResult, error)

// A ToolHandlerFor handles a call to tools/call with typed arguments and results.
//
// Use [AddTool] to add a ToolHandlerFor to a server.
//
// Unlike [ToolHandler], [ToolHandlerFor] provides significant functionality
// out of the box, and enforces that the tool conforms to the MCP spec:
//   - The In type provides a default input schema for the tool, though it may
//     be overridden in [AddTool].
//   - The input value is automatically unmarshaled from req.Params.Arguments.
//   - The input value is automatically validated against its input schema.
//     Invalid input is rejected before getting to the handler.
//   - If the Out type is not the empty interface [any], it provides the
//     default output schema for the tool (which again may be overridden in
//     [AddTool]).
//   - The Out value is used to populate result.StructuredOutput.
//   - If [CallToolResult.Content] is unset, it is populated with the JSON
//     content of the output.
//   - An error result is treated as a tool error, rather than a protocol
//     error, and is therefore packed into CallToolResult.Content, with
//     [IsError] set.
//
// For these reasons, most users can ignore the [CallToolRequest] argument and
// [CallToolResult] return values entirely. In fact, it is permissible to
// return a nil CallToolResult, if you only care about returning a output value
// or error. The effective result will be populated as described above.
type ToolHandlerFor[In, Out any] func(_ context.Context, request *CallToolRequest, input In) (result *CallToolResult, output Out, _ error)

// A serverTool is a tool definition that is bound to a tool handler.
type serverTool struct {
	tool    *Tool
	handler ToolHandler
}

// AddTool adds a [Tool] to the server, or replaces one with the same name,
// binding it to the given typed handler.
//
// If the tool's input schema is nil, it is set to the schema inferred from the
// In type parameter, using [jsonschema.For]. If the tool's output schema is
// nil and the Out type parameter is not the empty interface, the output schema
// is similarly inferred.
//
// Schemas may also be any value that marshals to a JSON schema, such as a
// map[string]any or a json.RawMessage. Non-nil schemas are resolved but never
// modified.
//
// AddTool panics if the tool's schemas cannot be inferred or resolved, which
// can only result from a misconfigured In or Out type: these are bugs in the
// calling code, and are therefore reported eagerly rather than on first use.
func AddTool[In, Out any](s *Server, t *Tool, h ToolHandlerFor[In, Out]) {
	st, err := newServerTool(t, h, s.opts.SchemaCache)
	if err != nil {
		panic(fmt.Sprintf("AddTool: tool %q: %v", t.Name, err))
	}
	s.addServerTool(st)
}

// newServerTool builds a serverTool from a typed handler, resolving schemas
// and wrapping h so that arguments are validated and unmarshaled before it
// runs, and its output is validated and packed afterwards.
func newServerTool[In, Out any](t *Tool, h ToolHandlerFor[In, Out], cache *schemaCache) (*serverTool, error) {
	if cache == nil {
		cache = globalSchemaCache
	}
	// Operate on a copy, so that schema inference does not mutate the
	// caller's Tool.
	tt := *t

	var inResolved, outResolved *jsonschema.Resolved
	if _, err := resolveSchema[In](cache, &tt.InputSchema, &inResolved); err != nil {
		return nil, fmt.Errorf("input schema: %w", err)
	}
	// The empty interface carries no schema information: only infer an output
	// schema when Out is a concrete type, but still honor an explicit one.
	hasOut := reflect.TypeFor[Out]() != reflect.TypeFor[any]()
	if hasOut || tt.OutputSchema != nil {
		if _, err := resolveSchema[Out](cache, &tt.OutputSchema, &outResolved); err != nil {
			return nil, fmt.Errorf("output schema: %w", err)
		}
	}

	handler := func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		args, err := applySchema(req.Params.Arguments, inResolved)
		if err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		var in In
		if len(args) > 0 {
			if err := internaljson.Unmarshal(args, &in); err != nil {
				return nil, &jsonrpc.Error{
					Code:    jsonrpc.CodeInvalidParams,
					Message: fmt.Sprintf("unmarshaling arguments: %v", err),
				}
			}
		}
		res, out, err := h(ctx, req, in)
		if err != nil {
			// A handler error is a tool error, not a protocol error: pack it
			// into the result so the caller's model can see it.
			return errorResult(err), nil
		}
		if res == nil {
			res = new(CallToolResult)
		}
		if hasOut {
			// Treat a nil pointer as the zero value of its element type, so
			// that handlers returning nil behave like those returning a zero
			// struct rather than producing JSON null.
			if rv := reflect.ValueOf(out); rv.Kind() == reflect.Pointer && rv.IsNil() {
				out = reflect.New(rv.Type().Elem()).Interface().(Out)
			}
			data, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("marshaling structured output: %w", err)
			}
			if outResolved != nil {
				if _, err := applySchema(data, outResolved); err != nil {
					// Deliberately coded, so the mismatch reaches the caller
					// rather than being scrubbed as an uncoded handler error.
					return nil, &jsonrpc.Error{
						Code:    jsonrpc.CodeInternalError,
						Message: fmt.Sprintf("invalid structured output: %v", err),
					}
				}
			}
			res.StructuredContent = out
			if res.Content == nil {
				res.Content = []Content{&TextContent{Text: string(data)}}
			}
		}
		return res, nil
	}
	return &serverTool{tool: &tt, handler: handler}, nil
}

// errorResult returns a tool result conveying err.
//
// Per the MCP spec, tool errors are reported in the result with IsError set,
// not as protocol errors. The error itself travels with the result on the
// server side only, where sending middleware can observe it.
func errorResult(err error) *CallToolResult {
	res := new(CallToolResult)
	res.setError(err)
	return res
}

// setSchema resolves the schema in *sfield against the process-wide schema
// cache, inferring it from T if *sfield is nil, and stores the resolved form
// in *rfield.
func setSchema[T any](sfield *any, rfield **jsonschema.Resolved) (*jsonschema.Schema, error) {
	return resolveSchema[T](globalSchemaCache, sfield, rfield)
}

// resolveSchema ensures that *sfield holds a [*jsonschema.Schema] and *rfield
// its resolved form, consulting and populating cache.
//
// If *sfield is nil, the schema is inferred from T and cached by type. If it
// is already a *jsonschema.Schema, it is resolved and cached by pointer
// identity. Any other value must marshal to a valid JSON schema; such schemas
// are not cached.
func resolveSchema[T any](cache *schemaCache, sfield *any, rfield **jsonschema.Resolved) (*jsonschema.Schema, error) {
	switch s := (*sfield).(type) {
	case nil:
		rt := reflect.TypeFor[T]()
		if schema, resolved, ok := cache.getByType(rt); ok {
			*sfield = schema
			*rfield = resolved
			return schema, nil
		}
		schema, err := jsonschema.For[T](nil)
		if err != nil {
			return nil, err
		}
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, err
		}
		cache.setByType(rt, schema, resolved)
		*sfield = schema
		*rfield = resolved
		return schema, nil

	case *jsonschema.Schema:
		if resolved, ok := cache.getBySchema(s); ok {
			*rfield = resolved
			return s, nil
		}
		resolved, err := s.Resolve(nil)
		if err != nil {
			return nil, err
		}
		cache.setBySchema(s, resolved)
		*rfield = resolved
		return s, nil

	default:
		schema := new(jsonschema.Schema)
		if err := remarshal(*sfield, schema); err != nil {
			return nil, fmt.Errorf("invalid schema value %v: %w", *sfield, err)
		}
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, err
		}
		*rfield = resolved
		return schema, nil
	}
}

// A CallToolResultFor is a [CallToolResult] whose structured content has type
// Out. It is useful on the client side, for unmarshaling tool results with
// typed structured content.
type CallToolResultFor[Out any] struct {
	// Meta is reserved by MCP for protocol-level metadata.
	Meta `json:"_meta,omitempty"`
	// Content is the unstructured result content of the tool call.
	Content []Content `json:"content"`
	// StructuredContent is the structured result content, conforming to the
	// tool's output schema.
	StructuredContent Out `json:"structuredContent,omitempty"`
	// IsError reports whether the tool call ended in an error.
	IsError bool `json:"isError,omitempty"`
}

func (*CallToolResultFor[Out]) isResult() {}

// UnmarshalJSON handles the unmarshaling of content of the Content interface
// type.
func (x *CallToolResultFor[Out]) UnmarshalJSON(data []byte) error {
	type res CallToolResultFor[Out] // avoid recursion
	var wire struct {
		res
		Content []*wireContent `json:"content"`
	}
	if err := internaljson.Unmarshal(data, &wire); err != nil {
		return err
	}
	var err error
	if wire.res.Content, err = contentsFromWire(wire.Content, nil); err != nil {
		return err
	}
	*x = CallToolResultFor[Out](wire.res)
	return nil
}

// applySchema validates whether data is valid JSON according to the provided
// schema, after applying schema defaults.
//
// Returns the JSON value augmented with defaults.
func applySchema(data json.RawMessage, resolved *jsonschema.Resolved) (json.RawMessage, error) {
	if resolved != nil {
		validator := NewReflectionValidator()
		result, err := validator.ValidateAndApply(data, resolved)

		// If reflection-based validation succeeds, return the result
		if err == nil {
			return result, nil
		}

		// If reflection-based validation fails, fall back to map-based validation
		var schemaErr *SchemaValidationError
		if errors.As(err, &schemaErr) {
			if schemaErr.Operation == "schema_conversion" || schemaErr.Operation == "reflection_validation" {
				// Fall back to map-based validation for unsupported features or type mismatches
				return applySchemaMapBased(data, resolved)
			}
		}
		// For other types of errors, return them as-is
		return nil, err
	}

	return applySchemaMapBased(data, resolved)
}

// applySchemaMapBased performs schema validation using the original map-based approach.
// This is used as a fallback when reflection-based validation is not suitable.
func applySchemaMapBased(data json.RawMessage, resolved *jsonschema.Resolved) (json.RawMessage, error) {
	if resolved == nil {
		return data, nil
	}

	v := make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshaling arguments: %w", err)
		}
	}
	if err := resolved.ApplyDefaults(&v); err != nil {
		return nil, fmt.Errorf("applying schema defaults:\n%w", err)
	}
	if err := resolved.Validate(&v); err != nil {
		return nil, err
	}
	// We must re-marshal with the default values applied.
	result, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling with defaults: %v", err)
	}
	return result, nil
}
