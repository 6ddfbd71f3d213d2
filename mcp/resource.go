// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
	"github.com/yosida95/uritemplate/v3"
)

// A ResourceHandler handles a call to resources/read.
//
// A handler may leave the URI and MIMEType fields of the returned contents
// empty: the server populates them from the request and from the matched
// resource or resource template.
type ResourceHandler func(context.Context, *ReadResourceRequest) (*ReadResourceResult, error)

// A serverResource is a resource bound to its handler.
type serverResource struct {
	resource *Resource
	handler  ResourceHandler
}

// A serverResourceTemplate is a resource template bound to its handler.
type serverResourceTemplate struct {
	resourceTemplate *ResourceTemplate
	handler          ResourceHandler
}

// Matches reports whether uri matches the template's URI template, according
// to RFC 6570. A malformed template matches nothing.
func (t *serverResourceTemplate) Matches(uri string) bool {
	tmpl, err := uritemplate.New(t.resourceTemplate.URITemplate)
	if err != nil {
		return false
	}
	return tmpl.Match(uri) != nil
}

// ResourceNotFoundError returns the error for a missing resource, carrying
// [CodeResourceNotFound] and the requested URI, as prescribed by the MCP
// spec.
//
// Resource handlers should return it (or an error wrapping it) when the
// requested resource does not exist.
func ResourceNotFoundError(uri string) error {
	return &jsonrpc.Error{
		Code:    CodeResourceNotFound,
		Message: "Resource not found",
		Data:    json.RawMessage(fmt.Sprintf(`{"uri":%q}`, uri)),
	}
}

// fileResourceHandler returns a [ResourceHandler] that reads file resources
// relative to dir. The handler accepts only file: URIs, and rejects paths
// that escape the directory.
func fileResourceHandler(dir string) ResourceHandler {
	// Convert dir to an absolute path so relative computations below are
	// well-defined regardless of the process's working directory.
	abs, err := filepath.Abs(dir)
	return func(_ context.Context, req *ReadResourceRequest) (*ReadResourceResult, error) {
		if err != nil {
			return nil, err
		}
		uri := req.Params.URI
		u, err := url.Parse(uri)
		if err != nil {
			return nil, err
		}
		if u.Scheme != "file" {
			return nil, fmt.Errorf("reading %q: not a file URI", uri)
		}
		// Localize fails for absolute, non-local ("..") or otherwise invalid
		// paths, so path traversal cannot escape dir.
		rel, err := filepath.Localize(strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, fmt.Errorf("reading %q: %v", uri, err)
		}
		data, err := os.ReadFile(filepath.Join(abs, rel))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ResourceNotFoundError(uri)
			}
			return nil, err
		}
		// The server fills in the URI and MIME type from the matched feature.
		return &ReadResourceResult{
			Contents: []*ResourceContents{{Blob: data}},
		}, nil
	}
}
