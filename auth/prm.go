// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-runtime/oauthex"
)

// ProtectedResourceMetadataHandler returns a handler that serves the given
// protected resource metadata as JSON, for installation at the well-known
// metadata path (RFC 9728, section 3).
func ProtectedResourceMetadataHandler(prm *oauthex.ProtectedResourceMetadata) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(prm); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	})
}
