// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build mcp_go_client_oauth

package oauthex

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/url"
)

// NewFakeMCPServerMux returns a mux implementing a minimal fake OAuth 2.1
// authorization server, for testing clients. It advertises PKCE with S256,
// authorizes every request immediately, and issues unverifiable tokens.
// The advertised issuer is derived from each request's Host header.
func NewFakeMCPServerMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		issuer := "https://" + r.Host
		meta := &AuthServerMeta{
			Issuer:                            issuer,
			AuthorizationEndpoint:             issuer + "/authorize",
			TokenEndpoint:                     issuer + "/token",
			RegistrationEndpoint:              issuer + "/register",
			ResponseTypesSupported:            []string{"code"},
			GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
			TokenEndpointAuthMethodsSupported: []string{"none", "client_secret_basic", "client_secret_post"},
			CodeChallengeMethodsSupported:     []string{"S256"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(meta)
	})

	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var meta ClientRegistrationMetadata
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := &ClientRegistrationResponse{
			ClientID:                   "fake-client-" + rand.Text(),
			ClientRegistrationMetadata: meta,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		redirect, err := url.Parse(q.Get("redirect_uri"))
		if err != nil {
			http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
			return
		}
		// Authorize unconditionally.
		rq := redirect.Query()
		rq.Set("code", rand.Text())
		rq.Set("state", q.Get("state"))
		redirect.RawQuery = rq.Encode()
		http.Redirect(w, r, redirect.String(), http.StatusFound)
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": rand.Text(),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	return mux
}
