// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package auth implements server-side and client-side support for MCP
// authorization, as described by the MCP spec:
// https://modelcontextprotocol.io/specification/2025-06-18/basic/authorization.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// TokenInfo holds information about a bearer token, obtained by verifying it.
type TokenInfo struct {
	// Scopes is the list of scopes granted to the token.
	Scopes []string
	// Expiration is the time at which the token expires. It is required: a
	// token without an expiration is rejected.
	Expiration time.Time

	// The remaining fields hold the registered JWT claims
	// (https://datatracker.ietf.org/doc/html/rfc7519#section-4.1), when the
	// verifier can supply them.
	Issuer    string
	Subject   string
	Audience  []string
	NotBefore time.Time
	IssuedAt  time.Time
	JWTID     string

	// Extra is additional information to associate with the token.
	Extra map[string]any
}

// ErrInvalidToken should be returned by a [TokenVerifier] when the token
// cannot be verified.
var ErrInvalidToken = errors.New("invalid token")

// ErrOAuth should be returned by a [TokenVerifier] when there is a problem
// with the OAuth protocol, such as a malformed request.
var ErrOAuth = errors.New("oauth error")

// A TokenVerifier checks the validity of a bearer token, and extracts
// information from it. If verification fails, it should return an error that
// wraps [ErrInvalidToken] or [ErrOAuth] as appropriate.
type TokenVerifier func(ctx context.Context, token string, req *http.Request) (*TokenInfo, error)

// RequireBearerTokenOptions are options for [RequireBearerToken].
type RequireBearerTokenOptions struct {
	// ResourceMetadataURL is the URL of the protected resource metadata for
	// the server, to be returned in a WWW-Authenticate header on failure, as
	// specified by RFC 9728 section 5.1.
	ResourceMetadataURL string
	// Scopes is a list of scopes that the token must have.
	Scopes []string
}

type tokenInfoKey struct{}

// TokenInfoFromContext returns the [TokenInfo] stored in ctx by the
// middleware returned from [RequireBearerToken], or nil if there is none.
func TokenInfoFromContext(ctx context.Context) *TokenInfo {
	ti, _ := ctx.Value(tokenInfoKey{}).(*TokenInfo)
	return ti
}

// RequireBearerToken returns a piece of middleware that verifies a bearer
// token using the verifier. If verification succeeds, the token info is added
// to the request's context and the request proceeds. Otherwise, the request
// fails with an error written in the OAuth error format
// (https://datatracker.ietf.org/doc/html/rfc6749#section-5.2).
func RequireBearerToken(verifier TokenVerifier, opts *RequireBearerTokenOptions) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			tokenInfo, errmsg, code := verify(req, verifier, opts)
			if code != 0 {
				if opts != nil && opts.ResourceMetadataURL != "" {
					w.Header().Set("WWW-Authenticate",
						fmt.Sprintf("Bearer resource_metadata=%q", opts.ResourceMetadataURL))
				}
				http.Error(w, errmsg, code)
				return
			}
			ctx := context.WithValue(req.Context(), tokenInfoKey{}, tokenInfo)
			handler.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func verify(req *http.Request, verifier TokenVerifier, opts *RequireBearerTokenOptions) (*TokenInfo, string, int) {
	// Extract the token.
	fields := strings.Fields(req.Header.Get("Authorization"))
	if len(fields) != 2 || strings.ToLower(fields[0]) != "bearer" {
		return nil, "no bearer token", http.StatusUnauthorized
	}
	token := fields[1]

	// Verify the token.
	tokenInfo, err := verifier(req.Context(), token, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidToken):
			return nil, "invalid token", http.StatusUnauthorized
		case errors.Is(err, ErrOAuth):
			return nil, "oauth error", http.StatusBadRequest
		default:
			return nil, "internal error", http.StatusInternalServerError
		}
	}
	if tokenInfo.Expiration.IsZero() {
		return nil, "token missing expiration", http.StatusUnauthorized
	}
	if tokenInfo.Expiration.Before(time.Now()) {
		return nil, "token expired", http.StatusUnauthorized
	}

	// Check scopes.
	if opts != nil {
		for _, s := range opts.Scopes {
			if !slices.Contains(tokenInfo.Scopes, s) {
				return nil, "insufficient scope", http.StatusForbidden
			}
		}
	}
	return tokenInfo, "", 0
}
