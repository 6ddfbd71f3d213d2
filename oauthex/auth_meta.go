// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements Authorization Server Metadata.
// See https://www.rfc-editor.org/rfc/rfc8414.html.

//go:build mcp_go_client_oauth

package oauthex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-runtime/internal/util"
)

// AuthServerMeta holds metadata about an OAuth 2.0 authorization server, as
// defined by RFC 8414 with OpenID Connect Discovery 1.0 additions.
type AuthServerMeta struct {
	Issuer                                           string   `json:"issuer"`
	AuthorizationEndpoint                            string   `json:"authorization_endpoint"`
	TokenEndpoint                                    string   `json:"token_endpoint"`
	JWKSURI                                          string   `json:"jwks_uri,omitempty"`
	RegistrationEndpoint                             string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                                  []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported                           []string `json:"response_types_supported"`
	ResponseModesSupported                           []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported                              []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported                []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	TokenEndpointAuthSigningAlgValuesSupported       []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	ServiceDocumentation                             string   `json:"service_documentation,omitempty"`
	UILocalesSupported                               []string `json:"ui_locales_supported,omitempty"`
	OpPolicyURI                                      string   `json:"op_policy_uri,omitempty"`
	OpTosURI                                         string   `json:"op_tos_uri,omitempty"`
	RevocationEndpoint                               string   `json:"revocation_endpoint,omitempty"`
	RevocationEndpointAuthMethodsSupported           []string `json:"revocation_endpoint_auth_methods_supported,omitempty"`
	IntrospectionEndpoint                            string   `json:"introspection_endpoint,omitempty"`
	IntrospectionEndpointAuthMethodsSupported        []string `json:"introspection_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported                    []string `json:"code_challenge_methods_supported,omitempty"`
	UserinfoEndpoint                                 string   `json:"userinfo_endpoint,omitempty"`
	SubjectTypesSupported                            []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported                 []string `json:"id_token_signing_alg_values_supported,omitempty"`
	ClaimsSupported                                  []string `json:"claims_supported,omitempty"`
	DeviceAuthorizationEndpoint                      string   `json:"device_authorization_endpoint,omitempty"`
	ClientIDMetadataDocumentSupported                bool     `json:"client_id_metadata_document_supported,omitempty"`
	AuthorizationResponseIssParameterSupported       bool     `json:"authorization_response_iss_parameter_supported,omitempty"`
	RequirePushedAuthorizationRequests               bool     `json:"require_pushed_authorization_requests,omitempty"`
	PushedAuthorizationRequestEndpoint               string   `json:"pushed_authorization_request_endpoint,omitempty"`
	DPoPSigningAlgValuesSupported                    []string `json:"dpop_signing_alg_values_supported,omitempty"`
	ProtectedResourcesSigningAlgValuesSupported      []string `json:"protected_resources_signing_alg_values_supported,omitempty"`
	AuthorizationDetailsTypesSupported               []string `json:"authorization_details_types_supported,omitempty"`
	BackchannelTokenDeliveryModesSupported           []string `json:"backchannel_token_delivery_modes_supported,omitempty"`
	BackchannelAuthenticationEndpoint                string   `json:"backchannel_authentication_endpoint,omitempty"`
	BackchannelAuthenticationRequestSigningAlgValues []string `json:"backchannel_authentication_request_signing_alg_values_supported,omitempty"`
	BackchannelUserCodeParameterSupported            bool     `json:"backchannel_user_code_parameter_supported,omitempty"`
	NativeSSOSupported                               bool     `json:"native_sso_supported,omitempty"`
}

// wellKnownPaths are the well-known suffixes tried when discovering auth
// server metadata, in order. See RFC 8414 section 3 and OpenID Connect
// Discovery.
var wellKnownPaths = []string{
	"/.well-known/oauth-authorization-server",
	"/.well-known/openid-configuration",
}

// GetAuthServerMeta retrieves the authorization server metadata for the given
// issuer URL using the given client (or the default client if nil).
// It tries the well-known paths mandated by the MCP spec in order, and
// validates that the discovered metadata satisfies MCP's auth requirements,
// notably PKCE with S256.
func GetAuthServerMeta(ctx context.Context, issuerURL string, c *http.Client) (_ *AuthServerMeta, err error) {
	defer util.Wrapf(&err, "GetAuthServerMeta(%q)", issuerURL)

	iu, err := url.Parse(issuerURL)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, wk := range wellKnownPaths {
		mu := *iu
		// Insert the well-known path before the issuer's path component, per
		// RFC 8414 section 3.1.
		mu.Path = wk + "/" + strings.TrimLeft(iu.Path, "/")
		mu.Path = strings.TrimSuffix(mu.Path, "/")
		asm, err := getJSON[AuthServerMeta](ctx, c, mu.String(), 1<<20)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := validateAuthServerMeta(asm, issuerURL); err != nil {
			return nil, err
		}
		return asm, nil
	}
	return nil, firstErr
}

func validateAuthServerMeta(asm *AuthServerMeta, issuerURL string) error {
	if asm.Issuer != issuerURL {
		return fmt.Errorf("got metadata issuer %q, want %q", asm.Issuer, issuerURL)
	}
	for _, u := range []string{asm.AuthorizationEndpoint, asm.TokenEndpoint, asm.RegistrationEndpoint} {
		if u == "" {
			continue
		}
		if err := checkURLScheme(u); err != nil {
			return err
		}
	}
	// The MCP spec requires authorization servers to support PKCE with the
	// S256 code challenge method.
	if !slices.Contains(asm.CodeChallengeMethodsSupported, "S256") {
		return fmt.Errorf("authorization server %q does not support PKCE with S256", issuerURL)
	}
	return nil
}

// checkURLScheme reports an error if the URL does not use the http or https
// scheme. It guards against javascript: and similar schemes appearing in
// server-provided metadata.
func checkURLScheme(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL %q has disallowed scheme %q", s, u.Scheme)
	}
	return nil
}

// getJSON issues a GET request for the given URL and decodes the response
// body, reading at most limit bytes, into a T.
func getJSON[T any](ctx context.Context, c *http.Client, url string, limit int64) (*T, error) {
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, err
	}
	t := new(T)
	if err := json.Unmarshal(body, t); err != nil {
		return nil, err
	}
	return t, nil
}
