package testing

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/modelcontextprotocol/go-runtime/auth"
)

const (
	authServerPort = ":8080"
	issuer         = "http://localhost" + authServerPort
	tokenExpiry    = time.Hour
)

var jwtSigningKey = []byte("fake-secret-key")

type authCodeInfo struct {
	codeChallenge string
	redirectURI   string
}

// FakeAuthServer is a fake OAuth2 authorization server.
type FakeAuthServer struct {
	server    *http.Server
	authCodes map[string]authCodeInfo
}

func NewFakeAuthServer() *FakeAuthServer {
	server := &FakeAuthServer{
		authCodes: make(map[string]authCodeInfo),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", server.handleMetadata)
	mux.HandleFunc("/authorize", server.handleAuthorize)
	mux.HandleFunc("/token", server.handleToken)
	server.server = &http.Server{
		Addr:    authServerPort,
		Handler: mux,
	}
	return server
}

func (s *FakeAuthServer) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
}

// Handler returns the fake server's HTTP handler, for serving with httptest.
func (s *FakeAuthServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *FakeAuthServer) Stop() {
	if err := s.server.Close(); err != nil {
		log.Printf("Failed to stop server: %v", err)
	}
}

func (s *FakeAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metadata)
}

func (s *FakeAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	responseType := query.Get("response_type")
	redirectURI := query.Get("redirect_uri")
	codeChallenge := query.Get("code_challenge")
	codeChallengeMethod := query.Get("code_challenge_method")

	if responseType != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if redirectURI == "" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}
	if codeChallenge == "" || codeChallengeMethod != "S256" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	authCode := "fake-auth-code-" + fmt.Sprintf("%d", time.Now().UnixNano())
	s.authCodes[authCode] = authCodeInfo{
		codeChallenge: codeChallenge,
		redirectURI:   redirectURI,
	}

	redirectURL := fmt.Sprintf("%s?code=%s&state=%s", redirectURI, authCode, query.Get("state"))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *FakeAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	grantType := r.Form.Get("grant_type")
	code := r.Form.Get("code")
	redirectURI := r.Form.Get("redirect_uri")
	codeVerifier := r.Form.Get("code_verifier")

	if grantType != "authorization_code" {
		http.Error(w, "unsupported_grant_type", http.StatusBadRequest)
		return
	}

	authCodeInfo, ok := s.authCodes[code]
	if !ok {
		http.Error(w, "invalid_grant", http.StatusBadRequest)
		return
	}
	delete(s.authCodes, code)

	if authCodeInfo.redirectURI != redirectURI {
		http.Error(w, "invalid_grant", http.StatusBadRequest)
		return
	}

	// PKCE verification
	hasher := sha256.New()
	hasher.Write([]byte(codeVerifier))
	calculatedChallenge := base64.RawURLEncoding.EncodeToString(hasher.Sum(nil))
	if calculatedChallenge != authCodeInfo.codeChallenge {
		http.Error(w, "invalid_grant", http.StatusBadRequest)
		return
	}

	// Issue JWT
	accessToken, err := MintAccessToken("fake-user-id", nil, time.Now().Add(tokenExpiry))
	if err != nil {
		http.Error(w, "server_error", http.StatusInternalServerError)
		return
	}

	tokenResponse := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(tokenExpiry.Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse)
}

// MintAccessToken returns a signed JWT access token with the given subject,
// scopes and expiration, as issued by the fake server's token endpoint.
func MintAccessToken(sub string, scopes []string, exp time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": sub,
		"aud": "fake-client-id",
		"exp": exp.Unix(),
		"iat": time.Now().Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSigningKey)
}

// JWTVerifier returns an [auth.TokenVerifier] that checks the signature of
// tokens minted by the fake server. Claims validation is left to the caller,
// matching the expectations of [auth.RequireBearerToken].
func JWTVerifier() auth.TokenVerifier {
	return func(_ context.Context, tokenString string, _ *http.Request) (*auth.TokenInfo, error) {
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return jwtSigningKey, nil
		}, jwt.WithoutClaimsValidation())
		if err != nil || !token.Valid {
			return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return nil, auth.ErrInvalidToken
		}
		info := &auth.TokenInfo{}
		info.Issuer, _ = claims.GetIssuer()
		info.Subject, _ = claims.GetSubject()
		if aud, err := claims.GetAudience(); err == nil {
			info.Audience = aud
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			info.Expiration = exp.Time
		}
		if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
			info.IssuedAt = iat.Time
		}
		if scope, ok := claims["scope"].(string); ok {
			info.Scopes = strings.Fields(scope)
		}
		return info, nil
	}
}
