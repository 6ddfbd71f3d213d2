// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements parsing of WWW-Authenticate headers.
// See https://www.rfc-editor.org/rfc/rfc9110.html#section-11.6.1.

//go:build mcp_go_client_oauth

package oauthex

import (
	"fmt"
	"strings"
	"unicode"
)

// A challenge is a single authentication challenge from a WWW-Authenticate
// header: a scheme (lowercased) with its auth parameters (keys lowercased).
type challenge struct {
	Scheme string
	Params map[string]string
}

// ParseWWWAuthenticate parses the given WWW-Authenticate header values into a
// list of challenges. Parameter values may be tokens or quoted strings;
// token68 challenges are not supported.
func ParseWWWAuthenticate(headers []string) ([]challenge, error) {
	var cs []challenge
	for _, h := range headers {
		p := &parser{s: h}
		for {
			c, err := p.challenge()
			if err != nil {
				return nil, fmt.Errorf("parsing WWW-Authenticate %q: %w", h, err)
			}
			if c == nil {
				break
			}
			cs = append(cs, *c)
		}
	}
	return cs, nil
}

type parser struct {
	s string
}

func (p *parser) skipSpace() {
	p.s = strings.TrimLeft(p.s, " \t")
}

func (p *parser) token() string {
	i := strings.IndexFunc(p.s, func(r rune) bool {
		return !isTokenChar(r)
	})
	if i < 0 {
		i = len(p.s)
	}
	t := p.s[:i]
	p.s = p.s[i:]
	return t
}

func isTokenChar(r rune) bool {
	return r < unicode.MaxASCII &&
		(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("!#$%&'*+-.^_`|~", r))
}

// challenge parses one challenge, returning nil at end of input.
func (p *parser) challenge() (*challenge, error) {
	p.skipSpace()
	if p.s == "" {
		return nil, nil
	}
	scheme := p.token()
	if scheme == "" {
		return nil, fmt.Errorf("missing scheme at %q", p.s)
	}
	c := &challenge{Scheme: strings.ToLower(scheme), Params: map[string]string{}}
	for {
		p.skipSpace()
		if p.s == "" {
			return c, nil
		}
		if p.s[0] == ',' {
			// A comma may separate auth-params or challenges. It starts a new
			// challenge only if what follows is a scheme, which we detect by
			// the absence of '='.
			rest := p.s[1:]
			q := &parser{s: rest}
			q.skipSpace()
			q.token()
			q.skipSpace()
			if strings.HasPrefix(q.s, "=") && !strings.HasPrefix(q.s, "==") {
				p.s = rest
				continue
			}
			p.s = rest
			return c, nil
		}
		key := p.token()
		if key == "" {
			return nil, fmt.Errorf("missing parameter at %q", p.s)
		}
		p.skipSpace()
		if !strings.HasPrefix(p.s, "=") {
			return nil, fmt.Errorf("missing '=' after %q", key)
		}
		p.s = p.s[1:]
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		c.Params[strings.ToLower(key)] = val
	}
}

func (p *parser) value() (string, error) {
	if !strings.HasPrefix(p.s, `"`) {
		if t := p.token(); t != "" {
			return t, nil
		}
		return "", fmt.Errorf("missing value at %q", p.s)
	}
	// Quoted string, possibly with escapes.
	var sb strings.Builder
	for i := 1; i < len(p.s); i++ {
		switch p.s[i] {
		case '"':
			p.s = p.s[i+1:]
			return sb.String(), nil
		case '\\':
			i++
			if i == len(p.s) {
				return "", fmt.Errorf("unterminated escape in %q", p.s)
			}
			sb.WriteByte(p.s[i])
		default:
			sb.WriteByte(p.s[i])
		}
	}
	return "", fmt.Errorf("unterminated quoted string %q", p.s)
}
