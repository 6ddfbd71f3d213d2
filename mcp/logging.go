// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MCP logging levels, as [slog.Level] values.
//
// MCP defines seven logging levels to slog's four, following syslog. The
// additional levels are defined here at the even values in between, so that
// the slog levels and the MCP levels sort consistently.
const (
	LevelDebug     = slog.LevelDebug
	LevelInfo      = slog.LevelInfo
	LevelNotice    = slog.Level(2)
	LevelWarning   = slog.LevelWarn
	LevelError     = slog.LevelError
	LevelCritical  = slog.Level(12)
	LevelAlert     = slog.Level(16)
	LevelEmergency = slog.Level(20)
)

// loggingLevels lists the MCP logging levels in increasing order of severity.
var loggingLevels = []LoggingLevel{
	"debug", "info", "notice", "warning", "error", "critical", "alert", "emergency",
}

// compareLevels returns a negative number if a is less severe than b, zero if
// they are equal, and a positive number otherwise. Unknown levels are less
// severe than all known ones.
func compareLevels(a, b LoggingLevel) int {
	return slices.Index(loggingLevels, a) - slices.Index(loggingLevels, b)
}

// loggingLevel converts a slog.Level to the MCP level whose severity range
// contains it.
func loggingLevel(l slog.Level) LoggingLevel {
	switch {
	case l < LevelInfo:
		return "debug"
	case l < LevelNotice:
		return "info"
	case l < LevelWarning:
		return "notice"
	case l < LevelError:
		return "warning"
	case l < LevelCritical:
		return "error"
	case l < LevelAlert:
		return "critical"
	case l < LevelEmergency:
		return "alert"
	default:
		return "emergency"
	}
}

// Log sends a notifications/message notification to the client, provided the
// client has expressed interest in messages of the given level by calling
// logging/setLevel.
//
// Until the client sets a level, no messages are sent.
func (ss *ServerSession) Log(ctx context.Context, params *LoggingMessageParams) error {
	min := ss.loggingLevel()
	if min == "" {
		return nil
	}
	if compareLevels(params.Level, min) < 0 {
		return nil
	}
	return handleNotify(ctx, notificationLoggingMessage, newServerRequest(ss, orZero(params)))
}

// LoggingHandlerOptions are options for a [LoggingHandler].
type LoggingHandlerOptions struct {
	// LoggerName is the name of the logger reported in the notification's
	// "logger" field.
	LoggerName string
	// MinInterval limits the rate of log messages: at most one is sent per
	// interval, and the rest are dropped.
	// Zero means no rate limiting.
	MinInterval time.Duration
}

// A LoggingHandler is a [slog.Handler] that delivers log records to an MCP
// client via notifications/message.
//
// Records are serialized with [slog.JSONHandler] and sent as the
// notification's data field, except that the record's level becomes the
// notification's level.
type LoggingHandler struct {
	ss      *ServerSession
	opts    LoggingHandlerOptions
	limiter *rate.Limiter

	// The JSON handler writes to buf, guarded by mu. Handlers derived with
	// WithAttrs and WithGroup share both.
	mu    *sync.Mutex
	buf   *bytes.Buffer
	inner slog.Handler
}

// NewLoggingHandler creates a [LoggingHandler] that logs to the given
// session, using a [slog.JSONHandler] to produce the log payload.
func NewLoggingHandler(ss *ServerSession, opts *LoggingHandlerOptions) *LoggingHandler {
	buf := new(bytes.Buffer)
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: LevelDebug, // let the session's log level do the filtering
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// The level is conveyed in the notification itself.
			if a.Key == slog.LevelKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	h := &LoggingHandler{ss: ss, mu: new(sync.Mutex), buf: buf, inner: inner}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.MinInterval > 0 {
		h.limiter = rate.NewLimiter(rate.Every(h.opts.MinInterval), 1)
	}
	return h
}

// Enabled implements [slog.Handler.Enabled]. It returns true: filtering
// happens in [ServerSession.Log], according to the level set by the client.
func (h *LoggingHandler) Enabled(context.Context, slog.Level) bool { return true }

// WithAttrs implements [slog.Handler.WithAttrs].
func (h *LoggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.inner = h.inner.WithAttrs(attrs)
	return &h2
}

// WithGroup implements [slog.Handler.WithGroup].
func (h *LoggingHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.inner = h.inner.WithGroup(name)
	return &h2
}

// Handle implements [slog.Handler.Handle].
func (h *LoggingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.limiter != nil && !h.limiter.Allow() {
		return nil
	}
	h.mu.Lock()
	h.buf.Reset()
	err := h.inner.Handle(ctx, r)
	data := bytes.Clone(bytes.TrimSpace(h.buf.Bytes()))
	h.mu.Unlock()
	if err != nil {
		return err
	}
	params := &LoggingMessageParams{
		Logger: h.opts.LoggerName,
		Level:  loggingLevel(r.Level),
		Data:   json.RawMessage(data),
	}
	return h.ss.Log(ctx, params)
}
