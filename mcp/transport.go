// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/modelcontextprotocol/go-runtime/internal/jsonrpc2"
	"github.com/modelcontextprotocol/go-runtime/jsonrpc"
)

// A Transport is used to create a bidirectional connection between MCP client
// and server.
//
// Transports should be used for at most one call to [Server.Connect] or
// [Client.Connect].
type Transport interface {
	// Connect returns the logical JSON-RPC connection.
	//
	// It is called exactly once by [Server.Connect] or [Client.Connect].
	Connect(ctx context.Context) (Connection, error)
}

// A Connection is a logical bidirectional JSON-RPC connection.
type Connection interface {
	// Read reads the next message from the connection, blocking until a
	// message is available or an error occurs.
	//
	// Read returns io.EOF, possibly wrapped, when the peer disconnects
	// cleanly.
	Read(ctx context.Context) (jsonrpc.Message, error)

	// Write writes a message to the connection.
	Write(ctx context.Context, msg jsonrpc.Message) error

	// SessionID returns the ID of the session carried by this connection, or
	// "" if the transport does not define session IDs.
	SessionID() string

	// Close closes the connection, unblocking any pending reads or writes.
	//
	// Close must be idempotent.
	Close() error
}

// A StdioTransport is a [Transport] that communicates using newline-delimited
// JSON over the process's standard input and output, or over the streams
// provided in its fields.
type StdioTransport struct {
	// In is the input stream. If nil, os.Stdin is used.
	In io.ReadCloser
	// Out is the output stream. If nil, os.Stdout is used.
	Out io.WriteCloser
}

// Connect implements the [Transport] interface.
func (t *StdioTransport) Connect(context.Context) (Connection, error) {
	in := t.In
	if in == nil {
		// Leave the process's stdin and stdout open when the connection
		// closes: the testing package, among others, still needs them.
		in = io.NopCloser(os.Stdin)
	}
	out := t.Out
	if out == nil {
		out = writerOnly{os.Stdout}
	}
	return newIOConn(rwc{in, out}), nil
}

// writerOnly is an io.WriteCloser whose Close is a no-op.
type writerOnly struct {
	io.Writer
}

func (writerOnly) Close() error { return nil }

// An rwc binds separate read and write streams into an io.ReadWriteCloser.
type rwc struct {
	rc io.ReadCloser
	wc io.WriteCloser
}

func (r rwc) Read(p []byte) (int, error)  { return r.rc.Read(p) }
func (r rwc) Write(p []byte) (int, error) { return r.wc.Write(p) }

func (r rwc) Close() error {
	var errs []error
	if r.rc != nil {
		errs = append(errs, r.rc.Close())
	}
	if r.wc != nil {
		errs = append(errs, r.wc.Close())
	}
	return errors.Join(errs...)
}

// An InMemoryTransport is a [Transport] that communicates over an in-memory
// network connection, using newline-delimited JSON.
type InMemoryTransport struct {
	conn net.Conn
}

// NewInMemoryTransports returns two InMemoryTransports that connect to each
// other.
func NewInMemoryTransports() (*InMemoryTransport, *InMemoryTransport) {
	c1, c2 := net.Pipe()
	return &InMemoryTransport{c1}, &InMemoryTransport{c2}
}

// Connect implements the [Transport] interface.
func (t *InMemoryTransport) Connect(context.Context) (Connection, error) {
	return newIOConn(t.conn), nil
}

// An ioConn is a transport connection that communicates over an
// io.ReadWriteCloser, delimiting messages with newlines. It supports optional
// JSON-RPC batching, for protocol versions that allow it.
//
// It is the connection type for the stdio and in-memory transports.
type ioConn struct {
	rwc io.ReadWriteCloser
	in  *json.Decoder

	// If outgoingBatch has capacity, messages are buffered in it and flushed
	// as a single JSON array once it is full.
	outgoingBatch []jsonrpc.Message

	// queue holds incoming messages decoded from a batch but not yet
	// delivered by Read. It is accessed only by the (single) reader.
	queue []jsonrpc.Message

	mu sync.Mutex
	// protocolVersion is the version negotiated during initialization, which
	// determines whether batching is allowed. Guarded by mu: the session
	// updates it concurrently with reads.
	protocolVersion string

	closeOnce sync.Once
	closeErr  error
}

func newIOConn(rwc io.ReadWriteCloser) *ioConn {
	return &ioConn{
		rwc: rwc,
		in:  json.NewDecoder(rwc),
	}
}

func (c *ioConn) SessionID() string { return "" }

// sessionUpdated records the negotiated protocol version from the session
// state.
func (c *ioConn) sessionUpdated(state ServerSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state.InitializeParams != nil {
		c.protocolVersion = state.InitializeParams.ProtocolVersion
	}
}

func (c *ioConn) negotiatedVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolVersion
}

func (c *ioConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		return next, nil
	}

	var raw json.RawMessage
	if err := c.in.Decode(&raw); err != nil {
		return nil, err
	}
	// The decoder accepts any concatenation of JSON values. Between top-level
	// values, allow only whitespace or the start of another message.
	if err := c.checkDelimiter(); err != nil {
		return nil, err
	}

	if len(raw) > 0 && raw[0] == '[' {
		// A JSON-RPC batch. Batching was removed in the 2025-06-18 version of
		// the protocol.
		if v := c.negotiatedVersion(); v >= protocolVersion20250618 {
			return nil, fmt.Errorf("JSON-RPC batching is not supported in %s and later (request version: %s)", protocolVersion20250618, v)
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		if len(elems) == 0 {
			return nil, errors.New("empty batch")
		}
		msgs := make([]jsonrpc.Message, len(elems))
		for i, elem := range elems {
			msg, err := jsonrpc2.DecodeMessage(elem)
			if err != nil {
				return nil, err
			}
			msgs[i] = msg
		}
		c.queue = append(c.queue, msgs[1:]...)
		return msgs[0], nil
	}
	return jsonrpc2.DecodeMessage(raw)
}

// checkDelimiter peeks at data buffered beyond the value just decoded,
// without consuming it.
func (c *ioConn) checkDelimiter() error {
	buffered, err := io.ReadAll(c.in.Buffered())
	if err != nil {
		return err
	}
	if rest := bytes.TrimSpace(buffered); len(rest) > 0 && rest[0] != '{' && rest[0] != '[' {
		return errors.New("invalid trailing data at the end of stream")
	}
	return nil
}

func (c *ioConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// If batching is configured, buffer the message, flushing when the batch
	// is full.
	if cap(c.outgoingBatch) > 0 {
		c.outgoingBatch = append(c.outgoingBatch, msg)
		if len(c.outgoingBatch) < cap(c.outgoingBatch) {
			return nil
		}
		data, err := marshalMessages(c.outgoingBatch)
		c.outgoingBatch = c.outgoingBatch[:0]
		if err != nil {
			return err
		}
		_, err = c.rwc.Write(append(data, '\n'))
		return err
	}

	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = c.rwc.Write(append(data, '\n'))
	return err
}

func (c *ioConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// marshalMessages encodes msgs as a JSON-RPC batch.
func marshalMessages[T jsonrpc.Message](msgs []T) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, msg := range msgs {
		if i > 0 {
			b.WriteByte(',')
		}
		data, err := jsonrpc2.EncodeMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("encoding message: %w", err)
		}
		b.Write(data)
	}
	b.WriteByte(']')
	return b.Bytes(), nil
}

// A LoggingTransport is a [Transport] that delegates to another transport,
// writing RPC logs to an io.Writer.
type LoggingTransport struct {
	Transport Transport
	Writer    io.Writer
}

// Connect implements the [Transport] interface, connecting the delegate and
// wrapping the resulting connection.
func (t *LoggingTransport) Connect(ctx context.Context) (Connection, error) {
	delegate, err := t.Transport.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConn{delegate: delegate, w: t.Writer}, nil
}

// A loggingConn logs successful reads and writes on the delegate connection.
type loggingConn struct {
	delegate Connection

	mu sync.Mutex // serializes writes to w, as reads are concurrent to writes
	w  io.Writer
}

func (c *loggingConn) SessionID() string { return c.delegate.SessionID() }

// sessionUpdated forwards session state to the delegate, so that wrapping a
// connection does not change its behavior.
func (c *loggingConn) sessionUpdated(state ServerSessionState) {
	if conn, ok := c.delegate.(sessionUpdater); ok {
		conn.sessionUpdated(state)
	}
}

func (c *loggingConn) log(dir string, msg jsonrpc.Message) {
	data, err := jsonrpc2.EncodeMessage(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		fmt.Fprintf(c.w, "%s error: %v\n", dir, err)
		return
	}
	fmt.Fprintf(c.w, "%s: %s\n", dir, data)
}

func (c *loggingConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.log("read", msg)
	}
	return msg, err
}

func (c *loggingConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	err := c.delegate.Write(ctx, msg)
	if err == nil {
		c.log("write", msg)
	}
	return err
}

func (c *loggingConn) Close() error {
	return c.delegate.Close()
}
