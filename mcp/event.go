// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
)

// An event is a server-sent event.
//
// See https://html.spec.whatwg.org/multipage/server-sent-events.html for a
// description of the wire format.
type event struct {
	name string // the "event" field
	id   string // the "id" field
	data []byte // the "data" field
}

// writeEvent writes the event to w, and flushes the response if w is an
// [http.Flusher].
func writeEvent(w io.Writer, evt event) (int, error) {
	var b bytes.Buffer
	if evt.name != "" {
		fmt.Fprintf(&b, "event: %s\n", evt.name)
	}
	if evt.id != "" {
		fmt.Fprintf(&b, "id: %s\n", evt.id)
	}
	fmt.Fprintf(&b, "data: %s\n\n", string(evt.data))
	n, err := w.Write(b.Bytes())
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// scanEventMaxLine bounds the length of a single line in an event stream.
const scanEventMaxLine = 10 << 20

// scanEvents iterates server-sent events in r.
//
// Iteration ends when r is exhausted, or at the first read error. The error is
// yielded with a zero event; io.EOF is not reported.
func scanEvents(r io.Reader) iter.Seq2[event, error] {
	return func(yield func(event, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(nil, scanEventMaxLine)

		// The event fields accumulated for the current event. Per the spec, an
		// event is dispatched at each blank line.
		var (
			evt      event
			dataLine [][]byte
			haveData bool
		)
		dispatch := func() bool {
			if !haveData {
				evt, dataLine = event{}, nil
				return true
			}
			evt.data = bytes.Join(dataLine, []byte{'\n'})
			ok := yield(evt, nil)
			evt, dataLine, haveData = event{}, nil, false
			return ok
		}
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				if !dispatch() {
					return
				}
				continue
			}
			if line[0] == ':' { // comment
				continue
			}
			field, value, ok := bytes.Cut(line, []byte{':'})
			if !ok {
				field, value = line, nil
			}
			value = bytes.TrimPrefix(value, []byte{' '})
			switch string(field) {
			case "event":
				evt.name = string(value)
			case "id":
				// Per the spec, IDs containing NUL are ignored.
				if !bytes.ContainsRune(value, 0) {
					evt.id = string(value)
				}
			case "data":
				dataLine = append(dataLine, bytes.Clone(value))
				haveData = true
			default:
				// Unknown fields are ignored.
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			yield(event{}, err)
			return
		}
		// Dispatch any final event not followed by a blank line.
		dispatch()
	}
}

// isContentType reports whether the response's Content-Type header matches
// want, ignoring any media type parameters such as charset.
func isContentType(header http.Header, want string) bool {
	ct := header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct) == want
}
