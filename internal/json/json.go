// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package json provides internal JSON utilities.

package json

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

// Unmarshal is like [encoding/json.Unmarshal], except that it matches struct
// field names case-sensitively: a JSON key that differs from a field's JSON
// name only by case is not a match. The protocol is case-sensitive, and the
// standard library's case-insensitive fallback would let mis-cased keys
// smuggle values into typed params.
func Unmarshal(data []byte, v any) error {
	rest, err := json.Parse(data, v, json.DontMatchCaseInsensitiveStructFields)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("invalid character %q after top-level value", rest[0])
	}
	return nil
}
