// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package util holds internal helpers shared across packages.
package util

import "fmt"

// Wrapf wraps *errp with the formatted message, if *errp is non-nil.
// It is meant to be deferred at the top of a function to add context to any
// error the function returns:
//
//	defer util.Wrapf(&err, "fetching %q", url)
func Wrapf(errp *error, format string, args ...any) {
	if *errp != nil {
		*errp = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), *errp)
	}
}
