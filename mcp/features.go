// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"iter"
	"maps"
	"slices"
)

// A featureSet is an ordered set of features of type T, such as tools,
// prompts or resources.
//
// Features are identified by a unique ID, and iterated in ID order, so that
// feature listings are stable from one call to the next.
type featureSet[T any] struct {
	uniqueID func(T) string
	features map[string]T
}

// newFeatureSet creates a new featureSet for features of type T, with the
// given function to extract each feature's unique ID.
func newFeatureSet[T any](uniqueIDFunc func(T) string) *featureSet[T] {
	return &featureSet[T]{
		uniqueID: uniqueIDFunc,
		features: make(map[string]T),
	}
}

// add adds each feature to the set, replacing any feature with the same
// unique ID.
func (s *featureSet[T]) add(fs ...T) {
	for _, f := range fs {
		s.features[s.uniqueID(f)] = f
	}
}

// remove removes all features with the given uniqueIDs, and reports whether
// anything was removed.
func (s *featureSet[T]) remove(uniqueIDs ...string) bool {
	changed := false
	for _, id := range uniqueIDs {
		if _, ok := s.features[id]; ok {
			changed = true
			delete(s.features, id)
		}
	}
	return changed
}

// get returns the feature with the given uniqueID, if present.
func (s *featureSet[T]) get(uniqueID string) (T, bool) {
	t, ok := s.features[uniqueID]
	return t, ok
}

// all returns an iterator over all features, in ID order.
func (s *featureSet[T]) all() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, id := range slices.Sorted(maps.Keys(s.features)) {
			if !yield(s.features[id]) {
				return
			}
		}
	}
}

// above returns an iterator over features whose IDs are strictly greater than
// uniqueID, in ID order.
func (s *featureSet[T]) above(uniqueID string) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, id := range slices.Sorted(maps.Keys(s.features)) {
			if id > uniqueID && !yield(s.features[id]) {
				return
			}
		}
	}
}
