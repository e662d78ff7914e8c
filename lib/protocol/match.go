// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"path"
	"strings"
)

// MatchPattern checks whether a record's dimension path (the
// slash-joined cluster/service/host values) matches a subscription
// glob pattern:
//
//   - Exact match: "prod/frontend/web-01" matches only that path
//   - Single-segment wildcard: "prod/*/web-01" matches any service
//   - Recursive wildcard: "prod/**" matches every path under prod
//   - Universal: "**" matches any path
//   - Interior recursive: "prod/**/web-01" matches with any segments
//     between
//   - Character wildcard: "?" matches a single non-slash character
//
// The single-segment wildcard "*" never crosses a "/" boundary (the
// standard path.Match behavior); "**" is the only way to span
// hierarchy levels.
//
// Malformed patterns (unmatched brackets, etc.) match nothing rather
// than propagating an error — a broken subscription should never
// receive records.
func MatchPattern(pattern, dimensionPath string) bool {
	if pattern == "**" {
		return true
	}

	// Without ** the pattern is plain path.Match territory.
	if !strings.Contains(pattern, "**") {
		return matchGlob(pattern, dimensionPath)
	}

	// Suffix form: "prod/**" — match the prefix, then anything after.
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok && !strings.Contains(prefix, "**") {
		// ** may consume zero segments, making the whole path the
		// prefix, or one or more trailing segments.
		if matchGlob(prefix, dimensionPath) {
			return true
		}
		return matchLeadingSegments(prefix, dimensionPath)
	}

	// Prefix form: "**/web-01" — match anything before the suffix.
	if suffix, ok := strings.CutPrefix(pattern, "**/"); ok && !strings.Contains(suffix, "**") {
		if matchGlob(suffix, dimensionPath) {
			return true
		}
		return matchTrailingSegments(suffix, dimensionPath)
	}

	// Interior form: "prod/**/web-01" — split on the first /**/ and
	// match the two halves independently.
	if before, after, ok := strings.Cut(pattern, "/**/"); ok &&
		!strings.Contains(before, "**") && !strings.Contains(after, "**") {
		// Zero segments consumed: the halves are adjacent.
		if matchGlob(before+"/"+after, dimensionPath) {
			return true
		}

		beforeDepth := strings.Count(before, "/") + 1
		afterDepth := strings.Count(after, "/") + 1
		segments := strings.Split(dimensionPath, "/")
		if len(segments) < beforeDepth+1+afterDepth {
			return false
		}
		if !matchGlob(before, strings.Join(segments[:beforeDepth], "/")) {
			return false
		}
		if !matchGlob(after, strings.Join(segments[len(segments)-afterDepth:], "/")) {
			return false
		}
		// Segments swallowed by ** must be non-empty; reject paths
		// with consecutive slashes.
		for _, segment := range segments[beforeDepth : len(segments)-afterDepth] {
			if segment == "" {
				return false
			}
		}
		return true
	}

	// Multiple ** segments or other exotic shapes: unsupported, match
	// nothing.
	return false
}

// MatchAnyPattern reports whether the dimension path matches any of
// the given patterns. An empty pattern list matches nothing — a
// session that never subscribed receives no records.
func MatchAnyPattern(patterns []string, dimensionPath string) bool {
	for _, pattern := range patterns {
		if MatchPattern(pattern, dimensionPath) {
			return true
		}
	}
	return false
}

// matchGlob wraps path.Match, treating malformed patterns as
// non-matching.
func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}

// matchLeadingSegments reports whether the path's leading segments
// match the pattern with at least one further segment after them.
func matchLeadingSegments(pattern, dimensionPath string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(dimensionPath, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[:depth], "/"))
}

// matchTrailingSegments reports whether the path's trailing segments
// match the pattern with at least one segment before them.
func matchTrailingSegments(pattern, dimensionPath string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(dimensionPath, "/")
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[len(segments)-depth:], "/"))
}
