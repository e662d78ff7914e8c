// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"sort"
	"sync"
)

// Parser translates raw bytes into a typed value. Implementations are
// stateless and safe for concurrent use; a single parser instance
// serves every connection.
//
// Parse returns either a fully valid value or a *ParseError — never a
// partially populated value alongside an error.
type Parser[T any] interface {
	Parse(data []byte) (T, error)
}

// ParseError reports that a payload could not be turned into a valid
// value. Format names the parser that rejected the payload; the
// wrapped cause (a decode error or a record validation error) is
// reachable through errors.As.
type ParseError struct {
	Format string
	Detail string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Format, e.Detail, e.Cause)
	}
	return fmt.Sprintf("parse %s: %s", e.Format, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// parseErrorf builds a *ParseError with a formatted detail message.
func parseErrorf(format string, cause error, detail string, args ...any) error {
	return &ParseError{
		Format: format,
		Detail: fmt.Sprintf(detail, args...),
		Cause:  cause,
	}
}

// Registry maps format discriminator strings to parsers. Registration
// happens at startup; lookups happen on every inbound envelope, so the
// map is guarded by an RWMutex.
type Registry[T any] struct {
	mu      sync.RWMutex
	parsers map[string]Parser[T]
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		parsers: make(map[string]Parser[T]),
	}
}

// Register binds a format discriminator to a parser. Registering the
// same format twice is a programming error and panics.
func (r *Registry[T]) Register(format string, parser Parser[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.parsers[format]; exists {
		panic(fmt.Sprintf("wire: duplicate parser registration for format %q", format))
	}
	r.parsers[format] = parser
}

// Lookup returns the parser for a format discriminator.
func (r *Registry[T]) Lookup(format string) (Parser[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parser, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("unknown wire format %q", format)
	}
	return parser, nil
}

// Formats returns the registered discriminators in sorted order, for
// status reporting.
func (r *Registry[T]) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]string, 0, len(r.parsers))
	for format := range r.parsers {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}
