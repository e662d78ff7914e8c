// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Command is a client request decoded from a live session: a name
// selecting the behavior plus free-form attributes. Commands are
// ephemeral — dispatched once, never persisted.
type Command struct {
	Name       string
	Attributes map[string]any
}

// StringsAttribute returns the named attribute as a string slice.
// Decoded JSON and CBOR deliver arrays as []any, so both []string and
// []any-of-string are accepted. Returns false if the attribute is
// absent, of another type, or contains a non-string element.
func (c Command) StringsAttribute(key string) ([]string, bool) {
	switch value := c.Attributes[key].(type) {
	case []string:
		return value, true
	case []any:
		strings := make([]string, len(value))
		for i, element := range value {
			s, ok := element.(string)
			if !ok {
				return nil, false
			}
			strings[i] = s
		}
		return strings, true
	default:
		return nil, false
	}
}
