// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"

	"github.com/meridian-observability/meridian/lib/codec"
	"github.com/meridian-observability/meridian/lib/protocol"
)

// Command format discriminators.
const (
	FormatCommandJSON = "command/json/v1"
	FormatCommandCBOR = "command/cbor/v1"
)

// NewCommandRegistry returns a registry with every built-in command
// format registered.
func NewCommandRegistry() *Registry[protocol.Command] {
	registry := NewRegistry[protocol.Command]()
	registry.Register(FormatCommandJSON, JSONCommandParser{})
	registry.Register(FormatCommandCBOR, CBORCommandParser{})
	return registry
}

// JSONCommandParser parses command/json/v1 payloads: a JSON object
// whose "command" member names the command; every other member becomes
// an attribute. An object without a "command" member parses to a
// command with an empty name, which no processor claims.
type JSONCommandParser struct{}

func (JSONCommandParser) Parse(data []byte) (protocol.Command, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return protocol.Command{}, parseErrorf(FormatCommandJSON, err, "decoding command object")
	}
	return buildCommand(FormatCommandJSON, fields)
}

// CBORCommandParser parses command/cbor/v1 payloads: the same shape as
// the JSON format, encoded as CBOR.
type CBORCommandParser struct{}

func (CBORCommandParser) Parse(data []byte) (protocol.Command, error) {
	var fields map[string]any
	if err := codec.Unmarshal(data, &fields); err != nil {
		return protocol.Command{}, parseErrorf(FormatCommandCBOR, err, "decoding command object")
	}
	return buildCommand(FormatCommandCBOR, fields)
}

func buildCommand(format string, fields map[string]any) (protocol.Command, error) {
	command := protocol.Command{
		Attributes: make(map[string]any, len(fields)),
	}
	for key, value := range fields {
		if key == "command" {
			name, ok := value.(string)
			if !ok {
				return protocol.Command{}, parseErrorf(format, nil,
					"command member is %T, want string", value)
			}
			command.Name = name
			continue
		}
		command.Attributes[key] = value
	}
	return command, nil
}
