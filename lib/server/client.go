// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/meridian-observability/meridian/lib/codec"
)

// dialTimeout covers only the connect phase; the server's own
// timeouts govern the request-response exchange.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response
// after writing a request, allowing for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize matches the server's maxRequestSize for symmetry.
const maxResponseSize = 1024 * 1024

// RemoteError is returned by Call when the server responds with
// ok=false.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error on %q: %s", e.Action, e.Message)
}

// Client sends CBOR requests to a Meridian server. Each Call opens a
// new connection, matching the server's one-request-per-connection
// model; OpenStream opens a connection that stays up for a streaming
// session.
type Client struct {
	network string
	address string
}

// NewClient creates a client for the given address. An address
// containing a colon is treated as TCP host:port; anything else is a
// Unix socket path.
func NewClient(address string) *Client {
	network := "unix"
	if strings.Contains(address, ":") {
		network = "tcp"
	}
	return &Client{network: network, address: address}
}

// Call sends a request-response action. The caller's fields are
// augmented with the action name; a non-nil result receives the
// response's "data" field.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	response, err := c.send(ctx, buildRequest(action, fields))
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.address, err)
	}

	if !response.OK {
		return &RemoteError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// Stream is an open streaming session. The Encoder and Decoder must
// be used for all traffic on the session: the decoder reads ahead, so
// mixing in direct reads from the connection would lose frames.
type Stream struct {
	conn net.Conn

	// Encoder writes CBOR values to the server.
	Encoder *codec.Encoder

	// Decoder reads CBOR values from the server.
	Decoder *codec.Decoder
}

// Close closes the underlying connection.
func (s *Stream) Close() error { return s.conn.Close() }

// SetReadDeadline sets the read deadline on the underlying
// connection.
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// OpenStream connects, sends the streaming action's handshake, and
// waits for the server's readiness StreamAck. On success the caller
// owns the returned stream and must close it.
func (c *Client) OpenStream(ctx context.Context, action string, fields map[string]any) (*Stream, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.address, err)
	}

	stream := &Stream{
		conn:    conn,
		Encoder: codec.NewEncoder(conn),
		Decoder: codec.NewDecoder(conn),
	}

	if err := stream.Encoder.Encode(buildRequest(action, fields)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing %q handshake: %w", action, err)
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var ack StreamAck
	if err := stream.Decoder.Decode(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading %q readiness: %w", action, err)
	}
	if !ack.OK {
		conn.Close()
		return nil, &RemoteError{Action: action, Message: ack.Error}
	}

	conn.SetReadDeadline(time.Time{})
	return stream, nil
}

func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

// send connects, writes the request, and reads the single response.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side where the transport supports it so
	// the server's read side sees a clean EOF.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
