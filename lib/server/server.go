// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/meridian-observability/meridian/lib/codec"
)

// ActionFunc processes one request-response action. The raw parameter
// is the full CBOR request including the "action" field; the handler
// decodes its action-specific fields from it.
//
// Return a value to place in the response's "data" field, or nil for a
// bare {ok: true}. A returned error becomes a failure response.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc processes a streaming action. The raw parameter is the
// CBOR handshake request; conn is the connection, with deadlines
// cleared, which the handler owns until it returns. The server closes
// conn afterwards.
//
// Streaming handlers write a StreamAck first so the client knows the
// session is established. Clients must not send anything past the
// handshake until that ack arrives: the routing decoder reads ahead,
// so pipelined bytes would be lost when the handler takes over the
// connection.
type StreamFunc func(ctx context.Context, raw []byte, conn net.Conn)

// Response is the wire envelope for request-response actions.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// StreamAck is the per-message acknowledgement used on streaming
// sessions: the readiness signal after the handshake and the ack or
// nack for each subsequent inbound value.
type StreamAck struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// Server serves CBOR actions on a Unix socket and, optionally, a TCP
// listener. Register actions with Handle and HandleStream before
// calling Serve.
type Server struct {
	socketPath string
	tcpAddress string
	logger     *slog.Logger

	handlers map[string]ActionFunc
	streams  map[string]StreamFunc

	// activeConnections tracks in-flight handlers so Serve can drain
	// them on shutdown before returning.
	activeConnections sync.WaitGroup
}

// New creates a server that will listen on socketPath. tcpAddress, if
// non-empty, adds a TCP listener serving the same actions.
func New(socketPath, tcpAddress string, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		tcpAddress: tcpAddress,
		logger:     logger,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
	}
}

// Handle registers a request-response action. Panics on a duplicate
// name; registration is startup-time wiring, not runtime input.
func (s *Server) Handle(action string, handler ActionFunc) {
	s.checkDuplicate(action)
	s.handlers[action] = handler
}

// HandleStream registers a streaming action. Panics on a duplicate
// name.
func (s *Server) HandleStream(action string, handler StreamFunc) {
	s.checkDuplicate(action)
	s.streams[action] = handler
}

func (s *Server) checkDuplicate(action string) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("server: duplicate handler for action %q", action))
	}
	if _, exists := s.streams[action]; exists {
		panic(fmt.Sprintf("server: duplicate handler for action %q", action))
	}
}

// Serve accepts connections until ctx is cancelled, then stops
// listening and waits for active handlers (including open streams) to
// finish. Any stale socket file at the configured path is removed
// before listening, and the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	socketListener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	listeners := []net.Listener{socketListener}

	if s.tcpAddress != "" {
		tcpListener, err := net.Listen("tcp", s.tcpAddress)
		if err != nil {
			socketListener.Close()
			os.Remove(s.socketPath)
			return fmt.Errorf("listening on %s: %w", s.tcpAddress, err)
		}
		listeners = append(listeners, tcpListener)
	}

	defer func() {
		for _, listener := range listeners {
			listener.Close()
		}
		os.Remove(s.socketPath)
	}()

	// Unblock Accept on every listener when the context is cancelled.
	go func() {
		<-ctx.Done()
		for _, listener := range listeners {
			listener.Close()
		}
	}()

	s.logger.Info("server listening",
		"socket", s.socketPath,
		"tcp", s.tcpAddress,
	)

	var acceptLoops sync.WaitGroup
	for _, listener := range listeners {
		acceptLoops.Add(1)
		go func(listener net.Listener) {
			defer acceptLoops.Done()
			s.acceptLoop(ctx, listener)
		}(listener)
	}

	acceptLoops.Wait()
	s.activeConnections.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// headerTimeout is how long the server waits for a connection's first
// CBOR value. A well-behaved client sends its request immediately
// after connecting.
const headerTimeout = 30 * time.Second

// writeTimeout bounds response writes on request-response actions.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single routing request. Streaming payloads
// are bounded separately by their handlers.
const maxRequestSize = 1024 * 1024

// handleConnection routes a connection by its first CBOR value, then
// either completes a request-response cycle or hands the connection to
// a streaming handler.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(headerTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if stream, exists := s.streams[header.Action]; exists {
		// The handler owns pacing from here; remove the header
		// deadline.
		conn.SetReadDeadline(time.Time{})
		stream(ctx, []byte(raw), conn)
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

// writeError sends {ok: false, error: "..."}. Write failures are
// logged at debug level; the connection is closing regardless.
func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true} with the marshaled result, if any, in
// the "data" field.
func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
