// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/meridian-observability/meridian/lib/clock"
	"github.com/meridian-observability/meridian/lib/config"
	"github.com/meridian-observability/meridian/lib/process"
	"github.com/meridian-observability/meridian/lib/server"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	flags := pflag.NewFlagSet("meridian-gateway", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the gateway configuration file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	store, err := OpenStore(StoreConfig{
		Path:     cfg.Storage.DatabasePath,
		PoolSize: cfg.Storage.PoolSize,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	gateway := NewGateway(cfg, clk, logger, store)

	actionServer := server.New(cfg.Listen.SocketPath, cfg.Listen.TCPAddress, logger)
	gateway.registerActions(actionServer)

	go gateway.runSweeper(ctx)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- actionServer.Serve(ctx)
	}()

	logger.Info("gateway running",
		"socket", cfg.Listen.SocketPath,
		"tcp", cfg.Listen.TCPAddress,
		"database", cfg.Storage.DatabasePath,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Wait for the server to drain active connections, including open
	// ingest and live streams.
	if err := <-serverDone; err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
