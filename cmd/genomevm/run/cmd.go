// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package run starts a standalone genome VM daemon.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"

	"github.com/luxfi/genomevm"
)

const shutdownTimeout = 10 * time.Second

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "genomevm",
		Short: "Runs a genome VM daemon",
		RunE:  runFunc,
	}
	AddFlags(c.Flags())
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	if config.GenesisPath == "" {
		return errors.New("--genesis is required")
	}

	logger := log.NewLogger("genomevm")

	genesisBytes, err := os.ReadFile(config.GenesisPath)
	if err != nil {
		return fmt.Errorf("failed to read genesis: %w", err)
	}

	var db database.Database
	if config.DBDir == "" {
		logger.Info("using in-memory database")
		db = memdb.New()
	} else {
		db, err = badgerdb.New(config.DBDir, nil, "", nil)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vm := &genomevm.VM{}
	if err := vm.Initialize(ctx, db, genesisBytes, logger); err != nil {
		return err
	}

	handlers, err := vm.CreateHandlers(ctx)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ext/genome", handlers[""])
	mux.Handle("/ext/genome/events", handlers["/events"])
	if gatherer, ok := vm.Registry().(prometheus.Gatherer); ok {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowCredentials: true,
	}).Handler(mux)

	srv := &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", log.String("addr", config.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", log.Err(err))
	}
	if err := vm.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return db.Close()
}
