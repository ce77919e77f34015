// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qrpubd serves QR code generation and image publishing over
// HTTP.
//
// Configuration is read from the file named by --config (YAML or JSON
// with comments), a .env file and QRPUB_* environment variables, in
// that order; flags override all of them.  The store is given as
// "memory", "file:DIR" or "sqlite:FILE".
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/unixdj/qrpub/blob"
	"github.com/unixdj/qrpub/blob/filestore"
	"github.com/unixdj/qrpub/blob/memstore"
	"github.com/unixdj/qrpub/blob/sqlitestore"
	"github.com/unixdj/qrpub/internal/config"
	"github.com/unixdj/qrpub/internal/server"
	"github.com/unixdj/qrpub/publish"
)

const version = "0.9.0"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "qrpubd: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs returns the configuration selected by args.  It returns
// nil if the program should exit after printing to out.
func parseArgs(args []string, out io.Writer) (*config.Config, error) {
	var (
		path, listen, store, baseURL, level string
		showVersion                         bool
	)
	fs := pflag.NewFlagSet("qrpubd", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&path, "config", "c", "", "configuration file (.yaml, .yml, .json or .jsonc)")
	fs.StringVarP(&listen, "listen", "l", "", "listen address (default \":8080\")")
	fs.StringVar(&store, "store", "", `blob store: "memory", "file:DIR" or "sqlite:FILE"`)
	fs.StringVar(&baseURL, "base-url", "", "public base URL of stored images")
	fs.StringVar(&level, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVarP(&showVersion, "version", "V", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil
		}
		return nil, err
	}
	if showVersion {
		fmt.Fprintln(out, "qrpubd version", version)
		return nil, nil
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if fs.Changed("listen") {
		cfg.Listen = listen
	}
	if fs.Changed("store") {
		kind, p, _ := strings.Cut(store, ":")
		cfg.Store = config.StoreConfig{Kind: kind, Path: p}
	}
	if fs.Changed("base-url") {
		cfg.PublicBaseURL = baseURL
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured store.  The returned function
// releases it.
func openStore(sc config.StoreConfig, logger *slog.Logger) (blob.Store, func() error, error) {
	nop := func() error { return nil }
	switch sc.Kind {
	case config.StoreFile:
		s, err := filestore.New(sc.Path, logger)
		return s, nop, err
	case config.StoreSQLite:
		s, err := sqlitestore.Open(sc.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return memstore.New(), nop, nil
}

func newHandler(cfg *config.Config, store blob.Store, logger *slog.Logger) (http.Handler, error) {
	opts, err := cfg.Encode.Options()
	if err != nil {
		return nil, err
	}
	types, err := cfg.Upload.Types()
	if err != nil {
		return nil, err
	}
	encoders, err := cfg.URLEncoders()
	if err != nil {
		return nil, err
	}
	p := &publish.Publisher{
		Store:     store,
		Resolvers: publish.DefaultResolvers(cfg.PublicBaseURL),
		Options:   &opts,
		MaxSize:   cfg.Upload.MaxBytes,
		Types:     types,
		Logger:    logger,
	}
	s := server.New(p, opts, encoders, logger)
	s.TrustProxy = cfg.TrustProxy
	return s, nil
}

func run(args []string, out io.Writer) error {
	cfg, err := parseArgs(args, out)
	if cfg == nil || err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level}))

	store, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()
	h, err := newHandler(cfg, store, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Listen, "store", cfg.Store.Kind,
			"base_url", cfg.PublicBaseURL)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
