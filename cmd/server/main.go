package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/internal/config"
	"github.com/DoyleJ11/tetris-versus/internal/server"
	"github.com/DoyleJ11/tetris-versus/internal/store"
)

// usage: server [port] [host]
func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		if cfg.Port, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
	}
	if len(args) > 1 {
		cfg.Host = args[1]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := store.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	opts := server.OptionsFrom(cfg)
	opts.Hub.Observer = rec
	srv := server.New(opts, log)
	if err := srv.Start(ctx); err != nil {
		return multierr.Append(err, rec.Close())
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- srv.Wait() }()
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-waitErr:
		log.Error("relay failed", zap.Error(err))
	}

	// the hub must be stopped before the recorder flushes
	err = multierr.Append(err, srv.Stop())
	return multierr.Append(err, rec.Close())
}
