// Command wargd runs the registry transparency service: it wires the
// checkpoint builder (pkg/checkpoint) and coordinator (pkg/coordinator)
// over either the in-memory or SQL persistence collaborator
// (pkg/persistence) and serves C9's operations over HTTP.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/bytecodealliance/registry-sub001/pkg/checkpoint"
	"github.com/bytecodealliance/registry-sub001/pkg/config"
	"github.com/bytecodealliance/registry-sub001/pkg/coordinator"
	"github.com/bytecodealliance/registry-sub001/pkg/persistence"
	"github.com/bytecodealliance/registry-sub001/pkg/telemetry"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("wargd", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	setUpLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "wargd")

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("open persistence", "error", err)
		return 1
	}

	signer, err := wargcrypto.NewECDSAP256Signer()
	if err != nil {
		logger.Error("init signer", "error", err)
		return 1
	}
	metrics, err := telemetry.New()
	if err != nil {
		logger.Error("init metrics", "error", err)
		return 1
	}

	c := coordinator.New(coordinator.Config{
		Checkpoint: checkpoint.Config{
			Interval:        cfg.CheckpointInterval,
			ChannelCapacity: cfg.LeafChannelCapacity,
		},
	}, signer, store, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		logger.Error("start coordinator", "error", err)
		return 1
	}
	defer c.Stop()

	logger.Info("operator key", "key_id", wargcrypto.KeyID(signer.Public()).String())

	srv := &http.Server{Addr: *addr, Handler: newMux(c)}
	go func() {
		logger.Info("listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	return 0
}

func setUpLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func openStore(cfg *config.Config) (persistence.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("WARGD_DATABASE_URL not set, using in-memory persistence")
		return persistence.NewMemoryStore(), nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := persistence.NewSQLStore(db)
	if err := store.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}
