// Bifrost is the reference metric collector. It serves the SendMetric RPC
// from the same schema heimdalld uses and stores every metric it receives.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/large-farva/heimdall/internal/collector"
	_ "github.com/large-farva/heimdall/internal/compression"
	"github.com/large-farva/heimdall/internal/config"
	"github.com/large-farva/heimdall/internal/logging"
	"github.com/large-farva/heimdall/internal/schema"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/heimdall/heimdall.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "gRPC bind address (overrides [bifrost] bind)")
		database   = pflag.String("db", "", "SQLite database path, or \"memory\" (overrides [bifrost] database)")
	)
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	if *bind != "" {
		cfg.Bifrost.Bind = *bind
	}
	if *database != "" {
		cfg.Bifrost.Database = *database
	}

	logger, _, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("bifrost")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("bifrost failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	sd, err := schema.Load(ctx, cfg.Collector.Schema, cfg.Collector.Namespace, cfg.Collector.Service)
	if err != nil {
		return err
	}

	var store collector.Store
	if cfg.Bifrost.Database == "memory" {
		store = collector.NewMemoryStore()
	} else {
		st, err := collector.OpenSQLite(ctx, cfg.Bifrost.Database)
		if err != nil {
			return err
		}
		store = st
	}
	defer store.Close()

	srv, err := collector.NewServer(sd, store, log)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Bifrost.Bind)
	if err != nil {
		return err
	}

	gs := grpc.NewServer()
	srv.Register(gs)

	go func() {
		<-ctx.Done()
		log.Info("shutdown requested")
		gs.GracefulStop()
	}()

	log.Info("serving",
		zap.String("addr", lis.Addr().String()),
		zap.String("service", string(sd.FullName())),
		zap.String("database", cfg.Bifrost.Database))
	return gs.Serve(lis)
}
