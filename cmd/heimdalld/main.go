// Heimdalld is the autocomplete edit tracker daemon.
//
// It loads configuration, opens the metric channel to the collector, and
// serves the HTTP/WebSocket API editor plugins and heimdallctl talk to.
// When a Neovim socket is configured it also attaches to Neovim directly.
// Shutdown is handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/large-farva/heimdall/internal/app"
	"github.com/large-farva/heimdall/internal/config"
	"github.com/large-farva/heimdall/internal/logging"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/heimdall/heimdall.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides [server] bind)")
		socket     = pflag.String("nvim", "", "Neovim RPC socket to attach to (overrides [neovim] socket)")
	)
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	if *socket != "" {
		cfg.Neovim.Socket = *socket
	}

	logger, level, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("heimdalld")

	if _, err := os.Stat(*configPath); err != nil {
		logger.Info("no config file, using defaults", zap.String("path", *configPath))
		*configPath = ""
	}

	a := app.New(app.Options{
		Logger:     logger,
		Level:      level,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Fatal("heimdalld failed", zap.Error(err))
	}
}
