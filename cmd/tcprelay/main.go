package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Versifine/tcprelay/internal/config"
	"github.com/Versifine/tcprelay/internal/debug"
	"github.com/Versifine/tcprelay/internal/event"
	"github.com/Versifine/tcprelay/internal/logger"
	"github.com/Versifine/tcprelay/internal/proxy"
	"github.com/Versifine/tcprelay/internal/state"
)

func main() {
	var configPath, listenAddr, upstreamAddr, debugAddr string
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&listenAddr, "listen", "", "address to listen on (host:port)")
	flag.StringVar(&listenAddr, "l", "", "shorthand for -listen")
	flag.StringVar(&upstreamAddr, "upstream", "", "address to forward to (host:port)")
	flag.StringVar(&upstreamAddr, "u", "", "shorthand for -upstream")
	flag.StringVar(&debugAddr, "debug", "", fmt.Sprintf("debug HTTP address (default %s:%d)", config.DefaultDebugHost, config.DefaultDebugPort))
	flag.StringVar(&debugAddr, "d", "", "shorthand for -debug")
	flag.Parse()

	if err := run(configPath, listenAddr, upstreamAddr, debugAddr); err != nil {
		slog.Error("tcprelay exited", "error", err)
		_ = logger.Close()
		os.Exit(1)
	}
	_ = logger.Close()
}

func run(configPath, listenAddr, upstreamAddr, debugAddr string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Override(listenAddr, upstreamAddr, debugAddr); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	dialTimeout, err := cfg.Upstream.Timeout()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := state.New()
	bus := event.NewBus()
	server := proxy.NewServer(cfg.Listen.Addr(), cfg.Upstream.Addr(), st,
		proxy.WithBus(bus),
		proxy.WithDialTimeout(dialTimeout),
	)
	debugServer := debug.NewServer(cfg.Debug.Addr(), cfg.Listen.Addr(), cfg.Upstream.Addr(), st, bus)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("proxy server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return debugServer.Run(ctx)
	})
	return g.Wait()
}
