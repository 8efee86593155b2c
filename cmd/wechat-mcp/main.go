// Copyright 2025 Joseph Cumines
//
// MCP server for WeChat chat history and messaging - provides JSON-RPC 2.0
// interface over stdio or HTTP/SSE

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/wechat-mcp/internal/config"
	"github.com/joeycumines/wechat-mcp/internal/driver"
	"github.com/joeycumines/wechat-mcp/internal/logging"
	"github.com/joeycumines/wechat-mcp/internal/server"
	"github.com/joeycumines/wechat-mcp/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	folderPath := flag.String("folder-path", "", "directory chat histories are saved to by default (overrides WECHAT_FOLDER_PATH)")
	flag.Parse()

	if err := run(*folderPath); err != nil {
		fmt.Fprintf(os.Stderr, "wechat-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(folderPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if folderPath != "" {
		cfg.FolderPath = folderPath
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid -folder-path: %w", err)
		}
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	drv, err := driver.Dial(driver.DialConfig{
		Address:  cfg.DriverAddr,
		CertFile: cfg.DriverCertFile,
		TLS:      cfg.DriverTLS,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to driver: %w", err)
	}
	defer drv.Close()

	audit, err := server.NewAuditLogger(cfg.AuditLogFile)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer audit.Close()

	metrics := transport.NewMetrics()
	mcpServer := server.NewMCPServer(cfg, drv, logger,
		server.WithMetrics(metrics),
		server.WithAuditLogger(audit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := newTransport(cfg, metrics, logger)
	logger.Info("starting",
		zap.String("transport", string(cfg.Transport)),
		zap.String("driver", cfg.DriverAddr),
		zap.String("folder_path", cfg.FolderPath))

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	g.Go(func() error {
		defer cancel()
		return mcpServer.Serve(ctx, tr)
	})
	g.Go(func() error {
		<-ctx.Done()
		return tr.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newTransport(cfg *config.Config, metrics *transport.Metrics, logger *zap.Logger) transport.Transport {
	if cfg.Transport == config.TransportHTTP {
		return transport.NewHTTPTransport(&transport.HTTPTransportConfig{
			Address:           cfg.HTTPAddress,
			SocketPath:        cfg.HTTPSocketPath,
			HeartbeatInterval: cfg.HeartbeatInterval,
			CORSOrigin:        cfg.CORSOrigin,
			ReadTimeout:       cfg.HTTPReadTimeout,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			RateLimit:         cfg.RateLimit,
		}, metrics, logger)
	}
	return transport.NewStdioTransport(os.Stdin, os.Stdout, logger)
}
