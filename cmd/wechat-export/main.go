// Copyright 2025 Joseph Cumines
//
// One-shot export of a day of WeChat chat history, running the same tool the
// MCP server exposes

package main

import (
	"context"
	"encoding/json"
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
)

func main() {
	friend := flag.String("friend", "", "remark or nickname of the friend or group (required)")
	date := flag.String("date", "", "date to export, YY/M/D (required)")
	folderPath := flag.String("folder-path", "", "directory to save the history to (default WECHAT_FOLDER_PATH)")
	searchPages := flag.Int("search-pages", 0, "pages of the contact list to search (default WECHAT_SEARCH_PAGES)")
	flag.Parse()

	if *friend == "" || *date == "" {
		flag.Usage()
		os.Exit(2)
	}

	args := map[string]any{"to_user": *friend, "target_date": *date}
	if *folderPath != "" {
		args["folder_path"] = *folderPath
	}
	if *searchPages > 0 {
		args["search_pages"] = *searchPages
	}

	result, err := run(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wechat-export: %v\n", err)
		os.Exit(1)
	}
	for _, content := range result.Content {
		fmt.Println(content.Text)
	}
	if result.IsError {
		os.Exit(1)
	}
}

func run(args map[string]any) (*server.ToolResult, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	defer logging.Sync(logger)

	drv, err := driver.Dial(driver.DialConfig{
		Address:  cfg.DriverAddr,
		CertFile: cfg.DriverCertFile,
		TLS:      cfg.DriverTLS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to driver: %w", err)
	}
	defer drv.Close()

	params, err := json.Marshal(map[string]any{"name": "wechat_get_chat_history", "arguments": args})
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mcpServer := server.NewMCPServer(cfg, drv, logger)
	resp, err := mcpServer.HandleMessage(ctx, &transport.Message{
		JSONRPC: transport.Version,
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code)
	}

	var result server.ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}
