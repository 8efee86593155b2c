// Copyright 2025 Joseph Cumines
//
// Chat history tool handler

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/wechat-mcp/internal/driver"
	"github.com/joeycumines/wechat-mcp/internal/history"
	"go.uber.org/zap"
)

const recordSeparator = "------------------------------"

type chatHistoryParams struct {
	SearchPages *int     `json:"search_pages"`
	ScrollDelay *float64 `json:"scroll_delay"`
	Maximize    *bool    `json:"is_maximize"`
	CloseWeChat *bool    `json:"close_wechat"`
	ToUser      string   `json:"to_user"`
	TargetDate  string   `json:"target_date"`
	FolderPath  string   `json:"folder_path"`
	WeChatPath  string   `json:"wechat_path"`
}

// handleGetChatHistory handles the wechat_get_chat_history tool
func (s *MCPServer) handleGetChatHistory(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	var params chatHistoryParams
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return errorResultf("Invalid parameters: %v", err), nil
	}
	params.ToUser = strings.TrimSpace(params.ToUser)
	if params.ToUser == "" || strings.TrimSpace(params.TargetDate) == "" {
		return errorResult("缺少必要参数: to_user 或 target_date"), nil
	}

	target, err := history.ParseTargetDate(params.TargetDate)
	if err != nil {
		return errorResult(formatDriverError(err, call.Name)), nil
	}

	folder := params.FolderPath
	if folder == "" {
		folder = s.cfg.FolderPath
	}
	if folder != "" {
		if err := history.CheckDirectory(folder); err != nil {
			return errorResult(formatDriverError(err, call.Name)), nil
		}
	}

	scrollDelay := s.cfg.ScrollDelay
	if params.ScrollDelay != nil {
		if *params.ScrollDelay < 0 {
			return errorResult("scroll_delay must not be negative"), nil
		}
		scrollDelay = time.Duration(*params.ScrollDelay * float64(time.Second))
	}

	opts, err := s.openOptions(params.SearchPages)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if params.WeChatPath != "" {
		opts.WeChatPath = params.WeChatPath
	}
	if params.Maximize != nil {
		opts.Maximize = *params.Maximize
	}
	if params.CloseWeChat != nil {
		opts.CloseWeChat = *params.CloseWeChat
	}

	logger := s.logger.With(zap.String("friend", params.ToUser), zap.Stringer("target", target))

	region, err := s.driver.OpenChat(ctx, params.ToUser, opts)
	if err != nil {
		logger.Warn("failed to open chat history", zap.Error(err))
		return errorResult(formatDriverError(err, call.Name)), nil
	}
	defer func() {
		// the call context may already be done, the window must still close
		if err := region.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close chat history window", zap.Error(err))
		}
	}()

	scraper := history.NewScraper(logger,
		history.WithScrollDelay(scrollDelay),
		history.WithClock(s.now),
		history.WithPageHook(func(phase history.Phase, _ int) {
			s.metrics.RecordHistoryPage(phase.String())
		}),
	)
	sess, err := scraper.Scrape(ctx, region, target)
	s.metrics.RecordHistoryScan(sess.SearchPages+sess.CollectPages, len(sess.Collected))
	if err != nil {
		return errorResult(formatDriverError(err, call.Name)), nil
	}

	doc := history.Assemble(sess.Collected)
	text := formatHistory(params.ToUser, params.TargetDate, doc)
	if folder != "" {
		path, err := history.Persist(folder, params.ToUser, params.TargetDate, doc)
		if err != nil {
			logger.Warn("failed to save chat history", zap.Error(err))
			text += fmt.Sprintf("\n保存聊天记录失败: %v\n", err)
		} else {
			logger.Info("saved chat history", zap.String("path", path), zap.Int("messages", len(doc)))
			text += fmt.Sprintf("\n聊天记录已保存到: %s\n", path)
		}
	}
	return textResult(text), nil
}

// openOptions returns the configured open options, with searchPages applied
// if set.
func (s *MCPServer) openOptions(searchPages *int) (driver.OpenOptions, error) {
	opts := driver.OpenOptions{
		WeChatPath:  s.cfg.WeChatPath,
		SearchPages: s.cfg.SearchPages,
		Maximize:    s.cfg.Maximize,
		CloseWeChat: s.cfg.CloseAfter,
	}
	if searchPages != nil {
		if *searchPages < 1 {
			return opts, fmt.Errorf("search_pages must be at least 1, got %d", *searchPages)
		}
		opts.SearchPages = *searchPages
	}
	return opts, nil
}

func formatHistory(friend, targetDate string, doc history.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "获取到 %d 条与 %s 在 %s 的聊天记录\n\n", len(doc), friend, targetDate)
	for _, rec := range doc {
		fmt.Fprintf(&b, "发送者: %s\n时间: %s\n消息: %s\n%s\n", rec.Sender, rec.Time, rec.Message, recordSeparator)
	}
	return b.String()
}
