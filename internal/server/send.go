// Copyright 2025 Joseph Cumines
//
// Message sending tool handlers

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/wechat-mcp/internal/driver"
	"go.uber.org/zap"
)

// defaultSendDelay is the pause between consecutive messages.
const defaultSendDelay = time.Second

const (
	sendStatusSuccess = "success"
	sendStatusError   = "error"
)

// sendResult is the JSON body of every send tool result.
type sendResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func sendResultText(status, message string) *ToolResult {
	data, err := json.Marshal(sendResult{Status: status, Message: message})
	if err != nil {
		return errorResultf("failed to encode result: %v", err)
	}
	return &ToolResult{
		Content: []Content{{Type: "text", Text: string(data)}},
		IsError: status != sendStatusSuccess,
	}
}

type sendParams struct {
	ToUser      any      `json:"to_user"`
	Message     any      `json:"message"`
	Messages    any      `json:"messages"`
	SearchPages *int     `json:"search_pages"`
	Delay       *float64 `json:"delay"`
}

func (s *MCPServer) parseSendParams(call *ToolCall) (sendParams, driver.Delivery, error) {
	var params sendParams
	if err := json.Unmarshal(call.Arguments, &params); err != nil {
		return params, driver.Delivery{}, fmt.Errorf("invalid parameters: %w", err)
	}
	opts, err := s.openOptions(params.SearchPages)
	if err != nil {
		return params, driver.Delivery{}, err
	}
	template := driver.Delivery{SearchPages: opts.SearchPages, Delay: defaultSendDelay}
	if params.Delay != nil {
		if *params.Delay < 0 {
			return params, driver.Delivery{}, errors.New("delay must not be negative")
		}
		template.Delay = time.Duration(*params.Delay * float64(time.Second))
	}
	return params, template, nil
}

// send delivers the batches, reporting failures as an error result.
func (s *MCPServer) send(ctx context.Context, deliveries []driver.Delivery, success string) *ToolResult {
	if err := s.driver.Send(ctx, deliveries); err != nil {
		s.logger.Warn("failed to send messages", zap.Int("friends", len(deliveries)), zap.Error(err))
		return sendResultText(sendStatusError, fmt.Sprintf("发送消息失败: %v", err))
	}
	return sendResultText(sendStatusSuccess, success)
}

// handleSendMessage handles the wechat_send_message tool
func (s *MCPServer) handleSendMessage(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	params, delivery, err := s.parseSendParams(call)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	friend, _ := params.ToUser.(string)
	message, _ := params.Message.(string)
	if friend = strings.TrimSpace(friend); friend == "" || message == "" {
		return errorResult("缺少必要参数: to_user 或 message"), nil
	}

	delivery.Friend = friend
	delivery.Messages = []string{message}
	return s.send(ctx, []driver.Delivery{delivery}, fmt.Sprintf("消息已发送给 %s", friend)), nil
}

// handleSendMultipleMessages handles the wechat_send_multiple_messages tool
func (s *MCPServer) handleSendMultipleMessages(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	params, delivery, err := s.parseSendParams(call)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	friend, _ := params.ToUser.(string)
	messages := messageList(params.Messages)
	if friend = strings.TrimSpace(friend); friend == "" || len(messages) == 0 {
		return errorResult("缺少必要参数: to_user 或 messages"), nil
	}

	delivery.Friend = friend
	delivery.Messages = messages
	return s.send(ctx, []driver.Delivery{delivery}, fmt.Sprintf("已向 %s 发送 %d 条消息", friend, len(messages))), nil
}

// handleSendToMultipleFriends handles the wechat_send_to_multiple_friends tool
func (s *MCPServer) handleSendToMultipleFriends(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	params, template, err := s.parseSendParams(call)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	friends := friendList(params.ToUser)
	if len(friends) == 0 || params.Message == nil || params.Message == "" {
		return errorResult("缺少必要参数: to_user 或 message"), nil
	}

	messages := friendMessages(params.Message, friends)
	deliveries := make([]driver.Delivery, 0, len(friends))
	for i, friend := range friends {
		d := template
		d.Friend = friend
		d.Messages = []string{messages[i]}
		deliveries = append(deliveries, d)
	}
	return s.send(ctx, deliveries, fmt.Sprintf("已向 %d 位好友发送消息", len(friends))), nil
}
