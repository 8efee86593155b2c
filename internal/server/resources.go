// Copyright 2025 Joseph Cumines
//
// MCP resources

package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joeycumines/wechat-mcp/internal/transport"
)

const (
	resourceScheme     = "wechat://"
	historyResourceURI = resourceScheme + "chats/history"
)

type resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

type resourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

func listResources() []resource {
	return []resource{{
		URI:         historyResourceURI,
		Name:        "微信聊天记录",
		Description: "获取微信聊天记录",
		MimeType:    "application/json",
	}}
}

// handleReadResource points readers of wechat:// resources at the tools, which
// need arguments a resource URI cannot carry.
func (s *MCPServer) handleReadResource(msg *transport.Message) (*transport.Message, error) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return transport.NewErrorResponse(msg.ID, transport.ErrCodeInvalidParams, fmt.Sprintf("Invalid params: %v", err)), nil
	}
	if !strings.HasPrefix(params.URI, resourceScheme) {
		return transport.NewErrorResponse(msg.ID, transport.ErrCodeInvalidParams, fmt.Sprintf("不支持的URI: %s", params.URI)), nil
	}

	text, err := json.Marshal(map[string]string{"message": "请使用工具接口获取微信聊天记录"})
	if err != nil {
		return nil, err
	}
	return resultMessage(msg.ID, map[string]any{
		"contents": []resourceContents{{
			URI:      params.URI,
			MimeType: "application/json",
			Text:     string(text),
		}},
	})
}
