// Copyright 2025 Joseph Cumines
//
// Tool registry

package server

import "time"

const (
	toolGetChatHistory        = "wechat_get_chat_history"
	toolSendMessage           = "wechat_send_message"
	toolSendMultipleMessages  = "wechat_send_multiple_messages"
	toolSendToMultipleFriends = "wechat_send_to_multiple_friends"
)

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// searchPagesProperty is shared by every tool that searches the contact list.
func searchPagesProperty() map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": "在联系人列表中搜索好友的页数，默认使用服务配置",
		"minimum":     1,
	}
}

func delayProperty() map[string]any {
	return map[string]any{
		"type":        "number",
		"description": "连续消息之间的发送间隔(秒)，默认1秒",
		"minimum":     0,
	}
}

// registerTools registers all available tools
func (s *MCPServer) registerTools() {
	historyTimeout := s.cfg.HistoryTimeout
	requestTimeout := time.Duration(s.cfg.RequestTimeout) * time.Second

	s.tools = map[string]*Tool{
		toolGetChatHistory: {
			Name:        toolGetChatHistory,
			Description: "获取特定日期的微信聊天记录",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to_user":      stringProperty("好友或群聊备注或昵称"),
					"target_date":  stringProperty("目标日期，格式为YY/M/D，如25/3/22"),
					"folder_path":  stringProperty("聊天记录保存目录，须为已存在的文件夹；为空时不保存"),
					"search_pages": searchPagesProperty(),
					"scroll_delay": map[string]any{
						"type":        "number",
						"description": "每次翻页后的等待时间(秒)，默认0.01秒",
						"minimum":     0,
					},
					"wechat_path":  stringProperty("微信程序路径，微信未运行时用于启动"),
					"is_maximize":  map[string]any{"type": "boolean", "description": "搜索前是否最大化微信窗口"},
					"close_wechat": map[string]any{"type": "boolean", "description": "打开聊天记录窗口后是否关闭微信主窗口"},
				},
				"required": []string{"to_user", "target_date"},
			},
			Handler: s.handleGetChatHistory,
			Timeout: historyTimeout,
		},
		toolSendMessage: {
			Name:        toolSendMessage,
			Description: "向单个微信好友发送单条消息",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to_user":      stringProperty("好友或群聊备注或昵称"),
					"message":      stringProperty("要发送的消息"),
					"search_pages": searchPagesProperty(),
				},
				"required": []string{"to_user", "message"},
			},
			Handler: s.handleSendMessage,
			Timeout: requestTimeout,
		},
		toolSendMultipleMessages: {
			Name:        toolSendMultipleMessages,
			Description: "向单个微信好友发送多条消息",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to_user": stringProperty("好友或群聊备注或昵称"),
					"messages": map[string]any{
						"type":        []string{"array", "string"},
						"items":       map[string]any{"type": "string"},
						"description": "要发送的消息列表 (用英文逗号分隔的字符串输入)",
					},
					"delay":        delayProperty(),
					"search_pages": searchPagesProperty(),
				},
				"required": []string{"to_user", "messages"},
			},
			Handler: s.handleSendMultipleMessages,
			Timeout: requestTimeout,
		},
		toolSendToMultipleFriends: {
			Name:        toolSendToMultipleFriends,
			Description: "向多个微信好友发送单条或者多条消息",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to_user": map[string]any{
						"type":        []string{"array", "string"},
						"items":       map[string]any{"type": "string"},
						"description": "好友或群聊备注或昵称列表 (用英文逗号分隔的字符串输入)",
					},
					"message": map[string]any{
						"type":        []string{"string", "array"},
						"items":       map[string]any{"type": "string"},
						"description": "要发送的消息 (单条消息（xxx）会发给所有好友；多条消息（\"xxx\",\"xxx\"）用英文引号包裹、英文逗号分隔且数量与好友数相同时，将分别发送给对应好友；也可传入消息数组)",
					},
					"delay":        delayProperty(),
					"search_pages": searchPagesProperty(),
				},
				"required": []string{"to_user", "message"},
			},
			Handler: s.handleSendToMultipleFriends,
			Timeout: requestTimeout,
		},
	}
}
