// Copyright 2025 Joseph Cumines

// Package driver defines the boundary to the WeChat UI automation driver and
// provides a gRPC client for it.
//
// The driver owns everything that touches the desktop: finding and opening a
// conversation, reading the rendered message list, scrolling it, and typing
// messages. This package only describes and transports those operations.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/joeycumines/wechat-mcp/internal/history"
)

var (
	// ErrFriendNotFound is returned when no conversation matches the friend name.
	ErrFriendNotFound = errors.New("friend not found")

	// ErrNoHistory is returned when the conversation has no prior messages.
	ErrNoHistory = errors.New("no chat history")
)

// OpenOptions control how the driver locates a conversation.
type OpenOptions struct {
	// WeChatPath is the WeChat executable, used if WeChat is not running.
	WeChatPath string
	// SearchPages is how many pages of the contact list to search.
	SearchPages int
	// Maximize maximizes the WeChat window before searching.
	Maximize bool
	// CloseWeChat closes the main WeChat window once the history window is open.
	CloseWeChat bool
}

// Region is an open chat history window. Close releases it.
type Region interface {
	history.Region
	Close(ctx context.Context) error
}

// Delivery is a batch of messages for one friend or group.
type Delivery struct {
	Friend   string
	Messages []string
	// SearchPages is how many pages of the contact list to search.
	SearchPages int
	// Delay is the pause between consecutive messages.
	Delay time.Duration
}

// Driver is the UI automation driver.
//
// Implementations operate a single desktop session; callers must not issue
// concurrent calls that touch the UI.
type Driver interface {
	// OpenChat opens the chat history window of friend.
	OpenChat(ctx context.Context, friend string, opts OpenOptions) (Region, error)
	// Send delivers each batch in order, stopping at the first failure.
	Send(ctx context.Context, deliveries []Delivery) error
	// Close releases the connection to the driver.
	Close() error
}
