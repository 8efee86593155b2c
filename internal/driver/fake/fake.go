// Copyright 2025 Joseph Cumines

// Package fake provides an in-memory driver over synthetic chat histories,
// for tests that exercise scraping and tool handling without a desktop.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joeycumines/wechat-mcp/internal/driver"
	"github.com/joeycumines/wechat-mcp/internal/history"
)

// TextItem returns a plain text message item.
func TextItem(sender, timestamp, text string) history.Item {
	return history.Item{Text: text, Fragments: []string{sender, timestamp, text}}
}

// Region is a paged view over a fixed history, oldest item first. The
// viewport starts at the most recent page and stays on the oldest page once it
// gets there.
type Region struct {
	items    []history.Item
	pageSize int
	end      int
	closed   bool

	// ReadErr, if set, is returned by every ReadItems call.
	ReadErr error

	Reads      int
	Scrolls    int
	EndScrolls int
	mu         sync.Mutex
}

// NewRegion returns a region showing pageSize items at a time.
func NewRegion(items []history.Item, pageSize int) *Region {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &Region{items: items, pageSize: pageSize, end: len(items)}
}

func (r *Region) ReadItems(ctx context.Context) ([]history.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reads++
	if r.ReadErr != nil {
		return nil, r.ReadErr
	}
	if r.end == 0 {
		return nil, nil
	}
	lo := max(0, r.end-r.pageSize)
	return append([]history.Item(nil), r.items[lo:r.end]...), nil
}

func (r *Region) ScrollBack(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Scrolls++
	lo := r.end - r.pageSize
	if lo <= 0 {
		return false, nil
	}
	r.end = lo
	return true, nil
}

func (r *Region) ScrollToEnd(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EndScrolls++
	r.end = len(r.items)
	return nil
}

func (r *Region) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Region) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Driver is an in-memory driver.Driver.
type Driver struct {
	chats     map[string]*Region
	noHistory map[string]bool

	// SendErr, if set, is returned by Send.
	SendErr error

	// Opened records the friends passed to OpenChat, in order.
	Opened []string
	// Sent records successful deliveries, in order.
	Sent []driver.Delivery
	// LastOptions is the options of the most recent OpenChat call.
	LastOptions driver.OpenOptions

	mu sync.Mutex
}

// NewDriver returns an empty driver.
func NewDriver() *Driver {
	return &Driver{
		chats:     make(map[string]*Region),
		noHistory: make(map[string]bool),
	}
}

// AddChat registers a conversation with a history.
func (d *Driver) AddChat(friend string, region *Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[friend] = region
}

// AddEmptyChat registers a friend that has never been messaged.
func (d *Driver) AddEmptyChat(friend string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noHistory[friend] = true
}

func (d *Driver) OpenChat(ctx context.Context, friend string, opts driver.OpenOptions) (driver.Region, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Opened = append(d.Opened, friend)
	d.LastOptions = opts
	if d.noHistory[friend] {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoHistory, friend)
	}
	region, ok := d.chats[friend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", driver.ErrFriendNotFound, friend)
	}
	return region, nil
}

func (d *Driver) Send(ctx context.Context, deliveries []driver.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendErr != nil {
		return d.SendErr
	}
	for _, dl := range deliveries {
		if dl.Friend == "" {
			return errors.New("empty friend")
		}
		d.Sent = append(d.Sent, dl)
	}
	return nil
}

func (d *Driver) Close() error { return nil }

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Region = (*Region)(nil)
)
