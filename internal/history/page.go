// Copyright 2025 Joseph Cumines
//
// Page snapshots of the chat history list

package history

import (
	"context"
	"slices"
	"strings"
)

// Markers WeChat renders as the list item text for rich content.
const (
	imageMarker    = "[图片]"
	videoMarker    = "视频"
	stickerMarker  = "[动画表情]"
	fileMarker     = "[文件]"
	voiceMarker    = "[语音]"
	transferMarker = "微信转账"
)

// Normalized summaries stored in place of rich content.
const (
	SummaryImage   = "图片消息"
	SummaryVideo   = "视频消息"
	SummarySticker = "动画表情"
	SummaryVoice   = "语音消息"
)

// Item is one rendered entry of the message list as reported by the
// automation driver: the entry's own text plus the text of its descendants in
// rendering order. Fragments[0] is the sender and Fragments[1] the timestamp.
type Item struct {
	Text      string   `json:"text"`
	Fragments []string `json:"fragments"`
}

// MessageRecord is a single scraped message.
type MessageRecord struct {
	Sender        string
	TimestampText string
	Content       string
}

// Region is the scrollable message list of an open chat history window.
//
// ReadItems returns whatever is currently materialized in the viewport, top to
// bottom. ScrollBack moves one page further into history and reports whether
// the viewport moved; it does not move at the start of history. ScrollToEnd
// moves back to the most recent message.
type Region interface {
	ReadItems(ctx context.Context) ([]Item, error)
	ScrollBack(ctx context.Context) (moved bool, err error)
	ScrollToEnd(ctx context.Context) error
}

// ReadPage reads the current viewport of region as message records, in
// rendering order (oldest first).
func ReadPage(ctx context.Context, region Region) ([]MessageRecord, error) {
	items, err := region.ReadItems(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]MessageRecord, 0, len(items))
	for _, item := range items {
		records = append(records, RecordFromItem(item))
	}
	return records, nil
}

// RecordFromItem converts a rendered item to a record.
func RecordFromItem(item Item) MessageRecord {
	return MessageRecord{
		Sender:        fragment(item.Fragments, 0),
		TimestampText: fragment(item.Fragments, 1),
		Content:       SummarizeItem(item),
	}
}

// SummarizeItem classifies the content of an item and returns its textual
// summary. Plain text messages are returned verbatim.
func SummarizeItem(item Item) string {
	switch {
	case item.Text == imageMarker:
		return SummaryImage
	case strings.Contains(item.Text, videoMarker):
		return SummaryVideo
	case item.Text == stickerMarker:
		return SummarySticker
	case item.Text == fileMarker:
		return "文件:" + fragment(item.Fragments, 2)
	case strings.Contains(item.Text, voiceMarker):
		return SummaryVoice
	}

	// the amount and the note are rendered just above the transfer label
	if i := slices.Index(item.Fragments, transferMarker); i >= 2 {
		return transferMarker + ":" + fragment(item.Fragments, i-2) + ":" + fragment(item.Fragments, i-1)
	}

	return fragment(item.Fragments, 2)
}

func fragment(fragments []string, i int) string {
	if i < 0 || i >= len(fragments) {
		return ""
	}
	return fragments[i]
}
