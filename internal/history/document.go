// Copyright 2025 Joseph Cumines
//
// Chat history documents and their persistence

package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNotADirectory is returned when a persistence path is not an existing directory.
var ErrNotADirectory = errors.New("not a directory")

// FormattedRecord is a message as returned to callers and written to disk.
// The JSON labels are shared with existing consumers of exported files.
type FormattedRecord struct {
	Index   int    `json:"index"`
	Sender  string `json:"发送者"`
	Time    string `json:"时间"`
	Message string `json:"消息"`
}

// Document is a chat history in chronological order.
type Document []FormattedRecord

// Assemble builds a document from records collected newest first.
func Assemble(collected []MessageRecord) Document {
	doc := make(Document, 0, len(collected))
	for i := len(collected) - 1; i >= 0; i-- {
		rec := collected[i]
		doc = append(doc, FormattedRecord{
			Index:   len(doc),
			Sender:  rec.Sender,
			Time:    rec.TimestampText,
			Message: rec.Content,
		})
	}
	return doc
}

// Marshal encodes the document as indented JSON, leaving non-ASCII text unescaped.
func (d Document) Marshal() ([]byte, error) {
	if d == nil {
		d = Document{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("failed to encode chat history: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ParseDocument decodes a document, ordering records by index.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode chat history: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	slices.SortStableFunc(doc, func(a, b FormattedRecord) int { return a.Index - b.Index })
	return doc, nil
}

// CheckDirectory returns an error wrapping ErrNotADirectory unless dir is an
// existing directory.
func CheckDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotADirectory, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}
	return nil
}

// FileName returns the export file name for a friend and a "YY/M/D" date,
// e.g. "与张三的25-3-22聊天记录.json". Path separators in the friend name are
// replaced so the file always lands directly in the export directory.
func FileName(friend, targetDate string) string {
	safeFriend := strings.NewReplacer("/", "_", `\`, "_").Replace(friend)
	safeDate := strings.ReplaceAll(strings.TrimSpace(targetDate), "/", "-")
	return fmt.Sprintf("与%s的%s聊天记录.json", safeFriend, safeDate)
}

// Persist writes doc into dir and returns the absolute path of the file.
func Persist(dir, friend, targetDate string, doc Document) (string, error) {
	if err := CheckDirectory(dir); err != nil {
		return "", err
	}
	data, err := doc.Marshal()
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(dir, FileName(friend, targetDate)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve export path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write chat history: %w", err)
	}
	return path, nil
}
