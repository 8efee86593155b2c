// Copyright 2025 Joseph Cumines

package history_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/wechat-mcp/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble(t *testing.T) {
	collected := []history.MessageRecord{
		{Sender: "李四", TimestampText: "25/3/21 11:30", Content: "second"},
		{Sender: "张三", TimestampText: "25/3/21 10:00", Content: "first"},
	}

	doc := history.Assemble(collected)
	assert.Equal(t, history.Document{
		{Index: 0, Sender: "张三", Time: "25/3/21 10:00", Message: "first"},
		{Index: 1, Sender: "李四", Time: "25/3/21 11:30", Message: "second"},
	}, doc)

	assert.Empty(t, history.Assemble(nil))
}

func TestDocument_Marshal(t *testing.T) {
	doc := history.Document{
		{Index: 0, Sender: "张三", Time: "25/3/21 10:00", Message: "你好 <b>&"},
	}

	data, err := doc.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `[
    {
        "index": 0,
        "发送者": "张三",
        "时间": "25/3/21 10:00",
        "消息": "你好 <b>&"
    }
]`, string(data))
}

func TestDocument_MarshalEmpty(t *testing.T) {
	for _, doc := range []history.Document{nil, {}} {
		data, err := doc.Marshal()
		require.NoError(t, err)
		assert.Equal(t, "[]", string(data))
	}
}

func TestDocument_RoundTrip(t *testing.T) {
	doc := history.Document{
		{Index: 0, Sender: "张三", Time: "昨天 10:00", Message: "文件:季度报告.pdf"},
		{Index: 1, Sender: "Émile", Time: "昨天 10:01", Message: "微信转账:¥100.00:🍜"},
		{Index: 2, Sender: "李四", Time: "昨天 10:02", Message: "line one\nline \"two\""},
	}

	data, err := doc.Marshal()
	require.NoError(t, err)

	parsed, err := history.ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)
}

func TestParseDocument_OrdersByIndex(t *testing.T) {
	parsed, err := history.ParseDocument([]byte(`[
		{"index": 1, "发送者": "b", "时间": "t", "消息": "second"},
		{"index": 0, "发送者": "a", "时间": "t", "消息": "first"}
	]`))
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "first", parsed[0].Message)
	assert.Equal(t, "second", parsed[1].Message)

	_, err = history.ParseDocument([]byte(`{"index": 0}`))
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "与张三的25-3-22聊天记录.json", history.FileName("张三", "25/3/22"))
	assert.Equal(t, "与a_b_c的25-03-02聊天记录.json", history.FileName(`a/b\c`, "25/03/02"))
}

func TestPersist(t *testing.T) {
	dir := t.TempDir()
	doc := history.Document{{Index: 0, Sender: "张三", Time: "25/3/22 09:00", Message: "早"}}

	path, err := history.Persist(dir, "张三", "25/3/22", doc)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, filepath.Join(dir, "与张三的25-3-22聊天记录.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"发送者": "张三"`)
	assert.NotContains(t, string(data), `\u`)

	parsed, err := history.ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)

	// overwrites
	path2, err := history.Persist(dir, "张三", "25/3/22", nil)
	require.NoError(t, err)
	assert.Equal(t, path, path2)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestPersist_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := history.Persist(file, "张三", "25/3/22", nil)
	assert.ErrorIs(t, err, history.ErrNotADirectory)

	_, err = history.Persist(filepath.Join(dir, "missing"), "张三", "25/3/22", nil)
	assert.ErrorIs(t, err, history.ErrNotADirectory)

	assert.NoError(t, history.CheckDirectory(dir))
}
