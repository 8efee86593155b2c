// Copyright 2025 Joseph Cumines
//
// Argument coercion tests

package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageList(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, nil},
		{"list", []any{"a", 3.0, true}, []string{"a", "3", "true"}},
		{"json list", ` ["x","y"] `, []string{"x", "y"}},
		{"json list keeps empties", `["x",""]`, []string{"x", ""}},
		{"ascii commas", "a, b ,c", []string{"a", "b", "c"}},
		{"fullwidth separators", "甲，乙；丙", []string{"甲", "乙", "丙"}},
		{"semicolons and newlines", "a;b\nc", []string{"a", "b", "c"}},
		{"empties dropped", ",,a,,", []string{"a"}},
		{"scalar", 42.0, []string{"42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, messageList(tt.in))
		})
	}
}

func TestFriendList(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, nil},
		{"list", []any{"张三", "李四"}, []string{"张三", "李四"}},
		{"json list", `["张三","李四"]`, []string{"张三", "李四"}},
		{"comma separated", "张三, 李四", []string{"张三", "李四"}},
		{"semicolons are part of names", "张三;李四", []string{"张三;李四"}},
		{"single", "张三", []string{"张三"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, friendList(tt.in))
		})
	}
}

func TestFriendMessages(t *testing.T) {
	two := []string{"甲", "乙"}
	three := []string{"甲", "乙", "丙"}

	tests := []struct {
		name    string
		in      any
		friends []string
		want    []string
	}{
		{"broadcast", "hi", three, []string{"hi", "hi", "hi"}},
		{"quoted list", `"早","晚"`, two, []string{"早", "晚"}},
		{"quoted list with escapes", `"say \"hi\"","ok"`, two, []string{`say "hi"`, "ok"}},
		{"malformed quoted list", `"早","晚`, two, []string{"早", "晚"}},
		{"quoted count mismatch", `"a","b","c"`, two, []string{`"a","b","c"`, `"a","b","c"`}},
		{"plain commas broadcast", "你好,明天见", two, []string{"你好,明天见", "你好,明天见"}},
		{"plain commas matching friend count", "一, 二, 三", three, []string{"一, 二, 三", "一, 二, 三", "一, 二, 三"}},
		{"single friend keeps commas", "a,b", []string{"甲"}, []string{"a,b"}},
		{"list padded with last", []any{"x", "y"}, three, []string{"x", "y", "y"}},
		{"list truncated", []any{"x", "y", "z"}, two, []string{"x", "y"}},
		{"empty list", []any{}, two, []string{"", ""}},
		{"scalar", 7.0, two, []string{"7", "7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := friendMessages(tt.in, tt.friends)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, len(tt.friends))
		})
	}
}
