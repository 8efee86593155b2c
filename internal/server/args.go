// Copyright 2025 Joseph Cumines
//
// Lenient coercion of list arguments

package server

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Clients often pass lists as a single string, either JSON encoded or
// separated by commas, semicolons (of either width) or newlines.
var messageSeparators = strings.NewReplacer("，", ",", "；", ",", ";", ",", "\n", ",")

// messageList coerces a messages argument to a list of messages. Empty
// messages are dropped from separated strings.
func messageList(v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		return stringList(v)
	case string:
		if list, ok := jsonList(v); ok {
			return list
		}
		return splitNonEmpty(messageSeparators.Replace(v), ",")
	default:
		return []string{fmt.Sprint(v)}
	}
}

// friendList coerces a to_user argument to a list of friend names.
func friendList(v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		return stringList(v)
	case string:
		if list, ok := jsonList(v); ok {
			return list
		}
		return splitNonEmpty(v, ",")
	default:
		return []string{fmt.Sprint(v)}
	}
}

// friendMessages pairs a message argument with friends, returning exactly one
// message per friend.
//
// A string of quoted messages separated by "," with one message per friend,
// e.g. `"早","晚"`, is distributed in order. Any other string, commas
// included, goes to every friend. A list is distributed in order, repeating its last message for the
// remaining friends and dropping any extra messages.
func friendMessages(v any, friends []string) []string {
	var messages []string
	switch v := v.(type) {
	case []any:
		messages = stringList(v)
	case string:
		messages = splitPerFriend(v, len(friends))
	default:
		messages = []string{fmt.Sprint(v)}
	}

	if len(messages) > len(friends) {
		return messages[:len(friends)]
	}
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1]
	}
	for len(messages) < len(friends) {
		messages = append(messages, last)
	}
	return messages
}

func splitPerFriend(message string, friends int) []string {
	if n := strings.Count(message, `","`); n > 0 && n == friends-1 {
		var parsed []string
		if err := json.Unmarshal([]byte("["+message+"]"), &parsed); err == nil {
			return parsed
		}
		parts := strings.Split(message, `","`)
		parts[0] = strings.TrimPrefix(parts[0], `"`)
		parts[len(parts)-1] = strings.TrimSuffix(parts[len(parts)-1], `"`)
		return parts
	}
	return []string{message}
}

// jsonList decodes s if it is a JSON array.
func jsonList(s string) ([]string, bool) {
	var list []any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &list); err != nil {
		return nil, false
	}
	return stringList(list), true
}

func stringList(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
