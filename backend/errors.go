package backend

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError 表示客户端请求体不合法，不会发起上游请求。
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UpstreamError 表示上游在开始流式输出前返回了非 2xx 状态。
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("upstream request failed with status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Excerpt 返回上游错误 body 的前 n 个字符。
func (e *UpstreamError) Excerpt(n int) string {
	if e == nil {
		return ""
	}
	return truncateRunes(e.Body, n)
}

// ErrLineTooLong 表示上游单行数据超过了 Decoder.MaxLineBytes。
var ErrLineTooLong = errors.New("upstream event line exceeds size limit")

// StreamParseError 表示单个 SSE 事件的 JSON 无法解析。
// 它只会出现在 Event.Err 中，不会中断整个流。
type StreamParseError struct {
	Payload string
	Err     error
}

func (e *StreamParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("malformed upstream event %q: %v", truncateRunes(e.Payload, 120), e.Err)
}

func (e *StreamParseError) Unwrap() error { return e.Err }

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
