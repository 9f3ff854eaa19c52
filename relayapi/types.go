package relayapi

import (
	"bytes"
	"encoding/json"
)

// ==================== 对话消息 ====================

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn 单条对话消息。
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InboundRequest 客户端请求体（已通过类型校验）。
// ChatHistory 中的每个元素按原样转发给上游，不做结构校验。
type InboundRequest struct {
	Message     string
	ChatHistory []json.RawMessage
}

// UpstreamPayload 上游 chat completions 请求体。
// 字段顺序与上游网页端一致；Key 是上游要求放在 body 中的共享密钥。
type UpstreamPayload struct {
	Messages        []json.RawMessage `json:"messages"`
	Stream          bool              `json:"stream"`
	Model           string            `json:"model"`
	Temperature     float64           `json:"temperature"`
	PresencePenalty float64           `json:"presence_penalty"`
	TopP            float64           `json:"top_p"`
	Key             string            `json:"key"`
}

// ==================== 上游 SSE ====================

// UpstreamChunk 上游单个 SSE 事件（OpenAI chat.completion.chunk）中转码用到的部分。
// 只声明 choices 一层，其余字段（id、created、finish_reason 等）不参与解析，
// 它们的类型与上游约定不一致时也不会让事件失效。
type UpstreamChunk struct {
	Choices json.RawMessage `json:"choices"`
}

// DeltaContent 按 choices[0].delta.content 路径取出原始 JSON 值。
// 路径上任意一层缺失或类型不符时返回 nil。
func (c *UpstreamChunk) DeltaContent() json.RawMessage {
	if c == nil {
		return nil
	}
	var choices []json.RawMessage
	if err := json.Unmarshal(c.Choices, &choices); err != nil || len(choices) == 0 {
		return nil
	}
	var choice struct {
		Delta json.RawMessage `json:"delta"`
	}
	if err := json.Unmarshal(choices[0], &choice); err != nil {
		return nil
	}
	var delta struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(choice.Delta, &delta); err != nil {
		return nil
	}
	return delta.Content
}

// ==================== 客户端 SSE ====================

const (
	// DataPrefix 是 SSE data 行前缀（含一个空格）。
	DataPrefix = "data: "
	// DoneSentinel 表示流结束。
	DoneSentinel = "[DONE]"
	// DoneFrame 是发给客户端的结束帧。
	DoneFrame = DataPrefix + DoneSentinel + "\n\n"
)

// ContentFrame 客户端 SSE 帧的 payload。
type ContentFrame struct {
	Content string `json:"content"`
}

// EncodeContentFrame 生成 `data: {"content":...}\n\n`。
func EncodeContentFrame(content string) ([]byte, error) {
	return encodeFrame(ContentFrame{Content: content})
}

// EncodeRawContentFrame 用一个已经是 JSON 的值（数字、布尔、对象、数组）生成内容帧。
func EncodeRawContentFrame(value json.RawMessage) ([]byte, error) {
	return encodeFrame(struct {
		Content json.RawMessage `json:"content"`
	}{Content: value})
}

func encodeFrame(v interface{}) ([]byte, error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(DataPrefix)+len(body)+2)
	frame = append(frame, DataPrefix...)
	frame = append(frame, body...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// Marshal 按 JSON.stringify 的输出规则编码 v：
// 不转义 <、>、&，U+2028/U+2029 原样输出，结尾不带换行。
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return unescapeLineSeparators(out), nil
}

var (
	escapedLS = []byte(`\u2028`)
	escapedPS = []byte(`\u2029`)
)

// unescapeLineSeparators 把编码器输出的 \u2028 / \u2029 还原为原始字符。
// 前面是奇数个反斜杠的序列属于被转义的字面文本，保持不变。
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, escapedLS) && !bytes.Contains(b, escapedPS) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' {
			out = append(out, b[i])
			continue
		}
		rest := b[i:]
		switch {
		case bytes.HasPrefix(rest, escapedLS):
			out = append(out, "\u2028"...)
			i += len(escapedLS) - 1
		case bytes.HasPrefix(rest, escapedPS):
			out = append(out, "\u2029"...)
			i += len(escapedPS) - 1
		case i+1 < len(b):
			// 其它转义序列整体复制，避免把 \\u2028 的第二个反斜杠当成转义起点。
			out = append(out, b[i], b[i+1])
			i++
		default:
			out = append(out, b[i])
		}
	}
	return out
}

// ==================== 错误 ====================

// ErrorResponse 通用错误响应。
type ErrorResponse struct {
	Error string `json:"error"`
}

// UpstreamErrorResponse 上游返回非 2xx 时的错误响应。
type UpstreamErrorResponse struct {
	Error          string `json:"error"`
	OriginalStatus int    `json:"originalStatus"`
}
