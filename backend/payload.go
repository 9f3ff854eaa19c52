package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LubyRuffy/gptrelay"
	"github.com/LubyRuffy/gptrelay/auth"
	"github.com/LubyRuffy/gptrelay/relayapi"
)

// InvalidBodyMessage 是类型校验失败时返回给客户端的固定错误信息。
const InvalidBodyMessage = `Invalid request body: "message" (string) and "chat_history" (array) are required.`

// PayloadOptions 描述每个部署固定的上游参数。
type PayloadOptions struct {
	SystemPrompt    string
	Model           string
	Temperature     float64
	PresencePenalty float64
	TopP            float64
	Key             auth.Secret
}

// DefaultPayloadOptions 返回与上游网页端一致的默认参数。
func DefaultPayloadOptions(key auth.Secret) PayloadOptions {
	return PayloadOptions{
		SystemPrompt:    gptrelay.DefaultSystemPrompt,
		Model:           gptrelay.DefaultModel,
		Temperature:     gptrelay.DefaultTemperature,
		PresencePenalty: gptrelay.DefaultPresencePenalty,
		TopP:            gptrelay.DefaultTopP,
		Key:             key,
	}
}

type inboundEnvelope struct {
	Message     json.RawMessage `json:"message"`
	ChatHistory json.RawMessage `json:"chat_history"`
}

// DecodeInbound 解析并校验客户端请求体。
//   - message 必须是 JSON 字符串（允许空串）
//   - chat_history 可省略或为 null；存在时必须是数组，元素按原样保留
func DecodeInbound(body []byte) (relayapi.InboundRequest, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return relayapi.InboundRequest{}, &ValidationError{Message: InvalidBodyMessage, Err: err}
	}

	message, ok := decodeJSONString(env.Message)
	if !ok {
		return relayapi.InboundRequest{}, &ValidationError{Message: InvalidBodyMessage}
	}

	history, ok := decodeJSONArray(env.ChatHistory)
	if !ok {
		return relayapi.InboundRequest{}, &ValidationError{Message: InvalidBodyMessage}
	}

	return relayapi.InboundRequest{Message: message, ChatHistory: history}, nil
}

func decodeJSONString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeJSONArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, true
	}
	if trimmed[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}
	return items, true
}

// BuildPayload 构建上游请求体：
// [system 提示词] ++ chat_history（原顺序）++ [user: message]。
func BuildPayload(req relayapi.InboundRequest, opts PayloadOptions) (*relayapi.UpstreamPayload, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}

	systemTurn, err := json.Marshal(relayapi.ChatTurn{Role: relayapi.RoleSystem, Content: opts.SystemPrompt})
	if err != nil {
		return nil, fmt.Errorf("failed to encode system turn: %w", err)
	}
	userTurn, err := json.Marshal(relayapi.ChatTurn{Role: relayapi.RoleUser, Content: req.Message})
	if err != nil {
		return nil, fmt.Errorf("failed to encode user turn: %w", err)
	}

	messages := make([]json.RawMessage, 0, len(req.ChatHistory)+2)
	messages = append(messages, systemTurn)
	messages = append(messages, req.ChatHistory...)
	messages = append(messages, userTurn)

	return &relayapi.UpstreamPayload{
		Messages:        messages,
		Stream:          true,
		Model:           opts.Model,
		Temperature:     opts.Temperature,
		PresencePenalty: opts.PresencePenalty,
		TopP:            opts.TopP,
		Key:             opts.Key.Reveal(),
	}, nil
}
