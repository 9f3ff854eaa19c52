package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/LubyRuffy/gptrelay/relayapi"
)

var errStreamClosed = errors.New("stream reader closed")

var _ einoModel.BaseChatModel = (*ChatModel)(nil)

type ChatModelConfig struct {
	Client  *Client
	Payload PayloadOptions
}

// ChatModel 把同一个上游包装成 Eino BaseChatModel。
// 输入的最后一条消息必须是 user，其余消息作为 chat_history 按顺序转发；
// 部署固定的 system 提示词总是放在最前面。
type ChatModel struct {
	client  *Client
	payload PayloadOptions
}

func NewChatModel(config ChatModelConfig) (*ChatModel, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(config.Payload.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if config.Payload.Key.IsZero() {
		return nil, fmt.Errorf("upstream key is required")
	}
	return &ChatModel{client: config.Client, payload: config.Payload}, nil
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	content, err := m.doStreamRequest(ctx, input, opts, func(string) error { return nil })
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](64)
	go func() {
		defer sw.Close()
		_, err := m.doStreamRequest(ctx, input, opts, func(delta string) error {
			if closed := sw.Send(&schema.Message{Role: schema.Assistant, Content: delta}, nil); closed {
				return errStreamClosed
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStreamClosed) {
			sw.Send(nil, err)
		}
	}()
	return sr, nil
}

func (m *ChatModel) doStreamRequest(ctx context.Context, input []*schema.Message, opts []einoModel.Option, onDelta func(string) error) (string, error) {
	inbound, err := inboundFromMessages(input)
	if err != nil {
		return "", err
	}

	payload, err := BuildPayload(inbound, m.resolveOptions(opts))
	if err != nil {
		return "", err
	}

	resp, err := m.client.Open(ctx, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var fullContent strings.Builder
	err = decodeStream(ctx, resp.Body, &Decoder{}, defaultReadSize, func(ev Event) error {
		if ev.Kind != EventContent {
			return nil
		}
		fullContent.WriteString(ev.Content)
		return onDelta(ev.Content)
	})
	if err != nil {
		return "", err
	}
	return fullContent.String(), nil
}

// resolveOptions 允许通过 einoModel.WithModel/WithTemperature/WithTopP 覆盖部署默认值。
func (m *ChatModel) resolveOptions(opts []einoModel.Option) PayloadOptions {
	out := m.payload
	if len(opts) == 0 {
		return out
	}
	model := out.Model
	temperature := float32(out.Temperature)
	topP := float32(out.TopP)
	common := einoModel.GetCommonOptions(&einoModel.Options{
		Model:       &model,
		Temperature: &temperature,
		TopP:        &topP,
	}, opts...)
	if common.Model != nil && strings.TrimSpace(*common.Model) != "" {
		out.Model = *common.Model
	}
	if common.Temperature != nil {
		out.Temperature = float64(*common.Temperature)
	}
	if common.TopP != nil {
		out.TopP = float64(*common.TopP)
	}
	return out
}

func inboundFromMessages(input []*schema.Message) (relayapi.InboundRequest, error) {
	messages := make([]*schema.Message, 0, len(input))
	for _, msg := range input {
		if msg != nil {
			messages = append(messages, msg)
		}
	}
	if len(messages) == 0 {
		return relayapi.InboundRequest{}, fmt.Errorf("no valid messages to send")
	}

	last := messages[len(messages)-1]
	if last.Role != schema.User {
		return relayapi.InboundRequest{}, fmt.Errorf("last message must be a user message, got %s", last.Role)
	}

	history := make([]json.RawMessage, 0, len(messages)-1)
	for _, msg := range messages[:len(messages)-1] {
		switch msg.Role {
		case schema.System, schema.User, schema.Assistant:
		default:
			return relayapi.InboundRequest{}, fmt.Errorf("unsupported role: %s", msg.Role)
		}
		turn, err := json.Marshal(relayapi.ChatTurn{Role: string(msg.Role), Content: msg.Content})
		if err != nil {
			return relayapi.InboundRequest{}, fmt.Errorf("failed to encode history turn: %w", err)
		}
		history = append(history, turn)
	}

	return relayapi.InboundRequest{Message: last.Content, ChatHistory: history}, nil
}
