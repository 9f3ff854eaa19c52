package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/LubyRuffy/gptrelay"
	"github.com/LubyRuffy/gptrelay/relayapi"
)

const (
	maxUpstreamErrBytes = 8 << 10
	upstreamAccept      = "application/json, text/event-stream"
)

type ClientConfig struct {
	URL        string
	HTTPClient *http.Client
	// Origin/Referer/UserAgent 为空时使用 gptrelay 包中的默认值。
	Origin    string
	Referer   string
	UserAgent string
}

// Client 负责向上游发起 chat completions 请求，不做任何重试。
type Client struct {
	config ClientConfig
}

func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.URL) == "" {
		return nil, fmt.Errorf("upstream url is required")
	}
	if strings.TrimSpace(config.Origin) == "" {
		config.Origin = gptrelay.DefaultOrigin
	}
	if strings.TrimSpace(config.Referer) == "" {
		config.Referer = gptrelay.DefaultReferer
	}
	if strings.TrimSpace(config.UserAgent) == "" {
		config.UserAgent = gptrelay.DefaultUserAgent
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Client{config: config}, nil
}

// Open 发起上游请求并返回仍在流式输出的响应，调用方负责关闭 Body。
// 请求绑定 ctx：客户端断开时上游请求会被立即取消。
// 上游返回非 2xx 时返回 *UpstreamError。
func (c *Client) Open(ctx context.Context, payload *relayapi.UpstreamPayload) (*http.Response, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", upstreamAccept)
	req.Header.Set("Origin", c.config.Origin)
	req.Header.Set("Referer", c.config.Referer)
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamErrBytes))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}
