package config

import (
	"context"
	"fmt"
	"net/http"

	"github.com/LubyRuffy/gptrelay/auth"
)

// ResolveKey 从配置的 auth 来源读取一次上游 key。
func ResolveKey(ctx context.Context, c *Config) (auth.Secret, error) {
	provider, err := auth.NewProvider(c.Auth.Source,
		auth.WithKeyFile(c.Auth.KeyFile),
		auth.WithStaticKey(c.Auth.Key),
	)
	if err != nil {
		return "", err
	}
	key, err := provider.Key(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve upstream key from %q source: %w", c.Auth.Source, err)
	}
	return key, nil
}

// UpstreamHTTPClient 返回访问上游用的 http.Client。
// 不设置 http.Client.Timeout，否则长时间的流会被截断。
func (c *Config) UpstreamHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = c.Upstream.ResponseHeaderTimeout
	return &http.Client{Transport: transport}
}
