package auth

import (
	"context"
	"fmt"
	"strings"
)

type options struct {
	keyFile   string
	staticKey Secret
}

type Option func(*options)

// WithKeyFile 指定 file 来源读取的文件路径，默认 ~/.config/gptrelay/key。
func WithKeyFile(path string) Option {
	return func(o *options) { o.keyFile = path }
}

// WithStaticKey 指定 config 来源使用的密钥（通常来自配置文件）。
func WithStaticKey(key Secret) Option {
	return func(o *options) { o.staticKey = key }
}

// NewProvider 根据来源创建 Provider。
// source 允许：env/file/config/auto；空值按 auto 处理。
// auto 依次尝试 config、file、env。
func NewProvider(source string, opts ...Option) (Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		s = string(SourceAuto)
	}
	switch Source(s) {
	case SourceEnv:
		return &envProvider{}, nil
	case SourceFile:
		return &fileProvider{path: o.keyFile}, nil
	case SourceConfig:
		return &staticProvider{key: o.staticKey}, nil
	case SourceAuto:
		return &autoProvider{providers: []Provider{
			&staticProvider{key: o.staticKey},
			&fileProvider{path: o.keyFile},
			&envProvider{},
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported auth source: %s", source)
	}
}

type autoProvider struct {
	providers []Provider
}

func (p *autoProvider) Key(ctx context.Context) (Secret, error) {
	var lastErr error
	for _, provider := range p.providers {
		key, err := provider.Key(ctx)
		if err == nil && !key.IsZero() {
			return key, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("no upstream key available")
}
