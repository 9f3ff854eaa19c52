package auth

import "context"

// Provider 用于从不同来源读取上游共享密钥。
type Provider interface {
	Key(ctx context.Context) (Secret, error)
}

type Source string

const (
	SourceEnv    Source = "env"
	SourceFile   Source = "file"
	SourceConfig Source = "config"
	SourceAuto   Source = "auto"
)
