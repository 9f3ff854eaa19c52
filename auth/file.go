package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadKeyFromPath 读取密钥文件（纯文本，首尾空白会被去掉）。
func ReadKeyFromPath(path string) (Secret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("key file %s is empty", path)
	}
	return Secret(key), nil
}

func defaultKeyPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "gptrelay", "key"), nil
}

type fileProvider struct {
	path string
}

func (p *fileProvider) Key(ctx context.Context) (Secret, error) {
	path := strings.TrimSpace(p.path)
	if path == "" {
		var err error
		if path, err = defaultKeyPath(); err != nil {
			return "", err
		}
	}
	return ReadKeyFromPath(path)
}

type staticProvider struct {
	key Secret
}

func (p *staticProvider) Key(ctx context.Context) (Secret, error) {
	if strings.TrimSpace(p.key.Reveal()) == "" {
		return "", fmt.Errorf("auth.key is not configured")
	}
	return p.key, nil
}
