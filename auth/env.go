package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const EnvUpstreamKey = "GPTRELAY_UPSTREAM_KEY"

type envProvider struct{}

func (p *envProvider) Key(ctx context.Context) (Secret, error) {
	key := strings.TrimSpace(os.Getenv(EnvUpstreamKey))
	if key == "" {
		return "", fmt.Errorf("%s is not set", EnvUpstreamKey)
	}
	return Secret(key), nil
}
