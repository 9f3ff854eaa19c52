package relayhttp

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/LubyRuffy/gptrelay/auth"
	"github.com/LubyRuffy/gptrelay/backend"
)

type Config struct {
	// Route 仅用于 Gin 注册路由，默认 "/"。
	Route string
	// UpstreamURL 上游 chat completions 端点地址，默认 gptrelay.DefaultUpstreamURL。
	UpstreamURL string
	// HTTPClient 可选，nil 时内部使用 &http.Client{}。
	HTTPClient *http.Client
	// Key 必填：上游共享密钥，进程启动时解析一次后注入。
	Key auth.Secret
	// Payload 可选，nil 时使用 backend.DefaultPayloadOptions；其中的 Key 总是被 Config.Key 覆盖。
	Payload *backend.PayloadOptions
	// Origin/Referer/UserAgent 可选，为空时使用上游网页端的默认值。
	Origin    string
	Referer   string
	UserAgent string
	// MaxBodyBytes 请求体上限，默认 4 MiB。
	MaxBodyBytes int64
	// Logger 可选，nil 时使用 logrus.StandardLogger()。
	Logger *logrus.Logger
	// Metrics 可选，nil 时不记录指标。
	Metrics *Metrics
	// NewRequestID 可选，默认 uuid.NewString。
	NewRequestID func() string
}
