package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/LubyRuffy/gptrelay"
	"github.com/LubyRuffy/gptrelay/auth"
	"github.com/LubyRuffy/gptrelay/backend"
)

const DefaultConfigPath = "gptrelay.yaml"

// envRefPattern 只匹配 ${NAME} 形式的引用，裸 $ 保持原样。
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config 中转服务的完整配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	RoutePath         string        `yaml:"route_path"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type UpstreamConfig struct {
	URL             string  `yaml:"url"`
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	PresencePenalty float64 `yaml:"presence_penalty"`
	TopP            float64 `yaml:"top_p"`
	SystemPrompt    string  `yaml:"system_prompt"`
	Origin          string  `yaml:"origin"`
	Referer         string  `yaml:"referer"`
	UserAgent       string  `yaml:"user_agent"`
	// ResponseHeaderTimeout 0 表示不限制；流式 body 本身从不超时。
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

type AuthConfig struct {
	// Source: env|file|config|auto
	Source  string      `yaml:"source"`
	KeyFile string      `yaml:"key_file"`
	Key     auth.Secret `yaml:"key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadDotEnv 把 .env 文件加载到进程环境变量，文件不存在时忽略，已存在的变量不会被覆盖。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load 从 YAML 文件加载配置，再用环境变量覆盖。
// 文件不存在时不报错，使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config := Default()

	if _, err := os.Stat(configPath); err == nil {
		yamlFile, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(expandEnvRefs(yamlFile), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		logrus.WithField("config_file", configPath).Debug("Loaded configuration from YAML file")
	} else {
		logrus.WithField("config_file", configPath).Debug("Config file not found, using defaults and environment variables")
	}

	applyEnvironmentOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Default 返回与上游网页端一致的默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            "127.0.0.1:8080",
			RoutePath:         "/",
			ReadHeaderTimeout: 10 * time.Second,
			MaxBodyBytes:      4 << 20,
			ShutdownTimeout:   15 * time.Second,
		},
		Upstream: UpstreamConfig{
			URL:             gptrelay.DefaultUpstreamURL,
			Model:           gptrelay.DefaultModel,
			Temperature:     gptrelay.DefaultTemperature,
			PresencePenalty: gptrelay.DefaultPresencePenalty,
			TopP:            gptrelay.DefaultTopP,
			SystemPrompt:    gptrelay.DefaultSystemPrompt,
			Origin:          gptrelay.DefaultOrigin,
			Referer:         gptrelay.DefaultReferer,
			UserAgent:       gptrelay.DefaultUserAgent,
		},
		Auth: AuthConfig{
			Source: string(auth.SourceAuto),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// expandEnvRefs 展开 ${NAME} 引用，未设置的变量替换为空字符串。
// 与 os.ExpandEnv 不同，$NAME 和单独的 $ 不做处理，密钥里的 $ 可以直接写。
func expandEnvRefs(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRefPattern.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func applyEnvironmentOverrides(config *Config) {
	if val := os.Getenv("GPTRELAY_LISTEN"); val != "" {
		config.Server.Listen = val
	}
	if val := os.Getenv("GPTRELAY_ROUTE_PATH"); val != "" {
		config.Server.RoutePath = val
	}
	if val := os.Getenv("GPTRELAY_UPSTREAM_URL"); val != "" {
		config.Upstream.URL = val
	}
	if val := os.Getenv("GPTRELAY_MODEL"); val != "" {
		config.Upstream.Model = val
	}
	if val := os.Getenv("GPTRELAY_TEMPERATURE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			config.Upstream.Temperature = f
		}
	}
	if val := os.Getenv("GPTRELAY_AUTH_SOURCE"); val != "" {
		config.Auth.Source = val
	}
	if val := os.Getenv("GPTRELAY_KEY_FILE"); val != "" {
		config.Auth.KeyFile = val
	}
	if val := os.Getenv("GPTRELAY_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("GPTRELAY_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("GPTRELAY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Metrics.Enabled = b
		}
	}
}

// Validate 检查配置是否可用。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("server.listen is required")
	}
	if !strings.HasPrefix(c.Server.RoutePath, "/") {
		return fmt.Errorf("server.route_path must start with /")
	}
	if c.Server.ReadHeaderTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	u, err := url.Parse(strings.TrimSpace(c.Upstream.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.url must be an absolute http(s) url")
	}
	if strings.TrimSpace(c.Upstream.Model) == "" {
		return fmt.Errorf("upstream.model is required")
	}
	if c.Upstream.Temperature < 0 || c.Upstream.Temperature > 2 {
		return fmt.Errorf("upstream.temperature must be within [0, 2], got %v", c.Upstream.Temperature)
	}
	if c.Upstream.PresencePenalty < -2 || c.Upstream.PresencePenalty > 2 {
		return fmt.Errorf("upstream.presence_penalty must be within [-2, 2], got %v", c.Upstream.PresencePenalty)
	}
	if c.Upstream.TopP < 0 || c.Upstream.TopP > 1 {
		return fmt.Errorf("upstream.top_p must be within [0, 1], got %v", c.Upstream.TopP)
	}
	if c.Upstream.ResponseHeaderTimeout < 0 {
		return fmt.Errorf("upstream.response_header_timeout must not be negative")
	}

	switch auth.Source(strings.ToLower(strings.TrimSpace(c.Auth.Source))) {
	case "", auth.SourceAuto, auth.SourceEnv, auth.SourceFile, auth.SourceConfig:
	default:
		return fmt.Errorf("unsupported auth.source: %s", c.Auth.Source)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format: %s", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
		if c.Metrics.Path == c.Server.RoutePath || c.Metrics.Path == "/health" {
			return fmt.Errorf("metrics.path %s conflicts with another route", c.Metrics.Path)
		}
	}
	return nil
}

// PayloadOptions 返回上游请求体参数，key 由调用方传入。
func (c *Config) PayloadOptions(key auth.Secret) backend.PayloadOptions {
	return backend.PayloadOptions{
		SystemPrompt:    c.Upstream.SystemPrompt,
		Model:           c.Upstream.Model,
		Temperature:     c.Upstream.Temperature,
		PresencePenalty: c.Upstream.PresencePenalty,
		TopP:            c.Upstream.TopP,
		Key:             key,
	}
}

// ConfigureLogger 按配置设置日志级别和格式。
func ConfigureLogger(logger *logrus.Logger, cfg LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
