package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LubyRuffy/gptrelay/auth"
	"github.com/LubyRuffy/gptrelay/internal/config"
	"github.com/LubyRuffy/gptrelay/relayhttp"
)

type serverOptions struct {
	configPath string
	listen     string
	authSource string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts serverOptions
	cmd := &cobra.Command{
		Use:          "gptrelay-server",
		Short:        "Relay chat requests to the upstream and stream the reply back as SSE",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", config.DefaultConfigPath, "path to YAML config file")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().StringVar(&opts.authSource, "auth-source", "", "upstream key source: env|file|config|auto (overrides auth.source)")
	return cmd
}

func run(ctx context.Context, opts serverOptions) error {
	logger := logrus.StandardLogger()

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cfg, opts); err != nil {
		return err
	}
	if err := config.ConfigureLogger(logger, cfg.Logging); err != nil {
		return err
	}

	key, err := config.ResolveKey(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, key, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	local := addrForLocalClient(ln.Addr().String())
	logger.WithFields(logrus.Fields{
		"listen":      ln.Addr().String(),
		"route":       cfg.Server.RoutePath,
		"upstream":    cfg.Upstream.URL,
		"model":       cfg.Upstream.Model,
		"auth_source": cfg.Auth.Source,
	}).Info("gptrelay server started")
	logger.Infof("try: curl -N http://%s%s -H 'Content-Type: application/json' -d '{\"message\":\"hi\",\"chat_history\":[]}'", local, cfg.Server.RoutePath)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func applyFlagOverrides(cfg *config.Config, opts serverOptions) error {
	if opts.listen != "" {
		cfg.Server.Listen = opts.listen
	}
	if opts.authSource != "" {
		cfg.Auth.Source = opts.authSource
	}
	return cfg.Validate()
}

func newEngine(cfg *config.Config, key auth.Secret, logger *logrus.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	var metrics *relayhttp.Metrics
	if cfg.Metrics.Enabled {
		var err error
		metrics, err = relayhttp.NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	payload := cfg.PayloadOptions(key)
	err := relayhttp.RegisterGinRoutes(r, relayhttp.Config{
		Route:        cfg.Server.RoutePath,
		UpstreamURL:  cfg.Upstream.URL,
		HTTPClient:   cfg.UpstreamHTTPClient(),
		Key:          key,
		Payload:      &payload,
		Origin:       cfg.Upstream.Origin,
		Referer:      cfg.Upstream.Referer,
		UserAgent:    cfg.Upstream.UserAgent,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// addrForLocalClient 把监听地址转换成本机可访问的地址（用于打印示例命令）。
func addrForLocalClient(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

