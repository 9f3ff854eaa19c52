package relayhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LubyRuffy/gptrelay"
	"github.com/LubyRuffy/gptrelay/backend"
)

const (
	headerRequestID        = "X-Request-ID"
	defaultMaxBodyBytes    = 4 << 20
	maxRequestIDLen        = 128
	upstreamErrorExcerptN  = 100
	relayErrorPrefix       = "Relay processing error: "
	msgMethodNotAllowed    = "Method Not Allowed"
	msgRequestBodyTooLarge = "Request body too large"
)

// Handler 返回中继端点的 http.HandlerFunc：
//   - OPTIONS 返回 204 预检响应
//   - POST 校验请求体、调用上游并把上游 SSE 转码后流式写回
//   - 其它方法返回 405
func Handler(cfg Config) (http.HandlerFunc, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := backend.NewClient(backend.ClientConfig{
		URL:        resolved.UpstreamURL,
		HTTPClient: resolved.HTTPClient,
		Origin:     resolved.Origin,
		Referer:    resolved.Referer,
		UserAgent:  resolved.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	h := &relayHandler{
		client:       client,
		payload:      resolved.Payload,
		maxBodyBytes: resolved.MaxBodyBytes,
		logger:       resolved.Logger,
		metrics:      resolved.Metrics,
		newRequestID: resolved.NewRequestID,
	}
	return h.serveHTTP, nil
}

type resolvedConfig struct {
	Route        string
	UpstreamURL  string
	HTTPClient   *http.Client
	Payload      backend.PayloadOptions
	Origin       string
	Referer      string
	UserAgent    string
	MaxBodyBytes int64
	Logger       *logrus.Logger
	Metrics      *Metrics
	NewRequestID func() string
}

func resolveConfig(cfg Config) (resolvedConfig, error) {
	if cfg.Key.IsZero() {
		return resolvedConfig{}, fmt.Errorf("key is required")
	}

	upstreamURL := strings.TrimSpace(cfg.UpstreamURL)
	if upstreamURL == "" {
		upstreamURL = gptrelay.DefaultUpstreamURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	payload := backend.DefaultPayloadOptions(cfg.Key)
	if cfg.Payload != nil {
		payload = *cfg.Payload
		payload.Key = cfg.Key
		if strings.TrimSpace(payload.Model) == "" {
			payload.Model = gptrelay.DefaultModel
		}
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	newID := cfg.NewRequestID
	if newID == nil {
		newID = uuid.NewString
	}

	return resolvedConfig{
		Route:        normalizeRoute(cfg.Route),
		UpstreamURL:  upstreamURL,
		HTTPClient:   client,
		Payload:      payload,
		Origin:       strings.TrimSpace(cfg.Origin),
		Referer:      strings.TrimSpace(cfg.Referer),
		UserAgent:    strings.TrimSpace(cfg.UserAgent),
		MaxBodyBytes: maxBody,
		Logger:       logger,
		Metrics:      cfg.Metrics,
		NewRequestID: newID,
	}, nil
}

type relayHandler struct {
	client       *backend.Client
	payload      backend.PayloadOptions
	maxBodyBytes int64
	logger       *logrus.Logger
	metrics      *Metrics
	newRequestID func() string
}

func (h *relayHandler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := h.requestID(r)
	w.Header().Set(headerRequestID, requestID)
	setCORSHeaders(w.Header())

	logger := h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
	})

	switch r.Method {
	case http.MethodOptions:
		setPreflightHeaders(w.Header())
		w.WriteHeader(http.StatusNoContent)
		h.metrics.observeRequest(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		h.metrics.observeRequest(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	resp, err := h.openUpstream(w, r, logger)
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	h.metrics.observeRequest(http.StatusOK)

	stats, err := backend.Transcode(r.Context(), resp.Body, w, backend.WithLogger(logger))
	h.metrics.observeStream(stats, err)

	fields := logrus.Fields{
		"frames":      stats.Frames,
		"malformed":   stats.Malformed,
		"done":        stats.Done,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
		logger.WithFields(fields).Info("relay stream completed")
	case errors.Is(err, context.Canceled) || r.Context().Err() != nil:
		logger.WithFields(fields).Info("client disconnected, upstream request canceled")
	default:
		// 200 已经写出，只能结束流。
		logger.WithFields(fields).WithError(err).Warn("relay stream aborted")
	}
}

// openUpstream 读取并校验请求体，然后发起上游请求。
// 返回的响应一定是 2xx，调用方负责关闭 Body。
func (h *relayHandler) openUpstream(w http.ResponseWriter, r *http.Request, logger *logrus.Entry) (*http.Response, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &httpError{Status: http.StatusRequestEntityTooLarge, Message: msgRequestBodyTooLarge, Err: err}
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	inbound, err := backend.DecodeInbound(body)
	if err != nil {
		return nil, err
	}
	payload, err := backend.BuildPayload(inbound, h.payload)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"history_len": len(inbound.ChatHistory),
		"model":       payload.Model,
	}).Debug("forward request to upstream")

	upstreamStart := time.Now()
	resp, err := h.client.Open(r.Context(), payload)
	h.metrics.observeUpstream(time.Since(upstreamStart), err)
	return resp, err
}

func (h *relayHandler) fail(w http.ResponseWriter, logger *logrus.Entry, err error) {
	httpErr := classifyError(err)
	status := httpStatusFromError(httpErr)

	entry := logger.WithError(err).WithField("status", status)
	var upErr *backend.UpstreamError
	switch {
	case errors.As(err, &upErr):
		entry.WithFields(logrus.Fields{
			"upstream_status": upErr.Status,
			"upstream_body":   upErr.Excerpt(512),
		}).Warn("upstream returned error")
	case status < http.StatusInternalServerError:
		entry.Info("reject request")
	default:
		entry.Error("relay request failed")
	}

	writeHTTPError(w, httpErr)
	h.metrics.observeRequest(status)
}

// classifyError 把处理过程中的错误映射为对客户端的响应：
//   - *backend.ValidationError -> 400
//   - *backend.UpstreamError -> 502，附带上游状态码与 body 前 100 个字符
//   - 其它 -> 500
func classifyError(err error) *httpError {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var vErr *backend.ValidationError
	if errors.As(err, &vErr) {
		return &httpError{Status: http.StatusBadRequest, Message: vErr.Message, Err: err}
	}
	if upErr, ok := asUpstreamError(err); ok {
		return &httpError{
			Status:         http.StatusBadGateway,
			Message:        fmt.Sprintf("Upstream API error: %d - %s", upErr.Status, upErr.Excerpt(upstreamErrorExcerptN)),
			OriginalStatus: upErr.Status,
			Err:            err,
		}
	}
	return &httpError{Status: http.StatusInternalServerError, Message: relayErrorPrefix + err.Error(), Err: err}
}

func asUpstreamError(err error) (*backend.UpstreamError, bool) {
	var upErr *backend.UpstreamError
	if err == nil || !errors.As(err, &upErr) {
		return nil, false
	}
	return upErr, true
}

func (h *relayHandler) requestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(headerRequestID))
	if id != "" && len(id) <= maxRequestIDLen {
		return id
	}
	return h.newRequestID()
}
