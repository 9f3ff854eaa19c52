package relayhttp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/LubyRuffy/gptrelay/relayapi"
)

type httpError struct {
	Status  int
	Message string
	// OriginalStatus 非 0 时表示上游返回的状态码，会写入响应体。
	OriginalStatus int
	Err            error
}

func (e *httpError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (e *httpError) Unwrap() error { return e.Err }

func httpStatusFromError(err error) int {
	var httpErr *httpError
	if errors.As(err, &httpErr) && httpErr != nil && httpErr.Status != 0 {
		return httpErr.Status
	}
	return http.StatusInternalServerError
}

// writeJSON 写出与 JSON.stringify 一致的响应体：不转义 HTML 字符，结尾没有换行。
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	body, err := relayapi.Marshal(data)
	if err != nil {
		statusCode = http.StatusInternalServerError
		body = []byte(`{"error":"Relay processing error: failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, relayapi.ErrorResponse{Error: message})
}

func writeHTTPError(w http.ResponseWriter, err *httpError) {
	if err.OriginalStatus != 0 {
		writeJSON(w, err.Status, relayapi.UpstreamErrorResponse{
			Error:          err.Message,
			OriginalStatus: err.OriginalStatus,
		})
		return
	}
	writeError(w, err.Status, err.Message)
}

func normalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		return "/"
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
		if route == "" {
			return "/"
		}
	}
	return route
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
}

func setPreflightHeaders(h http.Header) {
	setCORSHeaders(h)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Max-Age", "86400")
}
