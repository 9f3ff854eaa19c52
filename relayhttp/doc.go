// Package relayhttp 提供中继端点的 HTTP 处理器。
//
// 该包对外只暴露：
// - net/http 形式的 handler（POST 中继、OPTIONS 预检）
// - Gin 路由注册方法（中继路由 + /health）
// - Prometheus 指标收集器
//
// 上游密钥通过 Config.Key 注入，该包不会读取环境变量或本地文件。
//
// 使用示例：
//
//	// net/http
//	h, _ := relayhttp.Handler(relayhttp.Config{Key: key})
//	mux.HandleFunc("/", h)
//
//	// gin
//	_ = relayhttp.RegisterGinRoutes(r, relayhttp.Config{
//		Route: "/",
//		Key:   key,
//	})
package relayhttp
