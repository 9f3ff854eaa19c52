// Package gptrelay 提供一个单请求 HTTP 中继：接收简化的 {message, chat_history} 聊天请求，
// 转换为上游 chat completions 请求，并把上游 OpenAI 风格的 SSE 增量输出
// 重新编码为只包含 {"content": ...} 的简化 SSE 流返回给客户端。
//
// 该仓库主要包含三类能力：
//  1. backend 包：请求适配（payload 构建）、上游 HTTP 客户端、SSE 增量转码状态机
//  2. relayhttp 包：net/http handler 与 Gin 路由注册（CORS、错误映射、SSE 响应）
//  3. SDK：backend.ChatModel 以 Eino ChatModel 形式复用同一上游
package gptrelay
