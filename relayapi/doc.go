// Package relayapi 提供中继两端协议层的数据结构与少量构建函数。
//
// 该包只关注协议层：客户端请求体、上游 payload、上游 SSE chunk、客户端 SSE 帧以及错误结构。
// 请求适配与流式转码在 backend 包中实现。
//
// 示例：构建一个客户端 SSE 帧
//
//	frame, _ := relayapi.EncodeContentFrame("hello")
//	_, _ = w.Write(frame) // data: {"content":"hello"}\n\n
package relayapi
