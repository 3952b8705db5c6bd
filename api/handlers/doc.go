// Package handlers 实现 HTTP API 处理器。
//
// 所有处理器共享统一的响应结构（Response）与错误映射
// （types.Error → HTTP 状态码），流式接口使用 SSE。
package handlers
