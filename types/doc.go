/*
Package types 提供 ai-knowledgehub 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包，为 rag、llm、internal 等
上层模块提供统一的类型契约：

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - TokenUsage        — 供查询管道聚合、供计费协作方消费的 token 用量记录

错误码覆盖查询管道的完整错误分类：配置缺失（CONFIGURATION）、凭证被拒
（AUTHENTICATION）、可重试的瞬态故障（RATE_LIMITED / TIMEOUT /
UPSTREAM_ERROR）、以及流式生成中断（GENERATION_INTERRUPTED）。
*/
package types
