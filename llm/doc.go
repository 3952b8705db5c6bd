/*
Package llm 定义与生成式模型交互的统一边界。

Provider 接口覆盖同步补全与流式补全两种模式。流式响应以 StreamChunk
通道返回：内容增量携带 Delta，最后一个 chunk 可携带 Usage（需要
stream_options.include_usage），传输层错误以 Err 字段作为终止事件。

子包：

  - embedding — 嵌入提供方边界（OpenAI 兼容 REST）
  - retry     — 指数退避重试器与瞬态错误分类
  - tokenizer — tiktoken 计数与启发式估算回退
*/
package llm
