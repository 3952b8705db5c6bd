// 版权所有 2025 KnowledgeHub Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 rag 实现问答主链路：文本切块、嵌入、向量检索、重排与答案生成。

# 数据流

	原始文本 → Chunker → Embedder → VectorStore（入库）
	问题文本 → Embedder ┬→ Retriever（向量检索 + 去重 + 关键词重排）
	                     └→ 关键词提取（并发）
	检索结果 → Generator（同步 / 流式生成）→ 答案 + 来源 + 指标

# 核心类型

  - Chunker：边界感知的重叠切块器。
  - Embedder：带缓存的嵌入网关，未命中批量调用 Provider。
  - QdrantStore：Qdrant 向量库封装，负责集合生命周期、写入、检索与按来源删除。
  - Retriever：检索引擎，短查询自适应参数、指纹去重、单来源限额、
    关键词分层重排与降级加宽。
  - Generator：生成网关，按问题语言选择提示词模板，支持同步与流式两种模式。
  - Pipeline：端到端编排器，聚合各阶段耗时与 token 用量。

所有外部调用均经过独立的重试器，缓存故障一律降级为未命中。
*/
package rag
