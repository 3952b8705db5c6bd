package rag

import (
	"fmt"
	"strings"
)

// 系统提示词按问题语言二选一。核心约束：只依据提供的文档片段作答、
// 禁止复述问题、上下文为空时明确说明未找到相关信息。

const systemPromptZH = `你是一个专业的知识库助手，任务是依据提供的文档片段回答用户问题。

要求：
1. 只依据文档片段中的实际内容作答，不要编造或凭空猜测
2. 禁止以任何形式复述或反问用户的问题，直接给出答案
3. 回答直接、具体，不要添加"根据文档"、"文档中提到"等前缀
4. 如果文档片段中确实没有任何相关信息，明确回答"未找到相关信息"
5. 必须使用中文回答`

const systemPromptEN = `You are a professional knowledge base assistant. Answer the user's question using only the provided document fragments.

Requirements:
1. Base your answer on the actual content of the fragments, never fabricate or guess
2. Never repeat or echo the user's question in any form, give the answer directly
3. Be direct and specific, do not add prefixes like "according to the document"
4. If the fragments contain no relevant information at all, answer exactly "no relevant information found"
5. You must answer in English`

const emptyContextZH = `知识库中没有检索到与该问题相关的文档。

用户问题：%s

请直接回答"未找到相关信息"，不要编造答案，也不要复述问题。`

const emptyContextEN = `No documents related to this question were retrieved from the knowledge base.

User question: %s

Answer exactly "no relevant information found". Do not fabricate an answer and do not repeat the question.`

// SystemPrompt 返回语言匹配的系统提示词
func SystemPrompt(lang Language) string {
	if lang == LangChinese {
		return systemPromptZH
	}
	return systemPromptEN
}

// BuildPrompt 拼装用户提示词：编号的文档片段（带来源与相关度）加问题。
// 上下文为空时返回明确的"未找到"指令，防止模型把问题当答案。
func BuildPrompt(question string, docs []RetrievedDocument, lang Language) string {
	if len(docs) == 0 {
		if lang == LangChinese {
			return fmt.Sprintf(emptyContextZH, question)
		}
		return fmt.Sprintf(emptyContextEN, question)
	}

	var b strings.Builder
	if lang == LangChinese {
		fmt.Fprintf(&b, "请依据以下文档片段（共%d个）回答用户问题。\n\n", len(docs))
		for i, doc := range docs {
			fmt.Fprintf(&b, "【文档片段 %d】（来源: %s, 相关度: %.1f%%）\n%s\n\n",
				i+1, docFilename(doc), doc.Score*100, doc.Content)
		}
		fmt.Fprintf(&b, "用户问题：%s\n\n请直接回答，不要复述问题：", question)
	} else {
		fmt.Fprintf(&b, "Answer the user's question using the following document fragments (%d total).\n\n", len(docs))
		for i, doc := range docs {
			fmt.Fprintf(&b, "[Document Fragment %d] (source: %s, relevance: %.1f%%)\n%s\n\n",
				i+1, docFilename(doc), doc.Score*100, doc.Content)
		}
		fmt.Fprintf(&b, "User question: %s\n\nAnswer directly without repeating the question:", question)
	}
	return b.String()
}

const keywordSystemZH = "你是一个关键词提取专家。只返回关键词，不要解释。"
const keywordSystemEN = "You are a keyword extraction expert. Return only keywords, no explanation."

const keywordPromptZH = `从以下问题中提取核心关键词，用于文档检索。

问题：%s

要求：
1. 提取最重要的实体词或概念词
2. 忽略语气词、疑问词、代词
3. 返回最核心的1-%d个关键词，用逗号分隔

只返回关键词，不要其他解释：`

const keywordPromptEN = `Extract core keywords from the following question for document retrieval.

Question: %s

Requirements:
1. Extract the most important entity or concept words
2. Ignore modal particles, interrogative words and pronouns
3. Return the top 1-%d keywords separated by commas

Return only keywords, no other explanation:`

// KeywordSystemPrompt 关键词提取的系统提示词
func KeywordSystemPrompt(lang Language) string {
	if lang == LangChinese {
		return keywordSystemZH
	}
	return keywordSystemEN
}

// KeywordPrompt 关键词提取的用户提示词
func KeywordPrompt(question string, maxKeywords int, lang Language) string {
	if lang == LangChinese {
		return fmt.Sprintf(keywordPromptZH, question, maxKeywords)
	}
	return fmt.Sprintf(keywordPromptEN, question, maxKeywords)
}

func docFilename(doc RetrievedDocument) string {
	if doc.Metadata.Filename != "" {
		return doc.Metadata.Filename
	}
	return "unknown"
}
