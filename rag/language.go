package rag

import (
	"strings"
	"unicode"
)

// Language 问题语言，决定提示词模板
type Language string

const (
	LangChinese Language = "zh"
	LangEnglish Language = "en"
)

// cjkPunct 常见中文标点，计入 CJK 字符比例
const cjkPunct = "，。！？；：“”‘’（）《》、…—【】「」『』"

// cjkRatioThreshold CJK 字符占比超过该值判定为中文
const cjkRatioThreshold = 0.3

func isCJK(r rune) bool {
	if r >= 0x4E00 && r <= 0x9FFF {
		return true
	}
	return strings.ContainsRune(cjkPunct, r)
}

// DetectLanguage 按字符类别比例判定问题的主导语言。
// 只统计非空白字符；空输入按英文处理。
func DetectLanguage(text string) Language {
	total := 0
	cjk := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isCJK(r) {
			cjk++
		}
	}
	if total == 0 {
		return LangEnglish
	}
	if float64(cjk)/float64(total) > cjkRatioThreshold {
		return LangChinese
	}
	return LangEnglish
}
