package output

import (
	"sort"
	"strings"
)

// NoSpeechPlaceholder replaces Japanese text that is empty after cleanup.
const NoSpeechPlaceholder = "音声を認識できませんでした。"

// promptEchoes are phrases the engine emits when it repeats its priming
// prompt or invents a sign-off instead of transcribing.
var promptEchoes = []string{
	"日本語の音声です：",
	"以下は日本語の音声です：",
	"日本語の音声です。",
	"以下は日本語の音声です。",
	"お疲れ様でした。",
	"次回はお楽しみに",
	"ありがとうございました。",
	"ご視聴ありがとうございました",
}

func init() {
	// longest first so "以下は日本語の音声です。" is not left as "以下は"
	sort.SliceStable(promptEchoes, func(i, j int) bool {
		return len(promptEchoes[i]) > len(promptEchoes[j])
	})
}

// CleanJapanese strips prompt echoes until none remain, collapses
// whitespace (including full-width spaces) and trims. Empty output becomes
// NoSpeechPlaceholder.
func CleanJapanese(text string) string {
	for {
		before := text
		for _, p := range promptEchoes {
			text = strings.ReplaceAll(text, p, "")
		}
		if text == before {
			break
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return NoSpeechPlaceholder
	}
	return text
}

// PostProcess applies the language-specific cleanup to recognized text.
func PostProcess(text, language string) string {
	if language == "ja" {
		return CleanJapanese(text)
	}
	return strings.TrimSpace(text)
}
