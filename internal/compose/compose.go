package compose

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Truncation limits for each language half of the reply.
const (
	MaxJapaneseChars = 180
	MaxEnglishWords  = 120
)

// Fallback summaries used when the provider's answer is missing a half.
const (
	OverloadFallbackJA = "現在AIが混み合っています。しばらくしてから再試行してください。"
	OverloadFallbackEN = "The AI is overloaded. Please retry after a short wait."
)

// Compose turns a raw provider answer into the final bilingual message.
// The answer is expected to be JSON with ja_summary and en_summary
// fields; a missing or unparseable half is substituted with the
// overload fallback. Compose is pure: the same input always yields the
// same output.
func Compose(raw string) string {
	ja, en := parseSummaries(raw)
	if ja == "" {
		ja = OverloadFallbackJA
	}
	if en == "" {
		en = OverloadFallbackEN
	}
	ja = TruncateRunes(ja, MaxJapaneseChars)
	en = TruncateWords(en, MaxEnglishWords)
	return buildFinalMessage(ja, en)
}

// OverloadMessage is the full bilingual reply for provider overload.
func OverloadMessage() string {
	return OverloadFallbackJA + "\n\n" + OverloadFallbackEN
}

// FallbackAnswer builds the interim notice sent when analysis could not
// produce a complete result. Whitespace in detail is collapsed.
func FallbackAnswer(detail string) string {
	suffix := strings.Join(strings.Fields(detail), " ")
	if suffix == "" {
		suffix = "現在詳細取得に時間がかかっています"
	}
	return fmt.Sprintf("動画の解析サマリー: %s。後ほど完全版を送信します。", suffix)
}

func parseSummaries(raw string) (ja, en string) {
	var parsed struct {
		JASummary json.RawMessage `json:"ja_summary"`
		ENSummary json.RawMessage `json:"en_summary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", ""
	}
	// Only string-typed fields count; numbers or objects are ignored.
	var s string
	if json.Unmarshal(parsed.JASummary, &s) == nil {
		ja = s
	}
	s = ""
	if json.Unmarshal(parsed.ENSummary, &s) == nil {
		en = s
	}
	return ja, en
}

func buildFinalMessage(ja, en string) string {
	jp := fmt.Sprintf("別に長くは話さないわ。%s 最後に一言。続けるなら、今日からね。", ja)
	eng := fmt.Sprintf("Not overexplaining. %s One last thing: progress comes from consistency—start today.", en)
	return jp + "\n\n" + eng
}

// TruncateRunes limits text to maxRunes characters, never splitting a
// multi-byte character.
func TruncateRunes(text string, maxRunes int) string {
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}

// TruncateWords limits text to maxWords whitespace-separated words.
func TruncateWords(text string, maxWords int) string {
	if text == "" {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:maxWords], " ")
}
