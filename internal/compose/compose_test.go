package compose

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestComposeWrapsBothSummaries(t *testing.T) {
	raw := `{"ja_summary":"フォームは安定しています。","en_summary":"Your form is stable."}`
	got := Compose(raw)

	if !strings.Contains(got, "フォームは安定しています。") {
		t.Fatalf("missing ja summary: %q", got)
	}
	if !strings.Contains(got, "Your form is stable.") {
		t.Fatalf("missing en summary: %q", got)
	}
	if !strings.HasPrefix(got, "別に長くは話さないわ。") {
		t.Fatalf("missing ja persona prefix: %q", got)
	}
	if !strings.Contains(got, "\n\n") {
		t.Fatalf("halves not separated: %q", got)
	}
	if !strings.Contains(got, "Not overexplaining.") {
		t.Fatalf("missing en persona prefix: %q", got)
	}
}

func TestComposeIsIdempotentOnSameInput(t *testing.T) {
	raw := `{"ja_summary":"要約です。","en_summary":"A summary."}`
	if Compose(raw) != Compose(raw) {
		t.Fatal("same input produced different outputs")
	}
}

func TestComposeSubstitutesFallbackForInvalidJSON(t *testing.T) {
	got := Compose("not json at all")
	if !strings.Contains(got, OverloadFallbackJA) {
		t.Fatalf("missing ja fallback: %q", got)
	}
	if !strings.Contains(got, OverloadFallbackEN) {
		t.Fatalf("missing en fallback: %q", got)
	}
}

func TestComposeSubstitutesFallbackForMissingHalf(t *testing.T) {
	got := Compose(`{"ja_summary":"要約です。"}`)
	if !strings.Contains(got, "要約です。") {
		t.Fatalf("missing ja summary: %q", got)
	}
	if !strings.Contains(got, OverloadFallbackEN) {
		t.Fatalf("missing en fallback: %q", got)
	}
}

func TestComposeIgnoresNonStringSummaries(t *testing.T) {
	got := Compose(`{"ja_summary":42,"en_summary":{"x":1}}`)
	if !strings.Contains(got, OverloadFallbackJA) || !strings.Contains(got, OverloadFallbackEN) {
		t.Fatalf("expected both fallbacks: %q", got)
	}
}

func TestTruncateRunesKeepsMultibyteBoundaries(t *testing.T) {
	long := strings.Repeat("あ", 200)
	got := TruncateRunes(long, MaxJapaneseChars)
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a multi-byte character")
	}
	if n := utf8.RuneCountInString(got); n != MaxJapaneseChars {
		t.Fatalf("rune count = %d, want %d", n, MaxJapaneseChars)
	}
}

func TestTruncateRunesShortTextUnchanged(t *testing.T) {
	if got := TruncateRunes("短い", 180); got != "短い" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateWordsLimitsWordCount(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 150))
	got := TruncateWords(long, MaxEnglishWords)
	if n := len(strings.Fields(got)); n != MaxEnglishWords {
		t.Fatalf("word count = %d, want %d", n, MaxEnglishWords)
	}
	if strings.HasSuffix(got, " ") {
		t.Fatalf("trailing space in %q", got)
	}
}

func TestTruncateWordsCollapsesOnlyWhenTruncating(t *testing.T) {
	short := "two  spaced   words"
	if got := TruncateWords(short, 120); got != short {
		t.Fatalf("short text modified: %q", got)
	}
}

func TestComposeTruncatesLongSummaries(t *testing.T) {
	longJA := strings.Repeat("あ", 500)
	longEN := strings.TrimSpace(strings.Repeat("w ", 500))
	raw := `{"ja_summary":"` + longJA + `","en_summary":"` + longEN + `"}`
	got := Compose(raw)

	parts := strings.SplitN(got, "\n\n", 2)
	if len(parts) != 2 {
		t.Fatalf("expected two halves: %q", got)
	}
	if utf8.RuneCountInString(parts[0]) > MaxJapaneseChars+40 {
		t.Fatalf("ja half too long: %d runes", utf8.RuneCountInString(parts[0]))
	}
	if n := len(strings.Fields(parts[1])); n > MaxEnglishWords+20 {
		t.Fatalf("en half too long: %d words", n)
	}
}
