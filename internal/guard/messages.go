package guard

// User-facing denial messages, Japanese first then English.
const (
	StorageFullJA = "現在ストレージが満杯です。数日後に再度お試しください。"
	StorageFullEN = "Storage is full. Please try again in a few days."

	QuotaReachedJA = "本日の無料枠は終了しました。明日また試してください。"
	QuotaReachedEN = "Your free quota for today has been reached. Please try again tomorrow."

	DisabledJA = "現在混雑のため受付停止中です。しばらく時間をおいて試してください。"
	DisabledEN = "Service is temporarily unavailable due to high demand. Please try again later."
)

// Bilingual joins a Japanese and an English message into one reply body.
func Bilingual(ja, en string) string {
	return ja + "\n\n" + en
}
