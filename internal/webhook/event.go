package webhook

// Payload is the webhook request body: a batch of events from the
// messaging platform.
type Payload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one platform event. Only message events are processed here.
type Event struct {
	Type       string  `json:"type"`
	ReplyToken string  `json:"replyToken"`
	Source     Source  `json:"source"`
	Message    Message `json:"message"`
	Timestamp  int64   `json:"timestamp"`
}

// Source identifies who sent the event.
type Source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Message is the inner message of a message event.
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}
