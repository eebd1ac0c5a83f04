package queue

import "encoding/json"

// Message is the job hand-off between the webhook API and the worker.
// ContentType rides along so the worker can log and route without a
// ledger read; the job row stays the source of truth.
type Message struct {
	JobID       string `json:"jobId"`
	RequestID   string `json:"requestId"`
	ContentType string `json:"contentType,omitempty"`
	EnqueuedAt  string `json:"enqueuedAt"`
	Version     int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
