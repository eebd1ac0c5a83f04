package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultQuery is sent when the caller supplies no query of its own.
const DefaultQuery = "この動画を解析し、要約と重要イベントを返してください。"

// ProviderError carries the provider's HTTP failure details so the
// retry layer can classify it.
type ProviderError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// HTTPClient calls a Dify-compatible chat-messages endpoint in blocking
// mode. Each call is bounded by its own timeout on top of ctx.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPClient constructs a provider client.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) (*HTTPClient, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("provider endpoint is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("provider api key is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type chatFile struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url"`
}

type chatRequest struct {
	Query            string            `json:"query"`
	Inputs           map[string]string `json:"inputs"`
	ResponseMode     string            `json:"response_mode"`
	User             string            `json:"user"`
	ConversationID   string            `json:"conversation_id"`
	Files            []chatFile        `json:"files,omitempty"`
	AutoGenerateName bool              `json:"auto_generate_name"`
}

type chatResponse struct {
	Answer         string         `json:"answer"`
	ConversationID string         `json:"conversation_id"`
	Metadata       map[string]any `json:"metadata"`
}

func (c *HTTPClient) Analyze(ctx context.Context, req Request) (Answer, error) {
	query := req.Query
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]string{}
	}

	body := chatRequest{
		Query:            query,
		Inputs:           inputs,
		ResponseMode:     "blocking",
		User:             req.UserID,
		ConversationID:   req.ConversationID,
		AutoGenerateName: true,
	}
	if req.MediaURL != "" {
		body.Files = []chatFile{{
			Type:           req.MediaType,
			TransferMethod: "remote_url",
			URL:            req.MediaURL,
		}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Answer{}, fmt.Errorf("encode provider request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Answer{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Answer{}, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Answer{}, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Answer{}, &ProviderError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Answer{}, fmt.Errorf("parse provider response: %w", err)
	}

	meta := parsed.Metadata
	if usage, ok := meta["usage"]; ok {
		meta["usage"] = NormalizeUsage(usage)
	}

	conversationID := parsed.ConversationID
	if conversationID == "" {
		conversationID = req.ConversationID
	}

	return Answer{
		Text:           strings.TrimSpace(parsed.Answer),
		ConversationID: conversationID,
		Meta:           meta,
	}, nil
}

var _ Client = (*HTTPClient)(nil)
