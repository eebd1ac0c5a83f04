package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// SentinelReplyToken is sent by the platform on webhook verification
// events. It must never be used to reply.
const SentinelReplyToken = "00000000000000000000000000000000"

var userIDPattern = regexp.MustCompile(`^U[a-fA-F0-9]{32}$`)

// IsLikelyValidUserID reports whether id looks like a real platform
// user ID. Push delivery is only attempted for IDs that match.
func IsLikelyValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// VerifyReplyToken reports whether the token is usable for a reply.
func VerifyReplyToken(token string) bool {
	return token != "" && token != SentinelReplyToken
}

// Client talks to the messaging platform's bot API.
type Client struct {
	apiBase    string
	dataBase   string
	httpClient *http.Client
}

// Options configures a Client.
type Options struct {
	// APIBase serves message endpoints, DataBase serves content
	// downloads. They are separate hosts on the real platform.
	APIBase  string
	DataBase string
	// AccessToken is a long-lived channel token. When empty, tokens
	// are issued via the client-credentials flow below.
	AccessToken   string
	ChannelID     string
	ChannelSecret string
	TokenURL      string
	Timeout       time.Duration
}

// NewClient constructs a platform client. With a static access token it
// sends that token on every request; otherwise it wraps the transport
// in an oauth2 client-credentials token source that refreshes itself.
func NewClient(opts Options) (*Client, error) {
	if opts.APIBase == "" {
		return nil, fmt.Errorf("api base is required")
	}
	if opts.DataBase == "" {
		opts.DataBase = opts.APIBase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var httpClient *http.Client
	switch {
	case opts.AccessToken != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken})
		httpClient = oauth2.NewClient(context.Background(), src)
	case opts.ChannelID != "" && opts.ChannelSecret != "":
		cfg := clientcredentials.Config{
			ClientID:     opts.ChannelID,
			ClientSecret: opts.ChannelSecret,
			TokenURL:     opts.TokenURL,
		}
		httpClient = cfg.Client(context.Background())
	default:
		return nil, fmt.Errorf("access token or channel credentials are required")
	}
	httpClient.Timeout = timeout

	return &Client{
		apiBase:    strings.TrimRight(opts.APIBase, "/"),
		dataBase:   strings.TrimRight(opts.DataBase, "/"),
		httpClient: httpClient,
	}, nil
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// Reply answers an event using its one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	if !VerifyReplyToken(replyToken) {
		return fmt.Errorf("reply token unusable")
	}
	body := replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, c.apiBase+"/v2/bot/message/reply", body)
}

// Push sends a message directly to a user.
func (c *Client) Push(ctx context.Context, userID, text string) error {
	body := pushRequest{
		To:       userID,
		Messages: []textMessage{{Type: "text", Text: text}},
	}
	return c.post(ctx, c.apiBase+"/v2/bot/message/push", body)
}

// Content downloads the binary payload of a received media message.
// The caller owns the returned reader.
func (c *Client) Content(ctx context.Context, messageID string) (io.ReadCloser, string, error) {
	url := fmt.Sprintf("%s/v2/bot/message/%s/content", c.dataBase, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("content request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, "", fmt.Errorf("content error %d: %s", resp.StatusCode, string(raw))
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("message request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("message error %d %s: %s", resp.StatusCode, resp.Status, string(raw))
	}
	return nil
}
