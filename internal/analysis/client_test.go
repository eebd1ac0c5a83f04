package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewHTTPClient(srv.URL, "test-key", 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return client
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestAnalyzeSendsBlockingRequestWithMedia(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(chatResponse{Answer: "ok", ConversationID: "conv-9"})
	})

	answer, err := client.Analyze(context.Background(), Request{
		UserID:    "user-1",
		MediaURL:  "https://signed.example/clip.mp4",
		MediaType: "video",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if answer.Text != "ok" || answer.ConversationID != "conv-9" {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if got.ResponseMode != "blocking" {
		t.Fatalf("ResponseMode = %q, want blocking", got.ResponseMode)
	}
	if got.Query == "" {
		t.Fatal("expected default query")
	}
	if len(got.Files) != 1 || got.Files[0].TransferMethod != "remote_url" {
		t.Fatalf("unexpected files: %+v", got.Files)
	}
}

func TestAnalyzeNormalizesUsageStrings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"answer": "ok",
			"metadata": map[string]any{
				"usage": map[string]any{
					"total_tokens": "123",
					"total_price":  "0.0045",
					"currency":     "USD",
				},
			},
		})
	})

	answer, err := client.Analyze(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	usage, ok := answer.Meta["usage"].(map[string]any)
	if !ok {
		t.Fatalf("usage missing: %+v", answer.Meta)
	}
	if usage["total_tokens"] != float64(123) {
		t.Fatalf("total_tokens = %v (%T), want 123", usage["total_tokens"], usage["total_tokens"])
	}
	if usage["currency"] != "USD" {
		t.Fatalf("currency = %v, want USD", usage["currency"])
	}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(chatResponse{Answer: "recovered"})
	})

	retrying := NewRetryingClient(client, DefaultPolicy())
	retrying.sleep = noSleep

	answer, err := retrying.Analyze(context.Background(), Request{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if answer.Text != "recovered" {
		t.Fatalf("Text = %q, want recovered", answer.Text)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})

	retrying := NewRetryingClient(client, DefaultPolicy())
	retrying.sleep = noSleep

	_, err := retrying.Analyze(context.Background(), Request{UserID: "user-1"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want 400", pe.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryExhaustionReturnsOverloaded(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	retrying := NewRetryingClient(client, DefaultPolicy())
	retrying.sleep = noSleep

	_, err := retrying.Analyze(context.Background(), Request{UserID: "user-1"})
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

type clientFunc func(ctx context.Context, req Request) (Answer, error)

func (f clientFunc) Analyze(ctx context.Context, req Request) (Answer, error) {
	return f(ctx, req)
}

func TestRetryExpiredContextIsNotOverloaded(t *testing.T) {
	calls := 0
	inner := clientFunc(func(ctx context.Context, req Request) (Answer, error) {
		calls++
		<-ctx.Done()
		return Answer{}, ctx.Err()
	})

	retrying := NewRetryingClient(inner, DefaultPolicy())
	retrying.sleep = noSleep

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := retrying.Analyze(ctx, Request{UserID: "user-1"})
	if errors.Is(err, ErrOverloaded) {
		t.Fatalf("deadline expiry surfaced as overload: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &ProviderError{StatusCode: 429}, true},
		{"503", &ProviderError{StatusCode: 503}, true},
		{"unavailable status", &ProviderError{StatusCode: 500, Status: "500 UNAVAILABLE"}, true},
		{"overload body", &ProviderError{StatusCode: 500, Body: `{"message":"model Overloaded"}`}, true},
		{"plain 500", &ProviderError{StatusCode: 500, Status: "500 Internal Server Error"}, false},
		{"400", &ProviderError{StatusCode: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestNormalizeUsageRecursesNestedMaps(t *testing.T) {
	in := map[string]any{
		"total_tokens": "42",
		"detail": map[string]any{
			"prompt_price": "0.001",
			"model":        "x",
		},
		"empty": "",
	}
	out, ok := NormalizeUsage(in).(map[string]any)
	if !ok {
		t.Fatalf("NormalizeUsage returned %T", NormalizeUsage(in))
	}
	if out["total_tokens"] != float64(42) {
		t.Fatalf("total_tokens = %v", out["total_tokens"])
	}
	detail := out["detail"].(map[string]any)
	if detail["prompt_price"] != float64(0.001) {
		t.Fatalf("prompt_price = %v", detail["prompt_price"])
	}
	if detail["model"] != "x" {
		t.Fatalf("model = %v", detail["model"])
	}
	if out["empty"] != "" {
		t.Fatalf("empty = %v", out["empty"])
	}
}
