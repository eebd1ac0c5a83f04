package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"coach-backend/internal/delivery"
	"coach-backend/internal/guard"
	"coach-backend/internal/jobs"
	"coach-backend/internal/queue"
)

const testUserID = "U0123456789abcdef0123456789abcdef"

type fakeAdmission struct {
	result guard.Result
	calls  int
}

func (f *fakeAdmission) Check(ctx context.Context, userID, contentType string) guard.Result {
	f.calls++
	return f.result
}

type fakeSender struct {
	calls    int
	lastText string
}

func (f *fakeSender) Send(ctx context.Context, replyToken, userID, text string) (string, error) {
	f.calls++
	f.lastText = text
	return "push", nil
}

type fakeMessenger struct {
	replyCalls int
	contentErr error
	lastReply  string
	order      []string
}

func (f *fakeMessenger) Reply(ctx context.Context, replyToken, text string) error {
	f.replyCalls++
	f.lastReply = text
	f.order = append(f.order, "reply")
	return nil
}

func (f *fakeMessenger) Content(ctx context.Context, messageID string) (io.ReadCloser, string, error) {
	f.order = append(f.order, "content")
	if f.contentErr != nil {
		return nil, "", f.contentErr
	}
	return io.NopCloser(strings.NewReader("binary media")), "video/mp4", nil
}

type fakeStore struct {
	saves int
}

func (f *fakeStore) Save(ctx context.Context, userID, fileName string, r io.Reader) (string, int64, string, error) {
	f.saves++
	io.Copy(io.Discard, r)
	return "hashed/" + fileName, 12, "video/mp4", nil
}

type fakeQueue struct {
	sent []queue.Message
	err  error
}

func (f *fakeQueue) Send(ctx context.Context, msg queue.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fixture struct {
	admission *fakeAdmission
	sender    *fakeSender
	messenger *fakeMessenger
	store     *fakeStore
	repo      *jobs.MemoryRepo
	queue     *fakeQueue
	handler   *Handler
}

func newFixture(secret string) *fixture {
	f := &fixture{
		admission: &fakeAdmission{result: guard.Result{Allowed: true}},
		sender:    &fakeSender{},
		messenger: &fakeMessenger{},
		store:     &fakeStore{},
		repo:      jobs.NewMemoryRepo(),
		queue:     &fakeQueue{},
	}
	f.handler = NewHandler(HandlerOptions{
		Guard:         f.admission,
		Channel:       f.sender,
		Messenger:     f.messenger,
		Store:         f.store,
		Repo:          f.repo,
		Queue:         f.queue,
		ChannelSecret: secret,
	})
	return f
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, h *Handler, payload Payload, secret string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if secret != "" {
		c.Request.Header.Set("X-Line-Signature", sign(body, secret))
	}
	h.Handle(c)
	return w
}

func videoPayload() Payload {
	return Payload{Events: []Event{{
		Type:       "message",
		ReplyToken: "reply-token-1",
		Source:     Source{Type: "user", UserID: testUserID},
		Message:    Message{ID: "msg-1", Type: "video"},
	}}}
}

func TestHandleVideoMessageEnqueuesJob(t *testing.T) {
	f := newFixture("secret")
	w := postWebhook(t, f.handler, videoPayload(), "secret")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(f.queue.sent) != 1 {
		t.Fatalf("queued %d messages, want 1", len(f.queue.sent))
	}
	if f.queue.sent[0].ContentType != "video" {
		t.Fatalf("queued ContentType = %q, want video", f.queue.sent[0].ContentType)
	}
	jobID := f.queue.sent[0].JobID
	job, err := f.repo.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job not created: %v", err)
	}
	if job.Status != jobs.StatusPending {
		t.Fatalf("Status = %q, want pending", job.Status)
	}
	if job.ContentType != "video" {
		t.Fatalf("ContentType = %q", job.ContentType)
	}
	if job.StorageKey == "" || job.Fingerprint == "" {
		t.Fatalf("media fields missing: %+v", job)
	}
	if f.store.saves != 1 {
		t.Fatalf("store saves = %d, want 1", f.store.saves)
	}
	if f.messenger.replyCalls != 1 || f.messenger.lastReply != AckMessage {
		t.Fatalf("ack not sent: calls=%d text=%q", f.messenger.replyCalls, f.messenger.lastReply)
	}
}

func TestHandleAcksBeforeMediaDownload(t *testing.T) {
	f := newFixture("secret")
	w := postWebhook(t, f.handler, videoPayload(), "secret")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(f.messenger.order) < 2 || f.messenger.order[0] != "reply" || f.messenger.order[1] != "content" {
		t.Fatalf("call order = %v, want ack reply before content download", f.messenger.order)
	}
}

func TestHandleContentFailureStillAcks(t *testing.T) {
	f := newFixture("secret")
	f.messenger.contentErr = errors.New("download failed")
	postWebhook(t, f.handler, videoPayload(), "secret")

	if f.messenger.replyCalls != 1 || f.messenger.lastReply != AckMessage {
		t.Fatalf("ack not sent before failing intake: calls=%d", f.messenger.replyCalls)
	}
	if f.sender.calls != 1 {
		t.Fatalf("error sends = %d, want 1", f.sender.calls)
	}
}

func TestHandleTextMessageSkipsMediaAndAck(t *testing.T) {
	f := newFixture("secret")
	payload := Payload{Events: []Event{{
		Type:       "message",
		ReplyToken: "reply-token-1",
		Source:     Source{Type: "user", UserID: testUserID},
		Message:    Message{ID: "msg-2", Type: "text", Text: "今日の調子はどう？"},
	}}}
	w := postWebhook(t, f.handler, payload, "secret")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(f.queue.sent) != 1 {
		t.Fatalf("queued %d messages, want 1", len(f.queue.sent))
	}
	job, _ := f.repo.GetByID(context.Background(), f.queue.sent[0].JobID)
	if job.InputText != "今日の調子はどう？" {
		t.Fatalf("InputText = %q", job.InputText)
	}
	if f.store.saves != 0 {
		t.Fatal("media stored for text message")
	}
	if f.messenger.replyCalls != 0 {
		t.Fatal("ack sent for text message")
	}
}

func TestHandleSentinelTokenSkipsProcessing(t *testing.T) {
	f := newFixture("secret")
	payload := videoPayload()
	payload.Events[0].ReplyToken = delivery.SentinelReplyToken
	// Verification pings are accepted without a signature.
	w := postWebhook(t, f.handler, payload, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if f.admission.calls != 0 || len(f.queue.sent) != 0 {
		t.Fatal("sentinel event was processed")
	}
}

func TestHandleRejectsBadSignature(t *testing.T) {
	f := newFixture("secret")
	gin.SetMode(gin.TestMode)
	body, _ := json.Marshal(videoPayload())
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	c.Request.Header.Set("X-Line-Signature", "bogus")
	f.handler.Handle(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if len(f.queue.sent) != 0 {
		t.Fatal("job enqueued despite bad signature")
	}
}

func TestHandleDenialNotifiesUserWithoutJob(t *testing.T) {
	f := newFixture("secret")
	f.admission.result = guard.Result{Allowed: false, Denial: &guard.Denial{
		Reason:     guard.ReasonQuota,
		MessageJA:  guard.QuotaReachedJA,
		MessageEN:  guard.QuotaReachedEN,
		StatusCode: 429,
	}}
	w := postWebhook(t, f.handler, videoPayload(), "secret")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(f.queue.sent) != 0 {
		t.Fatal("denied request was enqueued")
	}
	if f.sender.calls != 1 {
		t.Fatalf("denial sends = %d, want 1", f.sender.calls)
	}
	if !strings.Contains(f.sender.lastText, guard.QuotaReachedJA) {
		t.Fatalf("denial text = %q", f.sender.lastText)
	}
	if !strings.Contains(f.sender.lastText, "\n\n") {
		t.Fatal("denial text not bilingual")
	}
}

func TestHandleContentFailureNotifiesUser(t *testing.T) {
	f := newFixture("secret")
	f.messenger.contentErr = errors.New("download failed")
	w := postWebhook(t, f.handler, videoPayload(), "secret")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(f.queue.sent) != 0 {
		t.Fatal("job enqueued despite intake failure")
	}
	if f.sender.calls != 1 {
		t.Fatalf("error sends = %d, want 1", f.sender.calls)
	}
}

func TestHandleEnqueueFailureMarksJobError(t *testing.T) {
	f := newFixture("secret")
	f.queue.err = errors.New("sqs down")
	postWebhook(t, f.handler, videoPayload(), "secret")

	listed, err := f.repo.ListByUser(context.Background(), testUserID, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("jobs = %d, want 1", len(listed))
	}
	if listed[0].Status != jobs.StatusError {
		t.Fatalf("Status = %q, want error", listed[0].Status)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	good := sign(body, "secret")

	if !VerifySignature(body, good, "secret") {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(body, good, "other-secret") {
		t.Fatal("signature accepted with wrong secret")
	}
	if VerifySignature(body, "", "secret") {
		t.Fatal("empty signature accepted")
	}
	if VerifySignature(body, good, "") {
		t.Fatal("empty secret accepted")
	}
}
