package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"seminar-hub/feed"
	"seminar-hub/lifecycle"
	"seminar-hub/pkg/seminar"
	"seminar-hub/token"
)

type fakeLifecycle struct {
	subscribeRes lifecycle.SubscribeResult
	subscribeErr error
	confirmRes   lifecycle.ConfirmResult
	confirmErr   error
	unsubRes     lifecycle.UnsubscribeResult
	unsubErr     error
}

func (f *fakeLifecycle) Subscribe(_ context.Context, _ string) (lifecycle.SubscribeResult, error) {
	return f.subscribeRes, f.subscribeErr
}

func (f *fakeLifecycle) Confirm(_ context.Context, _ string) (lifecycle.ConfirmResult, error) {
	return f.confirmRes, f.confirmErr
}

func (f *fakeLifecycle) Unsubscribe(_ context.Context, _ string) (lifecycle.UnsubscribeResult, error) {
	return f.unsubRes, f.unsubErr
}

type confirmation struct {
	email string
	token string
}

type fakeEmailer struct {
	confirmations []confirmation
	err           error
}

func (f *fakeEmailer) SendConfirmation(_ context.Context, email, confirmToken string) error {
	if f.err != nil {
		return f.err
	}
	f.confirmations = append(f.confirmations, confirmation{email: email, token: confirmToken})
	return nil
}

type fakeBatch struct {
	runs         int
	runErr       error
	immediateTo  []string
	immediateOK  bool
	immediateErr error
	stored       int
	skipped      int
	scrapeErr    error
}

func (f *fakeBatch) Run(_ context.Context) error {
	f.runs++
	return f.runErr
}

func (f *fakeBatch) SendImmediate(_ context.Context, email string) (bool, error) {
	f.immediateTo = append(f.immediateTo, email)
	return f.immediateOK, f.immediateErr
}

func (f *fakeBatch) Scrape(_ context.Context) (int, int, error) {
	return f.stored, f.skipped, f.scrapeErr
}

type fakeFeeds struct {
	body []byte
	err  error
	keys []string
}

func (f *fakeFeeds) Render(_ context.Context, seriesKey string) ([]byte, error) {
	f.keys = append(f.keys, seriesKey)
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

type testServer struct {
	srv       *Server
	lifecycle *fakeLifecycle
	emailer   *fakeEmailer
	batch     *fakeBatch
	feeds     *fakeFeeds
}

func newTestServer() *testServer {
	lc := &fakeLifecycle{}
	em := &fakeEmailer{}
	ba := &fakeBatch{}
	fe := &fakeFeeds{body: []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")}
	srv := New(&Config{
		Lifecycle: lc,
		Emailer:   em,
		Batch:     ba,
		Feeds:     fe,
		Series:    map[string]string{"micro": "Microeconomics", "trade-urban": "Trade and Urban"},
		Logger:    slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	return &testServer{srv: srv, lifecycle: lc, emailer: em, batch: ba, feeds: fe}
}

func (ts *testServer) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, r)
	return w
}

func postForm(path string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestRootPage(t *testing.T) {
	ts := newTestServer()
	w := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`action="/subscribe"`,
		`/calendar/micro.ics`,
		`/calendar/trade-urban.ics`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("index page missing %q", want)
		}
	}
	if got := w.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("no Content-Security-Policy header on HTML response")
	}

	if w := ts.do(httptest.NewRequest(http.MethodPost, "/", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST / status = %d, want 405", w.Code)
	}
	if w := ts.do(httptest.NewRequest(http.MethodGet, "/nosuchpage", nil)); w.Code != http.StatusNotFound {
		t.Errorf("GET /nosuchpage status = %d, want 404", w.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer()
	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != `{"status":"healthy"}` {
		t.Errorf("body = %q", got)
	}
	if w := ts.do(httptest.NewRequest(http.MethodPost, "/health", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health status = %d, want 405", w.Code)
	}
}

func TestSubscribe(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.subscribeRes = lifecycle.SubscribeResult{
		Email:        "ada@example.org",
		Outcome:      lifecycle.OutcomeCreated,
		ConfirmToken: "tok-123",
	}

	w := ts.do(postForm("/subscribe", url.Values{"email": {"Ada@Example.org"}}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ada@example.org") {
		t.Error("check-inbox page does not name the address")
	}

	if len(ts.emailer.confirmations) != 1 {
		t.Fatalf("got %d confirmation mails, want 1", len(ts.emailer.confirmations))
	}
	sent := ts.emailer.confirmations[0]
	if sent.email != "ada@example.org" || sent.token != "tok-123" {
		t.Errorf("confirmation = %+v", sent)
	}
}

func TestSubscribeAlreadyActiveSkipsConfirmation(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.subscribeRes = lifecycle.SubscribeResult{
		Email:   "ada@example.org",
		Outcome: lifecycle.OutcomeAlreadyActive,
	}

	w := ts.do(postForm("/subscribe", url.Values{"email": {"ada@example.org"}}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (the page never reveals membership)", w.Code)
	}
	if len(ts.emailer.confirmations) != 0 {
		t.Errorf("got %d confirmation mails for an active address, want 0", len(ts.emailer.confirmations))
	}
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	ts := newTestServer()

	if w := ts.do(postForm("/subscribe", url.Values{"email": {"not-an-email"}})); w.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d, want 400", w.Code)
	}
	if w := ts.do(httptest.NewRequest(http.MethodGet, "/subscribe", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /subscribe status = %d, want 405", w.Code)
	}
}

func TestSubscribeRateLimit(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.subscribeRes = lifecycle.SubscribeResult{Email: "ada@example.org", Outcome: lifecycle.OutcomePending}

	var last int
	for i := 0; i < 11; i++ {
		r := postForm("/subscribe", url.Values{"email": {"ada@example.org"}})
		r.RemoteAddr = "203.0.113.7:4321"
		last = ts.do(r).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th request status = %d, want 429", last)
	}

	// A different client is unaffected.
	r := postForm("/subscribe", url.Values{"email": {"ada@example.org"}})
	r.RemoteAddr = "198.51.100.9:4321"
	if w := ts.do(r); w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
}

func TestConfirmActivatesAndSendsImmediateDigest(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.confirmRes = lifecycle.ConfirmResult{Email: "ada@example.org", Activated: true}
	ts.batch.immediateOK = true

	w := ts.do(httptest.NewRequest(http.MethodGet, "/confirm?token=tok-123", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(ts.batch.immediateTo) != 1 || ts.batch.immediateTo[0] != "ada@example.org" {
		t.Errorf("immediate digest sent to %v", ts.batch.immediateTo)
	}
	if !strings.Contains(w.Body.String(), "already on its way") {
		t.Error("confirmation page does not mention the digest that was sent")
	}
}

func TestConfirmEmptyWeek(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.confirmRes = lifecycle.ConfirmResult{Email: "ada@example.org", Activated: true}
	ts.batch.immediateOK = false

	w := ts.do(httptest.NewRequest(http.MethodGet, "/confirm?token=tok-123", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Monday morning") {
		t.Error("confirmation page does not point at the next weekly digest")
	}
}

func TestConfirmRepeatSkipsImmediateDigest(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.confirmRes = lifecycle.ConfirmResult{Email: "ada@example.org", Activated: false}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/confirm?token=tok-123", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(ts.batch.immediateTo) != 0 {
		t.Errorf("immediate digest sent on a repeat confirm: %v", ts.batch.immediateTo)
	}
}

func TestConfirmRejectsBadLinks(t *testing.T) {
	rejections := []struct {
		name string
		err  error
	}{
		{"tampered token", token.ErrInvalidSignature},
		{"expired token", token.ErrExpired},
		{"wrong purpose", fmt.Errorf("%w: token issued for %q", token.ErrPurposeMismatch, "unsubscribe")},
		{"unknown address", fmt.Errorf("subscriber: %w", seminar.ErrNotFound)},
		{"unsubscribed wins", fmt.Errorf("confirm: %w", lifecycle.ErrInvalidTransition)},
	}

	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			ts.lifecycle.confirmErr = tt.err

			w := ts.do(httptest.NewRequest(http.MethodGet, "/confirm?token=bad", nil))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), "no longer works") {
				t.Error("rejection page not rendered")
			}
			if len(ts.batch.immediateTo) != 0 {
				t.Error("immediate digest attempted after a rejected link")
			}
		})
	}

	t.Run("missing token", func(t *testing.T) {
		ts := newTestServer()
		if w := ts.do(httptest.NewRequest(http.MethodGet, "/confirm", nil)); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		ts := newTestServer()
		ts.lifecycle.confirmErr = errors.New("connection refused")
		if w := ts.do(httptest.NewRequest(http.MethodGet, "/confirm?token=tok", nil)); w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.unsubRes = lifecycle.UnsubscribeResult{Email: "ada@example.org", Changed: true}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/unsubscribe?token=tok-123", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ada@example.org") {
		t.Error("unsubscribed page does not name the address")
	}

	ts.lifecycle.unsubErr = token.ErrExpired
	if w := ts.do(httptest.NewRequest(http.MethodGet, "/unsubscribe?token=old", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("expired link status = %d, want 400", w.Code)
	}
}

func TestCalendarFeed(t *testing.T) {
	ts := newTestServer()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/calendar/micro.ics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "text/calendar; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); got != `inline; filename="micro.ics"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(w.Body.String(), "BEGIN:VCALENDAR") {
		t.Error("response does not carry the rendered calendar")
	}
	if len(ts.feeds.keys) != 1 || ts.feeds.keys[0] != "micro" {
		t.Errorf("rendered keys = %v, want [micro]", ts.feeds.keys)
	}
}

func TestCalendarNotFound(t *testing.T) {
	ts := newTestServer()
	ts.feeds.err = fmt.Errorf("%w: %q", feed.ErrUnknownSeries, "nosuch")

	if w := ts.do(httptest.NewRequest(http.MethodGet, "/calendar/nosuch.ics", nil)); w.Code != http.StatusNotFound {
		t.Errorf("unknown series status = %d, want 404", w.Code)
	}
	if w := ts.do(httptest.NewRequest(http.MethodGet, "/calendar/micro", nil)); w.Code != http.StatusNotFound {
		t.Errorf("missing .ics suffix status = %d, want 404", w.Code)
	}
	if w := ts.do(httptest.NewRequest(http.MethodGet, "/calendar/a/b.ics", nil)); w.Code != http.StatusNotFound {
		t.Errorf("nested path status = %d, want 404", w.Code)
	}
}

func TestDigestEndpoint(t *testing.T) {
	ts := newTestServer()

	w := ts.do(httptest.NewRequest(http.MethodPost, "/digestz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ts.batch.runs != 1 {
		t.Errorf("batch ran %d times, want 1", ts.batch.runs)
	}
	if got := w.Body.String(); got != `{"status":"completed"}` {
		t.Errorf("body = %q", got)
	}

	if w := ts.do(httptest.NewRequest(http.MethodGet, "/digestz", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /digestz status = %d, want 405", w.Code)
	}

	ts.batch.runErr = errors.New("source unreachable")
	if w := ts.do(httptest.NewRequest(http.MethodPost, "/digestz", nil)); w.Code != http.StatusInternalServerError {
		t.Errorf("failed run status = %d, want 500", w.Code)
	}
}

func TestScrapeEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.batch.stored = 12
	ts.batch.skipped = 3

	w := ts.do(httptest.NewRequest(http.MethodPost, "/scrapez", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != `{"status":"completed","stored":12,"skipped":3}` {
		t.Errorf("body = %q", got)
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{"valid email", "user@example.com", true},
		{"valid email with subdomain", "user@mail.example.com", true},
		{"valid email with plus", "user+tag@example.com", true},
		{"invalid - no @", "userexample.com", false},
		{"invalid - no domain", "user@", false},
		{"invalid - too short", "a@b", false},
		{"invalid - spaces", "user @example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidEmail(tt.email); got != tt.want {
				t.Errorf("isValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:4321"
	if got := clientIP(r); got != "203.0.113.7" {
		t.Errorf("clientIP = %q, want RemoteAddr host", got)
	}

	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	if got := clientIP(r); got != "198.51.100.9" {
		t.Errorf("clientIP = %q, want first forwarded hop", got)
	}
}
