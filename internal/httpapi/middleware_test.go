package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitExceeded(t *testing.T) {
	handler := RequestID(RateLimit(NewMemoryLimiter(1, 1), zap.NewNop())(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected Retry-After %q", rr2.Header().Get("Retry-After"))
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" || body["request_id"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}

	// Another client has its own bucket.
	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected separate bucket, got %d", rr3.Code)
	}
}

func TestMemoryLimiterRefillsAndSweeps(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(1, 2)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _, _ := l.Allow(ctx, "a"); !ok {
		t.Fatal("expected first hit allowed")
	}
	ok, retry, _ := l.Allow(ctx, "a")
	if ok || retry != 500*time.Millisecond {
		t.Fatalf("expected denial with 500ms retry, got ok=%v retry=%v", ok, retry)
	}

	now = now.Add(500 * time.Millisecond)
	if ok, _, _ := l.Allow(ctx, "a"); !ok {
		t.Fatal("expected refill after 500ms")
	}

	now = now.Add(10 * time.Minute)
	_, _, _ = l.Allow(ctx, "b")
	if _, kept := l.buckets["a"]; kept {
		t.Fatal("expected idle bucket to be swept")
	}
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, 2, 1, time.Second)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok, _, err := l.Allow(ctx, "10.0.0.1"); err != nil || !ok {
			t.Fatalf("hit %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, retry, err := l.Allow(ctx, "10.0.0.1")
	if err != nil || ok {
		t.Fatalf("expected third hit denied, ok=%v err=%v", ok, err)
	}
	if retry <= 0 || retry > time.Second {
		t.Fatalf("unexpected retry %v", retry)
	}
	if !mr.Exists("restgen:ratelimit:10.0.0.1") {
		t.Fatal("expected window key in redis")
	}

	mr.FastForward(time.Second)
	if ok, _, err := l.Allow(ctx, "10.0.0.1"); err != nil || !ok {
		t.Fatalf("expected new window, ok=%v err=%v", ok, err)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	handler := RateLimit(brokenLimiter{}, zap.New(core))(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected request through, got %d", rr.Code)
	}
	if logs.FilterMessage("rate limiter unavailable").Len() != 1 {
		t.Fatal("expected limiter failure to be logged")
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestID(LoggingJSON(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.Header.Set(headerRequestID, "req-42")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"request_id", "method", "path", "route", "status", "duration_ms", "remote_ip", "user_agent"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", fields["status"])
	}
	if fields["request_id"] != "req-42" || rr.Header().Get(headerRequestID) != "req-42" {
		t.Fatalf("request id not propagated: %v / %q", fields["request_id"], rr.Header().Get(headerRequestID))
	}
}

func TestRequestIDReplacesOversizedHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerRequestID, string(make([]byte, maxRequestIDLength+1)))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/posts", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Origin", "https://evil.test")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

func TestBearerExtraction(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc":   true,
		"bearer abc":   true,
		"Basic abc":    false,
		"Bearer   ":    false,
		"":             false,
		"Bearerabc":    false,
	}
	for header, ok := range cases {
		_, err := extractBearerToken(header)
		if (err == nil) != ok {
			t.Fatalf("%q: expected ok=%v, got err=%v", header, ok, err)
		}
	}
}

func TestRecoverPanicRendersStorageFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := &API{log: zap.New(core)}
	handler := RequestID(LoggingJSON(a.log)(a.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("index out of range")
	}))))

	req := httptest.NewRequest(http.MethodGet, "/api/blogs", nil)
	req.Header.Set(headerRequestID, "req-panic")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Kind != "storage_failure" || body.RequestID != "req-panic" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if logs.FilterMessage("handler panic").Len() != 1 {
		t.Fatal("expected panic to be logged")
	}
	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 || entries[0].ContextMap()["status"] != int64(http.StatusInternalServerError) {
		t.Fatalf("expected access log with status 500, got %v", entries)
	}
}

func TestRecoverPanicKeepsAbortHandler(t *testing.T) {
	a := &API{log: zap.NewNop()}
	handler := a.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
