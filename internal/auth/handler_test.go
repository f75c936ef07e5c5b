package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arena-serverless/internal/observability"
)

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t)
	handler := NewHandler(svc, observability.NewLoggerTo(io.Discard, "error"))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", handler.Login)
	mux.HandleFunc("POST /verify", handler.Verify)
	mux.Handle("POST /protected", Middleware(svc, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	return mux, svc
}

func postLogin(t *testing.T, h http.Handler, ip, body string) (*httptest.ResponseRecorder, loginResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestLogin_LockoutScenario(t *testing.T) {
	router, _ := newTestRouter(t)

	for i := 1; i <= 4; i++ {
		rec, resp := postLogin(t, router, "1.2.3.4", `{"password":"nope"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
		want := "Invalid password. " + string(rune('0'+5-i)) + " attempts remaining."
		if resp.Success || resp.Message != want {
			t.Fatalf("attempt %d: unexpected response %+v", i, resp)
		}
	}

	rec, resp := postLogin(t, router, "1.2.3.4", `{"password":"nope"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 5th failure, got %d", rec.Code)
	}
	if !resp.Locked || resp.RemainingMinutes != 60 {
		t.Fatalf("expected locked with 60 minutes, got %+v", resp)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	rec, resp = postLogin(t, router, "1.2.3.4", `{"password":"s3cr3t!!"}`)
	if rec.Code != http.StatusTooManyRequests || !resp.Locked {
		t.Fatalf("expected 429 locked for correct password, got %d %+v", rec.Code, resp)
	}
	if resp.Token != "" {
		t.Fatal("locked response must not carry a token")
	}
}

func TestLogin_SuccessAndVerify(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, resp := postLogin(t, router, "9.9.9.9", `{"password":"s3cr3t!!"}`)
	if rec.Code != http.StatusOK || !resp.Success || resp.Token == "" {
		t.Fatalf("expected successful login, got %d %+v", rec.Code, resp)
	}
	if resp.ExpiresAt != testNow.Add(24*time.Hour).UnixMilli() {
		t.Fatalf("unexpected expiresAt %d", resp.ExpiresAt)
	}

	cases := []struct {
		name   string
		header string
		body   string
		valid  bool
	}{
		{name: "bearer header", header: "Bearer " + resp.Token, valid: true},
		{name: "json body", body: `{"token":"` + resp.Token + `"}`, valid: true},
		{name: "garbage", header: "Bearer garbage", valid: false},
		{name: "nothing", valid: false},
		{name: "broken json", body: `{"token":`, valid: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(tc.body))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var out verifyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Valid != tc.valid {
				t.Fatalf("expected valid=%v, got %+v", tc.valid, out)
			}
			if tc.valid && out.ExpiresAt != resp.ExpiresAt {
				t.Fatalf("expected expiresAt %d, got %d", resp.ExpiresAt, out.ExpiresAt)
			}
		})
	}
}

func TestLogin_MissingPassword(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, body := range []string{`{}`, `{"password":""}`, `not json`} {
		rec, resp := postLogin(t, router, "1.2.3.4", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		if resp.Message != "Password required" {
			t.Fatalf("body %q: unexpected message %q", body, resp.Message)
		}
	}
}

func TestMiddleware(t *testing.T) {
	router, svc := newTestRouter(t)
	issued, err := svc.codec.Issue(testNow, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := map[string]struct {
		header string
		status int
	}{
		"missing":      {header: "", status: http.StatusUnauthorized},
		"wrong scheme": {header: "Basic " + issued.Token, status: http.StatusUnauthorized},
		"invalid":      {header: "Bearer abc", status: http.StatusUnauthorized},
		"valid":        {header: "Bearer " + issued.Token, status: http.StatusNoContent},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.status == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), `"Unauthorized"`) {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestRequestLimiter(t *testing.T) {
	limiter := NewRequestLimiter(2, time.Minute)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	login := limiter.Limit("login", "Too many login requests", ok)
	like := limiter.Limit("like", "", ok)

	send := func(h http.Handler, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send(login, "1.2.3.4"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := send(login, "1.2.3.4")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if !strings.Contains(rec.Body.String(), "Too many login requests") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec := send(login, "5.6.7.8"); rec.Code != http.StatusOK {
		t.Fatalf("other ip should pass, got %d", rec.Code)
	}

	// Scopes keep separate budgets for the same client.
	if rec := send(like, "1.2.3.4"); rec.Code != http.StatusOK {
		t.Fatalf("like scope should be independent of login, got %d", rec.Code)
	}
	send(like, "1.2.3.4")
	rec = send(like, "1.2.3.4")
	if rec.Code != http.StatusTooManyRequests || !strings.Contains(rec.Body.String(), "Too many requests") {
		t.Fatalf("expected default 429 message, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequestLimiter_WindowSlides(t *testing.T) {
	limiter := NewRequestLimiter(1, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if _, ok := limiter.take("login|1.2.3.4"); !ok {
		t.Fatal("first hit should pass")
	}
	now = now.Add(30 * time.Second)
	wait, ok := limiter.take("login|1.2.3.4")
	if ok {
		t.Fatal("second hit inside the window should be rejected")
	}
	if wait != 30*time.Second {
		t.Fatalf("expected 30s wait, got %v", wait)
	}
	now = now.Add(31 * time.Second)
	if _, ok := limiter.take("login|1.2.3.4"); !ok {
		t.Fatal("hit after the window should pass")
	}
}
