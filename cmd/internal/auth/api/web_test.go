package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatekeeper/cmd/internal/auth/session"
)

func cookieHandler() *Handler {
	return &Handler{cfg: DefaultConfig()}
}

func TestUsesCookies(t *testing.T) {
	h := cookieHandler()
	if !h.usesCookies(session.PlatformWeb) {
		t.Fatalf("expected cookie transport for web")
	}
	if h.usesCookies(session.PlatformIOS) {
		t.Fatalf("expected body transport for native")
	}
	h.cfg.WebRefreshCookieEnabled = false
	if h.usesCookies(session.PlatformWeb) {
		t.Fatalf("expected cookie transport disabled")
	}
}

func TestIssueCookies(t *testing.T) {
	h := cookieHandler()
	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(30 * time.Minute)

	csrf, err := h.issueCookies(rr, "refresh-token-123", exp)
	if err != nil {
		t.Fatalf("issueCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	byName := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		byName[c.Name] = c
	}
	rt := byName["gk_refresh_token"]
	if rt == nil || rt.Value != "refresh-token-123" || !rt.HttpOnly || !rt.Secure {
		t.Fatalf("bad refresh cookie: %+v", rt)
	}
	cs := byName["gk_csrf_token"]
	if cs == nil || cs.Value != csrf || cs.HttpOnly {
		t.Fatalf("bad csrf cookie: %+v", cs)
	}
}

func TestClearCookies(t *testing.T) {
	h := cookieHandler()
	rr := httptest.NewRecorder()
	h.clearCookies(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not expired: %+v", c.Name, c)
		}
	}
}

func TestCSRFDoubleSubmit(t *testing.T) {
	h := cookieHandler()
	cases := []struct {
		name   string
		cookie string
		header string
		want   bool
	}{
		{"match", "csrf-abc", "csrf-abc", true},
		{"mismatch", "csrf-abc", "csrf-xyz", false},
		{"missing header", "csrf-abc", "", false},
		{"missing cookie", "", "csrf-abc", false},
		{"length differs", "csrf-abc", "csrf-abcd", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "gk_csrf_token", Value: tc.cookie})
			}
			if tc.header != "" {
				req.Header.Set("X-CSRF-Token", tc.header)
			}
			if got := h.csrfValid(req); got != tc.want {
				t.Fatalf("csrfValid = %v, want %v", got, tc.want)
			}
		})
	}
}
