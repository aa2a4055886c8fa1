package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"gatekeeper/cmd/internal/auth/session"
)

// Browser clients never see the refresh token: it travels in an HttpOnly
// cookie next to a readable CSRF cookie that must be echoed in a header.

func (h *Handler) usesCookies(platform session.Platform) bool {
	return h.cfg.WebRefreshCookieEnabled && platform == session.PlatformWeb
}

func (h *Handler) issueCookies(w http.ResponseWriter, refreshToken string, exp time.Time) (csrf string, err error) {
	csrf, err = newOpaqueWebToken(32)
	if err != nil {
		return "", err
	}
	h.setCookie(w, h.cfg.RefreshCookieName, refreshToken, exp, true)
	h.setCookie(w, h.cfg.CSRFCookieName, csrf, exp, false)
	return csrf, nil
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	if !h.cfg.WebRefreshCookieEnabled {
		return
	}
	h.setCookie(w, h.cfg.RefreshCookieName, "", time.Time{}, true)
	h.setCookie(w, h.cfg.CSRFCookieName, "", time.Time{}, false)
}

func (h *Handler) cookieRefreshToken(r *http.Request) (string, bool) {
	if !h.cfg.WebRefreshCookieEnabled {
		return "", false
	}
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}

// csrfValid checks the double-submit pair in constant time.
func (h *Handler) csrfValid(r *http.Request) bool {
	if !h.cfg.WebRefreshCookieEnabled {
		return false
	}
	c, err := r.Cookie(h.cfg.CSRFCookieName)
	if err != nil {
		return false
	}
	cv := strings.TrimSpace(c.Value)
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	if cv == "" || len(cv) != len(hv) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cv), []byte(hv)) == 1
}

// setCookie expires the cookie when exp is zero.
func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time, httpOnly bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
	if exp.IsZero() {
		c.Expires = time.Unix(0, 0).UTC()
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

func newOpaqueWebToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
