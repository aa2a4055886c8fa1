package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"gatekeeper/cmd/internal/auth/lifecycle"
	"gatekeeper/cmd/internal/auth/session"
)

// Lifecycle is the part of the session controller the HTTP layer drives.
type Lifecycle interface {
	Login(ctx context.Context, in lifecycle.LoginInput) (lifecycle.LoginResult, error)
	Refresh(ctx context.Context, in lifecycle.RefreshInput) (lifecycle.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) error
	VerifyAccessToken(tok string) (session.AccessClaims, error)
	ListSessions(ctx context.Context, principalID string) ([]lifecycle.SessionSummary, error)
	RevokeSession(ctx context.Context, principalID, sessionID string) error
}

// Handler exposes login, refresh, logout and session management over HTTP.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	auth Lifecycle

	loginLimiter   *keyedLimiter
	refreshLimiter *keyedLimiter
	now            func() time.Time
}

// NewHandler validates cfg and constructs a Handler.
func NewHandler(log *slog.Logger, auth Lifecycle, cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, errors.New("api: nil lifecycle")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:            log,
		cfg:            cfg,
		auth:           auth,
		loginLimiter:   newKeyedLimiter(cfg.LoginRate, cfg.LoginBurst, cfg.LimiterTTL),
		refreshLimiter: newKeyedLimiter(cfg.RefreshRate, cfg.RefreshBurst, cfg.LimiterTTL),
		now:            time.Now,
	}, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/me", h.handleMe)
	mux.HandleFunc("GET /auth/sessions", h.handleListSessions)
	mux.HandleFunc("DELETE /auth/sessions/{id}", h.handleRevokeSession)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.loginLimiter.Allow(ipKey(ip), h.now()); !ok {
		h.log.Info("auth.login.rate_limited", "ip", ipKey(ip))
		writeRateLimited(w, retry)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier and password are required")
		return
	}

	platform := session.ParsePlatform(req.Platform)
	res, err := h.auth.Login(r.Context(), lifecycle.LoginInput{
		Identifier:    identifier,
		Secret:        req.Password,
		UserAgent:     r.UserAgent(),
		NetworkOrigin: ipString(ip),
		CountryHint:   h.countryHint(r),
		Platform:      platform,
		RememberMe:    req.RememberMe,
	})
	if err != nil {
		h.writeLifecycleError(w, "login", err)
		return
	}

	sess := toSessionResponse(res.Tokens, res.Action)
	if h.usesCookies(platform) {
		if _, err := h.issueCookies(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt); err != nil {
			h.log.Error("auth.login.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		sess.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Principal: toPrincipalResponse(res.Principal),
		Session:   sess,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.refreshLimiter.Allow(ipKey(ip), h.now()); !ok {
		h.log.Info("auth.refresh.rate_limited", "ip", ipKey(ip))
		writeRateLimited(w, retry)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if refreshToken == "" {
		refreshToken, fromCookie = h.cookieRefreshToken(r)
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	res, err := h.auth.Refresh(r.Context(), lifecycle.RefreshInput{
		RefreshToken:  refreshToken,
		UserAgent:     r.UserAgent(),
		NetworkOrigin: ipString(ip),
		CountryHint:   h.countryHint(r),
		OTP:           strings.TrimSpace(req.OTP),
	})
	if err != nil {
		if fromCookie && endsSession(err) {
			h.clearCookies(w)
		}
		h.writeLifecycleError(w, "refresh", err)
		return
	}

	sess := toSessionResponse(res.Tokens, res.Action)
	if fromCookie || h.usesCookies(session.ParsePlatform(req.Platform)) {
		if _, err := h.issueCookies(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt); err != nil {
			h.log.Error("auth.refresh.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		sess.RefreshToken = ""
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Principal: toPrincipalResponse(res.Principal),
		Session:   sess,
	})
}

// handleLogout always answers 204. A cookie-borne token is only honoured
// with a valid CSRF header so third-party pages cannot sign users out.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.ContentLength != 0 {
		// A malformed body is treated as no token.
		_ = decodeJSON(w, r, h.cfg.MaxBodyBytes, &req)
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		if tok, ok := h.cookieRefreshToken(r); ok {
			if !h.csrfValid(r) {
				writeNoContent(w)
				return
			}
			refreshToken = tok
		}
	}

	if err := h.auth.Logout(r.Context(), refreshToken); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
	}
	h.clearCookies(w)
	writeNoContent(w)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:        claims.PrincipalID,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	list, err := h.auth.ListSessions(r.Context(), claims.PrincipalID)
	if err != nil {
		h.log.Error("auth.sessions.list.fail", "err", err, "principal_id", claims.PrincipalID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: toSessionSummaries(list, claims.SessionID)})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}

	err := h.auth.RevokeSession(r.Context(), claims.PrincipalID, id)
	switch {
	case err == nil:
		writeNoContent(w)
	case errors.Is(err, lifecycle.ErrSessionInvalid):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
	default:
		h.log.Error("auth.sessions.revoke.fail", "err", err, "principal_id", claims.PrincipalID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.auth.VerifyAccessToken(token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

// writeLifecycleError maps controller errors onto the public error contract.
func (h *Handler) writeLifecycleError(w http.ResponseWriter, op string, err error) {
	var ce *lifecycle.ChallengeError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: apiError{
			Code:    "challenge_required",
			Message: "additional verification required",
			Action:  string(ce.Action),
		}})
	case errors.Is(err, lifecycle.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, lifecycle.ErrAuthBlocked):
		writeError(w, http.StatusForbidden, "auth_blocked", "authentication blocked")
	case errors.Is(err, lifecycle.ErrSessionInvalid):
		writeError(w, http.StatusUnauthorized, "session_invalid", "session not active")
	case errors.Is(err, lifecycle.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "session_expired", "session expired")
	case errors.Is(err, lifecycle.ErrSessionRevoked):
		writeError(w, http.StatusUnauthorized, "session_revoked", "session revoked")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.log.Warn("auth."+op+".timeout", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	default:
		h.log.Error("auth."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func endsSession(err error) bool {
	return errors.Is(err, lifecycle.ErrSessionInvalid) ||
		errors.Is(err, lifecycle.ErrSessionExpired) ||
		errors.Is(err, lifecycle.ErrSessionRevoked) ||
		errors.Is(err, lifecycle.ErrAuthBlocked)
}

func (h *Handler) countryHint(r *http.Request) string {
	if !h.cfg.TrustProxy || h.cfg.CountryHeader == "" {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(h.cfg.CountryHeader))
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the left-most valid address.
func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}
