// Package main provides a CI-friendly smoke test for gatekeeper sessions.
//
// It validates:
//   - password login over HTTP
//   - refresh rotation (old token retired, new token issued)
//   - websocket handshake + subprotocol selection + hello
//   - logout delivers session.revoked and closes the socket
//   - the logged-out refresh token is rejected
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "gatekeeper.sessions.v1"
	maxReadBytes = 4 << 10
)

type sessionTokens struct {
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Action       string `json:"action"`
}

type authResponse struct {
	Session sessionTokens `json:"session"`
}

type event struct {
	Type       string   `json:"type"`
	SessionID  string   `json:"session_id"`
	SessionIDs []string `json:"session_ids"`
	Reason     string   `json:"reason"`
	Code       string   `json:"code"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		email    = flag.String("email", os.Getenv("GK_BOOTSTRAP_EMAIL"), "Login identifier")
		password = flag.String("password", os.Getenv("GK_BOOTSTRAP_PASSWORD"), "Login password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *email == "" || *password == "" {
		fatalf("-email and -password are required")
	}

	client := &http.Client{Timeout: *timeout}
	root := context.Background()

	login := mustPost[authResponse](client, *baseURL+"/auth/login", map[string]any{
		"identifier": *email,
		"password":   *password,
		"platform":   "desktop",
	}, http.StatusOK)
	if login.Session.RefreshToken == "" {
		fatalf("login: no refresh token in body")
	}
	if *verbose {
		fmt.Printf("login: session=%s action=%s\n", login.Session.SessionID, login.Session.Action)
	}

	rotated := mustPost[authResponse](client, *baseURL+"/auth/refresh", map[string]any{
		"refresh_token": login.Session.RefreshToken,
		"platform":      "desktop",
	}, http.StatusOK)
	if rotated.Session.SessionID != login.Session.SessionID {
		fatalf("refresh: session changed %s -> %s", login.Session.SessionID, rotated.Session.SessionID)
	}
	if rotated.Session.RefreshToken == login.Session.RefreshToken {
		fatalf("refresh: token was not rotated")
	}

	conn := mustConnect(root, *baseURL, *origin, rotated.Session.AccessToken, *timeout)
	defer closeWS(conn)

	hello := mustRead(root, conn, *timeout)
	if hello.Type != "hello" || hello.SessionID != login.Session.SessionID {
		fatalf("hello: unexpected event %+v", hello)
	}

	mustPostNoContent(client, *baseURL+"/auth/logout", map[string]any{
		"refresh_token": rotated.Session.RefreshToken,
	})

	revoked := mustRead(root, conn, *timeout)
	if revoked.Type != "session.revoked" || revoked.Reason != "logout" {
		fatalf("logout: unexpected event %+v", revoked)
	}
	mustClosed(root, conn, *timeout)

	status, body := post(client, *baseURL+"/auth/refresh", map[string]any{
		"refresh_token": rotated.Session.RefreshToken,
	})
	if status != http.StatusUnauthorized {
		fatalf("refresh after logout: status=%d body=%s", status, body)
	}

	fmt.Printf("OK: session=%s rotated, revoked over websocket, refresh rejected\n", login.Session.SessionID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsURL(base string) string {
	u, _ := url.Parse(base)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws/sessions"
	return u.String()
}

func post(client *http.Client, target string, body any) (int, []byte) {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gatekeeper-smoke/1")

	resp, err := client.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, raw
}

func mustPost[T any](client *http.Client, target string, body any, want int) T {
	status, raw := post(client, target, body)
	if status != want {
		fatalf("POST %s: status=%d want=%d body=%s", target, status, want, raw)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		fatalf("POST %s: decode: %v", target, err)
	}
	return out
}

func mustPostNoContent(client *http.Client, target string, body any) {
	if status, raw := post(client, target, body); status != http.StatusNoContent {
		fatalf("POST %s: status=%d body=%s", target, status, raw)
	}
}

func mustConnect(parent context.Context, base, origin, accessToken string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if origin != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL(base), &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("dial failed (status=%d): %v", status, err)
	}
	if conn.Subprotocol() != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", conn.Subprotocol(), subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRead(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) event {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		fatalf("read failed: %v", err)
	}
	var ev event
	if err := json.Unmarshal(b, &ev); err != nil {
		fatalf("decode event: %v", err)
	}
	if ev.Type == "error" {
		fatalf("server error: code=%q", ev.Code)
	}
	return ev
}

func mustClosed(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		fatalf("expected policy violation close, got %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
