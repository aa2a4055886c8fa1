package api

import (
	"gatekeeper/cmd/internal/auth/lifecycle"
	"gatekeeper/cmd/internal/auth/risk"
)

func toPrincipalResponse(p lifecycle.PrincipalSummary) principalResponse {
	return principalResponse{
		ID:           p.ID,
		Email:        p.Email,
		Username:     p.Username,
		Role:         string(p.Role),
		TOTPEnrolled: p.TOTPEnrolled,
	}
}

func toSessionResponse(t lifecycle.Tokens, action risk.Action) sessionResponse {
	return sessionResponse{
		SessionID:        t.SessionID,
		AccessToken:      t.AccessToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshToken:     t.RefreshToken,
		RefreshExpiresAt: t.RefreshExpiresAt,
		Action:           string(action),
	}
}

func toSessionSummaries(in []lifecycle.SessionSummary, currentID string) []sessionSummaryResponse {
	out := make([]sessionSummaryResponse, 0, len(in))
	for _, s := range in {
		out = append(out, sessionSummaryResponse{
			ID:           s.ID,
			Platform:     string(s.Platform),
			IP:           s.IP,
			UserAgent:    s.UserAgent,
			Country:      s.Country,
			Current:      s.ID == currentID,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
		})
	}
	return out
}
