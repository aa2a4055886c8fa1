package lifecycle

import (
	"context"

	"gatekeeper/cmd/internal/auth/risk"
	"gatekeeper/cmd/internal/auth/session"
)

// sessionHistory feeds the risk engine from the session store.
type sessionHistory struct {
	store session.Store
}

func (h sessionHistory) SessionContexts(ctx context.Context, principalID string) ([]risk.SessionContext, error) {
	recs, err := h.store.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	out := make([]risk.SessionContext, 0, len(recs))
	for _, r := range recs {
		out = append(out, risk.SessionContext{UserAgent: r.UserAgent, Country: r.Country})
	}
	return out, nil
}
