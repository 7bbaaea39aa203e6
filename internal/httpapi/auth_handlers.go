package httpapi

import (
	"errors"
	"net/http"
	"time"

	"sourcedesk.io/internal/audit"
	"sourcedesk.io/internal/auth"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	token, expiresAt, principal, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
				"remote_ip": clientIP(r),
			})
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleStoreError(w, r, err)
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), principal)
	_ = audit.LogEvent(ctx, "auth.token.issued", map[string]any{
		"tenant_id":  principal.TenantID,
		"role":       principal.Role,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		TenantID:  principal.TenantID,
		Role:      principal.Role,
	})
}
