package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
}

// Portal routes authenticate with the link token in the path.
var publicPrefixes = []string{
	obs.PortalPrefix,
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sourcedesk"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="sourcedesk", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// ensurePermissions returns the principal when it holds every perm, and writes
// the error response otherwise.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) (auth.Principal, bool) {
	principal, err := requirePermissions(r.Context(), perms...)
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			writeError(w, r, http.StatusForbidden, "forbidden")
		} else {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
		}
		return auth.Principal{}, false
	}
	return principal, true
}

func requirePermissions(ctx context.Context, perms ...string) (auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok || principal.TenantID == "" {
		return auth.Principal{}, auth.ErrUnauthorized
	}
	for _, perm := range perms {
		if !principal.HasPermission(perm) {
			return auth.Principal{}, auth.ErrForbidden
		}
	}
	return principal, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
