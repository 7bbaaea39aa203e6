package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"

	"sourcedesk.io/internal/audit"
	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/obs"
	"sourcedesk.io/internal/portal"
)

// ReadyProbe reports whether dependencies (usually the database) answer.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Services are the domain services the HTTP layer exposes.
type Services struct {
	Auth   *auth.Service
	Links  *magiclink.Issuer
	Portal *portal.Service
}

// Options tune the HTTP layer.
type Options struct {
	Version        string
	Ready          ReadyProbe
	RateBurst      int
	RatePerSecond  float64
	MaxBodyBytes   int64
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For. Empty means none.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux    *http.ServeMux
	auth   *auth.Service
	links  *magiclink.Issuer
	portal *portal.Service
	opts   Options
}

func New(svc Services, opts Options) (*API, error) {
	if svc.Auth == nil || svc.Links == nil || svc.Portal == nil {
		return nil, errors.New("httpapi: auth, links and portal services are required")
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:    http.NewServeMux(),
		auth:   svc.Auth,
		links:  svc.Links,
		portal: svc.Portal,
		opts:   opts,
	}

	// health/ready
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	// operators
	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("POST /v1/links", a.issueLink)
	a.mux.HandleFunc("GET /v1/links", a.listLinks)
	a.mux.HandleFunc("GET /v1/links/{id}", a.getLink)
	a.mux.HandleFunc("POST /v1/links/{id}/revoke", a.revokeLink)

	// client portal
	a.mux.HandleFunc("GET /p/{token}", a.portalValidate)
	a.mux.HandleFunc("GET /p/{token}/quotation", a.portalScopedQuotation)
	a.mux.HandleFunc("GET /p/{token}/quotations/{id}", a.portalQuotation)
	a.mux.HandleFunc("POST /p/{token}/quotations", a.portalCreateQuotation)
	a.mux.HandleFunc("GET /p/{token}/payment-methods", a.portalPaymentMethods)
	a.mux.HandleFunc("GET /p/{token}/shipments", a.portalShipments)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a, nil
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = onPrefix(obs.PortalPrefix, RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond), h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h, a.opts.AllowedOrigins...)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.opts.TrustedProxies)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sourcedesk-api",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  "database unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, fields map[string]string) {
	payload := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		payload["tenant_id"] = p.TenantID
	}
	for k, v := range fields {
		payload[k] = v
	}
	_ = audit.LogEvent(ctx, event, payload)
}

// --- helpers ---

func onPrefix(prefix string, matched, other http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, prefix) {
			matched.ServeHTTP(w, r)
			return
		}
		other.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
