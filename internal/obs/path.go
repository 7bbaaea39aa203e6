package obs

import "strings"

// PortalPrefix is the path prefix of token-gated portal routes.
const PortalPrefix = "/p/"

// OtherPath labels every request that matches no known route.
const OtherPath = "other"

var staticPaths = map[string]struct{}{
	"/":              {},
	"/healthz":       {},
	"/readyz":        {},
	"/metrics":       {},
	"/v1/auth/token": {},
	"/v1/links":      {},
}

var portalSuffixes = map[string]struct{}{
	"":                {},
	"quotation":       {},
	"quotations":      {},
	"payment-methods": {},
	"shipments":       {},
}

// CanonicalPath maps a request path onto its route template so it can be used
// as a log field or metric label. Portal tokens and identifiers never survive,
// and unknown paths collapse to OtherPath.
func CanonicalPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	if _, ok := staticPaths[raw]; ok {
		return raw
	}
	if rest, ok := strings.CutPrefix(raw, PortalPrefix); ok {
		token, tail, _ := strings.Cut(rest, "/")
		if token == "" {
			return OtherPath
		}
		if _, ok := portalSuffixes[tail]; ok {
			return strings.TrimSuffix(PortalPrefix+":token/"+tail, "/")
		}
		if id, ok := strings.CutPrefix(tail, "quotations/"); ok && id != "" && !strings.Contains(id, "/") {
			return PortalPrefix + ":token/quotations/:id"
		}
		return OtherPath
	}
	if rest, ok := strings.CutPrefix(raw, "/v1/links/"); ok {
		id, tail, _ := strings.Cut(rest, "/")
		switch {
		case id == "":
		case tail == "" && !strings.HasSuffix(rest, "/"):
			return "/v1/links/:id"
		case tail == "revoke":
			return "/v1/links/:id/revoke"
		}
	}
	return OtherPath
}
