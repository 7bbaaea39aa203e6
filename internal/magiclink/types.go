package magiclink

import (
	"fmt"
	"strings"
	"time"
)

// Scope is a capability a link grants. Scopes form an unordered set: no scope
// implies another.
type Scope string

const (
	ScopeView   Scope = "view"
	ScopePay    Scope = "pay"
	ScopeTrack  Scope = "track"
	ScopeCreate Scope = "create"
)

// AllScopes lists the closed scope enumeration in canonical order.
var AllScopes = []Scope{ScopeView, ScopePay, ScopeTrack, ScopeCreate}

// ParseScope validates a single scope name.
func ParseScope(s string) (Scope, error) {
	sc := Scope(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range AllScopes {
		if sc == known {
			return sc, nil
		}
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, s)
}

// NormalizeScopes parses, deduplicates and orders a requested scope list.
// At least one scope is required.
func NormalizeScopes(in []string) ([]Scope, error) {
	set := make(map[Scope]struct{}, len(in))
	for _, raw := range in {
		sc, err := ParseScope(raw)
		if err != nil {
			return nil, err
		}
		set[sc] = struct{}{}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", ErrInvalidInput)
	}
	out := make([]Scope, 0, len(set))
	for _, sc := range AllScopes {
		if _, ok := set[sc]; ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

// Link is a persisted magic-link capability. The raw token is never stored.
type Link struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	SubjectID            string     `json:"client_id"`
	ResourceRef          *string    `json:"quotation_id,omitempty"`
	TokenHash            string     `json:"-"`
	Scopes               []Scope    `json:"scopes"`
	ExpiresAt            time.Time  `json:"expires_at"`
	RevokedAt            *time.Time `json:"revoked_at,omitempty"`
	MaxUses              *int       `json:"max_uses,omitempty"`
	UseCount             int        `json:"use_count"`
	LastAccessedAt       *time.Time `json:"last_accessed_at,omitempty"`
	SubjectNameSnapshot  string     `json:"client_name"`
	SubjectPhoneSnapshot string     `json:"client_phone,omitempty"`
	CreatedBy            string     `json:"created_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// HasScope reports exact membership of s in the link's scopes.
func (l Link) HasScope(s Scope) bool {
	for _, have := range l.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// RemainingUses returns nil for unlimited links.
func (l Link) RemainingUses() *int {
	if l.MaxUses == nil {
		return nil
	}
	left := *l.MaxUses - l.UseCount
	if left < 0 {
		left = 0
	}
	return &left
}

// Clone returns a deep copy so callers may not mutate shared pointers.
func (l Link) Clone() Link {
	out := l
	out.Scopes = append([]Scope(nil), l.Scopes...)
	if l.ResourceRef != nil {
		ref := *l.ResourceRef
		out.ResourceRef = &ref
	}
	if l.RevokedAt != nil {
		at := *l.RevokedAt
		out.RevokedAt = &at
	}
	if l.MaxUses != nil {
		n := *l.MaxUses
		out.MaxUses = &n
	}
	if l.LastAccessedAt != nil {
		at := *l.LastAccessedAt
		out.LastAccessedAt = &at
	}
	return out
}

// ScopeStrings renders scopes for storage and JSON payloads.
func ScopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
