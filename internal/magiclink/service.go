package magiclink

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"sourcedesk.io/internal/ids"
	"sourcedesk.io/internal/obs"
)

const (
	defaultLifetimeDays = 7
	maxLifetimeDays     = 365
	maxIssueAttempts    = 3
)

// Issuer creates, lists and revokes links on behalf of tenant operators.
type Issuer struct {
	store       Store
	dir         Directory
	now         func() time.Time
	entropy     io.Reader
	baseURL     string
	defaultDays int
	maxDays     int
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(s *Issuer) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithEntropy overrides the token entropy source.
func WithEntropy(r io.Reader) IssuerOption {
	return func(s *Issuer) error {
		if r != nil {
			s.entropy = r
		}
		return nil
	}
}

// WithBaseURL sets the public origin links are rendered under.
func WithBaseURL(base string) IssuerOption {
	return func(s *Issuer) error {
		s.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
		return nil
	}
}

// WithLifetime sets the default and the maximum link lifetime in days.
func WithLifetime(defaultDays, maxDays int) IssuerOption {
	return func(s *Issuer) error {
		if maxDays <= 0 || defaultDays < 0 || defaultDays > maxDays {
			return fmt.Errorf("magiclink: invalid lifetime %d/%d days", defaultDays, maxDays)
		}
		s.defaultDays = defaultDays
		s.maxDays = maxDays
		return nil
	}
}

// NewIssuer constructs an Issuer.
func NewIssuer(store Store, dir Directory, opts ...IssuerOption) (*Issuer, error) {
	if store == nil || dir == nil {
		return nil, errors.New("magiclink: store and directory are required")
	}
	s := &Issuer{
		store:       store,
		dir:         dir,
		now:         time.Now,
		entropy:     rand.Reader,
		defaultDays: defaultLifetimeDays,
		maxDays:     maxLifetimeDays,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IssueRequest describes a link to create. TenantID and OperatorID come from
// the authenticated operator, never from the request body.
type IssueRequest struct {
	TenantID      string
	OperatorID    string
	SubjectID     string
	Scopes        []string
	ExpiresInDays *int
	MaxUses       *int
	ResourceRef   *string
}

// Issued is returned once; RawToken cannot be recovered afterwards.
type Issued struct {
	Link     Link
	RawToken string
	URL      string
}

// Issue validates the request, snapshots the subject and persists a new link.
// Token hash collisions are retried with a fresh token.
func (s *Issuer) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	subjectID := strings.TrimSpace(req.SubjectID)
	if tenantID == "" {
		return Issued{}, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	if subjectID == "" {
		return Issued{}, fmt.Errorf("%w: client_id is required", ErrInvalidInput)
	}
	scopes, err := NormalizeScopes(req.Scopes)
	if err != nil {
		return Issued{}, err
	}
	days := s.defaultDays
	if req.ExpiresInDays != nil {
		days = *req.ExpiresInDays
	}
	if days < 0 || days > s.maxDays {
		return Issued{}, fmt.Errorf("%w: expires_in_days must be between 0 and %d", ErrInvalidInput, s.maxDays)
	}
	if req.MaxUses != nil && *req.MaxUses < 1 {
		return Issued{}, fmt.Errorf("%w: max_uses must be at least 1", ErrInvalidInput)
	}
	var ref *string
	if req.ResourceRef != nil {
		trimmed := strings.TrimSpace(*req.ResourceRef)
		if trimmed != "" {
			ref = &trimmed
		}
	}

	subject, err := s.dir.Subject(ctx, tenantID, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Issued{}, fmt.Errorf("%w: client %s", ErrNotFound, subjectID)
		}
		return Issued{}, err
	}
	if ref != nil {
		if err := s.dir.ResourceBelongs(ctx, tenantID, subjectID, *ref); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Issued{}, fmt.Errorf("%w: quotation %s", ErrNotFound, *ref)
			}
			return Issued{}, err
		}
	}

	now := s.now().UTC()
	link := Link{
		TenantID:             tenantID,
		SubjectID:            subjectID,
		ResourceRef:          ref,
		Scopes:               scopes,
		ExpiresAt:            now.Add(time.Duration(days) * 24 * time.Hour),
		MaxUses:              req.MaxUses,
		SubjectNameSnapshot:  subject.Name,
		SubjectPhoneSnapshot: subject.Phone,
		CreatedBy:            strings.TrimSpace(req.OperatorID),
		CreatedAt:            now,
	}

	for attempt := 1; ; attempt++ {
		raw, hash, err := GenerateFrom(s.entropy)
		if err != nil {
			return Issued{}, err
		}
		link.ID = ids.NewAt(now)
		link.TokenHash = hash
		err = s.store.Insert(ctx, &link)
		if err == nil {
			obs.ObserveIssued()
			return Issued{Link: link, RawToken: raw, URL: s.URL(raw)}, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= maxIssueAttempts {
			return Issued{}, err
		}
		obs.Logger().WarnContext(ctx, "magic link token collision, regenerating",
			slog.Int("attempt", attempt), slog.String("tenant_id", tenantID))
	}
}

// URL renders the portal URL for a raw token.
func (s *Issuer) URL(raw string) string {
	return s.baseURL + obs.PortalPrefix + raw
}

// Revoke disables a link permanently. Revoking an already revoked link succeeds.
func (s *Issuer) Revoke(ctx context.Context, tenantID, linkID string) (Link, error) {
	tenantID = strings.TrimSpace(tenantID)
	linkID = strings.TrimSpace(linkID)
	if tenantID == "" || linkID == "" {
		return Link{}, fmt.Errorf("%w: tenant and link_id are required", ErrInvalidInput)
	}
	if !ids.Valid(linkID) {
		return Link{}, ErrNotFound
	}
	return s.store.MarkRevoked(ctx, tenantID, linkID, s.now().UTC())
}

// Get returns one link of the tenant.
func (s *Issuer) Get(ctx context.Context, tenantID, linkID string) (Link, error) {
	tenantID = strings.TrimSpace(tenantID)
	linkID = strings.TrimSpace(linkID)
	if tenantID == "" || linkID == "" {
		return Link{}, fmt.Errorf("%w: tenant and link_id are required", ErrInvalidInput)
	}
	if !ids.Valid(linkID) {
		return Link{}, ErrNotFound
	}
	return s.store.FindByID(ctx, tenantID, linkID)
}

// List returns the links issued to one client of the tenant, newest first.
func (s *Issuer) List(ctx context.Context, tenantID, subjectID string) ([]Link, error) {
	tenantID = strings.TrimSpace(tenantID)
	subjectID = strings.TrimSpace(subjectID)
	if tenantID == "" || subjectID == "" {
		return nil, fmt.Errorf("%w: tenant and client_id are required", ErrInvalidInput)
	}
	return s.store.ListBySubject(ctx, tenantID, subjectID)
}

// Now exposes the issuer clock so handlers can compute link status consistently.
func (s *Issuer) Now() time.Time { return s.now().UTC() }
