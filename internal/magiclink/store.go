package magiclink

import (
	"context"
	"time"
)

// Store persists links. Implementations filter operator-facing reads by tenant
// and implement RecordUse as a single conditional increment.
type Store interface {
	// Insert persists a new link and fails with ErrConflict when the token
	// hash is already taken.
	Insert(ctx context.Context, link *Link) error
	// FindByHash is an indexed lookup by token hash.
	FindByHash(ctx context.Context, hash string) (Link, error)
	FindByID(ctx context.Context, tenantID, id string) (Link, error)
	ListBySubject(ctx context.Context, tenantID, subjectID string) ([]Link, error)
	// MarkRevoked sets revoked_at if unset. Revoking twice is not an error.
	MarkRevoked(ctx context.Context, tenantID, id string, at time.Time) (Link, error)
	// RecordUse increments use_count and stamps last_accessed_at only if the
	// link is still usable at at; otherwise it returns the terminal reason.
	RecordUse(ctx context.Context, id string, at time.Time) (Link, error)
}

// Subject is the client a link is issued to.
type Subject struct {
	ID       string
	TenantID string
	Name     string
	Phone    string
}

// Directory resolves tenant-owned data needed at issuance.
type Directory interface {
	Subject(ctx context.Context, tenantID, subjectID string) (Subject, error)
	// ResourceBelongs returns ErrNotFound unless ref names a quotation of the
	// subject under the tenant.
	ResourceBelongs(ctx context.Context, tenantID, subjectID, ref string) error
}
