package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"sourcedesk.io/internal/magiclink"
)

const linkColumns = `id, tenant_id, client_id, quotation_id, token_hash, scopes, expires_at,
	revoked_at, max_uses, use_count, last_accessed_at, client_name, client_phone, created_by, created_at`

// queries runs statements against either the pool or a transaction.
type queries struct {
	db dbtx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (magiclink.Link, error) {
	var (
		link        magiclink.Link
		ref         sql.NullString
		scopes      string
		revokedAt   sql.NullTime
		maxUses     sql.NullInt64
		lastAccess  sql.NullTime
		clientPhone sql.NullString
		createdBy   sql.NullString
	)
	err := row.Scan(&link.ID, &link.TenantID, &link.SubjectID, &ref, &link.TokenHash, &scopes,
		&link.ExpiresAt, &revokedAt, &maxUses, &link.UseCount, &lastAccess,
		&link.SubjectNameSnapshot, &clientPhone, &createdBy, &link.CreatedAt)
	if err != nil {
		return magiclink.Link{}, err
	}
	link.ResourceRef = stringPtr(ref)
	link.Scopes, err = magiclink.NormalizeScopes(strings.Split(scopes, ","))
	if err != nil {
		return magiclink.Link{}, err
	}
	if revokedAt.Valid {
		at := revokedAt.Time.UTC()
		link.RevokedAt = &at
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		link.MaxUses = &n
	}
	if lastAccess.Valid {
		at := lastAccess.Time.UTC()
		link.LastAccessedAt = &at
	}
	link.ExpiresAt = link.ExpiresAt.UTC()
	link.CreatedAt = link.CreatedAt.UTC()
	link.SubjectPhoneSnapshot = clientPhone.String
	link.CreatedBy = createdBy.String
	return link, nil
}

func (q queries) Insert(ctx context.Context, link *magiclink.Link) error {
	if link == nil {
		return magiclink.ErrInvalidInput
	}
	var maxUses sql.NullInt64
	if link.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*link.MaxUses), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		insert into magic_links(id, tenant_id, client_id, quotation_id, token_hash, scopes, expires_at,
			max_uses, use_count, client_name, client_phone, created_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$10,$11,$12)
	`, link.ID, link.TenantID, link.SubjectID, nullString(link.ResourceRef), link.TokenHash,
		strings.Join(magiclink.ScopeStrings(link.Scopes), ","), link.ExpiresAt, maxUses,
		link.SubjectNameSnapshot, nullIfEmpty(link.SubjectPhoneSnapshot), nullIfEmpty(link.CreatedBy), link.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return magiclink.ErrConflict
		}
		return err
	}
	return nil
}

func (q queries) FindByHash(ctx context.Context, hash string) (magiclink.Link, error) {
	link, err := scanLink(q.db.QueryRowContext(ctx,
		`select `+linkColumns+` from magic_links where token_hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	if err != nil {
		return magiclink.Link{}, err
	}
	if !magiclink.ConstantTimeEqual(link.TokenHash, hash) {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	return link, nil
}

func (q queries) FindByID(ctx context.Context, tenantID, id string) (magiclink.Link, error) {
	link, err := scanLink(q.db.QueryRowContext(ctx,
		`select `+linkColumns+` from magic_links where tenant_id = $1 and id = $2`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	return link, err
}

func (q queries) ListBySubject(ctx context.Context, tenantID, subjectID string) ([]magiclink.Link, error) {
	rows, err := q.db.QueryContext(ctx, `
		select `+linkColumns+` from magic_links
		where tenant_id = $1 and client_id = $2
		order by created_at desc, id desc
	`, tenantID, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]magiclink.Link, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

func (q queries) MarkRevoked(ctx context.Context, tenantID, id string, at time.Time) (magiclink.Link, error) {
	link, err := scanLink(q.db.QueryRowContext(ctx, `
		update magic_links set revoked_at = coalesce(revoked_at, $3)
		where tenant_id = $1 and id = $2
		returning `+linkColumns, tenantID, id, at.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	return link, err
}

// RecordUse is a single conditional increment; the row lock taken by the
// update is what serializes concurrent uses of one link.
func (q queries) RecordUse(ctx context.Context, id string, at time.Time) (magiclink.Link, error) {
	at = at.UTC()
	link, err := scanLink(q.db.QueryRowContext(ctx, `
		update magic_links set use_count = use_count + 1, last_accessed_at = $2
		where id = $1
		  and revoked_at is null
		  and expires_at > $2
		  and (max_uses is null or use_count < max_uses)
		returning `+linkColumns, id, at))
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return magiclink.Link{}, err
	}

	current, err := scanLink(q.db.QueryRowContext(ctx,
		`select `+linkColumns+` from magic_links where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	if err != nil {
		return magiclink.Link{}, err
	}
	if d := magiclink.Evaluate(current, true, at); !d.Allowed {
		return magiclink.Link{}, d.Err()
	}
	return magiclink.Link{}, magiclink.ErrExhausted
}

// Pool-level link operations used by the issuer, each retried on transient
// failures.

func (s *Store) Insert(ctx context.Context, link *magiclink.Link) error {
	return s.withRetry(ctx, "link_insert", func(ctx context.Context) error {
		return queries{db: s.db}.Insert(ctx, link)
	})
}

func (s *Store) FindByHash(ctx context.Context, hash string) (link magiclink.Link, err error) {
	err = s.withRetry(ctx, "link_find_by_hash", func(ctx context.Context) error {
		link, err = queries{db: s.db}.FindByHash(ctx, hash)
		return err
	})
	return link, err
}

func (s *Store) FindByID(ctx context.Context, tenantID, id string) (link magiclink.Link, err error) {
	err = s.withRetry(ctx, "link_find_by_id", func(ctx context.Context) error {
		link, err = queries{db: s.db}.FindByID(ctx, tenantID, id)
		return err
	})
	return link, err
}

func (s *Store) ListBySubject(ctx context.Context, tenantID, subjectID string) (links []magiclink.Link, err error) {
	err = s.withRetry(ctx, "link_list", func(ctx context.Context) error {
		links, err = queries{db: s.db}.ListBySubject(ctx, tenantID, subjectID)
		return err
	})
	return links, err
}

func (s *Store) MarkRevoked(ctx context.Context, tenantID, id string, at time.Time) (link magiclink.Link, err error) {
	err = s.withRetry(ctx, "link_revoke", func(ctx context.Context) error {
		link, err = queries{db: s.db}.MarkRevoked(ctx, tenantID, id, at)
		return err
	})
	return link, err
}

func (s *Store) RecordUse(ctx context.Context, id string, at time.Time) (link magiclink.Link, err error) {
	err = s.withRetry(ctx, "link_record_use", func(ctx context.Context) error {
		link, err = queries{db: s.db}.RecordUse(ctx, id, at)
		return err
	})
	return link, err
}
