package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/portal"
)

func testLink(id, hash string, maxUses *int) *magiclink.Link {
	return &magiclink.Link{
		ID:        id,
		TenantID:  "tenant-a",
		SubjectID: "client-a",
		TokenHash: hash,
		Scopes:    []magiclink.Scope{magiclink.ScopeView},
		ExpiresAt: time.Now().Add(time.Hour),
		MaxUses:   maxUses,
		CreatedAt: time.Now(),
	}
}

func mustInsert(t *testing.T, st *Store, l *magiclink.Link) {
	t.Helper()
	if err := st.Insert(context.Background(), l); err != nil {
		t.Fatalf("insert %s: %v", l.ID, err)
	}
}

func TestInsertRejectsDuplicateHash(t *testing.T) {
	st := New()
	ctx := context.Background()
	mustInsert(t, st, testLink("l1", "h1", nil))
	if err := st.Insert(ctx, testLink("l2", "h1", nil)); !errors.Is(err, magiclink.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := st.FindByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "l1" {
		t.Fatalf("found %q, want l1", got.ID)
	}

	if _, err := st.FindByHash(ctx, "h2"); !errors.Is(err, magiclink.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordUseIsConditional(t *testing.T) {
	st := New()
	ctx := context.Background()
	one := 1
	mustInsert(t, st, testLink("l1", "h1", &one))

	now := time.Now()
	used, err := st.RecordUse(ctx, "l1", now)
	if err != nil {
		t.Fatalf("record use: %v", err)
	}
	if used.UseCount != 1 {
		t.Fatalf("use_count = %d, want 1", used.UseCount)
	}

	if _, err := st.RecordUse(ctx, "l1", now); !errors.Is(err, magiclink.ErrExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	if _, err := st.MarkRevoked(ctx, "tenant-a", "l1", now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := st.RecordUse(ctx, "l1", now); !errors.Is(err, magiclink.ErrRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}

	if _, err := st.RecordUse(ctx, "missing", now); !errors.Is(err, magiclink.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDoRollsBackOnError(t *testing.T) {
	st := New()
	st.AddSubject(magiclink.Subject{ID: "client-a", TenantID: "tenant-a"})
	ctx := context.Background()
	mustInsert(t, st, testLink("l1", "h1", nil))

	boom := errors.New("boom")
	err := st.Do(ctx, func(ctx context.Context, links magiclink.Store, repo portal.Repository) error {
		if _, err := links.RecordUse(ctx, "l1", time.Now()); err != nil {
			return err
		}
		if err := repo.CreateQuotation(ctx, &portal.Quotation{ID: "q1", TenantID: "tenant-a", ClientID: "client-a"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := st.FindByID(ctx, "tenant-a", "l1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.UseCount != 0 {
		t.Fatalf("use_count = %d after rollback", got.UseCount)
	}
	if n := st.QuotationCount("tenant-a", "client-a"); n != 0 {
		t.Fatalf("quotation count = %d after rollback", n)
	}

	err = st.Do(ctx, func(ctx context.Context, links magiclink.Store, repo portal.Repository) error {
		_, err := links.RecordUse(ctx, "l1", time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err = st.FindByID(ctx, "tenant-a", "l1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.UseCount != 1 {
		t.Fatalf("use_count = %d after commit, want 1", got.UseCount)
	}
}

func TestTenantFilteredReads(t *testing.T) {
	st := New()
	ctx := context.Background()
	mustInsert(t, st, testLink("l1", "h1", nil))

	if _, err := st.FindByID(ctx, "tenant-b", "l1"); !errors.Is(err, magiclink.ErrNotFound) {
		t.Fatalf("cross-tenant find: %v", err)
	}
	if _, err := st.MarkRevoked(ctx, "tenant-b", "l1", time.Now()); !errors.Is(err, magiclink.ErrNotFound) {
		t.Fatalf("cross-tenant revoke: %v", err)
	}
	links, err := st.ListBySubject(ctx, "tenant-b", "client-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("cross-tenant list returned %d links", len(links))
	}
}

func TestOperatorLookup(t *testing.T) {
	st := New()
	st.AddOperator(auth.Operator{ID: "op-1", TenantID: "tenant-a", Email: "Ops@Acme.test"})
	op, err := st.OperatorByEmail(context.Background(), " ops@acme.test ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if op.ID != "op-1" {
		t.Fatalf("operator = %q", op.ID)
	}
	if _, err := st.Operator(context.Background(), "op-2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
