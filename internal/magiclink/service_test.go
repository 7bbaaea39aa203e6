package magiclink_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/portal"
	"sourcedesk.io/internal/store/memory"
)

var issueNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func seededStore() *memory.Store {
	st := memory.New()
	st.AddTenant(portal.Tenant{ID: "tenant-a", Name: "Acme Sourcing"})
	st.AddTenant(portal.Tenant{ID: "tenant-b", Name: "Beta Trading"})
	st.AddSubject(magiclink.Subject{ID: "client-a", TenantID: "tenant-a", Name: "Alice", Phone: "+100"})
	st.AddSubject(magiclink.Subject{ID: "client-b", TenantID: "tenant-b", Name: "Bob"})
	st.AddQuotation(portal.Quotation{ID: "quote-a", TenantID: "tenant-a", ClientID: "client-a", Currency: "USD"})
	st.AddQuotation(portal.Quotation{ID: "quote-b", TenantID: "tenant-b", ClientID: "client-b", Currency: "USD"})
	return st
}

func newIssuer(t *testing.T, st *memory.Store, opts ...magiclink.IssuerOption) *magiclink.Issuer {
	t.Helper()
	opts = append([]magiclink.IssuerOption{
		magiclink.WithClock(func() time.Time { return issueNow }),
		magiclink.WithBaseURL("https://portal.example.com/"),
	}, opts...)
	iss, err := magiclink.NewIssuer(st, st, opts...)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return iss
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func expectErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestIssueStoresOnlyHash(t *testing.T) {
	st := seededStore()
	iss := newIssuer(t, st)

	out, err := iss.Issue(context.Background(), magiclink.IssueRequest{
		TenantID:   "tenant-a",
		OperatorID: "op-1",
		SubjectID:  "client-a",
		Scopes:     []string{"pay", "view"},
	})
	mustNoErr(t, err)

	if !magiclink.WellFormed(out.RawToken) {
		t.Fatalf("token %q is not well formed", out.RawToken)
	}
	if want := "https://portal.example.com/p/" + out.RawToken; out.URL != want {
		t.Fatalf("url = %q, want %q", out.URL, want)
	}
	if out.Link.TokenHash != magiclink.Hash(out.RawToken) {
		t.Fatal("stored hash does not match token")
	}
	if s := out.Link.Scopes; len(s) != 2 || s[0] != magiclink.ScopeView || s[1] != magiclink.ScopePay {
		t.Fatalf("scopes = %v", s)
	}
	if want := issueNow.Add(7 * 24 * time.Hour); !out.Link.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %s, want %s", out.Link.ExpiresAt, want)
	}
	if out.Link.SubjectNameSnapshot != "Alice" || out.Link.SubjectPhoneSnapshot != "+100" {
		t.Fatalf("snapshot = %q/%q", out.Link.SubjectNameSnapshot, out.Link.SubjectPhoneSnapshot)
	}
	if out.Link.CreatedBy != "op-1" || out.Link.UseCount != 0 {
		t.Fatalf("created_by=%q use_count=%d", out.Link.CreatedBy, out.Link.UseCount)
	}

	stored, err := st.FindByHash(context.Background(), magiclink.Hash(out.RawToken))
	mustNoErr(t, err)
	if stored.ID != out.Link.ID {
		t.Fatalf("stored id = %q, want %q", stored.ID, out.Link.ID)
	}
	if stored.TokenHash == out.RawToken {
		t.Fatal("raw token persisted")
	}
}

func TestIssueValidation(t *testing.T) {
	st := seededStore()
	iss := newIssuer(t, st)
	ctx := context.Background()

	tests := []struct {
		name string
		req  magiclink.IssueRequest
		want error
	}{
		{"no scopes", magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a"}, magiclink.ErrInvalidInput},
		{"unknown scope", magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"admin"}}, magiclink.ErrInvalidInput},
		{"no client", magiclink.IssueRequest{TenantID: "tenant-a", Scopes: []string{"view"}}, magiclink.ErrInvalidInput},
		{"negative lifetime", magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}, ExpiresInDays: intPtr(-1)}, magiclink.ErrInvalidInput},
		{"lifetime too long", magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}, ExpiresInDays: intPtr(366)}, magiclink.ErrInvalidInput},
		{"zero max uses", magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}, MaxUses: intPtr(0)}, magiclink.ErrInvalidInput},
		{"client of other tenant", magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-b", Scopes: []string{"view"}}, magiclink.ErrNotFound},
		{"quotation of other tenant", magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}, ResourceRef: strPtr("quote-b")}, magiclink.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Issue(ctx, tt.req)
			expectErrIs(t, err, tt.want)
		})
	}

	links, err := iss.List(ctx, "tenant-a", "client-a")
	mustNoErr(t, err)
	if len(links) != 0 {
		t.Fatalf("rejected requests persisted %d links", len(links))
	}
}

func TestIssueZeroDayLinkIsBornExpired(t *testing.T) {
	st := seededStore()
	iss := newIssuer(t, st)
	out, err := iss.Issue(context.Background(), magiclink.IssueRequest{
		TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}, ExpiresInDays: intPtr(0),
	})
	mustNoErr(t, err)
	if got := magiclink.StatusOf(out.Link, issueNow); got != magiclink.StatusExpired {
		t.Fatalf("status = %q, want expired", got)
	}
}

func TestIssueRetriesHashCollision(t *testing.T) {
	st := seededStore()
	// The first two draws repeat the same bytes, the third differs.
	src := append(bytes.Repeat([]byte{1}, 64), bytes.Repeat([]byte{2}, 32)...)
	iss := newIssuer(t, st, magiclink.WithEntropy(bytes.NewReader(src)))
	ctx := context.Background()
	req := magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}}

	first, err := iss.Issue(ctx, req)
	mustNoErr(t, err)
	second, err := iss.Issue(ctx, req)
	mustNoErr(t, err)
	if first.RawToken == second.RawToken {
		t.Fatal("collision was not retried")
	}
}

func TestIssueGivesUpAfterRepeatedCollisions(t *testing.T) {
	st := seededStore()
	iss := newIssuer(t, st, magiclink.WithEntropy(bytes.NewReader(bytes.Repeat([]byte{7}, 32*4))))
	ctx := context.Background()
	req := magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}}

	_, err := iss.Issue(ctx, req)
	mustNoErr(t, err)
	_, err = iss.Issue(ctx, req)
	expectErrIs(t, err, magiclink.ErrConflict)
}

func TestIssueFailsWithoutEntropy(t *testing.T) {
	st := seededStore()
	iss := newIssuer(t, st, magiclink.WithEntropy(strings.NewReader("short")))
	_, err := iss.Issue(context.Background(), magiclink.IssueRequest{
		TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"},
	})
	if err == nil {
		t.Fatal("expected entropy failure")
	}
}

func TestRevokeIsIdempotentAndTenantScoped(t *testing.T) {
	st := seededStore()
	iss := newIssuer(t, st)
	ctx := context.Background()
	out, err := iss.Issue(ctx, magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}})
	mustNoErr(t, err)

	_, err = iss.Revoke(ctx, "tenant-b", out.Link.ID)
	expectErrIs(t, err, magiclink.ErrNotFound)

	first, err := iss.Revoke(ctx, "tenant-a", out.Link.ID)
	mustNoErr(t, err)
	if first.RevokedAt == nil {
		t.Fatal("revoked_at not set")
	}

	second, err := iss.Revoke(ctx, "tenant-a", out.Link.ID)
	mustNoErr(t, err)
	if second.RevokedAt == nil || !second.RevokedAt.Equal(*first.RevokedAt) {
		t.Fatalf("second revoke changed revoked_at: %v -> %v", *first.RevokedAt, second.RevokedAt)
	}

	_, err = iss.Get(ctx, "tenant-b", out.Link.ID)
	expectErrIs(t, err, magiclink.ErrNotFound)
	got, err := iss.Get(ctx, "tenant-a", out.Link.ID)
	mustNoErr(t, err)
	if status := magiclink.StatusOf(got, iss.Now()); status != magiclink.StatusRevoked {
		t.Fatalf("status = %q, want revoked", status)
	}

	for _, id := range []string{"unknown", strings.ToLower(out.Link.ID) + "x", "' or 1=1 --"} {
		_, err = iss.Get(ctx, "tenant-a", id)
		expectErrIs(t, err, magiclink.ErrNotFound)
		_, err = iss.Revoke(ctx, "tenant-a", id)
		expectErrIs(t, err, magiclink.ErrNotFound)
	}
}

func TestListNewestFirst(t *testing.T) {
	st := seededStore()
	now := issueNow
	iss := newIssuer(t, st, magiclink.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	req := magiclink.IssueRequest{TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}}

	a, err := iss.Issue(ctx, req)
	mustNoErr(t, err)
	now = now.Add(time.Minute)
	b, err := iss.Issue(ctx, req)
	mustNoErr(t, err)

	links, err := iss.List(ctx, "tenant-a", "client-a")
	mustNoErr(t, err)
	if len(links) != 2 || links[0].ID != b.Link.ID || links[1].ID != a.Link.ID {
		t.Fatalf("unexpected order: %+v", links)
	}

	other, err := iss.List(ctx, "tenant-b", "client-a")
	mustNoErr(t, err)
	if len(other) != 0 {
		t.Fatalf("other tenant sees %d links", len(other))
	}
}

func TestTrackerRecordsUseOnlyWhileUsable(t *testing.T) {
	st := seededStore()
	iss := newIssuer(t, st)
	ctx := context.Background()
	out, err := iss.Issue(ctx, magiclink.IssueRequest{
		TenantID: "tenant-a", SubjectID: "client-a", Scopes: []string{"view"}, MaxUses: intPtr(1),
	})
	mustNoErr(t, err)

	at := issueNow.Add(time.Second)
	tracker := magiclink.NewTracker(st, func() time.Time { return at })
	used, err := tracker.OnSuccess(ctx, out.Link.ID)
	mustNoErr(t, err)
	if used.UseCount != 1 {
		t.Fatalf("use_count = %d, want 1", used.UseCount)
	}
	if used.LastAccessedAt == nil || !used.LastAccessedAt.Equal(at) {
		t.Fatalf("last_accessed_at = %v, want %s", used.LastAccessedAt, at)
	}

	_, err = tracker.OnSuccess(ctx, out.Link.ID)
	expectErrIs(t, err, magiclink.ErrExhausted)
}
