package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubOperatorStore struct {
	byEmail map[string]Operator
}

func (s *stubOperatorStore) OperatorByEmail(_ context.Context, email string) (Operator, error) {
	op, ok := s.byEmail[email]
	if !ok {
		return Operator{}, ErrNotFound
	}
	return op, nil
}

func (s *stubOperatorStore) Operator(_ context.Context, id string) (Operator, error) {
	for _, op := range s.byEmail {
		if op.ID == id {
			return op, nil
		}
	}
	return Operator{}, ErrNotFound
}

func newTestService(t *testing.T, now func() time.Time, ops ...Operator) (*Service, *stubOperatorStore) {
	t.Helper()
	store := &stubOperatorStore{byEmail: map[string]Operator{}}
	for _, op := range ops {
		store.byEmail[op.Email] = op
	}
	signer, err := NewSigner("test-secret", now)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	svc, err := NewService(store, signer, time.Minute)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func testOperator(t *testing.T, role string) Operator {
	t.Helper()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return Operator{
		ID:           "op-1",
		TenantID:     "tenant-a",
		Email:        "ops@tenant-a.test",
		PasswordHash: hash,
		Role:         role,
		Status:       OperatorStatusActive,
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, nil, testOperator(t, "staff"))

	token, exp, principal, err := svc.Login(context.Background(), "  OPS@tenant-a.test ", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}
	if !principal.HasPermission(PermLinksIssue) || principal.HasPermission(PermLinksRevoke) {
		t.Fatalf("unexpected staff permissions: %v", principal.Permissions)
	}

	got, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.UserID != "op-1" || got.TenantID != "tenant-a" {
		t.Fatalf("unexpected principal: %+v", got)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	disabled := testOperator(t, "owner")
	disabled.ID = "op-2"
	disabled.Email = "gone@tenant-a.test"
	disabled.Status = OperatorStatusDisabled
	svc, _ := newTestService(t, nil, testOperator(t, "owner"), disabled)

	cases := []struct{ email, password string }{
		{"ops@tenant-a.test", "wrong"},
		{"nobody@tenant-a.test", "s3cret"},
		{"gone@tenant-a.test", "s3cret"},
		{"", ""},
	}
	for _, tc := range cases {
		if _, _, _, err := svc.Login(context.Background(), tc.email, tc.password); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Login(%q) err = %v, want ErrUnauthorized", tc.email, err)
		}
	}
}

func TestAuthenticateRejectsExpiredAndForeignTokens(t *testing.T) {
	current := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	op := testOperator(t, "admin")
	svc, store := newTestService(t, clock, op)

	token, _, _, err := svc.Login(context.Background(), op.Email, "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	moved := op
	moved.TenantID = "tenant-b"
	store.byEmail[op.Email] = moved
	if _, err := svc.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after tenant change, got %v", err)
	}

	store.byEmail[op.Email] = op
	current = current.Add(2 * time.Minute)
	if _, err := svc.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestSignerRejectsOtherSecret(t *testing.T) {
	a, _ := NewSigner("secret-a", nil)
	b, _ := NewSigner("secret-b", nil)
	p := Principal{UserID: "u", TenantID: "t", Permissions: PermissionsForRole("viewer")}
	token, _, err := a.Sign(p, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	claims, err := a.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Org != "t" || len(claims.Permissions) != 1 || claims.Permissions[0] != PermLinksRead {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner("   ", nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
