package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

const defaultAccessTTL = 15 * time.Minute

// Service authenticates operators and resolves bearer tokens.
type Service struct {
	store     OperatorStore
	signer    *Signer
	accessTTL time.Duration
}

// NewService constructs Service. A non-positive ttl selects the default.
func NewService(store OperatorStore, signer *Signer, ttl time.Duration) (*Service, error) {
	if store == nil || signer == nil {
		return nil, errors.New("auth: store and signer are required")
	}
	if ttl <= 0 {
		ttl = defaultAccessTTL
	}
	return &Service{store: store, signer: signer, accessTTL: ttl}, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", time.Time{}, Principal{}, ErrUnauthorized
	}
	op, err := s.store.OperatorByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, Principal{}, ErrUnauthorized
		}
		return "", time.Time{}, Principal{}, err
	}
	if op.Status != OperatorStatusActive {
		return "", time.Time{}, Principal{}, ErrUnauthorized
	}
	if err := VerifyPassword(op.PasswordHash, password); err != nil {
		return "", time.Time{}, Principal{}, ErrUnauthorized
	}
	principal := NewPrincipal(op)
	token, exp, err := s.signer.Sign(principal, s.accessTTL)
	if err != nil {
		return "", time.Time{}, Principal{}, err
	}
	return token, exp, principal, nil
}

// Authenticate validates a bearer token and reloads the operator so disabled
// accounts and tenant moves take effect before the token expires.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	op, err := s.store.Operator(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if op.Status != OperatorStatusActive || op.TenantID != claims.Org {
		return Principal{}, ErrInvalidToken
	}
	return NewPrincipal(op), nil
}
