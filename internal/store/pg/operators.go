package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sourcedesk.io/internal/auth"
)

const operatorColumns = `id, tenant_id, email, password_hash, role, status, created_at`

func scanOperator(row rowScanner) (auth.Operator, error) {
	var op auth.Operator
	err := row.Scan(&op.ID, &op.TenantID, &op.Email, &op.PasswordHash, &op.Role, &op.Status, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Operator{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Operator{}, err
	}
	op.CreatedAt = op.CreatedAt.UTC()
	return op, nil
}

func (s *Store) OperatorByEmail(ctx context.Context, email string) (op auth.Operator, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	err = s.withRetry(ctx, "operator_by_email", func(ctx context.Context) error {
		op, err = scanOperator(s.db.QueryRowContext(ctx,
			`select `+operatorColumns+` from operators where lower(email) = $1`, email))
		return err
	})
	return op, err
}

func (s *Store) Operator(ctx context.Context, id string) (op auth.Operator, err error) {
	err = s.withRetry(ctx, "operator_get", func(ctx context.Context) error {
		op, err = scanOperator(s.db.QueryRowContext(ctx,
			`select `+operatorColumns+` from operators where id = $1`, id))
		return err
	})
	return op, err
}
