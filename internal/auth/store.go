package auth

import "context"

// OperatorStore looks up operator accounts.
type OperatorStore interface {
	OperatorByEmail(ctx context.Context, email string) (Operator, error)
	Operator(ctx context.Context, id string) (Operator, error)
}
