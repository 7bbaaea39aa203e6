package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"sourcedesk.io/internal/audit"
	"sourcedesk.io/internal/ids"
	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/obs"
)

const (
	opValidate       = "validate"
	opViewQuotation  = "view_quotation"
	opCreateQuote    = "create_quotation"
	opPaymentMethods = "payment_methods"
	opShipments      = "shipments"

	maxQuotationItems = 100
)

// Service implements the token-gated client portal.
type Service struct {
	uow UnitOfWork
	now func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service.
func NewService(uow UnitOfWork, opts ...Option) (*Service, error) {
	if uow == nil {
		return nil, errors.New("portal: unit of work is required")
	}
	s := &Service{uow: uow, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Assertions are identifiers a caller sent alongside the token. They are never
// used to select data, only compared with the link.
type Assertions struct {
	TenantID    string
	SubjectID   string
	QuotationID string
}

func (a Assertions) check(link magiclink.Link) error {
	if v := strings.TrimSpace(a.TenantID); v != "" && v != link.TenantID {
		return magiclink.ErrResourceMismatch
	}
	if v := strings.TrimSpace(a.SubjectID); v != "" && v != link.SubjectID {
		return magiclink.ErrResourceMismatch
	}
	if v := strings.TrimSpace(a.QuotationID); v != "" && link.ResourceRef != nil && v != *link.ResourceRef {
		return magiclink.ErrResourceMismatch
	}
	return nil
}

type requirement struct {
	operation string
	scope     magiclink.Scope
	assert    Assertions
}

type operation func(ctx context.Context, link magiclink.Link, repo Repository) error

// guard is the one path every portal operation takes: look the token up,
// evaluate it, check scope and asserted identifiers, run op, and record the
// use last, all inside one unit of work.
func (s *Service) guard(ctx context.Context, raw string, req requirement, op operation) (magiclink.Link, error) {
	if !magiclink.WellFormed(raw) {
		return magiclink.Link{}, s.denied(ctx, req.operation, magiclink.Link{}, "", magiclink.ErrNotFound)
	}
	hash := magiclink.Hash(raw)

	var (
		seen magiclink.Link
		used magiclink.Link
	)
	err := s.uow.Do(ctx, func(ctx context.Context, links magiclink.Store, repo Repository) error {
		link, err := links.FindByHash(ctx, hash)
		found := err == nil
		if err != nil && !errors.Is(err, magiclink.ErrNotFound) {
			return err
		}
		seen = link
		if d := magiclink.Evaluate(link, found, s.now().UTC()); !d.Allowed {
			return d.Err()
		}
		if req.scope != "" && !link.HasScope(req.scope) {
			return magiclink.ErrInsufficientScope
		}
		if err := req.assert.check(link); err != nil {
			return err
		}
		if op != nil {
			if err := op(ctx, link, repo); err != nil {
				return err
			}
		}
		used, err = magiclink.NewTracker(links, s.now).OnSuccess(ctx, link.ID)
		return err
	})
	if err != nil {
		if magiclink.IsDenial(err) {
			return magiclink.Link{}, s.denied(ctx, req.operation, seen, hash, err)
		}
		obs.Logger().ErrorContext(ctx, "portal operation failed",
			slog.String("operation", req.operation),
			slog.String("link_id", seen.ID),
			slog.String("error", err.Error()))
		obs.ObserveDecision(req.operation, "error")
		return magiclink.Link{}, err
	}
	obs.ObserveDecision(req.operation, "allow")
	_ = audit.LogEvent(ctx, "magiclink.used", map[string]any{
		"operation": req.operation,
		"link_id":   used.ID,
		"tenant_id": used.TenantID,
		"use_count": used.UseCount,
	})
	return used, nil
}

// denied logs the precise reason internally and returns the uniform denial.
func (s *Service) denied(ctx context.Context, operation string, link magiclink.Link, hash string, cause error) error {
	reason := magiclink.ReasonOf(cause)
	fields := map[string]any{
		"operation": operation,
		"reason":    string(reason),
	}
	if link.ID != "" {
		fields["link_id"] = link.ID
		fields["tenant_id"] = link.TenantID
	}
	if len(hash) >= 12 {
		fields["token_hash_prefix"] = hash[:12]
	}
	_ = audit.LogEvent(ctx, "magiclink.denied", fields)
	obs.ObserveDecision(operation, string(reason))
	return &DeniedError{Reason: reason}
}

// Validate checks a link without touching resource tables beyond the tenant
// name, and counts as one use.
func (s *Service) Validate(ctx context.Context, raw string, assert Assertions) (Summary, error) {
	var tenant Tenant
	link, err := s.guard(ctx, raw, requirement{operation: opValidate, assert: assert},
		func(ctx context.Context, link magiclink.Link, repo Repository) error {
			var err error
			tenant, err = repo.Tenant(ctx, link.TenantID)
			return err
		})
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		LinkID:        link.ID,
		TenantName:    tenant.Name,
		SubjectName:   link.SubjectNameSnapshot,
		SubjectPhone:  link.SubjectPhoneSnapshot,
		Scopes:        link.Scopes,
		ExpiresAt:     link.ExpiresAt,
		RemainingUses: link.RemainingUses(),
		QuotationID:   link.ResourceRef,
	}, nil
}

// ViewQuotation returns a quotation of the link's client. A link bound to a
// quotation can only read that quotation.
func (s *Service) ViewQuotation(ctx context.Context, raw, quotationID string, assert Assertions) (Quotation, error) {
	quotationID = strings.TrimSpace(quotationID)
	if quotationID == "" {
		return Quotation{}, fmt.Errorf("%w: quotation id is required", ErrInvalidInput)
	}
	assert.QuotationID = quotationID
	return s.viewQuotation(ctx, raw, assert, func(link magiclink.Link) (string, error) {
		if link.ResourceRef != nil && *link.ResourceRef != quotationID {
			return "", magiclink.ErrResourceMismatch
		}
		return quotationID, nil
	})
}

// ScopedQuotation returns the quotation the link was issued for.
func (s *Service) ScopedQuotation(ctx context.Context, raw string, assert Assertions) (Quotation, error) {
	return s.viewQuotation(ctx, raw, assert, func(link magiclink.Link) (string, error) {
		if link.ResourceRef == nil {
			return "", magiclink.ErrResourceMismatch
		}
		return *link.ResourceRef, nil
	})
}

func (s *Service) viewQuotation(ctx context.Context, raw string, assert Assertions, target func(magiclink.Link) (string, error)) (Quotation, error) {
	var q Quotation
	_, err := s.guard(ctx, raw, requirement{operation: opViewQuotation, scope: magiclink.ScopeView, assert: assert},
		func(ctx context.Context, link magiclink.Link, repo Repository) error {
			id, err := target(link)
			if err != nil {
				return err
			}
			q, err = repo.Quotation(ctx, link.TenantID, link.SubjectID, id)
			if errors.Is(err, ErrNotFound) {
				// Outside the link's tenant or client: same answer as any other refusal.
				return magiclink.ErrResourceMismatch
			}
			return err
		})
	if err != nil {
		return Quotation{}, err
	}
	return q, nil
}

// QuotationInput is a client-submitted quotation request.
type QuotationInput struct {
	Currency string
	Notes    string
	Items    []QuotationItem
	// Asserted identifiers, compared with the link.
	CompanyID string
	ClientID  string

	total int64
}

func (in QuotationInput) normalize() (QuotationInput, error) {
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if len(in.Currency) != 3 {
		return in, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}
	if len(in.Items) == 0 {
		return in, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	if len(in.Items) > maxQuotationItems {
		return in, fmt.Errorf("%w: at most %d items are allowed", ErrInvalidInput, maxQuotationItems)
	}
	items := make([]QuotationItem, len(in.Items))
	for i, it := range in.Items {
		it.Description = strings.TrimSpace(it.Description)
		if it.Description == "" {
			return in, fmt.Errorf("%w: item %d needs a description", ErrInvalidInput, i+1)
		}
		if it.Quantity <= 0 {
			return in, fmt.Errorf("%w: item %d quantity must be > 0", ErrInvalidInput, i+1)
		}
		if it.Quantity > math.MaxInt32 {
			return in, fmt.Errorf("%w: item %d quantity is too large", ErrInvalidInput, i+1)
		}
		if it.UnitPriceMinor < 0 {
			return in, fmt.Errorf("%w: item %d unit_price must be >= 0", ErrInvalidInput, i+1)
		}
		line := int64(it.Quantity) * it.UnitPriceMinor
		if it.UnitPriceMinor != 0 && line/it.UnitPriceMinor != int64(it.Quantity) {
			return in, fmt.Errorf("%w: item %d amount overflows", ErrInvalidInput, i+1)
		}
		if in.total > math.MaxInt64-line {
			return in, fmt.Errorf("%w: quotation total overflows", ErrInvalidInput)
		}
		in.total += line
		items[i] = it
	}
	in.Items = items
	in.Notes = strings.TrimSpace(in.Notes)
	return in, nil
}

// CreateQuotation files a new quotation request for the link's client. The
// quotation and the use are committed together.
func (s *Service) CreateQuotation(ctx context.Context, raw string, in QuotationInput) (Quotation, error) {
	in, err := in.normalize()
	if err != nil {
		return Quotation{}, err
	}
	var q Quotation
	assert := Assertions{TenantID: in.CompanyID, SubjectID: in.ClientID}
	_, err = s.guard(ctx, raw, requirement{operation: opCreateQuote, scope: magiclink.ScopeCreate, assert: assert},
		func(ctx context.Context, link magiclink.Link, repo Repository) error {
			now := s.now().UTC()
			q = Quotation{
				ID:         ids.NewAt(now),
				TenantID:   link.TenantID,
				ClientID:   link.SubjectID,
				Status:     "requested",
				Currency:   in.Currency,
				Notes:      in.Notes,
				Items:      in.Items,
				TotalMinor: in.total,
				CreatedAt:  now,
			}
			return repo.CreateQuotation(ctx, &q)
		})
	if err != nil {
		return Quotation{}, err
	}
	_ = audit.LogEvent(ctx, "portal.quotation.created", map[string]any{
		"quotation_id": q.ID,
		"tenant_id":    q.TenantID,
		"client_id":    q.ClientID,
	})
	return q, nil
}

// ListPaymentMethods returns the tenant's payment methods.
func (s *Service) ListPaymentMethods(ctx context.Context, raw string, assert Assertions) ([]PaymentMethod, error) {
	var methods []PaymentMethod
	_, err := s.guard(ctx, raw, requirement{operation: opPaymentMethods, scope: magiclink.ScopePay, assert: assert},
		func(ctx context.Context, link magiclink.Link, repo Repository) error {
			var err error
			methods, err = repo.PaymentMethods(ctx, link.TenantID)
			return err
		})
	if err != nil {
		return nil, err
	}
	return methods, nil
}

// ListShipments returns the client's shipments, limited to the link's
// quotation when it has one.
func (s *Service) ListShipments(ctx context.Context, raw string, assert Assertions) ([]Shipment, error) {
	var shipments []Shipment
	_, err := s.guard(ctx, raw, requirement{operation: opShipments, scope: magiclink.ScopeTrack, assert: assert},
		func(ctx context.Context, link magiclink.Link, repo Repository) error {
			var err error
			shipments, err = repo.Shipments(ctx, link.TenantID, link.SubjectID, link.ResourceRef)
			return err
		})
	if err != nil {
		return nil, err
	}
	return shipments, nil
}
