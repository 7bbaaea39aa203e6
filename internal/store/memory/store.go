// Package memory is an in-process store used by tests and the dev server.
// It implements the link store, the tenant directory and repository, the
// operator store and the portal unit of work over one mutex-guarded state.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/portal"
)

// Store keeps all data in memory. Do runs units of work one at a time on a
// copy of the state and publishes the copy only on success.
type Store struct {
	mu sync.Mutex
	st *state
}

var (
	_ magiclink.Store     = (*Store)(nil)
	_ magiclink.Directory = (*Store)(nil)
	_ portal.Repository   = (*Store)(nil)
	_ portal.UnitOfWork   = (*Store)(nil)
	_ auth.OperatorStore  = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// Do implements portal.UnitOfWork.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, links magiclink.Store, repo portal.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(ctx, work, work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Insert(ctx context.Context, link *magiclink.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Insert(ctx, link)
}

func (s *Store) FindByHash(ctx context.Context, hash string) (magiclink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FindByHash(ctx, hash)
}

func (s *Store) FindByID(ctx context.Context, tenantID, id string) (magiclink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FindByID(ctx, tenantID, id)
}

func (s *Store) ListBySubject(ctx context.Context, tenantID, subjectID string) ([]magiclink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListBySubject(ctx, tenantID, subjectID)
}

func (s *Store) MarkRevoked(ctx context.Context, tenantID, id string, at time.Time) (magiclink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.MarkRevoked(ctx, tenantID, id, at)
}

func (s *Store) RecordUse(ctx context.Context, id string, at time.Time) (magiclink.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RecordUse(ctx, id, at)
}

func (s *Store) Subject(ctx context.Context, tenantID, subjectID string) (magiclink.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Subject(ctx, tenantID, subjectID)
}

func (s *Store) ResourceBelongs(ctx context.Context, tenantID, subjectID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ResourceBelongs(ctx, tenantID, subjectID, ref)
}

func (s *Store) Tenant(ctx context.Context, id string) (portal.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Tenant(ctx, id)
}

func (s *Store) Quotation(ctx context.Context, tenantID, clientID, id string) (portal.Quotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Quotation(ctx, tenantID, clientID, id)
}

func (s *Store) CreateQuotation(ctx context.Context, q *portal.Quotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateQuotation(ctx, q)
}

func (s *Store) PaymentMethods(ctx context.Context, tenantID string) ([]portal.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.PaymentMethods(ctx, tenantID)
}

func (s *Store) Shipments(ctx context.Context, tenantID, clientID string, quotationID *string) ([]portal.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Shipments(ctx, tenantID, clientID, quotationID)
}

func (s *Store) OperatorByEmail(ctx context.Context, email string) (auth.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.OperatorByEmail(ctx, email)
}

func (s *Store) Operator(ctx context.Context, id string) (auth.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Operator(ctx, id)
}

// Seeding helpers.

func (s *Store) AddTenant(t portal.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tenants[t.ID] = t
}

func (s *Store) AddSubject(sub magiclink.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.subjects[sub.ID] = sub
}

func (s *Store) AddQuotation(q portal.Quotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.quotations[q.ID] = cloneQuotation(q)
}

func (s *Store) AddPaymentMethod(pm portal.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payments = append(s.st.payments, pm)
}

func (s *Store) AddShipment(sh portal.Shipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.shipments = append(s.st.shipments, sh)
}

func (s *Store) AddOperator(op auth.Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.operators[op.ID] = op
}

// QuotationCount returns how many quotations a client has, for tests.
func (s *Store) QuotationCount(tenantID, clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.st.quotations {
		if q.TenantID == tenantID && q.ClientID == clientID {
			n++
		}
	}
	return n
}

type state struct {
	links      map[string]magiclink.Link
	byHash     map[string]string
	tenants    map[string]portal.Tenant
	subjects   map[string]magiclink.Subject
	quotations map[string]portal.Quotation
	payments   []portal.PaymentMethod
	shipments  []portal.Shipment
	operators  map[string]auth.Operator
}

func newState() *state {
	return &state{
		links:      make(map[string]magiclink.Link),
		byHash:     make(map[string]string),
		tenants:    make(map[string]portal.Tenant),
		subjects:   make(map[string]magiclink.Subject),
		quotations: make(map[string]portal.Quotation),
		operators:  make(map[string]auth.Operator),
	}
}

// clone copies everything a unit of work can write. Read-only seed data is
// shared.
func (st *state) clone() *state {
	out := &state{
		links:      make(map[string]magiclink.Link, len(st.links)),
		byHash:     make(map[string]string, len(st.byHash)),
		tenants:    st.tenants,
		subjects:   st.subjects,
		quotations: make(map[string]portal.Quotation, len(st.quotations)),
		payments:   st.payments,
		shipments:  st.shipments,
		operators:  st.operators,
	}
	for k, v := range st.links {
		out.links[k] = v.Clone()
	}
	for k, v := range st.byHash {
		out.byHash[k] = v
	}
	for k, v := range st.quotations {
		out.quotations[k] = cloneQuotation(v)
	}
	return out
}

func (st *state) Insert(_ context.Context, link *magiclink.Link) error {
	if link == nil || link.ID == "" || link.TokenHash == "" {
		return magiclink.ErrInvalidInput
	}
	if _, taken := st.byHash[link.TokenHash]; taken {
		return magiclink.ErrConflict
	}
	if _, taken := st.links[link.ID]; taken {
		return magiclink.ErrConflict
	}
	st.links[link.ID] = link.Clone()
	st.byHash[link.TokenHash] = link.ID
	return nil
}

func (st *state) FindByHash(_ context.Context, hash string) (magiclink.Link, error) {
	id, ok := st.byHash[hash]
	if !ok {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	link := st.links[id]
	if !magiclink.ConstantTimeEqual(link.TokenHash, hash) {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	return link.Clone(), nil
}

func (st *state) FindByID(_ context.Context, tenantID, id string) (magiclink.Link, error) {
	link, ok := st.links[id]
	if !ok || link.TenantID != tenantID {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	return link.Clone(), nil
}

func (st *state) ListBySubject(_ context.Context, tenantID, subjectID string) ([]magiclink.Link, error) {
	out := make([]magiclink.Link, 0)
	for _, link := range st.links {
		if link.TenantID == tenantID && link.SubjectID == subjectID {
			out = append(out, link.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (st *state) MarkRevoked(_ context.Context, tenantID, id string, at time.Time) (magiclink.Link, error) {
	link, ok := st.links[id]
	if !ok || link.TenantID != tenantID {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	if link.RevokedAt == nil {
		at = at.UTC()
		link.RevokedAt = &at
		st.links[id] = link
	}
	return link.Clone(), nil
}

func (st *state) RecordUse(_ context.Context, id string, at time.Time) (magiclink.Link, error) {
	link, ok := st.links[id]
	if !ok {
		return magiclink.Link{}, magiclink.ErrNotFound
	}
	if d := magiclink.Evaluate(link, true, at); !d.Allowed {
		return magiclink.Link{}, d.Err()
	}
	at = at.UTC()
	link.UseCount++
	link.LastAccessedAt = &at
	st.links[id] = link
	return link.Clone(), nil
}

func (st *state) Subject(_ context.Context, tenantID, subjectID string) (magiclink.Subject, error) {
	sub, ok := st.subjects[subjectID]
	if !ok || sub.TenantID != tenantID {
		return magiclink.Subject{}, magiclink.ErrNotFound
	}
	return sub, nil
}

func (st *state) ResourceBelongs(_ context.Context, tenantID, subjectID, ref string) error {
	q, ok := st.quotations[ref]
	if !ok || q.TenantID != tenantID || q.ClientID != subjectID {
		return magiclink.ErrNotFound
	}
	return nil
}

func (st *state) Tenant(_ context.Context, id string) (portal.Tenant, error) {
	t, ok := st.tenants[id]
	if !ok {
		return portal.Tenant{}, portal.ErrNotFound
	}
	return t, nil
}

func (st *state) Quotation(_ context.Context, tenantID, clientID, id string) (portal.Quotation, error) {
	q, ok := st.quotations[id]
	if !ok || q.TenantID != tenantID || q.ClientID != clientID {
		return portal.Quotation{}, portal.ErrNotFound
	}
	return cloneQuotation(q), nil
}

func (st *state) CreateQuotation(_ context.Context, q *portal.Quotation) error {
	if q == nil || q.ID == "" {
		return portal.ErrInvalidInput
	}
	if _, ok := st.subjects[q.ClientID]; !ok {
		return portal.ErrNotFound
	}
	st.quotations[q.ID] = cloneQuotation(*q)
	return nil
}

func (st *state) PaymentMethods(_ context.Context, tenantID string) ([]portal.PaymentMethod, error) {
	out := make([]portal.PaymentMethod, 0)
	for _, pm := range st.payments {
		if pm.TenantID == tenantID {
			out = append(out, pm)
		}
	}
	return out, nil
}

func (st *state) Shipments(_ context.Context, tenantID, clientID string, quotationID *string) ([]portal.Shipment, error) {
	out := make([]portal.Shipment, 0)
	for _, sh := range st.shipments {
		if sh.TenantID != tenantID || sh.ClientID != clientID {
			continue
		}
		if quotationID != nil && (sh.QuotationID == nil || *sh.QuotationID != *quotationID) {
			continue
		}
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (st *state) OperatorByEmail(_ context.Context, email string) (auth.Operator, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, op := range st.operators {
		if strings.ToLower(op.Email) == email {
			return op, nil
		}
	}
	return auth.Operator{}, auth.ErrNotFound
}

func (st *state) Operator(_ context.Context, id string) (auth.Operator, error) {
	op, ok := st.operators[id]
	if !ok {
		return auth.Operator{}, auth.ErrNotFound
	}
	return op, nil
}

func cloneQuotation(q portal.Quotation) portal.Quotation {
	q.Items = append([]portal.QuotationItem(nil), q.Items...)
	return q
}
