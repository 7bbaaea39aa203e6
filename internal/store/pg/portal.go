package pg

import (
	"context"
	"database/sql"
	"errors"

	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/portal"
)

func (q queries) Subject(ctx context.Context, tenantID, subjectID string) (magiclink.Subject, error) {
	var (
		sub   magiclink.Subject
		phone sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		select id, tenant_id, name, phone from clients
		where tenant_id = $1 and id = $2
	`, tenantID, subjectID).Scan(&sub.ID, &sub.TenantID, &sub.Name, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		return magiclink.Subject{}, magiclink.ErrNotFound
	}
	if err != nil {
		return magiclink.Subject{}, err
	}
	sub.Phone = phone.String
	return sub, nil
}

func (q queries) ResourceBelongs(ctx context.Context, tenantID, subjectID, ref string) error {
	var one int
	err := q.db.QueryRowContext(ctx, `
		select 1 from quotations
		where tenant_id = $1 and client_id = $2 and id = $3
	`, tenantID, subjectID, ref).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return magiclink.ErrNotFound
	}
	return err
}

func (q queries) Tenant(ctx context.Context, id string) (portal.Tenant, error) {
	var t portal.Tenant
	err := q.db.QueryRowContext(ctx, `select id, name from tenants where id = $1`, id).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return portal.Tenant{}, portal.ErrNotFound
	}
	return t, err
}

func (q queries) Quotation(ctx context.Context, tenantID, clientID, id string) (portal.Quotation, error) {
	var (
		quote portal.Quotation
		notes sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		select id, tenant_id, client_id, status, currency, total_minor, notes, created_at
		from quotations
		where tenant_id = $1 and client_id = $2 and id = $3
	`, tenantID, clientID, id).Scan(&quote.ID, &quote.TenantID, &quote.ClientID, &quote.Status,
		&quote.Currency, &quote.TotalMinor, &notes, &quote.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return portal.Quotation{}, portal.ErrNotFound
	}
	if err != nil {
		return portal.Quotation{}, err
	}
	quote.Notes = notes.String
	quote.CreatedAt = quote.CreatedAt.UTC()

	rows, err := q.db.QueryContext(ctx, `
		select description, quantity, unit_price_minor
		from quotation_items
		where quotation_id = $1
		order by position
	`, quote.ID)
	if err != nil {
		return portal.Quotation{}, err
	}
	defer rows.Close()

	quote.Items = make([]portal.QuotationItem, 0)
	for rows.Next() {
		var it portal.QuotationItem
		if err := rows.Scan(&it.Description, &it.Quantity, &it.UnitPriceMinor); err != nil {
			return portal.Quotation{}, err
		}
		quote.Items = append(quote.Items, it)
	}
	if err := rows.Err(); err != nil {
		return portal.Quotation{}, err
	}
	return quote, nil
}

func (q queries) CreateQuotation(ctx context.Context, quote *portal.Quotation) error {
	if quote == nil {
		return portal.ErrInvalidInput
	}
	if _, err := q.db.ExecContext(ctx, `
		insert into quotations(id, tenant_id, client_id, status, currency, total_minor, notes, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, quote.ID, quote.TenantID, quote.ClientID, quote.Status, quote.Currency, quote.TotalMinor,
		nullIfEmpty(quote.Notes), quote.CreatedAt); err != nil {
		return err
	}
	for i, it := range quote.Items {
		if _, err := q.db.ExecContext(ctx, `
			insert into quotation_items(quotation_id, position, description, quantity, unit_price_minor)
			values ($1,$2,$3,$4,$5)
		`, quote.ID, i+1, it.Description, it.Quantity, it.UnitPriceMinor); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) PaymentMethods(ctx context.Context, tenantID string) ([]portal.PaymentMethod, error) {
	rows, err := q.db.QueryContext(ctx, `
		select id, tenant_id, kind, label, instructions
		from payment_methods
		where tenant_id = $1 and active
		order by label, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]portal.PaymentMethod, 0)
	for rows.Next() {
		var (
			pm    portal.PaymentMethod
			instr sql.NullString
		)
		if err := rows.Scan(&pm.ID, &pm.TenantID, &pm.Kind, &pm.Label, &instr); err != nil {
			return nil, err
		}
		pm.Instructions = instr.String
		methods = append(methods, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (q queries) Shipments(ctx context.Context, tenantID, clientID string, quotationID *string) ([]portal.Shipment, error) {
	rows, err := q.db.QueryContext(ctx, `
		select id, tenant_id, client_id, quotation_id, carrier, tracking_number, status, updated_at
		from shipments
		where tenant_id = $1 and client_id = $2
		  and ($3::text is null or quotation_id = $3)
		order by updated_at desc, id
	`, tenantID, clientID, nullString(quotationID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shipments := make([]portal.Shipment, 0)
	for rows.Next() {
		var (
			sh  portal.Shipment
			ref sql.NullString
		)
		if err := rows.Scan(&sh.ID, &sh.TenantID, &sh.ClientID, &ref, &sh.Carrier,
			&sh.TrackingNumber, &sh.Status, &sh.UpdatedAt); err != nil {
			return nil, err
		}
		sh.QuotationID = stringPtr(ref)
		sh.UpdatedAt = sh.UpdatedAt.UTC()
		shipments = append(shipments, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shipments, nil
}

// Pool-level reads used outside a unit of work.

func (s *Store) Subject(ctx context.Context, tenantID, subjectID string) (sub magiclink.Subject, err error) {
	err = s.withRetry(ctx, "client_get", func(ctx context.Context) error {
		sub, err = queries{db: s.db}.Subject(ctx, tenantID, subjectID)
		return err
	})
	return sub, err
}

func (s *Store) ResourceBelongs(ctx context.Context, tenantID, subjectID, ref string) error {
	return s.withRetry(ctx, "quotation_belongs", func(ctx context.Context) error {
		return queries{db: s.db}.ResourceBelongs(ctx, tenantID, subjectID, ref)
	})
}

func (s *Store) Tenant(ctx context.Context, id string) (t portal.Tenant, err error) {
	err = s.withRetry(ctx, "tenant_get", func(ctx context.Context) error {
		t, err = queries{db: s.db}.Tenant(ctx, id)
		return err
	})
	return t, err
}

func (s *Store) Quotation(ctx context.Context, tenantID, clientID, id string) (quote portal.Quotation, err error) {
	err = s.withRetry(ctx, "quotation_get", func(ctx context.Context) error {
		quote, err = queries{db: s.db}.Quotation(ctx, tenantID, clientID, id)
		return err
	})
	return quote, err
}

func (s *Store) CreateQuotation(ctx context.Context, quote *portal.Quotation) error {
	return s.withRetry(ctx, "quotation_create", func(ctx context.Context) error {
		return withTx(ctx, s.db, nil, func(ctx context.Context, tx dbtx) error {
			return queries{db: tx}.CreateQuotation(ctx, quote)
		})
	})
}

func (s *Store) PaymentMethods(ctx context.Context, tenantID string) (methods []portal.PaymentMethod, err error) {
	err = s.withRetry(ctx, "payment_methods_list", func(ctx context.Context) error {
		methods, err = queries{db: s.db}.PaymentMethods(ctx, tenantID)
		return err
	})
	return methods, err
}

func (s *Store) Shipments(ctx context.Context, tenantID, clientID string, quotationID *string) (shipments []portal.Shipment, err error) {
	err = s.withRetry(ctx, "shipments_list", func(ctx context.Context) error {
		shipments, err = queries{db: s.db}.Shipments(ctx, tenantID, clientID, quotationID)
		return err
	})
	return shipments, err
}
