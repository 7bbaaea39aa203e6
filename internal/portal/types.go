package portal

import (
	"context"
	"time"

	"sourcedesk.io/internal/magiclink"
)

// Tenant is the company that owns all data reachable through a link.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// QuotationItem is one priced line of a quotation, amounts in minor units.
type QuotationItem struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price"`
}

// Quotation is a client request for prices, or the company's answer to it.
type Quotation struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"company_id"`
	ClientID   string          `json:"client_id"`
	Status     string          `json:"status"`
	Currency   string          `json:"currency"`
	TotalMinor int64           `json:"total"`
	Notes      string          `json:"notes,omitempty"`
	Items      []QuotationItem `json:"items"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PaymentMethod is a way the tenant accepts payment.
type PaymentMethod struct {
	ID           string `json:"id"`
	TenantID     string `json:"-"`
	Kind         string `json:"kind"`
	Label        string `json:"label"`
	Instructions string `json:"instructions,omitempty"`
}

// Shipment tracks goods sent to a client.
type Shipment struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"-"`
	ClientID       string    `json:"-"`
	QuotationID    *string   `json:"quotation_id,omitempty"`
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"tracking_number"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary is what a valid link reveals about itself.
type Summary struct {
	LinkID        string            `json:"link_id"`
	TenantName    string            `json:"company_name"`
	SubjectName   string            `json:"client_name"`
	SubjectPhone  string            `json:"client_phone,omitempty"`
	Scopes        []magiclink.Scope `json:"scopes"`
	ExpiresAt     time.Time         `json:"expires_at"`
	RemainingUses *int              `json:"remaining_uses,omitempty"`
	QuotationID   *string           `json:"quotation_id,omitempty"`
}

// Repository reads and writes tenant data. Every method is filtered by tenant.
type Repository interface {
	Tenant(ctx context.Context, id string) (Tenant, error)
	Quotation(ctx context.Context, tenantID, clientID, id string) (Quotation, error)
	CreateQuotation(ctx context.Context, q *Quotation) error
	PaymentMethods(ctx context.Context, tenantID string) ([]PaymentMethod, error)
	Shipments(ctx context.Context, tenantID, clientID string, quotationID *string) ([]Shipment, error)
}

// UnitOfWork runs fn atomically: link reads, the tenant operation and the use
// increment commit together or not at all.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, links magiclink.Store, repo Repository) error) error
}
