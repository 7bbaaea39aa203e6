package httpapi

import (
	"net/http"

	"sourcedesk.io/internal/portal"
)

type createQuotationRequest struct {
	CompanyID string                 `json:"company_id,omitempty"`
	ClientID  string                 `json:"client_id,omitempty"`
	Currency  string                 `json:"currency"`
	Notes     string                 `json:"notes,omitempty"`
	Items     []portal.QuotationItem `json:"items"`
}

type paymentMethodsResponse struct {
	PaymentMethods []portal.PaymentMethod `json:"payment_methods"`
}

type shipmentsResponse struct {
	Shipments []portal.Shipment `json:"shipments"`
}

// assertionsFrom reads identifiers the portal page echoes back. They only
// narrow access; the link alone decides which data is read.
func assertionsFrom(r *http.Request) portal.Assertions {
	q := r.URL.Query()
	return portal.Assertions{
		TenantID:    q.Get("company_id"),
		SubjectID:   q.Get("client_id"),
		QuotationID: q.Get("quotation_id"),
	}
}

func (a *API) portalValidate(w http.ResponseWriter, r *http.Request) {
	summary, err := a.portal.Validate(r.Context(), r.PathValue("token"), assertionsFrom(r))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) portalScopedQuotation(w http.ResponseWriter, r *http.Request) {
	q, err := a.portal.ScopedQuotation(r.Context(), r.PathValue("token"), assertionsFrom(r))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) portalQuotation(w http.ResponseWriter, r *http.Request) {
	q, err := a.portal.ViewQuotation(r.Context(), r.PathValue("token"), r.PathValue("id"), assertionsFrom(r))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) portalCreateQuotation(w http.ResponseWriter, r *http.Request) {
	var req createQuotationRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	q, err := a.portal.CreateQuotation(r.Context(), r.PathValue("token"), portal.QuotationInput{
		Currency:  req.Currency,
		Notes:     req.Notes,
		Items:     req.Items,
		CompanyID: req.CompanyID,
		ClientID:  req.ClientID,
	})
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (a *API) portalPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := a.portal.ListPaymentMethods(r.Context(), r.PathValue("token"), assertionsFrom(r))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	if methods == nil {
		methods = []portal.PaymentMethod{}
	}
	writeJSON(w, http.StatusOK, paymentMethodsResponse{PaymentMethods: methods})
}

func (a *API) portalShipments(w http.ResponseWriter, r *http.Request) {
	shipments, err := a.portal.ListShipments(r.Context(), r.PathValue("token"), assertionsFrom(r))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	if shipments == nil {
		shipments = []portal.Shipment{}
	}
	writeJSON(w, http.StatusOK, shipmentsResponse{Shipments: shipments})
}
