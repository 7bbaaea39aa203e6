package main

import (
	"time"

	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/portal"
	"sourcedesk.io/internal/store/memory"
)

// Mirrors ops/migrations/seeds/0001_demo.sql so both stores start alike.
const (
	demoTenantID         = "01J0DEMOTENANT000000000000"
	demoClientID         = "01J0DEMOCL1ENT000000000000"
	demoQuotationID      = "01J0DEMOQV0TAT10N000000000"
	demoOperatorEmail    = "ops@demo.sourcedesk.io"
	demoOperatorPassword = "demo-password"
)

func seedDemo(st *memory.Store) error {
	hash, err := auth.HashPassword(demoOperatorPassword)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	quotationID := demoQuotationID

	st.AddTenant(portal.Tenant{ID: demoTenantID, Name: "Demo Sourcing Co"})
	st.AddOperator(auth.Operator{
		ID:           "01J0DEMOOPERATOR0000000000",
		TenantID:     demoTenantID,
		Email:        demoOperatorEmail,
		PasswordHash: hash,
		Role:         "admin",
		Status:       auth.OperatorStatusActive,
		CreatedAt:    now,
	})
	st.AddSubject(magiclink.Subject{ID: demoClientID, TenantID: demoTenantID, Name: "Demo Client", Phone: "+15550100"})
	st.AddQuotation(portal.Quotation{
		ID:         demoQuotationID,
		TenantID:   demoTenantID,
		ClientID:   demoClientID,
		Status:     "quoted",
		Currency:   "USD",
		TotalMinor: 125000,
		Notes:      "Sample quotation",
		Items:      []portal.QuotationItem{{Description: "Stainless bolts M8", Quantity: 1000, UnitPriceMinor: 125}},
		CreatedAt:  now,
	})
	st.AddPaymentMethod(portal.PaymentMethod{
		ID:           "01J0DEMOPAYMENT00000000000",
		TenantID:     demoTenantID,
		Kind:         "bank_transfer",
		Label:        "Wire transfer",
		Instructions: "Reference the quotation id on the transfer.",
	})
	st.AddShipment(portal.Shipment{
		ID:             "01J0DEMOSH1PMENT0000000000",
		TenantID:       demoTenantID,
		ClientID:       demoClientID,
		QuotationID:    &quotationID,
		Carrier:        "DHL",
		TrackingNumber: "JD014600006281230",
		Status:         "in_transit",
		UpdatedAt:      now,
	})
	return nil
}
