/*
settlement.go - Settlement obligations and the Settlement Manager

PURPOSE:
  One payment obligation per approved request, owned by the requester
  (now the payer). The amount due is computed once, at approval, from the
  price snapshotted on the obligation; later price edits on the listing
  never change what is owed.

BOUNDARY:
  This component never talks to the payment processor. The checkout
  widget is an external collaborator; MarkPaid only records the outcome
  it is handed (an opaque transaction reference) and deletes the
  obligation. A failed checkout hands us nothing, so the obligation
  stays pending and visible for retry.

SEE ALSO:
  - request.go: newObligation, the only creation path
*/
package marketplace

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTLEMENT OBLIGATION
// =============================================================================

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// SettlementObligation is an amount owed by a requester for an approved
// request. Its id equals the originating request id (1:1). Listing name,
// unit price and quantity are snapshotted so the payer's ledger renders
// without joining back to the catalog.
type SettlementObligation struct {
	ID            ObligationID    `json:"id"` // = originating request id
	Payer         RoleRef         `json:"payer"`
	Owner         RoleRef         `json:"owner"` // who gets paid
	CatalogItemID ItemID          `json:"catalog_item_id"`
	ItemName      string          `json:"item_name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int64           `json:"quantity"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// =============================================================================
// SETTLEMENT MANAGER
// =============================================================================

// SettlementService manages the payer-side obligation ledger.
type SettlementService struct {
	Store TxStore
	Hub   *Hub
}

// NewSettlementService creates a settlement manager over the given store.
func NewSettlementService(store TxStore, hub *Hub) *SettlementService {
	return &SettlementService{Store: store, Hub: hub}
}

// ListObligations returns a payer's outstanding obligations.
func (ss *SettlementService) ListObligations(ctx context.Context, payer RoleRef) ([]SettlementObligation, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	obs, err := ss.Store.ListObligations(ctx, payer)
	return obs, remoteErr("settlement.list", err)
}

// MarkPaid records a confirmed external payment and removes the obligation
// from the payer's ledger. The external reference is required: without a
// confirmation from the processor nothing is recorded and the obligation
// remains pending.
func (ss *SettlementService) MarkPaid(ctx context.Context, id ObligationID, externalPaymentRef string) error {
	if strings.TrimSpace(externalPaymentRef) == "" {
		return &ValidationError{Field: "payment_ref", Reason: "is required"}
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	ob, err := ss.Store.GetObligation(ctx, id)
	if err != nil {
		return remoteErr("settlement.markpaid", err)
	}
	if ob == nil {
		return &NotFoundError{Collection: "settlements", ID: string(id)}
	}

	settled := *ob
	settled.PaymentStatus = PaymentPaid
	ev := obligationEvent(EventObligationSettled, settled)
	ev.Body["payment_ref"] = externalPaymentRef

	err = ss.Store.WithTx(ctx, func(s Store) error {
		if err := s.DeleteObligation(ctx, id); err != nil {
			return err
		}
		return s.AppendChange(ctx, ev)
	})
	if err != nil {
		return remoteErr("settlement.markpaid", err)
	}

	ss.Hub.Publish(ev)
	return nil
}
