/*
request.go - Cross-role reservation request lifecycle

PURPOSE:
  Handles the full lifecycle of reservation requests between roles:
  1. Submit:  requester asks for quantity from another role's listing
  2. Pending: visible in the owner's inbox and the requester's outbox
  3. Approve: decrement stock, flip status, create settlement obligation
  4. Reject:  flip status, nothing else

REQUEST FLOW:

  requester                owner                       payer ledger
     │  Submit(item, qty)    │                              │
     ├──────────────────────▶│ pending                      │
     │                       │  Approve ──▶ one atomic      │
     │                       │  commit: qty -= n,           │
     │                       │  status = approved,  ────────▶ obligation
     │                       │  obligation created          │ (amount =
     │                       │  Reject  ──▶ status only     │  price × n)

STATE MACHINE:
  pending -> approved | rejected. Terminal states never change again;
  a second decision fails with InvalidTransitionError and mutates nothing.

ATOMICITY:
  Approve performs its three writes (quantity decrement, status flip,
  obligation creation) plus outbox events inside one WithTx commit while
  holding the per-item lock. Competing approvals against one item are
  serialized: the first to commit wins, the rest fail with
  InsufficientStockError once remaining stock runs out. Stock is never
  oversold and no partial state is ever visible.

SEE ALSO:
  - catalog.go:    AdjustQuantity, the single quantity mutation path
  - settlement.go: The obligation created on approval
*/
package marketplace

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// REQUEST
// =============================================================================

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether a status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// Request is a cross-role ask to reserve quantity from one catalog item.
// Requests are mutated exactly once (by the target owner's decision) and
// never deleted: terminal rows are the accepted/declined history.
type Request struct {
	ID                RequestID     `json:"id"`
	Target            RoleRef       `json:"target"`    // owner of the listing
	Requester         RoleRef       `json:"requester"` // who asked
	CatalogItemID     ItemID        `json:"catalog_item_id"`
	ItemName          string        `json:"item_name"`
	RequestedQuantity int64         `json:"requested_quantity"`
	Status            RequestStatus `json:"status"`
	Reason            string        `json:"reason,omitempty"` // set on rejection
	DecidedBy         ActorID       `json:"decided_by,omitempty"`
	DecidedAt         *time.Time    `json:"decided_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// =============================================================================
// REQUEST SERVICE - the approve/reject orchestrator
// =============================================================================

// RequestService runs the request state machine for every role.
type RequestService struct {
	Store TxStore
	Hub   *Hub
}

// NewRequestService creates the request orchestrator over the given store.
func NewRequestService(store TxStore, hub *Hub) *RequestService {
	return &RequestService{Store: store, Hub: hub}
}

// Submit creates a pending request against a catalog item.
// Quantity must be positive and, advisorily, within available stock; the
// availability check is repeated under lock at approval time since stock
// may change between submission and decision.
func (rs *RequestService) Submit(
	ctx context.Context,
	requester RoleRef,
	itemID ItemID,
	quantity int64,
) (*Request, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Field: "requested_quantity", Reason: "must be positive"}
	}
	if !requester.Role.Valid() || requester.Actor == "" {
		return nil, &ValidationError{Field: "requester", Reason: "is required"}
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	item, err := rs.Store.GetItem(ctx, itemID)
	if err != nil {
		return nil, remoteErr("request.submit", err)
	}
	if item == nil {
		return nil, &NotFoundError{Collection: "catalog", ID: string(itemID)}
	}
	if item.Owner == requester {
		return nil, &ValidationError{Field: "requester", Reason: "cannot request own listing"}
	}
	// Advisory only; the binding check happens at approval.
	if quantity > item.QuantityAvailable {
		return nil, &InsufficientStockError{
			ItemID:    itemID,
			Available: item.QuantityAvailable,
			Requested: quantity,
		}
	}

	req := Request{
		ID:                RequestID(uuid.NewString()),
		Target:            item.Owner,
		Requester:         requester,
		CatalogItemID:     itemID,
		ItemName:          item.Name,
		RequestedQuantity: quantity,
		Status:            RequestPending,
		CreatedAt:         time.Now().UTC(),
	}

	ev := requestEvent(EventRequestSubmitted, req)
	err = rs.Store.WithTx(ctx, func(s Store) error {
		if err := s.PutRequest(ctx, req); err != nil {
			return err
		}
		return s.AppendChange(ctx, ev)
	})
	if err != nil {
		return nil, remoteErr("request.submit", err)
	}

	rs.Hub.Publish(ev)
	return &req, nil
}

// Inbox lists requests targeting an owner, optionally filtered by status.
func (rs *RequestService) Inbox(ctx context.Context, owner RoleRef, status RequestStatus) ([]Request, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	reqs, err := rs.Store.ListInbox(ctx, owner, status)
	return reqs, remoteErr("request.inbox", err)
}

// Outbox lists requests a requester has sent.
func (rs *RequestService) Outbox(ctx context.Context, requester RoleRef) ([]Request, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	reqs, err := rs.Store.ListOutbox(ctx, requester)
	return reqs, remoteErr("request.outbox", err)
}

// Approve decides a pending request in the owner's favor.
//
// Under the item lock, in one atomic commit:
//   - re-reads the listing and re-validates available stock
//   - decrements QuantityAvailable by the requested quantity
//   - flips the request to approved (compare-and-swap on pending)
//   - creates exactly one SettlementObligation with the price snapshotted
//
// Insufficient stock fails the whole commit and leaves the request
// pending, so the owner can reject it or retry after restocking.
func (rs *RequestService) Approve(ctx context.Context, id RequestID, approver ActorID) (*Request, *SettlementObligation, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	req, err := rs.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, nil, remoteErr("request.approve", err)
	}
	if req == nil {
		return nil, nil, &NotFoundError{Collection: "requests", ID: string(id)}
	}
	if req.Status != RequestPending {
		return nil, nil, &InvalidTransitionError{RequestID: id, From: req.Status, To: RequestApproved}
	}

	unlock := lockItem(req.CatalogItemID)
	defer unlock()

	now := time.Now().UTC()
	var (
		obligation SettlementObligation
		events     []ChangeEvent
	)

	err = rs.Store.WithTx(ctx, func(s Store) error {
		item, err := s.GetItem(ctx, req.CatalogItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return &NotFoundError{Collection: "catalog", ID: string(req.CatalogItemID)}
		}
		if item.QuantityAvailable < req.RequestedQuantity {
			return &InsufficientStockError{
				ItemID:    item.ID,
				Available: item.QuantityAvailable,
				Requested: req.RequestedQuantity,
			}
		}

		newQty, err := s.AdjustQuantity(ctx, item.ID, -req.RequestedQuantity)
		if err != nil {
			return err
		}
		if err := s.SetRequestStatus(ctx, id, RequestPending, RequestApproved, approver, now); err != nil {
			return err
		}

		obligation = newObligation(*req, *item, now)
		if err := s.PutObligation(ctx, obligation); err != nil {
			return err
		}

		decided := *req
		decided.Status = RequestApproved
		decided.DecidedBy = approver
		decided.DecidedAt = &now
		// The decrement is a catalog change too: live catalog views track
		// stock through the catalog topic, whichever path moved it.
		item.QuantityAvailable = newQty
		events = []ChangeEvent{
			catalogEvent(EventCatalogUpserted, *item),
			requestEvent(EventRequestDecided, decided),
			obligationEvent(EventObligationCreated, obligation),
		}
		for _, ev := range events {
			if err := s.AppendChange(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, remoteErr("request.approve", err)
	}

	req.Status = RequestApproved
	req.DecidedBy = approver
	req.DecidedAt = &now
	for _, ev := range events {
		rs.Hub.Publish(ev)
	}
	return req, &obligation, nil
}

// Reject decides a pending request against the requester. Status flips;
// stock and settlements are untouched. Rejecting a terminal request fails
// with InvalidTransitionError and changes nothing.
func (rs *RequestService) Reject(ctx context.Context, id RequestID, rejecter ActorID, reason string) (*Request, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	req, err := rs.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, remoteErr("request.reject", err)
	}
	if req == nil {
		return nil, &NotFoundError{Collection: "requests", ID: string(id)}
	}
	if req.Status != RequestPending {
		return nil, &InvalidTransitionError{RequestID: id, From: req.Status, To: RequestRejected}
	}

	now := time.Now().UTC()
	decided := *req
	decided.Status = RequestRejected
	decided.Reason = reason
	decided.DecidedBy = rejecter
	decided.DecidedAt = &now
	ev := requestEvent(EventRequestDecided, decided)

	err = rs.Store.WithTx(ctx, func(s Store) error {
		if err := s.SetRequestStatus(ctx, id, RequestPending, RequestRejected, rejecter, now); err != nil {
			return err
		}
		return s.AppendChange(ctx, ev)
	})
	if err != nil {
		return nil, remoteErr("request.reject", err)
	}

	rs.Hub.Publish(ev)
	return &decided, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func newObligation(req Request, item CatalogItem, at time.Time) SettlementObligation {
	return SettlementObligation{
		// Obligation id is the request id: exactly one obligation can ever
		// exist per approved request.
		ID:            ObligationID(req.ID),
		Payer:         req.Requester,
		Owner:         item.Owner,
		CatalogItemID: item.ID,
		ItemName:      item.Name,
		UnitPrice:     item.UnitPrice,
		Quantity:      req.RequestedQuantity,
		AmountDue:     Cost(item.UnitPrice, req.RequestedQuantity),
		PaymentStatus: PaymentPending,
		CreatedAt:     at,
	}
}

func requestEvent(eventType string, req Request) ChangeEvent {
	return ChangeEvent{
		ID:    uuid.NewString(),
		Topic: TopicRequests,
		Type:  eventType,
		Key:   string(req.ID),
		Owner: req.Target,
		At:    time.Now().UTC(),
		Body: map[string]any{
			"status":    string(req.Status),
			"item_id":   string(req.CatalogItemID),
			"requester": req.Requester.String(),
			"quantity":  req.RequestedQuantity,
		},
	}
}

func obligationEvent(eventType string, ob SettlementObligation) ChangeEvent {
	return ChangeEvent{
		ID:    uuid.NewString(),
		Topic: TopicSettlements,
		Type:  eventType,
		Key:   string(ob.ID),
		Owner: ob.Payer,
		At:    time.Now().UTC(),
		Body: map[string]any{
			"amount_due": ob.AmountDue.String(),
			"status":     string(ob.PaymentStatus),
		},
	}
}
