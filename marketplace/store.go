/*
store.go - Persistence interfaces for marketplace documents

PURPOSE:
  Defines the interface between the engine and the document store.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   All document collections (catalog, requests, settlements,
           actors) plus the change outbox.
  TxStore: Store with WithTx for atomic multi-document commits.

ATOMIC COMMITS:
  Approval mutates three documents (catalog quantity, request status,
  new settlement obligation) plus outbox rows. WithTx() guarantees
  all-or-nothing: the original client performed these as sequential
  unguarded writes in some role flows, which is exactly the defect this
  interface closes.

CHANGE OUTBOX:
  Every mutation appends a ChangeEvent in the same commit. A relay
  drains unsent events to the external change feed, so downstream
  listeners never observe a half-applied approval.

IMPLEMENTATIONS:
  - marketplace/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go:      Production SQLite

SEE ALSO:
  - request.go:      The only caller of the full transactional flow
  - subscription.go: In-process delivery of ChangeEvents
*/
package marketplace

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// COLLECTION STORES
// =============================================================================

// CatalogStore persists catalog items.
// Lookups return (nil, nil) when the document does not exist.
type CatalogStore interface {
	PutItem(ctx context.Context, item CatalogItem) error
	GetItem(ctx context.Context, id ItemID) (*CatalogItem, error)
	ListItems(ctx context.Context, owner RoleRef) ([]CatalogItem, error)
	DeleteItem(ctx context.Context, id ItemID) error

	// AdjustQuantity atomically applies delta to QuantityAvailable and
	// returns the new quantity. This is the ONLY quantity mutation path;
	// a result below zero fails with InsufficientStockError and leaves
	// the item untouched.
	AdjustQuantity(ctx context.Context, id ItemID, delta int64) (int64, error)
}

// RequestStore persists reservation requests. Requests are never deleted;
// terminal rows are the historical record of accepted/declined asks.
type RequestStore interface {
	PutRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id RequestID) (*Request, error)

	// ListInbox returns requests targeting an owner, newest first.
	// An empty status matches all statuses.
	ListInbox(ctx context.Context, owner RoleRef, status RequestStatus) ([]Request, error)

	// ListOutbox returns requests created by a requester, newest first.
	ListOutbox(ctx context.Context, requester RoleRef) ([]Request, error)

	// SetRequestStatus transitions a request from one status to another
	// as a compare-and-swap. A request whose current status differs from
	// `from` fails with InvalidTransitionError; a missing request fails
	// with NotFoundError.
	SetRequestStatus(ctx context.Context, id RequestID, from, to RequestStatus, decidedBy ActorID, at time.Time) error
}

// SettlementStore persists settlement obligations.
type SettlementStore interface {
	PutObligation(ctx context.Context, ob SettlementObligation) error
	GetObligation(ctx context.Context, id ObligationID) (*SettlementObligation, error)
	ListObligations(ctx context.Context, payer RoleRef) ([]SettlementObligation, error)
	DeleteObligation(ctx context.Context, id ObligationID) error
}

// DirectoryStore persists actor credentials and profiles.
// Email is unique per role collection.
type DirectoryStore interface {
	SaveActor(ctx context.Context, a Actor) error
	GetActor(ctx context.Context, role RoleType, id ActorID) (*Actor, error)
	FindActorByEmail(ctx context.Context, role RoleType, email string) (*Actor, error)
}

// OutboxStore persists change events pending external publication.
type OutboxStore interface {
	AppendChange(ctx context.Context, ev ChangeEvent) error
	PendingChanges(ctx context.Context, limit int) ([]ChangeEvent, error)
	MarkChangeSent(ctx context.Context, eventID string) error
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is the full document store surface the engine operates on.
type Store interface {
	CatalogStore
	RequestStore
	SettlementStore
	DirectoryStore
	OutboxStore
}

// TxStore wraps Store with transaction support.
// Use this whenever an operation touches more than one document.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through its Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CHANGE EVENTS
// =============================================================================

// Topic names a logical collection observed by subscribers.
type Topic string

const (
	TopicCatalog     Topic = "catalog"
	TopicRequests    Topic = "requests"
	TopicSettlements Topic = "settlements"
)

// ChangeEvent records one observable mutation. Events are written to the
// outbox inside the mutating commit and fanned out both in-process (Hub)
// and externally (events relay).
type ChangeEvent struct {
	ID    string         `json:"id"`
	Topic Topic          `json:"topic"`
	Type  string         `json:"type"` // e.g. "catalog_upserted", "request_decided"
	Key   string         `json:"key"`  // document id the event is about
	Owner RoleRef        `json:"owner"`
	At    time.Time      `json:"at"`
	Body  map[string]any `json:"body,omitempty"`
}

// Event types emitted by the engine.
const (
	EventCatalogUpserted   = "catalog_upserted"
	EventCatalogRemoved    = "catalog_removed"
	EventRequestSubmitted  = "request_submitted"
	EventRequestDecided    = "request_decided"
	EventObligationCreated = "obligation_created"
	EventObligationSettled = "obligation_settled"
)

// =============================================================================
// OPERATION BOUNDS
// =============================================================================

// OpTimeout bounds every store round trip so a dead backend surfaces as a
// retryable error instead of hanging the caller.
const OpTimeout = 5 * time.Second

// opContext bounds ctx with OpTimeout unless it already carries a deadline.
func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, OpTimeout)
}

// remoteErr maps deadline/cancellation failures to RemoteUnavailableError,
// leaving business errors untouched.
func remoteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &RemoteUnavailableError{Op: op, Err: err}
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return &RemoteUnavailableError{Op: op, Err: err}
	}
	return err
}
