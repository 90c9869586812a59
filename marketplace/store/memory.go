// Package store provides marketplace.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/venod/supplyvault/marketplace"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	items       map[marketplace.ItemID]marketplace.CatalogItem
	requests    map[marketplace.RequestID]marketplace.Request
	obligations map[marketplace.ObligationID]marketplace.SettlementObligation
	actors      map[actorKey]marketplace.Actor
	outbox      []marketplace.ChangeEvent
	sent        map[string]bool
}

type actorKey struct {
	Role marketplace.RoleType
	ID   marketplace.ActorID
}

func NewMemory() *Memory {
	return &Memory{
		items:       make(map[marketplace.ItemID]marketplace.CatalogItem),
		requests:    make(map[marketplace.RequestID]marketplace.Request),
		obligations: make(map[marketplace.ObligationID]marketplace.SettlementObligation),
		actors:      make(map[actorKey]marketplace.Actor),
		sent:        make(map[string]bool),
	}
}

// -----------------------------------------------------------------------------
// CatalogStore
// -----------------------------------------------------------------------------

func (m *Memory) PutItem(_ context.Context, item marketplace.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *Memory) GetItem(_ context.Context, id marketplace.ItemID) (*marketplace.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	out := item
	return &out, nil
}

func (m *Memory) ListItems(_ context.Context, owner marketplace.RoleRef) ([]marketplace.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []marketplace.CatalogItem
	for _, item := range m.items {
		if item.Owner == owner {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) DeleteItem(_ context.Context, id marketplace.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return &marketplace.NotFoundError{Collection: "catalog", ID: string(id)}
	}
	delete(m.items, id)
	return nil
}

func (m *Memory) AdjustQuantity(_ context.Context, id marketplace.ItemID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return 0, &marketplace.NotFoundError{Collection: "catalog", ID: string(id)}
	}
	newQty := item.QuantityAvailable + delta
	if newQty < 0 {
		return 0, &marketplace.InsufficientStockError{
			ItemID:    id,
			Available: item.QuantityAvailable,
			Requested: -delta,
		}
	}
	item.QuantityAvailable = newQty
	item.UpdatedAt = time.Now().UTC()
	m.items[id] = item
	return newQty, nil
}

// -----------------------------------------------------------------------------
// RequestStore
// -----------------------------------------------------------------------------

func (m *Memory) PutRequest(_ context.Context, req marketplace.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id marketplace.RequestID) (*marketplace.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	out := req
	return &out, nil
}

func (m *Memory) ListInbox(_ context.Context, owner marketplace.RoleRef, status marketplace.RequestStatus) ([]marketplace.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []marketplace.Request
	for _, req := range m.requests {
		if req.Target == owner && (status == "" || req.Status == status) {
			result = append(result, req)
		}
	}
	sortRequests(result)
	return result, nil
}

func (m *Memory) ListOutbox(_ context.Context, requester marketplace.RoleRef) ([]marketplace.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []marketplace.Request
	for _, req := range m.requests {
		if req.Requester == requester {
			result = append(result, req)
		}
	}
	sortRequests(result)
	return result, nil
}

func sortRequests(reqs []marketplace.Request) {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
}

func (m *Memory) SetRequestStatus(
	_ context.Context,
	id marketplace.RequestID,
	from, to marketplace.RequestStatus,
	decidedBy marketplace.ActorID,
	at time.Time,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return &marketplace.NotFoundError{Collection: "requests", ID: string(id)}
	}
	if req.Status != from {
		return &marketplace.InvalidTransitionError{RequestID: id, From: req.Status, To: to}
	}
	req.Status = to
	req.DecidedBy = decidedBy
	decidedAt := at
	req.DecidedAt = &decidedAt
	m.requests[id] = req
	return nil
}

// -----------------------------------------------------------------------------
// SettlementStore
// -----------------------------------------------------------------------------

func (m *Memory) PutObligation(_ context.Context, ob marketplace.SettlementObligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obligations[ob.ID] = ob
	return nil
}

func (m *Memory) GetObligation(_ context.Context, id marketplace.ObligationID) (*marketplace.SettlementObligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ob, ok := m.obligations[id]
	if !ok {
		return nil, nil
	}
	out := ob
	return &out, nil
}

func (m *Memory) ListObligations(_ context.Context, payer marketplace.RoleRef) ([]marketplace.SettlementObligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []marketplace.SettlementObligation
	for _, ob := range m.obligations {
		if ob.Payer == payer {
			result = append(result, ob)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) DeleteObligation(_ context.Context, id marketplace.ObligationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.obligations[id]; !ok {
		return &marketplace.NotFoundError{Collection: "settlements", ID: string(id)}
	}
	delete(m.obligations, id)
	return nil
}

// -----------------------------------------------------------------------------
// DirectoryStore
// -----------------------------------------------------------------------------

func (m *Memory) SaveActor(_ context.Context, a marketplace.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[actorKey{Role: a.Role, ID: a.ID}] = a
	return nil
}

func (m *Memory) GetActor(_ context.Context, role marketplace.RoleType, id marketplace.ActorID) (*marketplace.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[actorKey{Role: role, ID: id}]
	if !ok {
		return nil, nil
	}
	out := a
	return &out, nil
}

func (m *Memory) FindActorByEmail(_ context.Context, role marketplace.RoleType, email string) (*marketplace.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, a := range m.actors {
		if key.Role == role && a.Email == email {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

// -----------------------------------------------------------------------------
// OutboxStore
// -----------------------------------------------------------------------------

func (m *Memory) AppendChange(_ context.Context, ev marketplace.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, ev)
	return nil
}

func (m *Memory) PendingChanges(_ context.Context, limit int) ([]marketplace.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []marketplace.ChangeEvent
	for _, ev := range m.outbox {
		if m.sent[ev.ID] {
			continue
		}
		result = append(result, ev)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) MarkChangeSent(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[eventID] = true
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
	txMu sync.Mutex
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against the store, simulating a transaction with a
// snapshot restored on error. Transactions are serialized.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(marketplace.Store) error) error {
	tm.txMu.Lock()
	defer tm.txMu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(tm.Memory); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	items       map[marketplace.ItemID]marketplace.CatalogItem
	requests    map[marketplace.RequestID]marketplace.Request
	obligations map[marketplace.ObligationID]marketplace.SettlementObligation
	actors      map[actorKey]marketplace.Actor
	outbox      []marketplace.ChangeEvent
	sent        map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	s := memorySnapshot{
		items:       make(map[marketplace.ItemID]marketplace.CatalogItem, len(tm.items)),
		requests:    make(map[marketplace.RequestID]marketplace.Request, len(tm.requests)),
		obligations: make(map[marketplace.ObligationID]marketplace.SettlementObligation, len(tm.obligations)),
		actors:      make(map[actorKey]marketplace.Actor, len(tm.actors)),
		outbox:      append([]marketplace.ChangeEvent{}, tm.outbox...),
		sent:        make(map[string]bool, len(tm.sent)),
	}
	for k, v := range tm.items {
		s.items[k] = v
	}
	for k, v := range tm.requests {
		s.requests[k] = v
	}
	for k, v := range tm.obligations {
		s.obligations[k] = v
	}
	for k, v := range tm.actors {
		s.actors[k] = v
	}
	for k, v := range tm.sent {
		s.sent[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.items = s.items
	tm.requests = s.requests
	tm.obligations = s.obligations
	tm.actors = s.actors
	tm.outbox = s.outbox
	tm.sent = s.sent
}

// Compile-time interface checks.
var (
	_ marketplace.Store   = (*Memory)(nil)
	_ marketplace.TxStore = (*TxMemory)(nil)
)
