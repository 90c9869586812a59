/*
catalog.go - Catalog items and the Catalog Manager

PURPOSE:
  A catalog is the set of sellable/rentable listings owned by one role
  instance: a farmer's crops, a retailer's products, a logistics
  provider's fleet, a warehouse's storage units. Each item carries the
  one piece of shared mutable state in the whole system:
  QuantityAvailable.

INVARIANTS:
  - QuantityAvailable never goes negative.
  - Quantity is mutated only through AdjustQuantity (owner edits and
    request approval both route through it); never a raw overwrite.

SEE ALSO:
  - request.go: Approval is the only cross-role caller of AdjustQuantity
  - roles/:     Kind-specific attribute validation
*/
package marketplace

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG ITEM
// =============================================================================

// CatalogItem is one listing. Descriptive attributes (brand, expiry,
// vehicle number, location, ...) are opaque to the reservation logic and
// validated only by the item's ResourceKind at creation time.
type CatalogItem struct {
	ID                ItemID            `json:"id"`
	Owner             RoleRef           `json:"owner"`
	Kind              string            `json:"kind"`
	Name              string            `json:"name"`
	QuantityAvailable int64             `json:"quantity_available"`
	UnitPrice         decimal.Decimal   `json:"unit_price"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// =============================================================================
// CATALOG MANAGER
// =============================================================================

// CatalogService manages listings for all roles.
type CatalogService struct {
	Store TxStore
	Hub   *Hub
}

// NewCatalogService creates a catalog manager over the given store.
func NewCatalogService(store TxStore, hub *Hub) *CatalogService {
	return &CatalogService{Store: store, Hub: hub}
}

// List returns all listings owned by one role instance.
func (cs *CatalogService) List(ctx context.Context, owner RoleRef) ([]CatalogItem, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	items, err := cs.Store.ListItems(ctx, owner)
	return items, remoteErr("catalog.list", err)
}

// Get returns a single listing.
func (cs *CatalogService) Get(ctx context.Context, id ItemID) (*CatalogItem, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	item, err := cs.Store.GetItem(ctx, id)
	if err != nil {
		return nil, remoteErr("catalog.get", err)
	}
	if item == nil {
		return nil, &NotFoundError{Collection: "catalog", ID: string(id)}
	}
	return item, nil
}

// Create validates and persists a new listing.
// Name, quantity and price are required and must be positive; the owning
// role's ResourceKind validates kind-specific attributes.
func (cs *CatalogService) Create(
	ctx context.Context,
	owner RoleRef,
	kind ResourceKind,
	name string,
	quantity int64,
	unitPrice decimal.Decimal,
	attrs map[string]string,
) (*CatalogItem, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "is required"}
	}
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if !unitPrice.IsPositive() {
		return nil, &ValidationError{Field: "unit_price", Reason: "must be positive"}
	}
	if kind == nil {
		return nil, &ValidationError{Field: "kind", Reason: "is required"}
	}
	if kind.Role() != owner.Role {
		return nil, &ValidationError{Field: "kind", Reason: "not listable by role " + string(owner.Role)}
	}
	if err := kind.ValidateAttributes(attrs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item := CatalogItem{
		ID:                ItemID(uuid.NewString()),
		Owner:             owner,
		Kind:              kind.KindID(),
		Name:              strings.TrimSpace(name),
		QuantityAvailable: quantity,
		UnitPrice:         unitPrice,
		Attributes:        attrs,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	err := cs.Store.WithTx(ctx, func(s Store) error {
		if err := s.PutItem(ctx, item); err != nil {
			return err
		}
		return s.AppendChange(ctx, catalogEvent(EventCatalogUpserted, item))
	})
	if err != nil {
		return nil, remoteErr("catalog.create", err)
	}

	cs.Hub.Publish(catalogEvent(EventCatalogUpserted, item))
	return &item, nil
}

// Remove deletes a listing owned by the caller. A missing item, or an item
// owned by someone else, both report not-found.
func (cs *CatalogService) Remove(ctx context.Context, owner RoleRef, id ItemID) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	item, err := cs.Store.GetItem(ctx, id)
	if err != nil {
		return remoteErr("catalog.remove", err)
	}
	if item == nil || item.Owner != owner {
		return &NotFoundError{Collection: "catalog", ID: string(id)}
	}

	err = cs.Store.WithTx(ctx, func(s Store) error {
		if err := s.DeleteItem(ctx, id); err != nil {
			return err
		}
		return s.AppendChange(ctx, catalogEvent(EventCatalogRemoved, *item))
	})
	if err != nil {
		return remoteErr("catalog.remove", err)
	}

	cs.Hub.Publish(catalogEvent(EventCatalogRemoved, *item))
	return nil
}

// AdjustQuantity applies an owner-initiated stock correction.
// Approval decrements go through the request orchestrator instead, which
// holds the per-item lock; owner edits take the same lock here so the two
// writers cannot race each other.
func (cs *CatalogService) AdjustQuantity(ctx context.Context, owner RoleRef, id ItemID, delta int64) (*CatalogItem, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	unlock := lockItem(id)
	defer unlock()

	item, err := cs.Store.GetItem(ctx, id)
	if err != nil {
		return nil, remoteErr("catalog.adjust", err)
	}
	if item == nil || item.Owner != owner {
		return nil, &NotFoundError{Collection: "catalog", ID: string(id)}
	}

	var updated *CatalogItem
	err = cs.Store.WithTx(ctx, func(s Store) error {
		newQty, err := s.AdjustQuantity(ctx, id, delta)
		if err != nil {
			return err
		}
		item.QuantityAvailable = newQty
		item.UpdatedAt = time.Now().UTC()
		updated = item
		return s.AppendChange(ctx, catalogEvent(EventCatalogUpserted, *item))
	})
	if err != nil {
		return nil, remoteErr("catalog.adjust", err)
	}

	cs.Hub.Publish(catalogEvent(EventCatalogUpserted, *updated))
	return updated, nil
}

// catalogEvent builds the change event for a listing mutation. Approval
// uses it too: a stock decrement is a catalog change wherever it comes from.
func catalogEvent(eventType string, item CatalogItem) ChangeEvent {
	return ChangeEvent{
		ID:    uuid.NewString(),
		Topic: TopicCatalog,
		Type:  eventType,
		Key:   string(item.ID),
		Owner: item.Owner,
		At:    time.Now().UTC(),
		Body: map[string]any{
			"name":     item.Name,
			"kind":     item.Kind,
			"quantity": item.QuantityAvailable,
		},
	}
}
