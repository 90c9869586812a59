/*
Package marketplace provides the core supply-chain marketplace engine.

PURPOSE:
  This package contains the role-agnostic types and services for a
  cross-role marketplace: catalog listings with available quantity,
  reservation requests between roles, and settlement obligations created
  when a request is approved. The same engine serves all four roles
  (farmer, retailer, logistic, warehouse); role-specific listing rules
  live in domain packages implementing ResourceKind.

KEY CONCEPTS IN THIS FILE (types.go):
  - RoleType / RoleRef: identifies which actor owns or requests a resource
  - ResourceKind:       per-role listing rules (crop, product, vehicle, storage)
  - Cost:               price arithmetic via decimal.Decimal

DESIGN PRINCIPLES:
  1. One state machine: a single request lifecycle parameterized by
     ResourceKind instead of one copy per role.
  2. Precision: unit prices and amounts due use decimal.Decimal, never float.
  3. Type safety: strong typing for actor/item/request/obligation IDs.
  4. Single mutation path: quantity changes only via AdjustQuantity/Approve.

SEE ALSO:
  - catalog.go:      CatalogItem and the Catalog Manager
  - request.go:      Request state machine and approval orchestration
  - settlement.go:   Settlement obligations and payment confirmation
  - store.go:        Persistence interfaces
*/
package marketplace

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLES
// =============================================================================

// RoleType identifies one of the four marketplace roles.
type RoleType string

const (
	RoleFarmer    RoleType = "farmer"
	RoleRetailer  RoleType = "retailer"
	RoleLogistic  RoleType = "logistic"
	RoleWarehouse RoleType = "warehouse"
)

// Roles lists all valid role types.
var Roles = []RoleType{RoleFarmer, RoleRetailer, RoleLogistic, RoleWarehouse}

// Valid reports whether r is one of the known roles.
func (r RoleType) Valid() bool {
	switch r {
	case RoleFarmer, RoleRetailer, RoleLogistic, RoleWarehouse:
		return true
	}
	return false
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ActorID string
type ItemID string
type RequestID string
type ObligationID string

// RoleRef identifies a specific actor within a role. Every catalog item,
// request inbox and settlement ledger is scoped by a RoleRef.
type RoleRef struct {
	Role  RoleType `json:"role"`
	Actor ActorID  `json:"actor_id"`
}

func (r RoleRef) String() string {
	return fmt.Sprintf("%s/%s", r.Role, r.Actor)
}

// IsZero reports whether the reference is empty.
func (r RoleRef) IsZero() bool {
	return r.Role == "" && r.Actor == ""
}

// =============================================================================
// RESOURCE KIND - per-role listing rules
// =============================================================================

// ResourceKind describes what a role sells or rents: a crop, a retail
// product, a vehicle, a storage unit. The engine has NO knowledge of
// specific kinds; domain packages implement this interface and register
// their kinds at init time.
//
// Domain packages implement this:
//
//	// In roles/roles.go
//	var Crop = roles.Kind{...}  // KindID "crop", Role "farmer"
type ResourceKind interface {
	// KindID returns the unique identifier for this resource kind.
	KindID() string

	// Role returns which role owns listings of this kind.
	Role() RoleType

	// ValidateAttributes checks kind-specific listing attributes
	// (expiry date for crops, vehicle number for fleets, ...).
	ValidateAttributes(attrs map[string]string) error
}

var kindRegistry = map[string]ResourceKind{}

// RegisterKind registers a resource kind. Called from domain package init().
func RegisterKind(k ResourceKind) {
	kindRegistry[k.KindID()] = k
}

// KindByID looks up a registered kind.
func KindByID(id string) (ResourceKind, bool) {
	k, ok := kindRegistry[id]
	return k, ok
}

// KindForRole returns the kind a role lists, if exactly one is registered.
func KindForRole(role RoleType) (ResourceKind, bool) {
	var found ResourceKind
	for _, k := range kindRegistry {
		if k.Role() == role {
			if found != nil {
				return nil, false
			}
			found = k
		}
	}
	return found, found != nil
}

// =============================================================================
// MONEY
// =============================================================================

// Cost computes price × quantity. Prices are snapshotted at approval time,
// so this is the only place an amount due is ever derived.
func Cost(unitPrice decimal.Decimal, quantity int64) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(quantity))
}

// ParsePrice parses a decimal price string, rejecting negatives.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "unit_price", Reason: "not a valid decimal"}
	}
	if d.IsNegative() {
		return decimal.Zero, &ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}
	return d, nil
}
