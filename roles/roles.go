// Package roles defines the four marketplace resource kinds.
// It binds each role to what it lists — farmers sell crops, retailers sell
// products, logistics providers rent vehicles, warehouses rent storage —
// and validates the kind-specific listing attributes. The engine itself
// never special-cases a role: one state machine, four kinds.
package roles

import (
	"strings"

	"github.com/venod/supplyvault/marketplace"
)

// =============================================================================
// KIND
// =============================================================================

// Kind is a concrete marketplace.ResourceKind: an id, the owning role,
// and the attribute fields a listing of this kind must carry.
type Kind struct {
	id       string
	role     marketplace.RoleType
	required []string
}

func (k Kind) KindID() string               { return k.id }
func (k Kind) Role() marketplace.RoleType   { return k.role }
func (k Kind) RequiredAttributes() []string { return append([]string(nil), k.required...) }

// ValidateAttributes checks that every required attribute is present and
// non-blank. Extra attributes pass through untouched; they are opaque to
// the reservation logic.
func (k Kind) ValidateAttributes(attrs map[string]string) error {
	for _, field := range k.required {
		if strings.TrimSpace(attrs[field]) == "" {
			return &marketplace.ValidationError{Field: field, Reason: "is required for " + k.id + " listings"}
		}
	}
	return nil
}

// Compile-time check that Kind implements marketplace.ResourceKind.
var _ marketplace.ResourceKind = Kind{}

// =============================================================================
// THE FOUR KINDS
// =============================================================================

var (
	// Crop: a farmer's produce listing. Quantity in kg, price per kg.
	Crop = Kind{id: "crop", role: marketplace.RoleFarmer,
		required: []string{"expiryDate"}}

	// Product: a retailer's stocked product. Quantity in units.
	Product = Kind{id: "product", role: marketplace.RoleRetailer,
		required: []string{"brand"}}

	// Vehicle: a logistics provider's fleet vehicle. Quantity is capacity
	// units available for hire, price per day.
	Vehicle = Kind{id: "vehicle", role: marketplace.RoleLogistic,
		required: []string{"vehicleNumber", "location"}}

	// StorageUnit: a warehouse storage listing. Quantity is capacity
	// slots, price per day.
	StorageUnit = Kind{id: "storage", role: marketplace.RoleWarehouse,
		required: []string{"location"}}
)

// All lists every kind.
var All = []Kind{Crop, Product, Vehicle, StorageUnit}

func init() {
	for _, k := range All {
		marketplace.RegisterKind(k)
	}
}

// ForRole returns the kind a role lists.
func ForRole(role marketplace.RoleType) (Kind, bool) {
	for _, k := range All {
		if k.role == role {
			return k, true
		}
	}
	return Kind{}, false
}
