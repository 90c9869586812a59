package roles_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venod/supplyvault/marketplace"
	"github.com/venod/supplyvault/roles"
)

func TestEveryRoleHasExactlyOneKind(t *testing.T) {
	for _, role := range marketplace.Roles {
		kind, ok := roles.ForRole(role)
		require.True(t, ok, "role %s has no kind", role)
		assert.Equal(t, role, kind.Role())

		// And the engine-side registry agrees, via init() registration.
		registered, ok := marketplace.KindForRole(role)
		require.True(t, ok)
		assert.Equal(t, kind.KindID(), registered.KindID())
	}
}

func TestKindRegistry_LookupByID(t *testing.T) {
	k, ok := marketplace.KindByID("crop")
	require.True(t, ok)
	assert.Equal(t, marketplace.RoleFarmer, k.Role())

	_, ok = marketplace.KindByID("spaceship")
	assert.False(t, ok)
}

func TestValidateAttributes(t *testing.T) {
	cases := []struct {
		name  string
		kind  roles.Kind
		attrs map[string]string
		ok    bool
	}{
		{"crop with expiry", roles.Crop, map[string]string{"expiryDate": "2026-10-01"}, true},
		{"crop without expiry", roles.Crop, nil, false},
		{"crop with blank expiry", roles.Crop, map[string]string{"expiryDate": "   "}, false},
		{"product with brand", roles.Product, map[string]string{"brand": "Acme"}, true},
		{"product without brand", roles.Product, map[string]string{}, false},
		{"vehicle complete", roles.Vehicle, map[string]string{"vehicleNumber": "KA-01-1234", "location": "Hubli"}, true},
		{"vehicle missing location", roles.Vehicle, map[string]string{"vehicleNumber": "KA-01-1234"}, false},
		{"storage with location", roles.StorageUnit, map[string]string{"location": "Dock 4"}, true},
		{"storage without location", roles.StorageUnit, nil, false},
		{"extra attributes pass through", roles.Crop, map[string]string{"expiryDate": "2026-10-01", "organic": "yes"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.kind.ValidateAttributes(tc.attrs)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.Is(err, marketplace.ErrValidation))
			}
		})
	}
}

func TestRequiredAttributes_ReturnsCopy(t *testing.T) {
	got := roles.Vehicle.RequiredAttributes()
	require.Len(t, got, 2)
	got[0] = "tampered"
	assert.Equal(t, []string{"vehicleNumber", "location"}, roles.Vehicle.RequiredAttributes())
}
