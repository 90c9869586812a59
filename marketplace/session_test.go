package marketplace_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venod/supplyvault/marketplace"
	"github.com/venod/supplyvault/marketplace/store"
)

func newDirectory() *marketplace.Directory {
	return marketplace.NewDirectory(store.NewTxMemory())
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	actor, err := dir.Register(ctx, marketplace.RoleFarmer,
		"Ravi", "Ravi@Farm.example", "growwheat1", map[string]string{"location": "valley"})
	require.NoError(t, err)
	assert.NotEmpty(t, actor.ID)
	assert.Equal(t, "ravi@farm.example", actor.Email, "emails are normalized to lower case")
	assert.NotEqual(t, "growwheat1", string(actor.PasswordHash),
		"the password must never be stored as given")

	// Login with the original mixed-case email succeeds.
	id, err := dir.FindCredential(ctx, marketplace.RoleFarmer, "RAVI@farm.example", "growwheat1")
	require.NoError(t, err)
	assert.Equal(t, actor.ID, id)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	// Unknown email, wrong password and wrong role all yield the same bare
	// ErrAuth so accounts cannot be enumerated.
	ctx := context.Background()
	dir := newDirectory()
	_, err := dir.Register(ctx, marketplace.RoleFarmer, "Ravi", "ravi@farm.example", "growwheat1", nil)
	require.NoError(t, err)

	cases := []struct {
		name     string
		role     marketplace.RoleType
		email    string
		password string
	}{
		{"wrong password", marketplace.RoleFarmer, "ravi@farm.example", "nope-nope"},
		{"unknown email", marketplace.RoleFarmer, "ghost@farm.example", "growwheat1"},
		{"wrong role", marketplace.RoleRetailer, "ravi@farm.example", "growwheat1"},
		{"empty password", marketplace.RoleFarmer, "ravi@farm.example", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := dir.FindCredential(ctx, tc.role, tc.email, tc.password)
			assert.Equal(t, marketplace.ErrAuth, err)
		})
	}
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	cases := []struct {
		name     string
		role     marketplace.RoleType
		actor    string
		email    string
		password string
	}{
		{"unknown role", "wholesaler", "Ravi", "ravi@farm.example", "growwheat1"},
		{"blank name", marketplace.RoleFarmer, "  ", "ravi@farm.example", "growwheat1"},
		{"bad email", marketplace.RoleFarmer, "Ravi", "not-an-email", "growwheat1"},
		{"short password", marketplace.RoleFarmer, "Ravi", "ravi@farm.example", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := dir.Register(ctx, tc.role, tc.actor, tc.email, tc.password, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, marketplace.ErrValidation), "got %v", err)
		})
	}
}

func TestRegister_EmailUniquePerRole(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	_, err := dir.Register(ctx, marketplace.RoleFarmer, "Ravi", "ravi@example.com", "growwheat1", nil)
	require.NoError(t, err)

	// Same email under the same role collides.
	_, err = dir.Register(ctx, marketplace.RoleFarmer, "Other Ravi", "ravi@example.com", "different1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, marketplace.ErrValidation))

	// Same email under a different role is a separate credential collection.
	_, err = dir.Register(ctx, marketplace.RoleRetailer, "Ravi the Shop", "ravi@example.com", "sellstuff1", nil)
	assert.NoError(t, err)
}

func TestRegister_SurvivesConcurrentFailedTransaction(t *testing.T) {
	// Registration commits through the same transaction path as every
	// other write, so a concurrently rolled-back transaction can never
	// restore a snapshot that predates the new actor.
	ctx := context.Background()
	ts := store.NewTxMemory()
	dir := marketplace.NewDirectory(ts)

	started := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan struct{})
	go func() {
		defer close(txDone)
		_ = ts.WithTx(ctx, func(marketplace.Store) error {
			close(started)
			<-release
			return errors.New("rolled back")
		})
	}()
	<-started

	regDone := make(chan error, 1)
	go func() {
		_, err := dir.Register(ctx, marketplace.RoleFarmer,
			"Ravi", "ravi@farm.example", "growwheat1", nil)
		regDone <- err
	}()

	// Let the registration reach its commit attempt while the failing
	// transaction is still open, then roll the latter back.
	time.Sleep(150 * time.Millisecond)
	close(release)
	<-txDone
	require.NoError(t, <-regDone)

	id, err := dir.FindCredential(ctx, marketplace.RoleFarmer, "ravi@farm.example", "growwheat1")
	require.NoError(t, err)
	assert.NotEmpty(t, id, "the rollback must not erase the registered actor")
}

func TestDirectoryGet(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	actor, err := dir.Register(ctx, marketplace.RoleWarehouse, "Coldstore", "ops@cold.example", "keepitcool", nil)
	require.NoError(t, err)

	got, err := dir.Get(ctx, marketplace.RoleWarehouse, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, "Coldstore", got.Name)

	_, err = dir.Get(ctx, marketplace.RoleWarehouse, "no-such-actor")
	assert.True(t, errors.Is(err, marketplace.ErrNotFound))
}
