/*
session.go - Role directory and credential verification

PURPOSE:
  Maps (role, email, password) to an opaque actor id that scopes every
  subsequent catalog/request/settlement call. Each role is its own
  credential collection; the same email can exist under two roles.

CREDENTIALS:
  Passwords are stored as bcrypt hashes and verified with a constant-time
  compare. Login failure is a single generic ErrAuth whether the email is
  unknown or the password is wrong, so accounts cannot be enumerated.
*/
package marketplace

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// ACTOR
// =============================================================================

// Actor is one signed-up role instance: a farmer, retailer, logistics
// provider or warehouse operator. Profile holds role-specific signup
// fields (farm location, company name, ...) opaque to the engine.
type Actor struct {
	ID           ActorID           `json:"id"`
	Role         RoleType          `json:"role"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	PasswordHash []byte            `json:"-"`
	Profile      map[string]string `json:"profile,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Ref returns the actor's role-scoped reference.
func (a Actor) Ref() RoleRef {
	return RoleRef{Role: a.Role, Actor: a.ID}
}

// =============================================================================
// DIRECTORY
// =============================================================================

// Directory registers actors and verifies credentials.
type Directory struct {
	Store TxStore
}

// NewDirectory creates a directory over the given store.
func NewDirectory(store TxStore) *Directory {
	return &Directory{Store: store}
}

// Register signs up a new actor under a role.
func (d *Directory) Register(ctx context.Context, role RoleType, name, email, password string, profile map[string]string) (*Actor, error) {
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Reason: "unknown role"}
	}
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "is required"}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Field: "email", Reason: "is required"}
	}
	if len(password) < 8 {
		return nil, &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	existing, err := d.Store.FindActorByEmail(ctx, role, email)
	if err != nil {
		return nil, remoteErr("directory.register", err)
	}
	if existing != nil {
		return nil, &ValidationError{Field: "email", Reason: "already registered"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	actor := Actor{
		ID:           ActorID(uuid.NewString()),
		Role:         role,
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Profile:      profile,
		CreatedAt:    time.Now().UTC(),
	}
	err = d.Store.WithTx(ctx, func(s Store) error {
		return s.SaveActor(ctx, actor)
	})
	if err != nil {
		return nil, remoteErr("directory.register", err)
	}
	return &actor, nil
}

// FindCredential verifies (role, email, password) and returns the actor id.
// Any mismatch returns ErrAuth with no further detail.
func (d *Directory) FindCredential(ctx context.Context, role RoleType, email, password string) (ActorID, error) {
	if !role.Valid() || email == "" || password == "" {
		return "", ErrAuth
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	actor, err := d.Store.FindActorByEmail(ctx, role, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", remoteErr("directory.login", err)
	}
	if actor == nil {
		// Burn a compare anyway so unknown emails cost the same as bad passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", ErrAuth
	}
	if bcrypt.CompareHashAndPassword(actor.PasswordHash, []byte(password)) != nil {
		return "", ErrAuth
	}
	return actor.ID, nil
}

// Get returns an actor's profile.
func (d *Directory) Get(ctx context.Context, role RoleType, id ActorID) (*Actor, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	actor, err := d.Store.GetActor(ctx, role, id)
	if err != nil {
		return nil, remoteErr("directory.get", err)
	}
	if actor == nil {
		return nil, &NotFoundError{Collection: string(role), ID: string(id)}
	}
	return actor, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("supplyvault-timing-pad"), bcrypt.MinCost)
