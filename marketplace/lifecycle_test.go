/*
lifecycle_test.go - Specification tests for the request lifecycle

PURPOSE:
  These tests serve as EXECUTABLE SPECIFICATIONS of the reservation flow.
  Each test documents one guarantee the engine makes:
  1. Approval atomicity - stock, status and obligation move together
  2. Terminal states    - a decided request can never be re-decided
  3. Oversell safety    - quantity never goes negative, ever
  4. Settlement         - one obligation per approval, price snapshotted

READING THESE TESTS:
  Each test has GIVEN/WHEN/THEN comments explaining the scenario and
  assertions with explanatory messages.
*/
package marketplace_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venod/supplyvault/marketplace"
	"github.com/venod/supplyvault/marketplace/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

// testKind is a minimal resource kind with no required attributes.
// Role-specific kinds are tested in the roles package.
type testKind struct {
	role marketplace.RoleType
}

func (k testKind) KindID() string                             { return "test-" + string(k.role) }
func (k testKind) Role() marketplace.RoleType                 { return k.role }
func (k testKind) ValidateAttributes(map[string]string) error { return nil }

var (
	seller = marketplace.RoleRef{Role: marketplace.RoleFarmer, Actor: "farmer-1"}
	buyer  = marketplace.RoleRef{Role: marketplace.RoleRetailer, Actor: "retailer-1"}
)

type engine struct {
	store       *store.TxMemory
	hub         *marketplace.Hub
	catalog     *marketplace.CatalogService
	requests    *marketplace.RequestService
	settlements *marketplace.SettlementService
}

func newEngine() *engine {
	ts := store.NewTxMemory()
	hub := marketplace.NewHub()
	return &engine{
		store:       ts,
		hub:         hub,
		catalog:     marketplace.NewCatalogService(ts, hub),
		requests:    marketplace.NewRequestService(ts, hub),
		settlements: marketplace.NewSettlementService(ts, hub),
	}
}

func price(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// listItem creates a listing owned by seller.
func listItem(t *testing.T, e *engine, qty int64, unitPrice string) *marketplace.CatalogItem {
	t.Helper()
	item, err := e.catalog.Create(context.Background(), seller,
		testKind{role: seller.Role}, "Wheat", qty, price(unitPrice), nil)
	require.NoError(t, err)
	return item
}

// submit creates a pending request from buyer against an item.
func submit(t *testing.T, e *engine, itemID marketplace.ItemID, qty int64) *marketplace.Request {
	t.Helper()
	req, err := e.requests.Submit(context.Background(), buyer, itemID, qty)
	require.NoError(t, err)
	return req
}

func itemQuantity(t *testing.T, e *engine, id marketplace.ItemID) int64 {
	t.Helper()
	item, err := e.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	return item.QuantityAvailable
}

// =============================================================================
// APPROVAL ATOMICITY
// =============================================================================

func TestApprove_HappyPath_DecrementsStockAndCreatesObligation(t *testing.T) {
	// GIVEN: A listing of 100 units at 10.00 and a pending request for 30
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 100, "10.00")
	req := submit(t, e, item.ID, 30)

	// WHEN: The owner approves
	decided, obligation, err := e.requests.Approve(ctx, req.ID, seller.Actor)
	require.NoError(t, err)

	// THEN: Status flips, stock drops, and exactly one obligation exists
	assert.Equal(t, marketplace.RequestApproved, decided.Status)
	assert.Equal(t, seller.Actor, decided.DecidedBy)
	require.NotNil(t, decided.DecidedAt)

	assert.Equal(t, int64(70), itemQuantity(t, e, item.ID),
		"approval must decrement available quantity by the requested amount")

	require.NotNil(t, obligation)
	assert.Equal(t, marketplace.ObligationID(req.ID), obligation.ID,
		"obligation id must equal the originating request id")
	assert.Equal(t, buyer, obligation.Payer)
	assert.Equal(t, seller, obligation.Owner)
	assert.True(t, obligation.AmountDue.Equal(price("300.00")),
		"amount due must be unit price times requested quantity, got %s", obligation.AmountDue)

	// AND: The payer sees it in their ledger
	obs, err := e.settlements.ListObligations(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, marketplace.PaymentPending, obs[0].PaymentStatus)
}

func TestApprove_InsufficientStock_FailsWholeCommit(t *testing.T) {
	// GIVEN: 100 units and two pending requests for 60 each
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 100, "5.00")
	first := submit(t, e, item.ID, 60)
	second := submit(t, e, item.ID, 60)

	// WHEN: The first is approved, then the second
	_, _, err := e.requests.Approve(ctx, first.ID, seller.Actor)
	require.NoError(t, err)

	_, _, err = e.requests.Approve(ctx, second.ID, seller.Actor)

	// THEN: The second fails with insufficient stock and NOTHING moved
	require.Error(t, err)
	assert.True(t, errors.Is(err, marketplace.ErrInsufficientStock))

	var stockErr *marketplace.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(40), stockErr.Available)
	assert.Equal(t, int64(60), stockErr.Requested)

	assert.Equal(t, int64(40), itemQuantity(t, e, item.ID),
		"a failed approval must not touch stock")

	reloaded, err := e.store.GetRequest(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, marketplace.RequestPending, reloaded.Status,
		"a failed approval must leave the request pending so the owner can reject or retry")

	obs, err := e.settlements.ListObligations(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, obs, 1, "only the successful approval may create an obligation")
}

func TestApprove_MissingRequest_NotFound(t *testing.T) {
	e := newEngine()
	_, _, err := e.requests.Approve(context.Background(), "no-such-request", seller.Actor)
	assert.True(t, errors.Is(err, marketplace.ErrNotFound))
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

func TestDecide_TerminalRequest_InvalidTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("approve then reject", func(t *testing.T) {
		e := newEngine()
		item := listItem(t, e, 50, "2.00")
		req := submit(t, e, item.ID, 10)

		_, _, err := e.requests.Approve(ctx, req.ID, seller.Actor)
		require.NoError(t, err)

		_, err = e.requests.Reject(ctx, req.ID, seller.Actor, "changed my mind")
		require.Error(t, err)
		assert.True(t, errors.Is(err, marketplace.ErrInvalidTransition))

		// Nothing changed: still approved, stock still decremented once.
		reloaded, err := e.store.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, marketplace.RequestApproved, reloaded.Status)
		assert.Equal(t, int64(40), itemQuantity(t, e, item.ID))
	})

	t.Run("reject then approve", func(t *testing.T) {
		e := newEngine()
		item := listItem(t, e, 50, "2.00")
		req := submit(t, e, item.ID, 10)

		_, err := e.requests.Reject(ctx, req.ID, seller.Actor, "out of season")
		require.NoError(t, err)

		_, _, err = e.requests.Approve(ctx, req.ID, seller.Actor)
		require.Error(t, err)
		assert.True(t, errors.Is(err, marketplace.ErrInvalidTransition))

		var transErr *marketplace.InvalidTransitionError
		require.True(t, errors.As(err, &transErr))
		assert.Equal(t, marketplace.RequestRejected, transErr.From)
		assert.Equal(t, marketplace.RequestApproved, transErr.To)
	})

	t.Run("reject twice", func(t *testing.T) {
		e := newEngine()
		item := listItem(t, e, 50, "2.00")
		req := submit(t, e, item.ID, 10)

		_, err := e.requests.Reject(ctx, req.ID, seller.Actor, "first")
		require.NoError(t, err)
		_, err = e.requests.Reject(ctx, req.ID, seller.Actor, "second")
		assert.True(t, errors.Is(err, marketplace.ErrInvalidTransition))
	})
}

func TestReject_NoSideEffects(t *testing.T) {
	// GIVEN: A pending request for 25 of 100 units
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 100, "3.50")
	req := submit(t, e, item.ID, 25)

	// WHEN: The owner rejects with a reason
	decided, err := e.requests.Reject(ctx, req.ID, seller.Actor, "quality hold")
	require.NoError(t, err)

	// THEN: Only the status and reason changed
	assert.Equal(t, marketplace.RequestRejected, decided.Status)
	assert.Equal(t, "quality hold", decided.Reason)
	assert.Equal(t, int64(100), itemQuantity(t, e, item.ID),
		"rejection must not touch stock")

	obs, err := e.settlements.ListObligations(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, obs, "rejection must not create an obligation")
}

// =============================================================================
// CONCURRENT APPROVALS
// =============================================================================

func TestApprove_ConcurrentCompetingRequests_ExactlyOneWins(t *testing.T) {
	// GIVEN: 100 units and two pending requests for 60 each
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 100, "1.00")
	first := submit(t, e, item.ID, 60)
	second := submit(t, e, item.ID, 60)

	// WHEN: Both are approved concurrently
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []marketplace.RequestID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id marketplace.RequestID) {
			defer wg.Done()
			_, _, results[i] = e.requests.Approve(ctx, id, seller.Actor)
		}(i, id)
	}
	wg.Wait()

	// THEN: Exactly one succeeds; the loser sees insufficient stock
	var successes, oversells int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, marketplace.ErrInsufficientStock):
			oversells++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one competing approval may win")
	assert.Equal(t, 1, oversells)

	assert.Equal(t, int64(40), itemQuantity(t, e, item.ID),
		"stock must reflect exactly one decrement")

	obs, err := e.settlements.ListObligations(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, obs, 1, "exactly one obligation across competing approvals")
}

func TestQuantity_NeverNegative_UnderRandomLoad(t *testing.T) {
	// GIVEN: A listing and a random mix of owner adjustments and approvals
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 50, "1.00")

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		switch rng.Intn(3) {
		case 0:
			// Owner restock or writedown; writedowns below zero must fail.
			delta := int64(rng.Intn(41)) - 20
			if delta == 0 {
				continue
			}
			_, err := e.catalog.AdjustQuantity(ctx, seller, item.ID, delta)
			if err != nil {
				assert.True(t, errors.Is(err, marketplace.ErrInsufficientStock),
					"adjust %d: unexpected error %v", delta, err)
			}
		default:
			qty := int64(rng.Intn(30)) + 1
			req, err := e.requests.Submit(ctx, buyer, item.ID, qty)
			if err != nil {
				assert.True(t, errors.Is(err, marketplace.ErrInsufficientStock),
					"submit %d: unexpected error %v", qty, err)
				continue
			}
			if _, _, err := e.requests.Approve(ctx, req.ID, seller.Actor); err != nil {
				assert.True(t, errors.Is(err, marketplace.ErrInsufficientStock),
					"approve %d: unexpected error %v", qty, err)
			}
		}

		// THEN: The invariant holds after every operation
		if got := itemQuantity(t, e, item.ID); got < 0 {
			t.Fatalf("quantity went negative after op %d: %d", i, got)
		}
	}
}

// =============================================================================
// SUBMISSION VALIDATION
// =============================================================================

func TestSubmit_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 10, "4.00")

	t.Run("non-positive quantity", func(t *testing.T) {
		_, err := e.requests.Submit(ctx, buyer, item.ID, 0)
		assert.True(t, errors.Is(err, marketplace.ErrValidation))
		_, err = e.requests.Submit(ctx, buyer, item.ID, -5)
		assert.True(t, errors.Is(err, marketplace.ErrValidation))
	})

	t.Run("own listing", func(t *testing.T) {
		_, err := e.requests.Submit(ctx, seller, item.ID, 1)
		assert.True(t, errors.Is(err, marketplace.ErrValidation),
			"an owner must not request their own listing")
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := e.requests.Submit(ctx, buyer, "no-such-item", 1)
		assert.True(t, errors.Is(err, marketplace.ErrNotFound))
	})

	t.Run("over available stock", func(t *testing.T) {
		_, err := e.requests.Submit(ctx, buyer, item.ID, 11)
		assert.True(t, errors.Is(err, marketplace.ErrInsufficientStock))
	})
}

func TestInboxOutbox_StatusFilter(t *testing.T) {
	// GIVEN: Three requests, one approved, one rejected, one left pending
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 100, "1.00")

	approved := submit(t, e, item.ID, 10)
	rejected := submit(t, e, item.ID, 10)
	pending := submit(t, e, item.ID, 10)

	_, _, err := e.requests.Approve(ctx, approved.ID, seller.Actor)
	require.NoError(t, err)
	_, err = e.requests.Reject(ctx, rejected.ID, seller.Actor, "no")
	require.NoError(t, err)

	// THEN: The owner inbox filters by status; empty status matches all
	all, err := e.requests.Inbox(ctx, seller, "")
	require.NoError(t, err)
	assert.Len(t, all, 3, "decided requests stay visible as history")

	onlyPending, err := e.requests.Inbox(ctx, seller, marketplace.RequestPending)
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, pending.ID, onlyPending[0].ID)

	// AND: The requester outbox shows everything they sent
	sent, err := e.requests.Outbox(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, sent, 3)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestObligation_PriceSnapshotSurvivesListingRemoval(t *testing.T) {
	// GIVEN: An approved request whose listing is later removed
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 20, "7.25")
	req := submit(t, e, item.ID, 4)
	_, _, err := e.requests.Approve(ctx, req.ID, seller.Actor)
	require.NoError(t, err)

	require.NoError(t, e.catalog.Remove(ctx, seller, item.ID))

	// THEN: The obligation still renders from its own snapshot
	obs, err := e.settlements.ListObligations(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "Wheat", obs[0].ItemName)
	assert.True(t, obs[0].UnitPrice.Equal(price("7.25")))
	assert.True(t, obs[0].AmountDue.Equal(price("29.00")))
}

func TestMarkPaid_RemovesObligation(t *testing.T) {
	// GIVEN: An outstanding obligation
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 20, "5.00")
	req := submit(t, e, item.ID, 2)
	_, ob, err := e.requests.Approve(ctx, req.ID, seller.Actor)
	require.NoError(t, err)

	// WHEN: An external payment is confirmed
	require.NoError(t, e.settlements.MarkPaid(ctx, ob.ID, "txn_9f2c"))

	// THEN: The obligation leaves the payer's ledger for good
	obs, err := e.settlements.ListObligations(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, obs)

	// AND: Confirming twice reports not found
	err = e.settlements.MarkPaid(ctx, ob.ID, "txn_9f2c")
	assert.True(t, errors.Is(err, marketplace.ErrNotFound))
}

func TestMarkPaid_RequiresExternalReference(t *testing.T) {
	// A checkout that handed us no reference never completed; the
	// obligation must stay pending.
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 20, "5.00")
	req := submit(t, e, item.ID, 2)
	_, ob, err := e.requests.Approve(ctx, req.ID, seller.Actor)
	require.NoError(t, err)

	err = e.settlements.MarkPaid(ctx, ob.ID, "  ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, marketplace.ErrValidation))

	obs, err := e.settlements.ListObligations(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, obs, 1, "obligation must survive a failed confirmation")
}

func TestMarkPaid_UnknownObligation_NotFound(t *testing.T) {
	e := newEngine()
	err := e.settlements.MarkPaid(context.Background(), "no-such-obligation", "txn_1")
	assert.True(t, errors.Is(err, marketplace.ErrNotFound))
}

// =============================================================================
// CHANGE FEED INTEGRATION
// =============================================================================

func TestApprove_PublishesCatalogStockChange(t *testing.T) {
	// GIVEN: A catalog subscriber watching live stock levels
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 100, "10.00")
	req := submit(t, e, item.ID, 30)

	sub := e.hub.Subscribe(marketplace.TopicCatalog)
	defer sub.Cancel()

	// WHEN: An approval decrements the listing
	_, _, err := e.requests.Approve(ctx, req.ID, seller.Actor)
	require.NoError(t, err)

	// THEN: The catalog topic carries the decrement, same as an owner edit
	select {
	case ev := <-sub.C:
		assert.Equal(t, marketplace.EventCatalogUpserted, ev.Type)
		assert.Equal(t, string(item.ID), ev.Key)
		assert.Equal(t, int64(70), ev.Body["quantity"],
			"the event must carry the post-approval quantity")
	case <-time.After(time.Second):
		t.Fatal("catalog subscriber saw no event for the approval decrement")
	}

	// AND: The external feed gets the same event via the outbox
	pending, err := e.store.PendingChanges(ctx, 100)
	require.NoError(t, err)
	var catalogRows int
	for _, ev := range pending {
		if ev.Topic == marketplace.TopicCatalog {
			catalogRows++
		}
	}
	assert.Equal(t, 2, catalogRows, "creation plus the approval decrement")
}

func TestLifecycle_EmitsOutboxEvents(t *testing.T) {
	// Every mutation writes its change event in the same commit, so the
	// external feed can never observe a half-applied approval.
	ctx := context.Background()
	e := newEngine()
	item := listItem(t, e, 30, "2.00")
	req := submit(t, e, item.ID, 5)
	_, ob, err := e.requests.Approve(ctx, req.ID, seller.Actor)
	require.NoError(t, err)
	require.NoError(t, e.settlements.MarkPaid(ctx, ob.ID, "txn_feed"))

	pending, err := e.store.PendingChanges(ctx, 100)
	require.NoError(t, err)

	types := make(map[string]int)
	for _, ev := range pending {
		types[ev.Type]++
	}
	assert.Equal(t, 2, types[marketplace.EventCatalogUpserted],
		"listing creation plus the approval's stock decrement")
	assert.Equal(t, 1, types[marketplace.EventRequestSubmitted])
	assert.Equal(t, 1, types[marketplace.EventRequestDecided])
	assert.Equal(t, 1, types[marketplace.EventObligationCreated])
	assert.Equal(t, 1, types[marketplace.EventObligationSettled])
}
