/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements marketplace.TxStore using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  catalog_items:          Listings with the guarded quantity column
  requests:               Reservation requests (never deleted)
  settlement_obligations: Payer ledger, removed on confirmed payment
  actors:                 Per-role credential/profile collections
  outbox:                 Change events pending external publication

QUANTITY GUARD:
  The quantity column carries CHECK(quantity >= 0) and AdjustQuantity is
  a single conditional UPDATE, so even a caller that bypasses the
  engine's per-item lock cannot drive stock negative.

STATUS CAS:
  SetRequestStatus is UPDATE ... WHERE id=? AND status=?, making the
  pending -> terminal transition a compare-and-swap at the SQL level.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block and a single writer commits atomically.

USAGE:
  st, err := sqlite.New("./data/supplyvault.db")
  defer st.Close()

SEE ALSO:
  - marketplace/store.go:        Interface definitions
  - marketplace/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/venod/supplyvault/marketplace"
)

// dbtx is the subset of *sql.DB / *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements marketplace.Store over either a database or a transaction.
type conn struct {
	q dbtx
}

// Store implements marketplace.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection avoids
	// SQLITE_BUSY under concurrent commits.
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_items (
		id TEXT PRIMARY KEY,
		owner_role TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		unit_price TEXT NOT NULL,
		attributes_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_catalog_owner
		ON catalog_items(owner_role, owner_id);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		target_role TEXT NOT NULL,
		target_id TEXT NOT NULL,
		requester_role TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		status TEXT NOT NULL,
		reason TEXT,
		decided_by TEXT,
		decided_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_inbox
		ON requests(target_role, target_id, status);
	CREATE INDEX IF NOT EXISTS idx_requests_outbox
		ON requests(requester_role, requester_id);

	CREATE TABLE IF NOT EXISTS settlement_obligations (
		id TEXT PRIMARY KEY,
		payer_role TEXT NOT NULL,
		payer_id TEXT NOT NULL,
		owner_role TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		amount_due TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_settlements_payer
		ON settlement_obligations(payer_role, payer_id);

	CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		password_hash BLOB NOT NULL,
		profile_json TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (role, id),
		UNIQUE (role, email)
	);

	CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		event_type TEXT NOT NULL,
		key TEXT NOT NULL,
		owner_role TEXT,
		owner_id TEXT,
		body_json TEXT,
		created_at TEXT NOT NULL,
		sent_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_unsent
		ON outbox(seq) WHERE sent_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(marketplace.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&conn{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

const timeFormat = time.RFC3339Nano

// =============================================================================
// CATALOG
// =============================================================================

func (c *conn) PutItem(ctx context.Context, item marketplace.CatalogItem) error {
	attrs, err := marshalMap(item.Attributes)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO catalog_items
			(id, owner_role, owner_id, kind, name, quantity, unit_price, attributes_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price,
			attributes_json = excluded.attributes_json,
			updated_at = excluded.updated_at`,
		item.ID, item.Owner.Role, item.Owner.Actor, item.Kind, item.Name,
		item.QuantityAvailable, item.UnitPrice.String(), attrs,
		item.CreatedAt.UTC().Format(timeFormat), item.UpdatedAt.UTC().Format(timeFormat))
	return err
}

func (c *conn) GetItem(ctx context.Context, id marketplace.ItemID) (*marketplace.CatalogItem, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, owner_role, owner_id, kind, name, quantity, unit_price, attributes_json, created_at, updated_at
		FROM catalog_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (c *conn) ListItems(ctx context.Context, owner marketplace.RoleRef) ([]marketplace.CatalogItem, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, owner_role, owner_id, kind, name, quantity, unit_price, attributes_json, created_at, updated_at
		FROM catalog_items WHERE owner_role = ? AND owner_id = ?
		ORDER BY created_at`, owner.Role, owner.Actor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []marketplace.CatalogItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (c *conn) DeleteItem(ctx context.Context, id marketplace.ItemID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &marketplace.NotFoundError{Collection: "catalog", ID: string(id)}
	}
	return nil
}

func (c *conn) AdjustQuantity(ctx context.Context, id marketplace.ItemID, delta int64) (int64, error) {
	// Conditional update: never lets quantity cross zero, even for a
	// caller that skipped the engine's per-item lock.
	res, err := c.q.ExecContext(ctx, `
		UPDATE catalog_items
		SET quantity = quantity + ?, updated_at = ?
		WHERE id = ? AND quantity + ? >= 0`,
		delta, time.Now().UTC().Format(timeFormat), id, delta)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		var available int64
		err := c.q.QueryRowContext(ctx, `SELECT quantity FROM catalog_items WHERE id = ?`, id).Scan(&available)
		if err == sql.ErrNoRows {
			return 0, &marketplace.NotFoundError{Collection: "catalog", ID: string(id)}
		}
		if err != nil {
			return 0, err
		}
		return 0, &marketplace.InsufficientStockError{ItemID: id, Available: available, Requested: -delta}
	}

	var newQty int64
	if err := c.q.QueryRowContext(ctx, `SELECT quantity FROM catalog_items WHERE id = ?`, id).Scan(&newQty); err != nil {
		return 0, err
	}
	return newQty, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (c *conn) PutRequest(ctx context.Context, req marketplace.Request) error {
	var decidedAt any
	if req.DecidedAt != nil {
		decidedAt = req.DecidedAt.UTC().Format(timeFormat)
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO requests
			(id, target_role, target_id, requester_role, requester_id, item_id, item_name,
			 quantity, status, reason, decided_by, decided_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Target.Role, req.Target.Actor,
		req.Requester.Role, req.Requester.Actor,
		req.CatalogItemID, req.ItemName, req.RequestedQuantity,
		req.Status, nullable(req.Reason), nullable(string(req.DecidedBy)), decidedAt,
		req.CreatedAt.UTC().Format(timeFormat))
	return err
}

func (c *conn) GetRequest(ctx context.Context, id marketplace.RequestID) (*marketplace.Request, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, target_role, target_id, requester_role, requester_id, item_id, item_name,
		       quantity, status, reason, decided_by, decided_at, created_at
		FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (c *conn) ListInbox(ctx context.Context, owner marketplace.RoleRef, status marketplace.RequestStatus) ([]marketplace.Request, error) {
	query := `
		SELECT id, target_role, target_id, requester_role, requester_id, item_id, item_name,
		       quantity, status, reason, decided_by, decided_at, created_at
		FROM requests WHERE target_role = ? AND target_id = ?`
	args := []any{owner.Role, owner.Actor}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	return c.queryRequests(ctx, query, args...)
}

func (c *conn) ListOutbox(ctx context.Context, requester marketplace.RoleRef) ([]marketplace.Request, error) {
	return c.queryRequests(ctx, `
		SELECT id, target_role, target_id, requester_role, requester_id, item_id, item_name,
		       quantity, status, reason, decided_by, decided_at, created_at
		FROM requests WHERE requester_role = ? AND requester_id = ?
		ORDER BY created_at DESC`, requester.Role, requester.Actor)
}

func (c *conn) queryRequests(ctx context.Context, query string, args ...any) ([]marketplace.Request, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []marketplace.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func (c *conn) SetRequestStatus(
	ctx context.Context,
	id marketplace.RequestID,
	from, to marketplace.RequestStatus,
	decidedBy marketplace.ActorID,
	at time.Time,
) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE requests SET status = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		to, decidedBy, at.UTC().Format(timeFormat), id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current marketplace.RequestStatus
		err := c.q.QueryRowContext(ctx, `SELECT status FROM requests WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return &marketplace.NotFoundError{Collection: "requests", ID: string(id)}
		}
		if err != nil {
			return err
		}
		return &marketplace.InvalidTransitionError{RequestID: id, From: current, To: to}
	}
	return nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (c *conn) PutObligation(ctx context.Context, ob marketplace.SettlementObligation) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO settlement_obligations
			(id, payer_role, payer_id, owner_role, owner_id, item_id, item_name,
			 unit_price, quantity, amount_due, payment_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ob.ID, ob.Payer.Role, ob.Payer.Actor, ob.Owner.Role, ob.Owner.Actor,
		ob.CatalogItemID, ob.ItemName, ob.UnitPrice.String(), ob.Quantity,
		ob.AmountDue.String(), ob.PaymentStatus, ob.CreatedAt.UTC().Format(timeFormat))
	return err
}

func (c *conn) GetObligation(ctx context.Context, id marketplace.ObligationID) (*marketplace.SettlementObligation, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, payer_role, payer_id, owner_role, owner_id, item_id, item_name,
		       unit_price, quantity, amount_due, payment_status, created_at
		FROM settlement_obligations WHERE id = ?`, id)
	ob, err := scanObligation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ob, nil
}

func (c *conn) ListObligations(ctx context.Context, payer marketplace.RoleRef) ([]marketplace.SettlementObligation, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, payer_role, payer_id, owner_role, owner_id, item_id, item_name,
		       unit_price, quantity, amount_due, payment_status, created_at
		FROM settlement_obligations WHERE payer_role = ? AND payer_id = ?
		ORDER BY created_at`, payer.Role, payer.Actor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []marketplace.SettlementObligation
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obs = append(obs, *ob)
	}
	return obs, rows.Err()
}

func (c *conn) DeleteObligation(ctx context.Context, id marketplace.ObligationID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM settlement_obligations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &marketplace.NotFoundError{Collection: "settlements", ID: string(id)}
	}
	return nil
}

// =============================================================================
// ACTORS
// =============================================================================

func (c *conn) SaveActor(ctx context.Context, a marketplace.Actor) error {
	profile, err := marshalMap(a.Profile)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO actors (id, role, name, email, password_hash, profile_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Role, a.Name, a.Email, a.PasswordHash, profile,
		a.CreatedAt.UTC().Format(timeFormat))
	return err
}

func (c *conn) GetActor(ctx context.Context, role marketplace.RoleType, id marketplace.ActorID) (*marketplace.Actor, error) {
	return scanActorRow(c.q.QueryRowContext(ctx, `
		SELECT id, role, name, email, password_hash, profile_json, created_at
		FROM actors WHERE role = ? AND id = ?`, role, id))
}

func (c *conn) FindActorByEmail(ctx context.Context, role marketplace.RoleType, email string) (*marketplace.Actor, error) {
	return scanActorRow(c.q.QueryRowContext(ctx, `
		SELECT id, role, name, email, password_hash, profile_json, created_at
		FROM actors WHERE role = ? AND email = ?`, role, email))
}

func scanActorRow(row *sql.Row) (*marketplace.Actor, error) {
	var (
		a         marketplace.Actor
		profile   sql.NullString
		createdAt string
	)
	err := row.Scan(&a.ID, &a.Role, &a.Name, &a.Email, &a.PasswordHash, &profile, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.Profile, err = unmarshalMap(profile); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// OUTBOX
// =============================================================================

func (c *conn) AppendChange(ctx context.Context, ev marketplace.ChangeEvent) error {
	var body any
	if ev.Body != nil {
		data, err := json.Marshal(ev.Body)
		if err != nil {
			return err
		}
		body = string(data)
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO outbox (event_id, topic, event_type, key, owner_role, owner_id, body_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Topic, ev.Type, ev.Key, ev.Owner.Role, ev.Owner.Actor,
		body, ev.At.UTC().Format(timeFormat))
	return err
}

func (c *conn) PendingChanges(ctx context.Context, limit int) ([]marketplace.ChangeEvent, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT event_id, topic, event_type, key, owner_role, owner_id, body_json, created_at
		FROM outbox WHERE sent_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []marketplace.ChangeEvent
	for rows.Next() {
		var (
			ev        marketplace.ChangeEvent
			body      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Type, &ev.Key,
			&ev.Owner.Role, &ev.Owner.Actor, &body, &createdAt); err != nil {
			return nil, err
		}
		if body.Valid {
			if err := json.Unmarshal([]byte(body.String), &ev.Body); err != nil {
				return nil, err
			}
		}
		if ev.At, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (c *conn) MarkChangeSent(ctx context.Context, eventID string) error {
	_, err := c.q.ExecContext(ctx, `
		UPDATE outbox SET sent_at = ? WHERE event_id = ?`,
		time.Now().UTC().Format(timeFormat), eventID)
	return err
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*marketplace.CatalogItem, error) {
	var (
		item               marketplace.CatalogItem
		price              string
		attrs              sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&item.ID, &item.Owner.Role, &item.Owner.Actor, &item.Kind,
		&item.Name, &item.QuantityAvailable, &price, &attrs, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if item.Attributes, err = unmarshalMap(attrs); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &item, nil
}

func scanRequest(row scannable) (*marketplace.Request, error) {
	var (
		req               marketplace.Request
		reason, decidedBy sql.NullString
		decidedAt         sql.NullString
		createdAt         string
	)
	err := row.Scan(&req.ID, &req.Target.Role, &req.Target.Actor,
		&req.Requester.Role, &req.Requester.Actor, &req.CatalogItemID, &req.ItemName,
		&req.RequestedQuantity, &req.Status, &reason, &decidedBy, &decidedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	req.Reason = reason.String
	req.DecidedBy = marketplace.ActorID(decidedBy.String)
	if decidedAt.Valid {
		t, err := parseTime(decidedAt.String)
		if err != nil {
			return nil, err
		}
		req.DecidedAt = &t
	}
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &req, nil
}

func scanObligation(row scannable) (*marketplace.SettlementObligation, error) {
	var (
		ob            marketplace.SettlementObligation
		price, amount string
		createdAt     string
	)
	err := row.Scan(&ob.ID, &ob.Payer.Role, &ob.Payer.Actor, &ob.Owner.Role, &ob.Owner.Actor,
		&ob.CatalogItemID, &ob.ItemName, &price, &ob.Quantity, &amount, &ob.PaymentStatus, &createdAt)
	if err != nil {
		return nil, err
	}
	if ob.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if ob.AmountDue, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if ob.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &ob, nil
}

func marshalMap(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalMap(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Compile-time interface checks.
var (
	_ marketplace.Store   = (*conn)(nil)
	_ marketplace.TxStore = (*Store)(nil)
)
