/*
handlers.go - HTTP API handlers for the marketplace engine

PURPOSE:
  Exposes the marketplace engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/signup                       Register a role actor
    POST   /api/auth/login                        Verify credentials

  Catalog:
    GET    /api/roles/{role}/{id}/catalog          List listings (browseable cross-role)
    POST   /api/roles/{role}/{id}/catalog          Create listing
    DELETE /api/roles/{role}/{id}/catalog/{item}   Remove listing
    POST   /api/roles/{role}/{id}/catalog/{item}/adjust  Stock correction

  Requests:
    POST   /api/roles/{role}/{id}/requests        Submit ask against an item
    GET    /api/roles/{role}/{id}/inbox?status=   Owner inbox (pending/approved/rejected)
    GET    /api/roles/{role}/{id}/outbox          Requester's sent asks
    POST   /api/requests/{id}/approve             Owner approves
    POST   /api/requests/{id}/reject              Owner rejects

  Settlements:
    GET    /api/roles/{role}/{id}/payments        Payer's outstanding obligations
    POST   /api/payments/{id}/confirm             Record confirmed external payment

  Feed:
    GET    /api/events?topic=catalog              SSE change stream

ERROR HANDLING:
  Domain errors map to statuses in dto.go: 400 validation, 401 auth,
  404 missing, 409 oversell/already-decided, 503 backend unavailable.

SECURITY NOTE:
  Login returns an opaque actor id that scopes subsequent calls; session
  management beyond credential verification is out of scope here.

SEE ALSO:
  - dto.go:    Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/venod/supplyvault/marketplace"
	"github.com/venod/supplyvault/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Catalog     *marketplace.CatalogService
	Requests    *marketplace.RequestService
	Settlements *marketplace.SettlementService
	Directory   *marketplace.Directory
	Hub         *marketplace.Hub
	Metrics     *metrics.ServerMetrics
}

// NewHandler wires all services over one store and hub.
func NewHandler(store marketplace.TxStore, hub *marketplace.Hub, m *metrics.ServerMetrics) *Handler {
	return &Handler{
		Catalog:     marketplace.NewCatalogService(store, hub),
		Requests:    marketplace.NewRequestService(store, hub),
		Settlements: marketplace.NewSettlementService(store, hub),
		Directory:   marketplace.NewDirectory(store),
		Hub:         hub,
		Metrics:     m,
	}
}

// roleRef extracts and validates the {role}/{id} path pair.
func roleRef(r *http.Request) (marketplace.RoleRef, error) {
	role := marketplace.RoleType(chi.URLParam(r, "role"))
	if !role.Valid() {
		return marketplace.RoleRef{}, &marketplace.ValidationError{Field: "role", Reason: "unknown role"}
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		return marketplace.RoleRef{}, &marketplace.ValidationError{Field: "id", Reason: "is required"}
	}
	return marketplace.RoleRef{Role: role, Actor: marketplace.ActorID(id)}, nil
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Signup registers a new actor under a role.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	actor, err := h.Directory.Register(r.Context(),
		marketplace.RoleType(req.Role), req.Name, req.Email, req.Password, req.Profile)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionDTO{
		Role:    string(actor.Role),
		ActorID: string(actor.ID),
		Name:    actor.Name,
	})
}

// Login verifies credentials and returns the opaque actor id.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	actorID, err := h.Directory.FindCredential(r.Context(),
		marketplace.RoleType(req.Role), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionDTO{Role: req.Role, ActorID: string(actorID)})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListCatalog returns one role instance's listings. Any signed-in actor
// may browse any catalog; that is how requesters find items.
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	owner, err := roleRef(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items, err := h.Catalog.List(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]CatalogItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateItem creates a listing in the caller's own catalog.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	owner, err := roleRef(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := marketplace.ParsePrice(req.UnitPrice)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	kind, ok := marketplace.KindForRole(owner.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "No listable kind for role", nil)
		return
	}

	item, err := h.Catalog.Create(r.Context(), owner, kind, req.Name, req.Quantity, price, req.Attributes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*item))
}

// DeleteItem removes a listing from the caller's catalog.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	owner, err := roleRef(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	itemID := marketplace.ItemID(chi.URLParam(r, "itemID"))
	if err := h.Catalog.Remove(r.Context(), owner, itemID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdjustItem applies an owner stock correction (restock or writedown).
func (h *Handler) AdjustItem(w http.ResponseWriter, r *http.Request) {
	owner, err := roleRef(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req AdjustQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	itemID := marketplace.ItemID(chi.URLParam(r, "itemID"))
	item, err := h.Catalog.AdjustQuantity(r.Context(), owner, itemID, req.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a pending ask against another role's listing.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	requester, err := roleRef(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req SubmitRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.Requests.Submit(r.Context(), requester, marketplace.ItemID(req.ItemID), req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// Inbox lists requests targeting the owner, filtered by ?status=.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	owner, err := roleRef(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := marketplace.RequestStatus(r.URL.Query().Get("status"))
	reqs, err := h.Requests.Inbox(r.Context(), owner, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// Outbox lists requests the actor has sent to other roles.
func (h *Handler) Outbox(w http.ResponseWriter, r *http.Request) {
	requester, err := roleRef(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	reqs, err := h.Requests.Outbox(r.Context(), requester)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// ApproveRequest decides a pending request in the owner's favor:
// stock decrement, status flip and obligation creation in one commit.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id := marketplace.RequestID(chi.URLParam(r, "id"))

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	decided, obligation, err := h.Requests.Approve(r.Context(), id, marketplace.ActorID(req.ActorID))
	if err != nil {
		h.countDecision(errOutcome(err))
		writeDomainError(w, err)
		return
	}

	h.countDecision("approved")
	writeJSON(w, http.StatusOK, ApprovalResponse{
		Request:    toRequestDTO(*decided),
		Obligation: toObligationDTO(*obligation),
	})
}

// RejectRequest declines a pending request. Status flips; nothing else.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id := marketplace.RequestID(chi.URLParam(r, "id"))

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	decided, err := h.Requests.Reject(r.Context(), id, marketplace.ActorID(req.ActorID), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.countDecision("rejected")
	writeJSON(w, http.StatusOK, toRequestDTO(*decided))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// ListPayments returns the payer's outstanding obligations.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payer, err := roleRef(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	obs, err := h.Settlements.ListObligations(r.Context(), payer)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ObligationDTO, len(obs))
	for i, ob := range obs {
		dtos[i] = toObligationDTO(ob)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ConfirmPayment records a confirmed external checkout and clears the
// obligation. The payment itself happened elsewhere; we only keep the ref.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := marketplace.ObligationID(chi.URLParam(r, "id"))

	var req ConfirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Settlements.MarkPaid(r.Context(), id, req.PaymentRef); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CHANGE FEED (SSE)
// =============================================================================

// Events streams change events for one topic as server-sent events until
// the client disconnects. The subscription is cancelled on teardown.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	topic := marketplace.Topic(r.URL.Query().Get("topic"))
	switch topic {
	case marketplace.TopicCatalog, marketplace.TopicRequests, marketplace.TopicSettlements:
	default:
		writeError(w, http.StatusBadRequest, "Unknown topic", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	sub := h.Hub.Subscribe(topic)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func toRequestDTOs(reqs []marketplace.Request) []RequestDTO {
	dtos := make([]RequestDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toRequestDTO(req)
	}
	return dtos
}

func (h *Handler) countDecision(outcome string) {
	if h.Metrics != nil {
		h.Metrics.Decisions.WithLabelValues(outcome).Inc()
	}
}

func errOutcome(err error) string {
	switch {
	case errors.Is(err, marketplace.ErrInsufficientStock):
		return "oversell"
	case errors.Is(err, marketplace.ErrInvalidTransition):
		return "already_decided"
	default:
		return "error"
	}
}
