/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes exchanged with clients, conversion helpers from domain
  types, and the shared response/error writers.

CONVENTIONS:
  - snake_case JSON fields
  - Decimal amounts serialized as strings ("12.50"), never floats
  - Errors as {"error": "...", "details": "..."} with a mapped status
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/venod/supplyvault/marketplace"
)

// =============================================================================
// AUTH
// =============================================================================

type SignupRequest struct {
	Role     string            `json:"role"`
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Profile  map[string]string `json:"profile,omitempty"`
}

type LoginRequest struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionDTO struct {
	Role    string `json:"role"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

type CreateItemRequest struct {
	Name       string            `json:"name"`
	Quantity   int64             `json:"quantity"`
	UnitPrice  string            `json:"unit_price"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type AdjustQuantityRequest struct {
	Delta int64 `json:"delta"`
}

type CatalogItemDTO struct {
	ID                string            `json:"id"`
	OwnerRole         string            `json:"owner_role"`
	OwnerID           string            `json:"owner_id"`
	Kind              string            `json:"kind"`
	Name              string            `json:"name"`
	QuantityAvailable int64             `json:"quantity_available"`
	UnitPrice         string            `json:"unit_price"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	CreatedAt         string            `json:"created_at"`
}

func toItemDTO(item marketplace.CatalogItem) CatalogItemDTO {
	return CatalogItemDTO{
		ID:                string(item.ID),
		OwnerRole:         string(item.Owner.Role),
		OwnerID:           string(item.Owner.Actor),
		Kind:              item.Kind,
		Name:              item.Name,
		QuantityAvailable: item.QuantityAvailable,
		UnitPrice:         item.UnitPrice.String(),
		Attributes:        item.Attributes,
		CreatedAt:         item.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

type SubmitRequestRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

type DecisionRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

type RequestDTO struct {
	ID                string `json:"id"`
	TargetRole        string `json:"target_role"`
	TargetID          string `json:"target_id"`
	RequesterRole     string `json:"requester_role"`
	RequesterID       string `json:"requester_id"`
	ItemID            string `json:"item_id"`
	ItemName          string `json:"item_name"`
	RequestedQuantity int64  `json:"requested_quantity"`
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	DecidedBy         string `json:"decided_by,omitempty"`
	DecidedAt         string `json:"decided_at,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func toRequestDTO(req marketplace.Request) RequestDTO {
	dto := RequestDTO{
		ID:                string(req.ID),
		TargetRole:        string(req.Target.Role),
		TargetID:          string(req.Target.Actor),
		RequesterRole:     string(req.Requester.Role),
		RequesterID:       string(req.Requester.Actor),
		ItemID:            string(req.CatalogItemID),
		ItemName:          req.ItemName,
		RequestedQuantity: req.RequestedQuantity,
		Status:            string(req.Status),
		Reason:            req.Reason,
		DecidedBy:         string(req.DecidedBy),
		CreatedAt:         req.CreatedAt.Format(time.RFC3339),
	}
	if req.DecidedAt != nil {
		dto.DecidedAt = req.DecidedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type ObligationDTO struct {
	ID            string `json:"id"`
	PayerRole     string `json:"payer_role"`
	PayerID       string `json:"payer_id"`
	OwnerRole     string `json:"owner_role"`
	OwnerID       string `json:"owner_id"`
	ItemID        string `json:"item_id"`
	ItemName      string `json:"item_name"`
	UnitPrice     string `json:"unit_price"`
	Quantity      int64  `json:"quantity"`
	AmountDue     string `json:"amount_due"`
	PaymentStatus string `json:"payment_status"`
	CreatedAt     string `json:"created_at"`
}

func toObligationDTO(ob marketplace.SettlementObligation) ObligationDTO {
	return ObligationDTO{
		ID:            string(ob.ID),
		PayerRole:     string(ob.Payer.Role),
		PayerID:       string(ob.Payer.Actor),
		OwnerRole:     string(ob.Owner.Role),
		OwnerID:       string(ob.Owner.Actor),
		ItemID:        string(ob.CatalogItemID),
		ItemName:      ob.ItemName,
		UnitPrice:     ob.UnitPrice.String(),
		Quantity:      ob.Quantity,
		AmountDue:     ob.AmountDue.String(),
		PaymentStatus: string(ob.PaymentStatus),
		CreatedAt:     ob.CreatedAt.Format(time.RFC3339),
	}
}

type ApprovalResponse struct {
	Request    RequestDTO    `json:"request"`
	Obligation ObligationDTO `json:"obligation"`
}

type ConfirmPaymentRequest struct {
	PaymentRef string `json:"payment_ref"`
}

// =============================================================================
// RESPONSE WRITERS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, marketplace.ErrAuth):
		// No details: role/identity must not be distinguishable.
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
	case errors.Is(err, marketplace.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, marketplace.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, marketplace.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "Insufficient stock", err)
	case errors.Is(err, marketplace.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "Request already decided", err)
	case errors.Is(err, marketplace.ErrRemoteUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Backend unavailable, please retry", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
