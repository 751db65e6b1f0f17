/*
handlers.go - HTTP API handlers for the parking ledger

PURPOSE:
  Exposes the billing service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Service.

ENDPOINTS:
  Rate:
    GET    /api/rate                        Current UF snapshot

  Residents:
    GET    /api/status                      Delinquency board
    GET    /api/residents                   Active residents
    GET    /api/residents/{id}/debt         Owed/upcoming periods and fines
    POST   /api/residents/{id}/payments     Pay periods and fines
    POST   /api/residents/{id}/adjustments  Manual adjustment record

  Payments:
    GET    /api/payments                    History (resident, from, to, type)
    PUT    /api/payments/{id}               Correct amounts and notes
    DELETE /api/payments/{id}               Remove a record

ERROR HANDLING:
  billing.Classify decides the status code:
  - 400: Validation errors, invalid input
  - 404: Resident, contract or payment not found
  - 409: Unique key conflict
  - 422: Precondition failed (e.g. no current contract)
  - 503: Database connection lost
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/parking-ledger/billing"
)

const dateLayout = "2006-01-02"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *billing.Service
	Seeder  Seeder // nil disables the scenario loader

	log *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the billing service.
func NewHandler(svc *billing.Service, seeder Seeder, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, Seeder: seeder, log: log}
}

// =============================================================================
// RATE AND STATUS
// =============================================================================

// GetRate returns the cached UF snapshot.
// GET /api/rate
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toRateDTO(h.Service.GetRate()))
}

// GetStatusList returns one row per resident with the worst status of their contracts.
// GET /api/status
func (h *Handler) GetStatusList(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.GetStatusList(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to load status list", err)
		return
	}

	dto := StatusListDTO{
		Today:     list.Today.Format(dateLayout),
		Rate:      toRateDTO(list.Rate),
		Residents: make([]StatusEntryDTO, len(list.Entries)),
	}
	for i, e := range list.Entries {
		dto.Residents[i] = StatusEntryDTO{
			ResidentID:  e.ResidentID,
			Name:        e.ResidentName,
			TaxID:       e.ResidentTaxID,
			Contracts:   e.Contracts,
			PaymentDays: e.PaymentDays,
			Status:      e.Status,
			DaysOverdue: e.DaysOverdue,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESIDENT HANDLERS
// =============================================================================

// ListResidents returns active residents, for pickers.
// GET /api/residents
func (h *Handler) ListResidents(w http.ResponseWriter, r *http.Request) {
	residents, err := h.Service.ActiveResidents(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list residents", err)
		return
	}

	dtos := make([]ResidentDTO, len(residents))
	for i, res := range residents {
		dtos[i] = ResidentDTO{ID: res.ID, Name: res.Name, TaxID: res.TaxID}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDebt returns the debt detail of a resident's current contract.
// GET /api/residents/{id}/debt
func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	residentID := chi.URLParam(r, "id")

	details, err := h.Service.GetDebtDetails(r.Context(), residentID)
	if err != nil {
		h.writeServiceError(w, "Failed to load debt details", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDetailsDTO(details))
}

// ProcessPayment records the selected periods and the fines decision as one
// batch and answers with the refreshed debt detail.
// POST /api/residents/{id}/payments
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	residentID := chi.URLParam(r, "id")

	var req ProcessPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.Service.ProcessPayment(ctx, residentID, req.toDomain()); err != nil {
		h.writeServiceError(w, "Failed to process payment", err)
		return
	}

	details, err := h.Service.GetDebtDetails(ctx, residentID)
	if err != nil {
		h.writeServiceError(w, "Payment recorded but debt reload failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDebtDetailsDTO(details))
}

// CreateAdjustment appends an Adjustment record to the resident's current contract.
// POST /api/residents/{id}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	residentID := chi.URLParam(r, "id")

	var req CreateAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Service.CreateAdjustment(r.Context(), residentID, req.Period, req.Amount, req.Notes)
	if err != nil {
		h.writeServiceError(w, "Failed to create adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentRecordDTO(rec))
}

// =============================================================================
// PAYMENT HISTORY
// =============================================================================

// ListPayments returns filtered payment history with totals.
// GET /api/payments?resident=&from=&to=&type=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	history, err := h.Service.PaymentHistory(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTO(history))
}

func parseHistoryFilter(r *http.Request) (billing.HistoryFilter, error) {
	q := r.URL.Query()
	f := billing.HistoryFilter{Resident: strings.TrimSpace(q.Get("resident"))}

	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(dateLayout, v); err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(dateLayout, v); err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("to is before from")
	}

	switch kind := billing.RecordKind(strings.ToLower(q.Get("type"))); kind {
	case billing.KindAll, billing.KindFine, billing.KindAdjustment:
		f.Kind = kind
	case "all":
		f.Kind = billing.KindAll
	default:
		return f, fmt.Errorf("unknown type %q", kind)
	}
	return f, nil
}

// UpdatePayment corrects an existing record.
// PUT /api/payments/{id}
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Service.UpdatePayment(r.Context(), id, billing.PaymentUpdate{
		Expected: req.ExpectedAmount,
		Fine:     req.FineAmount,
		Paid:     req.PaidAmount,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, "Failed to update payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentRecordDTO(rec))
}

// DeletePayment removes a record.
// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Service.DeletePayment(r.Context(), id); err != nil {
		h.writeServiceError(w, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeServiceError maps a billing error to its HTTP status and tags the body
// with the outcome name.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	outcome := billing.Classify(err)
	status := statusFor(outcome)
	if status >= http.StatusInternalServerError {
		h.log.Error(message, zap.String("outcome", outcome.String()), zap.Error(err))
	}

	resp := ErrorResponse{Error: message, Code: outcome.String(), Details: err.Error()}
	var verr *billing.ValidationError
	var cerr *billing.ConflictError
	switch {
	case errors.As(err, &verr):
		resp.Details = map[string]string{"field": verr.Field, "reason": verr.Reason}
	case errors.As(err, &cerr):
		resp.Details = map[string]string{"field": cerr.Field, "value": cerr.Value}
	}
	writeJSON(w, status, resp)
}

func statusFor(o billing.Outcome) int {
	switch o {
	case billing.OutcomeOK:
		return http.StatusOK
	case billing.OutcomeValidation:
		return http.StatusBadRequest
	case billing.OutcomeNotFound:
		return http.StatusNotFound
	case billing.OutcomeConflict:
		return http.StatusConflict
	case billing.OutcomePrecondition:
		return http.StatusUnprocessableEntity
	case billing.OutcomeConnectionLost:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
