/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  billing package types so field names can evolve independently.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Periods travel as the first day of the month ("2024-03-01"); "2024-03"
  is accepted on input. Money travels as decimal strings.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/parking-ledger/billing"
	"github.com/warp/parking-ledger/rates"
)

// =============================================================================
// RATE
// =============================================================================

type RateDTO struct {
	Value decimal.Decimal `json:"value"`
	Date  string          `json:"date"`
}

func toRateDTO(s rates.Snapshot) RateDTO {
	return RateDTO{Value: s.Value, Date: s.Date.Format(dateLayout)}
}

// =============================================================================
// STATUS BOARD
// =============================================================================

type StatusEntryDTO struct {
	ResidentID  string         `json:"resident_id"`
	Name        string         `json:"name"`
	TaxID       string         `json:"tax_id"`
	Contracts   []string       `json:"contracts"`
	PaymentDays []int          `json:"payment_days"`
	Status      billing.Status `json:"status"`
	DaysOverdue int            `json:"days_overdue"`
}

type StatusListDTO struct {
	Today     string           `json:"today"`
	Rate      RateDTO          `json:"rate"`
	Residents []StatusEntryDTO `json:"residents"`
}

// =============================================================================
// DEBT DETAIL
// =============================================================================

type PeriodDueDTO struct {
	Period billing.Period  `json:"period"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type FinesDTO struct {
	Count int             `json:"count"`
	Unit  decimal.Decimal `json:"unit"`
	Total decimal.Decimal `json:"total"`
}

type DebtDetailsDTO struct {
	ContractID   string          `json:"contract_id"`
	ResidentID   string          `json:"resident_id"`
	ResidentName string          `json:"resident_name"`
	TaxID        string          `json:"tax_id"`
	Template     string          `json:"template"`
	StartDate    string          `json:"start_date"`
	PaymentDay   int             `json:"payment_day"`
	MonthlyFee   decimal.Decimal `json:"monthly_fee"`
	Status       billing.Status  `json:"status"`
	DaysOverdue  int             `json:"days_overdue"`
	Owed         []PeriodDueDTO  `json:"owed"`
	OwedTotal    decimal.Decimal `json:"owed_total"`
	Upcoming     []PeriodDueDTO  `json:"upcoming"`
	Fines        FinesDTO        `json:"fines"`
	Rate         RateDTO         `json:"rate"`
}

func toPeriodDueDTOs(in []billing.PeriodDue) []PeriodDueDTO {
	out := make([]PeriodDueDTO, len(in))
	for i, p := range in {
		out[i] = PeriodDueDTO{Period: p.Period, Label: p.Period.Label(), Amount: p.Amount}
	}
	return out
}

func toDebtDetailsDTO(d billing.DebtDetails) DebtDetailsDTO {
	total := decimal.Zero
	for _, p := range d.Owed {
		total = total.Add(p.Amount)
	}
	return DebtDetailsDTO{
		ContractID:   d.Contract.ID,
		ResidentID:   d.Contract.ResidentID,
		ResidentName: d.Contract.ResidentName,
		TaxID:        d.Contract.ResidentTaxID,
		Template:     d.Contract.TemplateName,
		StartDate:    d.Contract.StartDate.Format(dateLayout),
		PaymentDay:   d.Contract.PaymentDay(),
		MonthlyFee:   d.MonthlyFee,
		Status:       d.Status,
		DaysOverdue:  d.DaysOverdue,
		Owed:         toPeriodDueDTOs(d.Owed),
		OwedTotal:    total,
		Upcoming:     toPeriodDueDTOs(d.Upcoming),
		Fines:        FinesDTO{Count: d.Fines.Count, Unit: d.Fines.Unit, Total: d.Fines.Total},
		Rate:         toRateDTO(d.Rate),
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PeriodPaymentRequest struct {
	Period billing.Period  `json:"period"`
	Amount decimal.Decimal `json:"amount"`
}

type FinesDecisionRequest struct {
	Apply bool            `json:"apply"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// ProcessPaymentRequest is the body of POST /api/residents/{id}/payments.
type ProcessPaymentRequest struct {
	Periods []PeriodPaymentRequest `json:"periods"`
	Fines   FinesDecisionRequest   `json:"fines"`
}

func (r ProcessPaymentRequest) toDomain() billing.PaymentRequest {
	req := billing.PaymentRequest{
		Periods: make([]billing.PeriodPayment, len(r.Periods)),
		Fines:   billing.FinesDecision{Apply: r.Fines.Apply, Count: r.Fines.Count, Total: r.Fines.Total},
	}
	for i, p := range r.Periods {
		req.Periods[i] = billing.PeriodPayment{Period: p.Period, Amount: p.Amount}
	}
	return req
}

type CreateAdjustmentRequest struct {
	Period billing.Period  `json:"period"`
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes"`
}

type UpdatePaymentRequest struct {
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	FineAmount     decimal.Decimal `json:"fine_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Notes          string          `json:"notes"`
}

type PaymentRecordDTO struct {
	ID             string               `json:"id"`
	ContractID     string               `json:"contract_id"`
	Period         billing.Period       `json:"period"`
	ExpectedAmount decimal.Decimal      `json:"expected_amount"`
	FineAmount     decimal.Decimal      `json:"fine_amount"`
	PaidAmount     decimal.Decimal      `json:"paid_amount"`
	Status         billing.RecordStatus `json:"status"`
	Notes          string               `json:"notes"`
	PaidAt         time.Time            `json:"paid_at"`
	ResidentName   string               `json:"resident_name,omitempty"`
	TaxID          string               `json:"tax_id,omitempty"`
}

func toPaymentRecordDTO(r billing.PaymentRecord) PaymentRecordDTO {
	return PaymentRecordDTO{
		ID:             r.ID,
		ContractID:     r.ContractID,
		Period:         r.Period,
		ExpectedAmount: r.ExpectedAmount,
		FineAmount:     r.FineAmount,
		PaidAmount:     r.PaidAmount,
		Status:         r.Status,
		Notes:          r.Notes,
		PaidAt:         r.PaidAt,
	}
}

type SummaryDTO struct {
	Rent        decimal.Decimal `json:"rent"`
	Fines       decimal.Decimal `json:"fines"`
	Adjustments decimal.Decimal `json:"adjustments"`
	Total       decimal.Decimal `json:"total"`
}

type HistoryDTO struct {
	Records []PaymentRecordDTO `json:"records"`
	Summary SummaryDTO         `json:"summary"`
}

func toHistoryDTO(h billing.History) HistoryDTO {
	out := HistoryDTO{
		Records: make([]PaymentRecordDTO, len(h.Records)),
		Summary: SummaryDTO{
			Rent:        h.Summary.Rent,
			Fines:       h.Summary.Fines,
			Adjustments: h.Summary.Adjustments,
			Total:       h.Summary.Total,
		},
	}
	for i, v := range h.Records {
		dto := toPaymentRecordDTO(v.PaymentRecord)
		dto.ResidentName = v.ResidentName
		dto.TaxID = v.ResidentTaxID
		out.Records[i] = dto
	}
	return out
}

// =============================================================================
// RESIDENTS AND SCENARIOS
// =============================================================================

type ResidentDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
