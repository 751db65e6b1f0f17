/*
Package billing provides the billing and arrears engine for leased parking spots.

PURPOSE:
  Given a resident's contract, the spots assigned to it, a pricing template and
  the history of payment records, the engine computes what is owed each month,
  how late the contract is, which late fees have accrued, and applies batches of
  payments atomically and idempotently.

KEY CONCEPTS IN THIS FILE (types.go):
  - Contract: links a resident to a pricing template and a start date
  - PricingTemplate: two-tier prices per spot category plus the late fee in UF
  - PaymentRecord: one row per (contract, period), status Paid or Adjustment
  - Status: derived delinquency classification, never persisted

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Purity: pricing, scanning and fine math are plain functions of their inputs
  3. One transactional boundary: the PaymentLedger is the only writer

SEE ALSO:
  - pricing.go: MonthlyFee
  - arrears.go: Scan and Aggregate
  - fines.go: ComputeFines
  - ledger.go: PaymentLedger (batch writer)
  - service.go: operations exposed to the presentation layer
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DELINQUENCY STATUS - Derived, never persisted
// =============================================================================

type Status string

const (
	StatusAlDia      Status = "AlDia"      // current
	StatusPendiente  Status = "Pendiente"  // overdue, less than 30 days
	StatusAtrasado   Status = "Atrasado"   // overdue, 30 days or more
	StatusAdelantado Status = "Adelantado" // current and next period already paid
)

// Severity orders statuses for aggregation across contracts.
// AlDia and Adelantado are equally current.
func (s Status) Severity() int {
	switch s {
	case StatusPendiente:
		return 1
	case StatusAtrasado:
		return 2
	default:
		return 0
	}
}

// =============================================================================
// CONTRACT
// =============================================================================

type ContractStatus string

const (
	ContractCurrent    ContractStatus = "current"
	ContractTerminated ContractStatus = "terminated"
)

// Contract is owned by storage; the engine only reads it.
// The day-of-month of StartDate is the recurring due day.
type Contract struct {
	ID            string
	ResidentID    string
	ResidentName  string
	ResidentTaxID string
	TemplateID    string
	TemplateName  string
	StartDate     time.Time
	Status        ContractStatus
}

// PaymentDay is the day of month rent falls due.
func (c Contract) PaymentDay() int { return c.StartDate.Day() }

func (c Contract) IsCurrent() bool { return c.Status == ContractCurrent }

// =============================================================================
// PRICING
// =============================================================================

// PricingTemplate holds local-currency prices for each spot category and the
// late fee expressed in UF. A zero Second* price disables the pair discount
// for that category.
type PricingTemplate struct {
	ID               string
	Name             string
	FirstCar         decimal.Decimal
	SecondCar        decimal.Decimal
	FirstMotorcycle  decimal.Decimal
	SecondMotorcycle decimal.Decimal
	FineUF           decimal.Decimal
}

// ResourceCounts is the number of billable spots per category attached to a
// contract at evaluation time.
type ResourceCounts struct {
	Cars        int
	Motorcycles int
}

// =============================================================================
// PAYMENT RECORDS
// =============================================================================

type RecordStatus string

const (
	RecordPaid       RecordStatus = "Paid"
	RecordAdjustment RecordStatus = "Adjustment"
)

// PaymentRecord is the persisted row for one contract and one period.
type PaymentRecord struct {
	ID             string
	ContractID     string
	Period         Period
	ExpectedAmount decimal.Decimal
	FineAmount     decimal.Decimal
	PaidAmount     decimal.Decimal
	Status         RecordStatus
	Notes          string
	PaidAt         time.Time
}

// PaymentEntry is one line of a batch handed to the PaymentLedger.
type PaymentEntry struct {
	ContractID string
	Period     Period
	Expected   decimal.Decimal
	Fine       decimal.Decimal
	Paid       decimal.Decimal
	Notes      string
}

// PaymentView is a record joined with the resident it belongs to.
type PaymentView struct {
	PaymentRecord
	ResidentName  string
	ResidentTaxID string
}

// Resident is the minimal resident projection the engine needs for listings.
type Resident struct {
	ID     string
	Name   string
	TaxID  string
	Active bool
}
