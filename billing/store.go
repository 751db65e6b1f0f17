/*
store.go - Persistence contract for contracts, pricing and payment records

PURPOSE:
  Defines the interface between the billing engine and the database.
  The engine never talks SQL; storage owns residents, contracts, spots and
  pricing templates and only exposes the projections listed here.

KEY INTERFACES:
  Repository:      Reads the engine needs plus the two payment writes
  TxRepository:    Repository with an all-or-nothing WithTx boundary
  AdminRepository: Listings and deletes used by the administrative screens

UNIQUENESS:
  At most one Paid record exists per (contract, period). The PaymentLedger
  enforces this with find-then-insert-or-update inside WithTx; SQL storage
  backs it with a partial unique index and reports violations as ConflictError.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (default) or PostgreSQL via sqlx
  - billing/store/memory.go: In-memory for testing and demos
*/
package billing

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// REPOSITORY - Reads and payment writes
// =============================================================================

type Repository interface {
	// GetContract returns the contract of a resident, preferring a current one.
	GetContract(ctx context.Context, residentID string) (Contract, error)

	GetPricingTemplate(ctx context.Context, templateID string) (PricingTemplate, error)

	// GetResourceCounts counts the spots currently assigned to a contract.
	GetResourceCounts(ctx context.Context, contractID string) (ResourceCounts, error)

	// GetPaymentPeriods returns the periods settled by a Paid record.
	GetPaymentPeriods(ctx context.Context, contractID string) (PeriodSet, error)

	// GetAllActiveContracts returns current contracts of active residents that
	// have at least one spot assigned, ordered by resident name.
	GetAllActiveContracts(ctx context.Context) ([]Contract, error)

	// FindPayment returns the Paid record for (contract, period), or nil.
	FindPayment(ctx context.Context, contractID string, period Period) (*PaymentRecord, error)

	// GetPayment loads any record by id.
	GetPayment(ctx context.Context, id string) (PaymentRecord, error)

	InsertPayment(ctx context.Context, rec PaymentRecord) error
	UpdatePayment(ctx context.Context, rec PaymentRecord) error
}

// TxRepository wraps Repository with transaction support.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// =============================================================================
// ADMIN REPOSITORY - History and corrections
// =============================================================================

type AdminRepository interface {
	ListActiveResidents(ctx context.Context) ([]Resident, error)
	ListPayments(ctx context.Context, filter HistoryFilter) ([]PaymentView, error)
	DeletePayment(ctx context.Context, id string) error
}

type RecordKind string

const (
	KindAll        RecordKind = ""
	KindFine       RecordKind = "fine"
	KindAdjustment RecordKind = "adjustment"
)

// HistoryFilter narrows ListPayments. Zero values mean "no filter".
// From and To bound PaidAt by calendar date, both inclusive.
type HistoryFilter struct {
	Resident string // substring of resident name or tax id
	From     time.Time
	To       time.Time
	Kind     RecordKind
}

// Matches reports whether a view passes the filter. Storage implementations
// that cannot push a predicate down may use it directly.
func (f HistoryFilter) Matches(v PaymentView) bool {
	if f.Resident != "" && !containsFold(v.ResidentName, f.Resident) && !containsFold(v.ResidentTaxID, f.Resident) {
		return false
	}
	paid := DateOf(v.PaidAt)
	if !f.From.IsZero() && paid.Before(DateOf(f.From)) {
		return false
	}
	if !f.To.IsZero() && paid.After(DateOf(f.To)) {
		return false
	}
	switch f.Kind {
	case KindFine:
		return v.FineAmount.IsPositive()
	case KindAdjustment:
		return v.Status == RecordAdjustment
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
