/*
ledger.go - The only writer of payment records

PURPOSE:
  Applies a batch of payment entries inside one storage transaction. Either
  every entry lands or none does.

UPSERT RULES (per entry, inside WithTx):
  1. No Paid record for (contract, period) -> insert a Paid record
  2. Paid record exists and the entry carries a fine -> accumulate
     fine and paid, append the notes on a new line
  3. Paid record exists otherwise -> overwrite the amounts and notes

  Rule 3 makes resubmitting an identical rent batch a no-op in effect.
  Rule 2 lets a late fee be paid on top of a period that was already paid.

SEE ALSO:
  - store.go: TxRepository.WithTx
  - service.go: ProcessPayment builds the batch
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BatchObserver receives the outcome of every batch, e.g. for metrics.
type BatchObserver interface {
	ObserveBatch(outcome Outcome)
}

type PaymentLedger struct {
	repo     TxRepository
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
	observer BatchObserver
}

func NewPaymentLedger(repo TxRepository, now func() time.Time, log *zap.Logger, observer BatchObserver) *PaymentLedger {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentLedger{
		repo:     repo,
		now:      now,
		newID:    uuid.NewString,
		log:      log,
		observer: observer,
	}
}

// =============================================================================
// BATCHES
// =============================================================================

// ApplyBatch validates every entry, then writes them all in one transaction.
func (l *PaymentLedger) ApplyBatch(ctx context.Context, entries []PaymentEntry) error {
	if err := validateEntries(entries); err != nil {
		l.observe(err)
		return err
	}

	now := l.now()
	err := l.repo.WithTx(ctx, func(repo Repository) error {
		for _, e := range entries {
			existing, err := repo.FindPayment(ctx, e.ContractID, e.Period)
			if err != nil {
				return fmt.Errorf("find payment %s/%s: %w", e.ContractID, e.Period, err)
			}
			rec, insert := mergeEntry(existing, e, now)
			if insert {
				rec.ID = l.newID()
				err = repo.InsertPayment(ctx, rec)
			} else {
				err = repo.UpdatePayment(ctx, rec)
			}
			if err != nil {
				return fmt.Errorf("write payment %s/%s: %w", e.ContractID, e.Period, err)
			}
		}
		return nil
	})
	l.observe(err)
	if err != nil {
		l.log.Warn("payment batch rolled back", zap.Int("entries", len(entries)), zap.Error(err))
		return err
	}
	l.log.Info("payment batch applied", zap.Int("entries", len(entries)))
	return nil
}

// mergeEntry applies the upsert rules to one entry. insert reports whether the
// returned record is new.
func mergeEntry(existing *PaymentRecord, e PaymentEntry, now time.Time) (rec PaymentRecord, insert bool) {
	if existing == nil {
		return PaymentRecord{
			ContractID:     e.ContractID,
			Period:         e.Period,
			ExpectedAmount: e.Expected,
			FineAmount:     e.Fine,
			PaidAmount:     e.Paid,
			Status:         RecordPaid,
			Notes:          e.Notes,
			PaidAt:         now,
		}, true
	}

	rec = *existing
	rec.Status = RecordPaid
	rec.PaidAt = now
	if existing.Status == RecordPaid && e.Fine.IsPositive() {
		rec.FineAmount = existing.FineAmount.Add(e.Fine)
		rec.PaidAmount = existing.PaidAmount.Add(e.Paid)
		rec.Notes = appendNote(existing.Notes, e.Notes)
		return rec, false
	}
	rec.ExpectedAmount = e.Expected
	rec.FineAmount = e.Fine
	rec.PaidAmount = e.Paid
	rec.Notes = e.Notes
	return rec, false
}

func appendNote(notes, next string) string {
	switch {
	case notes == "":
		return next
	case next == "":
		return notes
	}
	return notes + "\n" + next
}

func validateEntries(entries []PaymentEntry) error {
	if len(entries) == 0 {
		return invalid("entries", "batch is empty")
	}
	for i, e := range entries {
		switch {
		case e.ContractID == "":
			return invalid("contract_id", "entry %d has no contract", i)
		case e.Period.IsZero():
			return invalid("period", "entry %d has no period", i)
		case e.Expected.IsNegative(), e.Fine.IsNegative(), e.Paid.IsNegative():
			return invalid("amount", "entry %d for %s has a negative amount", i, e.Period)
		}
	}
	return nil
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// AppendAdjustment records a manual adjustment against a resident's current
// contract. Adjustments never settle a period.
func (l *PaymentLedger) AppendAdjustment(ctx context.Context, residentID string, period Period, amount decimal.Decimal, notes string) (PaymentRecord, error) {
	if period.IsZero() {
		return PaymentRecord{}, invalid("period", "period is required")
	}

	var rec PaymentRecord
	err := l.repo.WithTx(ctx, func(repo Repository) error {
		c, err := repo.GetContract(ctx, residentID)
		if IsNotFound(err) {
			return &PreconditionError{Reason: "resident has no current contract"}
		}
		if err != nil {
			return err
		}
		if !c.IsCurrent() {
			return &PreconditionError{Reason: "resident has no current contract"}
		}
		rec = PaymentRecord{
			ID:         l.newID(),
			ContractID: c.ID,
			Period:     period,
			PaidAmount: amount,
			Status:     RecordAdjustment,
			Notes:      notes,
			PaidAt:     l.now(),
		}
		return repo.InsertPayment(ctx, rec)
	})
	if err != nil {
		return PaymentRecord{}, err
	}
	l.log.Info("adjustment recorded",
		zap.String("resident_id", residentID),
		zap.String("period", period.String()),
		zap.String("amount", amount.String()))
	return rec, nil
}

func (l *PaymentLedger) observe(err error) {
	if l.observer != nil {
		l.observer.ObserveBatch(Classify(err))
	}
}
