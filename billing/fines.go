package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// FineBlockDays is the number of overdue days that accrue one late fee.
const FineBlockDays = 30

// Fines is the late-fee picture for one contract.
type Fines struct {
	Count int
	Unit  decimal.Decimal // one fee in local currency, whole units
	Total decimal.Decimal
}

// FinesDecision is the caller's choice about pending fines in a payment.
// Count and Total come from a prior GetDebtDetails.
type FinesDecision struct {
	Apply bool
	Count int
	Total decimal.Decimal
}

// ComputeFines returns one fee per full 30-day block elapsed since due.
// The unit fee converts the template's UF price with the current rate and is
// rounded half-even to whole currency units.
func ComputeFines(due, today time.Time, fineUF, rate decimal.Decimal) Fines {
	if !DateOf(today).After(DateOf(due)) {
		return Fines{}
	}
	count := DaysBetween(due, today) / FineBlockDays
	if count == 0 {
		return Fines{}
	}
	unit := fineUF.Mul(rate).RoundBank(0)
	return Fines{
		Count: count,
		Unit:  unit,
		Total: unit.Mul(decimal.NewFromInt(int64(count))),
	}
}
