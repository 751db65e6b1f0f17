/*
arrears.go - Delinquency classification of a contract

PURPOSE:
  Walks the months of a contract from its start to today and beyond, and
  decides which periods are owed, which are coming up, and how late the
  contract is.

RULES:
  - A period up to and including today's month is owed unless a Paid record
    settles exactly that period.
  - The earliest owed period drives the classification. Its due date is the
    contract's start day in that month, clamped to the month's last day.
  - today after due: Pendiente below 30 days, Atrasado from 30 days on.
  - Nothing overdue: AlDia, or Adelantado when next month is already settled.

EXAMPLE:
  Start 2024-01-15, nothing paid, today 2024-03-20:
    Owed     = [2024-01, 2024-02, 2024-03]
    Due date = 2024-01-15
    Overdue  = 65 days -> Atrasado

SEE ALSO:
  - fines.go: late fees accrue from the same due date
  - service.go: GetStatusList aggregates one result per contract
*/
package billing

import "time"

const (
	// LateThresholdDays separates Pendiente from Atrasado.
	LateThresholdDays = 30

	// UpcomingHorizonMonths bounds the look-ahead beyond today's month.
	UpcomingHorizonMonths = 18

	// MaxUpcomingPeriods caps the upcoming list offered for prepayment.
	MaxUpcomingPeriods = 12
)

// ScanResult is the arrears picture of one contract on one day.
type ScanResult struct {
	Status      Status
	DaysOverdue int
	DueDate     time.Time // due date of the earliest owed period, zero when nothing is owed
	Owed        []Period
	Upcoming    []Period
}

// Scan classifies a contract as of today given the periods already settled.
func Scan(c Contract, settled PeriodSet, today time.Time) ScanResult {
	today = DateOf(today)
	current := PeriodOf(today)
	first := PeriodOf(c.StartDate)

	res := ScanResult{Status: StatusAlDia}
	for p := first; !p.After(current); p = p.Next() {
		if !settled.Has(p) {
			res.Owed = append(res.Owed, p)
		}
	}

	start := current.Next()
	if first.After(start) {
		start = first
	}
	limit := current.AddMonths(UpcomingHorizonMonths)
	for p := start; p.Before(limit) && len(res.Upcoming) < MaxUpcomingPeriods; p = p.Next() {
		if !settled.Has(p) {
			res.Upcoming = append(res.Upcoming, p)
		}
	}

	if len(res.Owed) > 0 {
		res.DueDate = res.Owed[0].DueDate(c.PaymentDay())
		if today.After(res.DueDate) {
			res.DaysOverdue = DaysBetween(res.DueDate, today)
			res.Status = StatusPendiente
			if res.DaysOverdue >= LateThresholdDays {
				res.Status = StatusAtrasado
			}
			return res
		}
	}

	if settled.Has(current.Next()) {
		res.Status = StatusAdelantado
	}
	return res
}

// Aggregate folds the results of several contracts of one resident.
// The most severe status wins and overdue days are the maximum. Adelantado
// survives only when every contract is current.
func Aggregate(results []ScanResult) (Status, int) {
	status := StatusAlDia
	days := 0
	ahead := false
	for _, r := range results {
		if r.Status.Severity() > status.Severity() {
			status = r.Status
		}
		if r.DaysOverdue > days {
			days = r.DaysOverdue
		}
		if r.Status == StatusAdelantado {
			ahead = true
		}
	}
	if status.Severity() == 0 && ahead {
		status = StatusAdelantado
	}
	return status, days
}
