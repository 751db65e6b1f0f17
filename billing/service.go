/*
service.go - Operations exposed to the presentation layer

PURPOSE:
  Ties the repository, the rate cache and the pure billing functions into the
  operations a front end calls: the status board, the debt detail of one
  resident, payment processing, adjustments and the payment history.

TODAY:
  Every operation reads "today" from the injected clock once and uses that
  date for the whole computation.

SEE ALSO:
  - arrears.go, fines.go, pricing.go: the computations
  - ledger.go: the writer behind ProcessPayment and CreateAdjustment
  - api/handlers.go: HTTP surface
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/parking-ledger/rates"
)

const (
	rentNote = "Monthly rent payment."
	fineNote = "Payment of %d late fee(s)."
)

// RateReader is the read side of the rate cache.
type RateReader interface {
	Current() rates.Snapshot
}

type Config struct {
	Repo     TxRepository
	Admin    AdminRepository
	Rates    RateReader
	Logger   *zap.Logger
	Now      func() time.Time
	Observer BatchObserver
}

type Service struct {
	repo   TxRepository
	admin  AdminRepository
	rates  RateReader
	ledger *PaymentLedger
	now    func() time.Time
	log    *zap.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, errors.New("billing: repository is required")
	}
	if cfg.Admin == nil {
		return nil, errors.New("billing: admin repository is required")
	}
	if cfg.Rates == nil {
		return nil, errors.New("billing: rate reader is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		repo:   cfg.Repo,
		admin:  cfg.Admin,
		rates:  cfg.Rates,
		ledger: NewPaymentLedger(cfg.Repo, cfg.Now, cfg.Logger, cfg.Observer),
		now:    cfg.Now,
		log:    cfg.Logger,
	}, nil
}

func (s *Service) Ledger() *PaymentLedger { return s.ledger }

// Today is the service clock truncated to a UTC calendar date.
func (s *Service) Today() time.Time { return DateOf(s.now()) }

// =============================================================================
// RATE
// =============================================================================

func (s *Service) GetRate() rates.Snapshot { return s.rates.Current() }

// =============================================================================
// STATUS BOARD
// =============================================================================

type StatusEntry struct {
	ResidentID    string
	ResidentName  string
	ResidentTaxID string
	Contracts     []string // template names
	PaymentDays   []int
	Status        Status
	DaysOverdue   int
}

type StatusList struct {
	Today   time.Time
	Rate    rates.Snapshot
	Entries []StatusEntry
}

// GetStatusList classifies every billable contract and folds the results per
// resident, keeping the repository's resident order.
func (s *Service) GetStatusList(ctx context.Context) (StatusList, error) {
	today := s.Today()
	contracts, err := s.repo.GetAllActiveContracts(ctx)
	if err != nil {
		return StatusList{}, fmt.Errorf("load contracts: %w", err)
	}

	var order []string
	entries := make(map[string]*StatusEntry)
	scans := make(map[string][]ScanResult)
	for _, c := range contracts {
		settled, err := s.repo.GetPaymentPeriods(ctx, c.ID)
		if err != nil {
			return StatusList{}, fmt.Errorf("load payments of contract %s: %w", c.ID, err)
		}
		e, ok := entries[c.ResidentID]
		if !ok {
			e = &StatusEntry{ResidentID: c.ResidentID, ResidentName: c.ResidentName, ResidentTaxID: c.ResidentTaxID}
			entries[c.ResidentID] = e
			order = append(order, c.ResidentID)
		}
		e.Contracts = append(e.Contracts, c.TemplateName)
		e.PaymentDays = append(e.PaymentDays, c.PaymentDay())
		scans[c.ResidentID] = append(scans[c.ResidentID], Scan(c, settled, today))
	}

	list := StatusList{Today: today, Rate: s.rates.Current(), Entries: make([]StatusEntry, 0, len(order))}
	for _, id := range order {
		e := entries[id]
		e.Status, e.DaysOverdue = Aggregate(scans[id])
		list.Entries = append(list.Entries, *e)
	}
	return list, nil
}

// =============================================================================
// DEBT DETAIL
// =============================================================================

type PeriodDue struct {
	Period Period
	Amount decimal.Decimal
}

type DebtDetails struct {
	Contract    Contract
	MonthlyFee  decimal.Decimal
	Status      Status
	DaysOverdue int
	Owed        []PeriodDue
	Upcoming    []PeriodDue
	Fines       Fines
	Rate        rates.Snapshot
}

func (s *Service) GetDebtDetails(ctx context.Context, residentID string) (DebtDetails, error) {
	today := s.Today()
	c, err := s.repo.GetContract(ctx, residentID)
	if err != nil {
		return DebtDetails{}, err
	}
	rate := s.rates.Current()
	a, err := s.assess(ctx, c, today, rate, nil)
	if err != nil {
		return DebtDetails{}, err
	}
	return DebtDetails{
		Contract:    c,
		MonthlyFee:  a.fee,
		Status:      a.scan.Status,
		DaysOverdue: a.scan.DaysOverdue,
		Owed:        priced(a.scan.Owed, a.fee),
		Upcoming:    priced(a.scan.Upcoming, a.fee),
		Fines:       a.fines,
		Rate:        rate,
	}, nil
}

// assessment is the priced arrears picture of one contract.
type assessment struct {
	fee   decimal.Decimal
	scan  ScanResult
	fines Fines
}

// assess scans a contract as if the periods in unsettle had no Paid record.
func (s *Service) assess(ctx context.Context, c Contract, today time.Time, rate rates.Snapshot, unsettle PeriodSet) (assessment, error) {
	tmpl, err := s.repo.GetPricingTemplate(ctx, c.TemplateID)
	if err != nil {
		return assessment{}, err
	}
	counts, err := s.repo.GetResourceCounts(ctx, c.ID)
	if err != nil {
		return assessment{}, err
	}
	settled, err := s.repo.GetPaymentPeriods(ctx, c.ID)
	if err != nil {
		return assessment{}, err
	}
	if len(unsettle) > 0 {
		kept := make(PeriodSet, len(settled))
		for p := range settled {
			if !unsettle.Has(p) {
				kept[p] = true
			}
		}
		settled = kept
	}

	a := assessment{fee: MonthlyFee(tmpl, counts), scan: Scan(c, settled, today)}
	if len(a.scan.Owed) > 0 {
		a.fines = ComputeFines(a.scan.DueDate, today, tmpl.FineUF, rate.Value)
	}
	return a, nil
}

func priced(periods []Period, fee decimal.Decimal) []PeriodDue {
	out := make([]PeriodDue, len(periods))
	for i, p := range periods {
		out[i] = PeriodDue{Period: p, Amount: fee}
	}
	return out
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PeriodPayment struct {
	Period Period
	Amount decimal.Decimal
}

type PaymentRequest struct {
	Periods []PeriodPayment
	Fines   FinesDecision
}

// ProcessPayment turns a selection of periods and a fines decision into one
// ledger batch. The fine entry lands on the first selected period.
func (s *Service) ProcessPayment(ctx context.Context, residentID string, req PaymentRequest) error {
	c, err := s.repo.GetContract(ctx, residentID)
	if err != nil {
		return err
	}
	entries, err := paymentEntries(c, req)
	if err != nil {
		return err
	}
	if err := s.checkAgainstDebt(ctx, c, req); err != nil {
		return err
	}
	if err := s.ledger.ApplyBatch(ctx, entries); err != nil {
		return err
	}
	s.log.Info("payment processed",
		zap.String("resident_id", residentID),
		zap.String("contract_id", c.ID),
		zap.Int("periods", len(req.Periods)),
		zap.Int("fines", req.Fines.Count))
	return nil
}

func paymentEntries(c Contract, req PaymentRequest) ([]PaymentEntry, error) {
	if len(req.Periods) == 0 {
		return nil, invalid("periods", "no periods selected")
	}
	first := PeriodOf(c.StartDate)
	seen := make(PeriodSet, len(req.Periods))
	entries := make([]PaymentEntry, 0, len(req.Periods)+1)
	for _, pp := range req.Periods {
		switch {
		case pp.Period.IsZero():
			return nil, invalid("periods", "period is required")
		case pp.Period.Before(first):
			return nil, invalid("periods", "%s is before the contract start", pp.Period)
		case seen.Has(pp.Period):
			return nil, invalid("periods", "%s selected twice", pp.Period)
		case pp.Amount.IsNegative():
			return nil, invalid("amount", "%s has a negative amount", pp.Period)
		}
		seen[pp.Period] = true
		entries = append(entries, PaymentEntry{
			ContractID: c.ID,
			Period:     pp.Period,
			Expected:   pp.Amount,
			Paid:       pp.Amount,
			Notes:      rentNote,
		})
	}

	if req.Fines.Apply {
		if req.Fines.Count <= 0 || !req.Fines.Total.IsPositive() {
			return nil, invalid("fines", "applied fines need a positive count and total")
		}
		entries = append(entries, PaymentEntry{
			ContractID: c.ID,
			Period:     req.Periods[0].Period,
			Fine:       req.Fines.Total,
			Paid:       req.Fines.Total,
			Notes:      fmt.Sprintf(fineNote, req.Fines.Count),
		})
	}
	return entries, nil
}

// checkAgainstDebt compares a batch with the debt as it stood before the
// batch's own periods were settled, so a resubmitted batch passes again.
// Every period must be owed or upcoming at the monthly fee, and applied fines
// must match the computed count and total.
func (s *Service) checkAgainstDebt(ctx context.Context, c Contract, req PaymentRequest) error {
	selected := make(PeriodSet, len(req.Periods))
	for _, pp := range req.Periods {
		selected[pp.Period] = true
	}
	a, err := s.assess(ctx, c, s.Today(), s.rates.Current(), selected)
	if err != nil {
		return err
	}

	payable := make(PeriodSet, len(a.scan.Owed)+len(a.scan.Upcoming))
	for _, p := range a.scan.Owed {
		payable[p] = true
	}
	for _, p := range a.scan.Upcoming {
		payable[p] = true
	}
	for _, pp := range req.Periods {
		if !payable.Has(pp.Period) {
			return invalid("periods", "%s is neither owed nor upcoming", pp.Period)
		}
		if !pp.Amount.Equal(a.fee) {
			return invalid("amount", "%s amount %s differs from the monthly fee %s", pp.Period, pp.Amount, a.fee)
		}
	}

	if !req.Fines.Apply {
		return nil
	}
	if a.fines.Count == 0 {
		return invalid("fines", "no late fees are owed")
	}
	if req.Fines.Count != a.fines.Count || !req.Fines.Total.Equal(a.fines.Total) {
		return invalid("fines", "expected %d late fee(s) totalling %s", a.fines.Count, a.fines.Total)
	}
	return nil
}

func (s *Service) CreateAdjustment(ctx context.Context, residentID string, period Period, amount decimal.Decimal, notes string) (PaymentRecord, error) {
	return s.ledger.AppendAdjustment(ctx, residentID, period, amount, notes)
}

// =============================================================================
// HISTORY AND CORRECTIONS
// =============================================================================

type Summary struct {
	Rent        decimal.Decimal
	Fines       decimal.Decimal
	Adjustments decimal.Decimal
	Total       decimal.Decimal
}

type History struct {
	Records []PaymentView
	Summary Summary
}

func (s *Service) PaymentHistory(ctx context.Context, filter HistoryFilter) (History, error) {
	records, err := s.admin.ListPayments(ctx, filter)
	if err != nil {
		return History{}, err
	}
	return History{Records: records, Summary: Summarize(records)}, nil
}

// Summarize totals rent and fines of payments separately from adjustments.
func Summarize(records []PaymentView) Summary {
	var sum Summary
	for _, r := range records {
		if r.Status == RecordAdjustment {
			sum.Adjustments = sum.Adjustments.Add(r.PaidAmount)
		} else {
			sum.Rent = sum.Rent.Add(r.ExpectedAmount)
			sum.Fines = sum.Fines.Add(r.FineAmount)
		}
		sum.Total = sum.Total.Add(r.PaidAmount)
	}
	return sum
}

type PaymentUpdate struct {
	Expected decimal.Decimal
	Fine     decimal.Decimal
	Paid     decimal.Decimal
	Notes    string
}

// UpdatePayment corrects the amounts and notes of an existing record.
func (s *Service) UpdatePayment(ctx context.Context, id string, u PaymentUpdate) (PaymentRecord, error) {
	if u.Expected.IsNegative() || u.Fine.IsNegative() || u.Paid.IsNegative() {
		return PaymentRecord{}, invalid("amount", "amounts must not be negative")
	}
	var rec PaymentRecord
	err := s.repo.WithTx(ctx, func(repo Repository) error {
		var err error
		if rec, err = repo.GetPayment(ctx, id); err != nil {
			return err
		}
		rec.ExpectedAmount = u.Expected
		rec.FineAmount = u.Fine
		rec.PaidAmount = u.Paid
		rec.Notes = u.Notes
		return repo.UpdatePayment(ctx, rec)
	})
	if err != nil {
		return PaymentRecord{}, err
	}
	s.log.Info("payment updated", zap.String("payment_id", id))
	return rec, nil
}

func (s *Service) DeletePayment(ctx context.Context, id string) error {
	if err := s.admin.DeletePayment(ctx, id); err != nil {
		return err
	}
	s.log.Info("payment deleted", zap.String("payment_id", id))
	return nil
}

func (s *Service) ActiveResidents(ctx context.Context) ([]Resident, error) {
	return s.admin.ListActiveResidents(ctx)
}
