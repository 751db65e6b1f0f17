package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/parking-ledger/billing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	jan = billing.Period{Year: 2024, Month: time.January}
	feb = billing.Period{Year: 2024, Month: time.February}
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed creates resident r-1 with contract c-1 (one car, one motorcycle) and
// resident r-2 with contract c-2 and no spots.
func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveResident(ctx, billing.Resident{ID: "r-1", Name: "Ana Perez", TaxID: "11.111.111-1", Active: true}))
	require.NoError(t, s.SaveResident(ctx, billing.Resident{ID: "r-2", Name: "Bruno Soto", TaxID: "22.222.222-2", Active: true}))
	require.NoError(t, s.SaveTemplate(ctx, billing.PricingTemplate{
		ID:              "t-1",
		Name:            "Standard",
		FirstCar:        money("50000"),
		SecondCar:       money("30000"),
		FirstMotorcycle: money("20000"),
		FineUF:          money("0.135"),
	}))
	require.NoError(t, s.SaveContract(ctx, billing.Contract{
		ID: "c-1", ResidentID: "r-1", TemplateID: "t-1",
		StartDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Status: billing.ContractCurrent,
	}))
	require.NoError(t, s.SaveContract(ctx, billing.Contract{
		ID: "c-2", ResidentID: "r-2", TemplateID: "t-1",
		StartDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Status: billing.ContractCurrent,
	}))
	require.NoError(t, s.SaveSpot(ctx, Spot{ID: "s-1", Code: "E-101", Category: CategoryCar, ContractID: "c-1"}))
	require.NoError(t, s.SaveSpot(ctx, Spot{ID: "s-2", Code: "M-01", Category: CategoryMotorcycle, ContractID: "c-1"}))
	require.NoError(t, s.SaveSpot(ctx, Spot{ID: "s-3", Code: "E-102", Category: CategoryCar}))
}

func paid(id string, p billing.Period, amount string) billing.PaymentRecord {
	return billing.PaymentRecord{
		ID:             id,
		ContractID:     "c-1",
		Period:         p,
		ExpectedAmount: money(amount),
		PaidAmount:     money(amount),
		Status:         billing.RecordPaid,
		Notes:          "Monthly rent payment.",
		PaidAt:         time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// READS
// =============================================================================

func TestStore_ContractTemplateAndCounts(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	c, err := s.GetContract(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, "Ana Perez", c.ResidentName)
	assert.Equal(t, "Standard", c.TemplateName)
	assert.Equal(t, 15, c.PaymentDay())
	assert.True(t, c.IsCurrent())

	tmpl, err := s.GetPricingTemplate(ctx, c.TemplateID)
	require.NoError(t, err)
	assert.True(t, money("0.135").Equal(tmpl.FineUF))
	assert.True(t, tmpl.SecondMotorcycle.IsZero())

	counts, err := s.GetResourceCounts(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, billing.ResourceCounts{Cars: 1, Motorcycles: 1}, counts)

	_, err = s.GetContract(ctx, "r-nobody")
	assert.ErrorIs(t, err, billing.ErrContractNotFound)

	_, err = s.GetPricingTemplate(ctx, "t-missing")
	assert.ErrorIs(t, err, billing.ErrTemplateNotFound)
}

func TestStore_GetContractPrefersCurrent(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveContract(ctx, billing.Contract{
		ID: "c-old", ResidentID: "r-1", TemplateID: "t-1",
		StartDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Status: billing.ContractTerminated,
	}))

	c, err := s.GetContract(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
}

func TestStore_ActiveContractsNeedSpotsAndActiveResident(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	contracts, err := s.GetAllActiveContracts(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, "c-1", contracts[0].ID)

	require.NoError(t, s.SaveResident(ctx, billing.Resident{ID: "r-1", Name: "Ana Perez", TaxID: "11.111.111-1", Active: false}))
	contracts, err = s.GetAllActiveContracts(ctx)
	require.NoError(t, err)
	assert.Empty(t, contracts)

	residents, err := s.ListActiveResidents(ctx)
	require.NoError(t, err)
	require.Len(t, residents, 1)
	assert.Equal(t, "Bruno Soto", residents[0].Name)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestStore_PaymentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	rec := paid("p-1", jan, "50000.50")
	require.NoError(t, s.InsertPayment(ctx, rec))

	found, err := s.FindPayment(ctx, "c-1", jan)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, jan, found.Period)
	assert.True(t, money("50000.50").Equal(found.PaidAmount))
	assert.Equal(t, rec.Notes, found.Notes)
	assert.True(t, rec.PaidAt.Equal(found.PaidAt))

	missing, err := s.FindPayment(ctx, "c-1", feb)
	require.NoError(t, err)
	assert.Nil(t, missing)

	found.FineAmount = money("5000")
	found.PaidAmount = money("55000.50")
	require.NoError(t, s.UpdatePayment(ctx, *found))
	got, err := s.GetPayment(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, money("5000").Equal(got.FineAmount))

	assert.ErrorIs(t, s.UpdatePayment(ctx, paid("p-missing", feb, "1")), billing.ErrPaymentNotFound)
	require.NoError(t, s.DeletePayment(ctx, "p-1"))
	assert.ErrorIs(t, s.DeletePayment(ctx, "p-1"), billing.ErrPaymentNotFound)
}

func TestStore_OnePaidRecordPerPeriod(t *testing.T) {
	// GIVEN: Jan already has a Paid record
	// WHEN: Inserting a second Paid record, then an Adjustment, for Jan
	// THEN: The Paid insert conflicts on period; the Adjustment is accepted

	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.InsertPayment(ctx, paid("p-1", jan, "50000")))

	err := s.InsertPayment(ctx, paid("p-2", jan, "50000"))
	var conflict *billing.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "period", conflict.Field)
	assert.Equal(t, "2024-01-01", conflict.Value)
	assert.Equal(t, billing.OutcomeConflict, billing.Classify(err))

	adj := paid("p-3", jan, "0")
	adj.Status = billing.RecordAdjustment
	adj.PaidAmount = money("-1500")
	require.NoError(t, s.InsertPayment(ctx, adj))

	periods, err := s.GetPaymentPeriods(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, billing.NewPeriodSet(jan), periods)
}

func TestStore_InsertPaymentUnknownContract(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	rec := paid("p-1", jan, "50000")
	rec.ContractID = "c-missing"

	assert.ErrorIs(t, s.InsertPayment(context.Background(), rec), billing.ErrContractNotFound)
}

func TestStore_DuplicateTaxIDConflicts(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	err := s.SaveResident(context.Background(), billing.Resident{ID: "r-9", Name: "Copy", TaxID: "11.111.111-1", Active: true})

	var conflict *billing.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "tax_id", conflict.Field)
	assert.Equal(t, "11.111.111-1", conflict.Value)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(repo billing.Repository) error {
		require.NoError(t, repo.InsertPayment(ctx, paid("p-1", jan, "50000")))
		found, err := repo.FindPayment(ctx, "c-1", jan)
		require.NoError(t, err)
		require.NotNil(t, found, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	periods, err := s.GetPaymentPeriods(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func TestStore_LedgerBatchIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	now := func() time.Time { return time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC) }
	ledger := billing.NewPaymentLedger(s, now, zap.NewNop(), nil)

	batch := []billing.PaymentEntry{
		{ContractID: "c-1", Period: jan, Expected: money("70000"), Paid: money("70000"), Notes: "Monthly rent payment."},
		{ContractID: "c-1", Period: feb, Expected: money("70000"), Paid: money("70000"), Notes: "Monthly rent payment."},
		{ContractID: "c-1", Period: jan, Fine: money("5056"), Paid: money("5056"), Notes: "Payment of 1 late fee(s)."},
	}
	require.NoError(t, ledger.ApplyBatch(ctx, batch))
	require.NoError(t, ledger.ApplyBatch(ctx, batch))

	history, err := s.ListPayments(ctx, billing.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)

	janRec, err := s.FindPayment(ctx, "c-1", jan)
	require.NoError(t, err)
	assert.True(t, money("5056").Equal(janRec.FineAmount))
	assert.True(t, money("75056").Equal(janRec.PaidAmount))
	assert.Equal(t, "Monthly rent payment.\nPayment of 1 late fee(s).", janRec.Notes)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestStore_ListPaymentsFilters(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	withFine := paid("p-1", jan, "50000")
	withFine.FineAmount = money("5000")
	withFine.PaidAt = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertPayment(ctx, withFine))
	require.NoError(t, s.InsertPayment(ctx, paid("p-2", feb, "50000")))
	adj := paid("p-3", feb, "0")
	adj.Status = billing.RecordAdjustment
	adj.PaidAt = time.Date(2024, 3, 21, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertPayment(ctx, adj))

	all, err := s.ListPayments(ctx, billing.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p-3", all[0].ID, "newest first")
	assert.Equal(t, "Ana Perez", all[0].ResidentName)

	fines, err := s.ListPayments(ctx, billing.HistoryFilter{Kind: billing.KindFine})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, "p-1", fines[0].ID)

	adjustments, err := s.ListPayments(ctx, billing.HistoryFilter{Kind: billing.KindAdjustment})
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.Equal(t, "p-3", adjustments[0].ID)

	byTaxID, err := s.ListPayments(ctx, billing.HistoryFilter{Resident: "11.111"})
	require.NoError(t, err)
	assert.Len(t, byTaxID, 3)

	byName, err := s.ListPayments(ctx, billing.HistoryFilter{Resident: "BRUNO"})
	require.NoError(t, err)
	assert.Empty(t, byName)

	march, err := s.ListPayments(ctx, billing.HistoryFilter{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, march, 1)
	assert.Equal(t, "p-2", march[0].ID)
}

// =============================================================================
// RESET
// =============================================================================

func TestStore_ResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)
	require.NoError(t, s.InsertPayment(ctx, paid("p-1", jan, "70000")))

	require.NoError(t, s.Reset(ctx))

	residents, err := s.ListActiveResidents(ctx)
	require.NoError(t, err)
	assert.Empty(t, residents)
	_, err = s.GetContract(ctx, "r-1")
	assert.ErrorIs(t, err, billing.ErrContractNotFound)
}

func TestStore_ResetIsAllOrNothing(t *testing.T) {
	// GIVEN: Seeded data and a trigger that makes the last DELETE fail
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)
	require.NoError(t, s.InsertPayment(ctx, paid("p-1", jan, "70000")))
	_, err := s.conn().ExecContext(ctx, `
		CREATE TRIGGER keep_residents BEFORE DELETE ON residents
		BEGIN SELECT RAISE(ABORT, 'residents are locked'); END`)
	require.NoError(t, err)

	// WHEN: Resetting
	err = s.Reset(ctx)

	// THEN: It fails and the earlier tables are untouched
	require.Error(t, err)
	views, err := s.ListPayments(ctx, billing.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, views, 1)
	c, err := s.GetContract(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
}

// =============================================================================
// CONNECTIVITY
// =============================================================================

func TestStore_ReconnectsAfterLostConnection(t *testing.T) {
	// GIVEN: A file database whose connection pool was closed underneath
	// WHEN: Reading
	// THEN: The store reconnects once and the data is still there

	s, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "parking.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	seed(t, s)

	require.NoError(t, s.conn().Close())

	c, err := s.GetContract(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestStore_ConnectionLostWhenReconnectFails(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	s.open = func(context.Context) (*sqlx.DB, error) {
		return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	}

	require.NoError(t, s.conn().Close())

	_, err := s.GetAllActiveContracts(context.Background())
	assert.ErrorIs(t, err, billing.ErrConnectionLost)
	assert.Equal(t, billing.OutcomeConnectionLost, billing.Classify(err))

	err = s.WithTx(context.Background(), func(billing.Repository) error { return nil })
	assert.ErrorIs(t, err, billing.ErrConnectionLost)
}
