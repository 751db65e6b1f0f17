package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/warp/parking-ledger/billing"
)

// queries runs every statement against either the pool or an open
// transaction. It implements billing.Repository, so it is also the view handed
// to WithTx callbacks.
type queries struct {
	db sqlx.ExtContext
}

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339
)

// =============================================================================
// ROWS
// =============================================================================

type contractRow struct {
	ID           string `db:"id"`
	ResidentID   string `db:"resident_id"`
	ResidentName string `db:"resident_name"`
	TaxID        string `db:"tax_id"`
	TemplateID   string `db:"template_id"`
	TemplateName string `db:"template_name"`
	StartDate    string `db:"start_date"`
	Status       string `db:"status"`
}

func (r contractRow) toContract() (billing.Contract, error) {
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return billing.Contract{}, fmt.Errorf("contract %s start date: %w", r.ID, err)
	}
	return billing.Contract{
		ID:            r.ID,
		ResidentID:    r.ResidentID,
		ResidentName:  r.ResidentName,
		ResidentTaxID: r.TaxID,
		TemplateID:    r.TemplateID,
		TemplateName:  r.TemplateName,
		StartDate:     start,
		Status:        billing.ContractStatus(r.Status),
	}, nil
}

type templateRow struct {
	ID               string `db:"id"`
	Name             string `db:"name"`
	FirstCar         string `db:"first_car"`
	SecondCar        string `db:"second_car"`
	FirstMotorcycle  string `db:"first_motorcycle"`
	SecondMotorcycle string `db:"second_motorcycle"`
	FineUF           string `db:"fine_uf"`
}

type paymentRow struct {
	ID             string         `db:"id"`
	ContractID     string         `db:"contract_id"`
	Period         string         `db:"period"`
	ExpectedAmount string         `db:"expected_amount"`
	FineAmount     string         `db:"fine_amount"`
	PaidAmount     string         `db:"paid_amount"`
	Status         string         `db:"status"`
	Notes          sql.NullString `db:"notes"`
	PaidAt         string         `db:"paid_at"`
}

func (r paymentRow) toRecord() (billing.PaymentRecord, error) {
	period, err := billing.ParsePeriod(r.Period)
	if err != nil {
		return billing.PaymentRecord{}, fmt.Errorf("payment %s: %w", r.ID, err)
	}
	paidAt, err := time.Parse(timestampLayout, r.PaidAt)
	if err != nil {
		return billing.PaymentRecord{}, fmt.Errorf("payment %s paid_at: %w", r.ID, err)
	}
	amounts, err := parseDecimals(r.ExpectedAmount, r.FineAmount, r.PaidAmount)
	if err != nil {
		return billing.PaymentRecord{}, fmt.Errorf("payment %s: %w", r.ID, err)
	}
	return billing.PaymentRecord{
		ID:             r.ID,
		ContractID:     r.ContractID,
		Period:         period,
		ExpectedAmount: amounts[0],
		FineAmount:     amounts[1],
		PaidAmount:     amounts[2],
		Status:         billing.RecordStatus(r.Status),
		Notes:          r.Notes.String,
		PaidAt:         paidAt,
	}, nil
}

type paymentViewRow struct {
	paymentRow
	ResidentName string `db:"resident_name"`
	TaxID        string `db:"tax_id"`
}

type residentRow struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	TaxID  string `db:"tax_id"`
	Active bool   `db:"active"`
}

const contractSelect = `
	SELECT c.id, c.resident_id, r.name AS resident_name, r.tax_id,
	       c.template_id, t.name AS template_name, c.start_date, c.status
	FROM contracts c
	JOIN residents r ON r.id = c.resident_id
	JOIN pricing_templates t ON t.id = c.template_id
`

const paymentColumns = `p.id, p.contract_id, p.period, p.expected_amount, p.fine_amount,
	p.paid_amount, p.status, p.notes, p.paid_at`

// =============================================================================
// READS
// =============================================================================

// GetContract prefers a current contract, then the most recent one.
func (q queries) GetContract(ctx context.Context, residentID string) (billing.Contract, error) {
	var row contractRow
	query := contractSelect + `
	WHERE c.resident_id = ?
	ORDER BY CASE WHEN c.status = 'current' THEN 0 ELSE 1 END, c.start_date DESC
	LIMIT 1`
	err := sqlx.GetContext(ctx, q.db, &row, q.db.Rebind(query), residentID)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Contract{}, billing.ErrContractNotFound
	}
	if err != nil {
		return billing.Contract{}, err
	}
	return row.toContract()
}

func (q queries) GetPricingTemplate(ctx context.Context, id string) (billing.PricingTemplate, error) {
	var row templateRow
	err := sqlx.GetContext(ctx, q.db, &row, q.db.Rebind(`
		SELECT id, name, first_car, second_car, first_motorcycle, second_motorcycle, fine_uf
		FROM pricing_templates WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.PricingTemplate{}, billing.ErrTemplateNotFound
	}
	if err != nil {
		return billing.PricingTemplate{}, err
	}
	d, err := parseDecimals(row.FirstCar, row.SecondCar, row.FirstMotorcycle, row.SecondMotorcycle, row.FineUF)
	if err != nil {
		return billing.PricingTemplate{}, fmt.Errorf("template %s: %w", id, err)
	}
	return billing.PricingTemplate{
		ID:               row.ID,
		Name:             row.Name,
		FirstCar:         d[0],
		SecondCar:        d[1],
		FirstMotorcycle:  d[2],
		SecondMotorcycle: d[3],
		FineUF:           d[4],
	}, nil
}

func (q queries) GetResourceCounts(ctx context.Context, contractID string) (billing.ResourceCounts, error) {
	var rows []struct {
		Category string `db:"category"`
		N        int    `db:"n"`
	}
	err := sqlx.SelectContext(ctx, q.db, &rows, q.db.Rebind(`
		SELECT category, COUNT(*) AS n FROM spots WHERE contract_id = ? GROUP BY category`), contractID)
	if err != nil {
		return billing.ResourceCounts{}, err
	}
	var counts billing.ResourceCounts
	for _, r := range rows {
		switch SpotCategory(r.Category) {
		case CategoryCar:
			counts.Cars = r.N
		case CategoryMotorcycle:
			counts.Motorcycles = r.N
		}
	}
	return counts, nil
}

func (q queries) GetPaymentPeriods(ctx context.Context, contractID string) (billing.PeriodSet, error) {
	var periods []string
	err := sqlx.SelectContext(ctx, q.db, &periods, q.db.Rebind(`
		SELECT period FROM payments WHERE contract_id = ? AND status = 'Paid'`), contractID)
	if err != nil {
		return nil, err
	}
	set := billing.NewPeriodSet()
	for _, s := range periods {
		p, err := billing.ParsePeriod(s)
		if err != nil {
			return nil, err
		}
		set[p] = true
	}
	return set, nil
}

func (q queries) GetAllActiveContracts(ctx context.Context) ([]billing.Contract, error) {
	var rows []contractRow
	query := contractSelect + `
	WHERE c.status = 'current' AND r.active = 1
	  AND EXISTS (SELECT 1 FROM spots s WHERE s.contract_id = c.id)
	ORDER BY r.name, c.start_date`
	if err := sqlx.SelectContext(ctx, q.db, &rows, query); err != nil {
		return nil, err
	}
	contracts := make([]billing.Contract, 0, len(rows))
	for _, r := range rows {
		c, err := r.toContract()
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}

func (q queries) FindPayment(ctx context.Context, contractID string, period billing.Period) (*billing.PaymentRecord, error) {
	var row paymentRow
	err := sqlx.GetContext(ctx, q.db, &row, q.db.Rebind(`
		SELECT `+paymentColumns+` FROM payments p
		WHERE p.contract_id = ? AND p.period = ? AND p.status = 'Paid'`), contractID, period.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (q queries) GetPayment(ctx context.Context, id string) (billing.PaymentRecord, error) {
	var row paymentRow
	err := sqlx.GetContext(ctx, q.db, &row, q.db.Rebind(`
		SELECT `+paymentColumns+` FROM payments p WHERE p.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.PaymentRecord{}, billing.ErrPaymentNotFound
	}
	if err != nil {
		return billing.PaymentRecord{}, err
	}
	return row.toRecord()
}

func (q queries) ListActiveResidents(ctx context.Context) ([]billing.Resident, error) {
	var rows []residentRow
	err := sqlx.SelectContext(ctx, q.db, &rows, `
		SELECT id, name, tax_id, active FROM residents WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	residents := make([]billing.Resident, len(rows))
	for i, r := range rows {
		residents[i] = billing.Resident{ID: r.ID, Name: r.Name, TaxID: r.TaxID, Active: r.Active}
	}
	return residents, nil
}

// ListPayments pushes every filter down to SQL, newest payment first.
func (q queries) ListPayments(ctx context.Context, f billing.HistoryFilter) ([]billing.PaymentView, error) {
	var (
		where []string
		args  []any
	)
	if f.Resident != "" {
		like := "%" + strings.ToLower(f.Resident) + "%"
		where = append(where, "(LOWER(r.name) LIKE ? OR LOWER(r.tax_id) LIKE ?)")
		args = append(args, like, like)
	}
	if !f.From.IsZero() {
		where = append(where, "p.paid_at >= ?")
		args = append(args, billing.DateOf(f.From).Format(timestampLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "p.paid_at < ?")
		args = append(args, billing.DateOf(f.To).AddDate(0, 0, 1).Format(timestampLayout))
	}
	switch f.Kind {
	case billing.KindFine:
		where = append(where, "CAST(p.fine_amount AS NUMERIC) > 0")
	case billing.KindAdjustment:
		where = append(where, "p.status = 'Adjustment'")
	}

	query := `
		SELECT ` + paymentColumns + `, r.name AS resident_name, r.tax_id
		FROM payments p
		JOIN contracts c ON c.id = p.contract_id
		JOIN residents r ON r.id = c.resident_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY p.paid_at DESC, p.period DESC"

	var rows []paymentViewRow
	if err := sqlx.SelectContext(ctx, q.db, &rows, q.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	views := make([]billing.PaymentView, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		views = append(views, billing.PaymentView{PaymentRecord: rec, ResidentName: r.ResidentName, ResidentTaxID: r.TaxID})
	}
	return views, nil
}

// =============================================================================
// WRITES
// =============================================================================

func (q queries) InsertPayment(ctx context.Context, rec billing.PaymentRecord) error {
	_, err := q.db.ExecContext(ctx, q.db.Rebind(`
		INSERT INTO payments
		(id, contract_id, period, expected_amount, fine_amount, paid_amount, status, notes, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID,
		rec.ContractID,
		rec.Period.String(),
		rec.ExpectedAmount.String(),
		rec.FineAmount.String(),
		rec.PaidAmount.String(),
		string(rec.Status),
		nullString(rec.Notes),
		rec.PaidAt.UTC().Format(timestampLayout),
	)
	if foreignKeyViolation(err) {
		return billing.ErrContractNotFound
	}
	if err != nil {
		return writeError("insert payment", err, map[string]string{"id": rec.ID, "period": rec.Period.String()})
	}
	return nil
}

func (q queries) UpdatePayment(ctx context.Context, rec billing.PaymentRecord) error {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(`
		UPDATE payments
		SET expected_amount = ?, fine_amount = ?, paid_amount = ?, status = ?, notes = ?, paid_at = ?
		WHERE id = ?`),
		rec.ExpectedAmount.String(),
		rec.FineAmount.String(),
		rec.PaidAmount.String(),
		string(rec.Status),
		nullString(rec.Notes),
		rec.PaidAt.UTC().Format(timestampLayout),
		rec.ID,
	)
	if err != nil {
		return writeError("update payment", err, map[string]string{"period": rec.Period.String()})
	}
	return requireRow(res, billing.ErrPaymentNotFound)
}

func (q queries) DeletePayment(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(`DELETE FROM payments WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(res, billing.ErrPaymentNotFound)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}
