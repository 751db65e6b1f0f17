package sqlite

import (
	"context"
	"fmt"

	"github.com/warp/parking-ledger/billing"
)

// =============================================================================
// INVENTORY - Residents, templates, contracts and spots
// =============================================================================
//
// These tables are owned by the administrative screens; the billing engine
// only reads them. The save methods are upserts keyed by id and are used by
// demo scenarios and tests.

type SpotCategory string

const (
	CategoryCar        SpotCategory = "car"
	CategoryMotorcycle SpotCategory = "motorcycle"
)

// Spot is one parking spot. An empty ContractID means unassigned.
type Spot struct {
	ID         string
	Code       string
	Category   SpotCategory
	ContractID string
}

func (s *Store) SaveResident(ctx context.Context, r billing.Resident) error {
	active := 0
	if r.Active {
		active = 1
	}
	return write(ctx, s, func(q queries) error {
		_, err := q.db.ExecContext(ctx, q.db.Rebind(`
			INSERT INTO residents (id, name, tax_id, active) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, tax_id = excluded.tax_id, active = excluded.active`),
			r.ID, r.Name, r.TaxID, active)
		if err != nil {
			return writeError("save resident", err, map[string]string{"id": r.ID, "tax_id": r.TaxID})
		}
		return nil
	})
}

func (s *Store) SaveTemplate(ctx context.Context, t billing.PricingTemplate) error {
	return write(ctx, s, func(q queries) error {
		_, err := q.db.ExecContext(ctx, q.db.Rebind(`
			INSERT INTO pricing_templates
			(id, name, first_car, second_car, first_motorcycle, second_motorcycle, fine_uf)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				first_car = excluded.first_car,
				second_car = excluded.second_car,
				first_motorcycle = excluded.first_motorcycle,
				second_motorcycle = excluded.second_motorcycle,
				fine_uf = excluded.fine_uf`),
			t.ID, t.Name,
			t.FirstCar.String(), t.SecondCar.String(),
			t.FirstMotorcycle.String(), t.SecondMotorcycle.String(),
			t.FineUF.String())
		if err != nil {
			return writeError("save template", err, map[string]string{"id": t.ID, "name": t.Name})
		}
		return nil
	})
}

func (s *Store) SaveContract(ctx context.Context, c billing.Contract) error {
	return write(ctx, s, func(q queries) error {
		_, err := q.db.ExecContext(ctx, q.db.Rebind(`
			INSERT INTO contracts (id, resident_id, template_id, start_date, status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				resident_id = excluded.resident_id,
				template_id = excluded.template_id,
				start_date = excluded.start_date,
				status = excluded.status`),
			c.ID, c.ResidentID, c.TemplateID, c.StartDate.Format(dateLayout), string(c.Status))
		if foreignKeyViolation(err) {
			return fmt.Errorf("contract %s: unknown resident or template: %w", c.ID, billing.ErrResidentNotFound)
		}
		if err != nil {
			return writeError("save contract", err, map[string]string{"id": c.ID})
		}
		return nil
	})
}

func (s *Store) SaveSpot(ctx context.Context, sp Spot) error {
	return write(ctx, s, func(q queries) error {
		_, err := q.db.ExecContext(ctx, q.db.Rebind(`
			INSERT INTO spots (id, code, category, contract_id) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				code = excluded.code,
				category = excluded.category,
				contract_id = excluded.contract_id`),
			sp.ID, sp.Code, string(sp.Category), nullString(sp.ContractID))
		if foreignKeyViolation(err) {
			return fmt.Errorf("spot %s: %w", sp.Code, billing.ErrContractNotFound)
		}
		if err != nil {
			return writeError("save spot", err, map[string]string{"id": sp.ID, "code": sp.Code})
		}
		return nil
	})
}

// Reset clears all data (for testing/demo) in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(q queries) error {
		for _, table := range []string{"payments", "spots", "contracts", "pricing_templates", "residents"} {
			if _, err := q.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}
