/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Populates the database with residents, templates, contracts, spots and
	payments that show each delinquency status. Dates are computed from the
	service clock so a scenario looks the same whenever it is loaded.

AVAILABLE SCENARIOS:

	building-overview: One resident per status (AlDia, Pendiente, Atrasado, Adelantado)
	pair-pricing:      Three cars and two motorcycles on a discounted template, late with fines
	payment-history:   Paid periods, a fine payment and adjustments for the history screen

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create pricing templates
 3. Create residents, contracts and spots
 4. Record payments through billing.Service, like the payment screen does

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "building-overview"}

NOTE:
	Scenarios reset the database. Only enable them in development (DEMO_SCENARIOS).

SEE ALSO:
  - handlers.go: Handler and error mapping
  - store/sqlite/seed.go: Upserts used here
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/parking-ledger/billing"
	"github.com/warp/parking-ledger/store/sqlite"
)

// Seeder writes inventory rows. *sqlite.Store implements it.
type Seeder interface {
	Reset(ctx context.Context) error
	SaveResident(ctx context.Context, r billing.Resident) error
	SaveTemplate(ctx context.Context, t billing.PricingTemplate) error
	SaveContract(ctx context.Context, c billing.Contract) error
	SaveSpot(ctx context.Context, sp sqlite.Spot) error
}

var _ Seeder = (*sqlite.Store)(nil)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "building-overview",
		Name:        "Building Overview",
		Description: "One resident per status: up to date, pending, late and paid ahead",
	},
	{
		ID:          "pair-pricing",
		Name:        "Pair Pricing",
		Description: "Three cars and two motorcycles on a discounted template, two months late",
	},
	{
		ID:          "payment-history",
		Name:        "Payment History",
		Description: "Rent, a late fee payment and adjustments for the history filters",
	},
}

var (
	standardTemplate = billing.PricingTemplate{
		ID:              "tpl-standard",
		Name:            "Standard",
		FirstCar:        decimal.NewFromInt(45000),
		FirstMotorcycle: decimal.NewFromInt(18000),
		FineUF:          decimal.RequireFromString("0.1"),
	}
	premiumTemplate = billing.PricingTemplate{
		ID:               "tpl-premium",
		Name:             "Premium Pair",
		FirstCar:         decimal.NewFromInt(60000),
		SecondCar:        decimal.NewFromInt(40000),
		FirstMotorcycle:  decimal.NewFromInt(22000),
		SecondMotorcycle: decimal.NewFromInt(15000),
		FineUF:           decimal.RequireFromString("0.15"),
	}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(b *scenarioBuilder)
	switch req.ScenarioID {
	case "building-overview":
		load = loadBuildingOverview
	case "pair-pricing":
		load = loadPairPricing
	case "payment-history":
		load = loadPaymentHistory
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Seeder.Reset(ctx); err != nil {
		h.writeServiceError(w, "Failed to reset database", err)
		return
	}

	b := &scenarioBuilder{ctx: ctx, seeder: h.Seeder, svc: h.Service, today: h.Service.Today()}
	load(b)
	if b.err != nil {
		h.writeServiceError(w, "Failed to load scenario", b.err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Seeder.Reset(r.Context()); err != nil {
		h.writeServiceError(w, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO BUILDER
// =============================================================================

// scenarioBuilder records the first error and turns later steps into no-ops.
type scenarioBuilder struct {
	ctx    context.Context
	seeder Seeder
	svc    *billing.Service
	today  time.Time
	err    error
}

func (b *scenarioBuilder) current() billing.Period { return billing.PeriodOf(b.today) }

func (b *scenarioBuilder) template(t billing.PricingTemplate) {
	if b.err == nil {
		b.err = b.seeder.SaveTemplate(b.ctx, t)
	}
}

func (b *scenarioBuilder) resident(id, name, taxID string) {
	if b.err == nil {
		b.err = b.seeder.SaveResident(b.ctx, billing.Resident{ID: id, Name: name, TaxID: taxID, Active: true})
	}
}

// contract starts monthsAgo months before the current period on the given day
// and attaches the spots. It returns the contract's monthly fee.
func (b *scenarioBuilder) contract(residentID string, t billing.PricingTemplate, monthsAgo, day int, status billing.ContractStatus, counts billing.ResourceCounts) decimal.Decimal {
	if b.err != nil {
		return decimal.Zero
	}
	start := b.current().AddMonths(-monthsAgo)
	c := billing.Contract{
		ID:         uuid.NewString(),
		ResidentID: residentID,
		TemplateID: t.ID,
		StartDate:  start.DueDate(day),
		Status:     status,
	}
	if b.err = b.seeder.SaveContract(b.ctx, c); b.err != nil {
		return decimal.Zero
	}

	spots := make([]sqlite.Spot, 0, counts.Cars+counts.Motorcycles)
	for i := 0; i < counts.Cars; i++ {
		spots = append(spots, sqlite.Spot{Category: sqlite.CategoryCar, Code: fmt.Sprintf("E-%s-%d", residentID, i+1)})
	}
	for i := 0; i < counts.Motorcycles; i++ {
		spots = append(spots, sqlite.Spot{Category: sqlite.CategoryMotorcycle, Code: fmt.Sprintf("M-%s-%d", residentID, i+1)})
	}
	for _, sp := range spots {
		sp.ID = uuid.NewString()
		sp.ContractID = c.ID
		if b.err = b.seeder.SaveSpot(b.ctx, sp); b.err != nil {
			return decimal.Zero
		}
	}
	return billing.MonthlyFee(t, counts)
}

// pay settles the periods offset from..to (relative to the current period,
// inclusive) at fee, optionally with fines on the first one.
func (b *scenarioBuilder) pay(residentID string, from, to int, fee decimal.Decimal, fines billing.FinesDecision) {
	if b.err != nil {
		return
	}
	req := billing.PaymentRequest{Fines: fines}
	for off := from; off <= to; off++ {
		req.Periods = append(req.Periods, billing.PeriodPayment{Period: b.current().AddMonths(off), Amount: fee})
	}
	b.err = b.svc.ProcessPayment(b.ctx, residentID, req)
}

// owedFines accepts the late fees the debt detail currently shows.
func (b *scenarioBuilder) owedFines(residentID string) billing.FinesDecision {
	if b.err != nil {
		return noFines
	}
	d, err := b.svc.GetDebtDetails(b.ctx, residentID)
	if err != nil {
		b.err = err
		return noFines
	}
	return billing.FinesDecision{Apply: d.Fines.Count > 0, Count: d.Fines.Count, Total: d.Fines.Total}
}

func (b *scenarioBuilder) adjust(residentID string, offset int, amount decimal.Decimal, notes string) {
	if b.err != nil {
		return
	}
	_, b.err = b.svc.CreateAdjustment(b.ctx, residentID, b.current().AddMonths(offset), amount, notes)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var noFines billing.FinesDecision

func loadBuildingOverview(b *scenarioBuilder) {
	b.template(standardTemplate)
	oneCar := billing.ResourceCounts{Cars: 1}

	b.resident("res-ana", "Ana Perez", "11.111.111-1")
	fee := b.contract("res-ana", standardTemplate, 6, 5, billing.ContractCurrent, oneCar)
	b.pay("res-ana", -6, 0, fee, noFines)

	b.resident("res-bruno", "Bruno Soto", "12.222.222-2")
	fee = b.contract("res-bruno", standardTemplate, 3, 10, billing.ContractCurrent, billing.ResourceCounts{Cars: 1, Motorcycles: 1})
	b.pay("res-bruno", -3, 2, fee, noFines)

	b.resident("res-carla", "Carla Rojas", "13.333.333-3")
	fee = b.contract("res-carla", standardTemplate, 5, 15, billing.ContractCurrent, oneCar)
	b.pay("res-carla", -5, -4, fee, noFines)

	b.resident("res-diego", "Diego Munoz", "14.444.444-4")
	fee = b.contract("res-diego", standardTemplate, 4, 1, billing.ContractCurrent, billing.ResourceCounts{Motorcycles: 1})
	b.pay("res-diego", -4, -1, fee, noFines)
}

func loadPairPricing(b *scenarioBuilder) {
	b.template(standardTemplate)
	b.template(premiumTemplate)

	b.resident("res-fernando", "Fernando Vidal", "15.555.555-5")
	b.contract("res-fernando", standardTemplate, 14, 3, billing.ContractTerminated, billing.ResourceCounts{})
	fee := b.contract("res-fernando", premiumTemplate, 8, 3, billing.ContractCurrent, billing.ResourceCounts{Cars: 3, Motorcycles: 2})
	b.pay("res-fernando", -8, -3, fee, noFines)
}

func loadPaymentHistory(b *scenarioBuilder) {
	b.template(standardTemplate)

	b.resident("res-gabriela", "Gabriela Lagos", "16.666.666-6")
	fee := b.contract("res-gabriela", standardTemplate, 4, 20, billing.ContractCurrent, billing.ResourceCounts{Cars: 1})

	// The first month is paid late together with the fees accrued so far.
	b.pay("res-gabriela", -4, -4, fee, b.owedFines("res-gabriela"))
	b.pay("res-gabriela", -3, -1, fee, noFines)
	b.adjust("res-gabriela", -2, decimal.NewFromInt(-5000), "Discount for gate repair downtime.")
	b.adjust("res-gabriela", -1, decimal.NewFromInt(2500), "Key card replacement.")

	b.resident("res-hector", "Hector Fuentes", "17.777.777-7")
	fee = b.contract("res-hector", standardTemplate, 2, 8, billing.ContractCurrent, billing.ResourceCounts{Motorcycles: 2})
	b.pay("res-hector", -2, 0, fee, noFines)
}
