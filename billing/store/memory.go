// Package store provides in-memory billing repositories.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/parking-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.TxRepository and billing.AdminRepository.
type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	residents map[string]billing.Resident
	templates map[string]billing.PricingTemplate
	contracts []billing.Contract
	counts    map[string]billing.ResourceCounts
	payments  []billing.PaymentRecord
}

func NewMemory() *Memory {
	return &Memory{state: state{
		residents: make(map[string]billing.Resident),
		templates: make(map[string]billing.PricingTemplate),
		counts:    make(map[string]billing.ResourceCounts),
	}}
}

// =============================================================================
// SEEDING
// =============================================================================

func (m *Memory) AddResident(r billing.Resident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.residents[r.ID] = r
}

func (m *Memory) AddTemplate(t billing.PricingTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
}

func (m *Memory) AddContract(c billing.Contract) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = append(m.contracts, c)
}

func (m *Memory) SetResourceCounts(contractID string, counts billing.ResourceCounts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[contractID] = counts
}

// Payments returns every stored record in insertion order.
func (m *Memory) Payments() []billing.PaymentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.PaymentRecord(nil), m.payments...)
}

// =============================================================================
// REPOSITORY
// =============================================================================

func (m *Memory) GetContract(ctx context.Context, residentID string) (billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetContract(ctx, residentID)
}

func (m *Memory) GetPricingTemplate(ctx context.Context, id string) (billing.PricingTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPricingTemplate(ctx, id)
}

func (m *Memory) GetResourceCounts(ctx context.Context, contractID string) (billing.ResourceCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetResourceCounts(ctx, contractID)
}

func (m *Memory) GetPaymentPeriods(ctx context.Context, contractID string) (billing.PeriodSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPaymentPeriods(ctx, contractID)
}

func (m *Memory) GetAllActiveContracts(ctx context.Context) ([]billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetAllActiveContracts(ctx)
}

func (m *Memory) FindPayment(ctx context.Context, contractID string, period billing.Period) (*billing.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindPayment(ctx, contractID, period)
}

func (m *Memory) GetPayment(ctx context.Context, id string) (billing.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPayment(ctx, id)
}

func (m *Memory) InsertPayment(ctx context.Context, rec billing.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertPayment(ctx, rec)
}

func (m *Memory) UpdatePayment(ctx context.Context, rec billing.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdatePayment(ctx, rec)
}

func (m *Memory) ListActiveResidents(ctx context.Context) ([]billing.Resident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListActiveResidents(ctx)
}

func (m *Memory) ListPayments(ctx context.Context, filter billing.HistoryFilter) ([]billing.PaymentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListPayments(ctx, filter)
}

func (m *Memory) DeletePayment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeletePayment(ctx, id)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// =============================================================================
// UNLOCKED STATE - Also serves as the transactional view
// =============================================================================

func (s *state) clone() state {
	c := state{
		residents: make(map[string]billing.Resident, len(s.residents)),
		templates: make(map[string]billing.PricingTemplate, len(s.templates)),
		contracts: append([]billing.Contract(nil), s.contracts...),
		counts:    make(map[string]billing.ResourceCounts, len(s.counts)),
		payments:  append([]billing.PaymentRecord(nil), s.payments...),
	}
	for k, v := range s.residents {
		c.residents[k] = v
	}
	for k, v := range s.templates {
		c.templates[k] = v
	}
	for k, v := range s.counts {
		c.counts[k] = v
	}
	return c
}

func (s *state) decorate(c billing.Contract) billing.Contract {
	if r, ok := s.residents[c.ResidentID]; ok {
		c.ResidentName, c.ResidentTaxID = r.Name, r.TaxID
	}
	if t, ok := s.templates[c.TemplateID]; ok {
		c.TemplateName = t.Name
	}
	return c
}

// GetContract prefers the latest current contract, then the latest of any status.
func (s *state) GetContract(_ context.Context, residentID string) (billing.Contract, error) {
	var best *billing.Contract
	for i := range s.contracts {
		c := &s.contracts[i]
		if c.ResidentID != residentID {
			continue
		}
		switch {
		case best == nil:
			best = c
		case c.IsCurrent() && !best.IsCurrent():
			best = c
		case c.IsCurrent() == best.IsCurrent() && c.StartDate.After(best.StartDate):
			best = c
		}
	}
	if best == nil {
		return billing.Contract{}, billing.ErrContractNotFound
	}
	return s.decorate(*best), nil
}

func (s *state) GetPricingTemplate(_ context.Context, id string) (billing.PricingTemplate, error) {
	t, ok := s.templates[id]
	if !ok {
		return billing.PricingTemplate{}, billing.ErrTemplateNotFound
	}
	return t, nil
}

func (s *state) GetResourceCounts(_ context.Context, contractID string) (billing.ResourceCounts, error) {
	return s.counts[contractID], nil
}

func (s *state) GetPaymentPeriods(_ context.Context, contractID string) (billing.PeriodSet, error) {
	set := billing.NewPeriodSet()
	for _, p := range s.payments {
		if p.ContractID == contractID && p.Status == billing.RecordPaid {
			set[p.Period] = true
		}
	}
	return set, nil
}

func (s *state) GetAllActiveContracts(_ context.Context) ([]billing.Contract, error) {
	var out []billing.Contract
	for _, c := range s.contracts {
		r, ok := s.residents[c.ResidentID]
		if !ok || !r.Active || !c.IsCurrent() {
			continue
		}
		if n := s.counts[c.ID]; n.Cars+n.Motorcycles == 0 {
			continue
		}
		out = append(out, s.decorate(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ResidentName != out[j].ResidentName {
			return out[i].ResidentName < out[j].ResidentName
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

func (s *state) FindPayment(_ context.Context, contractID string, period billing.Period) (*billing.PaymentRecord, error) {
	for _, p := range s.payments {
		if p.ContractID == contractID && p.Period == period && p.Status == billing.RecordPaid {
			rec := p
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *state) GetPayment(_ context.Context, id string) (billing.PaymentRecord, error) {
	if i := s.indexOf(id); i >= 0 {
		return s.payments[i], nil
	}
	return billing.PaymentRecord{}, billing.ErrPaymentNotFound
}

func (s *state) InsertPayment(_ context.Context, rec billing.PaymentRecord) error {
	if !s.hasContract(rec.ContractID) {
		return billing.ErrContractNotFound
	}
	if s.indexOf(rec.ID) >= 0 {
		return &billing.ConflictError{Field: "id", Value: rec.ID}
	}
	if err := s.checkPaidUnique(rec); err != nil {
		return err
	}
	s.payments = append(s.payments, rec)
	return nil
}

func (s *state) UpdatePayment(_ context.Context, rec billing.PaymentRecord) error {
	i := s.indexOf(rec.ID)
	if i < 0 {
		return billing.ErrPaymentNotFound
	}
	if err := s.checkPaidUnique(rec); err != nil {
		return err
	}
	s.payments[i] = rec
	return nil
}

func (s *state) DeletePayment(_ context.Context, id string) error {
	i := s.indexOf(id)
	if i < 0 {
		return billing.ErrPaymentNotFound
	}
	s.payments = append(s.payments[:i], s.payments[i+1:]...)
	return nil
}

func (s *state) ListActiveResidents(_ context.Context) ([]billing.Resident, error) {
	var out []billing.Resident
	for _, r := range s.residents {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *state) ListPayments(_ context.Context, filter billing.HistoryFilter) ([]billing.PaymentView, error) {
	byID := make(map[string]billing.Contract, len(s.contracts))
	for _, c := range s.contracts {
		byID[c.ID] = s.decorate(c)
	}
	var out []billing.PaymentView
	for _, p := range s.payments {
		c := byID[p.ContractID]
		v := billing.PaymentView{PaymentRecord: p, ResidentName: c.ResidentName, ResidentTaxID: c.ResidentTaxID}
		if filter.Matches(v) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaidAt.After(out[j].PaidAt) })
	return out, nil
}

func (s *state) checkPaidUnique(rec billing.PaymentRecord) error {
	if rec.Status != billing.RecordPaid {
		return nil
	}
	for _, p := range s.payments {
		if p.ID != rec.ID && p.ContractID == rec.ContractID && p.Period == rec.Period && p.Status == billing.RecordPaid {
			return &billing.ConflictError{Field: "period", Value: rec.Period.String()}
		}
	}
	return nil
}

func (s *state) hasContract(id string) bool {
	for _, c := range s.contracts {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *state) indexOf(id string) int {
	for i, p := range s.payments {
		if p.ID == id {
			return i
		}
	}
	return -1
}
