package rules

import (
	"github.com/opensource-finance/paygrid/internal/domain"
)

// Registry resolves the string identifiers a configuration uses to refer to
// its own entities. Identifiers may dangle after an entity is removed; a
// miss is reported as *domain.UnknownReferenceError and never panics.
type Registry struct {
	cfg        *domain.PayrollConfiguration
	components map[string]*domain.SystemComponent
	earnings   map[string]*domain.EarningComponent
	deductions map[string]*domain.DeductionComponent
	regimes    map[string]*domain.TaxRegime
	credits    map[string]*domain.TaxCredit
}

// NewRegistry indexes a configuration by id and code.
func NewRegistry(cfg *domain.PayrollConfiguration) *Registry {
	r := &Registry{
		cfg:        cfg,
		components: make(map[string]*domain.SystemComponent),
		earnings:   make(map[string]*domain.EarningComponent),
		deductions: make(map[string]*domain.DeductionComponent),
		regimes:    make(map[string]*domain.TaxRegime),
		credits:    make(map[string]*domain.TaxCredit),
	}
	if cfg == nil {
		return r
	}

	for i := range cfg.ComponentLibrary {
		c := &cfg.ComponentLibrary[i]
		index(r.components, c.ID, c.Code, c)
	}
	for i := range cfg.Earnings {
		e := &cfg.Earnings[i]
		index(r.earnings, e.ID, e.Code, e)
	}
	for _, list := range [][]domain.DeductionComponent{cfg.MandatoryDeductions, cfg.VoluntaryDeductions, cfg.PostTaxDeductions} {
		for i := range list {
			d := &list[i]
			index(r.deductions, d.ID, d.Code, d)
		}
	}
	for i := range cfg.TaxRegimes {
		g := &cfg.TaxRegimes[i]
		index(r.regimes, g.ID, "", g)
	}
	for _, list := range [][]domain.TaxCredit{cfg.PreTaxCredits, cfg.PostTaxCredits} {
		for i := range list {
			c := &list[i]
			index(r.credits, c.ID, c.Code, c)
		}
	}
	return r
}

// index registers v under id, and under code unless code is taken by an id.
func index[T any](m map[string]*T, id, code string, v *T) {
	if id != "" {
		m[id] = v
	}
	if code != "" {
		if _, taken := m[code]; !taken {
			m[code] = v
		}
	}
}

func lookup[T any](m map[string]*T, kind, id string) (*T, error) {
	if v, ok := m[id]; ok && id != "" {
		return v, nil
	}
	return nil, &domain.UnknownReferenceError{Kind: kind, ID: id}
}

// Configuration returns the indexed configuration.
func (r *Registry) Configuration() *domain.PayrollConfiguration {
	return r.cfg
}

// Component resolves a component-library entry.
func (r *Registry) Component(id string) (*domain.SystemComponent, error) {
	return lookup(r.components, "component", id)
}

// Earning resolves an earning component.
func (r *Registry) Earning(id string) (*domain.EarningComponent, error) {
	return lookup(r.earnings, "earning", id)
}

// Deduction resolves a mandatory, voluntary or post-tax deduction.
func (r *Registry) Deduction(id string) (*domain.DeductionComponent, error) {
	return lookup(r.deductions, "deduction", id)
}

// Regime resolves a tax regime.
func (r *Registry) Regime(id string) (*domain.TaxRegime, error) {
	return lookup(r.regimes, "regime", id)
}

// Credit resolves a pre- or post-tax credit.
func (r *Registry) Credit(id string) (*domain.TaxCredit, error) {
	return lookup(r.credits, "credit", id)
}

// ExemptionTargetExists reports whether an exemption's target resolves.
// Generic categories always resolve.
func (r *Registry) ExemptionTargetExists(ex domain.ExemptionRule) bool {
	if ex.TargetType != domain.TargetSpecificComponent {
		return true
	}
	id := ex.TargetComponentID
	_, e := r.earnings[id]
	_, d := r.deductions[id]
	_, g := r.regimes[id]
	return id != "" && (e || d || g)
}

// ResolveField returns the record value named by a component-library id or
// code (through its databaseField), falling back to the raw record field.
func (r *Registry) ResolveField(name string, record domain.Record) (domain.Value, error) {
	field := name
	if c, ok := r.components[name]; ok && c.DatabaseField != "" {
		field = c.DatabaseField
	}
	v, ok := record.Lookup(field)
	if !ok {
		return domain.Value{}, &domain.MissingFieldError{Field: field}
	}
	return v, nil
}

// ResolveNumber is ResolveField restricted to numeric values.
func (r *Registry) ResolveNumber(name string, record domain.Record) (float64, error) {
	v, err := r.ResolveField(name, record)
	if err != nil {
		return 0, err
	}
	if !v.IsNumeric() {
		return 0, &domain.TypeMismatchError{Field: name, Got: v.Kind, Want: domain.KindNumber}
	}
	return v.Num, nil
}
