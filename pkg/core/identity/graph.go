// Package identity declares the accounting identities that tie unit
// economics together and solves them for missing variables.
package identity

import (
	"math"
	"strings"

	"unit_economics/pkg/core/errors"
)

// Values is a unit-economics model: variable name to value. Absent keys are
// unknown.
type Values map[string]float64

// Clone returns an independent copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Has reports whether every name is known.
func (v Values) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := v[n]; !ok {
			return false
		}
	}
	return true
}

// Get returns the value or nil.
func (v Values) Get(name string) *float64 {
	x, ok := v[name]
	if !ok {
		return nil
	}
	return &x
}

// ===== Variable vocabulary =====

const (
	Revenue                   = "Revenue"
	COGSVariable              = "COGS_variable"
	VolumeDriver              = "VolumeDriver"
	ContributionMarginPerUnit = "ContributionMarginPerUnit"
	RevenuePerUnit            = "RevenuePerUnit"
	VariableCostPerUnit       = "VariableCostPerUnit"

	CAC                = "CAC"
	SalesMarketing     = "SalesMarketing"
	RetentionMarketing = "RetentionMarketing"
	GrossNewCustomers  = "GrossNewCustomers"
	DeltaCustomers     = "DeltaCustomers"
	ChurnedCustomers   = "ChurnedCustomers"
	CustomersStart     = "Customers_start"
	ChurnRate          = "ChurnRate"

	ReinvestmentRate    = "ReinvestmentRate"
	Capex               = "Capex"
	DeltaWorkingCapital = "DeltaWorkingCapital"
	RnD                 = "RnD"
	NOPAT               = "NOPAT"

	ROIC                = "ROIC"
	OperatingIncome     = "OperatingIncome"
	TaxRate             = "TaxRate"
	InvestedCapital     = "InvestedCapital"
	PPE                 = "PPE"
	NetWorkingCapital   = "NetWorkingCapital"
	Goodwill            = "Goodwill"
	AcquiredIntangibles = "AcquiredIntangibles"

	ElasticityRevenue  = "ElasticityRevenue"
	ElasticityNewUnits = "ElasticityNewUnits"
	ElasticityRevShare = "ElasticityRevShare"
	SalesCommissions   = "SalesCommissions"
	PaymentProcessing  = "PaymentProcessing"
)

// ===== Identity =====

type solveFunc func(v Values) (float64, error)

// Identity is a named equation lhs = rhs. Vars lists the left-hand variable
// first. Every variable has a closed-form isolation.
type Identity struct {
	Name string
	Vars []string
	Expr string

	residual func(v Values) float64
	solve    map[string]solveFunc
}

// Residual evaluates lhs - rhs. The caller must supply every variable.
func (id *Identity) Residual(v Values) float64 { return id.residual(v) }

// HasVar reports whether name appears in the identity.
func (id *Identity) HasVar(name string) bool {
	_, ok := id.solve[name]
	return ok
}

// Names of the declared identities.
const (
	CACIdentity                 = "CAC_Identity"
	GrossNewCustomersIdentity   = "GrossNewCustomers_Identity"
	ChurnedCustomersIdentity    = "ChurnedCustomers_Identity"
	ContributionMarginIdentity  = "ContributionMargin_Identity"
	UnitRevenueIdentity         = "UnitRevenue_Identity"
	VariableCostPerUnitIdentity = "VariableCostPerUnit_Identity"
	ContributionMarginCheck     = "ContributionMargin_Check"
	ReinvestmentRateIdentity    = "ReinvestmentRate_Identity"
	NOPATIdentity               = "NOPAT_Identity"
	InvestedCapitalIdentity     = "InvestedCapital_Identity"
	ROICIdentity                = "ROIC_Identity"
	COGSVariableConstraint      = "COGS_Variable_Constraint"
	SalesCommissionsConstraint  = "SalesCommissions_Constraint"
	PaymentProcessingConstraint = "PaymentProcessing_Constraint"
)

// identities is declared once and never mutated.
var identities = []*Identity{
	{
		Name: CACIdentity,
		Vars: []string{CAC, SalesMarketing, RetentionMarketing, GrossNewCustomers},
		Expr: "CAC = (SalesMarketing - RetentionMarketing) / GrossNewCustomers",
		residual: func(v Values) float64 {
			return v[CAC] - (v[SalesMarketing]-v[RetentionMarketing])/v[GrossNewCustomers]
		},
		solve: map[string]solveFunc{
			CAC: func(v Values) (float64, error) {
				return div(v[SalesMarketing]-v[RetentionMarketing], v[GrossNewCustomers])
			},
			SalesMarketing: func(v Values) (float64, error) {
				return v[CAC]*v[GrossNewCustomers] + v[RetentionMarketing], nil
			},
			RetentionMarketing: func(v Values) (float64, error) {
				return v[SalesMarketing] - v[CAC]*v[GrossNewCustomers], nil
			},
			GrossNewCustomers: func(v Values) (float64, error) {
				return div(v[SalesMarketing]-v[RetentionMarketing], v[CAC])
			},
		},
	},
	sumIdentity(GrossNewCustomersIdentity, GrossNewCustomers, DeltaCustomers, ChurnedCustomers),
	productIdentity(ChurnedCustomersIdentity, ChurnedCustomers, CustomersStart, ChurnRate),
	{
		Name: ContributionMarginIdentity,
		Vars: []string{ContributionMarginPerUnit, Revenue, COGSVariable, VolumeDriver},
		Expr: "ContributionMarginPerUnit = (Revenue - COGS_variable) / VolumeDriver",
		residual: func(v Values) float64 {
			return v[ContributionMarginPerUnit] - (v[Revenue]-v[COGSVariable])/v[VolumeDriver]
		},
		solve: map[string]solveFunc{
			ContributionMarginPerUnit: func(v Values) (float64, error) {
				return div(v[Revenue]-v[COGSVariable], v[VolumeDriver])
			},
			Revenue: func(v Values) (float64, error) {
				return v[ContributionMarginPerUnit]*v[VolumeDriver] + v[COGSVariable], nil
			},
			COGSVariable: func(v Values) (float64, error) {
				return v[Revenue] - v[ContributionMarginPerUnit]*v[VolumeDriver], nil
			},
			VolumeDriver: func(v Values) (float64, error) {
				return div(v[Revenue]-v[COGSVariable], v[ContributionMarginPerUnit])
			},
		},
	},
	ratioIdentity(UnitRevenueIdentity, RevenuePerUnit, Revenue, VolumeDriver),
	ratioIdentity(VariableCostPerUnitIdentity, VariableCostPerUnit, COGSVariable, VolumeDriver),
	{
		Name: ContributionMarginCheck,
		Vars: []string{ContributionMarginPerUnit, RevenuePerUnit, VariableCostPerUnit},
		Expr: "ContributionMarginPerUnit = RevenuePerUnit - VariableCostPerUnit",
		residual: func(v Values) float64 {
			return v[ContributionMarginPerUnit] - (v[RevenuePerUnit] - v[VariableCostPerUnit])
		},
		solve: map[string]solveFunc{
			ContributionMarginPerUnit: func(v Values) (float64, error) {
				return v[RevenuePerUnit] - v[VariableCostPerUnit], nil
			},
			RevenuePerUnit: func(v Values) (float64, error) {
				return v[ContributionMarginPerUnit] + v[VariableCostPerUnit], nil
			},
			VariableCostPerUnit: func(v Values) (float64, error) {
				return v[RevenuePerUnit] - v[ContributionMarginPerUnit], nil
			},
		},
	},
	{
		Name: ReinvestmentRateIdentity,
		Vars: []string{ReinvestmentRate, Capex, DeltaWorkingCapital, RnD, NOPAT},
		Expr: "ReinvestmentRate = (Capex + DeltaWorkingCapital + RnD) / NOPAT",
		residual: func(v Values) float64 {
			return v[ReinvestmentRate] - (v[Capex]+v[DeltaWorkingCapital]+v[RnD])/v[NOPAT]
		},
		solve: map[string]solveFunc{
			ReinvestmentRate: func(v Values) (float64, error) {
				return div(v[Capex]+v[DeltaWorkingCapital]+v[RnD], v[NOPAT])
			},
			Capex: func(v Values) (float64, error) {
				return v[ReinvestmentRate]*v[NOPAT] - v[DeltaWorkingCapital] - v[RnD], nil
			},
			DeltaWorkingCapital: func(v Values) (float64, error) {
				return v[ReinvestmentRate]*v[NOPAT] - v[Capex] - v[RnD], nil
			},
			RnD: func(v Values) (float64, error) {
				return v[ReinvestmentRate]*v[NOPAT] - v[Capex] - v[DeltaWorkingCapital], nil
			},
			NOPAT: func(v Values) (float64, error) {
				return div(v[Capex]+v[DeltaWorkingCapital]+v[RnD], v[ReinvestmentRate])
			},
		},
	},
	{
		Name: NOPATIdentity,
		Vars: []string{NOPAT, OperatingIncome, TaxRate},
		Expr: "NOPAT = OperatingIncome * (1 - TaxRate)",
		residual: func(v Values) float64 {
			return v[NOPAT] - v[OperatingIncome]*(1-v[TaxRate])
		},
		solve: map[string]solveFunc{
			NOPAT: func(v Values) (float64, error) {
				return v[OperatingIncome] * (1 - v[TaxRate]), nil
			},
			OperatingIncome: func(v Values) (float64, error) {
				return div(v[NOPAT], 1-v[TaxRate])
			},
			TaxRate: func(v Values) (float64, error) {
				r, err := div(v[NOPAT], v[OperatingIncome])
				return 1 - r, err
			},
		},
	},
	sumIdentity(InvestedCapitalIdentity, InvestedCapital, PPE, NetWorkingCapital, Goodwill, AcquiredIntangibles),
	ratioIdentity(ROICIdentity, ROIC, NOPAT, InvestedCapital),
	productIdentity(COGSVariableConstraint, COGSVariable, ElasticityRevenue, Revenue),
	productIdentity(SalesCommissionsConstraint, SalesCommissions, ElasticityNewUnits, GrossNewCustomers),
	productIdentity(PaymentProcessingConstraint, PaymentProcessing, ElasticityRevShare, Revenue),
}

var byName = func() map[string]*Identity {
	m := make(map[string]*Identity, len(identities))
	for _, id := range identities {
		m[id.Name] = id
	}
	return m
}()

// All returns the declared identities in declaration order.
func All() []*Identity {
	out := make([]*Identity, len(identities))
	copy(out, identities)
	return out
}

// Lookup finds an identity by name.
func Lookup(name string) (*Identity, bool) {
	id, ok := byName[name]
	return id, ok
}

// ===== Shape builders =====

// sumIdentity is total = part1 + part2 + ...
func sumIdentity(name, total string, parts ...string) *Identity {
	id := &Identity{
		Name: name,
		Vars: append([]string{total}, parts...),
		Expr: total + " = " + strings.Join(parts, " + "),
		residual: func(v Values) float64 {
			s := v[total]
			for _, p := range parts {
				s -= v[p]
			}
			return s
		},
		solve: map[string]solveFunc{
			total: func(v Values) (float64, error) {
				s := 0.0
				for _, p := range parts {
					s += v[p]
				}
				return s, nil
			},
		},
	}
	for _, target := range parts {
		target := target
		id.solve[target] = func(v Values) (float64, error) {
			s := v[total]
			for _, p := range parts {
				if p != target {
					s -= v[p]
				}
			}
			return s, nil
		}
	}
	return id
}

// productIdentity is out = a * b.
func productIdentity(name, out, a, b string) *Identity {
	return &Identity{
		Name:     name,
		Vars:     []string{out, a, b},
		Expr:     out + " = " + a + " * " + b,
		residual: func(v Values) float64 { return v[out] - v[a]*v[b] },
		solve: map[string]solveFunc{
			out: func(v Values) (float64, error) { return v[a] * v[b], nil },
			a:   func(v Values) (float64, error) { return div(v[out], v[b]) },
			b:   func(v Values) (float64, error) { return div(v[out], v[a]) },
		},
	}
}

// ratioIdentity is out = num / den.
func ratioIdentity(name, out, num, den string) *Identity {
	return &Identity{
		Name:     name,
		Vars:     []string{out, num, den},
		Expr:     out + " = " + num + " / " + den,
		residual: func(v Values) float64 { return v[out] - v[num]/v[den] },
		solve: map[string]solveFunc{
			out: func(v Values) (float64, error) { return div(v[num], v[den]) },
			num: func(v Values) (float64, error) { return v[out] * v[den], nil },
			den: func(v Values) (float64, error) { return div(v[num], v[out]) },
		},
	}
}

var errDivZero = errors.New("division by zero")

func div(num, den float64) (float64, error) {
	if den == 0 {
		return math.NaN(), errDivZero
	}
	return num / den, nil
}
