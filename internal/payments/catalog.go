package payments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	PlanStarter = "starter"
	PlanPro     = "pro"
	PlanPremium = "premium"

	// DefaultCurrency is the ISO currency code plans are priced in.
	DefaultCurrency = "eur"

	centsExponent = -2
)

var (
	ErrUnknownPlan   = errors.New("unknown plan")
	ErrInvalidPlan   = errors.New("invalid plan")
	ErrInvalidConfig = errors.New("invalid payments configuration")
)

// Plan is a purchasable credit pack.
type Plan struct {
	ID          string
	Name        string
	Description string
	PriceCents  int64
	Currency    string
	Credits     int64
}

// Price returns the plan price in major currency units.
func (plan Plan) Price() decimal.Decimal {
	return decimal.New(plan.PriceCents, centsExponent)
}

// PricePerCredit returns the unit price rounded to cents.
func (plan Plan) PricePerCredit() decimal.Decimal {
	if plan.Credits <= 0 {
		return decimal.Zero
	}
	return plan.Price().Div(decimal.NewFromInt(plan.Credits)).Round(2)
}

func (plan Plan) validate() error {
	if strings.TrimSpace(plan.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPlan)
	}
	if plan.PriceCents <= 0 {
		return fmt.Errorf("%w: %s price must be positive", ErrInvalidPlan, plan.ID)
	}
	if plan.Credits <= 0 {
		return fmt.Errorf("%w: %s credits must be positive", ErrInvalidPlan, plan.ID)
	}
	return nil
}

// DefaultPlans returns the built-in packs.
func DefaultPlans() []Plan {
	return []Plan{
		{ID: PlanStarter, Name: "Starter Pack", Description: "15 crédits de doublage IA", PriceCents: 500, Currency: DefaultCurrency, Credits: 15},
		{ID: PlanPro, Name: "Pro Pack", Description: "60 crédits de doublage IA", PriceCents: 1500, Currency: DefaultCurrency, Credits: 60},
		{ID: PlanPremium, Name: "Premium Pack", Description: "150 crédits de doublage IA", PriceCents: 3000, Currency: DefaultCurrency, Credits: 150},
	}
}

// Catalog is an ordered, read-only set of plans.
type Catalog struct {
	plans []Plan
	byID  map[string]int
}

// NewCatalog builds a catalog; creditOverrides replaces the credit count of named plans.
func NewCatalog(plans []Plan, creditOverrides map[string]int64) (*Catalog, error) {
	catalog := &Catalog{byID: map[string]int{}}
	for _, plan := range plans {
		plan.ID = strings.ToLower(strings.TrimSpace(plan.ID))
		if override, ok := creditOverrides[plan.ID]; ok && override > 0 {
			plan.Credits = override
		}
		if plan.Currency == "" {
			plan.Currency = DefaultCurrency
		}
		if err := plan.validate(); err != nil {
			return nil, err
		}
		if _, exists := catalog.byID[plan.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate plan %s", ErrInvalidConfig, plan.ID)
		}
		catalog.byID[plan.ID] = len(catalog.plans)
		catalog.plans = append(catalog.plans, plan)
	}
	if len(catalog.plans) == 0 {
		return nil, fmt.Errorf("%w: no plans", ErrInvalidConfig)
	}
	return catalog, nil
}

// Lookup finds a plan by id, case-insensitively.
func (catalog *Catalog) Lookup(planID string) (Plan, error) {
	index, ok := catalog.byID[strings.ToLower(strings.TrimSpace(planID))]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}
	return catalog.plans[index], nil
}

// Plans returns the plans in declaration order.
func (catalog *Catalog) Plans() []Plan {
	return append([]Plan(nil), catalog.plans...)
}
