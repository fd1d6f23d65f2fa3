package dunning

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/velo-automation/velo/internal/shared"
)

// Policy is the configurable fee and grace schedule.
type Policy struct {
	// Fees[i] is charged by the reminder at level i+1.
	Fees [MaxLevel]decimal.Decimal
	// GraceDays[i] is how many days the current due date must be exceeded
	// before level i+1 is issued.
	GraceDays [MaxLevel]int
	// CollectionGraceDays applies after the level-3 due date before hand-off.
	CollectionGraceDays int
	// PaymentWindowDays sets newDueDate = reminder date + window.
	PaymentWindowDays int
}

// DefaultPolicy returns the schedule observed in production: 5, 10 and 15 EUR,
// no grace and a seven-day payment window.
func DefaultPolicy() Policy {
	return Policy{
		Fees: [MaxLevel]decimal.Decimal{
			decimal.RequireFromString("5.00"),
			decimal.RequireFromString("10.00"),
			decimal.RequireFromString("15.00"),
		},
		PaymentWindowDays: 7,
	}
}

// Fee returns the fee for level.
func (p Policy) Fee(level int) decimal.Decimal {
	if level < 1 || level > MaxLevel {
		return decimal.Zero
	}
	return p.Fees[level-1]
}

// Grace returns the grace period in days before level is issued.
func (p Policy) Grace(level int) int {
	if level < 1 || level > MaxLevel {
		return 0
	}
	return p.GraceDays[level-1]
}

// Validate rejects negative fees, negative grace periods and an empty window.
func (p Policy) Validate() error {
	for i, fee := range p.Fees {
		if fee.IsNegative() {
			return fmt.Errorf("dunning policy: level %d fee %s: %w", i+1, fee, shared.ErrInvalidAmount)
		}
	}
	for i, days := range p.GraceDays {
		if days < 0 {
			return fmt.Errorf("dunning policy: level %d grace %d: %w", i+1, days, shared.ErrValidation)
		}
	}
	if p.CollectionGraceDays < 0 {
		return fmt.Errorf("dunning policy: collection grace %d: %w", p.CollectionGraceDays, shared.ErrValidation)
	}
	if p.PaymentWindowDays <= 0 {
		return fmt.Errorf("dunning policy: payment window %d: %w", p.PaymentWindowDays, shared.ErrValidation)
	}
	return nil
}

type policyFile struct {
	Fees                []string `yaml:"fees"`
	GraceDays           []int    `yaml:"grace_days"`
	CollectionGraceDays *int     `yaml:"collection_grace_days"`
	PaymentWindowDays   *int     `yaml:"payment_window_days"`
}

// LoadPolicyFile overlays a YAML policy file onto base. Omitted keys keep the
// base value. Fees are strings so they stay exact:
//
//	fees: ["5.00", "10.00", "15.00"]
//	grace_days: [0, 3, 3]
//	collection_grace_days: 7
//	payment_window_days: 7
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("dunning policy: read %s: %w", path, err)
	}
	return ParsePolicy(raw, base)
}

// ParsePolicy is LoadPolicyFile over an in-memory document.
func ParsePolicy(raw []byte, base Policy) (Policy, error) {
	var doc policyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Policy{}, fmt.Errorf("dunning policy: decode: %w", err)
	}
	p := base
	if len(doc.Fees) > MaxLevel {
		return Policy{}, fmt.Errorf("dunning policy: %d fees for %d levels: %w", len(doc.Fees), MaxLevel, shared.ErrValidation)
	}
	for i, s := range doc.Fees {
		fee, err := decimal.NewFromString(s)
		if err != nil {
			return Policy{}, fmt.Errorf("dunning policy: level %d fee %q: %w", i+1, s, shared.ErrInvalidAmount)
		}
		p.Fees[i] = fee
	}
	if len(doc.GraceDays) > MaxLevel {
		return Policy{}, fmt.Errorf("dunning policy: %d grace periods for %d levels: %w", len(doc.GraceDays), MaxLevel, shared.ErrValidation)
	}
	copy(p.GraceDays[:], doc.GraceDays)
	if doc.CollectionGraceDays != nil {
		p.CollectionGraceDays = *doc.CollectionGraceDays
	}
	if doc.PaymentWindowDays != nil {
		p.PaymentWindowDays = *doc.PaymentWindowDays
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
