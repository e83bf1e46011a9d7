package creditledger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level ledger configuration: the pricing table and the
// tier allocation policies.
type Config struct {
	Pricing PriceTable  `yaml:"pricing"`
	Tiers   PolicyTable `yaml:"tiers"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("creditledger: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("creditledger: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.Pricing.CreditUSD <= 0 {
		return fmt.Errorf("creditledger: config: pricing.credit_usd must be positive")
	}
	if c.Pricing.Margin <= 0 {
		return fmt.Errorf("creditledger: config: pricing.margin must be positive")
	}
	if len(c.Pricing.Models) == 0 {
		return fmt.Errorf("creditledger: config: at least one model tier is required")
	}
	if c.Pricing.Grounding.SearchUSD < 0 || c.Pricing.Grounding.MapsUSD < 0 {
		return fmt.Errorf("creditledger: config: grounding fees must be non-negative")
	}

	for mt, price := range c.Pricing.Models {
		if mt == "" {
			return fmt.Errorf("creditledger: config: model tier name must not be empty")
		}
		for name, rates := range map[string]TokenRates{
			"input":   price.Input,
			"output":  price.Output,
			"caching": price.Caching,
		} {
			if rates.Small < 0 || rates.Large < 0 {
				return fmt.Errorf("creditledger: config: model %q: %s rates must be non-negative", mt, name)
			}
		}
		if price.AudioInput < 0 {
			return fmt.Errorf("creditledger: config: model %q: audio_input must be non-negative", mt)
		}
	}

	if len(c.Tiers) == 0 {
		return fmt.Errorf("creditledger: config: at least one tier is required")
	}
	for tier, pol := range c.Tiers {
		if pol.Amount < 0 {
			return fmt.Errorf("creditledger: config: tier %q: amount must be non-negative", tier)
		}
		if pol.Period != PeriodDaily && pol.Period != PeriodMonthly {
			return fmt.Errorf("creditledger: config: tier %q: invalid period %q", tier, pol.Period)
		}
		if pol.AllowCarryover && pol.Period != PeriodMonthly {
			return fmt.Errorf("creditledger: config: tier %q: carryover requires a monthly period", tier)
		}
		for _, mt := range pol.AllowedModelTiers {
			if _, ok := c.Pricing.Models[mt]; !ok {
				return fmt.Errorf("creditledger: config: tier %q: model tier %q has no pricing", tier, mt)
			}
		}
	}

	return nil
}

// DefaultConfig returns a ready-to-use config with the built-in tiers and
// pricing. Intended for examples and tests; production deployments load
// their own table via LoadConfig.
func DefaultConfig() Config {
	return Config{
		Pricing: PriceTable{
			CreditUSD: 0.0001,
			Margin:    3.0,
			Grounding: GroundingFees{SearchUSD: 0.035, MapsUSD: 0.025},
			Models: map[ModelTier]ModelPrice{
				"lite": {
					Input:   TokenRates{Small: 0.10, Large: 0.20},
					Output:  TokenRates{Small: 0.40, Large: 0.80},
					Caching: TokenRates{Small: 0.025, Large: 0.05},
				},
				"standard": {
					Input:      TokenRates{Small: 1.25, Large: 2.50},
					Output:     TokenRates{Small: 10.00, Large: 15.00},
					Caching:    TokenRates{Small: 0.31, Large: 0.625},
					AudioInput: 1.00,
				},
				"pro": {
					Input:   TokenRates{Small: 2.50, Large: 5.00},
					Output:  TokenRates{Small: 15.00, Large: 22.50},
					Caching: TokenRates{Small: 0.625, Large: 1.25},
				},
			},
		},
		Tiers: PolicyTable{
			TierFree: {
				Amount:            15,
				Period:            PeriodDaily,
				AllowedModelTiers: []ModelTier{"lite"},
			},
			TierPlus: {
				Amount:            1500,
				Period:            PeriodMonthly,
				AllowCarryover:    true,
				AllowPurchase:     true,
				AllowedModelTiers: []ModelTier{"lite", "standard"},
			},
			TierPro: {
				Amount:            6000,
				Period:            PeriodMonthly,
				AllowCarryover:    true,
				AllowPurchase:     true,
				AllowedModelTiers: []ModelTier{"lite", "standard", "pro"},
			},
		},
	}
}
