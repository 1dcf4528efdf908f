package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger/fraud"
	"github.com/R3E-Network/points_ledger/internal/ledger/rules"
)

// Policy is the economic and fraud configuration.
type Policy struct {
	Limits map[ledger.Kind]rules.Bounds `yaml:"limits"`
	Fraud  fraud.Policy                 `yaml:"fraud"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	limits := make(map[ledger.Kind]rules.Bounds, len(rules.DefaultLimits))
	for k, b := range rules.DefaultLimits {
		limits[k] = b
	}
	return Policy{Limits: limits, Fraud: fraud.DefaultPolicy()}
}

// LoadPolicy reads a YAML policy from path over the defaults. An empty path
// returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return policy, nil
}

// Validate checks both halves of the policy.
func (p Policy) Validate() error {
	if _, err := rules.NewValidator(p.Limits); err != nil {
		return err
	}
	return p.Fraud.Validate()
}
