package provider

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

// Capabilities describes what a processor accepts and, for the mock, how it
// misbehaves.
type Capabilities struct {
	Name       string                 `yaml:"name"`
	Currencies []domain.Currency      `yaml:"currencies"`
	Methods    []domain.PaymentMethod `yaml:"methods"`
	Rules      Rules                  `yaml:"rules"`
}

type Rules struct {
	// DeclineAbove declines any authorization strictly above this amount. Zero disables it.
	DeclineAbove      int64         `yaml:"decline_above"`
	DeclineTokens     []string      `yaml:"decline_tokens"`
	FailCaptureTokens []string      `yaml:"fail_capture_tokens"`
	FailRefundTokens  []string      `yaml:"fail_refund_tokens"`
	Latency           time.Duration `yaml:"latency"`
}

func DefaultCapabilities() Capabilities {
	return Capabilities{
		Name:       "mock",
		Currencies: []domain.Currency{"USD", "EUR", "GBP", "NGN"},
		Methods: []domain.PaymentMethod{
			domain.PaymentMethodCard,
			domain.PaymentMethodBank,
			domain.PaymentMethodWallet,
		},
		Rules: Rules{
			DeclineAbove:      100_000_000,
			DeclineTokens:     []string{"tok_decline"},
			FailCaptureTokens: []string{"tok_fail_capture"},
			FailRefundTokens:  []string{"tok_fail_refund"},
		},
	}
}

// LoadCapabilities reads a YAML capabilities file. Missing fields fall back
// to DefaultCapabilities.
func LoadCapabilities(path string) (Capabilities, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Capabilities{}, fmt.Errorf("LoadCapabilities: %w", err)
	}
	return ParseCapabilities(raw)
}

func ParseCapabilities(raw []byte) (Capabilities, error) {
	caps := DefaultCapabilities()
	if err := yaml.Unmarshal(raw, &caps); err != nil {
		return Capabilities{}, fmt.Errorf("ParseCapabilities: %w", err)
	}
	for i, c := range caps.Currencies {
		caps.Currencies[i] = domain.Currency(strings.ToUpper(string(c)))
	}
	for _, m := range caps.Methods {
		if !m.IsValid() {
			return Capabilities{}, fmt.Errorf("ParseCapabilities: unknown method %q", m)
		}
	}
	if caps.Name == "" {
		return Capabilities{}, fmt.Errorf("ParseCapabilities: name is required")
	}
	return caps, nil
}

func (c Capabilities) Supports(currency domain.Currency, method domain.PaymentMethod) error {
	if !slices.Contains(c.Currencies, currency) {
		return fmt.Errorf("%s: %w: %s", c.Name, domain.ErrUnsupportedCurrency, currency)
	}
	if !slices.Contains(c.Methods, method) {
		return fmt.Errorf("%s: %w: %s", c.Name, domain.ErrUnsupportedMethod, method)
	}
	return nil
}
