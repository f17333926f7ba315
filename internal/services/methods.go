package services

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/example/tendo/internal/models"
)

//go:embed payment_methods.yaml
var defaultPaymentMethods []byte

// PaymentMethodInfo is one entry of the checkout method catalog.
type PaymentMethodInfo struct {
	Code       models.PaymentMethod `yaml:"code" json:"code"`
	Enabled    bool                 `yaml:"enabled" json:"-"`
	Name       map[string]string    `yaml:"name" json:"name"`
	Icon       string               `yaml:"icon" json:"icon"`
	FeePercent float64              `yaml:"fee_percent" json:"fee_percent"`
}

// MethodCatalog lists the payment methods customers may choose.
type MethodCatalog struct {
	methods []PaymentMethodInfo
}

// LoadMethodCatalog reads the catalog from path, or the embedded default when path is empty.
func LoadMethodCatalog(path string) (*MethodCatalog, error) {
	raw := defaultPaymentMethods
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payment methods: %w", err)
		}
		raw = data
	}
	return ParseMethodCatalog(raw)
}

// ParseMethodCatalog parses a YAML catalog.
func ParseMethodCatalog(raw []byte) (*MethodCatalog, error) {
	var doc struct {
		Methods []PaymentMethodInfo `yaml:"methods"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse payment methods: %w", err)
	}

	seen := make(map[models.PaymentMethod]bool, len(doc.Methods))
	for _, m := range doc.Methods {
		if !slices.Contains(models.PaymentMethods, m.Code) {
			return nil, fmt.Errorf("parse payment methods: unknown method %q", m.Code)
		}
		if seen[m.Code] {
			return nil, fmt.Errorf("parse payment methods: duplicate method %q", m.Code)
		}
		seen[m.Code] = true
	}
	return &MethodCatalog{methods: doc.Methods}, nil
}

// List returns the enabled methods in catalog order.
func (c *MethodCatalog) List() []PaymentMethodInfo {
	out := make([]PaymentMethodInfo, 0, len(c.methods))
	for _, m := range c.methods {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// Enabled reports whether code may be used for new payments.
func (c *MethodCatalog) Enabled(code models.PaymentMethod) bool {
	for _, m := range c.methods {
		if m.Code == code {
			return m.Enabled
		}
	}
	return false
}
