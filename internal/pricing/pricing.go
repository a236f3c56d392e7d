// Package pricing computes cart and order totals and applies promo codes.
// Amounts are whole currency units; every fractional result is rounded half-up.
package pricing

import (
	"sort"
	"strings"

	"techstore/internal/apperr"
	"techstore/internal/models"

	"github.com/shopspring/decimal"
)

// Config holds the shipping and tax rules.
type Config struct {
	FreeShippingThreshold int64
	ShippingFee           int64
	TaxRate               float64
}

// DefaultConfig returns the storefront defaults: free shipping from 100000,
// flat 10000 fee otherwise, 19% tax.
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: 100000,
		ShippingFee:           10000,
		TaxRate:               0.19,
	}
}

// Promo types
const (
	PromoPercentage   = "percentage"
	PromoFixed        = "fixed"
	PromoFreeShipping = "freeShipping"
)

// PromoCode is a named discount rule. Value is a whole percent for
// percentage codes and currency units for fixed codes.
type PromoCode struct {
	Code      string `json:"code"`
	Type      string `json:"type"`
	Value     int64  `json:"value"`
	MinAmount int64  `json:"minAmount"`
}

// Eligible reports whether the code may apply to a cart with this subtotal.
func (p *PromoCode) Eligible(subtotal int64) bool {
	return subtotal >= p.MinAmount
}

// DefaultPromos returns the built-in promo table.
func DefaultPromos() []PromoCode {
	return []PromoCode{
		{Code: "DESCUENTO10", Type: PromoPercentage, Value: 10, MinAmount: 50000},
		{Code: "ENVIOGRATIS", Type: PromoFreeShipping, Value: 0, MinAmount: 30000},
		{Code: "BIENVENIDO", Type: PromoPercentage, Value: 15, MinAmount: 80000},
		{Code: "TECHPRO20", Type: PromoPercentage, Value: 20, MinAmount: 100000},
		{Code: "PRIMERACOMPRA", Type: PromoPercentage, Value: 12, MinAmount: 40000},
	}
}

// Catalog is a static lookup table of promo codes.
type Catalog struct {
	codes map[string]PromoCode
}

// NewCatalog builds a catalog from promos. Codes are matched case-insensitively.
func NewCatalog(promos []PromoCode) *Catalog {
	c := &Catalog{codes: make(map[string]PromoCode, len(promos))}
	for _, p := range promos {
		p.Code = normalizeCode(p.Code)
		c.codes[p.Code] = p
	}
	return c
}

// Lookup returns the promo registered under code.
func (c *Catalog) Lookup(code string) (PromoCode, bool) {
	p, ok := c.codes[normalizeCode(code)]
	return p, ok
}

// Validate returns the promo for code if it exists and the subtotal meets its minimum.
func (c *Catalog) Validate(code string, subtotal int64) (PromoCode, error) {
	p, ok := c.Lookup(code)
	if !ok {
		return PromoCode{}, apperr.Validation("promo code %q is not valid", normalizeCode(code))
	}
	if !p.Eligible(subtotal) {
		return PromoCode{}, apperr.Validation("promo code %s requires a minimum order of %d", p.Code, p.MinAmount)
	}
	return p, nil
}

// List returns all codes sorted by name.
func (c *Catalog) List() []PromoCode {
	out := make([]PromoCode, 0, len(c.codes))
	for _, p := range c.codes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Line is the minimal input needed to price a line item.
type Line struct {
	Price    int64
	Quantity int
}

// Subtotal returns the sum of price × quantity.
func Subtotal(lines []Line) int64 {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.Price * int64(l.Quantity)
	}
	return subtotal
}

// Compute prices lines with an optional promo. A promo whose minimum is not
// met by the subtotal contributes nothing.
func (cfg Config) Compute(lines []Line, promo *PromoCode) models.Totals {
	subtotal := Subtotal(lines)
	if promo != nil && !promo.Eligible(subtotal) {
		promo = nil
	}

	t := models.Totals{
		Subtotal: subtotal,
		Shipping: cfg.shipping(subtotal, promo),
		Tax:      roundHalfUp(decimal.NewFromInt(subtotal).Mul(decimal.NewFromFloat(cfg.TaxRate))),
		Discount: discount(subtotal, promo),
	}

	t.Total = t.Subtotal + t.Shipping + t.Tax - t.Discount
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}

func (cfg Config) shipping(subtotal int64, promo *PromoCode) int64 {
	if promo != nil && promo.Type == PromoFreeShipping {
		return 0
	}
	if subtotal >= cfg.FreeShippingThreshold {
		return 0
	}
	return cfg.ShippingFee
}

func discount(subtotal int64, promo *PromoCode) int64 {
	if promo == nil {
		return 0
	}
	switch promo.Type {
	case PromoPercentage:
		pct := decimal.NewFromInt(promo.Value).Div(decimal.NewFromInt(100))
		return roundHalfUp(decimal.NewFromInt(subtotal).Mul(pct))
	case PromoFixed:
		if promo.Value > subtotal {
			return subtotal
		}
		return promo.Value
	default:
		return 0
	}
}

// roundHalfUp rounds to whole units, halves away from zero. Amounts here are never negative.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
