package pricing

import (
	"errors"
	"testing"

	"techstore/internal/apperr"
	"techstore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promo(t *testing.T, code string) *PromoCode {
	t.Helper()
	p, ok := NewCatalog(DefaultPromos()).Lookup(code)
	require.True(t, ok, code)
	return &p
}

func TestComputeScenarios(t *testing.T) {
	cfg := DefaultConfig()

	tests := map[string]struct {
		lines []Line
		promo *PromoCode
		want  models.Totals
	}{
		"free shipping threshold met": {
			lines: []Line{{Price: 50000, Quantity: 2}},
			want:  models.Totals{Subtotal: 100000, Shipping: 0, Tax: 19000, Total: 119000},
		},
		"below threshold pays flat fee": {
			lines: []Line{{Price: 45000, Quantity: 1}},
			want:  models.Totals{Subtotal: 45000, Shipping: 10000, Tax: 8550, Total: 63550},
		},
		"ENVIOGRATIS forces free shipping": {
			lines: []Line{{Price: 35000, Quantity: 1}},
			promo: promo(t, "ENVIOGRATIS"),
			want:  models.Totals{Subtotal: 35000, Shipping: 0, Tax: 6650, Total: 41650},
		},
		"percentage discount": {
			lines: []Line{{Price: 50000, Quantity: 2}},
			promo: promo(t, "DESCUENTO10"),
			want:  models.Totals{Subtotal: 100000, Shipping: 0, Tax: 19000, Discount: 10000, Total: 109000},
		},
		"percentage rounds half up": {
			lines: []Line{{Price: 40005, Quantity: 1}},
			promo: &PromoCode{Code: "X", Type: PromoPercentage, Value: 10},
			want:  models.Totals{Subtotal: 40005, Shipping: 10000, Tax: 7601, Discount: 4001, Total: 53605},
		},
		"fixed discount capped at subtotal": {
			lines: []Line{{Price: 1000, Quantity: 1}},
			promo: &PromoCode{Code: "BIG", Type: PromoFixed, Value: 500000},
			want:  models.Totals{Subtotal: 1000, Shipping: 10000, Tax: 190, Discount: 1000, Total: 10190},
		},
		"promo below minimum is ignored": {
			lines: []Line{{Price: 20000, Quantity: 1}},
			promo: promo(t, "ENVIOGRATIS"),
			want:  models.Totals{Subtotal: 20000, Shipping: 10000, Tax: 3800, Total: 33800},
		},
		"empty cart": {
			lines: nil,
			want:  models.Totals{Subtotal: 0, Shipping: 10000, Tax: 0, Total: 10000},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := cfg.Compute(tt.lines, tt.promo)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeTotalNeverNegative(t *testing.T) {
	cfg := Config{FreeShippingThreshold: 0, ShippingFee: 0, TaxRate: 0}
	for _, price := range []int64{1, 99, 1000, 123456} {
		got := cfg.Compute([]Line{{Price: price, Quantity: 3}}, &PromoCode{Type: PromoFixed, Value: price * 10})
		assert.GreaterOrEqual(t, got.Total, int64(0))
		want := got.Subtotal + got.Shipping + got.Tax - got.Discount
		if want < 0 {
			want = 0
		}
		assert.Equal(t, want, got.Total)
	}
}

func TestCatalogValidate(t *testing.T) {
	cat := NewCatalog(DefaultPromos())

	p, err := cat.Validate(" descuento10 ", 50000)
	require.NoError(t, err)
	assert.Equal(t, "DESCUENTO10", p.Code)

	_, err = cat.Validate("DESCUENTO10", 49999)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = cat.Validate("NOPE", 1_000_000)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	assert.Len(t, cat.List(), 5)
	assert.Equal(t, "BIENVENIDO", cat.List()[0].Code)
}
