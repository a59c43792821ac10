package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumeric(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"plain integer", "3500", 3500},
		{"decimal", "49.99", 49.99},
		{"thousands separators", "3,000", 3000},
		{"approximate plus", "3000+", 3000},
		{"leading tilde", "~250", 250},
		{"currency dollar", "$1,200", 1200},
		{"currency euro", "€99", 99},
		{"k suffix", "3K", 3000},
		{"lowercase k", "12k", 12000},
		{"m suffix with decimal", "1.2M", 1200000},
		{"b suffix", "2B", 2e9},
		{"combined", "$1.5M+", 1500000},
		{"range midpoint", "3000-5000", 4000},
		{"range with commas", "1,000-2,000", 1500},
		{"negative", "-40", -40},
		{"percent", "35%", 35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Numeric(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestNumeric_ParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "about three thousand", "N/A", "$", "3..5"} {
		_, err := Numeric(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestText(t *testing.T) {
	assert.Equal(t, "acme corp", Text("  Acme   Corp "))
	assert.Equal(t, "san francisco, ca", Text("San Francisco,\tCA"))
	assert.Equal(t, Text("STRASSE"), Text("straße"))
	assert.Equal(t, "", Text("   "))
}
