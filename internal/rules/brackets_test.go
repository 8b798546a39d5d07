package rules

import (
	"math"
	"testing"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scale() []domain.TaxBracket {
	return []domain.TaxBracket{
		{Min: 0, Max: domain.Float(1000), Rate: 10},
		{Min: 1000, Max: nil, Rate: 20},
	}
}

func kenyaLikeScale() []domain.TaxBracket {
	return []domain.TaxBracket{
		{Min: 0, Max: domain.Float(24000), Rate: 10, Name: "band 1"},
		{Min: 24000, Max: domain.Float(32333), Rate: 25, Name: "band 2"},
		{Min: 32333, Max: domain.Float(500000), Rate: 30, Name: "band 3"},
		{Min: 500000, Max: domain.Float(800000), Rate: 32.5, Name: "band 4"},
		{Min: 800000, Max: nil, Rate: 35, Name: "band 5"},
	}
}

func TestApplyBrackets_MarginalScenario(t *testing.T) {
	got, err := ApplyBrackets(scale(), 1500, domain.ModeMarginal)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, got, 1e-9)
}

func TestApplyBrackets_Slab(t *testing.T) {
	tests := []struct {
		amount float64
		want   float64
	}{
		{0, 0},
		{999, 99.9},
		{1000, 200},
		{1500, 300},
	}

	for _, tt := range tests {
		got, err := ApplyBrackets(scale(), tt.amount, domain.ModeSlab)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9, "amount=%v", tt.amount)
	}
}

func TestApplyBrackets_SlabBelowFirstMin(t *testing.T) {
	brackets := []domain.TaxBracket{
		{Min: 500, Max: domain.Float(1000), Rate: 5},
		{Min: 1000, Rate: 10},
	}

	got, err := ApplyBrackets(brackets, 200, domain.ModeSlab)
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = ApplyBrackets(brackets, 800, domain.ModeMarginal)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, got, 1e-9, "only the portion above 500 is taxed")
}

func TestApplyBrackets_MarginalIsMonotonic(t *testing.T) {
	brackets := kenyaLikeScale()

	prev := -1.0
	for amount := 0.0; amount <= 1_000_000; amount += 997 {
		got, err := ApplyBrackets(brackets, amount, domain.ModeMarginal)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, prev, "amount=%v", amount)
		prev = got
	}
}

func TestApplyBrackets_MarginalContinuityAtBoundaries(t *testing.T) {
	brackets := kenyaLikeScale()

	full := 0.0
	for i, b := range brackets {
		if b.Max == nil {
			break
		}
		full += (*b.Max - b.Min) * b.Rate / 100

		got, err := ApplyBrackets(brackets, *b.Max, domain.ModeMarginal)
		require.NoError(t, err)
		assert.InDelta(t, full, got, 1e-6, "boundary of bracket %d", i)

		below, err := ApplyBrackets(brackets, *b.Max-0.01, domain.ModeMarginal)
		require.NoError(t, err)
		assert.Less(t, math.Abs(got-below), 0.01, "no jump at the seam of bracket %d", i)
	}
}

func TestApplyBrackets_RejectsNegativeAmount(t *testing.T) {
	_, err := ApplyBrackets(scale(), -1, domain.ModeMarginal)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = ApplyBrackets(scale(), -1, domain.ModeSlab)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestApplyBrackets_BoundedTop(t *testing.T) {
	brackets := []domain.TaxBracket{
		{Min: 0, Max: domain.Float(1000), Rate: 10},
		{Min: 1000, Max: domain.Float(2000), Rate: 20},
	}

	got, err := ApplyBrackets(brackets, 2000, domain.ModeMarginal)
	require.NoError(t, err)
	assert.InDelta(t, 300.0, got, 1e-9)

	got, err = ApplyBrackets(brackets, 2500, domain.ModeMarginal)
	require.NoError(t, err)
	assert.InDelta(t, 300.0, got, 1e-9, "excess over the top bracket is untaxed")

	prev := 0.0
	for _, amount := range []float64{1500, 1999.99, 2000, 2000.01, 5000} {
		got, err := ApplyBrackets(brackets, amount, domain.ModeMarginal)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, prev, "amount %v", amount)
		prev = got
	}

	_, err = ApplyBrackets(brackets, 2000, domain.ModeSlab)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidateBrackets(t *testing.T) {
	tests := []struct {
		name     string
		brackets []domain.TaxBracket
		ok       bool
	}{
		{"valid", scale(), true},
		{"single unbounded", []domain.TaxBracket{{Min: 0, Rate: 15}}, true},
		{"empty", nil, false},
		{"gap", []domain.TaxBracket{
			{Min: 0, Max: domain.Float(1000), Rate: 10},
			{Min: 1200, Rate: 20},
		}, false},
		{"overlap", []domain.TaxBracket{
			{Min: 0, Max: domain.Float(1000), Rate: 10},
			{Min: 900, Rate: 20},
		}, false},
		{"unsorted", []domain.TaxBracket{
			{Min: 1000, Rate: 20},
			{Min: 0, Max: domain.Float(1000), Rate: 10},
		}, false},
		{"unbounded in the middle", []domain.TaxBracket{
			{Min: 0, Rate: 10},
			{Min: 1000, Rate: 20},
		}, false},
		{"empty range", []domain.TaxBracket{{Min: 100, Max: domain.Float(100), Rate: 10}}, false},
		{"negative rate", []domain.TaxBracket{{Min: 0, Rate: -5}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBrackets(tt.brackets)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrConfiguration)

			_, err = ApplyBrackets(tt.brackets, 500, domain.ModeMarginal)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestApplyBrackets_UnknownMode(t *testing.T) {
	_, err := ApplyBrackets(scale(), 100, "progressive")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
