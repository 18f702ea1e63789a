package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentOf(t *testing.T) {
	assert.Equal(t, int64(100_000), PercentOf(1_000_000, decimal.NewFromInt(10)))
	assert.Equal(t, int64(40_000), PercentOf(1_000_000, decimal.NewFromInt(4)))
}

func TestPercentOf_FloorsFractions(t *testing.T) {
	// 999 * 2.5% = 24.975
	assert.Equal(t, int64(24), PercentOf(999, decimal.RequireFromString("2.5")))
	// 1 * 10% = 0.1
	assert.Equal(t, int64(0), PercentOf(1, decimal.NewFromInt(10)))
}

func TestRateTable_RateFor(t *testing.T) {
	table := RateTable{
		Version:  1,
		MaxLevel: 3,
		Rates: map[int]decimal.Decimal{
			1: decimal.NewFromInt(10),
			2: decimal.NewFromInt(4),
			3: decimal.Zero,
			4: decimal.NewFromInt(1),
		},
	}

	rate, ok := table.RateFor(1)
	assert.True(t, ok)
	assert.Equal(t, "10", rate.String())

	_, ok = table.RateFor(3)
	assert.False(t, ok, "zero rate is skipped")

	_, ok = table.RateFor(4)
	assert.False(t, ok, "level above max is skipped")

	_, ok = table.RateFor(0)
	assert.False(t, ok)
}

func TestRateTable_Validate(t *testing.T) {
	ok := RateTable{MaxLevel: 2, Rates: map[int]decimal.Decimal{1: decimal.NewFromInt(10), 2: decimal.NewFromInt(4)}}
	assert.NoError(t, ok.Validate())

	tooDeep := RateTable{MaxLevel: 1, Rates: map[int]decimal.Decimal{2: decimal.NewFromInt(4)}}
	assert.ErrorIs(t, tooDeep.Validate(), ErrInvalidInput)

	negative := RateTable{MaxLevel: 1, Rates: map[int]decimal.Decimal{1: decimal.NewFromInt(-1)}}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidRates)

	overHundred := RateTable{MaxLevel: 2, Rates: map[int]decimal.Decimal{1: decimal.NewFromInt(60), 2: decimal.NewFromInt(50)}}
	assert.ErrorIs(t, overHundred.Validate(), ErrInvalidRates)

	assert.ErrorIs(t, RateTable{}.Validate(), ErrInvalidRates)
}

func TestParseRateSpec(t *testing.T) {
	rates, err := ParseRateSpec("1:10, 2:4,3:2.5%,4:1")
	require.NoError(t, err)
	assert.Len(t, rates, 4)
	assert.Equal(t, "2.5", rates[3].String())

	_, err = ParseRateSpec("1=10")
	assert.ErrorIs(t, err, ErrInvalidRates)

	_, err = ParseRateSpec("1:10,1:5")
	assert.ErrorIs(t, err, ErrInvalidRates)

	_, err = ParseRateSpec("x:10")
	assert.ErrorIs(t, err, ErrInvalidRates)
}

func TestRatesJSONRoundTrip(t *testing.T) {
	in := map[int]decimal.Decimal{1: decimal.NewFromInt(10), 2: decimal.RequireFromString("4.25")}
	raw, err := MarshalRates(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":"10","2":"4.25"}`, string(raw))

	out, err := UnmarshalRates(raw)
	require.NoError(t, err)
	assert.True(t, out[2].Equal(in[2]))
	assert.Equal(t, []int{1, 2}, RateTable{Rates: out}.Levels())
}
