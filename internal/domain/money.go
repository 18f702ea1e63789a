package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercentOf returns floor(amount * percent / 100). Amounts are int64 in the currency's smallest unit.
func PercentOf(amount int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Floor().IntPart()
}

// RateTable is one immutable version of the per-level commission percentages.
type RateTable struct {
	Version  int                     `json:"version"`
	MaxLevel int                     `json:"max_level"`
	Rates    map[int]decimal.Decimal `json:"rates"`
}

// RateFor returns the percentage for level. Levels above MaxLevel, missing levels and zero rates
// report false so the caller skips them.
func (t RateTable) RateFor(level int) (decimal.Decimal, bool) {
	if level < 1 || level > t.MaxLevel {
		return decimal.Zero, false
	}
	rate, ok := t.Rates[level]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}

// Levels returns the configured levels in ascending order.
func (t RateTable) Levels() []int {
	levels := make([]int, 0, len(t.Rates))
	for level := range t.Rates {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

func (t RateTable) Validate() error {
	if t.MaxLevel < 1 {
		return fmt.Errorf("%w: max level must be at least 1", ErrInvalidRates)
	}
	total := decimal.Zero
	for level, rate := range t.Rates {
		if level < 1 || level > t.MaxLevel {
			return fmt.Errorf("%w: level %d outside 1..%d", ErrInvalidRates, level, t.MaxLevel)
		}
		if rate.IsNegative() || rate.GreaterThan(hundred) {
			return fmt.Errorf("%w: level %d rate %s outside 0..100", ErrInvalidRates, level, rate)
		}
		total = total.Add(rate)
	}
	if total.GreaterThan(hundred) {
		return fmt.Errorf("%w: rates sum to %s%%", ErrInvalidRates, total)
	}
	return nil
}

// MarshalRates encodes rates as a JSON object keyed by level.
func MarshalRates(rates map[int]decimal.Decimal) ([]byte, error) {
	out := make(map[string]string, len(rates))
	for level, rate := range rates {
		out[strconv.Itoa(level)] = rate.String()
	}
	return json.Marshal(out)
}

func UnmarshalRates(data []byte) (map[int]decimal.Decimal, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	rates := make(map[int]decimal.Decimal, len(raw))
	for key, value := range raw {
		level, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("decode rate level %q: %w", key, err)
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("decode rate for level %d: %w", level, err)
		}
		rates[level] = rate
	}
	return rates, nil
}

// ParseRateSpec parses "1:10,2:4" into level -> percent.
func ParseRateSpec(spec string) (map[int]decimal.Decimal, error) {
	rates := make(map[int]decimal.Decimal)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		levelStr, rateStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not level:percent", ErrInvalidRates, part)
		}
		level, err := strconv.Atoi(strings.TrimSpace(levelStr))
		if err != nil {
			return nil, fmt.Errorf("%w: level %q", ErrInvalidRates, levelStr)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(rateStr, "%")))
		if err != nil {
			return nil, fmt.Errorf("%w: rate %q", ErrInvalidRates, rateStr)
		}
		if _, dup := rates[level]; dup {
			return nil, fmt.Errorf("%w: level %d listed twice", ErrInvalidRates, level)
		}
		rates[level] = rate
	}
	return rates, nil
}
