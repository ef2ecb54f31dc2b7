// Package refdata resolves the reference data an EOD run depends on:
// settlement rates to the valuation currency, required margin ratios, and
// trading-calendar value dates. Lookups are fail-fast: a missing entry is an
// error for the whole run, never a defaulted value, because a wrong margin or
// rebalancing figure is a financial-correctness defect.
//
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and a static in-memory source for testing.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
)

// ErrNotFound is returned when reference data is missing for a lookup key.
var ErrNotFound = errors.New("refdata: not found")

// MarginRatioScale is the decimal scale of a required margin ratio.
const MarginRatioScale = 2

// Source resolves reference data for a business date.
type Source interface {
	// SettlementPrice returns the pair's daily settlement price on the given
	// date, stamped onto persisted trades and positions.
	SettlementPrice(ctx context.Context, date time.Time, pair model.CurrencyPair) (decimal.Decimal, error)

	// ValuationRate returns the rate converting one unit of the pair's base
	// currency into the valuation currency on the given date.
	ValuationRate(ctx context.Context, date time.Time, pair model.CurrencyPair) (decimal.Decimal, error)

	// MarginRatio returns the required margin ratio in percent for a
	// participant's positions in a pair: base ratio times the participant's
	// multiplier, rounded up to MarginRatioScale places.
	MarginRatio(ctx context.Context, date time.Time, pair model.CurrencyPair, participant model.Participant) (decimal.Decimal, error)

	// ValueDate returns the settlement value date for trades dealt on the
	// given trade date in the given pair.
	ValueDate(ctx context.Context, date time.Time, pair model.CurrencyPair) (time.Time, error)
}

// requiredRatio combines a base ratio with a participant multiplier.
// Ceiling rounding: the clearing house never under-margins.
func requiredRatio(base, multiplier decimal.Decimal) decimal.Decimal {
	return multiplier.Mul(base).RoundCeil(MarginRatioScale)
}

// Bound adapts a Source to the engine's per-lookup capability interfaces by
// fixing the context and business date.
type Bound struct {
	Source Source
	Ctx    context.Context
	Date   time.Time
}

func (b Bound) ValuationRate(pair model.CurrencyPair) (decimal.Decimal, error) {
	return b.Source.ValuationRate(b.Ctx, b.Date, pair)
}

func (b Bound) RequiredMarginRatio(pair model.CurrencyPair, participant model.Participant) (decimal.Decimal, error) {
	return b.Source.MarginRatio(b.Ctx, b.Date, pair, participant)
}

// Static is an in-memory Source for tests and development. Keys are pair
// symbols; ratios additionally key by participant code.
type Static struct {
	Prices      map[string]decimal.Decimal            // symbol → daily settlement price
	Rates       map[string]decimal.Decimal            // symbol → base→valuation rate
	BaseRatios  map[string]decimal.Decimal            // symbol → base ratio %
	Multipliers map[string]map[string]decimal.Decimal // symbol → code → multiplier
	ValueDates  map[string]time.Time                  // symbol → value date
}

func (s *Static) SettlementPrice(_ context.Context, _ time.Time, pair model.CurrencyPair) (decimal.Decimal, error) {
	price, ok := s.Prices[pair.Symbol()]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: settlement price for %s", ErrNotFound, pair.Symbol())
	}
	return price, nil
}

func (s *Static) ValuationRate(_ context.Context, _ time.Time, pair model.CurrencyPair) (decimal.Decimal, error) {
	rate, ok := s.Rates[pair.Symbol()]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: valuation rate for %s", ErrNotFound, pair.Symbol())
	}
	return rate, nil
}

func (s *Static) MarginRatio(_ context.Context, _ time.Time, pair model.CurrencyPair, participant model.Participant) (decimal.Decimal, error) {
	base, ok := s.BaseRatios[pair.Symbol()]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: margin ratio for %s", ErrNotFound, pair.Symbol())
	}
	mult, ok := s.Multipliers[pair.Symbol()][participant.Code]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: margin ratio multiplier for %s/%s", ErrNotFound, pair.Symbol(), participant.Code)
	}
	return requiredRatio(base, mult), nil
}

func (s *Static) ValueDate(_ context.Context, _ time.Time, pair model.CurrencyPair) (time.Time, error) {
	vd, ok := s.ValueDates[pair.Symbol()]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: value date for %s", ErrNotFound, pair.Symbol())
	}
	return vd, nil
}
