// Package rebalance implements the end-of-day position rebalancing algorithm:
// a deterministic greedy matcher that converts signed per-participant net
// exposures in one currency pair into a small set of synthetic bilateral
// balancing trades.
//
// All monetary values use shopspring/decimal — never float64 for money.
//
// The algorithm is a heuristic, not an optimal matcher: the smaller side's
// magnitude is distributed proportionally across the larger side's largest
// exposures, floored to a coarse granularity, and the rounding leftover is
// closed out by a separate residual pass.
package rebalance

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
)

// Side is an ordered collection of non-zero exposures sharing the same
// individual sign, with a cached net total. Either side of a Balance may be
// empty (net zero).
type Side struct {
	exposures []model.SignedExposure
	net       decimal.Decimal
}

// Exposures returns the side's members in construction order.
func (s Side) Exposures() []model.SignedExposure { return s.exposures }

// Net returns the cached sum of the members' amounts.
func (s Side) Net() decimal.Decimal { return s.net }

// Balance is the buy/sell partition of one currency pair's exposures at one
// instant. Values are immutable after construction: Rebalance and
// AllocateResidual read the receiver, ApplyTrades returns a fresh Balance.
type Balance struct {
	sell Side
	buy  Side
}

// Sell returns the negative-sign side.
func (b Balance) Sell() Side { return b.sell }

// Buy returns the positive-sign side.
func (b Balance) Buy() Side { return b.buy }

// Imbalance returns buy.net - |sell.net|, the unmatched magnitude between the
// two sides.
func (b Balance) Imbalance() decimal.Decimal {
	return b.buy.net.Sub(b.sell.net.Abs())
}

// Of partitions exposures into a Balance. Zero amounts are dropped; the
// remaining entries are grouped by the sign of their own amount (positive →
// buy, negative → sell) and merged per group in encounter order.
func Of(exposures []model.SignedExposure) Balance {
	var b Balance
	for _, e := range exposures {
		if e.Amount.IsZero() {
			continue
		}
		if e.Amount.IsPositive() {
			b.buy.exposures = append(b.buy.exposures, e)
			b.buy.net = b.buy.net.Add(e.Amount)
		} else {
			b.sell.exposures = append(b.sell.exposures, e)
			b.sell.net = b.sell.net.Add(e.Amount)
		}
	}
	return b
}

// ApplyTrades folds balance trades back into the exposures and returns the
// resulting Balance. Each trade contributes +amount to its originator and
// -amount to its counterparty; participants not present in the receiver are
// ignored. The receiver is not mutated.
func (b Balance) ApplyTrades(trades []model.BalanceTrade) Balance {
	deltas := make(map[string]decimal.Decimal, len(trades)*2)
	for _, t := range trades {
		deltas[t.Originator.Code] = deltas[t.Originator.Code].Add(t.Amount)
		deltas[t.Counterparty.Code] = deltas[t.Counterparty.Code].Sub(t.Amount)
	}

	updated := make([]model.SignedExposure, 0, len(b.sell.exposures)+len(b.buy.exposures))
	for _, e := range append(append([]model.SignedExposure{}, b.sell.exposures...), b.buy.exposures...) {
		updated = append(updated, model.SignedExposure{
			Participant: e.Participant,
			Amount:      e.Amount.Add(deltas[e.Participant.Code]),
		})
	}
	return Of(updated)
}

// Rebalance distributes the smaller side's magnitude proportionally across
// the larger side's exposures, largest first, with each proportional demand
// floored to 10^roundingExponent (e.g. 3 → nearest 1000). Emitted amounts are
// expressed from the seller's perspective: negated when buy is the larger
// side, kept as-is otherwise. On an exact net tie the buy side is treated as
// the larger one.
//
// Because demands are floored, the trades cover slightly less than the true
// proportional total; AllocateResidual closes the leftover.
func (b Balance) Rebalance(roundingExponent int32) []model.BalanceTrade {
	if b.buy.net.Cmp(b.sell.net.Abs()) >= 0 {
		return b.rebalance(b.buy, b.sell, roundingExponent, decimal.Decimal.Neg)
	}
	return b.rebalance(b.sell, b.buy, roundingExponent, identity)
}

// AllocateResidual assigns the leftover imbalance that flooring left behind.
// Only the single largest exposure on the larger side is drained, walking the
// smaller side's exposures largest first; if they are exhausted before the
// leftover reaches zero the remainder is silently truncated.
func (b Balance) AllocateResidual() []model.BalanceTrade {
	if b.buy.net.Cmp(b.sell.net.Abs()) >= 0 {
		return b.allocateResidual(b.buy, b.sell, decimal.Decimal.Neg)
	}
	return b.allocateResidual(b.sell, b.buy, identity)
}

func (b Balance) rebalance(from, to Side, roundingExponent int32, adjust func(decimal.Decimal) decimal.Decimal) []model.BalanceTrade {
	if len(from.exposures) > 0 && from.net.IsZero() {
		panic("rebalance: larger side has exposures but zero net")
	}

	slicer := NewSlicer(
		sortedByAmountAndCode(to.exposures),
		func(e model.SignedExposure) decimal.Decimal { return e.Amount.Abs() },
		byCode,
	)

	toNet := to.net.Abs()
	fromNet := from.net.Abs()

	var trades []model.BalanceTrade
	for _, position := range sortedByAmountAndCode(from.exposures) {
		demand := position.Amount.Abs().
			Mul(toNet).
			Div(fromNet).
			RoundFloor(-roundingExponent)

		for _, slice := range slicer.Produce(demand) {
			trades = append(trades, model.BalanceTrade{
				Originator:   position.Participant,
				Counterparty: slice.Item.Participant,
				Amount:       adjust(slice.Amount),
			})
		}
	}
	return trades
}

func (b Balance) allocateResidual(from, to Side, adjust func(decimal.Decimal) decimal.Decimal) []model.BalanceTrade {
	fromSorted := sortedByAmountAndCode(from.exposures)
	if len(fromSorted) == 0 {
		return nil
	}

	origin := fromSorted[0]
	leftover := origin.Amount.Abs()

	var trades []model.BalanceTrade
	for _, target := range sortedByAmountAndCode(to.exposures) {
		if !leftover.IsPositive() {
			break
		}
		allocated := target.Amount.Abs()
		if allocated.GreaterThan(leftover) {
			allocated = leftover
		}
		trades = append(trades, model.BalanceTrade{
			Originator:   origin.Participant,
			Counterparty: target.Participant,
			Amount:       adjust(allocated),
		})
		leftover = leftover.Sub(allocated)
	}
	return trades
}

// sortedByAmountAndCode returns a copy ordered descending by absolute amount,
// ties broken ascending by participant code. Every sort and priority point in
// the algorithm uses this ordering so that equal inputs yield byte-identical
// trade sequences.
func sortedByAmountAndCode(exposures []model.SignedExposure) []model.SignedExposure {
	sorted := append([]model.SignedExposure{}, exposures...)
	sort.SliceStable(sorted, func(i, j int) bool {
		switch sorted[i].Amount.Abs().Cmp(sorted[j].Amount.Abs()) {
		case 1:
			return true
		case -1:
			return false
		default:
			return sorted[i].Participant.Code < sorted[j].Participant.Code
		}
	})
	return sorted
}

func byCode(a, b model.SignedExposure) bool {
	return a.Participant.Code < b.Participant.Code
}

func identity(d decimal.Decimal) decimal.Decimal { return d }
