// Package netting folds directional trade legs into net per-participant,
// per-currency-pair positions. Pure aggregation with no ordering dependency
// on the input; output order is deterministic.
package netting

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
)

// Leg is one side of a trade: the signed amount attributed to a participant
// in a currency pair. A balance trade expands to two legs: the originator's
// amount and the counterparty's negation.
type Leg struct {
	Participant  model.Participant
	CurrencyPair model.CurrencyPair
	Amount       decimal.Decimal
}

// Expand converts balance trades in one currency pair into their directional
// legs.
func Expand(pair model.CurrencyPair, trades []model.BalanceTrade) []Leg {
	legs := make([]Leg, 0, len(trades)*2)
	for _, t := range trades {
		legs = append(legs,
			Leg{Participant: t.Originator, CurrencyPair: pair, Amount: t.Amount},
			Leg{Participant: t.Counterparty, CurrencyPair: pair, Amount: t.Amount.Neg()},
		)
	}
	return legs
}

// Net groups legs by (participant, currency pair) and sums their signed
// amounts. Results are ordered by pair symbol, then participant code.
func Net(legs []Leg) []Leg {
	type key struct {
		pair string
		code string
	}

	totals := make(map[key]decimal.Decimal)
	idents := make(map[key]Leg)
	for _, leg := range legs {
		k := key{pair: leg.CurrencyPair.Symbol(), code: leg.Participant.Code}
		totals[k] = totals[k].Add(leg.Amount)
		idents[k] = leg
	}

	keys := make([]key, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].pair != keys[j].pair {
			return keys[i].pair < keys[j].pair
		}
		return keys[i].code < keys[j].code
	})

	out := make([]Leg, 0, len(keys))
	for _, k := range keys {
		leg := idents[k]
		leg.Amount = totals[k]
		out = append(out, leg)
	}
	return out
}

// Exposures projects netted legs for a single currency pair onto the signed
// exposures the rebalancing balance is built from.
func Exposures(legs []Leg) []model.SignedExposure {
	out := make([]model.SignedExposure, 0, len(legs))
	for _, leg := range legs {
		out = append(out, model.SignedExposure{Participant: leg.Participant, Amount: leg.Amount})
	}
	return out
}
