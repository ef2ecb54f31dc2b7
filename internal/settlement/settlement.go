// Package settlement aggregates per-participant margin and cash-settlement
// figures for one business date: required initial margin from positions,
// cash settlement by date bucket, deposit contributions from pledged
// collateral, and the derived excess/deficiency.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Reference data (rates, ratios) arrives through narrow capability
// interfaces implemented by the orchestration layer; a missing rate or ratio
// is a fatal error for the run, never silently defaulted.
package settlement

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
	"github.com/fxclear/eod-engine/internal/netting"
)

// RateSource resolves the rate converting one unit of a pair's base currency
// into the valuation currency.
type RateSource interface {
	ValuationRate(pair model.CurrencyPair) (decimal.Decimal, error)
}

// RatioSource resolves the required margin ratio, in percent, for a
// participant's positions in a currency pair.
type RatioSource interface {
	RequiredMarginRatio(pair model.CurrencyPair, participant model.Participant) (decimal.Decimal, error)
}

// CollateralValuer evaluates a pledged collateral balance into the amount it
// contributes toward margin requirements.
type CollateralValuer interface {
	EvaluatedAmount(balance model.CollateralBalance) decimal.Decimal
}

// ParticipantAmount pairs a participant with an aggregated amount.
type ParticipantAmount struct {
	Participant model.Participant
	Amount      decimal.Decimal
}

// DayAndTotal is the per-participant cash settlement roll-up across types:
// the day bucket and the total across all outstanding settlement dates.
type DayAndTotal struct {
	Participant model.Participant
	Day         decimal.Decimal
	Total       decimal.Decimal
}

var oneHundred = decimal.NewFromInt(100)

// AggregateCashSettlement groups product cash settlements by (participant,
// settlement type, date bucket) and sums the amounts. Every record counts
// toward TOTAL; records settling on the business date count toward DAY,
// later ones toward FOLLOWING. Output is ordered by participant code,
// settlement type, then bucket.
func AggregateCashSettlement(records []model.ProductCashSettlement, businessDate time.Time) []model.CashSettlement {
	type key struct {
		code   string
		stype  model.SettlementType
		bucket model.DateBucket
	}

	totals := make(map[key]decimal.Decimal)
	idents := make(map[string]model.Participant)

	add := func(r model.ProductCashSettlement, bucket model.DateBucket) {
		k := key{code: r.Participant.Code, stype: r.Type, bucket: bucket}
		totals[k] = totals[k].Add(r.Amount)
	}

	for _, r := range records {
		idents[r.Participant.Code] = r.Participant
		add(r, model.BucketTotal)
		if sameDay(r.SettlementDate, businessDate) {
			add(r, model.BucketDay)
		} else {
			add(r, model.BucketFollowing)
		}
	}

	keys := make([]key, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].code != keys[j].code {
			return keys[i].code < keys[j].code
		}
		if keys[i].stype != keys[j].stype {
			return keys[i].stype < keys[j].stype
		}
		return keys[i].bucket < keys[j].bucket
	})

	out := make([]model.CashSettlement, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.CashSettlement{
			Participant: idents[k.code],
			Type:        k.stype,
			Bucket:      k.bucket,
			Amount:      totals[k],
		})
	}
	return out
}

// AggregateDayAndTotal rolls aggregated cash settlements up to one day/total
// figure per participant, summed across settlement types.
func AggregateDayAndTotal(settlements []model.CashSettlement) map[string]DayAndTotal {
	out := make(map[string]DayAndTotal)
	for _, s := range settlements {
		dt := out[s.Participant.Code]
		dt.Participant = s.Participant
		switch s.Bucket {
		case model.BucketDay:
			dt.Day = dt.Day.Add(s.Amount)
		case model.BucketTotal:
			dt.Total = dt.Total.Add(s.Amount)
		}
		out[s.Participant.Code] = dt
	}
	return out
}

// RequiredInitialMargin computes each participant's required initial margin
// from net and rebalancing positions: per position, |amount| converted to the
// valuation currency times the margin ratio, summed per participant and
// rounded up to a whole unit. A missing rate or ratio fails the whole
// computation.
func RequiredInitialMargin(positions []netting.Leg, ratios RatioSource, rates RateSource) (map[string]ParticipantAmount, error) {
	out := make(map[string]ParticipantAmount)
	for _, p := range positions {
		if p.Amount.IsZero() {
			continue
		}
		ratio, err := ratios.RequiredMarginRatio(p.CurrencyPair, p.Participant)
		if err != nil {
			return nil, fmt.Errorf("margin ratio for %s/%s: %w", p.CurrencyPair.Symbol(), p.Participant.Code, err)
		}
		rate, err := rates.ValuationRate(p.CurrencyPair)
		if err != nil {
			return nil, fmt.Errorf("valuation rate for %s: %w", p.CurrencyPair.Symbol(), err)
		}

		margin := p.Amount.Abs().Mul(rate).Mul(ratio).Div(oneHundred)

		pa := out[p.Participant.Code]
		pa.Participant = p.Participant
		pa.Amount = pa.Amount.Add(margin)
		out[p.Participant.Code] = pa
	}

	for code, pa := range out {
		pa.Amount = pa.Amount.RoundCeil(0)
		out[code] = pa
	}
	return out, nil
}

// Deposits evaluates pledged collateral balances into per-participant deposit
// contributions.
func Deposits(balances []model.CollateralBalance, valuer CollateralValuer) map[string]ParticipantAmount {
	out := make(map[string]ParticipantAmount)
	for _, b := range balances {
		pa := out[b.Participant.Code]
		pa.Participant = b.Participant
		pa.Amount = pa.Amount.Add(valuer.EvaluatedAmount(b))
		out[b.Participant.Code] = pa
	}
	return out
}

// RequiringParticipants returns the participants that have either a margin
// requirement or a cash settlement entry, the only ones whose collateral is
// worth evaluating. Participants with neither are skipped entirely.
func RequiringParticipants(margin map[string]ParticipantAmount, cash map[string]DayAndTotal) map[string]model.Participant {
	out := make(map[string]model.Participant, len(margin)+len(cash))
	for code, pa := range margin {
		out[code] = pa.Participant
	}
	for code, dt := range cash {
		out[code] = dt.Participant
	}
	return out
}

// ParticipantMargins derives the final per-participant margin rows. The
// excess/deficiency is deposits plus total cash settlement minus required
// initial margin; its sign indicates surplus (>= 0) or shortfall (< 0).
// Output is ordered by participant code. An empty participant set is valid
// and produces no rows, with a warning for operator visibility.
func ParticipantMargins(
	businessDate time.Time,
	margin map[string]ParticipantAmount,
	cash map[string]DayAndTotal,
	deposits map[string]ParticipantAmount,
) []model.ParticipantMargin {
	participants := RequiringParticipants(margin, cash)
	if len(participants) == 0 {
		slog.Warn("no participants with margin or cash settlement entries",
			"business_date", businessDate.Format("2006-01-02"))
		return nil
	}

	codes := make([]string, 0, len(participants))
	for code := range participants {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]model.ParticipantMargin, 0, len(codes))
	for _, code := range codes {
		required := margin[code].Amount
		dt := cash[code]
		deposit := deposits[code].Amount

		out = append(out, model.ParticipantMargin{
			Participant:         participants[code],
			BusinessDate:        businessDate,
			RequiredMargin:      required,
			DayCashSettlement:   dt.Day,
			TotalCashSettlement: dt.Total,
			Deposit:             deposit,
			ExcessDeficiency:    deposit.Add(dt.Total).Sub(required),
		})
	}
	return out
}

// HaircutValuer values collateral as amount × haircut, the evaluated-amount
// rule used for cash-like margin collateral.
type HaircutValuer struct{}

func (HaircutValuer) EvaluatedAmount(b model.CollateralBalance) decimal.Decimal {
	return b.Amount.Mul(b.Haircut)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
