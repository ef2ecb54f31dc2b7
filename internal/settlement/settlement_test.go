package settlement

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
	"github.com/fxclear/eod-engine/internal/netting"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func participant(code string) model.Participant {
	return model.Participant{Code: code}
}

var (
	usdjpy       = model.CurrencyPair{Base: "USD", Value: "JPY"}
	businessDate = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
)

type staticRates map[string]string

func (s staticRates) ValuationRate(pair model.CurrencyPair) (decimal.Decimal, error) {
	v, ok := s[pair.Symbol()]
	if !ok {
		return decimal.Decimal{}, errors.New("no valuation rate for " + pair.Symbol())
	}
	return d(v), nil
}

type staticRatios map[string]string

func (s staticRatios) RequiredMarginRatio(pair model.CurrencyPair, p model.Participant) (decimal.Decimal, error) {
	v, ok := s[pair.Symbol()+"/"+p.Code]
	if !ok {
		return decimal.Decimal{}, errors.New("no margin ratio for " + pair.Symbol() + "/" + p.Code)
	}
	return d(v), nil
}

func product(code string, stype model.SettlementType, amount string, settles time.Time) model.ProductCashSettlement {
	return model.ProductCashSettlement{
		Participant:    participant(code),
		CurrencyPair:   usdjpy,
		Type:           stype,
		Amount:         d(amount),
		SettlementDate: settles,
	}
}

func TestAggregateCashSettlementBuckets(t *testing.T) {
	records := []model.ProductCashSettlement{
		product("A", model.SettlementDailyMTM, "-50000", businessDate),
		product("A", model.SettlementDailyMTM, "-10000", businessDate.AddDate(0, 0, 3)),
		product("A", model.SettlementSwapPnL, "3000", businessDate),
		product("B", model.SettlementInitialMTM, "200", businessDate.AddDate(0, 0, 4)),
	}

	got := AggregateCashSettlement(records, businessDate)

	want := []struct {
		code   string
		stype  model.SettlementType
		bucket model.DateBucket
		amount string
	}{
		{"A", model.SettlementDailyMTM, model.BucketDay, "-50000"},
		{"A", model.SettlementDailyMTM, model.BucketFollowing, "-10000"},
		{"A", model.SettlementDailyMTM, model.BucketTotal, "-60000"},
		{"A", model.SettlementSwapPnL, model.BucketDay, "3000"},
		{"A", model.SettlementSwapPnL, model.BucketTotal, "3000"},
		{"B", model.SettlementInitialMTM, model.BucketFollowing, "200"},
		{"B", model.SettlementInitialMTM, model.BucketTotal, "200"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Participant.Code != w.code || g.Type != w.stype || g.Bucket != w.bucket || !g.Amount.Equal(d(w.amount)) {
			t.Errorf("row[%d] = %s/%s/%s/%s, want %s/%s/%s/%s",
				i, g.Participant.Code, g.Type, g.Bucket, g.Amount, w.code, w.stype, w.bucket, w.amount)
		}
	}
}

func TestAggregateDayAndTotal(t *testing.T) {
	records := []model.ProductCashSettlement{
		product("A", model.SettlementDailyMTM, "-50000", businessDate),
		product("A", model.SettlementSwapPnL, "3000", businessDate),
		product("A", model.SettlementDailyMTM, "-10000", businessDate.AddDate(0, 0, 3)),
		product("B", model.SettlementInitialMTM, "200", businessDate.AddDate(0, 0, 4)),
	}

	dayTotal := AggregateDayAndTotal(AggregateCashSettlement(records, businessDate))

	a := dayTotal["A"]
	if !a.Day.Equal(d("-47000")) || !a.Total.Equal(d("-57000")) {
		t.Errorf("A day/total = %s/%s, want -47000/-57000", a.Day, a.Total)
	}
	b := dayTotal["B"]
	if !b.Day.IsZero() || !b.Total.Equal(d("200")) {
		t.Errorf("B day/total = %s/%s, want 0/200", b.Day, b.Total)
	}
}

func TestRequiredInitialMarginRoundsUpAfterSumming(t *testing.T) {
	// Two positions of 49.4 each sum to 98.8 before the single ceiling
	// rounding, so the result is 99 rather than 50+50.
	positions := []netting.Leg{
		{Participant: participant("A"), CurrencyPair: usdjpy, Amount: d("1000")},
		{Participant: participant("A"), CurrencyPair: usdjpy, Amount: d("-1000")},
	}
	ratios := staticRatios{"USDJPY/A": "4.94"}
	rates := staticRates{"USDJPY": "1"}

	required, err := RequiredInitialMargin(positions, ratios, rates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !required["A"].Amount.Equal(d("99")) {
		t.Fatalf("required margin = %s, want 99", required["A"].Amount)
	}
}

func TestRequiredInitialMarginConvertsToValuationCurrency(t *testing.T) {
	positions := []netting.Leg{
		{Participant: participant("A"), CurrencyPair: usdjpy, Amount: d("10000000")},
	}
	ratios := staticRatios{"USDJPY/A": "4"}
	rates := staticRates{"USDJPY": "150"}

	required, err := RequiredInitialMargin(positions, ratios, rates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !required["A"].Amount.Equal(d("60000000")) {
		t.Fatalf("required margin = %s, want 60000000", required["A"].Amount)
	}
}

func TestRequiredInitialMarginSkipsZeroPositions(t *testing.T) {
	positions := []netting.Leg{
		{Participant: participant("A"), CurrencyPair: usdjpy, Amount: decimal.Zero},
	}

	required, err := RequiredInitialMargin(positions, staticRatios{}, staticRates{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(required) != 0 {
		t.Fatalf("got %d entries, want none for zero positions", len(required))
	}
}

func TestRequiredInitialMarginFailsOnMissingRatio(t *testing.T) {
	positions := []netting.Leg{
		{Participant: participant("A"), CurrencyPair: usdjpy, Amount: d("1000")},
	}

	_, err := RequiredInitialMargin(positions, staticRatios{}, staticRates{"USDJPY": "1"})
	if err == nil {
		t.Fatal("expected error for missing margin ratio")
	}
}

func TestDepositsApplyHaircut(t *testing.T) {
	balances := []model.CollateralBalance{
		{Participant: participant("A"), Purpose: model.PurposeMargin, Security: "JGB", Amount: d("2000"), Haircut: d("0.95")},
		{Participant: participant("A"), Purpose: model.PurposeMargin, Security: "CASH", Amount: d("100"), Haircut: d("1")},
	}

	deposits := Deposits(balances, HaircutValuer{})
	if !deposits["A"].Amount.Equal(d("2000")) {
		t.Fatalf("deposit = %s, want 2000", deposits["A"].Amount)
	}
}

func TestParticipantMarginsExcessDeficiency(t *testing.T) {
	required := map[string]ParticipantAmount{
		"A": {Participant: participant("A"), Amount: d("1000000")},
	}
	cash := map[string]DayAndTotal{
		"A": {Participant: participant("A"), Day: d("-50000"), Total: d("-50000")},
	}
	deposits := map[string]ParticipantAmount{
		"A": {Participant: participant("A"), Amount: d("900000")},
	}

	rows := ParticipantMargins(businessDate, required, cash, deposits)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if !rows[0].ExcessDeficiency.Equal(d("-150000")) {
		t.Fatalf("excess/deficiency = %s, want -150000", rows[0].ExcessDeficiency)
	}
}

func TestParticipantMarginsSkipsIdleParticipants(t *testing.T) {
	required := map[string]ParticipantAmount{
		"B": {Participant: participant("B"), Amount: d("100")},
	}
	cash := map[string]DayAndTotal{
		"A": {Participant: participant("A"), Total: d("10")},
	}
	// Z holds collateral but has neither a requirement nor a settlement.
	deposits := map[string]ParticipantAmount{
		"Z": {Participant: participant("Z"), Amount: d("999")},
	}

	rows := ParticipantMargins(businessDate, required, cash, deposits)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Participant.Code != "A" || rows[1].Participant.Code != "B" {
		t.Fatalf("row order %s, %s; want A, B", rows[0].Participant.Code, rows[1].Participant.Code)
	}
}

func TestParticipantMarginsEmpty(t *testing.T) {
	if rows := ParticipantMargins(businessDate, nil, nil, nil); rows != nil {
		t.Fatalf("got %+v, want no rows", rows)
	}
}
