package eod

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
	"github.com/fxclear/eod-engine/internal/refdata"
	"github.com/fxclear/eod-engine/internal/store"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func participant(code string) model.Participant {
	return model.Participant{Code: code}
}

var usdjpy = model.CurrencyPair{Base: "USD", Value: "JPY"}

func testRefdata(businessDate time.Time) *refdata.Static {
	one := decimal.NewFromInt(1)
	return &refdata.Static{
		Prices:     map[string]decimal.Decimal{"USDJPY": d("150")},
		Rates:      map[string]decimal.Decimal{"USDJPY": d("150")},
		BaseRatios: map[string]decimal.Decimal{"USDJPY": d("4")},
		Multipliers: map[string]map[string]decimal.Decimal{
			"USDJPY": {"A": one, "B": one, "C": one, "D": one},
		},
		ValueDates: map[string]time.Time{"USDJPY": businessDate.AddDate(0, 0, 2)},
	}
}

func netPosition(code, amount string, date time.Time) model.NetPosition {
	return model.NetPosition{
		Participant:  participant(code),
		CurrencyPair: usdjpy,
		Amount:       d(amount),
		Type:         model.PositionNet,
		TradeDate:    date,
	}
}

func TestRunFullCycle(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	st := store.NewMemoryStore()
	st.SeedPositions(
		netPosition("A", "100", date),
		netPosition("B", "50", date),
		netPosition("C", "-120", date),
		netPosition("D", "-30", date),
	)
	st.SeedCashSettlements(model.ProductCashSettlement{
		Participant:    participant("A"),
		CurrencyPair:   usdjpy,
		Type:           model.SettlementDailyMTM,
		Amount:         d("-50000"),
		SettlementDate: date,
	})
	st.SeedCollateral(model.CollateralBalance{
		Participant: participant("A"),
		Purpose:     model.PurposeMargin,
		Security:    "CASH",
		Amount:      d("2000"),
		Haircut:     d("0.5"),
	})

	svc := NewService(st, testRefdata(date), Config{RoundingExponent: 0}, nil)

	summary, err := svc.Run(ctx, date)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.CurrencyPairs != 1 {
		t.Errorf("currency pairs = %d, want 1", summary.CurrencyPairs)
	}
	if summary.BalanceTrades != 3 {
		t.Errorf("balance trades = %d, want 3", summary.BalanceTrades)
	}
	if summary.MarginRows != 4 {
		t.Errorf("margin rows = %d, want 4", summary.MarginRows)
	}

	trades, err := st.FindTrades(ctx, date)
	if err != nil {
		t.Fatalf("find trades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(trades))
	}
	first := trades[0]
	if first.Originator.Code != "A" || first.Counterparty.Code != "C" || !first.Amount.Equal(d("-100")) {
		t.Errorf("first trade = %s/%s/%s, want A/C/-100",
			first.Originator.Code, first.Counterparty.Code, first.Amount)
	}
	if first.ID == "" {
		t.Error("trade ID not assigned")
	}
	if !first.Rate.Equal(d("150")) {
		t.Errorf("trade rate = %s, want 150", first.Rate)
	}
	if !first.ValueDate.Equal(date.AddDate(0, 0, 2)) {
		t.Errorf("trade value date = %s, want %s", first.ValueDate, date.AddDate(0, 0, 2))
	}

	positions, err := st.FindNetAndRebalancingPositions(ctx, date)
	if err != nil {
		t.Fatalf("find positions: %v", err)
	}
	if len(positions) != 8 {
		t.Fatalf("got %d positions, want 4 net + 4 rebalancing", len(positions))
	}
	for _, p := range positions {
		if p.Type != model.PositionRebalancing || p.Participant.Code != "A" {
			continue
		}
		if !p.Amount.Equal(d("-100")) {
			t.Errorf("rebalancing position for A = %s, want -100", p.Amount)
		}
	}

	margins, err := st.FindParticipantMargins(ctx, date)
	if err != nil {
		t.Fatalf("find margins: %v", err)
	}
	if len(margins) != 4 {
		t.Fatalf("got %d margin rows, want 4", len(margins))
	}

	// A holds 100 net and -100 rebalancing: margin is 100*150*4% twice.
	a := margins[0]
	if a.Participant.Code != "A" {
		t.Fatalf("first margin row is %s, want A", a.Participant.Code)
	}
	if !a.RequiredMargin.Equal(d("1200")) {
		t.Errorf("required margin = %s, want 1200", a.RequiredMargin)
	}
	if !a.DayCashSettlement.Equal(d("-50000")) || !a.TotalCashSettlement.Equal(d("-50000")) {
		t.Errorf("cash settlement day/total = %s/%s, want -50000/-50000",
			a.DayCashSettlement, a.TotalCashSettlement)
	}
	if !a.Deposit.Equal(d("1000")) {
		t.Errorf("deposit = %s, want 1000", a.Deposit)
	}
	if !a.ExcessDeficiency.Equal(d("-50200")) {
		t.Errorf("excess/deficiency = %s, want -50200", a.ExcessDeficiency)
	}
	if a.ID == "" {
		t.Error("margin row ID not assigned")
	}

	b := margins[1]
	if b.Participant.Code != "B" || !b.RequiredMargin.Equal(d("600")) {
		t.Errorf("second row = %s/%s, want B/600", b.Participant.Code, b.RequiredMargin)
	}
}

func TestRunEmptyBusinessDate(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	svc := NewService(store.NewMemoryStore(), &refdata.Static{}, Config{}, nil)

	summary, err := svc.Run(context.Background(), date)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.BalanceTrades != 0 || summary.MarginRows != 0 {
		t.Fatalf("summary = %+v, want empty run", summary)
	}
}

func TestRunFailsOnMissingReferenceData(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	st.SeedPositions(netPosition("A", "100", date), netPosition("C", "-100", date))

	svc := NewService(st, &refdata.Static{}, Config{}, nil)

	_, err := svc.Run(context.Background(), date)
	if err == nil {
		t.Fatal("expected error for missing settlement price")
	}
	if !strings.Contains(err.Error(), "rebalance step") {
		t.Fatalf("err = %v, want rebalance step failure", err)
	}
}

func TestHandleRunRejectsBadDate(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), &refdata.Static{}, Config{}, nil)

	req := httptest.NewRequest("POST", "/api/v1/eod/runs", strings.NewReader(`{"business_date":"14-03-2025"}`))
	rec := httptest.NewRecorder()
	svc.HandleRun(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTradesRequiresDate(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), &refdata.Static{}, Config{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/eod/trades", nil)
	rec := httptest.NewRecorder()
	svc.HandleTrades(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTradesEmptyIsJSONArray(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), &refdata.Static{}, Config{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/eod/trades?date=2025-03-14", nil)
	rec := httptest.NewRecorder()
	svc.HandleTrades(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("body = %q, want []", body)
	}
}
