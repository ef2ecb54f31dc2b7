package netting

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func participant(code string) model.Participant {
	return model.Participant{Code: code}
}

func TestExpandProducesTwoLegsPerTrade(t *testing.T) {
	pair := model.CurrencyPair{Base: "USD", Value: "JPY"}
	legs := Expand(pair, []model.BalanceTrade{{
		Originator:   participant("A"),
		Counterparty: participant("C"),
		Amount:       d("-100"),
	}})

	if len(legs) != 2 {
		t.Fatalf("got %d legs, want 2", len(legs))
	}
	if legs[0].Participant.Code != "A" || !legs[0].Amount.Equal(d("-100")) {
		t.Errorf("originator leg = %s/%s, want A/-100", legs[0].Participant.Code, legs[0].Amount)
	}
	if legs[1].Participant.Code != "C" || !legs[1].Amount.Equal(d("100")) {
		t.Errorf("counterparty leg = %s/%s, want C/100", legs[1].Participant.Code, legs[1].Amount)
	}
}

func TestNetSumsRebalancingTrades(t *testing.T) {
	pair := model.CurrencyPair{Base: "USD", Value: "JPY"}
	trades := []model.BalanceTrade{
		{Originator: participant("A"), Counterparty: participant("C"), Amount: d("-100")},
		{Originator: participant("B"), Counterparty: participant("C"), Amount: d("-20")},
		{Originator: participant("B"), Counterparty: participant("D"), Amount: d("-30")},
	}

	netted := Net(Expand(pair, trades))

	want := []struct {
		code   string
		amount string
	}{
		{"A", "-100"},
		{"B", "-50"},
		{"C", "120"},
		{"D", "30"},
	}
	if len(netted) != len(want) {
		t.Fatalf("got %d netted legs, want %d", len(netted), len(want))
	}
	for i, w := range want {
		if netted[i].Participant.Code != w.code || !netted[i].Amount.Equal(d(w.amount)) {
			t.Errorf("netted[%d] = %s/%s, want %s/%s",
				i, netted[i].Participant.Code, netted[i].Amount, w.code, w.amount)
		}
	}
}

func TestNetOrdersByPairThenCode(t *testing.T) {
	usdjpy := model.CurrencyPair{Base: "USD", Value: "JPY"}
	eurjpy := model.CurrencyPair{Base: "EUR", Value: "JPY"}

	netted := Net([]Leg{
		{Participant: participant("B"), CurrencyPair: usdjpy, Amount: d("1")},
		{Participant: participant("A"), CurrencyPair: usdjpy, Amount: d("2")},
		{Participant: participant("Z"), CurrencyPair: eurjpy, Amount: d("3")},
	})

	got := make([]string, len(netted))
	for i, leg := range netted {
		got[i] = leg.CurrencyPair.Symbol() + "/" + leg.Participant.Code
	}
	want := []string{"EURJPY/Z", "USDJPY/A", "USDJPY/B"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestNetCollapsesOffsettingLegs(t *testing.T) {
	pair := model.CurrencyPair{Base: "USD", Value: "JPY"}
	netted := Net([]Leg{
		{Participant: participant("A"), CurrencyPair: pair, Amount: d("50")},
		{Participant: participant("A"), CurrencyPair: pair, Amount: d("-50")},
	})

	if len(netted) != 1 || !netted[0].Amount.IsZero() {
		t.Fatalf("got %+v, want single zero leg for A", netted)
	}
}

func TestExposuresProjection(t *testing.T) {
	pair := model.CurrencyPair{Base: "USD", Value: "JPY"}
	exposures := Exposures([]Leg{
		{Participant: participant("A"), CurrencyPair: pair, Amount: d("7")},
	})

	if len(exposures) != 1 || exposures[0].Participant.Code != "A" || !exposures[0].Amount.Equal(d("7")) {
		t.Fatalf("got %+v, want A/7", exposures)
	}
}
