package rebalance

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type lot struct {
	code string
	qty  decimal.Decimal
}

func newLotSlicer(lots ...lot) *Slicer[lot] {
	return NewSlicer(lots,
		func(l lot) decimal.Decimal { return l.qty },
		func(a, b lot) bool { return a.code < b.code },
	)
}

func TestSlicerConsumesLargestFirst(t *testing.T) {
	s := newLotSlicer(lot{"C", d("120")}, lot{"D", d("30")})

	slices := s.Produce(d("100"))
	if len(slices) != 1 {
		t.Fatalf("got %d slices, want 1", len(slices))
	}
	if slices[0].Item.code != "C" || !slices[0].Amount.Equal(d("100")) {
		t.Fatalf("got %s from %s, want 100 from C", slices[0].Amount, slices[0].Item.code)
	}
}

func TestSlicerPartialItemKeepsPriority(t *testing.T) {
	// C starts at 120 and is consumed down to 20, but still outranks D at 30:
	// pool priority is fixed at the initial quantity.
	s := newLotSlicer(lot{"C", d("120")}, lot{"D", d("30")})

	s.Produce(d("100"))
	slices := s.Produce(d("50"))

	if len(slices) != 2 {
		t.Fatalf("got %d slices, want 2", len(slices))
	}
	if slices[0].Item.code != "C" || !slices[0].Amount.Equal(d("20")) {
		t.Errorf("first slice = %s from %s, want 20 from C", slices[0].Amount, slices[0].Item.code)
	}
	if slices[1].Item.code != "D" || !slices[1].Amount.Equal(d("30")) {
		t.Errorf("second slice = %s from %s, want 30 from D", slices[1].Amount, slices[1].Item.code)
	}
}

func TestSlicerTieBreaksByCode(t *testing.T) {
	s := newLotSlicer(lot{"Y", d("50")}, lot{"X", d("50")})

	slices := s.Produce(d("80"))
	if len(slices) != 2 {
		t.Fatalf("got %d slices, want 2", len(slices))
	}
	if slices[0].Item.code != "X" || slices[1].Item.code != "Y" {
		t.Fatalf("allocation order %s, %s; want X, Y", slices[0].Item.code, slices[1].Item.code)
	}
}

func TestSlicerExhaustion(t *testing.T) {
	s := newLotSlicer(lot{"A", d("40")}, lot{"B", d("25")})

	slices := s.Produce(d("100"))
	total := decimal.Zero
	for _, sl := range slices {
		total = total.Add(sl.Amount)
	}
	if !total.Equal(d("65")) {
		t.Fatalf("allocated %s, want pool total 65", total)
	}
	if more := s.Produce(d("1")); more != nil {
		t.Fatalf("expected exhausted pool, got %+v", more)
	}
}

func TestSlicerZeroDemand(t *testing.T) {
	s := newLotSlicer(lot{"A", d("40")})
	if slices := s.Produce(decimal.Zero); slices != nil {
		t.Fatalf("got %+v for zero demand, want none", slices)
	}
}
