package store

import (
	"context"
	"sync"
	"time"

	"github.com/fxclear/eod-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	positions   []model.NetPosition
	trades      []model.TradeRecord
	products    []model.ProductCashSettlement
	settlements []model.CashSettlement
	collateral  []model.CollateralBalance
	margins     []model.ParticipantMargin
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SeedPositions loads positions as run input.
func (s *MemoryStore) SeedPositions(positions ...model.NetPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, positions...)
}

// SeedCashSettlements loads product cash settlements as run input.
func (s *MemoryStore) SeedCashSettlements(records ...model.ProductCashSettlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append(s.products, records...)
}

// SeedCollateral loads collateral balances as run input.
func (s *MemoryStore) SeedCollateral(balances ...model.CollateralBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collateral = append(s.collateral, balances...)
}

func (s *MemoryStore) FindNetPositions(_ context.Context, tradeDate time.Time) ([]model.NetPosition, error) {
	return s.findPositions(tradeDate, map[model.PositionType]bool{model.PositionNet: true}), nil
}

func (s *MemoryStore) FindNetAndRebalancingPositions(_ context.Context, tradeDate time.Time) ([]model.NetPosition, error) {
	return s.findPositions(tradeDate, map[model.PositionType]bool{
		model.PositionNet:         true,
		model.PositionRebalancing: true,
	}), nil
}

func (s *MemoryStore) findPositions(tradeDate time.Time, types map[model.PositionType]bool) []model.NetPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.NetPosition
	for _, p := range s.positions {
		if p.TradeDate.Equal(tradeDate) && types[p.Type] {
			out = append(out, p)
		}
	}
	return out
}

func (s *MemoryStore) SavePositions(_ context.Context, positions []model.NetPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, positions...)
	return nil
}

func (s *MemoryStore) SaveTrades(_ context.Context, trades []model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
	return nil
}

func (s *MemoryStore) FindTrades(_ context.Context, tradeDate time.Time) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TradeRecord
	for _, t := range s.trades {
		if t.TradeDate.Equal(tradeDate) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindCashSettlementsFrom(_ context.Context, date time.Time) ([]model.ProductCashSettlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ProductCashSettlement
	for _, r := range s.products {
		if !r.SettlementDate.Before(date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveCashSettlements(_ context.Context, _ time.Time, settlements []model.CashSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements = append(s.settlements, settlements...)
	return nil
}

func (s *MemoryStore) FindCollateralBalances(_ context.Context, participantCodes []string, purpose model.CollateralPurpose) ([]model.CollateralBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make(map[string]bool, len(participantCodes))
	for _, c := range participantCodes {
		codes[c] = true
	}

	var out []model.CollateralBalance
	for _, b := range s.collateral {
		if codes[b.Participant.Code] && b.Purpose == purpose {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveParticipantMargins(_ context.Context, margins []model.ParticipantMargin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.margins = append(s.margins, margins...)
	return nil
}

func (s *MemoryStore) FindParticipantMargins(_ context.Context, businessDate time.Time) ([]model.ParticipantMargin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ParticipantMargin
	for _, m := range s.margins {
		if m.BusinessDate.Equal(businessDate) {
			out = append(out, m)
		}
	}
	return out, nil
}
