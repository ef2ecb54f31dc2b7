// Package store defines the persistence interface for the EOD engine.
// PostgreSQL is the source of truth; an in-memory implementation backs tests
// and development. The engine packages never touch a Store; all I/O happens
// at the run-service boundary.
package store

import (
	"context"
	"time"

	"github.com/fxclear/eod-engine/internal/model"
)

// Store is the persistence interface for EOD inputs and outputs.
type Store interface {
	// --- Positions ---

	// FindNetPositions returns the NET positions for a trade date, the raw
	// exposures the rebalancing pass starts from.
	FindNetPositions(ctx context.Context, tradeDate time.Time) ([]model.NetPosition, error)

	// FindNetAndRebalancingPositions returns NET and REBALANCING positions
	// for a trade date, the input to required-margin calculation.
	FindNetAndRebalancingPositions(ctx context.Context, tradeDate time.Time) ([]model.NetPosition, error)

	// SavePositions persists positions produced by a run.
	SavePositions(ctx context.Context, positions []model.NetPosition) error

	// --- Balance trades ---

	// SaveTrades persists the synthetic balance trades of a run.
	SaveTrades(ctx context.Context, trades []model.TradeRecord) error

	// FindTrades returns the balance trades persisted for a trade date.
	FindTrades(ctx context.Context, tradeDate time.Time) ([]model.TradeRecord, error)

	// --- Cash settlement and margin ---

	// FindCashSettlementsFrom returns product cash settlements with a
	// settlement date on or after the given date.
	FindCashSettlementsFrom(ctx context.Context, date time.Time) ([]model.ProductCashSettlement, error)

	// SaveCashSettlements persists aggregated cash settlement rows for a
	// business date.
	SaveCashSettlements(ctx context.Context, businessDate time.Time, settlements []model.CashSettlement) error

	// FindCollateralBalances returns pledged balances for the given
	// participants and purpose.
	FindCollateralBalances(ctx context.Context, participantCodes []string, purpose model.CollateralPurpose) ([]model.CollateralBalance, error)

	// SaveParticipantMargins persists the per-participant margin rows.
	SaveParticipantMargins(ctx context.Context, margins []model.ParticipantMargin) error

	// FindParticipantMargins returns the margin rows for a business date.
	FindParticipantMargins(ctx context.Context, businessDate time.Time) ([]model.ParticipantMargin, error)
}
