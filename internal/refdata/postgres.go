package refdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
)

// PostgresSource implements Source over the reference-data tables. Rates and
// ratios are stored as NUMERIC and round-trip through decimal strings.
type PostgresSource struct {
	pool              *pgxpool.Pool
	valuationCurrency string
}

// NewPostgresSource creates a PostgreSQL-backed reference-data source.
// Valuation rates convert a pair's base currency into valuationCurrency.
func NewPostgresSource(pool *pgxpool.Pool, valuationCurrency string) *PostgresSource {
	return &PostgresSource{pool: pool, valuationCurrency: valuationCurrency}
}

func (s *PostgresSource) SettlementPrice(ctx context.Context, date time.Time, pair model.CurrencyPair) (decimal.Decimal, error) {
	return s.price(ctx, date, pair.Base, pair.Value, "settlement price", pair.Symbol())
}

func (s *PostgresSource) ValuationRate(ctx context.Context, date time.Time, pair model.CurrencyPair) (decimal.Decimal, error) {
	if pair.Base == s.valuationCurrency {
		return decimal.NewFromInt(1), nil
	}
	return s.price(ctx, date, pair.Base, s.valuationCurrency, "valuation rate", pair.Symbol())
}

func (s *PostgresSource) price(ctx context.Context, date time.Time, base, value, what, symbol string) (decimal.Decimal, error) {
	var rateS string
	err := s.pool.QueryRow(ctx,
		`SELECT rate::TEXT
		 FROM settlement_rates
		 WHERE business_date = $1 AND base_currency = $2 AND value_currency = $3`,
		date, base, value).
		Scan(&rateS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("%w: %s for %s on %s", ErrNotFound, what, symbol, date.Format("2006-01-02"))
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s %s: %w", what, symbol, err)
	}

	rate, err := decimal.NewFromString(rateS)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s %s: %w", what, symbol, err)
	}
	return rate, nil
}

func (s *PostgresSource) MarginRatio(ctx context.Context, date time.Time, pair model.CurrencyPair, participant model.Participant) (decimal.Decimal, error) {
	var baseS, multS string
	err := s.pool.QueryRow(ctx,
		`SELECT mr.value::TEXT, mm.value::TEXT
		 FROM margin_ratios mr
		 JOIN margin_ratio_multipliers mm
		   ON mm.business_date = mr.business_date
		  AND mm.base_currency = mr.base_currency
		  AND mm.value_currency = mr.value_currency
		 WHERE mr.business_date = $1
		   AND mr.base_currency = $2 AND mr.value_currency = $3
		   AND mm.participant_code = $4`,
		date, pair.Base, pair.Value, participant.Code).
		Scan(&baseS, &multS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("%w: margin ratio for %s/%s on %s",
			ErrNotFound, pair.Symbol(), participant.Code, date.Format("2006-01-02"))
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("margin ratio %s/%s: %w", pair.Symbol(), participant.Code, err)
	}

	base, err := decimal.NewFromString(baseS)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("margin ratio %s: %w", pair.Symbol(), err)
	}
	mult, err := decimal.NewFromString(multS)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("margin ratio multiplier %s: %w", pair.Symbol(), err)
	}
	return requiredRatio(base, mult), nil
}

func (s *PostgresSource) ValueDate(ctx context.Context, date time.Time, pair model.CurrencyPair) (time.Time, error) {
	var vd time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT value_date
		 FROM trading_calendar
		 WHERE trade_date = $1 AND base_currency = $2 AND value_currency = $3`,
		date, pair.Base, pair.Value).
		Scan(&vd)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: value date for %s on %s", ErrNotFound, pair.Symbol(), date.Format("2006-01-02"))
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("value date %s: %w", pair.Symbol(), err)
	}
	return vd, nil
}
