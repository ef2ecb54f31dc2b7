package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindNetPositions(ctx context.Context, tradeDate time.Time) ([]model.NetPosition, error) {
	return s.findPositions(ctx, tradeDate, []model.PositionType{model.PositionNet})
}

func (s *PostgresStore) FindNetAndRebalancingPositions(ctx context.Context, tradeDate time.Time) ([]model.NetPosition, error) {
	return s.findPositions(ctx, tradeDate, []model.PositionType{model.PositionNet, model.PositionRebalancing})
}

func (s *PostgresStore) findPositions(ctx context.Context, tradeDate time.Time, types []model.PositionType) ([]model.NetPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT participant_id, participant_code, participant_name,
		        base_currency, value_currency,
		        amount::TEXT, rate::TEXT, position_type, trade_date, value_date
		 FROM eod_positions
		 WHERE trade_date = $1 AND position_type = ANY($2)
		 ORDER BY base_currency, value_currency, participant_code`,
		tradeDate, types)
	if err != nil {
		return nil, fmt.Errorf("find positions: %w", err)
	}
	defer rows.Close()

	var positions []model.NetPosition
	for rows.Next() {
		var p model.NetPosition
		var amountS, rateS string
		if err := rows.Scan(&p.Participant.ID, &p.Participant.Code, &p.Participant.Name,
			&p.CurrencyPair.Base, &p.CurrencyPair.Value,
			&amountS, &rateS, &p.Type, &p.TradeDate, &p.ValueDate); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amountS); err != nil {
			return nil, err
		}
		if p.Rate, err = decimal.NewFromString(rateS); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) SavePositions(ctx context.Context, positions []model.NetPosition) error {
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(
			`INSERT INTO eod_positions
			   (participant_id, participant_code, participant_name,
			    base_currency, value_currency, amount, rate, position_type, trade_date, value_date)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
			p.Participant.ID, p.Participant.Code, p.Participant.Name,
			p.CurrencyPair.Base, p.CurrencyPair.Value,
			p.Amount.String(), p.Rate.String(), p.Type, p.TradeDate, p.ValueDate,
		)
	}
	return s.sendBatch(ctx, batch, "save positions")
}

func (s *PostgresStore) SaveTrades(ctx context.Context, trades []model.TradeRecord) error {
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(
			`INSERT INTO balance_trades
			   (id, base_currency, value_currency,
			    originator_id, originator_code, counterparty_id, counterparty_code,
			    amount, rate, trade_date, value_date)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
			t.ID, t.CurrencyPair.Base, t.CurrencyPair.Value,
			t.Originator.ID, t.Originator.Code, t.Counterparty.ID, t.Counterparty.Code,
			t.Amount.String(), t.Rate.String(), t.TradeDate, t.ValueDate,
		)
	}
	return s.sendBatch(ctx, batch, "save trades")
}

func (s *PostgresStore) FindTrades(ctx context.Context, tradeDate time.Time) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, base_currency, value_currency,
		        originator_id, originator_code, counterparty_id, counterparty_code,
		        amount::TEXT, rate::TEXT, trade_date, value_date
		 FROM balance_trades
		 WHERE trade_date = $1
		 ORDER BY base_currency, value_currency, originator_code, counterparty_code`,
		tradeDate)
	if err != nil {
		return nil, fmt.Errorf("find trades: %w", err)
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var amountS, rateS string
		if err := rows.Scan(&t.ID, &t.CurrencyPair.Base, &t.CurrencyPair.Value,
			&t.Originator.ID, &t.Originator.Code, &t.Counterparty.ID, &t.Counterparty.Code,
			&amountS, &rateS, &t.TradeDate, &t.ValueDate); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amountS); err != nil {
			return nil, err
		}
		if t.Rate, err = decimal.NewFromString(rateS); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) FindCashSettlementsFrom(ctx context.Context, date time.Time) ([]model.ProductCashSettlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT participant_id, participant_code, participant_name,
		        base_currency, value_currency, settlement_type,
		        amount::TEXT, settlement_date
		 FROM product_cash_settlements
		 WHERE settlement_date >= $1
		 ORDER BY participant_code, settlement_type, settlement_date`,
		date)
	if err != nil {
		return nil, fmt.Errorf("find cash settlements: %w", err)
	}
	defer rows.Close()

	var records []model.ProductCashSettlement
	for rows.Next() {
		var r model.ProductCashSettlement
		var amountS string
		if err := rows.Scan(&r.Participant.ID, &r.Participant.Code, &r.Participant.Name,
			&r.CurrencyPair.Base, &r.CurrencyPair.Value, &r.Type,
			&amountS, &r.SettlementDate); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amountS); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) SaveCashSettlements(ctx context.Context, businessDate time.Time, settlements []model.CashSettlement) error {
	batch := &pgx.Batch{}
	for _, cs := range settlements {
		batch.Queue(
			`INSERT INTO eod_cash_settlements
			   (business_date, participant_id, participant_code, settlement_type, date_bucket, amount)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC)`,
			businessDate, cs.Participant.ID, cs.Participant.Code, cs.Type, cs.Bucket, cs.Amount.String(),
		)
	}
	return s.sendBatch(ctx, batch, "save cash settlements")
}

func (s *PostgresStore) FindCollateralBalances(ctx context.Context, participantCodes []string, purpose model.CollateralPurpose) ([]model.CollateralBalance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT participant_id, participant_code, participant_name,
		        purpose, security, amount::TEXT, haircut::TEXT
		 FROM collateral_balances
		 WHERE participant_code = ANY($1) AND purpose = $2
		 ORDER BY participant_code, security`,
		participantCodes, purpose)
	if err != nil {
		return nil, fmt.Errorf("find collateral balances: %w", err)
	}
	defer rows.Close()

	var balances []model.CollateralBalance
	for rows.Next() {
		var b model.CollateralBalance
		var amountS, haircutS string
		if err := rows.Scan(&b.Participant.ID, &b.Participant.Code, &b.Participant.Name,
			&b.Purpose, &b.Security, &amountS, &haircutS); err != nil {
			return nil, err
		}
		if b.Amount, err = decimal.NewFromString(amountS); err != nil {
			return nil, err
		}
		if b.Haircut, err = decimal.NewFromString(haircutS); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *PostgresStore) SaveParticipantMargins(ctx context.Context, margins []model.ParticipantMargin) error {
	batch := &pgx.Batch{}
	for _, m := range margins {
		batch.Queue(
			`INSERT INTO eod_participant_margins
			   (id, business_date, participant_id, participant_code, participant_name,
			    required_margin, day_cash_settlement, total_cash_settlement, deposit, excess_deficiency)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC)`,
			m.ID, m.BusinessDate, m.Participant.ID, m.Participant.Code, m.Participant.Name,
			m.RequiredMargin.String(), m.DayCashSettlement.String(), m.TotalCashSettlement.String(),
			m.Deposit.String(), m.ExcessDeficiency.String(),
		)
	}
	return s.sendBatch(ctx, batch, "save participant margins")
}

func (s *PostgresStore) FindParticipantMargins(ctx context.Context, businessDate time.Time) ([]model.ParticipantMargin, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, business_date, participant_id, participant_code, participant_name,
		        required_margin::TEXT, day_cash_settlement::TEXT, total_cash_settlement::TEXT,
		        deposit::TEXT, excess_deficiency::TEXT
		 FROM eod_participant_margins
		 WHERE business_date = $1
		 ORDER BY participant_code`,
		businessDate)
	if err != nil {
		return nil, fmt.Errorf("find participant margins: %w", err)
	}
	defer rows.Close()

	var margins []model.ParticipantMargin
	for rows.Next() {
		var m model.ParticipantMargin
		var requiredS, dayS, totalS, depositS, excessS string
		if err := rows.Scan(&m.ID, &m.BusinessDate, &m.Participant.ID, &m.Participant.Code, &m.Participant.Name,
			&requiredS, &dayS, &totalS, &depositS, &excessS); err != nil {
			return nil, err
		}
		if m.RequiredMargin, err = decimal.NewFromString(requiredS); err != nil {
			return nil, err
		}
		if m.DayCashSettlement, err = decimal.NewFromString(dayS); err != nil {
			return nil, err
		}
		if m.TotalCashSettlement, err = decimal.NewFromString(totalS); err != nil {
			return nil, err
		}
		if m.Deposit, err = decimal.NewFromString(depositS); err != nil {
			return nil, err
		}
		if m.ExcessDeficiency, err = decimal.NewFromString(excessS); err != nil {
			return nil, err
		}
		margins = append(margins, m)
	}
	return margins, rows.Err()
}

func (s *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch, op string) error {
	if batch.Len() == 0 {
		return nil
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}
