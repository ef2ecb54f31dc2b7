// Package model defines the core domain types shared across the EOD engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant identifies a clearing participant. Code is the stable display
// code used for deterministic tie-breaking in the rebalancing algorithm.
type Participant struct {
	ID   int64  `json:"id" db:"id"`
	Code string `json:"code" db:"code"`
	Name string `json:"name" db:"name"`
}

// CurrencyPair identifies a base/value currency pair. Exposures and balance
// trades are denominated in the base currency.
type CurrencyPair struct {
	Base  string `json:"base" db:"base_currency"`
	Value string `json:"value" db:"value_currency"`
}

// Symbol returns the concatenated pair code, e.g. "EURUSD".
func (p CurrencyPair) Symbol() string { return p.Base + p.Value }

// SignedExposure is a participant's net position in the base currency of one
// currency pair. Positive = net long/buy, negative = net short/sell.
// Zero-amount exposures are excluded before any processing.
type SignedExposure struct {
	Participant Participant     `json:"participant"`
	Amount      decimal.Decimal `json:"amount"`
}

// BalanceTrade is a synthetic bilateral trade created purely to rebalance
// exposures. Amount is the originator's signed directional delta; the
// counterparty's implied delta is the negation.
type BalanceTrade struct {
	Originator   Participant     `json:"originator"`
	Counterparty Participant     `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`
}

// PositionType distinguishes how a persisted position was produced.
type PositionType string

const (
	PositionNet         PositionType = "NET"
	PositionRebalancing PositionType = "REBALANCING"
)

// NetPosition is a net per-(participant, currency pair) position produced by
// netting trade legs, persisted per business date.
type NetPosition struct {
	Participant  Participant     `json:"participant"`
	CurrencyPair CurrencyPair    `json:"currency_pair"`
	Amount       decimal.Decimal `json:"amount"`
	Type         PositionType    `json:"type"`
	TradeDate    time.Time       `json:"trade_date"`
	ValueDate    time.Time       `json:"value_date"`
	Rate         decimal.Decimal `json:"rate"` // settlement rate at trade date
}

// TradeRecord is a persistable balance trade enriched with the dates and
// settlement rate the caller resolves before saving.
type TradeRecord struct {
	ID           string          `json:"id" db:"id"`
	CurrencyPair CurrencyPair    `json:"currency_pair"`
	Originator   Participant     `json:"originator"`
	Counterparty Participant     `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`
	Rate         decimal.Decimal `json:"rate"`
	TradeDate    time.Time       `json:"trade_date"`
	ValueDate    time.Time       `json:"value_date"`
}

// SettlementType partitions product cash settlement amounts by origin.
type SettlementType string

const (
	SettlementDailyMTM   SettlementType = "DAILY_MTM"
	SettlementInitialMTM SettlementType = "INITIAL_MTM"
	SettlementSwapPnL    SettlementType = "SWAP_PNL"
)

// DateBucket classifies a cash settlement amount by when it settles relative
// to the business date. TOTAL spans every outstanding settlement date.
type DateBucket string

const (
	BucketDay       DateBucket = "DAY"
	BucketFollowing DateBucket = "FOLLOWING"
	BucketTotal     DateBucket = "TOTAL"
)

// ProductCashSettlement is one per-product cash settlement obligation, the
// raw input to margin aggregation.
type ProductCashSettlement struct {
	Participant    Participant     `json:"participant"`
	CurrencyPair   CurrencyPair    `json:"currency_pair"`
	Type           SettlementType  `json:"type"`
	Amount         decimal.Decimal `json:"amount"` // in the valuation currency
	SettlementDate time.Time       `json:"settlement_date"`
}

// CashSettlement is an aggregated per-(participant, type, bucket) amount.
type CashSettlement struct {
	Participant Participant     `json:"participant"`
	Type        SettlementType  `json:"type"`
	Bucket      DateBucket      `json:"bucket"`
	Amount      decimal.Decimal `json:"amount"`
}

// CollateralPurpose restricts which pledged balances count toward margin.
type CollateralPurpose string

const (
	PurposeMargin CollateralPurpose = "MARGIN"
)

// CollateralBalance is a pledged collateral holding to be evaluated into a
// deposit contribution.
type CollateralBalance struct {
	Participant Participant       `json:"participant"`
	Purpose     CollateralPurpose `json:"purpose"`
	Security    string            `json:"security"`
	Amount      decimal.Decimal   `json:"amount"`
	Haircut     decimal.Decimal   `json:"haircut"` // evaluated fraction, e.g. 0.95
}

// ParticipantMargin is the per-participant end state of a margin run:
// required initial margin, cash settlement roll-ups, deposits, and the
// derived excess/deficiency (>= 0 surplus, < 0 shortfall).
type ParticipantMargin struct {
	ID                  string          `json:"id" db:"id"`
	Participant         Participant     `json:"participant"`
	BusinessDate        time.Time       `json:"business_date"`
	RequiredMargin      decimal.Decimal `json:"required_margin"`
	DayCashSettlement   decimal.Decimal `json:"day_cash_settlement"`
	TotalCashSettlement decimal.Decimal `json:"total_cash_settlement"`
	Deposit             decimal.Decimal `json:"deposit"`
	ExcessDeficiency    decimal.Decimal `json:"excess_deficiency"`
}
