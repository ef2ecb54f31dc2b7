// Package eod runs the end-of-day cycle for one business date: rebalancing
// net currency exposures into balance trades, netting the trade legs into
// rebalancing positions, and aggregating margin, cash settlement, deposits
// and excess/deficiency per participant.
//
// The engine packages (rebalance, netting, settlement) are pure; this
// service owns all I/O at the run boundary: loading snapshots, resolving
// reference data, persisting results. A reference-data miss fails the whole
// run; valid-but-empty inputs produce empty output and a warning.
package eod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/metrics"
	"github.com/fxclear/eod-engine/internal/model"
	"github.com/fxclear/eod-engine/internal/netting"
	"github.com/fxclear/eod-engine/internal/rebalance"
	"github.com/fxclear/eod-engine/internal/refdata"
	"github.com/fxclear/eod-engine/internal/settlement"
	"github.com/fxclear/eod-engine/internal/store"
)

const (
	stepRebalance = "rebalance"
	stepMargin    = "margin"

	dateFormat = "2006-01-02"
)

// Config holds the run parameters supplied by the environment.
type Config struct {
	// RoundingExponent is the power-of-ten granularity proportional demands
	// are floored to during rebalancing, e.g. 3 → nearest 1000.
	RoundingExponent int32
}

// Service executes EOD runs. A mutex serializes runs (single-instance); the
// engine itself is per-currency-pair independent, but persisted outputs for
// one business date must not interleave.
type Service struct {
	store   store.Store
	refdata refdata.Source
	cfg     Config
	mu      sync.Mutex
	wsHub   *WSHub // optional hub for run progress broadcasts
}

// NewService creates a new EOD run service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, src refdata.Source, cfg Config, hub *WSHub) *Service {
	return &Service{store: st, refdata: src, cfg: cfg, wsHub: hub}
}

// RunSummary reports what one EOD run produced.
type RunSummary struct {
	BusinessDate  string        `json:"business_date"`
	CurrencyPairs int           `json:"currency_pairs"`
	BalanceTrades int           `json:"balance_trades"`
	MarginRows    int           `json:"margin_rows"`
	Duration      time.Duration `json:"duration_ns"`
}

// Run executes the full EOD cycle for one business date.
func (s *Service) Run(ctx context.Context, businessDate time.Time) (*RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	dateStr := businessDate.Format(dateFormat)
	s.notify(StepEvent{Type: "run_started", BusinessDate: dateStr})

	summary := &RunSummary{BusinessDate: dateStr}

	if err := s.runStep(stepRebalance, dateStr, func() error {
		return s.rebalanceStep(ctx, businessDate, summary)
	}); err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		s.notify(StepEvent{Type: "run_failed", BusinessDate: dateStr, Step: stepRebalance, Error: err.Error()})
		return nil, err
	}

	if err := s.runStep(stepMargin, dateStr, func() error {
		return s.marginStep(ctx, businessDate, summary)
	}); err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		s.notify(StepEvent{Type: "run_failed", BusinessDate: dateStr, Step: stepMargin, Error: err.Error()})
		return nil, err
	}

	summary.Duration = time.Since(start)
	metrics.RunsTotal.WithLabelValues("completed").Inc()
	metrics.RunDuration.Observe(summary.Duration.Seconds())
	s.notify(StepEvent{Type: "run_completed", BusinessDate: dateStr})

	slog.Info("eod run completed",
		"business_date", dateStr,
		"pairs", summary.CurrencyPairs,
		"balance_trades", summary.BalanceTrades,
		"margin_rows", summary.MarginRows,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (s *Service) runStep(step, dateStr string, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return fmt.Errorf("%s step: %w", step, err)
	}
	metrics.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	s.notify(StepEvent{Type: "step_completed", BusinessDate: dateStr, Step: step})
	return nil
}

// rebalanceStep converts NET positions into balance trades per currency pair
// and persists the trades plus the netted REBALANCING positions.
func (s *Service) rebalanceStep(ctx context.Context, businessDate time.Time, summary *RunSummary) error {
	positions, err := s.store.FindNetPositions(ctx, businessDate)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		slog.Warn("no net positions for business date", "business_date", businessDate.Format(dateFormat))
		return nil
	}

	byPair, pairs := groupByPair(positions)
	summary.CurrencyPairs = len(pairs)

	var (
		records []model.TradeRecord
		allLegs []netting.Leg
	)
	rates := make(map[string]decimal.Decimal, len(pairs))
	valueDates := make(map[string]time.Time, len(pairs))

	for _, pair := range pairs {
		price, err := s.refdata.SettlementPrice(ctx, businessDate, pair)
		if err != nil {
			return err
		}
		valueDate, err := s.refdata.ValueDate(ctx, businessDate, pair)
		if err != nil {
			return err
		}
		rates[pair.Symbol()] = price
		valueDates[pair.Symbol()] = valueDate

		trades := rebalancePair(byPair[pair.Symbol()], s.cfg.RoundingExponent)
		if len(trades) == 0 {
			slog.Warn("no balance trades for pair", "pair", pair.Symbol())
			continue
		}

		for _, t := range trades {
			records = append(records, model.TradeRecord{
				ID:           uuid.New().String(),
				CurrencyPair: pair,
				Originator:   t.Originator,
				Counterparty: t.Counterparty,
				Amount:       t.Amount,
				Rate:         price,
				TradeDate:    businessDate,
				ValueDate:    valueDate,
			})
		}
		allLegs = append(allLegs, netting.Expand(pair, trades)...)
		metrics.BalanceTradesTotal.WithLabelValues(pair.Symbol()).Add(float64(len(trades)))

		slog.Info("rebalanced pair", "pair", pair.Symbol(), "trades", len(trades))
	}
	summary.BalanceTrades = len(records)

	if err := s.store.SaveTrades(ctx, records); err != nil {
		return err
	}

	rebalancePositions := make([]model.NetPosition, 0, len(allLegs))
	for _, leg := range netting.Net(allLegs) {
		rebalancePositions = append(rebalancePositions, model.NetPosition{
			Participant:  leg.Participant,
			CurrencyPair: leg.CurrencyPair,
			Amount:       leg.Amount,
			Type:         model.PositionRebalancing,
			TradeDate:    businessDate,
			ValueDate:    valueDates[leg.CurrencyPair.Symbol()],
			Rate:         rates[leg.CurrencyPair.Symbol()],
		})
	}
	return s.store.SavePositions(ctx, rebalancePositions)
}

// rebalancePair runs the core algorithm for one pair: proportional rebalance,
// then residual allocation on the balance with the trades applied.
func rebalancePair(exposures []model.SignedExposure, roundingExponent int32) []model.BalanceTrade {
	balance := rebalance.Of(exposures)
	trades := balance.Rebalance(roundingExponent)
	residual := balance.ApplyTrades(trades).AllocateResidual()
	return append(trades, residual...)
}

// marginStep aggregates cash settlement, required initial margin, deposits
// and the excess/deficiency figure per participant.
func (s *Service) marginStep(ctx context.Context, businessDate time.Time, summary *RunSummary) error {
	products, err := s.store.FindCashSettlementsFrom(ctx, businessDate)
	if err != nil {
		return err
	}

	settlements := settlement.AggregateCashSettlement(products, businessDate)
	if err := s.store.SaveCashSettlements(ctx, businessDate, settlements); err != nil {
		return err
	}
	dayTotal := settlement.AggregateDayAndTotal(settlements)

	positions, err := s.store.FindNetAndRebalancingPositions(ctx, businessDate)
	if err != nil {
		return err
	}

	bound := refdata.Bound{Source: s.refdata, Ctx: ctx, Date: businessDate}
	required, err := settlement.RequiredInitialMargin(positionLegs(positions), bound, bound)
	if err != nil {
		return err
	}

	deposits, err := s.deposits(ctx, required, dayTotal)
	if err != nil {
		return err
	}

	margins := settlement.ParticipantMargins(businessDate, required, dayTotal, deposits)
	for i := range margins {
		margins[i].ID = uuid.New().String()
	}
	summary.MarginRows = len(margins)
	metrics.MarginRowsTotal.Add(float64(len(margins)))

	return s.store.SaveParticipantMargins(ctx, margins)
}

// deposits evaluates margin collateral for participants that have either a
// margin requirement or a cash settlement entry; with neither, collateral is
// not loaded at all.
func (s *Service) deposits(
	ctx context.Context,
	required map[string]settlement.ParticipantAmount,
	dayTotal map[string]settlement.DayAndTotal,
) (map[string]settlement.ParticipantAmount, error) {
	participants := settlement.RequiringParticipants(required, dayTotal)
	if len(participants) == 0 {
		return nil, nil
	}

	codes := make([]string, 0, len(participants))
	for code := range participants {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	balances, err := s.store.FindCollateralBalances(ctx, codes, model.PurposeMargin)
	if err != nil {
		return nil, err
	}
	return settlement.Deposits(balances, settlement.HaircutValuer{}), nil
}

func (s *Service) notify(event StepEvent) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(event)
	}
}

// groupByPair partitions exposures per currency pair and returns the pairs
// ordered by symbol so that runs are deterministic regardless of input order.
func groupByPair(positions []model.NetPosition) (map[string][]model.SignedExposure, []model.CurrencyPair) {
	grouped := make(map[string][]model.SignedExposure)
	pairBySymbol := make(map[string]model.CurrencyPair)
	for _, p := range positions {
		symbol := p.CurrencyPair.Symbol()
		grouped[symbol] = append(grouped[symbol], model.SignedExposure{
			Participant: p.Participant,
			Amount:      p.Amount,
		})
		pairBySymbol[symbol] = p.CurrencyPair
	}

	pairs := make([]model.CurrencyPair, 0, len(pairBySymbol))
	for _, pair := range pairBySymbol {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Symbol() < pairs[j].Symbol() })
	return grouped, pairs
}

func positionLegs(positions []model.NetPosition) []netting.Leg {
	legs := make([]netting.Leg, 0, len(positions))
	for _, p := range positions {
		legs = append(legs, netting.Leg{
			Participant:  p.Participant,
			CurrencyPair: p.CurrencyPair,
			Amount:       p.Amount,
		})
	}
	return legs
}

// --- HTTP handlers ---

// RunRequest is the JSON body for POST /api/v1/eod/runs.
type RunRequest struct {
	BusinessDate string `json:"business_date"` // YYYY-MM-DD
}

// HandleRun handles POST /api/v1/eod/runs.
func (s *Service) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	businessDate, err := time.Parse(dateFormat, req.BusinessDate)
	if err != nil {
		writeError(w, "business_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	summary, err := s.Run(r.Context(), businessDate)
	if err != nil {
		slog.Error("eod run failed", "business_date", req.BusinessDate, "err", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(summary)
}

// HandleTrades handles GET /api/v1/eod/trades?date=YYYY-MM-DD.
func (s *Service) HandleTrades(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	trades, err := s.store.FindTrades(r.Context(), date)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// HandleMargins handles GET /api/v1/eod/margins?date=YYYY-MM-DD.
func (s *Service) HandleMargins(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	margins, err := s.store.FindParticipantMargins(r.Context(), date)
	if err != nil {
		writeError(w, "failed to load participant margins", http.StatusInternalServerError)
		return
	}
	if margins == nil {
		margins = []model.ParticipantMargin{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(margins)
}

func dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := time.Parse(dateFormat, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return date, true
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
