package refdata

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fxclear/eod-engine/internal/model"
)

// CachedSource wraps a primary Source with a Redis read-through cache.
// Reference data is immutable within a business date, so cached values only
// need a TTL to bound memory, not invalidation. Cache failures fall back to
// the primary; only a primary miss is an error.
type CachedSource struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedSource creates a cached wrapper around a primary source.
func NewCachedSource(primary Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedSource) SettlementPrice(ctx context.Context, date time.Time, pair model.CurrencyPair) (decimal.Decimal, error) {
	return s.cachedDecimal(ctx, priceKey(date, pair), func() (decimal.Decimal, error) {
		return s.primary.SettlementPrice(ctx, date, pair)
	})
}

func (s *CachedSource) ValuationRate(ctx context.Context, date time.Time, pair model.CurrencyPair) (decimal.Decimal, error) {
	return s.cachedDecimal(ctx, rateKey(date, pair), func() (decimal.Decimal, error) {
		return s.primary.ValuationRate(ctx, date, pair)
	})
}

func (s *CachedSource) cachedDecimal(ctx context.Context, key string, load func() (decimal.Decimal, error)) (decimal.Decimal, error) {
	if cached, err := s.rdb.Get(ctx, key).Result(); err == nil {
		if d, err := decimal.NewFromString(cached); err == nil {
			return d, nil
		}
	}

	d, err := load()
	if err != nil {
		return decimal.Decimal{}, err
	}
	s.rdb.Set(ctx, key, d.String(), s.ttl)
	return d, nil
}

func (s *CachedSource) MarginRatio(ctx context.Context, date time.Time, pair model.CurrencyPair, participant model.Participant) (decimal.Decimal, error) {
	return s.cachedDecimal(ctx, ratioKey(date, pair, participant), func() (decimal.Decimal, error) {
		return s.primary.MarginRatio(ctx, date, pair, participant)
	})
}

func (s *CachedSource) ValueDate(ctx context.Context, date time.Time, pair model.CurrencyPair) (time.Time, error) {
	key := valueDateKey(date, pair)
	if cached, err := s.rdb.Get(ctx, key).Result(); err == nil {
		if vd, err := time.Parse(time.RFC3339, cached); err == nil {
			return vd, nil
		}
	}

	vd, err := s.primary.ValueDate(ctx, date, pair)
	if err != nil {
		return time.Time{}, err
	}
	s.rdb.Set(ctx, key, vd.Format(time.RFC3339), s.ttl)
	return vd, nil
}

func priceKey(date time.Time, pair model.CurrencyPair) string {
	return fmt.Sprintf("refdata:price:%s:%s", date.Format("20060102"), pair.Symbol())
}

func rateKey(date time.Time, pair model.CurrencyPair) string {
	return fmt.Sprintf("refdata:rate:%s:%s", date.Format("20060102"), pair.Symbol())
}

func ratioKey(date time.Time, pair model.CurrencyPair, participant model.Participant) string {
	return fmt.Sprintf("refdata:ratio:%s:%s:%s", date.Format("20060102"), pair.Symbol(), participant.Code)
}

func valueDateKey(date time.Time, pair model.CurrencyPair) string {
	return fmt.Sprintf("refdata:valuedate:%s:%s", date.Format("20060102"), pair.Symbol())
}
