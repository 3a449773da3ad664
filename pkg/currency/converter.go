package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

// RateCache is the redis surface the converter needs.
type RateCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FxRateKey(base, quote string) string
}

// Converter resolves exchange rates from an HTTP source with a redis cache in
// front. Settlement happens in a single currency, so the converter only runs
// when a ticket is priced in something else.
type Converter struct {
	httpClient *http.Client
	baseURL    string
	cacheTTL   time.Duration
	cache      RateCache
	logger     *logger.Logger
}

var (
	errCacheRequired  = errors.New("currency rate cache is required")
	errLoggerRequired = errors.New("currency logger is required")
)

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func NewConverter(cfg config.CurrencyConfig, cache RateCache, logg *logger.Logger) (*Converter, error) {
	if cache == nil {
		return nil, errCacheRequired
	}
	if logg == nil {
		return nil, errLoggerRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Converter{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.RatesURL, "/"),
		cacheTTL:   cfg.CacheTTL,
		cache:      cache,
		logger:     logg,
	}, nil
}

// ConvertCents converts a cent amount between currencies, rounding half up to
// whole cents.
func (c *Converter) ConvertCents(ctx context.Context, amountCents int64, from, to enums.Currency) (int64, error) {
	if from == to {
		return amountCents, nil
	}
	rate, err := c.Rate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	converted := decimal.NewFromInt(amountCents).Mul(rate).Round(0)
	return converted.IntPart(), nil
}

// Rate returns the base→quote exchange rate, consulting the cache first.
func (c *Converter) Rate(ctx context.Context, base, quote enums.Currency) (decimal.Decimal, error) {
	if !base.IsValid() || !quote.IsValid() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}

	key := c.cache.FxRateKey(string(base), string(quote))
	if cached, err := c.cache.Get(ctx, key); err == nil && cached != "" {
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			return rate, nil
		}
	}

	rate, err := c.fetchRate(ctx, base, quote)
	if err != nil {
		return decimal.Zero, err
	}

	if setErr := c.cache.Set(ctx, key, rate.String(), c.cacheTTL); setErr != nil {
		c.logger.Warn(ctx, "caching exchange rate failed")
	}
	return rate, nil
}

func (c *Converter) fetchRate(ctx context.Context, base, quote enums.Currency) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/latest?base=%s&symbols=%s",
		c.baseURL, url.QueryEscape(string(base)), url.QueryEscape(string(quote)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("building rates request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "exchange rate request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("exchange rate source returned status %d", resp.StatusCode))
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding exchange rates")
	}

	value, ok := body.Rates[string(quote)]
	if !ok || value <= 0 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("no rate for %s/%s", base, quote))
	}
	return decimal.NewFromFloat(value), nil
}
