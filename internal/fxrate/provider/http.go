package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	"github.com/smallbiznis/royaltyledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Guard  *ratelimit.Guard `optional:"true"`
}

// HTTPProvider queries a Frankfurter-compatible endpoint:
// GET {base}/{YYYY-MM-DD}?from=EUR&to=USD -> {"rates":{"USD":1.09}}.
type HTTPProvider struct {
	baseURL  string
	client   *http.Client
	guard    *ratelimit.Guard
	log      *zap.Logger
	maxTries uint

	initialInterval time.Duration
}

// NewHTTPProvider returns a nil provider when no endpoint is configured or
// rates are pinned offline.
func NewHTTPProvider(p Params) domain.Provider {
	base := strings.TrimRight(strings.TrimSpace(p.Config.FX.APIURL), "/")
	if base == "" || p.Config.FX.Offline {
		return nil
	}
	return newHTTPProvider(base, p.Config.FX, p.Guard, p.Log)
}

func newHTTPProvider(base string, cfg config.FXConfig, guard *ratelimit.Guard, log *zap.Logger) *HTTPProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tries := cfg.MaxRetries
	if tries <= 0 {
		tries = 1
	}
	return &HTTPProvider{
		baseURL:         base,
		client:          &http.Client{Timeout: timeout},
		guard:           guard,
		log:             log.Named("fxrate.http"),
		maxTries:        uint(tries),
		initialInterval: 500 * time.Millisecond,
	}
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (p *HTTPProvider) GetRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/%s?%s", p.baseURL, domain.DateKey(date), url.Values{
		"from": {from},
		"to":   {to},
	}.Encode())

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialInterval

	rate, err := backoff.Retry(ctx, func() (decimal.Decimal, error) {
		return p.fetch(ctx, endpoint, to)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(p.maxTries))
	if err != nil {
		p.log.Warn("fx provider request failed",
			zap.String("from_currency", from),
			zap.String("to_currency", to),
			zap.String("date", domain.DateKey(date)),
			zap.Error(err),
		)
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return rate, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, endpoint, to string) (decimal.Decimal, error) {
	if err := p.guard.WaitFX(ctx); err != nil {
		return decimal.Zero, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return decimal.Zero, fmt.Errorf("fx provider status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, backoff.Permanent(fmt.Errorf("fx provider status %d", resp.StatusCode))
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("decode fx response: %w", err))
	}
	rate, ok := body.Rates[to]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("rate for %s missing from response", to))
	}
	return rate, nil
}
