package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	"PerpGate/pkg/cache"
	applogger "PerpGate/pkg/logger"
)

// MicrostructureConfig controls the order-flow snapshot.
type MicrostructureConfig struct {
	Enabled     bool          `yaml:"enabled" default:"false"`
	BaseURL     string        `yaml:"base_url" default:"https://api-futures.kucoin.com"`
	Timeout     time.Duration `yaml:"timeout" default:"3s"`
	DepthLevels int           `yaml:"depth_levels" default:"10" validate:"min=1,max=100"`
	CacheTTL    time.Duration `yaml:"cache_ttl" default:"5s"`
	Retries     int           `yaml:"retries" default:"2" validate:"min=1,max=5"`
}

// MicrostructureClient builds snapshots from the public depth, trade and
// funding endpoints. Each part is fetched on its own; a failed part is left
// nil and only a total failure is an error.
type MicrostructureClient struct {
	*HTTPServiceBase
	cfg   MicrostructureConfig
	cache cache.Service
	l     *applogger.Logger
}

func NewMicrostructureClient(cfg MicrostructureConfig, c cache.Service, l *applogger.Logger) *MicrostructureClient {
	if l == nil {
		l = applogger.Nop()
	}
	return &MicrostructureClient{
		HTTPServiceBase: NewHTTPServiceBase(cfg.BaseURL, cfg.Timeout),
		cfg:             cfg,
		cache:           c,
		l:               l,
	}
}

type depthData struct {
	Bids [][]float64 `json:"bids"`
	Asks [][]float64 `json:"asks"`
}

type tradeData struct {
	Side string  `json:"side"`
	Size float64 `json:"size"`
}

type fundingData struct {
	Value float64 `json:"value"`
}

func (m *MicrostructureClient) cacheKey(symbol string) string { return "micro:" + symbol }

func (m *MicrostructureClient) Snapshot(ctx context.Context, symbol string) (*models.Microstructure, error) {
	if m.cache != nil && m.cfg.CacheTTL > 0 {
		var raw string
		if err := m.cache.Get(ctx, m.cacheKey(symbol), &raw); err == nil {
			var snap models.Microstructure
			if json.Unmarshal([]byte(raw), &snap) == nil {
				return &snap, nil
			}
		}
	}

	q := map[string][]string{"symbol": {symbol}}
	snap := &models.Microstructure{}
	var failures []error

	var depth depthData
	if err := getJSONWithRetry(ctx, m.HTTPServiceBase, "/api/v1/level2/depth20", q, &depth, m.cfg.Retries); err != nil {
		failures = append(failures, err)
	} else if v, ok := Imbalance(depth.Bids, depth.Asks, m.cfg.DepthLevels); ok {
		snap.DOMImbalance = &v
	}

	var trades []tradeData
	if err := getJSONWithRetry(ctx, m.HTTPServiceBase, "/api/v1/trade/history", q, &trades, m.cfg.Retries); err != nil {
		failures = append(failures, err)
	} else if v, ok := BuySellRatio(trades); ok {
		snap.BuySellRatio = &v
	}

	var funding fundingData
	if err := getJSONWithRetry(ctx, m.HTTPServiceBase, fmt.Sprintf("/api/v1/funding-rate/%s/current", symbol), nil, &funding, m.cfg.Retries); err != nil {
		failures = append(failures, err)
	} else {
		v := funding.Value
		snap.FundingRate = &v
	}

	if len(failures) == 3 {
		return nil, errors.Join(failures...)
	}
	if len(failures) > 0 {
		m.l.Debug("microstructure partial snapshot",
			applogger.String("symbol", symbol),
			applogger.Int("failed_parts", len(failures)),
			applogger.Error(errors.Join(failures...)),
		)
	}

	if m.cache != nil && m.cfg.CacheTTL > 0 {
		if b, err := json.Marshal(snap); err == nil {
			_ = m.cache.Set(ctx, m.cacheKey(symbol), string(b), m.cfg.CacheTTL)
		}
	}
	return snap, nil
}

// Imbalance is (bid - ask) / (bid + ask) over the top levels, in [-1, 1].
func Imbalance(bids, asks [][]float64, levels int) (float64, bool) {
	sum := func(side [][]float64) float64 {
		total := 0.0
		for i, lvl := range side {
			if i >= levels {
				break
			}
			if len(lvl) >= 2 && lvl[1] > 0 {
				total += lvl[1]
			}
		}
		return total
	}
	b, a := sum(bids), sum(asks)
	if b+a == 0 {
		return 0, false
	}
	return (b - a) / (b + a), true
}

// BuySellRatio is taker buy volume over total taker volume, in [0, 1].
func BuySellRatio(trades []tradeData) (float64, bool) {
	var buy, total float64
	for _, t := range trades {
		if t.Size <= 0 {
			continue
		}
		total += t.Size
		if t.Side == "buy" {
			buy += t.Size
		}
	}
	if total == 0 {
		return 0, false
	}
	return buy / total, true
}

var _ repository.MicrostructureFeed = (*MicrostructureClient)(nil)
