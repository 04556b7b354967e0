// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the orchestrator settings that operators change at
// runtime: provider priority, disabled sources, cache TTLs and circuit
// breaker thresholds.
package config

import (
	"slices"
	"strings"
	"time"

	"github.com/penny-vault/pvquote/breaker"
	"github.com/penny-vault/pvquote/data"
)

// Duration is a time.Duration stored as text ("15m", "24h") in TOML
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type CacheTTL struct {
	Price     Duration `toml:"price"`
	EPS       Duration `toml:"eps"`
	Dividend  Duration `toml:"dividend"`
	History   Duration `toml:"history"`
	StockInfo Duration `toml:"stock_info"`
	Selloff   Duration `toml:"selloff"`
}

type CircuitBreaker struct {
	Enabled          bool     `toml:"enabled"`
	FailureThreshold int      `toml:"failure_threshold"`
	FailureWindow    Duration `toml:"failure_window"`
	Cooldown         Duration `toml:"cooldown"`
}

// Config is the persisted orchestrator configuration
type Config struct {
	PriceProviders     []string `toml:"price_providers"`
	EPSProviders       []string `toml:"eps_providers"`
	DividendProviders  []string `toml:"dividend_providers"`
	HistoryProviders   []string `toml:"history_providers"`
	StockInfoProviders []string `toml:"stock_info_providers"`
	SelloffProviders   []string `toml:"selloff_providers"`
	DisabledProviders  []string `toml:"disabled_providers"`

	CacheTTL CacheTTL `toml:"cache_ttl"`

	// DefaultRateLimit spaces calls to sources that do not declare their own
	// minimum interval
	DefaultRateLimit   Duration `toml:"default_rate_limit"`
	BatchSize          int      `toml:"batch_size"`
	PreferBatch        bool     `toml:"prefer_batch"`
	CallTimeout        Duration `toml:"call_timeout"`
	MaxConcurrentCalls int      `toml:"max_concurrent_calls"`

	// BatchTickerTimeout is added to CallTimeout for every ticker in a
	// batched call
	BatchTickerTimeout Duration `toml:"batch_ticker_timeout"`

	CircuitBreaker CircuitBreaker `toml:"circuit_breaker"`
}

// Default returns the documented defaults
func Default() Config {
	return Config{
		PriceProviders:     []string{"tiingo", "polygon", "zacks", "nasdaq"},
		EPSProviders:       []string{"edgar", "nasdaq", "zacks"},
		DividendProviders:  []string{"polygon"},
		HistoryProviders:   []string{"tiingo", "polygon", "nasdaq"},
		StockInfoProviders: []string{"polygon", "tiingo", "openfigi", "zacks"},
		SelloffProviders:   []string{"tiingo", "polygon", "zacks"},
		DisabledProviders:  []string{},
		CacheTTL: CacheTTL{
			Price:     Duration(15 * time.Minute),
			EPS:       Duration(24 * time.Hour),
			Dividend:  Duration(24 * time.Hour),
			History:   Duration(6 * time.Hour),
			StockInfo: Duration(7 * 24 * time.Hour),
			Selloff:   Duration(time.Hour),
		},
		DefaultRateLimit:   Duration(250 * time.Millisecond),
		BatchSize:          100,
		PreferBatch:        true,
		CallTimeout:        Duration(10 * time.Second),
		MaxConcurrentCalls: 8,
		BatchTickerTimeout: Duration(100 * time.Millisecond),
		CircuitBreaker: CircuitBreaker{
			Enabled:          true,
			FailureThreshold: 3,
			FailureWindow:    Duration(5 * time.Minute),
			Cooldown:         Duration(3 * time.Minute),
		},
	}
}

// Validate replaces out-of-range values with their defaults
func (cfg *Config) Validate() {
	def := Default()

	clampDuration := func(val *Duration, fallback Duration) {
		if *val <= 0 {
			*val = fallback
		}
	}

	clampDuration(&cfg.CacheTTL.Price, def.CacheTTL.Price)
	clampDuration(&cfg.CacheTTL.EPS, def.CacheTTL.EPS)
	clampDuration(&cfg.CacheTTL.Dividend, def.CacheTTL.Dividend)
	clampDuration(&cfg.CacheTTL.History, def.CacheTTL.History)
	clampDuration(&cfg.CacheTTL.StockInfo, def.CacheTTL.StockInfo)
	clampDuration(&cfg.CacheTTL.Selloff, def.CacheTTL.Selloff)
	clampDuration(&cfg.CallTimeout, def.CallTimeout)
	clampDuration(&cfg.CircuitBreaker.FailureWindow, def.CircuitBreaker.FailureWindow)
	clampDuration(&cfg.CircuitBreaker.Cooldown, def.CircuitBreaker.Cooldown)

	if cfg.DefaultRateLimit < 0 {
		cfg.DefaultRateLimit = 0
	}

	if cfg.BatchTickerTimeout < 0 {
		cfg.BatchTickerTimeout = 0
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = def.MaxConcurrentCalls
	}

	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		cfg.CircuitBreaker.FailureThreshold = def.CircuitBreaker.FailureThreshold
	}

	for _, dt := range data.AllDataTypes {
		if list := cfg.providerList(dt); list != nil {
			*list = normalizeNames(*list)
		}
	}
	cfg.DisabledProviders = normalizeNames(cfg.DisabledProviders)
}

// normalizeNames trims, lower-cases and de-duplicates provider names while
// keeping their order
func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}

	return out
}

// Clone returns a deep copy
func (cfg Config) Clone() Config {
	out := cfg
	out.PriceProviders = slices.Clone(cfg.PriceProviders)
	out.EPSProviders = slices.Clone(cfg.EPSProviders)
	out.DividendProviders = slices.Clone(cfg.DividendProviders)
	out.HistoryProviders = slices.Clone(cfg.HistoryProviders)
	out.StockInfoProviders = slices.Clone(cfg.StockInfoProviders)
	out.SelloffProviders = slices.Clone(cfg.SelloffProviders)
	out.DisabledProviders = slices.Clone(cfg.DisabledProviders)
	return out
}

func (cfg *Config) providerList(dt data.DataType) *[]string {
	switch dt {
	case data.PriceKey:
		return &cfg.PriceProviders
	case data.EPSKey:
		return &cfg.EPSProviders
	case data.DividendKey:
		return &cfg.DividendProviders
	case data.HistoryKey:
		return &cfg.HistoryProviders
	case data.StockInfoKey:
		return &cfg.StockInfoProviders
	case data.SelloffKey:
		return &cfg.SelloffProviders
	default:
		return nil
	}
}

// ProviderOrder is the configured priority list for dt
func (cfg Config) ProviderOrder(dt data.DataType) []string {
	if list := cfg.providerList(dt); list != nil {
		return slices.Clone(*list)
	}

	return nil
}

func (cfg *Config) ttl(dt data.DataType) *Duration {
	switch dt {
	case data.PriceKey:
		return &cfg.CacheTTL.Price
	case data.EPSKey:
		return &cfg.CacheTTL.EPS
	case data.DividendKey:
		return &cfg.CacheTTL.Dividend
	case data.HistoryKey:
		return &cfg.CacheTTL.History
	case data.StockInfoKey:
		return &cfg.CacheTTL.StockInfo
	case data.SelloffKey:
		return &cfg.CacheTTL.Selloff
	default:
		return nil
	}
}

// TTL is the maximum age at which a cached value for dt is served
func (cfg Config) TTL(dt data.DataType) time.Duration {
	if ttl := cfg.ttl(dt); ttl != nil {
		return ttl.Std()
	}

	return 0
}

func (cfg Config) IsDisabled(name string) bool {
	return slices.Contains(cfg.DisabledProviders, strings.ToLower(name))
}

func (cfg Config) Timeout() time.Duration {
	return cfg.CallTimeout.Std()
}

// BatchTimeout bounds one batched call covering n tickers
func (cfg Config) BatchTimeout(n int) time.Duration {
	return cfg.Timeout() + time.Duration(max(0, n))*cfg.BatchTickerTimeout.Std()
}

func (cfg Config) BreakerSettings() breaker.Settings {
	return breaker.Settings{
		Enabled:          cfg.CircuitBreaker.Enabled,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		FailureWindow:    cfg.CircuitBreaker.FailureWindow.Std(),
		Cooldown:         cfg.CircuitBreaker.Cooldown.Std(),
	}
}
