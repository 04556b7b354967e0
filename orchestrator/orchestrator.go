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

// Package orchestrator answers market data requests by consulting the cache
// and then trying each eligible source in priority order until one
// succeeds. Every source call is bounded by a timeout, spaced according to
// the source's rate limit and tracked by a circuit breaker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/penny-vault/pvquote/activity"
	"github.com/penny-vault/pvquote/breaker"
	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/provider"
	"github.com/penny-vault/pvquote/registry"
	"github.com/penny-vault/pvquote/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNoRegistry = errors.New("orchestrator requires a provider registry")
)

// Options carries the shared state an Orchestrator works with. Only
// Registry is required.
type Options struct {
	Registry *registry.Registry
	Breaker  *breaker.Breaker
	Config   *config.Manager
	Store    store.Store
	Sink     activity.Sink
	Spacer   *Spacer

	// Registerer receives the orchestrator metrics; nil leaves them
	// unregistered
	Registerer prometheus.Registerer
	Clock      func() time.Time
}

type workerPool struct {
	size int
	sem  *semaphore.Weighted
}

type Orchestrator struct {
	registry *registry.Registry
	breaker  *breaker.Breaker
	config   *config.Manager
	store    store.Store
	sink     activity.Sink
	spacer   *Spacer
	metrics  *metrics
	tracer   trace.Tracer
	now      func() time.Time

	pool atomic.Pointer[workerPool]
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}

	if opts.Config == nil {
		opts.Config = config.NewMemory(config.Default())
	}

	cfg := opts.Config.Current()

	if opts.Breaker == nil {
		opts.Breaker = breaker.New(cfg.BreakerSettings())
	}

	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}

	if opts.Sink == nil {
		opts.Sink = activity.Zerolog{}
	}

	if opts.Spacer == nil {
		opts.Spacer = NewSpacer()
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	orch := &Orchestrator{
		registry: opts.Registry,
		breaker:  opts.Breaker,
		config:   opts.Config,
		store:    opts.Store,
		sink:     opts.Sink,
		spacer:   opts.Spacer,
		metrics:  newMetrics(opts.Registerer),
		tracer:   otel.Tracer("github.com/penny-vault/pvquote/orchestrator"),
		now:      opts.Clock,
	}

	orch.apply(cfg)
	opts.Config.Subscribe(orch.apply)

	return orch, nil
}

// apply pushes live configuration into the breaker and the worker pool
func (orch *Orchestrator) apply(cfg config.Config) {
	orch.breaker.Configure(cfg.BreakerSettings())

	if current := orch.pool.Load(); current != nil && current.size == cfg.MaxConcurrentCalls {
		return
	}

	orch.pool.Store(&workerPool{
		size: cfg.MaxConcurrentCalls,
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
	})
}

func (orch *Orchestrator) workers() *semaphore.Weighted {
	return orch.pool.Load().sem
}

type fetchOptions struct {
	force bool
}

type Option func(*fetchOptions)

// ForceRefresh skips the cache read. Successful results are still written
// back.
func ForceRefresh() Option {
	return func(fo *fetchOptions) {
		fo.force = true
	}
}

func newFetchOptions(opts []Option) fetchOptions {
	fo := fetchOptions{}
	for _, opt := range opts {
		opt(&fo)
	}
	return fo
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func sameKey(ticker string) string {
	return ticker
}

// historyKey caches history under a key that includes the requested range
func historyKey(start, end time.Time) func(string) string {
	return func(ticker string) string {
		return fmt.Sprintf("%s:%s:%s", ticker, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
}

type singleCall func(ctx context.Context, p provider.Provider, ticker string) data.FetchResult

type batchCall func(ctx context.Context, p provider.Provider, tickers []string) map[string]data.FetchResult

func (orch *Orchestrator) FetchPrice(ctx context.Context, ticker string, opts ...Option) data.FetchResult {
	return orch.fetch(ctx, data.PriceKey, ticker, sameKey, fetchPrice, opts)
}

func (orch *Orchestrator) FetchPrices(ctx context.Context, tickers []string, opts ...Option) map[string]data.FetchResult {
	return orch.fetchBatch(ctx, data.PriceKey, tickers, sameKey, fetchPrice, fetchPrices, opts)
}

func (orch *Orchestrator) FetchEPS(ctx context.Context, ticker string, opts ...Option) data.FetchResult {
	return orch.fetch(ctx, data.EPSKey, ticker, sameKey, fetchEPS, opts)
}

func (orch *Orchestrator) FetchEPSBatch(ctx context.Context, tickers []string, opts ...Option) map[string]data.FetchResult {
	return orch.fetchBatch(ctx, data.EPSKey, tickers, sameKey, fetchEPS, fetchEPSBatch, opts)
}

func (orch *Orchestrator) FetchDividends(ctx context.Context, ticker string, opts ...Option) data.FetchResult {
	return orch.fetch(ctx, data.DividendKey, ticker, sameKey, fetchDividends, opts)
}

func (orch *Orchestrator) FetchStockInfo(ctx context.Context, ticker string, opts ...Option) data.FetchResult {
	return orch.fetch(ctx, data.StockInfoKey, ticker, sameKey, fetchStockInfo, opts)
}

func (orch *Orchestrator) FetchStockInfoBatch(ctx context.Context, tickers []string, opts ...Option) map[string]data.FetchResult {
	return orch.fetchBatch(ctx, data.StockInfoKey, tickers, sameKey, fetchStockInfo, fetchStockInfoBatch, opts)
}

func (orch *Orchestrator) FetchSelloff(ctx context.Context, ticker string, opts ...Option) data.FetchResult {
	return orch.fetch(ctx, data.SelloffKey, ticker, sameKey, fetchSelloff, opts)
}

func (orch *Orchestrator) FetchSelloffBatch(ctx context.Context, tickers []string, opts ...Option) map[string]data.FetchResult {
	return orch.fetchBatch(ctx, data.SelloffKey, tickers, sameKey, fetchSelloff, fetchSelloffBatch, opts)
}

// FetchPriceHistory returns daily bars for ticker between start and end
func (orch *Orchestrator) FetchPriceHistory(ctx context.Context, ticker string, start, end time.Time, opts ...Option) data.FetchResult {
	return orch.fetch(ctx, data.HistoryKey, ticker, historyKey(start, end), fetchHistory(start, end), opts)
}

func (orch *Orchestrator) FetchPriceHistoryBatch(ctx context.Context, tickers []string, start, end time.Time, opts ...Option) map[string]data.FetchResult {
	return orch.fetchBatch(ctx, data.HistoryKey, tickers, historyKey(start, end), fetchHistory(start, end), fetchHistoryBatch(start, end), opts)
}

// Fetch dispatches on dt. History requests use the trailing year.
func (orch *Orchestrator) Fetch(ctx context.Context, dt data.DataType, ticker string, opts ...Option) data.FetchResult {
	switch dt {
	case data.PriceKey:
		return orch.FetchPrice(ctx, ticker, opts...)
	case data.EPSKey:
		return orch.FetchEPS(ctx, ticker, opts...)
	case data.DividendKey:
		return orch.FetchDividends(ctx, ticker, opts...)
	case data.HistoryKey:
		end := orch.now()
		return orch.FetchPriceHistory(ctx, ticker, end.AddDate(-1, 0, 0), end, opts...)
	case data.StockInfoKey:
		return orch.FetchStockInfo(ctx, ticker, opts...)
	case data.SelloffKey:
		return orch.FetchSelloff(ctx, ticker, opts...)
	default:
		return data.Failed("", "%s: %q", data.ErrUnknownDataType.Error(), dt)
	}
}

// fetch implements the single ticker algorithm: cache, then each candidate
// in order until the first success
func (orch *Orchestrator) fetch(ctx context.Context, dt data.DataType, ticker string, keyOf func(string) string, call singleCall, opts []Option) data.FetchResult {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return data.Failed("", "ticker is required")
	}

	fo := newFetchOptions(opts)
	cfg := orch.config.Current()

	if !fo.force {
		if res, ok := orch.cached(ctx, cfg, dt, keyOf(ticker), ticker); ok {
			return res
		}
	}

	candidates := orch.registry.ProvidersOrdered(dt, cfg)
	if len(candidates) == 0 {
		activity.Safe(orch.sink, activity.Warn, "", fmt.Sprintf(noProvidersFormat, dt), ticker)
		return data.Failed("", noProvidersFormat, dt)
	}

	attempts := make([]attempt, 0, len(candidates))
	for _, p := range candidates {
		res, att := orch.trySingle(ctx, cfg, dt, p, ticker, call)
		if att.kind == kindSuccess {
			orch.remember(ctx, dt, keyOf(ticker), res)
			return res
		}

		attempts = append(attempts, att)
	}

	return data.Failed("", "%s", aggregate(attempts))
}

// admit performs the checks made before any call to p: availability, the
// circuit, and request spacing. Circuit-open skips never wait on the spacer.
func (orch *Orchestrator) admit(ctx context.Context, cfg config.Config, dt data.DataType, p provider.Provider, ticker string) (attempt, bool) {
	name := p.Name()

	if !p.IsAvailable() {
		att := skippedUnavailable(name)
		orch.report(dt, ticker, att)
		return att, false
	}

	if !orch.breaker.CanExecute(name) {
		att := skippedCircuitOpen(name)
		orch.report(dt, ticker, att)
		return att, false
	}

	interval := p.RateLimit()
	if interval <= 0 {
		interval = cfg.DefaultRateLimit.Std()
	}

	if err := orch.spacer.Wait(ctx, name, interval); err != nil {
		att := canceled(name, err)
		orch.settle(name, att)
		orch.report(dt, ticker, att)
		return att, false
	}

	return attempt{}, true
}

func (orch *Orchestrator) trySingle(ctx context.Context, cfg config.Config, dt data.DataType, p provider.Provider, ticker string, call singleCall) (data.FetchResult, attempt) {
	name := p.Name()

	if att, ok := orch.admit(ctx, cfg, dt, p, ticker); !ok {
		return data.FetchResult{}, att
	}

	activity.Safe(orch.sink, activity.Debug, name, fmt.Sprintf("fetching %s", dt), ticker)

	spanCtx, span := orch.startSpan(ctx, name, dt, 1)
	timeout := cfg.Timeout()
	started := time.Now()

	res, err := execute(spanCtx, orch.workers(), timeout, func(callCtx context.Context) data.FetchResult {
		return call(callCtx, p, ticker)
	})

	var att attempt
	switch {
	case err != nil:
		att = classify(name, timeout, err)
	case res.Success:
		if res.Source == "" {
			res.Source = name
		}
		att = attempt{provider: name, kind: kindSuccess, message: fmt.Sprintf("%s fetched", dt)}
	default:
		att = failedWith(name, res)
	}

	orch.settle(name, att)
	orch.observe(span, dt, att, time.Since(started))
	orch.report(dt, ticker, att)

	return res, att
}

// classify maps an execute error to an attempt
func classify(name string, timeout time.Duration, err error) attempt {
	switch {
	case errors.Is(err, errTimeout):
		return timedOut(name, timeout)
	case errors.Is(err, ErrProviderPanic):
		return unexpected(name, err)
	default:
		return canceled(name, err)
	}
}

// settle records the attempt with the breaker. Outcomes that are neither a
// success nor a failure hand back any probe slot they were granted.
func (orch *Orchestrator) settle(name string, att attempt) {
	switch {
	case att.kind == kindSuccess:
		orch.breaker.RecordSuccess(name)
	case att.kind.countsAgainstBreaker():
		orch.breaker.RecordFailure(name)
	default:
		orch.breaker.Release(name)
	}

	orch.metrics.breakerState.WithLabelValues(name).Set(float64(orch.breaker.Status(name).State))
}

func (orch *Orchestrator) startSpan(ctx context.Context, name string, dt data.DataType, tickers int) (context.Context, trace.Span) {
	return orch.tracer.Start(ctx, "pvquote.attempt", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.String("data_type", string(dt)),
		attribute.Int("tickers", tickers),
	))
}

// observe closes the span and records metrics for an executed call
func (orch *Orchestrator) observe(span trace.Span, dt data.DataType, att attempt, elapsed time.Duration) {
	orch.metrics.duration.WithLabelValues(att.provider, string(dt)).Observe(elapsed.Seconds())

	span.SetAttributes(attribute.String("outcome", string(att.kind)))
	if att.kind != kindSuccess {
		span.SetStatus(codes.Error, att.message)
	}
	span.End()
}

// report counts the attempt and forwards it to the activity sink
func (orch *Orchestrator) report(dt data.DataType, ticker string, att attempt) {
	orch.metrics.attempts.WithLabelValues(att.provider, string(dt), string(att.kind)).Inc()

	switch att.kind {
	case kindSuccess:
		activity.Safe(orch.sink, activity.Info, att.provider, att.message, ticker)
	case kindCircuitOpen:
		activity.Safe(orch.sink, activity.Info, att.provider, "circuit open, skipped", ticker)
	case kindUnavailable:
		activity.Safe(orch.sink, activity.Debug, att.provider, "unavailable, skipped", ticker)
	case kindCanceled:
		activity.Safe(orch.sink, activity.Debug, att.provider, att.message, ticker)
	case kindError:
		activity.Safe(orch.sink, activity.Error, att.provider, att.message, ticker)
	default:
		activity.Safe(orch.sink, activity.Warn, att.provider, att.message, ticker)
	}
}

// cached returns a stored result younger than the live TTL for dt
func (orch *Orchestrator) cached(ctx context.Context, cfg config.Config, dt data.DataType, key, ticker string) (data.FetchResult, bool) {
	entry, err := orch.store.Get(ctx, dt, key)
	if err != nil {
		log.Warn().Err(err).Str("DataType", string(dt)).Str("Ticker", ticker).Msg("cache read failed")
		return data.FetchResult{}, false
	}

	if entry == nil || entry.Age(orch.now()) >= cfg.TTL(dt) {
		return data.FetchResult{}, false
	}

	payload, err := data.Decode(dt, entry.Payload)
	if err != nil {
		log.Warn().Err(err).Str("DataType", string(dt)).Str("Ticker", ticker).Msg("could not decode cached payload")
		return data.FetchResult{}, false
	}

	orch.metrics.cacheHits.WithLabelValues(string(dt)).Inc()
	activity.Safe(orch.sink, activity.Debug, entry.Source, fmt.Sprintf("%s served from cache", dt), ticker)

	return data.Succeeded(entry.Source, payload).AsCached(entry.UpdatedAt), true
}

// remember writes a successful result back to the cache. A write failure is
// logged and otherwise ignored.
func (orch *Orchestrator) remember(ctx context.Context, dt data.DataType, key string, res data.FetchResult) {
	payload, err := data.Encode(res.Data)
	if err != nil {
		log.Warn().Err(err).Str("DataType", string(dt)).Str("Key", key).Msg("could not encode result for cache")
		return
	}

	err = orch.store.Put(context.WithoutCancel(ctx), store.Entry{
		DataType:  dt,
		Ticker:    key,
		Source:    res.Source,
		Payload:   payload,
		UpdatedAt: orch.now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("DataType", string(dt)).Str("Key", key).Msg("cache write failed")
	}
}
