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
package orchestrator_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/penny-vault/pvquote/activity"
	"github.com/penny-vault/pvquote/breaker"
	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/orchestrator"
	"github.com/penny-vault/pvquote/provider"
	"github.com/penny-vault/pvquote/registry"
	"github.com/penny-vault/pvquote/store"
)

func testConfig(order ...string) config.Config {
	cfg := config.Default()
	cfg.PriceProviders = order
	cfg.HistoryProviders = order
	cfg.DefaultRateLimit = 0
	cfg.CallTimeout = config.Duration(200 * time.Millisecond)
	return cfg
}

func newOrchestrator(cfg config.Config, st store.Store, sink activity.Sink, sources ...provider.Provider) (*orchestrator.Orchestrator, *config.Manager) {
	reg, err := registry.New(sources...)
	Expect(err).NotTo(HaveOccurred())

	mgr := config.NewMemory(cfg)
	orch, err := orchestrator.New(orchestrator.Options{
		Registry: reg,
		Config:   mgr,
		Store:    st,
		Sink:     sink,
	})
	Expect(err).NotTo(HaveOccurred())

	return orch, mgr
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		st       *store.Memory
		recorder *activity.Recorder
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.NewMemory()
		recorder = activity.NewRecorder(200)
	})

	It("requires a registry", func() {
		_, err := orchestrator.New(orchestrator.Options{})
		Expect(err).To(MatchError(orchestrator.ErrNoRegistry))
	})

	Describe("cache", func() {
		It("serves a fresh entry without contacting any source", func() {
			a := newFake("a", map[string]float64{"AAPL": 190})
			orch, _ := newOrchestrator(testConfig("a"), st, recorder, a)

			Expect(store.PutPrice(ctx, st, "AAPL", "a", &data.Quote{Ticker: "AAPL", Price: 187.5})).To(Succeed())

			res := orch.FetchPrice(ctx, "aapl")
			Expect(res.Success).To(BeTrue())
			Expect(res.Cached).To(BeTrue())
			Expect(res.Source).To(Equal("a"))

			quote, ok := res.Quote()
			Expect(ok).To(BeTrue())
			Expect(quote.Price).To(Equal(187.5))
			Expect(a.Calls()).To(Equal(0))
		})

		It("ignores entries older than the live ttl", func() {
			a := newFake("a", map[string]float64{"AAPL": 190})
			reg, err := registry.New(a)
			Expect(err).NotTo(HaveOccurred())

			later := time.Now().Add(20 * time.Minute)
			orch, err := orchestrator.New(orchestrator.Options{
				Registry: reg,
				Config:   config.NewMemory(testConfig("a")),
				Store:    st,
				Clock:    func() time.Time { return later },
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(store.PutPrice(ctx, st, "AAPL", "a", &data.Quote{Ticker: "AAPL", Price: 187.5})).To(Succeed())

			res := orch.FetchPrice(ctx, "AAPL")
			Expect(res.Success).To(BeTrue())
			Expect(res.Cached).To(BeFalse())
			Expect(a.Calls()).To(Equal(1))
		})

		It("re-reads the ttl from configuration on every request", func() {
			a := newFake("a", map[string]float64{"AAPL": 190})
			orch, mgr := newOrchestrator(testConfig("a"), st, recorder, a)

			Expect(store.PutPrice(ctx, st, "AAPL", "a", &data.Quote{Ticker: "AAPL", Price: 187.5})).To(Succeed())
			Expect(orch.FetchPrice(ctx, "AAPL").Cached).To(BeTrue())

			Expect(mgr.SetCacheTTL(data.PriceKey, time.Nanosecond)).To(Succeed())
			Expect(orch.FetchPrice(ctx, "AAPL").Cached).To(BeFalse())
			Expect(a.Calls()).To(Equal(1))
		})

		It("skips the cache read on a forced refresh but still writes back", func() {
			a := newFake("a", map[string]float64{"AAPL": 190})
			orch, _ := newOrchestrator(testConfig("a"), st, recorder, a)

			Expect(store.PutPrice(ctx, st, "AAPL", "a", &data.Quote{Ticker: "AAPL", Price: 187.5})).To(Succeed())

			res := orch.FetchPrice(ctx, "AAPL", orchestrator.ForceRefresh())
			Expect(res.Cached).To(BeFalse())
			Expect(a.Calls()).To(Equal(1))

			quote, _, err := store.GetPrice(ctx, st, "AAPL")
			Expect(err).NotTo(HaveOccurred())
			Expect(quote.Price).To(Equal(190.0))
		})

		It("writes only successful results", func() {
			a := newFake("a", map[string]float64{})
			orch, _ := newOrchestrator(testConfig("a"), st, recorder, a)

			Expect(orch.FetchPrice(ctx, "ZZZ").Success).To(BeFalse())

			stats, err := orch.CacheStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Entries).To(BeZero())
		})

		It("keys history by the requested range", func() {
			a := newFake("a", map[string]float64{"SPY": 500})
			orch, _ := newOrchestrator(testConfig("a"), st, recorder, a)

			start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
			end := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)

			first := orch.FetchPriceHistory(ctx, "SPY", start, end)
			Expect(first.Success).To(BeTrue())

			second := orch.FetchPriceHistory(ctx, "SPY", start, end)
			Expect(second.Cached).To(BeTrue())
			bars, ok := second.History()
			Expect(ok).To(BeTrue())
			Expect(bars).To(HaveLen(1))
			Expect(bars[0].Close).To(Equal(500.0))

			orch.FetchPriceHistory(ctx, "SPY", start.AddDate(0, -1, 0), end)
			Expect(a.Calls()).To(Equal(2))
		})
	})

	Describe("fallback", func() {
		It("returns the first success after earlier sources fail", func() {
			a := newFake("a", map[string]float64{})
			b := newFake("b", map[string]float64{})
			c := newFake("c", map[string]float64{"MSFT": 410})
			orch, _ := newOrchestrator(testConfig("a", "b", "c"), st, recorder, a, b, c)

			res := orch.FetchPrice(ctx, "MSFT")
			Expect(res.Success).To(BeTrue())
			Expect(res.Source).To(Equal("c"))

			Expect(orch.BreakerStatus("a").FailureCount).To(Equal(1))
			Expect(orch.BreakerStatus("b").FailureCount).To(Equal(1))
			Expect(orch.BreakerStatus("c").FailureCount).To(Equal(0))
			Expect(orch.BreakerStatus("c").LastSuccess).NotTo(BeZero())
		})

		It("stops at the first success", func() {
			a := newFake("a", map[string]float64{"MSFT": 410})
			b := newFake("b", map[string]float64{"MSFT": 411})
			orch, _ := newOrchestrator(testConfig("a", "b"), st, recorder, a, b)

			Expect(orch.FetchPrice(ctx, "MSFT").Source).To(Equal("a"))
			Expect(b.Calls()).To(Equal(0))
		})

		It("aggregates every failure when all sources fail", func() {
			a := newFake("a", map[string]float64{})
			b := newFake("b", map[string]float64{})
			orch, _ := newOrchestrator(testConfig("a", "b"), st, recorder, a, b)

			res := orch.FetchPrice(ctx, "ZZZ")
			Expect(res.Success).To(BeFalse())
			Expect(res.Error).To(Equal("all providers failed: a: no price for ZZZ; b: no price for ZZZ"))
		})

		It("names the circuit open skip in the aggregate", func() {
			cfg := testConfig("a", "b")
			cfg.CircuitBreaker.FailureThreshold = 1
			a := newFake("a", map[string]float64{})
			b := newFake("b", map[string]float64{})
			orch, _ := newOrchestrator(cfg, st, recorder, a, b)

			orch.FetchPrice(ctx, "ZZZ")
			Expect(orch.BreakerStatus("a").State).To(Equal(breaker.Open))

			res := orch.FetchPrice(ctx, "YYY")
			Expect(res.Error).To(ContainSubstring("a: circuit open"))
			Expect(res.Error).To(ContainSubstring("b: circuit open"))
			Expect(a.Calls()).To(Equal(1))

			messages := []string{}
			for _, evt := range recorder.Events() {
				messages = append(messages, evt.Message)
			}
			Expect(messages).To(ContainElement("circuit open, skipped"))
		})

		It("reports a missing candidate list", func() {
			a := newFake("a", map[string]float64{"MSFT": 410})
			orch, mgr := newOrchestrator(testConfig("a"), st, recorder, a)
			Expect(mgr.DisableProvider("a")).To(Succeed())

			res := orch.FetchPrice(ctx, "MSFT")
			Expect(res.Success).To(BeFalse())
			Expect(res.Error).To(Equal("no providers available for price"))
		})

		It("treats a panic as a failure and moves on", func() {
			a := newFake("a", map[string]float64{"MSFT": 1})
			a.panics = true
			b := newFake("b", map[string]float64{"MSFT": 410})
			orch, _ := newOrchestrator(testConfig("a", "b"), st, recorder, a, b)

			var res data.FetchResult
			Expect(func() { res = orch.FetchPrice(ctx, "MSFT") }).NotTo(Panic())
			Expect(res.Source).To(Equal("b"))
			Expect(orch.BreakerStatus("a").FailureCount).To(Equal(1))
		})

		It("is unaffected by a panicking activity sink", func() {
			a := newFake("a", map[string]float64{"MSFT": 410})
			broken := activity.Func(func(activity.Level, string, string, string) {
				panic("sink down")
			})
			orch, _ := newOrchestrator(testConfig("a"), st, broken, a)

			Expect(orch.FetchPrice(ctx, "MSFT").Success).To(BeTrue())
		})
	})

	Describe("ordering", func() {
		It("tries a realtime source before a higher priority historical one", func() {
			historical := newFake("historical", map[string]float64{"IBM": 180})
			live := newFake("live", map[string]float64{"IBM": 181})
			live.Realtime = true
			orch, _ := newOrchestrator(testConfig("historical", "live"), st, recorder, historical, live)

			res := orch.FetchPrice(ctx, "IBM")
			Expect(res.Source).To(Equal("live"))
			Expect(historical.Calls()).To(Equal(0))
		})

		It("drops a disabled source without a restart", func() {
			a := newFake("a", map[string]float64{"IBM": 180})
			b := newFake("b", map[string]float64{"IBM": 181})
			orch, mgr := newOrchestrator(testConfig("a", "b"), st, recorder, a, b)

			Expect(orch.Providers(data.PriceKey)).To(HaveLen(2))
			Expect(mgr.DisableProvider("a")).To(Succeed())

			providers := orch.Providers(data.PriceKey)
			Expect(providers).To(HaveLen(1))
			Expect(providers[0].Name()).To(Equal("b"))
			Expect(orch.FetchPrice(ctx, "IBM").Source).To(Equal("b"))
		})
	})

	Describe("timeout", func() {
		var hang chan struct{}

		BeforeEach(func() {
			hang = make(chan struct{})
		})

		AfterEach(func() {
			close(hang)
		})

		It("returns control within the call timeout and tries the next source", func() {
			a := newFake("a", map[string]float64{"GE": 1})
			a.hang = hang
			b := newFake("b", map[string]float64{"GE": 160})
			orch, _ := newOrchestrator(testConfig("a", "b"), st, recorder, a, b)

			started := time.Now()
			res := orch.FetchPrice(ctx, "GE")
			elapsed := time.Since(started)

			Expect(res.Source).To(Equal("b"))
			Expect(elapsed).To(BeNumerically(">=", 200*time.Millisecond))
			Expect(elapsed).To(BeNumerically("<", 600*time.Millisecond))
			Expect(orch.BreakerStatus("a").FailureCount).To(Equal(1))
		})

		It("describes the timeout in the aggregate", func() {
			a := newFake("a", map[string]float64{"GE": 1})
			a.hang = hang
			orch, _ := newOrchestrator(testConfig("a"), st, recorder, a)

			res := orch.FetchPrice(ctx, "GE")
			Expect(res.Error).To(Equal("all providers failed: a: timeout after 200ms"))
		})
	})

	Describe("batch", func() {
		It("returns an empty map for an empty list without touching anything", func() {
			a := newBatchFake("a", map[string]float64{"AAA": 1})
			orch, _ := newOrchestrator(testConfig("a"), st, recorder, a)

			Expect(orch.FetchPrices(ctx, nil)).To(BeEmpty())
			Expect(orch.FetchPrices(ctx, []string{})).To(BeEmpty())
			Expect(a.Calls() + a.BatchCalls()).To(Equal(0))
			Expect(recorder.Len()).To(Equal(0))
		})

		It("falls through to the next batch source for unresolved tickers", func() {
			a := newBatchFake("a", map[string]float64{"AAA": 10})
			b := newBatchFake("b", map[string]float64{"AAA": 11, "ZZZ": 20})
			c := newFake("c", map[string]float64{"AAA": 12, "ZZZ": 21})
			orch, _ := newOrchestrator(testConfig("a", "b", "c"), st, recorder, a, b, c)

			results := orch.FetchPrices(ctx, []string{"AAA", "ZZZ"})
			Expect(results).To(HaveLen(2))

			Expect(results["AAA"].Source).To(Equal("a"))
			aaa, _ := results["AAA"].Quote()
			Expect(aaa.Price).To(Equal(10.0))

			Expect(results["ZZZ"].Source).To(Equal("b"))
			zzz, _ := results["ZZZ"].Quote()
			Expect(zzz.Price).To(Equal(20.0))

			Expect(a.BatchCalls()).To(Equal(1))
			Expect(b.Requested()).To(Equal([][]string{{"ZZZ"}}))
			Expect(c.Calls()).To(Equal(0))
			Expect(orch.BreakerStatus("a").FailureCount).To(Equal(0))
		})

		It("loops single calls on a source without batch support", func() {
			a := newBatchFake("a", map[string]float64{"AAA": 10})
			c := newFake("c", map[string]float64{"ZZZ": 21, "YYY": 22})
			orch, _ := newOrchestrator(testConfig("a", "c"), st, recorder, a, c)

			results := orch.FetchPrices(ctx, []string{"AAA", "ZZZ", "YYY"})
			Expect(results["ZZZ"].Source).To(Equal("c"))
			Expect(results["YYY"].Source).To(Equal("c"))
			Expect(c.Calls()).To(Equal(2))
		})

		It("only fetches tickers missing from the cache", func() {
			a := newBatchFake("a", map[string]float64{"AAA": 10, "ZZZ": 20})
			orch, _ := newOrchestrator(testConfig("a"), st, recorder, a)

			Expect(store.PutPrice(ctx, st, "AAA", "a", &data.Quote{Ticker: "AAA", Price: 9})).To(Succeed())

			results := orch.FetchPrices(ctx, []string{"AAA", "zzz", "ZZZ"})
			Expect(results["AAA"].Cached).To(BeTrue())
			Expect(results["ZZZ"].Cached).To(BeFalse())
			Expect(a.Requested()).To(Equal([][]string{{"ZZZ"}}))
		})

		It("splits large requests into chunks", func() {
			cfg := testConfig("a")
			cfg.BatchSize = 2
			a := newBatchFake("a", map[string]float64{"A": 1, "B": 2, "C": 3})
			orch, _ := newOrchestrator(cfg, st, recorder, a)

			results := orch.FetchPrices(ctx, []string{"A", "B", "C"})
			Expect(results).To(HaveLen(3))
			Expect(a.Requested()).To(Equal([][]string{{"A", "B"}, {"C"}}))
		})

		It("gives a batch call more time the more tickers it carries", func() {
			cfg := testConfig("a")
			cfg.BatchTickerTimeout = config.Duration(100 * time.Millisecond)
			a := newBatchFake("a", map[string]float64{"A": 1, "B": 2, "C": 3, "D": 4})
			a.batchDelay = 350 * time.Millisecond
			orch, _ := newOrchestrator(cfg, st, recorder, a)

			results := orch.FetchPrices(ctx, []string{"A", "B", "C", "D"})
			Expect(results).To(HaveLen(4))
			for ticker, res := range results {
				Expect(res.Success).To(BeTrue(), ticker)
				Expect(res.Source).To(Equal("a"))
			}
			Expect(a.BatchCalls()).To(Equal(1))
			Expect(orch.BreakerStatus("a").FailureCount).To(Equal(0))
		})

		It("times out a batch call past its scaled bound", func() {
			cfg := testConfig("a")
			cfg.BatchTickerTimeout = config.Duration(10 * time.Millisecond)
			a := newBatchFake("a", map[string]float64{"A": 1, "B": 2})
			a.batchDelay = 400 * time.Millisecond
			orch, _ := newOrchestrator(cfg, st, recorder, a)

			results := orch.FetchPrices(ctx, []string{"A", "B"})
			Expect(results["A"].Success).To(BeFalse())
			Expect(results["A"].Error).To(Equal("all providers failed: a: timeout after 220ms"))
		})

		It("fetches history one spaced call per ticker from a source that only batches prices", func() {
			cfg := testConfig("a")
			cfg.DefaultRateLimit = config.Duration(40 * time.Millisecond)
			tickers := []string{"T0", "T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8", "T9"}
			prices := make(map[string]float64, len(tickers))
			for idx, ticker := range tickers {
				prices[ticker] = float64(idx + 1)
			}

			a := newBatchFake("a", prices)
			a.delay = 30 * time.Millisecond
			orch, _ := newOrchestrator(cfg, st, recorder, a)

			start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
			results := orch.FetchPriceHistoryBatch(ctx, tickers, start, start.AddDate(0, 1, 0))
			Expect(results).To(HaveLen(len(tickers)))
			for _, ticker := range tickers {
				Expect(results[ticker].Success).To(BeTrue(), results[ticker].Error)
			}

			Expect(a.BatchCalls()).To(Equal(0))
			Expect(a.Calls()).To(Equal(len(tickers)))

			stamps := a.Stamps()
			for idx := 1; idx < len(stamps); idx++ {
				Expect(stamps[idx].Sub(stamps[idx-1])).To(BeNumerically(">=", 35*time.Millisecond))
			}
			Expect(orch.BreakerStatus("a").FailureCount).To(Equal(0))
		})

		It("aggregates failures per ticker", func() {
			a := newBatchFake("a", map[string]float64{"AAA": 10})
			c := newFake("c", map[string]float64{})
			orch, _ := newOrchestrator(testConfig("a", "c"), st, recorder, a, c)

			results := orch.FetchPrices(ctx, []string{"AAA", "ZZZ"})
			Expect(results["AAA"].Success).To(BeTrue())
			Expect(results["ZZZ"].Success).To(BeFalse())
			Expect(results["ZZZ"].Error).To(Equal("all providers failed: a: no price for ZZZ; c: no price for ZZZ"))
		})
	})

	Describe("administration", func() {
		It("clears the cache and resets breakers", func() {
			cfg := testConfig("a")
			cfg.CircuitBreaker.FailureThreshold = 1
			a := newFake("a", map[string]float64{"AAA": 10})
			orch, _ := newOrchestrator(cfg, st, recorder, a)

			Expect(orch.FetchPrice(ctx, "AAA").Success).To(BeTrue())
			Expect(orch.FetchPrice(ctx, "ZZZ").Success).To(BeFalse())
			Expect(orch.BreakerStatus("a").State).To(Equal(breaker.Open))

			orch.ResetBreaker("a")
			Expect(orch.BreakerStatus("a").State).To(Equal(breaker.Closed))

			removed, err := orch.ClearCache(ctx, data.PriceKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal(int64(1)))

			Expect(orch.FetchPrice(ctx, "ZZZ").Success).To(BeFalse())
			orch.ResetAll()
			Expect(orch.BreakerStatuses()).To(HaveLen(1))
			Expect(orch.BreakerStatuses()[0].FailureCount).To(Equal(0))
		})

		It("exports metrics on the supplied registerer", func() {
			a := newFake("a", map[string]float64{"AAA": 10})
			reg, err := registry.New(a)
			Expect(err).NotTo(HaveOccurred())

			promReg := prometheus.NewRegistry()
			orch, err := orchestrator.New(orchestrator.Options{
				Registry:   reg,
				Config:     config.NewMemory(testConfig("a")),
				Store:      st,
				Registerer: promReg,
			})
			Expect(err).NotTo(HaveOccurred())

			orch.FetchPrice(ctx, "AAA")
			orch.FetchPrice(ctx, "AAA")

			families, err := promReg.Gather()
			Expect(err).NotTo(HaveOccurred())

			names := []string{}
			for _, family := range families {
				names = append(names, family.GetName())
			}
			Expect(names).To(ContainElements(
				"pvquote_fetch_attempts_total",
				"pvquote_fetch_duration_seconds",
				"pvquote_cache_hits_total",
				"pvquote_breaker_state",
			))
		})
	})
})

var _ = Describe("Spacer", func() {
	It("spaces consecutive calls to one source", func() {
		spacer := orchestrator.NewSpacer()
		ctx := context.Background()

		started := time.Now()
		Expect(spacer.Wait(ctx, "tiingo", 100*time.Millisecond)).To(Succeed())
		Expect(spacer.Wait(ctx, "tiingo", 100*time.Millisecond)).To(Succeed())
		Expect(time.Since(started)).To(BeNumerically(">=", 90*time.Millisecond))
	})

	It("does not delay other sources or zero intervals", func() {
		spacer := orchestrator.NewSpacer()
		ctx := context.Background()

		started := time.Now()
		Expect(spacer.Wait(ctx, "tiingo", time.Second)).To(Succeed())
		Expect(spacer.Wait(ctx, "polygon", time.Second)).To(Succeed())
		Expect(spacer.Wait(ctx, "nasdaq", 0)).To(Succeed())
		Expect(spacer.Wait(ctx, "nasdaq", 0)).To(Succeed())
		Expect(time.Since(started)).To(BeNumerically("<", 100*time.Millisecond))
	})

	It("gives up when the context ends", func() {
		spacer := orchestrator.NewSpacer()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		Expect(spacer.Wait(ctx, "edgar", time.Minute)).To(Succeed())
		Expect(spacer.Wait(ctx, "edgar", time.Minute)).NotTo(Succeed())
	})
})
