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
package registry_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/provider"
	"github.com/penny-vault/pvquote/registry"
)

type stub struct {
	provider.Base
}

func (s *stub) FetchPrice(ctx context.Context, ticker string) data.FetchResult {
	return data.Succeeded(s.Name(), &data.Quote{Ticker: ticker})
}

func (s *stub) FetchEPS(ctx context.Context, ticker string) data.FetchResult {
	return data.Succeeded(s.Name(), &data.EPS{Ticker: ticker})
}

func newStub(name string, mutate func(*provider.Base)) *stub {
	s := &stub{Base: provider.Base{
		ID:       name,
		Title:    name,
		Types:    []data.DataType{data.PriceKey, data.EPSKey},
		Realtime: true,
	}}

	if mutate != nil {
		mutate(&s.Base)
	}

	return s
}

// batchStub adds a native batch price call
type batchStub struct {
	*stub
}

func (s *batchStub) FetchPrices(ctx context.Context, tickers []string) map[string]data.FetchResult {
	results := make(map[string]data.FetchResult, len(tickers))
	for _, ticker := range tickers {
		results[ticker] = s.FetchPrice(ctx, ticker)
	}
	return results
}

func newBatchStub(name string, mutate func(*provider.Base)) *batchStub {
	return &batchStub{stub: newStub(name, func(b *provider.Base) {
		b.Batch = true
		if mutate != nil {
			mutate(b)
		}
	})}
}

func names(providers []provider.Provider) []string {
	out := make([]string, len(providers))
	for idx, p := range providers {
		out[idx] = p.Name()
	}
	return out
}

var _ = Describe("Registry", func() {
	var (
		reg *registry.Registry
		cfg config.Config
	)

	BeforeEach(func() {
		cfg = config.Default()
		cfg.PreferBatch = false
	})

	It("rejects duplicate names", func() {
		reg, err := registry.New(newStub("a", nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.Register(newStub("a", nil))).To(MatchError(registry.ErrDuplicateProvider))
		Expect(reg.Names()).To(Equal([]string{"a"}))

		_, err = reg.Get("missing")
		Expect(err).To(MatchError(registry.ErrProviderNotFound))
	})

	It("follows the configured order and appends unlisted sources", func() {
		reg, _ = registry.New(newStub("a", nil), newStub("b", nil), newStub("c", nil), newStub("d", nil))
		cfg.PriceProviders = []string{"c", "unknown", "a"}

		Expect(names(reg.ProvidersOrdered(data.PriceKey, cfg))).To(Equal([]string{"c", "a", "b", "d"}))
	})

	It("filters unavailable, disabled and unsupported sources", func() {
		reg, _ = registry.New(
			newStub("a", func(b *provider.Base) { b.Available = func() bool { return false } }),
			newStub("b", nil),
			newStub("c", func(b *provider.Base) { b.Types = []data.DataType{data.EPSKey} }),
			newStub("d", nil),
		)
		cfg.PriceProviders = []string{"a", "b", "c", "d"}
		cfg.DisabledProviders = []string{"d"}

		Expect(names(reg.ProvidersOrdered(data.PriceKey, cfg))).To(Equal([]string{"b"}))
	})

	It("tries realtime price sources before historical ones", func() {
		reg, _ = registry.New(
			newStub("snapshot", func(b *provider.Base) { b.Realtime = false }),
			newStub("live", nil),
		)
		cfg.PriceProviders = []string{"snapshot", "live"}

		Expect(names(reg.ProvidersOrdered(data.PriceKey, cfg))).To(Equal([]string{"live", "snapshot"}))
		Expect(names(reg.ProvidersOrdered(data.EPSKey, cfg))).To(Equal([]string{"snapshot", "live"}))
	})

	It("puts batch sources first when batching is preferred but keeps realtime precedence", func() {
		reg, _ = registry.New(
			newStub("single", nil),
			newBatchStub("batch-historical", func(b *provider.Base) { b.Realtime = false }),
			newBatchStub("batch-live", nil),
		)
		cfg.PreferBatch = true
		cfg.PriceProviders = []string{"single", "batch-historical", "batch-live"}

		Expect(names(reg.ProvidersOrdered(data.PriceKey, cfg))).To(Equal([]string{"batch-live", "single", "batch-historical"}))
	})

	It("only moves a batch source ahead for types it can batch", func() {
		reg, _ = registry.New(
			newStub("single", nil),
			newStub("flagged", func(b *provider.Base) { b.Batch = true }),
			newBatchStub("prices-only", nil),
		)
		cfg.PreferBatch = true
		cfg.PriceProviders = []string{"single", "flagged", "prices-only"}
		cfg.EPSProviders = []string{"single", "flagged", "prices-only"}

		Expect(names(reg.ProvidersOrdered(data.PriceKey, cfg))).To(Equal([]string{"prices-only", "single", "flagged"}))
		Expect(names(reg.ProvidersOrdered(data.EPSKey, cfg))).To(Equal([]string{"single", "flagged", "prices-only"}))
	})

	It("ranks authoritative eps sources first", func() {
		reg, _ = registry.New(newStub("estimates", nil), newStub("filings", func(b *provider.Base) { b.Authoritative = true }))
		cfg.EPSProviders = []string{"estimates", "filings"}

		Expect(names(reg.ProvidersOrdered(data.EPSKey, cfg))).To(Equal([]string{"filings", "estimates"}))
	})

	It("drops a source disabled mid-process", func() {
		reg, _ = registry.New(newStub("a", nil), newStub("b", nil))
		mgr := config.NewMemory(cfg)

		Expect(names(reg.ProvidersOrdered(data.PriceKey, mgr.Current()))).To(ContainElement("a"))
		Expect(mgr.DisableProvider("a")).To(Succeed())
		Expect(names(reg.ProvidersOrdered(data.PriceKey, mgr.Current()))).To(Equal([]string{"b"}))
	})

	It("describes every registered source", func() {
		reg, _ = registry.New(newStub("a", nil), newStub("b", func(b *provider.Base) { b.Authoritative = true }))
		cfg.DisabledProviders = []string{"a"}

		rows := reg.Describe(cfg)
		Expect(rows).To(HaveLen(2))
		Expect(rows[0].Disabled).To(BeTrue())
		Expect(rows[1].Authoritative).To(BeTrue())
	})
})
