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
	"slices"
	"sync"
	"time"

	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/provider"
)

// fakeSource counts calls and answers from a fixed price table. It can be
// told to hang until released or to panic.
type fakeSource struct {
	provider.Base

	mu         sync.Mutex
	prices     map[string]float64
	calls      int
	batchCalls int
	requested  [][]string
	hang       chan struct{}
	panics     bool
	delay      time.Duration
	stamps     []time.Time
}

func newFake(name string, prices map[string]float64) *fakeSource {
	return &fakeSource{
		Base: provider.Base{
			ID:    name,
			Title: name,
			Types: []data.DataType{data.PriceKey, data.HistoryKey},
		},
		prices: prices,
	}
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) BatchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls
}

func (f *fakeSource) Requested() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requested)
}

func (f *fakeSource) Stamps() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.stamps)
}

func (f *fakeSource) quote(ticker string) data.FetchResult {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.hang != nil {
		<-f.hang
	}

	if f.panics {
		panic("source exploded")
	}

	price, ok := f.prices[ticker]
	if !ok {
		return data.Failed(f.ID, "no price for %s", ticker)
	}

	return data.Succeeded(f.ID, &data.Quote{Ticker: ticker, Price: price, Currency: "USD", AsOf: time.Now()})
}

func (f *fakeSource) FetchPrice(ctx context.Context, ticker string) data.FetchResult {
	f.mu.Lock()
	f.calls++
	f.stamps = append(f.stamps, time.Now())
	f.mu.Unlock()

	return f.quote(ticker)
}

func (f *fakeSource) FetchHistory(ctx context.Context, ticker string, start, end time.Time) data.FetchResult {
	f.mu.Lock()
	f.calls++
	f.stamps = append(f.stamps, time.Now())
	f.mu.Unlock()

	res := f.quote(ticker)
	if !res.Success {
		return res
	}

	quote, _ := res.Quote()
	return data.Succeeded(f.ID, []*data.Eod{{Date: start, Ticker: ticker, Close: quote.Price}})
}

// batchSource adds a native batch price call. History is still fetched
// one ticker at a time.
type batchSource struct {
	*fakeSource
	batchDelay time.Duration
}

func newBatchFake(name string, prices map[string]float64) *batchSource {
	src := &batchSource{fakeSource: newFake(name, prices)}
	src.Batch = true
	return src
}

func (b *batchSource) FetchPrices(ctx context.Context, tickers []string) map[string]data.FetchResult {
	b.mu.Lock()
	b.batchCalls++
	b.requested = append(b.requested, slices.Clone(tickers))
	b.mu.Unlock()

	if b.batchDelay > 0 {
		time.Sleep(b.batchDelay)
	}

	results := make(map[string]data.FetchResult, len(tickers))
	for _, ticker := range tickers {
		results[ticker] = b.quote(ticker)
	}

	return results
}
