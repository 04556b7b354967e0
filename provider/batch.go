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
package provider

import (
	"context"
	"time"

	"github.com/penny-vault/pvquote/data"
)

// eachTicker is the default batch behavior: one single-item fetch per ticker
func eachTicker(ctx context.Context, tickers []string, fetch func(context.Context, string) data.FetchResult) map[string]data.FetchResult {
	results := make(map[string]data.FetchResult, len(tickers))
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			results[ticker] = data.Failed("", "%s", err.Error())
			continue
		}

		results[ticker] = fetch(ctx, ticker)
	}

	return results
}

// SupportsBatchFor reports whether p is flagged for batching and has a
// native batch call for dt. A source that batches prices but only fetches
// history one ticker at a time is not batch capable for history.
func SupportsBatchFor(p Provider, dt data.DataType) bool {
	if !p.SupportsBatch() || !Supports(p, dt) {
		return false
	}

	var ok bool
	switch dt {
	case data.PriceKey:
		_, ok = p.(BatchPriceFetcher)
	case data.EPSKey:
		_, ok = p.(BatchEPSFetcher)
	case data.HistoryKey:
		_, ok = p.(BatchHistoryFetcher)
	case data.StockInfoKey:
		_, ok = p.(BatchStockInfoFetcher)
	case data.SelloffKey:
		_, ok = p.(BatchSelloffFetcher)
	}

	return ok
}

// FetchPrices uses the source's native batch call when it has one and falls
// back to looping FetchPrice
func FetchPrices(ctx context.Context, p PriceFetcher, tickers []string) map[string]data.FetchResult {
	if batch, ok := p.(BatchPriceFetcher); ok {
		return batch.FetchPrices(ctx, tickers)
	}

	return eachTicker(ctx, tickers, p.FetchPrice)
}

func FetchEPSBatch(ctx context.Context, p EPSFetcher, tickers []string) map[string]data.FetchResult {
	if batch, ok := p.(BatchEPSFetcher); ok {
		return batch.FetchEPSBatch(ctx, tickers)
	}

	return eachTicker(ctx, tickers, p.FetchEPS)
}

func FetchHistoryBatch(ctx context.Context, p HistoryFetcher, tickers []string, start, end time.Time) map[string]data.FetchResult {
	if batch, ok := p.(BatchHistoryFetcher); ok {
		return batch.FetchHistoryBatch(ctx, tickers, start, end)
	}

	return eachTicker(ctx, tickers, func(ctx context.Context, ticker string) data.FetchResult {
		return p.FetchHistory(ctx, ticker, start, end)
	})
}

func FetchStockInfoBatch(ctx context.Context, p StockInfoFetcher, tickers []string) map[string]data.FetchResult {
	if batch, ok := p.(BatchStockInfoFetcher); ok {
		return batch.FetchStockInfoBatch(ctx, tickers)
	}

	return eachTicker(ctx, tickers, p.FetchStockInfo)
}

func FetchSelloffBatch(ctx context.Context, p SelloffFetcher, tickers []string) map[string]data.FetchResult {
	if batch, ok := p.(BatchSelloffFetcher); ok {
		return batch.FetchSelloffBatch(ctx, tickers)
	}

	return eachTicker(ctx, tickers, p.FetchSelloff)
}
