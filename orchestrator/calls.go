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
package orchestrator

import (
	"context"
	"time"

	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/provider"
)

// The registry only offers sources that implement the fetch interface for
// the requested data type, so the assertions below hold.

func fetchPrice(ctx context.Context, p provider.Provider, ticker string) data.FetchResult {
	return p.(provider.PriceFetcher).FetchPrice(ctx, ticker)
}

func fetchPrices(ctx context.Context, p provider.Provider, tickers []string) map[string]data.FetchResult {
	return provider.FetchPrices(ctx, p.(provider.PriceFetcher), tickers)
}

func fetchEPS(ctx context.Context, p provider.Provider, ticker string) data.FetchResult {
	return p.(provider.EPSFetcher).FetchEPS(ctx, ticker)
}

func fetchEPSBatch(ctx context.Context, p provider.Provider, tickers []string) map[string]data.FetchResult {
	return provider.FetchEPSBatch(ctx, p.(provider.EPSFetcher), tickers)
}

func fetchDividends(ctx context.Context, p provider.Provider, ticker string) data.FetchResult {
	return p.(provider.DividendFetcher).FetchDividends(ctx, ticker)
}

func fetchStockInfo(ctx context.Context, p provider.Provider, ticker string) data.FetchResult {
	return p.(provider.StockInfoFetcher).FetchStockInfo(ctx, ticker)
}

func fetchStockInfoBatch(ctx context.Context, p provider.Provider, tickers []string) map[string]data.FetchResult {
	return provider.FetchStockInfoBatch(ctx, p.(provider.StockInfoFetcher), tickers)
}

func fetchSelloff(ctx context.Context, p provider.Provider, ticker string) data.FetchResult {
	return p.(provider.SelloffFetcher).FetchSelloff(ctx, ticker)
}

func fetchSelloffBatch(ctx context.Context, p provider.Provider, tickers []string) map[string]data.FetchResult {
	return provider.FetchSelloffBatch(ctx, p.(provider.SelloffFetcher), tickers)
}

func fetchHistory(start, end time.Time) singleCall {
	return func(ctx context.Context, p provider.Provider, ticker string) data.FetchResult {
		return p.(provider.HistoryFetcher).FetchHistory(ctx, ticker, start, end)
	}
}

func fetchHistoryBatch(start, end time.Time) batchCall {
	return func(ctx context.Context, p provider.Provider, tickers []string) map[string]data.FetchResult {
		return provider.FetchHistoryBatch(ctx, p.(provider.HistoryFetcher), tickers, start, end)
	}
}
