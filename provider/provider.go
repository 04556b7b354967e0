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
	"slices"
	"time"

	"github.com/penny-vault/pvquote/data"
)

// Provider describes a market data source. The metadata methods must be cheap
// and must not perform network I/O beyond a minimal reachability check.
type Provider interface {
	Name() string
	Label() string
	DataTypes() []data.DataType
	IsAvailable() bool

	// RateLimit is the minimum interval between two requests to the source
	RateLimit() time.Duration
	SupportsBatch() bool

	// IsAuthoritative reports whether the source serves regulatory filings
	IsAuthoritative() bool

	// IsRealtime reports whether quotes are live rather than periodic snapshots
	IsRealtime() bool
}

// Fetch methods never return Go errors; failures are reported through an
// unsuccessful data.FetchResult.

type PriceFetcher interface {
	Provider
	FetchPrice(ctx context.Context, ticker string) data.FetchResult
}

type BatchPriceFetcher interface {
	FetchPrices(ctx context.Context, tickers []string) map[string]data.FetchResult
}

type EPSFetcher interface {
	Provider
	FetchEPS(ctx context.Context, ticker string) data.FetchResult
}

type BatchEPSFetcher interface {
	FetchEPSBatch(ctx context.Context, tickers []string) map[string]data.FetchResult
}

type DividendFetcher interface {
	Provider
	FetchDividends(ctx context.Context, ticker string) data.FetchResult
}

type HistoryFetcher interface {
	Provider
	FetchHistory(ctx context.Context, ticker string, start, end time.Time) data.FetchResult
}

type BatchHistoryFetcher interface {
	FetchHistoryBatch(ctx context.Context, tickers []string, start, end time.Time) map[string]data.FetchResult
}

type StockInfoFetcher interface {
	Provider
	FetchStockInfo(ctx context.Context, ticker string) data.FetchResult
}

type BatchStockInfoFetcher interface {
	FetchStockInfoBatch(ctx context.Context, tickers []string) map[string]data.FetchResult
}

type SelloffFetcher interface {
	Provider
	FetchSelloff(ctx context.Context, ticker string) data.FetchResult
}

type BatchSelloffFetcher interface {
	FetchSelloffBatch(ctx context.Context, tickers []string) map[string]data.FetchResult
}

// Supports reports whether p both declares dt and implements the matching
// fetch interface
func Supports(p Provider, dt data.DataType) bool {
	if !slices.Contains(p.DataTypes(), dt) {
		return false
	}

	switch dt {
	case data.PriceKey:
		_, ok := p.(PriceFetcher)
		return ok
	case data.EPSKey:
		_, ok := p.(EPSFetcher)
		return ok
	case data.DividendKey:
		_, ok := p.(DividendFetcher)
		return ok
	case data.HistoryKey:
		_, ok := p.(HistoryFetcher)
		return ok
	case data.StockInfoKey:
		_, ok := p.(StockInfoFetcher)
		return ok
	case data.SelloffKey:
		_, ok := p.(SelloffFetcher)
		return ok
	default:
		return false
	}
}

// Base supplies the metadata half of the Provider interface. Concrete
// sources embed it and add fetch methods.
type Base struct {
	ID            string
	Title         string
	Types         []data.DataType
	Interval      time.Duration
	Batch         bool
	Authoritative bool
	Realtime      bool

	// Available is consulted by IsAvailable; nil means always available
	Available func() bool
}

func (b *Base) Name() string { return b.ID }
func (b *Base) Label() string { return b.Title }
func (b *Base) DataTypes() []data.DataType { return b.Types }
func (b *Base) RateLimit() time.Duration { return b.Interval }
func (b *Base) SupportsBatch() bool { return b.Batch }
func (b *Base) IsAuthoritative() bool { return b.Authoritative }
func (b *Base) IsRealtime() bool { return b.Realtime }

func (b *Base) IsAvailable() bool {
	if b.Available == nil {
		return true
	}

	return b.Available()
}
