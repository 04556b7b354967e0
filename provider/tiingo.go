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
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/pvquote/data"
	"github.com/rs/zerolog"
)

const (
	tiingoBaseURL = "https://api.tiingo.com"
)

// Tiingo serves realtime IEX quotes, end-of-day history, and ticker metadata
type Tiingo struct {
	Base
	client *resty.Client
}

type tiingoIEX struct {
	Ticker    string  `json:"ticker"`
	Timestamp string  `json:"timestamp"`
	Last      float64 `json:"last"`
	TngoLast  float64 `json:"tngoLast"`
	PrevClose float64 `json:"prevClose"`
}

type tiingoEod struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adjClose"`
	Volume   float64 `json:"volume"`
	Dividend float64 `json:"divCash"`
	Split    float64 `json:"splitFactor"`
}

type tiingoMeta struct {
	Ticker       string `json:"ticker"`
	Name         string `json:"name"`
	ExchangeCode string `json:"exchangeCode"`
	Description  string `json:"description"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
}

func NewTiingo(cfg ClientConfig) *Tiingo {
	tiingo := &Tiingo{
		Base: Base{
			ID:       "tiingo",
			Title:    "Tiingo",
			Types:    []data.DataType{data.PriceKey, data.HistoryKey, data.StockInfoKey, data.SelloffKey},
			Interval: cfg.interval(250 * time.Millisecond),
			Batch:    true,
			Realtime: true,
		},
		client: newRestyClient(cfg, cfg.baseURL(tiingoBaseURL)).SetQueryParam("token", cfg.APIKey),
	}

	tiingo.Available = func() bool { return cfg.APIKey != "" }

	return tiingo
}

// tiingoTicker reformats a ticker for tiingo, e.g. BRK/B -> BRK-B
func tiingoTicker(ticker string) string {
	return strings.ReplaceAll(ticker, "/", "-")
}

func (tiingo *Tiingo) FetchPrice(ctx context.Context, ticker string) data.FetchResult {
	return tiingo.FetchPrices(ctx, []string{ticker})[ticker]
}

func (tiingo *Tiingo) FetchPrices(ctx context.Context, tickers []string) map[string]data.FetchResult {
	logger := zerolog.Ctx(ctx)
	results := make(map[string]data.FetchResult, len(tickers))

	lookup := make(map[string]string, len(tickers))
	query := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		key := strings.ToUpper(tiingoTicker(ticker))
		lookup[key] = ticker
		query = append(query, tiingoTicker(ticker))
	}

	fail := func(format string, args ...any) map[string]data.FetchResult {
		for _, ticker := range tickers {
			results[ticker] = data.Failed(tiingo.Name(), format, args...)
		}
		return results
	}

	respContent := make([]*tiingoIEX, 0, len(tickers))
	resp, err := tiingo.client.R().
		SetContext(ctx).
		SetQueryParam("tickers", strings.Join(query, ",")).
		SetResult(&respContent).
		Get("/iex/")
	if err != nil {
		logger.Error().Err(err).Msg("resty returned an error when querying tiingo iex")
		return fail("request failed: %s", err)
	}

	if resp.StatusCode() >= 300 {
		logger.Error().Int("StatusCode", resp.StatusCode()).Str("URL", resp.Request.URL).Msg("tiingo returned an invalid HTTP response")
		return fail("%s", statusError(resp))
	}

	for _, quote := range respContent {
		ticker, ok := lookup[strings.ToUpper(quote.Ticker)]
		if !ok {
			continue
		}

		price := quote.TngoLast
		if price == 0 {
			price = quote.Last
		}

		if price <= 0 {
			results[ticker] = data.Failed(tiingo.Name(), "no price for %s", ticker)
			continue
		}

		asOf, err := time.Parse(time.RFC3339Nano, quote.Timestamp)
		if err != nil {
			asOf = time.Now()
		}

		results[ticker] = data.Succeeded(tiingo.Name(), &data.Quote{
			Ticker:    ticker,
			Price:     price,
			PrevClose: quote.PrevClose,
			Currency:  "USD",
			AsOf:      asOf,
		})
	}

	for _, ticker := range tickers {
		if _, ok := results[ticker]; !ok {
			results[ticker] = data.Failed(tiingo.Name(), "no data for %s", ticker)
		}
	}

	return results
}

func (tiingo *Tiingo) FetchHistory(ctx context.Context, ticker string, start, end time.Time) data.FetchResult {
	logger := zerolog.Ctx(ctx)

	respContent := make([]*tiingoEod, 0)
	resp, err := tiingo.client.R().
		SetContext(ctx).
		SetPathParam("ticker", tiingoTicker(ticker)).
		SetQueryParam("startDate", start.Format("2006-01-02")).
		SetQueryParam("endDate", end.Format("2006-01-02")).
		SetResult(&respContent).
		Get("/tiingo/daily/{ticker}/prices")
	if err != nil {
		logger.Error().Err(err).Str("Ticker", ticker).Msg("resty returned an error when querying eod prices")
		return data.Failed(tiingo.Name(), "request failed: %s", err)
	}

	if resp.StatusCode() >= 300 {
		logger.Error().Int("StatusCode", resp.StatusCode()).Str("Ticker", ticker).Str("URL", resp.Request.URL).Msg("tiingo returned an invalid HTTP response")
		return data.Failed(tiingo.Name(), "%s", statusError(resp))
	}

	if len(respContent) == 0 {
		return data.Failed(tiingo.Name(), "no data for %s", ticker)
	}

	bars := make([]*data.Eod, 0, len(respContent))
	for _, quote := range respContent {
		quoteDate, err := time.Parse(time.RFC3339Nano, quote.Date)
		if err != nil {
			logger.Warn().Err(err).Str("TiingoDate", quote.Date).Msg("could not parse date from tiingo eod object")
			continue
		}

		bars = append(bars, &data.Eod{
			Date:     data.MarketClose(quoteDate),
			Ticker:   ticker,
			Open:     quote.Open,
			High:     quote.High,
			Low:      quote.Low,
			Close:    quote.Close,
			AdjClose: quote.AdjClose,
			Volume:   quote.Volume,
			Dividend: quote.Dividend,
			Split:    quote.Split,
		})
	}

	return data.Succeeded(tiingo.Name(), bars)
}

func (tiingo *Tiingo) FetchStockInfo(ctx context.Context, ticker string) data.FetchResult {
	logger := zerolog.Ctx(ctx)

	meta := tiingoMeta{}
	resp, err := tiingo.client.R().
		SetContext(ctx).
		SetPathParam("ticker", tiingoTicker(ticker)).
		SetResult(&meta).
		Get("/tiingo/daily/{ticker}")
	if err != nil {
		logger.Error().Err(err).Str("Ticker", ticker).Msg("resty returned an error when querying ticker meta data")
		return data.Failed(tiingo.Name(), "request failed: %s", err)
	}

	if resp.StatusCode() >= 300 {
		return data.Failed(tiingo.Name(), "%s", statusError(resp))
	}

	if meta.Ticker == "" {
		return data.Failed(tiingo.Name(), "no data for %s", ticker)
	}

	return data.Succeeded(tiingo.Name(), &data.Asset{
		Ticker:          ticker,
		Name:            meta.Name,
		Description:     meta.Description,
		PrimaryExchange: meta.ExchangeCode,
		AssetType:       data.UnknownAsset,
		Active:          meta.EndDate == "" || meta.EndDate >= time.Now().AddDate(0, 0, -7).Format("2006-01-02"),
		ListingDate:     meta.StartDate,
		DelistingDate:   meta.EndDate,
		LastUpdated:     time.Now(),
	})
}

func (tiingo *Tiingo) FetchSelloff(ctx context.Context, ticker string) data.FetchResult {
	end := time.Now()
	start := end.AddDate(0, 0, -(data.SelloffWindow * 2))

	history := tiingo.FetchHistory(ctx, ticker, start, end)
	if !history.Success {
		return history
	}

	bars, _ := history.History()
	selloff, err := data.ComputeSelloff(ticker, bars)
	if err != nil {
		return data.Failed(tiingo.Name(), "%s: %s", ticker, err)
	}

	return data.Succeeded(tiingo.Name(), selloff)
}
