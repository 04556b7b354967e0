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
	"github.com/tidwall/gjson"
)

const (
	nasdaqBaseURL = "https://data.nasdaq.com/api/v3/datatables"

	// maximum number of cursor pages followed for a single request
	nasdaqMaxPages = 20
)

// Nasdaq reads the Sharadar datatables on Nasdaq Data Link: fundamentals (SF1)
// and end-of-day equity prices (SEP). Prices are published after the close
// so the source is not realtime.
type Nasdaq struct {
	Base
	client *resty.Client
}

func NewNasdaq(cfg ClientConfig) *Nasdaq {
	nasdaq := &Nasdaq{
		Base: Base{
			ID:       "nasdaq",
			Title:    "Nasdaq Data Link (Sharadar)",
			Types:    []data.DataType{data.PriceKey, data.EPSKey, data.HistoryKey},
			Interval: cfg.interval(500 * time.Millisecond),
			Batch:    true,
		},
		client: newRestyClient(cfg, cfg.baseURL(nasdaqBaseURL)).SetQueryParam("api_key", cfg.APIKey),
	}

	nasdaq.Available = func() bool { return cfg.APIKey != "" }

	return nasdaq
}

// datatable queries a Sharadar table and follows the cursor until every row
// has been read
func (nasdaq *Nasdaq) datatable(ctx context.Context, table string, params map[string]string) ([]gjson.Result, error) {
	logger := zerolog.Ctx(ctx)
	rows := make([]gjson.Result, 0)
	cursor := ""

	for page := 0; page < nasdaqMaxPages; page++ {
		req := nasdaq.client.R().SetContext(ctx).SetQueryParams(params)
		if cursor != "" {
			req.SetQueryParam("qopts.cursor_id", cursor)
		}

		resp, err := req.Get("/SHARADAR/" + table)
		if err != nil {
			logger.Error().Err(err).Str("Table", table).Msg("resty returned an error when querying nasdaq datatable")
			return nil, err
		}

		if resp.StatusCode() >= 400 {
			logger.Error().Int("StatusCode", resp.StatusCode()).Str("Table", table).Bytes("Body", resp.Body()).Msg("error when requesting url")
			return nil, statusError(resp)
		}

		body := resp.Body()
		rows = append(rows, gjson.GetBytes(body, "datatable.data").Array()...)

		cursor = gjson.GetBytes(body, "meta.next_cursor_id").String()
		if cursor == "" {
			break
		}
	}

	return rows, nil
}

func (nasdaq *Nasdaq) FetchPrice(ctx context.Context, ticker string) data.FetchResult {
	return nasdaq.FetchPrices(ctx, []string{ticker})[ticker]
}

// FetchPrices returns the most recent close in SEP for each ticker
func (nasdaq *Nasdaq) FetchPrices(ctx context.Context, tickers []string) map[string]data.FetchResult {
	results := make(map[string]data.FetchResult, len(tickers))
	history := nasdaq.FetchHistoryBatch(ctx, tickers, time.Now().AddDate(0, 0, -10), time.Now())

	for _, ticker := range tickers {
		res := history[ticker]
		if !res.Success {
			results[ticker] = res
			continue
		}

		bars, _ := res.History()
		latest := bars[0]
		for _, bar := range bars {
			if bar.Date.After(latest.Date) {
				latest = bar
			}
		}

		results[ticker] = data.Succeeded(nasdaq.Name(), latest.Quote())
	}

	return results
}

func (nasdaq *Nasdaq) FetchHistory(ctx context.Context, ticker string, start, end time.Time) data.FetchResult {
	return nasdaq.FetchHistoryBatch(ctx, []string{ticker}, start, end)[ticker]
}

func (nasdaq *Nasdaq) FetchHistoryBatch(ctx context.Context, tickers []string, start, end time.Time) map[string]data.FetchResult {
	results := make(map[string]data.FetchResult, len(tickers))
	query, requested := sharadarTickers(tickers)

	rows, err := nasdaq.datatable(ctx, "SEP", map[string]string{
		"ticker":        query,
		"date.gte":      start.Format("2006-01-02"),
		"date.lte":      end.Format("2006-01-02"),
		"qopts.columns": "ticker,date,open,high,low,close,volume,closeadj",
	})
	if err != nil {
		for _, ticker := range tickers {
			results[ticker] = data.Failed(nasdaq.Name(), "%s", err)
		}
		return results
	}

	bars := make(map[string][]*data.Eod, len(tickers))
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.Get("1").String())
		if err != nil {
			continue
		}

		for _, ticker := range requested[row.Get("0").String()] {
			bars[ticker] = append(bars[ticker], &data.Eod{
				Date:     data.MarketClose(date),
				Ticker:   ticker,
				Open:     row.Get("2").Float(),
				High:     row.Get("3").Float(),
				Low:      row.Get("4").Float(),
				Close:    row.Get("5").Float(),
				Volume:   row.Get("6").Float(),
				AdjClose: row.Get("7").Float(),
			})
		}
	}

	for _, ticker := range tickers {
		if tickerBars, ok := bars[ticker]; ok && len(tickerBars) > 0 {
			results[ticker] = data.Succeeded(nasdaq.Name(), tickerBars)
		} else {
			results[ticker] = data.Failed(nasdaq.Name(), "no data for %s", ticker)
		}
	}

	return results
}

func (nasdaq *Nasdaq) FetchEPS(ctx context.Context, ticker string) data.FetchResult {
	return nasdaq.FetchEPSBatch(ctx, []string{ticker})[ticker]
}

// FetchEPSBatch returns the latest as-reported quarterly diluted EPS (ARQ
// dimension) for each ticker
func (nasdaq *Nasdaq) FetchEPSBatch(ctx context.Context, tickers []string) map[string]data.FetchResult {
	results := make(map[string]data.FetchResult, len(tickers))
	query, requested := sharadarTickers(tickers)

	rows, err := nasdaq.datatable(ctx, "SF1", map[string]string{
		"ticker":           query,
		"dimension":        "ARQ",
		"calendardate.gte": time.Now().AddDate(-1, 0, 0).Format("2006-01-02"),
		"qopts.columns":    "ticker,datekey,calendardate,epsdil",
	})
	if err != nil {
		for _, ticker := range tickers {
			results[ticker] = data.Failed(nasdaq.Name(), "%s", err)
		}
		return results
	}

	latest := make(map[string]*data.EPS, len(tickers))
	for _, row := range rows {
		reportDate, err := time.Parse("2006-01-02", row.Get("1").String())
		if err != nil {
			continue
		}

		periodEnd, _ := time.Parse("2006-01-02", row.Get("2").String())
		for _, ticker := range requested[row.Get("0").String()] {
			if current, ok := latest[ticker]; ok && !periodEnd.After(current.PeriodEnd) {
				continue
			}

			latest[ticker] = &data.EPS{
				Ticker:       ticker,
				Value:        row.Get("3").Float(),
				FiscalPeriod: periodEnd.Format("2006-01"),
				PeriodEnd:    periodEnd,
				ReportDate:   reportDate,
			}
		}
	}

	for _, ticker := range tickers {
		if eps, ok := latest[ticker]; ok {
			results[ticker] = data.Succeeded(nasdaq.Name(), eps)
		} else {
			results[ticker] = data.Failed(nasdaq.Name(), "no data for %s", ticker)
		}
	}

	return results
}

// sharadarTickers joins tickers using Sharadar's class separator (BRK/B ->
// BRK.B) and maps each Sharadar ticker back to the tickers requested
func sharadarTickers(tickers []string) (string, map[string][]string) {
	converted := make([]string, 0, len(tickers))
	requested := make(map[string][]string, len(tickers))
	for _, ticker := range tickers {
		sharadar := strings.ReplaceAll(ticker, "/", ".")
		if _, ok := requested[sharadar]; !ok {
			converted = append(converted, sharadar)
		}
		requested[sharadar] = append(requested[sharadar], ticker)
	}

	return strings.Join(converted, ","), requested
}
