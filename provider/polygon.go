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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/penny-vault/pvquote/data"
	"github.com/rs/zerolog"
)

const (
	polygonBaseURL = "https://api.polygon.io"
)

// Polygon serves realtime snapshots, dividends, reference data, and daily
// aggregates from polygon.io
type Polygon struct {
	Base
	client *resty.Client
}

type polygonResponse struct {
	Results   *json.RawMessage `json:"results"`
	Status    string           `json:"status"`
	RequestID string           `json:"request_id"`
	Count     int              `json:"count"`
	Next      string           `json:"next_url"`
}

type polygonSnapshotResponse struct {
	Status  string             `json:"status"`
	Tickers []*polygonSnapshot `json:"tickers"`
}

type polygonSnapshot struct {
	Ticker    string `json:"ticker"`
	Updated   int64  `json:"updated"`
	LastTrade struct {
		Price     float64 `json:"p"`
		Timestamp int64   `json:"t"`
	} `json:"lastTrade"`
	Day struct {
		Close float64 `json:"c"`
	} `json:"day"`
	PrevDay struct {
		Close float64 `json:"c"`
	} `json:"prevDay"`
}

type polygonDividend struct {
	Ticker         string  `json:"ticker"`
	ExDividendDate string  `json:"ex_dividend_date"`
	PayDate        string  `json:"pay_date"`
	CashAmount     float64 `json:"cash_amount"`
	Currency       string  `json:"currency"`
}

type polygonAggregate struct {
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	Timestamp int64   `json:"t"`
}

type polygonAddress struct {
	Address1   string `json:"address1"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

type polygonStock struct {
	Ticker          string         `json:"ticker"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	CompositeFIGI   string         `json:"composite_figi"`
	ShareClassFIGI  string         `json:"share_class_figi"`
	PrimaryExchange string         `json:"primary_exchange"`
	Type            string         `json:"type"`
	Active          bool           `json:"active"`
	CIK             string         `json:"cik"`
	SIC             string         `json:"sic_code"`
	SICDescription  string         `json:"sic_description"`
	CorporateURL    string         `json:"homepage_url"`
	ListDate        string         `json:"list_date"`
	DelistDate      string         `json:"delisted_utc"`
	Address         polygonAddress `json:"address"`
}

func NewPolygon(cfg ClientConfig) *Polygon {
	polygon := &Polygon{
		Base: Base{
			ID:       "polygon",
			Title:    "Polygon.io",
			Types:    []data.DataType{data.PriceKey, data.DividendKey, data.HistoryKey, data.StockInfoKey, data.SelloffKey},
			Interval: cfg.interval(12 * time.Second),
			Batch:    true,
			Realtime: true,
		},
		client: newRestyClient(cfg, cfg.baseURL(polygonBaseURL)).SetQueryParam("apiKey", cfg.APIKey),
	}

	polygon.Available = func() bool { return cfg.APIKey != "" }

	return polygon
}

func (polygon *Polygon) FetchPrice(ctx context.Context, ticker string) data.FetchResult {
	return polygon.FetchPrices(ctx, []string{ticker})[ticker]
}

func (polygon *Polygon) FetchPrices(ctx context.Context, tickers []string) map[string]data.FetchResult {
	logger := zerolog.Ctx(ctx)
	results := make(map[string]data.FetchResult, len(tickers))

	fail := func(format string, args ...any) map[string]data.FetchResult {
		for _, ticker := range tickers {
			results[ticker] = data.Failed(polygon.Name(), format, args...)
		}
		return results
	}

	respContent := polygonSnapshotResponse{}
	resp, err := polygon.client.R().
		SetContext(ctx).
		SetQueryParam("tickers", strings.Join(tickers, ",")).
		SetResult(&respContent).
		Get("/v2/snapshot/locale/us/markets/stocks/tickers")
	if err != nil {
		logger.Error().Err(err).Msg("resty returned an error when querying polygon snapshot")
		return fail("request failed: %s", err)
	}

	if resp.StatusCode() >= 300 {
		logger.Error().Int("StatusCode", resp.StatusCode()).Str("URL", resp.Request.URL).
			Msg("received an invalid status code when querying polygon snapshot endpoint")
		return fail("%s", statusError(resp))
	}

	for _, snapshot := range respContent.Tickers {
		price := snapshot.LastTrade.Price
		if price == 0 {
			price = snapshot.Day.Close
		}

		if price <= 0 {
			continue
		}

		asOf := time.Now()
		if snapshot.LastTrade.Timestamp > 0 {
			asOf = time.Unix(0, snapshot.LastTrade.Timestamp)
		}

		results[snapshot.Ticker] = data.Succeeded(polygon.Name(), &data.Quote{
			Ticker:    snapshot.Ticker,
			Price:     price,
			PrevClose: snapshot.PrevDay.Close,
			Currency:  "USD",
			AsOf:      asOf,
		})
	}

	for _, ticker := range tickers {
		if _, ok := results[ticker]; !ok {
			results[ticker] = data.Failed(polygon.Name(), "no data for %s", ticker)
		}
	}

	return results
}

// results runs a GET against a v2/v3 endpoint and unmarshals the results array
func (polygon *Polygon) results(ctx context.Context, req *resty.Request, url string, out any) error {
	logger := zerolog.Ctx(ctx)

	var respContent polygonResponse
	resp, err := req.SetContext(ctx).SetResult(&respContent).Get(url)
	if err != nil {
		logger.Error().Err(err).Str("URL", url).Msg("resty returned an error when querying polygon")
		return err
	}

	if resp.StatusCode() >= 300 {
		logger.Error().Int("StatusCode", resp.StatusCode()).Str("ResponseBody", string(resp.Body())).
			Str("URL", url).
			Msg("received an invalid status code when querying polygon")
		return statusError(resp)
	}

	if respContent.Results == nil {
		return nil
	}

	if err := json.Unmarshal(*respContent.Results, out); err != nil {
		logger.Error().Err(err).Msg("error when unmarshalling json from polygon response")
		return err
	}

	return nil
}

func (polygon *Polygon) FetchDividends(ctx context.Context, ticker string) data.FetchResult {
	dividends := make([]*polygonDividend, 0)
	req := polygon.client.R().
		SetQueryParam("ticker", ticker).
		SetQueryParam("order", "desc").
		SetQueryParam("limit", "100")
	if err := polygon.results(ctx, req, "/v3/reference/dividends", &dividends); err != nil {
		return data.Failed(polygon.Name(), "%s", err)
	}

	if len(dividends) == 0 {
		return data.Failed(polygon.Name(), "no dividends for %s", ticker)
	}

	out := make([]*data.Dividend, 0, len(dividends))
	for _, div := range dividends {
		exDate, err := time.Parse("2006-01-02", div.ExDividendDate)
		if err != nil {
			continue
		}

		payDate, _ := time.Parse("2006-01-02", div.PayDate)
		out = append(out, &data.Dividend{
			Ticker:   ticker,
			ExDate:   exDate,
			PayDate:  payDate,
			Amount:   div.CashAmount,
			Currency: div.Currency,
		})
	}

	return data.Succeeded(polygon.Name(), out)
}

func (polygon *Polygon) FetchHistory(ctx context.Context, ticker string, start, end time.Time) data.FetchResult {
	aggs := make([]*polygonAggregate, 0)
	url := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s", ticker, start.Format("2006-01-02"), end.Format("2006-01-02"))
	req := polygon.client.R().
		SetQueryParam("adjusted", "true").
		SetQueryParam("sort", "asc").
		SetQueryParam("limit", "50000")
	if err := polygon.results(ctx, req, url, &aggs); err != nil {
		return data.Failed(polygon.Name(), "%s", err)
	}

	if len(aggs) == 0 {
		return data.Failed(polygon.Name(), "no data for %s", ticker)
	}

	bars := make([]*data.Eod, 0, len(aggs))
	for _, agg := range aggs {
		bars = append(bars, &data.Eod{
			Date:     data.MarketClose(time.UnixMilli(agg.Timestamp).UTC()),
			Ticker:   ticker,
			Open:     agg.Open,
			High:     agg.High,
			Low:      agg.Low,
			Close:    agg.Close,
			AdjClose: agg.Close,
			Volume:   agg.Volume,
		})
	}

	return data.Succeeded(polygon.Name(), bars)
}

func (polygon *Polygon) FetchStockInfo(ctx context.Context, ticker string) data.FetchResult {
	var polygonAsset polygonStock
	if err := polygon.results(ctx, polygon.client.R(), fmt.Sprintf("/v3/reference/tickers/%s", ticker), &polygonAsset); err != nil {
		return data.Failed(polygon.Name(), "%s", err)
	}

	if polygonAsset.Ticker == "" {
		return data.Failed(polygon.Name(), "no data for %s", ticker)
	}

	location := ""
	if polygonAsset.Address.City != "" {
		location = fmt.Sprintf("%s, %s", polygonAsset.Address.City, polygonAsset.Address.State)
	}

	sicCode, err := strconv.Atoi(polygonAsset.SIC)
	if err != nil {
		sicCode = 0
	}

	return data.Succeeded(polygon.Name(), &data.Asset{
		Ticker:               polygonAsset.Ticker,
		CompositeFigi:        polygonAsset.CompositeFIGI,
		ShareClassFigi:       polygonAsset.ShareClassFIGI,
		Name:                 polygonAsset.Name,
		Description:          polygonAsset.Description,
		Active:               polygonAsset.Active,
		PrimaryExchange:      polygonAsset.PrimaryExchange,
		AssetType:            data.AssetType(polygonAsset.Type),
		HeadquartersLocation: location,
		CIK:                  polygonAsset.CIK,
		SIC:                  sicCode,
		Industry:             polygonAsset.SICDescription,
		CorporateUrl:         polygonAsset.CorporateURL,
		ListingDate:          polygonAsset.ListDate,
		DelistingDate:        polygonAsset.DelistDate,
		LastUpdated:          time.Now(),
	})
}

func (polygon *Polygon) FetchSelloff(ctx context.Context, ticker string) data.FetchResult {
	end := time.Now()
	start := end.AddDate(0, 0, -(data.SelloffWindow * 2))

	history := polygon.FetchHistory(ctx, ticker, start, end)
	if !history.Success {
		return history
	}

	bars, _ := history.History()
	selloff, err := data.ComputeSelloff(ticker, bars)
	if err != nil {
		return data.Failed(polygon.Name(), "%s: %s", ticker, err)
	}

	return data.Succeeded(polygon.Name(), selloff)
}
