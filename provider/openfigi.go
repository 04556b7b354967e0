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

	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/pvquote/data"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	openFigiBaseURL = "https://api.openfigi.com"

	// openFigiMaxJobs is the maximum number of mapping jobs per request
	openFigiMaxJobs = 100
)

// OpenFigi maps tickers to FIGI identifiers and basic security descriptions
type OpenFigi struct {
	Base
	client  *resty.Client
	limiter *rate.Limiter
}

type openFigiQuery struct {
	IdType                  string `json:"idType"`
	IdValue                 string `json:"idValue"`
	ExchangeCode            string `json:"exchCode"`
	MarketSectorDescription string `json:"marketSecDes"`
}

type openFigiMapping struct {
	Data  []*openFigiAsset `json:"data"`
	Error string           `json:"error"`
}

type openFigiAsset struct {
	Figi                string `json:"figi"`
	SecurityType        string `json:"securityType"`
	MarketSector        string `json:"marketSector"`
	Ticker              string `json:"ticker"`
	Name                string `json:"name"`
	ExchangeCode        string `json:"exchCode"`
	ShareClassFIGI      string `json:"shareClassFIGI"`
	CompositeFIGI       string `json:"compositeFIGI"`
	SecurityType2       string `json:"securityType2"`
	SecurityDescription string `json:"securityDescription"`
}

// NewOpenFigi creates the OpenFIGI source. An API key is optional and only
// raises the request allowance.
func NewOpenFigi(cfg ClientConfig) *OpenFigi {
	client := newRestyClient(cfg, cfg.baseURL(openFigiBaseURL))
	if cfg.APIKey != "" {
		client.SetHeader("X-OPENFIGI-APIKEY", cfg.APIKey)
	}

	return &OpenFigi{
		Base: Base{
			ID:       "openfigi",
			Title:    "OpenFIGI",
			Types:    []data.DataType{data.StockInfoKey},
			Interval: cfg.interval(250 * time.Millisecond),
			Batch:    true,
		},
		client:  client,
		limiter: rate.NewLimiter(rate.Every((6*time.Second)/25), 10),
	}
}

func (figi *OpenFigi) FetchStockInfo(ctx context.Context, ticker string) data.FetchResult {
	return figi.FetchStockInfoBatch(ctx, []string{ticker})[ticker]
}

func (figi *OpenFigi) FetchStockInfoBatch(ctx context.Context, tickers []string) map[string]data.FetchResult {
	results := make(map[string]data.FetchResult, len(tickers))

	for start := 0; start < len(tickers); start += openFigiMaxJobs {
		end := min(start+openFigiMaxJobs, len(tickers))
		figi.mapChunk(ctx, tickers[start:end], results)
	}

	return results
}

func (figi *OpenFigi) mapChunk(ctx context.Context, tickers []string, results map[string]data.FetchResult) {
	logger := zerolog.Ctx(ctx)

	fail := func(format string, args ...any) {
		for _, ticker := range tickers {
			results[ticker] = data.Failed(figi.Name(), format, args...)
		}
	}

	if err := figi.limiter.Wait(ctx); err != nil {
		fail("rate limit wait failed: %s", err)
		return
	}

	query := make([]*openFigiQuery, 0, len(tickers))
	for _, ticker := range tickers {
		query = append(query, &openFigiQuery{
			IdType:                  "TICKER",
			IdValue:                 ticker,
			ExchangeCode:            "US",
			MarketSectorDescription: "Equity",
		})
	}

	mappings := make([]*openFigiMapping, 0, len(tickers))
	resp, err := figi.client.R().
		SetContext(ctx).
		SetBody(query).
		SetResult(&mappings).
		Post("/v3/mapping")

	logger.Debug().Int("NumTickers", len(query)).Msg("map tickers to FIGIs")

	if err != nil {
		logger.Error().Err(err).Msg("OpenFigi api called errored out")
		fail("request failed: %s", err)
		return
	}

	if resp.StatusCode() >= 400 {
		logger.Error().Int("StatusCode", resp.StatusCode()).Str("Body", string(resp.Body())).Msg("openfigi api call returned invalid status code")
		fail("%s", statusError(resp))
		return
	}

	// mapping responses are returned in the same order as the jobs
	for idx, ticker := range tickers {
		if idx >= len(mappings) || mappings[idx] == nil || len(mappings[idx].Data) == 0 {
			results[ticker] = data.Failed(figi.Name(), "no FIGI found for %s", ticker)
			continue
		}

		match := mappings[idx].Data[0]
		results[ticker] = data.Succeeded(figi.Name(), &data.Asset{
			Ticker:          ticker,
			Name:            match.Name,
			PrimaryExchange: match.ExchangeCode,
			AssetType:       figiAssetType(match),
			CompositeFigi:   match.CompositeFIGI,
			ShareClassFigi:  match.ShareClassFIGI,
			Active:          true,
			Sector:          match.MarketSector,
			LastUpdated:     time.Now(),
		})
	}
}

func figiAssetType(assetFigi *openFigiAsset) data.AssetType {
	switch assetFigi.SecurityType2 {
	case "Partnership Shares", "Common Stock":
		return data.CommonStock
	case "Depositary Receipt":
		return data.ADRC
	case "Mutual Fund":
		switch assetFigi.SecurityType {
		case "ETP":
			return data.ETF
		case "Closed-End Fund":
			return data.CEF
		default:
			return data.MutualFund
		}
	default:
		return data.UnknownAsset
	}
}
