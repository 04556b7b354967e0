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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/pvquote/data"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	edgarTickersURL = "https://www.sec.gov/files/company_tickers.json"
	edgarFactsURL   = "https://data.sec.gov"
)

var (
	ErrUnknownCIK = errors.New("ticker has no SEC central index key")
)

// Edgar reads diluted EPS straight from XBRL company facts filed with the
// SEC. It is the authoritative EPS source.
type Edgar struct {
	Base
	client     *resty.Client
	tickersURL string

	mu        sync.Mutex
	cikLoaded bool
	cik       *haxmap.Map[string, string]
}

// edgarFact is a single XBRL fact reported in a 10-Q or 10-K
type edgarFact struct {
	End   time.Time
	Value float64
	Year  int64
	Part  string
	Form  string
	Filed time.Time
}

// NewEdgar creates the SEC source; the SEC requires a descriptive user agent
// with contact details on every request
func NewEdgar(cfg ClientConfig, userAgent string) *Edgar {
	tickersURL := edgarTickersURL
	factsURL := edgarFactsURL
	if cfg.BaseURL != "" {
		tickersURL = cfg.BaseURL + "/files/company_tickers.json"
		factsURL = cfg.BaseURL
	}

	edgar := &Edgar{
		Base: Base{
			ID:            "edgar",
			Title:         "SEC EDGAR",
			Types:         []data.DataType{data.EPSKey},
			Interval:      cfg.interval(150 * time.Millisecond),
			Authoritative: true,
		},
		client:     newRestyClient(cfg, factsURL),
		tickersURL: tickersURL,
		cik:        haxmap.New[string, string](),
	}

	if userAgent != "" {
		edgar.client.SetHeader("User-Agent", userAgent)
	}

	edgar.Available = func() bool { return userAgent != "" }

	return edgar
}

// loadCIKs downloads the ticker to CIK mapping once per process
func (edgar *Edgar) loadCIKs(ctx context.Context) error {
	edgar.mu.Lock()
	defer edgar.mu.Unlock()

	if edgar.cikLoaded {
		return nil
	}

	resp, err := edgar.client.R().SetContext(ctx).Get(edgar.tickersURL)
	if err != nil {
		return err
	}

	if resp.StatusCode() >= 300 {
		return statusError(resp)
	}

	gjson.ParseBytes(resp.Body()).ForEach(func(_, value gjson.Result) bool {
		ticker := strings.ReplaceAll(strings.ToUpper(value.Get("ticker").String()), "-", "/")
		edgar.cik.Set(ticker, fmt.Sprintf("%010d", value.Get("cik_str").Int()))
		return true
	})

	zerolog.Ctx(ctx).Debug().Int("NumTickers", int(edgar.cik.Len())).Msg("loaded SEC ticker map")
	edgar.cikLoaded = true

	return nil
}

func (edgar *Edgar) lookupCIK(ctx context.Context, ticker string) (string, error) {
	if err := edgar.loadCIKs(ctx); err != nil {
		return "", err
	}

	cik, ok := edgar.cik.Get(strings.ToUpper(ticker))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCIK, ticker)
	}

	return cik, nil
}

func (edgar *Edgar) FetchEPS(ctx context.Context, ticker string) data.FetchResult {
	logger := zerolog.Ctx(ctx)

	cik, err := edgar.lookupCIK(ctx, ticker)
	if err != nil {
		return data.Failed(edgar.Name(), "%s", err)
	}

	resp, err := edgar.client.R().
		SetContext(ctx).
		SetPathParam("cik", cik).
		Get("/api/xbrl/companyfacts/CIK{cik}.json")
	if err != nil {
		logger.Error().Err(err).Str("Ticker", ticker).Msg("resty returned an error when querying company facts")
		return data.Failed(edgar.Name(), "request failed: %s", err)
	}

	if resp.StatusCode() >= 300 {
		logger.Error().Int("StatusCode", resp.StatusCode()).Str("Ticker", ticker).Str("CIK", cik).Msg("SEC returned an invalid HTTP response")
		return data.Failed(edgar.Name(), "%s", statusError(resp))
	}

	fact, ok := latestEPSFact(resp.Body())
	if !ok {
		return data.Failed(edgar.Name(), "no EPS facts reported for %s", ticker)
	}

	return data.Succeeded(edgar.Name(), &data.EPS{
		Ticker:       ticker,
		Value:        fact.Value,
		FiscalPeriod: fmt.Sprintf("FY%d %s", fact.Year, fact.Part),
		PeriodEnd:    fact.End,
		ReportDate:   fact.Filed,
	})
}

// latestEPSFact picks the most recent period from diluted EPS, falling back to
// basic EPS for filers that only report the latter
func latestEPSFact(body []byte) (edgarFact, bool) {
	paths := []string{
		"facts.us-gaap.EarningsPerShareDiluted.units.USD/shares",
		"facts.us-gaap.EarningsPerShareBasic.units.USD/shares",
	}

	for _, path := range paths {
		var (
			latest edgarFact
			found  bool
		)

		for _, entry := range gjson.GetBytes(body, path).Array() {
			form := entry.Get("form").String()
			if form != "10-Q" && form != "10-K" {
				continue
			}

			end, err := time.Parse("2006-01-02", entry.Get("end").String())
			if err != nil {
				continue
			}

			filed, _ := time.Parse("2006-01-02", entry.Get("filed").String())
			fact := edgarFact{
				End:   end,
				Value: entry.Get("val").Float(),
				Year:  entry.Get("fy").Int(),
				Part:  entry.Get("fp").String(),
				Form:  form,
				Filed: filed,
			}

			if !found || fact.End.After(latest.End) || (fact.End.Equal(latest.End) && fact.Filed.After(latest.Filed)) {
				latest = fact
				found = true
			}
		}

		if found {
			return latest, true
		}
	}

	return edgarFact{}, false
}
