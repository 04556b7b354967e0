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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/penny-vault/pvquote/data"
)

func jsonHandler(routes map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

var _ = Describe("Tiingo", func() {
	var (
		server  *httptest.Server
		tiingo  *Tiingo
		queries []string
	)

	BeforeEach(func() {
		queries = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			queries = append(queries, r.URL.RawQuery)
			w.Header().Set("Content-Type", "application/json")

			switch r.URL.Path {
			case "/iex/":
				gomega.Expect(r.URL.Query().Get("token")).To(gomega.Equal("secret"))
				gomega.Expect(r.URL.Query().Get("tickers")).To(gomega.Equal("AAPL,BRK-B"))
				fmt.Fprint(w, `[{"ticker":"AAPL","timestamp":"2024-05-01T15:59:59.999-04:00","last":170.1,"tngoLast":170.2,"prevClose":169.0}]`)
			case "/tiingo/daily/AAPL/prices":
				fmt.Fprint(w, `[
					{"date":"2024-04-30T00:00:00.000Z","open":1,"high":2,"low":0.5,"close":1.5,"adjClose":1.5,"volume":100},
					{"date":"2024-05-01T00:00:00.000Z","open":1.5,"high":2.5,"low":1,"close":2,"adjClose":2,"volume":200}
				]`)
			case "/tiingo/daily/AAPL":
				fmt.Fprint(w, `{"ticker":"AAPL","name":"Apple Inc","exchangeCode":"NASDAQ","startDate":"1980-12-12","endDate":""}`)
			default:
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"detail":"not found"}`)
			}
		}))

		tiingo = NewTiingo(ClientConfig{APIKey: "secret", BaseURL: server.URL})
	})

	AfterEach(func() {
		server.Close()
	})

	It("is available only with an api key", func() {
		gomega.Expect(tiingo.IsAvailable()).To(gomega.BeTrue())
		gomega.Expect(NewTiingo(ClientConfig{}).IsAvailable()).To(gomega.BeFalse())
	})

	It("returns a result for every requested ticker in a batch", func() {
		results := tiingo.FetchPrices(context.Background(), []string{"AAPL", "BRK/B"})
		gomega.Expect(results).To(gomega.HaveLen(2))

		gomega.Expect(results["AAPL"].Success).To(gomega.BeTrue())
		quote, ok := results["AAPL"].Quote()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(quote.Price).To(gomega.Equal(170.2))
		gomega.Expect(quote.PrevClose).To(gomega.Equal(169.0))

		gomega.Expect(results["BRK/B"].Success).To(gomega.BeFalse())
		gomega.Expect(results["BRK/B"].Error).To(gomega.Equal("no data for BRK/B"))
		gomega.Expect(results["BRK/B"].Source).To(gomega.Equal("tiingo"))
	})

	It("parses end-of-day history", func() {
		start := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
		res := tiingo.FetchHistory(context.Background(), "AAPL", start, start.AddDate(0, 0, 1))
		gomega.Expect(res.Success).To(gomega.BeTrue())

		bars, ok := res.History()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(bars).To(gomega.HaveLen(2))
		gomega.Expect(bars[1].Close).To(gomega.Equal(2.0))
		gomega.Expect(queries[0]).To(gomega.ContainSubstring("startDate=2024-04-30"))
	})

	It("reports non-2xx responses as failures", func() {
		res := tiingo.FetchHistory(context.Background(), "MSFT", time.Now().AddDate(0, 0, -5), time.Now())
		gomega.Expect(res.Success).To(gomega.BeFalse())
		gomega.Expect(res.Error).To(gomega.ContainSubstring("404"))
	})

	It("describes a ticker from its meta data", func() {
		res := tiingo.FetchStockInfo(context.Background(), "AAPL")
		asset, ok := res.Asset()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(asset.Name).To(gomega.Equal("Apple Inc"))
		gomega.Expect(asset.Active).To(gomega.BeTrue())
	})
})

var _ = Describe("Polygon", func() {
	var (
		server  *httptest.Server
		polygon *Polygon
	)

	BeforeEach(func() {
		server = httptest.NewServer(jsonHandler(map[string]string{
			"/v2/snapshot/locale/us/markets/stocks/tickers": `{"status":"OK","tickers":[
				{"ticker":"SPY","lastTrade":{"p":510.25,"t":1714593600000000000},"day":{"c":509},"prevDay":{"c":505}},
				{"ticker":"QQQ","lastTrade":{"p":0},"day":{"c":0}}
			]}`,
			"/v3/reference/dividends": `{"status":"OK","results":[
				{"ticker":"SPY","ex_dividend_date":"2024-03-15","pay_date":"2024-04-30","cash_amount":1.59,"currency":"USD"}
			]}`,
			"/v3/reference/tickers/SPY": `{"status":"OK","results":{"ticker":"SPY","name":"SPDR S&P 500","type":"ETF","active":true,"composite_figi":"BBG000BDTBL9","sic_code":""}}`,
		}))

		polygon = NewPolygon(ClientConfig{APIKey: "secret", BaseURL: server.URL})
	})

	AfterEach(func() {
		server.Close()
	})

	It("uses the last trade for snapshot prices", func() {
		results := polygon.FetchPrices(context.Background(), []string{"SPY", "QQQ"})

		quote, ok := results["SPY"].Quote()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(quote.Price).To(gomega.Equal(510.25))
		gomega.Expect(quote.PrevClose).To(gomega.Equal(505.0))

		gomega.Expect(results["QQQ"].Success).To(gomega.BeFalse())
	})

	It("parses dividends from the results array", func() {
		res := polygon.FetchDividends(context.Background(), "SPY")
		divs, ok := res.Dividends()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(divs).To(gomega.HaveLen(1))
		gomega.Expect(divs[0].Amount).To(gomega.Equal(1.59))
		gomega.Expect(divs[0].ExDate).To(gomega.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
	})

	It("maps reference data into an asset", func() {
		res := polygon.FetchStockInfo(context.Background(), "SPY")
		asset, ok := res.Asset()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(asset.AssetType).To(gomega.Equal(data.ETF))
		gomega.Expect(asset.CompositeFigi).To(gomega.Equal("BBG000BDTBL9"))
	})

	It("fails when the aggregate endpoint is missing", func() {
		res := polygon.FetchSelloff(context.Background(), "SPY")
		gomega.Expect(res.Success).To(gomega.BeFalse())
		gomega.Expect(res.Source).To(gomega.Equal("polygon"))
	})
})

var _ = Describe("Nasdaq", func() {
	var (
		server   *httptest.Server
		nasdaq   *Nasdaq
		requests atomic.Int32
	)

	BeforeEach(func() {
		requests.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			requests.Add(1)
			w.Header().Set("Content-Type", "application/json")

			switch r.URL.Path {
			case "/SHARADAR/SEP":
				gomega.Expect(r.URL.Query().Get("ticker")).To(gomega.Equal("AAPL,BRK.B"))
				if r.URL.Query().Get("qopts.cursor_id") == "" {
					fmt.Fprint(w, `{"datatable":{"data":[["AAPL","2024-04-30",1,2,0.5,170.0,100,170.0]]},"meta":{"next_cursor_id":"abc"}}`)
				} else {
					fmt.Fprint(w, `{"datatable":{"data":[["AAPL","2024-05-01",1,2,0.5,171.0,100,171.0],["BRK.B","2024-05-01",1,2,0.5,400.0,100,400.0]]},"meta":{"next_cursor_id":null}}`)
				}
			case "/SHARADAR/SF1":
				fmt.Fprint(w, `{"datatable":{"data":[
					["AAPL","2024-02-02","2023-12-31",2.18],
					["AAPL","2024-05-02","2024-03-31",1.53]
				]},"meta":{"next_cursor_id":null}}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		nasdaq = NewNasdaq(ClientConfig{APIKey: "secret", BaseURL: server.URL})
	})

	AfterEach(func() {
		server.Close()
	})

	It("follows the cursor and groups rows per ticker", func() {
		results := nasdaq.FetchHistoryBatch(context.Background(), []string{"AAPL", "BRK/B"}, time.Now().AddDate(0, 0, -10), time.Now())
		gomega.Expect(requests.Load()).To(gomega.Equal(int32(2)))

		bars, ok := results["AAPL"].History()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(bars).To(gomega.HaveLen(2))

		brk, ok := results["BRK/B"].History()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(brk[0].Close).To(gomega.Equal(400.0))
	})

	It("answers under the ticker the caller asked for", func() {
		results := nasdaq.FetchHistoryBatch(context.Background(), []string{"AAPL", "BRK.B"}, time.Now().AddDate(0, 0, -10), time.Now())

		brk, ok := results["BRK.B"].History()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(brk).To(gomega.HaveLen(1))
		gomega.Expect(brk[0].Ticker).To(gomega.Equal("BRK.B"))
		gomega.Expect(results).NotTo(gomega.HaveKey("BRK/B"))
	})

	It("uses the most recent close as the price", func() {
		results := nasdaq.FetchPrices(context.Background(), []string{"AAPL", "BRK/B"})
		quote, ok := results["AAPL"].Quote()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(quote.Price).To(gomega.Equal(171.0))
	})

	It("keeps the latest reporting period for eps", func() {
		res := nasdaq.FetchEPS(context.Background(), "AAPL")
		eps, ok := res.EPS()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(eps.Value).To(gomega.Equal(1.53))
		gomega.Expect(eps.FiscalPeriod).To(gomega.Equal("2024-03"))
		gomega.Expect(eps.Estimate).To(gomega.BeFalse())
	})
})

var _ = Describe("Edgar", func() {
	var (
		server      *httptest.Server
		tickerLoads atomic.Int32
	)

	BeforeEach(func() {
		tickerLoads.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			w.Header().Set("Content-Type", "application/json")
			gomega.Expect(r.Header.Get("User-Agent")).To(gomega.Equal("pvquote test@example.com"))

			switch r.URL.Path {
			case "/files/company_tickers.json":
				tickerLoads.Add(1)
				fmt.Fprint(w, `{"0":{"cik_str":320193,"ticker":"AAPL","title":"Apple Inc."}}`)
			case "/api/xbrl/companyfacts/CIK0000320193.json":
				fmt.Fprint(w, `{"facts":{"us-gaap":{"EarningsPerShareDiluted":{"units":{"USD/shares":[
					{"end":"2023-12-30","val":2.18,"fy":2024,"fp":"Q1","form":"10-Q","filed":"2024-02-02"},
					{"end":"2024-03-30","val":1.53,"fy":2024,"fp":"Q2","form":"10-Q","filed":"2024-05-03"},
					{"end":"2024-03-30","val":1.52,"fy":2024,"fp":"Q2","form":"8-K","filed":"2024-05-02"}
				]}}}}}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("is authoritative and requires a user agent", func() {
		edgar := NewEdgar(ClientConfig{BaseURL: server.URL}, "")
		gomega.Expect(edgar.IsAuthoritative()).To(gomega.BeTrue())
		gomega.Expect(edgar.IsAvailable()).To(gomega.BeFalse())
	})

	It("resolves the CIK once and returns the latest 10-Q value", func() {
		edgar := NewEdgar(ClientConfig{BaseURL: server.URL}, "pvquote test@example.com")

		res := edgar.FetchEPS(context.Background(), "AAPL")
		gomega.Expect(res.Success).To(gomega.BeTrue())
		eps, _ := res.EPS()
		gomega.Expect(eps.Value).To(gomega.Equal(1.53))
		gomega.Expect(eps.FiscalPeriod).To(gomega.Equal("FY2024 Q2"))

		edgar.FetchEPS(context.Background(), "AAPL")
		gomega.Expect(tickerLoads.Load()).To(gomega.Equal(int32(1)))
	})

	It("fails for tickers without a CIK", func() {
		edgar := NewEdgar(ClientConfig{BaseURL: server.URL}, "pvquote test@example.com")
		res := edgar.FetchEPS(context.Background(), "ZZZZ")
		gomega.Expect(res.Success).To(gomega.BeFalse())
		gomega.Expect(res.Error).To(gomega.ContainSubstring("ZZZZ"))
	})
})

var _ = Describe("OpenFigi", func() {
	It("maps responses back to tickers by position", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			gomega.Expect(r.Method).To(gomega.Equal(http.MethodPost))
			gomega.Expect(r.URL.Path).To(gomega.Equal("/v3/mapping"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[
				{"data":[{"figi":"BBG000B9XRY4","name":"APPLE INC","ticker":"AAPL","exchCode":"US","securityType":"Common Stock","securityType2":"Common Stock","marketSector":"Equity","compositeFIGI":"BBG000B9XRY4","shareClassFIGI":"BBG001S5N8V8"}]},
				{"error":"No identifier found."}
			]`)
		}))
		defer server.Close()

		figi := NewOpenFigi(ClientConfig{BaseURL: server.URL})
		results := figi.FetchStockInfoBatch(context.Background(), []string{"AAPL", "NOPE"})

		asset, ok := results["AAPL"].Asset()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(asset.CompositeFigi).To(gomega.Equal("BBG000B9XRY4"))
		gomega.Expect(asset.AssetType).To(gomega.Equal(data.CommonStock))

		gomega.Expect(results["NOPE"].Success).To(gomega.BeFalse())
		gomega.Expect(results["NOPE"].Error).To(gomega.Equal("no FIGI found for NOPE"))
	})

	It("classifies funds by security type", func() {
		gomega.Expect(figiAssetType(&openFigiAsset{SecurityType2: "Mutual Fund", SecurityType: "ETP"})).To(gomega.Equal(data.ETF))
		gomega.Expect(figiAssetType(&openFigiAsset{SecurityType2: "Mutual Fund", SecurityType: "Closed-End Fund"})).To(gomega.Equal(data.CEF))
		gomega.Expect(figiAssetType(&openFigiAsset{SecurityType2: "Warrant"})).To(gomega.Equal(data.UnknownAsset))
	})
})

var _ = Describe("status errors", func() {
	It("truncates long bodies", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, strings.Repeat("x", 500))
		}))
		defer server.Close()

		res := NewTiingo(ClientConfig{APIKey: "k", BaseURL: server.URL}).FetchPrice(context.Background(), "SPY")
		gomega.Expect(res.Success).To(gomega.BeFalse())
		gomega.Expect(res.Error).To(gomega.ContainSubstring("429"))
		gomega.Expect(len(res.Error)).To(gomega.BeNumerically("<", 300))
	})
})
