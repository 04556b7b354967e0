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
package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	fetchForce   bool
	fetchJSON    bool
	fetchStart   string
	fetchEnd     string
	fetchTimeout time.Duration
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <price|eps|dividends|history|info|selloff> <ticker...>",
	Short: "Fetch market data for one or more tickers",
	Long: `Fetch retrieves the requested data type for each ticker. The cache is
consulted first unless --force is given; otherwise providers are tried in
priority order until one succeeds.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		dt := mustDataType(args[0])
		tickers := args[1:]

		myApp := mustApp(ctx)
		defer myApp.close()

		opts := []orchestrator.Option{}
		if fetchForce {
			opts = append(opts, orchestrator.ForceRefresh())
		}

		results := fetchAll(ctx, myApp.orch, dt, tickers, opts)

		if fetchJSON {
			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("could not marshal results")
			}
			fmt.Println(string(out))
			return
		}

		renderMarkdown(resultsDocument(dt, results))

		for _, res := range results {
			if !res.Success {
				os.Exit(2)
			}
		}
	},
}

func parseDay(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}

	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		log.Fatal().Err(err).Str("Date", value).Msg("dates must be formatted as YYYY-MM-DD")
	}

	return day
}

func fetchAll(ctx context.Context, orch *orchestrator.Orchestrator, dt data.DataType, tickers []string, opts []orchestrator.Option) map[string]data.FetchResult {
	switch dt {
	case data.PriceKey:
		return orch.FetchPrices(ctx, tickers, opts...)
	case data.EPSKey:
		return orch.FetchEPSBatch(ctx, tickers, opts...)
	case data.StockInfoKey:
		return orch.FetchStockInfoBatch(ctx, tickers, opts...)
	case data.SelloffKey:
		return orch.FetchSelloffBatch(ctx, tickers, opts...)
	case data.HistoryKey:
		end := parseDay(fetchEnd, time.Now())
		start := parseDay(fetchStart, end.AddDate(-1, 0, 0))
		return orch.FetchPriceHistoryBatch(ctx, tickers, start, end, opts...)
	default:
		results := make(map[string]data.FetchResult, len(tickers))
		for _, ticker := range tickers {
			ticker = strings.ToUpper(strings.TrimSpace(ticker))
			results[ticker] = orch.Fetch(ctx, dt, ticker, opts...)
		}
		return results
	}
}

// summarize renders the payload of a successful result as a short string
func summarize(res data.FetchResult) string {
	if quote, ok := res.Quote(); ok {
		return fmt.Sprintf("%.2f %s as of %s", quote.Price, quote.Currency, quote.AsOf.Format(time.DateTime))
	}

	if eps, ok := res.EPS(); ok {
		kind := "reported"
		if eps.Estimate {
			kind = "estimate"
		}
		return fmt.Sprintf("%.2f for %s (%s)", eps.Value, eps.FiscalPeriod, kind)
	}

	if divs, ok := res.Dividends(); ok {
		if len(divs) == 0 {
			return "no dividends"
		}
		last := divs[len(divs)-1]
		return fmt.Sprintf("%d dividends, latest %.4f ex %s", len(divs), last.Amount, last.ExDate.Format(time.DateOnly))
	}

	if bars, ok := res.History(); ok {
		if len(bars) == 0 {
			return "no bars"
		}
		return fmt.Sprintf("%d bars from %s to %s", len(bars), bars[0].Date.Format(time.DateOnly), bars[len(bars)-1].Date.Format(time.DateOnly))
	}

	if asset, ok := res.Asset(); ok {
		return fmt.Sprintf("%s (%s, %s)", asset.Name, asset.PrimaryExchange, asset.AssetType)
	}

	if selloff, ok := res.Selloff(); ok {
		signal := ""
		if selloff.Signal {
			signal = " **selloff**"
		}
		return fmt.Sprintf("down %.1f%% over %d days%s", selloff.DropPercent, selloff.Window, signal)
	}

	return fmt.Sprintf("%v", res.Data)
}

func resultsDocument(dt data.DataType, results map[string]data.FetchResult) string {
	tickers := make([]string, 0, len(results))
	for ticker := range results {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	sb := strings.Builder{}
	fmt.Fprintf(&sb, "# %s\n\n", dt)
	sb.WriteString("| Ticker | Result | Source | Cached |\n")
	sb.WriteString("|---|---|---|---|\n")

	for _, ticker := range tickers {
		res := results[ticker]
		value := summarize(res)
		if !res.Success {
			value = res.Error
		}

		cached := ""
		if res.Cached {
			cached = "yes"
		}

		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", ticker, strings.ReplaceAll(value, "|", "/"), res.Source, cached)
	}

	return sb.String()
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolVarP(&fetchForce, "force", "f", false, "skip the cache and contact providers")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print results as JSON")
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "first day of price history (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "last day of price history (YYYY-MM-DD)")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 5*time.Minute, "overall time allowed for the command")
}
