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
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/penny-vault/pvquote/backblaze"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/playwright_helpers"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

const (
	zacksHomepageURL      = `https://zacks.com`
	zacksLoginURL         = `https://www.zacks.com/logout.php`
	zacksStockScreenerURL = `https://www.zacks.com/screening/stock-screener`

	zacksCSVButton = "#screener_table_wrapper > div.dt-buttons > a.dt-button.buttons-csv.buttons-html5"
)

var (
	ErrNoSnapshot         = errors.New("no zacks snapshot available")
	ErrSnapshotDateFormat = errors.New("cannot extract date from filename, expecting zacks_custom_screen_YYYY-MM-DD")
	ErrMissingCredentials = errors.New("zacks username and password are required")

	zacksFilenameRegex = regexp.MustCompile(`zacks_custom_screen_(\d{4}-\d{2}-\d{2})`)
)

// ZacksConfig configures the screener download and where snapshots live
type ZacksConfig struct {
	Username    string
	Password    string
	ScreenID    string
	SnapshotDir string
	Headless    bool
	UserAgent   string

	// Uploader receives a copy of every downloaded snapshot when enabled
	Uploader *backblaze.Uploader
}

// Zacks serves end-of-day values from the most recent stock screener
// snapshot. Quotes are never realtime.
type Zacks struct {
	Base
	cfg ZacksConfig

	mu       sync.RWMutex
	records  map[string]*zacksRecord
	asOf     time.Time
	loadedFn string
}

type zacksRecord struct {
	Ticker                 string  `csv:"Ticker" parquet:"name=ticker, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	CompanyName            string  `csv:"Company Name" parquet:"name=company_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Exchange               string  `csv:"Exchange" parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	EventDateStr           string  `csv:"-" parquet:"name=event_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	LastClose              float64 `csv:"Last Close" parquet:"name=last_close, type=DOUBLE"`
	Sector                 string  `csv:"Sector" parquet:"name=sector, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Industry               string  `csv:"Industry" parquet:"name=industry, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	AvgVolume              int64   `csv:"Avg Volume" parquet:"name=avg_volume, type=INT64"`
	WkHigh52               float64 `csv:"52 Week High" parquet:"name=wk_high_52, type=DOUBLE"`
	WkLow52                float64 `csv:"52 Week Low" parquet:"name=wk_low_52, type=DOUBLE"`
	PercentPriceChange1Wk  float32 `csv:"% Price Change (1 Week)" parquet:"name=percent_price_change_1wk, type=FLOAT"`
	PercentPriceChange4Wk  float32 `csv:"% Price Change (4 Weeks)" parquet:"name=percent_price_change_4wk, type=FLOAT"`
	PercentPriceChange12Wk float32 `csv:"% Price Change (12 Weeks)" parquet:"name=percent_price_change_12wk, type=FLOAT"`
	LastQtrEps             float64 `csv:"Last Qtr EPS" parquet:"name=last_qtr_eps, type=DOUBLE"`
	LastReportedQtrStr     string  `csv:"Last Reported Qtr (yyyymm)" parquet:"name=last_reported_qtr, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TrailingEps12Mo        float64 `csv:"12 Mo Trailing EPS" parquet:"name=trailing_eps_12mo, type=DOUBLE"`
	F1ConsensusEst         float64 `csv:"F1 Consensus Est." parquet:"name=f1_consensus_est, type=DOUBLE"`
	LastEpsReportDateStr   string  `csv:"Last EPS Report Date (yyyymmdd)" parquet:"name=last_eps_report_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
}

// NewZacks creates the snapshot backed Zacks source
func NewZacks(cfg ZacksConfig) *Zacks {
	zacks := &Zacks{
		cfg: cfg,
		Base: Base{
			ID:    "zacks",
			Title: "Zacks Stock Screener",
			Types: []data.DataType{data.PriceKey, data.EPSKey, data.StockInfoKey, data.SelloffKey},
			Batch: true,
		},
	}

	zacks.Available = func() bool {
		if cfg.Username != "" && cfg.Password != "" {
			return true
		}

		_, err := zacks.latestSnapshotFile()
		return err == nil
	}

	return zacks
}

// AsOf returns the date of the loaded snapshot
func (zacks *Zacks) AsOf() time.Time {
	zacks.mu.RLock()
	defer zacks.mu.RUnlock()
	return zacks.asOf
}

func (zacks *Zacks) FetchPrice(ctx context.Context, ticker string) data.FetchResult {
	return zacks.FetchPrices(ctx, []string{ticker})[ticker]
}

func (zacks *Zacks) FetchPrices(ctx context.Context, tickers []string) map[string]data.FetchResult {
	return zacks.lookup(ctx, tickers, func(rec *zacksRecord, asOf time.Time) (any, error) {
		if rec.LastClose <= 0 {
			return nil, fmt.Errorf("no close price for %s", rec.Ticker)
		}

		return &data.Quote{
			Ticker:   rec.Ticker,
			Price:    rec.LastClose,
			Currency: "USD",
			AsOf:     data.MarketClose(asOf),
		}, nil
	})
}

func (zacks *Zacks) FetchEPS(ctx context.Context, ticker string) data.FetchResult {
	return zacks.FetchEPSBatch(ctx, []string{ticker})[ticker]
}

func (zacks *Zacks) FetchEPSBatch(ctx context.Context, tickers []string) map[string]data.FetchResult {
	return zacks.lookup(ctx, tickers, func(rec *zacksRecord, asOf time.Time) (any, error) {
		if rec.LastReportedQtrStr == "" {
			return nil, fmt.Errorf("no reported quarter for %s", rec.Ticker)
		}

		eps := &data.EPS{
			Ticker: rec.Ticker,
			Value:  rec.LastQtrEps,
		}

		if periodEnd, err := time.Parse("200601", rec.LastReportedQtrStr); err == nil {
			eps.PeriodEnd = periodEnd.AddDate(0, 1, -1)
			eps.FiscalPeriod = periodEnd.Format("2006-01")
		} else {
			eps.FiscalPeriod = rec.LastReportedQtrStr
		}

		if reported, err := time.Parse("20060102", rec.LastEpsReportDateStr); err == nil {
			eps.ReportDate = reported
		}

		return eps, nil
	})
}

func (zacks *Zacks) FetchStockInfo(ctx context.Context, ticker string) data.FetchResult {
	return zacks.FetchStockInfoBatch(ctx, []string{ticker})[ticker]
}

func (zacks *Zacks) FetchStockInfoBatch(ctx context.Context, tickers []string) map[string]data.FetchResult {
	return zacks.lookup(ctx, tickers, func(rec *zacksRecord, asOf time.Time) (any, error) {
		return &data.Asset{
			Ticker:          rec.Ticker,
			Name:            rec.CompanyName,
			PrimaryExchange: rec.Exchange,
			AssetType:       data.CommonStock,
			Active:          true,
			Sector:          rec.Sector,
			Industry:        rec.Industry,
			LastUpdated:     asOf,
		}, nil
	})
}

func (zacks *Zacks) FetchSelloff(ctx context.Context, ticker string) data.FetchResult {
	return zacks.FetchSelloffBatch(ctx, []string{ticker})[ticker]
}

// FetchSelloffBatch approximates the selloff window with the four week
// price change reported by the screener
func (zacks *Zacks) FetchSelloffBatch(ctx context.Context, tickers []string) map[string]data.FetchResult {
	return zacks.lookup(ctx, tickers, func(rec *zacksRecord, asOf time.Time) (any, error) {
		change := float64(rec.PercentPriceChange4Wk)
		if change <= -100 || rec.LastClose <= 0 {
			return nil, fmt.Errorf("invalid price change for %s", rec.Ticker)
		}

		selloff := &data.Selloff{
			Ticker: rec.Ticker,
			AsOf:   asOf,
			Close:  rec.LastClose,
			High:   rec.LastClose / (1 + change/100),
			Window: data.SelloffWindow,
		}

		if change < 0 {
			selloff.DropPercent = -change
		}

		selloff.Signal = selloff.DropPercent >= data.SelloffThreshold
		return selloff, nil
	})
}

func (zacks *Zacks) lookup(ctx context.Context, tickers []string, convert func(*zacksRecord, time.Time) (any, error)) map[string]data.FetchResult {
	results := make(map[string]data.FetchResult, len(tickers))

	if err := zacks.ensureSnapshot(ctx); err != nil {
		for _, ticker := range tickers {
			results[ticker] = data.Failed(zacks.Name(), "%s", err)
		}
		return results
	}

	zacks.mu.RLock()
	defer zacks.mu.RUnlock()

	for _, ticker := range tickers {
		rec, ok := zacks.records[zacksTicker(ticker)]
		if !ok {
			results[ticker] = data.Failed(zacks.Name(), "%s not in zacks snapshot", ticker)
			continue
		}

		payload, err := convert(rec, zacks.asOf)
		if err != nil {
			results[ticker] = data.Failed(zacks.Name(), "%s", err)
			continue
		}

		results[ticker] = data.Succeeded(zacks.Name(), payload)
	}

	return results
}

func zacksTicker(ticker string) string {
	return strings.ReplaceAll(strings.ReplaceAll(ticker, ".", "/"), "-", "/")
}

func (zacks *Zacks) ensureSnapshot(ctx context.Context) error {
	fn, err := zacks.latestSnapshotFile()
	if err != nil {
		return err
	}

	zacks.mu.RLock()
	loaded := zacks.loadedFn == fn
	zacks.mu.RUnlock()

	if loaded {
		return nil
	}

	return zacks.LoadSnapshot(ctx, fn)
}

func (zacks *Zacks) latestSnapshotFile() (string, error) {
	if zacks.cfg.SnapshotDir == "" {
		return "", ErrNoSnapshot
	}

	matches, err := filepath.Glob(filepath.Join(zacks.cfg.SnapshotDir, "zacks-*.parquet"))
	if err != nil || len(matches) == 0 {
		return "", ErrNoSnapshot
	}

	// names embed YYYYMMDD so lexical order is chronological
	slices.Sort(matches)
	return matches[len(matches)-1], nil
}

// LoadSnapshot replaces the in-memory snapshot with the contents of fn
func (zacks *Zacks) LoadSnapshot(ctx context.Context, fn string) error {
	logger := zerolog.Ctx(ctx)

	fr, err := local.NewLocalFileReader(fn)
	if err != nil {
		logger.Error().Err(err).Str("FileName", fn).Msg("cannot open zacks snapshot")
		return err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(zacksRecord), 4)
	if err != nil {
		logger.Error().Err(err).Str("FileName", fn).Msg("cannot read zacks snapshot")
		return err
	}
	defer pr.ReadStop()

	rows := make([]zacksRecord, int(pr.GetNumRows()))
	if err := pr.Read(&rows); err != nil {
		logger.Error().Err(err).Str("FileName", fn).Msg("cannot read zacks snapshot rows")
		return err
	}

	records := make([]*zacksRecord, 0, len(rows))
	for idx := range rows {
		records = append(records, &rows[idx])
	}

	zacks.setRecords(records, fn)
	logger.Info().Str("FileName", fn).Int("NumRecords", len(records)).Msg("loaded zacks snapshot")

	return nil
}

func (zacks *Zacks) setRecords(records []*zacksRecord, fn string) {
	byTicker := make(map[string]*zacksRecord, len(records))
	var asOf time.Time
	for _, rec := range records {
		byTicker[rec.Ticker] = rec
		if dt, err := time.Parse("2006-01-02", rec.EventDateStr); err == nil && dt.After(asOf) {
			asOf = dt
		}
	}

	zacks.mu.Lock()
	defer zacks.mu.Unlock()

	zacks.records = byTicker
	zacks.asOf = asOf
	zacks.loadedFn = fn
}

// Download runs the saved stock screen, stores the result as a parquet
// snapshot and uploads it when backblaze is configured. It returns the
// snapshot filename.
func (zacks *Zacks) Download(ctx context.Context) (string, error) {
	logger := zerolog.Ctx(ctx)

	if zacks.cfg.Username == "" || zacks.cfg.Password == "" {
		return "", ErrMissingCredentials
	}

	screenerData, outputFilename, err := zacks.downloadScreenerData(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("downloading zacks screen data failed")
		return "", err
	}

	match := zacksFilenameRegex.FindStringSubmatch(outputFilename)
	if len(match) < 2 {
		logger.Error().Str("FileName", outputFilename).Msg("cannot extract date from filename")
		return "", ErrSnapshotDateFormat
	}

	dateStr := match[1]
	records, err := parseZacksRecords(screenerData, dateStr)
	if err != nil {
		return "", err
	}

	logger.Info().Int("NumRecords", len(records)).Msg("loaded zacks screen")
	if len(records) == 0 {
		return "", ErrNoSnapshot
	}

	if err := os.MkdirAll(zacks.cfg.SnapshotDir, 0o755); err != nil {
		logger.Error().Err(err).Str("Dir", zacks.cfg.SnapshotDir).Msg("could not create snapshot directory")
		return "", err
	}

	compactDate := strings.ReplaceAll(dateStr, "-", "")
	parquetFn := filepath.Join(zacks.cfg.SnapshotDir, fmt.Sprintf("zacks-%s.parquet", compactDate))
	logger.Info().Str("FileName", parquetFn).Msg("writing zacks snapshot to parquet")
	if err := saveZacksParquet(records, parquetFn); err != nil {
		logger.Error().Err(err).Msg("failed writing parquet file")
		return "", err
	}

	if zacks.cfg.Uploader.Enabled() {
		if err := zacks.cfg.Uploader.Upload(ctx, parquetFn, "zacks/"+compactDate[:4]); err != nil {
			logger.Error().Err(err).Msg("failed uploading parquet file to Backblaze")
		}
	} else {
		logger.Info().Msg("skipping upload to backblaze because backblaze credentials are missing")
	}

	zacks.setRecords(records, parquetFn)
	return parquetFn, nil
}

// parseZacksRecords reads the screener CSV export
func parseZacksRecords(csvData []byte, dateStr string) ([]*zacksRecord, error) {
	records := []*zacksRecord{}

	stringData := strings.ReplaceAll(string(csvData), `"NA"`, `"0"`)
	if err := gocsv.UnmarshalString(stringData, &records); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal zacks csv")
		return nil, err
	}

	for _, rec := range records {
		rec.Ticker = strings.ReplaceAll(rec.Ticker, ".", "/")
		rec.EventDateStr = dateStr
	}

	return records, nil
}

func saveZacksParquet(records []*zacksRecord, fn string) error {
	fh, err := local.NewLocalFileWriter(fn)
	if err != nil {
		log.Error().Err(err).Str("FileName", fn).Msg("cannot create local file")
		return err
	}
	defer fh.Close()

	pw, err := writer.NewParquetWriter(fh, new(zacksRecord), 4)
	if err != nil {
		log.Error().Err(err).Msg("parquet writer creation failed")
		return err
	}

	pw.RowGroupSize = 128 * 1024 * 1024 // 128M
	pw.PageSize = 8 * 1024              // 8k
	pw.CompressionType = parquet.CompressionCodec_ZSTD

	for _, rec := range records {
		if err = pw.Write(rec); err != nil {
			log.Error().Err(err).Str("EventDate", rec.EventDateStr).Str("Ticker", rec.Ticker).Msg("parquet write failed for record")
		}
	}

	if err = pw.WriteStop(); err != nil {
		log.Error().Err(err).Msg("parquet write failed")
		return err
	}

	log.Info().Int("NumRecords", len(records)).Msg("parquet write finished")
	return nil
}

func (zacks *Zacks) downloadScreenerData(ctx context.Context) (fileData []byte, outputFilename string, err error) {
	logger := zerolog.Ctx(ctx)

	session, err := playwright_helpers.Start(playwright_helpers.Options{
		Headless:  zacks.cfg.Headless,
		UserAgent: zacks.cfg.UserAgent,
	})
	if err != nil {
		return nil, "", err
	}
	defer session.Close()

	page := session.Page
	if err = zacksEnsureLoggedIn(page, zacks.cfg.Username, zacks.cfg.Password); err != nil {
		return nil, "", err
	}

	logger.Info().Msg("load stock screener page")
	if _, err = page.Goto(zacksStockScreenerURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		logger.Error().Err(err).Msg("could not load stock screener page")
		return nil, "", err
	}

	frame := page.FrameLocator("#screenerContent")

	logger.Info().Msg("navigate to saved screens tab")
	if err = frame.Locator("#my-screen-tab").Click(); err != nil {
		logger.Error().Err(err).Msg("click tab button failed")
		return nil, "", err
	}

	logger.Info().Str("ScreenID", zacks.cfg.ScreenID).Msg("run the saved stock screen")
	if err = frame.Locator(fmt.Sprintf("#btn_run_%s", zacks.cfg.ScreenID)).Click(); err != nil {
		logger.Error().Err(err).Msg("click run button failed")
		return nil, "", err
	}

	if err = frame.Locator(zacksCSVButton).WaitFor(); err != nil {
		logger.Error().Err(err).Msg("wait for 'csv' download selector failed")
		return nil, "", err
	}

	download, err := page.ExpectDownload(func() error {
		return frame.Locator(zacksCSVButton).Click()
	})
	if err != nil {
		logger.Error().Err(err).Msg("download failed")
		return nil, "", err
	}

	path, err := download.Path()
	if err != nil {
		logger.Error().Err(err).Msg("download failed")
		return nil, "", err
	}

	outputFilename = download.SuggestedFilename()
	if fileData, err = os.ReadFile(path); err != nil {
		logger.Error().Err(err).Msg("reading data failed")
		return nil, "", err
	}

	return fileData, outputFilename, nil
}

func zacksEnsureLoggedIn(page playwright.Page, username, password string) error {
	if _, err := page.Goto(zacksHomepageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(10000),
	}); err != nil {
		log.Error().Err(err).Msg("waiting for network idle on home page timed out")
	}

	locator := page.Locator("#user_menu > li.welcome_usn")
	if visible, err := locator.IsVisible(); visible {
		log.Info().Msg("user is already logged in")
		return nil
	} else if err != nil {
		log.Error().Err(err).Msg("encountered error when checking if user logged in")
	}

	log.Info().Msg("need to log user in")

	if _, err := page.Goto(zacksLoginURL); err != nil {
		log.Error().Err(err).Msg("could not load login page")
		return err
	}

	if err := page.Locator("#login input[name=username]").Fill(username); err != nil {
		log.Error().Err(err).Msg("could not fill username")
		return err
	}

	if err := page.Locator("#login input[name=password]").Fill(password); err != nil {
		log.Error().Err(err).Msg("could not fill password")
		return err
	}

	if err := page.Locator("#login input[value=Login]").Click(); err != nil {
		log.Error().Err(err).Msg("could not click login button")
		return err
	}

	return nil
}
