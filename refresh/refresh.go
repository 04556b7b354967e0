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

// Package refresh keeps the cache warm by periodically re-fetching a set of
// tickers. A run can be stopped between tickers; a call already in flight
// is allowed to finish.
package refresh

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hako/durafmt"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/orchestrator"
	"github.com/rs/zerolog/log"
)

// Fetcher is the part of the orchestrator a refresh job needs
type Fetcher interface {
	Fetch(ctx context.Context, dt data.DataType, ticker string, opts ...orchestrator.Option) data.FetchResult
}

var _ Fetcher = (*orchestrator.Orchestrator)(nil)

// Monitor receives the outcome of each run
type Monitor interface {
	Ping(id string) error
	Fail(id string) error
}

type Job struct {
	Orchestrator Fetcher
	Tickers      func() []string
	DataTypes    []data.DataType
	Interval     time.Duration

	// HealthCheckID is pinged after every run when Monitor is set
	HealthCheckID string
	Monitor       Monitor

	stop atomic.Bool
}

// Report summarizes one run
type Report struct {
	RunID     uuid.UUID     `json:"run_id"`
	Started   time.Time     `json:"started"`
	Elapsed   time.Duration `json:"elapsed"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Stopped   bool          `json:"stopped"`
}

// Stop asks the current and all future runs to end before the next ticker
func (job *Job) Stop() {
	job.stop.Store(true)
}

func (job *Job) Stopped() bool {
	return job.stop.Load()
}

// RunOnce refreshes every ticker for every configured data type, bypassing
// the cache read
func (job *Job) RunOnce(ctx context.Context) Report {
	report := Report{
		RunID:   uuid.New(),
		Started: time.Now(),
	}

	logger := log.With().Str("RunID", report.RunID.String()).Logger()

	dataTypes := job.DataTypes
	if len(dataTypes) == 0 {
		dataTypes = []data.DataType{data.PriceKey}
	}

	var tickers []string
	if job.Tickers != nil {
		tickers = job.Tickers()
	}

	logger.Info().Int("NumTickers", len(tickers)).Int("NumDataTypes", len(dataTypes)).Msg("refresh started")

run:
	for _, ticker := range tickers {
		for _, dt := range dataTypes {
			if job.stop.Load() || ctx.Err() != nil {
				report.Stopped = true
				break run
			}

			report.Attempted++
			res := job.Orchestrator.Fetch(ctx, dt, ticker, orchestrator.ForceRefresh())
			if res.Success {
				report.Succeeded++
				continue
			}

			report.Failed++
			logger.Warn().Str("Ticker", ticker).Str("DataType", string(dt)).Str("Error", res.Error).Msg("refresh failed for ticker")
		}
	}

	report.Elapsed = time.Since(report.Started)

	logger.Info().
		Str("RunTime", durafmt.Parse(report.Elapsed).LimitFirstN(2).String()).
		Int("Attempted", report.Attempted).
		Int("Succeeded", report.Succeeded).
		Int("Failed", report.Failed).
		Bool("Stopped", report.Stopped).
		Msg("refresh finished")

	job.notify(report)

	return report
}

func (job *Job) notify(report Report) {
	if job.Monitor == nil || job.HealthCheckID == "" || report.Stopped {
		return
	}

	var err error
	if report.Failed > 0 && report.Succeeded == 0 {
		err = job.Monitor.Fail(job.HealthCheckID)
	} else {
		err = job.Monitor.Ping(job.HealthCheckID)
	}

	if err != nil {
		log.Warn().Err(err).Str("HealthCheckID", job.HealthCheckID).Msg("could not report refresh to healthchecks")
	}
}

// Run refreshes immediately and then once per Interval until ctx is done or
// Stop is called
func (job *Job) Run(ctx context.Context) {
	interval := job.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if job.stop.Load() {
			return
		}

		job.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
