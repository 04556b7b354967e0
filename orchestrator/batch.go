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
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/penny-vault/pvquote/activity"
	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/provider"
)

// uniqueTickers normalizes tickers and drops blanks and repeats
func uniqueTickers(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		ticker = normalizeTicker(ticker)
		if ticker != "" && !slices.Contains(out, ticker) {
			out = append(out, ticker)
		}
	}

	return out
}

// fetchBatch answers cached tickers directly and walks the candidates for
// the rest. Sources with a native batch call for dt get one call per chunk
// and every ticker they resolve is removed before the next candidate; other
// sources are asked one ticker at a time.
func (orch *Orchestrator) fetchBatch(ctx context.Context, dt data.DataType, tickers []string, keyOf func(string) string, single singleCall, batch batchCall, opts []Option) map[string]data.FetchResult {
	results := make(map[string]data.FetchResult, len(tickers))

	remaining := uniqueTickers(tickers)
	if len(remaining) == 0 {
		return results
	}

	fo := newFetchOptions(opts)
	cfg := orch.config.Current()

	if !fo.force {
		pending := make([]string, 0, len(remaining))
		for _, ticker := range remaining {
			if res, ok := orch.cached(ctx, cfg, dt, keyOf(ticker), ticker); ok {
				results[ticker] = res
				continue
			}
			pending = append(pending, ticker)
		}
		remaining = pending
	}

	if len(remaining) == 0 {
		return results
	}

	candidates := orch.registry.ProvidersOrdered(dt, cfg)
	if len(candidates) == 0 {
		activity.Safe(orch.sink, activity.Warn, "", fmt.Sprintf(noProvidersFormat, dt), "")
		for _, ticker := range remaining {
			results[ticker] = data.Failed("", noProvidersFormat, dt)
		}
		return results
	}

	attempts := make(map[string][]attempt, len(remaining))

	for _, p := range candidates {
		if len(remaining) == 0 {
			break
		}

		if provider.SupportsBatchFor(p, dt) {
			remaining = orch.tryBatch(ctx, cfg, dt, p, remaining, keyOf, batch, results, attempts)
			continue
		}

		unresolved := make([]string, 0, len(remaining))
		for _, ticker := range remaining {
			res, att := orch.trySingle(ctx, cfg, dt, p, ticker, single)
			if att.kind == kindSuccess {
				results[ticker] = res
				orch.remember(ctx, dt, keyOf(ticker), res)
				continue
			}

			attempts[ticker] = append(attempts[ticker], att)
			unresolved = append(unresolved, ticker)
		}
		remaining = unresolved
	}

	for _, ticker := range remaining {
		results[ticker] = data.Failed("", "%s", aggregate(attempts[ticker]))
	}

	return results
}

// tryBatch issues batched calls to p and returns the tickers it did not
// resolve. A call that resolves at least one ticker is a breaker success.
func (orch *Orchestrator) tryBatch(ctx context.Context, cfg config.Config, dt data.DataType, p provider.Provider, tickers []string, keyOf func(string) string, call batchCall,
	results map[string]data.FetchResult, attempts map[string][]attempt) []string {
	name := p.Name()
	unresolved := make([]string, 0)

	for chunk := range slices.Chunk(tickers, cfg.BatchSize) {
		chunk = slices.Clone(chunk)

		if att, ok := orch.admit(ctx, cfg, dt, p, ""); !ok {
			for _, ticker := range chunk {
				attempts[ticker] = append(attempts[ticker], att)
			}
			unresolved = append(unresolved, chunk...)
			continue
		}

		activity.Safe(orch.sink, activity.Debug, name, fmt.Sprintf("fetching %s for %d tickers", dt, len(chunk)), "")

		spanCtx, span := orch.startSpan(ctx, name, dt, len(chunk))
		timeout := cfg.BatchTimeout(len(chunk))
		started := time.Now()

		out, err := execute(spanCtx, orch.workers(), timeout, func(callCtx context.Context) map[string]data.FetchResult {
			return call(callCtx, p, chunk)
		})

		var outcome attempt
		resolved := 0

		if err != nil {
			outcome = classify(name, timeout, err)
			for _, ticker := range chunk {
				attempts[ticker] = append(attempts[ticker], outcome)
			}
			unresolved = append(unresolved, chunk...)
		} else {
			for _, ticker := range chunk {
				res, ok := out[ticker]
				if ok && res.Success {
					if res.Source == "" {
						res.Source = name
					}
					results[ticker] = res
					orch.remember(ctx, dt, keyOf(ticker), res)
					resolved++
					continue
				}

				if !ok {
					res = data.Failed(name, "no result for %s", ticker)
				}
				attempts[ticker] = append(attempts[ticker], failedWith(name, res))
				unresolved = append(unresolved, ticker)
			}

			if resolved > 0 {
				outcome = attempt{provider: name, kind: kindSuccess, message: fmt.Sprintf("%s fetched for %d of %d tickers", dt, resolved, len(chunk))}
			} else {
				outcome = attempt{provider: name, kind: kindFailure, message: fmt.Sprintf("no %s resolved for %d tickers", dt, len(chunk))}
			}
		}

		orch.settle(name, outcome)
		orch.observe(span, dt, outcome, time.Since(started))
		orch.report(dt, "", outcome)
	}

	return unresolved
}
