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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	attempts     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cacheHits    *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
}

// newMetrics registers the collectors on reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pvquote_fetch_attempts_total",
				Help: "Provider calls by outcome",
			},
			[]string{"provider", "data_type", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pvquote_fetch_duration_seconds",
				Help:    "Time spent waiting on provider calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "data_type"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pvquote_cache_hits_total",
				Help: "Requests answered from the cache",
			},
			[]string{"data_type"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pvquote_breaker_state",
				Help: "Circuit state per provider (0 closed, 1 open, 2 half-open)",
			},
			[]string{"provider"},
		),
	}
}
