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

// Package server exposes the orchestrator over HTTP for `pvquote serve`.
package server

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pvquote/activity"
	"github.com/penny-vault/pvquote/breaker"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Recorder     *activity.Recorder

	// Gatherer backs /metrics; nil omits the endpoint
	Gatherer prometheus.Gatherer
}

// Health is the body returned by /healthz
type Health struct {
	Status       string   `json:"status"`
	OpenCircuits []string `json:"open_circuits"`
	CacheEntries int64    `json:"cache_entries"`
}

type handler struct {
	orch     *orchestrator.Orchestrator
	recorder *activity.Recorder
}

// New builds the HTTP routes
func New(opts Options) http.Handler {
	h := &handler{
		orch:     opts.Orchestrator,
		recorder: opts.Recorder,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /breakers", h.breakers)
	mux.HandleFunc("GET /breakers/{name}", h.breaker)
	mux.HandleFunc("POST /breakers/reset", h.resetAll)
	mux.HandleFunc("POST /breakers/{name}/reset", h.reset)
	mux.HandleFunc("GET /activity", h.activity)
	mux.HandleFunc("GET /quote/{ticker}", h.quote)
	mux.HandleFunc("GET /data/{dataType}/{ticker}", h.fetch)

	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("could not write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	health := Health{Status: "ok", OpenCircuits: []string{}}

	for _, st := range h.orch.BreakerStatuses() {
		if st.State != breaker.Closed {
			health.OpenCircuits = append(health.OpenCircuits, st.Name)
		}
	}

	stats, err := h.orch.CacheStats(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("cache statistics unavailable")
		health.Status = "degraded"
	} else {
		health.CacheEntries = stats.Entries
	}

	if len(health.OpenCircuits) > 0 {
		health.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, health)
}

func (h *handler) breakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.BreakerStatuses())
}

func (h *handler) breaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.BreakerStatus(r.PathValue("name")))
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.orch.ResetBreaker(name)
	writeJSON(w, http.StatusOK, h.orch.BreakerStatus(name))
}

func (h *handler) resetAll(w http.ResponseWriter, r *http.Request) {
	h.orch.ResetAll()
	writeJSON(w, http.StatusOK, h.orch.BreakerStatuses())
}

func (h *handler) activity(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		writeJSON(w, http.StatusOK, []activity.Event{})
		return
	}

	writeJSON(w, http.StatusOK, h.recorder.Events())
}

func fetchOptions(r *http.Request) []orchestrator.Option {
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); force {
		return []orchestrator.Option{orchestrator.ForceRefresh()}
	}

	return nil
}

func writeResult(w http.ResponseWriter, res data.FetchResult) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}

	writeJSON(w, status, res)
}

func (h *handler) quote(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.orch.FetchPrice(r.Context(), r.PathValue("ticker"), fetchOptions(r)...))
}

func (h *handler) fetch(w http.ResponseWriter, r *http.Request) {
	dt, err := data.ParseDataType(r.PathValue("dataType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeResult(w, h.orch.Fetch(r.Context(), dt, r.PathValue("ticker"), fetchOptions(r)...))
}
