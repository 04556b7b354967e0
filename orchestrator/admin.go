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

	"github.com/penny-vault/pvquote/breaker"
	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/provider"
	"github.com/penny-vault/pvquote/registry"
	"github.com/penny-vault/pvquote/store"
	"github.com/rs/zerolog/log"
)

// ClearCache removes cached entries of the given types, or all entries when
// none are given
func (orch *Orchestrator) ClearCache(ctx context.Context, dts ...data.DataType) (int64, error) {
	removed, err := orch.store.Clear(ctx, dts...)
	if err != nil {
		return 0, err
	}

	log.Info().Int64("Removed", removed).Interface("DataTypes", dts).Msg("cache cleared")
	return removed, nil
}

func (orch *Orchestrator) CacheStats(ctx context.Context) (store.Stats, error) {
	return orch.store.Stats(ctx)
}

func (orch *Orchestrator) BreakerStatus(name string) breaker.Status {
	return orch.breaker.Status(name)
}

func (orch *Orchestrator) BreakerStatuses() []breaker.Status {
	return orch.breaker.All()
}

func (orch *Orchestrator) ResetBreaker(name string) {
	orch.breaker.Reset(name)
	orch.metrics.breakerState.WithLabelValues(name).Set(float64(breaker.Closed))
	log.Info().Str("Provider", name).Msg("circuit reset")
}

func (orch *Orchestrator) ResetAll() {
	orch.breaker.ResetAll()
	for _, name := range orch.registry.Names() {
		orch.metrics.breakerState.WithLabelValues(name).Set(float64(breaker.Closed))
	}
	log.Info().Msg("all circuits reset")
}

// Providers lists the candidates for dt in the order they would be tried now
func (orch *Orchestrator) Providers(dt data.DataType) []provider.Provider {
	return orch.registry.ProvidersOrdered(dt, orch.config.Current())
}

// Describe lists every registered source with its status
func (orch *Orchestrator) Describe() []registry.Row {
	return orch.registry.Describe(orch.config.Current())
}

// Config exposes the live configuration manager
func (orch *Orchestrator) Config() *config.Manager {
	return orch.config
}
