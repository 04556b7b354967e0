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

// Package registry holds every known data source and produces the ordered
// candidate list for a fetch.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/provider"
)

var (
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrProviderNotFound  = errors.New("provider not found")
)

type Registry struct {
	mu        sync.RWMutex
	providers []provider.Provider
}

func New(providers ...provider.Provider) (*Registry, error) {
	reg := &Registry{}
	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// Register adds p; names must be unique
func (reg *Registry) Register(p provider.Provider) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.indexOf(p.Name()) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
	}

	reg.providers = append(reg.providers, p)
	return nil
}

func (reg *Registry) indexOf(name string) int {
	return slices.IndexFunc(reg.providers, func(p provider.Provider) bool {
		return p.Name() == name
	})
}

func (reg *Registry) Get(name string) (provider.Provider, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	idx := reg.indexOf(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	return reg.providers[idx], nil
}

// All returns the providers in registration order
func (reg *Registry) All() []provider.Provider {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return slices.Clone(reg.providers)
}

func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	names := make([]string, len(reg.providers))
	for idx, p := range reg.providers {
		names[idx] = p.Name()
	}

	return names
}

// ProvidersOrdered returns the candidates for dt in the order they should
// be tried:
//
//  1. the configured priority list for dt
//  2. minus sources that are unavailable, disabled or do not serve dt
//  3. plus remaining eligible sources in registration order
//  4. sources with a native batch call for dt first when batching is
//     preferred
//  5. realtime sources first for prices, authoritative sources first for EPS
//
// Every sort is stable so ties keep the order from steps 1 and 3.
func (reg *Registry) ProvidersOrdered(dt data.DataType, cfg config.Config) []provider.Provider {
	all := reg.All()

	eligible := func(p provider.Provider) bool {
		return provider.Supports(p, dt) && !cfg.IsDisabled(p.Name()) && p.IsAvailable()
	}

	ordered := make([]provider.Provider, 0, len(all))
	seen := make(map[string]bool, len(all))

	for _, name := range cfg.ProviderOrder(dt) {
		idx := slices.IndexFunc(all, func(p provider.Provider) bool { return p.Name() == name })
		if idx < 0 || seen[name] {
			continue
		}

		seen[name] = true
		if eligible(all[idx]) {
			ordered = append(ordered, all[idx])
		}
	}

	for _, p := range all {
		if !seen[p.Name()] && eligible(p) {
			seen[p.Name()] = true
			ordered = append(ordered, p)
		}
	}

	if cfg.PreferBatch {
		slices.SortStableFunc(ordered, preferTrue(func(p provider.Provider) bool {
			return provider.SupportsBatchFor(p, dt)
		}))
	}

	switch dt {
	case data.PriceKey:
		slices.SortStableFunc(ordered, preferTrue(provider.Provider.IsRealtime))
	case data.EPSKey:
		slices.SortStableFunc(ordered, preferTrue(provider.Provider.IsAuthoritative))
	}

	return ordered
}

func preferTrue(flag func(provider.Provider) bool) func(a, b provider.Provider) int {
	return func(a, b provider.Provider) int {
		fa, fb := flag(a), flag(b)
		switch {
		case fa == fb:
			return 0
		case fa:
			return -1
		default:
			return 1
		}
	}
}

// Row describes one provider for display
type Row struct {
	Name          string          `json:"name"`
	Label         string          `json:"label"`
	DataTypes     []data.DataType `json:"data_types"`
	Available     bool            `json:"available"`
	Disabled      bool            `json:"disabled"`
	Realtime      bool            `json:"realtime"`
	Batch         bool            `json:"batch"`
	Authoritative bool            `json:"authoritative"`
}

// Describe lists every provider in registration order with its status
// under cfg
func (reg *Registry) Describe(cfg config.Config) []Row {
	all := reg.All()
	rows := make([]Row, 0, len(all))
	for _, p := range all {
		rows = append(rows, Row{
			Name:          p.Name(),
			Label:         p.Label(),
			DataTypes:     p.DataTypes(),
			Available:     p.IsAvailable(),
			Disabled:      cfg.IsDisabled(p.Name()),
			Realtime:      p.IsRealtime(),
			Batch:         p.SupportsBatch(),
			Authoritative: p.IsAuthoritative(),
		})
	}

	return rows
}
