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

// Package store persists successful fetch results so repeated requests can
// be answered without contacting a source.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/penny-vault/pvquote/data"
)

// Entry is one cached payload. Ticker holds the cache key, which for
// history requests includes the date range.
type Entry struct {
	DataType  data.DataType `db:"data_type" json:"data_type"`
	Ticker    string        `db:"ticker" json:"ticker"`
	Source    string        `db:"source" json:"source"`
	Payload   []byte        `db:"payload" json:"-"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Age is the time elapsed since the entry was written
func (entry *Entry) Age(now time.Time) time.Duration {
	return now.Sub(entry.UpdatedAt)
}

// Store must be safe for concurrent use. Writes are upserts and the last
// write wins.
type Store interface {
	// Get returns nil, nil when no entry exists
	Get(ctx context.Context, dt data.DataType, ticker string) (*Entry, error)
	Put(ctx context.Context, entry Entry) error

	// Clear removes entries of the given types, or every entry when none
	// are given, and returns the number removed
	Clear(ctx context.Context, dts ...data.DataType) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Entries      int64                       `json:"entries"`
	ByDataType   map[data.DataType]int64     `json:"by_data_type"`
	BySource     map[string]int64            `json:"by_source"`
	Oldest       time.Time                   `json:"oldest"`
	Newest       time.Time                   `json:"newest"`
	OldestByType map[data.DataType]time.Time `json:"oldest_by_type"`
}

func newStats() Stats {
	return Stats{
		ByDataType:   make(map[data.DataType]int64),
		BySource:     make(map[string]int64),
		OldestByType: make(map[data.DataType]time.Time),
	}
}

// add folds count entries written between oldest and newest into stats
func (stats *Stats) add(dt data.DataType, source string, count int64, oldest, newest time.Time) {
	stats.Entries += count
	stats.ByDataType[dt] += count
	stats.BySource[source] += count

	if stats.Oldest.IsZero() || oldest.Before(stats.Oldest) {
		stats.Oldest = oldest
	}

	if newest.After(stats.Newest) {
		stats.Newest = newest
	}

	if current, ok := stats.OldestByType[dt]; !ok || oldest.Before(current) {
		stats.OldestByType[dt] = oldest
	}
}

// GetPrice reads a cached quote
func GetPrice(ctx context.Context, st Store, ticker string) (*data.Quote, *Entry, error) {
	entry, err := st.Get(ctx, data.PriceKey, ticker)
	if err != nil || entry == nil {
		return nil, entry, err
	}

	decoded, err := data.Decode(data.PriceKey, entry.Payload)
	if err != nil {
		return nil, entry, err
	}

	return decoded.(*data.Quote), entry, nil
}

// PutPrice caches quote as reported by source
func PutPrice(ctx context.Context, st Store, ticker, source string, quote *data.Quote) error {
	payload, err := data.Encode(quote)
	if err != nil {
		return fmt.Errorf("encode quote for %s: %w", ticker, err)
	}

	return st.Put(ctx, Entry{
		DataType:  data.PriceKey,
		Ticker:    ticker,
		Source:    source,
		Payload:   payload,
		UpdatedAt: time.Now(),
	})
}
