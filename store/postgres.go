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
package store

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/penny-vault/pvquote/data"
	"github.com/rs/zerolog"
)

// Postgres stores entries in the market_cache table
type Postgres struct {
	DBUrl string
	Pool  *pgxpool.Pool
}

// Connect opens a pool to the configured database
func Connect(ctx context.Context, dbURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	return &Postgres{DBUrl: dbURL, Pool: pool}, nil
}

// Close the database pool
func (pg *Postgres) Close() {
	pg.Pool.Close()
}

func (pg *Postgres) Get(ctx context.Context, dt data.DataType, ticker string) (*Entry, error) {
	entry := &Entry{}
	err := pgxscan.Get(ctx, pg.Pool, entry,
		`SELECT data_type, ticker, source, payload, updated_at FROM market_cache WHERE data_type=$1 AND ticker=$2`,
		string(dt), ticker)
	if pgxscan.NotFound(err) {
		return nil, nil
	}

	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Stringer("DataType", dt).Str("Ticker", ticker).Msg("could not read cache entry")
		return nil, err
	}

	return entry, nil
}

func (pg *Postgres) Put(ctx context.Context, entry Entry) error {
	_, err := pg.Pool.Exec(ctx, `INSERT INTO market_cache ("data_type", "ticker", "source", "payload", "updated_at")
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT ON CONSTRAINT market_cache_pkey
	DO UPDATE SET
		source = EXCLUDED.source,
		payload = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at`,
		string(entry.DataType), entry.Ticker, entry.Source, entry.Payload, entry.UpdatedAt)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Stringer("DataType", entry.DataType).Str("Ticker", entry.Ticker).Msg("could not save cache entry")
	}

	return err
}

func (pg *Postgres) Clear(ctx context.Context, dts ...data.DataType) (int64, error) {
	if len(dts) == 0 {
		tag, err := pg.Pool.Exec(ctx, `DELETE FROM market_cache`)
		return tag.RowsAffected(), err
	}

	types := make([]string, len(dts))
	for idx, dt := range dts {
		types[idx] = string(dt)
	}

	tag, err := pg.Pool.Exec(ctx, `DELETE FROM market_cache WHERE data_type = ANY($1)`, types)
	return tag.RowsAffected(), err
}

type cacheGroup struct {
	DataType string    `db:"data_type"`
	Source   string    `db:"source"`
	Entries  int64     `db:"entries"`
	Oldest   time.Time `db:"oldest"`
	Newest   time.Time `db:"newest"`
}

func (pg *Postgres) Stats(ctx context.Context) (Stats, error) {
	groups := make([]*cacheGroup, 0)
	if err := pgxscan.Select(ctx, pg.Pool, &groups,
		`SELECT data_type, source, count(*) AS entries, min(updated_at) AS oldest, max(updated_at) AS newest
		FROM market_cache GROUP BY data_type, source`); err != nil {
		return Stats{}, err
	}

	stats := newStats()
	for _, group := range groups {
		stats.add(data.DataType(group.DataType), group.Source, group.Entries, group.Oldest, group.Newest)
	}

	return stats, nil
}
