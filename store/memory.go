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
	"slices"

	"github.com/alphadose/haxmap"
	"github.com/penny-vault/pvquote/data"
)

// Memory is a process-local Store
type Memory struct {
	entries *haxmap.Map[string, Entry]
}

func NewMemory() *Memory {
	return &Memory{
		entries: haxmap.New[string, Entry](),
	}
}

func memoryKey(dt data.DataType, ticker string) string {
	return string(dt) + "|" + ticker
}

func (mem *Memory) Get(ctx context.Context, dt data.DataType, ticker string) (*Entry, error) {
	entry, ok := mem.entries.Get(memoryKey(dt, ticker))
	if !ok {
		return nil, nil
	}

	entry.Payload = slices.Clone(entry.Payload)
	return &entry, nil
}

func (mem *Memory) Put(ctx context.Context, entry Entry) error {
	entry.Payload = slices.Clone(entry.Payload)
	mem.entries.Set(memoryKey(entry.DataType, entry.Ticker), entry)
	return nil
}

func (mem *Memory) Clear(ctx context.Context, dts ...data.DataType) (int64, error) {
	keys := make([]string, 0)
	mem.entries.ForEach(func(key string, entry Entry) bool {
		if len(dts) == 0 || slices.Contains(dts, entry.DataType) {
			keys = append(keys, key)
		}
		return true
	})

	mem.entries.Del(keys...)
	return int64(len(keys)), nil
}

func (mem *Memory) Stats(ctx context.Context) (Stats, error) {
	stats := newStats()
	mem.entries.ForEach(func(_ string, entry Entry) bool {
		stats.add(entry.DataType, entry.Source, 1, entry.UpdatedAt, entry.UpdatedAt)
		return true
	})

	return stats, nil
}
