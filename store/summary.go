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
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/xeonx/timeago"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Summary returns a markdown description of the cache contents
func Summary(ctx context.Context, st Store, cfg config.Config, location string) (string, error) {
	stats, err := st.Stats(ctx)
	if err != nil {
		return "", err
	}

	return FormatStats(stats, cfg, location, time.Now()), nil
}

// FormatStats renders stats as markdown, flagging data types whose oldest
// entry has outlived its TTL
func FormatStats(stats Stats, cfg config.Config, location string, now time.Time) string {
	p := message.NewPrinter(language.English)
	builder := strings.Builder{}

	builder.WriteString("# Market Cache\n")
	builder.WriteString("## Details\n\n")

	if location != "" {
		builder.WriteString(fmt.Sprintf("Storage: %s\n\n", location))
	}

	builder.WriteString(p.Sprintf("  * Total Entries: %d\n", stats.Entries))

	if stats.Newest.IsZero() {
		builder.WriteString("  * Last Updated: Never\n\n")
	} else {
		builder.WriteString(fmt.Sprintf("  * Last Updated: %s (%s)\n\n", timeago.English.Format(stats.Newest), stats.Newest.Local().Format("01/02/2006 15:04")))
	}

	builder.WriteString("## Data Types\n\n")
	for _, dt := range data.AllDataTypes {
		count := stats.ByDataType[dt]
		if count == 0 {
			builder.WriteString(fmt.Sprintf("  * %s: empty (ttl %s)\n", dt, cfg.TTL(dt)))
			continue
		}

		oldest := stats.OldestByType[dt]
		state := "fresh"
		if now.Sub(oldest) >= cfg.TTL(dt) {
			state = "stale entries present"
		}

		builder.WriteString(p.Sprintf("  * %s: %d entries, oldest %s, ttl %s, %s\n", dt, count, timeago.English.Format(oldest), cfg.TTL(dt), state))
	}

	builder.WriteString("\n## Sources\n\n")
	sources := make([]string, 0, len(stats.BySource))
	for source := range stats.BySource {
		sources = append(sources, source)
	}
	slices.Sort(sources)

	for _, source := range sources {
		builder.WriteString(p.Sprintf("  * %s: %d\n", source, stats.BySource[source]))
	}

	return builder.String()
}
