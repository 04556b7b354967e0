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
package cmd

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pvquote/data"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear cached market data",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache statistics as JSON",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		myApp := mustApp(ctx)
		defer myApp.close()

		stats, err := myApp.orch.CacheStats(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not read cache statistics")
		}

		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("could not marshal cache statistics")
		}

		fmt.Println(string(out))
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [data-type...]",
	Short: "Remove cached entries of the given data types, or everything",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		myApp := mustApp(ctx)
		defer myApp.close()

		dts := make([]data.DataType, 0, len(args))
		for _, arg := range args {
			dts = append(dts, mustDataType(arg))
		}

		removed, err := myApp.orch.ClearCache(ctx, dts...)
		if err != nil {
			log.Fatal().Err(err).Msg("could not clear cache")
		}

		fmt.Printf("removed %d cached entries\n", removed)
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
