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

	"github.com/penny-vault/pvquote/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display information about the market data cache",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		myApp := mustApp(ctx)
		defer myApp.close()

		location := "in-memory cache"
		if dbURL := viper.GetString("db.url"); dbURL != "" {
			location = "PostgreSQL"
		}

		summary, err := store.Summary(ctx, myApp.store, myApp.config.Current(), location)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create cache summary document")
		}

		renderMarkdown(summary)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
