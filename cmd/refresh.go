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
	"os"

	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/healthcheck"
	"github.com/penny-vault/pvquote/refresh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var refreshTypes []string

var refreshCmd = &cobra.Command{
	Use:   "refresh [ticker...]",
	Short: "Re-fetch tickers from providers and update the cache",
	Long: `Fetch every ticker for each requested data type directly from the providers,
ignoring any cached value, and store the results. With no arguments the
tickers listed in serve.tickers are refreshed.

When healthchecks.refresh_check is set the run is reported to healthchecks.io
(see: monitor).`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		myApp := mustApp(ctx)
		defer myApp.close()

		tickers := args
		if len(tickers) == 0 {
			tickers = viper.GetStringSlice("serve.tickers")
		}

		if len(tickers) == 0 {
			fmt.Println("No tickers to refresh; pass them as arguments or set serve.tickers")
			os.Exit(1)
		}

		dataTypes := make([]data.DataType, 0, len(refreshTypes))
		for _, name := range refreshTypes {
			dataTypes = append(dataTypes, mustDataType(name))
		}

		job := &refresh.Job{
			Orchestrator:  myApp.orch,
			Tickers:       func() []string { return tickers },
			DataTypes:     dataTypes,
			HealthCheckID: viper.GetString("healthchecks.refresh_check"),
		}

		if viper.GetString("healthchecks.apikey") != "" {
			job.Monitor = healthcheck.NewFromConfig()
		}

		report := job.RunOnce(ctx)
		if report.Failed > 0 {
			log.Warn().Int("Failed", report.Failed).Int("Attempted", report.Attempted).Msg("some tickers could not be refreshed")
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().StringSliceVarP(&refreshTypes, "types", "t", []string{"price"}, "data types to refresh")
}
