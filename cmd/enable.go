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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// enableCmd represents the enable command
var enableCmd = &cobra.Command{
	Use:   "enable <provider...>",
	Short: "Allow disabled providers to serve requests again",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		myApp := mustApp(context.Background())
		defer myApp.close()

		for _, name := range args {
			if _, err := myApp.registry.Get(name); err != nil {
				log.Fatal().Err(err).Str("Provider", name).Msg("unknown provider")
			}

			if err := myApp.config.EnableProvider(name); err != nil {
				log.Fatal().Err(err).Msg("could not enable provider")
			}

			log.Info().Str("Provider", name).Msg("provider enabled")
		}
	},
}

// disableCmd represents the disable command
var disableCmd = &cobra.Command{
	Use:   "disable <provider...>",
	Short: "Stop using providers without removing them from the priority lists",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		myApp := mustApp(context.Background())
		defer myApp.close()

		for _, name := range args {
			if _, err := myApp.registry.Get(name); err != nil {
				log.Fatal().Err(err).Str("Provider", name).Msg("unknown provider")
			}

			if err := myApp.config.DisableProvider(name); err != nil {
				log.Fatal().Err(err).Msg("could not disable provider")
			}

			log.Info().Str("Provider", name).Msg("provider disabled")
		}
	},
}

func init() {
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
}
