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
	"slices"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/penny-vault/pvquote/provider"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// priorityCmd represents the priority command
var priorityCmd = &cobra.Command{
	Use:   "priority <data-type> [provider...]",
	Short: "Set the order providers are tried for a data type",
	Long: `Priority replaces the configured provider order for a data type. When no
providers are listed an interactive picker is shown with the current order.
Providers left out of the list are still tried after the listed ones, and
realtime price sources and authoritative EPS sources always go first.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		myApp := mustApp(context.Background())
		defer myApp.close()

		dt := mustDataType(args[0])
		order := args[1:]

		if len(order) == 0 {
			current := myApp.config.Current().ProviderOrder(dt)

			candidates := slices.Clone(current)
			for _, p := range myApp.registry.All() {
				if provider.Supports(p, dt) && !slices.Contains(candidates, p.Name()) {
					candidates = append(candidates, p.Name())
				}
			}

			order = current
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewMultiSelect[string]().
						Title(fmt.Sprintf("Which providers should serve %s requests (listed in priority order)?", dt)).
						Options(huh.NewOptions(candidates...)...).
						Value(&order),
				),
			)

			if err := form.Run(); err != nil {
				log.Fatal().Err(err).Msg("failed to create wizard")
			}
		}

		for _, name := range order {
			p, err := myApp.registry.Get(name)
			if err != nil {
				log.Fatal().Err(err).Str("Provider", name).Msg("unknown provider")
			}

			if !provider.Supports(p, dt) {
				log.Fatal().Str("Provider", name).Str("DataType", string(dt)).Msg("provider does not serve this data type")
			}
		}

		if err := myApp.config.SetProviderOrder(dt, order); err != nil {
			log.Fatal().Err(err).Msg("could not save provider order")
		}

		log.Info().Str("DataType", string(dt)).Str("Order", strings.Join(order, ", ")).Msg("provider priority updated")
	},
}

func init() {
	rootCmd.AddCommand(priorityCmd)
}
