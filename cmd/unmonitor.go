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
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/penny-vault/pvquote/healthcheck"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var deleteCheck bool

// unmonitorCmd represents the unmonitor command
var unmonitorCmd = &cobra.Command{
	Use:   "unmonitor",
	Short: "Pause or delete the healthchecks.io check for the background refresh",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		checkID := viper.GetString("healthchecks.refresh_check")
		if checkID == "" {
			fmt.Println("No health check is configured")
			os.Exit(1)
		}

		action := "pause"
		if deleteCheck {
			action = "delete"
		}

		confirmed := false
		confirmForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Are you sure you want to %s check '%s'?", action, checkID)).
					Value(&confirmed),
			),
		)

		if err := confirmForm.Run(); err != nil {
			log.Fatal().Err(err).Msg("failed to create wizard")
		}

		if !confirmed {
			fmt.Printf("Ok, we won't %s '%s'\n", action, checkID)
			return
		}

		client := healthcheck.NewFromConfig()
		if !deleteCheck {
			if err := client.Pause(checkID); err != nil {
				log.Fatal().Err(err).Msg("could not pause health check")
			}
			fmt.Printf("paused '%s'\n", checkID)
			return
		}

		if err := client.Delete(checkID); err != nil {
			log.Fatal().Err(err).Msg("could not delete health check")
		}

		viper.Set("healthchecks.refresh_check", "")
		if err := saveSettings(); err != nil {
			log.Fatal().Err(err).Msg("could not update config file")
		}

		fmt.Printf("deleted '%s'\n", checkID)
	},
}

func init() {
	rootCmd.AddCommand(unmonitorCmd)
	unmonitorCmd.Flags().BoolVarP(&deleteCheck, "delete", "d", false, "delete the check instead of pausing it")
}
