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
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/gosimple/slug"
	"github.com/hako/durafmt"
	"github.com/penny-vault/pvquote/healthcheck"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Create a healthchecks.io check for the background refresh",
	Long: `Create a healthchecks.io check that is pinged after every background refresh
run (see: serve, refresh). The check ID is saved to healthchecks.refresh_check
in the config file.

Requires healthchecks.apikey to be set.

Also see: unmonitor`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if viper.GetString("healthchecks.apikey") == "" {
			fmt.Println("healthchecks.apikey is not set")
			os.Exit(1)
		}

		if existing := viper.GetString("healthchecks.refresh_check"); existing != "" {
			fmt.Printf("A check is already configured (%s). Run `pvquote unmonitor` first.\n", existing)
			os.Exit(1)
		}

		var (
			confirmed bool
			checkName = "pvquote refresh"
			tagList   = "pvquote"
		)

		interval := viper.GetDuration("serve.refresh_interval")
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		schedule := cronFor(interval)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("What should the check be named?").
					Value(&checkName),
				huh.NewInput().
					Title("Tags (space separated)").
					Value(&tagList),
				huh.NewInput().
					Title("What schedule does the refresh run on?").
					Value(&schedule),
			),
		)

		if err := form.Run(); err != nil {
			log.Fatal().Err(err).Msg("failed to create wizard")
		}

		// Print check summary
		{
			var sb strings.Builder
			keyword := func(s string) string {
				return lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Render(s)
			}

			fmt.Fprintf(&sb,
				"%s\n\nName: %s\nSlug: %s\nTags: %s\nSchedule: %s\nRefresh Interval: %s\nTickers: %s\n",
				lipgloss.NewStyle().Bold(true).Render("NEW HEALTH CHECK"),
				keyword(checkName),
				keyword(slug.Make(checkName)),
				keyword(tagList),
				keyword(schedule),
				keyword(durafmt.Parse(interval).String()),
				keyword(strings.Join(viper.GetStringSlice("serve.tickers"), ", ")),
			)

			fmt.Println(
				lipgloss.NewStyle().
					Width(60).
					BorderStyle(lipgloss.RoundedBorder()).
					BorderForeground(lipgloss.Color("63")).
					Padding(1, 2).
					Render(sb.String()),
			)
		}

		confirmForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Create health check?").
					Value(&confirmed),
			),
		)

		if err := confirmForm.Run(); err != nil {
			log.Fatal().Err(err).Msg("failed to create wizard")
		}

		if !confirmed {
			fmt.Println("Ok, no check was created")
			return
		}

		checkID, err := healthcheck.NewFromConfig().Create(checkName, "", strings.Fields(tagList), schedule)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create health check")
		}

		viper.Set("healthchecks.refresh_check", checkID)
		if err := saveSettings(); err != nil {
			log.Fatal().Err(err).Str("CheckID", checkID).Msg("check created but could not save it to the config file")
		}

		log.Info().Str("CheckID", checkID).Msg("health check created")
	},
}

// cronFor approximates interval with a cron expression healthchecks.io
// understands
func cronFor(interval time.Duration) string {
	switch {
	case interval < time.Hour:
		return fmt.Sprintf("*/%d * * * *", max(1, int(interval.Minutes())))
	case interval < 24*time.Hour:
		return fmt.Sprintf("0 */%d * * *", int(interval.Hours()))
	default:
		return "0 0 * * *"
	}
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
