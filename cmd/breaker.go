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
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hako/durafmt"
	"github.com/penny-vault/pvquote/breaker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Circuit breakers live inside a running `pvquote serve` process, so these
// commands talk to its HTTP API.

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect and reset provider circuit breakers of a running server",
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status [provider]",
	Short: "Show circuit breaker state",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		statuses := []breaker.Status{}

		if len(args) == 1 {
			status := breaker.Status{}
			getJSON("/breakers/"+args[0], &status)
			statuses = append(statuses, status)
		} else {
			getJSON("/breakers", &statuses)
		}

		renderMarkdown(breakerTable(statuses))
	},
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset [provider]",
	Short: "Close circuits and forget their failure history",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "/breakers/reset"
		if len(args) == 1 {
			path = fmt.Sprintf("/breakers/%s/reset", args[0])
		}

		resp, err := serverClient().R().Post(path)
		if err != nil {
			log.Fatal().Err(err).Msg("could not reach pvquote server")
		}

		if resp.StatusCode() >= 300 {
			log.Fatal().Int("StatusCode", resp.StatusCode()).Str("Body", resp.String()).Msg("server returned an error")
		}

		log.Info().Strs("Providers", args).Msg("circuit breakers reset")
	},
}

// getJSON decodes the server response for path into result or exits
func getJSON(path string, result any) {
	resp, err := serverClient().R().SetResult(result).Get(path)
	if err != nil {
		log.Fatal().Err(err).Msg("could not reach pvquote server")
	}

	if resp.StatusCode() >= 300 {
		log.Fatal().Int("StatusCode", resp.StatusCode()).Str("Body", resp.String()).Msg("server returned an error")
	}
}

func serverClient() *resty.Client {
	return resty.New().
		SetBaseURL(viper.GetString("server")).
		SetTimeout(10 * time.Second)
}

func breakerTable(statuses []breaker.Status) string {
	sb := strings.Builder{}
	sb.WriteString("# Circuit Breakers\n\n")
	sb.WriteString("| Provider | State | Failures | Last Failure | Last Success | Cooldown Remaining |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")

	when := func(ts time.Time) string {
		if ts.IsZero() {
			return "never"
		}
		return ts.Local().Format(time.DateTime)
	}

	for _, st := range statuses {
		cooldown := ""
		if st.CooldownRemaining > 0 {
			cooldown = durafmt.Parse(st.CooldownRemaining).LimitFirstN(2).String()
		}

		fmt.Fprintf(&sb, "| %s | %s | %d | %s | %s | %s |\n",
			st.Name, st.StateName, st.FailureCount, when(st.LastFailure), when(st.LastSuccess), cooldown)
	}

	return sb.String()
}

func init() {
	rootCmd.AddCommand(breakerCmd)
	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerResetCmd)

	breakerCmd.PersistentFlags().String("server", "http://localhost:8080", "address of a running pvquote server")
	if err := viper.BindPFlag("server", breakerCmd.PersistentFlags().Lookup("server")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for server failed")
	}
}
