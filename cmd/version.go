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
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"github.com/penny-vault/pvquote/pkginfo"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	versionDeps  bool
	versionShort bool
	versionJSON  bool
)

type versionInfo struct {
	Version      string   `json:"version"`
	Commit       string   `json:"commit"`
	BuildDate    string   `json:"build_date"`
	GoVersion    string   `json:"go_version"`
	Dependencies []string `json:"dependencies,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		switch {
		case versionJSON:
			info := versionInfo{
				Version:   pkginfo.VersionOrDev(),
				Commit:    pkginfo.CommitHash,
				BuildDate: pkginfo.BuildDate,
				GoVersion: runtime.Version(),
			}
			if versionDeps {
				info.Dependencies = pkginfo.GetDependencyList()
			}

			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				log.Fatal().Err(err).Msg("could not encode version info")
			}
			fmt.Println(string(out))
			return
		case versionShort:
			fmt.Println(pkginfo.VersionOrDev())
		default:
			fmt.Println(pkginfo.BuildVersionString())
		}

		if versionDeps {
			fmt.Printf("\n\n")
			fmt.Println(strings.Join(pkginfo.GetDependencyList(), "\n"))
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionDeps, "deps", "d", false, "print dependencies")
	versionCmd.Flags().BoolVarP(&versionShort, "short", "s", false, "only print version number")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print version info as JSON")
}
