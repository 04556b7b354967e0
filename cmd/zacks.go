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

	"github.com/penny-vault/pvquote/provider"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var zacksCmd = &cobra.Command{
	Use:   "zacks",
	Short: "Manage Zacks stock screen snapshots",
}

var zacksDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Run the saved Zacks screen and store a new snapshot",
	Long: `Log in to Zacks with a headless browser, run the saved stock screen
(zacks.screen_id), convert the CSV export to parquet and upload it to
backblaze when configured. The snapshot backs the zacks provider's EPS,
stock info and selloff data.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := log.Logger.WithContext(context.Background())

		myApp := mustApp(ctx)
		defer myApp.close()

		p, err := myApp.registry.Get("zacks")
		if err != nil {
			log.Fatal().Err(err).Msg("zacks provider is not registered")
		}

		zacks, ok := p.(*provider.Zacks)
		if !ok {
			log.Fatal().Str("Type", fmt.Sprintf("%T", p)).Msg("zacks provider has an unexpected type")
		}

		fn, err := zacks.Download(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("zacks download failed")
		}

		log.Info().Str("FileName", fn).Msg("zacks snapshot saved")
	},
}

func init() {
	rootCmd.AddCommand(zacksCmd)
	zacksCmd.AddCommand(zacksDownloadCmd)
}
