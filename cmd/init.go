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
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/jackc/pgx/v5"
	"github.com/pelletier/go-toml/v2"
	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/db"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type apiKey struct {
	APIKey string `toml:"apikey,omitempty"`
}

// settingsFile is the layout of ~/.pvquote.toml written by init
type settingsFile struct {
	DB struct {
		URL string `toml:"url,omitempty"`
	} `toml:"db"`
	Orchestrator struct {
		File string `toml:"file"`
	} `toml:"orchestrator"`
	Tiingo       apiKey `toml:"tiingo"`
	Polygon      apiKey `toml:"polygon"`
	Nasdaq       apiKey `toml:"nasdaq"`
	OpenFigi     apiKey `toml:"openfigi"`
	Healthchecks apiKey `toml:"healthchecks"`
}

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Gather provider and database configuration and setup schema",
	Run: func(cmd *cobra.Command, args []string) {
		settings := settingsFile{}
		settings.DB.URL = viper.GetString("db.url")
		settings.Orchestrator.File = orchestratorConfigPath()
		settings.Tiingo.APIKey = viper.GetString("tiingo.apikey")
		settings.Polygon.APIKey = viper.GetString("polygon.apikey")
		settings.Nasdaq.APIKey = viper.GetString("nasdaq.apikey")
		settings.OpenFigi.APIKey = viper.GetString("openfigi.apikey")
		settings.Healthchecks.APIKey = viper.GetString("healthchecks.apikey")

		form := huh.NewForm(
			// Provider credentials
			huh.NewGroup(
				huh.NewInput().Title("Tiingo API key").Value(&settings.Tiingo.APIKey),
				huh.NewInput().Title("Polygon.io API key").Value(&settings.Polygon.APIKey),
				huh.NewInput().Title("Nasdaq Data Link API key").Value(&settings.Nasdaq.APIKey),
				huh.NewInput().Title("OpenFIGI API key (optional)").Value(&settings.OpenFigi.APIKey),
				huh.NewInput().Title("healthchecks.io API key (optional)").Value(&settings.Healthchecks.APIKey),
			),

			// Cache and orchestrator settings
			huh.NewGroup(
				huh.NewInput().
					Title("Provide the DSN for the PostgreSQL cache (postgres://[user[:password]@][netloc][:port][/dbname][?param1=value1&...]); leave empty to cache in memory").
					Value(&settings.DB.URL).
					Validate(func(dsn string) error {
						if dsn == "" {
							return nil
						}
						_, err := pgx.ParseConfig(dsn)
						return err
					}),
				huh.NewInput().
					Title("Where should provider priorities and timeouts be stored?").
					Value(&settings.Orchestrator.File),
			),
		)

		if err := form.Run(); err != nil {
			log.Fatal().Err(err).Msg("error gathering settings")
		}

		if settings.DB.URL != "" {
			log.Info().Msg("creating database tables")
			if err := db.Migrate(settings.DB.URL); err != nil {
				log.Fatal().Err(err).Msg("error running database migration")
			}
			log.Info().Msg("database tables created")
		}

		// Load writes the defaults for a missing file; Update surfaces write errors
		mgr := config.Load(settings.Orchestrator.File)
		if err := mgr.Update(func(*config.Config) {}); err != nil {
			log.Fatal().Err(err).Str("FileName", settings.Orchestrator.File).Msg("could not write orchestrator config")
		}

		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal().Err(err).Msg("could not determine user home directory")
		}

		configFN := filepath.Join(home, ".pvquote.toml")
		if cfgFile != "" {
			configFN = cfgFile
		}

		log.Info().Str("ConfigFile", configFN).Msg("saving settings to config file")
		configData, err := toml.Marshal(settings)
		if err != nil {
			log.Fatal().Err(err).Msg("could not marshal configuration data")
		}

		if err := os.WriteFile(configFN, configData, 0600); err != nil {
			log.Fatal().Err(err).Str("FileName", configFN).Msg("could not save configuration to file")
		}

		log.Info().Msg("pvquote has been initialized")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
