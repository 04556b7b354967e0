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
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/penny-vault/pvquote/activity"
	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/orchestrator"
	"github.com/penny-vault/pvquote/provider"
	"github.com/penny-vault/pvquote/registry"
	"github.com/penny-vault/pvquote/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// app bundles the components shared by commands
type app struct {
	orch     *orchestrator.Orchestrator
	config   *config.Manager
	registry *registry.Registry
	store    store.Store
	recorder *activity.Recorder

	close func()
}

func orchestratorConfigPath() string {
	if fn := viper.GetString("orchestrator.file"); fn != "" {
		return fn
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatal().Err(err).Msg("could not determine user home directory")
	}

	return filepath.Join(home, ".pvquote-orchestrator.toml")
}

// openStore connects to PostgreSQL when db.url is set and otherwise keeps
// the cache in memory
func openStore(ctx context.Context) (store.Store, func(), error) {
	dbURL := viper.GetString("db.url")
	if dbURL == "" {
		log.Debug().Msg("no database configured; caching in memory")
		return store.NewMemory(), func() {}, nil
	}

	pg, err := store.Connect(ctx, dbURL)
	if err != nil {
		return nil, nil, err
	}

	return pg, pg.Close, nil
}

func newApp(ctx context.Context, reg prometheus.Registerer) (*app, error) {
	mgr := config.Load(orchestratorConfigPath())

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	providers, err := registry.New(provider.Default()...)
	if err != nil {
		closeStore()
		return nil, err
	}

	recorder := activity.NewRecorder(500)

	orch, err := orchestrator.New(orchestrator.Options{
		Registry:   providers,
		Config:     mgr,
		Store:      st,
		Sink:       activity.Multi{activity.Zerolog{}, recorder},
		Registerer: reg,
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	return &app{
		orch:     orch,
		config:   mgr,
		registry: providers,
		store:    st,
		recorder: recorder,
		close:    closeStore,
	}, nil
}

// mustApp builds the app or exits
func mustApp(ctx context.Context) *app {
	myApp, err := newApp(ctx, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize pvquote")
	}

	return myApp
}

func mustDataType(arg string) data.DataType {
	dt, err := data.ParseDataType(arg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid data type")
	}

	return dt
}

// renderMarkdown prints a markdown document using the terminal's theme
func renderMarkdown(doc string) {
	r, _ := glamour.NewTermRenderer(
		// detect background color and pick either the default dark or light theme
		glamour.WithAutoStyle(),
		// wrap output at specific width (default is 80)
		glamour.WithWordWrap(100),
	)

	out, err := r.Render(doc)
	if err != nil {
		log.Fatal().Err(err).Msg("could not render document")
	}

	fmt.Print(out)
}

// saveSettings writes viper's settings back to the config file in use, or
// to ~/.pvquote.toml when none was read
func saveSettings() error {
	if viper.ConfigFileUsed() != "" {
		return viper.WriteConfig()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	return viper.WriteConfigAs(filepath.Join(home, ".pvquote.toml"))
}
