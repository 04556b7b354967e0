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
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/healthcheck"
	"github.com/penny-vault/pvquote/refresh"
	"github.com/penny-vault/pvquote/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve market data over HTTP",
	Long: `Run pvquote as a long-lived service. Quotes and other data types are available
over HTTP, circuit breaker state can be inspected and reset, prometheus metrics
are exposed at /metrics and changes to the orchestrator config file are applied
without a restart.

When serve.tickers is set the listed tickers are refreshed in the background
every serve.refresh_interval.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracer := initTracer(ctx, viper.GetString("otel.endpoint"))
		defer shutdownTracer()

		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		myApp, err := newApp(ctx, promReg)
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize pvquote")
		}
		defer myApp.close()

		go func() {
			if err := myApp.config.Watch(ctx); err != nil && !errors.Is(err, config.ErrMemoryOnly) {
				log.Error().Err(err).Msg("stopped watching orchestrator config")
			}
		}()

		job := refreshJob(myApp)
		if job != nil {
			go job.Run(ctx)
		}

		srv := &http.Server{
			Addr: viper.GetString("serve.listen"),
			Handler: server.New(server.Options{
				Orchestrator: myApp.orch,
				Recorder:     myApp.recorder,
				Gatherer:     promReg,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if job != nil {
				job.Stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("http shutdown failed")
			}
		}()

		log.Info().Str("Addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}

		log.Info().Msg("pvquote stopped")
	},
}

// refreshJob builds the background refresh from serve.* settings; nil when
// no tickers are configured
func refreshJob(myApp *app) *refresh.Job {
	if len(viper.GetStringSlice("serve.tickers")) == 0 {
		return nil
	}

	dataTypes := make([]data.DataType, 0)
	for _, name := range viper.GetStringSlice("serve.refresh_types") {
		dataTypes = append(dataTypes, mustDataType(name))
	}

	job := &refresh.Job{
		Orchestrator: myApp.orch,
		Tickers: func() []string {
			return viper.GetStringSlice("serve.tickers")
		},
		DataTypes:     dataTypes,
		Interval:      viper.GetDuration("serve.refresh_interval"),
		HealthCheckID: viper.GetString("healthchecks.refresh_check"),
	}

	if viper.GetString("healthchecks.apikey") != "" {
		job.Monitor = healthcheck.NewFromConfig()
	}

	return job
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", ":8080", "address the HTTP server listens on")
	if err := viper.BindPFlag("serve.listen", serveCmd.Flags().Lookup("listen")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for listen failed")
	}

	serveCmd.Flags().StringSlice("tickers", nil, "tickers to refresh in the background")
	if err := viper.BindPFlag("serve.tickers", serveCmd.Flags().Lookup("tickers")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for tickers failed")
	}

	serveCmd.Flags().Duration("refresh-interval", 15*time.Minute, "how often background tickers are refreshed")
	if err := viper.BindPFlag("serve.refresh_interval", serveCmd.Flags().Lookup("refresh-interval")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for refresh-interval failed")
	}

	serveCmd.Flags().StringSlice("refresh-types", []string{"price"}, "data types refreshed in the background")
	if err := viper.BindPFlag("serve.refresh_types", serveCmd.Flags().Lookup("refresh-types")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for refresh-types failed")
	}

	serveCmd.Flags().String("otel-endpoint", "", "OTLP/HTTP collector for traces (host:port)")
	if err := viper.BindPFlag("otel.endpoint", serveCmd.Flags().Lookup("otel-endpoint")); err != nil {
		log.Panic().Err(err).Msg("BindPFlag for otel-endpoint failed")
	}
}
