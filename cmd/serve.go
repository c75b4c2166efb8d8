// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/marketcal"
	"github.com/quantfolio/risk-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	viper.BindEnv("schedule.daily", "RISKAPI_SCHEDULE")
	serveCmd.Flags().String("schedule", "0 18 * * 1-5", "Cron expression for the daily batch run (market time)")
	viper.BindPFlag("schedule.daily", serveCmd.Flags().Lookup("schedule"))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline as a daemon on the daily schedule",
	Long: `Sleep until the next scheduled activation on a trading day, then run
the batch pipeline with backfill so missed dates are caught up first.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pipe, err := initPipeline(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("pipeline initialization failed")
		}

		if viper.GetString("otlp.endpoint") != "" {
			shutdown, err := opentelemetry.Setup()
			if err != nil {
				log.Fatal().Err(err).Msg("could not setup opentelemetry")
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Error().Err(err).Msg("opentelemetry shutdown failed")
				}
			}()
		}

		schedule, err := marketcal.NewSchedule(viper.GetString("schedule.daily"))
		if err != nil {
			log.Fatal().Err(err).Str("Schedule", viper.GetString("schedule.daily")).Msg("could not parse schedule")
		}

		// profiles go stale slowly; sweep them daily off the critical path
		scheduler := gocron.NewScheduler(common.GetTimezone())
		scheduler.Every(1).Day().At("06:00").Do(func() {
			symbols, err := pipe.portfolios.OpenPositionSymbols(ctx, nil, time.Now().In(common.GetTimezone()))
			if err != nil {
				log.Error().Err(err).Msg("could not load open position symbols")
				return
			}
			if _, err := pipe.collector.RefreshProfiles(ctx, symbols); err != nil {
				log.Error().Err(err).Msg("company profile refresh failed")
			}
		})
		scheduler.StartAsync()
		defer scheduler.Stop()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigs
			log.Info().Str("Signal", sig.String()).Msg("shutting down")
			cancel()
		}()

		for {
			next := schedule.Next(time.Now().In(common.GetTimezone()))
			log.Info().Time("Next", next).Msg("sleeping until next scheduled run")

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(next)):
			}

			result, err := pipe.runner.RunWithBackfill(ctx, time.Now().In(common.GetTimezone()), nil)
			if err != nil {
				log.Error().Err(err).Msg("scheduled run failed")
				continue
			}
			log.Info().
				Int("Processed", result.Processed).
				Int("Completed", result.Completed).
				Int("Partial", result.Partial).
				Msg("scheduled run finished")
		}
	},
}
