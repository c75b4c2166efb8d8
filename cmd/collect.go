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
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var collectDate string

func init() {
	collectCmd.Flags().StringVar(&collectDate, "date", "", "Calculation date (YYYY-MM-DD); defaults to today")
	rootCmd.AddCommand(collectCmd)
}

var collectCmd = &cobra.Command{
	Use:   "collect [symbols...]",
	Short: "Collect market data without running the rest of the pipeline",
	Long: `Ensure daily bars exist for the trailing lookback window. With no
arguments the symbol universe is derived from open positions; otherwise the
given symbols are used.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		date, err := parseDateFlag(collectDate)
		if err != nil {
			log.Fatal().Err(err).Str("Date", collectDate).Msg("could not parse date")
		}

		pipe, err := initPipeline(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("pipeline initialization failed")
		}

		symbols := args
		if len(symbols) == 0 {
			symbols, err = pipe.portfolios.OpenPositionSymbols(ctx, nil, date)
			if err != nil {
				log.Fatal().Err(err).Msg("could not load open position symbols")
			}
		}

		report, err := pipe.collector.Collect(ctx, date, symbols)
		if err != nil {
			log.Fatal().Err(err).Msg("market data collection failed")
		}

		profilesWritten, err := pipe.collector.RefreshProfiles(ctx, symbols)
		if err != nil {
			log.Warn().Err(err).Msg("company profile refresh failed")
		}

		log.Info().
			Str("Mode", string(report.Mode)).
			Float64("Coverage", report.Coverage).
			Int("BarsWritten", report.BarsWritten).
			Int("ProfilesWritten", profilesWritten).
			Str("Unfilled", strings.Join(report.Unfilled, ",")).
			Msg("collection finished")
	},
}
