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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	backfillTarget     string
	backfillPortfolios []string
)

func init() {
	backfillCmd.Flags().StringVar(&backfillTarget, "through", "", "Process missed dates through this date (YYYY-MM-DD); defaults to today")
	backfillCmd.Flags().StringSliceVar(&backfillPortfolios, "portfolio", nil, "Limit to specific portfolio ids (repeatable)")
	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Process every missed trading day since the last completed run",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		target, err := parseDateFlag(backfillTarget)
		if err != nil {
			log.Fatal().Err(err).Str("Date", backfillTarget).Msg("could not parse date")
		}

		ids, err := parsePortfolioFlag(backfillPortfolios)
		if err != nil {
			log.Fatal().Err(err).Msg("could not parse portfolio id")
		}

		pipe, err := initPipeline(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("pipeline initialization failed")
		}

		result, err := pipe.runner.RunWithBackfill(ctx, target, ids)
		if err != nil {
			log.Fatal().Err(err).Msg("backfill failed")
		}

		summary := log.Info().
			Int("Processed", result.Processed).
			Int("Completed", result.Completed).
			Int("Partial", result.Partial)
		if result.FailedDate != nil {
			summary = summary.Time("FailedDate", *result.FailedDate)
		}
		summary.Msg("backfill finished")
	},
}
