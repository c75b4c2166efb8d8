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
	"time"

	"github.com/google/uuid"
	"github.com/quantfolio/risk-api/batch"
	"github.com/quantfolio/risk-api/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	runDate       string
	runPortfolios []string
)

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "Calculation date (YYYY-MM-DD); defaults to today")
	runCmd.Flags().StringSliceVar(&runPortfolios, "portfolio", nil, "Limit to specific portfolio ids (repeatable)")
	rootCmd.AddCommand(runCmd)
}

// parseDateFlag resolves a --date value, defaulting to now
func parseDateFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Now().In(common.GetTimezone()), nil
	}
	return time.ParseInLocation("2006-01-02", value, common.GetTimezone())
}

// parsePortfolioFlag converts --portfolio values to ids; empty means all
func parsePortfolioFlag(values []string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(values))
	for _, value := range values {
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the batch pipeline for a single calculation date",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		date, err := parseDateFlag(runDate)
		if err != nil {
			log.Fatal().Err(err).Str("Date", runDate).Msg("could not parse date")
		}

		ids, err := parsePortfolioFlag(runPortfolios)
		if err != nil {
			log.Fatal().Err(err).Msg("could not parse portfolio id")
		}

		pipe, err := initPipeline(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("pipeline initialization failed")
		}

		report, err := pipe.runner.RunForDate(ctx, date, ids)
		if err != nil {
			log.Fatal().Err(err).Msg("batch run failed")
		}

		for _, phase := range report.Phases {
			log.Info().
				Str("Phase", phase.Phase).
				Str("State", string(phase.State)).
				Dur("Duration", phase.Duration).
				Int("Units", phase.Units).
				Int("Failed", phase.Failed).
				Int("Skipped", phase.Skipped).
				Msg("phase summary")
		}

		if report.State == batch.RunFailed {
			log.Fatal().Time("Date", date).Msg("batch run failed")
		}
	},
}
