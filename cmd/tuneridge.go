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
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	tuneDate       string
	tunePortfolios []string
)

func init() {
	tuneRidgeCmd.Flags().StringVar(&tuneDate, "date", "", "Calculation date (YYYY-MM-DD); defaults to today")
	tuneRidgeCmd.Flags().StringSliceVar(&tunePortfolios, "portfolio", nil, "Limit to specific portfolio ids (repeatable)")
	rootCmd.AddCommand(tuneRidgeCmd)
}

var tuneRidgeCmd = &cobra.Command{
	Use:   "tune-ridge [alphas...]",
	Short: "Sweep candidate ridge regularization strengths and report fit quality",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		date, err := parseDateFlag(tuneDate)
		if err != nil {
			log.Fatal().Err(err).Str("Date", tuneDate).Msg("could not parse date")
		}

		alphas := make([]float64, 0, len(args))
		for _, arg := range args {
			alpha, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				log.Fatal().Str("Alpha", arg).Msg("could not parse alpha")
			}
			alphas = append(alphas, alpha)
		}

		ids, err := parsePortfolioFlag(tunePortfolios)
		if err != nil {
			log.Fatal().Err(err).Msg("could not parse portfolio ids")
		}

		pipe, err := initPipeline(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("pipeline initialization failed")
		}

		results, err := pipe.factors.TuneRidge(ctx, date, ids, alphas)
		if err != nil {
			log.Fatal().Err(err).Msg("ridge tune sweep failed")
		}

		fmt.Printf("%10s %10s %8s %8s %9s\n", "alpha", "avg r2", "fits", "clipped", "singular")
		for _, result := range results {
			fmt.Printf("%10.3f %10.4f %8d %8d %9d\n",
				result.Alpha, result.AvgR2, result.NumFits, result.NumClipped, result.NumSingular)
		}
	},
}
