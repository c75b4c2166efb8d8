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

	"github.com/quantfolio/risk-api/batch"
	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/database"
	"github.com/quantfolio/risk-api/factors"
	"github.com/quantfolio/risk-api/marketdata"
	"github.com/quantfolio/risk-api/pnl"
	"github.com/quantfolio/risk-api/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// pipeline bundles the wired-up components the subcommands drive
type pipeline struct {
	portfolios *portfolio.Store
	market     *marketdata.Store
	collector  *marketdata.Collector
	factors    *factors.Engine
	runner     *batch.Runner
}

// initPipeline performs the shared startup sequence: logging, cache,
// database, and component construction
func initPipeline(ctx context.Context) (*pipeline, error) {
	common.SetupLogging()
	common.SetupCache()
	log.Info().Str("Version", common.CurrentVersion.String()).Msg("initialized riskapi")

	if err := database.Connect(ctx); err != nil {
		return nil, err
	}

	rps := viper.GetFloat64("marketdata.provider_rps")
	if rps == 0 {
		rps = 5
	}

	chain := marketdata.NewChain(
		marketdata.NewGuardedProvider(marketdata.NewTiingo(viper.GetString("tiingo.token")), rps, 5),
		marketdata.NewGuardedProvider(marketdata.NewStooq(), rps, 5),
	)

	market := marketdata.NewStore()
	portfolios := portfolio.NewStore()
	collector := marketdata.NewCollector(market, chain)
	pnlEngine := pnl.NewEngine(portfolios, market)
	factorEngine := factors.NewEngine(portfolios, market)
	correlations := batch.NewCorrelations(portfolios, market)
	stress := batch.NewStressTests(portfolios)

	return &pipeline{
		portfolios: portfolios,
		market:     market,
		collector:  collector,
		factors:    factorEngine,
		runner:     batch.NewRunner(portfolios, market, collector, pnlEngine, factorEngine, correlations, stress),
	}, nil
}
