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

package batch

import (
	"context"
	"errors"
	"time"

	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/portfolio"
	"github.com/rs/zerolog/log"
)

// scenario shocks are fractional factor-return moves applied through the
// portfolio's fitted betas
type scenario struct {
	name   string
	shocks map[string]float64
}

var stressScenarios = []scenario{
	{name: "market_selloff", shocks: map[string]float64{"market": -0.20}},
	{name: "value_rotation", shocks: map[string]float64{"value": 0.05, "growth": -0.05}},
	{name: "growth_selloff", shocks: map[string]float64{"growth": -0.10, "momentum": -0.05}},
	{name: "momentum_crash", shocks: map[string]float64{"momentum": -0.15}},
	{name: "small_cap_squeeze", shocks: map[string]float64{"size": 0.08}},
	{name: "flight_to_quality", shocks: map[string]float64{"quality": 0.05, "low_volatility": 0.05, "growth": -0.07}},
}

// StressTests estimates scenario P&L from the factor exposures already
// persisted for the date: beta dot shock, scaled by snapshot equity
type StressTests struct {
	portfolios *portfolio.Store
}

func NewStressTests(portfolios *portfolio.Store) *StressTests {
	return &StressTests{portfolios: portfolios}
}

func (s *StressTests) RunScenarios(ctx context.Context, p *portfolio.Portfolio, date time.Time) ([]*ScenarioResult, error) {
	date = common.MidnightEastern(date)

	// stress runs strictly after the day's P&L: without the snapshot there
	// is no trustworthy equity base to scale impacts against
	snap, err := s.portfolios.SnapshotOn(ctx, p.ID, date)
	if err != nil {
		if errors.Is(err, portfolio.ErrNoSnapshot) {
			return []*ScenarioResult{{
				Status: AnalyticsSkipped,
				Reason: "no snapshot for date",
			}}, nil
		}
		return nil, err
	}
	equity := snap.EquityBalance

	exposures, err := s.portfolios.FactorExposuresOn(ctx, p.ID, date)
	if err != nil {
		return nil, err
	}
	if len(exposures) == 0 {
		return []*ScenarioResult{{
			Status: AnalyticsSkipped,
			Reason: "no factor exposures for date",
		}}, nil
	}

	betas := make(map[string]float64, len(exposures))
	for _, exp := range exposures {
		betas[exp.Factor] = exp.Beta
	}

	results := make([]*ScenarioResult, 0, len(stressScenarios))
	for _, scn := range stressScenarios {
		var impact float64
		for factor, shock := range scn.shocks {
			impact += betas[factor] * shock
		}

		results = append(results, &ScenarioResult{
			Status:    AnalyticsComputed,
			Scenario:  scn.name,
			ImpactPct: impact,
			ImpactUSD: impact * equity,
		})

		log.Debug().
			Str("PortfolioID", p.ID.String()).
			Str("Scenario", scn.name).
			Float64("ImpactPct", impact).
			Msg("stress scenario evaluated")
	}

	return results, nil
}
