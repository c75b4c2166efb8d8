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

package factors

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/quantfolio/risk-api/portfolio"
	"github.com/rs/zerolog/log"
)

// TuneResult summarizes a sweep of one candidate regularization strength
// over every eligible position in every active portfolio
type TuneResult struct {
	Alpha       float64
	AvgR2       float64
	NumFits     int
	NumClipped  int
	NumSingular int
}

// DefaultTuneAlphas spans four orders of magnitude around the usual operating
// point
var DefaultTuneAlphas = []float64{0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0}

// TuneRidge refits every eligible position at each candidate alpha and
// reports the fit quality per alpha. A nil ids slice means every active
// portfolio. Nothing is persisted; results feed a config change to
// factors.ridge_alpha.
func (engine *Engine) TuneRidge(ctx context.Context, date time.Time, ids []uuid.UUID, alphas []float64) ([]*TuneResult, error) {
	if len(alphas) == 0 {
		alphas = DefaultTuneAlphas
	}

	begin := engine.windowBegin(date)

	factorSeries := make([]ReturnSeries, len(StyleFactors))
	for ii, factor := range StyleFactors {
		series, err := buildReturnSeries(ctx, engine.market, factor.ETF, begin, date)
		if err != nil {
			return nil, err
		}
		factorSeries[ii] = series
	}

	portfolios, err := engine.portfolios.ActivePortfolios(ctx, ids)
	if err != nil {
		return nil, err
	}

	// gather samples once; the sweep only re-solves the normal equations
	type fitSample struct {
		x [][]float64
		y []float64
	}
	var samples []fitSample

	for _, p := range portfolios {
		positions, err := engine.portfolios.ActivePositions(ctx, p.ID, date)
		if err != nil {
			return nil, err
		}

		for _, pos := range positions {
			if pos.Class != portfolio.ClassPublicEquity {
				continue
			}

			posSeries, err := buildReturnSeries(ctx, engine.market, pos.PriceSymbol(), begin, date)
			if err != nil {
				// series loading only fails on store errors; short histories
				// fall out at the alignment check below
				return nil, err
			}

			all := append([]ReturnSeries{posSeries}, factorSeries...)
			dates := alignDates(all...)
			if len(dates) < len(StyleFactors)+2 {
				continue
			}

			x := make([][]float64, len(factorSeries))
			for ii, series := range factorSeries {
				x[ii] = series.sample(dates)
			}
			samples = append(samples, fitSample{x: x, y: posSeries.sample(dates)})
		}
	}

	results := make([]*TuneResult, 0, len(alphas))
	for _, alpha := range alphas {
		result := &TuneResult{Alpha: alpha}
		var sumR2 float64

		for _, sample := range samples {
			fit, err := fitRidge(sample.x, sample.y, alpha, engine.betaCap)
			if err != nil {
				result.NumSingular++
				continue
			}
			result.NumFits++
			sumR2 += fit.R2
			for _, clipped := range fit.ClippedAt {
				if clipped {
					result.NumClipped++
					break
				}
			}
		}

		if result.NumFits > 0 {
			result.AvgR2 = sumR2 / float64(result.NumFits)
		}
		results = append(results, result)

		log.Info().
			Float64("Alpha", alpha).
			Float64("AvgR2", result.AvgR2).
			Int("NumFits", result.NumFits).
			Int("NumClipped", result.NumClipped).
			Msg("ridge tune sweep")
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Alpha < results[b].Alpha
	})
	return results, nil
}
