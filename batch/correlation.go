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
	"sort"
	"time"

	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/marketdata"
	"github.com/quantfolio/risk-api/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/stat"
)

// Correlations computes pairwise daily-return correlations between a
// portfolio's public positions over a trailing window
type Correlations struct {
	portfolios *portfolio.Store
	market     *marketdata.Store
	windowDays int
}

func NewCorrelations(portfolios *portfolio.Store, market *marketdata.Store) *Correlations {
	window := viper.GetInt("factors.window_days")
	if window == 0 {
		window = 252
	}
	return &Correlations{portfolios: portfolios, market: market, windowDays: window}
}

func (c *Correlations) ComputeMatrix(ctx context.Context, p *portfolio.Portfolio, date time.Time) (*CorrelationMatrix, error) {
	date = common.MidnightEastern(date)
	begin := date.AddDate(0, 0, -c.windowDays)

	positions, err := c.portfolios.ActivePositions(ctx, p.ID, date)
	if err != nil {
		return nil, err
	}

	// dedupe on price symbol; an option and its underlying share a series
	seen := map[string]bool{}
	var symbols []string
	for _, pos := range positions {
		if pos.Class != portfolio.ClassPublicEquity {
			continue
		}
		symbol := pos.PriceSymbol()
		if !seen[symbol] {
			seen[symbol] = true
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	if len(symbols) < 2 {
		return &CorrelationMatrix{
			Status: AnalyticsSkipped,
			Reason: "fewer than two public positions",
		}, nil
	}

	returns := make(map[string]map[time.Time]float64, len(symbols))
	var kept []string
	for _, symbol := range symbols {
		dates, closes, err := c.market.CloseSeries(ctx, symbol, begin, date)
		if err != nil {
			return nil, err
		}
		if len(closes) < 3 {
			log.Debug().Str("Symbol", symbol).Msg("too little history for correlation")
			continue
		}

		series := make(map[time.Time]float64, len(closes)-1)
		for ii := 1; ii < len(closes); ii++ {
			if closes[ii-1] == 0 {
				continue
			}
			series[dates[ii]] = closes[ii]/closes[ii-1] - 1.0
		}
		returns[symbol] = series
		kept = append(kept, symbol)
	}

	if len(kept) < 2 {
		return &CorrelationMatrix{
			Status: AnalyticsSkipped,
			Reason: "too little price history for correlation",
		}, nil
	}

	matrix := &CorrelationMatrix{
		Status:  AnalyticsComputed,
		Symbols: kept,
		Values:  make([][]float64, len(kept)),
	}
	for ii := range kept {
		matrix.Values[ii] = make([]float64, len(kept))
		matrix.Values[ii][ii] = 1.0
	}

	for ii := 0; ii < len(kept); ii++ {
		for jj := ii + 1; jj < len(kept); jj++ {
			a, b := pairedSamples(returns[kept[ii]], returns[kept[jj]])
			if len(a) < 3 {
				continue
			}
			corr := stat.Correlation(a, b, nil)
			matrix.Values[ii][jj] = corr
			matrix.Values[jj][ii] = corr
		}
	}

	return matrix, nil
}

// pairedSamples intersects two return series on dates, ascending
func pairedSamples(x, y map[time.Time]float64) ([]float64, []float64) {
	var dates []time.Time
	for date := range x {
		if _, ok := y[date]; ok {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })

	a := make([]float64, len(dates))
	b := make([]float64, len(dates))
	for ii, date := range dates {
		a[ii] = x[date]
		b[ii] = y[date]
	}
	return a, b
}
