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
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/marketdata"
	"github.com/quantfolio/risk-api/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Status string

const (
	StatusComputed Status = "computed"
	StatusSkipped  Status = "skipped"
)

// ReasonNoPublicPositions flags the expected-empty outcome: a portfolio of
// only private/illiquid holdings has nothing to regress
const ReasonNoPublicPositions = "no public positions with sufficient price history"

const (
	QualityFull    = "full"
	QualityLimited = "limited"
)

// PositionExposure is the fitted factor decomposition of one position
type PositionExposure struct {
	PositionID     uuid.UUID
	Symbol         string
	Betas          map[string]float64
	MarketBeta     float64
	Alpha          float64
	R2             float64
	Weight         float64
	Observations   int
	Quality        string
	ClippedFactors []string
}

// ExposureSet is the portfolio-level result. Status distinguishes "nothing
// to compute" from "computation broke": the former is StatusSkipped with a
// reason, never an error.
type ExposureSet struct {
	PortfolioID uuid.UUID
	Date        time.Time
	Status      Status
	Reason      string
	Method      string
	Quality     string
	Betas       map[string]float64
	MarketBeta  float64
	Alpha       float64
	AvgR2       float64
	Positions   []*PositionExposure
}

// Engine fits ridge regressions of position returns on the style-factor ETF
// returns
type Engine struct {
	portfolios *portfolio.Store
	market     *marketdata.Store

	windowDays  int
	cushionDays int
	minObs      int
	ridgeAlpha  float64
	betaCap     float64
}

func NewEngine(portfolios *portfolio.Store, market *marketdata.Store) *Engine {
	window := viper.GetInt("factors.window_days")
	if window == 0 {
		window = 252
	}
	cushion := viper.GetInt("factors.cushion_days")
	if cushion == 0 {
		cushion = 30
	}
	minObs := viper.GetInt("factors.min_observations")
	if minObs == 0 {
		minObs = 60
	}
	alpha := viper.GetFloat64("factors.ridge_alpha")
	if alpha == 0 {
		alpha = 1.0
	}
	cap := viper.GetFloat64("factors.beta_cap")
	if cap == 0 {
		cap = 4.0
	}

	return &Engine{
		portfolios:  portfolios,
		market:      market,
		windowDays:  window,
		cushionDays: cushion,
		minObs:      minObs,
		ridgeAlpha:  alpha,
		betaCap:     cap,
	}
}

// window start includes a cushion to absorb thin trading and holiday gaps
func (engine *Engine) windowBegin(date time.Time) time.Time {
	return common.MidnightEastern(date).AddDate(0, 0, -(engine.windowDays + engine.cushionDays))
}

// PortfolioExposures computes per-position and portfolio-level style factor
// betas for one date and persists them, overwriting any previous values for
// the same date
func (engine *Engine) PortfolioExposures(ctx context.Context, p *portfolio.Portfolio, date time.Time) (*ExposureSet, error) {
	date = common.MidnightEastern(date)
	begin := engine.windowBegin(date)
	subLog := log.With().Str("PortfolioID", p.ID.String()).Time("Date", date).Logger()

	set := &ExposureSet{
		PortfolioID: p.ID,
		Date:        date,
		Status:      StatusSkipped,
		Reason:      ReasonNoPublicPositions,
		Method:      MethodRidge,
		Quality:     QualityFull,
		Betas:       map[string]float64{},
	}

	factorSeries := make([]ReturnSeries, len(StyleFactors))
	for ii, factor := range StyleFactors {
		series, err := buildReturnSeries(ctx, engine.market, factor.ETF, begin, date)
		if err != nil {
			return nil, err
		}
		factorSeries[ii] = series
	}

	marketSeries, err := buildReturnSeries(ctx, engine.market, MarketBenchmark, begin, date)
	if err != nil {
		return nil, err
	}

	positions, err := engine.portfolios.ActivePositions(ctx, p.ID, date)
	if err != nil {
		return nil, err
	}

	for _, pos := range positions {
		if pos.Class != portfolio.ClassPublicEquity {
			continue
		}

		exposure, err := engine.fitPosition(ctx, pos, factorSeries, marketSeries, begin, date)
		switch {
		case err == nil:
			set.Positions = append(set.Positions, exposure)
		case isFitSkip(err):
			// unfittable position, not an infrastructure failure
			subLog.Debug().Err(err).Str("Symbol", pos.Symbol).Msg("position excluded from factor regression")
		default:
			return nil, err
		}
	}

	if len(set.Positions) == 0 {
		subLog.Info().Msg("no eligible positions; factor exposures skipped")
		return set, nil
	}

	engine.aggregate(set)
	set.Status = StatusComputed
	set.Reason = ""

	if err := engine.persist(ctx, set); err != nil {
		return nil, err
	}

	subLog.Info().
		Int("NumPositions", len(set.Positions)).
		Float64("AvgR2", set.AvgR2).
		Str("Quality", set.Quality).
		Msg("computed factor exposures")

	return set, nil
}

func (engine *Engine) fitPosition(ctx context.Context, pos *portfolio.Position, factorSeries []ReturnSeries, marketSeries ReturnSeries, begin, date time.Time) (*PositionExposure, error) {
	posSeries, err := buildReturnSeries(ctx, engine.market, pos.PriceSymbol(), begin, date)
	if err != nil {
		return nil, err
	}

	all := append([]ReturnSeries{posSeries, marketSeries}, factorSeries...)
	dates := alignDates(all...)

	// an absolute floor below which the fit is meaningless
	if len(dates) < len(StyleFactors)+2 {
		return nil, ErrTooFewObservations
	}

	x := make([][]float64, len(factorSeries))
	for ii, series := range factorSeries {
		x[ii] = series.sample(dates)
	}
	y := posSeries.sample(dates)

	fit, err := fitRidge(x, y, engine.ridgeAlpha, engine.betaCap)
	if err != nil {
		return nil, err
	}

	marketBeta, _, _, err := fitMarketBeta(marketSeries.sample(dates), y)
	if err != nil {
		return nil, err
	}

	exposure := &PositionExposure{
		PositionID:   pos.ID,
		Symbol:       pos.Symbol,
		Betas:        make(map[string]float64, len(StyleFactors)),
		MarketBeta:   marketBeta,
		Alpha:        fit.Alpha,
		R2:           fit.R2,
		Weight:       positionWeight(pos),
		Observations: len(dates),
		Quality:      QualityFull,
	}
	if len(dates) < engine.minObs {
		exposure.Quality = QualityLimited
	}

	for jj, factor := range StyleFactors {
		exposure.Betas[factor.Name] = fit.Betas[jj]
		if fit.ClippedAt[jj] {
			exposure.ClippedFactors = append(exposure.ClippedFactors, factor.Name)
			log.Warn().
				Str("Symbol", pos.Symbol).
				Str("Factor", factor.Name).
				Float64("Cap", engine.betaCap).
				Msg("factor beta clipped to cap")
		}
	}

	return exposure, nil
}

// positionWeight is the absolute market value the aggregation weights by
func positionWeight(pos *portfolio.Position) float64 {
	value := pos.MarketValue
	if value == 0 {
		value = pos.Quantity * pos.EntryPrice * pos.Multiplier()
	}
	return math.Abs(value)
}

// aggregate rolls position betas up to portfolio level using position-value
// weights
func (engine *Engine) aggregate(set *ExposureSet) {
	var totalWeight float64
	for _, exposure := range set.Positions {
		totalWeight += exposure.Weight
	}

	var sumR2 float64
	for _, exposure := range set.Positions {
		weight := exposure.Weight
		if totalWeight > 0 {
			weight /= totalWeight
		} else {
			weight = 1.0 / float64(len(set.Positions))
		}

		for name, beta := range exposure.Betas {
			set.Betas[name] += weight * beta
		}
		set.MarketBeta += weight * exposure.MarketBeta
		set.Alpha += weight * exposure.Alpha
		sumR2 += exposure.R2

		if exposure.Quality == QualityLimited {
			set.Quality = QualityLimited
		}
	}
	set.AvgR2 = sumR2 / float64(len(set.Positions))
}

func (engine *Engine) persist(ctx context.Context, set *ExposureSet) error {
	positionRows := make([]*portfolio.PositionFactorExposure, 0, len(set.Positions)*(len(StyleFactors)+1))
	for _, exposure := range set.Positions {
		for name, beta := range exposure.Betas {
			positionRows = append(positionRows, &portfolio.PositionFactorExposure{
				PositionID: exposure.PositionID,
				Factor:     name,
				Date:       set.Date,
				Beta:       beta,
				R2:         exposure.R2,
				Method:     set.Method,
				Alpha:      exposure.Alpha,
			})
		}
		positionRows = append(positionRows, &portfolio.PositionFactorExposure{
			PositionID: exposure.PositionID,
			Factor:     FactorMarket,
			Date:       set.Date,
			Beta:       exposure.MarketBeta,
			R2:         exposure.R2,
			Method:     MethodOLS,
			Alpha:      exposure.Alpha,
		})
	}
	if err := engine.portfolios.UpsertPositionFactorExposures(ctx, positionRows); err != nil {
		return err
	}

	portfolioRows := make([]*portfolio.FactorExposure, 0, len(set.Betas)+1)
	for name, beta := range set.Betas {
		portfolioRows = append(portfolioRows, &portfolio.FactorExposure{
			PortfolioID: set.PortfolioID,
			Factor:      name,
			Date:        set.Date,
			Beta:        beta,
			R2:          set.AvgR2,
			Method:      set.Method,
			Alpha:       set.Alpha,
		})
	}
	portfolioRows = append(portfolioRows, &portfolio.FactorExposure{
		PortfolioID: set.PortfolioID,
		Factor:      FactorMarket,
		Date:        set.Date,
		Beta:        set.MarketBeta,
		R2:          set.AvgR2,
		Method:      MethodOLS,
		Alpha:       set.Alpha,
	})
	return engine.portfolios.UpsertFactorExposures(ctx, portfolioRows)
}
