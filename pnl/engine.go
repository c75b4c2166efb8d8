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

package pnl

import (
	"context"
	"errors"
	"time"

	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/marketcal"
	"github.com/quantfolio/risk-api/marketdata"
	"github.com/quantfolio/risk-api/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Status of a single portfolio-day P&L computation
type Status string

const (
	StatusComputed Status = "computed"
	StatusSkipped  Status = "skipped"
)

// Result reports one portfolio-day computation. A skip (non trading day) is
// a first-class outcome, not an error.
type Result struct {
	Status           Status
	Reason           string
	Snapshot         *portfolio.Snapshot
	PositionsPriced  int
	PositionsSkipped int
}

// Engine rolls portfolio equity forward one trading day at a time
type Engine struct {
	portfolios *portfolio.Store
	market     *marketdata.Store

	priceLookbackDays int
}

func NewEngine(portfolios *portfolio.Store, market *marketdata.Store) *Engine {
	lookback := viper.GetInt("pnl.price_lookback_days")
	if lookback == 0 {
		lookback = 10
	}
	return &Engine{
		portfolios:        portfolios,
		market:            market,
		priceLookbackDays: lookback,
	}
}

// ComputeDay computes the day's P&L for one portfolio, rolls equity forward
// from the most recent prior snapshot, and persists the snapshot and the
// updated equity atomically. Any persistence error propagates to the caller;
// swallowing it would corrupt the rollforward for every later date.
func (engine *Engine) ComputeDay(ctx context.Context, p *portfolio.Portfolio, date time.Time) (*Result, error) {
	date = common.MidnightEastern(date)
	subLog := log.With().Str("PortfolioID", p.ID.String()).Time("Date", date).Logger()

	if !marketcal.IsTradingDay(date) {
		subLog.Debug().Msg("not a trading day; skipping P&L")
		return &Result{Status: StatusSkipped, Reason: "not a trading day"}, nil
	}

	positions, err := engine.portfolios.ActivePositions(ctx, p.ID, date)
	if err != nil {
		return nil, err
	}

	var unrealized float64
	var long, short float64
	priced, skipped := 0, 0

	for _, pos := range positions {
		dayPnL, value, ok, err := engine.positionDayPnL(ctx, pos, date)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped++
			continue
		}
		priced++
		unrealized += dayPnL
		if value >= 0 {
			long += value
		} else {
			short += -value
		}
	}

	realized, err := engine.portfolios.RealizedPnLOn(ctx, p.ID, date)
	if err != nil {
		return nil, err
	}

	flow, err := engine.portfolios.CapitalFlowOn(ctx, p.ID, date)
	if err != nil {
		return nil, err
	}

	// prior snapshot is the most recent strictly before date; it is NOT
	// required to be the previous calendar day, so gaps in processing do not
	// reset equity to the static starting balance
	prevEquity := p.StartingBalance
	var prevCumPnL, prevCumRealized, prevCumFlow float64
	prior, err := engine.portfolios.LatestSnapshotBefore(ctx, p.ID, date)
	switch err {
	case nil:
		prevEquity = prior.EquityBalance
		prevCumPnL = prior.CumulativePnL
		prevCumRealized = prior.CumulativeRealized
		prevCumFlow = prior.CumulativeFlow
	case portfolio.ErrNoSnapshot:
		// first snapshot for this portfolio
	default:
		return nil, err
	}

	dailyPnL := unrealized + realized
	newEquity := prevEquity + dailyPnL + flow

	var dailyReturn float64
	if prevEquity != 0 {
		dailyReturn = dailyPnL / prevEquity
	}

	snap := &portfolio.Snapshot{
		PortfolioID:        p.ID,
		Date:               date,
		EquityBalance:      newEquity,
		DailyPnL:           dailyPnL,
		UnrealizedPnL:      unrealized,
		RealizedPnL:        realized,
		CapitalFlow:        flow,
		DailyReturn:        dailyReturn,
		CumulativePnL:      prevCumPnL + dailyPnL,
		CumulativeRealized: prevCumRealized + realized,
		CumulativeFlow:     prevCumFlow + flow,
		GrossExposure:      long + short,
		NetExposure:        long - short,
		LongExposure:       long,
		ShortExposure:      short,
	}

	if err := engine.portfolios.SaveSnapshot(ctx, snap); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not persist snapshot and equity")
		return nil, err
	}

	subLog.Info().
		Float64("UnrealizedPnL", unrealized).
		Float64("RealizedPnL", realized).
		Float64("CapitalFlow", flow).
		Float64("EquityBalance", newEquity).
		Int("PositionsPriced", priced).
		Int("PositionsSkipped", skipped).
		Msg("computed daily P&L")

	return &Result{
		Status:           StatusComputed,
		Snapshot:         snap,
		PositionsPriced:  priced,
		PositionsSkipped: skipped,
	}, nil
}

// positionDayPnL returns the position's mark-to-market P&L for date and its
// end-of-day market value. ok is false when the position has no price and
// contributes nothing; a non-nil error means the lookup itself broke and the
// whole day's computation must fail rather than persist a partial snapshot.
func (engine *Engine) positionDayPnL(ctx context.Context, pos *portfolio.Position, date time.Time) (dayPnL, value float64, ok bool, err error) {
	if pos.Class == portfolio.ClassPrivate {
		// no market price; excluded from daily P&L, carried at entry cost
		return 0, 0, false, nil
	}

	symbol := pos.PriceSymbol()
	current, err := engine.market.CloseOn(ctx, symbol, date)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoPrice) {
			log.Debug().Str("Symbol", symbol).Time("Date", date).Msg("no current price for position")
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}

	previous, _, err := engine.market.CloseOnOrBefore(ctx, symbol, date.AddDate(0, 0, -1), engine.priceLookbackDays)
	if err != nil {
		if !errors.Is(err, marketdata.ErrNoPrice) {
			return 0, 0, false, err
		}
		// no prior close within the lookback window: first observation,
		// count zero P&L for the day
		previous = current
	}

	mult := pos.Multiplier()
	dayPnL = (current - previous) * pos.Quantity * mult
	value = current * pos.Quantity * mult
	return dayPnL, value, true, nil
}
