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

package marketdata

import (
	"context"
	"time"

	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/marketcal"
	"github.com/quantfolio/risk-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// FetchMode classifies what the collector decided to fetch
type FetchMode string

const (
	ModeCached      FetchMode = "cached"
	ModeIncremental FetchMode = "incremental"
	ModeBackfill    FetchMode = "backfill"
	ModeFull        FetchMode = "full-backfill"
)

// DateRange is an inclusive [Begin, End] fetch range
type DateRange struct {
	Begin time.Time
	End   time.Time
}

// CollectReport summarizes one collection run
type CollectReport struct {
	Universe    []string
	Mode        FetchMode
	Ranges      []DateRange
	Coverage    float64
	BarsWritten int
	Unfilled    []string
}

// Collector guarantees a trailing window of daily bars exists for a symbol
// universe, fetching only the missing sub-ranges through the provider chain
type Collector struct {
	store *Store
	chain *Chain

	lookbackDays      int
	coverageThreshold float64
	profileStaleDays  int
}

func NewCollector(store *Store, chain *Chain) *Collector {
	lookback := viper.GetInt("marketdata.lookback_days")
	if lookback == 0 {
		lookback = 365
	}
	threshold := viper.GetFloat64("marketdata.coverage_threshold")
	if threshold == 0 {
		threshold = 0.8
	}
	staleDays := viper.GetInt("marketdata.profile_stale_days")
	if staleDays == 0 {
		staleDays = 30
	}

	return &Collector{
		store:             store,
		chain:             chain,
		lookbackDays:      lookback,
		coverageThreshold: threshold,
		profileStaleDays:  staleDays,
	}
}

// Collect ensures bars exist for the trailing lookback window ending at
// calcDate for the universe derived from positionSymbols. Company profiles
// are refreshed separately via RefreshProfiles.
func (c *Collector) Collect(ctx context.Context, calcDate time.Time, positionSymbols []string) (*CollectReport, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "collector.Collect")
	defer span.End()

	universe := BuildUniverse(positionSymbols)
	report := &CollectReport{
		Universe: universe,
		Mode:     ModeCached,
		Coverage: 1.0,
	}

	begin := common.MidnightEastern(calcDate).AddDate(0, 0, -c.lookbackDays)
	end := marketcal.MostRecentTradingDay(calcDate)
	span.SetAttributes(
		attribute.String("Begin", begin.Format("2006-01-02")),
		attribute.String("End", end.Format("2006-01-02")),
		attribute.Int("NumSymbols", len(universe)),
	)

	subLog := log.With().Time("Begin", begin).Time("End", end).Int("NumSymbols", len(universe)).Logger()

	if end.Before(begin) {
		// resolved range collapsed to nothing; report full coverage no-op
		subLog.Info().Msg("no trading days in required range; nothing to collect")
		return report, nil
	}

	mode, ranges, err := c.planFetch(ctx, universe, begin, end)
	if err != nil {
		return nil, err
	}
	report.Mode = mode
	report.Ranges = ranges

	if mode == ModeCached {
		subLog.Debug().Msg("market data fully cached")
	} else {
		for _, r := range ranges {
			bars, unfilled := c.chain.HistoricalPrices(ctx, universe, r.Begin, r.End)

			flat := make([]*Bar, 0, len(bars))
			for _, symbolBars := range bars {
				flat = append(flat, symbolBars...)
			}
			if err := c.store.UpsertBars(ctx, flat); err != nil {
				return nil, err
			}

			report.BarsWritten += len(flat)
			report.Unfilled = append(report.Unfilled, unfilled...)
			subLog.Info().
				Str("Mode", string(mode)).
				Time("RangeBegin", r.Begin).
				Time("RangeEnd", r.End).
				Int("Bars", len(flat)).
				Int("Unfilled", len(unfilled)).
				Msg("fetched missing market data")
		}

		coverage, err := c.store.CoverageOn(ctx, universe, end)
		if err != nil {
			return nil, err
		}
		report.Coverage = coverage
	}

	return report, nil
}

// RefreshProfiles re-fetches company profiles for any universe symbol whose
// stored profile is older than the staleness window
func (c *Collector) RefreshProfiles(ctx context.Context, positionSymbols []string) (int, error) {
	return c.refreshProfiles(ctx, BuildUniverse(positionSymbols))
}

// planFetch runs the two independent coverage checks and decides which
// sub-ranges are actually missing
func (c *Collector) planFetch(ctx context.Context, universe []string, begin, end time.Time) (FetchMode, []DateRange, error) {
	coverage, err := c.store.CoverageByDate(ctx, universe, begin, end)
	if err != nil {
		return ModeCached, nil, err
	}

	tradingDays := marketcal.TradingDaysBetween(begin, end)
	if len(tradingDays) == 0 {
		return ModeCached, nil, nil
	}

	// historical coverage: earliest trading day meeting the threshold
	var historicalStart time.Time
	for _, day := range tradingDays {
		if coverage[day] >= c.coverageThreshold {
			historicalStart = day
			break
		}
	}

	// current coverage: latest trading day meeting the threshold
	var currentEnd time.Time
	for ii := len(tradingDays) - 1; ii >= 0; ii-- {
		if coverage[tradingDays[ii]] >= c.coverageThreshold {
			currentEnd = tradingDays[ii]
			break
		}
	}

	if historicalStart.IsZero() {
		// nothing cached at all: first run or very long outage
		return ModeFull, []DateRange{{Begin: begin, End: end}}, nil
	}

	leadingGap := historicalStart.After(tradingDays[0])
	trailingGap := currentEnd.Before(tradingDays[len(tradingDays)-1])

	switch {
	case leadingGap && trailingGap:
		return ModeFull, []DateRange{
			{Begin: begin, End: marketcal.PrevTradingDay(historicalStart)},
			{Begin: marketcal.NextTradingDay(currentEnd), End: end},
		}, nil
	case leadingGap:
		return ModeBackfill, []DateRange{
			{Begin: begin, End: marketcal.PrevTradingDay(historicalStart)},
		}, nil
	case trailingGap:
		return ModeIncremental, []DateRange{
			{Begin: marketcal.NextTradingDay(currentEnd), End: end},
		}, nil
	default:
		return ModeCached, nil, nil
	}
}

func (c *Collector) refreshProfiles(ctx context.Context, universe []string) (int, error) {
	candidates := ProfileCandidates(universe)
	if len(candidates) == 0 {
		return 0, nil
	}

	olderThan := time.Now().AddDate(0, 0, -c.profileStaleDays)
	stale, err := c.store.StaleProfileSymbols(ctx, candidates, olderThan)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	profiles, unfilled := c.chain.CompanyProfiles(ctx, stale)
	if len(unfilled) > 0 {
		log.Debug().Strs("Symbols", unfilled).Msg("no provider supplied company profiles")
	}

	flat := make([]*CompanyProfile, 0, len(profiles))
	for _, profile := range profiles {
		flat = append(flat, profile)
	}
	if err := c.store.UpsertProfiles(ctx, flat); err != nil {
		return 0, err
	}

	return len(flat), nil
}
