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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quantfolio/risk-api/factors"
	"github.com/quantfolio/risk-api/marketdata"
	"github.com/quantfolio/risk-api/observability/opentelemetry"
	"github.com/quantfolio/risk-api/pnl"
	"github.com/quantfolio/risk-api/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DateReport summarizes one calculation date end to end
type DateReport struct {
	Date   time.Time
	State  RunState
	Phases []PhaseRecord
}

// Runner sequences the per-date pipeline over every active portfolio
type Runner struct {
	tracker    *Tracker
	portfolios *portfolio.Store
	market     *marketdata.Store
	collector  *marketdata.Collector
	pnlEngine  *pnl.Engine
	factors    *factors.Engine

	correlations CorrelationService
	stress       StressTestService

	retry             retryPolicy
	portfolioPause    time.Duration
	priceLookbackDays int

	// pipeline holds the phases in dependency order
	pipeline []Phase

	// per-date scratch state, reset by RunForDate
	excluded map[uuid.UUID]bool
}

func NewRunner(portfolios *portfolio.Store, market *marketdata.Store, collector *marketdata.Collector,
	pnlEngine *pnl.Engine, factorEngine *factors.Engine,
	correlations CorrelationService, stress StressTestService) *Runner {
	pause := viper.GetDuration("batch.portfolio_pause")
	lookback := viper.GetInt("pnl.price_lookback_days")
	if lookback == 0 {
		lookback = 10
	}

	runner := &Runner{
		tracker:           NewTracker(),
		portfolios:        portfolios,
		market:            market,
		collector:         collector,
		pnlEngine:         pnlEngine,
		factors:           factorEngine,
		correlations:      correlations,
		stress:            stress,
		retry:             newRetryPolicy(),
		portfolioPause:    pause,
		priceLookbackDays: lookback,
	}
	runner.pipeline = runner.defaultPhases()
	return runner
}

// RunForDate executes the full pipeline for one calculation date. A nil ids
// slice means every active portfolio. The returned report is always
// populated; the error covers only failures of the run tracking itself.
func (runner *Runner) RunForDate(ctx context.Context, date time.Time, ids []uuid.UUID) (*DateReport, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "batch.RunForDate")
	defer span.End()
	span.SetAttributes(attribute.String("Date", date.Format("2006-01-02")))

	subLog := log.With().Time("Date", date).Logger()
	subLog.Info().Msg("starting batch run")

	if err := runner.tracker.Begin(ctx, date); err != nil {
		return nil, err
	}

	report := &DateReport{Date: date, State: RunComplete}
	runner.excluded = make(map[uuid.UUID]bool)

	portfolios, err := runner.portfolios.ActivePortfolios(ctx, ids)
	if err != nil {
		report.State = RunFailed
		report.Phases = append(report.Phases, PhaseRecord{
			Phase: PhaseMarketData, State: RunFailed, Error: err.Error(),
		})
		return report, runner.tracker.Finish(ctx, date, report.State, report.Phases)
	}

	abandoned := false
	for _, phase := range runner.pipeline {
		if abandoned {
			report.Phases = append(report.Phases, PhaseRecord{Phase: phase.Name, State: RunPending})
			continue
		}

		record := runner.runPhase(ctx, phase, date, portfolios)
		report.Phases = append(report.Phases, record)

		switch record.State {
		case RunFailed:
			if phase.Hard && phase.Scope == ScopeGlobal {
				abandoned = true
				report.State = RunFailed
			} else {
				report.State = RunPartial
			}
		case RunPartial:
			if report.State == RunComplete {
				report.State = RunPartial
			}
		}
	}

	subLog.Info().Str("State", string(report.State)).Msg("batch run finished")
	return report, runner.tracker.Finish(ctx, date, report.State, report.Phases)
}

func (runner *Runner) runPhase(ctx context.Context, phase Phase, date time.Time, portfolios []*portfolio.Portfolio) PhaseRecord {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "batch.phase."+phase.Name)
	defer span.End()

	start := time.Now()
	record := PhaseRecord{Phase: phase.Name, State: RunComplete}
	subLog := log.With().Str("Phase", phase.Name).Time("Date", date).Logger()

	if phase.Scope == ScopeGlobal {
		record.Units = 1
		outcome := runner.retry.run(ctx, phase.Name, safely(func(ctx context.Context) Outcome {
			return phase.RunGlobal(ctx, date, portfolios)
		}))
		applyOutcome(&record, outcome)
	} else {
		for _, p := range portfolios {
			if runner.excluded[p.ID] {
				record.Skipped++
				continue
			}
			record.Units++

			unitStart := time.Now()
			outcome := runner.retry.run(ctx, phase.Name+"/"+p.ID.String(), safely(func(ctx context.Context) Outcome {
				return phase.RunPortfolio(ctx, date, p)
			}))
			applyOutcome(&record, outcome)

			unitLog := subLog.With().
				Str("PortfolioID", p.ID.String()).
				Dur("Duration", time.Since(unitStart)).
				Logger()
			switch outcome.Kind {
			case OutcomeFailed:
				unitLog.Error().Stack().Err(outcome.Err).Bool("Retryable", outcome.Retryable).Msg("portfolio unit failed")
				if phase.Hard {
					runner.excluded[p.ID] = true
				}
			case OutcomeSkipped:
				unitLog.Info().Str("Reason", outcome.Reason).Msg("portfolio unit skipped")
			default:
				unitLog.Debug().Msg("portfolio unit complete")
			}

			if runner.portfolioPause > 0 {
				time.Sleep(runner.portfolioPause)
			}
		}

		if record.Failed > 0 && record.Failed < record.Units {
			record.State = RunPartial
		}
	}

	record.Duration = time.Since(start)
	subLog.Info().
		Str("State", string(record.State)).
		Dur("Duration", record.Duration).
		Int("Units", record.Units).
		Int("Failed", record.Failed).
		Int("Skipped", record.Skipped).
		Msg("phase finished")
	return record
}

// safely converts a panic inside a unit of work into a failed outcome so one
// bad portfolio cannot take down the whole date
func safely(fn func(ctx context.Context) Outcome) func(ctx context.Context) Outcome {
	return func(ctx context.Context) (outcome Outcome) {
		defer func() {
			if r := recover(); r != nil {
				outcome = Failed(fmt.Errorf("unit of work panicked: %v", r))
			}
		}()
		return fn(ctx)
	}
}

func applyOutcome(record *PhaseRecord, outcome Outcome) {
	switch outcome.Kind {
	case OutcomeFailed:
		record.Failed++
		record.State = RunFailed
		if record.Error == "" && outcome.Err != nil {
			record.Error = outcome.Err.Error()
		}
	case OutcomeSkipped:
		record.Skipped++
	}
}

// openSymbols gathers every symbol held across the given portfolios on date
func (runner *Runner) openSymbols(ctx context.Context, portfolios []*portfolio.Portfolio, date time.Time) ([]string, error) {
	ids := make([]uuid.UUID, 0, len(portfolios))
	for _, p := range portfolios {
		ids = append(ids, p.ID)
	}
	return runner.portfolios.OpenPositionSymbols(ctx, ids, date)
}

func (runner *Runner) collectMarketData(ctx context.Context, date time.Time, portfolios []*portfolio.Portfolio) Outcome {
	symbols, err := runner.openSymbols(ctx, portfolios, date)
	if err != nil {
		return Failed(err)
	}

	report, err := runner.collector.Collect(ctx, date, symbols)
	if err != nil {
		return Failed(err)
	}

	log.Info().
		Str("Mode", string(report.Mode)).
		Float64("Coverage", report.Coverage).
		Int("BarsWritten", report.BarsWritten).
		Int("Unfilled", len(report.Unfilled)).
		Msg("market data collected")
	return Ok()
}

func (runner *Runner) refreshFundamentals(ctx context.Context, date time.Time, portfolios []*portfolio.Portfolio) Outcome {
	symbols, err := runner.openSymbols(ctx, portfolios, date)
	if err != nil {
		return Failed(err)
	}

	written, err := runner.collector.RefreshProfiles(ctx, symbols)
	if err != nil {
		return Failed(err)
	}
	if written == 0 {
		return Skipped("no stale company profiles")
	}

	log.Info().Int("ProfilesWritten", written).Msg("company profiles refreshed")
	return Ok()
}

func (runner *Runner) computePnL(ctx context.Context, date time.Time, p *portfolio.Portfolio) Outcome {
	result, err := runner.pnlEngine.ComputeDay(ctx, p, date)
	if err != nil {
		return Failed(err)
	}
	if result.Status == pnl.StatusSkipped {
		return Skipped(result.Reason)
	}
	return Ok()
}

func (runner *Runner) refreshPositionValues(ctx context.Context, date time.Time, portfolios []*portfolio.Portfolio) Outcome {
	updated := 0
	for _, p := range portfolios {
		positions, err := runner.portfolios.ActivePositions(ctx, p.ID, date)
		if err != nil {
			return Failed(err)
		}

		for _, pos := range positions {
			if pos.Class == portfolio.ClassPrivate {
				continue
			}

			price, _, err := runner.market.CloseOnOrBefore(ctx, pos.PriceSymbol(), date, runner.priceLookbackDays)
			if err != nil {
				if errors.Is(err, marketdata.ErrNoPrice) {
					log.Debug().Str("Symbol", pos.Symbol).Msg("no recent price; position value unchanged")
					continue
				}
				return Failed(err)
			}

			value := price * pos.Quantity * pos.Multiplier()
			if err := runner.portfolios.UpdatePositionValue(ctx, pos.ID, price, value); err != nil {
				return Failed(err)
			}
			updated++
		}
	}

	if updated == 0 {
		return Skipped("no priceable positions")
	}
	return Ok()
}

func (runner *Runner) tagSectors(ctx context.Context, date time.Time, portfolios []*portfolio.Portfolio) Outcome {
	missing, err := runner.portfolios.PositionsMissingSector(ctx)
	if err != nil {
		return Failed(err)
	}
	if len(missing) == 0 {
		return Skipped("all positions tagged")
	}

	symbols := make([]string, 0, len(missing))
	for _, pos := range missing {
		symbols = append(symbols, pos.PriceSymbol())
	}

	sectors, err := runner.market.SectorForSymbols(ctx, symbols)
	if err != nil {
		return Failed(err)
	}

	tagged := 0
	for _, pos := range missing {
		sector, ok := sectors[pos.PriceSymbol()]
		if !ok || sector == "" {
			continue
		}
		if err := runner.portfolios.SetPositionSector(ctx, pos.ID, sector); err != nil {
			return Failed(err)
		}
		tagged++
	}

	log.Info().Int("Tagged", tagged).Int("Missing", len(missing)).Msg("sector tags refreshed")
	return Ok()
}

func (runner *Runner) computeRiskAnalytics(ctx context.Context, date time.Time, p *portfolio.Portfolio) Outcome {
	set, err := runner.factors.PortfolioExposures(ctx, p, date)
	if err != nil {
		return Failed(err)
	}

	if runner.stress != nil {
		scenarios, err := runner.stress.RunScenarios(ctx, p, date)
		if err != nil {
			return Failed(err)
		}
		if err := runner.persistScenarios(ctx, p, date, scenarios); err != nil {
			return Failed(err)
		}
	}
	if runner.correlations != nil {
		matrix, err := runner.correlations.ComputeMatrix(ctx, p, date)
		if err != nil {
			return Failed(err)
		}
		if matrix.Status == AnalyticsComputed {
			if err := runner.portfolios.SaveCorrelationMatrix(ctx, p.ID, date, matrix.Symbols, matrix.Values); err != nil {
				return Failed(err)
			}
		}
	}

	if set.Status == factors.StatusSkipped {
		return Skipped(set.Reason)
	}
	return Ok()
}

// persistScenarios stores the computed scenario impacts; skipped sentinels
// carry no numbers and are not written
func (runner *Runner) persistScenarios(ctx context.Context, p *portfolio.Portfolio, date time.Time, scenarios []*ScenarioResult) error {
	rows := make([]*portfolio.StressResult, 0, len(scenarios))
	for _, scn := range scenarios {
		if scn.Status != AnalyticsComputed {
			continue
		}
		rows = append(rows, &portfolio.StressResult{
			PortfolioID: p.ID,
			Scenario:    scn.Scenario,
			Date:        date,
			ImpactPct:   scn.ImpactPct,
			ImpactUSD:   scn.ImpactUSD,
		})
	}
	return runner.portfolios.UpsertStressResults(ctx, rows)
}
