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

	"github.com/google/uuid"
	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/marketcal"
	"github.com/quantfolio/risk-api/portfolio"
	"github.com/rs/zerolog/log"
)

// BackfillResult reports the sweep of missed dates
type BackfillResult struct {
	From       time.Time
	Target     time.Time
	Processed  int
	Completed  int
	Partial    int
	FailedDate *time.Time
	Reports    []*DateReport
}

// RunWithBackfill processes every missed trading day strictly after the
// watermark through target, oldest first. A nil ids slice means every active
// portfolio. Ordering matters: each date's P&L rolls forward from the
// previous date's snapshot, so a hard failure stops the sweep rather than
// leaving a gap in the chain.
func (runner *Runner) RunWithBackfill(ctx context.Context, target time.Time, ids []uuid.UUID) (*BackfillResult, error) {
	target = common.MidnightEastern(target)

	watermark, err := runner.tracker.Watermark(ctx)
	switch {
	case err == nil:
		// resume after the last good date
	case errors.Is(err, ErrNoWatermark):
		// first run: start the day before the earliest position entry so the
		// entry date itself gets a snapshot
		earliest, err := runner.portfolios.EarliestEntryDate(ctx, ids)
		if errors.Is(err, portfolio.ErrNoPositions) {
			log.Info().Msg("no positions exist; nothing to backfill")
			return &BackfillResult{Target: target}, nil
		}
		if err != nil {
			return nil, err
		}
		watermark = common.MidnightEastern(earliest).AddDate(0, 0, -1)
	default:
		return nil, err
	}

	dates := marketcal.TradingDaysBetween(watermark.AddDate(0, 0, 1), target)
	result := &BackfillResult{From: watermark, Target: target}

	log.Info().
		Time("Watermark", watermark).
		Time("Target", target).
		Int("NumDates", len(dates)).
		Msg("backfill sweep planned")

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		report, err := runner.RunForDate(ctx, date, ids)
		if err != nil {
			return result, err
		}
		result.Processed++
		result.Reports = append(result.Reports, report)

		switch report.State {
		case RunComplete:
			result.Completed++
		case RunPartial:
			result.Partial++
		case RunFailed:
			failed := date
			result.FailedDate = &failed
			log.Error().Time("Date", date).Msg("backfill stopped at failed date")
			return result, nil
		}
	}

	return result, nil
}
