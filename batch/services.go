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
	"time"

	"github.com/quantfolio/risk-api/portfolio"
)

// AnalyticsStatus mirrors the computed/skipped split used throughout the
// pipeline: a portfolio with nothing to analyze is a skip, not an error
type AnalyticsStatus string

const (
	AnalyticsComputed AnalyticsStatus = "computed"
	AnalyticsSkipped  AnalyticsStatus = "skipped"
)

// CorrelationMatrix holds pairwise return correlations between a
// portfolio's public positions
type CorrelationMatrix struct {
	Status  AnalyticsStatus
	Reason  string
	Symbols []string
	Values  [][]float64
}

// ScenarioResult is the estimated portfolio P&L impact of one stress
// scenario applied through the portfolio's factor exposures
type ScenarioResult struct {
	Status    AnalyticsStatus
	Reason    string
	Scenario  string
	ImpactPct float64
	ImpactUSD float64
}

// CorrelationService computes position return correlations for one
// portfolio and date
type CorrelationService interface {
	ComputeMatrix(ctx context.Context, p *portfolio.Portfolio, date time.Time) (*CorrelationMatrix, error)
}

// StressTestService applies the fixed scenario library to one portfolio
type StressTestService interface {
	RunScenarios(ctx context.Context, p *portfolio.Portfolio, date time.Time) ([]*ScenarioResult, error)
}
