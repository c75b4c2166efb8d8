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

// PhaseScope says whether a phase runs once per date or once per portfolio
type PhaseScope string

const (
	ScopeGlobal       PhaseScope = "global"
	ScopePerPortfolio PhaseScope = "per-portfolio"
)

const (
	PhaseMarketData     = "market_data"
	PhaseFundamentals   = "fundamentals"
	PhasePnLSnapshot    = "pnl_snapshot"
	PhasePositionValues = "position_values"
	PhaseSectorTags     = "sector_tags"
	PhaseRiskAnalytics  = "risk_analytics"
)

// Phase is one step of the per-date pipeline. Hard phases gate what follows:
// a hard global failure abandons the date, a hard per-portfolio failure
// excludes that portfolio from every later per-portfolio phase.
type Phase struct {
	Name  string
	Hard  bool
	Scope PhaseScope

	RunGlobal    func(ctx context.Context, date time.Time, portfolios []*portfolio.Portfolio) Outcome
	RunPortfolio func(ctx context.Context, date time.Time, p *portfolio.Portfolio) Outcome
}

// defaultPhases returns the pipeline in dependency order. Prices must exist
// before P&L; P&L snapshots must exist before analytics read them.
func (runner *Runner) defaultPhases() []Phase {
	return []Phase{
		{Name: PhaseMarketData, Hard: true, Scope: ScopeGlobal, RunGlobal: runner.collectMarketData},
		{Name: PhaseFundamentals, Scope: ScopeGlobal, RunGlobal: runner.refreshFundamentals},
		{Name: PhasePnLSnapshot, Hard: true, Scope: ScopePerPortfolio, RunPortfolio: runner.computePnL},
		{Name: PhasePositionValues, Scope: ScopeGlobal, RunGlobal: runner.refreshPositionValues},
		{Name: PhaseSectorTags, Scope: ScopeGlobal, RunGlobal: runner.tagSectors},
		{Name: PhaseRiskAnalytics, Scope: ScopePerPortfolio, RunPortfolio: runner.computeRiskAnalytics},
	}
}
