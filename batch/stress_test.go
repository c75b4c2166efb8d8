// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
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

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/database"
	"github.com/quantfolio/risk-api/portfolio"
)

var _ = Describe("StressTests", func() {
	var (
		dbPool pgxmock.PgxConnIface
		stress *StressTests
		p      *portfolio.Portfolio
		date   time.Time
		err    error
	)

	portfolioID := uuid.MustParse("4f8a9b0c-1d2e-4f3a-8b4c-5d6e7f8a9b0c")

	snapshotColumns := []string{
		"portfolio_id", "event_date", "equity_balance", "daily_pnl", "unrealized_pnl",
		"realized_pnl", "capital_flow", "daily_return", "cumulative_pnl",
		"cumulative_realized", "cumulative_flow", "gross_exposure", "net_exposure",
		"long_exposure", "short_exposure",
	}

	expectSnapshot := func(equity float64) {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery(`FROM portfolio_snapshots`).WillReturnRows(
			pgxmock.NewRows(snapshotColumns).AddRow(
				pgtype.UUID{Bytes: portfolioID, Status: pgtype.Present}, date, equity,
				0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0))
		dbPool.ExpectCommit()
	}

	expectExposures := func(rows *pgxmock.Rows) {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery(`FROM portfolio_factor_exposures`).WillReturnRows(rows)
		dbPool.ExpectCommit()
	}

	BeforeEach(func() {
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		stress = NewStressTests(portfolio.NewStore())
		p = &portfolio.Portfolio{ID: portfolioID, Name: "Test", EquityBalance: 123456}
		date = time.Date(2022, time.June, 21, 0, 0, 0, 0, common.GetTimezone())
	})

	It("skips when the day's snapshot does not exist yet", func() {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery(`FROM portfolio_snapshots`).WillReturnError(pgx.ErrNoRows)
		dbPool.ExpectRollback()

		// no exposure lookup happens without the snapshot gate passing
		results, err := stress.RunScenarios(context.Background(), p, date)
		Expect(err).To(BeNil())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(AnalyticsSkipped))
		Expect(results[0].Reason).To(Equal("no snapshot for date"))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("skips when no factor exposures were persisted for the date", func() {
		expectSnapshot(100000)
		expectExposures(pgxmock.NewRows([]string{"factor", "beta", "r2", "method", "alpha"}))

		results, err := stress.RunScenarios(context.Background(), p, date)
		Expect(err).To(BeNil())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Status).To(Equal(AnalyticsSkipped))
		Expect(results[0].Reason).To(Equal("no factor exposures for date"))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("scales scenario impacts by snapshot equity, not live equity", func() {
		expectSnapshot(100000)
		expectExposures(pgxmock.NewRows([]string{"factor", "beta", "r2", "method", "alpha"}).
			AddRow("market", 1.2, 0.8, "ols", 0.0).
			AddRow("momentum", 0.5, 0.6, "ridge", 0.0))

		results, err := stress.RunScenarios(context.Background(), p, date)
		Expect(err).To(BeNil())
		Expect(results).To(HaveLen(len(stressScenarios)))

		byName := make(map[string]*ScenarioResult, len(results))
		for _, result := range results {
			Expect(result.Status).To(Equal(AnalyticsComputed))
			byName[result.Scenario] = result
		}

		// market_selloff: beta 1.2 x shock -0.20 on $100,000 of snapshot equity
		Expect(byName["market_selloff"].ImpactPct).To(BeNumerically("~", -0.24, 1e-12))
		Expect(byName["market_selloff"].ImpactUSD).To(BeNumerically("~", -24000.0, 1e-9))

		// momentum_crash: beta 0.5 x shock -0.15
		Expect(byName["momentum_crash"].ImpactPct).To(BeNumerically("~", -0.075, 1e-12))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})
})
