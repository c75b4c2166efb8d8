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

package marketdata_test

import (
	"context"
	"time"

	"github.com/jackc/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/spf13/viper"

	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/database"
	"github.com/quantfolio/risk-api/marketdata"
)

var _ = Describe("Collector", Ordered, func() {
	var (
		dbPool    pgxmock.PgxConnIface
		store     *marketdata.Store
		provider  *fakeProvider
		collector *marketdata.Collector
		tz        *time.Location
		err       error

		calcDate time.Time
		universe []string
	)

	day := func(d int) time.Time {
		return time.Date(2022, time.July, d, 0, 0, 0, 0, tz)
	}

	serveAll := func(symbols []string) map[string]bool {
		m := make(map[string]bool, len(symbols))
		for _, s := range symbols {
			m[s] = true
		}
		return m
	}

	expectCoverageByDate := func(covered map[int]int) {
		rows := pgxmock.NewRows([]string{"event_date", "count"})
		// trading days in July 2022 up to the 15th
		for _, d := range []int{1, 5, 6, 7, 8, 11, 12, 13, 14, 15} {
			if count, ok := covered[d]; ok {
				rows.AddRow(day(d), count)
			}
		}
		dbPool.ExpectBegin()
		dbPool.ExpectQuery(`SELECT event_date, count\(DISTINCT symbol\) FROM market_data`).
			WillReturnRows(rows)
		dbPool.ExpectCommit()
	}

	expectUpserts := func(numBars int) {
		dbPool.ExpectBegin()
		for ii := 0; ii < numBars; ii++ {
			dbPool.ExpectExec(`INSERT INTO market_data`).
				WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
		}
		dbPool.ExpectCommit()
	}

	expectCoverageOn := func(count int) {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery(`SELECT count\(DISTINCT symbol\) FROM market_data`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(count))
		dbPool.ExpectCommit()
	}

	BeforeAll(func() {
		tz = common.GetTimezone()
		calcDate = day(15) // Friday
		universe = marketdata.BuildUniverse([]string{"AAPL"})
		Expect(universe).To(HaveLen(8))
	})

	BeforeEach(func() {
		viper.Set("marketdata.lookback_days", 14)
		viper.Set("marketdata.coverage_threshold", 0.8)
		viper.Set("marketdata.profile_stale_days", 30)

		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		store = marketdata.NewStore()
		provider = &fakeProvider{name: "fake", serves: serveAll(universe)}
		collector = marketdata.NewCollector(store, marketdata.NewChain(provider))
	})

	It("does nothing when every trading day already meets the threshold", func() {
		expectCoverageByDate(map[int]int{1: 8, 5: 8, 6: 8, 7: 8, 8: 8, 11: 8, 12: 8, 13: 8, 14: 8, 15: 8})

		report, err := collector.Collect(context.Background(), calcDate, []string{"AAPL"})
		Expect(err).To(BeNil())
		Expect(report.Mode).To(Equal(marketdata.ModeCached))
		Expect(report.Coverage).To(Equal(1.0))
		Expect(provider.queries).To(BeEmpty())
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("fetches exactly the missing trailing range", func() {
		// covered through Friday July 8; the following week is missing
		expectCoverageByDate(map[int]int{1: 8, 5: 8, 6: 8, 7: 8, 8: 8})
		expectUpserts(8 * 5) // 8 symbols x Jul 11..15
		expectCoverageOn(8)

		report, err := collector.Collect(context.Background(), calcDate, []string{"AAPL"})
		Expect(err).To(BeNil())
		Expect(report.Mode).To(Equal(marketdata.ModeIncremental))
		Expect(report.Ranges).To(HaveLen(1))
		Expect(report.Ranges[0].Begin).To(Equal(day(11)))
		Expect(report.Ranges[0].End).To(Equal(day(15)))

		Expect(provider.queries).To(HaveLen(1))
		Expect(provider.queries[0].Begin).To(Equal(day(11)))
		Expect(provider.queries[0].End).To(Equal(day(15)))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("fetches exactly the missing leading range", func() {
		// history only exists from Wednesday July 6 onwards
		expectCoverageByDate(map[int]int{6: 8, 7: 8, 8: 8, 11: 8, 12: 8, 13: 8, 14: 8, 15: 8})
		expectUpserts(8 * 5) // 8 symbols x Jul 1..5 calendar days
		expectCoverageOn(8)

		report, err := collector.Collect(context.Background(), calcDate, []string{"AAPL"})
		Expect(err).To(BeNil())
		Expect(report.Mode).To(Equal(marketdata.ModeBackfill))
		Expect(report.Ranges).To(HaveLen(1))
		Expect(report.Ranges[0].Begin).To(Equal(day(1)))
		Expect(report.Ranges[0].End).To(Equal(day(5)))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("treats below-threshold days as uncovered", func() {
		// Jul 1 has 4 of 8 symbols (50% < 80%); threshold fails, so the
		// leading gap starts at the range begin
		expectCoverageByDate(map[int]int{1: 4, 5: 8, 6: 8, 7: 8, 8: 8, 11: 8, 12: 8, 13: 8, 14: 8, 15: 8})
		expectUpserts(8 * 1)
		expectCoverageOn(8)

		report, err := collector.Collect(context.Background(), calcDate, []string{"AAPL"})
		Expect(err).To(BeNil())
		Expect(report.Mode).To(Equal(marketdata.ModeBackfill))
		Expect(report.Ranges[0].Begin).To(Equal(day(1)))
		Expect(report.Ranges[0].End).To(Equal(day(1)))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("performs a full backfill when nothing is cached", func() {
		expectCoverageByDate(map[int]int{})
		expectUpserts(8 * 15) // 8 symbols x Jul 1..15 calendar days
		expectCoverageOn(8)

		report, err := collector.Collect(context.Background(), calcDate, []string{"AAPL"})
		Expect(err).To(BeNil())
		Expect(report.Mode).To(Equal(marketdata.ModeFull))
		Expect(report.Ranges).To(HaveLen(1))
		Expect(report.Ranges[0].Begin).To(Equal(day(1)))
		Expect(report.Ranges[0].End).To(Equal(day(15)))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("reports symbols no provider could fill", func() {
		serves := serveAll(universe)
		delete(serves, "AAPL")
		provider.serves = serves

		expectCoverageByDate(map[int]int{1: 8, 5: 8, 6: 8, 7: 8, 8: 8, 11: 8, 12: 8, 13: 8, 14: 8})
		expectUpserts(7 * 1) // 7 symbols x Jul 15
		expectCoverageOn(7)

		report, err := collector.Collect(context.Background(), calcDate, []string{"AAPL"})
		Expect(err).To(BeNil())
		Expect(report.Unfilled).To(Equal([]string{"AAPL"}))
		Expect(report.Coverage).To(BeNumerically("~", 7.0/8.0, 1e-12))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})
})
