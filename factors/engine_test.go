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

package factors_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/spf13/viper"

	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/database"
	"github.com/quantfolio/risk-api/factors"
	"github.com/quantfolio/risk-api/marketdata"
	"github.com/quantfolio/risk-api/portfolio"
)

var _ = Describe("Engine", Ordered, func() {
	var (
		dbPool pgxmock.PgxConnIface
		engine *factors.Engine
		p      *portfolio.Portfolio
		tz     *time.Location
		err    error

		portfolioID uuid.UUID
		positionID  uuid.UUID
		date        time.Time
	)

	pgID := func(id uuid.UUID) pgtype.UUID {
		return pgtype.UUID{Bytes: id, Status: pgtype.Present}
	}

	nullText := pgtype.Text{Status: pgtype.Null}
	nullFloat := pgtype.Float8{Status: pgtype.Null}

	positionColumns := []string{
		"id", "portfolio_id", "symbol", "quantity", "entry_price", "entry_date",
		"exit_date", "investment_class", "underlying", "strike", "expiration",
		"sector", "last_price", "market_value",
	}

	// one CloseSeries query per benchmark symbol, styles first then SPY
	expectFactorSeries := func(closes []float64, startDay time.Time) {
		for ii := 0; ii < len(factors.StyleFactors)+1; ii++ {
			rows := pgxmock.NewRows([]string{"event_date", "close"})
			for jj, close := range closes {
				rows.AddRow(startDay.AddDate(0, 0, jj), close)
			}
			dbPool.ExpectBegin()
			dbPool.ExpectQuery(`SELECT event_date, close FROM market_data`).
				WillReturnRows(rows)
			dbPool.ExpectCommit()
		}
	}

	expectPositionSeries := func(closes []float64, startDay time.Time) {
		rows := pgxmock.NewRows([]string{"event_date", "close"})
		for jj, close := range closes {
			rows.AddRow(startDay.AddDate(0, 0, jj), close)
		}
		dbPool.ExpectBegin()
		dbPool.ExpectQuery(`SELECT event_date, close FROM market_data`).
			WillReturnRows(rows)
		dbPool.ExpectCommit()
	}

	expectActivePositions := func(rows *pgxmock.Rows) {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery(`SELECT id, portfolio_id, symbol`).WillReturnRows(rows)
		dbPool.ExpectCommit()
	}

	expectPersist := func(numPositions int) {
		numFactors := len(factors.StyleFactors) + 1 // styles plus market

		dbPool.ExpectBegin()
		for ii := 0; ii < numPositions*numFactors; ii++ {
			dbPool.ExpectExec(`INSERT INTO position_factor_exposures`).
				WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
		}
		dbPool.ExpectCommit()

		dbPool.ExpectBegin()
		for ii := 0; ii < numFactors; ii++ {
			dbPool.ExpectExec(`INSERT INTO portfolio_factor_exposures`).
				WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
		}
		dbPool.ExpectCommit()
	}

	BeforeAll(func() {
		tz = common.GetTimezone()
		portfolioID = uuid.MustParse("9c1f2a3b-7e65-4d8a-b2c1-0f9e8d7c6b5a")
		positionID = uuid.MustParse("1d2c3b4a-5e6f-4a8b-9c0d-e1f2a3b4c5d6")
		date = time.Date(2022, time.June, 30, 0, 0, 0, 0, tz)
	})

	BeforeEach(func() {
		viper.Set("factors.window_days", 252)
		viper.Set("factors.cushion_days", 30)
		viper.Set("factors.min_observations", 5)
		viper.Set("factors.ridge_alpha", 1.0)
		viper.Set("factors.beta_cap", 4.0)

		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		engine = factors.NewEngine(portfolio.NewStore(), marketdata.NewStore())
		p = &portfolio.Portfolio{ID: portfolioID, Name: "Test", StartingBalance: 100000, Active: true}
	})

	It("returns the skipped sentinel for a portfolio with no public positions", func() {
		expectFactorSeries(nil, date)
		expectActivePositions(pgxmock.NewRows(positionColumns).AddRow(
			pgID(positionID), pgID(portfolioID), "PVT-SEED-A", 1.0, 50000.0, date.AddDate(0, 0, -90),
			nil, portfolio.ClassPrivate, nullText, nullFloat, nil,
			nullText, nullFloat, nullFloat))

		set, err := engine.PortfolioExposures(context.Background(), p, date)
		Expect(err).To(BeNil())
		Expect(set.Status).To(Equal(factors.StatusSkipped))
		Expect(set.Reason).To(Equal(factors.ReasonNoPublicPositions))
		Expect(set.Positions).To(BeEmpty())
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("skips a position whose price history is too thin", func() {
		closes := make([]float64, 20)
		for ii := range closes {
			closes[ii] = 100 + float64(ii)
		}
		startDay := date.AddDate(0, 0, -len(closes))

		expectFactorSeries(closes, startDay)
		expectActivePositions(pgxmock.NewRows(positionColumns).AddRow(
			pgID(positionID), pgID(portfolioID), "NEWIPO", 100.0, 10.0, date.AddDate(0, 0, -2),
			nil, portfolio.ClassPublicEquity, nullText, nullFloat, nil,
			nullText, nullFloat, nullFloat))
		// only three closes means two return observations
		expectPositionSeries(closes[:3], startDay)

		set, err := engine.PortfolioExposures(context.Background(), p, date)
		Expect(err).To(BeNil())
		Expect(set.Status).To(Equal(factors.StatusSkipped))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("propagates a store failure instead of silently dropping the position", func() {
		closes := make([]float64, 20)
		for ii := range closes {
			closes[ii] = 100 + float64(ii)
		}
		startDay := date.AddDate(0, 0, -len(closes))

		expectFactorSeries(closes, startDay)
		expectActivePositions(pgxmock.NewRows(positionColumns).AddRow(
			pgID(positionID), pgID(portfolioID), "AAPL", 100.0, 100.0, date.AddDate(0, 0, -90),
			nil, portfolio.ClassPublicEquity, nullText, nullFloat, nil,
			nullText, nullFloat, nullFloat))
		dbPool.ExpectBegin()
		dbPool.ExpectQuery(`SELECT event_date, close FROM market_data`).
			WillReturnError(&pgconn.PgError{Code: "08006"})
		dbPool.ExpectRollback()

		// nothing may be persisted from a partial aggregate
		set, err := engine.PortfolioExposures(context.Background(), p, date)
		Expect(set).To(BeNil())
		var pgErr *pgconn.PgError
		Expect(errors.As(err, &pgErr)).To(BeTrue())
		Expect(pgErr.Code).To(Equal("08006"))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})

	It("computes, caps, and persists exposures for a public position", func() {
		closes := make([]float64, 20)
		price := 100.0
		for ii := range closes {
			closes[ii] = price
			if ii%2 == 0 {
				price *= 1.01
			} else {
				price *= 0.995
			}
		}
		startDay := date.AddDate(0, 0, -len(closes))

		expectFactorSeries(closes, startDay)
		expectActivePositions(pgxmock.NewRows(positionColumns).AddRow(
			pgID(positionID), pgID(portfolioID), "AAPL", 100.0, 100.0, date.AddDate(0, 0, -90),
			nil, portfolio.ClassPublicEquity, nullText, nullFloat, nil,
			nullText, nullFloat, pgtype.Float8{Float: 15000, Status: pgtype.Present}))
		expectPositionSeries(closes, startDay)
		expectPersist(1)

		set, err := engine.PortfolioExposures(context.Background(), p, date)
		Expect(err).To(BeNil())
		Expect(set.Status).To(Equal(factors.StatusComputed))
		Expect(set.Reason).To(BeEmpty())
		Expect(set.Method).To(Equal(factors.MethodRidge))
		Expect(set.Positions).To(HaveLen(1))
		Expect(set.Positions[0].Observations).To(Equal(19))
		Expect(set.Positions[0].Quality).To(Equal(factors.QualityFull))

		// every beta honors the cap
		for _, beta := range set.Betas {
			Expect(beta).To(BeNumerically("<=", 4.0))
			Expect(beta).To(BeNumerically(">=", -4.0))
		}
		Expect(set.AvgR2).To(BeNumerically(">=", 0.0))
		Expect(set.AvgR2).To(BeNumerically("<=", 1.0))
		Expect(dbPool.ExpectationsWereMet()).To(BeNil())
	})
})
