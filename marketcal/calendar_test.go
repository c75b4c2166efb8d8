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

package marketcal_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/marketcal"
)

var _ = Describe("Calendar", func() {
	var tz *time.Location

	BeforeEach(func() {
		tz = common.GetTimezone()
	})

	Describe("market holidays", func() {
		It("recognizes fixed-rule holidays in 2022", func() {
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.January, 17, 0, 0, 0, 0, tz))).To(BeTrue())   // MLK Day
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.February, 21, 0, 0, 0, 0, tz))).To(BeTrue()) // Washington's Birthday
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.April, 15, 0, 0, 0, 0, tz))).To(BeTrue())    // Good Friday
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.May, 30, 0, 0, 0, 0, tz))).To(BeTrue())      // Memorial Day
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.July, 4, 0, 0, 0, 0, tz))).To(BeTrue())
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.September, 5, 0, 0, 0, 0, tz))).To(BeTrue()) // Labor Day
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.November, 24, 0, 0, 0, 0, tz))).To(BeTrue()) // Thanksgiving
		})

		It("observes Juneteenth on Monday June 20 in 2022", func() {
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.June, 20, 0, 0, 0, 0, tz))).To(BeTrue())
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.June, 19, 0, 0, 0, 0, tz))).To(BeFalse())
		})

		It("does not observe Juneteenth before 2022", func() {
			Expect(marketcal.IsMarketHoliday(time.Date(2021, time.June, 18, 0, 0, 0, 0, tz))).To(BeFalse())
		})

		It("observes Christmas 2022 on Monday December 26", func() {
			Expect(marketcal.IsMarketHoliday(time.Date(2022, time.December, 26, 0, 0, 0, 0, tz))).To(BeTrue())
		})

		It("does not shift a Saturday New Year's Day into the prior year", func() {
			// Jan 1 2022 is a Saturday; Dec 31 2021 stays a trading day
			Expect(marketcal.IsMarketHoliday(time.Date(2021, time.December, 31, 0, 0, 0, 0, tz))).To(BeFalse())
			Expect(marketcal.IsTradingDay(time.Date(2021, time.December, 31, 0, 0, 0, 0, tz))).To(BeTrue())
		})

		It("observes a Sunday New Year's Day on the following Monday", func() {
			// Jan 1 2023 is a Sunday
			Expect(marketcal.IsMarketHoliday(time.Date(2023, time.January, 2, 0, 0, 0, 0, tz))).To(BeTrue())
		})
	})

	Describe("trading days", func() {
		It("excludes weekends", func() {
			Expect(marketcal.IsTradingDay(time.Date(2022, time.June, 25, 0, 0, 0, 0, tz))).To(BeFalse()) // Saturday
			Expect(marketcal.IsTradingDay(time.Date(2022, time.June, 26, 0, 0, 0, 0, tz))).To(BeFalse()) // Sunday
			Expect(marketcal.IsTradingDay(time.Date(2022, time.June, 27, 0, 0, 0, 0, tz))).To(BeTrue())
		})

		It("walks backwards over a long weekend", func() {
			// Tuesday after Independence Day 2022
			tuesday := time.Date(2022, time.July, 5, 0, 0, 0, 0, tz)
			Expect(marketcal.PrevTradingDay(tuesday)).To(Equal(time.Date(2022, time.July, 1, 0, 0, 0, 0, tz)))
		})

		It("walks forwards over a holiday", func() {
			friday := time.Date(2022, time.July, 1, 0, 0, 0, 0, tz)
			Expect(marketcal.NextTradingDay(friday)).To(Equal(time.Date(2022, time.July, 5, 0, 0, 0, 0, tz)))
		})

		It("resolves the most recent trading day for a weekend date", func() {
			sunday := time.Date(2022, time.June, 26, 0, 0, 0, 0, tz)
			Expect(marketcal.MostRecentTradingDay(sunday)).To(Equal(time.Date(2022, time.June, 24, 0, 0, 0, 0, tz)))
		})

		It("returns a trading day unchanged from MostRecentTradingDay", func() {
			wednesday := time.Date(2022, time.June, 22, 0, 0, 0, 0, tz)
			Expect(marketcal.MostRecentTradingDay(wednesday)).To(Equal(wednesday))
		})
	})

	Describe("TradingDaysBetween", func() {
		It("returns an ascending inclusive range", func() {
			days := marketcal.TradingDaysBetween(
				time.Date(2022, time.June, 27, 0, 0, 0, 0, tz),
				time.Date(2022, time.July, 1, 0, 0, 0, 0, tz))
			Expect(days).To(HaveLen(5))
			Expect(days[0]).To(Equal(time.Date(2022, time.June, 27, 0, 0, 0, 0, tz)))
			Expect(days[4]).To(Equal(time.Date(2022, time.July, 1, 0, 0, 0, 0, tz)))
			for ii := 1; ii < len(days); ii++ {
				Expect(days[ii].After(days[ii-1])).To(BeTrue())
			}
		})

		It("skips holidays inside the range", func() {
			days := marketcal.TradingDaysBetween(
				time.Date(2022, time.July, 1, 0, 0, 0, 0, tz),
				time.Date(2022, time.July, 8, 0, 0, 0, 0, tz))
			// Jul 4 is a holiday; Jul 2-3 is a weekend
			Expect(days).To(HaveLen(5))
			for _, day := range days {
				Expect(day.Day()).NotTo(Equal(4))
			}
		})

		It("is empty when end precedes begin", func() {
			days := marketcal.TradingDaysBetween(
				time.Date(2022, time.July, 8, 0, 0, 0, 0, tz),
				time.Date(2022, time.July, 1, 0, 0, 0, 0, tz))
			Expect(days).To(BeEmpty())
		})
	})

	Describe("Schedule", func() {
		It("skips activations on non-trading days", func() {
			schedule, err := marketcal.NewSchedule("0 18 * * *")
			Expect(err).To(BeNil())

			// Friday evening after the 18:00 activation
			friday := time.Date(2022, time.July, 1, 19, 0, 0, 0, tz)
			next := schedule.Next(friday)

			// Saturday, Sunday and the July 4 holiday are skipped
			Expect(next.Day()).To(Equal(5))
			Expect(next.Hour()).To(Equal(18))
		})

		It("rejects malformed cron expressions", func() {
			_, err := marketcal.NewSchedule("not a cron spec")
			Expect(err).NotTo(BeNil())
		})
	})
})
