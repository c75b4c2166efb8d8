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

package marketcal

import (
	"time"

	"github.com/quantfolio/risk-api/common"
)

// IsMarketHoliday returns true if the specified date is a market holiday
func IsMarketHoliday(t time.Time) bool {
	d := common.MidnightEastern(t)
	return holidaysForYear(d.Year())[d.Unix()]
}

// IsTradingDay returns true if the specified date is a valid trading day
// (i.e. not a market holiday or weekend)
func IsTradingDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsMarketHoliday(t)
}

// PrevTradingDay returns the most recent trading day strictly before t
func PrevTradingDay(t time.Time) time.Time {
	d := common.MidnightEastern(t).AddDate(0, 0, -1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextTradingDay returns the first trading day strictly after t
func NextTradingDay(t time.Time) time.Time {
	d := common.MidnightEastern(t).AddDate(0, 0, 1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// MostRecentTradingDay returns t if it is a trading day, otherwise the
// closest trading day before t
func MostRecentTradingDay(t time.Time) time.Time {
	d := common.MidnightEastern(t)
	if IsTradingDay(d) {
		return d
	}
	return PrevTradingDay(d)
}

// TradingDaysBetween returns all trading days in [begin, end] in ascending
// order; an inverted range yields an empty slice
func TradingDaysBetween(begin, end time.Time) []time.Time {
	begin = common.MidnightEastern(begin)
	end = common.MidnightEastern(end)

	days := []time.Time{}
	for d := begin; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}
