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
	"sync"
	"time"

	"github.com/quantfolio/risk-api/common"
)

// NYSE full-day holidays computed by rule so the calendar is available before
// any database state exists. Early-close days are not modeled; the pipeline
// only cares whether a daily bar prints.

var (
	holidayCache   = map[int]map[int64]bool{}
	holidayLocker  sync.RWMutex
)

func holidaysForYear(year int) map[int64]bool {
	holidayLocker.RLock()
	days, ok := holidayCache[year]
	holidayLocker.RUnlock()
	if ok {
		return days
	}

	tz := common.GetTimezone()
	days = make(map[int64]bool, 10)

	add := func(t time.Time) {
		days[observed(t).Unix()] = true
	}
	addFixed := func(t time.Time) {
		days[t.Unix()] = true
	}

	// New Year's Day; when Jan 1 falls on Saturday NYSE does not observe it
	// in the prior year, so only the Sunday shift applies
	ny := time.Date(year, time.January, 1, 0, 0, 0, 0, tz)
	if ny.Weekday() == time.Sunday {
		ny = ny.AddDate(0, 0, 1)
	}
	if ny.Weekday() != time.Saturday {
		addFixed(ny)
	}

	addFixed(nthWeekday(year, time.January, time.Monday, 3, tz))  // MLK Day
	addFixed(nthWeekday(year, time.February, time.Monday, 3, tz)) // Washington's Birthday
	addFixed(easterSunday(year, tz).AddDate(0, 0, -2))            // Good Friday
	addFixed(lastWeekday(year, time.May, time.Monday, tz))        // Memorial Day
	if year >= 2022 {
		add(time.Date(year, time.June, 19, 0, 0, 0, 0, tz)) // Juneteenth
	}
	add(time.Date(year, time.July, 4, 0, 0, 0, 0, tz))             // Independence Day
	addFixed(nthWeekday(year, time.September, time.Monday, 1, tz)) // Labor Day
	addFixed(nthWeekday(year, time.November, time.Thursday, 4, tz)) // Thanksgiving
	add(time.Date(year, time.December, 25, 0, 0, 0, 0, tz))        // Christmas

	holidayLocker.Lock()
	holidayCache[year] = days
	holidayLocker.Unlock()

	return days
}

// observed shifts Saturday holidays to Friday and Sunday holidays to Monday
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	default:
		return t
	}
}

func nthWeekday(year int, month time.Month, day time.Weekday, n int, tz *time.Location) time.Time {
	t := time.Date(year, month, 1, 0, 0, 0, 0, tz)
	for t.Weekday() != day {
		t = t.AddDate(0, 0, 1)
	}
	return t.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(year int, month time.Month, day time.Weekday, tz *time.Location) time.Time {
	// start from the last day of the month and walk backwards
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, tz).AddDate(0, 0, -1)
	for t.Weekday() != day {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// easterSunday implements the anonymous Gregorian computus
func easterSunday(year int, tz *time.Location) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, tz)
}
