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
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a market-aware cron schedule: activations that land on
// weekends or market holidays are skipped, so "30 18 * * *" means 18:30
// Eastern on every trading day.
type Schedule struct {
	Spec     string
	schedule cron.Schedule
}

// NewSchedule parses a standard 5-field cron specification
// (Minute Hour DayOfMonth Month DayOfWeek)
func NewSchedule(cronSpec string) (*Schedule, error) {
	specParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := specParser.Parse(strings.TrimSpace(cronSpec))
	if err != nil {
		return nil, err
	}
	return &Schedule{
		Spec:     cronSpec,
		schedule: sched,
	}, nil
}

// Next returns the first cron activation after t that falls on a trading day
func (s *Schedule) Next(t time.Time) time.Time {
	next := s.schedule.Next(t)
	for !IsTradingDay(next) {
		next = s.schedule.Next(next)
	}
	return next
}
