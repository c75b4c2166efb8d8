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

package common

import (
	"time"

	"github.com/rs/zerolog/log"
)

// GetTimezone returns the market reference timezone (New York)
func GetTimezone() *time.Location {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Panic().Err(err).Msg("could not load timezone")
	}
	return tz
}

// MidnightEastern truncates t to midnight in the market reference timezone.
// All calculation dates in the pipeline are normalized this way so that
// (symbol, date) and (portfolio, date) keys compare cleanly.
func MidnightEastern(t time.Time) time.Time {
	tz := GetTimezone()
	t = t.In(tz)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tz)
}
