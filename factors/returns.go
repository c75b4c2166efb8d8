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

package factors

import (
	"context"
	"sort"
	"time"

	"github.com/quantfolio/risk-api/marketdata"
)

// ReturnSeries holds daily simple returns keyed by observation date
type ReturnSeries map[time.Time]float64

// buildReturnSeries loads closes for symbol over [begin, end] and converts
// them to day-over-day simple returns keyed on the later date
func buildReturnSeries(ctx context.Context, market *marketdata.Store, symbol string, begin, end time.Time) (ReturnSeries, error) {
	dates, closes, err := market.CloseSeries(ctx, symbol, begin, end)
	if err != nil {
		return nil, err
	}

	series := make(ReturnSeries, len(dates))
	for ii := 1; ii < len(dates); ii++ {
		if closes[ii-1] == 0 {
			continue
		}
		series[dates[ii]] = closes[ii]/closes[ii-1] - 1
	}
	return series, nil
}

// alignDates returns the ascending dates present in every series
func alignDates(series ...ReturnSeries) []time.Time {
	if len(series) == 0 {
		return nil
	}

	common := []time.Time{}
	for dt := range series[0] {
		present := true
		for _, s := range series[1:] {
			if _, ok := s[dt]; !ok {
				present = false
				break
			}
		}
		if present {
			common = append(common, dt)
		}
	}

	sort.Slice(common, func(i, j int) bool { return common[i].Before(common[j]) })
	return common
}

// sample extracts the series values for dates, in order
func (s ReturnSeries) sample(dates []time.Time) []float64 {
	out := make([]float64, len(dates))
	for ii, dt := range dates {
		out[ii] = s[dt]
	}
	return out
}
