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

package marketdata

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quantfolio/risk-api/common"
	"github.com/rs/zerolog/log"
)

var stooqAPI = "https://stooq.com"

// Stooq is the fallback provider. It serves daily bars as CSV and has no
// company reference data.
type Stooq struct{}

func NewStooq() *Stooq {
	return &Stooq{}
}

func (s *Stooq) Name() string {
	return "stooq"
}

func (s *Stooq) HistoricalPrices(ctx context.Context, symbols []string, begin, end time.Time) (map[string][]*Bar, error) {
	result := make(map[string][]*Bar, len(symbols))

	for _, symbol := range symbols {
		symbol = strings.ToUpper(symbol)
		bars, err := s.loadSymbol(symbol, begin, end)
		if err != nil {
			log.Warn().Err(err).Str("Symbol", symbol).Msg("stooq could not load symbol")
			continue
		}
		if len(bars) > 0 {
			result[symbol] = bars
		}
	}

	return result, nil
}

// CompanyProfiles always returns an empty map; stooq publishes prices only
func (s *Stooq) CompanyProfiles(ctx context.Context, symbols []string) (map[string]*CompanyProfile, error) {
	return map[string]*CompanyProfile{}, nil
}

func (s *Stooq) loadSymbol(symbol string, begin, end time.Time) ([]*Bar, error) {
	url := fmt.Sprintf("%s/q/d/l/?s=%s.us&d1=%s&d2=%s&i=d",
		stooqAPI, strings.ToLower(symbol), begin.Format("20060102"), end.Format("20060102"))

	body, err := cachedGet(url)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(body))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		// header only means stooq has nothing for this symbol
		return nil, nil
	}

	tz := common.GetTimezone()
	bars := make([]*Bar, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 6 {
			continue
		}

		dt, err := time.ParseInLocation("2006-01-02", record[0], tz)
		if err != nil {
			continue
		}

		open, err1 := strconv.ParseFloat(record[1], 64)
		high, err2 := strconv.ParseFloat(record[2], 64)
		low, err3 := strconv.ParseFloat(record[3], 64)
		close, err4 := strconv.ParseFloat(record[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}

		volume, _ := strconv.ParseInt(record[5], 10, 64)

		bars = append(bars, &Bar{
			Symbol: symbol,
			Date:   dt,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: volume,
			Source: s.Name(),
		})
	}

	return bars, nil
}
