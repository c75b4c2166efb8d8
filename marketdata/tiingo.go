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
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tiingoAPI = "https://api.tiingo.com"

const tiingoChunkSize = 10

// Tiingo is the primary market-data provider
type Tiingo struct {
	apikey string
}

type tiingoBarResponse struct {
	Date   string  `json:"date"`
	Close  float64 `json:"close"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Open   float64 `json:"open"`
	Volume int64   `json:"volume"`
}

type tiingoProfileResponse struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	Sector      string `json:"sector"`
	Industry    string `json:"industry"`
	Description string `json:"description"`
}

// NewTiingo creates a new Tiingo data provider
func NewTiingo(key string) *Tiingo {
	return &Tiingo{apikey: key}
}

func (t *Tiingo) Name() string {
	return "tiingo"
}

type tiingoFetchResult struct {
	Symbol string
	Bars   []*Bar
	Err    error
}

// HistoricalPrices downloads daily bars for symbols over [begin, end],
// fanning out in small chunks so a long symbol list doesn't serialize
func (t *Tiingo) HistoricalPrices(ctx context.Context, symbols []string, begin, end time.Time) (map[string][]*Bar, error) {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "tiingo.HistoricalPrices")
	defer span.End()
	span.SetAttributes(
		attribute.Int("NumSymbols", len(symbols)),
		attribute.String("Begin", begin.Format("2006-01-02")),
		attribute.String("End", end.Format("2006-01-02")),
	)

	subLog := log.With().Time("Begin", begin).Time("End", end).Logger()

	result := make(map[string][]*Bar, len(symbols))
	ch := make(chan tiingoFetchResult)

	for idx, chunk := range partitionSymbols(symbols, tiingoChunkSize) {
		subLog.Debug().Int("Chunk", idx).Msg("tiingo download chunk")
		for ii := range chunk {
			go t.downloadWorker(ch, strings.ToUpper(chunk[ii]), begin, end)
		}

		for range chunk {
			v := <-ch
			if v.Err != nil {
				// per-symbol failure; the next provider in the chain gets a shot
				subLog.Warn().Err(v.Err).Str("Symbol", v.Symbol).Msg("cannot download symbol data")
				continue
			}
			if len(v.Bars) > 0 {
				result[v.Symbol] = v.Bars
			}
		}
	}

	if len(result) == 0 && len(symbols) > 0 {
		msg := "tiingo returned no data for any symbol"
		span.SetStatus(codes.Error, msg)
		return result, errors.New(msg)
	}

	return result, nil
}

func (t *Tiingo) downloadWorker(result chan<- tiingoFetchResult, symbol string, begin, end time.Time) {
	bars, err := t.loadSymbol(symbol, begin, end)
	result <- tiingoFetchResult{
		Symbol: symbol,
		Bars:   bars,
		Err:    err,
	}
}

func (t *Tiingo) loadSymbol(symbol string, begin, end time.Time) ([]*Bar, error) {
	url := fmt.Sprintf("%s/tiingo/daily/%s/prices?startDate=%s&endDate=%s&token=%s",
		tiingoAPI, symbol, begin.Format("2006-01-02"), end.Format("2006-01-02"), t.apikey)

	body, err := cachedGet(url)
	if err != nil {
		return nil, err
	}

	jsonResp := []tiingoBarResponse{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		log.Error().Err(err).Str("Symbol", symbol).Bytes("Body", body).Msg("could not unmarshal tiingo json")
		return nil, err
	}

	tz := common.GetTimezone()
	bars := make([]*Bar, 0, len(jsonResp))
	for _, row := range jsonResp {
		dtParts := strings.Split(row.Date, "T")
		dt, err := time.ParseInLocation("2006-01-02", dtParts[0], tz)
		if err != nil {
			log.Warn().Err(err).Str("Symbol", symbol).Str("DateStr", row.Date).Msg("cannot parse date string")
			continue
		}
		bars = append(bars, &Bar{
			Symbol: symbol,
			Date:   dt,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
			Source: t.Name(),
		})
	}

	return bars, nil
}

// CompanyProfiles fetches reference metadata one symbol at a time; tiingo
// has no bulk meta endpoint
func (t *Tiingo) CompanyProfiles(ctx context.Context, symbols []string) (map[string]*CompanyProfile, error) {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "tiingo.CompanyProfiles")
	defer span.End()

	profiles := make(map[string]*CompanyProfile, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(symbol)
		url := fmt.Sprintf("%s/tiingo/daily/%s?token=%s", tiingoAPI, symbol, t.apikey)

		body, err := cachedGet(url)
		if err != nil {
			log.Warn().Err(err).Str("Symbol", symbol).Msg("could not fetch company profile")
			continue
		}

		resp := tiingoProfileResponse{}
		if err := json.Unmarshal(body, &resp); err != nil {
			log.Warn().Err(err).Str("Symbol", symbol).Msg("could not unmarshal profile json")
			continue
		}
		if resp.Name == "" {
			continue
		}

		profiles[symbol] = &CompanyProfile{
			Symbol:      symbol,
			Name:        resp.Name,
			Sector:      resp.Sector,
			Industry:    resp.Industry,
			Description: resp.Description,
			UpdatedAt:   time.Now(),
		}
	}

	return profiles, nil
}

// cachedGet performs an HTTP GET through the two-level response cache
func cachedGet(url string) ([]byte, error) {
	if body, err := common.CacheGet(url); err == nil {
		return body, nil
	}

	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP request returned invalid status code: %d", resp.StatusCode)
	}

	if err := common.CacheSet(url, body); err != nil {
		log.Warn().Err(err).Msg("could not cache provider response")
	}

	return body, nil
}

func partitionSymbols(symbols []string, chunkSize int) [][]string {
	chunks := make([][]string, 0, len(symbols)/chunkSize+1)
	for chunkSize < len(symbols) {
		symbols, chunks = symbols[chunkSize:], append(chunks, symbols[0:chunkSize:chunkSize])
	}
	return append(chunks, symbols)
}
