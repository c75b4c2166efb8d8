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
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/database"
	"github.com/rs/zerolog/log"
)

// Store reads and writes the market-data tables. All bar writes go through
// UpsertBars so replayed collections converge instead of duplicating rows.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// UpsertBars writes bars keyed on (symbol, event_date); refetching a date
// overwrites the previous row
func (store *Store) UpsertBars(ctx context.Context, bars []*Bar) error {
	if len(bars) == 0 {
		return nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	sql := `INSERT INTO market_data (
		symbol,
		event_date,
		open,
		high,
		low,
		close,
		volume,
		source
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8
	) ON CONFLICT ON CONSTRAINT market_data_pkey
	DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		source = EXCLUDED.source`

	for _, bar := range bars {
		if _, err := trx.Exec(ctx, sql, bar.Symbol, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.Source); err != nil {
			database.Rollback(ctx, trx)
			log.Error().Stack().Err(err).Str("Symbol", bar.Symbol).Time("Date", bar.Date).Msg("could not upsert bar")
			return err
		}
	}

	return trx.Commit(ctx)
}

// UpsertProfiles writes company reference profiles keyed on symbol
func (store *Store) UpsertProfiles(ctx context.Context, profiles []*CompanyProfile) error {
	if len(profiles) == 0 {
		return nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	sql := `INSERT INTO company_profiles (
		symbol,
		name,
		sector,
		industry,
		description,
		updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6
	) ON CONFLICT ON CONSTRAINT company_profiles_pkey
	DO UPDATE SET
		name = EXCLUDED.name,
		sector = EXCLUDED.sector,
		industry = EXCLUDED.industry,
		description = EXCLUDED.description,
		updated_at = EXCLUDED.updated_at`

	for _, profile := range profiles {
		if _, err := trx.Exec(ctx, sql, profile.Symbol, profile.Name, profile.Sector, profile.Industry, profile.Description, profile.UpdatedAt); err != nil {
			database.Rollback(ctx, trx)
			log.Error().Stack().Err(err).Str("Symbol", profile.Symbol).Msg("could not upsert profile")
			return err
		}
	}

	return trx.Commit(ctx)
}

// CloseOn returns the closing price for symbol on exactly date. ErrNoPrice
// covers only an absent row; query failures propagate as-is so callers do
// not mistake an outage for a missing price.
func (store *Store) CloseOn(ctx context.Context, symbol string, date time.Time) (float64, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return 0, err
	}

	var close float64
	err = trx.QueryRow(ctx,
		`SELECT close FROM market_data WHERE symbol = $1 AND event_date = $2`,
		symbol, common.MidnightEastern(date)).Scan(&close)
	if err != nil {
		database.Rollback(ctx, trx)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoPrice
		}
		return 0, err
	}

	if err := trx.Commit(ctx); err != nil {
		return 0, err
	}
	return close, nil
}

// CloseOnOrBefore returns the most recent close for symbol on or before date,
// searching back at most lookbackDays calendar days. ErrNoPrice is the
// expected-empty result when nothing prints within the window.
func (store *Store) CloseOnOrBefore(ctx context.Context, symbol string, date time.Time, lookbackDays int) (float64, time.Time, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}

	date = common.MidnightEastern(date)
	earliest := date.AddDate(0, 0, -lookbackDays)

	var close float64
	var forDate time.Time
	err = trx.QueryRow(ctx,
		`SELECT close, event_date FROM market_data
		 WHERE symbol = $1 AND event_date <= $2 AND event_date >= $3
		 ORDER BY event_date DESC LIMIT 1`,
		symbol, date, earliest).Scan(&close, &forDate)
	if err != nil {
		database.Rollback(ctx, trx)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, time.Time{}, ErrNoPrice
		}
		return 0, time.Time{}, err
	}

	if err := trx.Commit(ctx); err != nil {
		return 0, time.Time{}, err
	}
	return close, forDate, nil
}

// CloseSeries returns symbol's (date, close) observations in [begin, end]
// ascending by date
func (store *Store) CloseSeries(ctx context.Context, symbol string, begin, end time.Time) ([]time.Time, []float64, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, nil, err
	}

	rows, err := trx.Query(ctx,
		`SELECT event_date, close FROM market_data
		 WHERE symbol = $1 AND event_date >= $2 AND event_date <= $3
		 ORDER BY event_date ASC`,
		symbol, common.MidnightEastern(begin), common.MidnightEastern(end))
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, nil, err
	}

	dates := []time.Time{}
	closes := []float64{}
	for rows.Next() {
		var dt time.Time
		var close float64
		if err := rows.Scan(&dt, &close); err != nil {
			database.Rollback(ctx, trx)
			return nil, nil, err
		}
		dates = append(dates, dt)
		closes = append(closes, close)
	}
	if err := rows.Err(); err != nil {
		database.Rollback(ctx, trx)
		return nil, nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return dates, closes, nil
}

// CoverageOn returns the fraction of symbols with a bar on date
func (store *Store) CoverageOn(ctx context.Context, symbols []string, date time.Time) (float64, error) {
	if len(symbols) == 0 {
		return 0, ErrEmptyUniverse
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = trx.QueryRow(ctx,
		`SELECT count(DISTINCT symbol) FROM market_data
		 WHERE symbol = ANY($1) AND event_date = $2`,
		symbols, common.MidnightEastern(date)).Scan(&count)
	if err != nil {
		database.Rollback(ctx, trx)
		return 0, err
	}

	if err := trx.Commit(ctx); err != nil {
		return 0, err
	}
	return float64(count) / float64(len(symbols)), nil
}

// CoverageByDate returns, for each date in [begin, end] that has any data,
// the fraction of symbols covered; dates ascending
func (store *Store) CoverageByDate(ctx context.Context, symbols []string, begin, end time.Time) (map[time.Time]float64, error) {
	if len(symbols) == 0 {
		return nil, ErrEmptyUniverse
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := trx.Query(ctx,
		`SELECT event_date, count(DISTINCT symbol) FROM market_data
		 WHERE symbol = ANY($1) AND event_date >= $2 AND event_date <= $3
		 GROUP BY event_date ORDER BY event_date ASC`,
		symbols, common.MidnightEastern(begin), common.MidnightEastern(end))
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	coverage := make(map[time.Time]float64)
	for rows.Next() {
		var dt time.Time
		var count int
		if err := rows.Scan(&dt, &count); err != nil {
			database.Rollback(ctx, trx)
			return nil, err
		}
		coverage[dt] = float64(count) / float64(len(symbols))
	}
	if err := rows.Err(); err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return coverage, nil
}

// StaleProfileSymbols filters symbols down to those whose company profile is
// missing or older than olderThan
func (store *Store) StaleProfileSymbols(ctx context.Context, symbols []string, olderThan time.Time) ([]string, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := trx.Query(ctx,
		`SELECT symbol FROM company_profiles WHERE symbol = ANY($1) AND updated_at >= $2`,
		symbols, olderThan)
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	fresh := make(map[string]bool, len(symbols))
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			database.Rollback(ctx, trx)
			return nil, err
		}
		fresh[symbol] = true
	}
	if err := rows.Err(); err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}

	stale := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if !fresh[symbol] {
			stale = append(stale, symbol)
		}
	}
	return stale, nil
}

// SectorForSymbols returns symbol -> sector for symbols with a profile
func (store *Store) SectorForSymbols(ctx context.Context, symbols []string) (map[string]string, error) {
	if len(symbols) == 0 {
		return map[string]string{}, nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := trx.Query(ctx,
		`SELECT symbol, sector FROM company_profiles WHERE symbol = ANY($1) AND sector <> ''`,
		symbols)
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	sectors := make(map[string]string)
	for rows.Next() {
		var symbol, sector string
		if err := rows.Scan(&symbol, &sector); err != nil {
			database.Rollback(ctx, trx)
			return nil, err
		}
		sectors[symbol] = sector
	}
	if err := rows.Err(); err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return sectors, nil
}
