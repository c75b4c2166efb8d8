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

package portfolio

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/database"
	"github.com/rs/zerolog/log"
)

// Store reads portfolio, position, and snapshot state. The pipeline is the
// only writer of snapshots, factor exposures, and the position market-value
// fields; the user-facing API owns everything else.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Status: pgtype.Present}
}

func pgUUIDs(ids []uuid.UUID) []pgtype.UUID {
	out := make([]pgtype.UUID, len(ids))
	for ii, id := range ids {
		out[ii] = pgUUID(id)
	}
	return out
}

// ActivePortfolios returns non-deleted portfolios, optionally restricted to
// ids, ordered by id for deterministic processing order
func (store *Store) ActivePortfolios(ctx context.Context, ids []uuid.UUID) ([]*Portfolio, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	sql := `SELECT id, user_id, name, starting_balance, equity_balance, active
	        FROM portfolios WHERE active = true`
	if len(ids) > 0 {
		rows, err = trx.Query(ctx, sql+` AND id = ANY($1) ORDER BY id`, pgUUIDs(ids))
	} else {
		rows, err = trx.Query(ctx, sql+` ORDER BY id`)
	}
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	portfolios := []*Portfolio{}
	for rows.Next() {
		var id pgtype.UUID
		p := &Portfolio{}
		if err := rows.Scan(&id, &p.UserID, &p.Name, &p.StartingBalance, &p.EquityBalance, &p.Active); err != nil {
			database.Rollback(ctx, trx)
			return nil, err
		}
		p.ID = uuid.UUID(id.Bytes)
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return portfolios, nil
}

// ActivePositions returns positions open as-of date: entered on or before
// date, not soft-deleted, and not exited strictly before date
func (store *Store) ActivePositions(ctx context.Context, portfolioID uuid.UUID, date time.Time) ([]*Position, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	date = common.MidnightEastern(date)
	rows, err := trx.Query(ctx,
		`SELECT id, portfolio_id, symbol, quantity, entry_price, entry_date, exit_date,
		        investment_class, underlying, strike, expiration, sector,
		        last_price, market_value
		 FROM positions
		 WHERE portfolio_id = $1
		   AND entry_date <= $2
		   AND deleted_at IS NULL
		   AND (exit_date IS NULL OR exit_date >= $2)
		 ORDER BY symbol`,
		pgUUID(portfolioID), date)
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	positions, err := scanPositions(rows)
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return positions, nil
}

func scanPositions(rows pgx.Rows) ([]*Position, error) {
	positions := []*Position{}
	for rows.Next() {
		var id, pid pgtype.UUID
		var underlying, sector pgtype.Text
		var strike, lastPrice, marketValue pgtype.Float8
		pos := &Position{}
		err := rows.Scan(&id, &pid, &pos.Symbol, &pos.Quantity, &pos.EntryPrice,
			&pos.EntryDate, &pos.ExitDate, &pos.Class, &underlying, &strike,
			&pos.Expiration, &sector, &lastPrice, &marketValue)
		if err != nil {
			return nil, err
		}
		pos.ID = uuid.UUID(id.Bytes)
		pos.PortfolioID = uuid.UUID(pid.Bytes)
		if underlying.Status == pgtype.Present {
			pos.Underlying = underlying.String
		}
		if sector.Status == pgtype.Present {
			pos.Sector = sector.String
		}
		if strike.Status == pgtype.Present {
			pos.Strike = strike.Float
		}
		if lastPrice.Status == pgtype.Present {
			pos.LastPrice = lastPrice.Float
		}
		if marketValue.Status == pgtype.Present {
			pos.MarketValue = marketValue.Float
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}

// OpenPositionSymbols returns the distinct price symbols of all open,
// non-synthetic positions across the given portfolios (all active
// portfolios when ids is empty); option positions contribute their
// underlying symbol
func (store *Store) OpenPositionSymbols(ctx context.Context, ids []uuid.UUID, date time.Time) ([]string, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	date = common.MidnightEastern(date)
	sql := `SELECT DISTINCT
	          CASE WHEN p.investment_class = 'option' AND p.underlying IS NOT NULL AND p.underlying <> ''
	               THEN p.underlying ELSE p.symbol END
	        FROM positions p
	        JOIN portfolios pf ON pf.id = p.portfolio_id
	        WHERE pf.active = true
	          AND p.deleted_at IS NULL
	          AND p.entry_date <= $1
	          AND (p.exit_date IS NULL OR p.exit_date >= $1)
	          AND p.investment_class <> 'private'`

	var rows pgx.Rows
	if len(ids) > 0 {
		rows, err = trx.Query(ctx, sql+` AND p.portfolio_id = ANY($2)`, date, pgUUIDs(ids))
	} else {
		rows, err = trx.Query(ctx, sql, date)
	}
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	symbols := []string{}
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			database.Rollback(ctx, trx)
			return nil, err
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return symbols, nil
}

// LatestSnapshotBefore returns the most recent snapshot strictly before
// date; ErrNoSnapshot when the portfolio has never been processed
func (store *Store) LatestSnapshotBefore(ctx context.Context, portfolioID uuid.UUID, date time.Time) (*Snapshot, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{PortfolioID: portfolioID}
	var id pgtype.UUID
	err = trx.QueryRow(ctx,
		`SELECT portfolio_id, event_date, equity_balance, daily_pnl, unrealized_pnl,
		        realized_pnl, capital_flow, daily_return, cumulative_pnl,
		        cumulative_realized, cumulative_flow, gross_exposure, net_exposure,
		        long_exposure, short_exposure
		 FROM portfolio_snapshots
		 WHERE portfolio_id = $1 AND event_date < $2
		 ORDER BY event_date DESC LIMIT 1`,
		pgUUID(portfolioID), common.MidnightEastern(date)).Scan(
		&id, &snap.Date, &snap.EquityBalance, &snap.DailyPnL, &snap.UnrealizedPnL,
		&snap.RealizedPnL, &snap.CapitalFlow, &snap.DailyReturn, &snap.CumulativePnL,
		&snap.CumulativeRealized, &snap.CumulativeFlow, &snap.GrossExposure,
		&snap.NetExposure, &snap.LongExposure, &snap.ShortExposure)
	if err != nil {
		database.Rollback(ctx, trx)
		if err == pgx.ErrNoRows {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

// SnapshotOn returns the snapshot for exactly (portfolioID, date);
// ErrNoSnapshot when absent. The risk phase uses this to verify the P&L
// phase ran before stress testing.
func (store *Store) SnapshotOn(ctx context.Context, portfolioID uuid.UUID, date time.Time) (*Snapshot, error) {
	next := common.MidnightEastern(date).AddDate(0, 0, 1)
	snap, err := store.LatestSnapshotBefore(ctx, portfolioID, next)
	if err != nil {
		return nil, err
	}
	if !snap.Date.Equal(common.MidnightEastern(date)) {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// SaveSnapshot persists the snapshot and rolls the portfolio's live equity
// forward in a single transaction. A failure here must propagate: a silently
// missed equity write corrupts every subsequent day's rollforward.
func (store *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	tag, err := trx.Exec(ctx,
		`UPDATE portfolios SET equity_balance = $1 WHERE id = $2`,
		snap.EquityBalance, pgUUID(snap.PortfolioID))
	if err != nil {
		database.Rollback(ctx, trx)
		log.Error().Stack().Err(err).Str("PortfolioID", snap.PortfolioID.String()).Msg("could not update portfolio equity")
		return err
	}
	if tag.RowsAffected() == 0 {
		database.Rollback(ctx, trx)
		return ErrPortfolioNotFound
	}

	_, err = trx.Exec(ctx, `INSERT INTO portfolio_snapshots (
		portfolio_id,
		event_date,
		equity_balance,
		daily_pnl,
		unrealized_pnl,
		realized_pnl,
		capital_flow,
		daily_return,
		cumulative_pnl,
		cumulative_realized,
		cumulative_flow,
		gross_exposure,
		net_exposure,
		long_exposure,
		short_exposure
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
	) ON CONFLICT ON CONSTRAINT portfolio_snapshots_pkey
	DO UPDATE SET
		equity_balance = EXCLUDED.equity_balance,
		daily_pnl = EXCLUDED.daily_pnl,
		unrealized_pnl = EXCLUDED.unrealized_pnl,
		realized_pnl = EXCLUDED.realized_pnl,
		capital_flow = EXCLUDED.capital_flow,
		daily_return = EXCLUDED.daily_return,
		cumulative_pnl = EXCLUDED.cumulative_pnl,
		cumulative_realized = EXCLUDED.cumulative_realized,
		cumulative_flow = EXCLUDED.cumulative_flow,
		gross_exposure = EXCLUDED.gross_exposure,
		net_exposure = EXCLUDED.net_exposure,
		long_exposure = EXCLUDED.long_exposure,
		short_exposure = EXCLUDED.short_exposure`,
		pgUUID(snap.PortfolioID), common.MidnightEastern(snap.Date), snap.EquityBalance,
		snap.DailyPnL, snap.UnrealizedPnL, snap.RealizedPnL, snap.CapitalFlow,
		snap.DailyReturn, snap.CumulativePnL, snap.CumulativeRealized,
		snap.CumulativeFlow, snap.GrossExposure, snap.NetExposure,
		snap.LongExposure, snap.ShortExposure)
	if err != nil {
		database.Rollback(ctx, trx)
		log.Error().Stack().Err(err).Str("PortfolioID", snap.PortfolioID.String()).Time("Date", snap.Date).Msg("could not upsert snapshot")
		return err
	}

	return trx.Commit(ctx)
}

// RealizedPnLOn sums realized trade events dated exactly on date
func (store *Store) RealizedPnLOn(ctx context.Context, portfolioID uuid.UUID, date time.Time) (float64, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return 0, err
	}

	var realized float64
	err = trx.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM realized_trades
		 WHERE portfolio_id = $1 AND trade_date = $2`,
		pgUUID(portfolioID), common.MidnightEastern(date)).Scan(&realized)
	if err != nil {
		database.Rollback(ctx, trx)
		return 0, err
	}

	if err := trx.Commit(ctx); err != nil {
		return 0, err
	}
	return realized, nil
}

// CapitalFlowOn sums contributions minus withdrawals dated exactly on date
func (store *Store) CapitalFlowOn(ctx context.Context, portfolioID uuid.UUID, date time.Time) (float64, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return 0, err
	}

	var flow float64
	err = trx.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN flow_type = 'withdrawal' THEN -amount ELSE amount END), 0)
		 FROM capital_flows
		 WHERE portfolio_id = $1 AND event_date = $2`,
		pgUUID(portfolioID), common.MidnightEastern(date)).Scan(&flow)
	if err != nil {
		database.Rollback(ctx, trx)
		return 0, err
	}

	if err := trx.Commit(ctx); err != nil {
		return 0, err
	}
	return flow, nil
}

// UpdatePositionValue writes the pipeline-owned market value fields
func (store *Store) UpdatePositionValue(ctx context.Context, positionID uuid.UUID, lastPrice, marketValue float64) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	_, err = trx.Exec(ctx,
		`UPDATE positions SET last_price = $1, market_value = $2 WHERE id = $3`,
		lastPrice, marketValue, pgUUID(positionID))
	if err != nil {
		database.Rollback(ctx, trx)
		return err
	}

	return trx.Commit(ctx)
}

// PositionsMissingSector returns open public-equity positions without a
// sector tag
func (store *Store) PositionsMissingSector(ctx context.Context) ([]*Position, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := trx.Query(ctx,
		`SELECT id, portfolio_id, symbol, quantity, entry_price, entry_date, exit_date,
		        investment_class, underlying, strike, expiration, sector,
		        last_price, market_value
		 FROM positions
		 WHERE deleted_at IS NULL
		   AND investment_class = 'public_equity'
		   AND (sector IS NULL OR sector = '')`)
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	positions, err := scanPositions(rows)
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return positions, nil
}

// SetPositionSector re-applies a sector tag from company reference data
func (store *Store) SetPositionSector(ctx context.Context, positionID uuid.UUID, sector string) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	_, err = trx.Exec(ctx,
		`UPDATE positions SET sector = $1 WHERE id = $2`,
		sector, pgUUID(positionID))
	if err != nil {
		database.Rollback(ctx, trx)
		return err
	}

	return trx.Commit(ctx)
}

// UpsertFactorExposures overwrites portfolio-level betas for their
// (portfolio, factor, date) keys
func (store *Store) UpsertFactorExposures(ctx context.Context, exposures []*FactorExposure) error {
	if len(exposures) == 0 {
		return nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	sql := `INSERT INTO portfolio_factor_exposures (
		portfolio_id, factor, event_date, beta, r2, method, alpha
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7
	) ON CONFLICT ON CONSTRAINT portfolio_factor_exposures_pkey
	DO UPDATE SET
		beta = EXCLUDED.beta,
		r2 = EXCLUDED.r2,
		method = EXCLUDED.method,
		alpha = EXCLUDED.alpha`

	for _, exp := range exposures {
		_, err = trx.Exec(ctx, sql, pgUUID(exp.PortfolioID), exp.Factor,
			common.MidnightEastern(exp.Date), exp.Beta, exp.R2, exp.Method, exp.Alpha)
		if err != nil {
			database.Rollback(ctx, trx)
			return err
		}
	}

	return trx.Commit(ctx)
}

// FactorExposuresOn returns the portfolio-level betas stored for one date
func (store *Store) FactorExposuresOn(ctx context.Context, portfolioID uuid.UUID, date time.Time) ([]*FactorExposure, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := trx.Query(ctx,
		`SELECT factor, beta, r2, method, alpha FROM portfolio_factor_exposures
		 WHERE portfolio_id = $1 AND event_date = $2
		 ORDER BY factor`,
		pgUUID(portfolioID), common.MidnightEastern(date))
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	var exposures []*FactorExposure
	for rows.Next() {
		exp := &FactorExposure{PortfolioID: portfolioID, Date: common.MidnightEastern(date)}
		if err := rows.Scan(&exp.Factor, &exp.Beta, &exp.R2, &exp.Method, &exp.Alpha); err != nil {
			database.Rollback(ctx, trx)
			return nil, err
		}
		exposures = append(exposures, exp)
	}
	if err := rows.Err(); err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return exposures, nil
}

// UpsertPositionFactorExposures overwrites position-level betas for their
// (position, factor, date) keys
func (store *Store) UpsertPositionFactorExposures(ctx context.Context, exposures []*PositionFactorExposure) error {
	if len(exposures) == 0 {
		return nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	sql := `INSERT INTO position_factor_exposures (
		position_id, factor, event_date, beta, r2, method, alpha
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7
	) ON CONFLICT ON CONSTRAINT position_factor_exposures_pkey
	DO UPDATE SET
		beta = EXCLUDED.beta,
		r2 = EXCLUDED.r2,
		method = EXCLUDED.method,
		alpha = EXCLUDED.alpha`

	for _, exp := range exposures {
		_, err = trx.Exec(ctx, sql, pgUUID(exp.PositionID), exp.Factor,
			common.MidnightEastern(exp.Date), exp.Beta, exp.R2, exp.Method, exp.Alpha)
		if err != nil {
			database.Rollback(ctx, trx)
			return err
		}
	}

	return trx.Commit(ctx)
}

// UpsertStressResults overwrites scenario impacts for their
// (portfolio, scenario, date) keys
func (store *Store) UpsertStressResults(ctx context.Context, results []*StressResult) error {
	if len(results) == 0 {
		return nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	sql := `INSERT INTO portfolio_stress_results (
		portfolio_id, scenario, event_date, impact_pct, impact_usd
	) VALUES (
		$1, $2, $3, $4, $5
	) ON CONFLICT ON CONSTRAINT portfolio_stress_results_pkey
	DO UPDATE SET
		impact_pct = EXCLUDED.impact_pct,
		impact_usd = EXCLUDED.impact_usd`

	for _, result := range results {
		_, err = trx.Exec(ctx, sql, pgUUID(result.PortfolioID), result.Scenario,
			common.MidnightEastern(result.Date), result.ImpactPct, result.ImpactUSD)
		if err != nil {
			database.Rollback(ctx, trx)
			return err
		}
	}

	return trx.Commit(ctx)
}

// SaveCorrelationMatrix stores the position correlation matrix for one
// (portfolio, date) as a JSON document; recomputes overwrite
func (store *Store) SaveCorrelationMatrix(ctx context.Context, portfolioID uuid.UUID, date time.Time, symbols []string, values [][]float64) error {
	doc, err := json.Marshal(struct {
		Symbols []string    `json:"symbols"`
		Values  [][]float64 `json:"values"`
	}{Symbols: symbols, Values: values})
	if err != nil {
		return err
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	_, err = trx.Exec(ctx,
		`INSERT INTO portfolio_correlations (portfolio_id, event_date, matrix)
		 VALUES ($1, $2, $3)
		 ON CONFLICT ON CONSTRAINT portfolio_correlations_pkey
		 DO UPDATE SET matrix = EXCLUDED.matrix`,
		pgUUID(portfolioID), common.MidnightEastern(date), doc)
	if err != nil {
		database.Rollback(ctx, trx)
		return err
	}

	return trx.Commit(ctx)
}

// EarliestEntryDate returns the earliest position entry date across the
// given portfolios (all active when ids is empty); used to seed the backfill
// watermark on first run
func (store *Store) EarliestEntryDate(ctx context.Context, ids []uuid.UUID) (time.Time, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return time.Time{}, err
	}

	sql := `SELECT MIN(p.entry_date) FROM positions p
	        JOIN portfolios pf ON pf.id = p.portfolio_id
	        WHERE pf.active = true AND p.deleted_at IS NULL`

	var earliest pgtype.Timestamptz
	if len(ids) > 0 {
		err = trx.QueryRow(ctx, sql+` AND p.portfolio_id = ANY($1)`, pgUUIDs(ids)).Scan(&earliest)
	} else {
		err = trx.QueryRow(ctx, sql).Scan(&earliest)
	}
	if err != nil {
		database.Rollback(ctx, trx)
		return time.Time{}, err
	}

	if err := trx.Commit(ctx); err != nil {
		return time.Time{}, err
	}

	if earliest.Status != pgtype.Present {
		return time.Time{}, ErrNoPositions
	}
	return earliest.Time, nil
}
