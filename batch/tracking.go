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

package batch

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/quantfolio/risk-api/common"
	"github.com/quantfolio/risk-api/database"
)

// RunState is the lifecycle of one calculation date's batch run
type RunState string

const (
	RunPending    RunState = "PENDING"
	RunInProgress RunState = "IN_PROGRESS"
	RunComplete   RunState = "COMPLETE"
	RunPartial    RunState = "PARTIAL"
	RunFailed     RunState = "FAILED"
)

// ErrNoWatermark is the expected-empty result before the first completed run
var ErrNoWatermark = errors.New("no completed batch run exists")

// PhaseRecord captures how one phase fared; the set of records is stored as
// a JSON document on the run row
type PhaseRecord struct {
	Phase    string        `json:"phase"`
	State    RunState      `json:"state"`
	Duration time.Duration `json:"duration_ns"`
	Units    int           `json:"units"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Error    string        `json:"error,omitempty"`
}

// Run is one row of batch_runs: the durable record of a calculation date
type Run struct {
	Date      time.Time
	State     RunState
	StartedAt time.Time
	EndedAt   *time.Time
	Phases    []PhaseRecord
}

// Tracker persists batch run progress so restarts and backfills can see
// which dates already completed
type Tracker struct{}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin records the run as IN_PROGRESS; re-running a date overwrites the
// previous row so retried dates start from a clean record
func (tracker *Tracker) Begin(ctx context.Context, date time.Time) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	_, err = trx.Exec(ctx,
		`INSERT INTO batch_runs ("event_date", "state", "started_at", "phases")
		 VALUES ($1, $2, $3, '[]')
		 ON CONFLICT ON CONSTRAINT batch_runs_pkey
		 DO UPDATE SET state = EXCLUDED.state, started_at = EXCLUDED.started_at,
		   ended_at = NULL, phases = '[]'`,
		common.MidnightEastern(date), RunInProgress, time.Now())
	if err != nil {
		database.Rollback(ctx, trx)
		return err
	}

	return trx.Commit(ctx)
}

// Finish records the terminal state and the per-phase breakdown
func (tracker *Tracker) Finish(ctx context.Context, date time.Time, state RunState, phases []PhaseRecord) error {
	doc, err := json.Marshal(phases)
	if err != nil {
		return err
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	_, err = trx.Exec(ctx,
		`UPDATE batch_runs SET state = $1, ended_at = $2, phases = $3
		 WHERE event_date = $4`,
		state, time.Now(), doc, common.MidnightEastern(date))
	if err != nil {
		database.Rollback(ctx, trx)
		return err
	}

	return trx.Commit(ctx)
}

// Watermark returns the latest calculation date that finished COMPLETE or
// PARTIAL. PARTIAL advances the watermark: soft-phase failures must not
// wedge the pipeline into refetching good dates forever.
func (tracker *Tracker) Watermark(ctx context.Context) (time.Time, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return time.Time{}, err
	}

	var watermark time.Time
	err = trx.QueryRow(ctx,
		`SELECT event_date FROM batch_runs
		 WHERE state IN ($1, $2)
		 ORDER BY event_date DESC LIMIT 1`,
		RunComplete, RunPartial).Scan(&watermark)
	if err != nil {
		database.Rollback(ctx, trx)
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNoWatermark
		}
		return time.Time{}, err
	}

	if err := trx.Commit(ctx); err != nil {
		return time.Time{}, err
	}
	return watermark, nil
}

// RunFor returns the stored record for one calculation date
func (tracker *Tracker) RunFor(ctx context.Context, date time.Time) (*Run, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		return nil, err
	}

	run := &Run{Date: common.MidnightEastern(date)}
	var doc []byte
	err = trx.QueryRow(ctx,
		`SELECT state, started_at, ended_at, phases FROM batch_runs
		 WHERE event_date = $1`,
		run.Date).Scan(&run.State, &run.StartedAt, &run.EndedAt, &doc)
	if err != nil {
		database.Rollback(ctx, trx)
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}

	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &run.Phases); err != nil {
			return nil, err
		}
	}
	return run, nil
}
