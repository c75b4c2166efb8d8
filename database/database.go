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

package database

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PgxIface is the subset of the pgx pool the pipeline uses; pgxmock
// satisfies it so tests can run without a live database
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

var pool PgxIface

// SetPool replaces the active pool; called by Connect and by tests
func SetPool(myPool PgxIface) {
	pool = myPool
}

// Connect establishes the pgx connection pool from viper's database.url
func Connect(ctx context.Context) error {
	myPool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return err
	}
	if err = myPool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		return err
	}
	SetPool(myPool)
	return nil
}

// Trx begins a new transaction on the active pool. Every batch phase runs in
// its own short-lived transaction; nothing in the pipeline holds a
// transaction across an external provider call.
func Trx(ctx context.Context) (pgx.Tx, error) {
	return pool.Begin(ctx)
}

// Rollback rolls trx back and logs the failure rather than masking the
// original error that triggered the rollback
func Rollback(ctx context.Context, trx pgx.Tx) {
	if err := trx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		log.Error().Stack().Err(err).Msg("could not rollback transaction")
	}
}
