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
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// transientSignatures are error-text markers for failures that resolve on
// their own: throttling, lock contention, flaky connections
var transientSignatures = []string{
	"rate limit",
	"too many requests",
	"deadlock",
	"lock timeout",
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"temporarily unavailable",
	"timeout",
	"429",
	"502",
	"503",
}

// pg error classes 40 (rollback) and 57 (operator intervention) plus the
// connection-failure class 08 are worth retrying
var transientPgClasses = map[string]bool{
	"08": true,
	"40": true,
	"57": true,
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		if transientPgClasses[pgErr.Code[:2]] {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, signature := range transientSignatures {
		if strings.Contains(msg, signature) {
			return true
		}
	}

	return false
}

type retryPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newRetryPolicy() retryPolicy {
	maxAttempts := viper.GetInt("batch.max_attempts")
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	initial := viper.GetDuration("batch.backoff_initial")
	if initial == 0 {
		initial = 2 * time.Second
	}
	max := viper.GetDuration("batch.backoff_max")
	if max == 0 {
		max = 60 * time.Second
	}
	return retryPolicy{maxAttempts: maxAttempts, initialBackoff: initial, maxBackoff: max}
}

// run executes fn with capped exponential backoff. Transient failures retry
// up to maxAttempts; permanent failures get exactly one additional attempt
// in case the classification is wrong, then surface.
func (policy retryPolicy) run(ctx context.Context, name string, fn func(ctx context.Context) Outcome) Outcome {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.initialBackoff
	expo.MaxInterval = policy.maxBackoff
	expo.MaxElapsedTime = 0
	wait := backoff.WithContext(expo, ctx)

	var outcome Outcome
	for attempt := 1; ; attempt++ {
		outcome = fn(ctx)
		if outcome.Kind != OutcomeFailed {
			return outcome
		}

		limit := policy.maxAttempts
		if !outcome.Retryable {
			limit = 2
		}
		if attempt >= limit {
			return outcome
		}

		next := wait.NextBackOff()
		if next == backoff.Stop {
			return outcome
		}

		log.Warn().
			Err(outcome.Err).
			Str("Unit", name).
			Int("Attempt", attempt).
			Bool("Retryable", outcome.Retryable).
			Dur("Backoff", next).
			Msg("unit of work failed; retrying")

		select {
		case <-ctx.Done():
			return Failed(ctx.Err())
		case <-time.After(next):
		}
	}
}
