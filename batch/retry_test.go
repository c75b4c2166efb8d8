// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
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
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "dial tcp: lookup failed" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

var _ = Describe("isTransient", func() {
	It("classifies throttling and connection errors as transient", func() {
		Expect(isTransient(errors.New("HTTP request returned invalid status code: 429"))).To(BeTrue())
		Expect(isTransient(errors.New("rate limit exceeded"))).To(BeTrue())
		Expect(isTransient(errors.New("read tcp: connection reset by peer"))).To(BeTrue())
		Expect(isTransient(errors.New("deadlock detected"))).To(BeTrue())
	})

	It("classifies data and logic errors as permanent", func() {
		Expect(isTransient(errors.New("no closing price for symbol"))).To(BeFalse())
		Expect(isTransient(errors.New("column does not exist"))).To(BeFalse())
		Expect(isTransient(nil)).To(BeFalse())
	})

	It("recognizes retryable postgres error classes", func() {
		connFailure := &pgconn.PgError{Code: "08006"}
		Expect(isTransient(fmt.Errorf("query failed: %w", connFailure))).To(BeTrue())

		serialization := &pgconn.PgError{Code: "40001"}
		Expect(isTransient(serialization)).To(BeTrue())

		shutdown := &pgconn.PgError{Code: "57P01"}
		Expect(isTransient(shutdown)).To(BeTrue())

		uniqueViolation := &pgconn.PgError{Code: "23505"}
		Expect(isTransient(uniqueViolation)).To(BeFalse())
	})

	It("recognizes network timeouts", func() {
		Expect(isTransient(fmt.Errorf("fetch: %w", fakeTimeout{}))).To(BeTrue())
	})
})

var _ = Describe("retryPolicy", func() {
	var policy retryPolicy

	BeforeEach(func() {
		policy = retryPolicy{
			maxAttempts:    3,
			initialBackoff: time.Millisecond,
			maxBackoff:     2 * time.Millisecond,
		}
	})

	It("returns immediately on success", func() {
		calls := 0
		outcome := policy.run(context.Background(), "unit", func(ctx context.Context) Outcome {
			calls++
			return Ok()
		})
		Expect(outcome.Kind).To(Equal(OutcomeOK))
		Expect(calls).To(Equal(1))
	})

	It("does not retry a skip", func() {
		calls := 0
		outcome := policy.run(context.Background(), "unit", func(ctx context.Context) Outcome {
			calls++
			return Skipped("nothing to do")
		})
		Expect(outcome.Kind).To(Equal(OutcomeSkipped))
		Expect(calls).To(Equal(1))
	})

	It("retries transient failures until they succeed", func() {
		calls := 0
		outcome := policy.run(context.Background(), "unit", func(ctx context.Context) Outcome {
			calls++
			if calls < 3 {
				return Failed(errors.New("connection reset by peer"))
			}
			return Ok()
		})
		Expect(outcome.Kind).To(Equal(OutcomeOK))
		Expect(calls).To(Equal(3))
	})

	It("gives up on transient failures after maxAttempts", func() {
		calls := 0
		outcome := policy.run(context.Background(), "unit", func(ctx context.Context) Outcome {
			calls++
			return Failed(errors.New("deadlock detected"))
		})
		Expect(outcome.Kind).To(Equal(OutcomeFailed))
		Expect(calls).To(Equal(3))
	})

	It("gives a permanent failure one extra attempt only", func() {
		calls := 0
		outcome := policy.run(context.Background(), "unit", func(ctx context.Context) Outcome {
			calls++
			return Failed(errors.New("column does not exist"))
		})
		Expect(outcome.Kind).To(Equal(OutcomeFailed))
		Expect(outcome.Retryable).To(BeFalse())
		Expect(calls).To(Equal(2))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		policy.initialBackoff = time.Hour
		policy.maxBackoff = time.Hour

		calls := 0
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		outcome := policy.run(ctx, "unit", func(ctx context.Context) Outcome {
			calls++
			return Failed(errors.New("i/o timeout"))
		})
		Expect(outcome.Kind).To(Equal(OutcomeFailed))
		Expect(calls).To(Equal(1))
		Expect(errors.Is(outcome.Err, context.Canceled)).To(BeTrue())
	})
})
