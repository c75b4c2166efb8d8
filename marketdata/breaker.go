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
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardedProvider wraps a Provider with a token-bucket rate limiter and a
// circuit breaker. An open breaker reads as a provider failure, which makes
// the chain move on to the next provider instead of hammering a sick one.
type GuardedProvider struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewGuardedProvider(inner Provider, rps float64, burst int) *GuardedProvider {
	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("Provider", name).Str("From", from.String()).Str("To", to.String()).Msg("provider breaker state change")
		},
	}

	return &GuardedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (guard *GuardedProvider) Name() string {
	return guard.inner.Name()
}

func (guard *GuardedProvider) HistoricalPrices(ctx context.Context, symbols []string, begin, end time.Time) (map[string][]*Bar, error) {
	if err := guard.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := guard.breaker.Execute(func() (interface{}, error) {
		return guard.inner.HistoricalPrices(ctx, symbols, begin, end)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string][]*Bar), nil
}

func (guard *GuardedProvider) CompanyProfiles(ctx context.Context, symbols []string) (map[string]*CompanyProfile, error) {
	if err := guard.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := guard.breaker.Execute(func() (interface{}, error) {
		return guard.inner.CompanyProfiles(ctx, symbols)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]*CompanyProfile), nil
}
