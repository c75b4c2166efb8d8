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
)

// Provider is an external market-data source. Both methods may return a
// partial map; a missing symbol means "this provider didn't supply it" and
// is not an error. Only a wholesale failure (auth, network, rate limit that
// the breaker didn't absorb) is returned as err.
type Provider interface {
	Name() string
	HistoricalPrices(ctx context.Context, symbols []string, begin, end time.Time) (map[string][]*Bar, error)
	CompanyProfiles(ctx context.Context, symbols []string) (map[string]*CompanyProfile, error)
}

// Chain tries each provider in order; every provider only sees the symbols
// all previous providers failed to return. A provider error is logged and
// skipped rather than aborting the whole fetch.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// HistoricalPrices fans the symbol list across the provider chain and
// returns the union of all bars plus the list of symbols no provider
// supplied
func (chain *Chain) HistoricalPrices(ctx context.Context, symbols []string, begin, end time.Time) (map[string][]*Bar, []string) {
	remaining := symbols
	merged := make(map[string][]*Bar, len(symbols))

	for _, provider := range chain.providers {
		if len(remaining) == 0 {
			break
		}

		subLog := log.With().Str("Provider", provider.Name()).Int("NumSymbols", len(remaining)).Logger()
		bars, err := provider.HistoricalPrices(ctx, remaining, begin, end)
		if err != nil {
			subLog.Warn().Err(err).Msg("provider failed; trying next in chain")
			continue
		}

		next := make([]string, 0, len(remaining))
		for _, symbol := range remaining {
			if got, ok := bars[symbol]; ok && len(got) > 0 {
				merged[symbol] = append(merged[symbol], got...)
			} else {
				next = append(next, symbol)
			}
		}

		subLog.Debug().Int("NumReturned", len(remaining)-len(next)).Msg("provider fetch complete")
		remaining = next
	}

	return merged, remaining
}

// CompanyProfiles behaves like HistoricalPrices for reference profiles
func (chain *Chain) CompanyProfiles(ctx context.Context, symbols []string) (map[string]*CompanyProfile, []string) {
	remaining := symbols
	merged := make(map[string]*CompanyProfile, len(symbols))

	for _, provider := range chain.providers {
		if len(remaining) == 0 {
			break
		}

		subLog := log.With().Str("Provider", provider.Name()).Int("NumSymbols", len(remaining)).Logger()
		profiles, err := provider.CompanyProfiles(ctx, remaining)
		if err != nil {
			subLog.Warn().Err(err).Msg("provider failed; trying next in chain")
			continue
		}

		next := make([]string, 0, len(remaining))
		for _, symbol := range remaining {
			if profile, ok := profiles[symbol]; ok && profile != nil {
				merged[symbol] = profile
			} else {
				next = append(next, symbol)
			}
		}
		remaining = next
	}

	return merged, remaining
}
