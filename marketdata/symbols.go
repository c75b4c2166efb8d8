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
	"regexp"
	"sort"
	"strings"
)

// BenchmarkSymbols are always part of the collection universe: the market
// benchmark plus the six style-factor ETFs the regression engine fits
// against
var BenchmarkSymbols = []string{"SPY", "VTV", "VUG", "MTUM", "QUAL", "IWM", "SPLV"}

// syntheticPrefix marks private/illiquid placeholder symbols created for
// positions that have no public market data
const syntheticPrefix = "PVT-"

var validTicker = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)

// IsSynthetic reports whether symbol is a private-fund placeholder
func IsSynthetic(symbol string) bool {
	return strings.HasPrefix(symbol, syntheticPrefix)
}

// IsBenchmark reports whether symbol is one of the fixed benchmark ETFs
func IsBenchmark(symbol string) bool {
	for _, etf := range BenchmarkSymbols {
		if symbol == etf {
			return true
		}
	}
	return false
}

// IsValidTicker applies a lightweight shape check so provider quota is not
// spent on tickers that cannot exist
func IsValidTicker(symbol string) bool {
	return validTicker.MatchString(symbol)
}

// BuildUniverse merges position symbols with the benchmark ETFs, uppercases,
// de-duplicates, and drops synthetic or malformed tickers. The result is
// sorted so coverage queries are deterministic.
func BuildUniverse(positionSymbols []string) []string {
	seen := make(map[string]bool, len(positionSymbols)+len(BenchmarkSymbols))

	for _, symbol := range positionSymbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" || IsSynthetic(symbol) || !IsValidTicker(symbol) {
			continue
		}
		seen[symbol] = true
	}
	for _, symbol := range BenchmarkSymbols {
		seen[symbol] = true
	}

	universe := make([]string, 0, len(seen))
	for symbol := range seen {
		universe = append(universe, symbol)
	}
	sort.Strings(universe)
	return universe
}

// ProfileCandidates filters universe down to symbols eligible for company
// profile refresh: not synthetic, not a benchmark/fund ETF
func ProfileCandidates(universe []string) []string {
	candidates := make([]string, 0, len(universe))
	for _, symbol := range universe {
		if IsSynthetic(symbol) || IsBenchmark(symbol) {
			continue
		}
		candidates = append(candidates, symbol)
	}
	return candidates
}
