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

package factors

// Factor is one systematic style/risk factor proxied by an ETF
type Factor struct {
	Name string
	ETF  string
}

// StyleFactors are the six non-market factors the ridge regression
// decomposes position returns against. The ETF proxies are strongly
// collinear, hence the L2 penalty.
var StyleFactors = []Factor{
	{Name: "value", ETF: "VTV"},
	{Name: "growth", ETF: "VUG"},
	{Name: "momentum", ETF: "MTUM"},
	{Name: "quality", ETF: "QUAL"},
	{Name: "size", ETF: "IWM"},
	{Name: "low_volatility", ETF: "SPLV"},
}

// MarketBenchmark proxies the market portfolio for the separate
// single-factor market beta regression
const MarketBenchmark = "SPY"

// FactorMarket names the persisted market beta row alongside the style rows
const FactorMarket = "market"

const (
	MethodRidge = "ridge"
	MethodOLS   = "ols"
)
