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

package marketdata_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfolio/risk-api/marketdata"
)

var _ = Describe("Symbols", func() {
	Describe("BuildUniverse", func() {
		It("always includes the benchmark ETFs", func() {
			universe := marketdata.BuildUniverse(nil)
			Expect(universe).To(HaveLen(len(marketdata.BenchmarkSymbols)))
			for _, etf := range marketdata.BenchmarkSymbols {
				Expect(universe).To(ContainElement(etf))
			}
		})

		It("uppercases and de-duplicates position symbols", func() {
			universe := marketdata.BuildUniverse([]string{"aapl", "AAPL", " msft "})
			Expect(universe).To(ContainElement("AAPL"))
			Expect(universe).To(ContainElement("MSFT"))
			Expect(universe).To(HaveLen(len(marketdata.BenchmarkSymbols) + 2))
		})

		It("drops synthetic private-fund placeholders", func() {
			universe := marketdata.BuildUniverse([]string{"PVT-SEED-A", "AAPL"})
			Expect(universe).NotTo(ContainElement("PVT-SEED-A"))
			Expect(universe).To(ContainElement("AAPL"))
		})

		It("drops malformed tickers", func() {
			universe := marketdata.BuildUniverse([]string{"TOOLONGG", "123", "BRK.B", "aapl!"})
			Expect(universe).To(ContainElement("BRK.B"))
			Expect(universe).To(HaveLen(len(marketdata.BenchmarkSymbols) + 1))
		})

		It("is sorted", func() {
			universe := marketdata.BuildUniverse([]string{"ZZZ", "AAA"})
			for ii := 1; ii < len(universe); ii++ {
				Expect(universe[ii] > universe[ii-1]).To(BeTrue())
			}
		})
	})

	Describe("ProfileCandidates", func() {
		It("excludes benchmark ETFs and synthetic symbols", func() {
			universe := marketdata.BuildUniverse([]string{"AAPL"})
			candidates := marketdata.ProfileCandidates(universe)
			Expect(candidates).To(Equal([]string{"AAPL"}))
		})
	})

	Describe("IsValidTicker", func() {
		It("accepts common ticker shapes", func() {
			Expect(marketdata.IsValidTicker("A")).To(BeTrue())
			Expect(marketdata.IsValidTicker("AAPL")).To(BeTrue())
			Expect(marketdata.IsValidTicker("GOOGL")).To(BeTrue())
			Expect(marketdata.IsValidTicker("BRK.B")).To(BeTrue())
		})

		It("rejects malformed symbols", func() {
			Expect(marketdata.IsValidTicker("")).To(BeFalse())
			Expect(marketdata.IsValidTicker("aapl")).To(BeFalse())
			Expect(marketdata.IsValidTicker("TOOLONGG")).To(BeFalse())
			Expect(marketdata.IsValidTicker("BRK.BB")).To(BeFalse())
		})
	})
})
