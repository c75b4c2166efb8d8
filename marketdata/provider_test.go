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
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfolio/risk-api/marketdata"
)

// fakeProvider serves canned bars for a fixed symbol set and records the
// ranges it was asked for
type fakeProvider struct {
	name    string
	serves  map[string]bool
	err     error
	queries []marketdata.DateRange
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) HistoricalPrices(ctx context.Context, symbols []string, begin, end time.Time) (map[string][]*marketdata.Bar, error) {
	f.queries = append(f.queries, marketdata.DateRange{Begin: begin, End: end})
	if f.err != nil {
		return nil, f.err
	}

	result := make(map[string][]*marketdata.Bar)
	for _, symbol := range symbols {
		if !f.serves[symbol] {
			continue
		}
		for d := begin; !d.After(end); d = d.AddDate(0, 0, 1) {
			result[symbol] = append(result[symbol], &marketdata.Bar{
				Symbol: symbol,
				Date:   d,
				Open:   100, High: 101, Low: 99, Close: 100.5,
				Volume: 1000,
				Source: f.name,
			})
		}
	}
	return result, nil
}

func (f *fakeProvider) CompanyProfiles(ctx context.Context, symbols []string) (map[string]*marketdata.CompanyProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	result := make(map[string]*marketdata.CompanyProfile)
	for _, symbol := range symbols {
		if f.serves[symbol] {
			result[symbol] = &marketdata.CompanyProfile{Symbol: symbol, Name: symbol + " Inc"}
		}
	}
	return result, nil
}

var _ = Describe("Chain", func() {
	var (
		begin time.Time
		end   time.Time
	)

	BeforeEach(func() {
		begin = time.Date(2022, time.June, 21, 0, 0, 0, 0, time.UTC)
		end = begin
	})

	It("fills everything from the first provider when it can", func() {
		primary := &fakeProvider{name: "primary", serves: map[string]bool{"AAPL": true, "MSFT": true}}
		fallback := &fakeProvider{name: "fallback", serves: map[string]bool{"AAPL": true, "MSFT": true}}
		chain := marketdata.NewChain(primary, fallback)

		bars, unfilled := chain.HistoricalPrices(context.Background(), []string{"AAPL", "MSFT"}, begin, end)
		Expect(bars).To(HaveLen(2))
		Expect(unfilled).To(BeEmpty())
		Expect(fallback.queries).To(BeEmpty())
	})

	It("passes only unfilled symbols to the next provider", func() {
		primary := &fakeProvider{name: "primary", serves: map[string]bool{"AAPL": true}}
		fallback := &fakeProvider{name: "fallback", serves: map[string]bool{"MSFT": true}}
		chain := marketdata.NewChain(primary, fallback)

		bars, unfilled := chain.HistoricalPrices(context.Background(), []string{"AAPL", "MSFT"}, begin, end)
		Expect(bars).To(HaveKey("AAPL"))
		Expect(bars).To(HaveKey("MSFT"))
		Expect(unfilled).To(BeEmpty())
		Expect(bars["AAPL"][0].Source).To(Equal("primary"))
		Expect(bars["MSFT"][0].Source).To(Equal("fallback"))
	})

	It("survives a wholesale provider failure", func() {
		primary := &fakeProvider{name: "primary", err: errors.New("auth failed")}
		fallback := &fakeProvider{name: "fallback", serves: map[string]bool{"AAPL": true}}
		chain := marketdata.NewChain(primary, fallback)

		bars, unfilled := chain.HistoricalPrices(context.Background(), []string{"AAPL"}, begin, end)
		Expect(bars).To(HaveKey("AAPL"))
		Expect(unfilled).To(BeEmpty())
	})

	It("reports symbols no provider could supply", func() {
		primary := &fakeProvider{name: "primary", serves: map[string]bool{}}
		fallback := &fakeProvider{name: "fallback", serves: map[string]bool{}}
		chain := marketdata.NewChain(primary, fallback)

		bars, unfilled := chain.HistoricalPrices(context.Background(), []string{"GHOST"}, begin, end)
		Expect(bars).To(BeEmpty())
		Expect(unfilled).To(Equal([]string{"GHOST"}))
	})

	It("merges company profiles across the chain", func() {
		primary := &fakeProvider{name: "primary", serves: map[string]bool{"AAPL": true}}
		fallback := &fakeProvider{name: "fallback", serves: map[string]bool{"MSFT": true}}
		chain := marketdata.NewChain(primary, fallback)

		profiles, unfilled := chain.CompanyProfiles(context.Background(), []string{"AAPL", "MSFT", "GHOST"})
		Expect(profiles).To(HaveLen(2))
		Expect(unfilled).To(Equal([]string{"GHOST"}))
	})
})
