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

package factors

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// deterministic pseudo-random walk so fits are reproducible
func syntheticSeries(n int, seed float64) []float64 {
	out := make([]float64, n)
	state := seed
	for ii := range out {
		state = math.Mod(state*997.0+0.12345, 1.0)
		out[ii] = (state - 0.5) * 0.02
	}
	return out
}

var _ = Describe("Ridge", func() {
	Describe("fitRidge", func() {
		It("recovers known coefficients from a clean linear relationship", func() {
			n := 120
			x1 := syntheticSeries(n, 0.11)
			x2 := syntheticSeries(n, 0.47)

			y := make([]float64, n)
			for ii := 0; ii < n; ii++ {
				y[ii] = 0.001 + 0.8*x1[ii] - 0.3*x2[ii]
			}

			fit, err := fitRidge([][]float64{x1, x2}, y, 1e-6, 4.0)
			Expect(err).To(BeNil())
			Expect(fit.Betas[0]).To(BeNumerically("~", 0.8, 1e-3))
			Expect(fit.Betas[1]).To(BeNumerically("~", -0.3, 1e-3))
			Expect(fit.Alpha).To(BeNumerically("~", 0.001, 1e-4))
			Expect(fit.R2).To(BeNumerically("~", 1.0, 1e-6))
			Expect(fit.ClippedAt).To(Equal([]bool{false, false}))
		})

		It("clips extreme betas to the cap and flags them", func() {
			n := 100
			x1 := syntheticSeries(n, 0.29)

			y := make([]float64, n)
			for ii := 0; ii < n; ii++ {
				y[ii] = 10.0 * x1[ii]
			}

			fit, err := fitRidge([][]float64{x1}, y, 1e-6, 4.0)
			Expect(err).To(BeNil())
			Expect(fit.Betas[0]).To(Equal(4.0))
			Expect(fit.ClippedAt[0]).To(BeTrue())
		})

		It("preserves the sign of clipped negative betas", func() {
			n := 100
			x1 := syntheticSeries(n, 0.63)

			y := make([]float64, n)
			for ii := 0; ii < n; ii++ {
				y[ii] = -8.0 * x1[ii]
			}

			fit, err := fitRidge([][]float64{x1}, y, 1e-6, 4.0)
			Expect(err).To(BeNil())
			Expect(fit.Betas[0]).To(Equal(-4.0))
			Expect(fit.ClippedAt[0]).To(BeTrue())
		})

		It("shrinks coefficients as alpha grows", func() {
			n := 150
			x1 := syntheticSeries(n, 0.83)
			y := make([]float64, n)
			for ii := 0; ii < n; ii++ {
				y[ii] = 1.5 * x1[ii]
			}

			small, err := fitRidge([][]float64{x1}, y, 0.01, 4.0)
			Expect(err).To(BeNil())
			large, err := fitRidge([][]float64{x1}, y, 100.0, 4.0)
			Expect(err).To(BeNil())

			Expect(math.Abs(large.Betas[0])).To(BeNumerically("<", math.Abs(small.Betas[0])))
		})

		It("stays finite when two factors are perfectly collinear", func() {
			n := 100
			x1 := syntheticSeries(n, 0.37)
			x2 := make([]float64, n)
			copy(x2, x1)

			y := make([]float64, n)
			for ii := 0; ii < n; ii++ {
				y[ii] = 0.6 * x1[ii]
			}

			fit, err := fitRidge([][]float64{x1, x2}, y, 1.0, 4.0)
			Expect(err).To(BeNil())
			Expect(math.IsNaN(fit.Betas[0])).To(BeFalse())
			Expect(math.IsNaN(fit.Betas[1])).To(BeFalse())
			// the penalty splits the loading between the identical columns
			Expect(fit.Betas[0]).To(BeNumerically("~", fit.Betas[1], 1e-9))
		})

		It("errors on too few observations", func() {
			_, err := fitRidge([][]float64{{0.1, 0.2}}, []float64{0.1, 0.2}, 1.0, 4.0)
			Expect(err).To(Equal(ErrTooFewObservations))
		})
	})

	Describe("fitMarketBeta", func() {
		It("recovers slope and intercept", func() {
			n := 90
			market := syntheticSeries(n, 0.55)
			position := make([]float64, n)
			for ii := 0; ii < n; ii++ {
				position[ii] = 0.0005 + 1.2*market[ii]
			}

			beta, alpha, r2, err := fitMarketBeta(market, position)
			Expect(err).To(BeNil())
			Expect(beta).To(BeNumerically("~", 1.2, 1e-9))
			Expect(alpha).To(BeNumerically("~", 0.0005, 1e-9))
			Expect(r2).To(BeNumerically("~", 1.0, 1e-9))
		})

		It("errors on mismatched series", func() {
			_, _, _, err := fitMarketBeta(make([]float64, 10), make([]float64, 9))
			Expect(err).To(Equal(ErrTooFewObservations))
		})
	})

	Describe("return series alignment", func() {
		day := func(d int) time.Time {
			return time.Date(2022, time.June, d, 0, 0, 0, 0, time.UTC)
		}

		It("intersects dates ascending", func() {
			a := ReturnSeries{day(1): 0.01, day(2): 0.02, day(3): 0.03}
			b := ReturnSeries{day(3): -0.01, day(1): 0.04}

			dates := alignDates(a, b)
			Expect(dates).To(Equal([]time.Time{day(1), day(3)}))
			Expect(a.sample(dates)).To(Equal([]float64{0.01, 0.03}))
			Expect(b.sample(dates)).To(Equal([]float64{0.04, -0.01}))
		})

		It("is empty when nothing overlaps", func() {
			a := ReturnSeries{day(1): 0.01}
			b := ReturnSeries{day(2): 0.02}
			Expect(alignDates(a, b)).To(BeEmpty())
		})
	})
})
