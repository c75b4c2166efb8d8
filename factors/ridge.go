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

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrTooFewObservations = errors.New("too few observations for regression")
	ErrSingularFit        = errors.New("regression matrix is not positive definite")
)

// isFitSkip separates expected per-position fit failures from infrastructure
// errors; only the former may drop a position from the aggregate
func isFitSkip(err error) bool {
	return errors.Is(err, ErrTooFewObservations) || errors.Is(err, ErrSingularFit)
}

// ridgeFit holds fitted coefficients in raw-return units
type ridgeFit struct {
	Betas     []float64
	Alpha     float64
	R2        float64
	ClippedAt []bool
}

// fitRidge fits y against the columns of x with L2 regularization.
//
// Columns are standardized before the solve so the penalty treats every
// factor equally, then coefficients are rescaled back to raw-return units by
// dividing through the standardization scale. Each beta is finally clipped
// to ±cap (sign preserved) to bound the influence of ill-conditioned fits.
func fitRidge(x [][]float64, y []float64, alpha, cap float64) (*ridgeFit, error) {
	n := len(y)
	if n < 3 || len(x) == 0 {
		return nil, ErrTooFewObservations
	}
	k := len(x)

	// standardize each factor column
	means := make([]float64, k)
	scales := make([]float64, k)
	std := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		mean, sigma := stat.MeanStdDev(x[j], nil)
		if sigma == 0 || math.IsNaN(sigma) {
			sigma = 1
		}
		means[j] = mean
		scales[j] = sigma
		for i := 0; i < n; i++ {
			std.Set(i, j, (x[j][i]-mean)/sigma)
		}
	}

	yMean := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yc.SetVec(i, y[i]-yMean)
	}

	// solve (XᵀX + αI) β = Xᵀy
	var xtx mat.SymDense
	xtx.SymOuterK(1, std.T())
	for j := 0; j < k; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+alpha)
	}

	var xty mat.VecDense
	xty.MulVec(std.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, ErrSingularFit
	}

	var betaStd mat.VecDense
	if err := chol.SolveVecTo(&betaStd, &xty); err != nil {
		return nil, ErrSingularFit
	}

	// rescale to raw-return units and compute the intercept
	betas := make([]float64, k)
	intercept := yMean
	for j := 0; j < k; j++ {
		betas[j] = betaStd.AtVec(j) / scales[j]
		intercept -= betas[j] * means[j]
	}

	// R² from residuals on the raw scale
	var ssr, sst float64
	for i := 0; i < n; i++ {
		fitted := intercept
		for j := 0; j < k; j++ {
			fitted += betas[j] * x[j][i]
		}
		resid := y[i] - fitted
		ssr += resid * resid
		dev := y[i] - yMean
		sst += dev * dev
	}
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - ssr/sst
	}

	clipped := make([]bool, k)
	for j := 0; j < k; j++ {
		if math.Abs(betas[j]) > cap {
			betas[j] = math.Copysign(cap, betas[j])
			clipped[j] = true
		}
	}

	return &ridgeFit{
		Betas:     betas,
		Alpha:     intercept,
		R2:        r2,
		ClippedAt: clipped,
	}, nil
}

// fitMarketBeta runs the single-factor OLS regression used for market beta
func fitMarketBeta(marketReturns, positionReturns []float64) (beta, alpha, r2 float64, err error) {
	if len(marketReturns) < 3 || len(marketReturns) != len(positionReturns) {
		return 0, 0, 0, ErrTooFewObservations
	}

	alpha, beta = stat.LinearRegression(marketReturns, positionReturns, nil, false)
	r2 = stat.RSquared(marketReturns, positionReturns, nil, alpha, beta)
	if math.IsNaN(beta) || math.IsNaN(alpha) {
		return 0, 0, 0, ErrSingularFit
	}
	return beta, alpha, r2, nil
}
