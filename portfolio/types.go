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

package portfolio

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPortfolioNotFound = errors.New("could not find portfolio ID in database")
	ErrNoSnapshot        = errors.New("no snapshot exists before date")
	ErrNoPositions       = errors.New("portfolio has no positions")
)

// InvestmentClass determines how a position is priced
type InvestmentClass string

const (
	ClassPublicEquity InvestmentClass = "public_equity"
	ClassOption       InvestmentClass = "option"
	ClassPrivate      InvestmentClass = "private"
)

// OptionContractMultiplier converts option quantity to notional shares
const OptionContractMultiplier = 100.0

// Portfolio identity and live equity. StartingBalance is immutable; the
// equity shown to users is EquityBalance which the P&L engine rolls forward
// once snapshots exist.
type Portfolio struct {
	ID              uuid.UUID
	UserID          string
	Name            string
	StartingBalance float64
	EquityBalance   float64
	Active          bool
}

// Position belongs to exactly one portfolio. Quantity is signed; negative
// means short. Positions referenced by a snapshot are soft-deleted, never
// removed.
type Position struct {
	ID          uuid.UUID
	PortfolioID uuid.UUID
	Symbol      string
	Quantity    float64
	EntryPrice  float64
	EntryDate   time.Time
	ExitDate    *time.Time
	Class       InvestmentClass

	// option fields
	Underlying string
	Strike     float64
	Expiration *time.Time

	Sector string

	// pipeline-owned market value fields
	LastPrice   float64
	MarketValue float64

	DeletedAt *time.Time
}

// Multiplier returns the contract multiplier for the position's class
func (p *Position) Multiplier() float64 {
	if p.Class == ClassOption {
		return OptionContractMultiplier
	}
	return 1.0
}

// PriceSymbol is the symbol market data is looked up under; options price
// off their underlying
func (p *Position) PriceSymbol() string {
	if p.Class == ClassOption && p.Underlying != "" {
		return p.Underlying
	}
	return p.Symbol
}

// Snapshot is the immutable per-(portfolio, date) record downstream
// analytics read from. EquityBalance obeys
//
//	equity[t] = equity[prev] + unrealized[t] + realized[t] + flow[t]
//
// where prev is the most recent snapshot strictly before t.
type Snapshot struct {
	PortfolioID uuid.UUID
	Date        time.Time

	EquityBalance float64
	DailyPnL      float64
	UnrealizedPnL float64
	RealizedPnL   float64
	CapitalFlow   float64
	DailyReturn   float64

	CumulativePnL      float64
	CumulativeRealized float64
	CumulativeFlow     float64

	GrossExposure float64
	NetExposure   float64
	LongExposure  float64
	ShortExposure float64
}

// FactorExposure is one portfolio-level beta for one factor on one date
type FactorExposure struct {
	PortfolioID uuid.UUID
	Factor      string
	Date        time.Time
	Beta        float64
	R2          float64
	Method      string
	Alpha       float64
}

// PositionFactorExposure is one position-level beta; old values for the same
// date are overwritten on recompute
type PositionFactorExposure struct {
	PositionID uuid.UUID
	Factor     string
	Date       time.Time
	Beta       float64
	R2         float64
	Method     string
	Alpha      float64
}

// StressResult is the persisted P&L impact of one stress scenario on one
// (portfolio, date); recomputes overwrite
type StressResult struct {
	PortfolioID uuid.UUID
	Scenario    string
	Date        time.Time
	ImpactPct   float64
	ImpactUSD   float64
}
