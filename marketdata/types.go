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
	"errors"
	"time"
)

var (
	ErrNoPrice       = errors.New("no price available within lookback window")
	ErrEmptyUniverse = errors.New("symbol universe is empty")
)

// Bar is a single daily OHLCV observation; (Symbol, Date) is the natural key
// and all writes are upserts on it
type Bar struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	Source string
}

// CompanyProfile holds reference metadata for a symbol; refreshed on a
// staleness window, never fetched for synthetic or fund symbols
type CompanyProfile struct {
	Symbol      string
	Name        string
	Sector      string
	Industry    string
	Description string
	UpdatedAt   time.Time
}
