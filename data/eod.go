// Copyright 2024
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
package data

import (
	"time"

	"github.com/rs/zerolog"
)

// Eod is a single end-of-day bar
type Eod struct {
	Date          time.Time `json:"date"`
	Ticker        string    `json:"ticker"`
	CompositeFigi string    `json:"compositeFigi,omitempty"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	AdjClose      float64   `json:"adjClose"`
	Volume        float64   `json:"volume"`
	Dividend      float64   `json:"divCash"`
	Split         float64   `json:"splitFactor"`
}

func (eod *Eod) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", eod.Ticker)
	e.Time("Date", eod.Date)
	e.Float64("Close", eod.Close)
	e.Float64("Volume", eod.Volume)
}

// Quote converts the bar into a (historical) quote for its close
func (eod *Eod) Quote() *Quote {
	return &Quote{
		Ticker:   eod.Ticker,
		Price:    eod.Close,
		Currency: "USD",
		AsOf:     eod.Date,
	}
}

// MarketClose returns the 4pm New York close for the given calendar day
func MarketClose(day time.Time) time.Time {
	nyc, err := time.LoadLocation("America/New_York")
	if err != nil {
		nyc = time.UTC
	}

	return time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, nyc)
}
