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

// Quote is the most recent trade price known for a ticker
type Quote struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	PrevClose float64   `json:"prev_close,omitempty"`
	Currency  string    `json:"currency"`
	AsOf      time.Time `json:"as_of"`
}

func (q *Quote) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", q.Ticker)
	e.Float64("Price", q.Price)
	e.Str("Currency", q.Currency)
	e.Time("AsOf", q.AsOf)
}

// EPS is an earnings-per-share figure for a reporting period
type EPS struct {
	Ticker       string    `json:"ticker"`
	Value        float64   `json:"value"`
	FiscalPeriod string    `json:"fiscal_period"`
	PeriodEnd    time.Time `json:"period_end"`
	ReportDate   time.Time `json:"report_date"`

	// Estimate is true when the value is derived from analyst estimates
	// rather than a regulatory filing
	Estimate bool `json:"estimate"`
}

// Dividend is a single cash distribution
type Dividend struct {
	Ticker   string    `json:"ticker"`
	ExDate   time.Time `json:"ex_date"`
	PayDate  time.Time `json:"pay_date"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
}
