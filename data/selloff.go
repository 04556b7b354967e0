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
	"errors"
	"slices"
	"time"
)

const (
	// SelloffWindow is the number of trading sessions inspected
	SelloffWindow = 20

	// SelloffThreshold is the percent drop from the window high that
	// constitutes a selloff
	SelloffThreshold = 10.0
)

var (
	ErrInsufficientHistory = errors.New("not enough price history")
)

// Selloff describes how far a ticker has fallen from its recent high
type Selloff struct {
	Ticker      string    `json:"ticker"`
	AsOf        time.Time `json:"as_of"`
	High        float64   `json:"high"`
	Close       float64   `json:"close"`
	DropPercent float64   `json:"drop_percent"`
	Window      int       `json:"window"`
	VolumeRatio float64   `json:"volume_ratio"`
	Signal      bool      `json:"signal"`
}

// ComputeSelloff evaluates the most recent SelloffWindow bars. Volume heavy
// declines trigger the signal at half the normal threshold.
func ComputeSelloff(ticker string, bars []*Eod) (*Selloff, error) {
	if len(bars) < 2 {
		return nil, ErrInsufficientHistory
	}

	sorted := slices.Clone(bars)
	slices.SortFunc(sorted, func(a, b *Eod) int {
		return a.Date.Compare(b.Date)
	})

	if len(sorted) > SelloffWindow {
		sorted = sorted[len(sorted)-SelloffWindow:]
	}

	last := sorted[len(sorted)-1]
	high := 0.0
	totalVolume := 0.0
	for _, bar := range sorted {
		high = max(high, bar.Close)
		totalVolume += bar.Volume
	}

	selloff := &Selloff{
		Ticker: ticker,
		AsOf:   last.Date,
		High:   high,
		Close:  last.Close,
		Window: len(sorted),
	}

	if high > 0 {
		selloff.DropPercent = (high - last.Close) / high * 100
	}

	avgVolume := totalVolume / float64(len(sorted))
	if avgVolume > 0 {
		selloff.VolumeRatio = last.Volume / avgVolume
	}

	selloff.Signal = selloff.DropPercent >= SelloffThreshold ||
		(selloff.DropPercent >= SelloffThreshold/2 && selloff.VolumeRatio >= 2)

	return selloff, nil
}
