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
	"fmt"
	"time"
)

// FetchResult is the outcome of a single attempt to retrieve data for a ticker.
// It is passed by value so callers always hold their own copy.
type FetchResult struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Source    string    `json:"source"`
	Error     string    `json:"error,omitempty"`
	Cached    bool      `json:"cached"`
	Timestamp time.Time `json:"timestamp"`
}

// Succeeded builds a successful result produced by source
func Succeeded(source string, payload any) FetchResult {
	return FetchResult{
		Success:   true,
		Data:      payload,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// Failed builds an unsuccessful result with a formatted error description
func Failed(source string, format string, args ...any) FetchResult {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	return FetchResult{
		Success:   false,
		Source:    source,
		Error:     msg,
		Timestamp: time.Now(),
	}
}

// AsCached returns a copy of the result flagged as served from the cache with
// the timestamp of the original write
func (r FetchResult) AsCached(writtenAt time.Time) FetchResult {
	r.Cached = true
	r.Timestamp = writtenAt
	return r
}

func (r FetchResult) Quote() (*Quote, bool) {
	v, ok := r.Data.(*Quote)
	return v, ok && v != nil
}

func (r FetchResult) EPS() (*EPS, bool) {
	v, ok := r.Data.(*EPS)
	return v, ok && v != nil
}

func (r FetchResult) Dividends() ([]*Dividend, bool) {
	v, ok := r.Data.([]*Dividend)
	return v, ok
}

func (r FetchResult) History() ([]*Eod, bool) {
	v, ok := r.Data.([]*Eod)
	return v, ok
}

func (r FetchResult) Asset() (*Asset, bool) {
	v, ok := r.Data.(*Asset)
	return v, ok && v != nil
}

func (r FetchResult) Selloff() (*Selloff, bool) {
	v, ok := r.Data.(*Selloff)
	return v, ok && v != nil
}
