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
package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/penny-vault/pvquote/pkginfo"
)

var (
	ErrInvalidStatusCode = errors.New("invalid status code received")
)

const (
	defaultHTTPTimeout = 30 * time.Second
)

// ClientConfig holds the settings shared by the HTTP backed providers
type ClientConfig struct {
	APIKey string

	// BaseURL overrides the production endpoint (used by tests)
	BaseURL string

	// RateLimit is the minimum interval between requests; zero uses the
	// provider default
	RateLimit time.Duration
	Timeout   time.Duration
}

func (cfg ClientConfig) baseURL(fallback string) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}

	return fallback
}

func (cfg ClientConfig) interval(fallback time.Duration) time.Duration {
	if cfg.RateLimit > 0 {
		return cfg.RateLimit
	}

	return fallback
}

func newRestyClient(cfg ClientConfig, baseURL string) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", pkginfo.UserAgent())
}

// statusError converts a non-2xx response into an error suitable for a
// failed FetchResult
func statusError(resp *resty.Response) error {
	body := string(resp.Body())
	if len(body) > 200 {
		body = body[:200]
	}

	return fmt.Errorf("%w (%d): %s", ErrInvalidStatusCode, resp.StatusCode(), body)
}
