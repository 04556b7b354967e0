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
package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/penny-vault/pvquote/data"
)

// kind classifies how a single attempt against a source ended
type kind string

const (
	kindSuccess     kind = "success"
	kindUnavailable kind = "skipped-unavailable"
	kindCircuitOpen kind = "skipped-circuit-open"
	kindTimeout     kind = "timeout"
	kindFailure     kind = "failure"
	kindError       kind = "error"
	kindCanceled    kind = "canceled"
)

const noProvidersFormat = "no providers available for %s"

// countsAgainstBreaker reports whether the outcome is a breaker failure.
// Skips and caller cancellation are not.
func (k kind) countsAgainstBreaker() bool {
	return k == kindTimeout || k == kindFailure || k == kindError
}

type attempt struct {
	provider string
	kind     kind
	message  string
}

func skippedUnavailable(name string) attempt {
	return attempt{provider: name, kind: kindUnavailable, message: "unavailable"}
}

func skippedCircuitOpen(name string) attempt {
	return attempt{provider: name, kind: kindCircuitOpen, message: "circuit open"}
}

func timedOut(name string, timeout time.Duration) attempt {
	return attempt{provider: name, kind: kindTimeout, message: fmt.Sprintf("timeout after %s", timeout)}
}

func canceled(name string, err error) attempt {
	return attempt{provider: name, kind: kindCanceled, message: err.Error()}
}

// failedWith classifies a completed call that did not succeed
func failedWith(name string, result data.FetchResult) attempt {
	msg := result.Error
	if msg == "" {
		msg = "no data returned"
	}

	return attempt{provider: name, kind: kindFailure, message: msg}
}

func unexpected(name string, err error) attempt {
	return attempt{provider: name, kind: kindError, message: err.Error()}
}

func (a attempt) String() string {
	return a.provider + ": " + a.message
}

// aggregate joins every attempt into the error text returned when all
// candidates are exhausted
func aggregate(attempts []attempt) string {
	parts := make([]string, len(attempts))
	for idx, a := range attempts {
		parts[idx] = a.String()
	}

	return "all providers failed: " + strings.Join(parts, "; ")
}
