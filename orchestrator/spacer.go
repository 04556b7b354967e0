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
	"context"
	"time"

	"github.com/alphadose/haxmap"
	"golang.org/x/time/rate"
)

// Spacer enforces a minimum interval between calls to the same source.
// Under concurrent callers the spacing is best effort.
type Spacer struct {
	limiters *haxmap.Map[string, *rate.Limiter]
}

func NewSpacer() *Spacer {
	return &Spacer{
		limiters: haxmap.New[string, *rate.Limiter](),
	}
}

// Wait blocks until a call to name may be made or ctx is done. A zero
// interval never blocks.
func (s *Spacer) Wait(ctx context.Context, name string, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	limit := rate.Every(interval)
	limiter, _ := s.limiters.GetOrCompute(name, func() *rate.Limiter {
		return rate.NewLimiter(limit, 1)
	})

	if limiter.Limit() != limit {
		limiter.SetLimit(limit)
	}

	return limiter.Wait(ctx)
}
