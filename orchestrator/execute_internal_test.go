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
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/semaphore"
)

var _ = Describe("execute", func() {
	It("keeps a result delivered by the time the deadline fires", func() {
		done := make(chan callOutcome[int], 1)

		_, ok := delivered[int](done)
		Expect(ok).To(BeFalse())

		done <- callOutcome[int]{value: 7}
		out, ok := delivered[int](done)
		Expect(ok).To(BeTrue())
		Expect(out.value).To(Equal(7))
		Expect(out.err).NotTo(HaveOccurred())
	})

	It("returns the value of a call that finishes in time", func() {
		val, err := execute(context.Background(), semaphore.NewWeighted(1), time.Second, func(context.Context) int {
			return 42
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(Equal(42))
	})

	It("abandons a call that outlives the deadline", func() {
		release := make(chan struct{})
		defer close(release)

		started := time.Now()
		_, err := execute(context.Background(), semaphore.NewWeighted(1), 50*time.Millisecond, func(context.Context) int {
			<-release
			return 1
		})
		Expect(errors.Is(err, errTimeout)).To(BeTrue())
		Expect(time.Since(started)).To(BeNumerically("<", 500*time.Millisecond))
	})
})
