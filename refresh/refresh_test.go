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
package refresh_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvquote/data"
	"github.com/penny-vault/pvquote/orchestrator"
	"github.com/penny-vault/pvquote/refresh"
)

type call struct {
	dataType data.DataType
	ticker   string
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []call
	failing map[string]bool
	onCall  func(int)
}

func (f *fakeFetcher) Fetch(ctx context.Context, dt data.DataType, ticker string, opts ...orchestrator.Option) data.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, call{dt, ticker})
	n := len(f.calls)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(n)
	}

	if f.failing[ticker] {
		return data.Failed("fake", "no data for %s", ticker)
	}

	return data.Succeeded("fake", &data.Quote{Ticker: ticker})
}

func (f *fakeFetcher) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeMonitor struct {
	mu    sync.Mutex
	pings []string
}

func (m *fakeMonitor) Ping(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings = append(m.pings, "ping:"+id)
	return nil
}

func (m *fakeMonitor) Fail(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings = append(m.pings, "fail:"+id)
	return nil
}

func (m *fakeMonitor) Pings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pings...)
}

var _ = Describe("Job", func() {
	var (
		fetcher *fakeFetcher
		monitor *fakeMonitor
		job     *refresh.Job
	)

	BeforeEach(func() {
		fetcher = &fakeFetcher{failing: map[string]bool{}}
		monitor = &fakeMonitor{}
		job = &refresh.Job{
			Orchestrator:  fetcher,
			Tickers:       func() []string { return []string{"AAPL", "MSFT"} },
			DataTypes:     []data.DataType{data.PriceKey, data.EPSKey},
			HealthCheckID: "check-1",
			Monitor:       monitor,
		}
	})

	It("refreshes every ticker and data type", func() {
		report := job.RunOnce(context.Background())

		Expect(report.Attempted).To(Equal(4))
		Expect(report.Succeeded).To(Equal(4))
		Expect(report.Stopped).To(BeFalse())
		Expect(fetcher.Calls()).To(Equal([]call{
			{data.PriceKey, "AAPL"},
			{data.EPSKey, "AAPL"},
			{data.PriceKey, "MSFT"},
			{data.EPSKey, "MSFT"},
		}))
		Expect(monitor.Pings()).To(Equal([]string{"ping:check-1"}))
	})

	It("counts failures and reports a run with no successes as failed", func() {
		fetcher.failing["AAPL"] = true
		fetcher.failing["MSFT"] = true

		report := job.RunOnce(context.Background())
		Expect(report.Failed).To(Equal(4))
		Expect(monitor.Pings()).To(Equal([]string{"fail:check-1"}))
	})

	It("stops between tickers without interrupting a call", func() {
		fetcher.onCall = func(n int) {
			if n == 1 {
				job.Stop()
			}
		}

		report := job.RunOnce(context.Background())
		Expect(report.Stopped).To(BeTrue())
		Expect(report.Attempted).To(Equal(1))
		Expect(fetcher.Calls()).To(HaveLen(1))
		Expect(monitor.Pings()).To(BeEmpty())
	})

	It("stops when the context is canceled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report := job.RunOnce(ctx)
		Expect(report.Stopped).To(BeTrue())
		Expect(fetcher.Calls()).To(BeEmpty())
	})

	It("runs on an interval until the context ends", func() {
		job.Interval = 20 * time.Millisecond
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			defer close(done)
			job.Run(ctx)
		}()

		Eventually(func() int { return len(fetcher.Calls()) }).Should(BeNumerically(">=", 8))
		cancel()
		Eventually(done).Should(BeClosed())
	})

	It("handles an empty ticker list", func() {
		empty := &refresh.Job{
			Orchestrator: &fakeFetcher{},
			Tickers:      func() []string { return nil },
		}
		report := empty.RunOnce(context.Background())
		Expect(report.Attempted).To(BeZero())
		Expect(report.RunID.String()).NotTo(BeEmpty())
	})
})
