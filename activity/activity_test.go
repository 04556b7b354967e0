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
package activity_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvquote/activity"
)

var _ = Describe("Activity", func() {
	Describe("Recorder", func() {
		It("returns events oldest first", func() {
			rec := activity.NewRecorder(5)
			rec.Log(activity.Info, "tiingo", "calling", "AAPL")
			rec.Log(activity.Warn, "polygon", "timeout after 10s", "MSFT")

			events := rec.Events()
			Expect(events).To(HaveLen(2))
			Expect(events[0].Source).To(Equal("tiingo"))
			Expect(events[0].Level).To(Equal("info"))
			Expect(events[1].Message).To(Equal("timeout after 10s"))
			Expect(events[1].Ticker).To(Equal("MSFT"))
		})

		It("drops the oldest events once full", func() {
			rec := activity.NewRecorder(3)
			for _, ticker := range []string{"A", "B", "C", "D", "E"} {
				rec.Log(activity.Debug, "zacks", "calling", ticker)
			}

			Expect(rec.Len()).To(Equal(3))

			tickers := []string{}
			for _, evt := range rec.Events() {
				tickers = append(tickers, evt.Ticker)
			}
			Expect(tickers).To(Equal([]string{"C", "D", "E"}))
		})
	})

	Describe("Safe", func() {
		It("swallows panics raised by a sink", func() {
			broken := activity.Func(func(activity.Level, string, string, string) {
				panic("sink unavailable")
			})

			Expect(func() {
				activity.Safe(broken, activity.Error, "tiingo", "failed", "AAPL")
			}).NotTo(Panic())
		})

		It("ignores a nil sink", func() {
			Expect(func() {
				activity.Safe(nil, activity.Info, "tiingo", "calling", "")
			}).NotTo(Panic())
		})
	})

	Describe("Multi", func() {
		It("keeps delivering after a sink panics", func() {
			rec := activity.NewRecorder(10)
			broken := activity.Func(func(activity.Level, string, string, string) {
				panic("boom")
			})

			multi := activity.Multi{broken, rec, activity.Zerolog{}}
			multi.Log(activity.Info, "edgar", "success", "IBM")

			Expect(rec.Events()).To(HaveLen(1))
		})
	})

	It("names each level", func() {
		Expect(activity.Debug.String()).To(Equal("debug"))
		Expect(activity.Warn.String()).To(Equal("warn"))
		Expect(activity.Level(42).String()).To(Equal("unknown"))
	})
})
