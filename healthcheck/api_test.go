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
package healthcheck_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvquote/healthcheck"
)

var _ = Describe("Client", func() {
	var (
		server   *httptest.Server
		client   *healthcheck.Client
		mu       sync.Mutex
		requests []string
		bodies   []map[string]any
		keys     []string
	)

	BeforeEach(func() {
		requests = nil
		bodies = nil
		keys = nil

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()

			mu.Lock()
			requests = append(requests, r.Method+" "+r.URL.Path)
			keys = append(keys, r.Header.Get("X-Api-Key"))
			if r.Body != nil {
				raw, _ := io.ReadAll(r.Body)
				if len(raw) > 0 {
					body := map[string]any{}
					Expect(json.Unmarshal(raw, &body)).To(Succeed())
					bodies = append(bodies, body)
				}
			}
			mu.Unlock()

			switch r.URL.Path {
			case "/api/v3/checks/":
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"ping_url": "https://hc-ping.com/5c1ba2b8-check"}`))
			case "/ping/broken":
				w.WriteHeader(http.StatusNotFound)
			default:
				_, _ = w.Write([]byte(`OK`))
			}
		}))

		client = healthcheck.New("secret")
		client.APIURL = server.URL + "/api/v3"
		client.PingURL = server.URL + "/ping"
	})

	AfterEach(func() {
		server.Close()
	})

	It("creates a check and returns its id", func() {
		id, err := client.Create("pvquote Refresh Job", "", []string{"pvquote", "refresh"}, "*/15 * * * *")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("5c1ba2b8-check"))

		Expect(bodies).To(HaveLen(1))
		Expect(bodies[0]["slug"]).To(Equal("pvquote-refresh-job"))
		Expect(bodies[0]["tags"]).To(Equal("pvquote refresh"))
		Expect(keys[0]).To(Equal("secret"))
	})

	It("pings success and failure", func() {
		Expect(client.Ping("abc")).To(Succeed())
		Expect(client.Fail("abc")).To(Succeed())
		Expect(requests).To(Equal([]string{"GET /ping/abc", "GET /ping/abc/fail"}))
	})

	It("manages existing checks", func() {
		Expect(client.Pause("abc")).To(Succeed())
		Expect(client.Resume("abc")).To(Succeed())
		Expect(client.Delete("abc")).To(Succeed())
		Expect(requests).To(Equal([]string{
			"POST /api/v3/checks/abc/pause",
			"POST /api/v3/checks/abc/resume",
			"DELETE /api/v3/checks/abc",
		}))
	})

	It("reports unexpected status codes", func() {
		Expect(client.Ping("broken")).To(MatchError(healthcheck.ErrStatus))
	})
})
