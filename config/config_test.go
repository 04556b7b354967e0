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
package config_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pvquote/config"
	"github.com/penny-vault/pvquote/data"
)

var _ = Describe("Config", func() {
	It("has sane defaults", func() {
		cfg := config.Default()
		Expect(cfg.TTL(data.PriceKey)).To(Equal(15 * time.Minute))
		Expect(cfg.Timeout()).To(Equal(10 * time.Second))

		settings := cfg.BreakerSettings()
		Expect(settings.Enabled).To(BeTrue())
		Expect(settings.FailureThreshold).To(Equal(3))
		Expect(settings.Cooldown).To(Equal(3 * time.Minute))
	})

	It("clamps nonsense values", func() {
		cfg := config.Default()
		cfg.BatchSize = -1
		cfg.CallTimeout = 0
		cfg.PriceProviders = []string{" Tiingo", "tiingo", "", "polygon"}
		cfg.Validate()

		Expect(cfg.BatchSize).To(Equal(100))
		Expect(cfg.Timeout()).To(Equal(10 * time.Second))
		Expect(cfg.ProviderOrder(data.PriceKey)).To(Equal([]string{"tiingo", "polygon"}))
	})

	It("scales the batch timeout with the number of tickers", func() {
		cfg := config.Default()
		cfg.CallTimeout = config.Duration(200 * time.Millisecond)
		Expect(cfg.BatchTimeout(4)).To(Equal(600 * time.Millisecond))
		Expect(cfg.BatchTimeout(0)).To(Equal(200 * time.Millisecond))

		cfg.BatchTickerTimeout = config.Duration(-time.Second)
		cfg.Validate()
		Expect(cfg.BatchTimeout(50)).To(Equal(200 * time.Millisecond))
	})

	It("hands out independent copies", func() {
		mgr := config.NewMemory(config.Default())
		cfg := mgr.Current()
		cfg.PriceProviders[0] = "mutated"

		Expect(mgr.Current().PriceProviders[0]).To(Equal("tiingo"))
	})
})

var _ = Describe("Manager", func() {
	var (
		dir  string
		path string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "pvquote-config")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "orchestrator.toml")
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("writes defaults when the file is missing", func() {
		mgr := config.Load(path)
		Expect(mgr.Current()).To(Equal(config.Default()))
		Expect(path).To(BeARegularFile())
	})

	It("substitutes defaults for a corrupt file", func() {
		Expect(os.WriteFile(path, []byte("price_providers = [unterminated"), 0o644)).To(Succeed())

		mgr := config.Load(path)
		Expect(mgr.Current()).To(Equal(config.Default()))
	})

	It("keeps defaults for keys missing from the file", func() {
		Expect(os.WriteFile(path, []byte("price_providers = [\"polygon\"]\n\n[cache_ttl]\nprice = \"1m\"\n"), 0o644)).To(Succeed())

		cfg := config.Load(path).Current()
		Expect(cfg.ProviderOrder(data.PriceKey)).To(Equal([]string{"polygon"}))
		Expect(cfg.TTL(data.PriceKey)).To(Equal(time.Minute))
		Expect(cfg.TTL(data.EPSKey)).To(Equal(24 * time.Hour))
	})

	It("persists every mutation", func() {
		mgr := config.Load(path)
		Expect(mgr.DisableProvider("Polygon")).To(Succeed())
		Expect(mgr.SetProviderOrder(data.EPSKey, []string{"nasdaq", "edgar"})).To(Succeed())
		Expect(mgr.SetCacheTTL(data.SelloffKey, 30*time.Minute)).To(Succeed())

		reloaded := config.Load(path).Current()
		Expect(reloaded.IsDisabled("polygon")).To(BeTrue())
		Expect(reloaded.ProviderOrder(data.EPSKey)).To(Equal([]string{"nasdaq", "edgar"}))
		Expect(reloaded.TTL(data.SelloffKey)).To(Equal(30 * time.Minute))

		Expect(mgr.EnableProvider("polygon")).To(Succeed())
		Expect(config.Load(path).Current().IsDisabled("polygon")).To(BeFalse())
	})

	It("notifies subscribers after an update", func() {
		mgr := config.NewMemory(config.Default())
		var seen config.Config
		mgr.Subscribe(func(cfg config.Config) { seen = cfg })

		Expect(mgr.SetBatchSize(25)).To(Succeed())
		Expect(seen.BatchSize).To(Equal(25))
	})

	It("leaves the live value alone when saving fails", func() {
		Expect(os.Mkdir(filepath.Join(dir, "ro"), 0o500)).To(Succeed())
		mgr := config.Load(filepath.Join(dir, "ro", "orchestrator.toml"))
		if os.Geteuid() == 0 {
			Skip("root can write to read-only directories")
		}

		Expect(mgr.SetPreferBatch(false)).NotTo(Succeed())
		Expect(mgr.Current().PreferBatch).To(BeTrue())
	})

	It("reloads external edits", func() {
		mgr := config.Load(path)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			defer GinkgoRecover()
			Expect(mgr.Watch(ctx)).To(Succeed())
		}()

		Eventually(func() bool {
			Expect(os.WriteFile(path, []byte("disabled_providers = [\"tiingo\"]\n"), 0o644)).To(Succeed())
			return mgr.Current().IsDisabled("tiingo")
		}, 2*time.Second, 50*time.Millisecond).Should(BeTrue())
	})
})
