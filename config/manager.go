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
package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/penny-vault/pvquote/data"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrMemoryOnly = errors.New("configuration is not backed by a file")
)

// Manager owns the live configuration. Every mutation is persisted before
// the in-memory value is swapped, and readers always receive a copy.
type Manager struct {
	mu        sync.RWMutex
	path      string
	cfg       Config
	listeners []func(Config)
}

// Load reads the configuration at path. A missing file is created with the
// defaults; a corrupt file is logged and replaced in memory by the defaults.
// Load never fails.
func Load(path string) *Manager {
	mgr := &Manager{path: path, cfg: Default()}

	cfg, err := readFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("Path", path).Msg("orchestrator config not found; writing defaults")
		if err := writeFile(path, mgr.cfg); err != nil {
			log.Warn().Err(err).Str("Path", path).Msg("could not save default orchestrator config")
		}
	case err != nil:
		log.Error().Err(err).Str("Path", path).Msg("orchestrator config is corrupt; using defaults")
	default:
		mgr.cfg = cfg
	}

	return mgr
}

// NewMemory creates a manager that never touches the filesystem
func NewMemory(cfg Config) *Manager {
	cfg.Validate()
	return &Manager{cfg: cfg.Clone()}
}

func (mgr *Manager) Path() string {
	return mgr.path
}

// Current returns a copy of the live configuration
func (mgr *Manager) Current() Config {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.cfg.Clone()
}

// Subscribe registers fn to receive the new configuration after every change
func (mgr *Manager) Subscribe(fn func(Config)) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.listeners = append(mgr.listeners, fn)
}

// Update applies fn to a copy of the configuration, persists the result and
// then makes it live. On a save error the live configuration is unchanged.
func (mgr *Manager) Update(fn func(*Config)) error {
	mgr.mu.Lock()

	next := mgr.cfg.Clone()
	fn(&next)
	next.Validate()

	if mgr.path != "" {
		if err := writeFile(mgr.path, next); err != nil {
			mgr.mu.Unlock()
			log.Error().Err(err).Str("Path", mgr.path).Msg("could not save orchestrator config")
			return err
		}
	}

	mgr.cfg = next
	listeners := slices.Clone(mgr.listeners)
	mgr.mu.Unlock()

	for _, listener := range listeners {
		listener(next.Clone())
	}

	return nil
}

func (mgr *Manager) SetProviderOrder(dt data.DataType, names []string) error {
	return mgr.Update(func(cfg *Config) {
		if list := cfg.providerList(dt); list != nil {
			*list = slices.Clone(names)
		}
	})
}

func (mgr *Manager) DisableProvider(name string) error {
	return mgr.Update(func(cfg *Config) {
		cfg.DisabledProviders = append(cfg.DisabledProviders, name)
	})
}

func (mgr *Manager) EnableProvider(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	return mgr.Update(func(cfg *Config) {
		cfg.DisabledProviders = slices.DeleteFunc(cfg.DisabledProviders, func(disabled string) bool {
			return disabled == name
		})
	})
}

func (mgr *Manager) SetCacheTTL(dt data.DataType, ttl time.Duration) error {
	return mgr.Update(func(cfg *Config) {
		if field := cfg.ttl(dt); field != nil {
			*field = Duration(ttl)
		}
	})
}

func (mgr *Manager) SetCallTimeout(timeout time.Duration) error {
	return mgr.Update(func(cfg *Config) {
		cfg.CallTimeout = Duration(timeout)
	})
}

func (mgr *Manager) SetBreakerSettings(settings CircuitBreaker) error {
	return mgr.Update(func(cfg *Config) {
		cfg.CircuitBreaker = settings
	})
}

func (mgr *Manager) SetPreferBatch(prefer bool) error {
	return mgr.Update(func(cfg *Config) {
		cfg.PreferBatch = prefer
	})
}

func (mgr *Manager) SetBatchSize(size int) error {
	return mgr.Update(func(cfg *Config) {
		cfg.BatchSize = size
	})
}

// Reload re-reads the backing file. A corrupt file leaves the live
// configuration untouched.
func (mgr *Manager) Reload() error {
	if mgr.path == "" {
		return ErrMemoryOnly
	}

	cfg, err := readFile(mgr.path)
	if err != nil {
		log.Error().Err(err).Str("Path", mgr.path).Msg("could not reload orchestrator config")
		return err
	}

	mgr.mu.Lock()
	mgr.cfg = cfg
	listeners := slices.Clone(mgr.listeners)
	mgr.mu.Unlock()

	for _, listener := range listeners {
		listener(cfg.Clone())
	}

	return nil
}

// Watch reloads the configuration whenever the file is edited externally
// and blocks until ctx is done
func (mgr *Manager) Watch(ctx context.Context) error {
	if mgr.path == "" {
		return ErrMemoryOnly
	}

	logger := zerolog.Ctx(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// watch the directory so atomic renames are observed
	if err := watcher.Add(filepath.Dir(mgr.path)); err != nil {
		return err
	}

	target := filepath.Clean(mgr.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target || (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) {
				continue
			}

			if err := mgr.Reload(); err == nil {
				logger.Info().Str("Path", mgr.path).Msg("orchestrator config reloaded")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func readFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}

	cfg.Validate()
	return cfg, nil
}

// writeFile saves cfg via a temporary file and rename so concurrent readers
// never observe a partial document
func writeFile(path string, cfg Config) error {
	raw, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
