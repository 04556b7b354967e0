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

// Package breaker isolates failing data sources. Records are keyed by
// source name and created on first reference, so new sources need no
// registration.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State of a single circuit
type State int

const (
	Closed   State = iota // calls flow normally
	Open                  // calls are rejected until the cooldown elapses
	HalfOpen              // one probe call decides whether to close again
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings govern when a circuit trips and how long it stays open
type Settings struct {
	Enabled          bool
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
}

// DefaultSettings trips after 3 failures in 5 minutes and probes again
// after 3 minutes
func DefaultSettings() Settings {
	return Settings{
		Enabled:          true,
		FailureThreshold: 3,
		FailureWindow:    5 * time.Minute,
		Cooldown:         3 * time.Minute,
	}
}

// Status is a point-in-time copy of a circuit record
type Status struct {
	Name              string        `json:"name"`
	State             State         `json:"-"`
	StateName         string        `json:"state"`
	FailureCount      int           `json:"failure_count"`
	LastFailure       time.Time     `json:"last_failure"`
	LastSuccess       time.Time     `json:"last_success"`
	ProbeInFlight     bool          `json:"probe_in_flight"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
}

type record struct {
	state         State
	failures      []time.Time
	lastFailure   time.Time
	lastSuccess   time.Time
	probeInFlight bool
}

type transition struct {
	name     string
	from, to State
}

// Breaker tracks one circuit per source name. A single mutex guards the
// record map; it is never held while calling out.
type Breaker struct {
	mu       sync.Mutex
	records  map[string]*record
	settings Settings

	now      func() time.Time
	onChange func(name string, from, to State)
}

type Option func(*Breaker)

// WithClock replaces time.Now; used by tests to move time forward
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateChange registers a hook called after every transition
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

func New(settings Settings, opts ...Option) *Breaker {
	b := &Breaker{
		records:  make(map[string]*record),
		settings: settings,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Configure swaps the settings used for subsequent decisions
func (b *Breaker) Configure(settings Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = settings
}

func (b *Breaker) Settings() Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings
}

// get returns the record for name, creating it if needed. Caller holds mu.
func (b *Breaker) get(name string) *record {
	rec, ok := b.records[name]
	if !ok {
		rec = &record{state: Closed}
		b.records[name] = rec
	}

	return rec
}

// prune drops failures older than the window. Caller holds mu.
func (b *Breaker) prune(rec *record, now time.Time) {
	cutoff := now.Add(-b.settings.FailureWindow)
	kept := rec.failures[:0]
	for _, ts := range rec.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rec.failures = kept
}

// CanExecute reports whether a call to name may proceed. When an open
// circuit has cooled down the caller is granted the single half-open probe.
func (b *Breaker) CanExecute(name string) bool {
	var changed *transition

	allowed := func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()

		now := b.now()
		rec := b.get(name)
		b.prune(rec, now)

		if !b.settings.Enabled {
			return true
		}

		switch rec.state {
		case Closed:
			return true
		case Open:
			if now.Sub(rec.lastFailure) < b.settings.Cooldown {
				return false
			}
			changed = &transition{name, Open, HalfOpen}
			rec.state = HalfOpen
			rec.probeInFlight = true
			return true
		case HalfOpen:
			if rec.probeInFlight {
				return false
			}
			rec.probeInFlight = true
			return true
		default:
			return false
		}
	}()

	b.notify(changed)
	return allowed
}

// Release gives back a probe slot that was granted but never used
func (b *Breaker) Release(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec, ok := b.records[name]; ok && rec.state == HalfOpen {
		rec.probeInFlight = false
	}
}

func (b *Breaker) RecordSuccess(name string) {
	var changed *transition

	func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		now := b.now()
		rec := b.get(name)
		rec.lastSuccess = now

		if rec.state == HalfOpen {
			changed = &transition{name, HalfOpen, Closed}
			rec.state = Closed
			rec.failures = nil
			rec.probeInFlight = false
			return
		}

		b.prune(rec, now)
	}()

	b.notify(changed)
}

func (b *Breaker) RecordFailure(name string) {
	var changed *transition

	func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		now := b.now()
		rec := b.get(name)
		rec.lastFailure = now

		if rec.state == HalfOpen {
			changed = &transition{name, HalfOpen, Open}
			rec.state = Open
			rec.probeInFlight = false
			return
		}

		rec.failures = append(rec.failures, now)
		b.prune(rec, now)

		if b.settings.Enabled && rec.state == Closed && len(rec.failures) >= b.settings.FailureThreshold {
			changed = &transition{name, Closed, Open}
			rec.state = Open
		}
	}()

	b.notify(changed)
}

func (b *Breaker) notify(changed *transition) {
	if changed == nil {
		return
	}

	log.Warn().Str("Provider", changed.name).Stringer("From", changed.from).Stringer("To", changed.to).Msg("circuit state changed")

	if b.onChange != nil {
		b.onChange(changed.name, changed.from, changed.to)
	}
}

// Status returns a copy of the record for name; unknown names report a
// fresh closed circuit
func (b *Breaker) Status(name string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	rec := b.get(name)
	b.prune(rec, now)
	return b.status(name, rec, now)
}

func (b *Breaker) status(name string, rec *record, now time.Time) Status {
	st := Status{
		Name:          name,
		State:         rec.state,
		StateName:     rec.state.String(),
		FailureCount:  len(rec.failures),
		LastFailure:   rec.lastFailure,
		LastSuccess:   rec.lastSuccess,
		ProbeInFlight: rec.probeInFlight,
	}

	if rec.state == Open {
		st.CooldownRemaining = max(0, b.settings.Cooldown-now.Sub(rec.lastFailure))
	}

	return st
}

// All returns the status of every known circuit sorted by name
func (b *Breaker) All() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	statuses := make([]Status, 0, len(b.records))
	for name, rec := range b.records {
		b.prune(rec, now)
		statuses = append(statuses, b.status(name, rec, now))
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})

	return statuses
}

// Reset closes the circuit for name and forgets its history
func (b *Breaker) Reset(name string) {
	var changed *transition

	func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if rec, ok := b.records[name]; ok && rec.state != Closed {
			changed = &transition{name, rec.state, Closed}
		}
		b.records[name] = &record{state: Closed}
	}()

	b.notify(changed)
}

func (b *Breaker) ResetAll() {
	var changed []*transition

	func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for name, rec := range b.records {
			if rec.state != Closed {
				changed = append(changed, &transition{name, rec.state, Closed})
			}
			b.records[name] = &record{state: Closed}
		}
	}()

	for _, tr := range changed {
		b.notify(tr)
	}
}
