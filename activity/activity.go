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

// Package activity carries the human readable event stream emitted while
// sources are contacted. Sinks are best effort: the fetch path ignores
// anything a sink does, including panics.
package activity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Info:
		return zerolog.InfoLevel
	case Warn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Sink receives activity events. ticker may be empty.
type Sink interface {
	Log(level Level, source, message, ticker string)
}

// Func adapts a plain function to the Sink interface
type Func func(level Level, source, message, ticker string)

func (fn Func) Log(level Level, source, message, ticker string) {
	fn(level, source, message, ticker)
}

// Zerolog writes events to the global zerolog logger
type Zerolog struct{}

func (Zerolog) Log(level Level, source, message, ticker string) {
	evt := log.WithLevel(level.zerolog()).Str("Provider", source)
	if ticker != "" {
		evt = evt.Str("Ticker", ticker)
	}

	evt.Msg(message)
}

// Event is a recorded activity entry
type Event struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Ticker  string    `json:"ticker,omitempty"`
}

// Recorder keeps the most recent events in a fixed size ring
type Recorder struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
	now    func() time.Time
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 100
	}

	return &Recorder{
		events: make([]Event, capacity),
		now:    time.Now,
	}
}

func (rec *Recorder) Log(level Level, source, message, ticker string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.events[rec.next] = Event{
		Time:    rec.now(),
		Level:   level.String(),
		Source:  source,
		Message: message,
		Ticker:  ticker,
	}

	rec.next = (rec.next + 1) % len(rec.events)
	if rec.next == 0 {
		rec.full = true
	}
}

// Events returns the recorded events, oldest first
func (rec *Recorder) Events() []Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.full {
		out := make([]Event, rec.next)
		copy(out, rec.events[:rec.next])
		return out
	}

	out := make([]Event, 0, len(rec.events))
	out = append(out, rec.events[rec.next:]...)
	out = append(out, rec.events[:rec.next]...)
	return out
}

// Len is the number of events currently held
func (rec *Recorder) Len() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.full {
		return len(rec.events)
	}

	return rec.next
}

// Multi fans an event out to every sink. A panicking sink does not stop
// delivery to the others.
type Multi []Sink

func (m Multi) Log(level Level, source, message, ticker string) {
	for _, sink := range m {
		Safe(sink, level, source, message, ticker)
	}
}

// Safe delivers one event and swallows any panic raised by the sink
func Safe(sink Sink, level Level, source, message, ticker string) {
	if sink == nil {
		return
	}

	defer func() {
		_ = recover()
	}()

	sink.Log(level, source, message, ticker)
}
