// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package progress is the in-memory event log per task: append-only,
// per-task monotonic sequencing, and replayable subscriptions.
package progress

import (
	"context"
	"sync"
	"time"
)

// Kind classifies a progress event.
type Kind string

const (
	KindToolStart    Kind = "tool_start"
	KindToolEnd      Kind = "tool_end"
	KindLLMDelta     Kind = "llm_delta"
	KindReflection   Kind = "reflection"
	KindStatusChange Kind = "status_change"
	KindError        Kind = "error"
)

// Event is one immutable, sequenced record of a state change.
type Event struct {
	TaskID    string         `json:"task_id"`
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"type"`
	Data      map[string]any `json:"data"`
}

// subscriber headroom beyond the replayed backlog.
const subscriberBuffer = 256

type subscriber struct {
	ch chan Event
}

// stream is the event log for one task.
type stream struct {
	mu     sync.Mutex
	seq    uint64
	events []Event
	subs   map[*subscriber]struct{}
	closed bool
}

// Bus owns every task's event stream. It is the only appender; events
// are immutable once published.
type Bus struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{streams: make(map[string]*stream)}
}

func (b *Bus) getOrCreate(taskID string) *stream {
	b.mu.RLock()
	s, ok := b.streams[taskID]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.streams[taskID]; ok {
		return s
	}
	s = &stream{subs: make(map[*subscriber]struct{})}
	b.streams[taskID] = s
	return s
}

// Publish appends one event and delivers it to live subscribers.
// Sequences start at zero and increase by one; a subscriber that cannot
// keep up is disconnected rather than shown a gap.
func (b *Bus) Publish(taskID string, kind Kind, data map[string]any) Event {
	s := b.getOrCreate(taskID)

	s.mu.Lock()
	defer s.mu.Unlock()

	event := Event{
		TaskID:    taskID,
		Sequence:  s.seq,
		Timestamp: time.Now(),
		Kind:      kind,
		Data:      data,
	}
	s.seq++
	s.events = append(s.events, event)

	for sub := range s.subs {
		select {
		case sub.ch <- event:
		default:
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
	return event
}

// Subscribe returns a channel that first replays every event already
// published for the task, in order from sequence zero, then delivers
// live events. The channel closes when the stream is closed, the
// subscriber falls behind, or ctx is done.
func (b *Bus) Subscribe(ctx context.Context, taskID string) <-chan Event {
	s := b.getOrCreate(taskID)

	s.mu.Lock()
	sub := &subscriber{ch: make(chan Event, len(s.events)+subscriberBuffer)}
	for _, event := range s.events {
		sub.ch <- event
	}
	if s.closed {
		close(sub.ch)
		s.mu.Unlock()
		return sub.ch
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
		s.mu.Unlock()
	}()

	return sub.ch
}

// CloseStream marks a task's stream terminal. Live subscribers drain and
// close; late subscribers still get the full replay.
func (b *Bus) CloseStream(taskID string) {
	b.mu.RLock()
	s, ok := b.streams[taskID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// Drop discards a task's stream entirely. Retention policy hook for
// archived tasks.
func (b *Bus) Drop(taskID string) {
	b.CloseStream(taskID)
	b.mu.Lock()
	delete(b.streams, taskID)
	b.mu.Unlock()
}

// Events returns a copy of the task's event log.
func (b *Bus) Events(taskID string) []Event {
	b.mu.RLock()
	s, ok := b.streams[taskID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
