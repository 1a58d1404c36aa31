// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package eventbus

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// TopicDrops is the drop count attributed to one topic.
type TopicDrops struct {
	Topic Topic `json:"topic"`
	Count int64 `json:"count"`
}

// DropCounter tracks events the bus could not enqueue. Per-topic counts are
// bounded to topN entries; when a new topic arrives at capacity the least
// dropped topic is evicted.
//
// Warnings are rate-limited: once threshold drops have piled up since the
// last summary, at most one summary is emitted per interval.
type DropCounter struct {
	mu        sync.Mutex
	total     int64
	byTopic   map[Topic]int64
	topN      int
	sinceWarn int64
	lastWarn  time.Time
	threshold int64
	interval  time.Duration

	now  func() time.Time
	warn func(format string, v ...any)
}

func NewDropCounter(topN, threshold int, interval time.Duration, warn func(string, ...any)) *DropCounter {
	if warn == nil {
		warn = func(string, ...any) {}
	}
	return &DropCounter{
		byTopic:   make(map[Topic]int64),
		topN:      topN,
		threshold: int64(threshold),
		interval:  interval,
		now:       time.Now,
		warn:      warn,
	}
}

// Record counts n dropped callbacks for topic.
func (d *DropCounter) Record(topic Topic, n int) {
	if n <= 0 {
		return
	}

	d.mu.Lock()
	d.total += int64(n)
	d.sinceWarn += int64(n)

	if _, ok := d.byTopic[topic]; !ok && len(d.byTopic) >= d.topN {
		d.evictSmallest()
	}
	d.byTopic[topic] += int64(n)

	var summary string
	now := d.now()
	if d.sinceWarn >= d.threshold && (d.lastWarn.IsZero() || now.Sub(d.lastWarn) >= d.interval) {
		summary = fmt.Sprintf("queue full: %d events dropped since last report (%d total), top topics: %s",
			d.sinceWarn, d.total, formatTop(d.topLocked()))
		d.sinceWarn = 0
		d.lastWarn = now
	}
	d.mu.Unlock()

	if summary != "" {
		d.warn("%s", summary)
	}
}

func (d *DropCounter) evictSmallest() {
	var victim Topic
	lowest := int64(-1)
	for t, c := range d.byTopic {
		if lowest < 0 || c < lowest || (c == lowest && t < victim) {
			victim, lowest = t, c
		}
	}
	delete(d.byTopic, victim)
}

// Total is every drop since the bus was created.
func (d *DropCounter) Total() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Recent is the number of drops since the last warning summary.
func (d *DropCounter) Recent() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sinceWarn
}

// Top returns the retained topics ordered by drop count, highest first.
func (d *DropCounter) Top() []TopicDrops {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.topLocked()
}

func (d *DropCounter) topLocked() []TopicDrops {
	out := make([]TopicDrops, 0, len(d.byTopic))
	for t, c := range d.byTopic {
		out = append(out, TopicDrops{Topic: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

func formatTop(top []TopicDrops) string {
	parts := make([]string, 0, len(top))
	for _, td := range top {
		parts = append(parts, fmt.Sprintf("%s=%d", td.Topic, td.Count))
	}
	return strings.Join(parts, ", ")
}
