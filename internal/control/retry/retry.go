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

// Package retry writes to actuators with a bounded number of attempts.
package retry

import (
	"context"
	"fmt"
	"time"

	"sysgrow/pkg/logger"
)

type Policy struct {
	Attempts int
	Delay    time.Duration
}

var Default = Policy{Attempts: 3, Delay: 500 * time.Millisecond}

// Writer retries a write callback. Each failure is logged; the last error
// is returned once all attempts are spent.
type Writer struct {
	policy Policy
	log    *logger.Logger
}

func NewWriter(name string, p Policy) *Writer {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	return &Writer{policy: p, log: logger.New(name)}
}

func (w *Writer) Do(ctx context.Context, write func(ctx context.Context) error) error {
	var err error
	for i := range w.policy.Attempts {
		if err = write(ctx); err == nil {
			return nil
		}
		w.log.Error("attempt %d/%d: %v", i+1, w.policy.Attempts, err)
		if i == w.policy.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.policy.Delay):
		}
	}
	return fmt.Errorf("write failed after %d attempts: %w", w.policy.Attempts, err)
}
