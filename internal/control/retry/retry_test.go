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

package retry

import (
	"context"
	"errors"
	"testing"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	w := NewWriter("test", Policy{Attempts: 3})
	calls := 0
	err := w.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDo_GivesUp(t *testing.T) {
	w := NewWriter("test", Policy{Attempts: 2})
	busy := errors.New("busy")
	calls := 0
	err := w.Do(context.Background(), func(context.Context) error {
		calls++
		return busy
	})
	if !errors.Is(err, busy) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDo_StopsOnCancel(t *testing.T) {
	w := NewWriter("test", Default)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Do(ctx, func(context.Context) error { return errors.New("busy") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
