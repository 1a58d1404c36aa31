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

package service

import (
	"context"
	"testing"
	"time"
)

func TestStart_CleanExit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 2)
	svc := Func(func(ctx context.Context) {
		ran <- struct{}{}
		<-ctx.Done()
	})
	done := Start(ctx, cancel, []Runnable{svc, svc})

	<-ran
	<-ran
	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Errorf("exit code = %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("services did not stop")
	}
}

func TestStart_PanicCancelsOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	waiter := Func(func(ctx context.Context) { <-ctx.Done() })
	crasher := Func(func(context.Context) { panic("boom") })

	select {
	case code := <-Start(ctx, cancel, []Runnable{waiter, crasher}):
		if code != -1 {
			t.Errorf("exit code = %d, want -1", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic did not shut down the other service")
	}
	if ctx.Err() == nil {
		t.Error("context not canceled")
	}
}
