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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBus_DeliversOnWorker(t *testing.T) {
	bus := New(Options{Workers: 2, QueueSize: 8})
	bus.Start()
	defer bus.Close()

	got := make(chan Event, 1)
	bus.Subscribe("temperature_update", func(ev Event) error {
		got <- ev
		return nil
	})

	bus.Publish("temperature_update", 21.5)

	select {
	case ev := <-got:
		if ev != 21.5 {
			t.Errorf("payload = %v, want 21.5", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestBus_FIFOForSingleSubscriber(t *testing.T) {
	// default pool, several workers
	bus := New(Options{})
	bus.Start()
	defer bus.Close()

	const n = 200
	var mu sync.Mutex
	var seen []int
	bus.Subscribe("temperature_update", func(ev Event) error {
		v := ev.(int)
		if v%2 == 0 {
			time.Sleep(50 * time.Microsecond)
		}
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		return nil
	})

	for i := range n {
		bus.Publish("temperature_update", i)
	}

	waitFor(t, "all deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("seen[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestBus_SlowSubscriberDoesNotHoldOthers(t *testing.T) {
	bus := New(Options{Workers: 2, QueueSize: 16})
	bus.Start()
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe("soil_moisture_update", func(Event) error {
		<-release
		return nil
	})
	got := make(chan Event, 4)
	bus.Subscribe("humidity_update", func(ev Event) error {
		got <- ev
		return nil
	})

	bus.Publish("soil_moisture_update", 1)
	bus.Publish("soil_moisture_update", 2)
	bus.Publish("humidity_update", 55.0)

	select {
	case ev := <-got:
		if ev != 55.0 {
			t.Errorf("payload = %v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("humidity subscriber starved by a blocked subscriber")
	}
	close(release)
	waitFor(t, "drained", func() bool { return bus.Metrics().Delivered == 3 })
	if d := bus.Metrics().QueueDepth; d != 0 {
		t.Errorf("QueueDepth = %d, want 0", d)
	}
}

func TestBus_QueueFullDropsRemainingSubscribers(t *testing.T) {
	// workers not started yet, so the queue only fills
	bus := New(Options{Workers: 1, QueueSize: 2})

	var calls [5]atomic.Int32
	for i := range calls {
		bus.Subscribe("co2_update", func(Event) error {
			calls[i].Add(1)
			return nil
		})
	}

	bus.Publish("co2_update", 800.0)

	m := bus.Metrics()
	if m.DroppedTotal != 3 {
		t.Errorf("DroppedTotal = %d, want 3", m.DroppedTotal)
	}
	if m.QueueDepth != 2 {
		t.Errorf("QueueDepth = %d, want 2", m.QueueDepth)
	}
	if len(m.TopDropped) != 1 || m.TopDropped[0].Topic != "co2_update" || m.TopDropped[0].Count != 3 {
		t.Errorf("TopDropped = %+v", m.TopDropped)
	}

	bus.Start()
	bus.Close()

	for i := range calls {
		want := int32(0)
		if i < 2 {
			want = 1
		}
		if got := calls[i].Load(); got != want {
			t.Errorf("subscriber %d called %d times, want %d", i, got, want)
		}
	}
}

func TestBus_FailingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := New(Options{Workers: 1, QueueSize: 8})
	bus.Start()
	defer bus.Close()

	bus.Subscribe("topic_a", func(Event) error {
		panic("boom")
	})
	bus.Subscribe("topic_a", func(Event) error {
		return errors.New("bad reading")
	})

	delivered := make(chan struct{}, 1)
	bus.Subscribe("topic_b", func(Event) error {
		delivered <- struct{}{}
		return nil
	})

	bus.Publish("topic_a", nil)
	bus.Publish("topic_b", nil)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("topic_b subscriber was not reached after topic_a failures")
	}

	waitFor(t, "failures counted", func() bool { return bus.Metrics().Failed == 2 })
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := New(Options{Workers: 1, QueueSize: 8})

	unsub := bus.Subscribe("ec_update", func(Event) error { return nil })
	bus.Subscribe("ec_update", func(Event) error { return nil })

	if n := bus.SubscriberCount(); n != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", n)
	}
	unsub()
	unsub()
	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("SubscriberCount after double unsubscribe = %d, want 1", n)
	}
}

func TestBus_SubscribeDuringDispatchUsesSnapshot(t *testing.T) {
	bus := New(Options{Workers: 1, QueueSize: 8})

	var late atomic.Int32
	bus.Subscribe("voc_update", func(Event) error {
		bus.Subscribe("voc_update", func(Event) error {
			late.Add(1)
			return nil
		})
		return nil
	})

	bus.Publish("voc_update", 1)
	bus.Start()
	bus.Close()

	if late.Load() != 0 {
		t.Error("subscriber added during dispatch received the in-flight event")
	}
}

func TestBus_PublishAfterCloseCountsDrops(t *testing.T) {
	bus := New(Options{Workers: 1, QueueSize: 8})
	bus.Subscribe("lux", func(Event) error { return nil })
	bus.Start()
	bus.Close()

	bus.Publish("lux", 1)
	bus.Close()

	if got := bus.Metrics().DroppedTotal; got != 1 {
		t.Errorf("DroppedTotal = %d, want 1", got)
	}
}

func TestBus_NoSubscribersIsNotADrop(t *testing.T) {
	bus := New(Options{Workers: 1, QueueSize: 1})
	bus.Publish("nobody", 1)
	bus.Publish("nobody", 2)
	if got := bus.Metrics().DroppedTotal; got != 0 {
		t.Errorf("DroppedTotal = %d, want 0", got)
	}
}

type reading struct {
	UnitID int
	Value  float64
}

func TestKey_TypedRoundTrip(t *testing.T) {
	bus := New(Options{Workers: 1, QueueSize: 8})
	bus.Start()
	defer bus.Close()

	key := NewKey[reading]("temperature_update")
	got := make(chan reading, 1)
	key.Subscribe(bus, func(r reading) error {
		got <- r
		return nil
	})

	key.Publish(bus, reading{UnitID: 1, Value: 22})

	select {
	case r := <-got:
		if r.UnitID != 1 || r.Value != 22 {
			t.Errorf("got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typed subscriber not called")
	}
}

func TestKey_WrongPayloadTypeIsAFailure(t *testing.T) {
	bus := New(Options{Workers: 1, QueueSize: 8})
	bus.Start()
	defer bus.Close()

	key := NewKey[reading]("temperature_update")
	key.Subscribe(bus, func(reading) error {
		t.Error("handler called with wrong payload type")
		return nil
	})

	bus.Publish("temperature_update", "not a reading")
	waitFor(t, "type failure", func() bool { return bus.Metrics().Failed == 1 })
}
