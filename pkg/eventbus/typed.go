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
	"fmt"
)

// ErrPayloadType is returned to the worker when a payload published on a
// topic does not match the type bound to that topic.
var ErrPayloadType = errors.New("unexpected payload type")

// Key binds a topic to its payload type so publishers and subscribers agree
// at compile time. The queue itself only carries the erased value.
type Key[T any] struct {
	Topic Topic
}

func NewKey[T any](topic Topic) Key[T] {
	return Key[T]{Topic: topic}
}

func (k Key[T]) Publish(b *Bus, payload T) {
	b.Publish(k.Topic, payload)
}

func (k Key[T]) Subscribe(b *Bus, fn func(T) error) func() {
	return b.Subscribe(k.Topic, func(ev Event) error {
		v, ok := ev.(T)
		if !ok {
			return fmt.Errorf("%w on %q: want %T, got %T", ErrPayloadType, k.Topic, v, ev)
		}
		return fn(v)
	})
}
