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

package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// ReadValue reads a register by name. Scaled registers always decode to
// float32; otherwise the register's own type is returned (float32, int16,
// uint16 or bool).
func (c *Client) ReadValue(ctx context.Context, name string) (any, error) {
	def, ok := c.config.Registers[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownRegister)
	}
	raw, err := c.readRegisters(ctx, def.Address, registerCount(def.DataType))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", name, err)
	}
	return decode(def, raw)
}

// ReadFloat reads a register and returns it as a float64 with scaling
// applied.
func (c *Client) ReadFloat(ctx context.Context, name string) (float64, error) {
	v, err := c.ReadValue(ctx, name)
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64E(v)
}

// WriteValue encodes value for the register's data type and writes it.
// Any numeric or bool value is accepted.
func (c *Client) WriteValue(ctx context.Context, name string, value any) error {
	def, ok := c.config.Registers[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownRegister)
	}
	if !def.Writable {
		return fmt.Errorf("register %q is read-only", name)
	}
	raw, n, err := encode(def, value)
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	c.log.Debug("write %q <- %v", name, value)
	if err := c.writeRegisters(ctx, def.Address, n, raw); err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}
	return nil
}

func registerCount(dataType string) uint16 {
	switch dataType {
	case "uint16", "int16", "bool":
		return 1
	case "float32":
		return 2
	default:
		return 0
	}
}

func decode(def RegisterDef, raw []byte) (any, error) {
	n := registerCount(def.DataType)
	if n == 0 {
		return nil, fmt.Errorf("unsupported data type %q", def.DataType)
	}
	if len(raw) < int(n)*2 {
		return nil, fmt.Errorf("short read: %d bytes for %s", len(raw), def.DataType)
	}

	var v float64
	switch def.DataType {
	case "bool":
		return binary.BigEndian.Uint16(raw) != 0, nil
	case "float32":
		f := math.Float32frombits(binary.BigEndian.Uint32(raw))
		if def.Scale == 0 {
			return f, nil
		}
		v = float64(f)
	case "int16":
		i := int16(binary.BigEndian.Uint16(raw))
		if def.Scale == 0 {
			return i, nil
		}
		v = float64(i)
	case "uint16":
		u := binary.BigEndian.Uint16(raw)
		if def.Scale == 0 {
			return u, nil
		}
		v = float64(u)
	}
	return float32(v*def.Scale + def.Offset), nil
}

func encode(def RegisterDef, value any) ([]byte, uint16, error) {
	v, err := cast.ToFloat64E(value)
	if err != nil {
		return nil, 0, fmt.Errorf("value is not numeric or bool (got %T)", value)
	}
	if def.Scale != 0 {
		v = (v - def.Offset) / def.Scale
	}

	switch def.DataType {
	case "float32":
		if v > math.MaxFloat32 || v < -math.MaxFloat32 {
			return nil, 0, fmt.Errorf("value %v out of float32 range", v)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf, 2, nil
	case "int16":
		i := math.Round(v)
		if i < math.MinInt16 || i > math.MaxInt16 {
			return nil, 0, fmt.Errorf("value %v out of int16 range", v)
		}
		return be16(uint16(int16(i))), 1, nil
	case "uint16":
		i := math.Round(v)
		if i < 0 || i > math.MaxUint16 {
			return nil, 0, fmt.Errorf("value %v out of uint16 range", v)
		}
		return be16(uint16(i)), 1, nil
	case "bool":
		if v != 0 {
			return be16(math.MaxUint16), 1, nil
		}
		return be16(0), 1, nil
	default:
		return nil, 0, fmt.Errorf("unsupported data type %q", def.DataType)
	}
}

func be16(v uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return buf
}
