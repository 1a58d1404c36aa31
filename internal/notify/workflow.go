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

package notify

import (
	"context"
	"errors"

	"sysgrow/internal/controller"
)

var ErrNoRecipient = errors.New("irrigation request has no user")

// DetectIrrigationNeed pushes an irrigation request to the dashboards of
// the unit, where the user confirms or dismisses it.
func (h *Hub) DetectIrrigationNeed(ctx context.Context, req controller.IrrigationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.UserID == 0 {
		return ErrNoRecipient
	}
	h.Broadcast(Message{Type: "irrigation_request", UnitID: req.UnitID, Data: req, At: req.At})
	h.log.Info("unit %d: irrigation request %s for plant %d (moisture %.1f < %.1f)",
		req.UnitID, req.TraceID, req.PlantID, req.Moisture, req.Threshold)
	return nil
}

var _ controller.IrrigationWorkflow = (*Hub)(nil)
