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

package thresholds

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

type unitResponse struct {
	UnitID     int            `json:"unit_id"`
	Thresholds map[string]any `json:"thresholds"`
	Effective  map[string]any `json:"effective"` // after the day/night adjustment
	Changed    *bool          `json:"changed,omitempty"`
}

// ServeHTTP implements http.Handler
//
//	GET  /?unit=N -> stored thresholds of the unit and the values in force now
//	POST /?unit=N -> proposes a partial {"field": value} update
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "" && r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	unitID, err := strconv.Atoi(r.URL.Query().Get("unit"))
	if err != nil || unitID <= 0 {
		http.Error(w, "unit query parameter must be a positive integer", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, err := s.ResolveForUnit(r.Context(), unitID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, s.response(unitID, t, nil))

	case http.MethodPost:
		var proposed map[string]any
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&proposed); err != nil {
			http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
			return
		}
		t, changed, err := s.Update(r.Context(), unitID, proposed)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, s.response(unitID, t, &changed))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) response(unitID int, t EnvironmentalThresholds, changed *bool) unitResponse {
	return unitResponse{
		UnitID:     unitID,
		Thresholds: t.Record(),
		Effective:  s.ForTime(t, s.now()).Record(),
		Changed:    changed,
	}
}

func statusFor(err error) int {
	for _, target := range []error{ErrOutOfRange, ErrNotNumeric, ErrUnknownField, ErrMissing} {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
