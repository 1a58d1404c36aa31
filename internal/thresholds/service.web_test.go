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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sysgrow/internal/events"
)

func TestServeHTTP_GetAndUpdate(t *testing.T) {
	store := newMemStore()
	s, _ := newTestService(t, store, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/?unit=2", strings.NewReader(`{"temperature": 26}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		UnitID     int                `json:"unit_id"`
		Thresholds map[string]float64 `json:"thresholds"`
		Changed    *bool              `json:"changed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.UnitID != 2 || resp.Thresholds["temperature"] != 26 || resp.Changed == nil || !*resp.Changed {
		t.Errorf("response = %+v", resp)
	}
	if store.values[2][events.Temperature] != 26 {
		t.Errorf("stored = %v", store.values[2])
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?unit=2", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"temperature":26`) {
		t.Errorf("GET = %d %s", rec.Code, rec.Body)
	}
}

func TestServeHTTP_Rejects(t *testing.T) {
	s, _ := newTestService(t, newMemStore(), nil)

	tests := map[string]struct {
		method, target, body string
		want                 int
	}{
		"missing unit": {http.MethodGet, "/", "", http.StatusBadRequest},
		"bad json":     {http.MethodPost, "/?unit=1", "{", http.StatusBadRequest},
		"out of range": {http.MethodPost, "/?unit=1", `{"temperature": 150}`, http.StatusBadRequest},
		"not numeric":  {http.MethodPost, "/?unit=1", `{"humidity": "wet"}`, http.StatusBadRequest},
		"method":       {http.MethodDelete, "/?unit=1", "", http.StatusMethodNotAllowed},
		"sub path":     {http.MethodGet, "/other?unit=1", "", http.StatusNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}
