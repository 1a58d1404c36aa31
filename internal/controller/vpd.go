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

package controller

import (
	"fmt"
	"math"
)

// VPD returns the vapour pressure deficit in kPa for an air temperature in
// °C and relative humidity in percent (Tetens equation).
func VPD(tempC, rh float64) (float64, error) {
	if math.IsNaN(tempC) || math.IsNaN(rh) {
		return 0, fmt.Errorf("vpd: NaN input")
	}
	if tempC < -50 || tempC > 100 {
		return 0, fmt.Errorf("vpd: temperature %.1f out of range", tempC)
	}
	if rh < 0 || rh > 100 {
		return 0, fmt.Errorf("vpd: humidity %.1f out of range", rh)
	}
	svp := 0.6108 * math.Exp(17.27*tempC/(tempC+237.3))
	return svp * (1 - rh/100), nil
}
