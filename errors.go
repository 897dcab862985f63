/*
Copyright © 2025 the climdex authors.
This file is part of climdex.

climdex is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

climdex is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with climdex.  If not, see <http://www.gnu.org/licenses/>.
*/

package climdex

import (
	"fmt"
	"strings"
)

// LoadError is returned when an input file cannot be opened or does not
// contain the required variable or time coordinate.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("climdex: loading %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SubsetError is returned when the configured bounding box falls entirely
// outside of a file's spatial extent.
type SubsetError struct {
	Path                           string
	LatMin, LatMax, LonMin, LonMax float64
}

func (e *SubsetError) Error() string {
	return fmt.Sprintf("climdex: subsetting %s: bounds [%g,%g]x[%g,%g] outside grid extent",
		e.Path, e.LatMin, e.LatMax, e.LonMin, e.LonMax)
}

// ComputeError is returned when an index cannot be computed for a file,
// either because the configuration is invalid or because the computed
// period series contains no valid values at all.
type ComputeError struct {
	Path string
	Err  error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("climdex: computing index for %s: %v", e.Path, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

// FullyInvalidError reports grid cells for which every period value is
// invalid, so no climatological mean exists. It affects only the listed
// cells; the remainder of the result is usable.
type FullyInvalidError struct {
	Cells int
}

func (e *FullyInvalidError) Error() string {
	return fmt.Sprintf("climdex: %d grid cells have no valid period values", e.Cells)
}

// EmptyRegionError reports regions to which no grid cell was assigned.
// The corresponding summary entries are invalid; other regions are
// unaffected.
type EmptyRegionError struct {
	Regions []string
}

func (e *EmptyRegionError) Error() string {
	return fmt.Sprintf("climdex: no grid cells assigned to region(s) %s",
		strings.Join(e.Regions, ", "))
}

// NoDataError is returned when zero models completed successfully for an
// experiment, so no ensemble can be built. It is fatal only to that
// experiment.
type NoDataError struct {
	Experiment string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("climdex: no successfully processed models for experiment %s", e.Experiment)
}
