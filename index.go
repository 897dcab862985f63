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
	"io"
	"math"
	"sort"
	"time"

	"github.com/ctessum/sparse"
)

// Frequency is the period length over which an index is computed before
// climatological averaging.
type Frequency int

const (
	// Annual computes one index value per calendar year.
	Annual Frequency = iota
	// Monthly computes one index value per calendar month.
	Monthly
	// Seasonal computes one index value per three-month season
	// (DJF, MAM, JJA, SON), with December counted toward the
	// following year's DJF.
	Seasonal
)

// ParseFrequency converts a configuration string to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "annual":
		return Annual, nil
	case "monthly":
		return Monthly, nil
	case "seasonal":
		return Seasonal, nil
	}
	return 0, fmt.Errorf("climdex: invalid aggregation frequency %q (want annual, monthly, or seasonal)", s)
}

func (f Frequency) String() string {
	switch f {
	case Annual:
		return "annual"
	case Monthly:
		return "monthly"
	case Seasonal:
		return "seasonal"
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// Comparison is the relation a daily value must satisfy against the
// threshold for the day to count toward an index.
type Comparison int

const (
	// Below matches days with value < threshold (dryness).
	Below Comparison = iota
	// AtOrAbove matches days with value >= threshold (wetness).
	AtOrAbove
)

func (c Comparison) String() string {
	if c == Below {
		return "<"
	}
	return ">="
}

// satisfies reports whether v satisfies the comparison against thresh.
func (c Comparison) satisfies(v, thresh float64) bool {
	if c == Below {
		return v < thresh
	}
	return v >= thresh
}

// IndexKind identifies one of the supported extreme-event indices.
type IndexKind int

const (
	// MaxDryRun is the longest run of consecutive days with
	// precipitation below the threshold (CDD).
	MaxDryRun IndexKind = iota
	// MaxWetRun is the longest run of consecutive days with
	// precipitation at or above the threshold (CWD).
	MaxWetRun
	// ThresholdCount is the number of days with precipitation at or
	// above the threshold (e.g. R10mm).
	ThresholdCount
)

var indexNames = map[string]IndexKind{
	"cdd":   MaxDryRun,
	"cwd":   MaxWetRun,
	"r10mm": ThresholdCount,
}

// IndexByName returns the index identified by a configuration name.
func IndexByName(name string) (IndexKind, error) {
	k, ok := indexNames[name]
	if !ok {
		names := make([]string, 0, len(indexNames))
		for n := range indexNames {
			names = append(names, n)
		}
		sort.Strings(names)
		return 0, fmt.Errorf("climdex: unknown index %q (known indices: %v)", name, names)
	}
	return k, nil
}

// Name returns the short name used in configuration and output files.
func (k IndexKind) Name() string {
	switch k {
	case MaxDryRun:
		return "cdd"
	case MaxWetRun:
		return "cwd"
	case ThresholdCount:
		return "r10mm"
	}
	return fmt.Sprintf("IndexKind(%d)", int(k))
}

// Title returns a human-readable description for output metadata.
func (k IndexKind) Title() string {
	switch k {
	case MaxDryRun:
		return "Max Consecutive Dry Days (CDD)"
	case MaxWetRun:
		return "Max Consecutive Wet Days (CWD)"
	case ThresholdCount:
		return "Days At or Above Threshold Precipitation"
	}
	return k.Name()
}

// Comparison returns the threshold relation the index counts.
func (k IndexKind) Comparison() Comparison {
	if k == MaxDryRun {
		return Below
	}
	return AtOrAbove
}

// DefaultThreshold is the conventional threshold for the index in
// mm/day.
func (k IndexKind) DefaultThreshold() float64 {
	if k == ThresholdCount {
		return 10
	}
	return 1
}

// IndexConfig fully identifies one index computation.
type IndexConfig struct {
	Kind      IndexKind
	Threshold float64 // mm/day
	Freq      Frequency
}

// Valid returns an error describing any problem with the configuration.
func (c IndexConfig) Valid() error {
	if math.IsNaN(c.Threshold) || c.Threshold < 0 {
		return fmt.Errorf("climdex: index %s: invalid threshold %g", c.Kind.Name(), c.Threshold)
	}
	if c.Freq < Annual || c.Freq > Seasonal {
		return fmt.Errorf("climdex: index %s: invalid frequency %d", c.Kind.Name(), int(c.Freq))
	}
	return nil
}

// Period is one contiguous group of days over which an index value is
// computed.
type Period struct {
	// Label identifies the period, e.g. "2001", "2001-06", or
	// "2001-JJA".
	Label string
	// Days holds logical day indices into the dataset's time axis.
	Days []int
}

var seasonNames = [4]string{"DJF", "MAM", "JJA", "SON"}

// periodLabel returns the period a date belongs to under the given
// frequency. Seasons are keyed by the year containing their January
// (so December 2000 falls in 2001-DJF).
func periodLabel(t time.Time, freq Frequency) string {
	switch freq {
	case Monthly:
		return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
	case Seasonal:
		season := (int(t.Month()) % 12) / 3
		year := t.Year()
		if t.Month() == time.December {
			year++
		}
		return fmt.Sprintf("%04d-%s", year, seasonNames[season])
	default:
		return fmt.Sprintf("%04d", t.Year())
	}
}

// Partition groups a strictly increasing time axis into non-overlapping
// periods of the given frequency, in time order.
func Partition(times []time.Time, freq Frequency) []Period {
	var periods []Period
	for i, t := range times {
		label := periodLabel(t, freq)
		if len(periods) == 0 || periods[len(periods)-1].Label != label {
			periods = append(periods, Period{Label: label})
		}
		p := &periods[len(periods)-1]
		p.Days = append(p.Days, i)
	}
	return periods
}

// IndexResult holds per-period index values for every grid cell.
// It is immutable once returned.
type IndexResult struct {
	Config  IndexConfig
	Periods []Period
	Lats    []float64
	Lons    []float64
	// Values has shape [nperiod, nlat, nlon]. Units are days.
	Values *sparse.DenseArray
}

// ComputeIndex evaluates the configured index over the series produced
// by next, one value per period per cell. Cells are evaluated
// independently per period; a run of qualifying days never extends
// across a period boundary. A missing daily value invalidates that
// cell's value for the containing period.
//
// The function is pure: identical series, threshold, and frequency
// always produce identical output.
func ComputeIndex(next NextData, periods []Period, lats, lons []float64, cfg IndexConfig) (*IndexResult, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	nlat, nlon := len(lats), len(lons)
	values := sparse.ZerosDense(len(periods), nlat, nlon)
	cmp := cfg.Kind.Comparison()
	for pi := range periods {
		data, err := next()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("climdex: series ended after %d of %d periods", pi, len(periods))
			}
			return nil, err
		}
		ndays := data.Shape[0]
		mask := make([]bool, ndays)
		for j := 0; j < nlat; j++ {
			for i := 0; i < nlon; i++ {
				valid := true
				for t := 0; t < ndays; t++ {
					v := data.Get(t, j, i)
					if math.IsNaN(v) {
						valid = false
						break
					}
					mask[t] = cmp.satisfies(v, cfg.Threshold)
				}
				if !valid {
					values.Set(math.NaN(), pi, j, i)
					continue
				}
				var result int
				if cfg.Kind == ThresholdCount {
					for _, m := range mask {
						if m {
							result++
						}
					}
				} else {
					result = maxRun(mask)
				}
				values.Set(float64(result), pi, j, i)
			}
		}
	}
	return &IndexResult{
		Config:  cfg,
		Periods: periods,
		Lats:    lats,
		Lons:    lons,
		Values:  values,
	}, nil
}

// maxRun returns the length of the longest contiguous run of true values
// in mask, or 0 if there is none. The mask is padded with false on both
// ends and differenced: a false-to-true transition starts a run and a
// true-to-false transition ends one.
func maxRun(mask []bool) int {
	padded := make([]int, len(mask)+2)
	for i, m := range mask {
		if m {
			padded[i+1] = 1
		}
	}
	longest := 0
	start := -1
	for i := 1; i < len(padded); i++ {
		switch padded[i] - padded[i-1] {
		case 1:
			start = i
		case -1:
			if n := i - start; n > longest {
				longest = n
			}
		}
	}
	return longest
}

// Climatology reduces an index result to a single mean value per cell
// across all periods, skipping invalid period values. Cells with no
// valid period at all stay invalid; if any such cells exist the
// returned error is a FullyInvalidError describing how many, and the
// rest of the grid is still usable.
func Climatology(r *IndexResult) (*sparse.DenseArray, error) {
	nlat, nlon := len(r.Lats), len(r.Lons)
	out := sparse.ZerosDense(nlat, nlon)
	empty := 0
	for j := 0; j < nlat; j++ {
		for i := 0; i < nlon; i++ {
			sum := 0.
			n := 0
			for p := range r.Periods {
				v := r.Values.Get(p, j, i)
				if math.IsNaN(v) {
					continue
				}
				sum += v
				n++
			}
			if n == 0 {
				out.Set(math.NaN(), j, i)
				empty++
				continue
			}
			out.Set(sum/float64(n), j, i)
		}
	}
	if empty > 0 {
		return out, &FullyInvalidError{Cells: empty}
	}
	return out, nil
}

// allInvalid reports whether every element of the array is NaN.
func allInvalid(a *sparse.DenseArray) bool {
	for _, v := range a.Elements {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}
