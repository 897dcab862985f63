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
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// SecondsPerDay converts a precipitation flux in kg m-2 s-1 to a depth in
// mm/day (1 kg m-2 equals 1 mm of water).
const SecondsPerDay = 86400.

// NextData is a type of function that returns data for the next time
// period. If there are no more periods, it should return the io.EOF error.
type NextData func() (*sparse.DenseArray, error)

// Dataset is a daily gridded time series for a single physical variable,
// backed by a NetCDF file. Day slabs are read lazily; nothing beyond the
// coordinate axes is materialized until an index calculation consumes the
// series.
type Dataset struct {
	path    string
	f       *os.File
	ff      *cdf.File
	varName string

	// times is the decoded time axis, strictly monotonic with
	// duplicates dropped. timeIdx maps each entry to its record index
	// in the underlying file.
	times   []time.Time
	timeIdx []int

	lats, lons []float64

	// latStart and lonStart are offsets into the file's full coordinate
	// axes after subsetting.
	latStart, lonStart int

	fill  float64
	scale float64
}

// OpenDataset opens the NetCDF file at path and validates that it
// contains the variable varName with a decodable time coordinate.
func OpenDataset(path, varName string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	ff, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, &LoadError{Path: path, Err: err}
	}
	d := &Dataset{
		path:    path,
		f:       f,
		ff:      ff,
		varName: varName,
		fill:    math.NaN(),
		scale:   1,
	}
	if err := d.init(); err != nil {
		f.Close()
		return nil, &LoadError{Path: path, Err: err}
	}
	return d, nil
}

// Close closes the underlying file.
func (d *Dataset) Close() error { return d.f.Close() }

// Path returns the location of the underlying file.
func (d *Dataset) Path() string { return d.path }

// Lats returns the latitude coordinates of the (possibly subset) grid.
func (d *Dataset) Lats() []float64 { return d.lats }

// Lons returns the longitude coordinates of the (possibly subset) grid.
func (d *Dataset) Lons() []float64 { return d.lons }

// Times returns the decoded time axis.
func (d *Dataset) Times() []time.Time { return d.times }

func (d *Dataset) init() error {
	dims := d.ff.Header.Lengths(d.varName)
	if len(dims) == 0 {
		return fmt.Errorf("variable %s not in file", d.varName)
	}
	if len(dims) != 3 {
		return fmt.Errorf("variable %s has %d dimensions; need 3 (time, lat, lon)", d.varName, len(dims))
	}
	var err error
	if d.lats, err = d.readCoord("lat"); err != nil {
		return err
	}
	if d.lons, err = d.readCoord("lon"); err != nil {
		return err
	}
	if err = d.readTimes(); err != nil {
		return err
	}
	if v := d.ff.Header.GetAttribute(d.varName, "_FillValue"); v != nil {
		d.fill = attrFloat(v)
	} else if v := d.ff.Header.GetAttribute(d.varName, "missing_value"); v != nil {
		d.fill = attrFloat(v)
	}
	return nil
}

// readCoord reads a 1-D coordinate variable.
func (d *Dataset) readCoord(name string) ([]float64, error) {
	dims := d.ff.Header.Lengths(name)
	if len(dims) != 1 {
		return nil, fmt.Errorf("coordinate %s not in file", name)
	}
	r := d.ff.Reader(name, nil, nil)
	buf := r.Zero(dims[0])
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading coordinate %s: %v", name, err)
	}
	return toFloat64s(buf), nil
}

// readTimes decodes the time coordinate into calendar dates, enforcing
// strict monotonicity by dropping any entry that does not advance past
// its predecessor.
func (d *Dataset) readTimes() error {
	offsets, err := d.readCoord("time")
	if err != nil {
		return err
	}
	units, _ := d.ff.Header.GetAttribute("time", "units").(string)
	calendar, _ := d.ff.Header.GetAttribute("time", "calendar").(string)
	times, err := decodeTimes(units, calendar, offsets)
	if err != nil {
		return err
	}
	d.times = d.times[:0]
	d.timeIdx = d.timeIdx[:0]
	for i, t := range times {
		if len(d.times) > 0 && !t.After(d.times[len(d.times)-1]) {
			continue
		}
		d.times = append(d.times, t)
		d.timeIdx = append(d.timeIdx, i)
	}
	if len(d.times) == 0 {
		return fmt.Errorf("empty time coordinate")
	}
	return nil
}

// Subset restricts the dataset to the grid cells whose centers fall
// within the given coordinate ranges. It returns a SubsetError if the
// bounds exclude the entire grid.
func (d *Dataset) Subset(latMin, latMax, lonMin, lonMax float64) error {
	lat0, lat1 := coordRange(d.lats, latMin, latMax)
	lon0, lon1 := coordRange(d.lons, lonMin, lonMax)
	if lat0 >= lat1 || lon0 >= lon1 ||
		latMin > floats.Max(d.lats) || latMax < floats.Min(d.lats) ||
		lonMin > floats.Max(d.lons) || lonMax < floats.Min(d.lons) {
		return &SubsetError{Path: d.path,
			LatMin: latMin, LatMax: latMax, LonMin: lonMin, LonMax: lonMax}
	}
	d.latStart += lat0
	d.lonStart += lon0
	d.lats = d.lats[lat0:lat1]
	d.lons = d.lons[lon0:lon1]
	return nil
}

// coordRange returns the half-open index range of coordinate values
// within [min, max]. Coordinates are assumed to ascend.
func coordRange(coords []float64, min, max float64) (int, int) {
	i0 := len(coords)
	i1 := 0
	for i, c := range coords {
		if c >= min && c <= max {
			if i < i0 {
				i0 = i
			}
			i1 = i + 1
		}
	}
	if i0 > i1 {
		return 0, 0
	}
	return i0, i1
}

// ConvertUnits applies a multiplicative scale to every value
// subsequently read from the dataset, converting for example a
// precipitation flux in kg m-2 s-1 to a depth in mm/day.
func (d *Dataset) ConvertUnits(scale float64) { d.scale = scale }

// readDay reads the grid for logical day i, applying the unit scale and
// converting fill values to NaN.
func (d *Dataset) readDay(i int) (*sparse.DenseArray, error) {
	t := d.timeIdx[i]
	start := []int{t, d.latStart, d.lonStart}
	end := []int{t + 1, d.latStart + len(d.lats), d.lonStart + len(d.lons)}
	r := d.ff.Reader(d.varName, start, end)
	n := len(d.lats) * len(d.lons)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("climdex: reading %s day %d from %s: %v", d.varName, i, d.path, err)
	}
	vals := toFloat64s(buf)
	data := sparse.ZerosDense(len(d.lats), len(d.lons))
	for j, v := range vals {
		if math.IsNaN(v) || (!math.IsNaN(d.fill) && v == d.fill) {
			data.Elements[j] = math.NaN()
		} else {
			data.Elements[j] = v * d.scale
		}
	}
	return data, nil
}

// PeriodSeries returns an iterator over the given periods. Each call
// reads and returns one period's days as an array with shape
// [ndays, nlat, nlon]; after the final period it returns io.EOF.
func (d *Dataset) PeriodSeries(periods []Period) NextData {
	i := 0
	return func() (*sparse.DenseArray, error) {
		if i >= len(periods) {
			return nil, io.EOF
		}
		p := periods[i]
		i++
		out := sparse.ZerosDense(len(p.Days), len(d.lats), len(d.lons))
		n := len(d.lats) * len(d.lons)
		for k, day := range p.Days {
			data, err := d.readDay(day)
			if err != nil {
				return nil, err
			}
			copy(out.Elements[k*n:(k+1)*n], data.Elements)
		}
		return out, nil
	}
}

// toFloat64s converts a buffer returned by a cdf reader to float64s.
func toFloat64s(buf interface{}) []float64 {
	switch b := buf.(type) {
	case []float64:
		return b
	case []float32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o
	case []int32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o
	case []int16:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o
	default:
		panic(fmt.Errorf("climdex: unsupported netcdf buffer type %T", buf))
	}
}

func attrFloat(v interface{}) float64 {
	switch a := v.(type) {
	case []float64:
		if len(a) > 0 {
			return a[0]
		}
	case []float32:
		if len(a) > 0 {
			return float64(a[0])
		}
	case float64:
		return a
	case float32:
		return float64(a)
	}
	return math.NaN()
}

// decodeTimes converts raw time coordinate values to dates using the
// given CF units string (e.g. "days since 1850-01-01") and calendar.
// The 365-day and 360-day model calendars are handled explicitly;
// anything else is treated as proleptic Gregorian.
func decodeTimes(units, calendar string, offsets []float64) ([]time.Time, error) {
	fields := strings.Fields(units)
	if len(fields) < 3 || strings.ToLower(fields[1]) != "since" {
		return nil, fmt.Errorf("cannot parse time units %q", units)
	}
	var unitHours float64
	switch strings.ToLower(strings.TrimSuffix(fields[0], "s")) {
	case "day":
		unitHours = 24
	case "hour":
		unitHours = 1
	default:
		return nil, fmt.Errorf("unsupported time unit %q", fields[0])
	}
	base, err := parseBaseTime(fields[2:])
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(offsets))
	switch strings.ToLower(calendar) {
	case "noleap", "365_day":
		for i, o := range offsets {
			out[i] = addNoLeap(base, o*unitHours/24)
		}
	case "360_day":
		for i, o := range offsets {
			out[i] = add360Day(base, math.Floor(o*unitHours/24))
		}
	default:
		for i, o := range offsets {
			out[i] = base.Add(time.Duration(o * unitHours * float64(time.Hour)))
		}
	}
	return out, nil
}

func parseBaseTime(fields []string) (time.Time, error) {
	s := fields[0]
	if len(fields) > 1 {
		s += " " + fields[1]
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02",
		"2006-1-2 15:04:05", "2006-1-2",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse base time %q", strings.Join(fields, " "))
}

// add360Day advances base by the given number of days in a calendar of
// twelve 30-day months. The (year, month, day 1..30) result is computed
// arithmetically, never through Gregorian normalization: a calendar day
// past the end of the real month (February 29 or 30) is clamped to the
// month's last day and given an intra-day hour offset, so the axis
// stays strictly increasing and every day stays in its own month.
func add360Day(base time.Time, days float64) time.Time {
	d := base.Day() - 1 + int(days)
	m := int(base.Month()) - 1 + d/30
	d %= 30
	if d < 0 {
		d += 30
		m--
	}
	y := base.Year() + m/12
	m %= 12
	if m < 0 {
		m += 12
		y--
	}
	month := time.Month(m + 1)
	dom := d + 1
	hour := 0
	if last := time.Date(y, month+1, 0, 0, 0, 0, 0, time.UTC).Day(); dom > last {
		hour = (dom - last) * 8
		dom = last
	}
	return time.Date(y, month, dom, hour, 0, 0, 0, time.UTC)
}

// daysBeforeMonth[m] is the day of year (0-based) on which month m+1
// starts in a 365-day calendar.
var daysBeforeMonth = [12]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

// addNoLeap advances base by the given number of days in a calendar
// without leap years.
func addNoLeap(base time.Time, days float64) time.Time {
	doy := daysBeforeMonth[base.Month()-1] + base.Day() - 1
	total := doy + int(math.Floor(days))
	year := base.Year() + total/365
	rem := total % 365
	if rem < 0 {
		rem += 365
		year--
	}
	month := 11
	for m := 0; m < 12; m++ {
		if rem < daysBeforeMonth[m] {
			month = m - 1
			break
		}
	}
	return time.Date(year, time.Month(month+1), rem-daysBeforeMonth[month]+1, 0, 0, 0, 0, time.UTC)
}
