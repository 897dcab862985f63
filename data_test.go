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
	"math"
	"reflect"
	"testing"
	"time"
)

func TestDecodeTimesGregorian(t *testing.T) {
	got, err := decodeTimes("days since 2000-01-01", "standard", []float64{0, 31, 60})
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{
		date(2000, time.January, 1),
		date(2000, time.February, 1),
		date(2000, time.March, 1), // leap year
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v; want %v", got, want)
	}
}

func TestDecodeTimesNoLeap(t *testing.T) {
	got, err := decodeTimes("days since 2000-01-01", "noleap", []float64{0, 59, 364, 365})
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{
		date(2000, time.January, 1),
		date(2000, time.March, 1), // no February 29
		date(2000, time.December, 31),
		date(2001, time.January, 1),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v; want %v", got, want)
	}
}

func TestDecodeTimes360Day(t *testing.T) {
	got, err := decodeTimes("days since 2000-01-01", "360_day", []float64{0, 30, 359, 360})
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{
		date(2000, time.January, 1),
		date(2000, time.February, 1),
		date(2000, time.December, 30),
		date(2001, time.January, 1),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v; want %v", got, want)
	}
}

// TestDecodeTimes360DayFebruary checks the calendar days the Gregorian
// February does not have: they must stay in February, in strictly
// increasing order, so no day of the year is ever dropped or mislabeled
// into March.
func TestDecodeTimes360DayFebruary(t *testing.T) {
	offsets := make([]float64, 11)
	for i := range offsets {
		offsets[i] = float64(55 + i) // Feb 26 .. Mar 6 of a non-leap year
	}
	got, err := decodeTimes("days since 2001-01-01", "360_day", offsets)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].After(got[i-1]) {
			t.Fatalf("time axis not strictly increasing at offset %g: %v then %v",
				offsets[i], got[i-1], got[i])
		}
	}
	// Calendar days 27..30 of February (offsets 56..59) stay in February.
	for i := 1; i <= 4; i++ {
		if m := got[i].Month(); m != time.February {
			t.Errorf("offset %g: got month %v; want February", offsets[i], m)
		}
	}
	// Calendar March 1 (offset 60) is the real March 1.
	if want := date(2001, time.March, 1); !got[5].Equal(want) {
		t.Errorf("offset %g: got %v; want %v", offsets[5], got[5], want)
	}
}

func TestDecodeTimesHours(t *testing.T) {
	got, err := decodeTimes("hours since 2000-01-01 00:00:00", "standard", []float64{0, 24})
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{date(2000, time.January, 1), date(2000, time.January, 2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v; want %v", got, want)
	}
}

func TestDecodeTimesBadUnits(t *testing.T) {
	for _, units := range []string{"", "fortnights since 2000-01-01", "days until 2000-01-01"} {
		if _, err := decodeTimes(units, "standard", []float64{0}); err == nil {
			t.Errorf("expected error for units %q", units)
		}
	}
}

func TestCoordRange(t *testing.T) {
	coords := []float64{-35, -30, -25, -20, -15}
	tests := []struct {
		min, max float64
		i0, i1   int
	}{
		{-31, -19, 1, 4},
		{-35, -15, 0, 5},
		{-30, -30, 1, 2},
		{-10, 0, 0, 0},
	}
	for _, test := range tests {
		i0, i1 := coordRange(coords, test.min, test.max)
		if i0 != test.i0 || i1 != test.i1 {
			t.Errorf("coordRange(%g, %g) = (%d, %d); want (%d, %d)",
				test.min, test.max, i0, i1, test.i0, test.i1)
		}
	}
}

func TestSubset(t *testing.T) {
	d := &Dataset{
		path: "test.nc",
		lats: []float64{-35, -30, -25, -20},
		lons: []float64{15, 20, 25, 30, 35},
	}
	if err := d.Subset(-31, -19, 19, 31); err != nil {
		t.Fatal(err)
	}
	if want := []float64{-30, -25, -20}; !reflect.DeepEqual(d.Lats(), want) {
		t.Errorf("lats: got %v; want %v", d.Lats(), want)
	}
	if want := []float64{20, 25, 30}; !reflect.DeepEqual(d.Lons(), want) {
		t.Errorf("lons: got %v; want %v", d.Lons(), want)
	}
	if d.latStart != 1 || d.lonStart != 1 {
		t.Errorf("offsets: got (%d, %d); want (1, 1)", d.latStart, d.lonStart)
	}
}

func TestSubsetOutOfBounds(t *testing.T) {
	d := &Dataset{
		path: "test.nc",
		lats: []float64{-35, -30},
		lons: []float64{15, 20},
	}
	err := d.Subset(40, 50, 100, 110)
	serr, ok := err.(*SubsetError)
	if !ok {
		t.Fatalf("want SubsetError; got %v", err)
	}
	if serr.Path != "test.nc" {
		t.Errorf("path: got %q; want %q", serr.Path, "test.nc")
	}
}

func TestToFloat64s(t *testing.T) {
	want := []float64{1, 2, 3}
	for _, buf := range []interface{}{
		[]float64{1, 2, 3},
		[]float32{1, 2, 3},
		[]int32{1, 2, 3},
		[]int16{1, 2, 3},
	} {
		if got := toFloat64s(buf); !reflect.DeepEqual(got, want) {
			t.Errorf("toFloat64s(%T): got %v; want %v", buf, got, want)
		}
	}
}

func TestAttrFloat(t *testing.T) {
	for _, test := range []struct {
		in   interface{}
		want float64
	}{
		{[]float64{1.5}, 1.5},
		{[]float32{2.5}, 2.5},
		{float64(3.5), 3.5},
		{float32(4.5), 4.5},
	} {
		if got := attrFloat(test.in); got != test.want {
			t.Errorf("attrFloat(%v): got %g; want %g", test.in, got, test.want)
		}
	}
	if got := attrFloat("not a number"); !math.IsNaN(got) {
		t.Errorf("attrFloat(string): got %g; want NaN", got)
	}
}
