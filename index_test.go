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
	"io"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/ctessum/sparse"
)

// seriesFromDays returns a NextData iterator over pre-built single-cell
// periods, each given as a slice of daily values.
func seriesFromDays(periods ...[]float64) NextData {
	i := 0
	return func() (*sparse.DenseArray, error) {
		if i >= len(periods) {
			return nil, io.EOF
		}
		days := periods[i]
		i++
		out := sparse.ZerosDense(len(days), 1, 1)
		copy(out.Elements, days)
		return out, nil
	}
}

func singleCellPeriods(n int) []Period {
	periods := make([]Period, n)
	for i := range periods {
		periods[i] = Period{Label: string(rune('a' + i))}
	}
	return periods
}

func TestMaxRun(t *testing.T) {
	tests := []struct {
		mask []bool
		want int
	}{
		{[]bool{}, 0},
		{[]bool{false, false}, 0},
		{[]bool{true}, 1},
		{[]bool{true, true, true}, 3},
		{[]bool{false, true, true, true, false, true, true, false}, 3},
		{[]bool{true, false, true, true}, 2},
		{[]bool{true, true, false, true, true, true}, 3},
	}
	for i, test := range tests {
		if got := maxRun(test.mask); got != test.want {
			t.Errorf("case %d: maxRun(%v) = %d; want %d", i, test.mask, got, test.want)
		}
	}
}

func TestComputeIndex(t *testing.T) {
	lats, lons := []float64{0}, []float64{0}
	tests := []struct {
		name string
		cfg  IndexConfig
		days []float64
		want float64
	}{
		{
			name: "cdd",
			cfg:  IndexConfig{Kind: MaxDryRun, Threshold: 1, Freq: Annual},
			days: []float64{2, 0, 0, 0, 3, 0, 0, 1},
			want: 3,
		},
		{
			name: "cwd",
			cfg:  IndexConfig{Kind: MaxWetRun, Threshold: 1, Freq: Annual},
			days: []float64{2, 0, 0, 0, 3, 0, 0, 1},
			want: 2,
		},
		{
			name: "r10mm",
			cfg:  IndexConfig{Kind: ThresholdCount, Threshold: 10, Freq: Annual},
			days: []float64{12, 4, 15, 9, 10},
			want: 3,
		},
		{
			name: "all dry",
			cfg:  IndexConfig{Kind: MaxDryRun, Threshold: 1, Freq: Annual},
			days: []float64{0, 0, 0, 0},
			want: 4,
		},
		{
			name: "no qualifying days",
			cfg:  IndexConfig{Kind: MaxWetRun, Threshold: 1, Freq: Annual},
			days: []float64{0, 0, 0},
			want: 0,
		},
	}
	for _, test := range tests {
		r, err := ComputeIndex(seriesFromDays(test.days), singleCellPeriods(1), lats, lons, test.cfg)
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if got := r.Values.Get(0, 0, 0); got != test.want {
			t.Errorf("%s: got %g; want %g", test.name, got, test.want)
		}
	}
}

func TestComputeIndexPure(t *testing.T) {
	cfg := IndexConfig{Kind: MaxDryRun, Threshold: 1, Freq: Annual}
	days := []float64{2, 0, 0, 0, 3, 0, 0, 1}
	lats, lons := []float64{0}, []float64{0}
	a, err := ComputeIndex(seriesFromDays(days), singleCellPeriods(1), lats, lons, cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ComputeIndex(seriesFromDays(days), singleCellPeriods(1), lats, lons, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Values.Elements, b.Values.Elements) {
		t.Errorf("identical inputs gave %v and %v", a.Values.Elements, b.Values.Elements)
	}
}

func TestComputeIndexMissingDay(t *testing.T) {
	cfg := IndexConfig{Kind: MaxDryRun, Threshold: 1, Freq: Annual}
	r, err := ComputeIndex(
		seriesFromDays([]float64{0, math.NaN(), 0}, []float64{0, 0}),
		singleCellPeriods(2), []float64{0}, []float64{0}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v := r.Values.Get(0, 0, 0); !math.IsNaN(v) {
		t.Errorf("period with missing day: got %g; want NaN", v)
	}
	if v := r.Values.Get(1, 0, 0); v != 2 {
		t.Errorf("clean period: got %g; want 2", v)
	}
}

func TestComputeIndexShortSeries(t *testing.T) {
	cfg := IndexConfig{Kind: MaxDryRun, Threshold: 1, Freq: Annual}
	_, err := ComputeIndex(seriesFromDays([]float64{0}), singleCellPeriods(2),
		[]float64{0}, []float64{0}, cfg)
	if err == nil {
		t.Fatal("expected error for series ending early")
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPartition(t *testing.T) {
	times := []time.Time{
		date(2000, time.November, 30),
		date(2000, time.December, 1),
		date(2000, time.December, 31),
		date(2001, time.January, 1),
		date(2001, time.March, 1),
		date(2001, time.June, 15),
	}
	tests := []struct {
		freq Frequency
		want []Period
	}{
		{
			freq: Annual,
			want: []Period{
				{Label: "2000", Days: []int{0, 1, 2}},
				{Label: "2001", Days: []int{3, 4, 5}},
			},
		},
		{
			freq: Monthly,
			want: []Period{
				{Label: "2000-11", Days: []int{0}},
				{Label: "2000-12", Days: []int{1, 2}},
				{Label: "2001-01", Days: []int{3}},
				{Label: "2001-03", Days: []int{4}},
				{Label: "2001-06", Days: []int{5}},
			},
		},
		{
			freq: Seasonal,
			want: []Period{
				{Label: "2000-SON", Days: []int{0}},
				{Label: "2001-DJF", Days: []int{1, 2, 3}},
				{Label: "2001-MAM", Days: []int{4}},
				{Label: "2001-JJA", Days: []int{5}},
			},
		},
	}
	for _, test := range tests {
		got := Partition(times, test.freq)
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("%v: got %v; want %v", test.freq, got, test.want)
		}
	}
}

func TestClimatology(t *testing.T) {
	values := sparse.ZerosDense(3, 1, 2)
	// Cell 0: values 2, 4, and a missing period. Cell 1: never valid.
	values.Set(2, 0, 0, 0)
	values.Set(4, 1, 0, 0)
	values.Set(math.NaN(), 2, 0, 0)
	for p := 0; p < 3; p++ {
		values.Set(math.NaN(), p, 0, 1)
	}
	r := &IndexResult{
		Config:  IndexConfig{Kind: MaxDryRun, Threshold: 1, Freq: Annual},
		Periods: singleCellPeriods(3),
		Lats:    []float64{0},
		Lons:    []float64{0, 1},
		Values:  values,
	}
	grid, err := Climatology(r)
	ferr, ok := err.(*FullyInvalidError)
	if !ok {
		t.Fatalf("want FullyInvalidError; got %v", err)
	}
	if ferr.Cells != 1 {
		t.Errorf("invalid cells: got %d; want 1", ferr.Cells)
	}
	if got := grid.Get(0, 0); got != 3 {
		t.Errorf("cell mean: got %g; want 3", got)
	}
	if got := grid.Get(0, 1); !math.IsNaN(got) {
		t.Errorf("fully invalid cell: got %g; want NaN", got)
	}
}

func TestParseFrequency(t *testing.T) {
	for s, want := range map[string]Frequency{
		"annual": Annual, "monthly": Monthly, "seasonal": Seasonal,
	} {
		got, err := ParseFrequency(s)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%q: got %v; want %v", s, got, want)
		}
	}
	if _, err := ParseFrequency("weekly"); err == nil {
		t.Error("expected error for unknown frequency")
	}
}

func TestIndexByName(t *testing.T) {
	for name, want := range map[string]IndexKind{
		"cdd": MaxDryRun, "cwd": MaxWetRun, "r10mm": ThresholdCount,
	} {
		got, err := IndexByName(name)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%q: got %v; want %v", name, got, want)
		}
	}
	if _, err := IndexByName("txx"); err == nil {
		t.Error("expected error for unknown index")
	}
}

func TestIndexConfigValid(t *testing.T) {
	good := IndexConfig{Kind: MaxDryRun, Threshold: 1, Freq: Annual}
	if err := good.Valid(); err != nil {
		t.Error(err)
	}
	bad := []IndexConfig{
		{Kind: MaxDryRun, Threshold: -1, Freq: Annual},
		{Kind: MaxDryRun, Threshold: math.NaN(), Freq: Annual},
		{Kind: MaxDryRun, Threshold: 1, Freq: Frequency(7)},
	}
	for i, cfg := range bad {
		if err := cfg.Valid(); err == nil {
			t.Errorf("case %d: expected error for %+v", i, cfg)
		}
	}
}
