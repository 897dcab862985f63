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
	"sync"
	"testing"
)

func TestModelFromPath(t *testing.T) {
	tests := []struct {
		path, experiment, want string
	}{
		{"data/pr/ACCESS-CM2/historical/pr_day_19500101.nc", "historical", "ACCESS-CM2"},
		{"/abs/root/MIROC6/ssp585/file.nc", "ssp585", "MIROC6"},
		{"pr_day_CanESM5_historical_r1i1p1f1.nc", "historical", "CanESM5"},
		{"oddname.nc", "historical", "oddname"},
		{"a_b.nc", "historical", "a_b"},
	}
	for _, test := range tests {
		if got := ModelFromPath(test.path, test.experiment); got != test.want {
			t.Errorf("ModelFromPath(%q, %q) = %q; want %q",
				test.path, test.experiment, got, test.want)
		}
	}
}

func TestRecordLifecycle(t *testing.T) {
	l := new(RunLog)
	rec := l.NewRecord("ACCESS-CM2", "historical", "a.nc")
	if rec.Status != Pending {
		t.Errorf("new record status: got %v; want %v", rec.Status, Pending)
	}
	for _, s := range []Status{Loaded, SubsetDone, UnitConverted, IndexComputed, Aggregated, Done} {
		rec.advance(s)
	}
	if rec.Status != Done {
		t.Errorf("final status: got %v; want %v", rec.Status, Done)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic advancing a terminal record")
		}
	}()
	rec.advance(Loaded)
}

func TestRecordFail(t *testing.T) {
	l := new(RunLog)
	rec := l.NewRecord("MIROC6", "historical", "b.nc")
	rec.advance(Loaded)
	err := &ComputeError{Path: "b.nc", Err: fmt.Errorf("boom")}
	rec.fail(err)
	if rec.Status != Failed {
		t.Errorf("status: got %v; want %v", rec.Status, Failed)
	}
	if rec.Err != err {
		t.Errorf("err: got %v; want %v", rec.Err, err)
	}
}

func TestRunLogConcurrent(t *testing.T) {
	l := new(RunLog)
	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := l.NewRecord("m", "historical", fmt.Sprintf("%d.nc", i))
			rec.advance(Loaded)
			rec.advance(Failed)
		}(i)
	}
	wg.Wait()
	if got := len(l.Records()); got != n {
		t.Errorf("records: got %d; want %d", got, n)
	}
}

// TestFailureIsolation checks that one failing file does not disturb
// the records or results of its neighbors.
func TestFailureIsolation(t *testing.T) {
	l := new(RunLog)
	outcomes := []error{nil, fmt.Errorf("corrupt file"), nil}
	for i, outcome := range outcomes {
		rec := l.NewRecord("m", "historical", fmt.Sprintf("%d.nc", i))
		if outcome != nil {
			rec.fail(&LoadError{Path: rec.Path, Err: outcome})
			continue
		}
		for _, s := range []Status{Loaded, SubsetDone, UnitConverted, IndexComputed, Aggregated, Done} {
			rec.advance(s)
		}
	}
	want := []Status{Done, Failed, Done}
	for i, rec := range l.Records() {
		if rec.Status != want[i] {
			t.Errorf("record %d: got %v; want %v", i, rec.Status, want[i])
		}
	}
}
