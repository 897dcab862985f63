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
	"path/filepath"
	"strings"
	"sync"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Status is the processing state of one input file.
type Status int

const (
	// Pending means processing has not started.
	Pending Status = iota
	// Loaded means the file was opened and the variable validated.
	Loaded
	// SubsetDone means the grid was restricted to the bounding box.
	SubsetDone
	// UnitConverted means the flux-to-depth conversion was applied.
	UnitConverted
	// IndexComputed means per-period index values and their
	// climatology were calculated.
	IndexComputed
	// Aggregated means regional (or full-grid) aggregation finished.
	Aggregated
	// Done is the successful terminal state.
	Done
	// Failed is the unsuccessful terminal state.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Loaded:
		return "loaded"
	case SubsetDone:
		return "subset"
	case UnitConverted:
		return "unit-converted"
	case IndexComputed:
		return "index-computed"
	case Aggregated:
		return "aggregated"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ModelRecord tracks the processing of one input file. Records are
// appended to a RunLog and are not modified after reaching a terminal
// status.
type ModelRecord struct {
	Model      string
	Experiment string
	Path       string
	Status     Status
	Err        error
}

func (r *ModelRecord) advance(s Status) {
	if r.Status == Done || r.Status == Failed {
		panic(fmt.Errorf("climdex: record for %s already terminal (%s)", r.Path, r.Status))
	}
	r.Status = s
}

func (r *ModelRecord) fail(err error) {
	r.advance(Failed)
	r.Err = err
}

// RunLog is an append-only log of the model records created during a
// run. It is safe for concurrent use.
type RunLog struct {
	mx   sync.Mutex
	recs []*ModelRecord
}

// NewRecord appends a new pending record to the log and returns it.
func (l *RunLog) NewRecord(model, experiment, path string) *ModelRecord {
	rec := &ModelRecord{Model: model, Experiment: experiment, Path: path}
	l.mx.Lock()
	l.recs = append(l.recs, rec)
	l.mx.Unlock()
	return rec
}

// Records returns the records appended so far, in order.
func (l *RunLog) Records() []*ModelRecord {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]*ModelRecord{}, l.recs...)
}

// ModelFromPath derives a climate model name from an input file path:
// the path segment immediately preceding the experiment-name segment.
// If the path contains no such segment, it falls back to the third
// underscore-separated token of the file name, which holds the model
// name in CMIP6 file naming.
func ModelFromPath(path, experiment string) string {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	for i, p := range parts {
		if p == experiment && i > 0 {
			return parts[i-1]
		}
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if tokens := strings.Split(stem, "_"); len(tokens) > 2 {
		return tokens[2]
	}
	return stem
}

// FileResult is the outcome of successfully processing one input file.
type FileResult struct {
	Model string
	Path  string
	// Grid is the per-cell climatological index value.
	Grid       *sparse.DenseArray
	Lats, Lons []float64
	// Regional is the per-region mean, if regional aggregation was
	// requested.
	Regional RegionalSummary
}

// ProcessFile runs the load, subset, convert, compute, aggregate stages
// for one input file, advancing rec through the pipeline states. Any
// stage failure marks rec failed and is returned to the caller; it
// never affects other files.
func (c *Config) ProcessFile(path string, mask *RegionMask, idx IndexConfig, rec *ModelRecord) (*FileResult, error) {
	log := c.logger().WithFields(logrus.Fields{
		"model": rec.Model,
		"file":  filepath.Base(path),
	})

	d, err := OpenDataset(path, c.Variable)
	if err != nil {
		rec.fail(err)
		return nil, err
	}
	defer d.Close()
	rec.advance(Loaded)

	if err := d.Subset(c.LatMin, c.LatMax, c.LonMin, c.LonMax); err != nil {
		rec.fail(err)
		return nil, err
	}
	rec.advance(SubsetDone)

	d.ConvertUnits(c.unitScale())
	rec.advance(UnitConverted)

	periods := Partition(d.Times(), idx.Freq)
	result, err := ComputeIndex(d.PeriodSeries(periods), periods, d.Lats(), d.Lons(), idx)
	if err != nil {
		cerr := &ComputeError{Path: path, Err: err}
		rec.fail(cerr)
		return nil, cerr
	}
	if allInvalid(result.Values) {
		cerr := &ComputeError{Path: path, Err: fmt.Errorf("all %s values are invalid", idx.Kind.Name())}
		rec.fail(cerr)
		return nil, cerr
	}
	grid, err := Climatology(result)
	if err != nil {
		if _, ok := err.(*FullyInvalidError); !ok {
			cerr := &ComputeError{Path: path, Err: err}
			rec.fail(cerr)
			return nil, cerr
		}
		// Some cells have no valid periods; they stay invalid but the
		// rest of the grid is usable.
		log.WithField("cause", err).Warn("partially invalid climatology")
	}
	rec.advance(IndexComputed)

	out := &FileResult{
		Model: rec.Model,
		Path:  path,
		Grid:  grid,
		Lats:  d.Lats(),
		Lons:  d.Lons(),
	}
	if mask != nil {
		regional, err := mask.Aggregate(grid, d.Lats(), d.Lons())
		if err != nil {
			if _, ok := err.(*EmptyRegionError); !ok {
				rec.fail(err)
				return nil, err
			}
			log.WithField("cause", err).Warn("empty regions in aggregation")
		}
		out.Regional = regional
	}
	rec.advance(Aggregated)

	rec.advance(Done)
	return out, nil
}
