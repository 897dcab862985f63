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
	"math"
	"sort"

	"github.com/ctessum/sparse"
)

// EnsembleResult is the multi-model mean of one index for one
// experiment, together with its provenance.
type EnsembleResult struct {
	Index      IndexConfig
	Experiment string
	// Models is the sorted list of unique contributing model names.
	Models []string
	// Grid is the per-cell unweighted mean across models.
	Grid       *sparse.DenseArray
	Lats, Lons []float64
	// Regional is the per-region unweighted mean across models, if
	// regional aggregation was performed.
	Regional RegionalSummary
}

// BuildEnsemble stacks the per-model results for one experiment along a
// new model axis and computes the unweighted arithmetic mean across
// that axis for every cell and region. A model contributing multiple
// files contributes each file to the mean but appears once in the
// provenance list. If results is empty the experiment failed entirely
// and a NoDataError is returned.
func BuildEnsemble(idx IndexConfig, experiment string, results []*FileResult) (*EnsembleResult, error) {
	if len(results) == 0 {
		return nil, &NoDataError{Experiment: experiment}
	}
	lats, lons := results[0].Lats, results[0].Lons
	for _, r := range results[1:] {
		if len(r.Lats) != len(lats) || len(r.Lons) != len(lons) {
			return nil, fmt.Errorf("climdex: experiment %s: grid mismatch between %s (%dx%d) and %s (%dx%d)",
				experiment, results[0].Model, len(lats), len(lons), r.Model, len(r.Lats), len(r.Lons))
		}
	}

	stack := sparse.ZerosDense(len(results), len(lats), len(lons))
	n := len(lats) * len(lons)
	for m, r := range results {
		copy(stack.Elements[m*n:(m+1)*n], r.Grid.Elements)
	}
	mean := sparse.ZerosDense(len(lats), len(lons))
	for c := 0; c < n; c++ {
		sum := 0.
		count := 0
		for m := range results {
			v := stack.Elements[m*n+c]
			if math.IsNaN(v) {
				continue
			}
			sum += v
			count++
		}
		if count == 0 {
			mean.Elements[c] = math.NaN()
			continue
		}
		mean.Elements[c] = sum / float64(count)
	}

	out := &EnsembleResult{
		Index:      idx,
		Experiment: experiment,
		Models:     uniqueModels(results),
		Grid:       mean,
		Lats:       lats,
		Lons:       lons,
	}

	if results[0].Regional != nil {
		regional := make(RegionalSummary)
		counts := make(map[string]int)
		for _, r := range results {
			for name, v := range r.Regional {
				if math.IsNaN(v) {
					continue
				}
				regional[name] += v
				counts[name]++
			}
		}
		for name := range results[0].Regional {
			if counts[name] == 0 {
				regional[name] = math.NaN()
				continue
			}
			regional[name] /= float64(counts[name])
		}
		out.Regional = regional
	}
	return out, nil
}

// uniqueModels returns the sorted, deduplicated model names in results.
func uniqueModels(results []*FileResult) []string {
	seen := make(map[string]struct{})
	var models []string
	for _, r := range results {
		if _, ok := seen[r.Model]; ok {
			continue
		}
		seen[r.Model] = struct{}{}
		models = append(models, r.Model)
	}
	sort.Strings(models)
	return models
}
