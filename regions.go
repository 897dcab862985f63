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
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
	"github.com/golang/groupcache/lru"
	"github.com/spatialmodel/climdex/internal/hash"
)

// Region is one named polygon in a region collection.
type Region struct {
	geom.Polygonal
	Name string
	// row is the record index in the source shapefile; it breaks ties
	// when a point lies inside (or on a shared boundary of) more than
	// one polygon.
	row int
}

// RegionMask assigns grid cells to named geographic regions. It is
// built once per run and is safe for concurrent use afterwards.
type RegionMask struct {
	regions []*Region
	tree    *rtree.Rtree

	mx    sync.Mutex
	cache *lru.Cache // grid coordinate hash -> []int assignment
}

// maskCacheSize is the number of distinct grids to keep cell
// assignments for. Model grids within one ensemble rarely differ, so
// this stays small.
const maskCacheSize = 32

// LoadRegions reads a named polygon collection from a shapefile,
// reprojecting to latitude/longitude if necessary. nameColumn is the
// attribute column holding the region names. Polygon order follows
// shapefile record order.
func LoadRegions(filename, nameColumn string) (*RegionMask, error) {
	d, err := shp.NewDecoder(filename)
	if err != nil {
		return nil, fmt.Errorf("climdex: opening region shapefile %s: %v", filename, err)
	}
	defer d.Close()
	inSR, err := d.SR()
	if err != nil {
		return nil, fmt.Errorf("climdex: region shapefile %s: %v", filename, err)
	}
	outSR, err := proj.Parse("+proj=longlat")
	if err != nil {
		return nil, err
	}
	trans, err := inSR.NewTransform(outSR)
	if err != nil {
		return nil, fmt.Errorf("climdex: region shapefile %s: %v", filename, err)
	}
	m := &RegionMask{
		tree:  rtree.NewTree(25, 50),
		cache: lru.New(maskCacheSize),
	}
	for {
		g, fields, more := d.DecodeRowFields(nameColumn)
		if !more {
			break
		}
		name, ok := fields[nameColumn]
		if !ok {
			return nil, fmt.Errorf("climdex: region shapefile %s: missing attribute column %s", filename, nameColumn)
		}
		gg, err := g.Transform(trans)
		if err != nil {
			return nil, err
		}
		p, ok := gg.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("climdex: region shapefile %s: region shapes need to be polygons", filename)
		}
		r := &Region{Polygonal: p, Name: name, row: len(m.regions)}
		m.regions = append(m.regions, r)
		m.tree.Insert(r)
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("climdex: reading region shapefile %s: %v", filename, err)
	}
	if len(m.regions) == 0 {
		return nil, fmt.Errorf("climdex: region shapefile %s contains no regions", filename)
	}
	return m, nil
}

// Names returns the region names in polygon order.
func (m *RegionMask) Names() []string {
	names := make([]string, len(m.regions))
	for i, r := range m.regions {
		names[i] = r.Name
	}
	return names
}

// Regions returns the regions in polygon order.
func (m *RegionMask) Regions() []*Region { return m.regions }

// Assign maps each cell center of the given grid to the index of its
// containing region, or -1 if no region contains it. When a point lies
// within more than one polygon (including exactly on a shared
// boundary), the polygon earliest in shapefile record order wins; that
// ordering is a property of the source file, not of this package.
// Assignments are cached per distinct grid.
func (m *RegionMask) Assign(lats, lons []float64) []int {
	key := hash.Hash([2][]float64{lats, lons})
	m.mx.Lock()
	defer m.mx.Unlock()
	if v, ok := m.cache.Get(key); ok {
		return v.([]int)
	}
	assign := make([]int, len(lats)*len(lons))
	for j, lat := range lats {
		for i, lon := range lons {
			assign[j*len(lons)+i] = m.assignPoint(geom.Point{X: lon, Y: lat})
		}
	}
	m.cache.Add(key, assign)
	return assign
}

func (m *RegionMask) assignPoint(p geom.Point) int {
	var candidates []*Region
	for _, rI := range m.tree.SearchIntersect(p.Bounds()) {
		candidates = append(candidates, rI.(*Region))
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].row < candidates[b].row })
	for _, r := range candidates {
		if p.Within(r.Polygonal) != geom.Outside {
			return r.row
		}
	}
	return -1
}

// RegionalSummary maps region names to scalar climatological values.
// Entries for regions with no assigned cells are NaN.
type RegionalSummary map[string]float64

// Aggregate reduces a cell-level climatological grid to one mean value
// per region, ignoring unassigned cells and invalid cell values. If any
// region has no member cells, the returned error is an
// EmptyRegionError naming them; the rest of the summary is valid.
func (m *RegionMask) Aggregate(grid *sparse.DenseArray, lats, lons []float64) (RegionalSummary, error) {
	assign := m.Assign(lats, lons)
	sums := make([]float64, len(m.regions))
	counts := make([]int, len(m.regions))
	for c, r := range assign {
		if r < 0 {
			continue
		}
		v := grid.Elements[c]
		if math.IsNaN(v) {
			continue
		}
		sums[r] += v
		counts[r]++
	}
	out := make(RegionalSummary, len(m.regions))
	var empty []string
	for i, r := range m.regions {
		if counts[i] == 0 {
			out[r.Name] = math.NaN()
			empty = append(empty, r.Name)
			continue
		}
		out[r.Name] = sums[i] / float64(counts[i])
	}
	if len(empty) > 0 {
		return out, &EmptyRegionError{Regions: empty}
	}
	return out, nil
}
