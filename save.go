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
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/sparse"
	goshp "github.com/jonas-p/go-shp"
)

// VarName returns the name of the data variable in output files.
func (k IndexKind) VarName() string {
	switch k {
	case MaxDryRun:
		return "max_cdd"
	case MaxWetRun:
		return "max_cwd"
	default:
		return "r10mm"
	}
}

// OutputFileName returns the name of the artifact holding the ensemble
// result for one (index, experiment) pair. It is deterministic, so
// re-running overwrites rather than accumulating duplicates.
func OutputFileName(k IndexKind, experiment string) string {
	return fmt.Sprintf("%s_ensemble_mean_%s.nc", k.Name(), experiment)
}

// WriteEnsemble persists e as a self-describing NetCDF file under dir,
// creating dir if necessary, and returns the path written. The file
// carries the ensemble mean field with coordinate variables plus
// title, description, units, contributing-model, and provenance
// attributes.
func WriteEnsemble(dir string, e *EnsembleResult) (string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("climdex: creating output directory: %v", err)
	}
	outFile := filepath.Join(dir, OutputFileName(e.Index.Kind, e.Experiment))

	v := e.Index.Kind.VarName()
	h := cdf.NewHeader([]string{"lat", "lon"}, []int{len(e.Lats), len(e.Lons)})
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")
	h.AddVariable(v, []string{"lat", "lon"}, []float64{0})
	h.AddAttribute(v, "units", "days")
	h.AddAttribute(v, "long_name", e.Index.Kind.Title())

	h.AddAttribute("", "title", fmt.Sprintf("Ensemble Mean of %s - %s", e.Index.Kind.Title(), e.Experiment))
	h.AddAttribute("", "description", fmt.Sprintf("Threshold: %g mm/day, Aggregation: %s",
		e.Index.Threshold, e.Index.Freq))
	h.AddAttribute("", "units", "days")
	h.AddAttribute("", "models_included", strings.Join(e.Models, ", "))
	h.AddAttribute("", "experiment", e.Experiment)
	h.AddAttribute("", "index", e.Index.Kind.Name())
	h.AddAttribute("", "threshold_mm", []float64{e.Index.Threshold})
	h.AddAttribute("", "aggregation", e.Index.Freq.String())
	h.AddAttribute("", "created_by", "climdex v"+Version)
	h.Define()
	for _, err := range h.Check() {
		return "", fmt.Errorf("climdex: creating output netcdf header: %v", err)
	}

	ff, err := os.Create(outFile)
	if err != nil {
		return "", fmt.Errorf("climdex: creating output netcdf file: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return "", fmt.Errorf("climdex: creating output netcdf file: %v", err)
	}

	w := f.Writer("lat", []int{0}, []int{len(e.Lats)})
	if _, err := w.Write(e.Lats); err != nil {
		return "", fmt.Errorf("climdex: writing lat to %s: %v", outFile, err)
	}
	w = f.Writer("lon", []int{0}, []int{len(e.Lons)})
	if _, err := w.Write(e.Lons); err != nil {
		return "", fmt.Errorf("climdex: writing lon to %s: %v", outFile, err)
	}
	w = f.Writer(v, []int{0, 0}, []int{len(e.Lats), len(e.Lons)})
	if _, err := w.Write(e.Grid.Elements); err != nil {
		return "", fmt.Errorf("climdex: writing %s to %s: %v", v, outFile, err)
	}
	return outFile, nil
}

// ReadEnsemble reads a file previously written by WriteEnsemble.
func ReadEnsemble(path string) (*EnsembleResult, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("climdex: opening %s: %v", path, err)
	}
	name, _ := f.Header.GetAttribute("", "index").(string)
	kind, err := IndexByName(name)
	if err != nil {
		return nil, fmt.Errorf("climdex: reading %s: %v", path, err)
	}
	aggregation, ok := f.Header.GetAttribute("", "aggregation").(string)
	if !ok {
		return nil, fmt.Errorf("climdex: reading %s: missing aggregation attribute", path)
	}
	freq, err := ParseFrequency(aggregation)
	if err != nil {
		return nil, fmt.Errorf("climdex: reading %s: %v", path, err)
	}
	experiment, ok := f.Header.GetAttribute("", "experiment").(string)
	if !ok {
		return nil, fmt.Errorf("climdex: reading %s: missing experiment attribute", path)
	}
	e := &EnsembleResult{
		Index: IndexConfig{
			Kind:      kind,
			Threshold: attrFloat(f.Header.GetAttribute("", "threshold_mm")),
			Freq:      freq,
		},
		Experiment: experiment,
	}
	if models, ok := f.Header.GetAttribute("", "models_included").(string); ok && models != "" {
		e.Models = strings.Split(models, ", ")
	}
	read := func(v string, n int) ([]float64, error) {
		r := f.Reader(v, nil, nil)
		buf := r.Zero(n)
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("climdex: reading %s from %s: %v", v, path, err)
		}
		return toFloat64s(buf), nil
	}
	if e.Lats, err = read("lat", f.Header.Lengths("lat")[0]); err != nil {
		return nil, err
	}
	if e.Lons, err = read("lon", f.Header.Lengths("lon")[0]); err != nil {
		return nil, err
	}
	vals, err := read(kind.VarName(), len(e.Lats)*len(e.Lons))
	if err != nil {
		return nil, err
	}
	e.Grid = sparse.ZerosDense(len(e.Lats), len(e.Lons))
	copy(e.Grid.Elements, vals)
	return e, nil
}

// wgs84WKT is the projection definition written alongside regional
// shapefiles. Region geometry is always in latitude/longitude here.
const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295]]`

// WriteRegionalShapefile persists the regional ensemble means in e as a
// shapefile under dir, one record per region with the region polygon,
// name, and mean value. The file name is deterministic from the
// (index, experiment) pair.
func WriteRegionalShapefile(dir string, e *EnsembleResult, mask *RegionMask) (string, error) {
	if e.Regional == nil {
		return "", fmt.Errorf("climdex: no regional results for %s %s", e.Index.Kind.Name(), e.Experiment)
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("climdex: creating output directory: %v", err)
	}
	base := strings.TrimSuffix(OutputFileName(e.Index.Kind, e.Experiment), ".nc")
	outFile := filepath.Join(dir, base+".shp")

	fields := []goshp.Field{
		goshp.StringField("region", 80),
		goshp.FloatField(e.Index.Kind.VarName(), 14, 8),
	}
	enc, err := shp.NewEncoderFromFields(outFile, goshp.POLYGON, fields...)
	if err != nil {
		return "", fmt.Errorf("climdex: creating regional shapefile: %v", err)
	}
	for _, r := range mask.Regions() {
		if err := enc.EncodeFields(r.Polygonal, r.Name, e.Regional[r.Name]); err != nil {
			enc.Close()
			return "", fmt.Errorf("climdex: writing regional shapefile: %v", err)
		}
	}
	enc.Close()

	prj, err := os.Create(strings.TrimSuffix(outFile, ".shp") + ".prj")
	if err != nil {
		return "", fmt.Errorf("climdex: creating regional prj file: %v", err)
	}
	fmt.Fprint(prj, wgs84WKT)
	prj.Close()
	return outFile, nil
}
