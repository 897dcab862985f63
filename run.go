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
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
)

// Version is the version of this version of climdex.
const Version = "0.1.0"

// Config holds the settings for one run. It is constructed once,
// before the run starts, and treated as read-only by every component.
type Config struct {
	// DataDir is the root of the input tree, organized as
	// DataDir/<model>/<experiment>/<file>.nc.
	DataDir string
	// OutputDir receives one artifact per (index, experiment).
	OutputDir string

	// Variable is the NetCDF variable holding daily precipitation
	// flux, conventionally "pr".
	Variable string

	// Geographic bounding box, degrees.
	LatMin, LatMax, LonMin, LonMax float64

	// Experiments are the climate scenarios to process.
	Experiments []string
	// Models optionally restricts processing to the named models.
	Models []string

	// Indices are the index computations to perform.
	Indices []IndexConfig

	// RegionShapefile, if set, enables regional aggregation using the
	// named polygon collection; RegionNameColumn is the attribute
	// column holding region names.
	RegionShapefile  string
	RegionNameColumn string
	// WriteRegionalShapefiles additionally writes per-region results
	// as shapefiles next to the NetCDF artifacts.
	WriteRegionalShapefiles bool

	// UnitScale converts input values to mm/day. Zero means
	// SecondsPerDay, the conversion from kg m-2 s-1.
	UnitScale float64

	// Workers is the number of files processed concurrently. Zero
	// means one worker per available CPU.
	Workers int

	// ExpectedFilesPerModel flags models with fewer discovered files
	// in the closing summary. Zero means 1.
	ExpectedFilesPerModel int

	// Log receives structured progress and failure messages. If nil,
	// the logrus standard logger is used.
	Log logrus.FieldLogger
}

func (c *Config) logger() logrus.FieldLogger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

func (c *Config) unitScale() float64 {
	if c.UnitScale == 0 {
		return SecondsPerDay
	}
	return c.UnitScale
}

func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (c *Config) expectedFiles() int {
	if c.ExpectedFilesPerModel > 0 {
		return c.ExpectedFilesPerModel
	}
	return 1
}

// allowed reports whether the model passes the optional allow-list.
func (c *Config) allowed(model string) bool {
	if len(c.Models) == 0 {
		return true
	}
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// DiscoverFiles returns the sorted NetCDF files for one experiment
// under dataDir, matching dataDir/**/<experiment>/*.nc.
func DiscoverFiles(dataDir, experiment string) ([]string, error) {
	var files []string
	err := filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".nc" {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) == experiment {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("climdex: discovering input files for %s: %v", experiment, err)
	}
	sort.Strings(files)
	return files, nil
}

// Run processes every configured index over every configured
// experiment and writes one ensemble artifact per (index, experiment)
// pair. A file failure is confined to that file; an experiment with no
// successful files loses only its own ensemble. msgChan, if not nil,
// receives human-readable progress lines. The returned log records the
// outcome of every processed file.
func Run(cfg *Config, msgChan chan string) (*RunLog, error) {
	log := cfg.logger()
	for _, idx := range cfg.Indices {
		if err := idx.Valid(); err != nil {
			return nil, err
		}
	}

	var mask *RegionMask
	if cfg.RegionShapefile != "" {
		var err error
		mask, err = LoadRegions(cfg.RegionShapefile, cfg.RegionNameColumn)
		if err != nil {
			return nil, err
		}
	}

	runLog := new(RunLog)
	for _, idx := range cfg.Indices {
		for _, experiment := range cfg.Experiments {
			if err := cfg.runExperiment(idx, experiment, mask, runLog, msgChan); err != nil {
				// Fatal only to this experiment.
				log.WithFields(logrus.Fields{
					"index":      idx.Kind.Name(),
					"experiment": experiment,
					"cause":      err,
				}).Error("experiment failed")
			}
		}
	}
	if msgChan != nil {
		var b strings.Builder
		Summary(&b, runLog, cfg.Experiments, cfg.expectedFiles())
		msgChan <- b.String()
	}
	return runLog, nil
}

// runExperiment processes one (index, experiment) pair.
func (cfg *Config) runExperiment(idx IndexConfig, experiment string, mask *RegionMask, runLog *RunLog, msgChan chan string) error {
	log := cfg.logger()
	progress := func(format string, args ...interface{}) {
		if msgChan != nil {
			msgChan <- fmt.Sprintf(format, args...)
		}
	}
	progress("Processing scenario: %s (%s)\n", experiment, idx.Kind.Name())

	files, err := DiscoverFiles(cfg.DataDir, experiment)
	if err != nil {
		return err
	}
	var kept []string
	for _, f := range files {
		if cfg.allowed(ModelFromPath(f, experiment)) {
			kept = append(kept, f)
		}
	}
	progress("Found %d NetCDF files for %q.\n", len(kept), experiment)
	if len(kept) == 0 {
		log.WithFields(logrus.Fields{
			"index":      idx.Kind.Name(),
			"experiment": experiment,
		}).Warn("no input files; skipping ensemble")
		return nil
	}

	// Per-file work shares only the append-only run log and the
	// read-only mask, so the files fan out across workers.
	results := make([]*FileResult, len(kept))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < cfg.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				path := kept[i]
				model := ModelFromPath(path, experiment)
				rec := runLog.NewRecord(model, experiment, path)
				progress("[%d/%d] Processing: %s\n", i+1, len(kept), filepath.Base(path))
				res, err := cfg.ProcessFile(path, mask, idx, rec)
				if err != nil {
					log.WithFields(logrus.Fields{
						"model": model,
						"file":  filepath.Base(path),
						"cause": err,
					}).Error("error processing file")
					continue
				}
				results[i] = res
			}
		}()
	}
	for i := range kept {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var successes []*FileResult
	for _, r := range results {
		if r != nil {
			successes = append(successes, r)
		}
	}

	progress("Computing ensemble mean...\n")
	ensemble, err := BuildEnsemble(idx, experiment, successes)
	if err != nil {
		return err
	}
	outFile, err := WriteEnsemble(cfg.OutputDir, ensemble)
	if err != nil {
		return err
	}
	progress("Saved ensemble NetCDF: %s\n", outFile)
	if cfg.WriteRegionalShapefiles && mask != nil {
		shpFile, err := WriteRegionalShapefile(cfg.OutputDir, ensemble, mask)
		if err != nil {
			return err
		}
		progress("Saved regional shapefile: %s\n", shpFile)
	}
	return nil
}

// Summary writes the closing per-model, per-experiment file-count
// table. Models with fewer successfully processed files than expected
// are flagged. This output is diagnostic, not a machine-readable
// contract.
func Summary(w io.Writer, runLog *RunLog, experiments []string, expected int) {
	counts := make(map[string]map[string]int)
	for _, rec := range runLog.Records() {
		if rec.Status != Done {
			continue
		}
		if counts[rec.Model] == nil {
			counts[rec.Model] = make(map[string]int)
		}
		counts[rec.Model][rec.Experiment]++
	}
	models := make([]string, 0, len(counts))
	for m := range counts {
		models = append(models, m)
	}
	sort.Strings(models)

	fmt.Fprintln(w, "File summary per model/scenario:")
	tw := tabwriter.NewWriter(w, 0, 8, 1, '\t', 0)
	fmt.Fprintln(tw, strings.Join(append([]string{"model"}, experiments...), "\t"))
	for _, m := range models {
		row := []string{m}
		for _, exp := range experiments {
			n := counts[m][exp]
			cell := fmt.Sprint(n)
			if n < expected {
				cell += " MISSING"
			}
			row = append(row, cell)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}
