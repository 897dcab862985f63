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

package climdexutil

import (
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/climdex"
	"github.com/spf13/cast"
)

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// Config translates the configuration information in cfg into an
// immutable run configuration for the model.
func Config(cfg *viper.Viper) (*climdex.Config, error) {
	freq, err := climdex.ParseFrequency(cfg.GetString("Aggregation"))
	if err != nil {
		return nil, err
	}

	indexNames, err := cast.ToStringSliceE(cfg.Get("Indices"))
	if err != nil {
		return nil, fmt.Errorf("climdex: parsing Indices configuration: %v", err)
	}
	if len(indexNames) == 0 {
		return nil, fmt.Errorf("climdex: no indices specified; fill in the Indices configuration variable")
	}
	indices := make([]climdex.IndexConfig, len(indexNames))
	for i, name := range indexNames {
		kind, err := climdex.IndexByName(name)
		if err != nil {
			return nil, err
		}
		idx := climdex.IndexConfig{
			Kind:      kind,
			Threshold: kind.DefaultThreshold(),
			Freq:      freq,
		}
		key := fmt.Sprintf("%s.Threshold", name)
		if cfg.Get(key) != nil {
			idx.Threshold = cfg.GetFloat64(key)
		}
		if err := idx.Valid(); err != nil {
			return nil, err
		}
		indices[i] = idx
	}

	experiments, err := cast.ToStringSliceE(cfg.Get("Experiments"))
	if err != nil {
		return nil, fmt.Errorf("climdex: parsing Experiments configuration: %v", err)
	}
	if len(experiments) == 0 {
		return nil, fmt.Errorf("climdex: no experiments specified; fill in the Experiments configuration variable")
	}
	models, err := cast.ToStringSliceE(cfg.Get("Models"))
	if err != nil {
		return nil, fmt.Errorf("climdex: parsing Models configuration: %v", err)
	}

	dataDir := os.ExpandEnv(cfg.GetString("DataDir"))
	if dataDir == "" {
		return nil, fmt.Errorf("climdex: no input directory specified; fill in the DataDir configuration variable")
	}

	c := &climdex.Config{
		DataDir:                 dataDir,
		OutputDir:               os.ExpandEnv(cfg.GetString("OutputDir")),
		Variable:                cfg.GetString("Variable"),
		LatMin:                  cfg.GetFloat64("Region.LatMin"),
		LatMax:                  cfg.GetFloat64("Region.LatMax"),
		LonMin:                  cfg.GetFloat64("Region.LonMin"),
		LonMax:                  cfg.GetFloat64("Region.LonMax"),
		Experiments:             expandStringSlice(experiments),
		Models:                  expandStringSlice(models),
		Indices:                 indices,
		RegionShapefile:         os.ExpandEnv(cfg.GetString("Regions.Shapefile")),
		RegionNameColumn:        cfg.GetString("Regions.NameColumn"),
		WriteRegionalShapefiles: cfg.GetBool("Regions.WriteShapefiles"),
		Workers:                 cfg.GetInt("Workers"),
		ExpectedFilesPerModel:   cfg.GetInt("ExpectedFilesPerModel"),
	}
	if c.LatMin >= c.LatMax {
		return nil, fmt.Errorf("climdex: Region.LatMin (%g) must be less than Region.LatMax (%g)", c.LatMin, c.LatMax)
	}
	if c.LonMin >= c.LonMax {
		return nil, fmt.Errorf("climdex: Region.LonMin (%g) must be less than Region.LonMax (%g)", c.LonMin, c.LonMax)
	}
	return c, nil
}
