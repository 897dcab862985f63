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

// Package climdexutil translates the command-line and configuration-file
// interface into climdex runs.
package climdexutil

import (
	"context"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/climdex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to climdex.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "DataDir",
			usage: `
              DataDir is the root of the input file tree, organized as
              DataDir/<model>/<experiment>/<file>.nc. Can contain environment
              variables.`,
			defaultVal: "data/pr",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory that receives one ensemble artifact
              per (index, experiment) pair. It is created if it does not
              exist. Can contain environment variables.`,
			defaultVal: "data/outputs",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Variable",
			usage: `
              Variable is the name of the NetCDF variable holding daily
              precipitation flux.`,
			defaultVal: "pr",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Indices",
			usage: `
              Indices lists the extreme-event indices to compute. The
              available indices are cdd (max consecutive dry days), cwd
              (max consecutive wet days), and r10mm (heavy rain days).`,
			defaultVal: []string{"cdd"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Aggregation",
			usage: `
              Aggregation is the period over which indices are computed
              before climatological averaging: annual, monthly, or
              seasonal.`,
			defaultVal: "annual",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Experiments",
			usage: `
              Experiments lists the climate scenarios to process, e.g.
              historical or ssp585. Each scenario produces its own
              ensemble.`,
			defaultVal: []string{"historical"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Models",
			usage: `
              Models optionally restricts processing to the listed climate
              models. An empty list means all discovered models.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Region.LatMin",
			usage: `
              Region.LatMin is the southern edge of the bounding box,
              degrees north.`,
			defaultVal: -35.,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Region.LatMax",
			usage: `
              Region.LatMax is the northern edge of the bounding box,
              degrees north.`,
			defaultVal: -22.,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Region.LonMin",
			usage: `
              Region.LonMin is the western edge of the bounding box,
              degrees east.`,
			defaultVal: 16.,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Region.LonMax",
			usage: `
              Region.LonMax is the eastern edge of the bounding box,
              degrees east.`,
			defaultVal: 33.,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CDD.Threshold",
			usage: `
              CDD.Threshold is the dry-day threshold in mm/day: a day is
              dry if precipitation is below this value.`,
			defaultVal: 1.,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CWD.Threshold",
			usage: `
              CWD.Threshold is the wet-day threshold in mm/day: a day is
              wet if precipitation is at or above this value.`,
			defaultVal: 1.,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "R10mm.Threshold",
			usage: `
              R10mm.Threshold is the heavy-rain threshold in mm/day.`,
			defaultVal: 10.,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Regions.Shapefile",
			usage: `
              Regions.Shapefile is a polygon shapefile of named regions.
              If set, results are aggregated per region. May be a local
              path or an http://, https://, file://, gs://, or s3://
              address. Can contain environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Regions.NameColumn",
			usage: `
              Regions.NameColumn is the shapefile attribute column holding
              region names.`,
			defaultVal: "Veg_Biome",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Regions.WriteShapefiles",
			usage: `
              Regions.WriteShapefiles additionally writes per-region
              ensemble results as shapefiles next to the NetCDF
              artifacts.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of input files processed concurrently.
              Zero means one worker per available CPU.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ExpectedFilesPerModel",
			usage: `
              ExpectedFilesPerModel flags models with fewer discovered
              files in the closing summary.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the log file. If blank, logs are
              written to standard error.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}
	Cfg = viper.New()
	for _, option := range options {
		for _, set := range option.flagsets {
			switch v := option.defaultVal.(type) {
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, v, option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, v, option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, v, option.usage)
				} else {
					set.IntP(option.name, option.shorthand, v, option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, v, option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, v, option.usage)
				}
			case string:
				if option.shorthand == "" {
					set.String(option.name, v, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, v, option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, v, option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, v, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
}

// outChan returns a channel printing to standard output.
func outChan() chan string {
	outChan := make(chan string)
	go func() {
		for {
			msg := <-outChan
			fmt.Print(msg)
		}
	}()
	return outChan
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("climdex: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "climdex",
	Short: "A multi-model climate extreme-event index calculator.",
	Long: `climdex computes extreme-event indices (longest dry spell, longest wet
spell, heavy-rain day counts) from daily gridded precipitation produced by
multiple climate models, aggregates them to named geographic regions, and
combines the models into multi-model ensemble means.

Configuration can be changed by using a configuration file (and providing
the path to the file using the --config flag), by using command-line
arguments, or by setting environment variables in the format 'CLIMDEX_var'
where 'var' is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of climdex.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("climdex v%s\n", climdex.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute indices and build ensembles.",
	Long: `run computes every configured index over every configured experiment
and writes one ensemble artifact per (index, experiment) pair.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outChan := outChan()

		if logFile := os.ExpandEnv(Cfg.GetString("LogFile")); logFile != "" {
			f, err := os.Create(logFile)
			if err != nil {
				return fmt.Errorf("climdex: creating log file: %v", err)
			}
			defer f.Close()
			logrus.SetOutput(f)
		}

		cfg, err := Config(Cfg)
		if err != nil {
			return err
		}
		if cfg.RegionShapefile != "" {
			cfg.RegionShapefile = maybeDownload(context.Background(), cfg.RegionShapefile, outChan)
		}
		_, err = climdex.Run(cfg, outChan)
		return err
	},
	DisableAutoGenTag: true,
}
