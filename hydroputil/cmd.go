/*
Copyright © 2024 the hydropot authors.
This file is part of hydropot.

hydropot is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hydropot is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hydropot.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package hydroputil provides the command-line interface to hydropot.
package hydroputil

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hydropot"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// The flag sets of the commands that calculate the hydropotential.
	calc := []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags(), configCmd.Flags()}
	// The flag sets of the commands that write output.
	write := []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()}

	// Options are the configuration options available to hydropot.
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
			name: "log.level",
			usage: `
              log.level is the logging level: one of debug, info, warn
              or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log.json",
			usage: `
              log.json specifies whether log messages are written as JSON
              instead of text.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "input",
			usage: `
              input is the BedMachine Antarctica NetCDF file. It can be a
              local path, an http(s) URL, or a blob storage URL
              (file://, gs:// or s3://). HTTP downloads send the token in
              $EARTHDATA_TOKEN, if set. If input is empty, 'run' searches
              NASA CMR for the newest granule.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   calc,
		},
		{
			name: "output_dir",
			usage: `
              output_dir is the directory the outputs are written to.`,
			shorthand:  "o",
			defaultVal: ".",
			flagsets:   calc,
		},
		{
			name: "name",
			usage: `
              name is the base name of the output files.`,
			defaultVal: "bedmachine_hydropotential",
			flagsets:   calc,
		},
		{
			name: "bounds",
			usage: `
              bounds optionally restricts the calculation to the cells
              within xmin,ymin,xmax,ymax, in projected meters.`,
			defaultVal: []string{},
			flagsets:   calc,
		},
		{
			name: "stride",
			usage: `
              stride keeps every stride-th row and column of the input,
              for quick previews.`,
			defaultVal: 1,
			flagsets:   calc,
		},
		{
			name: "constants.gravity",
			usage: `
              constants.gravity is the gravitational acceleration [m/s²].`,
			defaultVal: hydropot.Gravity,
			flagsets:   calc,
		},
		{
			name: "constants.rho_ice",
			usage: `
              constants.rho_ice is the density of ice [kg/m³].`,
			defaultVal: hydropot.RhoIce,
			flagsets:   calc,
		},
		{
			name: "constants.rho_water",
			usage: `
              constants.rho_water is the density of water [kg/m³].`,
			defaultVal: hydropot.RhoWater,
			flagsets:   calc,
		},
		{
			name: "mask.classes",
			usage: `
              mask.classes are the BedMachine mask classes that are kept
              in the output: 0=ocean, 1=ice-free land, 2=grounded ice,
              3=floating ice, 4=Lake Vostok.`,
			defaultVal: hydropot.DefaultMaskClasses,
			flagsets:   calc,
		},
		{
			name: "derived",
			usage: `
              derived specifies additional output variables as a map of
              names to expressions of bed, surface, firn, thickness,
              mask, hydropotential and the constants g, rho_ice and
              rho_water. On the command line it is a JSON object, for
              example {"overburden":"rho_ice*g*thickness/1000"}.`,
			defaultVal: map[string]string{},
			flagsets:   calc,
		},
		{
			name: "plot",
			usage: `
              plot specifies whether to render a map of the
              hydropotential as a PNG file.`,
			defaultVal: true,
			flagsets:   write,
		},
		{
			name: "zip",
			usage: `
              zip specifies whether to package the Zarr store as a zip
              file.`,
			defaultVal: true,
			flagsets:   write,
		},
		{
			name: "validate",
			usage: `
              validate specifies whether to re-read and check the outputs
              after they are written.`,
			defaultVal: true,
			flagsets:   write,
		},
		{
			name: "zarr.chunk",
			usage: `
              zarr.chunk is the edge length of the chunks of the Zarr
              data variables.`,
			defaultVal: hydropot.DefaultChunkSize,
			flagsets:   write,
		},
		{
			name: "zarr.compressor",
			usage: `
              zarr.compressor is the Zarr chunk compressor: zstd, zlib or
              none.`,
			defaultVal: hydropot.CompressorZstd,
			flagsets:   write,
		},
		{
			name: "zarr.level",
			usage: `
              zarr.level is the compression level. 0 uses the default of
              the compressor.`,
			defaultVal: 0,
			flagsets:   write,
		},
		{
			name: "zarr.workers",
			usage: `
              zarr.workers is the number of chunks compressed in
              parallel. 0 uses one per CPU.`,
			defaultVal: 0,
			flagsets:   write,
		},
		{
			name: "metadata.title",
			usage: `
              metadata.title is the title of the published dataset.`,
			defaultVal: "",
			flagsets:   write,
		},
		{
			name: "metadata.description",
			usage: `
              metadata.description describes the published dataset.`,
			defaultVal: "",
			flagsets:   write,
		},
		{
			name: "metadata.license",
			usage: `
              metadata.license is the license of the published dataset.`,
			defaultVal: "CC-BY-4.0",
			flagsets:   write,
		},
		{
			name: "metadata.creators",
			usage: `
              metadata.creators are the authors of the dataset, each in
              the format "name; affiliation; ORCID". In environment
              variables, creators are separated by '|'.`,
			defaultVal: []string{},
			flagsets:   write,
		},
		{
			name: "metadata.keywords",
			usage: `
              metadata.keywords are keywords describing the dataset.`,
			defaultVal: []string{},
			flagsets:   write,
		},
		{
			name: "upload",
			usage: `
              upload is an optional blob storage location (for example
              gs://bucket/hydropotential) that the outputs are copied to.`,
			defaultVal: "",
			flagsets:   write,
		},
		{
			name: "search.endpoint",
			usage: `
              search.endpoint is the NASA CMR granule search URL.`,
			defaultVal: DefaultCMR,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "search.short_name",
			usage: `
              search.short_name is the short name of the data product.`,
			defaultVal: "NSIDC-0756",
			flagsets:   []*pflag.FlagSet{searchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "search.version",
			usage: `
              search.version is the version of the data product.`,
			defaultVal: "3",
			flagsets:   []*pflag.FlagSet{searchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "search.limit",
			usage: `
              search.limit is the maximum number of granules listed.`,
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("HYDROPOT")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case []int:
				if option.shorthand == "" {
					set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
				} else {
					set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b, err := json.Marshal(option.defaultVal)
				if err != nil {
					panic(err)
				}
				if option.shorthand == "" {
					set.String(option.name, string(b), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, string(b), option.usage)
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
	Root.AddCommand(validateCmd)
	Root.AddCommand(searchCmd)
	Root.AddCommand(configCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(expandPath(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("hydropot: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Log is the logger used by the commands.
var Log = logrus.New()

// setLogging configures Log from the log.level and log.json options.
func setLogging(cmd *cobra.Command) error {
	level, err := logrus.ParseLevel(Cfg.GetString("log.level"))
	if err != nil {
		return fmt.Errorf("hydropot: %v", err)
	}
	Log.SetLevel(level)
	Log.SetOutput(cmd.ErrOrStderr())
	if Cfg.GetBool("log.json") {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "hydropot",
	Short: "Antarctic subglacial hydropotential from BedMachine.",
	Long: `hydropot calculates the subglacial hydropotential of the Antarctic ice sheet
from the BedMachine Antarctica bed elevation, surface elevation and firn air
content, masks it to grounded ice, and exports it as CF-compliant NetCDF and
Zarr with a plot and a metadata record for publication.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'HYDROPOT_var' where 'var' is the
name of the variable to be set, with '.' replaced by '_'.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := setConfig(); err != nil {
			return err
		}
		return setLogging(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of hydropot.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("hydropot v%s\n", hydropot.Version)
	},
	DisableAutoGenTag: true,
}

// searchQuery returns the CMR query specified by the configuration.
func searchQuery() Query {
	return Query{
		Endpoint:  Cfg.GetString("search.endpoint"),
		ShortName: Cfg.GetString("search.short_name"),
		Version:   Cfg.GetString("search.version"),
		Limit:     Cfg.GetInt("search.limit"),
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Calculate the hydropotential and write the outputs.",
	Long: `run loads the BedMachine input, calculates and masks the hydropotential
and any derived variables, and writes the plot, NetCDF, Zarr and zipped Zarr
outputs and the metadata record to output_dir. The outputs are validated
after they are written unless --validate=false.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ConfigFromViper(Cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if cfg.Input == "" {
			q := searchQuery()
			q.Limit = 1
			granules, err := SearchGranules(ctx, http.DefaultClient, q)
			if err != nil {
				return err
			}
			if cfg.Input, err = DataURL(granules); err != nil {
				return err
			}
			Log.WithField("url", cfg.Input).Info("found input")
		}
		_, err = Run(ctx, cfg, Log)
		return err
	},
	DisableAutoGenTag: true,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate existing outputs.",
	Long: `validate recalculates the hydropotential from the input and checks
that the NetCDF and Zarr outputs in output_dir match it: shape, coordinates,
missing-value placement, values and coordinate reference system attributes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ConfigFromViper(Cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		d, err := Check(ctx, cfg, Log)
		if d != nil {
			for _, r := range d.Validation {
				for _, c := range r.Checks {
					status := "ok"
					if !c.Passed {
						status = "FAILED"
					}
					cmd.Printf("%s\t%s\t%s\t%s\n", r.Path, status, c.Name, c.Detail)
				}
			}
		}
		return err
	},
	DisableAutoGenTag: true,
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List BedMachine granules in NASA CMR.",
	Long: `search lists the granules of the data product in the NASA Common
Metadata Repository along with their data URLs, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		granules, err := SearchGranules(ctx, http.DefaultClient, searchQuery())
		if err != nil {
			return err
		}
		for _, g := range granules {
			cmd.Printf("%s\t%s\t%.1f MB\n", g.Title, g.Start, g.Size)
			for _, u := range g.URLs {
				cmd.Printf("\t%s\n", u)
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration.",
	Long: `config prints the effective configuration, after combining the defaults,
the configuration file, environment variables and command-line arguments,
in TOML format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ConfigFromViper(Cfg)
		if err != nil {
			return err
		}
		return cfg.WriteTOML(cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}
