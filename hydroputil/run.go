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

package hydroputil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hydropot"
)

// errNoInput is returned when no input file is configured.
var errNoInput = fmt.Errorf("hydropot: the input file must be specified using the 'input' configuration variable")

// calculations returns the functions that load the input and calculate
// the masked output fields.
func (c *Config) calculations(input string) (init, run []hydropot.DomainManipulator, err error) {
	consts := c.Constants
	if consts == (hydropot.Constants{}) {
		consts = hydropot.DefaultConstants()
	}
	derived, err := hydropot.NewDerivedVariables(c.Derived)
	if err != nil {
		return nil, nil, err
	}
	classes := c.MaskClasses
	if len(classes) == 0 {
		classes = hydropot.DefaultMaskClasses
	}
	init = []hydropot.DomainManipulator{
		hydropot.LoadSource(input, c.Window()),
		hydropot.Provenance(c.settings()),
	}
	run = []hydropot.DomainManipulator{hydropot.CalculateHydropotential(consts)}
	if len(derived) > 0 {
		run = append(run, hydropot.DerivedVariables(derived, consts))
	}
	run = append(run, hydropot.ApplyMask(classes...))
	return init, run, nil
}

// Run calculates the hydropotential as specified by cfg and writes
// the outputs. Input files that are URLs are downloaded first and
// outputs are uploaded if cfg.Upload is set.
func Run(ctx context.Context, cfg *Config, log logrus.FieldLogger) (*hydropot.Domain, error) {
	startTime := time.Now()
	if cfg.Input == "" {
		return nil, errNoInput
	}
	input, cleanup, err := maybeDownload(ctx, cfg.Input, log)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := os.MkdirAll(cfg.OutputDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("hydropot: creating output directory: %v", err)
	}
	initFuncs, runFuncs, err := cfg.calculations(input)
	if err != nil {
		return nil, err
	}

	out := cfg.Outputs()
	var cleanupFuncs []hydropot.DomainManipulator
	if out.Plot != "" {
		cleanupFuncs = append(cleanupFuncs, hydropot.Plot(out.Plot))
	}
	cleanupFuncs = append(cleanupFuncs,
		hydropot.NetCDFOutput(out.NetCDF),
		hydropot.ZarrOutput(out.Zarr, cfg.Zarr),
	)
	if out.Zip != "" {
		cleanupFuncs = append(cleanupFuncs, hydropot.ZipStoreOutput(out.Zarr, out.Zip))
	}
	if cfg.Validate {
		cleanupFuncs = append(cleanupFuncs, hydropot.Validate(out.NetCDF, out.Zarr))
		if out.Zip != "" {
			cleanupFuncs = append(cleanupFuncs, hydropot.Validate("", out.Zip))
		}
	}
	cleanupFuncs = append(cleanupFuncs, hydropot.MetadataOutput(out.Metadata, cfg.Metadata, out.files()...))

	upload := uploader{prefix: cfg.Upload, log: log}
	upload.add(out.files()...)
	upload.add(out.Metadata)
	cleanupFuncs = append(cleanupFuncs, upload.uploadOutput(ctx))

	d := &hydropot.Domain{
		Log:          log,
		InitFuncs:    initFuncs,
		RunFuncs:     runFuncs,
		CleanupFuncs: cleanupFuncs,
	}
	if err := execute(d); err != nil {
		return d, err
	}
	log.WithField("elapsed", time.Since(startTime).Round(time.Millisecond)).Info("finished")
	return d, nil
}

// Check recalculates the hydropotential as specified by cfg and
// validates previously written outputs against it. The Zarr store is
// read from its directory, or from the zip file if the directory does
// not exist.
func Check(ctx context.Context, cfg *Config, log logrus.FieldLogger) (*hydropot.Domain, error) {
	if cfg.Input == "" {
		return nil, errNoInput
	}
	input, cleanup, err := maybeDownload(ctx, cfg.Input, log)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	initFuncs, runFuncs, err := cfg.calculations(input)
	if err != nil {
		return nil, err
	}
	out := cfg.Outputs()
	zarrPath := out.Zarr
	if _, err := os.Stat(zarrPath); err != nil {
		zarrPath = out.Zarr + ".zip"
	}
	d := &hydropot.Domain{
		Log:          log,
		InitFuncs:    initFuncs,
		RunFuncs:     runFuncs,
		CleanupFuncs: []hydropot.DomainManipulator{hydropot.Validate(out.NetCDF, zarrPath)},
	}
	return d, execute(d)
}

func execute(d *hydropot.Domain) error {
	if err := d.Init(); err != nil {
		return fmt.Errorf("hydropot: problem initializing: %w", err)
	}
	if err := d.Run(); err != nil {
		return fmt.Errorf("hydropot: problem calculating: %w", err)
	}
	if err := d.Cleanup(); err != nil {
		return fmt.Errorf("hydropot: problem writing output: %w", err)
	}
	return nil
}
