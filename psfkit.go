// Package psfkit caches parametric PSF models for an imaging instrument
// driven by an expensive external optical-propagation engine.
//
// Computing one monochromatic PSF through full physical propagation takes
// seconds to minutes; science pipelines need PSFs at arbitrary wavelengths,
// field positions, coronagraph offsets and wavefront-drift states in
// milliseconds. psfkit samples the engine at a modest number of points
// along each axis, fits compact polynomial and grid models to the results,
// persists them under deterministic configuration keys, and reconstructs
// approximate PSFs by polynomial evaluation plus residual correction.
//
// # Core Features
//
//   - Per-pixel polynomial fits over wavelength (power or Legendre basis)
//   - Residual grids over field position and coronagraph mask offset
//   - Wavefront-drift model with on/off-axis transmission blending
//   - Reflection-symmetry reduction of the mask-offset sampling grid
//   - Deterministic xxHash64 cache keys and a compact binary cache format
//     with optional compression (None, Zstd, S2, LZ4)
//   - Bounded parallel engine sampling sized by memory budget and CPUs
//
// # Basic Usage
//
// Building and querying a model set:
//
//	import "github.com/psfkit/psfkit"
//
//	cfg := conf.Snapshot{
//	    Filter:  "F444W",
//	    WaveMin: 3.8,
//	    WaveMax: 5.0,
//	}.Normalize()
//
//	syn, _ := psfkit.Build(ctx, engine, cfg, psfkit.BuildOptions{
//	    CacheDir: "/var/cache/psf",
//	    Controls: conf.BuildControls{Persist: true},
//	})
//
//	im, _ := syn.Image(synth.Request{Wavelengths: []float64{4.2}})
//
// # Package Structure
//
// This package provides convenient top-level wrappers around the builder
// and synth packages, simplifying the most common use cases. For
// fine-grained control (custom stores, dispatchers, residual grids), use
// the topic packages directly.
package psfkit

import (
	"context"
	"errors"

	"github.com/psfkit/psfkit/builder"
	"github.com/psfkit/psfkit/cachestore"
	"github.com/psfkit/psfkit/conf"
	"github.com/psfkit/psfkit/dispatch"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/gridmodel"
	"github.com/psfkit/psfkit/synth"
)

// BuildOptions bundles the knobs of a full Build.
type BuildOptions struct {
	// CacheDir enables on-disk caching when non-empty.
	CacheDir string
	// Controls tunes the build; zero value builds everything fresh without
	// persisting.
	Controls conf.BuildControls
	// FieldOffsetsX/Y are the field-position node offsets in arcsec. Empty
	// skips the field-position residual grid.
	FieldOffsetsX []float64
	FieldOffsetsY []float64
	// Transmission supplies the occulter amplitude transmission for drift
	// blending. Optional.
	Transmission conf.TransmissionFunc
	// Dispatch configures the engine worker pool.
	Dispatch []dispatch.Option
}

// Build runs the full build phase for a configuration and wires the
// resulting models into a ready Synthesizer: baseline cube, drift model,
// field grid when offsets are given, and mask-offset grid when the
// configuration has an occulter with grid geometry.
//
// Returns:
//   - *synth.Synthesizer: the query-time synthesizer over the built models
//   - error: the first build failure; partial results are not returned
func Build(ctx context.Context, engine dispatch.Engine, cfg conf.Snapshot, opts BuildOptions) (*synth.Synthesizer, error) {
	cfg = cfg.Normalize()

	d, err := dispatch.New(engine, opts.Dispatch...)
	if err != nil {
		return nil, err
	}

	bopts := []builder.Option{}
	if opts.CacheDir != "" {
		store, err := cachestore.NewStore(opts.CacheDir)
		if err != nil {
			return nil, err
		}
		bopts = append(bopts, builder.WithStore(store))
	}
	b, err := builder.New(d, bopts...)
	if err != nil {
		return nil, err
	}

	base, err := b.BuildBaseline(ctx, cfg, opts.Controls)
	if err != nil {
		return nil, err
	}

	drift, err := b.BuildDrift(ctx, cfg, opts.Controls)
	if err != nil {
		return nil, err
	}

	sopts := []synth.Option{
		synth.WithOversample(cfg.Oversample),
		synth.WithDriftModel(drift, opts.Transmission),
	}

	if len(opts.FieldOffsetsX) > 0 && len(opts.FieldOffsetsY) > 0 {
		field, err := b.BuildField(ctx, cfg, opts.Controls, opts.FieldOffsetsX, opts.FieldOffsetsY)
		if err != nil {
			return nil, err
		}
		sopts = append(sopts, synth.WithFieldGrid(field, cfg.FieldFrame))
	}

	if cfg.HasOcculter() && len(cfg.Geometry.OffsetsX) > 0 {
		mask, err := b.BuildMask(ctx, cfg, opts.Controls)
		if err != nil {
			return nil, err
		}
		sopts = append(sopts, synth.WithMaskGrid(mask))
	}

	return synth.New(base, sopts...)
}

// Load assembles a Synthesizer purely from cached models, without touching
// the engine. The baseline cube is required; drift, field and mask models
// are attached when their entries exist.
//
// Returns errs.ErrCacheMiss when the baseline entry is absent.
func Load(cacheDir string, cfg conf.Snapshot, trans conf.TransmissionFunc) (*synth.Synthesizer, error) {
	cfg = cfg.Normalize()
	store, err := cachestore.NewStore(cacheDir)
	if err != nil {
		return nil, err
	}

	px := cfg.OversampledPixels()
	base, err := store.LoadCube(cfg, cachestore.AxisWave, px, px)
	if err != nil {
		return nil, err
	}

	sopts := []synth.Option{synth.WithOversample(cfg.Oversample)}

	on, err := store.LoadCube(cfg, cachestore.AxisDrift, 0, 0)
	switch {
	case err == nil:
		off, err := store.LoadCube(cfg, cachestore.AxisDriftOff, 0, 0)
		if err != nil && !errors.Is(err, errs.ErrCacheMiss) {
			return nil, err
		}
		dm, err := gridmodel.NewDriftModel(on, off, base.Degree, base.Kind, base.Domain, base.H(), base.W())
		if err != nil {
			return nil, err
		}
		sopts = append(sopts, synth.WithDriftModel(dm, trans))
	case !errors.Is(err, errs.ErrCacheMiss):
		return nil, err
	}

	if field, err := store.LoadGrid(cfg, cachestore.AxisField, px, px); err == nil {
		sopts = append(sopts, synth.WithFieldGrid(field, cfg.FieldFrame))
	} else if !errors.Is(err, errs.ErrCacheMiss) {
		return nil, err
	}

	if mask, err := store.LoadGrid(cfg, cachestore.AxisMask, px, px); err == nil {
		sopts = append(sopts, synth.WithMaskGrid(mask))
	} else if !errors.Is(err, errs.ErrCacheMiss) {
		return nil, err
	}

	return synth.New(base, sopts...)
}
