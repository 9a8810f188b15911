// Package builder orchestrates the expensive build phase: sampling the
// optical engine along each parameter axis, fitting the polynomial models,
// and persisting them through the cache store. Every Build method consults
// the cache first unless forced, and discards partial results when any
// sample of a batch fails.
package builder

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/apex/log"

	"github.com/psfkit/psfkit/basis"
	"github.com/psfkit/psfkit/cachestore"
	"github.com/psfkit/psfkit/conf"
	"github.com/psfkit/psfkit/dispatch"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/fit"
	"github.com/psfkit/psfkit/gridmodel"
	"github.com/psfkit/psfkit/internal/options"
	"github.com/psfkit/psfkit/symmetry"
	"github.com/psfkit/psfkit/tensor"
)

// Builder drives model builds for one cache store and engine. Construct
// with New; a nil store disables caching entirely.
type Builder struct {
	dispatcher *dispatch.Dispatcher
	store      *cachestore.Store
	logger     log.Interface
}

// Option configures a Builder.
type Option = options.Option[*Builder]

// WithStore attaches a cache store consulted and populated by builds.
func WithStore(s *cachestore.Store) Option {
	return options.NoError(func(b *Builder) {
		b.store = s
	})
}

// WithLogger routes build progress logging.
func WithLogger(l log.Interface) Option {
	return options.NoError(func(b *Builder) {
		b.logger = l
	})
}

// New creates a Builder around a dispatcher.
func New(d *dispatch.Dispatcher, opts ...Option) (*Builder, error) {
	if d == nil {
		return nil, fmt.Errorf("builder: nil dispatcher")
	}

	b := &Builder{dispatcher: d, logger: log.Log}
	if err := options.Apply(b, opts...); err != nil {
		return nil, err
	}

	return b, nil
}

// BuildBaseline produces the baseline wavelength cube for a configuration:
// one engine call per wavelength of the ladder, followed by a least-squares
// fit across the span.
func (b *Builder) BuildBaseline(ctx context.Context, cfg conf.Snapshot, ctl conf.BuildControls) (*fit.Cube, error) {
	cfg = ctl.Apply(cfg.Normalize())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	px := cfg.OversampledPixels()
	if cube, ok := b.cachedCube(cfg, cachestore.AxisWave, px, ctl); ok {
		return cube, nil
	}

	disp, err := b.dispatcherFor(ctl)
	if err != nil {
		return nil, err
	}
	cube, err := b.fitCube(ctx, disp, cfg)
	if err != nil {
		return nil, err
	}

	if err := b.persistCube(cfg, cachestore.AxisWave, cube, ctl); err != nil {
		return nil, err
	}

	return cube, nil
}

// BuildDrift produces the wavefront-drift model: a degree-4 fit over
// baseline residuals at each amplitude of the drift ladder, and a second
// occulter-disabled fit when the configuration has an image mask.
func (b *Builder) BuildDrift(ctx context.Context, cfg conf.Snapshot, ctl conf.BuildControls) (*gridmodel.DriftModel, error) {
	cfg = ctl.Apply(cfg.Normalize())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := cfg.OversampledPixels()

	on, ok := b.cachedCube(cfg, cachestore.AxisDrift, 0, ctl)
	var off *fit.Cube
	if ok && cfg.HasOcculter() {
		off, ok = b.cachedCube(cfg, cachestore.AxisDriftOff, 0, ctl)
	}
	if ok {
		return gridmodel.NewDriftModel(on, off, cfg.Degree, cfg.Basis,
			waveDomain(cfg), h, h)
	}

	disp, err := b.dispatcherFor(ctl)
	if err != nil {
		return nil, err
	}
	on, err = b.driftFit(ctx, disp, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.HasOcculter() {
		b.logger.WithField("filter", cfg.Filter).Info("building off-axis drift model")
		off, err = b.driftFit(ctx, disp, cfg.WithoutMask())
		if err != nil {
			return nil, err
		}
	}

	if err := b.persistCube(cfg, cachestore.AxisDrift, on, ctl); err != nil {
		return nil, err
	}
	if off != nil {
		if err := b.persistCube(cfg, cachestore.AxisDriftOff, off, ctl); err != nil {
			return nil, err
		}
	}

	return gridmodel.NewDriftModel(on, off, cfg.Degree, cfg.Basis, waveDomain(cfg), h, h)
}

// driftFit sweeps the drift ladder, flattening each amplitude's residual
// cube into one tall plane so the amplitude fit reuses the wavelength
// fitter unchanged.
func (b *Builder) driftFit(ctx context.Context, disp *dispatch.Dispatcher, cfg conf.Snapshot) (*fit.Cube, error) {
	ladder := gridmodel.DefaultDriftLadder

	zero := cfg
	zero.WFEDrift = 0
	base, err := b.fitCube(ctx, disp, zero)
	if err != nil {
		return nil, err
	}

	flats := make([]*tensor.Image, len(ladder))
	for i, amp := range ladder {
		b.logger.WithFields(log.Fields{
			"drift_nm": amp,
			"mask":     cfg.ImageMask,
		}).Debug("sampling drift amplitude")

		var cube *fit.Cube
		if amp == 0 {
			cube = base
		} else {
			drifted := cfg
			drifted.WFEDrift = amp
			cube, err = b.fitCube(ctx, disp, drifted)
			if err != nil {
				return nil, err
			}
		}
		flats[i] = cube.Sub(base).Flatten()
	}

	return fit.Fit(ladder, tensor.StackOf(flats), gridmodel.DriftDegree, cfg.Basis)
}

// BuildField produces the field-position residual grid. Node offsets in
// arcsec are swept around the nominal field position; the sampled residuals
// are resampled onto an even grid of the same node counts.
func (b *Builder) BuildField(ctx context.Context, cfg conf.Snapshot, ctl conf.BuildControls, xs, ys []float64) (*gridmodel.ResidualGrid, error) {
	cfg = ctl.Apply(cfg.Normalize())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	px := cfg.OversampledPixels()
	if grid, ok := b.cachedGrid(cfg, cachestore.AxisField, px, ctl); ok {
		return grid, nil
	}

	disp, err := b.dispatcherFor(ctl)
	if err != nil {
		return nil, err
	}
	base, err := b.fitCube(ctx, disp, cfg)
	if err != nil {
		return nil, err
	}

	nodes := make([]*fit.Cube, 0, len(xs)*len(ys))
	for _, dy := range ys {
		for _, dx := range xs {
			moved := cfg
			moved.FieldPos = conf.Coord{X: cfg.FieldPos.X + dx, Y: cfg.FieldPos.Y + dy}
			cube, err := b.fitCube(ctx, disp, moved)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, cube.Sub(base))
		}
	}

	grid, err := gridmodel.ResampleRegular(xs, ys, nodes, len(xs), len(ys))
	if err != nil {
		return nil, err
	}

	if err := b.persistGrid(cfg, cachestore.AxisField, grid, ctl); err != nil {
		return nil, err
	}

	return grid, nil
}

// BuildMask produces the mask-offset residual grid. The explicit node set
// is one quadrant per symmetric axis; the rest of the grid comes from
// reflection stitching, except the fine region around zero offset, which
// is always simulated directly and overwrites stitched values.
func (b *Builder) BuildMask(ctx context.Context, cfg conf.Snapshot, ctl conf.BuildControls) (*gridmodel.ResidualGrid, error) {
	cfg = ctl.Apply(cfg.Normalize())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.HasOcculter() {
		return nil, fmt.Errorf("%w: mask grid without an image mask", errs.ErrGridShapeMismatch)
	}

	px := cfg.OversampledPixels()
	if grid, ok := b.cachedGrid(cfg, cachestore.AxisMask, px, ctl); ok {
		return grid, nil
	}

	geo := cfg.Geometry
	xs, ys := geo.OffsetsX, geo.OffsetsY

	disp, err := b.dispatcherFor(ctl)
	if err != nil {
		return nil, err
	}
	base, err := b.fitCube(ctx, disp, cfg)
	if err != nil {
		return nil, err
	}

	nodes, err := b.maskNodes(ctx, disp, cfg, base, xs, ys)
	if err != nil {
		return nil, err
	}

	fullX, fullY := xs, ys
	if axis := symmetryAxis(geo); axis.Valid() {
		fullX, fullY, nodes, err = symmetry.Stitch(xs, ys, nodes, axis, 2*geo.FrameRotation)
		if err != nil {
			return nil, err
		}

		if geo.FineRadius > 0 {
			fineX := within(fullX, geo.FineRadius)
			fineY := within(fullY, geo.FineRadius)
			if len(fineX) > 0 && len(fineY) > 0 {
				fine, err := b.maskNodes(ctx, disp, cfg, base, fineX, fineY)
				if err != nil {
					return nil, err
				}
				symmetry.OverwriteFine(fullX, fullY, nodes, fineX, fineY, fine)
			}
		}
	}

	grid, err := gridmodel.ResampleRegular(fullX, fullY, nodes, len(fullX), len(fullY))
	if err != nil {
		return nil, err
	}

	if err := b.persistGrid(cfg, cachestore.AxisMask, grid, ctl); err != nil {
		return nil, err
	}

	return grid, nil
}

// maskNodes simulates residual cubes on the y-major mesh of the offset
// lists.
func (b *Builder) maskNodes(ctx context.Context, disp *dispatch.Dispatcher, cfg conf.Snapshot, base *fit.Cube, xs, ys []float64) ([]*fit.Cube, error) {
	nodes := make([]*fit.Cube, 0, len(xs)*len(ys))
	for _, dy := range ys {
		for _, dx := range xs {
			b.logger.WithFields(log.Fields{
				"dx": dx,
				"dy": dy,
			}).Debug("sampling mask offset")

			moved := cfg
			moved.MaskOffset = conf.Coord{X: dx, Y: dy}
			cube, err := b.fitCube(ctx, disp, moved)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, cube.Sub(base))
		}
	}

	return nodes, nil
}

// fitCube runs one full wavelength ladder through the engine and fits it.
func (b *Builder) fitCube(ctx context.Context, disp *dispatch.Dispatcher, cfg conf.Snapshot) (*fit.Cube, error) {
	ladder := cfg.WavelengthLadder()
	stack, err := disp.Run(ctx, ladder, cfg)
	if err != nil {
		return nil, err
	}

	return fit.Fit(ladder, stack, cfg.Degree, cfg.Basis)
}

// dispatcherFor resolves the pool overrides of one build invocation.
func (b *Builder) dispatcherFor(ctl conf.BuildControls) (*dispatch.Dispatcher, error) {
	var opts []dispatch.Option
	if ctl.Workers > 0 {
		opts = append(opts, dispatch.WithWorkers(ctl.Workers))
	}
	if ctl.MemoryBudget > 0 {
		opts = append(opts, dispatch.WithMemoryBudget(ctl.MemoryBudget))
	}
	if len(opts) == 0 {
		return b.dispatcher, nil
	}

	return b.dispatcher.With(opts...)
}

func (b *Builder) cachedCube(cfg conf.Snapshot, axis cachestore.ModelAxis, wantPx int, ctl conf.BuildControls) (*fit.Cube, bool) {
	if b.store == nil || ctl.Force {
		return nil, false
	}
	cube, err := b.store.LoadCube(cfg, axis, wantPx, wantPx)
	if err != nil {
		if !errors.Is(err, errs.ErrCacheMiss) {
			b.logger.WithError(err).WithField("axis", axis.String()).
				Warn("ignoring unreadable cache entry")
		}

		return nil, false
	}

	return cube, true
}

func (b *Builder) cachedGrid(cfg conf.Snapshot, axis cachestore.ModelAxis, wantPx int, ctl conf.BuildControls) (*gridmodel.ResidualGrid, bool) {
	if b.store == nil || ctl.Force {
		return nil, false
	}
	grid, err := b.store.LoadGrid(cfg, axis, wantPx, wantPx)
	if err != nil {
		if !errors.Is(err, errs.ErrCacheMiss) {
			b.logger.WithError(err).WithField("axis", axis.String()).
				Warn("ignoring unreadable cache entry")
		}

		return nil, false
	}

	return grid, true
}

func (b *Builder) persistCube(cfg conf.Snapshot, axis cachestore.ModelAxis, cube *fit.Cube, ctl conf.BuildControls) error {
	if b.store == nil || !ctl.Persist {
		return nil
	}

	return b.store.SaveCube(cfg, axis, cube)
}

func (b *Builder) persistGrid(cfg conf.Snapshot, axis cachestore.ModelAxis, grid *gridmodel.ResidualGrid, ctl conf.BuildControls) error {
	if b.store == nil || !ctl.Persist {
		return nil
	}

	return b.store.SaveGrid(cfg, axis, grid)
}

// waveDomain is the wavelength fit domain of a configuration.
func waveDomain(cfg conf.Snapshot) basis.Domain {
	return basis.Domain{Lo: cfg.WaveMin, Hi: cfg.WaveMax}
}

// symmetryAxis maps the geometry flags onto a reflection axis selection.
func symmetryAxis(geo conf.MaskGeometry) symmetry.Axis {
	switch {
	case geo.SymmetricX && geo.SymmetricY:
		return symmetry.AxisBoth
	case geo.SymmetricX:
		return symmetry.AxisX
	case geo.SymmetricY:
		return symmetry.AxisY
	}

	return 0
}

// within filters axis values whose magnitude is inside the fine radius.
func within(ax []float64, radius float64) []float64 {
	var out []float64
	for _, v := range ax {
		if math.Abs(v) <= radius {
			out = append(out, v)
		}
	}

	return out
}
