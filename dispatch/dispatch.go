// Package dispatch fans a batch of monochromatic engine invocations out
// over a bounded worker pool. Every invocation is pure with respect to its
// siblings, results are returned in input order, and one failure aborts the
// whole batch after in-flight work drains.
package dispatch

import (
	"context"
	"fmt"
	"runtime"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/psfkit/psfkit/conf"
	"github.com/psfkit/psfkit/errs"
	"github.com/psfkit/psfkit/internal/options"
	"github.com/psfkit/psfkit/tensor"
)

// DefaultMemoryBudget caps the pool sizing estimate when no budget is
// configured.
const DefaultMemoryBudget uint64 = 8 << 30

// workspaceFactor estimates the engine's transient working set per task as
// a multiple of one output image.
const workspaceFactor = 32

// serialThreshold is the batch size below which pool startup overhead
// dominates and tasks run inline.
const serialThreshold = 4

// Engine produces one oversampled monochromatic image per call. Input:
// wavelength in microns plus an immutable configuration snapshot. Output
// total intensity is at most 1 under the unit-flux convention; the
// dispatcher renormalizes any excess. Implementations must be safe for
// concurrent calls.
type Engine interface {
	Compute(ctx context.Context, wavelength float64, cfg conf.Snapshot) (*tensor.Image, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, wavelength float64, cfg conf.Snapshot) (*tensor.Image, error)

// Compute implements Engine.
func (f EngineFunc) Compute(ctx context.Context, wavelength float64, cfg conf.Snapshot) (*tensor.Image, error) {
	return f(ctx, wavelength, cfg)
}

// Dispatcher runs engine batches. Construct with New.
type Dispatcher struct {
	engine    Engine
	workers   int
	memBudget uint64
	logger    log.Interface
}

// Option configures a Dispatcher.
type Option = options.Option[*Dispatcher]

// WithWorkers pins the pool size instead of estimating it.
func WithWorkers(n int) Option {
	return options.New(func(d *Dispatcher) error {
		if n < 1 {
			return fmt.Errorf("dispatch: worker count %d out of range", n)
		}
		d.workers = n

		return nil
	})
}

// WithMemoryBudget caps the memory-based pool size estimate, in bytes.
func WithMemoryBudget(budget uint64) Option {
	return options.New(func(d *Dispatcher) error {
		if budget == 0 {
			return fmt.Errorf("dispatch: zero memory budget")
		}
		d.memBudget = budget

		return nil
	})
}

// WithLogger routes batch progress logging.
func WithLogger(l log.Interface) Option {
	return options.NoError(func(d *Dispatcher) {
		d.logger = l
	})
}

// New creates a Dispatcher around an engine.
func New(engine Engine, opts ...Option) (*Dispatcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("dispatch: nil engine")
	}

	d := &Dispatcher{
		engine:    engine,
		memBudget: DefaultMemoryBudget,
		logger:    log.Log,
	}
	if err := options.Apply(d, opts...); err != nil {
		return nil, err
	}

	return d, nil
}

// With returns a copy of the dispatcher with further options applied. The
// engine and any untouched settings carry over; the receiver is unchanged.
func (d *Dispatcher) With(opts ...Option) (*Dispatcher, error) {
	c := *d
	if err := options.Apply(&c, opts...); err != nil {
		return nil, err
	}

	return &c, nil
}

// Run invokes the engine once per parameter value and returns the images
// stacked in input order, never completion order.
//
// The first failing invocation aborts the batch; its error names the
// offending parameter value. Degenerate engine output (nil, all-NaN, or
// non-positive total) is a failure, and any image whose total exceeds 1 is
// renormalized down to 1.
func (d *Dispatcher) Run(ctx context.Context, params []float64, cfg conf.Snapshot) (*tensor.Stack, error) {
	n := len(params)
	if n == 0 {
		return nil, errs.ErrNoSamples
	}

	workers := d.poolSize(cfg, n)
	d.logger.WithFields(log.Fields{
		"samples": n,
		"workers": workers,
	}).Debug("dispatching engine batch")

	results := make([]*tensor.Image, n)
	if workers <= 1 {
		for i, p := range params {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			im, err := d.runOne(ctx, p, cfg)
			if err != nil {
				return nil, err
			}
			results[i] = im
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, p := range params {
			i, p := i, p
			g.Go(func() error {
				im, err := d.runOne(gctx, p, cfg)
				if err != nil {
					return err
				}
				results[i] = im

				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	st := tensor.StackOf(results)
	if st == nil {
		return nil, fmt.Errorf("%w: engine returned mixed image sizes",
			errs.ErrSampleShapeMismatch)
	}

	return st, nil
}

func (d *Dispatcher) runOne(ctx context.Context, param float64, cfg conf.Snapshot) (*tensor.Image, error) {
	im, err := d.engine.Compute(ctx, param, cfg)
	if err != nil {
		return nil, fmt.Errorf("sample at %g: %w", param, err)
	}
	if im == nil || len(im.Pix) == 0 || im.AllNaN() {
		return nil, fmt.Errorf("%w: sample at %g", errs.ErrDegenerateSample, param)
	}

	total := im.Sum()
	if !(total > 0) {
		return nil, fmt.Errorf("%w: sample at %g has total %g",
			errs.ErrDegenerateSample, param, total)
	}
	// Throughput cannot exceed 1; the engine leaks energy near field edges.
	if total > 1 {
		im.Scale(1 / total)
	}

	return im, nil
}

// poolSize estimates how many workers fit the memory budget and CPU count.
func (d *Dispatcher) poolSize(cfg conf.Snapshot, tasks int) int {
	if d.workers > 0 {
		return min(d.workers, tasks)
	}
	if tasks < serialThreshold {
		return 1
	}

	px := cfg.OversampledPixels()
	perTask := uint64(px) * uint64(px) * 8 * workspaceFactor
	if perTask == 0 {
		return 1
	}

	byMem := int(d.memBudget / perTask)
	n := min(byMem, runtime.NumCPU())
	n = min(n, tasks)
	if n < 1 {
		n = 1
	}

	return n
}
