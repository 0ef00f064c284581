// Package sim measures the accuracy of compressed history buffers by
// replaying synthetic hit streams against an exact reference and
// collecting the windowed estimation error in DDSketch quantile
// sketches.
package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/hitrate/internal/history"
	"github.com/xtxerr/hitrate/internal/logging"
)

// Options configures a simulation.
type Options struct {
	// Stores is the level count of the pool under test.
	Stores int

	// Updates is the stream length per run.
	Updates int

	// Runs is the number of independent runs.
	Runs int

	// HitProbability is the stationary hit fraction of the source.
	HitProbability float64

	// MeanBurst is the mean run length of the bursty source.
	MeanBurst float64

	// Windows lists the trailing window lengths probed at each
	// checkpoint. Empty picks one window per level boundary.
	Windows []int

	// Accuracy is the DDSketch relative accuracy.
	Accuracy float64

	// Checkpoints is the number of evenly spaced probe points per run.
	Checkpoints int

	// Workers caps concurrent runs. Zero means one per run.
	Workers int

	// Seed fixes the random source. Run r uses Seed+r.
	Seed int64
}

// DefaultOptions returns simulation defaults.
func DefaultOptions() Options {
	return Options{
		Stores:         8,
		Updates:        100000,
		Runs:           16,
		HitProbability: 0.5,
		MeanBurst:      8,
		Accuracy:       0.01,
		Checkpoints:    64,
		Seed:           1,
	}
}

// normalize fills derived defaults and rejects unusable options.
func (o *Options) normalize() error {
	if o.Stores < 1 || o.Stores > history.MaxStoreCount {
		return fmt.Errorf("stores %d out of range", o.Stores)
	}
	if o.Updates < 1 {
		return fmt.Errorf("updates %d out of range", o.Updates)
	}
	if o.Runs < 1 {
		return fmt.Errorf("runs %d out of range", o.Runs)
	}
	if o.Accuracy <= 0 || o.Accuracy > 1 {
		return fmt.Errorf("accuracy %v out of range", o.Accuracy)
	}
	if o.Checkpoints < 1 {
		o.Checkpoints = 64
	}
	if len(o.Windows) == 0 {
		// One window ending inside each level.
		for n := 0; n < o.Stores; n++ {
			w := 64 * ((1 << (n + 1)) - 1)
			if w > o.Updates {
				break
			}
			o.Windows = append(o.Windows, w)
		}
		if len(o.Windows) == 0 {
			o.Windows = []int{o.Updates}
		}
	}
	for _, w := range o.Windows {
		if w < 1 {
			return fmt.Errorf("window %d out of range", w)
		}
	}
	return nil
}

// WindowReport summarizes the estimation error for one window length,
// in absolute hit counts.
type WindowReport struct {
	Window     int
	Samples    int64
	MeanAbsErr float64
	P50        float64
	P90        float64
	P99        float64
	Max        float64
}

// Report is the aggregated outcome of all runs.
type Report struct {
	Options Options
	Windows []WindowReport
	Elapsed time.Duration
}

// windowProbe accumulates error observations for one window length.
type windowProbe struct {
	window  int
	sketch  *ddsketch.DDSketch
	samples int64
	sumAbs  float64
	max     float64
}

func newWindowProbe(window int, accuracy float64) (*windowProbe, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, fmt.Errorf("create sketch: %w", err)
	}
	return &windowProbe{window: window, sketch: sketch}, nil
}

func (p *windowProbe) observe(absErr float64) {
	p.sketch.Add(absErr)
	p.samples++
	p.sumAbs += absErr
	if absErr > p.max {
		p.max = absErr
	}
}

func (p *windowProbe) mergeFrom(other *windowProbe) {
	p.sketch.MergeWith(other.sketch)
	p.samples += other.samples
	p.sumAbs += other.sumAbs
	if other.max > p.max {
		p.max = other.max
	}
}

func (p *windowProbe) report() WindowReport {
	r := WindowReport{
		Window:  p.window,
		Samples: p.samples,
		Max:     p.max,
	}
	if p.samples > 0 {
		r.MeanAbsErr = p.sumAbs / float64(p.samples)
		r.P50, _ = p.sketch.GetValueAtQuantile(0.50)
		r.P90, _ = p.sketch.GetValueAtQuantile(0.90)
		r.P99, _ = p.sketch.GetValueAtQuantile(0.99)
	}
	return r
}

// run replays one stream and probes every window at each checkpoint.
func run(ctx context.Context, opts Options, seed int64, probes []*windowProbe) error {
	pool, err := history.NewPool(opts.Stores, 1)
	if err != nil {
		return err
	}
	source := NewBurstSource(seed, opts.HitProbability, opts.MeanBurst)

	// Prefix sums of the exact stream make any trailing window count
	// an O(1) lookup.
	cum := make([]int64, 1, opts.Updates+1)

	stride := opts.Updates / opts.Checkpoints
	if stride < 1 {
		stride = 1
	}

	for k := 1; k <= opts.Updates; k++ {
		if k%8192 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		bit := source.Next()
		if err := pool.Update(0, bit); err != nil {
			return err
		}
		cum = append(cum, cum[k-1]+int64(bit))

		if k%stride != 0 {
			continue
		}
		for _, p := range probes {
			if p.window > k {
				continue
			}
			tot, err := pool.HistoryTotals(0, p.window)
			if err != nil {
				return err
			}
			exact := cum[k] - cum[k-p.window]
			p.observe(math.Abs(tot.Hits - float64(exact)))
		}
	}
	logging.WithContext(ctx).Debug("run complete", "seed", seed, "updates", opts.Updates)
	return nil
}

// Run executes all configured runs, concurrently up to Workers, and
// aggregates their error observations.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	log := logging.Component("sim")
	start := time.Now()

	total := make([]*windowProbe, len(opts.Windows))
	for i, w := range opts.Windows {
		p, err := newWindowProbe(w, opts.Accuracy)
		if err != nil {
			return nil, err
		}
		total[i] = p
	}

	perRun := make([][]*windowProbe, opts.Runs)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}

	for r := 0; r < opts.Runs; r++ {
		probes := make([]*windowProbe, len(opts.Windows))
		for i, w := range opts.Windows {
			p, err := newWindowProbe(w, opts.Accuracy)
			if err != nil {
				return nil, err
			}
			probes[i] = p
		}
		perRun[r] = probes

		seed := opts.Seed + int64(r)
		rctx := logging.ContextWithRunID(gctx, uint64(r))
		g.Go(func() error {
			return run(rctx, opts, seed, probes)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, probes := range perRun {
		for i, p := range probes {
			total[i].mergeFrom(p)
		}
	}

	report := &Report{
		Options: opts,
		Windows: make([]WindowReport, len(total)),
		Elapsed: time.Since(start),
	}
	for i, p := range total {
		report.Windows[i] = p.report()
	}

	log.Info("simulation complete",
		"runs", opts.Runs,
		"updates", opts.Updates,
		"windows", len(opts.Windows),
		"elapsed", report.Elapsed,
	)
	return report, nil
}

// String renders the report as a fixed-width table.
func (r *Report) String() string {
	out := fmt.Sprintf("%d runs x %d updates, p(hit)=%.2f, mean burst %.1f\n",
		r.Options.Runs, r.Options.Updates, r.Options.HitProbability, r.Options.MeanBurst)
	out += fmt.Sprintf("%10s %10s %10s %10s %10s %10s %10s\n",
		"window", "samples", "mean", "p50", "p90", "p99", "max")
	for _, w := range r.Windows {
		out += fmt.Sprintf("%10d %10d %10.2f %10.2f %10.2f %10.2f %10.2f\n",
			w.Window, w.Samples, w.MeanAbsErr, w.P50, w.P90, w.P99, w.Max)
	}
	return out
}
