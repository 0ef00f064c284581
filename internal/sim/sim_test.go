package sim

import (
	"context"
	"testing"
)

func TestBurstSource_StationaryFraction(t *testing.T) {
	for _, p := range []float64{0.2, 0.5, 0.8} {
		src := NewBurstSource(99, p, 8)
		const n = 200000
		var ones float64
		for k := 0; k < n; k++ {
			ones += float64(src.Next())
		}
		got := ones / n
		if got < p-0.05 || got > p+0.05 {
			t.Errorf("p=%v: observed hit fraction %v", p, got)
		}
	}
}

func TestBurstSource_BurstLength(t *testing.T) {
	src := NewBurstSource(7, 0.5, 10)
	const n = 200000

	prev := src.Next()
	runLen := 1
	var hitRuns, hitRunBits int
	for k := 1; k < n; k++ {
		bit := src.Next()
		if bit == prev {
			runLen++
			continue
		}
		if prev == 1 {
			hitRuns++
			hitRunBits += runLen
		}
		prev = bit
		runLen = 1
	}

	if hitRuns == 0 {
		t.Fatal("no hit runs observed")
	}
	mean := float64(hitRunBits) / float64(hitRuns)
	if mean < 8 || mean > 12 {
		t.Errorf("mean hit run length = %v, want about 10", mean)
	}
}

func TestBurstSource_Degenerate(t *testing.T) {
	never := NewBurstSource(1, 0, 8)
	always := NewBurstSource(1, 1, 8)
	for k := 0; k < 1000; k++ {
		if never.Next() != 0 {
			t.Fatal("p=0 source emitted a hit")
		}
		if always.Next() != 1 {
			t.Fatal("p=1 source emitted a miss")
		}
	}
}

func smallOptions() Options {
	opts := DefaultOptions()
	opts.Stores = 5
	opts.Updates = 3000
	opts.Runs = 4
	opts.Checkpoints = 32
	opts.Workers = 2
	return opts
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(context.Background(), smallOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := Run(context.Background(), smallOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(first.Windows) != len(second.Windows) {
		t.Fatalf("window counts differ: %d vs %d", len(first.Windows), len(second.Windows))
	}
	for i := range first.Windows {
		a, b := first.Windows[i], second.Windows[i]
		if a.Samples != b.Samples || a.MeanAbsErr != b.MeanAbsErr || a.Max != b.Max {
			t.Errorf("window %d not reproducible: %+v vs %+v", a.Window, a, b)
		}
	}
}

// errAllowance is the worst tolerated absolute error for a trailing
// window: per crossed level boundary the resident carry and hold, plus
// the fractional stored bit at the window edge.
func errAllowance(window int) float64 {
	var allowed float64
	cum, fid := 64, 1
	for window > cum {
		allowed += float64(2 * fid)
		fid <<= 1
		cum += 64 * fid
	}
	allowed += float64(fid - 1)
	return allowed
}

func TestRun_ErrorWithinBound(t *testing.T) {
	report, err := Run(context.Background(), smallOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Windows) == 0 {
		t.Fatal("no window reports")
	}
	for _, w := range report.Windows {
		if w.Samples == 0 {
			t.Errorf("window %d collected no samples", w.Window)
			continue
		}
		if allowed := errAllowance(w.Window); w.Max > allowed {
			t.Errorf("window %d: max error %v exceeds %v", w.Window, w.Max, allowed)
		}
		if w.Window <= 64 && w.Max != 0 {
			t.Errorf("window %d inside level 0 should be exact, max error %v", w.Window, w.Max)
		}
		// Sketch quantiles are only relatively accurate, so give the
		// p99 a small margin over the exact max.
		if w.P99 > w.Max*1.05 {
			t.Errorf("window %d: p99 %v above max %v", w.Window, w.P99, w.Max)
		}
	}
}

func TestOptions_DefaultWindows(t *testing.T) {
	opts := DefaultOptions()
	opts.Stores = 4
	opts.Updates = 2000
	if err := opts.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	// Cumulative spans 64, 192, 448, 960 all fit in 2000 updates.
	want := []int{64, 192, 448, 960}
	if len(opts.Windows) != len(want) {
		t.Fatalf("windows = %v, want %v", opts.Windows, want)
	}
	for i := range want {
		if opts.Windows[i] != want[i] {
			t.Fatalf("windows = %v, want %v", opts.Windows, want)
		}
	}
}

func TestRun_BadOptions(t *testing.T) {
	bad := []func(*Options){
		func(o *Options) { o.Stores = 0 },
		func(o *Options) { o.Updates = 0 },
		func(o *Options) { o.Runs = 0 },
		func(o *Options) { o.Accuracy = 0 },
		func(o *Options) { o.Windows = []int{0} },
	}
	for i, mutate := range bad {
		opts := smallOptions()
		mutate(&opts)
		if _, err := Run(context.Background(), opts); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
