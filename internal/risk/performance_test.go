package risk_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/iwvelando/unwind-risk/internal/config"
	"github.com/iwvelando/unwind-risk/internal/risk"
	"go.uber.org/zap"
)

// TestFullScaleAssessment runs the default 10,000-run assessment with the
// full sweep. It is slow, so it only runs with -v.
func TestFullScaleAssessment(t *testing.T) {
	if !testing.Verbose() {
		t.Skip("Skipping full-scale assessment. Run with -v to enable.")
	}

	conf := config.Default()
	conf.MonteCarlo.Seed = 1
	conf.MonteCarlo.Workers = runtime.NumCPU()

	start := time.Now()
	a, err := risk.Assess(context.Background(), zap.NewNop(), *conf)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	elapsed := time.Since(start)

	t.Logf("Performance metrics:")
	t.Logf("  Runs: %d", a.Stats.Runs)
	t.Logf("  Sweep samples: %d", len(a.Sensitivity.Points)*a.Sensitivity.SampleSize)
	t.Logf("  Workers: %d", conf.MonteCarlo.Workers)
	t.Logf("  Total time: %v", elapsed)

	if elapsed > 30*time.Second {
		t.Errorf("Total assessment time %v exceeds 30 second threshold", elapsed)
	}
}

// TestWorkerCountDoesNotChangeResults checks that parallel and sequential
// execution produce identical statistics for a fixed seed.
func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	conf := config.Default()
	conf.MonteCarlo.Runs = 400
	conf.MonteCarlo.Seed = 99
	conf.Sensitivity.SampleSize = 8

	var first *risk.Assessment
	for _, workers := range []int{1, 3, 8} {
		conf.MonteCarlo.Workers = workers
		a, err := risk.Assess(context.Background(), nil, *conf)
		if err != nil {
			t.Fatalf("Assess with %d workers failed: %v", workers, err)
		}
		if first == nil {
			first = a
			continue
		}
		if a.Stats != first.Stats {
			t.Errorf("workers=%d: stats %+v differ from sequential %+v", workers, a.Stats, first.Stats)
		}
		for i := range a.Sensitivity.Points {
			if a.Sensitivity.Points[i] != first.Sensitivity.Points[i] {
				t.Errorf("workers=%d: sweep point %d differs", workers, i)
			}
		}
	}
}
