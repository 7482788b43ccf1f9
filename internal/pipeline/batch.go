package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/rangecodec/internal/fsutil"
	"github.com/banshee-data/rangecodec/internal/timeutil"
)

// ContainerExt is the file extension of encoded frames.
const ContainerExt = ".ric"

// BatchOptions configure RunBatch.
type BatchOptions struct {
	// Workers bounds the number of frames in flight; <= 0 means GOMAXPROCS.
	Workers int
	OutDir  string
	FS      fsutil.FileSystem
	// Load reads one input frame.
	Load func(path string) ([]r3.Vec, error)
	// Clock times each frame; nil means the wall clock.
	Clock timeutil.Clock
}

// FrameResult is the outcome of one batch frame.
type FrameResult struct {
	Input    string
	Output   string
	Stats    Stats
	Duration time.Duration
	Err      error
}

// BatchReport lists every frame in input order.
type BatchReport struct {
	Results []FrameResult
}

// Failed returns the frames that did not encode.
func (r *BatchReport) Failed() []FrameResult {
	var out []FrameResult
	for _, fr := range r.Results {
		if fr.Err != nil {
			out = append(out, fr)
		}
	}
	return out
}

// Succeeded counts the frames that encoded.
func (r *BatchReport) Succeeded() int {
	return len(r.Results) - len(r.Failed())
}

// OutputPath maps an input frame path to its container path under dir.
func OutputPath(dir, input string) string {
	base := filepath.Base(input)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+ContainerExt)
}

// RunBatch encodes every input independently. A failing frame is recorded
// in the report and never stops the others; only cancellation of ctx does,
// in which case the remaining frames fail with the context error and
// RunBatch returns it alongside the report.
func (e *Encoder) RunBatch(ctx context.Context, inputs []string, opts BatchOptions) (*BatchReport, error) {
	if opts.FS == nil {
		return nil, fmt.Errorf("batch: no filesystem")
	}
	if opts.Load == nil {
		return nil, fmt.Errorf("batch: no frame loader")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if err := opts.FS.MkdirAll(opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("batch: create output dir: %w", err)
	}

	report := &BatchReport{Results: make([]FrameResult, len(inputs))}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, input := range inputs {
		g.Go(func() error {
			report.Results[i] = e.batchFrame(ctx, input, opts)
			return nil
		})
	}
	// Workers report through report.Results and never return an error.
	_ = g.Wait()

	failed := report.Failed()
	for _, fr := range failed {
		opsf("frame %s failed: %v", fr.Input, fr.Err)
	}
	diagf("batch done: %d/%d frames encoded", len(inputs)-len(failed), len(inputs))
	return report, ctx.Err()
}

func (e *Encoder) batchFrame(ctx context.Context, input string, opts BatchOptions) FrameResult {
	start := opts.Clock.Now()
	fr := FrameResult{Input: input, Output: OutputPath(opts.OutDir, input)}
	fr.Err = func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		points, err := opts.Load(input)
		if err != nil {
			return err
		}
		res, err := e.EncodeFrame(ctx, points)
		if err != nil {
			return err
		}
		fr.Stats = res.Stats
		return fsutil.WriteFileAtomic(opts.FS, fr.Output, res.Data, 0644)
	}()
	fr.Duration = opts.Clock.Since(start)
	if fr.Err != nil {
		fr.Output = ""
	}
	return fr
}
