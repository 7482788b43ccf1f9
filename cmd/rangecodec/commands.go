package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/config"
	"github.com/banshee-data/rangecodec/internal/evaluate"
	"github.com/banshee-data/rangecodec/internal/fsutil"
	"github.com/banshee-data/rangecodec/internal/model"
	"github.com/banshee-data/rangecodec/internal/pipeline"
	"github.com/banshee-data/rangecodec/internal/pointcloud"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
	"github.com/banshee-data/rangecodec/internal/runlog"
	"github.com/banshee-data/rangecodec/internal/version"
)

// commonFlags are shared by every codec subcommand.
type commonFlags struct {
	lidar       string
	ckpt        string
	config      string
	verbose     bool
	veryVerbose bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.lidar, "lidar", "", "Sensor description YAML (required)")
	fs.StringVar(&c.ckpt, "ckpt", "", "Model checkpoint JSON (required)")
	fs.StringVar(&c.config, "config", "", "Codec tuning JSON (optional, defaults apply)")
	fs.BoolVar(&c.verbose, "v", false, "Diagnostic logging")
	fs.BoolVar(&c.veryVerbose, "vv", false, "Diagnostic and trace logging")
}

// settings loads the three config files into codec settings.
func (c *commonFlags) settings() (pipeline.Settings, error) {
	if c.lidar == "" {
		return pipeline.Settings{}, codecerr.Configf("lidar", "flag is required")
	}
	if c.ckpt == "" {
		return pipeline.Settings{}, codecerr.Configf("ckpt", "flag is required")
	}
	sensor, err := config.LoadSensorConfig(c.lidar)
	if err != nil {
		return pipeline.Settings{}, err
	}
	params, err := sensor.Params()
	if err != nil {
		return pipeline.Settings{}, err
	}
	cc := config.EmptyCodecConfig()
	if c.config != "" {
		if cc, err = config.LoadCodecConfig(c.config); err != nil {
			return pipeline.Settings{}, err
		}
	}
	pred, err := model.LoadCheckpoint(c.ckpt)
	if err != nil {
		return pipeline.Settings{}, err
	}
	return pipeline.SettingsFromConfig(params, cc, pred)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func handleEncode(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("encode", stderr)
	var common commonFlags
	common.register(fs)
	input := fs.String("p", "", "Point cloud to compress, .bin or .txt (required)")
	output := fs.String("o", "", "Output container (default: <input>.ric in the current directory)")
	verify := fs.Bool("verify", false, "Decode the arithmetic stream after encoding and compare")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogging(stderr, common.verbose, common.veryVerbose)

	if *input == "" {
		return codecerr.Configf("p", "flag is required")
	}
	s, err := common.settings()
	if err != nil {
		return err
	}
	s.Verify = *verify
	enc, err := pipeline.NewEncoder(s)
	if err != nil {
		return err
	}

	points, err := pointcloud.Load(*input)
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext()
	defer cancel()
	res, err := enc.EncodeFrame(ctx, points)
	if err != nil {
		return err
	}

	out := *output
	if out == "" {
		out = pipeline.OutputPath(".", *input)
	}
	if err := fsutil.WriteFileAtomic(fsutil.OSFileSystem{}, out, res.Data, 0644); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Wrote %s\n", out)
	if res.Plane != nil {
		fmt.Fprintf(stdout, "    Ground plane: %.4fx %+.4fy %+.4fz %+.4f\n", res.Plane.A, res.Plane.B, res.Plane.C, res.Plane.D)
	} else {
		fmt.Fprintln(stdout, "    Ground plane: none, every return coded as non-ground")
	}
	printStats(stdout, res.Stats)
	return nil
}

func handleDecode(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("decode", stderr)
	var common commonFlags
	common.register(fs)
	input := fs.String("b", "", "Container to decode (required)")
	output := fs.String("o", "", "Write the reconstructed point cloud, .bin or .txt (optional)")
	original := fs.String("original", "", "Original point cloud to compare against (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogging(stderr, common.verbose, common.veryVerbose)

	if *input == "" {
		return codecerr.Configf("b", "flag is required")
	}
	s, err := common.settings()
	if err != nil {
		return err
	}
	dec, err := pipeline.NewDecoder(s)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("read container: %w", err)
	}
	ctx, cancel := interruptContext()
	defer cancel()
	res, err := dec.DecodeFrame(ctx, data)
	if err != nil {
		return err
	}

	if *output != "" {
		if err := pointcloud.Save(*output, res.Cloud); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Wrote %s\n", *output)
	}
	printStats(stdout, res.Stats)

	if *original == "" {
		return nil
	}
	return compareOriginal(stdout, s.Params, *original, res)
}

// compareOriginal rasterises the original frame the same way the encoder
// does and reports how far the reconstruction is from it.
func compareOriginal(stdout io.Writer, params rangeimage.Params, path string, res *pipeline.DecodeResult) error {
	points, err := pointcloud.Load(path)
	if err != nil {
		return err
	}
	img, err := rangeimage.FromPointCloud(points, params)
	if err != nil {
		return err
	}
	dmap, err := rangeimage.NewDirectionalMap(params)
	if err != nil {
		return err
	}
	cloud, err := rangeimage.ToPointCloud(img, dmap)
	if err != nil {
		return err
	}
	resid, err := evaluate.Residuals(img, res.Image)
	if err != nil {
		return err
	}
	m, err := evaluate.CompareClouds(cloud, res.Cloud, evaluate.DefaultFScoreThreshold)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\nCompared with %s\n", path)
	fmt.Fprintf(stdout, "    Residual (max): %.6f\n", resid.Max)
	fmt.Fprintf(stdout, "    Residual (mean): %.6f\n", resid.Mean)
	fmt.Fprintf(stdout, "    Chamfer Distance (mean): %.6f\n", m.Chamfer)
	fmt.Fprintf(stdout, "    F1 score (threshold=%.2f): %.6f\n", m.Threshold, m.FScore)
	return nil
}

func handleBatch(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("batch", stderr)
	var common commonFlags
	common.register(fs)
	list := fs.String("list", "", "File with one point cloud path per line (required)")
	outDir := fs.String("out", "", "Output directory for containers (required)")
	dbPath := fs.String("db", "", "Record the run in this sqlite database (optional)")
	workers := fs.Int("workers", 0, "Frames encoded concurrently (default GOMAXPROCS)")
	verify := fs.Bool("verify", false, "Verify every arithmetic stream")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogging(stderr, common.verbose, common.veryVerbose)

	if *list == "" {
		return codecerr.Configf("list", "flag is required")
	}
	if *outDir == "" {
		return codecerr.Configf("out", "flag is required")
	}
	s, err := common.settings()
	if err != nil {
		return err
	}
	s.Verify = *verify
	enc, err := pipeline.NewEncoder(s)
	if err != nil {
		return err
	}
	inputs, err := readFrameList(*list)
	if err != nil {
		return err
	}

	var (
		rl    *runlog.RunLog
		runID string
	)
	if *dbPath != "" {
		if rl, err = runlog.Open(*dbPath); err != nil {
			return err
		}
		defer rl.Close()
		runID, err = rl.StartRun(runlog.RunInfo{
			Compressor: s.Compressor.Name(),
			Model:      s.Predictor.Name(),
			Step0:      s.Step0,
			Step1:      s.Step1,
			Version:    version.Version,
		})
		if err != nil {
			return err
		}
	}

	ctx, cancel := interruptContext()
	defer cancel()
	report, batchErr := enc.RunBatch(ctx, inputs, pipeline.BatchOptions{
		Workers: *workers,
		OutDir:  *outDir,
		FS:      fsutil.OSFileSystem{},
		Load:    pointcloud.Load,
	})
	if report == nil {
		return batchErr
	}

	var totalBytes, totalPoints int
	for _, fr := range report.Results {
		if fr.Err != nil {
			fmt.Fprintf(stdout, "FAIL %s: %v\n", fr.Input, fr.Err)
		} else {
			fmt.Fprintf(stdout, "ok   %s -> %s  bpp=%.3f ratio=%.2f  %s\n",
				fr.Input, fr.Output, fr.Stats.BitsPerPoint(), fr.Stats.CompressionRatio(), fr.Duration.Round(time.Millisecond))
			totalBytes += fr.Stats.TotalBytes
			totalPoints += fr.Stats.Points
		}
		if rl != nil {
			if err := rl.RecordFrame(runID, frameRecord(fr)); err != nil {
				return err
			}
		}
	}
	if rl != nil {
		if err := rl.FinishRun(runID); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Run %s recorded in %s\n", runID, *dbPath)
	}
	overall := pipeline.Stats{Points: totalPoints, TotalBytes: totalBytes}
	fmt.Fprintf(stdout, "%d/%d frames encoded, %d bytes, bpp=%.3f ratio=%.2f\n",
		report.Succeeded(), len(report.Results), totalBytes, overall.BitsPerPoint(), overall.CompressionRatio())

	if batchErr != nil {
		return batchErr
	}
	if n := len(report.Failed()); n > 0 {
		return fmt.Errorf("%d of %d frames failed", n, len(report.Results))
	}
	return nil
}

func frameRecord(fr pipeline.FrameResult) runlog.Frame {
	f := runlog.Frame{
		Input:            fr.Input,
		Output:           fr.Output,
		Points:           fr.Stats.Points,
		NonGroundBytes:   fr.Stats.NonGroundBytes,
		GroundBytes:      fr.Stats.GroundBytes,
		SegBytes:         fr.Stats.SegBytes,
		BitstreamBytes:   fr.Stats.BitstreamBytes,
		TotalBytes:       fr.Stats.TotalBytes,
		BitsPerPoint:     fr.Stats.BitsPerPoint(),
		CompressionRatio: fr.Stats.CompressionRatio(),
		Duration:         fr.Duration,
	}
	if fr.Err != nil {
		f.Err = fr.Err.Error()
	}
	return f
}

// readFrameList reads one path per line, skipping blanks and # comments.
func readFrameList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame list: %w", err)
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func printStats(w io.Writer, s pipeline.Stats) {
	fmt.Fprintf(w, "    Points: %d\n", s.Points)
	fmt.Fprintf(w, "    Bytes: %d (seg %d, base %d, ground %d, bitstream %d)\n",
		s.TotalBytes, s.SegBytes, s.NonGroundBytes, s.GroundBytes, s.BitstreamBytes)
	fmt.Fprintf(w, "    BPP: %.4f\n", s.BitsPerPoint())
	fmt.Fprintf(w, "    Compression Ratio: %.4f\n", s.CompressionRatio())
}
