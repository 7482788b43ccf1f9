package runlog

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/rangecodec/internal/timeutil"
)

// RunLog records batch encode runs and their per-frame outcomes.
type RunLog struct {
	*sql.DB
	clock timeutil.Clock
}

// schema.sql defines the runs and frame_results tables.
//
//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

func Open(path string) (*RunLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply run log schema: %w", err)
	}

	log.Println("initialized run log schema")

	return &RunLog{DB: db, clock: timeutil.RealClock{}}, nil
}

// SetClock replaces the clock used for timestamps and busy backoff.
func (rl *RunLog) SetClock(c timeutil.Clock) { rl.clock = c }

// RunInfo describes the settings a run was started with.
type RunInfo struct {
	Compressor string
	Model      string
	Step0      float64
	Step1      float64
	Version    string
}

// Run is a stored run.
type Run struct {
	ID string
	RunInfo
	StartedAt time.Time
	// FinishedAt is zero until FinishRun.
	FinishedAt  time.Time
	FrameCount  int
	FailedCount int
}

// Frame is the outcome of one frame of a run. Err is empty on success.
type Frame struct {
	Input            string
	Output           string
	Points           int
	NonGroundBytes   int
	GroundBytes      int
	SegBytes         int
	BitstreamBytes   int
	TotalBytes       int
	BitsPerPoint     float64
	CompressionRatio float64
	Duration         time.Duration
	Err              string
}

// StartRun inserts a new run and returns its id.
func (rl *RunLog) StartRun(info RunInfo) (string, error) {
	id := uuid.New().String()
	err := retryOnBusy(rl.clock, func() error {
		_, err := rl.Exec(`
			INSERT INTO runs (run_id, started_at, compressor, model, stage_0_step, stage_1_step, version)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, rl.clock.Now().UnixNano(), info.Compressor, info.Model, info.Step0, info.Step1, info.Version,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// RecordFrame stores one frame outcome under runID.
func (rl *RunLog) RecordFrame(runID string, f Frame) error {
	var errText interface{}
	if f.Err != "" {
		errText = f.Err
	}
	err := retryOnBusy(rl.clock, func() error {
		_, err := rl.Exec(`
			INSERT INTO frame_results (
				run_id, input_path, output_path, points,
				nonground_bytes, ground_bytes, seg_bytes, bitstream_bytes, total_bytes,
				bits_per_point, compression_ratio, duration_ns, error, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, f.Input, f.Output, f.Points,
			f.NonGroundBytes, f.GroundBytes, f.SegBytes, f.BitstreamBytes, f.TotalBytes,
			f.BitsPerPoint, f.CompressionRatio, f.Duration.Nanoseconds(), errText, rl.clock.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record frame %s: %w", f.Input, err)
	}
	return nil
}

// FinishRun stamps the end time and counts the recorded frames.
func (rl *RunLog) FinishRun(runID string) error {
	var res sql.Result
	err := retryOnBusy(rl.clock, func() error {
		var err error
		res, err = rl.Exec(`
			UPDATE runs
			SET
				finished_at = ?,
				frame_count = (SELECT COUNT(*) FROM frame_results WHERE run_id = ?),
				failed_count = (SELECT COUNT(*) FROM frame_results WHERE run_id = ? AND error IS NOT NULL)
			WHERE run_id = ?`,
			rl.clock.Now().UnixNano(), runID, runID, runID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads a run by id.
func (rl *RunLog) GetRun(runID string) (*Run, error) {
	var (
		r            Run
		started      int64
		finished     sql.NullInt64
		frames, fail int
	)
	err := rl.QueryRow(`
		SELECT run_id, started_at, finished_at, compressor, model, stage_0_step, stage_1_step,
			version, frame_count, failed_count
		FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.ID, &started, &finished, &r.Compressor, &r.Model, &r.Step0, &r.Step1,
		&r.Version, &frames, &fail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	r.FrameCount, r.FailedCount = frames, fail
	return &r, nil
}

// Frames returns every frame of a run in the order recorded.
func (rl *RunLog) Frames(runID string) ([]Frame, error) {
	return rl.queryFrames(`WHERE run_id = ?`, runID)
}

// Failures returns the frames of a run that did not encode.
func (rl *RunLog) Failures(runID string) ([]Frame, error) {
	return rl.queryFrames(`WHERE run_id = ? AND error IS NOT NULL`, runID)
}

func (rl *RunLog) queryFrames(where string, args ...interface{}) ([]Frame, error) {
	rows, err := rl.Query(`
		SELECT input_path, output_path, points, nonground_bytes, ground_bytes, seg_bytes,
			bitstream_bytes, total_bytes, bits_per_point, compression_ratio, duration_ns, error
		FROM frame_results `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var (
			f       Frame
			dur     int64
			errText sql.NullString
		)
		if err := rows.Scan(&f.Input, &f.Output, &f.Points, &f.NonGroundBytes, &f.GroundBytes, &f.SegBytes,
			&f.BitstreamBytes, &f.TotalBytes, &f.BitsPerPoint, &f.CompressionRatio, &dur, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan frame row: %w", err)
		}
		f.Duration = time.Duration(dur)
		f.Err = errText.String
		out = append(out, f)
	}
	return out, rows.Err()
}

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy reruns fn with linear backoff while sqlite reports a lock.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		clock.Sleep(time.Duration(attempt+1) * busyBackoff)
	}
	return err
}
