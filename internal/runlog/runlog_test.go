package runlog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/rangecodec/internal/timeutil"
)

func openTestLog(t *testing.T) *RunLog {
	t.Helper()
	rl, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Failed to open run log: %v", err)
	}
	t.Cleanup(func() { rl.Close() })
	return rl
}

func TestOpen_Pragmas(t *testing.T) {
	rl := openTestLog(t)

	var journalMode string
	if err := rl.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var fk int
	if err := rl.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", fk)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	rl, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := rl.StartRun(RunInfo{Compressor: "bzip2", Model: "laplace", Step0: 0.6, Step1: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	rl.Close()

	rl, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rl.Close()
	if _, err := rl.GetRun(id); err != nil {
		t.Errorf("run lost after reopen: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	rl := openTestLog(t)
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	rl.SetClock(clock)
	info := RunInfo{Compressor: "zstd", Model: "laplace", Step0: 0.6, Step1: 0.2, Version: "v1.2.3"}
	id, err := rl.StartRun(info)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 36 {
		t.Errorf("run id %q is not a uuid", id)
	}

	frames := []Frame{
		{Input: "a.bin", Output: "out/a.ric", Points: 1000, TotalBytes: 500, SegBytes: 100,
			BitsPerPoint: 4, CompressionRatio: 24, Duration: 15 * time.Millisecond},
		{Input: "b.bin", Err: "unreadable frame"},
		{Input: "c.bin", Output: "out/c.ric", Points: 10, TotalBytes: 30},
	}
	for _, f := range frames {
		if err := rl.RecordFrame(id, f); err != nil {
			t.Fatalf("RecordFrame(%s): %v", f.Input, err)
		}
	}
	clock.Advance(2 * time.Minute)
	if err := rl.FinishRun(id); err != nil {
		t.Fatal(err)
	}

	run, err := rl.GetRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if run.RunInfo != info {
		t.Errorf("info = %+v, want %+v", run.RunInfo, info)
	}
	if run.FrameCount != 3 || run.FailedCount != 1 {
		t.Errorf("counts = %d/%d failed, want 3/1", run.FrameCount, run.FailedCount)
	}
	if !run.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, start)
	}
	if got := run.FinishedAt.Sub(run.StartedAt); got != 2*time.Minute {
		t.Errorf("run lasted %v, want 2m", got)
	}

	got, err := rl.Frames(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	if got[0] != frames[0] {
		t.Errorf("frame round trip: got %+v, want %+v", got[0], frames[0])
	}

	failed, err := rl.Failures(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Input != "b.bin" || failed[0].Err != "unreadable frame" {
		t.Errorf("failures = %+v", failed)
	}
}

func TestRunsAreSeparate(t *testing.T) {
	rl := openTestLog(t)
	a, _ := rl.StartRun(RunInfo{Compressor: "lz4", Model: "laplace"})
	b, _ := rl.StartRun(RunInfo{Compressor: "lz4", Model: "laplace"})
	if a == b {
		t.Fatal("run ids collide")
	}
	if err := rl.RecordFrame(a, Frame{Input: "x.bin", Err: "boom"}); err != nil {
		t.Fatal(err)
	}
	failed, err := rl.Failures(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 0 {
		t.Errorf("run b has %d failures, want 0", len(failed))
	}
}

func TestUnknownRun(t *testing.T) {
	rl := openTestLog(t)
	if _, err := rl.GetRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun: got %v, want ErrRunNotFound", err)
	}
	if err := rl.FinishRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun: got %v, want ErrRunNotFound", err)
	}
	if err := rl.RecordFrame("nope", Frame{Input: "x.bin"}); err == nil {
		t.Error("RecordFrame for unknown run should violate the foreign key")
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	calls := 0
	err := retryOnBusy(clock, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d, want nil after 3 calls", err, calls)
	}
	if got := clock.Sleeps(); len(got) != 2 || got[0] != busyBackoff || got[1] != 2*busyBackoff {
		t.Errorf("backoff sleeps = %v", got)
	}

	calls = 0
	busy := errors.New("SQLITE_BUSY")
	if err := retryOnBusy(clock, func() error { calls++; return busy }); err != busy || calls != busyRetries+1 {
		t.Errorf("persistent busy: err=%v calls=%d", err, calls)
	}

	calls = 0
	testErr := errors.New("some other error")
	if err := retryOnBusy(clock, func() error { calls++; return testErr }); err != testErr || calls != 1 {
		t.Errorf("non-busy error: err=%v calls=%d", err, calls)
	}
}
