package pointcloud

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/fsutil"
)

var frame = []r3.Vec{
	{X: 1.5, Y: -2.25, Z: 0.125},
	{},
	{X: -10, Y: 20.5, Z: -1.75},
}

func TestBin_RoundTrip(t *testing.T) {
	data := EncodeBin(frame)
	if len(data) != 2*binPointSize {
		t.Fatalf("encoded %d bytes, want %d (origin skipped)", len(data), 2*binPointSize)
	}
	got, err := DecodeBin(data)
	if err != nil {
		t.Fatal(err)
	}
	want := []r3.Vec{frame[0], frame[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bin round trip (-want +got):\n%s", diff)
	}
}

func TestBin_LayoutIsKITTI(t *testing.T) {
	// x=1.0, y=-2.0, z=0.5, intensity=0.25
	data := []byte{
		0x00, 0x00, 0x80, 0x3f,
		0x00, 0x00, 0x00, 0xc0,
		0x00, 0x00, 0x00, 0x3f,
		0x00, 0x00, 0x80, 0x3e,
	}
	got, err := DecodeBin(data)
	if err != nil {
		t.Fatal(err)
	}
	if want := (r3.Vec{X: 1, Y: -2, Z: 0.5}); len(got) != 1 || got[0] != want {
		t.Errorf("got %v, want [%v]", got, want)
	}
}

func TestBin_RejectsPartialRecord(t *testing.T) {
	if _, err := DecodeBin(make([]byte, 20)); err == nil {
		t.Fatal("expected error for 20-byte input")
	}
}

func TestText_RoundTrip(t *testing.T) {
	got, err := DecodeText(EncodeText(frame))
	if err != nil {
		t.Fatal(err)
	}
	want := []r3.Vec{frame[0], frame[2]}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("text round trip (-want +got):\n%s", diff)
	}
}

func TestText_Parsing(t *testing.T) {
	got, err := DecodeText([]byte("# header\n\n1 2 3\n  4\t5 6 0.9 extra\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	for _, bad := range []string{"1 2\n", "1 two 3\n"} {
		if _, err := DecodeText([]byte(bad)); err == nil {
			t.Errorf("DecodeText(%q): expected error", bad)
		}
	}
}

func TestReadWrite_Memory(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	for _, name := range []string{"frame.bin", "frame.txt", "FRAME.BIN"} {
		if err := Write(fsys, name, frame); err != nil {
			t.Fatalf("Write(%s): %v", name, err)
		}
		got, err := Read(fsys, name)
		if err != nil {
			t.Fatalf("Read(%s): %v", name, err)
		}
		if len(got) != 2 {
			t.Errorf("%s: read %d points, want 2", name, len(got))
		}
	}
}

func TestUnsupportedFormat(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if err := Write(fsys, "frame.pcd", frame); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Write: got %v, want ErrUnsupportedFormat", err)
	}
	if _, err := Read(fsys, "frame.ply"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Read: got %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoadSave_Disk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000000.bin")
	if err := Save(path, frame); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("loaded %d points, want 2", len(got))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("expected error for missing file")
	}
}
