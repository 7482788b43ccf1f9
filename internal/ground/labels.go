package ground

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/quant"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// Label classifies one range image cell.
type Label int8

const (
	LabelEmpty     Label = 0
	LabelGround    Label = 1
	LabelNonGround Label = 2
)

func (l Label) String() string {
	switch l {
	case LabelEmpty:
		return "empty"
	case LabelGround:
		return "ground"
	case LabelNonGround:
		return "non-ground"
	}
	return fmt.Sprintf("Label(%d)", int8(l))
}

// LabelMap is the per-cell segmentation, row-major like rangeimage.Image.
type LabelMap struct {
	Height int
	Width  int
	Labels []Label
}

// Count returns how many cells carry l.
func (m *LabelMap) Count(l Label) int {
	n := 0
	for _, v := range m.Labels {
		if v == l {
			n++
		}
	}
	return n
}

// Selection lists, in row-major order, the cells labelled want. It is the
// single source of row order for both the model PMF and the symbol vector
// of a stage.
func (m *LabelMap) Selection(want Label) quant.Selection {
	return quant.SelectWhere(len(m.Labels), func(i int) bool { return m.Labels[i] == want })
}

// Segment labels every cell of img against pl. A cell is ground when its
// point lies within threshold of the plane under metric, non-ground when it
// lies further away, and empty when the cell has no return.
func Segment(img *rangeimage.Image, cloud []r3.Vec, pl Plane, threshold float64, metric DistanceMetric) (*LabelMap, error) {
	if len(cloud) != img.Len() {
		return nil, fmt.Errorf("point cloud has %d cells, range image has %d", len(cloud), img.Len())
	}
	if metric == nil {
		return nil, fmt.Errorf("no distance metric selected")
	}
	m := &LabelMap{Height: img.Height, Width: img.Width, Labels: make([]Label, img.Len())}
	for i, p := range cloud {
		if !img.Valid(i) {
			continue
		}
		if metric.Distance(p, pl) <= threshold {
			m.Labels[i] = LabelGround
		} else {
			m.Labels[i] = LabelNonGround
		}
	}
	return m, nil
}

// AllNonGround labels every non-empty cell non-ground. It is the fallback
// when no plane could be fit.
func AllNonGround(img *rangeimage.Image) *LabelMap {
	opsf("no ground plane available, coding all %d returns as non-ground", img.Points())
	m := &LabelMap{Height: img.Height, Width: img.Width, Labels: make([]Label, img.Len())}
	for i := range m.Labels {
		if img.Valid(i) {
			m.Labels[i] = LabelNonGround
		}
	}
	return m
}

// MarshalBinary stores one int8 per cell.
func (m *LabelMap) MarshalBinary() ([]byte, error) {
	out := make([]byte, len(m.Labels))
	for i, l := range m.Labels {
		out[i] = byte(l)
	}
	return out, nil
}

// UnmarshalLabels rebuilds a LabelMap of the given shape, rejecting unknown
// label values.
func UnmarshalLabels(data []byte, height, width int) (*LabelMap, error) {
	if len(data) != height*width {
		return nil, fmt.Errorf("label map has %d bytes, want %d (%dx%d)", len(data), height*width, height, width)
	}
	m := &LabelMap{Height: height, Width: width, Labels: make([]Label, len(data))}
	for i, b := range data {
		l := Label(int8(b))
		if l != LabelEmpty && l != LabelGround && l != LabelNonGround {
			return nil, fmt.Errorf("invalid label %d at cell %d", int8(b), i)
		}
		m.Labels[i] = l
	}
	return m, nil
}
