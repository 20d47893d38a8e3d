package dataset

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio/npz"
)

func writeArchive(t *testing.T, arrays map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "melspects.npz")
	zw, err := npz.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	for name, v := range arrays {
		if err := zw.Write(name, v); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return path
}

func features(n, h, w int, base float32) []float32 {
	out := make([]float32, n*h*w)
	for i := 0; i < n; i++ {
		for j := 0; j < h*w; j++ {
			out[i*h*w+j] = base + float32(i)
		}
	}
	return out
}

func standardArrays(h, w int) map[string]interface{} {
	return map[string]interface{}{
		KeyTrainX:      features(6, h, w, 0),
		KeyTrainY:      []int64{0, 1, 2, 0, 1, 2},
		KeyValidationX: features(3, h, w, 100),
		KeyValidationY: []int64{2, 1, 0},
		KeyTestX:       features(2, h, w, 200),
		KeyTestY:       []int64{1, 1},
	}
}

func TestLoadArchive(t *testing.T) {
	path := writeArchive(t, standardArrays(4, 5))
	data, err := LoadArchive(path, Shape{Height: 4, Width: 5})
	if err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	if data.Shape != (Shape{Height: 4, Width: 5, Channels: 1}) {
		t.Fatalf("unexpected shape %v", data.Shape)
	}
	if data.Train.Len() != 6 || data.Validation.Len() != 3 || data.Test.Len() != 2 {
		t.Fatalf("unexpected sizes %d/%d/%d", data.Train.Len(), data.Validation.Len(), data.Test.Len())
	}
	if got := data.Validation.Features[1][7]; got != 101 {
		t.Fatalf("validation sample 1 = %g, want 101", got)
	}
	if data.Test.Labels[0] != 1 || data.Train.Labels[5] != 2 {
		t.Fatalf("labels not decoded: %v %v", data.Train.Labels, data.Test.Labels)
	}
	if data.NumClasses() != 3 {
		t.Fatalf("NumClasses=%d want 3", data.NumClasses())
	}
}

func TestLoadArchiveMissingArray(t *testing.T) {
	arrays := standardArrays(2, 2)
	delete(arrays, KeyValidationY)
	path := writeArchive(t, arrays)
	if _, err := LoadArchive(path, Shape{Height: 2, Width: 2}); !errors.Is(err, ErrMissingArray) {
		t.Fatalf("expected ErrMissingArray, got %v", err)
	}
}

func TestLoadArchiveCountMismatch(t *testing.T) {
	arrays := standardArrays(2, 2)
	arrays[KeyTestY] = []int64{1, 0, 1}
	path := writeArchive(t, arrays)
	if _, err := LoadArchive(path, Shape{Height: 2, Width: 2}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestLoadArchiveNeedsShapeForFlatArrays(t *testing.T) {
	path := writeArchive(t, standardArrays(2, 2))
	if _, err := LoadArchive(path, Shape{}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch without a spatial shape, got %v", err)
	}
}

func TestLoadArchiveMissingFile(t *testing.T) {
	if _, err := LoadArchive(filepath.Join(t.TempDir(), "nope.npz"), Shape{Height: 1, Width: 1}); err == nil {
		t.Fatal("expected error for missing archive")
	}
}
