package checkpoint

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Architecture: "genre-cnn",
		InputShape:   []int{64, 173, 1},
		NumClasses:   3,
		Labels:       []string{"Blues", "Hip hop", "Rock"},
		Params: []Tensor{
			{Name: "conv2d_1/kernel", Shape: []int{2, 2, 1, 1}, Data: []float64{0.5, -1.25, 3, 1e-9}},
			{Name: "dense_1/bias", Shape: []int{3}, Data: []float64{0, 0, -7}},
		},
		Iteration:          17,
		ValidationAccuracy: 0.8125,
		TestAccuracy:       0.79,
		CreatedAt:          time.Unix(1700000000, 42),
	}
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName(0.8125, 0.79))
	snap := sampleSnapshot()
	if err := Write(path, snap); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.CreatedAt.Equal(snap.CreatedAt) {
		t.Fatalf("created_at %v want %v", got.CreatedAt, snap.CreatedAt)
	}
	got.CreatedAt = snap.CreatedAt
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
	}
	if p, ok := got.Param("dense_1/bias"); !ok || p.Data[2] != -7 {
		t.Fatalf("Param lookup failed: %+v %v", p, ok)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Marshal(sampleSnapshot())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future field")
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.NumClasses != 3 || len(got.Params) != 2 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	b := Marshal(sampleSnapshot())
	if _, err := Unmarshal(b[:len(b)-20]); err == nil {
		t.Fatal("expected error for truncated snapshot")
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(0.8125, 0.79); got != "model81.25_79.00.ckpt" {
		t.Fatalf("FileName=%s", got)
	}
}
