// Package checkpoint persists model parameters together with the training
// state that produced them. Snapshots are encoded as protobuf messages:
//
//	message Tensor {
//	  string name = 1;
//	  repeated int64 shape = 2;
//	  repeated double data = 3;
//	}
//	message Snapshot {
//	  string architecture = 1;
//	  repeated int64 input_shape = 2;
//	  int64 num_classes = 3;
//	  repeated string labels = 4;
//	  repeated Tensor params = 5;
//	  int64 iteration = 6;
//	  double validation_accuracy = 7;
//	  double test_accuracy = 8;
//	  int64 created_unix_nano = 9;
//	}
package checkpoint

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Extension is the file suffix for snapshots.
const Extension = ".ckpt"

// Tensor is one named parameter array.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// Snapshot is a full model state plus the metrics that triggered it.
type Snapshot struct {
	Architecture       string
	InputShape         []int
	NumClasses         int
	Labels             []string
	Params             []Tensor
	Iteration          int
	ValidationAccuracy float64
	TestAccuracy       float64
	CreatedAt          time.Time
}

// Param returns the tensor with the given name.
func (s *Snapshot) Param(name string) (Tensor, bool) {
	for _, t := range s.Params {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}

// FileName encodes the validation and test accuracy, as percentages, in
// the snapshot name.
func FileName(validationAccuracy, testAccuracy float64) string {
	return fmt.Sprintf("model%.2f_%.2f%s", 100*validationAccuracy, 100*testAccuracy, Extension)
}

// Write encodes snap to path, replacing any existing file.
func Write(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "checkpoint: create directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Marshal(snap), 0o644); err != nil {
		return errors.Wrapf(err, "checkpoint: write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "checkpoint: rename %s", path)
	}
	return nil
}

// Read decodes the snapshot stored at path.
func Read(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: read %s", path)
	}
	snap, err := Unmarshal(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: decode %s", path)
	}
	return snap, nil
}

// Marshal encodes snap in protobuf wire format.
func Marshal(snap *Snapshot) []byte {
	var b []byte
	b = appendString(b, 1, snap.Architecture)
	b = appendInts(b, 2, snap.InputShape)
	b = appendVarint(b, 3, uint64(snap.NumClasses))
	for _, l := range snap.Labels {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, l)
	}
	for _, t := range snap.Params {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(t))
	}
	b = appendVarint(b, 6, uint64(snap.Iteration))
	b = appendDouble(b, 7, snap.ValidationAccuracy)
	b = appendDouble(b, 8, snap.TestAccuracy)
	if !snap.CreatedAt.IsZero() {
		b = appendVarint(b, 9, uint64(snap.CreatedAt.UnixNano()))
	}
	return b
}

// Unmarshal decodes a snapshot produced by Marshal. Unknown fields are
// skipped.
func Unmarshal(b []byte) (*Snapshot, error) {
	snap := &Snapshot{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			snap.Architecture, b = v, b[n:]
		case num == 2:
			ints, n, err := consumeInts(b, typ)
			if err != nil {
				return nil, err
			}
			snap.InputShape, b = append(snap.InputShape, ints...), b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			snap.NumClasses, b = int(v), b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			snap.Labels, b = append(snap.Labels, v), b[n:]
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			t, err := unmarshalTensor(v)
			if err != nil {
				return nil, err
			}
			snap.Params, b = append(snap.Params, t), b[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			snap.Iteration, b = int(v), b[n:]
		case (num == 7 || num == 8) && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if num == 7 {
				snap.ValidationAccuracy = math.Float64frombits(v)
			} else {
				snap.TestAccuracy = math.Float64frombits(v)
			}
			b = b[n:]
		case num == 9 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			snap.CreatedAt, b = time.Unix(0, int64(v)), b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return snap, nil
}

func marshalTensor(t Tensor) []byte {
	var b []byte
	b = appendString(b, 1, t.Name)
	b = appendInts(b, 2, t.Shape)
	if len(t.Data) > 0 {
		packed := make([]byte, 0, 8*len(t.Data))
		for _, v := range t.Data {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

func unmarshalTensor(b []byte) (Tensor, error) {
	var t Tensor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return t, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return t, protowire.ParseError(n)
			}
			t.Name, b = v, b[n:]
		case num == 2:
			ints, n, err := consumeInts(b, typ)
			if err != nil {
				return t, err
			}
			t.Shape, b = append(t.Shape, ints...), b[n:]
		case num == 3 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return t, protowire.ParseError(n)
			}
			if len(packed)%8 != 0 {
				return t, errors.Errorf("checkpoint: tensor %q data is %d bytes, not a multiple of 8", t.Name, len(packed))
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				t.Data = append(t.Data, math.Float64frombits(v))
				packed = packed[m:]
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	size := 1
	for _, d := range t.Shape {
		size *= d
	}
	if size != len(t.Data) {
		return t, errors.Errorf("checkpoint: tensor %q has %d values for shape %v", t.Name, len(t.Data), t.Shape)
	}
	return t, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendInts(b []byte, num protowire.Number, vs []int) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// consumeInts accepts both packed and unpacked repeated int64 encodings.
func consumeInts(b []byte, typ protowire.Type) ([]int, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		return []int{int(v)}, n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		var out []int
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return nil, 0, protowire.ParseError(m)
			}
			out = append(out, int(v))
			packed = packed[m:]
		}
		return out, n, nil
	default:
		return nil, 0, errors.Errorf("checkpoint: unexpected wire type %d for repeated int", typ)
	}
}
