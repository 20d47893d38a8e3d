package dataset

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio/npz"
)

// Array names inside the spectrogram archive.
const (
	KeyTrainX      = "x_tr"
	KeyTrainY      = "y_tr"
	KeyTestX       = "x_te"
	KeyTestY       = "y_te"
	KeyValidationX = "x_cv"
	KeyValidationY = "y_cv"
)

var (
	// ErrMissingArray indicates the archive lacks one of the six arrays.
	ErrMissingArray = errors.New("dataset: array missing from archive")
	// ErrShapeMismatch indicates inconsistent sample counts or spatial shapes.
	ErrShapeMismatch = errors.New("dataset: shape mismatch")
	// ErrLabelRange indicates a label outside the class range.
	ErrLabelRange = errors.New("dataset: label out of range")
	// ErrDType indicates an array element type the loader cannot convert.
	ErrDType = errors.New("dataset: unsupported dtype")
)

// LoadArchive opens the .npz archive at path and returns its three
// partitions. want fixes the expected spatial shape; zero dimensions are
// taken from the archive. Feature arrays may be (n,h,w), (n,h,w,1), or
// (n,h*w) and flat (n*h*w) when want names h and w.
func LoadArchive(path string, want Shape) (*Partitioned, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open archive %s", path)
	}
	defer r.Close()

	arc := &archive{r: r, keys: r.Keys()}
	want.Channels = 1

	out := &Partitioned{}
	splits := []struct {
		name string
		x, y string
		dst  *Partition
	}{
		{"train", KeyTrainX, KeyTrainY, &out.Train},
		{"validation", KeyValidationX, KeyValidationY, &out.Validation},
		{"test", KeyTestX, KeyTestY, &out.Test},
	}

	for _, s := range splits {
		features, shape, err := arc.features(s.x, want)
		if err != nil {
			return nil, err
		}
		want = shape
		labels, err := arc.labels(s.y)
		if err != nil {
			return nil, err
		}
		p := Partition{Name: s.name, Features: features, Labels: labels}
		if err := p.Validate(shape); err != nil {
			return nil, errors.Wrapf(err, "archive %s", path)
		}
		*s.dst = p
	}
	out.Shape = want
	return out, nil
}

type archive struct {
	r    *npz.Reader
	keys []string
}

func (a *archive) key(name string) (string, error) {
	for _, k := range a.keys {
		if k == name || strings.TrimSuffix(k, ".npy") == name {
			return k, nil
		}
	}
	return "", errors.Wrapf(ErrMissingArray, "%q", name)
}

func (a *archive) features(name string, want Shape) ([][]float64, Shape, error) {
	key, err := a.key(name)
	if err != nil {
		return nil, want, err
	}
	hdr := a.r.Header(key)
	if hdr == nil {
		return nil, want, errors.Wrapf(ErrMissingArray, "%q has no header", name)
	}
	if hdr.Descr.Fortran {
		return nil, want, errors.Errorf("dataset: %s is stored in Fortran order", name)
	}
	dims := hdr.Descr.Shape
	got := want
	switch {
	case len(dims) == 3 || (len(dims) == 4 && dims[3] == 1):
		got.Height, got.Width = dims[1], dims[2]
	case len(dims) == 2 && want.Height > 0 && want.Width > 0:
		if dims[1] != want.Height*want.Width {
			return nil, want, errors.Wrapf(ErrShapeMismatch, "%s: %d values per sample, want %dx%d", name, dims[1], want.Height, want.Width)
		}
	case len(dims) == 1 && want.Height > 0 && want.Width > 0:
		// flat dump; sample count is checked against the labels
	default:
		return nil, want, errors.Wrapf(ErrShapeMismatch, "%s: unsupported feature shape %v", name, dims)
	}
	if (want.Height > 0 && got.Height != want.Height) || (want.Width > 0 && got.Width != want.Width) {
		return nil, want, errors.Wrapf(ErrShapeMismatch, "%s: spatial shape %dx%d, want %dx%d", name, got.Height, got.Width, want.Height, want.Width)
	}

	flat, err := a.read(key, hdr.Descr.Type)
	if err != nil {
		return nil, want, errors.Wrapf(err, "read %s", name)
	}
	size := got.Size()
	if size == 0 || len(flat)%size != 0 {
		return nil, want, errors.Wrapf(ErrShapeMismatch, "%s: %d values do not divide into samples of %d", name, len(flat), size)
	}
	n := len(flat) / size
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = flat[i*size : (i+1)*size : (i+1)*size]
	}
	return rows, got, nil
}

func (a *archive) labels(name string) ([]int, error) {
	key, err := a.key(name)
	if err != nil {
		return nil, err
	}
	hdr := a.r.Header(key)
	if hdr == nil {
		return nil, errors.Wrapf(ErrMissingArray, "%q has no header", name)
	}
	if len(hdr.Descr.Shape) > 1 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: labels must be a vector, got shape %v", name, hdr.Descr.Shape)
	}
	flat, err := a.read(key, hdr.Descr.Type)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	out := make([]int, len(flat))
	for i, v := range flat {
		if v < 0 || v != float64(int(v)) {
			return nil, errors.Wrapf(ErrLabelRange, "%s[%d]=%g is not a class index", name, i, v)
		}
		out[i] = int(v)
	}
	return out, nil
}

// read converts any numeric npy array to float64.
func (a *archive) read(key, dtype string) ([]float64, error) {
	switch strings.TrimLeft(dtype, "<>|=") {
	case "f8":
		return readAs[float64](a.r, key)
	case "f4":
		return readAs[float32](a.r, key)
	case "i8":
		return readAs[int64](a.r, key)
	case "i4":
		return readAs[int32](a.r, key)
	case "i2":
		return readAs[int16](a.r, key)
	case "i1":
		return readAs[int8](a.r, key)
	case "u8":
		return readAs[uint64](a.r, key)
	case "u4":
		return readAs[uint32](a.r, key)
	case "u2":
		return readAs[uint16](a.r, key)
	case "u1":
		return readAs[uint8](a.r, key)
	default:
		return nil, errors.Wrapf(ErrDType, "%q", dtype)
	}
}

type number interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func readAs[T number](r *npz.Reader, key string) ([]float64, error) {
	var raw []T
	if err := r.Read(key, &raw); err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}
