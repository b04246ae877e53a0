package codec

import (
	"bytes"
	"fmt"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// NPY exchanges NumPy .npy arrays, the format the scikit-learn serving
// container decodes natively.
type NPY struct{}

func (NPY) ContentType() string { return "application/x-npy" }

func (NPY) Encode(m *mat.Dense) ([]byte, error) {
	var buf bytes.Buffer
	if err := npyio.Write(&buf, m); err != nil {
		return nil, fmt.Errorf("encoding npy: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeLabels reads a one-dimensional integer array. Both 32 and 64 bit
// little-endian integers are accepted.
func (NPY) DecodeLabels(b []byte) ([]int, error) {
	r, err := npyio.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}

	switch dt := r.Header.Descr.Type; dt {
	case "<i8":
		var raw []int64
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("reading npy labels: %w", err)
		}
		out := make([]int, len(raw))
		for i, v := range raw {
			out[i] = int(v)
		}
		return out, nil
	case "<i4":
		var raw []int32
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("reading npy labels: %w", err)
		}
		out := make([]int, len(raw))
		for i, v := range raw {
			out[i] = int(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported npy label dtype %q", dt)
	}
}
