// Package codec encodes feature matrices for the inference endpoint and
// decodes the cluster labels it returns.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownCodec is returned by ByName for unsupported codec names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec converts between in-process arrays and endpoint payloads.
type Codec interface {
	// ContentType is sent as both Content-Type and Accept.
	ContentType() string
	Encode(m *mat.Dense) ([]byte, error)
	DecodeLabels(b []byte) ([]int, error)
}

// ByName returns the codec registered under name ("npy" or "json").
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "npy":
		return NPY{}, nil
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// FromRows builds a matrix from row-major data. All rows must have the same
// non-zero length.
func FromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("empty input")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(r), cols)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

// Column reshapes values into a single-feature matrix, one sample per row.
func Column(values []float64) (*mat.Dense, error) {
	if len(values) == 0 {
		return nil, errors.New("empty input")
	}
	data := append([]float64(nil), values...)
	return mat.NewDense(len(values), 1, data), nil
}

// Rows returns m as row-major slices.
func Rows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range r {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, m)
	}
	return out
}
