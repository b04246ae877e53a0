package codec

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// JSON sends the samples as a bare row matrix, [[...], ...], which the
// scikit-learn container turns into a 2-D array without a custom input_fn.
// Responses may be a bare array of labels or an object with a "predictions"
// array.
type JSON struct{}

type jsonResponse struct {
	Predictions []int `json:"predictions"`
}

func (JSON) ContentType() string { return "application/json" }

func (JSON) Encode(m *mat.Dense) ([]byte, error) {
	b, err := json.Marshal(Rows(m))
	if err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}
	return b, nil
}

func (JSON) DecodeLabels(b []byte) ([]int, error) {
	var labels []int
	if err := json.Unmarshal(b, &labels); err == nil {
		return labels, nil
	}
	var resp jsonResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("decoding json labels: %w", err)
	}
	return resp.Predictions, nil
}
