package hosting

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/LukaK/simbiot/internal/codec"
)

// Predictor is a handle on a live inference endpoint.
type Predictor struct {
	deployment   Deployment
	invoker      Invoker
	codec        codec.Codec
	orchestrator *Orchestrator
}

// Deployment returns the record backing p.
func (p *Predictor) Deployment() Deployment { return p.deployment }

// Endpoint returns the endpoint name.
func (p *Predictor) Endpoint() string { return p.deployment.EndpointName }

// Predict sends an already encoded payload and returns the raw response.
func (p *Predictor) Predict(ctx context.Context, payload []byte) ([]byte, error) {
	ct := p.codec.ContentType()
	out, err := p.invoker.Invoke(ctx, p.deployment.EndpointName, ct, ct, payload)
	if err != nil {
		return nil, fmt.Errorf("invoking endpoint %s: %w", p.deployment.EndpointName, err)
	}
	return out, nil
}

// Classify encodes m, invokes the endpoint and decodes one cluster label per
// row of m. Noise points are labelled -1.
func (p *Predictor) Classify(ctx context.Context, m *mat.Dense) ([]int, error) {
	logger := p.orchestrator.logger.With("endpoint", p.deployment.EndpointName)
	logger.InfoContext(ctx, "predicting input", "input", codec.Rows(m))

	payload, err := p.codec.Encode(m)
	if err != nil {
		return nil, err
	}
	out, err := p.Predict(ctx, payload)
	if err != nil {
		return nil, err
	}
	labels, err := p.codec.DecodeLabels(out)
	if err != nil {
		return nil, err
	}
	if rows, _ := m.Dims(); len(labels) != rows {
		return nil, fmt.Errorf("endpoint returned %d labels for %d samples", len(labels), rows)
	}

	logger.InfoContext(ctx, "prediction completed successfully", "labels", labels)
	return labels, nil
}

// Delete tears the deployment down.
func (p *Predictor) Delete(ctx context.Context) error {
	return p.orchestrator.tearDown(ctx, p.deployment)
}
