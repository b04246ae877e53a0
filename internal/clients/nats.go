package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"github.com/LukaK/simbiot/internal/config"
	"github.com/LukaK/simbiot/internal/hosting"
)

const natsProbeName = "events-nats"

// streamSpec describes the JetStream stream that deployment events land in.
type streamSpec struct {
	name      string
	subjects  []string
	retention nats.RetentionPolicy
	maxAge    time.Duration
}

// jsContext is the subset of nats.JetStreamContext used for provisioning and
// publishing. Test doubles implement it without a live NATS server.
type jsContext interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher implements hosting.EventPublisher on JetStream. Events are
// published to <subject>.<event type>, e.g. simbiot.deployment.deployment.created.
type NATSPublisher struct {
	url     string
	subject string
	stream  streamSpec
	cb      *gobreaker.CircuitBreaker
	newJS   func(url string) (jsContext, func(), error)

	mu      sync.Mutex
	js      jsContext
	cleanup func()
}

// NewNATSPublisher constructs a NATSPublisher. No connection is made at
// construction time; the first Publish connects and provisions the stream.
func NewNATSPublisher(cfg config.EventsConfig, cb *gobreaker.CircuitBreaker) *NATSPublisher {
	return &NATSPublisher{
		url:     cfg.URL,
		subject: cfg.Subject,
		stream: streamSpec{
			name:      cfg.Stream,
			subjects:  []string{cfg.Subject + ".>"},
			retention: nats.LimitsPolicy,
			maxAge:    168 * time.Hour,
		},
		cb:    cb,
		newJS: realNewJS,
	}
}

// connection returns the cached JetStream context, connecting and
// provisioning the stream on first use.
func (p *NATSPublisher) connection() (jsContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.js != nil {
		return p.js, nil
	}

	js, cleanup, err := p.newJS(p.url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	if err := provisionStream(js, p.stream); err != nil {
		cleanup()
		return nil, err
	}
	p.js, p.cleanup = js, cleanup
	return js, nil
}

// Publish sends e as JSON. The whole operation is wrapped in the circuit
// breaker.
func (p *NATSPublisher) Publish(ctx context.Context, e hosting.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	_, err = p.cb.Execute(func() (any, error) {
		js, err := p.connection()
		if err != nil {
			return nil, err
		}
		return js.Publish(p.subject+"."+e.Type, data, nats.Context(ctx))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("circuit open: %w", err)
		}
		return err
	}
	return nil
}

// Probe verifies NATS connectivity. A missing stream is not a failure since
// it is created on first publish.
func (p *NATSPublisher) Probe(ctx context.Context) hosting.ProbeResult {
	return probe(natsProbeName, p.cb, func() error {
		js, cleanup, err := p.newJS(p.url)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		_, infoErr := js.StreamInfo(p.stream.name, nats.Context(ctx))
		if infoErr != nil && !errors.Is(infoErr, nats.ErrStreamNotFound) {
			return fmt.Errorf("stream info: %w", infoErr)
		}
		return nil
	})
}

// Close drops the cached connection.
func (p *NATSPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleanup != nil {
		p.cleanup()
	}
	p.js, p.cleanup = nil, nil
}

// provisionStream creates the stream if it does not exist, or updates it if it
// does. nats.ErrStreamNotFound signals "create"; any other error is returned.
func provisionStream(js jsContext, spec streamSpec) error {
	cfg := &nats.StreamConfig{
		Name:      spec.name,
		Subjects:  spec.subjects,
		Retention: spec.retention,
		MaxAge:    spec.maxAge,
	}

	_, err := js.StreamInfo(spec.name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, addErr := js.AddStream(cfg); addErr != nil {
			return fmt.Errorf("creating stream %s: %w", spec.name, addErr)
		}
	case err != nil:
		return fmt.Errorf("querying stream %s: %w", spec.name, err)
	default:
		if _, updErr := js.UpdateStream(cfg); updErr != nil {
			return fmt.Errorf("updating stream %s: %w", spec.name, updErr)
		}
	}
	return nil
}

// realNewJS opens a real NATS connection and returns a JetStreamContext plus a
// cleanup function that drains and closes the connection.
func realNewJS(url string) (jsContext, func(), error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, func() {}, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, func() {}, fmt.Errorf("nats jetstream context: %w", err)
	}

	return js, func() { _ = nc.Drain() }, nil
}
