package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/LukaK/simbiot/internal/config"
	"github.com/LukaK/simbiot/internal/hosting"
)

const redisProbeName = "registry-redis"

// redisKV is the subset of Redis used by RedisRegistry. It is implemented by
// the real go-redis client and by test doubles.
type redisKV interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	DelKey(ctx context.Context, key string) error
	ScanKeys(ctx context.Context, match string) ([]string, error)
	PingResult(ctx context.Context) (string, error)
	Close() error
}

// realRedisKV adapts *redis.Client to redisKV so tests can inject a fake
// without constructing *redis.StringCmd values.
type realRedisKV struct {
	client *redis.Client
}

func (r *realRedisKV) GetValue(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", hosting.ErrDeploymentNotFound
	}
	return v, err
}

func (r *realRedisKV) SetValue(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *realRedisKV) DelKey(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *realRedisKV) ScanKeys(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *realRedisKV) PingResult(ctx context.Context) (string, error) {
	return r.client.Ping(ctx).Result()
}

func (r *realRedisKV) Close() error {
	return r.client.Close()
}

// RedisRegistry stores deployment records as JSON strings under
// KeyPrefix+name. Calls are wrapped in the circuit breaker.
type RedisRegistry struct {
	kv     redisKV
	cb     *gobreaker.CircuitBreaker
	prefix string
}

// NewRedisRegistry creates a RedisRegistry. go-redis connects lazily, so no
// network traffic happens until the first call.
func NewRedisRegistry(cfg config.RedisConfig, cb *gobreaker.CircuitBreaker) *RedisRegistry {
	return &RedisRegistry{
		kv: &realRedisKV{client: redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})},
		cb:     cb,
		prefix: cfg.KeyPrefix,
	}
}

func (r *RedisRegistry) Put(ctx context.Context, d hosting.Deployment) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding deployment %s: %w", d.Name, err)
	}
	_, err = r.cb.Execute(func() (any, error) {
		return nil, r.kv.SetValue(ctx, r.prefix+d.Name, string(b))
	})
	return breakerErr("redis", err)
}

func (r *RedisRegistry) Get(ctx context.Context, name string) (*hosting.Deployment, error) {
	v, err := r.cb.Execute(func() (any, error) {
		return r.kv.GetValue(ctx, r.prefix+name)
	})
	if err != nil {
		return nil, breakerErr("redis", err)
	}
	var d hosting.Deployment
	if err := json.Unmarshal([]byte(v.(string)), &d); err != nil {
		return nil, fmt.Errorf("decoding deployment %s: %w", name, err)
	}
	return &d, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, name string) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.kv.DelKey(ctx, r.prefix+name)
	})
	return breakerErr("redis", err)
}

// List returns deployments ordered by name. Keys that vanish between the
// scan and the read are skipped.
func (r *RedisRegistry) List(ctx context.Context) ([]hosting.Deployment, error) {
	v, err := r.cb.Execute(func() (any, error) {
		return r.kv.ScanKeys(ctx, r.prefix+"*")
	})
	if err != nil {
		return nil, breakerErr("redis", err)
	}

	keys := v.([]string)
	out := make([]hosting.Deployment, 0, len(keys))
	for _, k := range keys {
		d, err := r.Get(ctx, k[len(r.prefix):])
		if errors.Is(err, hosting.ErrDeploymentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Probe sends a PING and validates the PONG response.
func (r *RedisRegistry) Probe(ctx context.Context) hosting.ProbeResult {
	return probe(redisProbeName, r.cb, func() error {
		val, err := r.kv.PingResult(ctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil
	})
}

// Close releases the connection pool.
func (r *RedisRegistry) Close() error {
	return r.kv.Close()
}
