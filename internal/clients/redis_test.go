package clients

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukaK/simbiot/internal/hosting"
)

// mockRedisKV is an in-memory redisKV.
type mockRedisKV struct {
	mu      sync.Mutex
	data    map[string]string
	err     error
	pingVal string
	pingErr error
}

func newMockRedisKV() *mockRedisKV {
	return &mockRedisKV{data: make(map[string]string), pingVal: "PONG"}
}

func (m *mockRedisKV) GetValue(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", hosting.ErrDeploymentNotFound
	}
	return v, nil
}

func (m *mockRedisKV) SetValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *mockRedisKV) DelKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return m.err
}

func (m *mockRedisKV) ScanKeys(_ context.Context, match string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *mockRedisKV) PingResult(_ context.Context) (string, error) {
	return m.pingVal, m.pingErr
}

func (m *mockRedisKV) Close() error { return nil }

func newTestRedisRegistry(name string, kv *mockRedisKV) *RedisRegistry {
	return &RedisRegistry{kv: kv, cb: NewCircuitBreaker(name), prefix: "simbiot:deployment:"}
}

func TestRedisRegistry_RoundTrip(t *testing.T) {
	t.Parallel()
	kv := newMockRedisKV()
	reg := newTestRedisRegistry("redis-roundtrip", kv)
	ctx := context.Background()

	d := hosting.Deployment{
		Name:         "clustering",
		Kind:         hosting.KindTrained,
		EndpointName: "clustering-2024-03-01-12-30-00",
		Status:       hosting.StatusInService,
		CreatedAt:    time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
	}
	require.NoError(t, reg.Put(ctx, d))
	assert.Contains(t, kv.data, "simbiot:deployment:clustering")

	got, err := reg.Get(ctx, "clustering")
	require.NoError(t, err)
	assert.Equal(t, d, *got)

	require.NoError(t, reg.Delete(ctx, "clustering"))
	_, err = reg.Get(ctx, "clustering")
	assert.ErrorIs(t, err, hosting.ErrDeploymentNotFound)
}

func TestRedisRegistry_ListSortedAndScoped(t *testing.T) {
	t.Parallel()
	kv := newMockRedisKV()
	reg := newTestRedisRegistry("redis-list", kv)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, hosting.Deployment{Name: "b"}))
	require.NoError(t, reg.Put(ctx, hosting.Deployment{Name: "a"}))
	kv.data["other:key"] = "not json"

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)
}

func TestRedisRegistry_CorruptRecord(t *testing.T) {
	t.Parallel()
	kv := newMockRedisKV()
	kv.data["simbiot:deployment:bad"] = "{"
	reg := newTestRedisRegistry("redis-corrupt", kv)

	_, err := reg.Get(context.Background(), "bad")
	assert.ErrorContains(t, err, "decoding deployment bad")
}

func TestRedisRegistry_NotFoundDoesNotTripBreaker(t *testing.T) {
	t.Parallel()
	reg := newTestRedisRegistry("redis-notfound", newMockRedisKV())

	for range 5 {
		_, err := reg.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, hosting.ErrDeploymentNotFound)
	}
	assert.True(t, reg.Probe(context.Background()).OK)
}

func TestRedisProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingVal    string
		pingErr    error
		wantOK     bool
		wantErrSub string
	}{
		{
			name:    "success, PING returns PONG",
			pingVal: "PONG",
			wantOK:  true,
		},
		{
			name:       "failure, PING returns error",
			pingErr:    errors.New("connection refused"),
			wantOK:     false,
			wantErrSub: "connection refused",
		},
		{
			name:       "failure, PING returns unexpected value",
			pingVal:    "WHOOPS",
			wantOK:     false,
			wantErrSub: "unexpected PING response",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			kv := newMockRedisKV()
			kv.pingVal, kv.pingErr = tc.pingVal, tc.pingErr
			reg := newTestRedisRegistry("redis-test-"+tc.name, kv)

			result := reg.Probe(context.Background())

			assert.Equal(t, redisProbeName, result.Name)
			assert.Equal(t, tc.wantOK, result.OK)
			if tc.wantErrSub != "" {
				assert.Contains(t, result.Error, tc.wantErrSub)
			}
			if tc.wantOK {
				assert.Empty(t, result.Error)
			}
		})
	}
}

func TestRedisCircuitBreaker_OpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	kv := newMockRedisKV()
	kv.pingErr = errors.New("connection refused")
	reg := newTestRedisRegistry("redis-cb-open-test", kv)

	for i := range 3 {
		result := reg.Probe(context.Background())
		assert.False(t, result.OK, "probe %d should fail", i+1)
		assert.NotEqual(t, "circuit open", result.Error,
			"probe %d should not be circuit-open yet", i+1)
	}

	result := reg.Probe(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, "circuit open", result.Error)

	err := reg.Put(context.Background(), hosting.Deployment{Name: "x"})
	assert.ErrorContains(t, err, "circuit open")
}
