package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/LukaK/simbiot/internal/clients"
	"github.com/LukaK/simbiot/internal/config"
	"github.com/LukaK/simbiot/internal/hosting"
)

func loadDefaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestDeployDefaults(t *testing.T) {
	cfg := loadDefaultConfig(t)

	d, err := deployDefaults(cfg)
	require.NoError(t, err)

	assert.Equal(t, hosting.KindTrained, d.Model.Kind)
	assert.Equal(t, "clustering", d.Model.Name)
	assert.Equal(t, "clustering.py", d.Model.EntryPoint)
	assert.Equal(t, "ml.m5.large", d.Model.InstanceType)
	assert.Equal(t, int32(4096), d.Deployment.MemoryMB)
	assert.Equal(t, int32(10), d.Deployment.MaxConcurrency)
	assert.Equal(t, cfg.Deployment.Timeout, d.DeployTimeout)
}

func TestDeployDefaults_UnknownKind(t *testing.T) {
	cfg := loadDefaultConfig(t)
	cfg.Model.Kind = "finetuned"

	_, err := deployDefaults(cfg)

	assert.ErrorIs(t, err, hosting.ErrUnknownKind)
	assert.ErrorContains(t, err, "model.kind")
}

func TestNewRegistry(t *testing.T) {
	cfg := loadDefaultConfig(t)

	tests := []struct {
		driver  string
		want    any
		closers int
	}{
		{driver: "", want: &hosting.MemoryRegistry{}},
		{driver: "memory", want: &hosting.MemoryRegistry{}},
		{driver: "redis", want: &clients.RedisRegistry{}, closers: 1},
		{driver: "postgres", want: &clients.PostgresRegistry{}, closers: 1},
	}
	for _, tc := range tests {
		t.Run("driver="+tc.driver, func(t *testing.T) {
			rc := cfg.Registry
			rc.Driver = tc.driver
			a := &AppContext{}

			r, err := a.newRegistry(rc)
			require.NoError(t, err)
			assert.IsType(t, tc.want, r)
			assert.Len(t, a.closers, tc.closers)
			for _, c := range a.closers {
				c()
			}
		})
	}
}

func TestNewRegistry_UnknownDriver(t *testing.T) {
	_, err := (&AppContext{}).newRegistry(config.RegistryConfig{Driver: "etcd"})
	assert.ErrorContains(t, err, `unknown registry driver "etcd"`)
}

func parseDeployFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("deploy", pflag.ContinueOnError)
	addDeployFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDeployRequest(t *testing.T) {
	defSpec := hosting.ModelSpec{
		Kind:             hosting.KindPretrained,
		Name:             "clustering",
		EntryPoint:       "clustering.py",
		FrameworkVersion: "0.23-1",
		ModelData:        "s3://bucket/model.tar.gz",
	}
	defCfg := hosting.DeploymentConfig{MemoryMB: 4096, MaxConcurrency: 10}

	tests := []struct {
		name     string
		args     []string
		wantSpec hosting.ModelSpec
		wantCfg  hosting.DeploymentConfig
		wantErr  error
	}{
		{
			name:     "no flags keeps defaults",
			wantSpec: defSpec,
			wantCfg:  defCfg,
		},
		{
			name: "overrides",
			args: []string{"--name", "blobs", "--memory-mb", "2048", "--max-concurrency", "5", "--image-uri", "img:1"},
			wantSpec: func() hosting.ModelSpec {
				s := defSpec
				s.Name = "blobs"
				s.ImageURI = "img:1"
				return s
			}(),
			wantCfg: hosting.DeploymentConfig{MemoryMB: 2048, MaxConcurrency: 5},
		},
		{
			name: "switching kind drops model data",
			args: []string{"--kind", "trained"},
			wantSpec: func() hosting.ModelSpec {
				s := defSpec
				s.Kind = hosting.KindTrained
				s.ModelData = ""
				return s
			}(),
			wantCfg: defCfg,
		},
		{
			name:    "bad kind",
			args:    []string{"--kind", "finetuned"},
			wantErr: hosting.ErrUnknownKind,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec, cfg, err := deployRequest(parseDeployFlags(t, tc.args...), defSpec, defCfg)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantSpec, spec)
			assert.Equal(t, tc.wantCfg, cfg)
		})
	}
}

func TestParseValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    []float64
		wantErr string
	}{
		{in: "1,2,3", want: []float64{1, 2, 3}},
		{in: " 1.5 , -2 ,", want: []float64{1.5, -2}},
		{in: "", wantErr: "no samples given"},
		{in: "1,x", wantErr: `invalid sample "x"`},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseValues(tc.in)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadSamples(t *testing.T) {
	t.Parallel()

	t.Run("data becomes a single column", func(t *testing.T) {
		t.Parallel()
		m, err := loadSamples("1,2,3", "")
		require.NoError(t, err)
		r, c := m.Dims()
		assert.Equal(t, 3, r)
		assert.Equal(t, 1, c)
	})

	t.Run("npy file", func(t *testing.T) {
		t.Parallel()
		want := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
		var buf bytes.Buffer
		require.NoError(t, npyio.Write(&buf, want))
		path := filepath.Join(t.TempDir(), "samples.npy")
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

		m, err := loadSamples("", path)
		require.NoError(t, err)
		assert.True(t, mat.Equal(want, m))
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := loadSamples("", filepath.Join(t.TempDir(), "nope.npy"))
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	writeJSON(&buf, map[string]string{"status": "deleted"})
	assert.JSONEq(t, `{"status":"deleted"}`, buf.String())
}
