package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for Simbiot.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Role       RoleConfig       `mapstructure:"role"`
	Model      ModelConfig      `mapstructure:"model"`
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Codec      string           `mapstructure:"codec"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Events     EventsConfig     `mapstructure:"events"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

// AWSConfig selects the account and region. EndpointURL points every
// client at a single endpoint, e.g. LocalStack.
type AWSConfig struct {
	Region      string `mapstructure:"region"`
	Profile     string `mapstructure:"profile"`
	EndpointURL string `mapstructure:"endpoint_url"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type RoleConfig struct {
	Name              string        `mapstructure:"name"`
	PolicyARN         string        `mapstructure:"policy_arn"`
	LookupAttempts    int           `mapstructure:"lookup_attempts"`
	LookupDelay       time.Duration `mapstructure:"lookup_delay"`
	ReadyInitialDelay time.Duration `mapstructure:"ready_initial_delay"`
	ReadyMaxDelay     time.Duration `mapstructure:"ready_max_delay"`
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout"`
}

// ModelConfig describes what gets deployed. Kind is "trained" or
// "pretrained"; ModelData is only read for pretrained models.
type ModelConfig struct {
	Kind             string `mapstructure:"kind"`
	Name             string `mapstructure:"name"`
	EntryPoint       string `mapstructure:"entry_point"`
	SourceDir        string `mapstructure:"source_dir"`
	InstanceType     string `mapstructure:"instance_type"`
	PyVersion        string `mapstructure:"py_version"`
	FrameworkVersion string `mapstructure:"framework_version"`
	ImageURI         string `mapstructure:"image_uri"`
	ModelData        string `mapstructure:"model_data"`
	Bucket           string `mapstructure:"bucket"`
	Prefix           string `mapstructure:"prefix"`
}

type DeploymentConfig struct {
	MemoryMB       int32         `mapstructure:"memory_mb"`
	MaxConcurrency int32         `mapstructure:"max_concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RegistryConfig selects where deployment records live. Driver is one of
// "memory", "redis" or "postgres".
type RegistryConfig struct {
	Driver   string         `mapstructure:"driver"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Stream  string `mapstructure:"stream"`
	Subject string `mapstructure:"subject"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the SIMBIOT_ prefix (e.g. SIMBIOT_ROLE_NAME).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SIMBIOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key, including the empty ones. Unmarshal only
// consults the environment for keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "simbiot")
	v.SetDefault("telemetry.log_level", "info")

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.endpoint_url", "")
	v.SetDefault("aws.max_attempts", 5)

	v.SetDefault("role.name", "MySagemakerRole")
	v.SetDefault("role.policy_arn", "arn:aws:iam::aws:policy/AmazonSageMakerFullAccess")
	v.SetDefault("role.lookup_attempts", 2)
	v.SetDefault("role.lookup_delay", 5*time.Second)
	v.SetDefault("role.ready_initial_delay", time.Second)
	v.SetDefault("role.ready_max_delay", 10*time.Second)
	v.SetDefault("role.ready_timeout", time.Minute)

	v.SetDefault("model.kind", "trained")
	v.SetDefault("model.name", "clustering")
	v.SetDefault("model.entry_point", "clustering.py")
	v.SetDefault("model.source_dir", "")
	v.SetDefault("model.instance_type", "ml.m5.large")
	v.SetDefault("model.py_version", "py3")
	v.SetDefault("model.framework_version", "0.23-1")
	v.SetDefault("model.image_uri", "")
	v.SetDefault("model.model_data", "")
	v.SetDefault("model.bucket", "")
	v.SetDefault("model.prefix", "simbiot")

	v.SetDefault("deployment.memory_mb", 4096)
	v.SetDefault("deployment.max_concurrency", 10)
	v.SetDefault("deployment.timeout", 45*time.Minute)

	v.SetDefault("codec", "npy")

	v.SetDefault("registry.driver", "memory")
	v.SetDefault("registry.redis.host", "localhost")
	v.SetDefault("registry.redis.port", 6379)
	v.SetDefault("registry.redis.password", "")
	v.SetDefault("registry.redis.db", 0)
	v.SetDefault("registry.redis.key_prefix", "simbiot:deployment:")
	v.SetDefault("registry.postgres.host", "localhost")
	v.SetDefault("registry.postgres.port", 5432)
	v.SetDefault("registry.postgres.user", "simbiot")
	v.SetDefault("registry.postgres.password", "")
	v.SetDefault("registry.postgres.db", "simbiot")
	v.SetDefault("registry.postgres.ssl_mode", "disable")
	v.SetDefault("registry.postgres.max_conns", 5)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.url", "nats://localhost:4222")
	v.SetDefault("events.stream", "SIMBIOT_DEPLOYMENTS")
	v.SetDefault("events.subject", "simbiot.deployment")
}
