package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres from fields",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "db",
				Port:     5432,
				User:     "indexer",
				Password: "s3cret",
				Database: "chain",
			},
			expected: "postgres://indexer:s3cret@db:5432/chain",
		},
		{
			name: "postgres with TLS",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "db",
				Port:     5432,
				User:     "indexer",
				Password: "s3cret",
				Database: "chain",
				TLS:      DatabaseTLSConfig{Mode: "verify-full", CAFile: "/etc/ca.pem"},
			},
			expected: "postgres://indexer:s3cret@db:5432/chain?sslmode=verify-full&sslrootcert=%2Fetc%2Fca.pem",
		},
		{
			name: "postgres skip-verify requires TLS",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "db",
				Port:     5432,
				User:     "indexer",
				Database: "chain",
				TLS:      DatabaseTLSConfig{Mode: "skip-verify"},
			},
			expected: "postgres://indexer:@db:5432/chain?sslmode=require",
		},
		{
			name: "postgres connection string wins",
			config: DatabaseConfig{
				Driver:           DriverPostgres,
				ConnectionString: "host=db dbname=chain",
				Host:             "ignored",
			},
			expected: "host=db dbname=chain",
		},
		{
			name: "mysql from fields",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "password",
				Database: "chain",
			},
			expected: "root:password@tcp(localhost:3306)/chain?parseTime=true&loc=UTC",
		},
		{
			name: "mysql connection string gets parseTime and tls",
			config: DatabaseConfig{
				Driver:           DriverMySQL,
				ConnectionString: "root@tcp(db:3306)/chain",
				TLS:              DatabaseTLSConfig{Mode: "verify-ca"},
			},
			expected: "root@tcp(db:3306)/chain?parseTime=true&loc=UTC&tls=chainquery-custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_DriverName(t *testing.T) {
	assert.Equal(t, "pgx", (&DatabaseConfig{Driver: DriverPostgres}).DriverName())
	assert.Equal(t, "mysql", (&DatabaseConfig{Driver: DriverMySQL}).DriverName())
}

func TestDatabaseConfig_EffectiveDatabaseName(t *testing.T) {
	tests := []struct {
		name    string
		config  DatabaseConfig
		want    string
		wantErr string
	}{
		{
			name:   "explicit",
			config: DatabaseConfig{Driver: DriverPostgres, Database: "chain"},
			want:   "chain",
		},
		{
			name:   "postgres url",
			config: DatabaseConfig{Driver: DriverPostgres, ConnectionString: "postgres://u:p@db:5432/mainnet"},
			want:   "mainnet",
		},
		{
			name:   "mysql dsn",
			config: DatabaseConfig{Driver: DriverMySQL, ConnectionString: "u:p@tcp(db:3306)/ghostnet"},
			want:   "ghostnet",
		},
		{
			name:    "mismatch",
			config:  DatabaseConfig{Driver: DriverPostgres, Database: "chain", ConnectionString: "postgres://u:p@db:5432/other"},
			wantErr: "mismatch",
		},
		{
			name:    "missing",
			config:  DatabaseConfig{Driver: DriverPostgres},
			wantErr: "no database configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.config.EffectiveDatabaseName()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "localhost",
				Port:     5432,
				User:     "chainquery",
				Database: "chain",
				Pool:     PoolConfig{MaxOpen: 25, MaxIdle: 5},
			},
			Query: QueryConfig{DefaultLimit: 100, MaxLimit: 10000},
			Cache: CacheConfig{
				AccountCapacity:    1000,
				RefreshMinInterval: 5 * time.Second,
				RefreshMaxInterval: time.Minute,
			},
			Server: ServerConfig{Port: 8080},
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1,
				Logging:          LoggingConfig{Level: "info", Format: "json"},
				OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		result := validConfig().Validate()
		assert.False(t, result.HasErrors(), result.Error())
		assert.Empty(t, result.Warnings)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }, "database.driver"},
		{"database port", func(c *Config) { c.Database.Port = 0 }, "database.port"},
		{"database port high", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"missing database", func(c *Config) { c.Database.Database = "" }, "database.database"},
		{"tls mode", func(c *Config) { c.Database.TLS.Mode = "invalid" }, "database.tls.mode"},
		{"tls without ca", func(c *Config) { c.Database.TLS.Mode = "verify-full" }, "database.tls.ca_file"},
		{"client cert without key", func(c *Config) { c.Database.TLS.CertFile = "/c.pem" }, "database.tls.cert_file"},
		{"negative pool", func(c *Config) { c.Database.Pool.MaxOpen = -1 }, "database.pool.max_open"},
		{"retry without interval", func(c *Config) { c.Database.ConnectionTimeout = time.Second }, "database.connection_retry_interval"},
		{"default above max", func(c *Config) { c.Query.DefaultLimit = 20000 }, "query.default_limit"},
		{"negative max", func(c *Config) { c.Query.MaxLimit = -1 }, "query.max_limit"},
		{"account capacity", func(c *Config) { c.Cache.AccountCapacity = 0 }, "cache.account_capacity"},
		{"server port", func(c *Config) { c.Server.Port = -1 }, "server.port"},
		{"rate limit rps", func(c *Config) {
			c.Server.RateLimitEnabled = true
			c.Server.RateLimitBurst = 10
		}, "server.rate_limit_rps"},
		{"rate limit burst", func(c *Config) {
			c.Server.RateLimitEnabled = true
			c.Server.RateLimitRPS = 100
		}, "server.rate_limit_burst"},
		{"cors without origins", func(c *Config) { c.Server.CORSEnabled = true }, "server.cors_allowed_origins"},
		{"cors wildcard with credentials", func(c *Config) {
			c.Server.CORSEnabled = true
			c.Server.CORSAllowedOrigins = []string{"*"}
			c.Server.CORSAllowCredentials = true
		}, "server.cors_allowed_origins"},
		{"server tls mode", func(c *Config) { c.Server.TLSMode = "maybe" }, "server.tls_mode"},
		{"server tls files", func(c *Config) { c.Server.TLSMode = "file" }, "server.tls_cert_file"},
		{"log level", func(c *Config) { c.Observability.Logging.Level = "trace" }, "observability.logging.level"},
		{"log format", func(c *Config) { c.Observability.Logging.Format = "xml" }, "observability.logging.format"},
		{"sample ratio", func(c *Config) { c.Observability.TraceSampleRatio = 2 }, "observability.trace_sample_ratio"},
		{"otlp protocol", func(c *Config) { c.Observability.OTLP.Protocol = "http" }, "observability.otlp.protocol"},
		{"otlp http endpoint", func(c *Config) {
			c.Observability.OTLP.Protocol = "http/protobuf"
			c.Observability.OTLP.Endpoint = "localhost"
		}, "observability.otlp.endpoint"},
		{"otlp compression", func(c *Config) { c.Observability.OTLP.Compression = "zstd" }, "observability.otlp.compression"},
		{"trace override", func(c *Config) { c.Observability.Traces = &OTLPConfig{Protocol: "udp"} }, "observability.traces.protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			result := cfg.Validate()
			require.True(t, result.HasErrors())
			assert.Contains(t, result.Error(), tt.field)
		})
	}

	t.Run("database name taken from dsn", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Database = ""
		cfg.Database.ConnectionString = "postgres://u:p@db:5432/mainnet"
		result := cfg.Validate()
		require.False(t, result.HasErrors(), result.Error())
		assert.Equal(t, "mainnet", cfg.Database.Database)
	})

	t.Run("warnings are not errors", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "skip-verify"
		cfg.Server.RateLimitRPS = 5
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 2)
	})
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "server.port: bad", ValidationError{Field: "server.port", Message: "bad"}.Error())
	assert.Equal(t, "server.port: bad (hint: fix it)",
		ValidationError{Field: "server.port", Message: "bad", Hint: "fix it"}.Error())
}

func TestMergeOTLPConfigs(t *testing.T) {
	base := OTLPConfig{
		Endpoint:    "collector:4317",
		Protocol:    "grpc",
		Headers:     map[string]string{"a": "1", "b": "2"},
		Timeout:     10 * time.Second,
		Compression: "gzip",
	}
	obs := ObservabilityConfig{
		OTLP:   base,
		Traces: &OTLPConfig{Endpoint: "traces:4318", Protocol: "http/protobuf", Insecure: true, Headers: map[string]string{"b": "3"}},
	}

	traces := obs.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, traces.Headers)
	assert.Equal(t, 10*time.Second, traces.Timeout)
	assert.Equal(t, "gzip", traces.Compression)

	assert.Equal(t, base, obs.GetLogsConfig())
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, base.Headers)
}

func newTestViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return v
}

func noPrompt() (string, error) {
	return "", errors.New("unexpected prompt")
}

func TestResolve_DefaultsAndFile(t *testing.T) {
	v := newTestViper(t, `
database:
  driver: mysql
  port: 3306
  database: chain
query:
  max_limit: 500
server:
  cors_allowed_origins: "https://a.example, https://b.example"
`)
	cfg, err := resolve(v, noPrompt)
	require.NoError(t, err)

	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "chain", cfg.Database.Database)
	assert.Equal(t, 100, cfg.Query.DefaultLimit)
	assert.Equal(t, 500, cfg.Query.MaxLimit)
	assert.Equal(t, 100000, cfg.Cache.AccountCapacity)
	assert.Equal(t, 5*time.Minute, cfg.Database.Pool.MaxLifetime)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "chainquery", cfg.Observability.ServiceName)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	t.Setenv("CHQ_SERVER_PORT", "9999")
	t.Setenv("CHQ_CACHE_REFRESH_MIN_INTERVAL", "2s")

	v := newTestViper(t, "server:\n  port: 8081\n")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := resolve(v, noPrompt)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Cache.RefreshMinInterval)
}

func TestResolve_SecretsFromFiles(t *testing.T) {
	dir := t.TempDir()
	pwFile := filepath.Join(dir, "password")
	dsnFile := filepath.Join(dir, "dsn")
	require.NoError(t, os.WriteFile(pwFile, []byte("s3cret\n"), 0o600))
	require.NoError(t, os.WriteFile(dsnFile, []byte("postgres://u@db/chain\n"), 0o600))

	v := newTestViper(t, "database:\n  password_file: "+pwFile+"\n  dsn_file: "+dsnFile+"\n")
	cfg, err := resolve(v, noPrompt)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "postgres://u@db/chain", cfg.Database.ConnectionString)
}

func TestResolve_PasswordPrompt(t *testing.T) {
	v := newTestViper(t, "database:\n  password_prompt: true\n")
	cfg, err := resolve(v, func() (string, error) { return "typed", nil })
	require.NoError(t, err)
	assert.Equal(t, "typed", cfg.Database.Password)

	v = newTestViper(t, "database:\n  password: given\n  password_prompt: true\n")
	cfg, err = resolve(v, noPrompt)
	require.NoError(t, err)
	assert.Equal(t, "given", cfg.Database.Password)
}

func TestResolve_RejectsUnknownKeys(t *testing.T) {
	v := newTestViper(t, "server:\n  max_query_depth: 5\n")
	_, err := resolve(v, noPrompt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_query_depth")
}
