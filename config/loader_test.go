// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.Engine.MaxSupersteps)
	assert.Equal(t, "drop", cfg.Engine.UnroutedPolicy)
	assert.False(t, cfg.Engine.StrictTypes)

	assert.Equal(t, "memory", cfg.Checkpoint.Type)
	assert.Equal(t, "agentgraph:checkpoint", cfg.Checkpoint.KeyPrefix)
	assert.Equal(t, "workflow_checkpoints", cfg.Checkpoint.Collection)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "agentgraph", cfg.Mongo.Database)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "agentgraph", cfg.Metrics.Namespace)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "agentgraph.yaml")
	yamlContent := `
engine:
  max_supersteps: 250
  unrouted_policy: fail
checkpoint:
  type: redis
  key_prefix: "wf"
redis:
  addr: "redis:6379"
  db: 3
database:
  conn_max_lifetime: 90s
log:
  level: debug
  output_paths: [stdout, /var/log/agentgraph.log]
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Engine.MaxSupersteps)
	assert.Equal(t, "fail", cfg.Engine.UnroutedPolicy)
	assert.Equal(t, "redis", cfg.Checkpoint.Type)
	assert.Equal(t, "wf", cfg.Checkpoint.KeyPrefix)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 90*time.Second, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, []string{"stdout", "/var/log/agentgraph.log"}, cfg.Log.OutputPaths)

	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, "workflow_checkpoints", cfg.Checkpoint.Collection)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Checkpoint.Type)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "agentgraph.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  max_supersteps: 20\n"), 0o644))

	t.Setenv("AGENTGRAPH_ENGINE_MAX_SUPERSTEPS", "42")
	t.Setenv("AGENTGRAPH_ENGINE_STRICT_TYPES", "true")
	t.Setenv("AGENTGRAPH_CHECKPOINT_TYPE", "file")
	t.Setenv("AGENTGRAPH_CHECKPOINT_BASE_DIR", "/data/cp")
	t.Setenv("AGENTGRAPH_MONGO_CONNECT_TIMEOUT", "3s")
	t.Setenv("AGENTGRAPH_LLM_RATE_LIMIT_RPS", "2.5")
	t.Setenv("AGENTGRAPH_LLM_TIMEOUT", "15s")
	t.Setenv("AGENTGRAPH_REDIS_TLS", "true")
	t.Setenv("AGENTGRAPH_LOG_OUTPUT_PATHS", "stdout, stderr")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Engine.MaxSupersteps)
	assert.True(t, cfg.Engine.StrictTypes)
	assert.Equal(t, "file", cfg.Checkpoint.Type)
	assert.Equal(t, "/data/cp", cfg.Checkpoint.BaseDir)
	assert.Equal(t, 3*time.Second, cfg.Mongo.ConnectTimeout)
	assert.Equal(t, 2.5, cfg.LLM.RateLimitRPS)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.Redis.TLS)
	assert.Equal(t, []string{"stdout", "stderr"}, cfg.Log.OutputPaths)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_REDIS_ADDR", "cache:6380")
	t.Setenv("AGENTGRAPH_REDIS_ADDR", "ignored:6379")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTGRAPH_ENGINE_MAX_SUPERSTEPS", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTGRAPH_ENGINE_MAX_SUPERSTEPS")
}

func TestLoader_InvalidEnvValuesReportedTogether(t *testing.T) {
	t.Setenv("AGENTGRAPH_ENGINE_STRICT_TYPES", "maybe")
	t.Setenv("AGENTGRAPH_LLM_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `AGENTGRAPH_ENGINE_STRICT_TYPES="maybe"`)
	assert.Contains(t, err.Error(), `AGENTGRAPH_LLM_TIMEOUT="soon"`)
}

func TestLoader_Validators(t *testing.T) {
	t.Setenv("AGENTGRAPH_CHECKPOINT_TYPE", "tape")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported checkpoint.type "tape"`)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"supersteps", func(c *Config) { c.Engine.MaxSupersteps = 0 }, "max_supersteps"},
		{"unrouted policy", func(c *Config) { c.Engine.UnroutedPolicy = "ignore" }, "unrouted_policy"},
		{"file without dir", func(c *Config) { c.Checkpoint.Type = "file"; c.Checkpoint.BaseDir = "" }, "base_dir"},
		{"redis without addr", func(c *Config) { c.Checkpoint.Type = "redis"; c.Redis.Addr = "" }, "redis.addr"},
		{"database driver", func(c *Config) { c.Checkpoint.Type = "database"; c.Database.Driver = "oracle" }, "database.driver"},
		{"sqlite without path", func(c *Config) {
			c.Checkpoint.Type = "database"
			c.Database.Driver = "sqlite"
			c.Database.Name = ""
		}, "file path"},
		{"mongo without uri", func(c *Config) { c.Checkpoint.Type = "mongo"; c.Mongo.URI = "" }, "mongo.uri"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "sample_rate"},
		{"rate limit burst", func(c *Config) { c.LLM.RateLimitRPS = 5; c.LLM.RateLimitBurst = 0 }, "rate_limit_burst"},
		{"llm model", func(c *Config) { c.LLM.BaseURL = "https://api.example.com" }, "llm.model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxSupersteps = -1
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_supersteps")
	assert.Contains(t, err.Error(), "log.level")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"},
			want: "host=db port=5432 user=u password=p dbname=n sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"},
			want: "u:p@tcp(db:3306)/n?parseTime=true",
		},
		{name: "sqlite", cfg: DatabaseConfig{Driver: "sqlite", Name: "/tmp/cp.db"}, want: "/tmp/cp.db"},
		{name: "unknown", cfg: DatabaseConfig{Driver: "oracle"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	t.Setenv("AGENTGRAPH_ENGINE_UNROUTED_POLICY", "explode")
	assert.Panics(t, func() { MustLoad("") })
}
