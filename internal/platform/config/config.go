package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	Auth          AuthConfig          `koanf:"auth"`
	Storage       StorageConfig       `koanf:"storage"`
	Realtime      RealtimeConfig      `koanf:"realtime"`
	AI            AIConfig            `koanf:"ai"`
	Concierge     ConciergeConfig     `koanf:"concierge"`
	Audit         AuditConfig         `koanf:"audit"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Leases        LeasesConfig        `koanf:"leases"`
	Tracing       TracingConfig       `koanf:"tracing"`
	CORS          CORSConfig          `koanf:"cors"`
}

type AuthConfig struct {
	DevMode bool      `koanf:"devmode"`
	DevRole string    `koanf:"devrole"`
	JWT     JWTConfig `koanf:"jwt"`
}

type JWTConfig struct {
	SigningKey         string `koanf:"signingkey"`
	Issuer             string `koanf:"issuer"`
	ExpiryHours        int    `koanf:"expiryhours"`
	RefreshExpiryHours int    `koanf:"refreshexpiryhours"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrations_path"`
	MaxConns       int    `koanf:"max_conns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StorageConfig selects the object store. Driver is "fs" or "gcs".
type StorageConfig struct {
	Driver        string `koanf:"driver"`
	Dir           string `koanf:"dir"`
	Bucket        string `koanf:"bucket"`
	PublicBaseURL string `koanf:"public_base_url"`
	EmulatorHost  string `koanf:"emulator_host"`
}

// RealtimeConfig selects the event bus. Driver is "memory" or "redis".
type RealtimeConfig struct {
	Driver         string `koanf:"driver"`
	RedisAddr      string `koanf:"redis_addr"`
	RedisChannel   string `koanf:"redis_channel"`
	IdleTimeoutSec int    `koanf:"idle_timeout_secs"`
	ClientBuffer   int    `koanf:"client_buffer"`
}

type AIConfig struct {
	APIKey         string  `koanf:"apikey"`
	Model          string  `koanf:"model"`
	VisionModel    string  `koanf:"vision_model"`
	TimeoutSecs    int     `koanf:"timeout_secs"`
	MaxPromptBytes int     `koanf:"max_prompt_bytes"`
	MaxImageBytes  int64   `koanf:"max_image_bytes"`
	Temperature    float64 `koanf:"temperature"`
}

type ConciergeConfig struct {
	HistoryLimit      int  `koanf:"history_limit"`
	MaxContextEntries int  `koanf:"max_context_entries"`
	SentinelEnabled   bool `koanf:"sentinel_enabled"`
	LLMScreening      bool `koanf:"llm_screening"`
}

type AuditConfig struct {
	BufferSize    int `koanf:"buffer_size"`
	BatchSize     int `koanf:"batch_size"`
	FlushInterval int `koanf:"flush_interval_ms"`
}

type NotificationsConfig struct {
	PollIntervalSecs int     `koanf:"poll_interval_secs"`
	ClaimBatchSize   int     `koanf:"claim_batch_size"`
	LockTimeoutSecs  int     `koanf:"lock_timeout_secs"`
	MaxAttempts      int     `koanf:"max_attempts"`
	BaseRetrySeconds int     `koanf:"base_retry_secs"`
	MaxRetrySeconds  int     `koanf:"max_retry_secs"`
	JitterFraction   float64 `koanf:"jitter_fraction"`
}

type LeasesConfig struct {
	ExpiryIntervalSecs int `koanf:"expiry_interval_secs"`
	ExpiryBatchSize    int `koanf:"expiry_batch_size"`
}

// TracingConfig controls OpenTelemetry export. Exporter is "stdout" or "otlp".
type TracingConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Exporter     string  `koanf:"exporter"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SampleRatio  float64 `koanf:"sample_ratio"`
	ServiceName  string  `koanf:"service_name"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

func Load(configPaths ...string) (*Config, error) {
	// .env is optional; variables already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                          8080,
		"server.host":                          "0.0.0.0",
		"database.max_conns":                   25,
		"database.migrations_path":             "migrations",
		"log.level":                            "info",
		"log.format":                           "json",
		"auth.devmode":                         false,
		"auth.devrole":                         "landlord",
		"auth.jwt.issuer":                      "ireside",
		"auth.jwt.expiryhours":                 1,
		"auth.jwt.refreshexpiryhours":          720,
		"storage.driver":                       "fs",
		"storage.dir":                          "data/objects",
		"realtime.driver":                      "memory",
		"realtime.redis_channel":               "ireside:events",
		"realtime.idle_timeout_secs":           600,
		"realtime.client_buffer":               32,
		"ai.model":                             "gemini-2.5-flash",
		"ai.vision_model":                      "gemini-2.5-flash",
		"ai.timeout_secs":                      30,
		"ai.max_prompt_bytes":                  16 << 10,
		"ai.max_image_bytes":                   5 << 20,
		"ai.temperature":                       0.4,
		"concierge.history_limit":              10,
		"concierge.max_context_entries":        40,
		"concierge.sentinel_enabled":           true,
		"concierge.llm_screening":              false,
		"audit.buffer_size":                    4096,
		"audit.batch_size":                     100,
		"audit.flush_interval_ms":              500,
		"notifications.poll_interval_secs":     2,
		"notifications.claim_batch_size":       25,
		"notifications.lock_timeout_secs":      30,
		"notifications.max_attempts":           5,
		"notifications.base_retry_secs":        5,
		"notifications.max_retry_secs":         120,
		"notifications.jitter_fraction":        0.2,
		"leases.expiry_interval_secs":          3600,
		"leases.expiry_batch_size":             200,
		"tracing.enabled":                      false,
		"tracing.exporter":                     "stdout",
		"tracing.sample_ratio":                 1.0,
		"tracing.service_name":                 "ireside",
		"tracing.otlp_endpoint":                "",
		"storage.public_base_url":              "",
		"storage.emulator_host":                "",
		"realtime.redis_addr":                  "",
		"cors.allowed_origins":                 []string{},
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything
	// IRESIDE_SERVER_PORT -> server.port, IRESIDE_STORAGE_PUBLIC_BASE_URL -> storage.public_base_url
	keys := envKeyMap(k.Keys())
	_ = k.Load(env.ProviderWithValue("IRESIDE_", ".", func(s, v string) (string, any) {
		key := envKey(keys, s)
		if key == "cors.allowed_origins" {
			return key, splitList(v)
		}
		return key, v
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKeyMap indexes known config keys by their environment variable spelling
// so keys that contain underscores survive the env mapping.
func envKeyMap(keys []string) map[string]string {
	m := make(map[string]string, len(keys))
	for _, key := range keys {
		m["IRESIDE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return m
}

func envKey(known map[string]string, name string) string {
	if key, ok := known[name]; ok {
		return key
	}
	return strings.ReplaceAll(
		strings.ToLower(strings.TrimPrefix(name, "IRESIDE_")),
		"_", ".",
	)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
