package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind        string   `yaml:"bind"`
	Port        int      `yaml:"port"`
	StaticDir   string   `yaml:"static_dir"`
	CORSOrigins []string `yaml:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Auth        AuthConfig        `yaml:"auth"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	STT         STTConfig         `yaml:"stt"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	Document    DocumentConfig    `yaml:"document"`
	Bus         BusConfig         `yaml:"bus"`
}

type CredentialsConfig struct {
	Path            string `yaml:"path"`
	SeedUsername    string `yaml:"seed_username"`
	SeedPassword    string `yaml:"seed_password"`
	SeedDisplayName string `yaml:"seed_display_name"`
	BcryptCost      int    `yaml:"bcrypt_cost"`
}

type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	RequireToken    bool   `yaml:"require_token"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEvents     int    `yaml:"max_events"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TranscriptConfig struct {
	Mode          string `yaml:"mode"` // strict, rolling
	WindowSeconds int    `yaml:"window_seconds"`
}

type DocumentConfig struct {
	TemplatePath string `yaml:"template_path"`
	UploadDir    string `yaml:"upload_dir"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-oralhistory",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:        "0.0.0.0",
			Port:        8501,
			StaticDir:   "./frontend/dist",
			CORSOrigins: []string{"*"},
			MaxUploadMB: 1024,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Credentials: CredentialsConfig{
			Path:            "./data/usuarios_cmu.db",
			SeedUsername:    "admin",
			SeedPassword:    "admin123",
			SeedDisplayName: "Administrador CMUrb",
			BcryptCost:      10,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 12 * 60,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-events.db",
			RetentionMode: "persistent",
			RetentionDays: 90,
			MaxEvents:     50000,
		},
		STT: STTConfig{
			Mode:           "mock",
			Language:       "pt",
			TimeoutSeconds: 900,
		},
		Transcript: TranscriptConfig{
			Mode: "strict",
		},
		Document: DocumentConfig{
			TemplatePath: "./template_cmurb.docx",
			UploadDir:    "./temp_uploads",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EffectiveWindowSeconds resolves the aggregation window, falling back to the mode default.
func (c TranscriptConfig) EffectiveWindowSeconds() int {
	if c.WindowSeconds > 0 {
		return c.WindowSeconds
	}
	if c.Mode == "rolling" {
		return 120
	}
	return 60
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.HTTP.StaticDir, "LOQA_HTTP_STATIC_DIR")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "LOQA_HTTP_CORS_ORIGINS")
	overrideInt(&cfg.HTTP.MaxUploadMB, "LOQA_HTTP_MAX_UPLOAD_MB")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Credentials.Path, "LOQA_CREDENTIALS_PATH")
	overrideString(&cfg.Credentials.SeedUsername, "LOQA_CREDENTIALS_SEED_USERNAME")
	overrideString(&cfg.Credentials.SeedPassword, "LOQA_CREDENTIALS_SEED_PASSWORD")
	overrideString(&cfg.Credentials.SeedDisplayName, "LOQA_CREDENTIALS_SEED_DISPLAY_NAME")
	overrideInt(&cfg.Credentials.BcryptCost, "LOQA_CREDENTIALS_BCRYPT_COST")
	overrideString(&cfg.Auth.JWTSecret, "LOQA_AUTH_JWT_SECRET")
	overrideInt(&cfg.Auth.TokenTTLMinutes, "LOQA_AUTH_TOKEN_TTL_MINUTES")
	overrideBool(&cfg.Auth.RequireToken, "LOQA_AUTH_REQUIRE_TOKEN")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxEvents, "LOQA_EVENT_STORE_MAX_EVENTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutSeconds, "LOQA_STT_TIMEOUT_SECONDS")
	overrideString(&cfg.Transcript.Mode, "LOQA_TRANSCRIPT_MODE")
	overrideInt(&cfg.Transcript.WindowSeconds, "LOQA_TRANSCRIPT_WINDOW_SECONDS")
	overrideString(&cfg.Document.TemplatePath, "LOQA_DOCUMENT_TEMPLATE_PATH")
	overrideString(&cfg.Document.UploadDir, "LOQA_DOCUMENT_UPLOAD_DIR")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		return errors.New("http.max_upload_mb must be positive")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Credentials.Path == "" {
		return errors.New("credentials.path must not be empty")
	}
	if cfg.Credentials.SeedUsername == "" {
		return errors.New("credentials.seed_username must not be empty")
	}
	if cfg.Credentials.SeedPassword == "" {
		return errors.New("credentials.seed_password must not be empty")
	}
	if cfg.Credentials.BcryptCost < 4 || cfg.Credentials.BcryptCost > 31 {
		return errors.New("credentials.bcrypt_cost must be between 4 and 31")
	}
	if cfg.Auth.RequireToken && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set when require_token is enabled")
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		return errors.New("auth.token_ttl_minutes must be positive")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionMode == "persistent" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.TimeoutSeconds <= 0 {
		return errors.New("stt.timeout_seconds must be positive")
	}
	switch cfg.Transcript.Mode {
	case "strict", "rolling":
	default:
		return errors.New("transcript.mode must be one of strict|rolling")
	}
	if cfg.Transcript.WindowSeconds < 0 {
		return errors.New("transcript.window_seconds must be >= 0")
	}
	if cfg.Document.TemplatePath == "" {
		return errors.New("document.template_path must not be empty")
	}
	if cfg.Document.UploadDir == "" {
		return errors.New("document.upload_dir must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
