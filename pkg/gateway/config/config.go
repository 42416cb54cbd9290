package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string
	Environment string

	// Gemini text generation.
	GeminiAPIKey string
	GeminiModel  string

	// Google Cloud speech services. When empty, application default
	// credentials are used.
	GoogleCredentialsFile string

	STTLanguage string

	VoiceLanguage string
	VoiceName     string
	SpeakingRate  float64
	Pitch         float64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Chat WebSocket limits.
	MaxMessageBytes   int64
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSReadTimeout     time.Duration
	TurnTimeout       time.Duration
	OutboundQueueSize int
	MaxHistoryLines   int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// Load builds the configuration in three layers: built-in defaults, then
// the optional YAML file, then the environment. The environment wins, same
// as the dotenv loader never clobbers variables already set.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	overlayEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv builds the configuration from defaults and the environment
// alone.
func LoadFromEnv() (Config, error) {
	return Load("")
}

func defaults() Config {
	return Config{
		Addr:                ":3001",
		Environment:         "development",
		GeminiModel:         "gemini-2.0-flash",
		STTLanguage:         "en-US",
		VoiceLanguage:       "en-US",
		VoiceName:           "en-US-Neural2-F",
		SpeakingRate:        1.1,
		Pitch:               2.0,
		CORSAllowedOrigins:  make(map[string]struct{}),
		MaxMessageBytes:     50 << 20, // 50 MiB
		WSPingInterval:      20 * time.Second,
		WSWriteTimeout:      5 * time.Second,
		WSReadTimeout:       0,
		TurnTimeout:         60 * time.Second,
		OutboundQueueSize:   128,
		MaxHistoryLines:     6,
		ReadHeaderTimeout:   10 * time.Second,
		ShutdownGracePeriod: 30 * time.Second,
	}
}

// overlayEnv applies every AVATAR_* variable that is set. The generic
// GOOGLE_* fallbacks apply first so their AVATAR_* counterparts win.
func overlayEnv(cfg *Config) {
	envString(&cfg.Addr, "AVATAR_ADDR")
	envString(&cfg.Environment, "AVATAR_ENV")
	envString(&cfg.GeminiAPIKey, "GOOGLE_API_KEY")
	envString(&cfg.GeminiAPIKey, "AVATAR_GEMINI_API_KEY")
	envString(&cfg.GeminiModel, "AVATAR_GEMINI_MODEL")
	envString(&cfg.GoogleCredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	envString(&cfg.GoogleCredentialsFile, "AVATAR_GOOGLE_CREDENTIALS_FILE")
	envString(&cfg.STTLanguage, "AVATAR_STT_LANGUAGE")
	envString(&cfg.VoiceLanguage, "AVATAR_VOICE_LANGUAGE")
	envString(&cfg.VoiceName, "AVATAR_VOICE_NAME")
	envFloat64(&cfg.SpeakingRate, "AVATAR_SPEAKING_RATE")
	envFloat64(&cfg.Pitch, "AVATAR_PITCH")
	envInt64(&cfg.MaxMessageBytes, "AVATAR_MAX_MESSAGE_BYTES")
	envDuration(&cfg.WSPingInterval, "AVATAR_WS_PING_INTERVAL")
	envDuration(&cfg.WSWriteTimeout, "AVATAR_WS_WRITE_TIMEOUT")
	envDuration(&cfg.WSReadTimeout, "AVATAR_WS_READ_TIMEOUT")
	envDuration(&cfg.TurnTimeout, "AVATAR_TURN_TIMEOUT")
	envInt(&cfg.OutboundQueueSize, "AVATAR_OUTBOUND_QUEUE_SIZE")
	envInt(&cfg.MaxHistoryLines, "AVATAR_MAX_HISTORY_LINES")
	envDuration(&cfg.ReadHeaderTimeout, "AVATAR_READ_HEADER_TIMEOUT")
	envDuration(&cfg.ShutdownGracePeriod, "AVATAR_SHUTDOWN_GRACE_PERIOD")

	if origins := splitCSV(os.Getenv("AVATAR_CORS_ORIGINS")); origins != nil {
		cfg.CORSAllowedOrigins = make(map[string]struct{})
		for _, origin := range origins {
			cfg.CORSAllowedOrigins[origin] = struct{}{}
		}
	}
}

// fileConfig mirrors Config with pointer fields so absent keys leave the
// environment values alone.
type fileConfig struct {
	Addr                  *string   `yaml:"addr"`
	Environment           *string   `yaml:"environment"`
	GeminiAPIKey          *string   `yaml:"gemini_api_key"`
	GeminiModel           *string   `yaml:"gemini_model"`
	GoogleCredentialsFile *string   `yaml:"google_credentials_file"`
	STTLanguage           *string   `yaml:"stt_language"`
	VoiceLanguage         *string   `yaml:"voice_language"`
	VoiceName             *string   `yaml:"voice_name"`
	SpeakingRate          *float64  `yaml:"speaking_rate"`
	Pitch                 *float64  `yaml:"pitch"`
	CORSOrigins           []string  `yaml:"cors_origins"`
	MaxMessageBytes       *int64    `yaml:"max_message_bytes"`
	WSPingInterval        *duration `yaml:"ws_ping_interval"`
	WSWriteTimeout        *duration `yaml:"ws_write_timeout"`
	WSReadTimeout         *duration `yaml:"ws_read_timeout"`
	TurnTimeout           *duration `yaml:"turn_timeout"`
	OutboundQueueSize     *int      `yaml:"outbound_queue_size"`
	MaxHistoryLines       *int      `yaml:"max_history_lines"`
	ReadHeaderTimeout     *duration `yaml:"read_header_timeout"`
	ShutdownGracePeriod   *duration `yaml:"shutdown_grace_period"`
}

type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// OriginAllowed reports whether a browser Origin matches the configured
// allowlist. Entries are exact origins ("https://app.example.com") or
// wildcard hosts ("*.web.app") that match any subdomain.
func (c Config) OriginAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false
	}
	if _, ok := c.CORSAllowedOrigins[origin]; ok {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	for entry := range c.CORSAllowedOrigins {
		suffix, ok := strings.CutPrefix(entry, "*")
		if !ok || suffix == "" {
			continue
		}
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&cfg.Addr, fc.Addr)
	setString(&cfg.Environment, fc.Environment)
	setString(&cfg.GeminiAPIKey, fc.GeminiAPIKey)
	setString(&cfg.GeminiModel, fc.GeminiModel)
	setString(&cfg.GoogleCredentialsFile, fc.GoogleCredentialsFile)
	setString(&cfg.STTLanguage, fc.STTLanguage)
	setString(&cfg.VoiceLanguage, fc.VoiceLanguage)
	setString(&cfg.VoiceName, fc.VoiceName)
	if fc.SpeakingRate != nil {
		cfg.SpeakingRate = *fc.SpeakingRate
	}
	if fc.Pitch != nil {
		cfg.Pitch = *fc.Pitch
	}
	if fc.CORSOrigins != nil {
		cfg.CORSAllowedOrigins = make(map[string]struct{})
		for _, origin := range fc.CORSOrigins {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.CORSAllowedOrigins[origin] = struct{}{}
			}
		}
	}
	if fc.MaxMessageBytes != nil {
		cfg.MaxMessageBytes = *fc.MaxMessageBytes
	}
	setDuration := func(dst *time.Duration, src *duration) {
		if src != nil {
			*dst = time.Duration(*src)
		}
	}
	setDuration(&cfg.WSPingInterval, fc.WSPingInterval)
	setDuration(&cfg.WSWriteTimeout, fc.WSWriteTimeout)
	setDuration(&cfg.WSReadTimeout, fc.WSReadTimeout)
	setDuration(&cfg.TurnTimeout, fc.TurnTimeout)
	if fc.OutboundQueueSize != nil {
		cfg.OutboundQueueSize = *fc.OutboundQueueSize
	}
	if fc.MaxHistoryLines != nil {
		cfg.MaxHistoryLines = *fc.MaxHistoryLines
	}
	setDuration(&cfg.ReadHeaderTimeout, fc.ReadHeaderTimeout)
	setDuration(&cfg.ShutdownGracePeriod, fc.ShutdownGracePeriod)
	return nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return fmt.Errorf("AVATAR_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		return fmt.Errorf("AVATAR_GEMINI_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.STTLanguage) == "" {
		return fmt.Errorf("AVATAR_STT_LANGUAGE must not be empty")
	}
	if strings.TrimSpace(cfg.VoiceName) == "" {
		return fmt.Errorf("AVATAR_VOICE_NAME must not be empty")
	}
	if cfg.SpeakingRate <= 0 {
		return fmt.Errorf("AVATAR_SPEAKING_RATE must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("AVATAR_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return fmt.Errorf("AVATAR_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return fmt.Errorf("AVATAR_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return fmt.Errorf("AVATAR_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.TurnTimeout < 0 {
		return fmt.Errorf("AVATAR_TURN_TIMEOUT must be >= 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return fmt.Errorf("AVATAR_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.MaxHistoryLines <= 0 {
		return fmt.Errorf("AVATAR_MAX_HISTORY_LINES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("AVATAR_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("AVATAR_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt64(dst *int64, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*dst = n
	}
}

func envInt(dst *int, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if n, err := strconv.Atoi(raw); err == nil {
		*dst = n
	}
}

func envFloat64(dst *float64, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		*dst = n
	}
}

func envDuration(dst *time.Duration, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
