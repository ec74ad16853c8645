package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/auth"
)

const (
	envVarListenAddr      = "VOICE_RELAY_LISTEN_ADDR"
	envVarPublicBaseURL   = "VOICE_RELAY_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "VOICE_RELAY_LOG_FORMAT"
	envVarLogLevel        = "VOICE_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "VOICE_RELAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "VOICE_RELAY_MODE"

	// Signaling / WebSocket auth + hardening.
	envVarAuthMode                      = "AUTH_MODE"
	envVarAPIKey                        = "API_KEY"
	envVarJWTSecret                     = "JWT_SECRET"
	envVarSignalingAuthTimeout          = "SIGNALING_AUTH_TIMEOUT"
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarMaxConnections                = "MAX_CONNECTIONS"

	// Meeting-management service (document-store lookups happen behind it).
	envVarMeetingServiceURL     = "MEETING_SERVICE_URL"
	envVarMeetingLookupTimeout  = "MEETING_LOOKUP_TIMEOUT"
	envVarMeetingStatusCacheTTL = "MEETING_STATUS_CACHE_TTL"

	// ICE server distribution.
	envVarICEServersJSON = "ICE_SERVERS_JSON"
	envVarStunURLs       = "STUN_URLS"
	envVarTurnURLs       = "TURN_URLS"
	envVarTurnUsername   = "TURN_USERNAME"
	envVarTurnCredential = "TURN_CREDENTIAL"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm          = "TURN_REST_REALM"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMode            = ModeDev

	DefaultAuthMode = auth.ModeNone

	DefaultSignalingAuthTimeout          = 2 * time.Second
	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultMeetingLookupTimeout  = 2 * time.Second
	DefaultMeetingStatusCacheTTL = 5 * time.Second

	DefaultTURNRESTTTLSeconds     int64 = 3600
	DefaultTURNRESTUsernamePrefix       = "voice"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// Signaling / WebSocket auth + hardening.
	AuthMode  auth.Mode
	APIKey    string
	JWTSecret string

	SignalingAuthTimeout    time.Duration
	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// MaxConnections caps concurrent signaling connections. <= 0 means
	// unlimited.
	MaxConnections int

	// MeetingServiceURL is the base URL of the meeting-management service used
	// for meeting status lookups. Empty selects the static validator (dev only).
	MeetingServiceURL     string
	MeetingLookupTimeout  time.Duration
	MeetingStatusCacheTTL time.Duration

	// ICEServers is the STUN/TURN list handed to clients via /webrtc/ice so
	// they can establish the peer-to-peer audio path. The relay itself never
	// opens a PeerConnection.
	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports a deferred ICE configuration error. Startup proceeds
// so operators can inspect /healthz, but /readyz fails until it is fixed.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := string(DefaultMode)
	if envMode, _ := lookup(envVarMode); envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	fs := flag.NewFlagSet("voice-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "TCP listen address")
	modeFlag := fs.String("mode", modeDefault, "deployment mode: dev or prod")
	logFormatFlag := fs.String("log-format", logFormatDefault, "log format: text or json")
	logLevelFlag := fs.String("log-level", logLevelDefault, "log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatFlag)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelFlag)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:     strings.TrimSpace(*listenAddr),
		PublicBaseURL:  strings.TrimSpace(envOrDefault(lookup, envVarPublicBaseURL, "")),
		AllowedOrigins: splitCommaSeparated(envOrDefault(lookup, envVarAllowedOrigins, "")),
		LogFormat:      logFormat,
		LogLevel:       logLevel,
		Mode:           mode,
	}
	if cfg.ListenAddr == "" {
		return Config{}, fmt.Errorf("%s must not be empty", envVarListenAddr)
	}
	if cfg.PublicBaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarPublicBaseURL, cfg.PublicBaseURL, err)
		}
	}

	cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	if err := loadAuth(lookup, &cfg); err != nil {
		return Config{}, err
	}
	if err := loadSignalingLimits(lookup, &cfg); err != nil {
		return Config{}, err
	}
	if err := loadMeetingService(lookup, &cfg); err != nil {
		return Config{}, err
	}
	if err := loadTURNREST(lookup, &cfg); err != nil {
		return Config{}, err
	}

	// ICE misconfiguration is deferred rather than fatal: the coordinator works
	// without it, only /webrtc/ice degrades.
	cfg.ICEServers, cfg.iceConfigErr = parseICEServersFromEnv(lookup, cfg.TURNREST.Enabled())

	return cfg, nil
}

func loadAuth(lookup func(string) (string, bool), cfg *Config) error {
	raw := strings.TrimSpace(envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode)))
	switch auth.Mode(raw) {
	case auth.ModeNone, auth.ModeAPIKey, auth.ModeJWT:
		cfg.AuthMode = auth.Mode(raw)
	default:
		return fmt.Errorf("invalid %s %q (expected none, api_key or jwt)", envVarAuthMode, raw)
	}

	cfg.APIKey = envOrDefault(lookup, envVarAPIKey, "")
	cfg.JWTSecret = envOrDefault(lookup, envVarJWTSecret, "")

	switch cfg.AuthMode {
	case auth.ModeAPIKey:
		if cfg.APIKey == "" {
			return fmt.Errorf("%s is required when %s=api_key", envVarAPIKey, envVarAuthMode)
		}
	case auth.ModeJWT:
		if cfg.JWTSecret == "" {
			return fmt.Errorf("%s is required when %s=jwt", envVarJWTSecret, envVarAuthMode)
		}
	}
	return nil
}

func loadSignalingLimits(lookup func(string) (string, bool), cfg *Config) error {
	var err error
	if cfg.SignalingAuthTimeout, err = envDurationOrDefault(lookup, envVarSignalingAuthTimeout, DefaultSignalingAuthTimeout); err != nil {
		return err
	}
	if cfg.SignalingWSIdleTimeout, err = envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout); err != nil {
		return err
	}
	if cfg.SignalingWSPingInterval, err = envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval); err != nil {
		return err
	}
	if cfg.SignalingWSPingInterval >= cfg.SignalingWSIdleTimeout {
		return fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			envVarSignalingWSPingInterval, cfg.SignalingWSPingInterval,
			envVarSignalingWSIdleTimeout, cfg.SignalingWSIdleTimeout)
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return err
	}
	if maxBytes <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMaxSignalingMessageBytes)
	}
	cfg.MaxSignalingMessageBytes = int64(maxBytes)

	if cfg.MaxSignalingMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond); err != nil {
		return err
	}
	if cfg.MaxSignalingMessagesPerSecond <= 0 {
		return fmt.Errorf("%s must be > 0", envVarMaxSignalingMessagesPerSecond)
	}

	if cfg.MaxConnections, err = envIntOrDefault(lookup, envVarMaxConnections, 0); err != nil {
		return err
	}
	return nil
}

func loadMeetingService(lookup func(string) (string, bool), cfg *Config) error {
	cfg.MeetingServiceURL = strings.TrimSpace(envOrDefault(lookup, envVarMeetingServiceURL, ""))
	if cfg.MeetingServiceURL != "" {
		u, err := url.Parse(cfg.MeetingServiceURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", envVarMeetingServiceURL, cfg.MeetingServiceURL)
		}
	} else if cfg.Mode == ModeProd {
		return fmt.Errorf("%s is required when --mode=prod", envVarMeetingServiceURL)
	}

	var err error
	if cfg.MeetingLookupTimeout, err = envDurationOrDefault(lookup, envVarMeetingLookupTimeout, DefaultMeetingLookupTimeout); err != nil {
		return err
	}
	if cfg.MeetingStatusCacheTTL, err = envDurationOrDefault(lookup, envVarMeetingStatusCacheTTL, DefaultMeetingStatusCacheTTL); err != nil {
		return err
	}
	return nil
}

func loadTURNREST(lookup func(string) (string, bool), cfg *Config) error {
	cfg.TURNREST = TurnRESTConfig{
		SharedSecret:   envOrDefault(lookup, envVarTURNRESTSharedSecret, ""),
		UsernamePrefix: envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix),
		Realm:          envOrDefault(lookup, envVarTURNRESTRealm, ""),
	}

	raw := strings.TrimSpace(envOrDefault(lookup, envVarTURNRESTTTLSeconds, ""))
	if raw == "" {
		cfg.TURNREST.TTLSeconds = DefaultTURNRESTTTLSeconds
		return nil
	}
	ttl, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ttl <= 0 {
		return fmt.Errorf("invalid %s %q", envVarTURNRESTTTLSeconds, raw)
	}
	cfg.TURNREST.TTLSeconds = ttl
	return nil
}

// NewVerifier constructs the credential verifier for the configured auth
// mode. AUTH_MODE=none returns nil (no verification).
func NewVerifier(cfg Config) (auth.Verifier, error) {
	switch cfg.AuthMode {
	case auth.ModeNone:
		return nil, nil
	case auth.ModeAPIKey:
		return auth.APIKeyVerifier{Expected: cfg.APIKey}, nil
	case auth.ModeJWT:
		return auth.NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev):
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, errors.New("invalid " + key + ": must be positive")
	}
	return d, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
