package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/auth"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(envLookup(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode=%q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat=%q, want text", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.AuthMode != auth.ModeNone {
		t.Errorf("AuthMode=%q, want none", cfg.AuthMode)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout=%v, want %v", cfg.ShutdownTimeout, DefaultShutdownTimeout)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Errorf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Errorf("MaxSignalingMessagesPerSecond=%d, want %d", cfg.MaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	}
	if cfg.MeetingLookupTimeout != DefaultMeetingLookupTimeout {
		t.Errorf("MeetingLookupTimeout=%v, want %v", cfg.MeetingLookupTimeout, DefaultMeetingLookupTimeout)
	}
	if cfg.MaxConnections != 0 {
		t.Errorf("MaxConnections=%d, want 0 (unlimited)", cfg.MaxConnections)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Errorf("ICEConfigError=%v, want nil", err)
	}
}

func TestLoad_ProdModeDefaults(t *testing.T) {
	env := map[string]string{
		envVarMode:              "prod",
		envVarMeetingServiceURL: "http://meetings.internal:9000",
	}
	cfg, err := load(envLookup(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat=%q, want json in prod", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel=%v, want info in prod", cfg.LogLevel)
	}
}

func TestLoad_ProdRequiresMeetingService(t *testing.T) {
	_, err := load(envLookup(map[string]string{envVarMode: "prod"}), nil)
	if err == nil || !strings.Contains(err.Error(), envVarMeetingServiceURL) {
		t.Fatalf("load err=%v, want missing %s error", err, envVarMeetingServiceURL)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	env := map[string]string{
		envVarListenAddr:        "127.0.0.1:9999",
		envVarMeetingServiceURL: "http://meetings.internal:9000",
	}
	cfg, err := load(envLookup(env), []string{"--listen-addr", "0.0.0.0:8443", "--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8443" {
		t.Errorf("ListenAddr=%q, want flag override", cfg.ListenAddr)
	}
	if cfg.Mode != ModeProd {
		t.Errorf("Mode=%q, want prod", cfg.Mode)
	}
}

func TestLoad_AuthValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "api_key requires key",
			env:     map[string]string{envVarAuthMode: "api_key"},
			wantErr: envVarAPIKey,
		},
		{
			name:    "jwt requires secret",
			env:     map[string]string{envVarAuthMode: "jwt"},
			wantErr: envVarJWTSecret,
		},
		{
			name:    "unknown mode",
			env:     map[string]string{envVarAuthMode: "basic"},
			wantErr: envVarAuthMode,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(envLookup(tc.env), nil)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("load err=%v, want mention of %s", err, tc.wantErr)
			}
		})
	}

	cfg, err := load(envLookup(map[string]string{envVarAuthMode: "jwt", envVarJWTSecret: "s3cret"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != auth.ModeJWT {
		t.Fatalf("AuthMode=%q, want jwt", cfg.AuthMode)
	}
}

func TestLoad_SignalingLimitValidation(t *testing.T) {
	if _, err := load(envLookup(map[string]string{envVarMaxSignalingMessageBytes: "0"}), nil); err == nil {
		t.Errorf("expected error for zero max message bytes")
	}
	if _, err := load(envLookup(map[string]string{envVarMaxSignalingMessagesPerSecond: "-5"}), nil); err == nil {
		t.Errorf("expected error for negative message rate")
	}
	if _, err := load(envLookup(map[string]string{
		envVarSignalingWSIdleTimeout:  "10s",
		envVarSignalingWSPingInterval: "20s",
	}), nil); err == nil {
		t.Errorf("expected error when ping interval exceeds idle timeout")
	}
	if _, err := load(envLookup(map[string]string{envVarShutdownTimeout: "bogus"}), nil); err == nil {
		t.Errorf("expected error for unparseable duration")
	}
}

func TestLoad_MeetingService(t *testing.T) {
	env := map[string]string{
		envVarMeetingServiceURL:     "http://meetings.internal:9000",
		envVarMeetingLookupTimeout:  "750ms",
		envVarMeetingStatusCacheTTL: "30s",
	}
	cfg, err := load(envLookup(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MeetingServiceURL != "http://meetings.internal:9000" {
		t.Errorf("MeetingServiceURL=%q", cfg.MeetingServiceURL)
	}
	if cfg.MeetingLookupTimeout != 750*time.Millisecond {
		t.Errorf("MeetingLookupTimeout=%v, want 750ms", cfg.MeetingLookupTimeout)
	}
	if cfg.MeetingStatusCacheTTL != 30*time.Second {
		t.Errorf("MeetingStatusCacheTTL=%v, want 30s", cfg.MeetingStatusCacheTTL)
	}

	if _, err := load(envLookup(map[string]string{envVarMeetingServiceURL: "not a url"}), nil); err == nil {
		t.Errorf("expected error for invalid meeting service URL")
	}
}

func TestLoad_TURNREST(t *testing.T) {
	env := map[string]string{
		envVarTURNRESTSharedSecret: "shh",
		envVarTURNRESTTTLSeconds:   "600",
	}
	cfg, err := load(envLookup(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURNREST.Enabled()=false, want true")
	}
	if cfg.TURNREST.TTLSeconds != 600 {
		t.Errorf("TTLSeconds=%d, want 600", cfg.TURNREST.TTLSeconds)
	}
	if cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Errorf("UsernamePrefix=%q, want default", cfg.TURNREST.UsernamePrefix)
	}

	if _, err := load(envLookup(map[string]string{envVarTURNRESTTTLSeconds: "-1"}), nil); err == nil {
		t.Errorf("expected error for negative TTL")
	}
}

func TestLoad_ICEErrorIsDeferred(t *testing.T) {
	env := map[string]string{envVarICEServersJSON: `not json`}
	cfg, err := load(envLookup(env), nil)
	if err != nil {
		t.Fatalf("load: %v (ICE errors must not be fatal)", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("ICEConfigError=nil, want deferred error")
	}
}

func TestNewVerifier(t *testing.T) {
	if v, err := NewVerifier(Config{AuthMode: auth.ModeNone}); err != nil || v != nil {
		t.Fatalf("none: v=%v err=%v, want nil,nil", v, err)
	}
	v, err := NewVerifier(Config{AuthMode: auth.ModeAPIKey, APIKey: "k"})
	if err != nil || v == nil {
		t.Fatalf("api_key: v=%v err=%v", v, err)
	}
	if _, err := v.Verify("k"); err != nil {
		t.Fatalf("api_key verify: %v", err)
	}
	if _, err := NewVerifier(Config{AuthMode: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown auth mode")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(Config{LogFormat: LogFormatText}); err != nil {
		t.Fatalf("text: %v", err)
	}
	if _, err := NewLogger(Config{LogFormat: LogFormatJSON}); err != nil {
		t.Fatalf("json: %v", err)
	}
	if _, err := NewLogger(Config{LogFormat: "yaml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
