package config

import (
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.RoomCapacity != DefaultRoomCapacity {
		t.Fatalf("roomCapacity=%d, want %d", cfg.RoomCapacity, DefaultRoomCapacity)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("authMode=%q, want %q", cfg.AuthMode, AuthModeNone)
	}
	if cfg.SendQueueLength != DefaultSendQueueLength {
		t.Fatalf("sendQueueLength=%d, want %d", cfg.SendQueueLength, DefaultSendQueueLength)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("maxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("expected no ICE servers by default, got %v", cfg.ICEServers)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST should be disabled by default")
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestRoomCapacity_EnvOverride(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarRoomCapacity: "3",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RoomCapacity != 3 {
		t.Fatalf("roomCapacity=%d, want 3", cfg.RoomCapacity)
	}
}

func TestRoomCapacity_FlagWinsOverEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarRoomCapacity: "3",
	}), []string{"--room-capacity", "8"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RoomCapacity != 8 {
		t.Fatalf("roomCapacity=%d, want 8", cfg.RoomCapacity)
	}
}

func TestRoomCapacity_RejectsZero(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarRoomCapacity: "0"}), nil); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}

func TestAuthModeRequiresSecret(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "api_key"}), nil); err == nil {
		t.Fatalf("api_key mode without API_KEY must fail")
	}
	if _, err := load(lookupMap(map[string]string{envVarAuthMode: "jwt"}), nil); err == nil {
		t.Fatalf("jwt mode without JWT_SECRET must fail")
	}

	cfg, err := load(lookupMap(map[string]string{
		envVarAuthMode: "api_key",
		envVarAPIKey:   "k",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeAPIKey || cfg.APIKey != "k" {
		t.Fatalf("unexpected auth config: %+v", cfg)
	}
}

func TestPingIntervalMustBeBelowIdleTimeout(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarSignalingWSIdleTimeout:  "10s",
		envVarSignalingWSPingInterval: "10s",
	}), nil)
	if err == nil {
		t.Fatalf("expected error when ping interval >= idle timeout")
	}
}

func TestShutdownTimeoutParsing(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarShutdownTimeout: "30s"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("shutdownTimeout=%v, want 30s", cfg.ShutdownTimeout)
	}

	if _, err := load(lookupMap(map[string]string{envVarShutdownTimeout: "bogus"}), nil); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestParseAllowedOrigins_NormalizesAndValidates(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "HTTPS://App.Example.com, http://localhost:3000 ,*",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:3000", "*"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("origins=%v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("origins[%d]=%q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestParseAllowedOrigins_RejectsInvalid(t *testing.T) {
	for _, raw := range []string{"https://app.example.com/path", "ftp://x.test", "not a url"} {
		if _, err := load(lookupMap(map[string]string{envVarAllowedOrigins: raw}), nil); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestTURNRESTValidation(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST should be enabled")
	}
	if cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds {
		t.Fatalf("ttl=%d, want %d", cfg.TURNREST.TTLSeconds, DefaultTURNRESTTTLSeconds)
	}

	_, err = load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret:   "s3cret",
		envVarTURNRESTUsernamePrefix: "a:b",
	}), nil)
	if err == nil || !strings.Contains(err.Error(), "':'") {
		t.Fatalf("expected colon rejection, got %v", err)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if _, err := NewLogger(Config{LogFormat: LogFormatJSON}); err != nil {
		t.Fatalf("json logger: %v", err)
	}
}
