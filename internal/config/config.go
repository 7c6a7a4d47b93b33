// Package config resolves the gateway's runtime configuration from CLI
// flags and environment variables, defaulted-struct-then-override in
// the same shape the rest of the ambient stack uses for settings.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config groups settings the way each owning component consumes them.
type Config struct {
	HTTP   HTTP
	TCP    TCP
	Serial Serial
	Audio  Audio
	Log    Log
}

type HTTP struct {
	Port int
}

type TCP struct {
	Port int // 0 disables the broadcaster
}

type Serial struct {
	Path                string // explicit device path; empty = auto-detect
	BaudRate            int
	AutoReconnect       bool
	ReconnectIntervalMS int
}

type Audio struct {
	Enabled     bool
	CapturePath string // path to the native USB-isochronous capture helper; empty = host-microphone fallback
}

type Log struct {
	Level string // debug|info|warn|error
}

// Default returns the documented out-of-the-box settings.
func Default() Config {
	return Config{
		HTTP:   HTTP{Port: 8080},
		TCP:    TCP{Port: 3333},
		Serial: Serial{BaudRate: 115200, AutoReconnect: true, ReconnectIntervalMS: 1000},
		Audio:  Audio{Enabled: true},
		Log:    Log{Level: "info"},
	}
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(name string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// fromEnv overlays process environment variables onto the defaults;
// CLI flags (parsed in Load) take precedence over these in turn.
func fromEnv(d Config) Config {
	d.HTTP.Port = envInt("M8GATEWAY_HTTP_PORT", d.HTTP.Port)
	d.TCP.Port = envInt("M8GATEWAY_TCP_PORT", d.TCP.Port)
	d.Serial.Path = envString("M8GATEWAY_SERIAL_PATH", d.Serial.Path)
	d.Serial.BaudRate = envInt("M8GATEWAY_BAUD_RATE", d.Serial.BaudRate)
	d.Serial.AutoReconnect = envBool("M8GATEWAY_AUTO_RECONNECT", d.Serial.AutoReconnect)
	d.Serial.ReconnectIntervalMS = envInt("M8GATEWAY_RECONNECT_INTERVAL_MS", d.Serial.ReconnectIntervalMS)
	d.Audio.Enabled = envBool("M8GATEWAY_AUDIO_ENABLED", d.Audio.Enabled)
	d.Audio.CapturePath = envString("M8GATEWAY_AUDIO_CAPTURE_PATH", d.Audio.CapturePath)
	d.Log.Level = envString("M8GATEWAY_LOG_LEVEL", d.Log.Level)
	return d
}

// Load parses args (typically os.Args[1:]) over env-overridden defaults.
// Short flag forms mirror the env table: -p (http port), -t (tcp port),
// -h is reserved for --help by the flag package, so the serial path flag
// uses -port and the log level uses -l.
func Load(args []string) (Config, error) {
	cfg := fromEnv(Default())

	fs := flag.NewFlagSet("m8gatewayd", flag.ContinueOnError)
	httpPort := fs.Int("p", cfg.HTTP.Port, "HTTP port for REST+WebSocket")
	tcpPort := fs.Int("t", cfg.TCP.Port, "TCP broadcaster port (0 disables)")
	serialPath := fs.String("port", cfg.Serial.Path, "explicit serial device path (skip auto-detect)")
	baud := fs.Int("baud", cfg.Serial.BaudRate, "serial baud rate")
	autoReconnect := fs.Bool("reconnect", cfg.Serial.AutoReconnect, "auto-reconnect on serial loss")
	reconnectMS := fs.Int("reconnect-interval-ms", cfg.Serial.ReconnectIntervalMS, "reconnect scan interval in ms")
	audioEnabled := fs.Bool("audio", cfg.Audio.Enabled, "enable audio capture pipeline")
	audioCapturePath := fs.String("audio-capture-path", cfg.Audio.CapturePath, "path to the native USB-isochronous capture helper (empty = host microphone fallback)")
	logLevel := fs.String("l", cfg.Log.Level, "log level: debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.HTTP.Port = *httpPort
	cfg.TCP.Port = *tcpPort
	cfg.Serial.Path = *serialPath
	cfg.Serial.BaudRate = *baud
	cfg.Serial.AutoReconnect = *autoReconnect
	cfg.Serial.ReconnectIntervalMS = *reconnectMS
	cfg.Audio.Enabled = *audioEnabled
	cfg.Audio.CapturePath = *audioCapturePath
	cfg.Log.Level = *logLevel

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects nonsensical settings before any component starts.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("config: http port must be 1..65535")
	}
	if c.TCP.Port < 0 || c.TCP.Port > 65535 {
		return errors.New("config: tcp port must be 0..65535 (0 disables)")
	}
	if c.Serial.BaudRate <= 0 {
		return errors.New("config: serial baud rate must be positive")
	}
	if c.Serial.ReconnectIntervalMS <= 0 {
		return errors.New("config: reconnect interval must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}
