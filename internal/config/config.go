/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	LogLevel    string
	LogFile     string // Written in addition to stdout; needed once daemonized

	// Control channel
	SocketPath string
	Sessions   int

	// Status server; Port 0 disables it
	Address string
	Port    int

	// GStreamer engine
	GStreamerBin string
	VideoSink    string
	DumpDir      string
	Debug        bool // Dump diagnostics when a session errors

	ScriptPath      string
	ShutdownTimeout time.Duration

	// External control sinks, disabled when empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
	NATSURL       string
	NATSSubject   string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	env := getEnv("AUDIOSERVICE_ENV", "development")

	cfg := &Config{
		Environment: env,
		LogLevel:    getEnv("AUDIOSERVICE_LOG_LEVEL", ""),
		LogFile:     getEnv("AUDIOSERVICE_LOG_FILE", ""),

		SocketPath: getEnv("AUDIOSERVICE_SOCKET", filepath.Join(os.TempDir(), "audioservice.sock")),
		Sessions:   getEnvInt("AUDIOSERVICE_SESSIONS", 4),

		Address: getEnv("AUDIOSERVICE_ADDRESS", "127.0.0.1"),
		Port:    getEnvInt("AUDIOSERVICE_PORT", 0),

		GStreamerBin: getEnv("AUDIOSERVICE_GSTREAMER_BIN", "gst-launch-1.0"),
		VideoSink:    getEnv("AUDIOSERVICE_VIDEO_SINK", "fakesink"),
		DumpDir:      getEnv("AUDIOSERVICE_DUMP_DIR", ""),
		Debug:        getEnvBool("AUDIOSERVICE_DEBUG", strings.EqualFold(env, "development")),

		ScriptPath:      getEnv("AUDIOSERVICE_SCRIPT", ""),
		ShutdownTimeout: time.Duration(getEnvInt("AUDIOSERVICE_SHUTDOWN_TIMEOUT", 10)) * time.Second,

		RedisAddr:     getEnv("AUDIOSERVICE_REDIS_ADDR", ""),
		RedisPassword: getEnv("AUDIOSERVICE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("AUDIOSERVICE_REDIS_DB", 0),
		RedisChannel:  getEnv("AUDIOSERVICE_REDIS_CHANNEL", "audioservice.control"),
		NATSURL:       getEnv("AUDIOSERVICE_NATS_URL", ""),
		NATSSubject:   getEnv("AUDIOSERVICE_NATS_SUBJECT", "audioservice.control"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that may also have been overridden by flags.
func (c *Config) Validate() error {
	if !strings.EqualFold(c.Environment, "development") && !strings.EqualFold(c.Environment, "production") {
		return fmt.Errorf("AUDIOSERVICE_ENV must be development or production, got %q", c.Environment)
	}
	if c.Sessions < 1 {
		return fmt.Errorf("session count must be at least 1, got %d", c.Sessions)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.SocketPath == "" {
		return fmt.Errorf("control socket path must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("AUDIOSERVICE_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
			return fmt.Errorf("AUDIOSERVICE_LOG_LEVEL: %w", err)
		}
	}
	return nil
}

// AbsolutePaths rewrites relative file paths against the current directory,
// so they survive the daemon's chdir to "/".
func (c *Config) AbsolutePaths() error {
	for _, p := range []*string{&c.SocketPath, &c.ScriptPath, &c.LogFile, &c.DumpDir} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// PathEnv returns the file path settings as environment assignments, for
// handing resolved paths to a re-executed process. Empty paths are omitted.
func (c *Config) PathEnv() []string {
	var env []string
	for _, kv := range []struct{ key, val string }{
		{"AUDIOSERVICE_SOCKET", c.SocketPath},
		{"AUDIOSERVICE_SCRIPT", c.ScriptPath},
		{"AUDIOSERVICE_LOG_FILE", c.LogFile},
		{"AUDIOSERVICE_DUMP_DIR", c.DumpDir},
	} {
		if kv.val != "" {
			env = append(env, kv.key+"="+kv.val)
		}
	}
	return env
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}
