package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. YAML config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the LUKA_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  List values are
// comma-separated.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LUKA_SOURCE"); v != "" {
		cfg.SourceSpec = v
	}
	if v := os.Getenv("LUKA_DEST"); v != "" {
		cfg.DestSpec = v
	}

	// Admission
	if v := envList("LUKA_ALLOW"); v != nil {
		cfg.Allow = v
	}
	if v := envList("LUKA_DENY"); v != nil {
		cfg.Deny = v
	}
	if v := os.Getenv("LUKA_SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := envInt("LUKA_AUTH_TIMEOUT"); v > 0 {
		cfg.AuthTimeout = secondsDuration(v)
	}

	// Relay
	if v := envInt("LUKA_LIMIT"); v > 0 {
		cfg.LimitKBps = v
	}
	if v := envInt("LUKA_TIMEOUT"); v > 0 {
		cfg.ConnectTimeout = secondsDuration(v)
	}
	if v := envInt("LUKA_DRAIN_TIMEOUT"); v > 0 {
		cfg.DrainTimeout = secondsDuration(v)
	}

	// Public exposure
	if envBool("LUKA_PUBLIC") {
		cfg.Public = true
	}
	if envBool("LUKA_PUBLIC_NATIVE") {
		cfg.PublicNative = true
	}
	if v := os.Getenv("LUKA_PUBLIC_CMD"); v != "" {
		cfg.PublicCommand = v
	}

	// SSH
	if v := os.Getenv("LUKA_VIA"); v != "" {
		cfg.ViaSpec = v
	}
	if v := os.Getenv("LUKA_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("LUKA_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("LUKA_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("LUKA_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("LUKA_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v := envInt("LUKA_KEEP_ALIVE"); v > 0 {
		cfg.KeepAliveInterval = v
	}

	// Output
	if v := os.Getenv("LUKA_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := envInt("LUKA_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
