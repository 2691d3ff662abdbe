package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape.  Durations are whole seconds; zero
// values leave the current setting alone.
//
//	source: localhost:8080
//	destination: 0.0.0.0:10130
//	allow: [10.0.0.0/8, 192.168.1.5]
//	deny: [10.0.0.13]
//	limit: 256
//	public: true
type File struct {
	Source      string   `yaml:"source"`
	Destination string   `yaml:"destination"`
	Allow       []string `yaml:"allow"`
	Deny        []string `yaml:"deny"`
	Secret      string   `yaml:"secret"`
	Limit       int      `yaml:"limit"`

	Timeout      int `yaml:"timeout"`
	AuthTimeout  int `yaml:"auth_timeout"`
	DrainTimeout int `yaml:"drain_timeout"`
	GracePeriod  int `yaml:"grace_period"`

	Public        bool   `yaml:"public"`
	PublicNative  bool   `yaml:"public_native"`
	PublicCommand string `yaml:"public_cmd"`

	SSH struct {
		Via           string `yaml:"via"`
		Key           string `yaml:"key"`
		Agent         bool   `yaml:"agent"`
		StrictHostKey bool   `yaml:"strict_hostkey"`
		KnownHosts    string `yaml:"known_hosts"`
		KeepAlive     int    `yaml:"keepalive"`
	} `yaml:"ssh"`

	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     int    `yaml:"verbose"`
}

// LoadFile reads the YAML file at path and overlays it onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	f.apply(cfg)
	cfg.ConfigFile = path
	return nil
}

func (f *File) apply(cfg *Config) {
	setStr(&cfg.SourceSpec, f.Source)
	setStr(&cfg.DestSpec, f.Destination)
	if len(f.Allow) > 0 {
		cfg.Allow = f.Allow
	}
	if len(f.Deny) > 0 {
		cfg.Deny = f.Deny
	}
	setStr(&cfg.Secret, f.Secret)
	if f.Limit > 0 {
		cfg.LimitKBps = f.Limit
	}

	if f.Timeout > 0 {
		cfg.ConnectTimeout = secondsDuration(f.Timeout)
	}
	if f.AuthTimeout > 0 {
		cfg.AuthTimeout = secondsDuration(f.AuthTimeout)
	}
	if f.DrainTimeout > 0 {
		cfg.DrainTimeout = secondsDuration(f.DrainTimeout)
	}
	if f.GracePeriod > 0 {
		cfg.GracePeriod = secondsDuration(f.GracePeriod)
	}

	cfg.Public = cfg.Public || f.Public
	cfg.PublicNative = cfg.PublicNative || f.PublicNative
	setStr(&cfg.PublicCommand, f.PublicCommand)

	setStr(&cfg.ViaSpec, f.SSH.Via)
	setStr(&cfg.SSHKeyPath, f.SSH.Key)
	cfg.UseSSHAgent = cfg.UseSSHAgent || f.SSH.Agent
	cfg.StrictHostKey = cfg.StrictHostKey || f.SSH.StrictHostKey
	setStr(&cfg.KnownHostsPath, f.SSH.KnownHosts)
	if f.SSH.KeepAlive > 0 {
		cfg.KeepAliveInterval = f.SSH.KeepAlive
	}

	setStr(&cfg.MetricsAddr, f.MetricsAddr)
	if f.Verbose > 0 {
		cfg.Verbose = f.Verbose
	}
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
