package config

// loader.go - configuration loading from files and environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables, including a .env file  (this file)
//   3. Config file, YAML / TOML / JSON  (this file)
//   4. Defaults   (defaults.go)

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds a Config from defaults, then the file at path (if any),
// then the environment.  A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(""); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
		cfg.ConfigPath = path
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path (default ".env") into the
// process environment without overriding variables that are already
// set.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ── Config files ─────────────────────────────────────────────────────

// fileConfig mirrors Config with file-friendly types: durations are
// strings ("2s") and pointers mark keys that were present.
type fileConfig struct {
	Nick     string `yaml:"nick" toml:"nick" json:"nick"`
	Realname string `yaml:"realname" toml:"realname" json:"realname"`
	Userinfo string `yaml:"userinfo" toml:"userinfo" json:"userinfo"`

	Host        string `yaml:"host" toml:"host" json:"host"`
	Port        int    `yaml:"port" toml:"port" json:"port"`
	Password    string `yaml:"password" toml:"password" json:"password"`
	TLS         *bool  `yaml:"tls" toml:"tls" json:"tls"`
	TLSInsecure *bool  `yaml:"tls_insecure" toml:"tls_insecure" json:"tls_insecure"`
	Timeout     string `yaml:"timeout" toml:"timeout" json:"timeout"`

	Encoding     string            `yaml:"encoding" toml:"encoding" json:"encoding"`
	MaxLength    int               `yaml:"max_length" toml:"max_length" json:"max_length"`
	Passwords    map[string]string `yaml:"passwords" toml:"passwords" json:"passwords"`
	Autojoins    []string          `yaml:"autojoins" toml:"autojoins" json:"autojoins"`
	ServerConfig map[string]string `yaml:"server_config" toml:"server_config" json:"server_config"`
	FloodRate    *float64          `yaml:"flood_rate" toml:"flood_rate" json:"flood_rate"`
	FloodBurst   int               `yaml:"flood_burst" toml:"flood_burst" json:"flood_burst"`

	CTCP struct {
		Version  string `yaml:"version" toml:"version" json:"version"`
		Userinfo string `yaml:"userinfo" toml:"userinfo" json:"userinfo"`
		Time     string `yaml:"time" toml:"time" json:"time"`
	} `yaml:"ctcp" toml:"ctcp" json:"ctcp"`

	ReconnectDelay    string `yaml:"reconnect_delay" toml:"reconnect_delay" json:"reconnect_delay"`
	ConnectRetryDelay string `yaml:"connect_retry_delay" toml:"connect_retry_delay" json:"connect_retry_delay"`
	ShutdownGrace     string `yaml:"shutdown_grace" toml:"shutdown_grace" json:"shutdown_grace"`
	MaxFailures       int    `yaml:"max_failures" toml:"max_failures" json:"max_failures"`
	CooldownPeriod    string `yaml:"cooldown_period" toml:"cooldown_period" json:"cooldown_period"`

	DCC struct {
		IP            string `yaml:"ip" toml:"ip" json:"ip"`
		Ports         string `yaml:"ports" toml:"ports" json:"ports"`
		AcceptTimeout string `yaml:"accept_timeout" toml:"accept_timeout" json:"accept_timeout"`
		IdleTimeout   string `yaml:"idle_timeout" toml:"idle_timeout" json:"idle_timeout"`
		DownloadDir   string `yaml:"download_dir" toml:"download_dir" json:"download_dir"`
		AutoChat      *bool  `yaml:"auto_chat" toml:"auto_chat" json:"auto_chat"`
		AutoGet       *bool  `yaml:"auto_get" toml:"auto_get" json:"auto_get"`
		Resume        *bool  `yaml:"resume" toml:"resume" json:"resume"`
		ViaTunnel     *bool  `yaml:"via_tunnel" toml:"via_tunnel" json:"via_tunnel"`
	} `yaml:"dcc" toml:"dcc" json:"dcc"`

	Tunnel        string `yaml:"tunnel" toml:"tunnel" json:"tunnel"`
	SSHKey        string `yaml:"ssh_key" toml:"ssh_key" json:"ssh_key"`
	SSHAgent      *bool  `yaml:"ssh_agent" toml:"ssh_agent" json:"ssh_agent"`
	StrictHostKey *bool  `yaml:"strict_hostkey" toml:"strict_hostkey" json:"strict_hostkey"`
	KnownHosts    string `yaml:"known_hosts" toml:"known_hosts" json:"known_hosts"`
	Proxy         string `yaml:"proxy" toml:"proxy" json:"proxy"`

	History string `yaml:"history" toml:"history" json:"history"`
	Admin   string `yaml:"admin" toml:"admin" json:"admin"`
	Verbose int    `yaml:"verbose" toml:"verbose" json:"verbose"`
}

// LoadFile overlays the file at path onto cfg.  The format is chosen by
// extension: .yaml/.yml, .toml or .json.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".json":
		err = json.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("config %s: unsupported format %q (use .yaml, .toml or .json)", path, ext)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc.apply(cfg)
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.Nick, fc.Nick)
	setString(&cfg.Realname, fc.Realname)
	setString(&cfg.Userinfo, fc.Userinfo)
	setString(&cfg.Host, fc.Host)
	setInt(&cfg.Port, fc.Port)
	setString(&cfg.Password, fc.Password)
	setBool(&cfg.TLS, fc.TLS)
	setBool(&cfg.TLSInsecure, fc.TLSInsecure)
	setString(&cfg.Encoding, fc.Encoding)
	setInt(&cfg.MaxLength, fc.MaxLength)
	setInt(&cfg.FloodBurst, fc.FloodBurst)
	setInt(&cfg.MaxFailures, fc.MaxFailures)
	if fc.FloodRate != nil {
		cfg.FloodRate = *fc.FloodRate
	}

	if len(fc.Passwords) > 0 {
		if cfg.Passwords == nil {
			cfg.Passwords = map[string]string{}
		}
		for ch, key := range fc.Passwords {
			cfg.Passwords[strings.TrimLeft(ch, "#&")] = key
		}
	}
	if len(fc.Autojoins) > 0 {
		cfg.Autojoins = append([]string(nil), fc.Autojoins...)
	}
	if len(fc.ServerConfig) > 0 {
		if cfg.ServerConfig == nil {
			cfg.ServerConfig = map[string]string{}
		}
		for k, v := range fc.ServerConfig {
			cfg.ServerConfig[strings.ToUpper(k)] = v
		}
	}

	setString(&cfg.CTCP.Version, fc.CTCP.Version)
	setString(&cfg.CTCP.Userinfo, fc.CTCP.Userinfo)
	setString(&cfg.CTCP.Time, fc.CTCP.Time)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", fc.Timeout, &cfg.Timeout},
		{"reconnect_delay", fc.ReconnectDelay, &cfg.ReconnectDelay},
		{"connect_retry_delay", fc.ConnectRetryDelay, &cfg.ConnectRetryDelay},
		{"shutdown_grace", fc.ShutdownGrace, &cfg.ShutdownGrace},
		{"cooldown_period", fc.CooldownPeriod, &cfg.CooldownPeriod},
		{"dcc.accept_timeout", fc.DCC.AcceptTimeout, &cfg.DCC.AcceptTimeout},
		{"dcc.idle_timeout", fc.DCC.IdleTimeout, &cfg.DCC.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	setString(&cfg.DCC.IP, fc.DCC.IP)
	if fc.DCC.Ports != "" {
		pr, err := ParsePortSpec(fc.DCC.Ports)
		if err != nil {
			return fmt.Errorf("dcc.ports: %w", err)
		}
		cfg.DCC.Ports = pr
	}
	setString(&cfg.DCC.DownloadDir, fc.DCC.DownloadDir)
	setBool(&cfg.DCC.AutoChat, fc.DCC.AutoChat)
	setBool(&cfg.DCC.AutoGet, fc.DCC.AutoGet)
	setBool(&cfg.DCC.Resume, fc.DCC.Resume)
	setBool(&cfg.DCC.ViaTunnel, fc.DCC.ViaTunnel)

	setString(&cfg.TunnelSpec, fc.Tunnel)
	setString(&cfg.SSHKeyPath, fc.SSHKey)
	setBool(&cfg.UseSSHAgent, fc.SSHAgent)
	setBool(&cfg.StrictHostKey, fc.StrictHostKey)
	setString(&cfg.KnownHostsPath, fc.KnownHosts)
	setString(&cfg.Proxy, fc.Proxy)

	setString(&cfg.HistoryDSN, fc.History)
	setString(&cfg.AdminAddr, fc.Admin)
	setInt(&cfg.Verbose, fc.Verbose)
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the ENE_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) error {
	setString(&cfg.Nick, os.Getenv("ENE_NICK"))
	setString(&cfg.Realname, os.Getenv("ENE_REALNAME"))
	setString(&cfg.Userinfo, os.Getenv("ENE_USERINFO"))
	setString(&cfg.Host, os.Getenv("ENE_SERVER"))
	if v := envInt("ENE_PORT"); v > 0 {
		cfg.Port = v
	}
	setString(&cfg.Password, os.Getenv("ENE_PASSWORD"))
	if envBool("ENE_TLS") {
		cfg.TLS = true
	}
	setString(&cfg.Encoding, os.Getenv("ENE_ENCODING"))
	if v := envInt("ENE_MAX_LENGTH"); v > 0 {
		cfg.MaxLength = v
	}
	if v := os.Getenv("ENE_AUTOJOIN"); v != "" {
		cfg.Autojoins = splitList(v)
	}
	if v := envInt("ENE_TIMEOUT"); v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v := os.Getenv("ENE_RECONNECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ENE_RECONNECT_DELAY: %w", err)
		}
		cfg.ReconnectDelay = d
	}

	// SSH tunnel / proxy
	setString(&cfg.TunnelSpec, os.Getenv("ENE_TUNNEL"))
	setString(&cfg.SSHKeyPath, os.Getenv("ENE_SSH_KEY"))
	if envBool("ENE_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("ENE_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("ENE_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	setString(&cfg.KnownHostsPath, os.Getenv("ENE_KNOWN_HOSTS"))
	setString(&cfg.Proxy, os.Getenv("ENE_PROXY"))

	// DCC
	setString(&cfg.DCC.IP, os.Getenv("ENE_DCC_IP"))
	if v := os.Getenv("ENE_DCC_PORTS"); v != "" {
		pr, err := ParsePortSpec(v)
		if err != nil {
			return fmt.Errorf("ENE_DCC_PORTS: %w", err)
		}
		cfg.DCC.Ports = pr
	}
	setString(&cfg.DCC.DownloadDir, os.Getenv("ENE_DOWNLOAD_DIR"))
	if envBool("ENE_AUTO_CHAT") {
		cfg.DCC.AutoChat = true
	}
	if envBool("ENE_AUTO_GET") {
		cfg.DCC.AutoGet = true
	}

	// Services / output
	setString(&cfg.HistoryDSN, os.Getenv("ENE_HISTORY"))
	setString(&cfg.AdminAddr, os.Getenv("ENE_ADMIN"))
	if v := envInt("ENE_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

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

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
