// Package config defines the runtime configuration for ene and provides
// helpers for parsing tunnel specifications and port ranges.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds every tuneable for one client.  It is treated as
// immutable once loaded; a reload builds a new value and swaps it in.
type Config struct {
	// ── Identity ─────────────────────────────────────────────────────
	Nick     string `validate:"required,max=30"`
	Realname string `validate:"required"`
	Userinfo string

	// ── Server ───────────────────────────────────────────────────────
	Host        string `validate:"required"`
	Port        int    `validate:"min=1,max=65535"`
	Password    string
	TLS         bool
	TLSInsecure bool
	Timeout     time.Duration `validate:"min=0"`

	// ── Protocol ─────────────────────────────────────────────────────
	Encoding     string `validate:"required"`
	MaxLength    int    `validate:"min=64,max=8192"`
	Passwords    map[string]string // channel (without CHANTYPES prefix) → key
	Autojoins    []string
	ServerConfig map[string]string // RPL_ISUPPORT defaults
	CTCP         CTCPConfig
	FloodRate    float64 `validate:"min=0"` // lines per second, 0 disables
	FloodBurst   int     `validate:"min=0"`

	// ── Lifecycle ────────────────────────────────────────────────────
	ReconnectDelay    time.Duration `validate:"min=0"`
	ConnectRetryDelay time.Duration `validate:"min=0"`
	ShutdownGrace     time.Duration `validate:"min=0"`
	MaxFailures       int           `validate:"min=0"`
	CooldownPeriod    time.Duration `validate:"min=0"`

	// ── DCC ──────────────────────────────────────────────────────────
	DCC DCCConfig

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Proxy ────────────────────────────────────────────────────────
	Proxy string // SOCKS5 host:port

	// ── Services ─────────────────────────────────────────────────────
	HistoryDSN string
	AdminAddr  string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool

	// ConfigPath is the file this config was loaded from, if any.
	ConfigPath string
}

// CTCPConfig holds reply templates.  {version}, {url}, {userinfo} and
// {now} are substituted when a reply is built.
type CTCPConfig struct {
	Version  string
	Userinfo string
	Time     string
}

// DCCConfig controls direct client-to-client sessions.
type DCCConfig struct {
	IP            string    // advertised IPv4, empty → main socket local address
	Ports         PortRange // listener port range, zero → ephemeral
	AcceptTimeout time.Duration `validate:"min=0"`
	IdleTimeout   time.Duration `validate:"min=0"`
	DownloadDir   string
	AutoChat      bool
	AutoGet       bool
	Resume        bool
	ViaTunnel     bool // listen on the SSH gateway instead of locally
}

// ── Port helpers ─────────────────────────────────────────────────────

// PortRange is an inclusive start–end pair.
type PortRange struct {
	Start int
	End   int
}

// IsZero reports whether the range is unset.
func (pr PortRange) IsZero() bool { return pr.Start == 0 && pr.End == 0 }

// Expand returns every port in the range.
func (pr PortRange) Expand() []int {
	if pr.IsZero() {
		return nil
	}
	out := make([]int, 0, pr.End-pr.Start+1)
	for p := pr.Start; p <= pr.End; p++ {
		out = append(out, p)
	}
	return out
}

func (pr PortRange) String() string {
	if pr.Start == pr.End {
		return strconv.Itoa(pr.Start)
	}
	return fmt.Sprintf("%d-%d", pr.Start, pr.End)
}

// ParsePortSpec accepts "5000" or "5000-5010".
func ParsePortSpec(spec string) (PortRange, error) {
	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return PortRange{}, fmt.Errorf("invalid port range start %q", parts[0])
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return PortRange{}, fmt.Errorf("invalid port range end %q", parts[1])
		}
		if start < 1 || end > 65535 || start > end {
			return PortRange{}, fmt.Errorf("invalid port range %d-%d", start, end)
		}
		return PortRange{Start: start, End: end}, nil
	}

	port, err := strconv.Atoi(spec)
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return PortRange{}, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return PortRange{Start: port, End: port}, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the Tunnel* fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Derived values ───────────────────────────────────────────────────

// Address returns host:port of the IRC server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ChannelKey returns the stored key for channel.  Lookup ignores the
// channel-type prefix so "#secret" and "secret" share an entry.
func (c *Config) ChannelKey(channel, chantypes string) (string, bool) {
	if chantypes == "" {
		chantypes = "#"
	}
	key, ok := c.Passwords[strings.TrimLeft(channel, chantypes)]
	return key, ok
}

// Clone returns a deep copy so callers can derive a modified config
// without touching a shared one.
func (c *Config) Clone() *Config {
	out := *c
	out.Passwords = cloneMap(c.Passwords)
	out.ServerConfig = cloneMap(c.ServerConfig)
	out.Autojoins = append([]string(nil), c.Autojoins...)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
