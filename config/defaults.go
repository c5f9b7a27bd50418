package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	DefaultNick     = "Ene"
	DefaultRealname = "Takane"
	DefaultUserinfo = "IRC client with DCC support"
	DefaultURL      = "https://github.com/FujiMakoto/Ene"

	// DefaultPort is the plain-text IRC port.
	DefaultPort = 6667

	// DefaultTLSPort is used when --tls is given without --port.
	DefaultTLSPort = 6697

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHKeepAlive is the interval between SSH keepalive probes.
	DefaultSSHKeepAlive = 30 * time.Second

	// DefaultEncoding is the wire text encoding.
	DefaultEncoding = "utf-8"

	// DefaultMaxLength bounds a formatted outbound line, CRLF excluded.
	// It leaves room below the 512-byte protocol limit for the prefix
	// the server adds when relaying.
	DefaultMaxLength = 400

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultReconnectDelay is the pause after losing an established
	// connection.
	DefaultReconnectDelay = 2 * time.Second

	// DefaultConnectRetryDelay is the pause after a failed dial.
	DefaultConnectRetryDelay = 3 * time.Second

	// DefaultShutdownGrace is how long SIGINT waits after QUIT.
	DefaultShutdownGrace = 1 * time.Second

	// DefaultMaxFailures consecutive failed connects open the breaker.
	DefaultMaxFailures = 10

	// DefaultCooldownPeriod is how long the breaker stays open.
	DefaultCooldownPeriod = 60 * time.Second

	// DefaultFloodBurst is the token bucket size when flood control is on.
	DefaultFloodBurst = 5

	// DefaultDCCAcceptTimeout bounds how long a listener waits for the peer.
	DefaultDCCAcceptTimeout = 60 * time.Second

	// DefaultDCCIdleTimeout closes a transfer that stops moving.
	DefaultDCCIdleTimeout = 5 * time.Minute

	// DefaultLocalAddress is the address used for local service binding.
	DefaultLocalAddress = "127.0.0.1"
)

// Default CTCP reply templates.
const (
	DefaultCTCPVersion  = "Ene {version} - {url}"
	DefaultCTCPUserinfo = "{userinfo}"
	DefaultCTCPTime     = "{now}"
)

// DefaultServerConfig returns the RPL_ISUPPORT values assumed until the
// server sends its own.
func DefaultServerConfig() map[string]string {
	return map[string]string{
		"STATUSMSG": "+@",
		"PREFIX":    "(ov)@+",
		"CHANTYPES": "#",
		"CHANMODES": "eIbq,k,flj,CFLMPQScgimnprstz",
	}
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		Nick:              DefaultNick,
		Realname:          DefaultRealname,
		Userinfo:          DefaultUserinfo,
		Port:              DefaultPort,
		Timeout:           DefaultConnTimeout,
		Encoding:          DefaultEncoding,
		MaxLength:         DefaultMaxLength,
		Passwords:         map[string]string{},
		ServerConfig:      DefaultServerConfig(),
		FloodBurst:        DefaultFloodBurst,
		ReconnectDelay:    DefaultReconnectDelay,
		ConnectRetryDelay: DefaultConnectRetryDelay,
		ShutdownGrace:     DefaultShutdownGrace,
		MaxFailures:       DefaultMaxFailures,
		CooldownPeriod:    DefaultCooldownPeriod,
		CTCP: CTCPConfig{
			Version:  DefaultCTCPVersion,
			Userinfo: DefaultCTCPUserinfo,
			Time:     DefaultCTCPTime,
		},
		DCC: DCCConfig{
			AcceptTimeout: DefaultDCCAcceptTimeout,
			IdleTimeout:   DefaultDCCIdleTimeout,
			DownloadDir:   ".",
			Resume:        true,
		},
	}
}
