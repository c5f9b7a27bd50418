package config

import (
	"testing"
)

// ── ParseTunnelSpec ──────────────────────────────────────────────────

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestApplyTunnelSpec(t *testing.T) {
	cfg := Default()
	cfg.TunnelSpec = "ops@bastion:2200"
	if err := cfg.ApplyTunnelSpec(); err != nil {
		t.Fatal(err)
	}
	if !cfg.TunnelEnabled || cfg.TunnelUser != "ops" || cfg.TunnelHost != "bastion" || cfg.TunnelPort != 2200 {
		t.Errorf("unexpected tunnel fields: %+v", cfg)
	}
}

// ── ParsePortSpec ────────────────────────────────────────────────────

func TestParsePortSpec(t *testing.T) {
	tests := []struct {
		input     string
		wantStart int
		wantEnd   int
		wantErr   bool
	}{
		{"5000", 5000, 5000, false},
		{"5000-5010", 5000, 5010, false},
		{"1-65535", 1, 65535, false},
		{"0", 0, 0, true},
		{"70000", 0, 0, true},
		{"abc", 0, 0, true},
		{"90-80", 0, 0, true}, // reversed range
		{"0-100", 0, 0, true}, // start below 1
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pr, err := ParsePortSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePortSpec(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if pr.Start != tt.wantStart || pr.End != tt.wantEnd {
				t.Errorf("got {%d, %d}, want {%d, %d}", pr.Start, pr.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

// ── PortRange ────────────────────────────────────────────────────────

func TestPortRangeExpand(t *testing.T) {
	pr := PortRange{Start: 20, End: 25}
	got := pr.Expand()
	want := []int{20, 21, 22, 23, 24, 25}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}

	if (PortRange{}).Expand() != nil {
		t.Error("zero range should expand to nil")
	}
}

// ── Derived values ───────────────────────────────────────────────────

func TestChannelKey(t *testing.T) {
	cfg := Default()
	cfg.Passwords = map[string]string{"secret": "hunter2"}

	tests := []struct {
		channel string
		want    string
		ok      bool
	}{
		{"#secret", "hunter2", true},
		{"secret", "hunter2", true},
		{"##secret", "hunter2", true},
		{"#public", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			key, ok := cfg.ChannelKey(tt.channel, "#")
			if key != tt.want || ok != tt.ok {
				t.Errorf("ChannelKey(%q) = (%q, %v), want (%q, %v)", tt.channel, key, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	cfg := Default()
	cfg.Autojoins = []string{"#a"}
	cp := cfg.Clone()

	cp.Passwords["x"] = "y"
	cp.ServerConfig["CHANTYPES"] = "&"
	cp.Autojoins[0] = "#b"

	if _, ok := cfg.Passwords["x"]; ok {
		t.Error("Passwords shared with clone")
	}
	if cfg.ServerConfig["CHANTYPES"] != "#" {
		t.Error("ServerConfig shared with clone")
	}
	if cfg.Autojoins[0] != "#a" {
		t.Error("Autojoins shared with clone")
	}
}

// ── Config.Validate ──────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	valid := func(mod func(c *Config)) Config {
		c := Default()
		c.Host = "irc.libera.chat"
		if mod != nil {
			mod(c)
		}
		return *c
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults with host", valid(nil), false},
		{"no host", valid(func(c *Config) { c.Host = "" }), true},
		{"no nick", valid(func(c *Config) { c.Nick = "" }), true},
		{"nick with space", valid(func(c *Config) { c.Nick = "ene bot" }), true},
		{"port out of range", valid(func(c *Config) { c.Port = 70000 }), true},
		{"tiny max length", valid(func(c *Config) { c.MaxLength = 10 }), true},
		{"unknown encoding", valid(func(c *Config) { c.Encoding = "klingon-8" }), true},
		{"latin1 encoding", valid(func(c *Config) { c.Encoding = "latin1" }), false},
		{"tunnel no host", valid(func(c *Config) { c.TunnelEnabled = true }), true},
		{
			name: "tunnel and proxy",
			cfg: valid(func(c *Config) {
				c.TunnelEnabled, c.TunnelHost, c.Proxy = true, "gw", "127.0.0.1:1080"
			}),
			wantErr: true,
		},
		{"bad proxy", valid(func(c *Config) { c.Proxy = "nowhere" }), true},
		{"dcc via tunnel without tunnel", valid(func(c *Config) { c.DCC.ViaTunnel = true }), true},
		{"dcc ipv6", valid(func(c *Config) { c.DCC.IP = "::1" }), true},
		{"dcc ipv4", valid(func(c *Config) { c.DCC.IP = "192.0.2.10" }), false},
		{"dcc reversed ports", valid(func(c *Config) { c.DCC.Ports = PortRange{Start: 10, End: 5} }), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}
