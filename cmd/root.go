// Package cmd wires up the CLI flags and runs the client.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"ene/config"
	"ene/internal/core"
	"ene/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ene/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout is where --version and --dry-run print.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// flagValues holds the raw flag values.  They only override the loaded
// configuration for flags that were actually given.
type flagValues struct {
	configPath string

	nick, realname string
	server         string
	port           int
	tls            bool
	tlsInsecure    bool
	joins          []string
	encoding       string
	maxLength      int

	tunnel        string
	sshKey        string
	sshPassword   bool
	sshAgent      bool
	strictHostKey bool
	knownHosts    string
	proxy         string

	dccIP       string
	dccPorts    string
	downloadDir string
	autoChat    bool
	autoGet     bool
	viaTunnel   bool

	history string
	admin   string

	verbose int
	dryRun  bool
}

func (v *flagValues) register(fs *flag.FlagSet) {
	// ── identity / server ────────────────────────────────────────
	fs.StringVarP(&v.configPath, "config", "c", "", "Config file (.yaml, .toml or .json)")
	fs.StringVarP(&v.server, "server", "s", "", "IRC server host")
	fs.IntVarP(&v.port, "port", "p", 0, "IRC server port")
	fs.StringVarP(&v.nick, "nick", "n", "", "Nickname")
	fs.StringVar(&v.realname, "realname", "", "Real name sent in USER")
	fs.BoolVar(&v.tls, "tls", false, "Connect with TLS")
	fs.BoolVar(&v.tlsInsecure, "tls-insecure", false, "Skip TLS certificate verification")
	fs.StringArrayVarP(&v.joins, "join", "j", nil, "Channel to join after registering (repeatable)")
	fs.StringVar(&v.encoding, "encoding", "", "Wire text encoding")
	fs.IntVar(&v.maxLength, "max-length", 0, "Maximum outbound line length")

	// ── SSH tunnel / proxy ───────────────────────────────────────
	fs.StringVarP(&v.tunnel, "tunnel", "T", "", "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&v.sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&v.sshPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&v.sshAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&v.strictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&v.knownHosts, "known-hosts", "", "Custom known_hosts path")
	fs.StringVar(&v.proxy, "proxy", "", "SOCKS5 proxy host:port")

	// ── DCC ──────────────────────────────────────────────────────
	fs.StringVar(&v.dccIP, "dcc-ip", "", "IPv4 address advertised in DCC offers")
	fs.StringVar(&v.dccPorts, "dcc-ports", "", "DCC listener port or range (5000-5010)")
	fs.StringVar(&v.downloadDir, "download-dir", "", "Directory for received files")
	fs.BoolVar(&v.autoChat, "auto-chat", false, "Accept DCC chat offers")
	fs.BoolVar(&v.autoGet, "auto-get", false, "Accept DCC file offers")
	fs.BoolVar(&v.viaTunnel, "dcc-via-tunnel", false, "Listen for DCC peers on the SSH gateway")

	// ── services / output ────────────────────────────────────────
	fs.StringVar(&v.history, "history", "", "Transfer history DSN (sqlite path, postgres:// or mysql://)")
	fs.StringVar(&v.admin, "admin", "", "Admin HTTP API listen address")
	fs.CountVarP(&v.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&v.dryRun, "dry-run", false, "Validate the configuration and exit")
}

// apply overlays the flags that were set on cfg.
func (v *flagValues) apply(fs *flag.FlagSet, cfg *config.Config) error {
	set := fs.Changed

	if set("nick") {
		cfg.Nick = v.nick
	}
	if set("realname") {
		cfg.Realname = v.realname
	}
	if set("server") {
		cfg.Host = v.server
	}
	if set("port") {
		cfg.Port = v.port
	}
	if set("tls") {
		cfg.TLS = v.tls
		if !set("port") && cfg.Port == config.DefaultPort {
			cfg.Port = config.DefaultTLSPort
		}
	}
	if set("tls-insecure") {
		cfg.TLSInsecure = v.tlsInsecure
	}
	if set("join") {
		cfg.Autojoins = append([]string(nil), v.joins...)
	}
	if set("encoding") {
		cfg.Encoding = v.encoding
	}
	if set("max-length") {
		cfg.MaxLength = v.maxLength
	}

	if set("tunnel") {
		cfg.TunnelSpec = v.tunnel
	}
	if set("ssh-key") {
		cfg.SSHKeyPath = v.sshKey
	}
	if set("ssh-password") {
		cfg.SSHPassword = v.sshPassword
	}
	if set("ssh-agent") {
		cfg.UseSSHAgent = v.sshAgent
	}
	if set("strict-hostkey") {
		cfg.StrictHostKey = v.strictHostKey
	}
	if set("known-hosts") {
		cfg.KnownHostsPath = v.knownHosts
	}
	if set("proxy") {
		cfg.Proxy = v.proxy
	}

	if set("dcc-ip") {
		cfg.DCC.IP = v.dccIP
	}
	if set("dcc-ports") {
		pr, err := config.ParsePortSpec(v.dccPorts)
		if err != nil {
			return fmt.Errorf("dcc-ports: %w", err)
		}
		cfg.DCC.Ports = pr
	}
	if set("download-dir") {
		cfg.DCC.DownloadDir = v.downloadDir
	}
	if set("auto-chat") {
		cfg.DCC.AutoChat = v.autoChat
	}
	if set("auto-get") {
		cfg.DCC.AutoGet = v.autoGet
	}
	if set("dcc-via-tunnel") {
		cfg.DCC.ViaTunnel = v.viaTunnel
	}

	if set("history") {
		cfg.HistoryDSN = v.history
	}
	if set("admin") {
		cfg.AdminAddr = v.admin
	}
	if set("verbose") {
		cfg.Verbose = v.verbose
	}
	cfg.DryRun = v.dryRun
	return nil
}

// loadConfig builds the effective configuration: defaults, file,
// environment, then flags.
func (v *flagValues) loadConfig(fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(v.configPath)
	if err != nil {
		return nil, err
	}
	if err := v.apply(fs, cfg); err != nil {
		return nil, err
	}
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute parses args and runs the client until SIGINT or SIGTERM.
func Execute(ctx context.Context, args []string) error {
	var v flagValues
	fs := flag.NewFlagSet("ene", flag.ContinueOnError)
	v.register(fs)

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "ene %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	cfg, err := v.loadConfig(fs)
	if err != nil {
		return err
	}
	if cfg.DryRun {
		printSummary(cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	app, err := core.Build(cfg, core.Options{Version: version, Logger: logger})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig == syscall.SIGHUP {
					next, err := v.loadConfig(fs)
					if err != nil {
						logger.Error("reload: %v", err)
						continue
					}
					app.Reload(next)
					continue
				}
				logger.Info("received %s, quitting", sig)
				app.Shutdown(ctx)
				cancel()
				return
			}
		}
	}()

	return app.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func printSummary(cfg *config.Config) {
	transport := "tcp"
	switch {
	case cfg.TunnelEnabled:
		transport = fmt.Sprintf("ssh %s@%s:%d", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	case cfg.Proxy != "":
		transport = "socks5 " + cfg.Proxy
	}
	if cfg.TLS {
		transport += "+tls"
	}
	fmt.Fprintf(stdout, "server:    %s (%s)\n", cfg.Address(), transport)
	fmt.Fprintf(stdout, "nick:      %s\n", cfg.Nick)
	fmt.Fprintf(stdout, "autojoin:  %v\n", cfg.Autojoins)
	fmt.Fprintf(stdout, "encoding:  %s, max %d bytes/line\n", cfg.Encoding, cfg.MaxLength)
	fmt.Fprintf(stdout, "dcc:       chat=%t get=%t resume=%t dir=%s\n",
		cfg.DCC.AutoChat, cfg.DCC.AutoGet, cfg.DCC.Resume, cfg.DCC.DownloadDir)
	if cfg.HistoryDSN != "" {
		fmt.Fprintf(stdout, "history:   %s\n", cfg.HistoryDSN)
	}
	if cfg.AdminAddr != "" {
		fmt.Fprintf(stdout, "admin:     %s\n", cfg.AdminAddr)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Ene - IRC client with DCC chat and file transfer v%s

Usage:
  ene [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  ene -s irc.libera.chat -j '#ene'                 Connect and join
  ene -s irc.libera.chat --tls -n Ene2             TLS on port 6697
  ene -c ene.yaml --auto-get --download-dir dl     Accept file offers
  ene -T me@bastion -s irc.internal --dcc-via-tunnel
                                                   IRC and DCC over SSH
  ene -c ene.toml --history ene.db --admin :8080   History and admin API
`)
}
