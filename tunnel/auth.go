package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	eneerr "ene/internal/errors"
)

// promptFunc reads a secret from the user.  label is shown before the
// input.
type promptFunc func(label string) ([]byte, error)

// terminalPrompt reads a secret from stdin without echo.
func terminalPrompt(label string) ([]byte, error) {
	fmt.Fprint(os.Stderr, label)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return secret, err
}

// authenticator builds the client auth methods of one tunnel.  The
// tunnel reconnects for as long as the client runs, so anything read
// from the terminal is asked for once and kept.
type authenticator struct {
	cfg    *SSHConfig
	prompt promptFunc

	mu       sync.Mutex
	signer   ssh.Signer // from cfg.KeyPath
	password []byte
	agent    net.Conn
}

func newAuthenticator(cfg *SSHConfig) *authenticator {
	return &authenticator{cfg: cfg, prompt: terminalPrompt}
}

// methods returns the auth methods to offer, in order: key file, agent,
// password (also answering keyboard-interactive).  With none
// configured the agent and the usual key files in ~/.ssh are tried.
func (a *authenticator) methods() ([]ssh.AuthMethod, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []ssh.AuthMethod
	if a.cfg.KeyPath != "" {
		signer, err := a.keySigner()
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", a.cfg.KeyPath, err)
		}
		out = append(out, ssh.PublicKeys(signer))
	}
	if a.cfg.UseAgent {
		m, err := a.agentMethod()
		if err != nil {
			return nil, fmt.Errorf("ssh-agent: %w", err)
		}
		out = append(out, m)
	}
	if a.cfg.PromptPass {
		if a.password == nil {
			pass, err := a.prompt(fmt.Sprintf("%s@%s's password: ", a.cfg.User, a.cfg.Host))
			if err != nil {
				return nil, fmt.Errorf("reading password: %w", err)
			}
			a.password = pass
		}
		out = append(out, ssh.Password(string(a.password)), ssh.KeyboardInteractive(a.answer))
	}

	if len(out) == 0 {
		out = a.fallbackMethods()
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no SSH authentication methods available: "+
			"pass --ssh-key, --ssh-password or --ssh-agent", eneerr.ErrAuthFailed)
	}
	return out, nil
}

// answer replies to keyboard-interactive challenges.  Hidden questions
// get the password; echoed ones are left blank.
func (a *authenticator) answer(_, _ string, questions []string, echos []bool) ([]string, error) {
	answers := make([]string, len(questions))
	for i := range questions {
		if !echos[i] {
			answers[i] = string(a.password)
		}
	}
	return answers, nil
}

// keySigner parses cfg.KeyPath once, prompting for a passphrase when the
// key is encrypted.
func (a *authenticator) keySigner() (ssh.Signer, error) {
	if a.signer != nil {
		return a.signer, nil
	}
	data, err := os.ReadFile(a.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		pass, perr := a.prompt(fmt.Sprintf("Enter passphrase for %s: ", a.cfg.KeyPath))
		if perr != nil {
			return nil, fmt.Errorf("reading passphrase: %w", perr)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, pass)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	a.signer = signer
	return signer, nil
}

// agentMethod authenticates through the agent at $SSH_AUTH_SOCK.  One
// agent connection serves every reconnect.
func (a *authenticator) agentMethod() (ssh.AuthMethod, error) {
	if a.agent == nil {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, errors.New("SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
		}
		a.agent = conn
	}
	return ssh.PublicKeysCallback(agent.NewClient(a.agent).Signers), nil
}

// fallbackMethods tries the agent and the unencrypted key files in
// ~/.ssh.  Nothing is prompted for.
func (a *authenticator) fallbackMethods() []ssh.AuthMethod {
	var out []ssh.AuthMethod
	if m, err := a.agentMethod(); err == nil {
		out = append(out, m)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return out
	}
	var signers []ssh.Signer
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		if s, err := ssh.ParsePrivateKey(data); err == nil {
			signers = append(signers, s)
		}
	}
	if len(signers) > 0 {
		out = append(out, ssh.PublicKeys(signers...))
	}
	return out
}

// close releases the agent connection.
func (a *authenticator) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.agent == nil {
		return nil
	}
	err := a.agent.Close()
	a.agent = nil
	return err
}

// authError marks a handshake the server refused for credentials.
func authError(err error) error {
	if err != nil && strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %v", eneerr.ErrAuthFailed, err)
	}
	return err
}

// ── host-key verification ────────────────────────────────────────────

func hostKeyCallback(cfg *SSHConfig) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKey {
		//nolint:gosec // strict checking is opt-in
		return ssh.InsecureIgnoreHostKey(), nil
	}

	khFile := cfg.KnownHosts
	if khFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		khFile = filepath.Join(home, ".ssh", "known_hosts")
	}

	check, err := knownhosts.New(khFile)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", khFile, err)
	}
	return func(host string, remote net.Addr, key ssh.PublicKey) error {
		err := check(host, remote, key)
		var kerr *knownhosts.KeyError
		if !errors.As(err, &kerr) {
			return err
		}
		if len(kerr.Want) > 0 {
			return fmt.Errorf("%w: %s presented a %s key not listed in %s",
				eneerr.ErrHostKeyMismatch, host, key.Type(), khFile)
		}
		return fmt.Errorf("%s is not in %s: %w", host, khFile, err)
	}, nil
}
