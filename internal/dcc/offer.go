package dcc

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"ene/util"
)

// Offer is a parsed DCC request carried inside a CTCP DCC message.
type Offer struct {
	Type     string // CHAT, SEND, RESUME or ACCEPT
	File     string // SEND, RESUME, ACCEPT
	IP       net.IP // CHAT, SEND
	Port     int
	Size     int64 // SEND; -1 when the peer did not say
	Position int64 // RESUME, ACCEPT
}

// ParseOffer parses the text following "DCC " in a CTCP message, e.g.
// `SEND "my file.txt" 3232235777 5000 10000`.
func ParseOffer(text string) (*Offer, error) {
	args := splitArgs(text)
	if len(args) == 0 {
		return nil, fmt.Errorf("empty dcc request")
	}

	o := &Offer{Type: strings.ToUpper(args[0]), Size: -1}
	args = args[1:]

	switch o.Type {
	case "CHAT":
		// CHAT chat <ip> <port>
		if len(args) < 3 {
			return nil, fmt.Errorf("dcc chat: want 3 arguments, got %d", len(args))
		}
		if err := o.parseAddr(args[1], args[2]); err != nil {
			return nil, err
		}
	case "SEND":
		// SEND <file> <ip> <port> [size]
		if len(args) < 3 {
			return nil, fmt.Errorf("dcc send: want at least 3 arguments, got %d", len(args))
		}
		o.File = args[0]
		if err := o.parseAddr(args[1], args[2]); err != nil {
			return nil, err
		}
		if len(args) > 3 {
			n, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("dcc send: invalid size %q", args[3])
			}
			o.Size = n
		}
	case "RESUME", "ACCEPT":
		// RESUME|ACCEPT <file> <port> <position>
		if len(args) < 3 {
			return nil, fmt.Errorf("dcc %s: want 3 arguments, got %d", strings.ToLower(o.Type), len(args))
		}
		o.File = args[0]
		port, err := parsePort(args[1])
		if err != nil {
			return nil, err
		}
		o.Port = port
		pos, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || pos < 0 {
			return nil, fmt.Errorf("dcc %s: invalid position %q", strings.ToLower(o.Type), args[2])
		}
		o.Position = pos
	default:
		return nil, fmt.Errorf("unsupported dcc request %q", o.Type)
	}
	return o, nil
}

func (o *Offer) parseAddr(host, port string) error {
	ip, err := util.ParseDCCHost(host)
	if err != nil {
		return err
	}
	p, err := parsePort(port)
	if err != nil {
		return err
	}
	o.IP, o.Port = ip, p
	return nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("invalid dcc port %q", s)
	}
	return p, nil
}

// String formats the offer as the text following "DCC ".
func (o *Offer) String() string {
	switch o.Type {
	case "CHAT":
		return fmt.Sprintf("CHAT chat %s %d", formatIP(o.IP), o.Port)
	case "SEND":
		s := fmt.Sprintf("SEND %s %s %d", quoteFilename(o.File), formatIP(o.IP), o.Port)
		if o.Size >= 0 {
			s += " " + strconv.FormatInt(o.Size, 10)
		}
		return s
	default:
		return fmt.Sprintf("%s %s %d %d", o.Type, quoteFilename(o.File), o.Port, o.Position)
	}
}

// Message returns the full CTCP body, "DCC " included.
func (o *Offer) Message() string { return "DCC " + o.String() }

// Addr returns the advertised host:port.
func (o *Offer) Addr() string { return util.FormatAddr(o.IP.String(), o.Port) }

func formatIP(ip net.IP) string {
	n, err := util.IPToUint32(ip)
	if err != nil {
		return ip.String()
	}
	return strconv.FormatUint(uint64(n), 10)
}

func quoteFilename(name string) string {
	if strings.ContainsAny(name, " \t") {
		return `"` + name + `"`
	}
	return name
}

// splitArgs splits on whitespace, keeping double-quoted runs together.
func splitArgs(s string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		inArg  bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			inArg = true
		case (r == ' ' || r == '\t') && !quoted:
			if inArg {
				out = append(out, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if inArg {
		out = append(out, cur.String())
	}
	return out
}

// SafeName reduces a peer-supplied file name to a bare base name that
// cannot escape the download directory.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(name)
	switch base {
	case "", ".", "..", "/":
		return "download"
	}
	return base
}
