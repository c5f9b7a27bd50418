package config

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	eneerr "ene/internal/errors"
	"ene/internal/wire"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// flagNames maps struct fields to the CLI flag a user would fix.
var flagNames = map[string]string{
	"Nick":              "nick",
	"Realname":          "realname",
	"Host":              "server",
	"Port":              "port",
	"Encoding":          "encoding",
	"MaxLength":         "max-length",
	"Timeout":           "timeout",
	"FloodRate":         "flood-rate",
	"FloodBurst":        "flood-burst",
	"ReconnectDelay":    "reconnect-delay",
	"ConnectRetryDelay": "retry-delay",
	"ShutdownGrace":     "shutdown-grace",
	"AcceptTimeout":     "dcc-timeout",
	"IdleTimeout":       "dcc-idle",
}

var hints = map[string]string{
	"Nick":      "pass -n <nick> or set ENE_NICK",
	"Host":      "pass -s <server> or set ENE_SERVER",
	"Port":      "use a port between 1 and 65535",
	"MaxLength": "512 is the RFC 1459 line limit; values between 64 and 8192 are accepted",
}

// Validate checks that the configuration is internally consistent.
// The first problem found is returned as a *errors.ConfigError.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if eneerr.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	if strings.ContainsAny(c.Nick, " \t\r\n,*?!@") || strings.HasPrefix(c.Nick, "#") {
		return &eneerr.ConfigError{
			Field:   "nick",
			Value:   c.Nick,
			Message: "contains characters not allowed in a nickname",
		}
	}

	if _, err := wire.NewCodec(c.Encoding); err != nil {
		return &eneerr.ConfigError{
			Field:   "encoding",
			Value:   c.Encoding,
			Message: "unknown text encoding",
			Hint:    "use a WHATWG label such as utf-8, latin1 or windows-1251",
		}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &eneerr.ConfigError{
			Field:   "tunnel",
			Message: "tunnel host is required",
			Hint:    "use -T [user@]host[:port]",
		}
	}

	if c.TunnelEnabled && c.Proxy != "" {
		return &eneerr.ConfigError{
			Field:   "proxy",
			Value:   c.Proxy,
			Message: "--proxy and --tunnel are mutually exclusive",
		}
	}

	if c.Proxy != "" {
		if _, _, err := net.SplitHostPort(c.Proxy); err != nil {
			return &eneerr.ConfigError{
				Field:   "proxy",
				Value:   c.Proxy,
				Message: "expected host:port",
			}
		}
	}

	if c.DCC.ViaTunnel && !c.TunnelEnabled {
		return &eneerr.ConfigError{
			Field:   "dcc-via-tunnel",
			Message: "requires an SSH tunnel",
			Hint:    "add -T [user@]host[:port]",
		}
	}

	if c.DCC.IP != "" {
		if ip := net.ParseIP(c.DCC.IP); ip == nil || ip.To4() == nil {
			return &eneerr.ConfigError{
				Field:   "dcc-ip",
				Value:   c.DCC.IP,
				Message: "must be an IPv4 address",
				Hint:    "DCC advertises addresses as 32-bit integers",
			}
		}
	}

	if pr := c.DCC.Ports; !pr.IsZero() && (pr.Start < 1 || pr.End > 65535 || pr.Start > pr.End) {
		return &eneerr.ConfigError{
			Field:   "dcc-ports",
			Value:   pr.String(),
			Message: "invalid port range",
		}
	}

	return nil
}

func fieldError(fe validator.FieldError) error {
	name := flagNames[fe.Field()]
	if name == "" {
		name = strings.ToLower(fe.Field())
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		msg = fmt.Sprintf("must be at most %s", fe.Param())
	default:
		msg = fmt.Sprintf("failed %q check", fe.Tag())
	}

	var value interface{}
	if fe.Tag() != "required" {
		value = fe.Value()
	}

	return &eneerr.ConfigError{
		Field:   name,
		Value:   value,
		Message: msg,
		Hint:    hints[fe.Field()],
	}
}
