package irc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/lrstanley/girc"

	"ene/internal/dcc"
	eneerr "ene/internal/errors"
)

// DefaultQuitReason is sent by Quit when no reason is given.
const DefaultQuitReason = "Quitting"

// ── targets ──────────────────────────────────────────────────────────

// SendTarget is where Privmsg and Notice deliver: a [Channel], a [User]
// or an open [DCCChat].
type SendTarget interface {
	isSendTarget()
}

// Channel is a channel name including its prefix.
type Channel string

// User is a nickname.
type User string

// DCCChat routes messages over a DCC chat session instead of the
// server.
type DCCChat struct {
	Session *dcc.Session
}

func (Channel) isSendTarget() {}
func (User) isSendTarget()    {}
func (DCCChat) isSendTarget() {}

// Target returns a Channel when name starts with one of the server's
// channel prefixes and a User otherwise.
func (c *Client) Target(name string) SendTarget {
	if isChannel(name, c.server.Get("CHANTYPES")) {
		return Channel(name)
	}
	return User(name)
}

// ── raw output ───────────────────────────────────────────────────────

// Send writes one raw line to the server, after the flood limiter.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return eneerr.ErrNotConnected
	}
	if l := c.limiter.Load(); l != nil {
		if err := l.Wait(c.context()); err != nil {
			return err
		}
	}
	return conn.Write(line)
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// SendLine writes line with any CR or LF replaced by a space.
func (c *Client) SendLine(line string) error {
	return c.Send(lineBreaks.Replace(line))
}

func (c *Client) limit() int { return c.cfg.Load().MaxLength }

// sendSplit formats every chunk of body with prefix and writes them in
// order.  suffix is appended after each chunk.  Nothing is sent when
// the framing alone leaves no room for a single rune.
func (c *Client) sendSplit(prefix, body, suffix string) error {
	if overhead := len(prefix) + len(suffix); overhead+utf8.UTFMax > c.limit() {
		return fmt.Errorf("%w: %d bytes of framing, limit %d",
			eneerr.ErrLineTooLong, overhead, c.limit())
	}
	for _, chunk := range SplitMessage(body, len(prefix)+len(suffix), c.limit()) {
		if err := c.SendLine(prefix + chunk + suffix); err != nil {
			return err
		}
	}
	return nil
}

// ── messages ─────────────────────────────────────────────────────────

// Privmsg sends message to target, split to fit the line limit.  For a
// DCC chat each chunk is one line on the session.
func (c *Client) Privmsg(target SendTarget, message string) error {
	if message == "" {
		return nil
	}
	switch t := target.(type) {
	case DCCChat:
		for _, chunk := range SplitMessage(message, 0, c.limit()) {
			if err := t.Session.SendLine(chunk); err != nil {
				return err
			}
		}
		return nil
	case Channel:
		return c.sendSplit("PRIVMSG "+string(t)+" :", message, "")
	case User:
		return c.sendSplit("PRIVMSG "+string(t)+" :", message, "")
	default:
		return eneerr.New("irc: no message target")
	}
}

// Notice sends a NOTICE to target.  On a DCC chat, where notices do not
// exist, each chunk is sent as a CTCP ACTION.
func (c *Client) Notice(target SendTarget, message string) error {
	if message == "" {
		return nil
	}
	switch t := target.(type) {
	case DCCChat:
		overhead := len(girc.EncodeCTCPRaw(girc.CTCP_ACTION, ""))
		for _, chunk := range SplitMessage(message, overhead, c.limit()) {
			if err := t.Session.Action(chunk); err != nil {
				return err
			}
		}
		return nil
	case Channel:
		return c.sendSplit("NOTICE "+string(t)+" :", message, "")
	case User:
		return c.sendSplit("NOTICE "+string(t)+" :", message, "")
	default:
		return eneerr.New("irc: no notice target")
	}
}

// CTCP sends a CTCP request body (e.g. "VERSION", "DCC SEND ...") to
// target.
func (c *Client) CTCP(target, body string) error {
	if target == "" || body == "" {
		return nil
	}
	return c.sendSplit("PRIVMSG "+target+" :\x01", body, "\x01")
}

// CTCPReply answers a CTCP request with a NOTICE.
func (c *Client) CTCPReply(target, body string) error {
	if target == "" || body == "" {
		return nil
	}
	return c.sendSplit("NOTICE "+target+" :\x01", body, "\x01")
}

// ── channel and user commands ────────────────────────────────────────

// Join joins channel, adding the stored key for it if there is one.
func (c *Client) Join(channel string) error {
	line := "JOIN " + channel
	if key, ok := c.cfg.Load().ChannelKey(channel, c.server.Get("CHANTYPES")); ok && key != "" {
		line += " " + key
	}
	return c.SendLine(line)
}

// Part leaves channel.
func (c *Client) Part(channel, reason string) error {
	line := "PART " + channel
	if reason != "" {
		line += " :" + reason
	}
	return c.SendLine(line)
}

// Mode sends MODE verbatim; the arguments are not interpreted.
func (c *Client) Mode(target string, args ...string) error {
	line := "MODE " + target
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	return c.SendLine(line)
}

// Kick removes nick from channel.
func (c *Client) Kick(channel, nick, reason string) error {
	line := "KICK " + channel + " " + nick
	if reason != "" {
		line += " :" + reason
	}
	return c.SendLine(line)
}

// Invite invites nick to channel.
func (c *Client) Invite(nick, channel string) error {
	return c.SendLine("INVITE " + nick + " " + channel)
}

// Topic sets the topic of channel, or asks for it when topic is empty.
func (c *Client) Topic(channel, topic string) error {
	line := "TOPIC " + channel
	if topic != "" {
		line += " :" + topic
	}
	return c.SendLine(line)
}

// Away marks the client away with message.
func (c *Client) Away(message string) error {
	return c.SendLine("AWAY :" + message)
}

// Back clears the away status.
func (c *Client) Back() error {
	return c.SendLine("AWAY")
}

// SetNick asks the server for a new nickname.  [Client.Nick] changes
// only once the server acknowledges it.
func (c *Client) SetNick(nick string) error {
	return c.SendLine("NICK " + nick)
}

// Quit disconnects from the server with reason, "Quitting" when empty.
func (c *Client) Quit(reason string) error {
	if reason == "" {
		reason = DefaultQuitReason
	}
	return c.SendLine("QUIT :" + reason)
}

// Pong answers a server PING.
func (c *Client) Pong(token string) error {
	return c.SendLine("PONG :" + token)
}

// ── DCC ──────────────────────────────────────────────────────────────

// DCCChat opens a chat with peer: it connects to host:port when given,
// otherwise it listens and sends the peer an offer.
func (c *Client) DCCChat(ctx context.Context, peer string, host net.IP, port int) (*dcc.Session, error) {
	return c.dcc.Create(ctx, dcc.Request{Kind: dcc.KindChat, Peer: peer, Host: host, Port: port})
}

// DCCGet receives a file offered by peer at host:port into path.  size
// is the announced size, 0 when unknown.
func (c *Client) DCCGet(ctx context.Context, peer string, host net.IP, port int, path string, size int64) (*dcc.Session, error) {
	return c.dcc.Create(ctx, dcc.Request{
		Kind: dcc.KindGet, Peer: peer, Host: host, Port: port, File: path, Size: size,
	})
}

// DCCSend offers the file at path to peer.
func (c *Client) DCCSend(ctx context.Context, peer, path string) (*dcc.Session, error) {
	return c.dcc.Create(ctx, dcc.Request{Kind: dcc.KindSend, Peer: peer, File: path})
}

// DCCAccept accepts a peer's resume request for an existing send.
func (c *Client) DCCAccept(ctx context.Context, peer, file string, port int, pos int64) (*dcc.Session, error) {
	return c.dcc.Resume(ctx, peer, file, port, pos)
}
