package irc

import (
	"os"
	"strings"
	"time"

	"github.com/lrstanley/girc"

	"ene/internal/dcc"
)

// ReplyEngine produces a reply to a chat line.  groups names the
// context the line arrived in (the channel, or "dcc"); it is empty for
// private messages.
type ReplyEngine interface {
	GetReply(message string, sender *girc.Source, groups []string) (string, bool)
}

// ── core ─────────────────────────────────────────────────────────────

// CoreHandler keeps the connection healthy: PING, registration,
// capability tracking and nickname bookkeeping.
type CoreHandler struct{}

func (h *CoreHandler) Handles(kind EventKind) HandlerFunc {
	switch kind {
	case EventConnected:
		return h.connected
	case EventPing:
		return h.ping
	case EventWelcome:
		return h.welcome
	case EventISupport:
		return h.isupport
	case EventNick:
		return h.nick
	case EventNickInUse:
		return h.nickInUse
	case EventServerError:
		return h.serverError
	case EventError:
		return h.fatal
	}
	return nil
}

func (h *CoreHandler) connected(c *Client, _ *Event) {
	c.logger.Verbose("registration sent")
}

func (h *CoreHandler) ping(c *Client, e *Event) {
	if err := c.Pong(e.Text); err != nil {
		c.logger.Warn("pong: %v", err)
	}
}

// welcome records the nick the server registered us with and joins the
// configured channels.
func (h *CoreHandler) welcome(c *Client, e *Event) {
	if e.Target != "" && e.Target != "*" {
		c.setNick(e.Target)
	}
	c.logger.Info("registered as %s", c.Nick())
	for _, ch := range c.Config().Autojoins {
		if err := c.Join(ch); err != nil {
			c.logger.Warn("join %s: %v", ch, err)
		}
	}
}

func (h *CoreHandler) isupport(c *Client, e *Event) {
	params := e.Raw.Params
	// <nick> TOKEN... :are supported by this server
	if len(params) < 3 {
		return
	}
	c.server.apply(params[1 : len(params)-1])
	c.logger.Debug("server capabilities: %v", params[1:len(params)-1])
}

func (h *CoreHandler) nick(c *Client, e *Event) {
	if e.Nick() != "" && strings.EqualFold(e.Nick(), c.Nick()) {
		c.setNick(e.Text)
		c.logger.Info("nick is now %s", e.Text)
	}
}

func (h *CoreHandler) nickInUse(c *Client, e *Event) {
	attempted := e.Text
	if attempted == "" || attempted == "*" {
		attempted = c.Nick()
	}
	next := attempted + "_"
	c.logger.Warn("nick %s in use, trying %s", attempted, next)
	if err := c.SetNick(next); err != nil {
		c.logger.Warn("nick: %v", err)
	}
}

func (h *CoreHandler) serverError(c *Client, e *Event) {
	subject := ""
	if params := e.Raw.Params; len(params) > 2 {
		subject = params[1]
	}
	c.logger.Warn("%s %s: %s", e.Name, subject, e.Text)
}

func (h *CoreHandler) fatal(c *Client, e *Event) {
	c.logger.Error("server error: %s", e.Text)
}

// ── CTCP ─────────────────────────────────────────────────────────────

// CTCPHandler answers CTCP queries from the configured templates.
type CTCPHandler struct {
	Version string
	URL     string
}

var ctcpCommands = []string{
	girc.CTCP_ACTION, girc.CTCP_CLIENTINFO, "DCC", girc.CTCP_PING,
	girc.CTCP_TIME, girc.CTCP_USERINFO, girc.CTCP_VERSION,
}

func (h *CTCPHandler) Handles(kind EventKind) HandlerFunc {
	if kind == EventCTCP {
		return h.query
	}
	return nil
}

func (h *CTCPHandler) query(c *Client, e *Event) {
	if e.CTCP == nil || e.Nick() == "" {
		return
	}
	cfg := c.Config()

	var reply string
	switch e.CTCP.Command {
	case girc.CTCP_VERSION:
		reply = h.expand(cfg.CTCP.Version, cfg.Userinfo)
	case girc.CTCP_USERINFO:
		reply = h.expand(cfg.CTCP.Userinfo, cfg.Userinfo)
	case girc.CTCP_TIME:
		reply = h.expand(cfg.CTCP.Time, cfg.Userinfo)
	case girc.CTCP_PING:
		reply = e.CTCP.Text
	case girc.CTCP_CLIENTINFO:
		reply = strings.Join(ctcpCommands, " ")
	default:
		c.logger.Debug("ignoring CTCP %s from %s", e.CTCP.Command, e.Nick())
		return
	}

	body := e.CTCP.Command
	if reply != "" {
		body += " " + reply
	}
	if err := c.CTCPReply(e.Nick(), body); err != nil {
		c.logger.Warn("ctcp reply to %s: %v", e.Nick(), err)
	}
}

func (h *CTCPHandler) expand(tmpl, userinfo string) string {
	return strings.NewReplacer(
		"{version}", h.Version,
		"{url}", h.URL,
		"{userinfo}", userinfo,
		"{now}", time.Now().Format(time.ANSIC),
	).Replace(tmpl)
}

// ── DCC ──────────────────────────────────────────────────────────────

// DCCHandler reacts to DCC negotiation from peers.
type DCCHandler struct{}

func (h *DCCHandler) Handles(kind EventKind) HandlerFunc {
	switch kind {
	case EventDCCChatOffer:
		return h.chatOffer
	case EventDCCSendOffer:
		return h.sendOffer
	case EventDCCResume:
		return h.resume
	case EventDCCAccept:
		return h.accept
	}
	return nil
}

func (h *DCCHandler) chatOffer(c *Client, e *Event) {
	o := e.Offer
	c.logger.Info("%s offers a DCC chat at %s", e.Nick(), o.Addr())
	if !c.Config().DCC.AutoChat {
		return
	}
	if _, err := c.DCCChat(c.context(), e.Nick(), o.IP, o.Port); err != nil {
		c.logger.Warn("dcc chat with %s: %v", e.Nick(), err)
	}
}

// sendOffer receives the offered file when auto-get is on.  A smaller
// file already on disk is resumed instead of overwritten.
func (h *DCCHandler) sendOffer(c *Client, e *Event) {
	o := e.Offer
	c.logger.Info("%s offers %q (%d bytes) at %s", e.Nick(), o.File, o.Size, o.Addr())
	cfg := c.Config()
	if !cfg.DCC.AutoGet {
		return
	}

	path := dcc.DownloadPath(cfg.DCC.DownloadDir, o.File)
	if cfg.DCC.Resume {
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() && fi.Size() > 0 {
			switch {
			case o.Size >= 0 && fi.Size() >= o.Size:
				c.logger.Info("%s already complete, not downloading", path)
			default:
				if err := c.dcc.RequestResume(e.Nick(), *o, path, fi.Size()); err != nil {
					c.logger.Warn("dcc resume %q from %s: %v", o.File, e.Nick(), err)
				}
			}
			return
		}
	}

	size := o.Size
	if size < 0 {
		size = 0
	}
	if _, err := c.DCCGet(c.context(), e.Nick(), o.IP, o.Port, path, size); err != nil {
		c.logger.Warn("dcc get %q from %s: %v", o.File, e.Nick(), err)
	}
}

func (h *DCCHandler) resume(c *Client, e *Event) {
	o := e.Offer
	if _, err := c.DCCAccept(c.context(), e.Nick(), o.File, o.Port, o.Position); err != nil {
		c.logger.Warn("dcc resume from %s: %v", e.Nick(), err)
	}
}

func (h *DCCHandler) accept(c *Client, e *Event) {
	o := e.Offer
	if _, err := c.dcc.Accept(c.context(), e.Nick(), o.File, o.Port, o.Position); err != nil {
		c.logger.Warn("dcc accept from %s: %v", e.Nick(), err)
	}
}

// ── reply engine ─────────────────────────────────────────────────────

// ReplyHandler passes chat lines addressed to the client to a
// [ReplyEngine] and sends back what it returns.
type ReplyHandler struct {
	Engine ReplyEngine
}

func (h *ReplyHandler) Handles(kind EventKind) HandlerFunc {
	switch kind {
	case EventPrivmsg, EventPubmsg, EventPrivNotice, EventDCCMessage:
		return h.message
	}
	return nil
}

func (h *ReplyHandler) message(c *Client, e *Event) {
	text := e.Text
	var (
		target SendTarget = User(e.Nick())
		groups []string
	)

	switch e.Kind {
	case EventPubmsg:
		rest, ok := addressed(text, c.Nick())
		if !ok {
			return
		}
		text = rest
		target = Channel(e.Target)
		groups = []string{e.Target}
	case EventDCCMessage:
		target = DCCChat{Session: e.Session}
		groups = []string{"dcc"}
	}
	if e.Nick() == "" || text == "" {
		return
	}

	reply, ok := h.Engine.GetReply(text, e.Source, groups)
	if !ok || reply == "" {
		return
	}

	send := c.Privmsg
	if e.Kind == EventPrivNotice {
		send = c.Notice
	}
	if err := send(target, reply); err != nil {
		c.logger.Warn("reply to %s: %v", e.Nick(), err)
	}
}

// addressed strips a leading "<nick>:" or "<nick>," from text.
func addressed(text, nick string) (string, bool) {
	if nick == "" || len(text) <= len(nick) || !strings.EqualFold(text[:len(nick)], nick) {
		return "", false
	}
	switch text[len(nick)] {
	case ':', ',':
		return strings.TrimSpace(text[len(nick)+1:]), true
	}
	return "", false
}
