package irc

import (
	"strings"

	"github.com/lrstanley/girc"

	"ene/internal/dcc"
)

// EventKind classifies an inbound line (or DCC chat line) for the
// dispatch table.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventConnected
	EventPing
	EventWelcome
	EventISupport
	EventNick
	EventNickInUse
	EventServerError
	EventError
	EventJoin
	EventPart
	EventQuit
	EventKick
	EventPrivmsg
	EventPubmsg
	EventPrivNotice
	EventPubNotice
	EventAction
	EventCTCP
	EventCTCPReply
	EventDCCChatOffer
	EventDCCSendOffer
	EventDCCResume
	EventDCCAccept
	EventDCCMessage

	eventKindCount
)

var eventNames = [...]string{
	EventUnknown:      "unknown",
	EventConnected:    "connected",
	EventPing:         "ping",
	EventWelcome:      "welcome",
	EventISupport:     "isupport",
	EventNick:         "nick",
	EventNickInUse:    "nicknameinuse",
	EventServerError:  "servererror",
	EventError:        "error",
	EventJoin:         "join",
	EventPart:         "part",
	EventQuit:         "quit",
	EventKick:         "kick",
	EventPrivmsg:      "privmsg",
	EventPubmsg:       "pubmsg",
	EventPrivNotice:   "privnotice",
	EventPubNotice:    "pubnotice",
	EventAction:       "action",
	EventCTCP:         "ctcp",
	EventCTCPReply:    "ctcpreply",
	EventDCCChatOffer: "dcc_chat",
	EventDCCSendOffer: "dcc_send",
	EventDCCResume:    "dcc_resume",
	EventDCCAccept:    "dcc_accept",
	EventDCCMessage:   "dcc_message",
}

func (k EventKind) String() string {
	if k < 0 || k >= eventKindCount {
		return "unknown"
	}
	return eventNames[k]
}

// Numeric replies that are surfaced as EventServerError, by name.
var serverErrors = map[string]string{
	"231": "serviceinfo",
	"404": "cannotsendtochan",
	"405": "toomanychannels",
	"432": "erroneusnickname",
	"437": "unavailresource",
	"467": "keyset",
	"471": "channelisfull",
	"473": "inviteonlychan",
	"474": "bannedfromchan",
	"475": "badchannelkey",
	"478": "banlistfull",
	"482": "chanoprivsneeded",
}

// Event is one classified inbound message.
type Event struct {
	Kind EventKind
	// Raw is the parsed server line; nil for EventConnected and
	// EventDCCMessage.
	Raw    *girc.Event
	Source *girc.Source
	// Target is the first parameter of channel and message commands.
	Target string
	Text   string
	// Name is the numeric's symbolic name for EventServerError.
	Name string
	// Channel is set when a message or CTCP was sent to a channel.
	Channel bool

	CTCP    *girc.CTCPEvent
	Offer   *dcc.Offer
	Session *dcc.Session // set for EventDCCMessage
}

// Nick returns the sender's nickname, or "" for server messages.
func (e *Event) Nick() string {
	if e.Source == nil {
		return ""
	}
	return e.Source.Name
}

// Classify turns a parsed line into an Event.  chantypes decides which
// message targets are channels.
func Classify(ev *girc.Event, chantypes string) *Event {
	e := &Event{Raw: ev, Source: ev.Source}
	if len(ev.Params) > 0 {
		e.Target = ev.Params[0]
	}

	switch ev.Command {
	case girc.PING:
		e.Kind = EventPing
		e.Target = ""
		e.Text = ev.Last()
	case girc.RPL_WELCOME:
		e.Kind = EventWelcome
		e.Text = ev.Last()
	case girc.RPL_ISUPPORT:
		e.Kind = EventISupport
	case girc.NICK:
		e.Kind = EventNick
		e.Text = ev.Last()
	case girc.ERR_NICKNAMEINUSE:
		e.Kind = EventNickInUse
		if len(ev.Params) > 1 {
			e.Text = ev.Params[1]
		}
	case girc.ERROR:
		e.Kind = EventError
		e.Text = ev.Last()
	case girc.JOIN:
		e.Kind = EventJoin
	case girc.PART:
		e.Kind = EventPart
		if len(ev.Params) > 1 {
			e.Text = ev.Last()
		}
	case girc.QUIT:
		e.Kind = EventQuit
		e.Target = ""
		e.Text = ev.Last()
	case girc.KICK:
		e.Kind = EventKick
		e.Text = ev.Last()
	case girc.PRIVMSG, girc.NOTICE:
		classifyMessage(e, ev, chantypes)
	default:
		if name, ok := serverErrors[ev.Command]; ok {
			e.Kind = EventServerError
			e.Name = name
			e.Text = ev.Last()
		}
	}
	return e
}

func classifyMessage(e *Event, ev *girc.Event, chantypes string) {
	if len(ev.Params) < 2 {
		return
	}
	e.Text = ev.Params[1]
	e.Channel = isChannel(e.Target, chantypes)

	if ctcp := girc.DecodeCTCP(ev); ctcp != nil {
		e.CTCP = ctcp
		e.Text = ctcp.Text
		switch {
		case ctcp.Command == girc.CTCP_ACTION:
			e.Kind = EventAction
		case ctcp.Reply:
			e.Kind = EventCTCPReply
		case ctcp.Command == "DCC":
			classifyDCC(e, ctcp.Text)
		default:
			e.Kind = EventCTCP
		}
		return
	}

	switch {
	case ev.Command == girc.PRIVMSG && e.Channel:
		e.Kind = EventPubmsg
	case ev.Command == girc.PRIVMSG:
		e.Kind = EventPrivmsg
	case e.Channel:
		e.Kind = EventPubNotice
	default:
		e.Kind = EventPrivNotice
	}
}

// classifyDCC maps a DCC request to its event.  Malformed requests stay
// EventUnknown and are dropped by the dispatcher.
func classifyDCC(e *Event, text string) {
	offer, err := dcc.ParseOffer(text)
	if err != nil {
		return
	}
	e.Offer = offer
	switch offer.Type {
	case "CHAT":
		e.Kind = EventDCCChatOffer
	case "SEND":
		e.Kind = EventDCCSendOffer
	case "RESUME":
		e.Kind = EventDCCResume
	case "ACCEPT":
		e.Kind = EventDCCAccept
	}
}

func isChannel(target, chantypes string) bool {
	if target == "" {
		return false
	}
	if chantypes == "" {
		chantypes = "#"
	}
	return strings.ContainsRune(chantypes, rune(target[0]))
}
