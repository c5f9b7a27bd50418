package irc

// HandlerFunc reacts to one event.  It runs on the dispatching
// goroutine; handlers never run concurrently with each other.
type HandlerFunc func(c *Client, e *Event)

// Handler declares which events it reacts to.  Handles returns nil for
// kinds the handler ignores.
type Handler interface {
	Handles(kind EventKind) HandlerFunc
}

// Dispatcher is a static table from event kind to handler functions,
// built once from a fixed handler list.
type Dispatcher struct {
	table [eventKindCount][]HandlerFunc
}

// NewDispatcher builds the table.  For each kind, functions run in the
// order their handlers were given.
func NewDispatcher(handlers ...Handler) *Dispatcher {
	d := &Dispatcher{}
	for kind := EventKind(0); kind < eventKindCount; kind++ {
		for _, h := range handlers {
			if fn := h.Handles(kind); fn != nil {
				d.table[kind] = append(d.table[kind], fn)
			}
		}
	}
	return d
}

// Dispatch runs every function registered for e.Kind.
func (d *Dispatcher) Dispatch(c *Client, e *Event) {
	if e.Kind < 0 || e.Kind >= eventKindCount {
		return
	}
	for _, fn := range d.table[e.Kind] {
		fn(c, e)
	}
}

// Handles reports whether any handler is registered for kind.
func (d *Dispatcher) Handles(kind EventKind) bool {
	return kind >= 0 && kind < eventKindCount && len(d.table[kind]) > 0
}
