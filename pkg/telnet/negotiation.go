package telnet

// Q-method (RFC 1143) option negotiation. Each option tracks a separate
// state for "us" (options we perform locally) and "them" (options the server
// performs). Replies are only generated on real state changes, which is what
// prevents negotiation loops.

type qState uint8

const (
	qNo qState = iota
	qYes
	qWantNo
	qWantYes
)

type optionEntry struct {
	us        qState
	them      qState
	supported bool
}

func (e *optionEntry) enabled() bool {
	// WantNo is reachable only from Yes: the option stays enabled until the
	// disable is acknowledged, which is when OptionDisabled should fire.
	return e.us == qYes || e.us == qWantNo || e.them == qYes || e.them == qWantNo
}

// OptionEdge describes the observable effect of a negotiation step.
type OptionEdge int

const (
	EdgeNone OptionEdge = iota
	EdgeEnabled
	EdgeDisabled
)

// Table holds per-option negotiation state for one connection.
type Table struct {
	options [256]optionEntry
}

// NewTable returns a table that supports exactly the given options. Requests
// for any other option are refused.
func NewTable(supported ...byte) *Table {
	t := &Table{}
	for _, opt := range supported {
		t.options[opt].supported = true
	}
	return t
}

// Enabled reports whether the option is active on either side.
func (t *Table) Enabled(opt byte) bool {
	return t.options[opt].enabled()
}

// RequestEnable asks the remote side to enable an option (IAC DO). The
// returned negotiation is nil when no bytes need to be sent, e.g. the
// option is already enabled (idempotent re-request).
func (t *Table) RequestEnable(opt byte) *Negotiation {
	e := &t.options[opt]
	e.supported = true
	switch e.them {
	case qNo:
		e.them = qWantYes
		return &Negotiation{Verb: DO, Option: opt}
	case qWantNo:
		// A disable is in flight; queueing is not supported, let it settle.
		return nil
	default:
		return nil
	}
}

// RequestDisable asks the remote side to disable an option (IAC DONT). Nil
// when the option is already off.
func (t *Table) RequestDisable(opt byte) *Negotiation {
	e := &t.options[opt]
	switch e.them {
	case qYes:
		e.them = qWantNo
		return &Negotiation{Verb: DONT, Option: opt}
	case qWantYes:
		e.them = qNo
		return nil
	default:
		return nil
	}
}

// Receive applies an incoming negotiation, returning the reply to transmit
// (nil for none) and the edge, if any, of the option's enabled state.
func (t *Table) Receive(n Negotiation) (*Negotiation, OptionEdge) {
	e := &t.options[n.Option]
	before := e.enabled()

	var reply *Negotiation
	switch n.Verb {
	case WILL:
		switch e.them {
		case qNo:
			if e.supported {
				e.them = qYes
				reply = &Negotiation{Verb: DO, Option: n.Option}
			} else {
				reply = &Negotiation{Verb: DONT, Option: n.Option}
			}
		case qWantYes:
			e.them = qYes
		case qWantNo:
			// Remote answered WILL to our DONT; treat as refused disable.
			e.them = qYes
		case qYes:
			// Already enabled, suppress re-ack.
		}
	case WONT:
		switch e.them {
		case qYes:
			e.them = qNo
			reply = &Negotiation{Verb: DONT, Option: n.Option}
		case qWantYes, qWantNo:
			e.them = qNo
		case qNo:
		}
	case DO:
		switch e.us {
		case qNo:
			if e.supported {
				e.us = qYes
				reply = &Negotiation{Verb: WILL, Option: n.Option}
			} else {
				reply = &Negotiation{Verb: WONT, Option: n.Option}
			}
		case qWantYes:
			e.us = qYes
		case qWantNo:
			e.us = qYes
		case qYes:
		}
	case DONT:
		switch e.us {
		case qYes:
			e.us = qNo
			reply = &Negotiation{Verb: WONT, Option: n.Option}
		case qWantYes, qWantNo:
			e.us = qNo
		case qNo:
		}
	}

	after := e.enabled()
	switch {
	case !before && after:
		return reply, EdgeEnabled
	case before && !after:
		return reply, EdgeDisabled
	default:
		return reply, EdgeNone
	}
}

// OfferLocal announces that we will perform an option (IAC WILL), used for
// options the client performs itself such as NAWS and TTYPE.
func (t *Table) OfferLocal(opt byte) *Negotiation {
	e := &t.options[opt]
	e.supported = true
	if e.us == qNo {
		e.us = qWantYes
		return &Negotiation{Verb: WILL, Option: opt}
	}
	return nil
}

// Reset clears all negotiated state, preserving the supported set. Called
// when a new connection is established.
func (t *Table) Reset() {
	for i := range t.options {
		t.options[i].us = qNo
		t.options[i].them = qNo
	}
}

// EnabledOptions returns the codes of all currently enabled options.
func (t *Table) EnabledOptions() []byte {
	var out []byte
	for i := range t.options {
		if t.options[i].enabled() {
			out = append(out, byte(i))
		}
	}
	return out
}
