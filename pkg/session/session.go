package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mudpuppy/mudpuppy/pkg/config"
	"github.com/mudpuppy/mudpuppy/pkg/dial"
	"github.com/mudpuppy/mudpuppy/pkg/events"
	"github.com/mudpuppy/mudpuppy/pkg/telnet"
)

// Version is reported to servers in the GMCP Core.Hello message. Set from
// main at startup.
var Version = "dev"

// Status is the connection state of a session. The only legal transitions
// are Disconnected <-> Connecting, Connecting -> Connected and
// Connected -> Disconnected.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "disconnected"
}

var (
	ErrNotConnected    = errors.New("session is not connected")
	ErrNotDisconnected = errors.New("session is not disconnected")
	ErrGmcpDisabled    = errors.New("GMCP is not enabled")
)

// NotFoundError reports a stale script-side handle.
type NotFoundError struct {
	Kind string
	ID   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s with id %d", e.Kind, e.ID)
}

// Executor schedules asynchronous script callbacks off the engine's
// processing path. Failures are logged, never propagated.
type Executor interface {
	Go(label string, fn func() error)
}

// Session owns one MUD connection: its socket actor, telnet negotiation
// state, prompt detector, trigger and alias tables, output buffer and GMCP
// dispatcher. Sessions are owned by the registry and driven from the engine
// loop; methods are not safe for concurrent use.
type Session struct {
	ID  int
	Mud *config.Mud

	status Status
	info   dial.StreamInfo
	handle *connHandle

	bus        *events.Bus
	exec       Executor
	connEvents chan<- ConnEvent

	table      *telnet.Table
	promptMode PromptMode
	fl         *flusher
	heldPrompt *MudLine

	Output  *Buffer
	History *History

	triggers      []*Trigger
	aliases       []*Alias
	nextTriggerID int
	nextAliasID   int

	gmcpPackages map[string]bool
	echo         EchoState

	width, height int
}

// New creates a disconnected session for the given MUD. connEvents is the
// engine loop's shared connection event channel.
func New(id int, mud *config.Mud, bufSize int, bus *events.Bus, exec Executor, connEvents chan<- ConnEvent) *Session {
	return &Session{
		ID:           id,
		Mud:          mud,
		bus:          bus,
		exec:         exec,
		connEvents:   connEvents,
		table:        telnet.NewTable(supportedOptions()...),
		promptMode:   DefaultPromptMode(),
		Output:       NewBuffer(bufSize),
		History:      NewHistory(500),
		gmcpPackages: map[string]bool{},
	}
}

// supportedOptions is the set the client will accept when the server offers
// them. MCCP2 is deliberately absent: without a decompressor, accepting it
// would make the stream unreadable.
func supportedOptions() []byte {
	return []byte{
		telnet.OptEcho,
		telnet.OptSGA,
		telnet.OptEOR,
		telnet.OptNAWS,
		telnet.OptTType,
		telnet.OptCharset,
		telnet.OptMSSP,
		telnet.OptGMCP,
	}
}

// Status returns the session's connection state.
func (s *Session) Status() Status {
	return s.status
}

// Info returns the stream info of the current connection.
func (s *Session) Info() dial.StreamInfo {
	return s.info
}

// Echo returns the current telnet-governed echo state.
func (s *Session) Echo() EchoState {
	return s.echo
}

// HeldPrompt returns the most recent prompt line, or nil.
func (s *Session) HeldPrompt() *MudLine {
	return s.heldPrompt
}

// PromptMode returns the active prompt detection mode.
func (s *Session) PromptMode() PromptMode {
	return s.promptMode
}

// Connect starts dialing the session's MUD.
func (s *Session) Connect(ctx context.Context) error {
	if s.status != StatusDisconnected {
		return ErrNotDisconnected
	}
	log.Printf("[%d] connecting to %s:%d", s.ID, s.Mud.Host, s.Mud.Port)
	s.status = StatusConnecting
	s.Output.Add(ConnectionOutput("Connecting...", nil))
	s.emitConnection()
	s.handle = startConn(ctx, s.ID, s.Mud, s.connEvents)
	return nil
}

// Disconnect tears the connection down.
func (s *Session) Disconnect() error {
	if s.status == StatusDisconnected {
		return ErrNotConnected
	}
	s.handle.disconnect()
	return nil
}

// HandleConnEvent applies one event from the connection actor. Called from
// the engine loop.
func (s *Session) HandleConnEvent(ev ConnEvent) {
	switch ev.Kind {
	case ConnConnected:
		s.status = StatusConnected
		s.info = ev.Info
		s.table.Reset()
		s.echo = EchoNormal
		s.initFlusher()
		log.Printf("[%d] connected: %s", s.ID, ev.Info)
		info := ev.Info
		s.Output.Add(ConnectionOutput("Connected", &info))
		s.emitConnection()

	case ConnDisconnected:
		if s.status == StatusDisconnected {
			return
		}
		s.becomeDisconnected(nil)

	case ConnError:
		if s.status == StatusDisconnected {
			return
		}
		s.becomeDisconnected(ev.Err)

	case ConnItem:
		s.handleItem(ev.Item)

	case ConnPartial:
		s.handlePrompt(ev.Partial, telnet.TermUnterminated)
	}
}

func (s *Session) becomeDisconnected(cause error) {
	log.Printf("[%d] disconnected (cause: %v)", s.ID, cause)
	s.status = StatusDisconnected
	s.stopFlusher()
	s.heldPrompt = nil
	if cause != nil {
		for _, line := range strings.Split(cause.Error(), "\n") {
			s.Output.Add(CommandOutput(line, true))
		}
	}
	s.Output.Add(ConnectionOutput("Disconnected...", nil))
	s.emitConnection()
}

func (s *Session) emitConnection() {
	ev := events.Event{Type: events.Connection, Session: s.ID, Text: s.status.String()}
	if s.status == StatusConnected {
		info := s.info
		ev.Payload = &info
	}
	s.bus.Emit(ev)
}

func (s *Session) handleItem(item telnet.Item) {
	switch it := item.(type) {
	case telnet.BufferedBytes:
		s.extendFlusher()

	case telnet.Line:
		s.handleLine(it)

	case telnet.IacCommand:
		s.bus.Emit(events.Event{Type: events.Iac, Session: s.ID, Command: byte(it)})

	case telnet.Negotiation:
		s.handleNegotiation(it)

	case telnet.Subnegotiation:
		s.handleSubnegotiation(it)
	}
}

func (s *Session) handleLine(l telnet.Line) {
	s.extendFlusher()

	signalled := l.Term == telnet.TermEndOfRecord || l.Term == telnet.TermGoAhead
	if signalled && s.promptMode.Signalled && l.Term == s.promptMode.Signal.Terminator() {
		s.handlePrompt(l.Data, l.Term)
		return
	}

	line := NewMudLine(l.Data)
	display := s.runTriggers(&line)
	if !line.Gag {
		s.Output.Add(MudOutput(display))
	}
}

// handlePrompt processes a line classified as a prompt: the Prompt event is
// emitted before trigger evaluation so prompt-only triggers can match.
func (s *Session) handlePrompt(content []byte, _ telnet.Terminator) {
	line := MudLine{Raw: content, Prompt: true}
	s.bus.Emit(events.Event{
		Type:    events.Prompt,
		Session: s.ID,
		Text:    line.String(),
		Payload: line,
	})

	display := s.runTriggers(&line)
	s.heldPrompt = &display
	if !line.Gag {
		s.Output.Add(PromptOutput(display))
	}
}

// runTriggers evaluates all triggers against the line in registration
// order. The returned line is the display form: the last matching
// highlight's replacement wins. Gag state accumulates onto line.
func (s *Session) runTriggers(line *MudLine) MudLine {
	display := *line
	for _, t := range s.triggers {
		if !t.Enabled {
			continue
		}
		matched, groups := t.matches(line)
		if !matched {
			continue
		}
		if t.Config.Gag {
			line.Gag = true
			display.Gag = true
		}
		if t.Config.Highlight != nil {
			if repl := t.Config.Highlight(display, groups); repl != nil {
				display = *repl
				display.Prompt = line.Prompt
				display.Gag = line.Gag
			}
		}
		if cb := t.Config.Callback; cb != nil {
			trig, snapshot, captured := t, *line, groups
			s.exec.Go(fmt.Sprintf("trigger %q", t.Config.Name), func() error {
				return cb(s.ID, trig, snapshot, captured)
			})
		}
		if t.Config.Expansion != "" {
			if err := s.SendLine(t.Config.Expansion, true); err != nil {
				log.Printf("[%d] trigger %q expansion: %v", s.ID, t.Config.Name, err)
			}
		}
	}
	return display
}

// SendLine transmits text as one or more MUD lines. The per-MUD command
// separator splits the text first; aliases are evaluated per segment for
// user input and skipped entirely for scripted input.
func (s *Session) SendLine(text string, scripted bool) error {
	if s.status != StatusConnected {
		return ErrNotConnected
	}

	segments := []string{text}
	if sep := s.Mud.CommandSeparator; sep != "" && strings.Contains(text, sep) {
		segments = strings.Split(text, sep)
	}

	for _, segment := range segments {
		line := InputLine{Sent: segment, Echo: s.echo, Scripted: scripted}

		skipTransmit := false
		if !scripted && segment != "" {
			for _, a := range s.aliases {
				if !a.Enabled {
					continue
				}
				matched, groups := a.matches(line.Sent)
				if !matched {
					continue
				}
				if cb := a.Config.Callback; cb != nil {
					al, snapshot, captured := a, line, groups
					s.exec.Go(fmt.Sprintf("alias %q", a.Config.Name), func() error {
						return cb(s.ID, al, snapshot, captured)
					})
				}
				line.Original = line.Sent
				if a.Config.Expansion != "" {
					line.Sent = a.Config.Expansion
				}
				if a.Config.EatInput {
					line.Sent = ""
				}
				// An alias that cleared the to-be-sent text ate the input:
				// nothing is transmitted and no further aliases run.
				if line.Sent == "" {
					skipTransmit = true
					break
				}
			}
		}

		if skipTransmit {
			s.bus.Emit(events.Event{Type: events.InputLine, Session: s.ID, Payload: line})
			continue
		}

		s.handle.send(telnet.EncodeLine([]byte(line.Sent)))
		s.bus.Emit(events.Event{Type: events.InputLine, Session: s.ID, Payload: line})
		if s.Mud.EchoInput {
			s.Output.Add(InputOutput(line))
		}
		if !scripted && line.Echo == EchoNormal {
			recall := line.Original
			if recall == "" {
				recall = line.Sent
			}
			s.History.Push(recall)
		}
	}
	return nil
}

// AddOutput appends an item to the session's output buffer.
func (s *Session) AddOutput(item OutputItem) {
	s.Output.Add(item)
}

// SetDims records the rendered output dimensions, reporting them to the
// server via NAWS when negotiated. BufferResized is emitted only on change.
func (s *Session) SetDims(w, h int) {
	s.width, s.height = w, h
	if !s.Output.SetDims(w, h) {
		return
	}
	s.bus.Emit(events.Event{
		Type:    events.BufferResized,
		Session: s.ID,
		Dims:    events.Dimensions{Width: w, Height: h},
	})
	if s.status == StatusConnected && s.table.Enabled(telnet.OptNAWS) {
		s.sendNaws()
	}
}

func (s *Session) sendNaws() {
	w, h := s.width, s.height
	payload := []byte{byte(w >> 8), byte(w), byte(h >> 8), byte(h)}
	s.handle.send(telnet.EncodeSubnegotiation(telnet.Subnegotiation{
		Option: telnet.OptNAWS,
		Data:   payload,
	}))
}

// SetPromptMode switches prompt detection, flushing any partial content
// buffered under the old mode first.
func (s *Session) SetPromptMode(mode PromptMode) {
	old := s.promptMode
	s.stopFlusher()
	s.promptMode = mode
	if s.status == StatusConnected {
		s.initFlusher()
		// Leaving unsignalled mode: schedule one final flush so content
		// buffered before the switch is not stranded.
		if !old.Signalled && mode.Signalled {
			s.handle.flush()
		}
	}
	log.Printf("[%d] prompt mode: %s", s.ID, mode)
}

func (s *Session) initFlusher() {
	if s.promptMode.Signalled || s.fl != nil || s.handle == nil {
		return
	}
	handle := s.handle
	s.fl = newFlusher(s.promptMode.Timeout, func() {
		handle.flush()
	})
}

func (s *Session) stopFlusher() {
	if s.fl != nil {
		s.fl.Stop()
		s.fl = nil
	}
}

func (s *Session) extendFlusher() {
	if s.fl != nil {
		s.fl.Extend()
	}
}

// RequestEnableOption writes the negotiation to enable a telnet option.
// Completion is signalled by an OptionEnabled event; re-requesting an
// enabled option is a silent no-op.
func (s *Session) RequestEnableOption(option byte) error {
	if s.status != StatusConnected {
		return ErrNotConnected
	}
	if neg := s.table.RequestEnable(option); neg != nil {
		s.handle.send(telnet.EncodeNegotiation(*neg))
	}
	return nil
}

// RequestDisableOption writes the negotiation to disable a telnet option.
func (s *Session) RequestDisableOption(option byte) error {
	if s.status != StatusConnected {
		return ErrNotConnected
	}
	if neg := s.table.RequestDisable(option); neg != nil {
		s.handle.send(telnet.EncodeNegotiation(*neg))
	}
	return nil
}

// OptionEnabled reports whether a telnet option is currently active.
func (s *Session) OptionEnabled(option byte) bool {
	return s.table.Enabled(option)
}

// SendSubnegotiation writes IAC SB <option> <data> IAC SE.
func (s *Session) SendSubnegotiation(option byte, data []byte) error {
	if s.status != StatusConnected {
		return ErrNotConnected
	}
	s.handle.send(telnet.EncodeSubnegotiation(telnet.Subnegotiation{Option: option, Data: data}))
	return nil
}

func (s *Session) handleNegotiation(n telnet.Negotiation) {
	reply, edge := s.table.Receive(n)
	if reply != nil {
		s.handle.send(telnet.EncodeNegotiation(*reply))
	}

	switch edge {
	case telnet.EdgeEnabled:
		s.optionEnabled(n.Option)
	case telnet.EdgeDisabled:
		s.optionDisabled(n.Option)
	}
}

func (s *Session) optionEnabled(option byte) {
	log.Printf("[%d] option enabled: %s (%d)", s.ID, telnet.OptionName(option), option)
	switch option {
	case telnet.OptEOR:
		s.SetPromptMode(SignalledMode(SignalEndOfRecord))
	case telnet.OptEcho:
		s.echo = EchoPassword
	case telnet.OptNAWS:
		if s.width > 0 {
			s.sendNaws()
		}
	case telnet.OptGMCP:
		s.handle.send(telnet.EncodeSubnegotiation(gmcpHello(Version)))
		for pkg := range s.gmcpPackages {
			s.handle.send(telnet.EncodeSubnegotiation(gmcpSupportsAdd(pkg)))
		}
		s.bus.Emit(events.Event{Type: events.GmcpEnabled, Session: s.ID})
	}
	s.bus.Emit(events.Event{Type: events.OptionEnabled, Session: s.ID, Option: option})
}

func (s *Session) optionDisabled(option byte) {
	log.Printf("[%d] option disabled: %s (%d)", s.ID, telnet.OptionName(option), option)
	switch option {
	case telnet.OptEOR:
		s.SetPromptMode(DefaultPromptMode())
	case telnet.OptEcho:
		s.echo = EchoNormal
	case telnet.OptGMCP:
		s.bus.Emit(events.Event{Type: events.GmcpDisabled, Session: s.ID})
	}
	s.bus.Emit(events.Event{Type: events.OptionDisabled, Session: s.ID, Option: option})
}

func (s *Session) handleSubnegotiation(sub telnet.Subnegotiation) {
	if sub.Option == telnet.OptGMCP {
		pkg, jsonData, err := DecodeGmcp(sub.Data)
		if err != nil {
			log.Printf("[%d] bad GMCP payload: %v", s.ID, err)
			return
		}
		if s.Mud.DebugGmcp {
			s.Output.Add(DebugOutput(fmt.Sprintf("GMCP %s %s", pkg, jsonData)))
		}
		s.bus.Emit(events.Event{
			Type:    events.GmcpMessage,
			Session: s.ID,
			Package: pkg,
			JSON:    jsonData,
		})
		return
	}
	s.bus.Emit(events.Event{
		Type:    events.Subnegotiation,
		Session: s.ID,
		Option:  sub.Option,
		Data:    sub.Data,
	})
}

// GmcpRegister announces interest in a GMCP package, queueing the
// registration if GMCP is not negotiated yet.
func (s *Session) GmcpRegister(pkg string) error {
	if s.gmcpPackages[pkg] {
		return nil
	}
	s.gmcpPackages[pkg] = true
	if s.status == StatusConnected && s.table.Enabled(telnet.OptGMCP) {
		s.handle.send(telnet.EncodeSubnegotiation(gmcpSupportsAdd(pkg)))
	}
	return nil
}

// GmcpUnregister retracts interest in a GMCP package.
func (s *Session) GmcpUnregister(pkg string) error {
	if !s.gmcpPackages[pkg] {
		return nil
	}
	delete(s.gmcpPackages, pkg)
	if s.status == StatusConnected && s.table.Enabled(telnet.OptGMCP) {
		s.handle.send(telnet.EncodeSubnegotiation(gmcpSupportsRemove(pkg)))
	}
	return nil
}

// GmcpSend transmits a GMCP message for a package.
func (s *Session) GmcpSend(pkg, jsonData string) error {
	if s.status != StatusConnected {
		return ErrNotConnected
	}
	if !s.table.Enabled(telnet.OptGMCP) {
		return ErrGmcpDisabled
	}
	s.handle.send(telnet.EncodeSubnegotiation(EncodeGmcp(pkg, jsonData)))
	return nil
}

// GmcpPackages returns the registered package names.
func (s *Session) GmcpPackages() []string {
	out := make([]string, 0, len(s.gmcpPackages))
	for pkg := range s.gmcpPackages {
		out = append(out, pkg)
	}
	return out
}

// AddTrigger compiles and registers a trigger, returning it with its
// session-scoped ID.
func (s *Session) AddTrigger(cfg TriggerConfig) (*Trigger, error) {
	s.nextTriggerID++
	t, err := newTrigger(s.nextTriggerID, cfg)
	if err != nil {
		s.nextTriggerID--
		return nil, err
	}
	s.triggers = append(s.triggers, t)
	return t, nil
}

// Trigger returns a registered trigger by ID.
func (s *Session) Trigger(id int) (*Trigger, error) {
	for _, t := range s.triggers {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, &NotFoundError{Kind: "trigger", ID: id}
}

// RemoveTrigger destroys a trigger.
func (s *Session) RemoveTrigger(id int) error {
	for i, t := range s.triggers {
		if t.ID == id {
			s.triggers = append(s.triggers[:i], s.triggers[i+1:]...)
			return nil
		}
	}
	return &NotFoundError{Kind: "trigger", ID: id}
}

// Triggers returns the registered triggers in registration order.
func (s *Session) Triggers() []*Trigger {
	return s.triggers
}

// AddAlias compiles and registers an alias.
func (s *Session) AddAlias(cfg AliasConfig) (*Alias, error) {
	s.nextAliasID++
	a, err := newAlias(s.nextAliasID, cfg)
	if err != nil {
		s.nextAliasID--
		return nil, err
	}
	s.aliases = append(s.aliases, a)
	return a, nil
}

// Alias returns a registered alias by ID.
func (s *Session) Alias(id int) (*Alias, error) {
	for _, a := range s.aliases {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, &NotFoundError{Kind: "alias", ID: id}
}

// RemoveAlias destroys an alias.
func (s *Session) RemoveAlias(id int) error {
	for i, a := range s.aliases {
		if a.ID == id {
			s.aliases = append(s.aliases[:i], s.aliases[i+1:]...)
			return nil
		}
	}
	return &NotFoundError{Kind: "alias", ID: id}
}

// Aliases returns the registered aliases in registration order.
func (s *Session) Aliases() []*Alias {
	return s.aliases
}

// Unload removes every trigger and alias tagged with the given module,
// returning how many objects were purged.
func (s *Session) Unload(module string) int {
	removed := 0
	keptT := s.triggers[:0]
	for _, t := range s.triggers {
		if t.Config.Module == module {
			removed++
			continue
		}
		keptT = append(keptT, t)
	}
	s.triggers = keptT

	keptA := s.aliases[:0]
	for _, a := range s.aliases {
		if a.Config.Module == module {
			removed++
			continue
		}
		keptA = append(keptA, a)
	}
	s.aliases = keptA
	return removed
}

// Close releases the session's resources. The client calls this when the
// session is destroyed and at engine teardown.
func (s *Session) Close() {
	if s.status != StatusDisconnected {
		s.handle.disconnect()
		s.status = StatusDisconnected
	}
	s.stopFlusher()
}
