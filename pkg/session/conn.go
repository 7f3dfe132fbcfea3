package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/mudpuppy/mudpuppy/pkg/config"
	"github.com/mudpuppy/mudpuppy/pkg/dial"
	"github.com/mudpuppy/mudpuppy/pkg/telnet"
)

// ConnEventKind classifies connection actor events.
type ConnEventKind int

const (
	ConnConnected ConnEventKind = iota
	ConnDisconnected
	ConnError
	ConnItem
	ConnPartial
)

// ConnEvent is one event from a connection actor, delivered on the shared
// channel the engine loop consumes.
type ConnEvent struct {
	Session int
	Kind    ConnEventKind
	Info    dial.StreamInfo // ConnConnected
	Err     error           // ConnError
	Item    telnet.Item     // ConnItem
	Partial []byte          // ConnPartial: flushed partial line content
}

type connActionKind int

const (
	actionSend connActionKind = iota
	actionFlush
	actionDisconnect
)

type connAction struct {
	kind connActionKind
	data []byte
}

// connHandle addresses a running connection actor.
type connHandle struct {
	session int
	actions chan connAction
}

func (h *connHandle) send(data []byte) {
	select {
	case h.actions <- connAction{kind: actionSend, data: data}:
	default:
		// The actor died or is hopelessly backlogged; the disconnect event
		// is already in flight. Never block the engine on a dead socket.
		log.Printf("[%d] dropping %d byte write to stalled connection", h.session, len(data))
	}
}

func (h *connHandle) flush() {
	select {
	case h.actions <- connAction{kind: actionFlush}:
	default:
	}
}

func (h *connHandle) disconnect() {
	select {
	case h.actions <- connAction{kind: actionDisconnect}:
	default:
		// The actor is already draining; disconnect is implied.
	}
}

// startConn dials the MUD and runs the connection actor: a reader goroutine
// feeding raw chunks to an I/O loop that owns the telnet codec and the
// socket writes. All outcomes surface as ConnEvents.
func startConn(ctx context.Context, id int, mud *config.Mud, events chan<- ConnEvent) *connHandle {
	h := &connHandle{session: id, actions: make(chan connAction, 256)}
	go func() {
		conn, info, err := dial.Connect(ctx, mud)
		if err != nil {
			events <- ConnEvent{Session: id, Kind: ConnError, Err: err}
			return
		}
		events <- ConnEvent{Session: id, Kind: ConnConnected, Info: info}
		ioLoop(id, conn, h.actions, events)
	}()
	return h
}

func ioLoop(id int, conn net.Conn, actions <-chan connAction, events chan<- ConnEvent) {
	defer conn.Close()

	reads := make(chan []byte, 16)
	readErr := make(chan error, 1)
	// Closing conn unblocks the reader; draining lets it exit.
	defer func() {
		go func() {
			for range reads {
			}
		}()
	}()
	go func() {
		for {
			buf := make([]byte, 4096)
			n, err := conn.Read(buf)
			if n > 0 {
				reads <- buf[:n]
			}
			if err != nil {
				readErr <- err
				close(reads)
				return
			}
		}
	}()

	codec := &telnet.Codec{}
	for {
		select {
		case chunk, ok := <-reads:
			if !ok {
				err := <-readErr
				if isClosedErr(err) {
					events <- ConnEvent{Session: id, Kind: ConnDisconnected}
				} else {
					events <- ConnEvent{Session: id, Kind: ConnError, Err: err}
				}
				return
			}
			items, err := codec.Decode(chunk)
			for _, item := range items {
				events <- ConnEvent{Session: id, Kind: ConnItem, Item: item}
			}
			if err != nil {
				log.Printf("[%d] codec error: %v", id, err)
				events <- ConnEvent{Session: id, Kind: ConnError, Err: err}
				return
			}
		case action := <-actions:
			switch action.kind {
			case actionSend:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if _, err := conn.Write(action.data); err != nil {
					events <- ConnEvent{Session: id, Kind: ConnError, Err: err}
					return
				}
			case actionFlush:
				if partial := codec.Partial(); partial != nil {
					events <- ConnEvent{Session: id, Kind: ConnPartial, Partial: partial}
				}
			case actionDisconnect:
				events <- ConnEvent{Session: id, Kind: ConnDisconnected}
				return
			}
		}
	}
}

func isClosedErr(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
