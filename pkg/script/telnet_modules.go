package script

import (
	"bytes"
	"log"

	"github.com/mudpuppy/mudpuppy/pkg/events"
	"github.com/mudpuppy/mudpuppy/pkg/telnet"
)

// The terminal-type and charset responders ship as ordinary script modules:
// they exercise the same registration surface user code does and get purged
// and re-imported on reload like everything else.

// TType subnegotiation commands (RFC 1091).
const (
	ttypeIs   byte = 0
	ttypeSend byte = 1
)

// TTypeModule answers TTYPE SEND subnegotiations with the client name.
type TTypeModule struct{}

func (TTypeModule) Name() string { return "mudpuppy.ttype" }

func (m TTypeModule) Load(api API) error {
	api.Subscribe(events.Subnegotiation, func(ev events.Event) {
		if ev.Option != telnet.OptTType {
			return
		}
		if len(ev.Data) == 0 || ev.Data[0] != ttypeSend {
			return
		}
		reply := append([]byte{ttypeIs}, []byte("mudpuppy")...)
		if err := api.SendSubnegotiation(ev.Session, telnet.OptTType, reply); err != nil {
			log.Printf("[%d] ttype reply: %v", ev.Session, err)
		}
	})
	return nil
}

// Charset subnegotiation commands (RFC 2066).
const (
	charsetRequest  byte = 1
	charsetAccepted byte = 2
	charsetRejected byte = 3
)

// CharsetModule negotiates UTF-8 when the server offers it.
type CharsetModule struct{}

func (CharsetModule) Name() string { return "mudpuppy.charset" }

func (m CharsetModule) Load(api API) error {
	api.Subscribe(events.Subnegotiation, func(ev events.Event) {
		if ev.Option != telnet.OptCharset {
			return
		}
		if len(ev.Data) < 2 || ev.Data[0] != charsetRequest {
			return
		}
		// REQUEST <sep> <charset> [<sep> <charset> ...]
		sep := ev.Data[1]
		offered := bytes.Split(ev.Data[2:], []byte{sep})
		reply := []byte{charsetRejected}
		for _, cs := range offered {
			if bytes.EqualFold(cs, []byte("UTF-8")) {
				reply = append([]byte{charsetAccepted}, []byte("UTF-8")...)
				break
			}
		}
		if err := api.SendSubnegotiation(ev.Session, telnet.OptCharset, reply); err != nil {
			log.Printf("[%d] charset reply: %v", ev.Session, err)
		}
	})
	return nil
}
