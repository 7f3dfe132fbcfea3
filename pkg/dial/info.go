package dial

import "fmt"

// StreamInfo describes an established connection stream.
type StreamInfo struct {
	Addr          string
	TLS           bool
	Protocol      string // TLS protocol version name
	CipherSuite   string
	VerifySkipped bool
}

func (i StreamInfo) String() string {
	if !i.TLS {
		return fmt.Sprintf("telnet://%s", i.Addr)
	}
	suffix := ""
	if i.VerifySkipped {
		suffix = " !verify-skipped!"
	}
	return fmt.Sprintf("tls://%s (%s %s%s)", i.Addr, i.Protocol, i.CipherSuite, suffix)
}
