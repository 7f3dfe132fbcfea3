// Package dial opens the TCP (and optionally TLS) stream to a MUD server.
// Host resolution races IPv6 and IPv4 candidates per RFC 8305 so a broken
// address family only costs the stagger delay, not a full timeout.
package dial

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/mudpuppy/mudpuppy/pkg/config"
)

const (
	// Delay between starting dial attempts to successive candidates.
	attemptStagger = 250 * time.Millisecond

	// Overall budget for the whole connect, resolution included.
	connectTimeout = 30 * time.Second
)

// ResolveError reports a failed host lookup.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ConnectError reports that every dial attempt failed.
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TlsError reports a failed TLS handshake or certificate validation.
type TlsError struct {
	Host string
	Err  error
}

func (e *TlsError) Error() string {
	return fmt.Sprintf("TLS handshake with %s: %v", e.Host, e.Err)
}

func (e *TlsError) Unwrap() error { return e.Err }

// Connect resolves and dials the MUD described by mud, upgrading to TLS when
// requested. The returned StreamInfo describes the winning connection.
func Connect(ctx context.Context, mud *config.Mud) (net.Conn, StreamInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := dialRaced(ctx, mud.Host, mud.Port)
	if err != nil {
		return nil, StreamInfo{}, err
	}

	if !mud.NoTCPKeepalive {
		configureKeepalive(conn)
	}

	info := StreamInfo{Addr: conn.RemoteAddr().String()}

	switch mud.TLS {
	case config.TlsDisabled:
		return conn, info, nil
	case config.TlsEnabled, config.TlsVerifySkipped:
		tlsConn, tlsInfo, err := upgradeTLS(ctx, conn, mud)
		if err != nil {
			conn.Close()
			return nil, StreamInfo{}, err
		}
		tlsInfo.Addr = info.Addr
		return tlsConn, tlsInfo, nil
	}
	conn.Close()
	return nil, StreamInfo{}, fmt.Errorf("unknown TLS mode %q", mud.TLS)
}

// dialRaced resolves the host and races staggered dials across the candidate
// addresses, IPv6 first, interleaved with IPv4. The first established
// connection wins; the rest are cancelled.
func dialRaced(ctx context.Context, host string, port uint16) (net.Conn, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &ResolveError{Host: host, Err: err}
	}
	candidates := sortCandidates(addrs)
	if len(candidates) == 0 {
		return nil, &ResolveError{Host: host, Err: fmt.Errorf("no addresses")}
	}

	type result struct {
		conn net.Conn
		err  error
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(candidates))
	started := 0

	startNext := func() {
		if started >= len(candidates) {
			return
		}
		addr := net.JoinHostPort(candidates[started].String(), strconv.Itoa(int(port)))
		started++
		go func() {
			var d net.Dialer
			conn, err := d.DialContext(dialCtx, "tcp", addr)
			results <- result{conn: conn, err: err}
		}()
	}

	startNext()
	stagger := time.NewTimer(attemptStagger)
	defer stagger.Stop()

	var firstErr error
	finished := 0
	for {
		select {
		case res := <-results:
			finished++
			if res.err == nil {
				// Winner. Cancel the losers; their sockets close via context.
				cancel()
				losers := started - finished
				go func() {
					for i := 0; i < losers; i++ {
						if r := <-results; r.conn != nil {
							r.conn.Close()
						}
					}
				}()
				return res.conn, nil
			}
			if firstErr == nil && dialCtx.Err() == nil {
				firstErr = res.err
			}
			if finished == len(candidates) {
				return nil, &ConnectError{Host: host, Err: firstErr}
			}
			// A failure frees the stagger budget immediately.
			startNext()
		case <-stagger.C:
			startNext()
			if started < len(candidates) {
				stagger.Reset(attemptStagger)
			}
		case <-ctx.Done():
			return nil, &ConnectError{Host: host, Err: ctx.Err()}
		}
	}
}

// sortCandidates interleaves IPv6 and IPv4 addresses, IPv6 first.
func sortCandidates(addrs []net.IPAddr) []net.IP {
	var v6, v4 []net.IP
	for _, a := range addrs {
		if a.IP.To4() != nil {
			v4 = append(v4, a.IP)
		} else {
			v6 = append(v6, a.IP)
		}
	}
	out := make([]net.IP, 0, len(v6)+len(v4))
	for i := 0; i < len(v6) || i < len(v4); i++ {
		if i < len(v6) {
			out = append(out, v6[i])
		}
		if i < len(v4) {
			out = append(out, v4[i])
		}
	}
	return out
}

// configureKeepalive enables aggressive-ish TCP keepalives, loosely modelled
// on what established MUD clients use.
func configureKeepalive(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	err := tcp.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     30 * time.Second,
		Interval: 5 * time.Second,
		Count:    5,
	})
	if err != nil {
		log.Printf("keepalive config failed: %v", err)
	}
}

func upgradeTLS(ctx context.Context, conn net.Conn, mud *config.Mud) (net.Conn, StreamInfo, error) {
	cfg := &tls.Config{
		ServerName:         mud.Host,
		InsecureSkipVerify: mud.TLS == config.TlsVerifySkipped,
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, StreamInfo{}, &TlsError{Host: mud.Host, Err: err}
	}

	state := tlsConn.ConnectionState()
	info := StreamInfo{
		TLS:           true,
		Protocol:      tls.VersionName(state.Version),
		CipherSuite:   tls.CipherSuiteName(state.CipherSuite),
		VerifySkipped: mud.TLS == config.TlsVerifySkipped,
	}
	return tlsConn, info, nil
}
