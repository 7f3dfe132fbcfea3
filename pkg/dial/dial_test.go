package dial

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/mudpuppy/mudpuppy/pkg/config"
)

func listenTCP(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestConnectPlainTCP(t *testing.T) {
	ln, port := listenTCP(t)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	mud := &config.Mud{Name: "t", Host: "127.0.0.1", Port: port, TLS: config.TlsDisabled}
	conn, info, err := Connect(context.Background(), mud)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if info.TLS {
		t.Error("plain connection should not report TLS")
	}
	if info.Addr == "" {
		t.Error("missing peer address")
	}
}

func TestConnectLocalhostFallsBackAcrossFamilies(t *testing.T) {
	// "localhost" usually resolves to both ::1 and 127.0.0.1. Listening
	// only on IPv4 forces the race to settle on the fallback candidate.
	ln, port := listenTCP(t)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	mud := &config.Mud{Name: "t", Host: "localhost", Port: port, TLS: config.TlsDisabled}
	conn, _, err := Connect(context.Background(), mud)
	if err != nil {
		t.Fatalf("dual-stack connect failed: %v", err)
	}
	conn.Close()
}

func TestConnectRefused(t *testing.T) {
	ln, port := listenTCP(t)
	ln.Close()

	mud := &config.Mud{Name: "t", Host: "127.0.0.1", Port: port, TLS: config.TlsDisabled}
	_, _, err := Connect(context.Background(), mud)
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectError", err)
	}
}

func TestResolveError(t *testing.T) {
	mud := &config.Mud{Name: "t", Host: "host.invalid", Port: 23, TLS: config.TlsDisabled}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _, err := Connect(ctx, mud)
	var resolveErr *ResolveError
	if !errors.As(err, &resolveErr) {
		t.Fatalf("err = %v, want ResolveError", err)
	}
}

// selfSignedTLSListener serves TLS with a throwaway self-signed cert.
func selfSignedTLSListener(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	inner, port := listenTCP(t)
	ln := tls.NewListener(inner, &tls.Config{Certificates: []tls.Certificate{cert}})
	return ln, port
}

func TestConnectTLSVerifySkipped(t *testing.T) {
	ln, port := selfSignedTLSListener(t)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				// Drive the handshake by reading.
				buf := make([]byte, 1)
				c.Read(buf)
				c.Close()
			}(conn)
		}
	}()

	mud := &config.Mud{Name: "t", Host: "127.0.0.1", Port: port, TLS: config.TlsVerifySkipped}
	conn, info, err := Connect(context.Background(), mud)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if !info.TLS || !info.VerifySkipped {
		t.Errorf("info = %+v, want TLS with verification skipped", info)
	}
	if info.Protocol == "" || info.CipherSuite == "" {
		t.Errorf("missing TLS details: %+v", info)
	}
}

func TestConnectTLSRejectsUntrustedCert(t *testing.T) {
	ln, port := selfSignedTLSListener(t)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 1)
				c.Read(buf)
				c.Close()
			}(conn)
		}
	}()

	mud := &config.Mud{Name: "t", Host: "127.0.0.1", Port: port, TLS: config.TlsEnabled}
	_, _, err := Connect(context.Background(), mud)
	var tlsErr *TlsError
	if !errors.As(err, &tlsErr) {
		t.Fatalf("err = %v, want TlsError for self-signed cert", err)
	}
}

func TestSortCandidatesInterleaves(t *testing.T) {
	addrs := []net.IPAddr{
		{IP: net.ParseIP("192.0.2.1")},
		{IP: net.ParseIP("2001:db8::1")},
		{IP: net.ParseIP("192.0.2.2")},
		{IP: net.ParseIP("2001:db8::2")},
	}
	got := sortCandidates(addrs)
	if len(got) != 4 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].To4() != nil {
		t.Errorf("first candidate should be IPv6, got %s", got[0])
	}
	if got[1].To4() == nil {
		t.Errorf("second candidate should be IPv4, got %s", got[1])
	}
}

func TestStreamInfoString(t *testing.T) {
	plain := StreamInfo{Addr: "192.0.2.1:4000"}
	if got := plain.String(); got != "telnet://192.0.2.1:4000" {
		t.Errorf("plain = %q", got)
	}
	secure := StreamInfo{
		Addr: "192.0.2.1:4000", TLS: true,
		Protocol: "TLS 1.3", CipherSuite: "TLS_AES_128_GCM_SHA256",
		VerifySkipped: true,
	}
	want := "tls://192.0.2.1:4000 (TLS 1.3 TLS_AES_128_GCM_SHA256 !verify-skipped!)"
	if got := secure.String(); got != want {
		t.Errorf("secure = %q, want %q", got, want)
	}
}
