package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"tvremote/crypto"
)

func mustIdentity(t *testing.T, name string) *crypto.Identity {
	t.Helper()

	id, err := crypto.GenerateIdentity(name)
	if err != nil {
		t.Fatalf("GenerateIdentity %q failed: %v", name, err)
	}
	return id
}

func poolOf(certs ...*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return pool
}

func startEchoServer(t *testing.T, config *tls.Config) *Server {
	t.Helper()

	return startEchoServerWithErrors(t, config, nil)
}

func startEchoServerWithErrors(t *testing.T, config *tls.Config, onError func(error)) *Server {
	t.Helper()

	server, err := Listen("127.0.0.1:0", ServerOptions{TLSConfig: config, HandshakeTimeout: 2 * time.Second, OnError: onError}, func(ctx context.Context, conn *tls.Conn) {
		payload, err := ReadFrameWithTimeout(conn, 2*time.Second)
		if err != nil {
			return
		}
		_ = WriteFrame(conn, payload)
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Close()
	})
	return server
}

func TestDialCommandSucceedsWithMutualTrust(t *testing.T) {
	client := mustIdentity(t, "client")
	device := mustIdentity(t, "device")

	server := startEchoServer(t, ServerConfig(device.TLSCertificate(), func() *x509.CertPool {
		return poolOf(client.Certificate)
	}))

	conn, err := DialCommand(context.Background(), server.Addr().String(), DialOptions{
		Certificate: client.TLSCertificate(),
		Roots:       poolOf(device.Certificate),
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("DialCommand failed: %v", err)
	}
	defer conn.Close()

	if conn.ConnectionState().Version != tls.VersionTLS12 {
		t.Fatalf("expected TLS 1.2, got %x", conn.ConnectionState().Version)
	}
	peer, err := PeerCertificate(conn)
	if err != nil {
		t.Fatalf("PeerCertificate failed: %v", err)
	}
	if !peer.Equal(device.Certificate) {
		t.Fatalf("unexpected peer certificate")
	}

	if err := WriteFrame(conn, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	echo, err := ReadFrameWithTimeout(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(echo) != "hello" {
		t.Fatalf("unexpected echo %q", echo)
	}
}

func TestDialCommandUntrustedServerNeedsPairing(t *testing.T) {
	client := mustIdentity(t, "client")
	device := mustIdentity(t, "device")
	stranger := mustIdentity(t, "stranger")

	server := startEchoServer(t, ServerConfig(device.TLSCertificate(), func() *x509.CertPool {
		return poolOf(client.Certificate)
	}))

	_, err := DialCommand(context.Background(), server.Addr().String(), DialOptions{
		Certificate: client.TLSCertificate(),
		Roots:       poolOf(stranger.Certificate),
		DialTimeout: 2 * time.Second,
	})
	if !NeedsPairing(err) {
		t.Fatalf("expected NeedsPairing classification, got %v", err)
	}
}

func TestDialCommandRejectedClientNeedsPairing(t *testing.T) {
	client := mustIdentity(t, "client")
	device := mustIdentity(t, "device")
	stranger := mustIdentity(t, "stranger")

	serverErrs := make(chan error, 4)
	server := startEchoServerWithErrors(t, ServerConfig(device.TLSCertificate(), func() *x509.CertPool {
		return poolOf(stranger.Certificate)
	}), func(err error) {
		serverErrs <- err
	})

	_, err := DialCommand(context.Background(), server.Addr().String(), DialOptions{
		Certificate: client.TLSCertificate(),
		Roots:       poolOf(device.Certificate),
		DialTimeout: 2 * time.Second,
	})
	if !NeedsPairing(err) {
		t.Fatalf("expected server-side rejection to classify as NeedsPairing, got %v", err)
	}

	select {
	case serverErr := <-serverErrs:
		if !strings.Contains(serverErr.Error(), "tls handshake") {
			t.Fatalf("expected handshake error on the server, got %v", serverErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not report the rejected handshake")
	}
}

func TestDialCommandConnectionRefusedIsGeneric(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	address := listener.Addr().String()
	_ = listener.Close()

	client := mustIdentity(t, "client")
	_, err = DialCommand(context.Background(), address, DialOptions{
		Certificate: client.TLSCertificate(),
		Roots:       poolOf(client.Certificate),
		DialTimeout: time.Second,
	})
	var handshakeErr *HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected HandshakeError, got %v", err)
	}
	if handshakeErr.Kind != HandshakeGeneric {
		t.Fatalf("expected generic classification, got %s", handshakeErr.Kind)
	}
}

func TestDialPairingAcceptsUntrustedServer(t *testing.T) {
	client := mustIdentity(t, "client")
	device := mustIdentity(t, "device")

	seenClient := make(chan *x509.Certificate, 1)
	server, err := Listen("127.0.0.1:0", ServerOptions{TLSConfig: ServerConfig(device.TLSCertificate(), nil)}, func(ctx context.Context, conn *tls.Conn) {
		cert, err := PeerCertificate(conn)
		if err == nil {
			seenClient <- cert
		}
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	conn, err := DialPairing(context.Background(), server.Addr().String(), DialOptions{
		Certificate: client.TLSCertificate(),
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("DialPairing failed: %v", err)
	}
	defer conn.Close()

	select {
	case cert := <-seenClient:
		if !cert.Equal(client.Certificate) {
			t.Fatalf("server saw unexpected client certificate")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not observe client certificate")
	}
}

func TestClassifyHandshakeError(t *testing.T) {
	remoteAlert := &net.OpError{Op: "remote error", Err: errors.New("tls: bad certificate")}
	cases := []struct {
		err  error
		want HandshakeKind
	}{
		{err: fmt.Errorf("dial: %w", x509.UnknownAuthorityError{}), want: HandshakeNeedsPairing},
		{err: fmt.Errorf("dial: %w", remoteAlert), want: HandshakeNeedsPairing},
		{err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: HandshakeGeneric},
		{err: context.DeadlineExceeded, want: HandshakeGeneric},
	}

	for _, tc := range cases {
		if got := ClassifyHandshakeError(tc.err).Kind; got != tc.want {
			t.Fatalf("classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if ClassifyHandshakeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
