package remote

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"tvremote/models"
	"tvremote/network"
	"tvremote/pairing"
)

var testDevice = models.Device{Name: "LivingRoomTV", Address: "192.0.2.10", Port: 10000}

type supervisorFixture struct {
	supervisor  *Supervisor
	listener    *recordingListener
	trust       *fakeTrust
	dials       atomic.Int32
	pairs       atomic.Int32
	dialPorts   chan int
	televisions chan *fakeTelevision
}

func newSupervisorFixture(t *testing.T, trust *fakeTrust, dialErrs []error, pair pairFunc) *supervisorFixture {
	t.Helper()

	f := &supervisorFixture{
		listener:    newRecordingListener(),
		trust:       trust,
		dialPorts:   make(chan int, 16),
		televisions: make(chan *fakeTelevision, 4),
	}
	if pair == nil {
		pair = promptingPairer("AB12", &f.pairs)
	}

	opts := SupervisorOptions{
		ClientName: "Couch",
		RetryDelay: 20 * time.Millisecond,
		pair:       pair,
		dial: func(ctx context.Context, device models.Device) (net.Conn, error) {
			n := int(f.dials.Add(1))
			f.dialPorts <- device.Port
			if n <= len(dialErrs) && dialErrs[n-1] != nil {
				return nil, dialErrs[n-1]
			}
			client, tv := newFakeTelevision(t, true)
			f.televisions <- tv
			return client, nil
		},
	}

	f.supervisor = NewSupervisor(trust, opts)
	f.supervisor.AddListener(f.listener)
	t.Cleanup(f.supervisor.Disconnect)
	return f
}

func generic(msg string) error {
	return &network.HandshakeError{Kind: network.HandshakeGeneric, Err: errors.New(msg)}
}

func needsPairing() error {
	return &network.HandshakeError{Kind: network.HandshakeNeedsPairing, Err: x509.UnknownAuthorityError{}}
}

func TestSupervisorPairsUntrustedTelevisionThenConnects(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(), nil, nil)

	if f.supervisor.Connect(testDevice) {
		t.Fatalf("expected a new attempt to start")
	}

	responder := waitFor(t, f.listener.codes, "pairing code request")
	if f.supervisor.State() != StatePairing {
		t.Fatalf("expected pairing state, got %s", f.supervisor.State())
	}
	responder.Submit("AB12")

	session := waitFor(t, f.listener.connected, "OnConnected")
	if session.Device().Name != "LivingRoomTV" {
		t.Fatalf("unexpected session device %+v", session.Device())
	}
	if port := waitFor(t, f.dialPorts, "dial"); port != 10000 {
		t.Fatalf("expected command channel on port 10000, got %d", port)
	}
	if f.pairs.Load() != 1 || f.trust.recordedCount() != 1 {
		t.Fatalf("expected one pairing and one stored certificate, got %d and %d", f.pairs.Load(), f.trust.recordedCount())
	}
	if f.supervisor.State() != StateConnected {
		t.Fatalf("expected connected state, got %s", f.supervisor.State())
	}

	if !f.supervisor.Connect(testDevice) {
		t.Fatalf("expected second Connect to report already connected")
	}
	f.listener.quiet(t, 100*time.Millisecond)
	if f.dials.Load() != 1 {
		t.Fatalf("already connected Connect must not dial again, got %d dials", f.dials.Load())
	}
}

func TestSupervisorSkipsPairingForTrustedTelevision(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(testDevice.Name), nil, nil)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.connected, "OnConnected")

	if f.pairs.Load() != 0 {
		t.Fatalf("expected no pairing for a trusted television")
	}
}

func TestSupervisorRetriesGenericHandshakeFailures(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(testDevice.Name), []error{
		generic("refused"), generic("refused"),
	}, nil)

	start := time.Now()
	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.connected, "OnConnected")

	if f.dials.Load() != 3 {
		t.Fatalf("expected 3 handshakes, got %d", f.dials.Load())
	}
	if f.supervisor.Attempt() != 3 {
		t.Fatalf("expected attempt counter 3, got %d", f.supervisor.Attempt())
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected a delay before each retry, finished in %v", elapsed)
	}
}

func TestSupervisorFailsAfterMaxAttempts(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(testDevice.Name), []error{
		generic("refused"), generic("refused"), generic("refused"), nil,
	}, nil)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.failed, "OnConnectionFailed")

	if f.dials.Load() != 3 {
		t.Fatalf("expected exactly 3 handshakes, got %d", f.dials.Load())
	}
	if f.supervisor.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", f.supervisor.State())
	}
	f.listener.quiet(t, 100*time.Millisecond)
}

func TestSupervisorRemovedListenerStopsReceivingNotifications(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(testDevice.Name), []error{
		generic("refused"), generic("refused"), generic("refused"),
	}, nil)

	kept := make(chan struct{}, 1)
	removed := make(chan struct{}, 1)
	f.supervisor.AddListener(ListenerFuncs{
		ConnectionFailed: func() { kept <- struct{}{} },
	})
	remove := f.supervisor.AddListener(ListenerFuncs{
		ConnectionFailed: func() { removed <- struct{}{} },
	})
	remove()
	remove()

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.failed, "OnConnectionFailed")
	waitFor(t, kept, "OnConnectionFailed on the kept listener")

	select {
	case <-removed:
		t.Fatalf("removed listener must not be notified")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSupervisorRepairsWhenTelevisionForgotRemote(t *testing.T) {
	trust := newFakeTrust(testDevice.Name)
	f := newSupervisorFixture(t, trust, []error{needsPairing()}, nil)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.codes, "pairing code request").Submit("AB12")
	waitFor(t, f.listener.connected, "OnConnected")

	if f.pairs.Load() != 1 {
		t.Fatalf("expected one pairing after rejection, got %d", f.pairs.Load())
	}
	if f.dials.Load() != 2 {
		t.Fatalf("expected rejected handshake plus one more, got %d", f.dials.Load())
	}

	trust.mu.Lock()
	events := append([]string(nil), trust.events...)
	trust.mu.Unlock()
	if len(events) == 0 {
		t.Fatalf("expected the rejection to be logged as a security event")
	}
}

func TestSupervisorDoesNotPairTwiceInOneAttempt(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(), []error{needsPairing(), nil}, nil)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.codes, "pairing code request").Submit("AB12")
	waitFor(t, f.listener.failed, "OnConnectionFailed")

	if f.pairs.Load() != 1 || f.dials.Load() != 1 {
		t.Fatalf("expected one pairing and one handshake, got %d and %d", f.pairs.Load(), f.dials.Load())
	}
}

func TestSupervisorFailsWhenPairingFails(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(), nil, nil)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.codes, "pairing code request").Submit("FFFF")
	waitFor(t, f.listener.failed, "OnConnectionFailed")

	if f.dials.Load() != 0 {
		t.Fatalf("no handshake may follow a failed pairing, got %d", f.dials.Load())
	}
	if f.trust.recordedCount() != 0 {
		t.Fatalf("failed pairing must not store trust")
	}
}

func TestSupervisorDismissedPromptFailsAttempt(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(), nil, nil)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.codes, "pairing code request").Cancel()
	waitFor(t, f.listener.failed, "OnConnectionFailed")
}

func TestSupervisorCancelDuringSecretWaitIsSilent(t *testing.T) {
	returned := make(chan error, 1)
	var pairs atomic.Int32
	inner := promptingPairer("AB12", &pairs)
	pair := func(ctx context.Context, device models.Device, prompt pairing.SecretPrompt) (*x509.Certificate, error) {
		cert, err := inner(ctx, device, prompt)
		returned <- err
		return cert, err
	}
	f := newSupervisorFixture(t, newFakeTrust(), nil, pair)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.codes, "pairing code request")
	f.supervisor.Cancel()

	if err := waitFor(t, returned, "pairing to abort"); !pairing.IsCancelled(err) {
		t.Fatalf("expected cancelled pairing, got %v", err)
	}
	f.listener.quiet(t, 150*time.Millisecond)
	if f.supervisor.State() != StateIdle {
		t.Fatalf("expected idle state after cancel, got %s", f.supervisor.State())
	}
}

func TestSupervisorReportsLostConnection(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(testDevice.Name), nil, nil)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.connected, "OnConnected")
	tv := waitFor(t, f.televisions, "television")

	_ = tv.conn.Close()
	waitFor(t, f.listener.disconnected, "OnDisconnected")
	f.listener.quiet(t, 100*time.Millisecond)

	if f.supervisor.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", f.supervisor.State())
	}
	if f.supervisor.Session() != nil {
		t.Fatalf("expected session to be dropped")
	}
	if device, ok := f.supervisor.CurrentDevice(); !ok || !device.Equal(testDevice) {
		t.Fatalf("expected target to survive for reconnect")
	}

	if !f.supervisor.Reconnect() {
		t.Fatalf("expected Reconnect to start an attempt")
	}
	waitFor(t, f.listener.connected, "OnConnected after reconnect")
}

func TestSupervisorDisconnectNotifiesOnce(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust(testDevice.Name), nil, nil)

	f.supervisor.Connect(testDevice)
	session := waitFor(t, f.listener.connected, "OnConnected")

	f.supervisor.Disconnect()
	f.supervisor.Disconnect()
	waitFor(t, f.listener.disconnected, "OnDisconnected")
	waitFor(t, session.Done(), "session teardown")
	f.listener.quiet(t, 100*time.Millisecond)

	if err := f.supervisor.Send(KeyPress{Code: KeyHome}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSupervisorConnectSupersedesAttemptInFlight(t *testing.T) {
	f := newSupervisorFixture(t, newFakeTrust("Bedroom"), nil, nil)

	f.supervisor.Connect(testDevice)
	waitFor(t, f.listener.codes, "pairing code request")

	other := models.Device{Name: "Bedroom", Address: "192.0.2.11", Port: 9551}
	f.supervisor.Connect(other)
	session := waitFor(t, f.listener.connected, "OnConnected")
	if session.Device().Name != "Bedroom" {
		t.Fatalf("expected the newer target to win, got %s", session.Device().Name)
	}
	f.listener.quiet(t, 100*time.Millisecond)
}
