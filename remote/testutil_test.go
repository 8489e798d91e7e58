package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tvremote/models"
	"tvremote/network"
	"tvremote/pairing"
)

const waitTimeout = 5 * time.Second

// fakeTelevision is the device end of a net.Pipe command channel.
type fakeTelevision struct {
	conn     net.Conn
	requests chan network.Request
	ackPings atomic.Bool
	writeMu  sync.Mutex
}

func newFakeTelevision(t *testing.T, ackPings bool) (net.Conn, *fakeTelevision) {
	t.Helper()

	client, device := net.Pipe()
	tv := &fakeTelevision{
		conn:     device,
		requests: make(chan network.Request, 256),
	}
	tv.ackPings.Store(ackPings)
	go tv.serve()

	t.Cleanup(func() {
		_ = device.Close()
		_ = client.Close()
	})
	return client, tv
}

func (tv *fakeTelevision) serve() {
	for {
		payload, err := network.ReadFrame(tv.conn)
		if err != nil {
			return
		}
		var request network.Request
		if err := network.CBOR.Unmarshal(payload, &request); err != nil {
			return
		}
		if request.Kind == network.RequestPing && tv.ackPings.Load() {
			if err := tv.respond(network.Response{Sequence: request.Sequence, Kind: network.ResponseAck}); err != nil {
				return
			}
		}
		select {
		case tv.requests <- request:
		default:
		}
	}
}

func (tv *fakeTelevision) respond(response network.Response) error {
	tv.writeMu.Lock()
	defer tv.writeMu.Unlock()
	return network.WriteMessage(tv.conn, network.CBOR, response)
}

// next returns the next request that is not a ping.
func (tv *fakeTelevision) next(t *testing.T) network.Request {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case request := <-tv.requests:
			if request.Kind == network.RequestPing {
				continue
			}
			return request
		case <-deadline:
			t.Fatalf("timed out waiting for a command")
			return network.Request{}
		}
	}
}

type fakeTrust struct {
	mu       sync.Mutex
	trusted  map[string]bool
	recorded int
	events   []string
}

func newFakeTrust(trusted ...string) *fakeTrust {
	ft := &fakeTrust{trusted: make(map[string]bool)}
	for _, name := range trusted {
		ft.trusted[name] = true
	}
	return ft
}

func (f *fakeTrust) KeyMaterial() (tls.Certificate, error) {
	return tls.Certificate{}, nil
}

func (f *fakeTrust) TrustMaterial() *x509.CertPool {
	return x509.NewCertPool()
}

func (f *fakeTrust) IsTrusted(deviceName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trusted[deviceName]
}

func (f *fakeTrust) RecordTrustedPeer(cert *x509.Certificate, deviceName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trusted[deviceName] = true
	f.recorded++
	return "alias-" + deviceName, nil
}

func (f *fakeTrust) LogSecurityEvent(eventType, deviceName, severity string, details map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeTrust) recordedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recorded
}

// testResponder stands in for the pairing package's responder in fake pairers.
type testResponder struct {
	once   sync.Once
	answer chan string
}

func newTestResponder() *testResponder {
	return &testResponder{answer: make(chan string, 1)}
}

func (r *testResponder) Submit(secret string) {
	r.once.Do(func() { r.answer <- secret })
}

func (r *testResponder) Cancel() {
	r.Submit("")
}

// promptingPairer asks for a code and accepts only want.
func promptingPairer(want string, calls *atomic.Int32) pairFunc {
	return func(ctx context.Context, _ models.Device, prompt pairing.SecretPrompt) (*x509.Certificate, error) {
		calls.Add(1)
		responder := newTestResponder()
		prompt(responder)

		select {
		case secret := <-responder.answer:
			if secret == "" {
				return nil, &pairing.Failure{Reason: pairing.ReasonCancelled, Err: pairing.ErrNoSecret}
			}
			if secret != want {
				return nil, &pairing.Failure{Reason: pairing.ReasonSecret, Err: pairing.ErrSecretMismatch}
			}
			return &x509.Certificate{Raw: []byte("television")}, nil
		case <-ctx.Done():
			return nil, &pairing.Failure{Reason: pairing.ReasonCancelled, Err: ctx.Err()}
		}
	}
}

var errUnreachable = errors.New("connection refused")

type recordingListener struct {
	connected    chan *Session
	disconnected chan struct{}
	failed       chan struct{}
	codes        chan pairing.SecretResponder
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		connected:    make(chan *Session, 8),
		disconnected: make(chan struct{}, 8),
		failed:       make(chan struct{}, 8),
		codes:        make(chan pairing.SecretResponder, 8),
	}
}

func (l *recordingListener) OnConnected(session *Session) { l.connected <- session }
func (l *recordingListener) OnDisconnected()              { l.disconnected <- struct{}{} }
func (l *recordingListener) OnConnectionFailed()          { l.failed <- struct{}{} }
func (l *recordingListener) OnPairingCodeRequired(responder pairing.SecretResponder) {
	l.codes <- responder
}

// quiet fails the test if any notification arrives within d.
func (l *recordingListener) quiet(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case <-l.connected:
		t.Fatalf("unexpected OnConnected")
	case <-l.disconnected:
		t.Fatalf("unexpected OnDisconnected")
	case <-l.failed:
		t.Fatalf("unexpected OnConnectionFailed")
	case <-time.After(d):
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}
