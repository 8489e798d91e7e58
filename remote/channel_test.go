package remote

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tvremote/network"
)

func TestChannelSendsHelloThenCommandsInOrder(t *testing.T) {
	client, tv := newFakeTelevision(t, true)
	ch := NewChannel(client, ChannelOptions{ClientName: "Couch"})
	defer ch.Disconnect()

	hello := tv.next(t)
	if hello.Kind != network.RequestConnect || hello.DeviceName != "Couch" || hello.VersionCode != DefaultVersionCode {
		t.Fatalf("unexpected hello %+v", hello)
	}

	commands := []Command{
		KeyEvent{Code: KeyDpadUp, Action: ActionDown},
		MouseMove{DeltaX: 5, DeltaY: -3},
		Data{Payload: "hello"},
		Fling{URI: "https://example.com"},
	}
	for _, cmd := range commands {
		if err := ch.Send(cmd); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	wantKinds := []string{network.RequestKeyEvent, network.RequestMouseMove, network.RequestData, network.RequestFling}
	last := hello.Sequence
	for i, want := range wantKinds {
		got := tv.next(t)
		if got.Kind != want {
			t.Fatalf("command %d: expected %q, got %q", i, want, got.Kind)
		}
		if got.Sequence <= last {
			t.Fatalf("command %d: sequence %d not after %d", i, got.Sequence, last)
		}
		last = got.Sequence
	}
}

func TestChannelKeyPressSendsDownThenUp(t *testing.T) {
	client, tv := newFakeTelevision(t, true)
	ch := NewChannel(client, ChannelOptions{})
	defer ch.Disconnect()
	tv.next(t)

	session := newSession(testDevice, ch)
	if err := session.SendKeyPress(KeyHome); err != nil {
		t.Fatalf("SendKeyPress failed: %v", err)
	}

	down, up := tv.next(t), tv.next(t)
	if down.Keycode != int32(KeyHome) || down.Action != network.ActionDown {
		t.Fatalf("expected HOME down, got %+v", down)
	}
	if up.Keycode != int32(KeyHome) || up.Action != network.ActionUp {
		t.Fatalf("expected HOME up, got %+v", up)
	}
}

func TestChannelDisconnectIsIdempotent(t *testing.T) {
	client, _ := newFakeTelevision(t, true)

	var lost atomic.Int32
	ch := NewChannel(client, ChannelOptions{OnLost: func(error) { lost.Add(1) }})

	if !ch.Disconnect() {
		t.Fatalf("expected first Disconnect to tear down")
	}
	if ch.Disconnect() {
		t.Fatalf("expected second Disconnect to report nothing torn down")
	}
	if err := ch.Send(Ping{}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}

	ch.Wait()
	if lost.Load() != 0 {
		t.Fatalf("user disconnect must not report a lost connection")
	}
}

func TestChannelReportsTransportLossOnce(t *testing.T) {
	client, tv := newFakeTelevision(t, true)

	lostErrs := make(chan error, 4)
	ch := NewChannel(client, ChannelOptions{OnLost: func(err error) { lostErrs <- err }})
	tv.next(t)

	_ = tv.conn.Close()
	_ = ch.Send(KeyPress{Code: KeyBack})

	waitFor(t, lostErrs, "lost connection")
	waitFor(t, ch.Done(), "channel teardown")
	ch.Wait()

	select {
	case err := <-lostErrs:
		t.Fatalf("lost connection reported twice, second error %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if ch.Disconnect() {
		t.Fatalf("expected channel to be torn down already")
	}
}

func TestChannelLivenessTimeoutClosesChannel(t *testing.T) {
	client, _ := newFakeTelevision(t, false)

	immediate := func(time.Duration) <-chan time.Time {
		fired := make(chan time.Time, 1)
		fired <- time.Now()
		return fired
	}

	lostErrs := make(chan error, 4)
	ch := NewChannel(client, ChannelOptions{
		Liveness: LivenessOptions{MaxLostAcks: 3, after: immediate},
		OnLost:   func(err error) { lostErrs <- err },
	})

	err := waitFor(t, lostErrs, "liveness timeout")
	if !errors.Is(err, ErrLivenessTimeout) {
		t.Fatalf("expected ErrLivenessTimeout, got %v", err)
	}
	waitFor(t, ch.Done(), "channel teardown")
}

func TestChannelDispatchesInboundEvents(t *testing.T) {
	client, tv := newFakeTelevision(t, true)

	type datum struct{ dataType, data string }
	received := make(chan datum, 1)
	versions := make(chan int32, 1)
	ch := NewChannel(client, ChannelOptions{
		OnData:            func(dataType, data string) { received <- datum{dataType, data} },
		OnConnectResponse: func(version int32) { versions <- version },
	})
	defer ch.Disconnect()
	tv.next(t)

	if err := tv.respond(network.Response{Kind: network.ResponseConnectResponse, Version: 7}); err != nil {
		t.Fatalf("respond connect failed: %v", err)
	}
	if err := tv.respond(network.Response{Kind: network.ResponseData, DataType: DataTypeString, Data: "now playing"}); err != nil {
		t.Fatalf("respond data failed: %v", err)
	}

	if got := waitFor(t, versions, "connect response"); got != 7 {
		t.Fatalf("expected version 7, got %d", got)
	}
	if got := waitFor(t, received, "data"); got.data != "now playing" || got.dataType != DataTypeString {
		t.Fatalf("unexpected data %+v", got)
	}
}

func TestChannelFlushWaitsForQueuedCommands(t *testing.T) {
	client, tv := newFakeTelevision(t, true)
	ch := NewChannel(client, ChannelOptions{})
	defer ch.Disconnect()

	for i := 0; i < 5; i++ {
		if err := ch.Send(MouseWheel{DeltaY: int32(i)}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := ch.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	tv.next(t)
	for i := 0; i < 5; i++ {
		if got := tv.next(t); got.Kind != network.RequestMouseWheel || got.DeltaY != int32(i) {
			t.Fatalf("wheel %d: unexpected request %+v", i, got)
		}
	}

	ch.Disconnect()
	if err := ch.Flush(ctx); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed after disconnect, got %v", err)
	}
}
