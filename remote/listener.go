package remote

import (
	"tvremote/pairing"
)

// Listener receives connection lifecycle notifications. Callbacks run on
// supervisor goroutines and must not block.
type Listener interface {
	OnConnected(session *Session)
	OnDisconnected()
	OnConnectionFailed()
	// OnPairingCodeRequired asks the user for the code shown on the television.
	OnPairingCodeRequired(responder pairing.SecretResponder)
}

type registration struct {
	id       uint64
	listener Listener
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Connected           func(session *Session)
	Disconnected        func()
	ConnectionFailed    func()
	PairingCodeRequired func(responder pairing.SecretResponder)
}

func (l ListenerFuncs) OnConnected(session *Session) {
	if l.Connected != nil {
		l.Connected(session)
	}
}

func (l ListenerFuncs) OnDisconnected() {
	if l.Disconnected != nil {
		l.Disconnected()
	}
}

func (l ListenerFuncs) OnConnectionFailed() {
	if l.ConnectionFailed != nil {
		l.ConnectionFailed()
	}
}

func (l ListenerFuncs) OnPairingCodeRequired(responder pairing.SecretResponder) {
	if l.PairingCodeRequired != nil {
		l.PairingCodeRequired(responder)
	}
}
