package remote

import (
	"tvremote/network"
)

// DataTypeString marks free text sent with Data.
const DataTypeString = "com.google.tv.string"

// KeyAction is the direction of a key event.
type KeyAction int32

const (
	ActionDown KeyAction = KeyAction(network.ActionDown)
	ActionUp   KeyAction = KeyAction(network.ActionUp)
)

func (a KeyAction) String() string {
	if a == ActionUp {
		return "up"
	}
	return "down"
}

// Command is one instruction for the television. The set of implementations is closed.
type Command interface {
	requests() []network.Request
}

// KeyEvent sends a single key transition.
type KeyEvent struct {
	Code   Keycode
	Action KeyAction
}

// KeyPress sends key-down followed by key-up.
type KeyPress struct {
	Code Keycode
}

// Click presses or releases the pointer button.
type Click struct {
	Action KeyAction
}

// MouseMove moves the pointer by a relative offset.
type MouseMove struct {
	DeltaX int32
	DeltaY int32
}

// MouseWheel scrolls by a relative offset.
type MouseWheel struct {
	DeltaX int32
	DeltaY int32
}

// Data sends typed free-form data.
type Data struct {
	Type    string
	Payload string
}

// Fling asks the television to open a URI or intent.
type Fling struct {
	URI string
}

// Ping is a liveness heartbeat; the television answers with an ack.
type Ping struct{}

// Connect is the hello that opens every command channel.
type Connect struct {
	DeviceName  string
	VersionCode int32
}

func (c KeyEvent) requests() []network.Request {
	return []network.Request{keyRequest(c.Code, c.Action)}
}

func (c KeyPress) requests() []network.Request {
	return []network.Request{keyRequest(c.Code, ActionDown), keyRequest(c.Code, ActionUp)}
}

func (c Click) requests() []network.Request {
	return []network.Request{keyRequest(KeyMouseButton, c.Action)}
}

func (c MouseMove) requests() []network.Request {
	return []network.Request{{Kind: network.RequestMouseMove, DeltaX: c.DeltaX, DeltaY: c.DeltaY}}
}

func (c MouseWheel) requests() []network.Request {
	return []network.Request{{Kind: network.RequestMouseWheel, DeltaX: c.DeltaX, DeltaY: c.DeltaY}}
}

func (c Data) requests() []network.Request {
	dataType := c.Type
	if dataType == "" {
		dataType = DataTypeString
	}
	return []network.Request{{Kind: network.RequestData, DataType: dataType, Data: c.Payload}}
}

func (c Fling) requests() []network.Request {
	return []network.Request{{Kind: network.RequestFling, URI: c.URI}}
}

func (Ping) requests() []network.Request {
	return []network.Request{{Kind: network.RequestPing}}
}

func (c Connect) requests() []network.Request {
	return []network.Request{{Kind: network.RequestConnect, DeviceName: c.DeviceName, VersionCode: c.VersionCode}}
}

func keyRequest(code Keycode, action KeyAction) network.Request {
	return network.Request{Kind: network.RequestKeyEvent, Keycode: int32(code), Action: int32(action)}
}
