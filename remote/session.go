package remote

import (
	"context"

	"tvremote/models"
)

// Session is a live, authenticated command channel to one television.
type Session struct {
	device  models.Device
	channel *Channel
}

func newSession(device models.Device, channel *Channel) *Session {
	return &Session{device: device, channel: channel}
}

// Device returns the television this session controls.
func (s *Session) Device() models.Device {
	return s.device
}

// Send queues any command.
func (s *Session) Send(cmd Command) error {
	return s.channel.Send(cmd)
}

// SendKey sends a single key transition.
func (s *Session) SendKey(code Keycode, action KeyAction) error {
	return s.channel.Send(KeyEvent{Code: code, Action: action})
}

// SendKeyPress sends key-down then key-up.
func (s *Session) SendKeyPress(code Keycode) error {
	return s.channel.Send(KeyPress{Code: code})
}

// Click presses or releases the pointer button.
func (s *Session) Click(action KeyAction) error {
	return s.channel.Send(Click{Action: action})
}

// MoveRelative moves the pointer.
func (s *Session) MoveRelative(dx, dy int32) error {
	return s.channel.Send(MouseMove{DeltaX: dx, DeltaY: dy})
}

// Scroll turns the mouse wheel.
func (s *Session) Scroll(dx, dy int32) error {
	return s.channel.Send(MouseWheel{DeltaX: dx, DeltaY: dy})
}

// SendText sends free text as string data.
func (s *Session) SendText(text string) error {
	return s.channel.Send(Data{Type: DataTypeString, Payload: text})
}

// SendURL flings a URL or intent URI to the television.
func (s *Session) SendURL(uri string) error {
	return s.channel.Send(Fling{URI: uri})
}

// Done is closed when the session ends for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.channel.Done()
}

// Flush waits until every command sent so far has been written.
func (s *Session) Flush(ctx context.Context) error {
	return s.channel.Flush(ctx)
}
