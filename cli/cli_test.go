package cli

import (
	"context"
	"testing"

	"tvremote/models"
	"tvremote/remote"
)

func TestTargetFromAddress(t *testing.T) {
	target := targetFlags{address: "192.0.2.4:9551", name: "Den"}
	device, err := target.resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if device != (models.Device{Name: "Den", Address: "192.0.2.4", Port: 9551}) {
		t.Fatalf("unexpected device %+v", device)
	}

	unnamed := targetFlags{address: "192.0.2.4:9551"}
	device, err = unnamed.resolve(context.Background(), nil)
	if err != nil || device.Name != "192.0.2.4" {
		t.Fatalf("expected host as name, got %+v (%v)", device, err)
	}

	for _, bad := range []string{"192.0.2.4", "192.0.2.4:http", "192.0.2.4:65535"} {
		target := targetFlags{address: bad}
		if _, err := target.resolve(context.Background(), nil); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestKeyCommands(t *testing.T) {
	commands, err := keyCommands([]string{"home", "DPAD_UP"}, "")
	if err != nil {
		t.Fatalf("keyCommands failed: %v", err)
	}
	if commands[0] != (remote.KeyPress{Code: remote.KeyHome}) || commands[1] != (remote.KeyPress{Code: remote.KeyDpadUp}) {
		t.Fatalf("unexpected presses %#v", commands)
	}

	commands, err = keyCommands([]string{"back"}, "UP")
	if err != nil {
		t.Fatalf("keyCommands with action failed: %v", err)
	}
	if commands[0] != (remote.KeyEvent{Code: remote.KeyBack, Action: remote.ActionUp}) {
		t.Fatalf("unexpected transition %#v", commands[0])
	}

	if _, err := keyCommands([]string{"home"}, "sideways"); err == nil {
		t.Fatalf("expected invalid action to fail")
	}
	if _, err := keyCommands([]string{"nope"}, ""); err == nil {
		t.Fatalf("expected unknown key to fail")
	}
}

func TestParseDelta(t *testing.T) {
	dx, dy, err := parseDelta([]string{"12", "-7"})
	if err != nil || dx != 12 || dy != -7 {
		t.Fatalf("unexpected delta %d %d (%v)", dx, dy, err)
	}
	if _, _, err := parseDelta([]string{"x", "1"}); err == nil {
		t.Fatalf("expected invalid DX to fail")
	}
	if _, _, err := parseDelta([]string{"1", "99999999999"}); err == nil {
		t.Fatalf("expected out of range DY to fail")
	}
}

func TestFormatDetailsSortsKeys(t *testing.T) {
	got := formatDetails(map[string]any{"reason": "secret", "attempt": 2})
	if got != "attempt=2 reason=secret" {
		t.Fatalf("unexpected details %q", got)
	}
	if formatDetails(nil) != "-" {
		t.Fatalf("expected empty details to render as a dash")
	}
}
