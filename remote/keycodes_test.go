package remote

import "testing"

func TestParseKeycode(t *testing.T) {
	cases := map[string]Keycode{
		"KEYCODE_HOME": KeyHome,
		"home":         KeyHome,
		"dpad-up":      KeyDpadUp,
		"Dpad_Center":  KeyDpadCenter,
		"7":            Key7,
		"q":            KeyA + ('Q' - 'A'),
		"1000":         KeyMouseButton,
		"BTN_MOUSE":    KeyMouseButton,
		"123":          Keycode(123),
	}
	for in, want := range cases {
		got, err := ParseKeycode(in)
		if err != nil {
			t.Fatalf("ParseKeycode(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseKeycode(%q) = %v, want %v", in, got, want)
		}
	}

	for _, bad := range []string{"", "  ", "not-a-key"} {
		if _, err := ParseKeycode(bad); err == nil {
			t.Fatalf("expected ParseKeycode(%q) to fail", bad)
		}
	}
}

func TestKeycodeString(t *testing.T) {
	if KeyVolumeUp.String() != "KEYCODE_VOLUME_UP" {
		t.Fatalf("unexpected name %q", KeyVolumeUp.String())
	}
	if Keycode(9999).String() != "KEYCODE(9999)" {
		t.Fatalf("unexpected name for unknown key %q", Keycode(9999).String())
	}
}

func TestKeyPressesForText(t *testing.T) {
	commands, err := KeyPressesForText("Hi 5.")
	if err != nil {
		t.Fatalf("KeyPressesForText failed: %v", err)
	}

	want := []Keycode{KeyA + ('H' - 'A'), KeyA + ('I' - 'A'), KeySpace, Key5, KeyPeriod}
	if len(commands) != len(want) {
		t.Fatalf("expected %d presses, got %d", len(want), len(commands))
	}
	for i, cmd := range commands {
		press, ok := cmd.(KeyPress)
		if !ok || press.Code != want[i] {
			t.Fatalf("press %d: expected %v, got %#v", i, want[i], cmd)
		}
	}

	if _, err := KeyPressesForText("é"); err == nil {
		t.Fatalf("expected a rune without a key to be rejected")
	}
}

func TestKeyNamesAreSortedAndParse(t *testing.T) {
	names := KeyNames()
	if len(names) == 0 {
		t.Fatalf("expected key names")
	}
	for i, name := range names {
		if i > 0 && names[i-1] > name {
			t.Fatalf("names not sorted at %d: %q > %q", i, names[i-1], name)
		}
		if _, err := ParseKeycode(name); err != nil {
			t.Fatalf("listed name %q does not parse: %v", name, err)
		}
	}
}
