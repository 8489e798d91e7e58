package models

import "testing"

func TestDeviceEqualityIsByName(t *testing.T) {
	a := Device{Name: "LivingRoomTV", Address: "192.168.1.20", Port: 10000}
	b := Device{Name: "LivingRoomTV", Address: "192.168.1.44", Port: 9551}
	c := Device{Name: "Bedroom", Address: "192.168.1.20", Port: 10000}

	if !a.Equal(b) {
		t.Fatalf("expected devices with the same name to be equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected devices with different names to differ")
	}
}

func TestDeviceAddresses(t *testing.T) {
	d := Device{Name: "LivingRoomTV", Address: "192.168.1.20", Port: 10000}

	if got := d.CommandAddress(); got != "192.168.1.20:10000" {
		t.Fatalf("unexpected command address %q", got)
	}
	if got := d.PairingAddress(); got != "192.168.1.20:10001" {
		t.Fatalf("unexpected pairing address %q", got)
	}

	v6 := Device{Name: "v6", Address: "fe80::1", Port: 9551}
	if got := v6.CommandAddress(); got != "[fe80::1]:9551" {
		t.Fatalf("unexpected IPv6 command address %q", got)
	}
}
