package models

import (
	"fmt"
	"net"
	"strconv"
)

// Device describes a television reachable on the LAN.
//
// Devices compare equal by name only; the same TV may be rediscovered on a
// different address after a DHCP lease change.
type Device struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

// Equal reports whether both descriptors name the same device.
func (d Device) Equal(other Device) bool {
	return d.Name == other.Name
}

// CommandAddress is the host:port of the secure command channel.
func (d Device) CommandAddress() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// PairingAddress is the host:port of the pairing service, one above the command port.
func (d Device) PairingAddress() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port+1))
}

func (d Device) String() string {
	return fmt.Sprintf("%s [%s]", d.Name, d.CommandAddress())
}
