package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tvremote/models"
)

const (
	discoverCommand = "discover"
	maxPacketSize   = 256
)

// ProbeMessage is the request broadcast to find televisions offering service.
func ProbeMessage(service string, responsePort int) string {
	return fmt.Sprintf("%s %s %d\n", discoverCommand, service, responsePort)
}

// AdvertisementMessage is a television's answer to a probe.
func AdvertisementMessage(service, deviceName string, port int) string {
	return fmt.Sprintf("%s %s %d", service, advertisedName(deviceName), port)
}

// advertisedName keeps the reply at three whitespace separated tokens.
func advertisedName(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

// ParseAdvertisement decodes a probe reply received from sender. Malformed
// replies and replies for another service are rejected.
func ParseAdvertisement(service string, payload []byte, sender net.IP) (models.Device, bool) {
	tokens := strings.Fields(string(payload))
	if len(tokens) != 3 || tokens[0] != service {
		return models.Device{}, false
	}

	port, err := strconv.Atoi(tokens[2])
	if err != nil || port <= 0 || port > 65535 {
		return models.Device{}, false
	}
	if sender == nil {
		return models.Device{}, false
	}

	return models.Device{Name: tokens[1], Address: sender.String(), Port: port}, true
}

// Probe broadcasts discovery requests every ProbeInterval until ctx ends,
// reporting each valid reply through found.
func Probe(ctx context.Context, config Config, found func(models.Device)) error {
	cfg := config.withDefaults()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return fmt.Errorf("open discovery socket: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	localPort := conn.LocalAddr().(*net.UDPAddr).Port
	target := &net.UDPAddr{IP: cfg.BroadcastAddress, Port: cfg.BroadcastPort}
	probe := []byte(ProbeMessage(cfg.Service, localPort))

	go func() {
		ticker := time.NewTicker(cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			if _, err := conn.WriteToUDP(probe, target); err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Str("target", target.String()).Msg("discovery probe failed")
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	buffer := make([]byte, maxPacketSize)
	for {
		n, sender, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read discovery reply: %w", err)
		}

		device, ok := ParseAdvertisement(cfg.Service, buffer[:n], sender.IP)
		if !ok {
			log.Debug().Str("from", sender.String()).Msg("ignoring malformed discovery reply")
			continue
		}
		found(device)
	}
}
