package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Responder answers broadcast probes on behalf of one television.
type Responder struct {
	conn    *net.UDPConn
	service string
	reply   []byte
	logger  zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// StartResponder listens on address (host:port, e.g. ":9101") and answers
// probes for config.Service with config.DeviceName and config.Port.
func StartResponder(address string, config Config) (*Responder, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForBroadcast(); err != nil {
		return nil, err
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("resolve responder address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen for discovery probes: %w", err)
	}

	r := &Responder{
		conn:    conn,
		service: cfg.Service,
		reply:   []byte(AdvertisementMessage(cfg.Service, cfg.DeviceName, cfg.Port)),
		logger:  log.With().Str("component", "discovery_responder").Logger(),
		done:    make(chan struct{}),
	}
	go r.serve()
	return r, nil
}

// Addr returns the bound UDP address.
func (r *Responder) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Close stops answering probes.
func (r *Responder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.conn.Close()
		<-r.done
	})
	return err
}

func (r *Responder) serve() {
	defer close(r.done)

	buffer := make([]byte, maxPacketSize)
	for {
		n, sender, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn().Err(err).Msg("discovery responder stopped")
			}
			return
		}

		port, ok := parseProbe(r.service, buffer[:n])
		if !ok {
			continue
		}
		to := &net.UDPAddr{IP: sender.IP, Port: port}
		if _, err := r.conn.WriteToUDP(r.reply, to); err != nil {
			r.logger.Debug().Err(err).Str("to", to.String()).Msg("discovery reply failed")
		}
	}
}

func parseProbe(service string, payload []byte) (int, bool) {
	tokens := strings.Fields(string(payload))
	if len(tokens) != 3 || tokens[0] != discoverCommand || tokens[1] != service {
		return 0, false
	}
	port, err := strconv.Atoi(tokens[2])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
