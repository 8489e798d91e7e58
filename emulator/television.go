// Package emulator runs a software television: pairing service, command
// service and discovery responder, enough to drive the remote end to end.
package emulator

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tvremote/crypto"
	"tvremote/discovery"
	"tvremote/models"
	"tvremote/network"
	"tvremote/pairing"
)

const (
	// DefaultName is the advertised television name.
	DefaultName = "EmulatedTV"
	// DefaultHost is the interface the emulator listens on.
	DefaultHost = "127.0.0.1"

	portSearchAttempts = 20
)

// Options configures a Television.
type Options struct {
	Name string
	Host string
	// Port is the command port; pairing listens on Port+1. Zero picks a free pair.
	Port int

	// Certificate is the television identity; a fresh one is generated when empty.
	Certificate  tls.Certificate
	PairingCodec network.Codec
	CommandCodec network.Codec

	// DiscoveryAddress enables the UDP probe responder (e.g. ":9101").
	DiscoveryAddress string
	EnableMDNS       bool

	// IgnorePings leaves heartbeats unanswered.
	IgnorePings bool

	// ShowSecret displays the pairing code.
	ShowSecret func(code string)
	// OnRequest observes every command received.
	OnRequest func(clientName string, request network.Request)
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.PairingCodec == nil {
		o.PairingCodec = network.JSON
	}
	if o.CommandCodec == nil {
		o.CommandCodec = network.CBOR
	}
	return o
}

// Television is a running emulator.
type Television struct {
	opts   Options
	device models.Device
	logger zerolog.Logger

	commands    *network.Server
	pairing     *pairing.Server
	responder   *discovery.Responder
	broadcaster *discovery.Broadcaster

	mu         sync.Mutex
	clients    map[string]*x509.Certificate
	requests   []network.Request
	rejections int
}

// Start brings up the pairing and command services and, if configured,
// discovery.
func Start(options Options) (*Television, error) {
	opts := options.withDefaults()

	if len(opts.Certificate.Certificate) == 0 {
		identity, err := crypto.GenerateIdentity("tvremote-emulator/" + opts.Name)
		if err != nil {
			return nil, err
		}
		opts.Certificate = identity.TLSCertificate()
	}

	tv := &Television{
		opts:    opts,
		clients: make(map[string]*x509.Certificate),
		logger:  log.With().Str("component", "emulator").Str("device", opts.Name).Logger(),
	}

	if err := tv.listen(); err != nil {
		return nil, err
	}
	tv.device = models.Device{Name: opts.Name, Address: advertisedHost(opts.Host), Port: tv.commands.Port()}

	if opts.DiscoveryAddress != "" {
		responder, err := discovery.StartResponder(opts.DiscoveryAddress, discovery.Config{
			DeviceName: opts.Name,
			Port:       tv.device.Port,
		})
		if err != nil {
			tv.Close()
			return nil, err
		}
		tv.responder = responder
	}
	if opts.EnableMDNS {
		broadcaster, err := discovery.StartBroadcaster(discovery.Config{
			DeviceName: opts.Name,
			Port:       tv.device.Port,
		})
		if err != nil {
			tv.Close()
			return nil, err
		}
		tv.broadcaster = broadcaster
	}

	tv.logger.Info().Str("address", tv.device.CommandAddress()).Msg("television emulator started")
	return tv, nil
}

// listen binds the command port and the pairing port right above it.
func (tv *Television) listen() error {
	var lastErr error
	for attempt := 0; attempt < portSearchAttempts; attempt++ {
		commands, err := network.Listen(net.JoinHostPort(tv.opts.Host, strconv.Itoa(tv.opts.Port)), network.ServerOptions{
			TLSConfig: network.ServerConfig(tv.opts.Certificate, tv.clientRoots),
			OnError:   tv.commandError,
		}, tv.serveCommands)
		if err != nil {
			return err
		}

		pairingServer, err := pairing.Listen(net.JoinHostPort(tv.opts.Host, strconv.Itoa(commands.Port()+1)), pairing.ServerOptions{
			Certificate: tv.opts.Certificate,
			ServerName:  tv.opts.Name,
			Codec:       tv.opts.PairingCodec,
			ShowSecret:  tv.showSecret,
			OnPaired:    tv.trustClient,
		})
		if err == nil {
			tv.commands = commands
			tv.pairing = pairingServer
			return nil
		}

		_ = commands.Close()
		lastErr = err
		if tv.opts.Port != 0 {
			break
		}
	}
	return fmt.Errorf("emulator: bind pairing port: %w", lastErr)
}

func advertisedHost(host string) string {
	ip := net.ParseIP(host)
	if host == "" || (ip != nil && ip.IsUnspecified()) {
		return DefaultHost
	}
	return host
}

// Device describes the emulator as a remote sees it.
func (tv *Television) Device() models.Device {
	return tv.device
}

// DiscoveryAddr returns the probe responder address, or nil when disabled.
func (tv *Television) DiscoveryAddr() *net.UDPAddr {
	if tv.responder == nil {
		return nil
	}
	return tv.responder.Addr()
}

// Requests returns every command received so far, pings included.
func (tv *Television) Requests() []network.Request {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return append([]network.Request(nil), tv.requests...)
}

// PairedClients returns the number of trusted remotes.
func (tv *Television) PairedClients() int {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return len(tv.clients)
}

// Rejections counts inbound command connections that failed, most often a
// remote this television no longer trusts.
func (tv *Television) Rejections() int {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return tv.rejections
}

func (tv *Television) commandError(err error) {
	tv.mu.Lock()
	tv.rejections++
	tv.mu.Unlock()
	tv.logger.Warn().Err(err).Msg("command connection rejected")
}

// ForgetClients drops every trusted remote, as a factory reset would.
func (tv *Television) ForgetClients() {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	tv.clients = make(map[string]*x509.Certificate)
}

// Close stops all services.
func (tv *Television) Close() {
	if tv.broadcaster != nil {
		tv.broadcaster.Stop()
	}
	if tv.responder != nil {
		_ = tv.responder.Close()
	}
	if tv.pairing != nil {
		_ = tv.pairing.Close()
	}
	if tv.commands != nil {
		_ = tv.commands.Close()
	}
}

func (tv *Television) showSecret(code string) {
	tv.logger.Info().Str("code", code).Msg("pairing code")
	if tv.opts.ShowSecret != nil {
		tv.opts.ShowSecret(code)
	}
}

func (tv *Television) trustClient(cert *x509.Certificate, clientName string) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	tv.clients[string(cert.Raw)] = cert
	tv.logger.Info().Str("client", clientName).Msg("remote paired")
}

func (tv *Television) clientRoots() *x509.CertPool {
	tv.mu.Lock()
	defer tv.mu.Unlock()

	pool := x509.NewCertPool()
	for _, cert := range tv.clients {
		pool.AddCert(cert)
	}
	return pool
}

func (tv *Television) serveCommands(ctx context.Context, conn *tls.Conn) {
	logger := tv.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("command channel opened")

	var clientName string
	for {
		var request network.Request
		if err := network.ReadMessage(conn, tv.opts.CommandCodec, 0, &request); err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug().Err(err).Msg("command channel closed")
			}
			return
		}

		tv.mu.Lock()
		tv.requests = append(tv.requests, request)
		tv.mu.Unlock()

		response, ok := tv.respond(&clientName, request)
		if tv.opts.OnRequest != nil {
			tv.opts.OnRequest(clientName, request)
		}
		if !ok {
			continue
		}
		if err := network.WriteMessage(conn, tv.opts.CommandCodec, response); err != nil {
			logger.Debug().Err(err).Msg("command response failed")
			return
		}
	}
}

func (tv *Television) respond(clientName *string, request network.Request) (network.Response, bool) {
	switch request.Kind {
	case network.RequestPing:
		if tv.opts.IgnorePings {
			return network.Response{}, false
		}
		return network.Response{Sequence: request.Sequence, Kind: network.ResponseAck}, true
	case network.RequestConnect:
		*clientName = request.DeviceName
		return network.Response{Sequence: request.Sequence, Kind: network.ResponseConnectResponse, Version: network.CommandVersion}, true
	case network.RequestFling:
		return network.Response{Sequence: request.Sequence, Kind: network.ResponseFlingResult, Result: true}, true
	default:
		return network.Response{}, false
	}
}
