package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"tvremote/discovery"
	"tvremote/models"
	"tvremote/pairing"
	"tvremote/remote"
)

var errConnectionFailed = errors.New("could not connect to the television")

// targetFlags selects a television either by address or by discovery.
type targetFlags struct {
	name    string
	address string
}

func (f *targetFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.name, "tv", "", "television name (discovered, or label for --address)")
	flags.StringVar(&f.address, "address", "", "television command address host:port, skips discovery")
}

func (f *targetFlags) resolve(ctx context.Context, a *app) (models.Device, error) {
	if f.address != "" {
		host, portText, err := net.SplitHostPort(f.address)
		if err != nil {
			return models.Device{}, fmt.Errorf("invalid --address: %w", err)
		}
		port, err := strconv.Atoi(portText)
		if err != nil || port <= 0 || port >= 65535 {
			return models.Device{}, fmt.Errorf("invalid --address port %q", portText)
		}
		name := f.name
		if name == "" {
			name = host
		}
		return models.Device{Name: name, Address: host, Port: port}, nil
	}

	log.Info().Msg("searching for televisions")
	devices, err := discovery.Discover(ctx, a.discoveryConfig())
	if err != nil {
		return models.Device{}, err
	}

	if f.name != "" {
		for _, device := range devices {
			if strings.EqualFold(device.Name, f.name) {
				return device, nil
			}
		}
		return models.Device{}, fmt.Errorf("television %q not found", f.name)
	}

	switch len(devices) {
	case 0:
		return models.Device{}, errors.New("no televisions found; use --address")
	case 1:
		return devices[0], nil
	default:
		names := make([]string, 0, len(devices))
		for _, device := range devices {
			names = append(names, device.Name)
		}
		return models.Device{}, fmt.Errorf("several televisions found (%s); choose one with --tv", strings.Join(names, ", "))
	}
}

// connection is a supervisor plus the outcome channels the CLI waits on.
type connection struct {
	supervisor   *remote.Supervisor
	connected    chan *remote.Session
	failed       chan struct{}
	disconnected chan struct{}
}

// connect resolves the target and blocks until the session is up, prompting
// for the pairing code on the terminal when needed.
func connect(ctx context.Context, a *app, target *targetFlags) (*connection, *remote.Session, error) {
	device, err := target.resolve(ctx, a)
	if err != nil {
		return nil, nil, err
	}

	conn := &connection{
		supervisor:   remote.NewSupervisor(a.trust, a.supervisorOptions()),
		connected:    make(chan *remote.Session, 1),
		failed:       make(chan struct{}, 1),
		disconnected: make(chan struct{}, 1),
	}
	conn.supervisor.AddListener(remote.ListenerFuncs{
		Connected: func(session *remote.Session) {
			conn.connected <- session
		},
		ConnectionFailed: func() {
			conn.failed <- struct{}{}
		},
		Disconnected: func() {
			select {
			case conn.disconnected <- struct{}{}:
			default:
			}
		},
		PairingCodeRequired: func(responder pairing.SecretResponder) {
			go promptForCode(device, responder)
		},
	})

	log.Info().Str("device", device.Name).Str("address", device.CommandAddress()).Msg("connecting")
	conn.supervisor.Connect(device)

	select {
	case session := <-conn.connected:
		return conn, session, nil
	case <-conn.failed:
		return nil, nil, errConnectionFailed
	case <-ctx.Done():
		conn.supervisor.Cancel()
		return nil, nil, ctx.Err()
	}
}

func (c *connection) Close(ctx context.Context, session *remote.Session) {
	if session != nil {
		if err := session.Flush(ctx); err != nil {
			log.Debug().Err(err).Msg("flush before disconnect failed")
		}
	}
	c.supervisor.Disconnect()
	if session != nil {
		select {
		case <-session.Done():
		case <-ctx.Done():
		}
	}
}

func promptForCode(device models.Device, responder pairing.SecretResponder) {
	fmt.Fprintf(os.Stderr, "Enter the code shown on %s: ", device.Name)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr)
		}
		responder.Cancel()
		return
	}
	responder.Submit(strings.TrimSpace(line))
}
