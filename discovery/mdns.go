package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"tvremote/models"
)

const (
	// DefaultService is the television service name without domain suffix.
	DefaultService = "_anymote._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultBroadcastPort is the UDP port televisions answer probes on.
	DefaultBroadcastPort = 9101
	// DefaultProbeInterval separates broadcast probes.
	DefaultProbeInterval = 2 * time.Second
	// DefaultRefreshInterval is the background scan interval.
	DefaultRefreshInterval = 10 * time.Second
	// DefaultScanTimeout bounds each discovery scan.
	DefaultScanTimeout = 4 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls discovery probes, mDNS browsing and advertising.
type Config struct {
	Service string
	Domain  string
	Version int

	BroadcastPort    int
	BroadcastAddress net.IP
	ProbeInterval    time.Duration
	RefreshInterval  time.Duration
	ScanTimeout      time.Duration
	EnableMDNS       bool

	// DeviceName and Port describe the television being advertised.
	DeviceName string
	Port       int

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.BroadcastPort <= 0 {
		out.BroadcastPort = DefaultBroadcastPort
	}
	if out.BroadcastAddress == nil {
		out.BroadcastAddress = net.IPv4bcast
	}
	if out.ProbeInterval <= 0 {
		out.ProbeInterval = DefaultProbeInterval
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForBroadcast() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return errors.New("device name is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be > 0")
	}
	return nil
}

// Broadcaster advertises a television via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers the television described by config.
func StartBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForBroadcast(); err != nil {
		return nil, err
	}

	txt := []string{
		"version=" + strconv.Itoa(cfg.Version),
	}

	server, err := cfg.registerFn(cfg.DeviceName, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

func (c Config) browser() (browseFunc, error) {
	if c.browseFn != nil {
		return c.browseFn, nil
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return resolver.Browse, nil
}

// browseDevices collects televisions answering an mDNS browse until ctx ends.
func browseDevices(ctx context.Context, browse browseFunc, service, domain string, found func(models.Device)) error {
	entries := make(chan *zeroconf.ServiceEntry, 32)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				if device, ok := parseEntry(entry); ok {
					found(device)
				}
			}
		}
	}()

	if err := browse(ctx, service, domain, entries); err != nil && !isScanEnd(err) {
		return err
	}

	<-ctx.Done()
	<-collectorDone
	return nil
}

// A timeout just means the scan window ended naturally.
func isScanEnd(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func parseEntry(entry *zeroconf.ServiceEntry) (models.Device, bool) {
	if entry.Port <= 0 {
		return models.Device{}, false
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		if ip != nil {
			addresses = append(addresses, ip.String())
		}
	}
	sort.Strings(addresses)
	if len(addresses) == 0 {
		for _, ip := range entry.AddrIPv6 {
			if ip != nil {
				addresses = append(addresses, ip.String())
			}
		}
	}
	if len(addresses) == 0 {
		return models.Device{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSpace(entry.HostName), ".")
	}
	if name == "" {
		return models.Device{}, false
	}

	return models.Device{
		Name:    name,
		Address: addresses[0],
		Port:    entry.Port,
	}, true
}
