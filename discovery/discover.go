// Package discovery finds televisions on the local network by UDP broadcast
// probes and mDNS, and advertises emulated televisions the same way.
package discovery

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tvremote/models"
)

// Discover scans for ScanTimeout (or until ctx ends) and returns every
// television found, de-duplicated by name and sorted.
func Discover(ctx context.Context, config Config) ([]models.Device, error) {
	cfg := config.withDefaults()

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	var mu sync.Mutex
	found := make(map[string]models.Device)
	record := func(device models.Device) {
		mu.Lock()
		defer mu.Unlock()
		if _, seen := found[device.Name]; !seen {
			log.Debug().Str("device", device.Name).Str("address", device.CommandAddress()).Msg("television discovered")
		}
		found[device.Name] = device
	}

	group, groupCtx := errgroup.WithContext(scanCtx)
	group.Go(func() error {
		return Probe(groupCtx, cfg, record)
	})
	if cfg.EnableMDNS || cfg.browseFn != nil {
		group.Go(func() error {
			browse, err := cfg.browser()
			if err != nil {
				log.Warn().Err(err).Msg("mDNS unavailable, using broadcast discovery only")
				return nil
			}
			if err := browseDevices(groupCtx, browse, cfg.Service, cfg.Domain, record); err != nil {
				log.Warn().Err(err).Msg("mDNS browse failed")
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	devices := make([]models.Device, 0, len(found))
	for _, device := range found {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}
