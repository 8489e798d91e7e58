package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tvremote/models"
)

const (
	// EventDeviceUpserted is emitted when a television appears or moves.
	EventDeviceUpserted EventType = "device_upserted"
	// EventDeviceRemoved is emitted when a previously seen television disappears.
	EventDeviceRemoved EventType = "device_removed"
)

// EventType identifies discovery updates.
type EventType string

// Event carries discovery updates for CLI consumers.
type Event struct {
	Type   EventType
	Device models.Device
}

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

// Scanner keeps a live device list by running Discover periodically and on demand.
type Scanner struct {
	cfg Config

	mu      sync.RWMutex
	devices map[string]models.Device

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshRequests chan refreshRequest
}

// NewScanner creates a scanner with config defaults applied.
func NewScanner(config Config) *Scanner {
	return &Scanner{
		cfg:             config.withDefaults(),
		devices:         make(map[string]models.Device),
		events:          make(chan Event, 128),
		refreshRequests: make(chan refreshRequest),
	}
}

// Start begins background scanning.
func (s *Scanner) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop stops background scanning and closes Events.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Events provides asynchronous discovery updates.
func (s *Scanner) Events() <-chan Event {
	return s.events
}

// Refresh triggers an immediate scan and waits for it.
func (s *Scanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return errors.New("scanner is not started")
	}

	req := refreshRequest{
		ctx:  ctx,
		done: make(chan error, 1),
	}

	select {
	case s.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("scanner is stopped")
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("scanner is stopped")
	}
}

// Devices returns the current device snapshot sorted by name.
func (s *Scanner) Devices() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Device, 0, len(s.devices))
	for _, device := range s.devices {
		out = append(out, device)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scanner) loop() {
	defer s.wg.Done()

	s.runScan(context.Background())

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runScan(context.Background())
		case req := <-s.refreshRequests:
			req.done <- s.runScan(req.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scanner) runScan(requestCtx context.Context) error {
	scanCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(requestCtx, cancel)
	defer stop()

	devices, err := Discover(scanCtx, s.cfg)
	if err != nil {
		if s.ctx.Err() == nil {
			log.Debug().Err(err).Msg("discovery scan failed")
		}
		return err
	}

	next := make(map[string]models.Device, len(devices))
	for _, device := range devices {
		next[device.Name] = device
	}
	s.applySnapshot(next)
	return nil
}

func (s *Scanner) applySnapshot(next map[string]models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.devices
	s.devices = next

	for name, device := range next {
		old, exists := previous[name]
		if !exists || old != device {
			s.emitEvent(Event{Type: EventDeviceUpserted, Device: device})
		}
	}

	for name, device := range previous {
		if _, exists := next[name]; !exists {
			s.emitEvent(Event{Type: EventDeviceRemoved, Device: device})
		}
	}
}

func (s *Scanner) emitEvent(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
