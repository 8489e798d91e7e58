package remote

import (
	"errors"
	"sync"
	"time"
)

const (
	// DefaultHeartbeatPeriod separates liveness pings.
	DefaultHeartbeatPeriod = 3 * time.Second
	// DefaultMaxLostAcks is the number of unanswered pings tolerated.
	DefaultMaxLostAcks = 3
)

// ErrLivenessTimeout reports a television that stopped answering pings.
var ErrLivenessTimeout = errors.New("remote: liveness timeout")

// LivenessOptions controls heartbeat-based dead connection detection.
type LivenessOptions struct {
	Period      time.Duration
	MaxLostAcks int

	after func(time.Duration) <-chan time.Time
}

func (o LivenessOptions) withDefaults() LivenessOptions {
	if o.Period <= 0 {
		o.Period = DefaultHeartbeatPeriod
	}
	if o.MaxLostAcks <= 0 {
		o.MaxLostAcks = DefaultMaxLostAcks
	}
	if o.after == nil {
		o.after = time.After
	}
	return o
}

type livenessCmd int

const (
	livenessStart livenessCmd = iota
	livenessStop
	livenessAck
)

// LivenessMonitor pings the television periodically and reports a timeout
// once more than MaxLostAcks consecutive pings go unanswered. All state is
// owned by one goroutine.
type LivenessMonitor struct {
	opts      LivenessOptions
	ping      func()
	onTimeout func()

	cmds      chan livenessCmd
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLivenessMonitor starts the monitor goroutine in the stopped state.
func NewLivenessMonitor(options LivenessOptions, ping func(), onTimeout func()) *LivenessMonitor {
	m := &LivenessMonitor{
		opts:      options.withDefaults(),
		ping:      ping,
		onTimeout: onTimeout,
		cmds:      make(chan livenessCmd),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go m.loop()
	return m
}

// Start resets the lost counter and pings immediately.
func (m *LivenessMonitor) Start() { m.send(livenessStart) }

// Stop cancels pending pings. Safe to call when already stopped.
func (m *LivenessMonitor) Stop() { m.send(livenessStop) }

// OnAck records an answered ping.
func (m *LivenessMonitor) OnAck() { m.send(livenessAck) }

// Close stops the monitor goroutine. Further calls are no-ops.
func (m *LivenessMonitor) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
	})
	<-m.done
}

func (m *LivenessMonitor) send(cmd livenessCmd) {
	select {
	case m.cmds <- cmd:
	case <-m.quit:
	}
}

func (m *LivenessMonitor) loop() {
	defer close(m.done)

	var (
		lost int
		tick <-chan time.Time
	)

	heartbeat := func() {
		m.ping()
		lost++
		if lost > m.opts.MaxLostAcks {
			tick = nil
			// Run outside the loop; the handler usually stops this monitor.
			go m.onTimeout()
			return
		}
		tick = m.opts.after(m.opts.Period)
	}

	for {
		select {
		case cmd := <-m.cmds:
			switch cmd {
			case livenessStart:
				lost = 0
				heartbeat()
			case livenessStop:
				tick = nil
			case livenessAck:
				lost = 0
			}
		case <-tick:
			heartbeat()
		case <-m.quit:
			return
		}
	}
}
