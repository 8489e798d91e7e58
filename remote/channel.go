package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tvremote/network"
)

const (
	// DefaultWriteTimeout bounds a single command write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultVersionCode is announced in the connect hello.
	DefaultVersionCode = network.CommandVersion
)

var (
	// ErrChannelClosed indicates a send on a disconnected channel.
	ErrChannelClosed = errors.New("remote: channel closed")
)

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	// ClientName is announced to the television in the connect hello.
	ClientName   string
	VersionCode  int32
	Codec        network.Codec
	WriteTimeout time.Duration
	Liveness     LivenessOptions

	// OnLost is called at most once when the connection fails on its own.
	OnLost func(err error)

	OnData            func(dataType, data string)
	OnDataList        func(dataType string, items []network.DataItem)
	OnConnectResponse func(version int32)
	OnFlingResult     func(sequence uint32, ok bool)
}

func (o ChannelOptions) withDefaults() ChannelOptions {
	if o.ClientName == "" {
		o.ClientName = "tvremote"
	}
	if o.VersionCode == 0 {
		o.VersionCode = DefaultVersionCode
	}
	if o.Codec == nil {
		o.Codec = network.CBOR
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// Channel is an ordered command stream over one secure connection.
//
// Send never blocks on the network: commands go to an unbounded FIFO drained
// by a single writer goroutine. A reader goroutine dispatches responses.
type Channel struct {
	conn   net.Conn
	opts   ChannelOptions
	logger zerolog.Logger

	queueMu sync.Mutex
	queue   []Command
	signal  chan struct{}

	monitor *LivenessMonitor

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewChannel binds a channel to conn, queues the connect hello and starts
// liveness monitoring.
func NewChannel(conn net.Conn, options ChannelOptions) *Channel {
	c := &Channel{
		conn:   conn,
		opts:   options.withDefaults(),
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	c.logger = log.With().Str("component", "channel").Str("remote", conn.RemoteAddr().String()).Logger()
	c.monitor = NewLivenessMonitor(c.opts.Liveness, func() {
		_ = c.Send(Ping{})
	}, func() {
		c.fail(ErrLivenessTimeout)
	})

	_ = c.Send(Connect{DeviceName: c.opts.ClientName, VersionCode: c.opts.VersionCode})

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	c.monitor.Start()
	return c
}

// Send queues cmd for delivery.
func (c *Channel) Send(cmd Command) error {
	if cmd == nil {
		return errors.New("remote: nil command")
	}

	c.queueMu.Lock()
	select {
	case <-c.closed:
		c.queueMu.Unlock()
		return ErrChannelClosed
	default:
	}
	c.queue = append(c.queue, cmd)
	c.queueMu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return nil
}

// flushMarker is queued by Flush; the writer closes done when it reaches it.
type flushMarker struct {
	done chan struct{}
}

func (flushMarker) requests() []network.Request { return nil }

// Flush waits until every command queued before the call has been written.
func (c *Channel) Flush(ctx context.Context) error {
	marker := flushMarker{done: make(chan struct{})}
	if err := c.Send(marker); err != nil {
		return err
	}

	select {
	case <-marker.done:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears the channel down. It reports whether this call did the
// teardown; later calls return false.
func (c *Channel) Disconnect() bool {
	return c.teardown()
}

// Done is closed once the channel is torn down.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

// Wait blocks until the reader and writer goroutines exit.
func (c *Channel) Wait() {
	c.wg.Wait()
}

func (c *Channel) teardown() bool {
	tore := false
	c.closeOnce.Do(func() {
		tore = true
		c.queueMu.Lock()
		close(c.closed)
		c.queue = nil
		c.queueMu.Unlock()

		c.monitor.Stop()
		go c.monitor.Close()
		_ = c.conn.Close()
	})
	return tore
}

func (c *Channel) fail(err error) {
	if !c.teardown() {
		return
	}
	c.logger.Warn().Err(err).Msg("command channel lost")
	if c.opts.OnLost != nil {
		c.opts.OnLost(err)
	}
}

func (c *Channel) dequeue() (Command, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	cmd := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return cmd, true
}

func (c *Channel) writeLoop() {
	defer c.wg.Done()

	var sequence uint32
	for {
		select {
		case <-c.signal:
		case <-c.closed:
			return
		}

		for {
			cmd, ok := c.dequeue()
			if !ok {
				break
			}
			if marker, ok := cmd.(flushMarker); ok {
				close(marker.done)
				continue
			}
			for _, request := range cmd.requests() {
				sequence++
				request.Sequence = sequence
				if err := c.write(request); err != nil {
					c.fail(err)
					return
				}
			}
		}
	}
}

func (c *Channel) write(request network.Request) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return network.WriteMessage(c.conn, c.opts.Codec, request)
}

func (c *Channel) readLoop() {
	defer c.wg.Done()

	for {
		payload, err := network.ReadFrame(c.conn)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				err = io.EOF
			}
			c.fail(err)
			return
		}

		var response network.Response
		if err := c.opts.Codec.Unmarshal(payload, &response); err != nil {
			c.logger.Debug().Err(err).Msg("ignoring undecodable response")
			continue
		}
		c.dispatch(response)
	}
}

func (c *Channel) dispatch(response network.Response) {
	switch response.Kind {
	case network.ResponseAck:
		c.monitor.OnAck()
	case network.ResponseData:
		c.logger.Debug().Str("type", response.DataType).Str("data", response.Data).Msg("data received")
		if c.opts.OnData != nil {
			c.opts.OnData(response.DataType, response.Data)
		}
	case network.ResponseDataList:
		c.logger.Debug().Str("type", response.DataType).Int("items", len(response.Items)).Msg("data list received")
		if c.opts.OnDataList != nil {
			c.opts.OnDataList(response.DataType, response.Items)
		}
	case network.ResponseConnectResponse:
		c.logger.Debug().Int32("version", response.Version).Msg("connect response received")
		if c.opts.OnConnectResponse != nil {
			c.opts.OnConnectResponse(response.Version)
		}
	case network.ResponseFlingResult:
		c.logger.Debug().Uint32("seq", response.Sequence).Bool("result", response.Result).Msg("fling result received")
		if c.opts.OnFlingResult != nil {
			c.opts.OnFlingResult(response.Sequence, response.Result)
		}
	default:
		c.logger.Debug().Str("kind", response.Kind).Msg("ignoring unknown response")
	}
}
