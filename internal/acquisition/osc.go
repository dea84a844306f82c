package acquisition

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"golang.org/x/time/rate"
)

const (
	defaultOSCHost  = "127.0.0.1"
	oscDatagramSize = 4096
)

var oscStreams = []string{"ppg", "eda", "temp", "accel", "gyro"}

// OSC listens for Open Sound Control datagrams from the oscilloscope app and
// sends it control messages on a separate port.
type OSC struct {
	cfg    Config
	logger logger.Logger
	now    func() time.Time
	// listenAddr overrides the wildcard bind address.
	listenAddr string

	mu      sync.Mutex
	conn    *net.UDPConn
	control *net.UDPAddr
	queue   *frameQueue
	worker  *worker
	q       quality
}

func NewOSC(cfg Config, log logger.Logger) *OSC {
	cfg = cfg.withDefaults()
	return &OSC{
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
		listenAddr: net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.OSCListenPort)),
	}
}

func (*OSC) Kind() Kind { return KindOSC }

func (o *OSC) Connect(ctx context.Context) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrConnection, err)
	}

	laddr, err := net.ResolveUDPAddr("udp", o.listenAddr)
	if err != nil {
		return errFactory.Wrap(ErrConnection, err)
	}
	host := o.cfg.Address
	if host == "" {
		host = defaultOSCHost
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(o.cfg.OSCControlPort)))
	if err != nil {
		return errFactory.Wrap(ErrConnection, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return errFactory.Wrap(ErrConnection, err)
	}

	o.mu.Lock()
	o.conn = conn
	o.control = raddr
	o.mu.Unlock()

	o.send("/emotibit/ping")
	o.logger.Info().
		Str("listen", conn.LocalAddr().String()).
		Str("control", raddr.String()).
		Msg("Listening for OSC data")
	return nil
}

// LocalAddr is the bound listen address, or nil before Connect.
func (o *OSC) LocalAddr() net.Addr {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return nil
	}
	return o.conn.LocalAddr()
}

// send delivers a control message. Delivery is best effort.
func (o *OSC) send(addr string, args ...any) {
	o.mu.Lock()
	conn, control := o.conn, o.control
	o.mu.Unlock()
	if conn == nil || control == nil {
		return
	}
	if _, err := conn.WriteToUDP(encodeOSC(addr, args...), control); err != nil {
		o.logger.Debug().Err(err).Str("address", addr).Msg("Control message not delivered")
	}
}

func (o *OSC) StartStreaming(context.Context) error {
	o.mu.Lock()
	if o.conn == nil {
		o.mu.Unlock()
		return errNotConnected(KindOSC)
	}
	if o.worker != nil {
		o.mu.Unlock()
		return nil
	}
	o.queue = newFrameQueue(o.cfg.QueueSize)
	conn, queue := o.conn, o.queue
	o.worker = startWorker(func(ctx context.Context) error {
		return o.read(ctx, conn, queue)
	})
	o.mu.Unlock()

	o.send("/emotibit/start")
	for _, stream := range oscStreams {
		o.send("/emotibit/stream/"+stream, 1)
	}
	return nil
}

func (o *OSC) read(ctx context.Context, conn *net.UDPConn, queue *frameQueue) error {
	clock := newDeviceClock(o.now)
	limiter := rate.NewLimiter(rate.Every(time.Second), 5)
	step := time.Duration(float64(time.Second) / o.cfg.SamplingRate)
	buf := make([]byte, oscDatagramSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.New().Wrap(ErrConnection, err)
		}

		o.q.received.Add(1)
		msgs, err := decodeOSC(buf[:n])
		if err != nil {
			o.reject(limiter, err)
			continue
		}

		for _, msg := range msgs {
			frame, err := oscFrame(msg, clock, step)
			if err != nil {
				o.reject(limiter, err)
				continue
			}
			queue.offer(frame)
		}
		o.q.parsed.Add(1)
	}
}

func (o *OSC) reject(limiter *rate.Limiter, err error) {
	o.q.failed.Add(1)
	if limiter.Allow() {
		o.logger.Warn().Err(err).Msg("Skipping malformed OSC data")
	}
}

// oscFrame routes a message to channels by address. Several values for one
// stream are taken as consecutive samples ending now.
func oscFrame(msg oscMessage, clock *deviceClock, step time.Duration) (sensor.Frame, error) {
	if len(msg.Args) == 0 {
		return sensor.Frame{}, errors.New().WithData(ErrProtocol, struct {
			Address string
		}{msg.Address})
	}

	addr := strings.ToLower(msg.Address)
	single := func(ch int) (sensor.Frame, error) {
		ts := clock.spread(clock.received(), len(msg.Args), step, ch)
		return frameFor(ch, msg.Args, ts), nil
	}

	switch {
	case strings.Contains(addr, "ppg") || strings.Contains(addr, "heartrate"):
		return single(sensor.ChannelPPG)
	case strings.Contains(addr, "eda") || strings.Contains(addr, "gsr"):
		return single(sensor.ChannelEDA)
	case strings.Contains(addr, "temp"):
		return single(sensor.ChannelTemperature)
	case strings.Contains(addr, "acc") || strings.Contains(addr, "gyro"):
		base := sensor.ChannelAccelX
		if strings.Contains(addr, "gyro") {
			base = sensor.ChannelGyroX
		}
		if axis, ok := axisSuffix(addr); ok {
			return single(base + axis)
		}
		if len(msg.Args) == 3 {
			ts := clock.spread(clock.received(), 1, step, base, base+1, base+2)
			return sensor.Frame{
				Channels: map[int][]float64{
					base:     {msg.Args[0]},
					base + 1: {msg.Args[1]},
					base + 2: {msg.Args[2]},
				},
				Timestamps: ts,
			}, nil
		}
	}

	return sensor.Frame{}, errors.New().WithData(ErrProtocol, struct {
		Address string
		Values  int
	}{msg.Address, len(msg.Args)})
}

// axisSuffix recognises addresses ending in a separated x, y or z, such as
// "/accel/x" or "/gyro_z".
func axisSuffix(addr string) (int, bool) {
	if len(addr) < 2 {
		return 0, false
	}
	switch addr[len(addr)-2] {
	case '/', '_', ':', '.', '-':
	default:
		return 0, false
	}
	switch addr[len(addr)-1] {
	case 'x':
		return 0, true
	case 'y':
		return 1, true
	case 'z':
		return 2, true
	}
	return 0, false
}

func (o *OSC) PollFrame() (sensor.Frame, bool, error) {
	o.mu.Lock()
	queue, w := o.queue, o.worker
	o.mu.Unlock()
	return pollQueued(queue, w)
}

func (o *OSC) StopStreaming(context.Context) error {
	o.mu.Lock()
	w := o.worker
	o.worker = nil
	o.mu.Unlock()

	if w == nil {
		return nil
	}
	o.send("/emotibit/stop")
	return w.stop(o.cfg.StopTimeout)
}

func (o *OSC) Disconnect(ctx context.Context) error {
	err := o.StopStreaming(ctx)
	o.send("/emotibit/disconnect")

	o.mu.Lock()
	conn := o.conn
	o.conn = nil
	if o.queue != nil {
		o.queue.drain()
	}
	o.mu.Unlock()

	if conn != nil {
		if cerr := conn.Close(); cerr != nil {
			return errors.Join(err, errors.New().Wrap(errors.ErrShutdownFailed, cerr))
		}
	}
	return err
}

func (o *OSC) Capabilities() sensor.Capabilities {
	return sensor.Capabilities{
		SamplingRate: o.cfg.SamplingRate,
		ChannelMap:   sensor.StandardChannelMap(),
		Device:       "oscilloscope",
	}
}

func (o *OSC) Stats() Stats {
	o.mu.Lock()
	queue := o.queue
	o.mu.Unlock()
	return o.q.stats(queue)
}
