package acquisition

import (
	"bufio"
	"context"
	"io"
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

// readDeadline bounds every blocking read so workers notice cancellation.
const readDeadline = 100 * time.Millisecond

var (
	socketStartCommands = []string{
		"MODE RECORDER",
		"START RECORDING",
		"DATA ON",
		"PPG ON",
		"EDA ON",
		"TEMP ON",
		"ACCEL ON",
		"GYRO ON",
	}
	socketStopCommands = []string{"STOP RECORDING", "DATA OFF"}
)

// Socket speaks the hub's newline-delimited TCP protocol.
type Socket struct {
	cfg    Config
	logger logger.Logger
	now    func() time.Time
	// discoveryTarget is where the discovery request goes when no address is set.
	discoveryTarget *net.UDPAddr

	mu     sync.Mutex
	conn   net.Conn
	host   string
	queue  *frameQueue
	worker *worker
	q      quality
}

func NewSocket(cfg Config, log logger.Logger) *Socket {
	cfg = cfg.withDefaults()
	return &Socket{
		cfg:             cfg,
		logger:          log,
		now:             time.Now,
		discoveryTarget: &net.UDPAddr{IP: net.IPv4bcast, Port: cfg.Port},
	}
}

func (*Socket) Kind() Kind { return KindSocket }

func (s *Socket) Connect(ctx context.Context) error {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	host := s.cfg.Address
	if host == "" {
		found, err := discover(ctx, s.discoveryTarget, s.cfg.DiscoveryTimeout)
		if err != nil {
			return errFactory.Wrap(ErrConnection, err)
		}
		s.logger.Info().Str("host", found).Msg("Discovered device")
		host = found
	}

	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errFactory.Wrap(ErrConnection, err)
	}

	if err := writeCommand(conn, "HELLO"); err != nil {
		conn.Close()
		return errFactory.Wrap(ErrConnection, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.host = host
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("Connected to device")
	return nil
}

func writeCommand(conn net.Conn, cmd string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := io.WriteString(conn, cmd+"\n")
	return err
}

func (s *Socket) StartStreaming(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errNotConnected(KindSocket)
	}
	if s.worker != nil {
		return nil
	}

	for _, cmd := range socketStartCommands {
		if err := writeCommand(s.conn, cmd); err != nil {
			return errors.New().Wrap(ErrConnection, err)
		}
	}

	s.queue = newFrameQueue(s.cfg.QueueSize)
	conn, queue := s.conn, s.queue
	s.worker = startWorker(func(ctx context.Context) error {
		return s.read(ctx, conn, queue)
	})
	return nil
}

func (s *Socket) read(ctx context.Context, conn net.Conn, queue *frameQueue) error {
	reader := bufio.NewReader(conn)
	clock := newDeviceClock(s.now)
	limiter := rate.NewLimiter(rate.Every(time.Second), 5)
	step := time.Duration(float64(time.Second) / s.cfg.SamplingRate)

	var partial strings.Builder
	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.New().Wrap(ErrConnection, err)
		}

		raw := partial.String()
		partial.Reset()
		if strings.TrimSpace(raw) == "" {
			continue
		}

		s.q.received.Add(1)
		rec, err := parseLine(raw)
		if err != nil {
			s.q.failed.Add(1)
			if limiter.Allow() {
				s.logger.Warn().Err(err).Str("line", strings.TrimSpace(raw)).Msg("Skipping malformed line")
			}
			continue
		}
		if rec.Ack != "" {
			s.logger.Debug().Str("reply", rec.Ack).Msg("Device acknowledgement")
			continue
		}

		ts := clock.spread(clock.at(rec.DeviceMillis), len(rec.Values), step, rec.Channel)
		queue.offer(frameFor(rec.Channel, rec.Values, ts))
		s.q.parsed.Add(1)
	}
}

func (s *Socket) PollFrame() (sensor.Frame, bool, error) {
	s.mu.Lock()
	queue, w := s.queue, s.worker
	s.mu.Unlock()
	return pollQueued(queue, w)
}

func (s *Socket) StopStreaming(context.Context) error {
	s.mu.Lock()
	w, conn := s.worker, s.conn
	s.worker = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	if conn != nil {
		for _, cmd := range socketStopCommands {
			if err := writeCommand(conn, cmd); err != nil {
				s.logger.Debug().Err(err).Str("command", cmd).Msg("Stop command not delivered")
				break
			}
		}
	}
	return w.stop(s.cfg.StopTimeout)
}

func (s *Socket) Disconnect(ctx context.Context) error {
	err := s.StopStreaming(ctx)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.queue != nil {
		s.queue.drain()
	}
	s.mu.Unlock()

	if conn == nil {
		return err
	}
	if werr := writeCommand(conn, "GOODBYE"); werr != nil {
		s.logger.Debug().Err(werr).Msg("Goodbye not delivered")
	}
	if cerr := conn.Close(); cerr != nil {
		return errors.Join(err, errors.New().Wrap(errors.ErrShutdownFailed, cerr))
	}
	return err
}

func (s *Socket) Capabilities() sensor.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sensor.Capabilities{
		SamplingRate: s.cfg.SamplingRate,
		ChannelMap:   sensor.StandardChannelMap(),
		Device:       s.host,
	}
}

func (s *Socket) Stats() Stats {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	return s.q.stats(queue)
}
