package publish

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"golang.org/x/time/rate"
)

// Dispatcher delivers messages to every sink from a single goroutine. Offer
// never blocks: when the queue is full the oldest message is dropped.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  logger.Logger
	limiter *rate.Limiter

	queue chan Message

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func NewDispatcher(cfg Config, log logger.Logger, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: cfg.Timeout,
		logger:  log,
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		queue:   make(chan Message, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Open builds the sinks enabled in cfg and returns a started dispatcher. It
// returns nil when no sink is enabled.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var sinks []Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	if cfg.Redis.Enabled {
		s, err := NewRedisSink(connectCtx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.MQTT.Enabled {
		s, err := NewMQTTSink(connectCtx, cfg.MQTT)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}

	d := NewDispatcher(cfg, log, sinks...)
	d.Start()
	return d, nil
}

// Start launches the delivery goroutine. Further calls do nothing.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		go d.run(ctx)
	})
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	for _, sink := range d.sinks {
		pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Publish(pubCtx, msg)
		cancel()
		if err != nil {
			d.failed.Add(1)
			if d.limiter.Allow() {
				var appErr errors.Error
				if errors.As(err, &appErr) {
					d.logger.WarnWithCode(appErr).Str("sink", sink.Name()).Msg("Snapshot publish failed")
				} else {
					d.logger.Warn().Err(err).Str("sink", sink.Name()).Msg("Snapshot publish failed")
				}
			}
			continue
		}
		d.published.Add(1)
	}
}

// Offer queues msg for delivery. Safe for one producer.
func (d *Dispatcher) Offer(msg Message) {
	for {
		select {
		case d.queue <- msg:
			return
		default:
		}
		select {
		case <-d.queue:
			d.dropped.Add(1)
		default:
		}
	}
}

// Stats returns delivered, dropped and failed counts.
func (d *Dispatcher) Stats() (published, dropped, failed uint64) {
	return d.published.Load(), d.dropped.Load(), d.failed.Load()
}

// Close stops delivery and closes every sink. Queued messages are discarded.
func (d *Dispatcher) Close() error {
	var errs []error
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
			<-d.done
		}
		for _, s := range d.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, errors.New().Wrap(errors.ErrShutdownFailed, err))
			}
		}
	})
	return errors.Join(errs...)
}
