package acquisition

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/sensor"
)

const (
	boardPollInterval = 50 * time.Millisecond
	boardReadChunk    = 256
	// boardMaxReadErrors consecutive failed reads end the stream.
	boardMaxReadErrors = 5
)

// Board drives a registered Driver and polls every preset it exposes.
type Board struct {
	cfg    Config
	logger logger.Logger

	mu     sync.Mutex
	driver Driver
	desc   Descriptor
	queue  *frameQueue
	worker *worker
	q      quality
}

func NewBoard(cfg Config, log logger.Logger) *Board {
	return &Board{cfg: cfg.withDefaults(), logger: log}
}

func (*Board) Kind() Kind { return KindBoard }

func (b *Board) Connect(ctx context.Context) error {
	errFactory := errors.New()

	factory, ok := lookupDriver(b.cfg.BoardDriver)
	if !ok {
		return errFactory.Wrap(ErrConnection, errFactory.WithData(ErrUnknownDriver, b.cfg.BoardDriver))
	}

	driver, err := factory(b.cfg)
	if err != nil {
		return errFactory.Wrap(ErrConnection, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	if err := driver.Prepare(ctx); err != nil {
		if rerr := driver.Release(); rerr != nil {
			b.logger.Debug().Err(rerr).Msg("Release after failed prepare")
		}
		return errFactory.Wrap(ErrConnection, err)
	}

	b.mu.Lock()
	b.driver = driver
	b.desc = driver.Descriptor()
	b.mu.Unlock()

	b.logger.Info().Str("driver", b.desc.Name).Msg("Board session prepared")
	return nil
}

func (b *Board) StartStreaming(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.driver == nil {
		return errNotConnected(KindBoard)
	}
	if b.worker != nil {
		return nil
	}
	if err := b.driver.Start(b.cfg.BoardBufferSize); err != nil {
		return errors.New().Wrap(ErrConnection, err)
	}

	b.queue = newFrameQueue(b.cfg.QueueSize)
	driver, desc, queue := b.driver, b.desc, b.queue
	b.worker = startWorker(func(ctx context.Context) error {
		return b.run(ctx, driver, desc, queue)
	})
	return nil
}

func (b *Board) run(ctx context.Context, driver Driver, desc Descriptor, queue *frameQueue) error {
	ticker := time.NewTicker(boardPollInterval)
	defer ticker.Stop()

	presets := desc.Presets
	if len(presets) == 0 {
		presets = []Preset{PresetDefault}
	}

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, preset := range presets {
			local, err := driver.Read(preset, boardReadChunk)
			if err != nil {
				b.q.failed.Add(1)
				failures++
				if failures >= boardMaxReadErrors {
					return errors.New().Wrap(ErrConnection, err)
				}
				continue
			}
			failures = 0
			if local.Empty() {
				continue
			}

			n := uint64(local.Len())
			b.q.received.Add(n)
			if preset != PresetDefault {
				local = namespace(local, preset)
			}
			queue.offer(local)
			b.q.parsed.Add(n)
		}
	}
}

func namespace(f sensor.Frame, p Preset) sensor.Frame {
	channels := make(map[int][]float64, len(f.Channels))
	for ch, v := range f.Channels {
		channels[ChannelIndex(p, ch)] = v
	}
	return sensor.Frame{Channels: channels, Timestamps: f.Timestamps}
}

func (b *Board) PollFrame() (sensor.Frame, bool, error) {
	b.mu.Lock()
	queue, w := b.queue, b.worker
	b.mu.Unlock()
	return pollQueued(queue, w)
}

func (b *Board) StopStreaming(context.Context) error {
	b.mu.Lock()
	w, driver := b.worker, b.driver
	b.worker = nil
	b.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.stop(b.cfg.StopTimeout)
	if driver != nil {
		if serr := driver.Stop(); serr != nil {
			b.logger.Warn().Err(serr).Msg("Failed to stop board stream")
		}
	}
	return err
}

func (b *Board) Disconnect(ctx context.Context) error {
	err := b.StopStreaming(ctx)

	b.mu.Lock()
	driver := b.driver
	b.driver = nil
	if b.queue != nil {
		b.queue.drain()
	}
	b.mu.Unlock()

	if driver != nil {
		if rerr := driver.Release(); rerr != nil {
			return errors.Join(err, errors.New().Wrap(errors.ErrShutdownFailed, rerr))
		}
	}
	return err
}

func (b *Board) Capabilities() sensor.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	caps := sensor.Capabilities{
		SamplingRate: b.desc.SamplingRate,
		ChannelMap:   b.desc.ChannelMap,
		Device:       b.desc.Name,
	}
	if caps.SamplingRate <= 0 {
		caps.SamplingRate = b.cfg.SamplingRate
	}
	if caps.Device == "" {
		caps.Device = b.cfg.BoardDriver
	}
	return caps
}

func (b *Board) Stats() Stats {
	b.mu.Lock()
	queue := b.queue
	b.mu.Unlock()
	return b.q.stats(queue)
}
