package session

import (
	"context"
	"time"

	"codeberg.org/mutker/pulsectl/internal/acquisition"
	"codeberg.org/mutker/pulsectl/internal/aggregate"
	"codeberg.org/mutker/pulsectl/internal/buffer"
	"codeberg.org/mutker/pulsectl/internal/classify"
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/hrv"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/metrics"
	"codeberg.org/mutker/pulsectl/internal/publish"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"golang.org/x/time/rate"
)

// pipeline is the per-connection processing state. Only the tick loop
// writes to it.
type pipeline struct {
	buffers    *buffer.Set
	classifier *classify.Classifier
	aggregator *aggregate.Aggregator
	collector  *metrics.Collector
	logger     logger.Logger
	limiter    *rate.Limiter

	lastStats acquisition.Stats
}

func newPipeline(cfg Config, caps sensor.Capabilities, collector *metrics.Collector, log logger.Logger) (*pipeline, error) {
	buffers, err := buffer.NewSet(cfg.BufferCapacities, cfg.BufferCapacity,
		buffer.WithOverflowHandler(func(evicted sensor.Sample) {
			collector.BufferOverflow(evicted.Type.String())
		}))
	if err != nil {
		return nil, err
	}

	// Without a usable sampling rate the aggregator runs without HRV and
	// reports the PPG estimate instead.
	engine, err := hrv.NewEngine(cfg.HRV, caps.SamplingRate)
	if err != nil {
		log.Warn().Err(err).Float64("sampling_rate", caps.SamplingRate).Msg("HRV analysis disabled")
		engine = nil
	}

	if caps.ChannelMap == nil {
		log.Info().Msg("Backend declares no channel map, classifying by value range")
	}

	return &pipeline{
		buffers:    buffers,
		classifier: classify.New(caps.ChannelMap),
		aggregator: aggregate.New(cfg.Aggregate, engine),
		collector:  collector,
		logger:     log,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 3),
	}, nil
}

// ingest classifies one frame and pushes its samples.
func (p *pipeline) ingest(kind string, f sensor.Frame) {
	p.collector.FramesReceived(kind, 1)

	res, err := p.classifier.Classify(f)
	if err != nil {
		p.collector.ProtocolErrors(kind, 1)
		p.warn(err, "Dropping malformed frame")
		return
	}
	if n := len(res.Dropped) + len(res.Malformed); n > 0 {
		p.collector.ClassificationErrors(n)
		p.warn(res.Err(), "Unclassified channels in frame")
	}
	if res.SkippedValues > 0 {
		p.collector.ProtocolErrors(kind, uint64(res.SkippedValues))
	}

	var pushed [sensor.NumTypes]int
	for _, sample := range res.Samples {
		if err := p.buffers.Push(sample); err != nil {
			p.collector.ProtocolErrors(kind, 1)
			p.warn(err, "Rejected sample")
			continue
		}
		pushed[sample.Type]++
	}
	for typ, n := range pushed {
		if n > 0 {
			p.collector.SamplesPushed(sensor.Type(typ).String(), n)
		}
	}
}

func (p *pipeline) warn(err error, msg string) {
	if !p.limiter.Allow() {
		return
	}
	var appErr errors.Error
	if errors.As(err, &appErr) {
		p.logger.WarnWithCode(appErr).Msg(msg)
		return
	}
	p.logger.Warn().Err(err).Msg(msg)
}

// account forwards backend quality counters accumulated since the last tick.
func (p *pipeline) account(kind string, stats acquisition.Stats) {
	if stats.Failed >= p.lastStats.Failed {
		p.collector.ProtocolErrors(kind, stats.Failed-p.lastStats.Failed)
	}
	if stats.Dropped >= p.lastStats.Dropped {
		p.collector.FramesDropped(kind, stats.Dropped-p.lastStats.Dropped)
	}
	p.lastStats = stats
}

type tickLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startTickLoop(s *Session, backend acquisition.Backend, p *pipeline) *tickLoop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &tickLoop{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if !s.tick(now, backend, p) {
					return
				}
			}
		}
	}()

	return l
}

func (l *tickLoop) stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// tick runs one pipeline pass. It returns false once the backend has failed.
func (s *Session) tick(now time.Time, backend acquisition.Backend, p *pipeline) (alive bool) {
	start := time.Now()
	kind := string(backend.Kind())

	defer func() {
		if r := recover(); r != nil {
			s.collector.TickPanic()
			s.logger.Error().Interface("panic", r).Msg("Recovered from panic in tick")
			alive = true
		}
	}()

	for range s.cfg.MaxFramesPerTick {
		f, ok, err := backend.PollFrame()
		if err != nil {
			s.fail(err)
			return false
		}
		if !ok {
			break
		}
		p.ingest(kind, f)
	}
	p.account(kind, backend.Stats())

	snap := p.aggregator.Compute(now, p.buffers)
	if snap.Samples[sensor.PPG.String()] > 0 && !snap.HRV.Sufficient() {
		s.collector.HRVInsufficient()
	}
	s.snapshot.Store(&snap)

	if s.publisher != nil {
		s.publisher.Offer(publish.Message{
			SessionID: s.id,
			Backend:   kind,
			Snapshot:  snap,
		})
	}

	s.collector.Tick(time.Since(start))
	return true
}
