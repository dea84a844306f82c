package acquisition_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/pulsectl/internal/acquisition"
	"codeberg.org/mutker/pulsectl/internal/classify"
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// presetDriver serves one sample per preset per read: motion on the default
// preset, PPG on auxiliary, EDA and temperature on ancillary.
type presetDriver struct {
	mu       sync.Mutex
	started  bool
	released bool
	reads    int
}

func (d *presetDriver) Prepare(context.Context) error { return nil }

func (d *presetDriver) Start(int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *presetDriver) Read(p acquisition.Preset, _ int) (sensor.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return sensor.Frame{}, nil
	}
	d.reads++
	ts := []time.Time{time.Unix(0, int64(d.reads)*int64(time.Millisecond))}
	switch p {
	case acquisition.PresetDefault:
		return sensor.Frame{Channels: map[int][]float64{1: {0.1}, 2: {0.2}, 3: {9.8}}, Timestamps: ts}, nil
	case acquisition.PresetAuxiliary:
		return sensor.Frame{Channels: map[int][]float64{1: {51000}}, Timestamps: ts}, nil
	default:
		return sensor.Frame{Channels: map[int][]float64{1: {1.2}, 2: {36.5}}, Timestamps: ts}, nil
	}
}

func (d *presetDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *presetDriver) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	return nil
}

func (d *presetDriver) Descriptor() acquisition.Descriptor {
	aux := acquisition.ChannelIndex(acquisition.PresetAuxiliary, 1)
	anc := acquisition.ChannelIndex(acquisition.PresetAncillary, 0)
	return acquisition.Descriptor{
		Name:         "preset-test",
		SamplingRate: 25,
		Presets:      []acquisition.Preset{acquisition.PresetDefault, acquisition.PresetAuxiliary, acquisition.PresetAncillary},
		ChannelMap: sensor.ChannelMap{
			1:       sensor.AccelX,
			2:       sensor.AccelY,
			3:       sensor.AccelZ,
			aux:     sensor.PPG,
			anc + 1: sensor.EDA,
			anc + 2: sensor.Temperature,
		},
	}
}

func collectFrames(t *testing.T, b acquisition.Backend, want int) []sensor.Frame {
	t.Helper()
	var frames []sensor.Frame
	require.Eventually(t, func() bool {
		for {
			f, ok, err := b.PollFrame()
			require.NoError(t, err)
			if !ok {
				break
			}
			frames = append(frames, f)
		}
		return len(frames) >= want
	}, 2*time.Second, 10*time.Millisecond)
	return frames
}

func TestBoardNamespacesPresets(t *testing.T) {
	driver := &presetDriver{}
	acquisition.RegisterDriver("preset-test", func(acquisition.Config) (acquisition.Driver, error) {
		return driver, nil
	})

	cfg := acquisition.DefaultConfig()
	cfg.Kind = acquisition.KindBoard
	cfg.BoardDriver = "preset-test"
	b, err := acquisition.New(cfg, logger.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.StartStreaming(ctx))

	frames := collectFrames(t, b, 3)
	require.NoError(t, b.Disconnect(ctx))

	seen := make(map[int]bool)
	for _, f := range frames {
		for ch := range f.Channels {
			seen[ch] = true
		}
	}
	assert.True(t, seen[1])
	assert.True(t, seen[acquisition.ChannelIndex(acquisition.PresetAuxiliary, 1)])
	assert.True(t, seen[acquisition.ChannelIndex(acquisition.PresetAncillary, 2)])

	caps := b.Capabilities()
	assert.Equal(t, 25.0, caps.SamplingRate)
	assert.Equal(t, sensor.PPG, caps.ChannelMap[33])

	driver.mu.Lock()
	assert.True(t, driver.released)
	driver.mu.Unlock()
}

func TestBoardUnknownDriver(t *testing.T) {
	cfg := acquisition.DefaultConfig()
	cfg.Kind = acquisition.KindBoard
	cfg.BoardDriver = "no-such-board"
	b, err := acquisition.New(cfg, logger.Nop())
	require.NoError(t, err)

	err = b.Connect(context.Background())
	assert.True(t, errors.HasCode(err, acquisition.ErrConnection))
	assert.True(t, errors.HasCode(err, acquisition.ErrUnknownDriver))
}

func TestBoardStartBeforeConnect(t *testing.T) {
	b := acquisition.NewBoard(acquisition.DefaultConfig(), logger.Nop())
	err := b.StartStreaming(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrInvalidState))
}

func TestSyntheticBoardNeedsHeuristics(t *testing.T) {
	cfg := acquisition.DefaultConfig()
	cfg.Kind = acquisition.KindBoard
	cfg.BoardDriver = acquisition.SyntheticDriver
	b, err := acquisition.New(cfg, logger.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.StartStreaming(ctx))
	t.Cleanup(func() { _ = b.Disconnect(ctx) })

	caps := b.Capabilities()
	assert.Nil(t, caps.ChannelMap)
	assert.Equal(t, acquisition.SyntheticDriver, caps.Device)

	frames := collectFrames(t, b, 1)
	res, err := classify.New(caps.ChannelMap).Classify(frames[0])
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, sensor.PPG, res.Assignments[sensor.ChannelPPG])
	assert.Equal(t, sensor.EDA, res.Assignments[sensor.ChannelEDA])
	assert.Equal(t, sensor.Temperature, res.Assignments[sensor.ChannelTemperature])
	assert.Equal(t, sensor.AccelZ, res.Assignments[sensor.ChannelAccelZ])
	assert.Len(t, res.Heuristic, sensor.NumTypes)
}

func TestDriversListsSynthetic(t *testing.T) {
	assert.Contains(t, acquisition.Drivers(), acquisition.SyntheticDriver)
}
