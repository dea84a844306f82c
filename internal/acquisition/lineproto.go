package acquisition

import (
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// socketTags maps hub stream tags to standard channels.
var socketTags = map[string]int{
	"PG":   sensor.ChannelPPG,
	"PPG":  sensor.ChannelPPG,
	"EA":   sensor.ChannelEDA,
	"EDA":  sensor.ChannelEDA,
	"TH":   sensor.ChannelTemperature,
	"T0":   sensor.ChannelTemperature,
	"T1":   sensor.ChannelTemperature,
	"TEMP": sensor.ChannelTemperature,
	"AX":   sensor.ChannelAccelX,
	"AY":   sensor.ChannelAccelY,
	"AZ":   sensor.ChannelAccelZ,
	"GX":   sensor.ChannelGyroX,
	"GY":   sensor.ChannelGyroY,
	"GZ":   sensor.ChannelGyroZ,
}

// line is one decoded record of the socket protocol. Ack is set for control
// replies, which carry no data.
type line struct {
	Ack          string
	DeviceMillis float64
	Channel      int
	Values       []float64
}

// parseLine decodes "timestamp,tag,value[,value...]". Text without a comma
// is an acknowledgement.
func parseLine(raw string) (line, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return line{}, errors.New().WithMessage(ErrProtocol, "empty line")
	}
	if !strings.Contains(s, ",") {
		return line{Ack: s}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) < 3 {
		return line{}, errors.New().WithData(ErrProtocol, s)
	}

	ts, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return line{}, errors.New().Wrap(ErrProtocol, err)
	}

	tag := strings.ToUpper(strings.TrimSpace(parts[1]))
	ch, ok := socketTags[tag]
	if !ok {
		return line{}, errors.New().WithData(ErrProtocol, struct {
			Tag string
		}{tag})
	}

	values := make([]float64, 0, len(parts)-2)
	for _, p := range parts[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return line{}, errors.New().Wrap(ErrProtocol, err)
		}
		values = append(values, v)
	}

	return line{DeviceMillis: ts, Channel: ch, Values: values}, nil
}

// deviceClock converts device timestamps to wall time. The first reading is
// anchored to the local clock. Each channel keeps its own floor so its
// timestamps never go backwards; channels are not ordered against each other.
type deviceClock struct {
	now      func() time.Time
	anchored bool
	wall     time.Time
	device   float64
	last     map[int]time.Time
}

func newDeviceClock(now func() time.Time) *deviceClock {
	if now == nil {
		now = time.Now
	}
	return &deviceClock{now: now, last: make(map[int]time.Time)}
}

// at maps a device time in milliseconds to wall time. It does not clamp;
// spread does.
func (c *deviceClock) at(deviceMillis float64) time.Time {
	if !c.anchored {
		c.anchored = true
		c.wall = c.now()
		c.device = deviceMillis
	}
	offset := time.Duration((deviceMillis - c.device) * float64(time.Millisecond))
	return c.wall.Add(offset)
}

// received is the arrival time of a reading that carries no device time.
func (c *deviceClock) received() time.Time {
	return c.now()
}

// spread assigns n timestamps ending at end, step apart, for a reading that
// covers the given channels. No timestamp is earlier than the latest one
// already issued to any of those channels.
func (c *deviceClock) spread(end time.Time, n int, step time.Duration, channels ...int) []time.Time {
	var floor time.Time
	for _, ch := range channels {
		if last := c.last[ch]; last.After(floor) {
			floor = last
		}
	}

	ts := make([]time.Time, n)
	for i := range n {
		t := end.Add(-time.Duration(n-1-i) * step)
		if t.Before(floor) {
			t = floor
		}
		floor = t
		ts[i] = t
	}
	if n > 0 {
		for _, ch := range channels {
			c.last[ch] = ts[n-1]
		}
	}
	return ts
}

// frameFor builds a single-channel frame.
func frameFor(ch int, values []float64, ts []time.Time) sensor.Frame {
	return sensor.Frame{
		Channels:   map[int][]float64{ch: values},
		Timestamps: ts,
	}
}
