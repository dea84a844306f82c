// Package classify turns raw backend frames into typed samples. Channels
// named by the backend's declared map are assigned first; the rest are
// inferred from the magnitude of their recent values.
package classify

import (
	"math"
	"slices"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"gonum.org/v1/gonum/stat"
)

// Result is the outcome of classifying one frame.
type Result struct {
	Samples []sensor.Sample
	// Assignments maps channel index to the type it was given.
	Assignments map[int]sensor.Type
	// Heuristic lists channels typed by rules rather than the declared map.
	Heuristic []int
	// Dropped lists channels that matched no free slot.
	Dropped []int
	// Malformed lists channels whose value count did not match the frame.
	Malformed []int
	// SkippedValues counts non-finite readings left out of Samples.
	SkippedValues int
}

// Err reports dropped or malformed channels as a non-fatal classification
// error, or nil when every channel was assigned.
func (r Result) Err() error {
	if len(r.Dropped) == 0 && len(r.Malformed) == 0 {
		return nil
	}
	return errors.New().WithData(ErrUnclassified, struct {
		Dropped   []int
		Malformed []int
	}{r.Dropped, r.Malformed})
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMeanWindow sets how many trailing values feed the heuristic mean.
func WithMeanWindow(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithRules replaces the heuristic rule set.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) {
		c.rules = rules
	}
}

// Classifier assigns sensor types to frame channels. It holds no per-frame
// state, so repeated calls on equal input yield equal output.
type Classifier struct {
	declared sensor.ChannelMap
	rules    []Rule
	window   int
}

// New returns a classifier for a backend declaring the given channel map,
// which may be nil.
func New(declared sensor.ChannelMap, opts ...Option) *Classifier {
	c := &Classifier{
		declared: declared,
		rules:    DefaultRules(),
		window:   DefaultMeanWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify assigns types to the frame's channels and emits samples for every
// assigned channel. Only a frame with decreasing timestamps is rejected as a
// whole; channel-level problems are reported in the Result.
func (c *Classifier) Classify(f sensor.Frame) (Result, error) {
	res := Result{Assignments: make(map[int]sensor.Type)}
	if f.Empty() {
		return res, nil
	}

	if !f.Ordered() {
		return res, errors.New().WithData(ErrMalformedFrame, "frame timestamps decrease")
	}

	channels := make([]int, 0, len(f.Channels))
	for ch, values := range f.Channels {
		if len(values) != len(f.Timestamps) {
			res.Malformed = append(res.Malformed, ch)
			continue
		}
		channels = append(channels, ch)
	}
	slices.Sort(channels)
	slices.Sort(res.Malformed)

	var claimed [sensor.NumTypes]bool
	pending := make([]int, 0, len(channels))

	for _, ch := range channels {
		typ, ok := c.declared[ch]
		if !ok || !typ.Valid() || claimed[typ] {
			pending = append(pending, ch)
			continue
		}
		claimed[typ] = true
		res.Assignments[ch] = typ
	}

	for _, ch := range pending {
		typ, ok := c.infer(f.Channels[ch], &claimed)
		if !ok {
			res.Dropped = append(res.Dropped, ch)
			continue
		}
		res.Assignments[ch] = typ
		res.Heuristic = append(res.Heuristic, ch)
	}

	for _, ch := range channels {
		typ, ok := res.Assignments[ch]
		if !ok {
			continue
		}
		for i, v := range f.Channels[ch] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				res.SkippedValues++
				continue
			}
			res.Samples = append(res.Samples, sensor.Sample{
				Type:      typ,
				Value:     v,
				Timestamp: f.Timestamps[i],
			})
		}
	}

	return res, nil
}

func (c *Classifier) infer(values []float64, claimed *[sensor.NumTypes]bool) (sensor.Type, bool) {
	mean, ok := c.windowMean(values)
	if !ok {
		return 0, false
	}

	for _, rule := range c.rules {
		if !rule.Match(mean) {
			continue
		}
		for _, slot := range rule.Slots {
			if !claimed[slot] {
				claimed[slot] = true
				return slot, true
			}
		}
	}

	return 0, false
}

func (c *Classifier) windowMean(values []float64) (float64, bool) {
	if len(values) > c.window {
		values = values[len(values)-c.window:]
	}

	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, false
	}

	return stat.Mean(finite, nil), true
}
