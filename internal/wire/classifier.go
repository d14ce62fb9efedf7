package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
)

// StreamKind identifies which twin produced a topic
type StreamKind int

const (
	Physical StreamKind = iota
	Digital
)

func (k StreamKind) String() string {
	switch k {
	case Physical:
		return "physical"
	case Digital:
		return "digital"
	default:
		return "unknown"
	}
}

// ChannelEvent is one decoded joint angle (radians)
type ChannelEvent struct {
	Stream  StreamKind
	Channel int
	Angle   float32
}

// Prefix binds a topic prefix to the stream it carries
type Prefix struct {
	Value string
	Kind  StreamKind
}

// Classifier holds the registered prefixes and turns raw frames into ChannelEvents
type Classifier struct {
	prefixes []Prefix
	values   []string // registration order, for ResolveChannel
	byValue  map[string]StreamKind
	byKind   map[StreamKind]string

	malformed atomic.Uint64
}

// NewClassifier registers prefixes in the given order.
// Duplicate prefixes, or a prefix that starts another one, are rejected
// because the topic "actual12" could not be attributed to exactly one stream.
func NewClassifier(prefixes ...Prefix) (*Classifier, error) {
	c := &Classifier{
		byValue: make(map[string]StreamKind, len(prefixes)),
		byKind:  make(map[StreamKind]string, len(prefixes)),
	}
	for i, p := range prefixes {
		if strings.ContainsAny(p.Value, " \t\r\n") {
			return nil, fmt.Errorf("prefix %q must not contain whitespace", p.Value)
		}
		for _, other := range prefixes[:i] {
			if strings.HasPrefix(p.Value, other.Value) || strings.HasPrefix(other.Value, p.Value) {
				return nil, fmt.Errorf("%w: %q and %q", ErrAmbiguousPrefix, other.Value, p.Value)
			}
		}
		c.prefixes = append(c.prefixes, p)
		c.values = append(c.values, p.Value)
		c.byValue[p.Value] = p.Kind
		if _, ok := c.byKind[p.Kind]; !ok {
			c.byKind[p.Kind] = p.Value
		}
	}
	return c, nil
}

// NewTwinClassifier is the usual physical/digital pair
func NewTwinClassifier(physical, digital string) (*Classifier, error) {
	return NewClassifier(
		Prefix{Value: physical, Kind: Physical},
		Prefix{Value: digital, Kind: Digital},
	)
}

// Prefixes returns the registered prefix strings in registration order
func (c *Classifier) Prefixes() []string {
	out := make([]string, len(c.values))
	copy(out, c.values)
	return out
}

// PrefixFor returns the first prefix registered for kind
func (c *Classifier) PrefixFor(kind StreamKind) (string, bool) {
	p, ok := c.byKind[kind]
	return p, ok
}

// KindOf maps a resolved prefix back to its stream. A prefix registered with a
// trailing underscore ("actual_") also matches the underscore-split form ("actual").
func (c *Classifier) KindOf(prefix string) (StreamKind, bool) {
	if k, ok := c.byValue[prefix]; ok {
		return k, true
	}
	k, ok := c.byValue[prefix+"_"]
	return k, ok
}

// DecodeChannelEvent decodes, resolves and parses in one step.
// Every failure is counted and returned; nothing here panics on bad input.
func (c *Classifier) DecodeChannelEvent(frames [][]byte) (ChannelEvent, error) {
	ev, err := c.decode(frames)
	if err != nil {
		c.malformed.Add(1)
		return ChannelEvent{}, err
	}
	return ev, nil
}

// Malformed is the number of frames DecodeChannelEvent rejected
func (c *Classifier) Malformed() uint64 {
	return c.malformed.Load()
}

func (c *Classifier) decode(frames [][]byte) (ChannelEvent, error) {
	msg, err := DecodeFrames(frames)
	if err != nil {
		return ChannelEvent{}, err
	}
	prefix, index, err := ResolveChannel(msg.Topic, c.values)
	if err != nil {
		return ChannelEvent{}, err
	}
	kind, ok := c.KindOf(prefix)
	if !ok {
		return ChannelEvent{}, fmt.Errorf("%w: prefix %q not registered", ErrUnrecognizedTopic, prefix)
	}
	// hex floats and digit separators parse but are not plain decimals
	if strings.ContainsAny(msg.Value, "xXpP_") {
		return ChannelEvent{}, fmt.Errorf("%w: value %q is not a decimal number", ErrMalformedMessage, msg.Value)
	}
	v, err := strconv.ParseFloat(msg.Value, 32)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return ChannelEvent{}, fmt.Errorf("%w: value %q is not a decimal number", ErrMalformedMessage, msg.Value)
	}
	return ChannelEvent{Stream: kind, Channel: index, Angle: float32(v)}, nil
}
