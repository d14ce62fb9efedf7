package wire

// message.go = topic/value wire format shared by publishers and subscribers.
// a message is "<topic> <value>" in one frame, or topic and value as two frames.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValueDecimals is the fixed precision used when formatting angle values
const ValueDecimals = 6

var (
	ErrMalformedMessage  = errors.New("malformed message")
	ErrUnrecognizedTopic = errors.New("unrecognized topic")
	ErrAmbiguousPrefix   = errors.New("ambiguous topic prefix")
)

// Layout selects how a message is split into transport frames
type Layout int

const (
	SingleFrame Layout = iota // "<topic> <value>"
	MultiFrame                // topic, value
)

// ParseLayout maps a config value ("single" / "multi") to a Layout
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return SingleFrame, nil
	case "multi", "multipart":
		return MultiFrame, nil
	default:
		return SingleFrame, fmt.Errorf("unknown frame layout %q", s)
	}
}

func (l Layout) String() string {
	if l == MultiFrame {
		return "multi"
	}
	return "single"
}

// Message is a decoded (topic, value) pair
type Message struct {
	Topic string
	Value string
}

// FormatValue renders an angle with a fixed number of decimals and a '.' separator,
// independent of any locale
func FormatValue(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', ValueDecimals, 32)
}

// TopicFor builds "prefix3" or "prefix_3"
func TopicFor(prefix string, index int, underscore bool) string {
	if underscore {
		return prefix + "_" + strconv.Itoa(index)
	}
	return prefix + strconv.Itoa(index)
}

// Encode returns the single-frame form of a message
func Encode(topic, value string) []byte {
	buf := make([]byte, 0, len(topic)+1+len(value))
	buf = append(buf, topic...)
	buf = append(buf, ' ')
	buf = append(buf, value...)
	return buf
}

// EncodeFrames returns the message split according to layout
func EncodeFrames(layout Layout, topic, value string) [][]byte {
	if layout == MultiFrame {
		return [][]byte{[]byte(topic), []byte(value)}
	}
	return [][]byte{Encode(topic, value)}
}

// Decode splits a single-frame message into topic and value.
// Anything other than exactly two whitespace separated tokens is malformed.
func Decode(raw []byte) (Message, error) {
	tokens := strings.Fields(string(raw))
	if len(tokens) != 2 {
		return Message{}, fmt.Errorf("%w: expected 2 tokens, got %d", ErrMalformedMessage, len(tokens))
	}
	return Message{Topic: tokens[0], Value: tokens[1]}, nil
}

// DecodeFrames accepts both layouts: two frames are topic and value,
// a single frame goes through Decode
func DecodeFrames(frames [][]byte) (Message, error) {
	switch len(frames) {
	case 1:
		return Decode(frames[0])
	case 2:
		topic := strings.TrimSpace(string(frames[0]))
		value := strings.TrimSpace(string(frames[1]))
		if !isToken(topic) || !isToken(value) {
			return Message{}, fmt.Errorf("%w: empty or split frame", ErrMalformedMessage)
		}
		return Message{Topic: topic, Value: value}, nil
	default:
		return Message{}, fmt.Errorf("%w: expected 1 or 2 frames, got %d", ErrMalformedMessage, len(frames))
	}
}

// ResolveChannel recovers the (prefix, index) pair of a topic.
//
// A topic with an underscore before its last character is split at the last
// underscore and the suffix must be a non-negative integer. Otherwise the
// registered prefixes are tried in order and the remainder must be all digits.
func ResolveChannel(topic string, prefixes []string) (string, int, error) {
	if i := strings.LastIndexByte(topic, '_'); i >= 0 && i < len(topic)-1 {
		if index, err := parseIndex(topic[i+1:]); err == nil {
			return topic[:i], index, nil
		}
		// prefixes may carry underscores themselves ("joint_a3"), fall back to matching
	}
	for _, prefix := range prefixes {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		if index, err := parseIndex(topic[len(prefix):]); err == nil {
			return prefix, index, nil
		}
	}
	return "", 0, fmt.Errorf("%w: %q", ErrUnrecognizedTopic, topic)
}

func parseIndex(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

func isToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n")
}
