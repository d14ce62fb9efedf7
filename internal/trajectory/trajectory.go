package trajectory

// trajectory.go = loads recorded joint trajectories from whitespace delimited text.
// row 1 is a header (only its column count matters), then one row per sample:
// timestamp, N joint angles in radians, and any number of extra columns.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// DefaultChannels is the joint count of the reference arm
const DefaultChannels = 6

const maxLineSize = 1024 * 1024 // 1MB max row size

var (
	ErrNoValidRows         = errors.New("no valid trajectory rows")
	ErrInvalidHeader       = errors.New("invalid trajectory header")
	ErrNonMonotonic        = errors.New("trajectory timestamps are not monotonic")
	ErrInvalidChannelCount = errors.New("channel count must be positive")
)

// Point is one timestamped sample (seconds, radians)
type Point struct {
	Timestamp float64
	Angles    []float32
}

// Sequence is an ordered, read-only list of points sharing the same channel count
type Sequence struct {
	Points   []Point
	Channels int

	Skipped    int // rows dropped because they were short or unparsable
	OutOfOrder int // accepted rows whose timestamp went backwards
}

// LoadOptions tunes the loader
type LoadOptions struct {
	// Strict rejects a file whose timestamps go backwards instead of keeping file order
	Strict bool
}

// Len returns the number of points
func (s *Sequence) Len() int {
	return len(s.Points)
}

// Duration is last.Timestamp - first.Timestamp. It is not corrected when the
// file is out of order, so a negative value means the input is suspect.
func (s *Sequence) Duration() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[len(s.Points)-1].Timestamp - s.Points[0].Timestamp
}

// Load reads a trajectory with the permissive defaults
func Load(r io.Reader, channels int) (*Sequence, error) {
	return LoadWithOptions(r, channels, LoadOptions{})
}

// LoadString is Load over an in-memory text
func LoadString(text string, channels int) (*Sequence, error) {
	return Load(strings.NewReader(text), channels)
}

// LoadFile opens path and loads it
func LoadFile(path string, channels int, opts LoadOptions) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trajectory file: %w", err)
	}
	defer f.Close()

	seq, err := LoadWithOptions(f, channels, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seq, nil
}

// LoadWithOptions parses the header and every data row. Bad rows are skipped
// and counted; the call only fails when nothing usable is left.
func LoadWithOptions(r io.Reader, channels int, opts LoadOptions) (*Sequence, error) {
	if channels <= 0 {
		return nil, ErrInvalidChannelCount
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	seq := &Sequence{Channels: channels}
	headerSeen := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if !headerSeen {
			headerSeen = true
			if len(fields) < 1+channels {
				return nil, fmt.Errorf("%w: %d columns, need timestamp plus %d channels",
					ErrInvalidHeader, len(fields), channels)
			}
			continue
		}

		point, ok := parseRow(fields, channels)
		if !ok {
			seq.Skipped++
			continue
		}

		if n := len(seq.Points); n > 0 && point.Timestamp < seq.Points[n-1].Timestamp {
			if opts.Strict {
				return nil, fmt.Errorf("%w: line %d goes back to %g", ErrNonMonotonic, lineNo, point.Timestamp)
			}
			seq.OutOfOrder++
		}
		seq.Points = append(seq.Points, point)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trajectory: %w", err)
	}

	if len(seq.Points) == 0 {
		return nil, fmt.Errorf("%w (%d rows skipped)", ErrNoValidRows, seq.Skipped)
	}
	return seq, nil
}

func parseRow(fields []string, channels int) (Point, bool) {
	if len(fields) < 1+channels {
		return Point{}, false
	}
	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return Point{}, false
	}
	angles := make([]float32, channels)
	for i := 0; i < channels; i++ {
		v, err := strconv.ParseFloat(fields[1+i], 32)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Point{}, false
		}
		angles[i] = float32(v)
	}
	return Point{Timestamp: ts, Angles: angles}, true
}
